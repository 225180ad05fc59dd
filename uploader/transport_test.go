package uploader

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSender(t *testing.T, handler http.HandlerFunc) *HTTPSender {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	sender, err := NewHTTPSender(Config{
		Endpoint: srv.URL,
		Headers:  map[string]string{"X-Api-Key": "sekrit"},
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	return sender
}

func TestHTTPSenderRequiresEndpoint(t *testing.T) {
	_, err := NewHTTPSender(Config{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestHTTPSenderSendChunk(t *testing.T) {
	var gotForm map[string]string
	var gotData []byte
	var gotHeader string

	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotForm = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			gotForm[k] = v[0]
		}
		f, _, err := r.FormFile("chunk")
		require.NoError(t, err)
		gotData, err = io.ReadAll(f)
		require.NoError(t, err)
		gotHeader = r.Header.Get("X-Api-Key")

		json.NewEncoder(w).Encode(chunkResponse{Success: true, ChunkIndex: 2, TotalChunks: 5})
	})

	err := sender.SendChunk(context.Background(), &ChunkRequest{
		FileName:    "video.mp4",
		FileID:      "abc-123",
		ChunkIndex:  2,
		TotalChunks: 5,
		FileSize:    4567,
		Data:        []byte("chunk-bytes"),
	})
	require.NoError(t, err)

	assert.Equal(t, "video.mp4", gotForm["fileName"])
	assert.Equal(t, "abc-123", gotForm["fileId"])
	assert.Equal(t, "2", gotForm["chunkIndex"])
	assert.Equal(t, "5", gotForm["totalChunks"])
	assert.Equal(t, "4567", gotForm["fileSize"])
	assert.Equal(t, []byte("chunk-bytes"), gotData)
	assert.Equal(t, "sekrit", gotHeader)
}

func TestHTTPSenderSendChunkServerError(t *testing.T) {
	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(chunkResponse{Success: false, Error: "file type not allowed"})
	})

	err := sender.SendChunk(context.Background(), &ChunkRequest{Data: []byte("x")})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "file type not allowed", apiErr.Message)
}

func TestHTTPSenderSendChunkRejectedWithoutBody(t *testing.T) {
	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too large", http.StatusRequestEntityTooLarge)
	})

	err := sender.SendChunk(context.Background(), &ChunkRequest{Data: []byte("x")})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusRequestEntityTooLarge, apiErr.StatusCode)
}

func TestHTTPSenderSendChunkSuccessFalse(t *testing.T) {
	// HTTP 200 with success=false still counts as a failed chunk.
	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chunkResponse{Success: false, Error: "storage unavailable"})
	})

	err := sender.SendChunk(context.Background(), &ChunkRequest{Data: []byte("x")})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "storage unavailable", apiErr.Message)
}

func TestHTTPSenderFinalize(t *testing.T) {
	var gotBody map[string]interface{}

	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(finalizeResponse{
			Success:  true,
			FileName: "video.mp4",
			FileSize: 4567,
		})
	})

	result, err := sender.Finalize(context.Background(), &FinalizeRequest{
		FileName:    "video.mp4",
		FileID:      "abc-123",
		FileSize:    4567,
		TotalChunks: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, "finalize", gotBody["action"])
	assert.Equal(t, "video.mp4", gotBody["fileName"])
	assert.Equal(t, "abc-123", gotBody["fileId"])
	assert.Equal(t, float64(4567), gotBody["fileSize"])
	assert.Equal(t, float64(5), gotBody["totalChunks"])

	assert.Equal(t, "video.mp4", result.FileName)
	assert.Equal(t, int64(4567), result.FileSize)
}

func TestHTTPSenderFinalizeMissingChunks(t *testing.T) {
	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(finalizeResponse{Success: false, Error: "missing chunk 3"})
	})

	_, err := sender.Finalize(context.Background(), &FinalizeRequest{FileID: "abc-123"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "missing chunk 3", apiErr.Message)
}

func TestHTTPSenderContextCancelled(t *testing.T) {
	sender := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sender.SendChunk(ctx, &ChunkRequest{Data: []byte("x")})
	assert.ErrorIs(t, err, context.Canceled)
}
