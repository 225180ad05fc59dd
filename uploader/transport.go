package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"
)

// ChunkRequest carries one chunk's payload and identifying metadata.
type ChunkRequest struct {
	FileName    string
	FileID      string
	ChunkIndex  int
	TotalChunks int
	FileSize    int64
	Data        []byte
}

// FinalizeRequest asks the server to merge previously received chunks.
type FinalizeRequest struct {
	FileName    string
	FileID      string
	FileSize    int64
	TotalChunks int
}

// FinalizeResult is the server's answer to a finalize request.
type FinalizeResult struct {
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
}

// ChunkSender abstracts the wire protocol the scheduler drives. The HTTP
// implementation is the default; tests substitute their own.
type ChunkSender interface {
	// SendChunk transmits one chunk. A nil return marks the chunk
	// completed; any error is subject to the scheduler's retry policy.
	SendChunk(ctx context.Context, req *ChunkRequest) error

	// Finalize triggers server-side reassembly. Called once, after every
	// chunk has been observed as completed.
	Finalize(ctx context.Context, req *FinalizeRequest) (*FinalizeResult, error)
}

// chunkResponse is the server's per-chunk reply.
type chunkResponse struct {
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
}

// finalizeResponse is the server's finalize reply.
type finalizeResponse struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
}

// HTTPSender sends chunks and finalize requests to a single endpoint over
// HTTP. Chunks go as multipart forms, finalize as a JSON action body.
type HTTPSender struct {
	endpoint   string
	headers    map[string]string
	timeout    time.Duration
	httpClient *http.Client
}

// NewHTTPSender creates a sender for the given normalized config.
func NewHTTPSender(cfg Config) (*HTTPSender, error) {
	cfg = cfg.normalize()

	if cfg.Endpoint == "" {
		return nil, &ValidationError{Field: "Endpoint", Message: "is required"}
	}

	client := &http.Client{}
	if cfg.WithCredentials {
		jar, err := newCookieJar()
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		client.Jar = jar
	}

	return &HTTPSender{
		endpoint:   cfg.Endpoint,
		headers:    cfg.Headers,
		timeout:    cfg.Timeout,
		httpClient: client,
	}, nil
}

// SendChunk implements ChunkSender. The request is bounded by the configured
// per-call timeout; on expiry it fails like any other transport error.
func (s *HTTPSender) SendChunk(ctx context.Context, req *ChunkRequest) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	writer.WriteField("fileName", req.FileName)
	writer.WriteField("fileId", req.FileID)
	writer.WriteField("chunkIndex", strconv.Itoa(req.ChunkIndex))
	writer.WriteField("totalChunks", strconv.Itoa(req.TotalChunks))
	writer.WriteField("fileSize", strconv.FormatInt(req.FileSize, 10))

	part, err := writer.CreateFormFile("chunk", "chunk")
	if err != nil {
		return fmt.Errorf("creating chunk form: %w", err)
	}
	if _, err := part.Write(req.Data); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing chunk writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, &buf)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	s.applyHeaders(httpReq)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending chunk %d: %w", req.ChunkIndex, err)
	}
	defer resp.Body.Close()

	var body chunkResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
		}
		return fmt.Errorf("decoding chunk response: %w", err)
	}

	if resp.StatusCode >= 400 || !body.Success {
		msg := body.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	return nil
}

// Finalize implements ChunkSender.
func (s *HTTPSender) Finalize(ctx context.Context, req *FinalizeRequest) (*FinalizeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload := map[string]interface{}{
		"action":      "finalize",
		"fileName":    req.FileName,
		"fileId":      req.FileID,
		"fileSize":    req.FileSize,
		"totalChunks": req.TotalChunks,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling finalize body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	s.applyHeaders(httpReq)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("finalizing upload %s: %w", req.FileID, err)
	}
	defer resp.Body.Close()

	var result finalizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if resp.StatusCode >= 400 {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
		}
		return nil, fmt.Errorf("decoding finalize response: %w", err)
	}

	if resp.StatusCode >= 400 || !result.Success {
		msg := result.Error
		if msg == "" {
			msg = resp.Status
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	return &FinalizeResult{FileName: result.FileName, FileSize: result.FileSize}, nil
}

// applyHeaders adds configured custom headers to a request.
func (s *HTTPSender) applyHeaders(req *http.Request) {
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
}
