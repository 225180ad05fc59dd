package handlers

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
)

// chunkResponse is the per-chunk reply body.
type chunkResponse struct {
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
}

// finalizeResponse is the finalize reply body.
type finalizeResponse struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	FileName string `json:"fileName,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
}

// statusResponse describes an in-progress upload.
type statusResponse struct {
	UploadID       string `json:"uploadId"`
	FileName       string `json:"fileName"`
	FileSize       int64  `json:"fileSize"`
	TotalChunks    int    `json:"totalChunks"`
	ChunksReceived int    `json:"chunksReceived"`
	ReceivedBytes  int64  `json:"receivedBytes"`
	MissingChunks  []int  `json:"missingChunks"`
	Complete       bool   `json:"complete"`
}

// sendJSON writes a JSON response body with the given status code.
func sendJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// sendChunkError writes a failed chunk response.
func sendChunkError(w http.ResponseWriter, status int, msg string, chunkIndex, totalChunks int) {
	sendJSON(w, status, chunkResponse{
		Success:     false,
		Error:       msg,
		ChunkIndex:  chunkIndex,
		TotalChunks: totalChunks,
	})
}

// sendFinalizeError writes a failed finalize response.
func sendFinalizeError(w http.ResponseWriter, status int, msg string) {
	sendJSON(w, status, finalizeResponse{Success: false, Error: msg})
}

// sanitizeFilename strips path components and control characters from a
// client-supplied filename so it is safe to use inside the destination
// directory.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "")
	name = strings.Map(func(r rune) rune {
		if r < 32 || r == '/' || r == '\\' || r == ':' {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)

	if name == "" || name == "." {
		name = "upload"
	}
	return name
}
