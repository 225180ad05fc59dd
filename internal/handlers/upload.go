package handlers

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shardlift/shardlift/internal/assembler"
	"github.com/shardlift/shardlift/internal/config"
	"github.com/shardlift/shardlift/internal/metrics"
	"github.com/shardlift/shardlift/internal/store"
)

// multipartOverhead is the extra request size allowed beyond the chunk
// payload for form field framing.
const multipartOverhead = 16 * 1024

// UploadHandler handles POST /api/upload. Multipart bodies carry one chunk;
// JSON bodies with action "finalize" trigger reassembly.
func UploadHandler(db *sql.DB, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			sendJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
				"success": false,
				"error":   "Method not allowed",
			})
			return
		}

		contentType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			sendJSON(w, http.StatusBadRequest, map[string]interface{}{
				"success": false,
				"error":   "Missing or invalid Content-Type",
			})
			return
		}

		switch {
		case strings.HasPrefix(contentType, "multipart/"):
			receiveChunk(w, r, db, cfg)
		case contentType == "application/json":
			finalizeUpload(w, r, db, cfg)
		default:
			sendJSON(w, http.StatusUnsupportedMediaType, map[string]interface{}{
				"success": false,
				"error":   fmt.Sprintf("Unsupported Content-Type %q", contentType),
			})
		}
	}
}

// receiveChunk validates and stores one chunk, creating the upload record on
// the first chunk for an id.
func receiveChunk(w http.ResponseWriter, r *http.Request, db *sql.DB, cfg *config.Config) {
	// The request holds a single chunk, never the whole file. Bounding the
	// body and the parse memory by the chunk cap keeps concurrent uploads
	// from holding MaxFileSize-sized buffers in RAM.
	maxBody := cfg.MaxChunkSize + multipartOverhead
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseMultipartForm(maxBody); err != nil {
		metrics.ErrorsTotal.WithLabelValues("chunk_too_large").Inc()
		sendChunkError(w, http.StatusRequestEntityTooLarge, "Chunk too large or invalid form data", 0, 0)
		return
	}

	fileName := r.FormValue("fileName")
	uploadID := r.FormValue("fileId")
	chunkIndexStr := r.FormValue("chunkIndex")
	totalChunksStr := r.FormValue("totalChunks")
	fileSizeStr := r.FormValue("fileSize")

	if fileName == "" || uploadID == "" || chunkIndexStr == "" || totalChunksStr == "" || fileSizeStr == "" {
		sendChunkError(w, http.StatusBadRequest, "Missing required field", 0, 0)
		return
	}

	if _, err := uuid.Parse(uploadID); err != nil {
		sendChunkError(w, http.StatusBadRequest, "Invalid fileId format", 0, 0)
		return
	}

	chunkIndex, err := strconv.Atoi(chunkIndexStr)
	if err != nil || chunkIndex < 0 {
		sendChunkError(w, http.StatusBadRequest, "Invalid chunkIndex", 0, 0)
		return
	}

	totalChunks, err := strconv.Atoi(totalChunksStr)
	if err != nil || totalChunks <= 0 {
		sendChunkError(w, http.StatusBadRequest, "Invalid totalChunks", chunkIndex, 0)
		return
	}

	fileSize, err := strconv.ParseInt(fileSizeStr, 10, 64)
	if err != nil || fileSize <= 0 {
		sendChunkError(w, http.StatusBadRequest, "Invalid fileSize", chunkIndex, totalChunks)
		return
	}

	fileName = sanitizeFilename(fileName)

	if !cfg.IsExtensionAllowed(fileName) {
		slog.Warn("blocked file extension",
			"file_name", fileName,
			"upload_id", uploadID,
		)
		metrics.ErrorsTotal.WithLabelValues("blocked_extension").Inc()
		sendChunkError(w, http.StatusBadRequest,
			fmt.Sprintf("File extension of %q is not allowed", fileName), chunkIndex, totalChunks)
		return
	}

	// Quota check happens before any chunk bytes are stored.
	if fileSize > cfg.MaxFileSize {
		metrics.ErrorsTotal.WithLabelValues("file_too_large").Inc()
		sendChunkError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("File size exceeds maximum of %d bytes", cfg.MaxFileSize), chunkIndex, totalChunks)
		return
	}

	if totalChunks > cfg.MaxChunkCount {
		sendChunkError(w, http.StatusBadRequest,
			fmt.Sprintf("File requires too many chunks (maximum %d)", cfg.MaxChunkCount), chunkIndex, totalChunks)
		return
	}

	if chunkIndex >= totalChunks {
		sendChunkError(w, http.StatusBadRequest,
			fmt.Sprintf("Chunk index %d exceeds total chunks %d", chunkIndex, totalChunks), chunkIndex, totalChunks)
		return
	}

	// First chunk for an id creates the upload record.
	record, err := store.CreateIfAbsent(db, uploadID, fileName, fileSize, totalChunks)
	if err != nil {
		slog.Error("failed to create upload record", "error", err, "upload_id", uploadID)
		sendChunkError(w, http.StatusInternalServerError, "Internal server error", chunkIndex, totalChunks)
		return
	}

	if record.FileSize != fileSize || record.TotalChunks != totalChunks {
		sendChunkError(w, http.StatusConflict,
			"Chunk metadata does not match the upload session", chunkIndex, totalChunks)
		return
	}

	chunkFile, _, err := r.FormFile("chunk")
	if err != nil {
		sendChunkError(w, http.StatusBadRequest, "No chunk file provided", chunkIndex, totalChunks)
		return
	}
	defer chunkFile.Close()

	chunkData, err := io.ReadAll(chunkFile)
	if err != nil {
		slog.Error("failed to read chunk data", "error", err, "upload_id", uploadID)
		sendChunkError(w, http.StatusInternalServerError, "Internal server error", chunkIndex, totalChunks)
		return
	}

	// Duplicate of an identical chunk is treated as success (idempotency);
	// a different size for the same index means corruption.
	exists, existingSize, err := assembler.ChunkExists(cfg.UploadDir, uploadID, chunkIndex)
	if err != nil {
		slog.Error("failed to check chunk existence", "error", err, "upload_id", uploadID)
		sendChunkError(w, http.StatusInternalServerError, "Internal server error", chunkIndex, totalChunks)
		return
	}
	if exists {
		if existingSize == int64(len(chunkData)) {
			slog.Debug("chunk already exists (idempotent)",
				"upload_id", uploadID,
				"chunk_index", chunkIndex,
				"size", existingSize,
			)
			if err := store.Touch(db, uploadID); err != nil {
				slog.Error("failed to update upload activity", "error", err, "upload_id", uploadID)
			}
			sendJSON(w, http.StatusOK, chunkResponse{
				Success:     true,
				ChunkIndex:  chunkIndex,
				TotalChunks: totalChunks,
			})
			return
		}
		sendChunkError(w, http.StatusConflict,
			fmt.Sprintf("Chunk %d already exists with different size (expected %d, got %d)",
				chunkIndex, existingSize, len(chunkData)), chunkIndex, totalChunks)
		return
	}

	if err := assembler.SaveChunk(cfg.UploadDir, uploadID, chunkIndex, chunkData); err != nil {
		slog.Error("failed to save chunk", "error", err, "upload_id", uploadID)
		sendChunkError(w, http.StatusInternalServerError, "Internal server error", chunkIndex, totalChunks)
		return
	}

	if err := store.RecordChunk(db, uploadID, int64(len(chunkData))); err != nil {
		// Chunk is already on disk; the record catches up on the next one.
		slog.Error("failed to record chunk", "error", err, "upload_id", uploadID)
	}

	metrics.ChunksReceivedTotal.Inc()

	sendJSON(w, http.StatusOK, chunkResponse{
		Success:     true,
		ChunkIndex:  chunkIndex,
		TotalChunks: totalChunks,
	})

	slog.Debug("chunk received",
		"upload_id", uploadID,
		"chunk_index", chunkIndex,
		"chunk_size", len(chunkData),
		"total_chunks", totalChunks,
	)
}

// finalizeRequest is the JSON body that triggers reassembly.
type finalizeRequest struct {
	Action      string `json:"action"`
	FileName    string `json:"fileName"`
	FileID      string `json:"fileId"`
	FileSize    int64  `json:"fileSize"`
	TotalChunks int    `json:"totalChunks"`
}

// finalizeUpload verifies completeness and merges chunks into the final
// file. On any integrity failure the partial output is discarded.
func finalizeUpload(w http.ResponseWriter, r *http.Request, db *sql.DB, cfg *config.Config) {
	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendFinalizeError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}

	if req.Action != "finalize" {
		sendFinalizeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown action %q", req.Action))
		return
	}

	if req.FileID == "" {
		sendFinalizeError(w, http.StatusBadRequest, "Missing fileId")
		return
	}
	if _, err := uuid.Parse(req.FileID); err != nil {
		sendFinalizeError(w, http.StatusBadRequest, "Invalid fileId format")
		return
	}

	record, err := store.Get(db, req.FileID)
	if err != nil {
		slog.Error("failed to get upload record", "error", err, "upload_id", req.FileID)
		sendFinalizeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if record == nil {
		sendFinalizeError(w, http.StatusNotFound, "Upload session not found")
		return
	}

	// Same conflict rule as the chunk path: declared figures must match the
	// session the chunks were stored under.
	if req.FileSize != record.FileSize || req.TotalChunks != record.TotalChunks {
		sendFinalizeError(w, http.StatusConflict, "Finalize metadata does not match the upload session")
		return
	}

	missing, err := assembler.MissingChunks(cfg.UploadDir, req.FileID, record.TotalChunks)
	if err != nil {
		slog.Error("failed to check for missing chunks", "error", err, "upload_id", req.FileID)
		sendFinalizeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if len(missing) > 0 {
		slog.Warn("cannot finalize: chunks missing",
			"upload_id", req.FileID,
			"missing_count", len(missing),
			"first_missing", missing[0],
		)
		metrics.FinalizesTotal.WithLabelValues("failure").Inc()
		sendFinalizeError(w, http.StatusBadRequest,
			fmt.Sprintf("Missing %d chunks (first missing: %d)", len(missing), missing[0]))
		return
	}

	if err := os.MkdirAll(cfg.FinalDir, 0755); err != nil {
		slog.Error("failed to create destination directory", "error", err)
		sendFinalizeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// Name collisions get a timestamp suffix; existing files are never
	// overwritten.
	finalName := sanitizeFilename(record.FileName)
	finalPath := assembler.ResolveCollision(cfg.FinalDir, finalName)

	if err := assembler.Assemble(cfg.UploadDir, req.FileID, record.TotalChunks, record.FileSize, finalPath); err != nil {
		slog.Error("failed to assemble chunks", "error", err, "upload_id", req.FileID)
		metrics.FinalizesTotal.WithLabelValues("failure").Inc()
		sendFinalizeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to assemble file: %v", err))
		return
	}

	if err := store.Delete(db, req.FileID); err != nil {
		// File is in place; the stale record is harmless.
		slog.Error("failed to delete upload record", "error", err, "upload_id", req.FileID)
	}

	metrics.FinalizesTotal.WithLabelValues("success").Inc()
	metrics.UploadSizeBytes.Observe(float64(record.FileSize))

	mimeType := assembler.DetectMimeType(finalPath)

	sendJSON(w, http.StatusOK, finalizeResponse{
		Success:  true,
		FileName: finalName,
		FileSize: record.FileSize,
	})

	slog.Info("upload finalized",
		"upload_id", req.FileID,
		"file_name", finalName,
		"file_size", record.FileSize,
		"total_chunks", record.TotalChunks,
		"mime_type", mimeType,
		"path", finalPath,
	)
}
