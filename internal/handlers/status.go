package handlers

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shardlift/shardlift/internal/assembler"
	"github.com/shardlift/shardlift/internal/config"
	"github.com/shardlift/shardlift/internal/store"
)

// StatusHandler handles GET /api/upload/status/{uploadID}.
func StatusHandler(db *sql.DB, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			sendJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
				"success": false,
				"error":   "Method not allowed",
			})
			return
		}

		uploadID := strings.TrimPrefix(r.URL.Path, "/api/upload/status/")
		if _, err := uuid.Parse(uploadID); err != nil {
			sendJSON(w, http.StatusBadRequest, map[string]interface{}{
				"success": false,
				"error":   "Invalid upload id format",
			})
			return
		}

		record, err := store.Get(db, uploadID)
		if err != nil {
			slog.Error("failed to get upload record", "error", err, "upload_id", uploadID)
			sendJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"success": false,
				"error":   "Internal server error",
			})
			return
		}
		if record == nil {
			sendJSON(w, http.StatusNotFound, map[string]interface{}{
				"success": false,
				"error":   "Upload session not found",
			})
			return
		}

		missing, err := assembler.MissingChunks(cfg.UploadDir, uploadID, record.TotalChunks)
		if err != nil {
			slog.Error("failed to get missing chunks", "error", err, "upload_id", uploadID)
			// Report the record without the missing list rather than fail.
			missing = nil
		}

		sendJSON(w, http.StatusOK, statusResponse{
			UploadID:       record.UploadID,
			FileName:       record.FileName,
			FileSize:       record.FileSize,
			TotalChunks:    record.TotalChunks,
			ChunksReceived: record.ChunksReceived,
			ReceivedBytes:  record.ReceivedBytes,
			MissingChunks:  missing,
			Complete:       len(missing) == 0 && record.ChunksReceived >= record.TotalChunks,
		})
	}
}

// HealthHandler handles GET /healthz.
func HealthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			sendJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "unhealthy"})
			return
		}
		sendJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
	}
}
