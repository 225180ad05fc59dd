// Package assembler stores uploaded chunks on disk and merges them, in index
// order, into the final file.
package assembler

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// assembleBufferSize is the buffer size for chunk assembly (8MB).
	// Large enough to keep syscall overhead low on big files.
	assembleBufferSize = 8 * 1024 * 1024

	// mimeSniffLen is how much of the assembled file is read for MIME
	// detection.
	mimeSniffLen = 512
)

// PartialDir returns the staging directory for all in-progress uploads.
func PartialDir(uploadDir string) string {
	return filepath.Join(uploadDir, ".partial")
}

// ChunksDir returns the staging directory for one upload's chunks.
func ChunksDir(uploadDir, uploadID string) string {
	return filepath.Join(PartialDir(uploadDir), uploadID)
}

// ChunkPath returns the file path for a specific chunk. Indices are
// zero-padded so lexical order matches numeric order, though assembly never
// depends on directory listing order.
func ChunkPath(uploadDir, uploadID string, index int) string {
	return filepath.Join(ChunksDir(uploadDir, uploadID), fmt.Sprintf("chunk_%06d", index))
}

// SaveChunk writes one chunk to the upload's staging directory.
func SaveChunk(uploadDir, uploadID string, index int, data []byte) error {
	chunksDir := ChunksDir(uploadDir, uploadID)
	if err := os.MkdirAll(chunksDir, 0755); err != nil {
		return fmt.Errorf("failed to create chunks directory: %w", err)
	}

	// Avoid os.WriteFile so the OS can flush asynchronously; chunks are
	// re-sendable if the server crashes before assembly.
	chunkPath := ChunkPath(uploadDir, uploadID, index)
	file, err := os.OpenFile(chunkPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create chunk file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write chunk data: %w", err)
	}

	slog.Debug("chunk saved",
		"upload_id", uploadID,
		"chunk_index", index,
		"size", len(data),
		"path", chunkPath,
	)

	return nil
}

// ChunkExists checks if a specific chunk exists and returns its size.
func ChunkExists(uploadDir, uploadID string, index int) (bool, int64, error) {
	info, err := os.Stat(ChunkPath(uploadDir, uploadID, index))
	if os.IsNotExist(err) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to stat chunk file: %w", err)
	}
	return true, info.Size(), nil
}

// MissingChunks returns a sorted list of chunk indices absent from the
// staging directory, iterating indices 0..totalChunks-1 programmatically.
func MissingChunks(uploadDir, uploadID string, totalChunks int) ([]int, error) {
	var missing []int
	for i := 0; i < totalChunks; i++ {
		exists, _, err := ChunkExists(uploadDir, uploadID, i)
		if err != nil {
			return nil, fmt.Errorf("failed to check chunk %d: %w", i, err)
		}
		if !exists {
			missing = append(missing, i)
		}
	}
	return missing, nil
}

// Assemble concatenates all chunks, in index order, into outputPath. Each
// chunk file is deleted immediately after its bytes are consumed, and the
// staging directory is removed at the end. If the written byte count does
// not equal declaredSize the output is deleted and an error returned; a
// partial file is never left in place.
func Assemble(uploadDir, uploadID string, totalChunks int, declaredSize int64, outputPath string) error {
	startTime := time.Now()

	slog.Info("assembling chunks",
		"upload_id", uploadID,
		"total_chunks", totalChunks,
		"declared_size", declaredSize,
		"output_path", outputPath,
	)

	// Verify completeness before touching the output file.
	missing, err := MissingChunks(uploadDir, uploadID, totalChunks)
	if err != nil {
		return fmt.Errorf("failed to check for missing chunks: %w", err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("cannot assemble: %d chunks missing (first missing: %d)", len(missing), missing[0])
	}

	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	writer := bufio.NewWriterSize(outFile, assembleBufferSize)

	var written int64
	for i := 0; i < totalChunks; i++ {
		chunkPath := ChunkPath(uploadDir, uploadID, i)

		chunkFile, err := os.Open(chunkPath)
		if err != nil {
			outFile.Close()
			os.Remove(outputPath)
			return fmt.Errorf("failed to open chunk %d: %w", i, err)
		}

		n, err := io.Copy(writer, chunkFile)
		chunkFile.Close()
		if err != nil {
			outFile.Close()
			os.Remove(outputPath)
			return fmt.Errorf("failed to copy chunk %d: %w", i, err)
		}
		written += n

		// Consumed: drop the chunk right away to cap peak disk usage.
		if err := os.Remove(chunkPath); err != nil {
			slog.Warn("failed to remove consumed chunk",
				"upload_id", uploadID,
				"chunk_index", i,
				"error", err,
			)
		}
	}

	if err := writer.Flush(); err != nil {
		outFile.Close()
		os.Remove(outputPath)
		return fmt.Errorf("failed to flush output file: %w", err)
	}
	if err := outFile.Close(); err != nil {
		os.Remove(outputPath)
		return fmt.Errorf("failed to close output file: %w", err)
	}

	if err := RemoveChunks(uploadDir, uploadID); err != nil {
		slog.Warn("failed to remove staging directory", "upload_id", uploadID, "error", err)
	}

	if written != declaredSize {
		os.Remove(outputPath)
		return fmt.Errorf("assembled file size mismatch: expected %d, got %d", declaredSize, written)
	}

	duration := time.Since(startTime)
	slog.Info("chunk assembly complete",
		"upload_id", uploadID,
		"total_chunks", totalChunks,
		"total_bytes", written,
		"duration_ms", duration.Milliseconds(),
	)

	return nil
}

// RemoveChunks deletes the upload's staging directory and everything in it.
func RemoveChunks(uploadDir, uploadID string) error {
	chunksDir := ChunksDir(uploadDir, uploadID)

	if _, err := os.Stat(chunksDir); os.IsNotExist(err) {
		return nil // Already gone
	}

	if err := os.RemoveAll(chunksDir); err != nil {
		return fmt.Errorf("failed to delete chunks directory: %w", err)
	}

	slog.Debug("chunks deleted", "upload_id", uploadID, "path", chunksDir)

	return nil
}

// ResolveCollision returns a destination path that does not clash with an
// existing file, appending a timestamp suffix before the extension when it
// does. Existing files are never overwritten.
func ResolveCollision(dir, filename string) string {
	path := filepath.Join(dir, filename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	ext := filepath.Ext(filename)
	base := filename[:len(filename)-len(ext)]
	stamped := fmt.Sprintf("%s_%d%s", base, time.Now().UnixMilli(), ext)

	return filepath.Join(dir, stamped)
}

// DetectMimeType sniffs the MIME type of an assembled file from its leading
// bytes.
func DetectMimeType(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer file.Close()

	buf := make([]byte, mimeSniffLen)
	n, err := file.Read(buf)
	if err != nil && err != io.EOF {
		return "application/octet-stream"
	}

	return mimetype.Detect(buf[:n]).String()
}

// ListPartialUploads returns the upload ids with staging directories on
// disk. Used at startup to report leftover state from abandoned uploads;
// nothing garbage-collects them automatically.
func ListPartialUploads(uploadDir string) ([]string, error) {
	partialDir := PartialDir(uploadDir)

	entries, err := os.ReadDir(partialDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read partial uploads directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}
