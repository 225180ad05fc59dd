package assembler

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveChunkAndChunkExists(t *testing.T) {
	dir := t.TempDir()

	exists, _, err := ChunkExists(dir, "upload-1", 0)
	if err != nil {
		t.Fatalf("ChunkExists failed: %v", err)
	}
	if exists {
		t.Error("chunk should not exist before save")
	}

	data := []byte("hello chunk")
	if err := SaveChunk(dir, "upload-1", 0, data); err != nil {
		t.Fatalf("SaveChunk failed: %v", err)
	}

	exists, size, err := ChunkExists(dir, "upload-1", 0)
	if err != nil {
		t.Fatalf("ChunkExists failed: %v", err)
	}
	if !exists {
		t.Error("chunk should exist after save")
	}
	if size != int64(len(data)) {
		t.Errorf("chunk size = %d, want %d", size, len(data))
	}
}

func TestSaveChunkOverwrite(t *testing.T) {
	dir := t.TempDir()

	if err := SaveChunk(dir, "upload-1", 0, []byte("first version longer")); err != nil {
		t.Fatalf("SaveChunk failed: %v", err)
	}
	if err := SaveChunk(dir, "upload-1", 0, []byte("second")); err != nil {
		t.Fatalf("SaveChunk overwrite failed: %v", err)
	}

	_, size, err := ChunkExists(dir, "upload-1", 0)
	if err != nil {
		t.Fatalf("ChunkExists failed: %v", err)
	}
	if size != int64(len("second")) {
		t.Errorf("overwritten chunk size = %d, want %d", size, len("second"))
	}
}

func TestMissingChunks(t *testing.T) {
	dir := t.TempDir()

	missing, err := MissingChunks(dir, "upload-1", 3)
	if err != nil {
		t.Fatalf("MissingChunks failed: %v", err)
	}
	if len(missing) != 3 {
		t.Fatalf("missing = %v, want all 3", missing)
	}

	if err := SaveChunk(dir, "upload-1", 0, []byte("a")); err != nil {
		t.Fatalf("SaveChunk failed: %v", err)
	}
	if err := SaveChunk(dir, "upload-1", 2, []byte("c")); err != nil {
		t.Fatalf("SaveChunk failed: %v", err)
	}

	missing, err = MissingChunks(dir, "upload-1", 3)
	if err != nil {
		t.Fatalf("MissingChunks failed: %v", err)
	}
	if len(missing) != 1 || missing[0] != 1 {
		t.Errorf("missing = %v, want [1]", missing)
	}
}

func TestAssemble(t *testing.T) {
	dir := t.TempDir()
	uploadID := "upload-1"

	chunks := [][]byte{
		[]byte("first-"),
		[]byte("second-"),
		[]byte("third"),
	}
	var total int64
	for i, data := range chunks {
		if err := SaveChunk(dir, uploadID, i, data); err != nil {
			t.Fatalf("SaveChunk %d failed: %v", i, err)
		}
		total += int64(len(data))
	}

	outputPath := filepath.Join(dir, "final.txt")
	if err := Assemble(dir, uploadID, len(chunks), total, outputPath); err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	got, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("reading output failed: %v", err)
	}
	want := bytes.Join(chunks, nil)
	if !bytes.Equal(got, want) {
		t.Errorf("assembled content = %q, want %q", got, want)
	}

	// Staging directory is removed after assembly.
	if _, err := os.Stat(ChunksDir(dir, uploadID)); !os.IsNotExist(err) {
		t.Error("staging directory should be removed after assembly")
	}
}

func TestAssembleMissingChunk(t *testing.T) {
	dir := t.TempDir()
	uploadID := "upload-1"

	if err := SaveChunk(dir, uploadID, 0, []byte("only")); err != nil {
		t.Fatalf("SaveChunk failed: %v", err)
	}

	outputPath := filepath.Join(dir, "final.txt")
	err := Assemble(dir, uploadID, 3, 4, outputPath)
	if err == nil {
		t.Fatal("Assemble should fail with missing chunks")
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Errorf("error = %v, want mention of missing chunks", err)
	}

	// No output file is created when verification fails.
	if _, statErr := os.Stat(outputPath); !os.IsNotExist(statErr) {
		t.Error("output file should not exist after failed assembly")
	}
}

func TestAssembleSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	uploadID := "upload-1"

	if err := SaveChunk(dir, uploadID, 0, []byte("12345")); err != nil {
		t.Fatalf("SaveChunk failed: %v", err)
	}

	outputPath := filepath.Join(dir, "final.txt")
	err := Assemble(dir, uploadID, 1, 999, outputPath)
	if err == nil {
		t.Fatal("Assemble should fail on size mismatch")
	}
	if !strings.Contains(err.Error(), "size mismatch") {
		t.Errorf("error = %v, want size mismatch", err)
	}

	// A partial output file is never left behind.
	if _, statErr := os.Stat(outputPath); !os.IsNotExist(statErr) {
		t.Error("output file should be deleted on size mismatch")
	}
}

func TestResolveCollision(t *testing.T) {
	dir := t.TempDir()

	path := ResolveCollision(dir, "report.pdf")
	if path != filepath.Join(dir, "report.pdf") {
		t.Errorf("path = %q, want plain destination when no collision", path)
	}

	if err := os.WriteFile(path, []byte("existing"), 0644); err != nil {
		t.Fatalf("writing existing file failed: %v", err)
	}

	stamped := ResolveCollision(dir, "report.pdf")
	if stamped == path {
		t.Error("colliding destination should get a distinct path")
	}
	base := filepath.Base(stamped)
	if !strings.HasPrefix(base, "report_") || !strings.HasSuffix(base, ".pdf") {
		t.Errorf("stamped name = %q, want report_<stamp>.pdf", base)
	}
}

func TestDetectMimeType(t *testing.T) {
	dir := t.TempDir()

	pngPath := filepath.Join(dir, "image.bin")
	pngHeader := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}
	if err := os.WriteFile(pngPath, pngHeader, 0644); err != nil {
		t.Fatalf("writing test file failed: %v", err)
	}

	if mime := DetectMimeType(pngPath); mime != "image/png" {
		t.Errorf("mime = %q, want image/png", mime)
	}

	if mime := DetectMimeType(filepath.Join(dir, "does-not-exist")); mime != "application/octet-stream" {
		t.Errorf("mime for missing file = %q, want application/octet-stream", mime)
	}
}

func TestListPartialUploads(t *testing.T) {
	dir := t.TempDir()

	ids, err := ListPartialUploads(dir)
	if err != nil {
		t.Fatalf("ListPartialUploads failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want empty before any uploads", ids)
	}

	if err := SaveChunk(dir, "upload-a", 0, []byte("a")); err != nil {
		t.Fatalf("SaveChunk failed: %v", err)
	}
	if err := SaveChunk(dir, "upload-b", 0, []byte("b")); err != nil {
		t.Fatalf("SaveChunk failed: %v", err)
	}

	ids, err = ListPartialUploads(dir)
	if err != nil {
		t.Fatalf("ListPartialUploads failed: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("ids = %v, want 2 entries", ids)
	}
}
