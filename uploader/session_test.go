package uploader

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSessionConfig() Config {
	return Config{
		Endpoint:             "http://localhost/api/upload",
		ChunkSize:            MinChunkSize,
		MaxConcurrentUploads: 2,
		MaxRetries:           3,
		RetryDelay:           time.Millisecond,
		Timeout:              time.Second,
	}
}

func payload(size int) *bytes.Reader {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	return bytes.NewReader(buf)
}

func TestSessionStartAllSuccess(t *testing.T) {
	sender := newMockSender()

	var mu sync.Mutex
	var fileCompletes []Progress
	var sessionStats *SessionStats

	session := NewSessionWithSender(testSessionConfig(), sender, Callbacks{
		OnFileComplete: func(p Progress) {
			mu.Lock()
			fileCompletes = append(fileCompletes, p)
			mu.Unlock()
		},
		OnComplete: func(stats SessionStats) {
			mu.Lock()
			sessionStats = &stats
			mu.Unlock()
		},
	})

	// An exact multiple of the chunk size splits into 10 full chunks.
	bigSize := int64(10 * MinChunkSize)
	wantTotal := bigSize + 1500 + 100

	id1, err := session.Add("big.bin", bigSize, payload(int(bigSize)))
	require.NoError(t, err)
	_, err = session.Add("small.bin", 1500, payload(1500))
	require.NoError(t, err)
	_, err = session.Add("tiny.bin", 100, payload(100))
	require.NoError(t, err)

	require.NoError(t, session.Start(context.Background()))

	mu.Lock()
	defer mu.Unlock()

	require.NotNil(t, sessionStats, "completion callback did not fire")
	assert.Equal(t, 3, sessionStats.TotalFiles)
	assert.Equal(t, 3, sessionStats.CompletedFiles)
	assert.Equal(t, 0, sessionStats.FailedFiles)
	assert.Equal(t, wantTotal, sessionStats.TotalBytes)
	assert.Equal(t, wantTotal, sessionStats.UploadedBytes)
	assert.Len(t, fileCompletes, 3)
	assert.Equal(t, 3, sender.finalizeCount())

	for _, p := range session.Snapshot() {
		assert.Equal(t, StatusCompleted, p.Status)
		assert.Equal(t, 100, p.Percentage)
		if p.FileID == id1 {
			assert.Equal(t, bigSize, p.UploadedBytes)
			assert.Equal(t, 10, p.CompletedChunks)
			assert.Equal(t, 10, p.TotalChunks)
		}
	}
}

func TestSessionFailureIsolation(t *testing.T) {
	sender := newMockSender()
	sender.failNames = map[string]bool{"bad.bin": true}

	var mu sync.Mutex
	var fileErrors []Progress
	var sessionStats *SessionStats

	cfg := testSessionConfig()
	cfg.MaxRetries = 1

	session := NewSessionWithSender(cfg, sender, Callbacks{
		OnFileError: func(p Progress, err error) {
			mu.Lock()
			fileErrors = append(fileErrors, p)
			mu.Unlock()
		},
		OnComplete: func(stats SessionStats) {
			mu.Lock()
			sessionStats = &stats
			mu.Unlock()
		},
	})

	_, err := session.Add("good.bin", 2500, payload(2500))
	require.NoError(t, err)
	_, err = session.Add("bad.bin", 2500, payload(2500))
	require.NoError(t, err)

	require.NoError(t, session.Start(context.Background()))

	mu.Lock()
	defer mu.Unlock()

	require.NotNil(t, sessionStats)
	assert.Equal(t, 1, sessionStats.CompletedFiles)
	assert.Equal(t, 1, sessionStats.FailedFiles)

	require.Len(t, fileErrors, 1)
	assert.Equal(t, "bad.bin", fileErrors[0].FileName)
	assert.Equal(t, StatusFailed, fileErrors[0].Status)
	assert.NotEmpty(t, fileErrors[0].Error)

	// The failed sibling never blocks the healthy file's finalize.
	assert.Equal(t, 1, sender.finalizeCount())
}

func TestSessionPauseResume(t *testing.T) {
	sender := newMockSender()
	sender.gate = make(chan struct{})
	sender.gated = map[int]bool{1: true, 2: true, 3: true}
	sender.started = make(chan int, 16)

	session := NewSessionWithSender(testSessionConfig(), sender, Callbacks{})

	size := int64(4 * MinChunkSize)
	_, err := session.Add("resume.bin", size, payload(int(size)))
	require.NoError(t, err)

	started := make(chan error, 1)
	go func() {
		started <- session.Start(context.Background())
	}()

	// Chunk 0 passes through; wait until two gated chunks are in flight.
	seen := 0
	for seen < 3 {
		select {
		case <-sender.started:
			seen++
		case <-time.After(10 * time.Second):
			t.Fatal("uploads never started")
		}
	}

	session.Pause()
	require.NoError(t, <-started)

	snap := session.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, StatusPaused, snap[0].Status)
	assert.Equal(t, 1, snap[0].CompletedChunks)
	assert.Equal(t, int64(MinChunkSize), snap[0].UploadedBytes)
	assert.Equal(t, 0, sender.finalizeCount())

	sender.clearGate()
	require.NoError(t, session.Resume(context.Background()))

	// Chunk 0 completed before the pause and is never re-sent.
	assert.Equal(t, 1, sender.sendCount(0))
	for idx := 1; idx <= 3; idx++ {
		assert.GreaterOrEqual(t, sender.sendCount(idx), 1)
	}

	snap = session.Snapshot()
	assert.Equal(t, StatusCompleted, snap[0].Status)
	assert.Equal(t, 100, snap[0].Percentage)
	assert.Equal(t, size, snap[0].UploadedBytes)
	assert.Equal(t, 1, sender.finalizeCount())

	stats := session.Stats()
	assert.Equal(t, 1, stats.CompletedFiles)
	assert.Equal(t, size, stats.UploadedBytes)
}

func TestSessionCancel(t *testing.T) {
	sender := newMockSender()
	session := NewSessionWithSender(testSessionConfig(), sender, Callbacks{})

	_, err := session.Add("doomed.bin", 1000, payload(1000))
	require.NoError(t, err)

	session.Cancel()

	assert.Empty(t, session.Snapshot())

	_, err = session.Add("late.bin", 1000, payload(1000))
	assert.ErrorIs(t, err, ErrCancelled)

	assert.ErrorIs(t, session.Start(context.Background()), ErrCancelled)
	assert.ErrorIs(t, session.Resume(context.Background()), ErrCancelled)
}

func TestSessionDuplicateFilenames(t *testing.T) {
	sender := newMockSender()
	session := NewSessionWithSender(testSessionConfig(), sender, Callbacks{})

	id1, err := session.Add("report.pdf", 500, payload(500))
	require.NoError(t, err)
	id2, err := session.Add("report.pdf", 500, payload(500))
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)

	require.NoError(t, session.Start(context.Background()))

	stats := session.Stats()
	assert.Equal(t, 2, stats.CompletedFiles)
}

func TestSessionAddValidation(t *testing.T) {
	sender := newMockSender()
	session := NewSessionWithSender(testSessionConfig(), sender, Callbacks{})

	_, err := session.Add("", 100, payload(100))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = session.Add("neg.bin", -1, payload(0))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSessionRejectsEmptyFile(t *testing.T) {
	sender := newMockSender()
	session := NewSessionWithSender(testSessionConfig(), sender, Callbacks{})

	// An empty file has no chunks to send, so the server would never see
	// the upload id and its finalize could not succeed.
	_, err := session.Add("empty.bin", 0, payload(0))
	assert.ErrorIs(t, err, ErrValidation)

	assert.Empty(t, session.Snapshot())
	assert.Zero(t, session.Stats().TotalFiles)
}
