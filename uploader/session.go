package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Callbacks are the push-based notification contract of a Session. Every
// callback is optional. OnProgress receives a full, consistent snapshot of
// all tracked files on each update.
type Callbacks struct {
	// OnProgress is invoked with a snapshot of every task whenever a
	// fresh progress sample is taken.
	OnProgress func([]Progress)
	// OnFileComplete is invoked once per task that finishes successfully.
	OnFileComplete func(Progress)
	// OnFileError is invoked once per task that fails terminally.
	OnFileError func(Progress, error)
	// OnComplete is invoked exactly once, after every task has settled
	// into a terminal state, with final aggregate statistics.
	OnComplete func(SessionStats)
}

// SessionStats aggregates a session's outcome. Derived fields (Duration,
// AverageSpeed) are computed once, at session end.
type SessionStats struct {
	TotalFiles     int
	CompletedFiles int
	FailedFiles    int
	TotalBytes     int64
	UploadedBytes  int64
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	// AverageSpeed is bytes per second over the whole session.
	AverageSpeed float64
}

// task is one queued file and everything the session tracks about it.
type task struct {
	id      string
	name    string
	size    int64
	source  io.ReaderAt
	closer  io.Closer
	chunks  []*Chunk
	status  Status
	errMsg  string
	tracker *progressTracker
	sched   *scheduler
}

// Session owns a queue of file upload tasks and their lifecycle. Each
// session is independently constructible and disposable; there is no shared
// process-wide state.
type Session struct {
	cfg       Config
	sender    ChunkSender
	callbacks Callbacks

	mu        sync.Mutex
	tasks     map[string]*task
	order     []string
	stats     SessionStats
	started   bool
	cancelled bool
	completed bool
}

// NewSession creates a session that uploads over HTTP to cfg.Endpoint.
func NewSession(cfg Config, cb Callbacks) (*Session, error) {
	cfg = cfg.normalize()

	sender, err := NewHTTPSender(cfg)
	if err != nil {
		return nil, err
	}

	return NewSessionWithSender(cfg, sender, cb), nil
}

// NewSessionWithSender creates a session over a caller-supplied transport.
func NewSessionWithSender(cfg Config, sender ChunkSender, cb Callbacks) *Session {
	return &Session{
		cfg:       cfg.normalize(),
		sender:    sender,
		callbacks: cb,
		tasks:     make(map[string]*task),
	}
}

// AddFile queues a file from disk and returns its upload id. Adding the same
// filename twice yields two distinct tasks.
func (s *Session) AddFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return "", fmt.Errorf("getting file info: %w", err)
	}

	id, err := s.Add(filepath.Base(path), info.Size(), f)
	if err != nil {
		f.Close()
		return "", err
	}

	s.mu.Lock()
	s.tasks[id].closer = f
	s.mu.Unlock()

	return id, nil
}

// Add queues an in-memory or otherwise random-access source.
func (s *Session) Add(name string, size int64, source io.ReaderAt) (string, error) {
	if name == "" {
		return "", &ValidationError{Field: "name", Message: "cannot be empty"}
	}
	// A zero-byte file plans zero chunks, so no chunk ever reaches the
	// server and there is no session to finalize. Reject it up front.
	if size <= 0 {
		return "", &ValidationError{Field: "size", Message: "must be positive"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return "", ErrCancelled
	}

	// Not derived from the filename: duplicates stay distinct.
	id := uuid.New().String()

	s.tasks[id] = &task{
		id:     id,
		name:   name,
		size:   size,
		source: source,
		status: StatusPending,
	}
	s.order = append(s.order, id)
	s.stats.TotalFiles++
	s.stats.TotalBytes += size

	slog.Debug("file queued", "file_id", id, "file_name", name, "size", size)

	return id, nil
}

// Start uploads every pending task and blocks until all of them have
// settled. One task's failure does not abort its siblings. Returns
// ErrCancelled if the session was cancelled.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return ErrCancelled
	}
	if !s.started {
		s.started = true
		s.stats.StartTime = time.Now()
	}
	batch := s.collectLocked(StatusPending)
	s.mu.Unlock()

	s.runBatch(ctx, batch)
	return nil
}

// Resume restarts schedulers for paused and pending tasks only. Chunks that
// already completed are never re-uploaded.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return ErrCancelled
	}
	batch := s.collectLocked(StatusPaused, StatusPending)
	s.mu.Unlock()

	s.runBatch(ctx, batch)
	return nil
}

// Pause aborts every in-flight chunk transfer across all tasks and flips
// uploading tasks to paused once their runs settle.
func (s *Session) Pause() {
	s.mu.Lock()
	var scheds []*scheduler
	for _, t := range s.tasks {
		if t.status == StatusUploading && t.sched != nil {
			scheds = append(scheds, t.sched)
		}
	}
	s.mu.Unlock()

	for _, sched := range scheds {
		sched.pause()
	}
}

// Cancel pauses everything and discards all task state. Cancellation is
// terminal; the session cannot be restarted.
func (s *Session) Cancel() {
	s.Pause()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelled = true
	for _, t := range s.tasks {
		if t.closer != nil {
			t.closer.Close()
		}
	}
	s.tasks = make(map[string]*task)
	s.order = nil

	slog.Debug("session cancelled")
}

// Snapshot returns the current state of every tracked task, in add order.
func (s *Session) Snapshot() []Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Stats returns the session statistics accumulated so far.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// collectLocked plans chunks for and marks uploading every task in one of
// the given states. Callers must hold mu.
func (s *Session) collectLocked(states ...Status) []*task {
	var batch []*task
	for _, id := range s.order {
		t := s.tasks[id]
		for _, state := range states {
			if t.status != state {
				continue
			}
			if t.chunks == nil {
				t.chunks = planChunks(t.size, s.cfg.ChunkSize)
				t.tracker = newProgressTracker(t.size, len(t.chunks))
			}
			t.status = StatusUploading
			t.errMsg = ""
			batch = append(batch, t)
			break
		}
	}
	return batch
}

// runBatch runs one scheduler per task concurrently and waits for all of
// them, then fires the session completion callback if every task settled
// terminally.
func (s *Session) runBatch(ctx context.Context, batch []*task) {
	if len(batch) == 0 {
		s.maybeComplete()
		return
	}

	var wg sync.WaitGroup
	for _, t := range batch {
		wg.Add(1)
		go func(t *task) {
			defer wg.Done()
			s.runTask(ctx, t)
		}(t)
	}
	wg.Wait()

	s.maybeComplete()
}

// runTask drives one file through its scheduler run and, on full chunk
// completion, the finalize request.
func (s *Session) runTask(ctx context.Context, t *task) {
	meta := chunkMeta{
		fileName:    t.name,
		fileID:      t.id,
		fileSize:    t.size,
		totalChunks: len(t.chunks),
	}

	read := func(c *Chunk) ([]byte, error) {
		buf := make([]byte, c.Size())
		n, err := t.source.ReadAt(buf, c.Start)
		if int64(n) == c.Size() {
			return buf, nil
		}
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("reading chunk %d: %w", c.Index, err)
	}

	onChunkDone := func(c *Chunk) {
		if t.tracker.record(c.Size()) {
			s.emitProgress()
		}
	}

	// Seed the tracker with chunks completed in a previous run.
	var doneBytes int64
	var doneChunks int
	for _, c := range t.chunks {
		if c.Completed {
			doneBytes += c.Size()
			doneChunks++
		}
	}
	t.tracker.seed(doneBytes, doneChunks)

	sched := newScheduler(s.cfg, meta, t.chunks, s.sender, read, onChunkDone)
	s.mu.Lock()
	t.sched = sched
	s.mu.Unlock()

	slog.Debug("upload run starting",
		"file_id", t.id,
		"file_name", t.name,
		"total_chunks", len(t.chunks),
		"size", t.size,
	)

	err := sched.run(ctx)

	switch {
	case err == nil:
		_, ferr := s.sender.Finalize(ctx, &FinalizeRequest{
			FileName:    t.name,
			FileID:      t.id,
			FileSize:    t.size,
			TotalChunks: len(t.chunks),
		})
		if ferr != nil {
			s.failTask(t, fmt.Errorf("finalizing upload: %w", ferr))
			return
		}
		s.completeTask(t)

	case errors.Is(err, errPaused):
		s.mu.Lock()
		t.status = StatusPaused
		s.mu.Unlock()
		slog.Debug("upload run paused", "file_id", t.id, "file_name", t.name)

	default:
		s.failTask(t, err)
	}
}

// completeTask marks a task successful and notifies.
func (s *Session) completeTask(t *task) {
	s.mu.Lock()
	t.status = StatusCompleted
	s.stats.CompletedFiles++
	uploaded, _, _, _, _ := t.tracker.snapshot()
	s.stats.UploadedBytes += uploaded
	p := s.taskProgressLocked(t)
	s.mu.Unlock()

	if t.closer != nil {
		t.closer.Close()
	}

	slog.Info("file upload completed", "file_id", t.id, "file_name", t.name, "size", t.size)

	if s.callbacks.OnFileComplete != nil {
		s.callbacks.OnFileComplete(p)
	}
	s.emitProgress()
}

// failTask marks a task failed and notifies. Failed tasks are not retried at
// the task level; only chunks are retried, inside the scheduler.
func (s *Session) failTask(t *task, err error) {
	s.mu.Lock()
	t.status = StatusFailed
	t.errMsg = err.Error()
	s.stats.FailedFiles++
	uploaded, _, _, _, _ := t.tracker.snapshot()
	s.stats.UploadedBytes += uploaded
	p := s.taskProgressLocked(t)
	s.mu.Unlock()

	slog.Warn("file upload failed", "file_id", t.id, "file_name", t.name, "error", err)

	if s.callbacks.OnFileError != nil {
		s.callbacks.OnFileError(p, err)
	}
	s.emitProgress()
}

// maybeComplete fires the session completion callback once, when no task is
// left in a non-terminal state.
func (s *Session) maybeComplete() {
	s.mu.Lock()
	if s.completed || s.cancelled {
		s.mu.Unlock()
		return
	}
	for _, t := range s.tasks {
		if t.status != StatusCompleted && t.status != StatusFailed {
			s.mu.Unlock()
			return
		}
	}
	s.completed = true
	s.stats.EndTime = time.Now()
	s.stats.Duration = s.stats.EndTime.Sub(s.stats.StartTime)
	if s.stats.Duration > 0 {
		s.stats.AverageSpeed = float64(s.stats.UploadedBytes) / s.stats.Duration.Seconds()
	}
	stats := s.stats
	s.mu.Unlock()

	slog.Info("session completed",
		"total_files", stats.TotalFiles,
		"completed_files", stats.CompletedFiles,
		"failed_files", stats.FailedFiles,
		"uploaded_bytes", stats.UploadedBytes,
		"duration", stats.Duration,
	)

	if s.callbacks.OnComplete != nil {
		s.callbacks.OnComplete(stats)
	}
}

// emitProgress pushes a full snapshot to the progress callback.
func (s *Session) emitProgress() {
	if s.callbacks.OnProgress == nil {
		return
	}
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.callbacks.OnProgress(snap)
}

// snapshotLocked builds the per-task progress list. Callers must hold mu.
func (s *Session) snapshotLocked() []Progress {
	snap := make([]Progress, 0, len(s.order))
	for _, id := range s.order {
		snap = append(snap, s.taskProgressLocked(s.tasks[id]))
	}
	return snap
}

// taskProgressLocked builds one task's progress view. Callers must hold mu.
func (s *Session) taskProgressLocked(t *task) Progress {
	p := Progress{
		FileID:     t.id,
		FileName:   t.name,
		TotalBytes: t.size,
		Status:     t.status,
		Error:      t.errMsg,
	}
	if t.tracker != nil {
		uploaded, chunks, pct, speed, remaining := t.tracker.snapshot()
		p.UploadedBytes = uploaded
		p.CompletedChunks = chunks
		p.TotalChunks = t.tracker.totalChunks
		p.Percentage = pct
		p.Speed = speed
		p.RemainingTime = remaining
	}
	return p
}
