package uploader

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// errPaused is the terminal outcome of a run that was paused before every
// chunk completed. Callers distinguish "paused, can resume" from "failed" by
// per-chunk completion state, not by this value alone.
var errPaused = errors.New("upload paused")

// chunkMeta is the per-file context attached to every chunk request.
type chunkMeta struct {
	fileName    string
	fileID      string
	fileSize    int64
	totalChunks int
}

// scheduler drives one file-upload run: it admits up to maxConcurrency
// concurrent transport calls, requeues failed chunks at the back of the queue
// up to maxRetries attempts each, and settles exactly once when no work can
// make further progress.
//
// All mutable state is guarded by mu and mutated only inside the scheduler's
// own event handlers.
type scheduler struct {
	sender ChunkSender
	read   func(*Chunk) ([]byte, error)
	meta   chunkMeta

	maxConcurrency int
	maxRetries     int
	retryDelay     time.Duration

	onChunkDone func(*Chunk)

	mu        sync.Mutex
	queue     []*Chunk
	active    int
	completed int
	total     int
	paused    bool
	failure   error
	settled   bool
	outcome   error
	cancels   map[int]context.CancelFunc
	done      chan struct{}
	ctx       context.Context
}

// newScheduler prepares a run over the given chunks. Chunks already marked
// completed (a resumed upload) are counted but not enqueued.
func newScheduler(cfg Config, meta chunkMeta, chunks []*Chunk, sender ChunkSender, read func(*Chunk) ([]byte, error), onChunkDone func(*Chunk)) *scheduler {
	s := &scheduler{
		sender:         sender,
		read:           read,
		meta:           meta,
		maxConcurrency: cfg.MaxConcurrentUploads,
		maxRetries:     cfg.MaxRetries,
		retryDelay:     cfg.RetryDelay,
		onChunkDone:    onChunkDone,
		total:          len(chunks),
		cancels:        make(map[int]context.CancelFunc),
		done:           make(chan struct{}),
	}

	for _, c := range chunks {
		if c.Completed {
			s.completed++
			continue
		}
		s.queue = append(s.queue, c)
	}

	return s
}

// run blocks until the run settles. It returns nil when every chunk
// completed, errPaused when the run was paused short of completion, or the
// first recorded chunk failure otherwise.
func (s *scheduler) run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.fill()
	s.checkSettle()
	s.mu.Unlock()

	<-s.done
	return s.outcome
}

// pause stops admitting new work and aborts every in-flight transport call.
// Already-dispatched calls still decrement the active count, so the run
// settles instead of hanging.
func (s *scheduler) pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused || s.settled {
		return
	}
	s.paused = true

	for _, cancel := range s.cancels {
		cancel()
	}

	// Nothing in flight: settle now, there will be no further events.
	s.checkSettle()
}

// fill admits work while capacity remains. Callers must hold mu.
func (s *scheduler) fill() {
	for s.active < s.maxConcurrency && len(s.queue) > 0 && !s.paused && s.failure == nil {
		chunk := s.queue[0]
		s.queue = s.queue[1:]
		s.active++

		callCtx, cancel := context.WithCancel(s.ctx)
		s.cancels[chunk.Index] = cancel

		go s.transfer(callCtx, cancel, chunk)
	}
}

// transfer performs one transport attempt for a chunk, including the backoff
// suspension that precedes a retried chunk's call.
func (s *scheduler) transfer(ctx context.Context, cancel context.CancelFunc, chunk *Chunk) {
	defer cancel()

	err := s.attempt(ctx, chunk)
	s.onTransferDone(chunk, err)
}

// attempt sleeps out the chunk's backoff, reads its bytes and sends them.
func (s *scheduler) attempt(ctx context.Context, chunk *Chunk) error {
	if chunk.Attempts > 0 {
		delay := time.Duration(chunk.Attempts) * s.retryDelay
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	data, err := s.read(chunk)
	if err != nil {
		return err
	}

	return s.sender.SendChunk(ctx, &ChunkRequest{
		FileName:    s.meta.fileName,
		FileID:      s.meta.fileID,
		ChunkIndex:  chunk.Index,
		TotalChunks: s.meta.totalChunks,
		FileSize:    s.meta.fileSize,
		Data:        data,
	})
}

// onTransferDone is the single event handler for a finished transport call.
// The completion check in checkSettle runs unconditionally after every event,
// before any failure short-circuit, so a run that fails after some chunks
// already finished still settles instead of hanging.
func (s *scheduler) onTransferDone(chunk *Chunk, err error) {
	s.mu.Lock()

	delete(s.cancels, chunk.Index)

	var notify *Chunk
	switch {
	case err == nil:
		chunk.Completed = true
		s.completed++
		notify = chunk

	case s.paused && errors.Is(err, context.Canceled):
		// Aborted by pause, not a transport failure: the chunk stays
		// pending for resume without consuming a retry attempt.
		s.queue = append(s.queue, chunk)

	default:
		if chunk.Attempts < s.maxRetries && !permanentFailure(err) {
			chunk.Attempts++
			// Back of the queue: other chunks get a chance first.
			s.queue = append(s.queue, chunk)
		} else if s.failure == nil {
			// First failure wins; later failures never overwrite it.
			s.failure = &ChunkUploadError{
				FileID:     s.meta.fileID,
				ChunkIndex: chunk.Index,
				Attempts:   chunk.Attempts + 1,
				Err:        err,
			}
			slog.Debug("chunk retries exhausted",
				"file_id", s.meta.fileID,
				"chunk_index", chunk.Index,
				"attempts", chunk.Attempts+1,
				"error", err,
			)
		}
	}

	s.active--
	s.fill()
	s.checkSettle()
	s.mu.Unlock()

	if notify != nil && s.onChunkDone != nil {
		s.onChunkDone(notify)
	}
}

// permanentFailure reports whether a transport error is a server-side
// rejection that retrying cannot fix. Validation rejections (4xx) are in
// this class; timeouts and 5xx responses are not.
func permanentFailure(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == 408 || apiErr.StatusCode == 429 {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}

// checkSettle resolves the run once no further events can arrive: nothing in
// flight, and either the queue is drained or admission is shut off (pause or
// recorded failure). Completion is consulted before the failure flag.
// Callers must hold mu.
func (s *scheduler) checkSettle() {
	if s.settled || s.active > 0 {
		return
	}
	if len(s.queue) > 0 && !s.paused && s.failure == nil {
		return
	}

	s.settled = true

	switch {
	case s.completed == s.total:
		s.outcome = nil
	case s.failure != nil:
		s.outcome = s.failure
	default:
		s.outcome = errPaused
	}

	close(s.done)
}
