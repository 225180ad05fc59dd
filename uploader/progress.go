package uploader

import (
	"sync"
	"time"
)

// minSampleInterval throttles progress emission. Back-to-back chunk
// completions inside one interval update counters but produce no new sample,
// which avoids noisy speed figures from near-zero elapsed times.
const minSampleInterval = 100 * time.Millisecond

// Progress is a point-in-time view of one file's upload.
type Progress struct {
	// FileID is the upload id of the task.
	FileID string
	// FileName is the original file name.
	FileName string
	// TotalBytes is the file size.
	TotalBytes int64
	// UploadedBytes is the byte total of completed chunks.
	UploadedBytes int64
	// Percentage is the completion percentage, 0-100.
	Percentage int
	// CompletedChunks is the number of chunks confirmed by the server.
	CompletedChunks int
	// TotalChunks is the planned chunk count.
	TotalChunks int
	// Speed is the current throughput in bytes per second.
	Speed float64
	// RemainingTime estimates time to completion. Zero with zero Speed
	// means "unknown", not "done".
	RemainingTime time.Duration
	// Status is the task's current lifecycle state.
	Status Status
	// Error holds the task's failure message, if any.
	Error string
}

// progressTracker aggregates chunk completions for one file into throughput
// and ETA figures, sampled no more often than minSampleInterval.
type progressTracker struct {
	mu sync.Mutex

	now func() time.Time

	totalBytes      int64
	uploadedBytes   int64
	completedChunks int
	totalChunks     int

	lastSampleTime  time.Time
	lastSampleBytes int64
	speed           float64
}

func newProgressTracker(totalBytes int64, totalChunks int) *progressTracker {
	return &progressTracker{
		now:         time.Now,
		totalBytes:  totalBytes,
		totalChunks: totalChunks,
	}
}

// seed accounts for chunks that were already completed before this run
// (a resumed upload) without producing a speed sample.
func (p *progressTracker) seed(bytes int64, chunks int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.uploadedBytes = bytes
	p.completedChunks = chunks
	p.lastSampleBytes = bytes
}

// record adds one completed chunk and reports whether a fresh sample was
// taken. The final chunk always samples so callers see the 100% figure.
func (p *progressTracker) record(chunkBytes int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.uploadedBytes += chunkBytes
	p.completedChunks++

	now := p.now()
	final := p.completedChunks == p.totalChunks

	if p.lastSampleTime.IsZero() {
		p.lastSampleTime = now
		p.lastSampleBytes = p.uploadedBytes
		return true
	}

	elapsed := now.Sub(p.lastSampleTime)
	if elapsed < minSampleInterval && !final {
		return false
	}

	if elapsed > 0 {
		p.speed = float64(p.uploadedBytes-p.lastSampleBytes) / elapsed.Seconds()
	}
	p.lastSampleTime = now
	p.lastSampleBytes = p.uploadedBytes

	return true
}

// snapshot returns the current figures.
func (p *progressTracker) snapshot() (uploadedBytes int64, completedChunks int, percentage int, speed float64, remaining time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.totalBytes > 0 {
		percentage = int(float64(p.uploadedBytes) / float64(p.totalBytes) * 100)
	}

	remainingBytes := p.totalBytes - p.uploadedBytes
	if p.speed > 0 && remainingBytes > 0 {
		remaining = time.Duration(float64(remainingBytes) / p.speed * float64(time.Second))
	}

	return p.uploadedBytes, p.completedChunks, percentage, p.speed, remaining
}
