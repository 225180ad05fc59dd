package uploader

import "time"

// Configuration floors and clamps. Values below a floor are raised to it
// rather than rejected, so a zero-value Config is always usable.
const (
	// MinChunkSize is the smallest allowed chunk size (64 KiB). Smaller
	// chunks produce pathological request counts for large files.
	MinChunkSize = 64 * 1024

	// DefaultChunkSize is used when Config.ChunkSize is zero (1 MiB).
	DefaultChunkSize = 1024 * 1024

	// MaxConcurrency is the upper clamp for concurrent chunk transfers
	// per file.
	MaxConcurrency = 10

	// DefaultConcurrency is used when Config.MaxConcurrentUploads is zero.
	DefaultConcurrency = 3

	// DefaultMaxRetries is used when Config.MaxRetries is negative.
	DefaultMaxRetries = 3

	// MinRetryDelay is the smallest base delay between retry attempts.
	MinRetryDelay = 100 * time.Millisecond

	// DefaultRetryDelay is used when Config.RetryDelay is zero.
	DefaultRetryDelay = 500 * time.Millisecond

	// MinTimeout is the smallest per-chunk request timeout.
	MinTimeout = time.Second

	// DefaultTimeout is used when Config.Timeout is zero.
	DefaultTimeout = 30 * time.Second
)

// Config controls chunking, concurrency and transport behavior for a Session.
// The zero value is valid; all fields fall back to documented defaults.
type Config struct {
	// Endpoint is the upload URL chunks and finalize requests are sent to.
	Endpoint string

	// ChunkSize is the size of each chunk in bytes.
	ChunkSize int64

	// MaxConcurrentUploads bounds simultaneously in-flight chunk
	// transfers per file. Clamped to [1, MaxConcurrency].
	MaxConcurrentUploads int

	// MaxRetries is the number of additional transport attempts a failed
	// chunk is given before the file upload is marked failed.
	MaxRetries int

	// RetryDelay is the base backoff delay. A chunk's n-th retry waits
	// n*RetryDelay before its next transport call.
	RetryDelay time.Duration

	// Timeout bounds each individual chunk or finalize request.
	Timeout time.Duration

	// Headers are added to every request.
	Headers map[string]string

	// WithCredentials controls whether cookies are sent with requests.
	WithCredentials bool
}

// normalize returns a copy with floors and clamps applied.
func (c Config) normalize() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	} else if c.ChunkSize < MinChunkSize {
		c.ChunkSize = MinChunkSize
	}

	if c.MaxConcurrentUploads <= 0 {
		c.MaxConcurrentUploads = DefaultConcurrency
	} else if c.MaxConcurrentUploads > MaxConcurrency {
		c.MaxConcurrentUploads = MaxConcurrency
	}

	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}

	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	} else if c.RetryDelay < MinRetryDelay {
		c.RetryDelay = MinRetryDelay
	}

	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	} else if c.Timeout < MinTimeout {
		c.Timeout = MinTimeout
	}

	return c
}
