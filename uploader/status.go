package uploader

// Status is a file upload task's lifecycle state.
type Status string

// Task statuses. Pending moves to Uploading when a run starts. Completed and
// Failed are terminal for an upload attempt; Paused is re-enterable into
// Uploading via resume.
const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPaused    Status = "paused"
)
