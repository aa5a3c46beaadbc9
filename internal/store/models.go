package store

import "time"

// Upload task lifecycle states.
const (
	StatusPending   = "pending"
	StatusUploading = "uploading"
	StatusDone      = "done"
	StatusFailed    = "failed"
)

// MaxRetries is the ceiling after which a task is excluded from automatic retry.
const MaxRetries = 3

// UploadTask is a durable record representing one not-yet-confirmed media upload.
type UploadTask struct {
	ID          int64     `json:"id"`
	JobID       string    `json:"job_id"`
	StepID      string    `json:"step_id"`
	FilePath    string    `json:"file_path"`
	RemoteKey   string    `json:"remote_key,omitempty"`
	ContentType string    `json:"content_type"`
	ContentHash string    `json:"content_hash"`
	ByteSize    int64     `json:"byte_size"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	CapturedAt  time.Time `json:"captured_at"`
	Status      string    `json:"status"`
	RetryCount  int       `json:"retry_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Draft is a durable snapshot of an in-progress survey saved because online
// submission was not possible at capture time. At most one exists per job.
type Draft struct {
	JobID         string    `json:"job_id"`
	TemplateID    string    `json:"template_id"`
	ResponsesJSON string    `json:"responses_json"`
	GPSTrailJSON  string    `json:"gps_trail_json"`
	StartedAt     time.Time `json:"started_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LocationSample is one buffered position fix awaiting flush.
type LocationSample struct {
	ID        int64   `json:"id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds
}
