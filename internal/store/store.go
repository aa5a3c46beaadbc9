package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/TerraScore/TerraScore/internal/db"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

type Store struct {
	db db.Querier
}

func New(db db.Querier) *Store {
	return &Store{db: db}
}

// EnqueueUpload inserts a new upload task in the pending state and returns its id.
func (s *Store) EnqueueUpload(ctx context.Context, t UploadTask) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO upload_queue (job_id, step_id, file_path, content_type, content_hash, byte_size, lat, lng, captured_at, status, retry_count)
		VALUES (?,?,?,?,?,?,?,?,?,'pending',0)
	`, t.JobID, t.StepID, t.FilePath, t.ContentType, t.ContentHash, t.ByteSize, t.Lat, t.Lng, t.CapturedAt.UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// PendingUploads returns tasks still eligible for automatic retry, oldest first.
func (s *Store) PendingUploads(ctx context.Context) ([]UploadTask, error) {
	return s.queryTasks(ctx, `
		SELECT id, job_id, step_id, file_path, COALESCE(remote_key,''), content_type, content_hash, byte_size, lat, lng, captured_at, status, retry_count, created_at
		FROM upload_queue
		WHERE status IN ('pending','failed') AND retry_count < ?
		ORDER BY created_at ASC, id ASC
	`, MaxRetries)
}

// PendingUploadsForJob returns the eligible tasks for a single job, oldest first.
func (s *Store) PendingUploadsForJob(ctx context.Context, jobID string) ([]UploadTask, error) {
	return s.queryTasks(ctx, `
		SELECT id, job_id, step_id, file_path, COALESCE(remote_key,''), content_type, content_hash, byte_size, lat, lng, captured_at, status, retry_count, created_at
		FROM upload_queue
		WHERE job_id = ? AND status IN ('pending','failed') AND retry_count < ?
		ORDER BY created_at ASC, id ASC
	`, jobID, MaxRetries)
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]UploadTask, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []UploadTask
	for rows.Next() {
		var t UploadTask
		if err := rows.Scan(&t.ID, &t.JobID, &t.StepID, &t.FilePath, &t.RemoteKey, &t.ContentType, &t.ContentHash, &t.ByteSize, &t.Lat, &t.Lng, &t.CapturedAt, &t.Status, &t.RetryCount, &t.CreatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// MarkUploadStatus transitions a task. Marking done requires the remote key
// and leaves retry_count untouched; marking failed increments it. The
// dispatch transition to uploading touches neither.
func (s *Store) MarkUploadStatus(ctx context.Context, id int64, status, remoteKey string) error {
	var err error
	switch status {
	case StatusDone:
		if remoteKey == "" {
			return errors.New("done requires a remote key")
		}
		_, err = s.db.ExecContext(ctx, `UPDATE upload_queue SET status = ?, remote_key = ? WHERE id = ?`, status, remoteKey, id)
	case StatusUploading:
		_, err = s.db.ExecContext(ctx, `UPDATE upload_queue SET status = ? WHERE id = ?`, status, id)
	default:
		_, err = s.db.ExecContext(ctx, `UPDATE upload_queue SET status = ?, retry_count = retry_count + 1 WHERE id = ?`, status, id)
	}
	return err
}

// ResetStalledUploads returns tasks stranded in the uploading state by a crash
// mid-transfer to failed, so the next sync pass can see them again. The retry
// ceiling still applies.
func (s *Store) ResetStalledUploads(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE upload_queue SET status = 'failed', retry_count = retry_count + 1 WHERE status = 'uploading'
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClearCompletedUploads deletes done tasks for a job after its draft was submitted.
func (s *Store) ClearCompletedUploads(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM upload_queue WHERE job_id = ? AND status = 'done'`, jobID)
	return err
}

// QueueCounts returns the number of tasks per lifecycle state.
func (s *Store) QueueCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM upload_queue GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// SaveDraft upserts the draft for its job.
func (s *Store) SaveDraft(ctx context.Context, d Draft) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO survey_draft (job_id, template_id, responses_json, gps_trail_json, started_at, updated_at)
		VALUES (?,?,?,?,?,datetime('now'))
	`, d.JobID, d.TemplateID, d.ResponsesJSON, d.GPSTrailJSON, d.StartedAt.UTC())
	return err
}

func (s *Store) GetDraft(ctx context.Context, jobID string) (Draft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, template_id, responses_json, gps_trail_json, started_at, updated_at
		FROM survey_draft WHERE job_id = ?
	`, jobID)

	var d Draft
	var startedAt sql.NullTime
	if err := row.Scan(&d.JobID, &d.TemplateID, &d.ResponsesJSON, &d.GPSTrailJSON, &startedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Draft{}, ErrNotFound
		}
		return Draft{}, err
	}
	d.StartedAt = startedAt.Time
	return d, nil
}

func (s *Store) DeleteDraft(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM survey_draft WHERE job_id = ?`, jobID)
	return err
}

// DraftJobIDs lists every job with a stored draft, oldest first.
func (s *Store) DraftJobIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT job_id FROM survey_draft ORDER BY updated_at ASC, job_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) DraftCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM survey_draft`).Scan(&n)
	return n, err
}

// BufferLocation appends one position fix to the local buffer.
func (s *Store) BufferLocation(ctx context.Context, sample LocationSample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO location_buffer (lat, lng, accuracy, timestamp) VALUES (?,?,?,?)
	`, sample.Lat, sample.Lng, sample.Accuracy, sample.Timestamp)
	return err
}

// BufferedLocations returns all buffered fixes ordered by capture time.
func (s *Store) BufferedLocations(ctx context.Context) ([]LocationSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lat, lng, accuracy, timestamp FROM location_buffer ORDER BY timestamp ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []LocationSample
	for rows.Next() {
		var ls LocationSample
		if err := rows.Scan(&ls.ID, &ls.Lat, &ls.Lng, &ls.Accuracy, &ls.Timestamp); err != nil {
			return nil, err
		}
		samples = append(samples, ls)
	}
	return samples, rows.Err()
}

func (s *Store) ClearLocationBuffer(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM location_buffer`)
	return err
}
