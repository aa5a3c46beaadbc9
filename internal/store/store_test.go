package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/TerraScore/TerraScore/internal/db"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return New(conn), conn
}

func testTask(jobID, stepID string) UploadTask {
	return UploadTask{
		JobID:       jobID,
		StepID:      stepID,
		FilePath:    "/tmp/" + stepID + ".jpg",
		ContentType: "image/jpeg",
		ContentHash: "deadbeef",
		ByteSize:    1024,
		Lat:         12.97,
		Lng:         77.59,
		CapturedAt:  time.Now().UTC(),
	}
}

func TestEnqueueUploadDefaults(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.EnqueueUpload(ctx, testTask("job-1", "step-1"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected auto id")
	}

	pending, err := s.PendingUploads(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending task, got %d", len(pending))
	}
	if pending[0].Status != StatusPending || pending[0].RetryCount != 0 {
		t.Fatalf("unexpected defaults: %+v", pending[0])
	}
}

func TestPendingUploadsFIFO(t *testing.T) {
	s, conn := newTestStore(t)
	ctx := context.Background()

	for i, step := range []string{"a", "b", "c"} {
		id, err := s.EnqueueUpload(ctx, testTask("job-1", step))
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		// spread created_at so ordering is exercised, not just insertion order
		_, err = conn.Exec(`UPDATE upload_queue SET created_at = datetime('now', ?) WHERE id = ?`,
			fmt.Sprintf("%d hours", -3+i), id)
		if err != nil {
			t.Fatalf("backdate: %v", err)
		}
	}

	pending, err := s.PendingUploads(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(pending))
	}
	for i, step := range []string{"a", "b", "c"} {
		if pending[i].StepID != step {
			t.Fatalf("expected FIFO order, got %v", pending)
		}
	}
}

func TestMarkUploadStatusDone(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, _ := s.EnqueueUpload(ctx, testTask("job-1", "step-1"))
	if err := s.MarkUploadStatus(ctx, id, StatusFailed, ""); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := s.MarkUploadStatus(ctx, id, StatusDone, "media/abc"); err != nil {
		t.Fatalf("mark done: %v", err)
	}

	counts, err := s.QueueCounts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[StatusDone] != 1 {
		t.Fatalf("expected 1 done task, got %v", counts)
	}

	pending, _ := s.PendingUploads(ctx)
	if len(pending) != 0 {
		t.Fatalf("done task must not be pending")
	}
}

func TestMarkDoneRequiresRemoteKey(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, _ := s.EnqueueUpload(ctx, testTask("job-1", "step-1"))
	if err := s.MarkUploadStatus(ctx, id, StatusDone, ""); err == nil {
		t.Fatalf("expected error for done without remote key")
	}

	pending, _ := s.PendingUploads(ctx)
	if len(pending) != 1 || pending[0].Status != StatusPending || pending[0].RetryCount != 0 {
		t.Fatalf("rejected transition must not touch the task, got %+v", pending)
	}
}

func TestMarkUploadingDoesNotBurnRetry(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, _ := s.EnqueueUpload(ctx, testTask("job-1", "step-1"))
	if err := s.MarkUploadStatus(ctx, id, StatusUploading, ""); err != nil {
		t.Fatalf("mark uploading: %v", err)
	}
	if err := s.MarkUploadStatus(ctx, id, StatusFailed, ""); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	pending, _ := s.PendingUploads(ctx)
	if len(pending) != 1 {
		t.Fatalf("expected task still retryable")
	}
	if pending[0].RetryCount != 1 {
		t.Fatalf("expected retry_count 1, got %d", pending[0].RetryCount)
	}
}

func TestRetryCeilingExcludesTask(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, _ := s.EnqueueUpload(ctx, testTask("job-1", "step-1"))
	for i := 0; i < MaxRetries; i++ {
		if err := s.MarkUploadStatus(ctx, id, StatusFailed, ""); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
	}

	pending, err := s.PendingUploads(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("task at retry ceiling must be excluded, got %v", pending)
	}
}

func TestResetStalledUploads(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, _ := s.EnqueueUpload(ctx, testTask("job-1", "step-1"))
	_ = s.MarkUploadStatus(ctx, id, StatusUploading, "")

	pending, _ := s.PendingUploads(ctx)
	if len(pending) != 0 {
		t.Fatalf("uploading task must not be pending")
	}

	n, err := s.ResetStalledUploads(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reset task, got %d", n)
	}

	pending, _ = s.PendingUploads(ctx)
	if len(pending) != 1 || pending[0].Status != StatusFailed || pending[0].RetryCount != 1 {
		t.Fatalf("expected failed retryable task, got %v", pending)
	}
}

func TestClearCompletedUploads(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	done, _ := s.EnqueueUpload(ctx, testTask("job-1", "step-1"))
	_ = s.MarkUploadStatus(ctx, done, StatusDone, "media/abc")
	_, _ = s.EnqueueUpload(ctx, testTask("job-1", "step-2"))
	otherDone, _ := s.EnqueueUpload(ctx, testTask("job-2", "step-1"))
	_ = s.MarkUploadStatus(ctx, otherDone, StatusDone, "media/def")

	if err := s.ClearCompletedUploads(context.Background(), "job-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	counts, _ := s.QueueCounts(ctx)
	if counts[StatusDone] != 1 {
		t.Fatalf("expected other job's done task kept, got %v", counts)
	}
	if counts[StatusPending] != 1 {
		t.Fatalf("expected pending task kept, got %v", counts)
	}
}

func TestDraftUpsert(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	d := Draft{JobID: "job-1", TemplateID: "tmpl-1", ResponsesJSON: `{}`, GPSTrailJSON: `[]`, StartedAt: started}
	if err := s.SaveDraft(ctx, d); err != nil {
		t.Fatalf("save: %v", err)
	}

	d.ResponsesJSON = `{"step-1":{"completed":true}}`
	if err := s.SaveDraft(ctx, d); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetDraft(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ResponsesJSON != d.ResponsesJSON {
		t.Fatalf("expected replaced responses, got %s", got.ResponsesJSON)
	}
	if !got.StartedAt.Equal(started) {
		t.Fatalf("expected started_at %v, got %v", started, got.StartedAt)
	}

	n, err := s.DraftCount(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected single draft, got %d (%v)", n, err)
	}
}

func TestGetDraftNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.GetDraft(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteDraft(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_ = s.SaveDraft(ctx, Draft{JobID: "job-1", TemplateID: "tmpl-1", ResponsesJSON: `{}`, GPSTrailJSON: `[]`, StartedAt: time.Now()})
	if err := s.DeleteDraft(ctx, "job-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetDraft(ctx, "job-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected draft gone, got %v", err)
	}
}

func TestLocationBuffer(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// inserted out of order; read back must be timestamp ascending
	for _, ts := range []int64{300, 100, 200} {
		if err := s.BufferLocation(ctx, LocationSample{Lat: 1, Lng: 2, Accuracy: 5, Timestamp: ts}); err != nil {
			t.Fatalf("buffer: %v", err)
		}
	}

	samples, err := s.BufferedLocations(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	for i, want := range []int64{100, 200, 300} {
		if samples[i].Timestamp != want {
			t.Fatalf("expected ascending order, got %v", samples)
		}
	}

	if err := s.ClearLocationBuffer(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	samples, _ = s.BufferedLocations(ctx)
	if len(samples) != 0 {
		t.Fatalf("expected empty buffer")
	}
}
