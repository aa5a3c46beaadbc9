package upload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TerraScore/TerraScore/internal/api"
	"github.com/TerraScore/TerraScore/internal/store"
)

// Upload stages, in order.
const (
	StagePresign  = "presign"
	StageTransfer = "transfer"
	StageRegister = "register"
)

// Failure wraps an upload error with the stage it happened in. The task
// itself is never mutated here; the caller decides what the failure means
// for the queue.
type Failure struct {
	Stage string
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("upload %s: %v", f.Stage, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Pipeline transfers one queued media file and returns its remote key.
type Pipeline interface {
	Upload(ctx context.Context, task store.UploadTask) (string, error)
}

type mediaAPI interface {
	PresignMedia(ctx context.Context, jobID, contentType, stepID string) (api.PresignedURL, error)
	RegisterMedia(ctx context.Context, jobID string, reg api.MediaRegistration) (api.Media, error)
	UploadMediaMultipart(ctx context.Context, jobID string, up api.MultipartUpload) (api.Media, error)
}

func mediaTypeOf(contentType string) string {
	if strings.HasPrefix(contentType, "video/") {
		return "video"
	}
	return "photo"
}

// PresignedPipeline uploads straight to object storage: fetch a presigned
// destination, PUT the bytes, then register the object with the service.
type PresignedPipeline struct {
	api  mediaAPI
	http *http.Client
}

func NewPresignedPipeline(client mediaAPI) *PresignedPipeline {
	return &PresignedPipeline{
		api:  client,
		http: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (p *PresignedPipeline) Upload(ctx context.Context, task store.UploadTask) (string, error) {
	presigned, err := p.api.PresignMedia(ctx, task.JobID, task.ContentType, task.StepID)
	if err != nil {
		return "", &Failure{Stage: StagePresign, Err: err}
	}

	if err := p.put(ctx, presigned.UploadURL, task); err != nil {
		return "", &Failure{Stage: StageTransfer, Err: err}
	}

	_, err = p.api.RegisterMedia(ctx, task.JobID, api.MediaRegistration{
		RemoteKey:   presigned.RemoteKey,
		StepID:      task.StepID,
		MediaType:   mediaTypeOf(task.ContentType),
		Lat:         task.Lat,
		Lng:         task.Lng,
		ContentHash: task.ContentHash,
		ByteSize:    task.ByteSize,
		CapturedAt:  task.CapturedAt,
	})
	if err != nil {
		return "", &Failure{Stage: StageRegister, Err: err}
	}
	return presigned.RemoteKey, nil
}

func (p *PresignedPipeline) put(ctx context.Context, url string, task store.UploadTask) error {
	f, err := os.Open(task.FilePath)
	if err != nil {
		return err
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, f)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", task.ContentType)
	req.ContentLength = task.ByteSize

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("storage put: status %d", resp.StatusCode)
	}
	return nil
}

// MultipartPipeline sends bytes and metadata through the service in one
// request. Slower than the presigned path but works when object storage is
// not reachable directly.
type MultipartPipeline struct {
	api mediaAPI
}

func NewMultipartPipeline(client mediaAPI) *MultipartPipeline {
	return &MultipartPipeline{api: client}
}

func (p *MultipartPipeline) Upload(ctx context.Context, task store.UploadTask) (string, error) {
	f, err := os.Open(task.FilePath)
	if err != nil {
		return "", &Failure{Stage: StageTransfer, Err: err}
	}
	defer f.Close()

	media, err := p.api.UploadMediaMultipart(ctx, task.JobID, api.MultipartUpload{
		StepID:     task.StepID,
		File:       f,
		FileName:   filepath.Base(task.FilePath),
		MediaType:  mediaTypeOf(task.ContentType),
		Lat:        task.Lat,
		Lng:        task.Lng,
		CapturedAt: task.CapturedAt,
	})
	if err != nil {
		return "", &Failure{Stage: StageTransfer, Err: err}
	}
	return media.RemoteKey, nil
}
