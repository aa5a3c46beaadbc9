package sync

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/TerraScore/TerraScore/internal/api"
	"github.com/TerraScore/TerraScore/internal/store"
	"github.com/TerraScore/TerraScore/internal/survey"
	"github.com/TerraScore/TerraScore/internal/upload"
)

type syncAPI interface {
	SubmitSurvey(ctx context.Context, jobID string, sub api.SurveySubmission) error
	UpdateLocation(ctx context.Context, loc api.LocationUpdate) error
}

// Orchestrator drains the durable queues when connectivity allows: buffered
// location fixes first, then queued media, then any draft whose media has all
// landed. At most one pass runs at a time; overlapping triggers are dropped,
// not queued.
type Orchestrator struct {
	store    *store.Store
	client   syncAPI
	pipeline upload.Pipeline
	log      *logrus.Logger

	running atomic.Bool
}

func NewOrchestrator(st *store.Store, client syncAPI, pipeline upload.Pipeline, log *logrus.Logger) *Orchestrator {
	return &Orchestrator{store: st, client: client, pipeline: pipeline, log: log}
}

// Start recovers queue state left behind by a crash and runs an initial
// pass. Tasks stranded mid-transfer count the interruption as one failed
// attempt.
func (o *Orchestrator) Start(ctx context.Context) error {
	n, err := o.store.ResetStalledUploads(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		o.log.WithField("count", n).Warn("recovered uploads stranded mid-transfer")
	}
	o.RunSync(ctx)
	return nil
}

// Running reports whether a pass is in flight.
func (o *Orchestrator) Running() bool { return o.running.Load() }

// RunSync performs one full pass. It reports false when a pass was already
// in flight. Individual failures are logged and skipped so one bad task
// cannot wedge the rest of the queue.
func (o *Orchestrator) RunSync(ctx context.Context) bool {
	if !o.running.CompareAndSwap(false, true) {
		o.log.Debug("sync already running, trigger dropped")
		return false
	}
	defer o.running.Store(false)

	o.flushLocationBuffer(ctx)
	o.retryPendingUploads(ctx)
	o.submitReadyDrafts(ctx)
	return true
}

// flushLocationBuffer reports only the freshest fix; the service tracks
// current position, not movement history. The whole buffer clears on
// success.
func (o *Orchestrator) flushLocationBuffer(ctx context.Context) {
	samples, err := o.store.BufferedLocations(ctx)
	if err != nil {
		o.log.WithError(err).Warn("read location buffer failed")
		return
	}
	if len(samples) == 0 {
		return
	}

	latest := samples[len(samples)-1]
	err = o.client.UpdateLocation(ctx, api.LocationUpdate{
		Lat:      latest.Lat,
		Lng:      latest.Lng,
		Accuracy: latest.Accuracy,
	})
	if err != nil {
		o.log.WithError(err).Warn("location update failed, keeping buffer")
		return
	}
	if err := o.store.ClearLocationBuffer(ctx); err != nil {
		o.log.WithError(err).Warn("clear location buffer failed")
	}
}

func (o *Orchestrator) retryPendingUploads(ctx context.Context) {
	tasks, err := o.store.PendingUploads(ctx)
	if err != nil {
		o.log.WithError(err).Warn("read upload queue failed")
		return
	}

	for _, task := range tasks {
		if ctx.Err() != nil {
			return
		}
		o.uploadOne(ctx, task)
	}
}

func (o *Orchestrator) uploadOne(ctx context.Context, task store.UploadTask) {
	log := o.log.WithFields(logrus.Fields{"task_id": task.ID, "job_id": task.JobID, "step_id": task.StepID})

	if err := o.store.MarkUploadStatus(ctx, task.ID, store.StatusUploading, ""); err != nil {
		log.WithError(err).Warn("mark uploading failed")
		return
	}

	key, err := o.pipeline.Upload(ctx, task)
	if err != nil {
		log.WithError(err).WithField("attempt", task.RetryCount+1).Warn("upload failed")
		if err := o.store.MarkUploadStatus(ctx, task.ID, store.StatusFailed, ""); err != nil {
			log.WithError(err).Warn("mark failed failed")
		}
		return
	}

	if err := o.store.MarkUploadStatus(ctx, task.ID, store.StatusDone, key); err != nil {
		log.WithError(err).Warn("mark done failed")
		return
	}
	log.WithField("remote_key", key).Info("media uploaded")
}

// submitReadyDrafts submits every stored draft whose media queue is empty,
// then clears the draft and its finished queue rows. It walks all drafts,
// not just jobs the upload pass touched, so a draft that never queued any
// media still goes out.
func (o *Orchestrator) submitReadyDrafts(ctx context.Context) {
	jobIDs, err := o.store.DraftJobIDs(ctx)
	if err != nil {
		o.log.WithError(err).Warn("list drafts failed")
		return
	}

	for _, jobID := range jobIDs {
		if ctx.Err() != nil {
			return
		}
		o.submitDraft(ctx, jobID)
	}
}

func (o *Orchestrator) submitDraft(ctx context.Context, jobID string) {
	log := o.log.WithField("job_id", jobID)

	remaining, err := o.store.PendingUploadsForJob(ctx, jobID)
	if err != nil {
		log.WithError(err).Warn("check job queue failed")
		return
	}
	if len(remaining) > 0 {
		log.WithField("remaining", len(remaining)).Debug("draft not ready, media still queued")
		return
	}

	draft, err := o.store.GetDraft(ctx, jobID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.WithError(err).Warn("load draft failed")
		}
		return
	}

	responses, trail, err := survey.ParseDraft(draft)
	if err != nil {
		log.WithError(err).Error("draft unreadable, leaving for inspection")
		return
	}
	sub, err := survey.BuildSubmission(draft.TemplateID, responses, trail, draft.StartedAt, draft.UpdatedAt)
	if err != nil {
		log.WithError(err).Error("build submission failed")
		return
	}

	if err := o.client.SubmitSurvey(ctx, jobID, sub); err != nil {
		log.WithError(err).Warn("submit survey failed, draft kept")
		return
	}

	if err := o.store.DeleteDraft(ctx, jobID); err != nil {
		log.WithError(err).Warn("delete draft failed")
	}
	if err := o.store.ClearCompletedUploads(ctx, jobID); err != nil {
		log.WithError(err).Warn("clear completed uploads failed")
	}
	log.Info("offline survey submitted")
}
