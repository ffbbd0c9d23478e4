package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ortaizi/unisync/internal/domain/model"
	"github.com/ortaizi/unisync/internal/domain/port/driven"
)

// errJobCancelled aborts a pipeline run when the job was cancelled externally.
var errJobCancelled = errors.New("sync job cancelled")

// defaultHistoryLimit and maxHistoryLimit bound History paging.
const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// pruneKeep is how many terminal jobs Prune retains per user.
const pruneKeep = 5

// Credentials is the decrypted pair handed to the pipeline for the duration
// of one run. It is never persisted.
type Credentials struct {
	Username      string
	Password      string
	InstitutionID string
}

// StageRunner executes one pipeline stage: it receives the credentials and
// the accumulated stage data and returns the enriched data. The orchestrator
// is agnostic to what a stage actually does.
type StageRunner func(ctx context.Context, creds Credentials, data model.StageData) (model.StageData, error)

// Stage pairs a pipeline status with the worker that produces it and the
// progress/message reported while it runs.
type Stage struct {
	Status   model.SyncStatus
	Progress int
	Message  string
	Run      StageRunner
}

// HistoryPage is one page of a user's job history.
type HistoryPage struct {
	Jobs   []model.SyncJob
	Total  int
	Limit  int
	Offset int
}

// SyncService creates, advances, and reports on per-user background sync
// jobs. Triggering is fire-and-forget: the pipeline runs detached and callers
// observe progress by polling GetStatus.
type SyncService struct {
	jobs   driven.SyncJobStore
	stages []Stage
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewSyncService creates a SyncService running the given pipeline. Stages
// execute in slice order with no skipping.
func NewSyncService(jobs driven.SyncJobStore, stages []Stage) *SyncService {
	return &SyncService{
		jobs:   jobs,
		stages: stages,
		now:    time.Now,
	}
}

// Trigger starts a sync job for the user. When an active job exists and force
// is false, a JobConflictError carrying that job is returned. With force, the
// active job is cancelled best-effort first; a failed cancel is logged and
// does not block the new job.
func (s *SyncService) Trigger(ctx context.Context, userID string, creds Credentials, force bool) (*model.SyncJob, error) {
	if force {
		if active, err := s.jobs.GetActiveByUser(ctx, userID); err != nil {
			return nil, err
		} else if active != nil {
			if err := s.markCancelled(ctx, *active, "superseded by forced sync"); err != nil {
				slog.Error("force-cancel of active job failed", "job", active.ID, "error", err)
			}
		}
	}

	now := s.now()
	job := model.SyncJob{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    model.SyncStatusStarting,
		Progress:  0,
		Message:   "sync queued",
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := s.jobs.CreateIfIdle(ctx, job)
	if errors.Is(err, driven.ErrActiveJobExists) {
		if created == nil {
			// The conflicting job finished between insert and re-read; retry
			// would likely succeed, but that is the caller's call.
			return nil, &JobConflictError{Job: job}
		}
		return nil, &JobConflictError{Job: *created}
	}
	if err != nil {
		return nil, err
	}

	slog.Info("sync job created", "job", created.ID, "user", userID, "forced", force)

	// The pipeline outlives the triggering request: detach from its
	// cancellation but keep its values.
	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(runCtx, *created, creds)
	}()

	return created, nil
}

// GetStatus returns the job for polling. Ownership is checked first: a job
// that does not exist and a job owned by someone else both yield ErrForbidden,
// so callers cannot probe foreign job ids.
func (s *SyncService) GetStatus(ctx context.Context, jobID, requestingUserID string) (*model.SyncJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil || job.UserID != requestingUserID {
		return nil, ErrForbidden
	}
	return job, nil
}

// Cancel marks the user's job cancelled. The running pipeline notices before
// its next stage and aborts without overwriting the cancelled status.
func (s *SyncService) Cancel(ctx context.Context, jobID, requestingUserID string) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil || job.UserID != requestingUserID {
		return ErrForbidden
	}
	if job.Status.IsTerminal() {
		return ErrJobNotActive
	}
	return s.markCancelled(ctx, *job, "cancelled by user")
}

// History returns a page of the user's jobs, newest first.
func (s *SyncService) History(ctx context.Context, userID string, limit, offset int, status model.SyncStatus) (HistoryPage, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, err := s.jobs.ListByUser(ctx, userID, driven.HistoryFilter{Limit: limit, Offset: offset, Status: status})
	if err != nil {
		return HistoryPage{}, err
	}
	total, err := s.jobs.CountByUser(ctx, userID, status)
	if err != nil {
		return HistoryPage{}, err
	}

	return HistoryPage{Jobs: jobs, Total: total, Limit: limit, Offset: offset}, nil
}

// Prune deletes the user's terminal jobs beyond the most recent pruneKeep.
func (s *SyncService) Prune(ctx context.Context, userID string) (int, error) {
	return s.jobs.DeleteTerminalBeyond(ctx, userID, pruneKeep)
}

// Wait blocks until all detached pipeline runs finish. Used on shutdown.
func (s *SyncService) Wait() {
	s.wg.Wait()
}

// run executes the pipeline for one job, advancing through each stage and
// converting any stage failure into a terminal error status. It never panics
// the process: a stage error ends the job, nothing else.
func (s *SyncService) run(ctx context.Context, job model.SyncJob, creds Credentials) {
	start := s.now()
	data := job.StageData

	for _, stage := range s.stages {
		if err := s.advance(ctx, job.ID, stage.Status, stage.Progress, stage.Message, data); err != nil {
			if errors.Is(err, errJobCancelled) {
				slog.Info("sync job cancelled mid-run", "job", job.ID, "stage", stage.Status)
				return
			}
			slog.Error("sync job advance failed", "job", job.ID, "stage", stage.Status, "error", err)
			return
		}

		next, err := stage.Run(ctx, creds, data)
		if err != nil {
			s.fail(ctx, job.ID, stage.Status, err)
			return
		}
		data = next
		data.CurrentStage = stage.Status
	}

	if err := s.complete(ctx, job.ID, data); err != nil {
		if errors.Is(err, errJobCancelled) {
			slog.Info("sync job cancelled before completion", "job", job.ID)
			return
		}
		slog.Error("sync job completion write failed", "job", job.ID, "error", err)
		return
	}

	slog.Info("sync job completed",
		"job", job.ID,
		"user", job.UserID,
		"duration", s.now().Sub(start).Round(time.Millisecond),
	)
}

// advance moves the job into the given stage. It re-reads the row first and
// refuses to overwrite an externally cancelled job, and keeps progress
// monotonic by never writing a lower value than is already stored.
func (s *SyncService) advance(ctx context.Context, jobID string, status model.SyncStatus, progress int, message string, data model.StageData) error {
	current, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("sync job %q disappeared", jobID)
	}
	if current.Status == model.SyncStatusCancelled {
		return errJobCancelled
	}
	if progress < current.Progress {
		progress = current.Progress
	}

	current.Status = status
	current.Progress = progress
	current.Message = message
	current.StageData = data
	current.UpdatedAt = s.now()
	return s.jobs.Update(ctx, *current)
}

// complete writes the terminal completed status with CompletedAt set.
func (s *SyncService) complete(ctx context.Context, jobID string, data model.StageData) error {
	current, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("sync job %q disappeared", jobID)
	}
	if current.Status == model.SyncStatusCancelled {
		return errJobCancelled
	}

	now := s.now()
	current.Status = model.SyncStatusCompleted
	current.Progress = 100
	current.Message = "sync completed"
	current.StageData = data
	current.UpdatedAt = now
	current.CompletedAt = &now
	return s.jobs.Update(ctx, *current)
}

// fail moves the job into the terminal error status, keeping whatever
// progress it had reached and capturing the stage's message for diagnostics.
// CompletedAt stays unset: the job did not complete.
func (s *SyncService) fail(ctx context.Context, jobID string, stage model.SyncStatus, cause error) {
	slog.Error("sync stage failed", "job", jobID, "stage", stage, "error", cause)

	current, err := s.jobs.GetByID(ctx, jobID)
	if err != nil || current == nil {
		slog.Error("failed job could not be re-read", "job", jobID, "error", err)
		return
	}
	if current.Status == model.SyncStatusCancelled {
		return
	}

	current.Status = model.SyncStatusError
	current.Message = truncateMessage(cause.Error())
	current.UpdatedAt = s.now()
	if err := s.jobs.Update(ctx, *current); err != nil {
		slog.Error("error status write failed", "job", jobID, "error", err)
	}
}

// markCancelled writes the cancelled terminal status.
func (s *SyncService) markCancelled(ctx context.Context, job model.SyncJob, reason string) error {
	job.Status = model.SyncStatusCancelled
	job.Message = reason
	job.UpdatedAt = s.now()
	return s.jobs.Update(ctx, job)
}
