// Package worker drains the background enrichment queue.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/historian/internal/pipeline"
	"github.com/kalambet/historian/internal/records"
	"github.com/kalambet/historian/internal/storage"
)

// JobLearningEnrich is the job type enqueued after a learning record is
// created.
const JobLearningEnrich = "learning_enrich"

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Enricher resolves the reference for a record.
type Enricher interface {
	View(ctx context.Context, kind records.Kind, id string) (pipeline.Outcome, error)
}

// Worker processes learning_enrich jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	enricher Enricher
	poll     time.Duration
	logger   *slog.Logger
}

// New creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func New(store JobStore, enricher Enricher, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		enricher: enricher,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

type enrichPayload struct {
	LearningID string `json:"learning_id"`
}

// EnqueueLearning schedules enrichment for a learning record.
func EnqueueLearning(store JobStore, learningID string) error {
	payload, err := json.Marshal(enrichPayload{LearningID: learningID})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	return store.EnqueueJob(storage.Job{
		ID:          uuid.NewString(),
		Type:        JobLearningEnrich,
		PayloadJSON: string(payload),
	})
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("enrichment worker started", "poll", w.poll)
	for {
		if ctx.Err() != nil {
			return nil
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job. It returns true if a job was
// processed, whether or not it succeeded.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobLearningEnrich})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload enrichPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.LearningID == "" {
		return errors.New("payload has no learning_id")
	}

	out, err := w.enricher.View(ctx, records.KindLearning, payload.LearningID)
	if errors.Is(err, records.ErrNotFound) {
		// Deleted before the job ran.
		w.logger.Info("skipping enrichment for deleted record", "record_id", payload.LearningID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("enriching %s: %w", payload.LearningID, err)
	}
	if out.State == pipeline.StateFailed {
		return fmt.Errorf("enriching %s: %s", payload.LearningID, out.Result.Error)
	}
	return nil
}
