// Package pipeline decides when a record's reference is served from the
// cache and when it is generated, and feeds results back into the cache and
// the record store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/kalambet/historian/internal/enrich"
	"github.com/kalambet/historian/internal/records"
	"github.com/kalambet/historian/internal/storage"
)

// ErrNoEnhancement is returned when there is no rewritten description to
// accept for a timeline entry.
var ErrNoEnhancement = errors.New("no enhanced description available")

// State is where a record's reference currently stands.
type State string

const (
	StateIdle       State = "idle"
	StateChecking   State = "checking"
	StateCacheHit   State = "cache_hit"
	StateGenerating State = "generating"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

const (
	intentView       = "view"
	intentRegenerate = "regenerate"
)

// Records is the part of the record store the orchestrator reads and writes.
type Records interface {
	GetTimeline(id string) (records.Timeline, error)
	GetLearning(id string) (records.Learning, error)
	UpdateTimeline(id string, p records.TimelinePatch) (records.Timeline, error)
	SetLearningEnrichment(id string, e records.LearningEnrichment) (records.Learning, error)
}

// Summarizer produces results. It must never return transport errors, only
// failed results.
type Summarizer interface {
	SummarizeEvent(ctx context.Context, in enrich.EventInput) enrich.Result
	SummarizeLearning(ctx context.Context, in enrich.LearningInput) enrich.Result
}

// Cache is the durable result store.
type Cache interface {
	Get(ctx context.Context, id string) (enrich.Result, bool, error)
	Put(ctx context.Context, id string, r enrich.Result) error
}

// Recorder logs each upstream call.
type Recorder interface {
	SaveGeneration(g storage.Generation) error
}

// Outcome is what a view or regenerate request resolves to.
type Outcome struct {
	RecordID  string        `json:"record_id"`
	Kind      records.Kind  `json:"kind"`
	State     State         `json:"state"`
	FromCache bool          `json:"from_cache"`
	Result    enrich.Result `json:"result"`
}

// Orchestrator coordinates generation for both record kinds. It holds only
// session state: calls in flight and failures seen since start.
type Orchestrator struct {
	records  Records
	client   Summarizer
	cache    Cache
	recorder Recorder
	metrics  *Metrics
	logger   *slog.Logger

	group   singleflight.Group
	running sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
	failures map[string]enrich.Result
}

// New wires an Orchestrator. recorder and metrics may be nil.
func New(recs Records, client Summarizer, cache Cache, recorder Recorder, metrics *Metrics) *Orchestrator {
	return &Orchestrator{
		records:  recs,
		client:   client,
		cache:    cache,
		recorder: recorder,
		metrics:  metrics,
		logger:   slog.Default(),
		inflight: make(map[string]struct{}),
		failures: make(map[string]enrich.Result),
	}
}

// View serves the reference for a record, generating it only when neither
// the record nor the cache already holds a result.
func (o *Orchestrator) View(ctx context.Context, kind records.Kind, id string) (Outcome, error) {
	job, err := o.load(kind, id)
	if err != nil {
		return Outcome{}, err
	}

	if job.enriched != nil {
		o.metrics.lookup("record")
		return Outcome{RecordID: id, Kind: kind, State: StateDone, FromCache: true, Result: *job.enriched}, nil
	}

	r, ok, err := o.cache.Get(ctx, id)
	if err != nil {
		o.logger.Warn("cache lookup failed, generating", "record_id", id, "error", err)
	}
	if ok && r.Succeeded {
		o.metrics.lookup("hit")
		return Outcome{RecordID: id, Kind: kind, State: StateDone, FromCache: true, Result: r}, nil
	}
	o.metrics.lookup("miss")

	return o.generate(ctx, job, intentView)
}

// Regenerate always calls the endpoint and replaces the stored result. A
// call already in flight for id is joined rather than repeated.
func (o *Orchestrator) Regenerate(ctx context.Context, kind records.Kind, id string) (Outcome, error) {
	job, err := o.load(kind, id)
	if err != nil {
		return Outcome{}, err
	}
	return o.generate(ctx, job, intentRegenerate)
}

// AcceptEnhancedDescription replaces a timeline entry's description with the
// cached rewritten description.
func (o *Orchestrator) AcceptEnhancedDescription(ctx context.Context, id string) (records.Timeline, error) {
	if _, err := o.records.GetTimeline(id); err != nil {
		return records.Timeline{}, err
	}
	r, ok, err := o.cache.Get(ctx, id)
	if err != nil {
		return records.Timeline{}, err
	}
	if !ok || !r.Succeeded || strings.TrimSpace(r.Rewritten) == "" {
		return records.Timeline{}, ErrNoEnhancement
	}
	desc := r.Rewritten
	return o.records.UpdateTimeline(id, records.TimelinePatch{Description: &desc})
}

// Status reports the reference state of a record without generating.
func (o *Orchestrator) Status(ctx context.Context, id string) State {
	o.mu.Lock()
	_, running := o.inflight[id]
	_, failed := o.failures[id]
	o.mu.Unlock()

	if running {
		return StateGenerating
	}
	if r, ok, err := o.cache.Get(ctx, id); err == nil && ok && r.Succeeded {
		return StateDone
	}
	if failed {
		return StateFailed
	}
	return StateIdle
}

// Wait blocks until detached generations have finished or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Forget drops session state for a deleted record.
func (o *Orchestrator) Forget(id string) {
	o.mu.Lock()
	delete(o.failures, id)
	o.mu.Unlock()
}

// LastFailure returns the failure seen for id this session, if any.
func (o *Orchestrator) LastFailure(id string) (enrich.Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.failures[id]
	return r, ok
}

// job is a snapshot of the record a generation runs for.
type job struct {
	kind     records.Kind
	id       string
	event    enrich.EventInput
	learning enrich.LearningInput
	enriched *enrich.Result
}

func (o *Orchestrator) load(kind records.Kind, id string) (job, error) {
	switch kind {
	case records.KindTimeline:
		t, err := o.records.GetTimeline(id)
		if err != nil {
			return job{}, err
		}
		return job{kind: kind, id: id, event: enrich.EventInput{
			Title:       t.Title,
			Description: t.Description,
			Year:        strconv.Itoa(t.Year),
			Era:         string(t.Era),
		}}, nil

	case records.KindLearning:
		l, err := o.records.GetLearning(id)
		if err != nil {
			return job{}, err
		}
		j := job{kind: kind, id: id, learning: enrich.LearningInput{
			Title:     l.Title,
			YearRange: l.YearRange,
			Facts:     l.Facts,
		}}
		if e := l.Enrichment; e != nil {
			j.enriched = &enrich.Result{
				Succeeded:           true,
				Narrative:           e.Narrative,
				Rewritten:           e.OrganizedFacts,
				KeyPoints:           e.KeyPoints,
				ChronologicalEvents: e.ChronologicalEvents,
				Model:               e.Model,
				GeneratedAt:         e.GeneratedAt,
			}
		}
		return j, nil
	}
	return job{}, fmt.Errorf("unknown record kind %q", kind)
}

// generate joins or starts the single call for j.id. The call is detached
// from ctx: a caller that gives up gets StateGenerating and the call still
// lands in the cache.
func (o *Orchestrator) generate(ctx context.Context, j job, intent string) (Outcome, error) {
	detached := context.WithoutCancel(ctx)
	ch := o.group.DoChan(j.id, func() (any, error) {
		o.running.Add(1)
		defer o.running.Done()
		return o.run(detached, j, intent), nil
	})

	select {
	case res := <-ch:
		return res.Val.(Outcome), nil
	case <-ctx.Done():
		return Outcome{RecordID: j.id, Kind: j.kind, State: StateGenerating}, ctx.Err()
	}
}

func (o *Orchestrator) run(ctx context.Context, j job, intent string) Outcome {
	o.mu.Lock()
	o.inflight[j.id] = struct{}{}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.inflight, j.id)
		o.mu.Unlock()
	}()

	start := time.Now()
	var r enrich.Result
	if j.kind == records.KindTimeline {
		r = o.client.SummarizeEvent(ctx, j.event)
	} else {
		r = o.client.SummarizeLearning(ctx, j.learning)
	}
	o.record(j, intent, r, time.Since(start))

	if !r.Succeeded {
		o.metrics.generation(string(j.kind), "failed")
		o.mu.Lock()
		o.failures[j.id] = r
		o.mu.Unlock()
		o.logger.Warn("reference generation failed", "record_id", j.id, "kind", j.kind, "error", r.Error)
		return Outcome{RecordID: j.id, Kind: j.kind, State: StateFailed, Result: r}
	}
	o.metrics.generation(string(j.kind), "succeeded")

	o.mu.Lock()
	delete(o.failures, j.id)
	o.mu.Unlock()

	if err := o.cache.Put(ctx, j.id, r); err != nil {
		o.logger.Error("storing generated reference", "record_id", j.id, "error", err)
	}

	if j.kind == records.KindLearning {
		_, err := o.records.SetLearningEnrichment(j.id, records.LearningEnrichment{
			Narrative:           r.Narrative,
			OrganizedFacts:      r.Rewritten,
			KeyPoints:           r.KeyPoints,
			ChronologicalEvents: r.ChronologicalEvents,
			GeneratedAt:         r.GeneratedAt,
			Model:               r.Model,
		})
		if errors.Is(err, records.ErrNotFound) {
			o.logger.Info("learning record deleted during generation", "record_id", j.id)
		} else if err != nil {
			o.logger.Error("saving learning enrichment", "record_id", j.id, "error", err)
		}
	}

	o.logger.Debug("reference generated", "record_id", j.id, "kind", j.kind, "intent", intent, "model", r.Model)
	return Outcome{RecordID: j.id, Kind: j.kind, State: StateDone, Result: r}
}

func (o *Orchestrator) record(j job, intent string, r enrich.Result, d time.Duration) {
	if o.recorder == nil {
		return
	}
	status := "succeeded"
	if !r.Succeeded {
		status = "failed"
	}
	err := o.recorder.SaveGeneration(storage.Generation{
		ID:         uuid.NewString(),
		RecordID:   j.id,
		Kind:       string(j.kind),
		Intent:     intent,
		Model:      r.Model,
		Status:     status,
		Error:      r.Error,
		DurationMs: d.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		o.logger.Warn("recording generation", "record_id", j.id, "error", err)
	}
}
