package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/historian/internal/enrich"
	"github.com/kalambet/historian/internal/pipeline"
	"github.com/kalambet/historian/internal/records"
	"github.com/kalambet/historian/internal/storage"
)

func handleViewReference(deps Deps, kind records.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := deps.Orchestrator.View(r.Context(), kind, chi.URLParam(r, "id"))
		writeOutcome(w, out, err, kind)
	}
}

func handleRegenerateReference(deps Deps, kind records.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := deps.Orchestrator.Regenerate(r.Context(), kind, chi.URLParam(r, "id"))
		writeOutcome(w, out, err, kind)
	}
}

// writeOutcome answers with the outcome. A failed generation is still a
// successful request; the failure travels in the result.
func writeOutcome(w http.ResponseWriter, out pipeline.Outcome, err error, kind records.Kind) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeJSON(w, http.StatusAccepted, out)
		return
	}
	if err != nil {
		writeError(w, err, string(kind)+" record")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func handleAcceptReference(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := deps.Orchestrator.AcceptEnhancedDescription(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err, "timeline entry")
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

type statusResponse struct {
	ID    string         `json:"id"`
	State pipeline.State `json:"state"`
	Error string         `json:"error,omitempty"`
}

func handleReferenceStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		resp := statusResponse{ID: id, State: deps.Orchestrator.Status(r.Context(), id)}
		if resp.State == pipeline.StateFailed {
			if f, ok := deps.Orchestrator.LastFailure(id); ok {
				resp.Error = f.Error
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleClearReferences(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Cache.Clear(r.Context()); err != nil {
			writeError(w, err, "references")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

func handleListGenerations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		gens, err := deps.Store.ListGenerations(limit, offset)
		if err != nil {
			writeError(w, err, "generations")
			return
		}
		if gens == nil {
			gens = []storage.Generation{}
		}
		writeJSON(w, http.StatusOK, gens)
	}
}

// Snapshot is everything a user has stored, as served by /api/export.
type Snapshot struct {
	Timeline   []records.Timeline       `json:"timeline" yaml:"timeline"`
	Learning   []records.Learning       `json:"learning" yaml:"learning"`
	References map[string]enrich.Result `json:"references" yaml:"references"`
}

func handleExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := exportSnapshot(r.Context(), deps)
		if err != nil {
			writeError(w, err, "export")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func exportSnapshot(ctx context.Context, deps Deps) (Snapshot, error) {
	timeline, err := deps.Records.Timeline()
	if err != nil {
		return Snapshot{}, err
	}
	learning, err := deps.Records.Learning()
	if err != nil {
		return Snapshot{}, err
	}
	refs, err := deps.Cache.All(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if timeline == nil {
		timeline = []records.Timeline{}
	}
	if learning == nil {
		learning = []records.Learning{}
	}
	if refs == nil {
		refs = map[string]enrich.Result{}
	}
	return Snapshot{Timeline: timeline, Learning: learning, References: refs}, nil
}
