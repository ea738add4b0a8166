package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/historian/internal/records"
	"github.com/kalambet/historian/internal/worker"
)

func handleListTimeline(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := deps.Records.Timeline()
		if err != nil {
			writeError(w, err, "timeline")
			return
		}
		if entries == nil {
			entries = []records.Timeline{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleCreateTimeline(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in records.TimelineInput
		if !decodeBody(w, r, &in) {
			return
		}
		t, err := deps.Records.CreateTimeline(in)
		if err != nil {
			writeError(w, err, "timeline entry")
			return
		}
		writeJSON(w, http.StatusCreated, t)
	}
}

func handleGetTimeline(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := deps.Records.GetTimeline(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err, "timeline entry")
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func handleUpdateTimeline(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p records.TimelinePatch
		if !decodeBody(w, r, &p) {
			return
		}
		t, err := deps.Records.UpdateTimeline(chi.URLParam(r, "id"), p)
		if err != nil {
			writeError(w, err, "timeline entry")
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func handleDeleteTimeline(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		deleted, err := deps.Records.DeleteTimeline(id)
		if err != nil {
			writeError(w, err, "timeline entry")
			return
		}
		forgetRecord(deps, id, deleted)
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
	}
}

func handleListLearning(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := deps.Records.Learning()
		if err != nil {
			writeError(w, err, "learning records")
			return
		}
		if items == nil {
			items = []records.Learning{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func handleCreateLearning(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in records.LearningInput
		if !decodeBody(w, r, &in) {
			return
		}
		l, err := createLearning(deps, in)
		if err != nil {
			writeError(w, err, "learning record")
			return
		}
		writeJSON(w, http.StatusCreated, l)
	}
}

// createLearning stores a learning record and queues its enrichment. A queue
// failure is logged; the record is already saved.
func createLearning(deps Deps, in records.LearningInput) (records.Learning, error) {
	l, err := deps.Records.CreateLearning(in)
	if err != nil {
		return records.Learning{}, err
	}
	if err := worker.EnqueueLearning(deps.Store, l.ID); err != nil {
		deps.logger().Error("queueing learning enrichment", "record_id", l.ID, "error", err)
	}
	return l, nil
}

func handleGetLearning(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l, err := deps.Records.GetLearning(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err, "learning record")
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

func handleUpdateLearning(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p records.LearningPatch
		if !decodeBody(w, r, &p) {
			return
		}
		l, err := deps.Records.UpdateLearning(chi.URLParam(r, "id"), p)
		if err != nil {
			writeError(w, err, "learning record")
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

func handleDeleteLearning(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		deleted, err := deps.Records.DeleteLearning(id)
		if err != nil {
			writeError(w, err, "learning record")
			return
		}
		forgetRecord(deps, id, deleted)
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
	}
}

// forgetRecord drops session state and the generation log of a deleted
// record. Cached references stay.
func forgetRecord(deps Deps, id string, deleted bool) {
	if !deleted {
		return
	}
	deps.Orchestrator.Forget(id)
	if err := deps.Store.DeleteGenerationsFor(id); err != nil {
		deps.logger().Warn("deleting generation log", "record_id", id, "error", err)
	}
}
