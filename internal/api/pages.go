package api

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/historian/internal/access"
	"github.com/kalambet/historian/internal/enrich"
	"github.com/kalambet/historian/internal/pipeline"
	"github.com/kalambet/historian/internal/records"
	"github.com/kalambet/historian/internal/render"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageFuncs = template.FuncMap{
	"markdown": render.HTML,
}

var pages = parsePages("access.html", "timeline.html", "learning.html", "learning_detail.html")

func parsePages(names ...string) map[string]*template.Template {
	m := make(map[string]*template.Template, len(names))
	for _, name := range names {
		m[name] = template.Must(template.New(name).Funcs(pageFuncs).
			ParseFS(templateFS, "templates/layout.html", "templates/"+name))
	}
	return m
}

func renderPage(w http.ResponseWriter, deps Deps, status int, name string, data any) {
	var buf bytes.Buffer
	if err := pages[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		deps.logger().Error("rendering page", "page", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func mountPages(r chi.Router, deps Deps) {
	r.Group(func(r chi.Router) {
		r.Use(requirePageAccess(deps))

		r.Get("/", handleTimelinePage(deps))
		r.Post("/timeline", handleTimelineForm(deps))
		r.Post("/timeline/{id}/reference", handleTimelineReferenceForm(deps))
		r.Post("/timeline/{id}/accept", handleTimelineAcceptForm(deps))
		r.Post("/timeline/{id}/delete", handleTimelineDeleteForm(deps))

		r.Get("/history-learning", handleLearningPage(deps))
		r.Post("/history-learning", handleLearningForm(deps))
		r.Get("/history-learning/{id}", handleLearningDetailPage(deps))
		r.Post("/history-learning/{id}/regenerate", handleLearningRegenerateForm(deps))
		r.Post("/history-learning/{id}/delete", handleLearningDeleteForm(deps))
	})
}

// requirePageAccess checks the marker against the gate. The route gate in
// front of it only checks that a marker is present.
func requirePageAccess(deps Deps) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !deps.Gate.IsAuthenticated(access.Marker(r)) {
				access.ClearMarker(w)
				http.Redirect(w, r, LoginPath, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --- timeline ---

type timelineItem struct {
	records.Timeline
	State     pipeline.State
	Reference *enrich.Result
	Failure   string
}

type timelinePage struct {
	Entries []timelineItem
	Error   string
	Form    records.TimelineInput
}

func loadTimelinePage(r *http.Request, deps Deps) (timelinePage, error) {
	entries, err := deps.Records.Timeline()
	if err != nil {
		return timelinePage{}, err
	}
	page := timelinePage{Form: records.TimelineInput{Era: records.AD}}
	for _, e := range entries {
		item := timelineItem{Timeline: e, State: deps.Orchestrator.Status(r.Context(), e.ID)}
		if res, ok, err := deps.Cache.Get(r.Context(), e.ID); err == nil && ok && res.Succeeded {
			item.Reference = &res
		} else if f, ok := deps.Orchestrator.LastFailure(e.ID); ok {
			item.Failure = f.Error
		}
		page.Entries = append(page.Entries, item)
	}
	return page, nil
}

func handleTimelinePage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := loadTimelinePage(r, deps)
		if err != nil {
			http.Error(w, "failed to load timeline", http.StatusInternalServerError)
			return
		}
		renderPage(w, deps, http.StatusOK, "timeline.html", page)
	}
}

func handleTimelineForm(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		in := records.TimelineInput{
			Year:        records.YearText(r.PostFormValue("year")),
			Era:         records.Era(r.PostFormValue("era")),
			Title:       r.PostFormValue("title"),
			Description: r.PostFormValue("description"),
		}
		if _, err := deps.Records.CreateTimeline(in); err != nil {
			page, lerr := loadTimelinePage(r, deps)
			if lerr != nil {
				http.Error(w, "failed to load timeline", http.StatusInternalServerError)
				return
			}
			page.Error = err.Error()
			page.Form = in
			renderPage(w, deps, http.StatusBadRequest, "timeline.html", page)
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func handleTimelineReferenceForm(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var err error
		if r.PostFormValue("regenerate") != "" {
			_, err = deps.Orchestrator.Regenerate(r.Context(), records.KindTimeline, id)
		} else {
			_, err = deps.Orchestrator.View(r.Context(), records.KindTimeline, id)
		}
		if err != nil {
			deps.logger().Warn("timeline reference", "record_id", id, "error", err)
		}
		http.Redirect(w, r, "/#entry-"+id, http.StatusSeeOther)
	}
}

func handleTimelineAcceptForm(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Orchestrator.AcceptEnhancedDescription(r.Context(), id); err != nil {
			deps.logger().Warn("accepting enhanced description", "record_id", id, "error", err)
		}
		http.Redirect(w, r, "/#entry-"+id, http.StatusSeeOther)
	}
}

func handleTimelineDeleteForm(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		deleted, err := deps.Records.DeleteTimeline(id)
		if err != nil {
			deps.logger().Error("deleting timeline entry", "record_id", id, "error", err)
		}
		forgetRecord(deps, id, deleted)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

// --- learning ---

type learningPage struct {
	Items []records.Learning
	Error string
	Form  records.LearningInput
}

func handleLearningPage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := deps.Records.Learning()
		if err != nil {
			http.Error(w, "failed to load learning records", http.StatusInternalServerError)
			return
		}
		renderPage(w, deps, http.StatusOK, "learning.html", learningPage{Items: items})
	}
}

func handleLearningForm(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		in := records.LearningInput{
			Title:     r.PostFormValue("title"),
			YearRange: r.PostFormValue("yearRange"),
			Facts:     r.PostFormValue("facts"),
		}
		l, err := createLearning(deps, in)
		if err != nil {
			items, _ := deps.Records.Learning()
			renderPage(w, deps, http.StatusBadRequest, "learning.html", learningPage{Items: items, Error: err.Error(), Form: in})
			return
		}
		http.Redirect(w, r, "/history-learning/"+l.ID, http.StatusSeeOther)
	}
}

type learningDetailPage struct {
	records.Learning
	State   pipeline.State
	Failure string
}

func handleLearningDetailPage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		l, err := deps.Records.GetLearning(id)
		if err != nil {
			http.Redirect(w, r, "/history-learning", http.StatusSeeOther)
			return
		}
		page := learningDetailPage{Learning: l, State: deps.Orchestrator.Status(r.Context(), id)}
		if !l.Enriched() {
			if f, ok := deps.Orchestrator.LastFailure(id); ok {
				page.Failure = f.Error
			}
		}
		renderPage(w, deps, http.StatusOK, "learning_detail.html", page)
	}
}

func handleLearningRegenerateForm(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Orchestrator.Regenerate(r.Context(), records.KindLearning, id); err != nil {
			deps.logger().Warn("regenerating learning reference", "record_id", id, "error", err)
		}
		http.Redirect(w, r, "/history-learning/"+id, http.StatusSeeOther)
	}
}

func handleLearningDeleteForm(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		deleted, err := deps.Records.DeleteLearning(id)
		if err != nil {
			deps.logger().Error("deleting learning record", "record_id", id, "error", err)
		}
		forgetRecord(deps, id, deleted)
		http.Redirect(w, r, "/history-learning", http.StatusSeeOther)
	}
}
