package records

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/historian/internal/storage"
)

// ErrNotFound is returned by updates that reference an absent id.
var ErrNotFound = storage.ErrNotFound

// Era is the calendar era of a timeline year.
type Era string

const (
	AD Era = "AD"
	BC Era = "BC"
)

// Kind names one of the two record collections.
type Kind string

const (
	KindTimeline Kind = "timeline"
	KindLearning Kind = "learning"
)

// ParseKind accepts "timeline" or "learning" (case-insensitive).
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindTimeline:
		return KindTimeline, nil
	case KindLearning:
		return KindLearning, nil
	}
	return "", fmt.Errorf("unknown record kind %q (want timeline or learning)", s)
}

// Timeline is one dated historical event.
type Timeline struct {
	ID          string `json:"id"`
	Year        int    `json:"year"`
	Era         Era    `json:"era"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// SignedYear is the chronological sort key: BC years count down from zero.
func (t Timeline) SignedYear() int {
	if t.Era == BC {
		return -t.Year
	}
	return t.Year
}

// Label renders the year with its era, e.g. "44 BC".
func (t Timeline) Label() string {
	return fmt.Sprintf("%d %s", t.Year, t.Era)
}

// Learning is a free-form class note with optional generated material.
type Learning struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	YearRange string    `json:"yearRange"`
	Facts     string    `json:"facts"`
	CreatedAt time.Time `json:"createdAt"`

	// Enrichment is nil until a generation succeeds. All of its fields are
	// replaced together.
	Enrichment *LearningEnrichment `json:"enrichment,omitempty"`
}

// Enriched reports whether generated material is attached.
func (l Learning) Enriched() bool {
	return l.Enrichment != nil
}

type LearningEnrichment struct {
	Narrative           string    `json:"narrative"`
	OrganizedFacts      string    `json:"organizedFacts"`
	KeyPoints           string    `json:"keyPoints"`
	ChronologicalEvents string    `json:"chronologicalEvents"`
	GeneratedAt         time.Time `json:"generatedAt"`
	Model               string    `json:"model,omitempty"`
}

// YearText is a year as typed by the user. It decodes from either a JSON
// string or a JSON number so API callers can send both.
type YearText string

func (y *YearText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*y = YearText(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("year must be a string or number: %w", err)
	}
	*y = YearText(n.String())
	return nil
}

// TimelineInput holds the fields of a new timeline entry.
type TimelineInput struct {
	Year        YearText `json:"year"`
	Era         Era      `json:"era"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
}

// TimelinePatch holds the fields to change on an existing entry. Nil fields
// are left as is.
type TimelinePatch struct {
	Year        *YearText `json:"year,omitempty"`
	Era         *Era      `json:"era,omitempty"`
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
}

type LearningInput struct {
	Title     string `json:"title"`
	YearRange string `json:"yearRange"`
	Facts     string `json:"facts"`
}

type LearningPatch struct {
	Title     *string `json:"title,omitempty"`
	YearRange *string `json:"yearRange,omitempty"`
	Facts     *string `json:"facts,omitempty"`
}

// ValidationError reports missing or malformed user input. Message is
// suitable for showing to the user verbatim.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

const (
	msgTimelineRequired = "Please fill in all required fields (Year, Title, and Description)."
	msgYearRange        = "Please enter a valid year between 1 and 9999."
	msgLearningRequired = "Please fill in all required fields (Title, Year Range, and Facts)."
	msgEra              = "Era must be AD or BC."
)

// parseYear accepts 1 to 4 ASCII digits whose value lies in [1,9999].
func parseYear(y YearText) (int, error) {
	s := strings.TrimSpace(string(y))
	if len(s) == 0 || len(s) > 4 {
		return 0, &ValidationError{Message: msgYearRange}
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, &ValidationError{Message: msgYearRange}
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 9999 {
		return 0, &ValidationError{Message: msgYearRange}
	}
	return n, nil
}

// parseEra normalises an era; empty means AD.
func parseEra(e Era) (Era, error) {
	switch Era(strings.ToUpper(strings.TrimSpace(string(e)))) {
	case "", AD:
		return AD, nil
	case BC:
		return BC, nil
	}
	return "", &ValidationError{Message: msgEra}
}

func validateTimeline(year YearText, era Era, title, description string) (Timeline, error) {
	if strings.TrimSpace(string(year)) == "" || strings.TrimSpace(title) == "" || strings.TrimSpace(description) == "" {
		return Timeline{}, &ValidationError{Message: msgTimelineRequired}
	}
	n, err := parseYear(year)
	if err != nil {
		return Timeline{}, err
	}
	e, err := parseEra(era)
	if err != nil {
		return Timeline{}, err
	}
	return Timeline{
		Year:        n,
		Era:         e,
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
	}, nil
}

func validateLearning(title, yearRange, facts string) error {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(yearRange) == "" || strings.TrimSpace(facts) == "" {
		return &ValidationError{Message: msgLearningRequired}
	}
	return nil
}
