package enrich

import (
	"regexp"
	"sort"
	"strings"
)

var markerPatterns = map[string]*regexp.Regexp{}

func init() {
	for _, m := range append(append([]string{}, eventMarkers...), learningMarkers...) {
		q := regexp.QuoteMeta(m)
		// Accepts "**X:**", "**X**:" and markdown headings such as "## X:".
		markerPatterns[m] = regexp.MustCompile(`(?mi)\*\*` + q + `:?\*\*:?|^[ \t]*#{1,6}[ \t]*(?:\*\*)?` + q + `(?:\*\*)?:?(?:\*\*)?`)
	}
}

type markerHit struct {
	name       string
	start, end int
}

// Sections extracts the text following each marker, up to the next known
// marker or the end of the reply. Markers that do not occur map to "".
func Sections(text string, markers []string) map[string]string {
	hits := make([]markerHit, 0, len(markers))
	for _, m := range markers {
		re, ok := markerPatterns[m]
		if !ok {
			re = regexp.MustCompile(`(?i)\*\*` + regexp.QuoteMeta(m) + `:?\*\*:?`)
		}
		if loc := re.FindStringIndex(text); loc != nil {
			hits = append(hits, markerHit{name: m, start: loc[0], end: loc[1]})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].start < hits[j].start })

	out := make(map[string]string, len(markers))
	for _, m := range markers {
		out[m] = ""
	}
	for i, h := range hits {
		stop := len(text)
		if i+1 < len(hits) {
			stop = hits[i+1].start
		}
		if stop < h.end {
			continue
		}
		out[h.name] = strings.TrimSpace(text[h.end:stop])
	}
	return out
}

// ParseEvent maps an event reply onto a successful Result.
func ParseEvent(text string) Result {
	s := Sections(text, eventMarkers)
	return Result{
		Succeeded: true,
		Rewritten: s[MarkerRewritten],
		Narrative: s[MarkerAnalysis],
	}
}

// ParseLearning maps a class-note reply onto a successful Result.
func ParseLearning(text string) Result {
	s := Sections(text, learningMarkers)
	return Result{
		Succeeded:           true,
		Rewritten:           s[MarkerCorrected],
		Narrative:           s[MarkerNarrative],
		KeyPoints:           s[MarkerKeyPoints],
		ChronologicalEvents: s[MarkerChronology],
	}
}
