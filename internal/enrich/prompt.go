package enrich

import (
	"fmt"
	"strings"
)

// Section markers the model is asked to emit. Parsing looks for exactly
// these labels.
const (
	MarkerRewritten   = "Rewritten Description"
	MarkerAnalysis    = "Historical Analysis"
	MarkerCorrected   = "Corrected Facts"
	MarkerNarrative   = "Historical Narrative"
	MarkerKeyPoints   = "Key Learning Points"
	MarkerChronology  = "Chronological Events"
	highlightSpanOpen = `<span style="background-color: #e6f8ef; padding: 2px 4px; border-radius: 3px;">`
)

var eventMarkers = []string{MarkerRewritten, MarkerAnalysis}

var learningMarkers = []string{MarkerCorrected, MarkerNarrative, MarkerKeyPoints, MarkerChronology}

const factualRequirements = `**CRITICAL REQUIREMENTS**:
- **Use ONLY real, factual numbers and statistics** from verified historical sources
- **Include specific dates, years, durations, distances, population numbers, casualties, economic figures, etc.**
- **Verify all information** - do not make up or estimate any numbers
- **Cite specific historical facts** rather than general statements
- **Use precise measurements** when available (e.g., "15,000 soldiers" not "thousands of soldiers")`

const highlightInstruction = `**IMPORTANT**: Highlight important keywords, dates, names, locations, and significant terms using HTML span tags with light green background. Use this format: ` + highlightSpanOpen + `keyword</span>

Examples of what to highlight:
- Important dates (years, specific dates)
- Key historical figures and names
- Significant locations and places
- Important events and battles
- Political movements and ideologies
- **Real numbers and statistics** (casualties, population, distances, durations, etc.)`

// EventPrompt builds the prompt for a timeline entry.
func EventPrompt(in EventInput) string {
	var sb strings.Builder
	sb.WriteString("Analyze this historical event and provide two outputs:\n\n")
	fmt.Fprintf(&sb, "Event: %s\nYear: %s %s\nOriginal Description: %s\n\n", in.Title, in.Year, in.Era, in.Description)

	sb.WriteString(`**OUTPUT 1: Rewritten Description (2 lines)**
Rewrite the original description in a more historically accurate and engaging way. Make it:
- Factually correct with verified historical details
- More engaging and descriptive
- Approximately 2 lines long
- Include real numbers and specific details when relevant
- Use proper historical terminology

**OUTPUT 2: Comprehensive Historical Analysis (4-6 sentences)**
Provide a detailed historical analysis including:
1. **Historical Context**: What led to this event and the broader historical circumstances
2. **Key Details**: Important dates, locations, and people involved
3. **Related Events**: Mention 2-3 significant events that happened before or after this event
4. **Historical Impact**: How this event influenced later developments
5. **Long-term Significance**: Why this event is remembered and studied today

`)
	sb.WriteString(factualRequirements)
	sb.WriteString("\n\n")
	sb.WriteString(highlightInstruction)
	sb.WriteString("\n\n**FORMAT YOUR RESPONSE AS:**\n")
	fmt.Fprintf(&sb, "**%s:**\n[Your 2-line rewritten description here]\n\n", MarkerRewritten)
	fmt.Fprintf(&sb, "**%s:**\n[Your comprehensive 4-6 sentence analysis with highlighted keywords]\n\n", MarkerAnalysis)
	sb.WriteString("Make both outputs informative, engaging, and historically accurate with verified facts and real numbers.")
	return sb.String()
}

// LearningPrompt builds the prompt for a class note.
func LearningPrompt(in LearningInput) string {
	var sb strings.Builder
	sb.WriteString("You are helping a student turn raw history class notes into study material.\n\n")
	fmt.Fprintf(&sb, "Topic: %s\nPeriod: %s\nStudent Notes:\n%s\n\n", in.Title, in.YearRange, in.Facts)

	sb.WriteString(`Produce four outputs:

**OUTPUT 1: Corrected Facts**
Rewrite the notes as an organized bullet list. Fix factual mistakes and fill in missing dates, names and places.

**OUTPUT 2: Historical Narrative (2-3 paragraphs)**
Tell the story of this period as an engaging narrative that connects the facts together.

**OUTPUT 3: Key Learning Points (4-6 bullets)**
The most important takeaways a student should remember for an exam.

**OUTPUT 4: Chronological Events**
A dated list, oldest first, one event per line in the form "YEAR - event".

`)
	sb.WriteString(factualRequirements)
	sb.WriteString("\n\n")
	sb.WriteString(highlightInstruction)
	sb.WriteString("\n\n**FORMAT YOUR RESPONSE AS:**\n")
	for _, m := range learningMarkers {
		fmt.Fprintf(&sb, "**%s:**\n[%s here]\n\n", m, strings.ToLower(m))
	}
	return strings.TrimRight(sb.String(), "\n")
}
