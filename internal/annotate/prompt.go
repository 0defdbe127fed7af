package annotate

import (
	"fmt"
	"strings"
)

// Context carries per-segment information that helps the model interpret
// a segment. All fields are optional.
type Context struct {
	SourceID       string
	VersionID      string
	SequenceNumber int
	Title          string
	Previous       string
}

const systemPrompt = `You annotate transcript segments for a searchable knowledge base.
Respond with a single JSON object and nothing else. Do not wrap it in markdown.`

// buildPrompt renders the extraction request for one segment.
func buildPrompt(text string, c Context, personas []string, maxTopics int) string {
	var sb strings.Builder

	sb.WriteString("Analyze the transcript segment below.\n\n")
	if c.Title != "" {
		fmt.Fprintf(&sb, "Transcript: %s\n", c.Title)
	}
	if c.Previous != "" {
		fmt.Fprintf(&sb, "Preceding segment (context only): %s\n", c.Previous)
	}
	fmt.Fprintf(&sb, "Segment #%d:\n<<<\n%s\n>>>\n\n", c.SequenceNumber, text)

	sb.WriteString("Return JSON with these fields:\n")
	fmt.Fprintf(&sb, "- persona_scores: object mapping each of [%s] to an integer 0-100 for how relevant the segment is to that audience\n",
		strings.Join(personas, ", "))
	sb.WriteString("- content_type: one of explanation, discussion, instruction, example, opinion, question, anecdote, other\n")
	sb.WriteString("- complexity: one of introductory, intermediate, advanced\n")
	sb.WriteString("- focus: a phrase of at most 12 words naming what the segment is about\n")
	fmt.Fprintf(&sb, "- topics: array of at most %d short topic labels\n", maxTopics)
	sb.WriteString("- confidence: number between 0 and 1 for how confident you are in this annotation\n")
	sb.WriteString("- entities: array of {name, type, aliases, definition} for named concepts, people, organizations, tools or products that matter in the segment\n")
	sb.WriteString("- relationships: array of {source, source_type, target, target_type, type, strength, confidence, context} linking entities from the entities list; strength and confidence are between 0 and 1\n\n")
	sb.WriteString("Use empty arrays when there are no entities or relationships.")

	return sb.String()
}
