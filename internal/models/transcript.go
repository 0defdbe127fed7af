package models

import "time"

// TranscriptVersion is an immutable snapshot of finalized transcript text.
type TranscriptVersion struct {
	ID             string         `json:"id"`
	SourceID       string         `json:"source_id"`
	TranscriptText string         `json:"transcript_text"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// TranscriptSegment is one ordered unit of a version. SequenceNumber is
// unique within the version. Times are seconds from the start of the media.
type TranscriptSegment struct {
	ID             string  `json:"id"`
	VersionID      string  `json:"version_id"`
	SequenceNumber int     `json:"sequence_number"`
	Text           string  `json:"text"`
	StartTime      float64 `json:"start_time"`
	EndTime        float64 `json:"end_time"`
}

// ContentSegment is the persisted, searchable form of a TranscriptSegment.
// Embedding is nil when the segment had no text or embedding failed.
type ContentSegment struct {
	ID             string         `json:"id"`
	SourceID       string         `json:"source_id"`
	VersionID      string         `json:"version_id"`
	SegmentText    string         `json:"segment_text"`
	SequenceNumber int            `json:"sequence_number"`
	StartTimestamp float64        `json:"start_timestamp"`
	EndTimestamp   float64        `json:"end_timestamp"`
	Embedding      []float32      `json:"embedding"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// SegmentRelevance is the one-to-one annotation row for a ContentSegment.
// Every field is nullable; all-null means annotation was skipped or failed.
type SegmentRelevance struct {
	SegmentID     string         `json:"segment_id"`
	VersionID     string         `json:"version_id"`
	PersonaScores map[string]int `json:"persona_scores"`
	ContentType   *string        `json:"content_type"`
	Complexity    *string        `json:"complexity"`
	Focus         *string        `json:"focus"`
	Topics        []string       `json:"topics"`
	Confidence    *float64       `json:"confidence"`
	Model         *string        `json:"model"`
}

// Empty reports whether no annotation data is present.
func (r SegmentRelevance) Empty() bool {
	return r.PersonaScores == nil && r.ContentType == nil && r.Complexity == nil &&
		r.Focus == nil && r.Topics == nil && r.Confidence == nil
}

// RelevanceFrom converts an annotation into a relevance row. A nil
// annotation yields the all-null row.
func RelevanceFrom(segmentID, versionID string, a *Annotation) SegmentRelevance {
	rel := SegmentRelevance{SegmentID: segmentID, VersionID: versionID}
	if a == nil {
		return rel
	}
	rel.PersonaScores = a.PersonaScores
	rel.ContentType = a.ContentType
	rel.Complexity = a.Complexity
	rel.Focus = a.Focus
	rel.Topics = a.Topics
	rel.Confidence = a.Confidence
	if a.Model != "" {
		rel.Model = Ptr(a.Model)
	}
	return rel
}
