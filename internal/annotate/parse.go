package annotate

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/raphaelgruber/kbingest/internal/models"
)

const maxFocusRunes = 200

// Parse decodes a model response into a normalized annotation. Scores are
// clamped to [0,100], confidence to [0,1], topics to maxTopics entries.
// Fields of the wrong shape are dropped rather than failing the parse; only
// a response with no decodable object is an error.
func Parse(text string, personas []string, maxTopics int) (*models.Annotation, error) {
	body := extractObject(stripFences(text))
	if body == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		if err := json.Unmarshal([]byte(repairJSON(body)), &raw); err != nil {
			return nil, fmt.Errorf("decode annotation: %w", err)
		}
	}

	a := &models.Annotation{
		PersonaScores: parseScores(raw["persona_scores"], personas),
		ContentType:   parseLabel(raw["content_type"]),
		Complexity:    parseLabel(raw["complexity"]),
		Focus:         parseFocus(raw["focus"]),
		Topics:        parseTopics(raw["topics"], maxTopics),
		Confidence:    parseConfidence(raw["confidence"]),
		Entities:      parseEntities(raw["entities"]),
		Relationships: parseRelationships(raw["relationships"]),
	}
	return a, nil
}

// stripFences removes a surrounding markdown code fence, with or without
// a language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// extractObject returns the span from the first '{' to the last '}'.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// repairJSON fixes keys that lost their opening quote and trailing commas
// before a closing bracket, both common in model output.
func repairJSON(s string) string {
	in := []rune(s)
	out := make([]rune, 0, len(in)+16)
	inString := false

	for i := 0; i < len(in); i++ {
		ch := in[i]

		if inString {
			out = append(out, ch)
			if ch == '\\' && i+1 < len(in) {
				i++
				out = append(out, in[i])
			} else if ch == '"' {
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
			out = append(out, ch)
		case ',':
			j := i + 1
			for j < len(in) && unicode.IsSpace(in[j]) {
				j++
			}
			if j < len(in) && (in[j] == '}' || in[j] == ']') {
				continue
			}
			out = append(out, ch)
			out, i = repairKey(in, out, i)
		case '{':
			out = append(out, ch)
			out, i = repairKey(in, out, i)
		default:
			out = append(out, ch)
		}
	}
	return string(out)
}

// repairKey handles `{ key":` after position i by inserting the missing quote.
func repairKey(in, out []rune, i int) ([]rune, int) {
	j := i + 1
	for j < len(in) && unicode.IsSpace(in[j]) {
		j++
	}
	k := j
	for k < len(in) && (unicode.IsLetter(in[k]) || unicode.IsDigit(in[k]) || in[k] == '_') {
		k++
	}
	if k == j || k+1 >= len(in) || in[k] != '"' || in[k+1] != ':' {
		return out, i
	}
	out = append(out, in[i+1:j]...)
	out = append(out, '"')
	out = append(out, in[j:k]...)
	out = append(out, '"', ':')
	return out, k + 1
}

func parseScores(raw json.RawMessage, personas []string) map[string]int {
	var m map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &m) != nil {
		return nil
	}

	allowed := make(map[string]bool, len(personas))
	for _, p := range personas {
		allowed[strings.ToLower(p)] = true
	}

	scores := make(map[string]int, len(m))
	for k, v := range m {
		key := strings.ToLower(strings.TrimSpace(k))
		if len(allowed) > 0 && !allowed[key] {
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			continue
		}
		scores[key] = int(math.Round(clamp(f, 0, 100)))
	}
	if len(scores) == 0 {
		return nil
	}
	return scores
}

func parseLabel(raw json.RawMessage) *string {
	s := parseString(raw)
	if s == nil {
		return nil
	}
	v := strings.ToLower(*s)
	return &v
}

func parseFocus(raw json.RawMessage) *string {
	s := parseString(raw)
	if s == nil {
		return nil
	}
	if r := []rune(*s); len(r) > maxFocusRunes {
		v := strings.TrimSpace(string(r[:maxFocusRunes]))
		return &v
	}
	return s
}

func parseString(raw json.RawMessage) *string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func parseTopics(raw json.RawMessage, maxTopics int) []string {
	var items []any
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return nil
	}

	seen := make(map[string]bool, len(items))
	topics := make([]string, 0, min(len(items), max(maxTopics, 0)))
	for _, it := range items {
		if maxTopics > 0 && len(topics) >= maxTopics {
			break
		}
		s, ok := it.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || seen[strings.ToLower(s)] {
			continue
		}
		seen[strings.ToLower(s)] = true
		topics = append(topics, s)
	}
	return topics
}

func parseConfidence(raw json.RawMessage) *float64 {
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return nil
	}
	f, ok := toFloat(v)
	if !ok {
		return nil
	}
	f = clamp(f, 0, 1)
	return &f
}

func parseEntities(raw json.RawMessage) []models.EntityDescriptor {
	var items []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return []models.EntityDescriptor{}
	}

	out := make([]models.EntityDescriptor, 0, len(items))
	for _, item := range items {
		var e struct {
			Name       string `json:"name"`
			Type       string `json:"type"`
			Aliases    []any  `json:"aliases"`
			Definition string `json:"definition"`
		}
		if json.Unmarshal(item, &e) != nil {
			continue
		}
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		typ := strings.ToLower(strings.TrimSpace(e.Type))
		if typ == "" {
			typ = "concept"
		}
		out = append(out, models.EntityDescriptor{
			Name:       name,
			Type:       typ,
			Aliases:    stringsOf(e.Aliases),
			Definition: strings.TrimSpace(e.Definition),
		})
	}
	return out
}

func parseRelationships(raw json.RawMessage) []models.RelationshipDescriptor {
	var items []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return []models.RelationshipDescriptor{}
	}

	out := make([]models.RelationshipDescriptor, 0, len(items))
	for _, item := range items {
		var r struct {
			Source     string `json:"source"`
			SourceType string `json:"source_type"`
			Target     string `json:"target"`
			TargetType string `json:"target_type"`
			Type       string `json:"type"`
			Strength   any    `json:"strength"`
			Confidence any    `json:"confidence"`
			Context    string `json:"context"`
		}
		if json.Unmarshal(item, &r) != nil {
			continue
		}
		d := models.RelationshipDescriptor{
			Source:     strings.TrimSpace(r.Source),
			SourceType: strings.ToLower(strings.TrimSpace(r.SourceType)),
			Target:     strings.TrimSpace(r.Target),
			TargetType: strings.ToLower(strings.TrimSpace(r.TargetType)),
			Type:       strings.ToLower(strings.TrimSpace(r.Type)),
			Strength:   unitOr(r.Strength, 0.5),
			Confidence: unitOr(r.Confidence, 0.5),
			Context:    strings.TrimSpace(r.Context),
		}
		if d.Source == "" || d.Target == "" || d.Type == "" {
			continue
		}
		out = append(out, d)
	}
	return out
}

func stringsOf(items []any) []string {
	var out []string
	for _, it := range items {
		if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func unitOr(v any, def float64) float64 {
	f, ok := toFloat(v)
	if !ok {
		return def
	}
	return clamp(f, 0, 1)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f)
	default:
		return 0, false
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
