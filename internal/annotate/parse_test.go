package annotate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPersonas = []string{"developer", "executive"}

func TestParse_Full(t *testing.T) {
	resp := "```json\n" + `{
		"persona_scores": {"developer": 140, "Executive": -5, "intern": 50},
		"content_type": "Explanation",
		"complexity": "advanced",
		"focus": "  how the scheduler claims jobs  ",
		"topics": ["queues", "Queues", "locking", "", 7, "retries", "sql", "go", "extra"],
		"confidence": 1.7,
		"entities": [
			{"name": "PostgreSQL", "type": "Tool", "aliases": ["postgres", 3]},
			{"name": "", "type": "tool"},
			{"name": "Scheduler"}
		],
		"relationships": [
			{"source": "Scheduler", "target": "PostgreSQL", "type": "Uses", "strength": 2, "confidence": "0.8"},
			{"source": "Scheduler", "target": "", "type": "uses"}
		]
	}` + "\n```"

	a, err := Parse(resp, testPersonas, 5)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"developer": 100, "executive": 0}, a.PersonaScores)
	require.NotNil(t, a.ContentType)
	assert.Equal(t, "explanation", *a.ContentType)
	assert.Equal(t, "advanced", *a.Complexity)
	assert.Equal(t, "how the scheduler claims jobs", *a.Focus)
	assert.Equal(t, []string{"queues", "locking", "retries", "sql", "go"}, a.Topics)
	assert.Equal(t, 1.0, *a.Confidence)

	require.Len(t, a.Entities, 2)
	assert.Equal(t, "tool", a.Entities[0].Type)
	assert.Equal(t, []string{"postgres"}, a.Entities[0].Aliases)
	assert.Equal(t, "concept", a.Entities[1].Type)

	require.Len(t, a.Relationships, 1)
	assert.Equal(t, "uses", a.Relationships[0].Type)
	assert.Equal(t, 1.0, a.Relationships[0].Strength)
	assert.Equal(t, 0.8, a.Relationships[0].Confidence)
}

func TestParse_WrongShapesDefault(t *testing.T) {
	a, err := Parse(`{"persona_scores": "high", "topics": "go", "entities": {"name": "x"}, "relationships": null, "confidence": "very"}`, testPersonas, 5)
	require.NoError(t, err)

	assert.Nil(t, a.PersonaScores)
	assert.Nil(t, a.Topics)
	assert.Nil(t, a.Confidence)
	assert.Nil(t, a.ContentType)
	assert.NotNil(t, a.Entities)
	assert.Empty(t, a.Entities)
	assert.NotNil(t, a.Relationships)
	assert.Empty(t, a.Relationships)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"prose", "I cannot annotate this segment."},
		{"broken json", `{"persona_scores": {"developer": }`},
		{"array only", `[1, 2, 3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Parse(tt.text, testPersonas, 5)
			assert.Error(t, err)
			assert.Nil(t, a)
		})
	}
}

func TestParse_SurroundingProse(t *testing.T) {
	a, err := Parse("Here is the annotation:\n{\"focus\": \"billing\"}\nHope this helps!", testPersonas, 5)
	require.NoError(t, err)
	assert.Equal(t, "billing", *a.Focus)
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"single line fence", "```{\"a\":1}```", `{"a":1}`},
		{"no fence", `  {"a":1} `, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripFences(tt.in))
		})
	}
}

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"missing opening quote", `{"a": 1, b": 2}`},
		{"missing quote after brace", `{a": 1}`},
		{"trailing comma object", `{"a": 1,}`},
		{"trailing comma array", `{"a": [1, 2, ]}`},
		{"comma inside string untouched", `{"a": "x, }"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v map[string]any
			assert.NoError(t, json.Unmarshal([]byte(repairJSON(tt.in)), &v), "repaired: %s", repairJSON(tt.in))
		})
	}

	assert.Equal(t, `{"a": "x, }"}`, repairJSON(`{"a": "x, }"}`))
}

func TestParse_FocusTruncated(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	a, err := Parse(`{"focus": "`+string(long)+`"}`, testPersonas, 5)
	require.NoError(t, err)
	assert.Len(t, *a.Focus, maxFocusRunes)
}
