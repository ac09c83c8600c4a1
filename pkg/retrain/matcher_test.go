package retrain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodaTao/CallForge/pkg/argument"
	"github.com/KodaTao/CallForge/pkg/template"
)

func usersTemplate() template.RequestTemplate {
	return template.RequestTemplate{URL: "https://api.example.com/users/{{id}}", Method: "GET"}
}

func stored(types map[string]string) argument.Metadata {
	md := make(argument.Metadata, len(types))
	for k, typ := range types {
		md[k] = argument.Meta{Name: k, Required: argument.BoolPtr(true), Type: typ}
	}
	return md
}

func TestMatch_AcceptsSameShape(t *testing.T) {
	m := NewMatcher(argument.DefaultArgCountLimit, nil)
	candidates := []Candidate{{ID: "fn-1", Metadata: stored(map[string]string{"id": argument.TypeString})}}

	got, ok := m.Match(candidates, Capture{Template: usersTemplate(), Samples: map[string]any{"id": "ann"}})
	require.True(t, ok)
	assert.Equal(t, "fn-1", got.ID)
}

func TestMatch_RejectsTypeChange(t *testing.T) {
	m := NewMatcher(argument.DefaultArgCountLimit, nil)
	candidates := []Candidate{{ID: "fn-1", Metadata: stored(map[string]string{"id": argument.TypeString})}}

	_, ok := m.Match(candidates, Capture{Template: usersTemplate(), Samples: map[string]any{"id": "123"}})
	assert.False(t, ok)
}

func TestMatch_EditedTypeSurvives(t *testing.T) {
	m := NewMatcher(argument.DefaultArgCountLimit, nil)
	md := stored(map[string]string{"id": argument.TypeString})
	meta := md["id"]
	meta.Edited = true
	md["id"] = meta

	_, ok := m.Match([]Candidate{{ID: "fn-1", Metadata: md}}, Capture{Template: usersTemplate(), Samples: map[string]any{"id": "123"}})
	assert.True(t, ok, "a user-pinned type is carried over and does not count as a shape change")
}

func TestMatch_RejectsNewArgument(t *testing.T) {
	m := NewMatcher(argument.DefaultArgCountLimit, nil)
	candidates := []Candidate{{ID: "fn-1", Metadata: stored(map[string]string{"id": argument.TypeString})}}

	tmpl := usersTemplate()
	tmpl.Headers = []template.KeyValue{{Key: "Authorization", Value: "{{token}}"}}

	_, ok := m.Match(candidates, Capture{Template: tmpl})
	assert.False(t, ok)
}

func TestMatch_RejectsRenamedKey(t *testing.T) {
	m := NewMatcher(argument.DefaultArgCountLimit, nil)
	candidates := []Candidate{{ID: "fn-1", Metadata: stored(map[string]string{"userId": argument.TypeString})}}

	_, ok := m.Match(candidates, Capture{Template: usersTemplate()})
	assert.False(t, ok)
}

func TestMatch_FirstAcceptedWins(t *testing.T) {
	m := NewMatcher(argument.DefaultArgCountLimit, nil)
	candidates := []Candidate{
		{ID: "fn-number", Metadata: stored(map[string]string{"id": argument.TypeNumber})},
		{ID: "fn-a", Metadata: stored(map[string]string{"id": argument.TypeString})},
		{ID: "fn-b", Metadata: stored(map[string]string{"id": argument.TypeString})},
	}

	got, ok := m.Match(candidates, Capture{Template: usersTemplate()})
	require.True(t, ok)
	assert.Equal(t, "fn-a", got.ID)
}

func TestMatch_NoCandidates(t *testing.T) {
	m := NewMatcher(argument.DefaultArgCountLimit, nil)
	_, ok := m.Match(nil, Capture{Template: usersTemplate()})
	assert.False(t, ok)
}
