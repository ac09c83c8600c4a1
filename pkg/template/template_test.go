package template

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodaTao/CallForge/pkg/types"
)

func TestScan(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"none", "https://api.example.com/users", nil},
		{"single", "https://api.example.com/users/{{id}}", []string{"id"}},
		{"trimmed", "/users/{{ id }}/posts/{{post}}", []string{"id", "post"}},
		{"duplicates kept", "{{a}}-{{a}}", []string{"a", "a"}},
		{"empty key ignored", "{{}}{{x}}", []string{"x"}},
		{"unterminated", "{{a}} and {{b", []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Scan(tt.input))
		})
	}
}

func TestRender(t *testing.T) {
	values := map[string]string{"id": "42", "name": "Ann"}
	lookup := func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}

	assert.Equal(t, "/users/42", Render("/users/{{id}}", lookup))
	assert.Equal(t, "/users/42/Ann", Render("/users/{{ id }}/{{name}}", lookup))
	assert.Equal(t, "/users/", Render("/users/{{missing}}", lookup))
	assert.Equal(t, "{{}}x", Render("{{}}x", lookup))
	assert.Equal(t, "a {{b", Render("a {{b", lookup))
}

func TestControlEscaper(t *testing.T) {
	assert.Equal(t, `line1\nline2`, ControlEscaper("line1\nline2"))
	assert.Equal(t, `a\tb\r`, ControlEscaper("a\tb\r"))
	assert.Equal(t, `\u0001`, ControlEscaper("\x01"))
	assert.Equal(t, "plain", ControlEscaper("plain"))
	assert.Equal(t, "line1\nline2", NoEscape("line1\nline2"))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "", FormatValue(nil, nil))
	assert.Equal(t, `a\nb`, FormatValue("a\nb", ControlEscaper))
	assert.Equal(t, "3.5", FormatValue(3.5, nil))
	assert.Equal(t, "12", FormatValue(float64(12), nil))
	assert.Equal(t, "true", FormatValue(true, nil))
	assert.Equal(t, `{"a":1}`, FormatValue(map[string]any{"a": 1}, nil))
	assert.Equal(t, `[1,2]`, FormatValue([]any{1, 2}, nil))
}

func TestRequestTemplate_JSONRoundTrip(t *testing.T) {
	input := `{
		"url": "https://api.example.com/users/{{id}}?q=1",
		"method": "post",
		"headers": [{"key": "X-Token", "value": "{{token}}"}, {"key": "X-Off", "value": "{{off}}", "disabled": true}],
		"auth": {"type": "apikey", "key": "X-Api-Key", "value": "{{key}}", "in": "query"},
		"body": {"mode": "urlencoded", "urlencoded": [{"key": "name", "value": "{{name}}"}]}
	}`

	var tmpl RequestTemplate
	require.NoError(t, json.Unmarshal([]byte(input), &tmpl))

	assert.Equal(t, "POST", tmpl.Method)
	assert.Equal(t, "https://api.example.com/users/{{id}}", tmpl.BaseURL())
	assert.Equal(t, APIKeyAuth{Key: "X-Api-Key", Value: "{{key}}", In: InQuery}, tmpl.Auth)
	assert.Equal(t, URLEncodedBody{Pairs: []KeyValue{{Key: "name", Value: "{{name}}"}}}, tmpl.Body)

	data, err := json.Marshal(tmpl)
	require.NoError(t, err)

	var again RequestTemplate
	require.NoError(t, json.Unmarshal(data, &again))
	assert.Equal(t, tmpl, again)
}

func TestUnmarshal_UnknownVariants(t *testing.T) {
	var tmpl RequestTemplate
	err := json.Unmarshal([]byte(`{"url":"x","method":"GET","auth":{"type":"digest"}}`), &tmpl)
	assert.ErrorIs(t, err, ErrUnknownAuthType)

	err = json.Unmarshal([]byte(`{"url":"x","method":"GET","body":{"mode":"binary"}}`), &tmpl)
	assert.ErrorIs(t, err, ErrUnknownBodyMode)
}

func TestUnmarshal_DefaultsToEmptyVariants(t *testing.T) {
	var tmpl RequestTemplate
	require.NoError(t, json.Unmarshal([]byte(`{"url":"x","method":"GET"}`), &tmpl))
	assert.Equal(t, NoAuth{}, tmpl.Auth)
	assert.Equal(t, EmptyBody{}, tmpl.Body)
}

func TestValidate(t *testing.T) {
	base := RequestTemplate{URL: "https://api.example.com", Method: "GET"}

	tests := []struct {
		name    string
		auth    Auth
		wantErr bool
	}{
		{"no auth", NoAuth{}, false},
		{"nil auth", nil, false},
		{"basic ok", BasicAuth{Username: "u", Password: "p"}, false},
		{"basic missing username", BasicAuth{Password: "p"}, true},
		{"bearer missing token", BearerAuth{}, true},
		{"apikey header", APIKeyAuth{Key: "k", Value: "v", In: InHeader}, false},
		{"apikey cookie", APIKeyAuth{Key: "k", Value: "v", In: "cookie"}, true},
		{"apikey missing value", APIKeyAuth{Key: "k", In: InQuery}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := base
			tmpl.Auth = tt.auth
			err := Validate(tmpl)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, types.IsValidation(err), "want ValidationError, got %T", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_MethodAndURL(t *testing.T) {
	assert.True(t, types.IsValidation(Validate(RequestTemplate{Method: "GET"})))
	assert.True(t, types.IsValidation(Validate(RequestTemplate{URL: "x", Method: "BREW"})))
	assert.True(t, types.IsValidation(Validate(RequestTemplate{URL: "x", Method: "POST", Body: GraphQLBody{}})))
}

func TestSections_SkipsDisabled(t *testing.T) {
	tmpl := RequestTemplate{
		URL:     "/u/{{id}}",
		Method:  "POST",
		Headers: []KeyValue{{Key: "A", Value: "{{a}}"}, {Key: "B", Value: "{{b}}", Disabled: true}},
		Auth:    BearerAuth{Token: "{{token}}"},
		Body:    FormDataBody{Pairs: []KeyValue{{Key: "f", Value: "{{f}}"}, {Key: "g", Value: "{{g}}", Disabled: true}}},
	}

	s := tmpl.Sections()
	assert.Equal(t, []string{"id"}, Scan(s.URL))
	assert.Equal(t, []string{"a"}, Scan(s.Headers))
	assert.Equal(t, []string{"token"}, Scan(s.Auth))
	assert.Equal(t, []string{"f"}, Scan(s.Body))
}

func TestSections_KeepsSpecialCharacters(t *testing.T) {
	tmpl := RequestTemplate{
		URL:     "https://api.example.com/search?q={{a&b}}",
		Method:  "POST",
		Headers: []KeyValue{{Key: "X-Filter", Value: "{{<tag>}}"}},
		Auth:    BearerAuth{Token: "{{a&b}}"},
		Body:    RawBody{Raw: `{"q":"{{a&b}}"}`},
	}

	s := tmpl.Sections()
	assert.Equal(t, []string{"a&b"}, Scan(s.URL))
	assert.Equal(t, []string{"<tag>"}, Scan(s.Headers))
	assert.Equal(t, []string{"a&b"}, Scan(s.Auth))
	assert.Equal(t, []string{"a&b"}, Scan(s.Body))
}
