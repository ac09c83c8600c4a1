package describe

import (
	"context"
	"errors"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodaTao/CallForge/pkg/template"
)

func TestDeriveName(t *testing.T) {
	tests := []struct {
		method, url, want string
	}{
		{"GET", "https://api.example.com/users/{{id}}", "get_users_id"},
		{"post", "https://api.example.com/v1/orderItems", "post_v1_order_items"},
		{"DELETE", "https://api.example.com", "delete"},
		{"GET", "/relative/path-with-dash", "get_relative_path_with_dash"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DeriveName(tt.method, tt.url), "%s %s", tt.method, tt.url)
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "get_user_profile", Sanitize(" Get User Profile "))
	assert.Equal(t, "list_orders", Sanitize("listOrders"))
}

type fakeChat struct {
	req     openai.ChatCompletionRequest
	content string
	err     error
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.content}}},
	}, nil
}

func TestOpenAIDescriber_Describe(t *testing.T) {
	chat := &fakeChat{content: `{"name": "Get User", "description": "Fetches a user by id."}`}
	d := newOpenAIDescriber(chat, "test-model", time.Second)

	out, err := d.Describe(context.Background(), Input{
		Template:       template.RequestTemplate{URL: "https://api.example.com/users/{{id}}?x=1", Method: "get"},
		ResponseSample: []byte(`{"name":"Ann"}`),
		ArgumentNames:  []string{"id"},
	})
	require.NoError(t, err)
	assert.Equal(t, "get_user", out.Name)
	assert.Equal(t, "Fetches a user by id.", out.Description)

	require.Len(t, chat.req.Messages, 2)
	user := chat.req.Messages[1].Content
	assert.Contains(t, user, "GET https://api.example.com/users/{{id}}")
	assert.Contains(t, user, "Arguments: id")
	assert.Contains(t, user, `{"name":"Ann"}`)
	assert.Equal(t, "test-model", chat.req.Model)
}

func TestOpenAIDescriber_Errors(t *testing.T) {
	in := Input{Template: template.RequestTemplate{URL: "/x", Method: "GET"}}

	d := newOpenAIDescriber(&fakeChat{err: errors.New("rate limited")}, "m", time.Second)
	_, err := d.Describe(context.Background(), in)
	assert.Error(t, err)

	d = newOpenAIDescriber(&fakeChat{content: "not json"}, "m", time.Second)
	_, err = d.Describe(context.Background(), in)
	assert.Error(t, err)

	d = newOpenAIDescriber(&fakeChat{content: `{"name": ""}`}, "m", time.Second)
	_, err = d.Describe(context.Background(), in)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestNewOpenAIDescriber_RequiresKey(t *testing.T) {
	_, err := NewOpenAIDescriber(Config{Enabled: true})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestDerived_Describe(t *testing.T) {
	out, err := Derived{}.Describe(context.Background(), Input{
		Template: template.RequestTemplate{URL: "https://api.example.com/users/{{id}}", Method: "GET"},
	})
	require.NoError(t, err)
	assert.Equal(t, "get_users_id", out.Name)
}
