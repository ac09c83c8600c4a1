package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodaTao/CallForge/pkg/argument"
	"github.com/KodaTao/CallForge/pkg/request"
	"github.com/KodaTao/CallForge/pkg/template"
	"github.com/KodaTao/CallForge/pkg/types"
)

func TestHTTPTransport_SendJSON(t *testing.T) {
	var gotBody, gotCT, gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		gotCT = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(Config{})
	resp, err := tr.Send(context.Background(), &request.Rendered{
		Method:      http.MethodPost,
		URL:         srv.URL + "/items?a=1",
		Headers:     []template.KeyValue{{Key: "Authorization", Value: "Bearer t"}, {Key: "Content-Type", Value: request.ContentTypeJSON}},
		Query:       map[string][]string{"api_key": {"k"}},
		ContentType: request.ContentTypeJSON,
		Body:        map[string]any{"name": "Ann"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `{"ok":true}`, string(resp.Body))
	assert.JSONEq(t, `{"name":"Ann"}`, gotBody)
	assert.Equal(t, request.ContentTypeJSON, gotCT)
	assert.Equal(t, "Bearer t", gotAuth)
	assert.Equal(t, "a=1&api_key=k", gotQuery)
}

func TestHTTPTransport_SendForms(t *testing.T) {
	var form map[string][]string
	var ct string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct = r.Header.Get("Content-Type")
		if r.Header.Get("Content-Type") == request.ContentTypeURLEncoded {
			_ = r.ParseForm()
			form = r.PostForm
		} else {
			_ = r.ParseMultipartForm(1 << 20)
			form = r.MultipartForm.Value
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(Config{})

	_, err := tr.Send(context.Background(), &request.Rendered{
		Method: http.MethodPost, URL: srv.URL, ContentType: request.ContentTypeURLEncoded,
		Body: map[string]string{"a": "1", "b": "x y"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"x y"}, form["b"])

	_, err = tr.Send(context.Background(), &request.Rendered{
		Method: http.MethodPost, URL: srv.URL, ContentType: request.ContentTypeFormData,
		Headers: []template.KeyValue{{Key: "Content-Type", Value: request.ContentTypeFormData}},
		Body:    map[string]string{"file_name": "a.txt"},
	})
	require.NoError(t, err)
	assert.Contains(t, ct, "boundary=")
	assert.Equal(t, []string{"a.txt"}, form["file_name"])
}

func TestHTTPTransport_Non2xxIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"missing"}`))
	}))
	defer srv.Close()

	resp, err := NewHTTPTransport(Config{}).Send(context.Background(), &request.Rendered{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPTransport_ConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewHTTPTransport(Config{}).Send(context.Background(), &request.Rendered{Method: http.MethodGet, URL: url})
	require.Error(t, err)
	assert.True(t, types.IsTransport(err))
}

func TestHTTPTransport_ConnectionFailureHidesSecrets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	tmpl := template.RequestTemplate{
		URL:    base + "/v1/data",
		Method: http.MethodGet,
		Auth:   template.APIKeyAuth{Key: "api_key", Value: "{{key}}", In: template.InQuery},
	}
	md := argument.Metadata{"key": {Secure: argument.BoolPtr(true)}}
	rendered, err := request.Build(tmpl, md, map[string]any{"key": "SUPERSECRET123"}, nil)
	require.NoError(t, err)

	_, err = NewHTTPTransport(Config{}).Send(context.Background(), rendered)
	require.Error(t, err)
	assert.True(t, types.IsTransport(err))
	assert.NotContains(t, err.Error(), "SUPERSECRET123")
	assert.Contains(t, err.Error(), "api_key=****")
}

func TestHTTPTransport_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":"0123456789"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPTransportWithClient(srv.Client(), 8).Send(context.Background(), &request.Rendered{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.True(t, types.IsTransport(err))
	assert.ErrorIs(t, err, ErrBodyTooLarge)

	resp, err := NewHTTPTransportWithClient(srv.Client(), 21).Send(context.Background(), &request.Rendered{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, `{"data":"0123456789"}`, string(resp.Body))
}
