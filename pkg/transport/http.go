// Package transport 提供出站 HTTP 调用
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/KodaTao/CallForge/pkg/observability"
	"github.com/KodaTao/CallForge/pkg/request"
	"github.com/KodaTao/CallForge/pkg/types"
)

// Response 出站调用的响应
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Transport 发送已物化请求的协作者
// 连接级失败返回 *types.TransportError；任何状态码都作为正常响应返回
type Transport interface {
	Send(ctx context.Context, req *request.Rendered) (*Response, error)
}

// Config 传输层配置
type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int64 // 响应体读取上限，0 表示使用默认值
}

// defaultMaxBodyBytes 默认最多读取 10MB 响应体
const defaultMaxBodyBytes = 10 << 20

// HTTPTransport 基于 net/http 的实现
type HTTPTransport struct {
	client       *http.Client
	maxBodyBytes int64
}

// NewHTTPTransport 创建 HTTP 传输层
func NewHTTPTransport(cfg Config) *HTTPTransport {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second // 默认超时 30 秒
	}
	return NewHTTPTransportWithClient(&http.Client{Timeout: cfg.Timeout}, cfg.MaxBodyBytes)
}

// NewHTTPTransportWithClient 使用自定义 http.Client（用于测试）
func NewHTTPTransportWithClient(client *http.Client, maxBodyBytes int64) *HTTPTransport {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &HTTPTransport{client: client, maxBodyBytes: maxBodyBytes}
}

// Send 发送请求
func (t *HTTPTransport) Send(ctx context.Context, r *request.Rendered) (*Response, error) {
	ctx, span := observability.Tracer().Start(ctx, "callforge.transport.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.request.method", r.Method)),
	)
	defer span.End()

	req, err := t.newRequest(ctx, r)
	if err != nil {
		err = redactError(r, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &types.TransportError{Err: err}
	}
	span.SetAttributes(attribute.String("server.address", req.URL.Host))

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		err = redactError(r, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.WarnContext(ctx, "Outbound request failed",
			"method", r.Method,
			"host", req.URL.Host,
			"error", err,
		)
		return nil, &types.TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodyBytes+1))
	if err == nil && int64(len(body)) > t.maxBodyBytes {
		err = fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, t.maxBodyBytes)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &types.TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	observability.DebugContext(ctx, "Outbound request completed",
		"method", r.Method,
		"host", req.URL.Host,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}

// redactError 隐去错误信息中 URL 的查询串取值和敏感参数值
// net/http 的 *url.Error 会带上完整的请求 URL
func redactError(r *request.Rendered, err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = &url.Error{Op: urlErr.Op, URL: r.RedactURL(urlErr.URL), Err: urlErr.Err}
	}
	if msg := err.Error(); r.Redact(msg) != msg {
		return errors.New(r.Redact(msg))
	}
	return err
}

// newRequest 把物化请求转成 *http.Request
func (t *HTTPTransport) newRequest(ctx context.Context, r *request.Rendered) (*http.Request, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if len(r.Query) > 0 {
		q := u.Query()
		for k, vs := range r.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	body, contentType, err := encodeBody(r)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for _, h := range r.Headers {
		req.Header.Add(h.Key, h.Value)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// encodeBody 按 Content-Type 编码请求体
// multipart 需要带 boundary 的 Content-Type，因此返回值会覆盖合成的 header
func encodeBody(r *request.Rendered) (io.Reader, string, error) {
	if r.Body == nil {
		return nil, "", nil
	}
	switch r.ContentType {
	case request.ContentTypeURLEncoded:
		fields, ok := r.Body.(map[string]string)
		if !ok {
			return nil, "", fmt.Errorf("urlencoded body must be a flat object, got %T", r.Body)
		}
		form := url.Values{}
		for k, v := range fields {
			form.Set(k, v)
		}
		return strings.NewReader(form.Encode()), request.ContentTypeURLEncoded, nil
	case request.ContentTypeFormData:
		fields, ok := r.Body.(map[string]string)
		if !ok {
			return nil, "", fmt.Errorf("multipart body must be a flat object, got %T", r.Body)
		}
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := w.WriteField(k, fields[k]); err != nil {
				return nil, "", err
			}
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return &buf, w.FormDataContentType(), nil
	default:
		data, err := r.EncodeBody()
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode body: %w", err)
		}
		return bytes.NewReader(data), r.ContentType, nil
	}
}

var (
	// ErrBodyTooLarge 响应体超过读取上限
	ErrBodyTooLarge = errors.New("response body too large")
)
