package function

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/KodaTao/CallForge/pkg/argument"
	"github.com/KodaTao/CallForge/pkg/observability"
	"github.com/KodaTao/CallForge/pkg/payload"
	"github.com/KodaTao/CallForge/pkg/request"
	"github.com/KodaTao/CallForge/pkg/transport"
	"github.com/KodaTao/CallForge/pkg/types"
)

// ExecuteResult 一次执行的结果
type ExecuteResult struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	// Body 按 payload 路径提取后的值；响应不是 JSON 时为原始字符串
	Body any `json:"body,omitempty"`
	// PathFallback payload 路径在本次响应上失配，Body 为完整响应
	PathFallback bool  `json:"path_fallback,omitempty"`
	DurationMs   int64 `json:"duration_ms"`
	// Claimed 调用失败，但错误已被错误通道认领
	Claimed bool   `json:"claimed,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Execute 执行函数：物化请求，发送，提取响应
// 非 2xx 且有响应体时作为正常结果返回；连接失败或没有响应体的非 2xx 上报错误通道，
// 通道未认领时返回 *types.TransportError
func (s *Service) Execute(ctx context.Context, id string, values map[string]any) (*ExecuteResult, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx = types.WithFunctionID(ctx, rec.ID)

	rendered, err := request.Build(rec.Template, rec.Metadata, values, s.escaper)
	if err != nil {
		s.metrics.Executions.WithLabelValues("invalid").Inc()
		return nil, err
	}
	observability.DebugContext(ctx, "Request rendered",
		"method", rendered.Method,
		"url", rendered.RedactURL(rendered.URL),
		"arguments", maskValues(rec.Arguments(), values),
	)

	start := time.Now()
	resp, err := s.sendWithRecover(ctx, rendered)
	duration := time.Since(start)
	s.metrics.ExecuteDuration.WithLabelValues(rendered.Method).Observe(duration.Seconds())

	if err == nil && len(resp.Body) == 0 && !isSuccess(resp.StatusCode) {
		err = &types.TransportError{StatusCode: resp.StatusCode, Err: errors.New("empty response body")}
	}
	if err != nil {
		return s.fail(ctx, rec, rendered, err, duration)
	}

	result := &ExecuteResult{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeaders(resp),
		DurationMs: duration.Milliseconds(),
	}
	body := json.RawMessage(resp.Body)
	if isSuccess(resp.StatusCode) && rec.PayloadPath != "" {
		extracted, err := payload.Extract(resp.Body, rec.PayloadPath)
		var pathErr *payload.PathError
		switch {
		case err == nil:
			body = extracted
		case errors.As(err, &pathErr):
			result.PathFallback = true
			s.metrics.PathFallbacks.Inc()
			observability.WarnContext(ctx, "Payload path did not resolve, returning raw response",
				"payload_path", rec.PayloadPath,
				"error", err,
			)
		default:
			return nil, err
		}
	}
	result.Body = decodeBody(body)

	status := "success"
	if !isSuccess(resp.StatusCode) {
		status = "http_error"
	}
	s.metrics.Executions.WithLabelValues(status).Inc()
	observability.FunctionCallLog(ctx, rec.Name, status, resp.StatusCode, duration.Milliseconds())
	return result, nil
}

// fail 把执行失败上报错误通道，通道未认领时向上抛出
// 上报和返回的错误信息中不含敏感参数值
func (s *Service) fail(ctx context.Context, rec *Record, rendered *request.Rendered, err error, duration time.Duration) (*ExecuteResult, error) {
	var te *types.TransportError
	if !errors.As(err, &te) {
		te = &types.TransportError{Err: err}
		err = te
	}
	if te.Err != nil {
		if msg := te.Err.Error(); rendered.Redact(msg) != msg {
			err = &types.TransportError{StatusCode: te.StatusCode, Err: errors.New(rendered.Redact(msg))}
		}
	}

	claimed := s.sink.Report(ctx, rec.Path(), err)
	s.metrics.SinkReports.WithLabelValues(strconv.FormatBool(claimed)).Inc()
	s.metrics.Executions.WithLabelValues("error").Inc()
	observability.FunctionCallLog(ctx, rec.Name, "error", 0, duration.Milliseconds())

	if !claimed {
		return nil, err
	}
	return &ExecuteResult{
		DurationMs: duration.Milliseconds(),
		Claimed:    true,
		Error:      err.Error(),
	}, nil
}

// sendWithRecover 发送请求并恢复传输层的 panic
func (s *Service) sendWithRecover(ctx context.Context, r *request.Rendered) (resp *transport.Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("transport panicked: %v", rec)
			observability.ErrorContext(ctx, "Transport panicked",
				"url", r.RedactURL(r.URL),
				"panic", rec,
			)
		}
	}()
	return s.transport.Send(ctx, r)
}

// maskValues 返回可写入日志的参数值，敏感参数被脱敏
func maskValues(args []argument.Argument, values map[string]any) map[string]any {
	secure := make(map[string]bool)
	for _, a := range args {
		if a.Secure {
			secure[a.Key] = true
			secure[a.Name] = true
		}
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		if secure[k] {
			out[k] = observability.MaskValue(fmt.Sprint(v))
			continue
		}
		if obj, ok := v.(map[string]any); ok && k == request.PayloadKey {
			out[k] = maskValues(args, obj)
			continue
		}
		out[k] = v
	}
	return out
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// decodeBody JSON 响应解码为值，否则返回原始字符串
func decodeBody(body json.RawMessage) any {
	if len(body) == 0 {
		return nil
	}
	if v, err := payload.Decode(body); err == nil {
		return v
	}
	return string(body)
}

func flattenHeaders(resp *transport.Response) map[string]string {
	if len(resp.Headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(resp.Headers))
	for k := range resp.Headers {
		out[k] = resp.Headers.Get(k)
	}
	return out
}
