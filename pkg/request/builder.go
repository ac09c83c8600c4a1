// Package request 根据请求模板和参数值组装最终的 HTTP 请求
package request

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	"github.com/KodaTao/CallForge/pkg/argument"
	"github.com/KodaTao/CallForge/pkg/observability"
	"github.com/KodaTao/CallForge/pkg/template"
	"github.com/KodaTao/CallForge/pkg/types"
)

// PayloadKey 聚合 payload 参数的调用参数名
const PayloadKey = "payload"

// Content-Type 常量
const (
	ContentTypeJSON       = "application/json"
	ContentTypeURLEncoded = "application/x-www-form-urlencoded"
	ContentTypeFormData   = "multipart/form-data"
)

// Rendered 完全物化的请求，交给传输层发送
type Rendered struct {
	Method      string              `json:"method"`
	URL         string              `json:"url"`
	Headers     []template.KeyValue `json:"headers,omitempty"`
	Query       url.Values          `json:"query,omitempty"` // 额外的查询参数（apiKey in=query）
	ContentType string              `json:"content_type,omitempty"`
	// Body 为 nil、已解析的 JSON 值、原始字符串，或表单折叠后的 map[string]string
	Body any `json:"body,omitempty"`

	secrets []string // 渲染进请求的敏感参数值
}

// Redact 把文本中出现的敏感参数值（含 URL 编码形式）替换为掩码
func (r *Rendered) Redact(s string) string {
	for _, secret := range r.secrets {
		for _, form := range []string{secret, url.QueryEscape(secret), url.PathEscape(secret)} {
			if form != "" {
				s = strings.ReplaceAll(s, form, observability.Masked)
			}
		}
	}
	return s
}

// RedactURL 返回可写入日志和错误信息的 URL：敏感值被替换，查询串只保留参数名
func (r *Rendered) RedactURL(raw string) string {
	raw = r.Redact(raw)
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = url.QueryEscape(k) + "=" + observability.Masked
	}
	u.RawQuery = strings.Join(parts, "&")
	return u.String()
}

// Header 按名称（大小写不敏感）查找 header
func (r *Rendered) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Key, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Build 渲染模板并组装请求
// 缺少必填的非 payload 参数时返回 ValidationError；payload 对象缺失只记录警告
func Build(tmpl template.RequestTemplate, metadata argument.Metadata, values map[string]any, esc template.Escaper) (*Rendered, error) {
	if esc == nil {
		esc = template.ControlEscaper
	}
	args := argument.Discover(tmpl, metadata)
	b := &binder{args: make(map[string]argument.Argument, len(args)), values: values, esc: esc}
	for _, a := range args {
		b.args[a.Key] = a
	}
	if err := b.checkRequired(args); err != nil {
		return nil, err
	}

	r := &Rendered{
		Method: strings.ToUpper(tmpl.Method),
		URL:    template.Render(tmpl.URL, b.lookup),
	}
	for _, h := range template.Enabled(tmpl.Headers) {
		r.Headers = append(r.Headers, template.KeyValue{
			Key:   template.Render(h.Key, b.lookup),
			Value: template.Render(h.Value, b.lookup),
		})
	}

	if err := applyAuth(r, tmpl.Auth, b.lookup); err != nil {
		return nil, err
	}
	if err := applyBody(r, tmpl.Body, b.lookup); err != nil {
		return nil, err
	}
	r.secrets = b.secrets
	return r, nil
}

// binder 把占位符键绑定到调用方传入的值
type binder struct {
	args          map[string]argument.Argument
	values        map[string]any
	esc           template.Escaper
	payloadWarned bool
	secrets       []string
}

func (b *binder) lookup(key string) (string, bool) {
	v, ok := b.value(key)
	if !ok {
		return "", false
	}
	s := template.FormatValue(v, b.esc)
	if b.args[key].Secure && s != "" {
		b.secrets = append(b.secrets, s)
	}
	return s, true
}

// value 查找参数值：payload 参数从聚合对象中按展示名读取，其余按键（其次按展示名）读取
func (b *binder) value(key string) (any, bool) {
	arg, known := b.args[key]
	if known && arg.Payload {
		obj, ok := b.values[PayloadKey].(map[string]any)
		if !ok {
			if !b.payloadWarned {
				b.payloadWarned = true
				observability.Warn("Payload object missing or not an object, payload arguments render empty",
					"argument", arg.Name,
				)
			}
			return nil, false
		}
		v, ok := obj[arg.Name]
		return v, ok
	}
	if v, ok := b.values[key]; ok {
		return v, true
	}
	if known && arg.Name != key {
		v, ok := b.values[arg.Name]
		return v, ok
	}
	return nil, false
}

func (b *binder) checkRequired(args []argument.Argument) error {
	var missing []string
	for _, a := range args {
		if !a.Required || a.Payload {
			continue
		}
		if _, ok := b.value(a.Key); !ok {
			missing = append(missing, a.Name)
		}
	}
	if len(missing) > 0 {
		return types.NewValidationError("arguments", "missing required arguments: %s", strings.Join(missing, ", "))
	}
	return nil
}

// applyAuth 按认证方式物化认证信息
func applyAuth(r *Rendered, auth template.Auth, lookup template.Lookup) error {
	switch a := auth.(type) {
	case nil, template.NoAuth:
		return nil
	case template.BasicAuth:
		creds := template.Render(a.Username, lookup) + ":" + template.Render(a.Password, lookup)
		r.setHeader("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(creds)))
	case template.BearerAuth:
		r.setHeader("Authorization", "Bearer "+template.Render(a.Token, lookup))
	case template.APIKeyAuth:
		key := template.Render(a.Key, lookup)
		value := template.Render(a.Value, lookup)
		switch a.In {
		case template.InHeader:
			r.setHeader(key, value)
		case template.InQuery:
			if r.Query == nil {
				r.Query = url.Values{}
			}
			r.Query.Set(key, value)
		default:
			return types.NewValidationError("auth.in", "unsupported api key location %q", a.In)
		}
	default:
		return types.NewValidationError("auth", "unsupported auth variant %T", auth)
	}
	return nil
}

// applyBody 按请求体模式物化请求体，并合成 Content-Type
func applyBody(r *Rendered, body template.Body, lookup template.Lookup) error {
	switch v := body.(type) {
	case nil, template.EmptyBody:
		return nil
	case template.RawBody:
		rendered := template.Render(v.Raw, lookup)
		if parsed, ok := parseJSON(rendered); ok {
			r.Body = parsed
		} else {
			r.Body = rendered
		}
		r.setContentType(ContentTypeJSON)
	case template.URLEncodedBody:
		r.Body = fold(v.Pairs, lookup)
		r.setContentType(ContentTypeURLEncoded)
	case template.FormDataBody:
		r.Body = fold(v.Pairs, lookup)
		r.setContentType(ContentTypeFormData)
	case template.GraphQLBody:
		gql := map[string]any{"query": template.Render(v.Query, lookup)}
		if vars := strings.TrimSpace(template.Render(v.Variables, lookup)); vars != "" {
			if parsed, ok := parseJSON(vars); ok {
				gql["variables"] = parsed
			} else {
				return types.NewValidationError("body.graphql.variables", "rendered variables are not valid JSON")
			}
		}
		r.Body = gql
		r.setContentType(ContentTypeJSON)
	default:
		return types.NewValidationError("body", "unsupported body variant %T", body)
	}
	return nil
}

// fold 把启用的键值对折叠成扁平对象，后出现的同名键覆盖前者
func fold(pairs []template.KeyValue, lookup template.Lookup) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, kv := range template.Enabled(pairs) {
		out[template.Render(kv.Key, lookup)] = template.Render(kv.Value, lookup)
	}
	return out
}

// parseJSON 尝试把文本解析为单个 JSON 值，数字保持原样
func parseJSON(s string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return nil, false
	}
	return v, true
}

// setHeader 设置 header，替换同名（大小写不敏感）的已有项
func (r *Rendered) setHeader(key, value string) {
	out := r.Headers[:0]
	for _, h := range r.Headers {
		if !strings.EqualFold(h.Key, key) {
			out = append(out, h)
		}
	}
	r.Headers = append(out, template.KeyValue{Key: key, Value: value})
}

// setContentType 合成的 Content-Type 替换用户提供的同名 header
func (r *Rendered) setContentType(ct string) {
	r.ContentType = ct
	r.setHeader("Content-Type", ct)
}

// EncodeBody 把请求体编码为 JSON 字节，原始字符串原样返回
func (r *Rendered) EncodeBody() ([]byte, error) {
	switch v := r.Body.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
		return bytes.TrimRight(buf.Bytes(), "\n"), nil
	}
}
