// Package template 提供请求模板的数据模型、占位符扫描与渲染
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// KeyValue 有序键值对，用于 header、urlencoded 和 form-data
type KeyValue struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Disabled bool   `json:"disabled,omitempty"` // 禁用的条目不参与扫描与渲染
}

// Enabled 过滤掉被禁用的条目
func Enabled(pairs []KeyValue) []KeyValue {
	out := make([]KeyValue, 0, len(pairs))
	for _, kv := range pairs {
		if !kv.Disabled {
			out = append(out, kv)
		}
	}
	return out
}

// RequestTemplate 录制下来的请求形状
type RequestTemplate struct {
	URL     string     `json:"url"`
	Method  string     `json:"method"`
	Headers []KeyValue `json:"headers,omitempty"`
	Auth    Auth       `json:"-"`
	Body    Body       `json:"-"`
}

// requestTemplateJSON RequestTemplate 的线上格式
type requestTemplateJSON struct {
	URL     string          `json:"url"`
	Method  string          `json:"method"`
	Headers []KeyValue      `json:"headers,omitempty"`
	Auth    json.RawMessage `json:"auth,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// MarshalJSON 编码模板，auth 和 body 使用带判别字段的扁平格式
func (t RequestTemplate) MarshalJSON() ([]byte, error) {
	auth, err := MarshalAuth(t.Auth)
	if err != nil {
		return nil, err
	}
	body, err := MarshalBody(t.Body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(requestTemplateJSON{
		URL:     t.URL,
		Method:  t.Method,
		Headers: t.Headers,
		Auth:    auth,
		Body:    body,
	})
}

// UnmarshalJSON 解码模板
func (t *RequestTemplate) UnmarshalJSON(data []byte) error {
	var raw requestTemplateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	auth, err := UnmarshalAuth(raw.Auth)
	if err != nil {
		return err
	}
	body, err := UnmarshalBody(raw.Body)
	if err != nil {
		return err
	}
	*t = RequestTemplate{
		URL:     raw.URL,
		Method:  strings.ToUpper(raw.Method),
		Headers: raw.Headers,
		Auth:    auth,
		Body:    body,
	}
	return nil
}

// BaseURL 返回去掉查询串和片段后的 URL，用于匹配候选函数
func (t RequestTemplate) BaseURL() string {
	u := t.URL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return u
}

// ==================== Auth ====================

// AuthType 认证方式判别值
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBasic  AuthType = "basic"
	AuthBearer AuthType = "bearer"
	AuthAPIKey AuthType = "apikey"
)

// Auth 认证模板，封闭接口，只能是本包定义的几种变体
type Auth interface {
	AuthType() AuthType
	isAuth()
}

// NoAuth 不认证
type NoAuth struct{}

// BasicAuth Basic 认证
type BasicAuth struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password"`
}

// BearerAuth Bearer Token 认证
type BearerAuth struct {
	Token string `json:"token" validate:"required"`
}

// APIKeyLocation API Key 注入位置
type APIKeyLocation string

const (
	InHeader APIKeyLocation = "header"
	InQuery  APIKeyLocation = "query"
)

// APIKeyAuth API Key 认证
type APIKeyAuth struct {
	Key   string         `json:"key" validate:"required"`
	Value string         `json:"value" validate:"required"`
	In    APIKeyLocation `json:"in" validate:"required,oneof=header query"`
}

func (NoAuth) AuthType() AuthType     { return AuthNone }
func (BasicAuth) AuthType() AuthType  { return AuthBasic }
func (BearerAuth) AuthType() AuthType { return AuthBearer }
func (APIKeyAuth) AuthType() AuthType { return AuthAPIKey }

func (NoAuth) isAuth()     {}
func (BasicAuth) isAuth()  {}
func (BearerAuth) isAuth() {}
func (APIKeyAuth) isAuth() {}

// authJSON 认证模板的扁平线上格式
type authJSON struct {
	Type     AuthType       `json:"type"`
	Username string         `json:"username,omitempty"`
	Password string         `json:"password,omitempty"`
	Token    string         `json:"token,omitempty"`
	Key      string         `json:"key,omitempty"`
	Value    string         `json:"value,omitempty"`
	In       APIKeyLocation `json:"in,omitempty"`
}

// MarshalAuth 编码认证模板，nil 或 NoAuth 编码为空
func MarshalAuth(a Auth) (json.RawMessage, error) {
	var out authJSON
	switch v := a.(type) {
	case nil, NoAuth:
		return nil, nil
	case BasicAuth:
		out = authJSON{Type: AuthBasic, Username: v.Username, Password: v.Password}
	case BearerAuth:
		out = authJSON{Type: AuthBearer, Token: v.Token}
	case APIKeyAuth:
		out = authJSON{Type: AuthAPIKey, Key: v.Key, Value: v.Value, In: v.In}
	default:
		return nil, fmt.Errorf("unsupported auth variant %T", a)
	}
	return marshalJSON(out)
}

// UnmarshalAuth 按 type 字段解码认证模板
func UnmarshalAuth(data json.RawMessage) (Auth, error) {
	if len(data) == 0 || string(data) == "null" {
		return NoAuth{}, nil
	}
	var raw authJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid auth: %w", err)
	}
	switch AuthType(strings.ToLower(string(raw.Type))) {
	case "", AuthNone, "noauth":
		return NoAuth{}, nil
	case AuthBasic:
		return BasicAuth{Username: raw.Username, Password: raw.Password}, nil
	case AuthBearer:
		return BearerAuth{Token: raw.Token}, nil
	case AuthAPIKey, "api_key", "apiKey":
		return APIKeyAuth{Key: raw.Key, Value: raw.Value, In: APIKeyLocation(strings.ToLower(string(raw.In)))}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAuthType, raw.Type)
	}
}

// ==================== Body ====================

// BodyMode 请求体判别值
type BodyMode string

const (
	BodyEmpty      BodyMode = "none"
	BodyRaw        BodyMode = "raw"
	BodyURLEncoded BodyMode = "urlencoded"
	BodyFormData   BodyMode = "formdata"
	BodyGraphQL    BodyMode = "graphql"
)

// Body 请求体模板，封闭接口
type Body interface {
	Mode() BodyMode
	isBody()
}

// EmptyBody 无请求体
type EmptyBody struct{}

// RawBody 原始字符串请求体，通常是 JSON
type RawBody struct {
	Raw string `json:"raw"`
}

// URLEncodedBody application/x-www-form-urlencoded 键值对
type URLEncodedBody struct {
	Pairs []KeyValue `json:"urlencoded"`
}

// FormDataBody multipart/form-data 键值对
type FormDataBody struct {
	Pairs []KeyValue `json:"formdata"`
}

// GraphQLBody GraphQL 查询和变量
type GraphQLBody struct {
	Query     string `json:"query"`
	Variables string `json:"variables,omitempty"`
}

func (EmptyBody) Mode() BodyMode      { return BodyEmpty }
func (RawBody) Mode() BodyMode        { return BodyRaw }
func (URLEncodedBody) Mode() BodyMode { return BodyURLEncoded }
func (FormDataBody) Mode() BodyMode   { return BodyFormData }
func (GraphQLBody) Mode() BodyMode    { return BodyGraphQL }

func (EmptyBody) isBody()      {}
func (RawBody) isBody()        {}
func (URLEncodedBody) isBody() {}
func (FormDataBody) isBody()   {}
func (GraphQLBody) isBody()    {}

// bodyJSON 请求体的线上格式
type bodyJSON struct {
	Mode       BodyMode     `json:"mode"`
	Raw        string       `json:"raw,omitempty"`
	URLEncoded []KeyValue   `json:"urlencoded,omitempty"`
	FormData   []KeyValue   `json:"formdata,omitempty"`
	GraphQL    *GraphQLBody `json:"graphql,omitempty"`
}

// MarshalBody 编码请求体模板，nil 或 EmptyBody 编码为空
func MarshalBody(b Body) (json.RawMessage, error) {
	var out bodyJSON
	switch v := b.(type) {
	case nil, EmptyBody:
		return nil, nil
	case RawBody:
		out = bodyJSON{Mode: BodyRaw, Raw: v.Raw}
	case URLEncodedBody:
		out = bodyJSON{Mode: BodyURLEncoded, URLEncoded: v.Pairs}
	case FormDataBody:
		out = bodyJSON{Mode: BodyFormData, FormData: v.Pairs}
	case GraphQLBody:
		gql := v
		out = bodyJSON{Mode: BodyGraphQL, GraphQL: &gql}
	default:
		return nil, fmt.Errorf("unsupported body variant %T", b)
	}
	return marshalJSON(out)
}

// UnmarshalBody 按 mode 字段解码请求体模板
func UnmarshalBody(data json.RawMessage) (Body, error) {
	if len(data) == 0 || string(data) == "null" {
		return EmptyBody{}, nil
	}
	var raw bodyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid body: %w", err)
	}
	switch BodyMode(strings.ToLower(string(raw.Mode))) {
	case "", BodyEmpty, "empty":
		return EmptyBody{}, nil
	case BodyRaw:
		return RawBody{Raw: raw.Raw}, nil
	case BodyURLEncoded:
		return URLEncodedBody{Pairs: raw.URLEncoded}, nil
	case BodyFormData:
		return FormDataBody{Pairs: raw.FormData}, nil
	case BodyGraphQL:
		if raw.GraphQL == nil {
			return GraphQLBody{}, nil
		}
		return *raw.GraphQL, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBodyMode, raw.Mode)
	}
}

// 错误定义
var (
	ErrUnknownAuthType = &TemplateError{Message: "unknown auth type"}
	ErrUnknownBodyMode = &TemplateError{Message: "unknown body mode"}
)

// TemplateError 模板格式错误
type TemplateError struct {
	Message string
}

func (e *TemplateError) Error() string {
	return e.Message
}

// marshalJSON 编码时不转义 <>&，占位符在 url 与其他部分中保持相同的写法
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
