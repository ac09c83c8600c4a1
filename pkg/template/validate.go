package template

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/KodaTao/CallForge/pkg/types"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

var allowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// Validate 在教学阶段校验模板
// 认证模板缺少判别值要求的字段、apiKey 位置不是 header/query 都是校验错误
func Validate(t RequestTemplate) error {
	if strings.TrimSpace(t.URL) == "" {
		return types.NewValidationError("url", "is required")
	}
	if !allowedMethods[strings.ToUpper(t.Method)] {
		return types.NewValidationError("method", "unsupported method %q", t.Method)
	}

	switch a := t.Auth.(type) {
	case nil, NoAuth:
	case BasicAuth, BearerAuth, APIKeyAuth:
		if err := validate.Struct(a); err != nil {
			return authValidationError(a.AuthType(), err)
		}
	default:
		return types.NewValidationError("auth", "unsupported auth variant %T", t.Auth)
	}

	switch b := t.Body.(type) {
	case nil, EmptyBody, RawBody, URLEncodedBody, FormDataBody:
	case GraphQLBody:
		if strings.TrimSpace(b.Query) == "" {
			return types.NewValidationError("body.graphql.query", "is required")
		}
	default:
		return types.NewValidationError("body", "unsupported body variant %T", t.Body)
	}
	return nil
}

// authValidationError 把 validator 的字段错误转成 ValidationError
func authValidationError(kind AuthType, err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		field := "auth." + strings.ToLower(fe.Field())
		if fe.Tag() == "oneof" {
			return types.NewValidationError(field, "%s auth location must be one of [%s], got %q", kind, fe.Param(), fe.Value())
		}
		return types.NewValidationError(field, "is required for %s auth", kind)
	}
	return &types.ValidationError{Field: "auth", Message: "invalid " + string(kind) + " auth", Err: err}
}

// Sections 模板四个部分各自序列化后的可扫描字符串
type Sections struct {
	URL     string
	Headers string
	Auth    string
	Body    string
}

// Sections 把模板序列化为四段可扫描文本，禁用的 header 与请求体条目不参与
func (t RequestTemplate) Sections() Sections {
	s := Sections{URL: t.URL}
	if headers := Enabled(t.Headers); len(headers) > 0 {
		data, _ := marshalJSON(headers)
		s.Headers = string(data)
	}
	if auth, err := MarshalAuth(t.Auth); err == nil {
		s.Auth = string(auth)
	}
	if body, err := MarshalBody(enabledBody(t.Body)); err == nil {
		s.Body = string(body)
	}
	return s
}

// enabledBody 去掉请求体里被禁用的键值对
func enabledBody(b Body) Body {
	switch v := b.(type) {
	case URLEncodedBody:
		return URLEncodedBody{Pairs: Enabled(v.Pairs)}
	case FormDataBody:
		return FormDataBody{Pairs: Enabled(v.Pairs)}
	default:
		return b
	}
}
