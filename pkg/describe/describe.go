// Package describe 为新教学的函数生成名称和描述
package describe

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/KodaTao/CallForge/pkg/template"
)

// Input 描述生成的输入
type Input struct {
	Template       template.RequestTemplate
	ResponseSample json.RawMessage
	ArgumentNames  []string
}

// Description 生成结果
type Description struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Describer 命名/描述协作者
type Describer interface {
	Describe(ctx context.Context, in Input) (Description, error)
}

// Derived 不依赖外部服务，根据 method 和 URL 路径推导名称
// 例如 GET https://api.example.com/users/{{id}} -> get_users_id
type Derived struct{}

// Describe 实现 Describer
func (Derived) Describe(_ context.Context, in Input) (Description, error) {
	return Description{
		Name:        DeriveName(in.Template.Method, in.Template.BaseURL()),
		Description: strings.ToUpper(in.Template.Method) + " " + in.Template.BaseURL(),
	}, nil
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

// DeriveName 由 method 和 URL 路径生成函数名
func DeriveName(method, rawURL string) string {
	path := rawURL
	if i := strings.Index(path, "://"); i >= 0 {
		path = path[i+3:]
		if j := strings.IndexByte(path, '/'); j >= 0 {
			path = path[j:]
		} else {
			path = ""
		}
	}

	parts := []string{strings.ToLower(method)}
	for _, seg := range strings.Split(path, "/") {
		seg = strings.NewReplacer("{{", "", "}}", "").Replace(seg)
		seg = strings.Trim(nonWord.ReplaceAllString(toSnakeCase(seg), "_"), "_")
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return strings.Join(parts, "_")
}

// toSnakeCase 将驼峰命名转换为下划线命名
func toSnakeCase(s string) string {
	var result strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result.WriteByte('_')
		}
		if r >= 'A' && r <= 'Z' {
			result.WriteByte(byte(r + 32)) // 转小写
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Sanitize 规范化外部返回的名称，使其可以作为 SDK 中的函数名
func Sanitize(name string) string {
	return strings.Trim(nonWord.ReplaceAllString(toSnakeCase(strings.TrimSpace(name)), "_"), "_")
}
