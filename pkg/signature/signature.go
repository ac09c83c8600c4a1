// Package signature 把存储的函数投影为有序、带类型的调用签名，供客户端 SDK 生成使用
package signature

import (
	"bytes"
	"encoding/json"

	"github.com/KodaTao/CallForge/pkg/argument"
	"github.com/KodaTao/CallForge/pkg/observability"
	"github.com/KodaTao/CallForge/pkg/payload"
	"github.com/KodaTao/CallForge/pkg/request"
	"github.com/KodaTao/CallForge/pkg/template"
)

// Source 生成签名所需的函数信息
type Source struct {
	ID             string
	Name           string
	Description    string
	Template       template.RequestTemplate
	Metadata       argument.Metadata
	ResponseSample json.RawMessage
	PayloadPath    string
}

// Param 签名中的一个参数
type Param struct {
	Name        string            `json:"name"`
	Key         string            `json:"key,omitempty"` // 合成的 payload 参数没有占位符键
	Type        string            `json:"type"`
	Schema      *argument.Schema  `json:"schema,omitempty"`
	Description string            `json:"description,omitempty"`
	Required    bool              `json:"required"`
	Secure      bool              `json:"secure,omitempty"`
	Properties  []Param           `json:"properties,omitempty"` // 仅 payload 参数
	Location    argument.Location `json:"location,omitempty"`
}

// Returns 返回值类型
type Returns struct {
	Type   string           `json:"type"`
	Schema *argument.Schema `json:"schema,omitempty"`
}

// Specification 只读的派生视图，不持久化
type Specification struct {
	FunctionID  string  `json:"function_id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Params      []Param `json:"params"`
	Returns     Returns `json:"returns"`
}

// Generate 生成签名
// 参数顺序：必填的非 payload 参数，合成的 payload 对象参数（若有），可选的非 payload 参数
func Generate(src Source, inferrer argument.TypeInferrer) Specification {
	if inferrer == nil {
		inferrer = argument.JSONInferrer{}
	}
	args := argument.Discover(src.Template, src.Metadata)

	var required, optional, payloadArgs []Param
	for _, a := range args {
		p := toParam(a)
		switch {
		case a.Payload:
			payloadArgs = append(payloadArgs, p)
		case a.Required:
			required = append(required, p)
		default:
			optional = append(optional, p)
		}
	}

	params := make([]Param, 0, len(args)+1)
	params = append(params, required...)
	if len(payloadArgs) > 0 {
		params = append(params, payloadParam(payloadArgs))
	}
	params = append(params, optional...)

	return Specification{
		FunctionID:  src.ID,
		Name:        src.Name,
		Description: src.Description,
		Params:      params,
		Returns:     returnType(src, inferrer),
	}
}

func toParam(a argument.Argument) Param {
	typ := a.Type
	if typ == "" {
		typ = argument.TypeString
	}
	return Param{
		Name:        a.Name,
		Key:         a.Key,
		Type:        typ,
		Schema:      a.Schema,
		Description: a.Description,
		Required:    a.Required,
		Secure:      a.Secure,
		Location:    a.Location,
	}
}

// payloadParam 合成 payload 对象参数，属性即 payload 参数，按展示名索引
func payloadParam(members []Param) Param {
	schema := &argument.Schema{Type: argument.TypeObject, Properties: make(map[string]*argument.Schema, len(members))}
	anyRequired := false
	for _, m := range members {
		prop := m.Schema.Clone()
		if prop == nil {
			prop = &argument.Schema{Type: m.Type}
		}
		schema.Properties[m.Name] = prop
		if m.Required {
			anyRequired = true
			schema.Required = append(schema.Required, m.Name)
		}
	}
	return Param{
		Name:       request.PayloadKey,
		Type:       argument.TypeObject,
		Schema:     schema,
		Required:   anyRequired,
		Properties: members,
	}
}

// returnType 从样例响应中提取 payload 子树并推断类型，没有样例时为 void
func returnType(src Source, inferrer argument.TypeInferrer) Returns {
	sample := bytes.TrimSpace(src.ResponseSample)
	if len(sample) == 0 || string(sample) == "null" {
		return Returns{Type: argument.TypeVoid}
	}
	sub, err := payload.Extract(sample, src.PayloadPath)
	if err != nil {
		observability.Warn("Stored response sample no longer matches payload path",
			"function_id", src.ID,
			"error", err,
		)
		return Returns{Type: argument.TypeVoid}
	}
	typ, schema := inferrer.InferType(sub)
	if typ == "" {
		typ = argument.TypeString
	}
	return Returns{Type: typ, Schema: schema}
}
