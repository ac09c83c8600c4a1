// Package argument 提供函数参数的发现、类型推断与元数据合并
package argument

// Location 参数在模板中被发现的位置，仅供展示，不属于调用契约
type Location string

const (
	LocationURL     Location = "url"
	LocationHeaders Location = "headers"
	LocationAuth    Location = "auth"
	LocationBody    Location = "body"
)

// 常用类型名
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeAny     = "any"
	TypeVoid    = "void"
)

// ArrayOf 返回数组类型名，如 array[string]
func ArrayOf(elem string) string {
	return "array[" + elem + "]"
}

// Schema 对象/数组类型的结构描述
type Schema struct {
	Type       string             `json:"type"`
	Properties map[string]*Schema `json:"properties,omitempty"`
	Items      *Schema            `json:"items,omitempty"`
	Required   []string           `json:"required,omitempty"`
}

// Clone 深拷贝
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	out := &Schema{Type: s.Type, Items: s.Items.Clone()}
	if s.Properties != nil {
		out.Properties = make(map[string]*Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = v.Clone()
		}
	}
	if s.Required != nil {
		out.Required = append([]string(nil), s.Required...)
	}
	return out
}

// Argument 一个被发现的占位符，即函数的一个参数
type Argument struct {
	Key         string   `json:"key"`  // 占位符原文，函数内唯一，跨重训的合并键
	Name        string   `json:"name"` // 展示名，默认等于 Key
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required"`
	Secure      bool     `json:"secure"` // 敏感值，不回显、不写日志
	Type        string   `json:"type"`
	Schema      *Schema  `json:"schema,omitempty"`
	Payload     bool     `json:"payload"` // 值从聚合的 payload 对象中读取
	Location    Location `json:"location,omitempty"`
}

// Meta 持久化的参数元数据，字段均可缺省
type Meta struct {
	Name        string  `json:"name,omitempty"`
	Description string  `json:"description,omitempty"`
	Required    *bool   `json:"required,omitempty"`
	Secure      *bool   `json:"secure,omitempty"`
	Type        string  `json:"type,omitempty"`
	Schema      *Schema `json:"schema,omitempty"`
	Payload     bool    `json:"payload,omitempty"`
	Edited      bool    `json:"edited,omitempty"` // 由用户显式修改过
}

// Metadata 参数键 -> 元数据
type Metadata map[string]Meta

// IsRequired 未设置时默认必填
func (m Meta) IsRequired() bool {
	return m.Required == nil || *m.Required
}

// IsSecure 未设置时默认不敏感
func (m Meta) IsSecure() bool {
	return m.Secure != nil && *m.Secure
}

// DisplayName 展示名，缺省为 key
func (m Meta) DisplayName(key string) string {
	if m.Name != "" {
		return m.Name
	}
	return key
}

// Apply 用元数据填充一个刚发现的参数
func (m Meta) Apply(arg Argument) Argument {
	arg.Name = m.DisplayName(arg.Key)
	arg.Description = m.Description
	arg.Required = m.IsRequired()
	arg.Secure = m.IsSecure()
	arg.Type = m.Type
	arg.Schema = m.Schema.Clone()
	arg.Payload = m.Payload
	return arg
}

// ToMeta 把参数转回可持久化的元数据
func (a Argument) ToMeta() Meta {
	required := a.Required
	secure := a.Secure
	return Meta{
		Name:        a.Name,
		Description: a.Description,
		Required:    &required,
		Secure:      &secure,
		Type:        a.Type,
		Schema:      a.Schema.Clone(),
		Payload:     a.Payload,
	}
}

// Clone 复制元数据表
func (md Metadata) Clone() Metadata {
	out := make(Metadata, len(md))
	for k, v := range md {
		v.Schema = v.Schema.Clone()
		out[k] = v
	}
	return out
}

// Keys 所有参数键
func (md Metadata) Keys() []string {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	return keys
}

// BoolPtr 返回 bool 指针
func BoolPtr(b bool) *bool {
	return &b
}
