package argument

import (
	"bytes"
	"encoding/json"
)

// TypeInferrer 类型推断协作者：根据样例值给出类型名和可选的结构描述
type TypeInferrer interface {
	InferType(sample json.RawMessage) (string, *Schema)
}

// TypeInferrerFunc 函数适配器
type TypeInferrerFunc func(sample json.RawMessage) (string, *Schema)

// InferType 实现 TypeInferrer
func (f TypeInferrerFunc) InferType(sample json.RawMessage) (string, *Schema) {
	return f(sample)
}

// JSONInferrer 默认的类型推断实现
// 无法解析为 JSON 的样例、JSON 字符串与 null 都推断为 string
type JSONInferrer struct{}

// InferType 实现 TypeInferrer
func (JSONInferrer) InferType(sample json.RawMessage) (string, *Schema) {
	sample = bytes.TrimSpace(sample)
	if len(sample) == 0 {
		return TypeString, nil
	}
	dec := json.NewDecoder(bytes.NewReader(sample))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return TypeString, nil
	}
	schema := schemaOf(v)
	if schema.Type == TypeObject {
		return TypeObject, schema
	}
	if schema.Items != nil {
		return schema.Type, schema
	}
	return schema.Type, nil
}

// schemaOf 根据解码后的 JSON 值生成结构描述
func schemaOf(v any) *Schema {
	switch val := v.(type) {
	case nil, string:
		return &Schema{Type: TypeString}
	case json.Number, float64:
		return &Schema{Type: TypeNumber}
	case bool:
		return &Schema{Type: TypeBoolean}
	case map[string]any:
		props := make(map[string]*Schema, len(val))
		for k, child := range val {
			props[k] = schemaOf(child)
		}
		return &Schema{Type: TypeObject, Properties: props}
	case []any:
		if len(val) == 0 {
			return &Schema{Type: ArrayOf(TypeAny), Items: &Schema{Type: TypeAny}}
		}
		items := schemaOf(val[0])
		return &Schema{Type: ArrayOf(items.Type), Items: items}
	default:
		return &Schema{Type: TypeString}
	}
}

// SampleJSON 把样例值转成推断用的 JSON 文本
// 字符串按其内容本身解析，因此 "42" 会被推断为数字
func SampleJSON(v any) json.RawMessage {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return json.RawMessage(val)
	case json.RawMessage:
		return val
	case []byte:
		return json.RawMessage(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return nil
		}
		return data
	}
}
