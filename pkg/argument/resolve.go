package argument

// DefaultArgCountLimit 超过该数量时 body 参数全部归入 payload
const DefaultArgCountLimit = 10

// ResolveInput 元数据解析的输入
type ResolveInput struct {
	FunctionID    string         // 为空表示新函数
	Current       Metadata       // 已存储的元数据
	Discovered    []Argument     // Discover 的结果
	Samples       map[string]any // 录制时各参数的样例值
	ArgCountLimit int            // <= 0 表示不分组
	Inferrer      TypeInferrer   // 为空时使用 JSONInferrer
}

// Resolve 合并新发现的参数与已存储的元数据，永不失败
//
//   - payload 分组：发现的参数数量超过上限时，所有 body 参数 payload=true
//   - 沿用：已有 type 的键保留除 payload 外的全部字段，用户手工修正的类型因此跨重训保留
//   - 首次推断：没有类型的键按样例值推断，无样例时为 string
func Resolve(in ResolveInput) Metadata {
	inferrer := in.Inferrer
	if inferrer == nil {
		inferrer = JSONInferrer{}
	}
	grouped := in.ArgCountLimit > 0 && len(in.Discovered) > in.ArgCountLimit

	out := make(Metadata, len(in.Discovered))
	for _, arg := range in.Discovered {
		fresh := arg.ToMeta()
		fresh.Payload = false

		var meta Meta
		if existing, ok := in.Current[arg.Key]; ok && existing.Type != "" {
			meta = carryOver(existing, fresh)
		} else {
			meta = fresh
			meta.Type, meta.Schema = inferSample(inferrer, in.Samples, arg.Key)
		}

		meta.Payload = grouped && arg.Location == LocationBody
		out[arg.Key] = meta
	}
	return out
}

// carryOver 逐字段合并：已存储的非零字段覆盖新值，payload 不继承
// Schema 是唯一的整体覆盖项：已存储的结构存在时整棵替换，不做递归合并
func carryOver(stored, fresh Meta) Meta {
	out := fresh
	if stored.Name != "" {
		out.Name = stored.Name
	}
	if stored.Description != "" {
		out.Description = stored.Description
	}
	if stored.Required != nil {
		out.Required = BoolPtr(*stored.Required)
	}
	if stored.Secure != nil {
		out.Secure = BoolPtr(*stored.Secure)
	}
	out.Type = stored.Type
	if stored.Schema != nil {
		out.Schema = stored.Schema.Clone()
	}
	out.Edited = stored.Edited
	return out
}

// inferSample 查找样例值并委托类型推断
func inferSample(inferrer TypeInferrer, samples map[string]any, key string) (string, *Schema) {
	sample, ok := samples[key]
	if !ok || sample == nil {
		return TypeString, nil
	}
	typ, schema := inferrer.InferType(SampleJSON(sample))
	if typ == "" {
		return TypeString, nil
	}
	return typ, schema
}

// EditedOnly 只保留用户显式修改过的条目
func (md Metadata) EditedOnly() Metadata {
	out := make(Metadata)
	for k, v := range md {
		if v.Edited {
			out[k] = v
		}
	}
	return out
}
