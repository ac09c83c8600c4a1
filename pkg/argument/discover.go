package argument

import (
	"sort"

	"github.com/KodaTao/CallForge/pkg/template"
)

// Discover 从请求模板中发现参数
// 依次扫描 url、headers、auth、body；body 中与前面位置同名的键被丢弃。
// 结果按必填在前稳定排序（同组内保持发现顺序），再按键去重保留第一次出现。
// 相同输入总是得到相同顺序，签名生成依赖这个顺序。
func Discover(tmpl template.RequestTemplate, existing Metadata) []Argument {
	sections := tmpl.Sections()

	var found []Argument
	earlier := make(map[string]bool)

	collect := func(text string, loc Location) {
		for _, key := range template.Scan(text) {
			if loc == LocationBody && earlier[key] {
				continue
			}
			found = append(found, newArgument(key, loc, existing))
		}
	}

	collect(sections.URL, LocationURL)
	collect(sections.Headers, LocationHeaders)
	collect(sections.Auth, LocationAuth)
	for _, arg := range found {
		earlier[arg.Key] = true
	}
	collect(sections.Body, LocationBody)

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].Required && !found[j].Required
	})

	seen := make(map[string]bool, len(found))
	out := make([]Argument, 0, len(found))
	for _, arg := range found {
		if seen[arg.Key] {
			continue
		}
		seen[arg.Key] = true
		out = append(out, arg)
	}
	return out
}

// newArgument 创建参数，已有元数据时沿用
func newArgument(key string, loc Location, existing Metadata) Argument {
	arg := Argument{Key: key, Name: key, Required: true, Location: loc}
	if meta, ok := existing[key]; ok {
		arg = meta.Apply(arg)
	}
	return arg
}

// ToMetadata 把参数列表转成元数据表
func ToMetadata(args []Argument) Metadata {
	md := make(Metadata, len(args))
	for _, arg := range args {
		md[arg.Key] = arg.ToMeta()
	}
	return md
}
