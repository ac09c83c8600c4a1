// Package retrain 判断一次新的录制应当更新哪个已有函数
package retrain

import (
	"github.com/KodaTao/CallForge/pkg/argument"
	"github.com/KodaTao/CallForge/pkg/observability"
	"github.com/KodaTao/CallForge/pkg/template"
)

// Candidate url（忽略查询串）和 method 都与新录制相同的已有函数
type Candidate struct {
	ID       string
	Metadata argument.Metadata
}

// Capture 新录制的请求
type Capture struct {
	Template template.RequestTemplate
	Samples  map[string]any
}

// Matcher 重训匹配器
type Matcher struct {
	ArgCountLimit int
	Inferrer      argument.TypeInferrer
}

// NewMatcher 创建匹配器
func NewMatcher(argCountLimit int, inferrer argument.TypeInferrer) *Matcher {
	if inferrer == nil {
		inferrer = argument.JSONInferrer{}
	}
	return &Matcher{ArgCountLimit: argCountLimit, Inferrer: inferrer}
}

// Match 返回第一个可以原地重训的候选，没有则 ok=false（应新建函数）
// 候选只有在合并新录制后参数形状不变时才被接受：
// 参数数量不变，且每个已有键仍然存在、类型不变。
func (m *Matcher) Match(candidates []Candidate, capture Capture) (Candidate, bool) {
	for _, c := range candidates {
		if m.accepts(c, capture) {
			observability.Debug("Retraining candidate accepted", "function_id", c.ID)
			return c, true
		}
		observability.Debug("Retraining candidate rejected", "function_id", c.ID)
	}
	return Candidate{}, false
}

// Project 计算候选合并新录制后的元数据
// 只沿用用户显式修改过的条目，其余键按新样例重新推断，类型变化才能被发现
func (m *Matcher) Project(c Candidate, capture Capture) argument.Metadata {
	pinned := c.Metadata.EditedOnly()
	discovered := argument.Discover(capture.Template, pinned)
	return argument.Resolve(argument.ResolveInput{
		FunctionID:    c.ID,
		Current:       pinned,
		Discovered:    discovered,
		Samples:       capture.Samples,
		ArgCountLimit: m.ArgCountLimit,
		Inferrer:      m.Inferrer,
	})
}

func (m *Matcher) accepts(c Candidate, capture Capture) bool {
	projected := m.Project(c, capture)
	if len(projected) != len(c.Metadata) {
		return false
	}
	for key, meta := range c.Metadata {
		got, ok := projected[key]
		if !ok || got.Type != meta.Type {
			return false
		}
	}
	return true
}
