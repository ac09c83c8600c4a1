// Package function 持久化已教学的函数，并编排教学与执行
package function

import (
	"encoding/json"
	"time"

	"github.com/KodaTao/CallForge/pkg/argument"
	"github.com/KodaTao/CallForge/pkg/retrain"
	"github.com/KodaTao/CallForge/pkg/signature"
	"github.com/KodaTao/CallForge/pkg/template"
	"github.com/KodaTao/CallForge/pkg/types"
)

// Record 一个已教学的函数
type Record struct {
	ID             string                   `gorm:"primaryKey;size:36" json:"id"`
	Name           string                   `gorm:"uniqueIndex;size:128;not null" json:"name"`  // 函数名（全局唯一）
	Description    string                   `gorm:"type:text" json:"description,omitempty"`     // 函数描述
	Method         string                   `gorm:"size:16;not null;index:idx_endpoint" json:"method"`
	BaseURL        string                   `gorm:"size:2048;not null;index:idx_endpoint" json:"base_url"` // 去掉查询串和片段的 URL
	Template       template.RequestTemplate `gorm:"type:text;serializer:json" json:"template"`
	Metadata       argument.Metadata        `gorm:"type:text;serializer:json" json:"metadata"`
	ResponseSample string                   `gorm:"type:text" json:"response_sample,omitempty"` // 样例响应（原始 JSON）
	PayloadPath    string                   `gorm:"size:512" json:"payload_path,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// TableName 指定表名
func (Record) TableName() string {
	return "functions"
}

// Path 上报到错误通道时使用的函数路径
func (r *Record) Path() string {
	return types.FunctionPath(r.Name, r.ID)
}

// Sample 样例响应，未设置时为 nil
func (r *Record) Sample() json.RawMessage {
	if r.ResponseSample == "" {
		return nil
	}
	return json.RawMessage(r.ResponseSample)
}

// Arguments 按签名顺序返回函数参数
func (r *Record) Arguments() []argument.Argument {
	return argument.Discover(r.Template, r.Metadata)
}

// candidate 转换为重训匹配器的候选
func (r *Record) candidate() retrain.Candidate {
	return retrain.Candidate{ID: r.ID, Metadata: r.Metadata}
}

// source 转换为签名生成器的输入
func (r *Record) source() signature.Source {
	return signature.Source{
		ID:             r.ID,
		Name:           r.Name,
		Description:    r.Description,
		Template:       r.Template,
		Metadata:       r.Metadata,
		ResponseSample: r.Sample(),
		PayloadPath:    r.PayloadPath,
	}
}
