// Package sink 提供执行失败的错误/事件通道
package sink

import (
	"context"

	"github.com/KodaTao/CallForge/pkg/observability"
)

// Sink 错误/事件通道
// Report 返回 true 表示错误已被通道认领（例如投递到带外通道），引擎不再向上抛出
type Sink interface {
	Report(ctx context.Context, functionPath string, err error) bool
}

// LogSink 只记录日志，从不认领错误
type LogSink struct{}

// Report 实现 Sink
func (LogSink) Report(ctx context.Context, functionPath string, err error) bool {
	observability.ErrorContext(ctx, "Function execution failed",
		"function_path", functionPath,
		"error", err,
	)
	return false
}

// Multi 依次上报给多个通道，任一通道认领即视为认领
type Multi []Sink

// Report 实现 Sink
func (m Multi) Report(ctx context.Context, functionPath string, err error) bool {
	claimed := false
	for _, s := range m {
		if s.Report(ctx, functionPath, err) {
			claimed = true
		}
	}
	return claimed
}

// Func 函数适配器
type Func func(ctx context.Context, functionPath string, err error) bool

// Report 实现 Sink
func (f Func) Report(ctx context.Context, functionPath string, err error) bool {
	return f(ctx, functionPath, err)
}
