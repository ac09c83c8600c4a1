// Package types 提供跨包共享的类型定义
package types

import "context"

// ContextKey context 中使用的键类型
type ContextKey string

const (
	TraceIDKey    ContextKey = "trace_id"    // 请求链路 ID
	FunctionIDKey ContextKey = "function_id" // 当前处理的函数 ID
	ScheduleIDKey ContextKey = "schedule_id" // 触发执行的调度任务 ID
)

// WithFunctionID 在 context 中记录函数 ID，日志会自动带上
func WithFunctionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, FunctionIDKey, id)
}

// WithTraceID 在 context 中记录链路 ID
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

// FunctionPath 返回上报给错误通道时使用的函数路径
func FunctionPath(name, id string) string {
	if name == "" {
		return "functions/" + id
	}
	return "functions/" + name
}
