// Package scheduler 按 cron 表达式定时执行已教学的函数
package scheduler

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// RunStatus 执行状态
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"   // 正在执行
	RunStatusCompleted RunStatus = "completed" // 执行完成（含非 2xx 响应）
	RunStatusFailed    RunStatus = "failed"    // 执行失败
	RunStatusClaimed   RunStatus = "claimed"   // 失败，已由错误通道认领
)

// Schedule 定时执行某个函数
type Schedule struct {
	gorm.Model
	Name        string     `gorm:"uniqueIndex;not null" json:"name"`           // 调度名称（唯一标识）
	FunctionID  string     `gorm:"size:36;not null;index" json:"function_id"`  // 要执行的函数
	CronExpr    string     `gorm:"not null" json:"cron_expr"`                  // Cron 表达式（6 字段，含秒）
	Arguments   string     `gorm:"type:text" json:"arguments,omitempty"`       // 调用参数（JSON 格式）
	Description string     `gorm:"type:text" json:"description,omitempty"`     // 描述
	Enabled     bool       `gorm:"default:true" json:"enabled"`                // 是否启用
	RunCount    int        `gorm:"default:0" json:"run_count"`                 // 已执行次数
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`                      // 下次执行时间
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`                      // 最后执行时间
	LastStatus  RunStatus  `json:"last_status,omitempty"`                      // 最后执行状态
}

// TableName 指定表名
func (Schedule) TableName() string {
	return "schedules"
}

// Values 解码调用参数
func (s *Schedule) Values() (map[string]any, error) {
	if s.Arguments == "" {
		return nil, nil
	}
	var values map[string]any
	if err := json.Unmarshal([]byte(s.Arguments), &values); err != nil {
		return nil, err
	}
	return values, nil
}

// ScheduleRun 一次调度执行的记录
type ScheduleRun struct {
	gorm.Model
	ScheduleID  uint       `gorm:"not null;index" json:"schedule_id"`
	FunctionID  string     `gorm:"size:36;index" json:"function_id"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Status      RunStatus  `gorm:"index" json:"status"`
	StatusCode  int        `json:"status_code,omitempty"`         // 出站调用的 HTTP 状态码
	Result      string     `gorm:"type:text" json:"result,omitempty"` // 提取后的响应（JSON）
	Error       string     `gorm:"type:text" json:"error,omitempty"`
	Duration    int64      `json:"duration_ms"`
}

// TableName 指定表名
func (ScheduleRun) TableName() string {
	return "schedule_runs"
}
