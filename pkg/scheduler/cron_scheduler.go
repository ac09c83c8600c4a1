package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/KodaTao/CallForge/pkg/function"
	"github.com/KodaTao/CallForge/pkg/types"
)

// FunctionRunner 调度器依赖的函数服务能力，由 function.Service 实现
type FunctionRunner interface {
	Get(ctx context.Context, id string) (*function.Record, error)
	Execute(ctx context.Context, id string, values map[string]any) (*function.ExecuteResult, error)
}

// CreateInput 创建调度的参数
type CreateInput struct {
	Name        string         `json:"name"`
	FunctionID  string         `json:"function_id"`
	CronExpr    string         `json:"cron_expr"`
	Arguments   map[string]any `json:"arguments,omitempty"`
	Description string         `json:"description,omitempty"`
}

// CronScheduler Cron 定时调度器
type CronScheduler struct {
	db       *gorm.DB
	repo     *ScheduleRepository
	runRepo  *RunRepository
	runner   FunctionRunner
	logger   *slog.Logger
	timeout  time.Duration
	parser   cron.Parser
	cron     *cron.Cron
	mu       sync.RWMutex
	entryMap map[uint]cron.EntryID // 调度ID -> cron EntryID

	ctx    context.Context
	cancel context.CancelFunc
}

// NewCronScheduler 创建 Cron 调度器
func NewCronScheduler(db *gorm.DB, runner FunctionRunner, logger *slog.Logger) *CronScheduler {
	ctx, cancel := context.WithCancel(context.Background())

	// 创建支持秒级的 cron 调度器（6 字段格式）
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	return &CronScheduler{
		db:       db,
		repo:     NewScheduleRepository(db),
		runRepo:  NewRunRepository(db),
		runner:   runner,
		logger:   logger,
		timeout:  5 * time.Minute,
		parser:   parser,
		cron:     cron.New(cron.WithParser(parser)),
		entryMap: make(map[uint]cron.EntryID),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start 启动调度器
func (s *CronScheduler) Start() error {
	s.logger.Info("starting cron scheduler")

	// 自动迁移表
	if err := s.db.AutoMigrate(&Schedule{}, &ScheduleRun{}); err != nil {
		return fmt.Errorf("failed to migrate schedule tables: %w", err)
	}

	// 恢复所有调度
	if err := s.recover(); err != nil {
		return fmt.Errorf("failed to recover schedules: %w", err)
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started")
	return nil
}

// Stop 停止调度器，等待正在执行的任务结束
func (s *CronScheduler) Stop() {
	s.logger.Info("stopping cron scheduler")
	s.cancel()

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.mu.Lock()
	s.entryMap = make(map[uint]cron.EntryID)
	s.mu.Unlock()

	s.logger.Info("cron scheduler stopped")
}

// recover 重新注册所有启用的调度
func (s *CronScheduler) recover() error {
	schedules, err := s.repo.ListEnabled()
	if err != nil {
		return err
	}

	s.logger.Info("recovering schedules", "count", len(schedules))
	for i := range schedules {
		sc := &schedules[i]
		if err := s.register(sc); err != nil {
			s.logger.Error("failed to recover schedule", "schedule_id", sc.ID, "name", sc.Name, "error", err)
			continue
		}
		s.logger.Info("schedule recovered", "schedule_id", sc.ID, "name", sc.Name, "cron_expr", sc.CronExpr)
	}
	return nil
}

// Create 创建调度
func (s *CronScheduler) Create(ctx context.Context, in CreateInput) (*Schedule, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, types.NewValidationError("name", "is required")
	}
	sched, err := s.parser.Parse(in.CronExpr)
	if err != nil {
		return nil, &types.ValidationError{Field: "cron_expr", Message: "invalid cron expression", Err: err}
	}
	if _, err := s.runner.Get(ctx, in.FunctionID); err != nil {
		return nil, err
	}
	exists, err := s.repo.ExistsByName(in.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, types.NewConflictError("schedule %q already exists", in.Name)
	}

	var args string
	if len(in.Arguments) > 0 {
		data, err := json.Marshal(in.Arguments)
		if err != nil {
			return nil, &types.ValidationError{Field: "arguments", Message: "not serializable", Err: err}
		}
		args = string(data)
	}

	nextRun := sched.Next(time.Now())
	sc := &Schedule{
		Name:        in.Name,
		FunctionID:  in.FunctionID,
		CronExpr:    in.CronExpr,
		Arguments:   args,
		Description: in.Description,
		Enabled:     true,
		NextRunAt:   &nextRun,
	}
	if err := s.repo.Create(sc); err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}

	if err := s.register(sc); err != nil {
		// 注册失败时删除调度
		_ = s.repo.DeleteByID(sc.ID)
		return nil, fmt.Errorf("failed to register schedule: %w", err)
	}

	s.logger.Info("schedule created",
		"schedule_id", sc.ID,
		"name", sc.Name,
		"function_id", sc.FunctionID,
		"cron_expr", sc.CronExpr,
		"next_run", nextRun,
	)
	return sc, nil
}

// register 把调度注册到 cron
func (s *CronScheduler) register(sc *Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 如果已有同 ID 的调度，先移除
	if entryID, ok := s.entryMap[sc.ID]; ok {
		s.cron.Remove(entryID)
		delete(s.entryMap, sc.ID)
	}

	scheduleID := sc.ID
	entryID, err := s.cron.AddFunc(sc.CronExpr, func() {
		s.Run(scheduleID)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron entry: %w", err)
	}
	s.entryMap[sc.ID] = entryID

	if entry := s.cron.Entry(entryID); !entry.Next.IsZero() {
		_ = s.repo.UpdateNextRunAt(sc.ID, entry.Next)
	}
	return nil
}

// Run 立即执行一次调度，返回执行记录
func (s *CronScheduler) Run(scheduleID uint) *ScheduleRun {
	// 检查调度器是否已停止
	select {
	case <-s.ctx.Done():
		return nil
	default:
	}

	scheduledAt := time.Now()
	sc, err := s.repo.GetByID(scheduleID)
	if err != nil {
		s.logger.Error("failed to get schedule", "schedule_id", scheduleID, "error", err)
		return nil
	}

	run := &ScheduleRun{
		ScheduleID:  sc.ID,
		FunctionID:  sc.FunctionID,
		ScheduledAt: scheduledAt,
		StartedAt:   time.Now(),
		Status:      RunStatusRunning,
	}
	if err := s.runRepo.Create(run); err != nil {
		s.logger.Error("failed to create run record", "schedule_id", sc.ID, "error", err)
		// 继续执行，只是没有记录
	}

	values, err := sc.Values()
	if err != nil {
		s.finish(sc, run, RunStatusFailed, 0, "", fmt.Sprintf("invalid arguments: %v", err))
		return run
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, types.ScheduleIDKey, sc.ID)

	result, execErr := s.runner.Execute(ctx, sc.FunctionID, values)
	switch {
	case execErr != nil:
		s.logger.Error("scheduled execution failed", "schedule_id", sc.ID, "function_id", sc.FunctionID, "error", execErr)
		s.finish(sc, run, RunStatusFailed, 0, "", execErr.Error())
	case result.Claimed:
		s.logger.Warn("scheduled execution failed, claimed by sink", "schedule_id", sc.ID, "error", result.Error)
		s.finish(sc, run, RunStatusClaimed, 0, "", result.Error)
	default:
		data, _ := json.Marshal(result.Body)
		s.logger.Info("scheduled execution completed", "schedule_id", sc.ID, "status_code", result.StatusCode)
		s.finish(sc, run, RunStatusCompleted, result.StatusCode, string(data), "")
	}

	// 更新下次执行时间
	s.mu.RLock()
	entryID, ok := s.entryMap[sc.ID]
	s.mu.RUnlock()
	if ok {
		if entry := s.cron.Entry(entryID); !entry.Next.IsZero() {
			_ = s.repo.UpdateNextRunAt(sc.ID, entry.Next)
		}
	}
	return run
}

// finish 完成执行记录
func (s *CronScheduler) finish(sc *Schedule, run *ScheduleRun, status RunStatus, statusCode int, result, errMsg string) {
	finishedAt := time.Now()
	run.FinishedAt = &finishedAt
	run.Status = status
	run.StatusCode = statusCode
	run.Result = result
	run.Error = errMsg
	run.Duration = finishedAt.Sub(run.StartedAt).Milliseconds()

	if run.ID != 0 {
		if err := s.runRepo.Update(run); err != nil {
			s.logger.Error("failed to update run record", "run_id", run.ID, "error", err)
		}
	}
	if err := s.repo.RecordRun(sc.ID, run); err != nil {
		s.logger.Error("failed to update schedule", "schedule_id", sc.ID, "error", err)
	}
}

// Delete 删除调度及其执行历史
func (s *CronScheduler) Delete(id uint) error {
	s.unregister(id)

	if err := s.runRepo.DeleteByScheduleID(id); err != nil {
		s.logger.Warn("failed to delete run history", "schedule_id", id, "error", err)
	}
	if err := s.repo.DeleteByID(id); err != nil {
		return err
	}

	s.logger.Info("schedule deleted", "schedule_id", id)
	return nil
}

func (s *CronScheduler) unregister(id uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entryMap[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entryMap, id)
	}
}

// RemoveFunction 删除某个函数的全部调度，在函数被删除后调用
func (s *CronScheduler) RemoveFunction(_ context.Context, functionID string) {
	schedules, err := s.repo.ListByFunctionID(functionID)
	if err != nil {
		s.logger.Error("failed to list schedules for function", "function_id", functionID, "error", err)
		return
	}
	for _, sc := range schedules {
		if err := s.Delete(sc.ID); err != nil {
			s.logger.Error("failed to delete schedule", "schedule_id", sc.ID, "error", err)
		}
	}
}

// Get 根据 ID 获取调度
func (s *CronScheduler) Get(id uint) (*Schedule, error) {
	return s.repo.GetByID(id)
}

// List 列出调度
func (s *CronScheduler) List(limit, offset int) ([]Schedule, error) {
	return s.repo.List(limit, offset)
}

// History 获取调度的执行历史
func (s *CronScheduler) History(id uint, limit, offset int) ([]ScheduleRun, error) {
	if _, err := s.repo.GetByID(id); err != nil {
		return nil, err
	}
	return s.runRepo.ListByScheduleID(id, limit, offset)
}

// EntryCount 当前注册在 cron 中的调度数
func (s *CronScheduler) EntryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entryMap)
}
