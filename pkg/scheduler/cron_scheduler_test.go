package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/KodaTao/CallForge/pkg/function"
	"github.com/KodaTao/CallForge/pkg/types"
)

// mockRunner 测试用的函数服务
type mockRunner struct {
	mu        sync.Mutex
	functions map[string]bool
	calls     []map[string]any
	result    *function.ExecuteResult
	err       error
}

func (m *mockRunner) Get(_ context.Context, id string) (*function.Record, error) {
	if !m.functions[id] {
		return nil, fmt.Errorf("%w: %s", types.ErrFunctionNotFound, id)
	}
	return &function.Record{ID: id}, nil
}

func (m *mockRunner) Execute(_ context.Context, _ string, values map[string]any) (*function.ExecuteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, values)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

// setupTestDB 创建测试数据库
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	return db
}

// setupTestScheduler 创建并启动测试调度器
func setupTestScheduler(t *testing.T) (*CronScheduler, *gorm.DB, *mockRunner) {
	db := setupTestDB(t)
	runner := &mockRunner{
		functions: map[string]bool{"fn-1": true},
		result:    &function.ExecuteResult{StatusCode: 200, Body: map[string]any{"ok": true}},
	}
	testLogger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := NewCronScheduler(db, runner, testLogger)
	if err := s.Start(); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, db, runner
}

func TestCronScheduler_Create(t *testing.T) {
	s, _, _ := setupTestScheduler(t)

	sc, err := s.Create(context.Background(), CreateInput{
		Name:       "nightly_sync",
		FunctionID: "fn-1",
		CronExpr:   "0 0 3 * * *",
		Arguments:  map[string]any{"id": "42"},
	})
	if err != nil {
		t.Fatalf("Failed to create schedule: %v", err)
	}
	if sc.ID == 0 {
		t.Error("Expected schedule to have a valid ID")
	}
	if sc.NextRunAt == nil {
		t.Error("Expected schedule to have next_run_at")
	}
	if sc.Arguments != `{"id":"42"}` {
		t.Errorf("Unexpected arguments: %s", sc.Arguments)
	}
	if s.EntryCount() != 1 {
		t.Errorf("Expected 1 cron entry, got %d", s.EntryCount())
	}
}

func TestCronScheduler_Create_Invalid(t *testing.T) {
	s, _, _ := setupTestScheduler(t)
	ctx := context.Background()

	// 5 字段表达式不被接受
	_, err := s.Create(ctx, CreateInput{Name: "a", FunctionID: "fn-1", CronExpr: "0 3 * * *"})
	if !types.IsValidation(err) {
		t.Errorf("Expected validation error for invalid cron expression, got %v", err)
	}

	_, err = s.Create(ctx, CreateInput{Name: "b", FunctionID: "missing", CronExpr: "0 * * * * *"})
	if !errors.Is(err, types.ErrFunctionNotFound) {
		t.Errorf("Expected function not found, got %v", err)
	}

	_, err = s.Create(ctx, CreateInput{FunctionID: "fn-1", CronExpr: "0 * * * * *"})
	if !types.IsValidation(err) {
		t.Errorf("Expected validation error for empty name, got %v", err)
	}
}

func TestCronScheduler_Create_DuplicateName(t *testing.T) {
	s, _, _ := setupTestScheduler(t)
	ctx := context.Background()

	in := CreateInput{Name: "dup", FunctionID: "fn-1", CronExpr: "0 * * * * *"}
	if _, err := s.Create(ctx, in); err != nil {
		t.Fatalf("Failed to create schedule: %v", err)
	}
	if _, err := s.Create(ctx, in); !types.IsConflict(err) {
		t.Errorf("Expected conflict for duplicate name, got %v", err)
	}
}

func TestCronScheduler_Run(t *testing.T) {
	s, _, runner := setupTestScheduler(t)

	sc, err := s.Create(context.Background(), CreateInput{
		Name: "run_me", FunctionID: "fn-1", CronExpr: "0 0 3 * * *",
		Arguments: map[string]any{"id": "7"},
	})
	if err != nil {
		t.Fatalf("Failed to create schedule: %v", err)
	}

	run := s.Run(sc.ID)
	if run == nil {
		t.Fatal("Expected run record")
	}
	if run.Status != RunStatusCompleted {
		t.Errorf("Expected status completed, got %s", run.Status)
	}
	if run.StatusCode != 200 || run.Result != `{"ok":true}` {
		t.Errorf("Unexpected run result: %d %s", run.StatusCode, run.Result)
	}
	if len(runner.calls) != 1 || runner.calls[0]["id"] != "7" {
		t.Errorf("Unexpected runner calls: %v", runner.calls)
	}

	updated, err := s.Get(sc.ID)
	if err != nil {
		t.Fatalf("Failed to get schedule: %v", err)
	}
	if updated.RunCount != 1 || updated.LastStatus != RunStatusCompleted || updated.LastRunAt == nil {
		t.Errorf("Schedule not updated after run: %+v", updated)
	}

	history, err := s.History(sc.ID, 10, 0)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("Expected 1 history record, got %d", len(history))
	}
}

func TestCronScheduler_Run_Failures(t *testing.T) {
	s, _, runner := setupTestScheduler(t)

	sc, err := s.Create(context.Background(), CreateInput{Name: "fails", FunctionID: "fn-1", CronExpr: "0 0 3 * * *"})
	if err != nil {
		t.Fatalf("Failed to create schedule: %v", err)
	}

	runner.err = &types.TransportError{Err: errors.New("connection refused")}
	run := s.Run(sc.ID)
	if run.Status != RunStatusFailed || run.Error == "" {
		t.Errorf("Expected failed run with error, got %s %q", run.Status, run.Error)
	}

	runner.err = nil
	runner.result = &function.ExecuteResult{Claimed: true, Error: "transport failed"}
	run = s.Run(sc.ID)
	if run.Status != RunStatusClaimed {
		t.Errorf("Expected claimed run, got %s", run.Status)
	}

	history, _ := s.History(sc.ID, 0, 0)
	if len(history) != 2 {
		t.Errorf("Expected 2 history records, got %d", len(history))
	}
	if history[0].Status != RunStatusClaimed {
		t.Errorf("Expected newest run first, got %s", history[0].Status)
	}
}

func TestCronScheduler_Delete(t *testing.T) {
	s, db, _ := setupTestScheduler(t)

	sc, err := s.Create(context.Background(), CreateInput{Name: "gone", FunctionID: "fn-1", CronExpr: "0 0 3 * * *"})
	if err != nil {
		t.Fatalf("Failed to create schedule: %v", err)
	}
	s.Run(sc.ID)

	if err := s.Delete(sc.ID); err != nil {
		t.Fatalf("Failed to delete schedule: %v", err)
	}
	if s.EntryCount() != 0 {
		t.Errorf("Expected no cron entries, got %d", s.EntryCount())
	}
	var runs int64
	db.Model(&ScheduleRun{}).Count(&runs)
	if runs != 0 {
		t.Errorf("Expected run history to be deleted, got %d", runs)
	}
	if err := s.Delete(sc.ID); !errors.Is(err, types.ErrScheduleNotFound) {
		t.Errorf("Expected schedule not found, got %v", err)
	}
}

func TestCronScheduler_RemoveFunction(t *testing.T) {
	s, _, runner := setupTestScheduler(t)
	runner.functions["fn-2"] = true
	ctx := context.Background()

	for i, fn := range []string{"fn-1", "fn-1", "fn-2"} {
		if _, err := s.Create(ctx, CreateInput{Name: fmt.Sprintf("s%d", i), FunctionID: fn, CronExpr: "0 0 3 * * *"}); err != nil {
			t.Fatalf("Failed to create schedule: %v", err)
		}
	}

	s.RemoveFunction(ctx, "fn-1")

	left, err := s.List(0, 0)
	if err != nil {
		t.Fatalf("Failed to list schedules: %v", err)
	}
	if len(left) != 1 || left[0].FunctionID != "fn-2" {
		t.Errorf("Expected only fn-2 schedule to remain, got %+v", left)
	}
	if s.EntryCount() != 1 {
		t.Errorf("Expected 1 cron entry, got %d", s.EntryCount())
	}
}

func TestCronScheduler_Recover(t *testing.T) {
	db := setupTestDB(t)
	runner := &mockRunner{functions: map[string]bool{"fn-1": true}}
	testLogger := slog.New(slog.NewTextHandler(io.Discard, nil))

	first := NewCronScheduler(db, runner, testLogger)
	if err := first.Start(); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}
	if _, err := first.Create(context.Background(), CreateInput{Name: "keep", FunctionID: "fn-1", CronExpr: "0 0 3 * * *"}); err != nil {
		t.Fatalf("Failed to create schedule: %v", err)
	}
	first.Stop()

	second := NewCronScheduler(db, runner, testLogger)
	if err := second.Start(); err != nil {
		t.Fatalf("Failed to restart scheduler: %v", err)
	}
	defer second.Stop()

	if second.EntryCount() != 1 {
		t.Errorf("Expected 1 recovered entry, got %d", second.EntryCount())
	}
}

func TestSchedule_Values(t *testing.T) {
	sc := &Schedule{Arguments: `{"payload":{"a":1}}`}
	values, err := sc.Values()
	if err != nil {
		t.Fatalf("Values() error = %v", err)
	}
	if _, ok := values["payload"].(map[string]any); !ok {
		t.Errorf("Expected payload object, got %T", values["payload"])
	}

	sc.Arguments = "{"
	if _, err := sc.Values(); err == nil {
		t.Error("Expected error for malformed arguments")
	}
}
