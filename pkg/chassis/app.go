package chassis

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/KodaTao/CallForge/pkg/describe"
	"github.com/KodaTao/CallForge/pkg/function"
	"github.com/KodaTao/CallForge/pkg/observability"
	"github.com/KodaTao/CallForge/pkg/scheduler"
	"github.com/KodaTao/CallForge/pkg/sink"
	"github.com/KodaTao/CallForge/pkg/storage"
	"github.com/KodaTao/CallForge/pkg/transport"
)

// App CallForge 应用实例
// 这是整个框架的入口点
type App struct {
	config        *Config
	db            *gorm.DB
	functions     *function.Service
	cronScheduler *scheduler.CronScheduler
	metrics       *observability.Metrics
	shutdownTrace func(context.Context) error
}

// New 创建新的 App 实例
func New(opts ...Option) *App {
	// 应用默认配置
	config := DefaultConfig()

	// 应用选项
	for _, opt := range opts {
		opt(config)
	}

	return &App{
		config:  config,
		metrics: observability.DefaultMetrics,
	}
}

// Initialize 初始化应用
// 包括：日志、链路追踪、数据库、函数服务、调度器
func (a *App) Initialize() error {
	// 1. 初始化日志
	if err := observability.InitLogger(observability.LogConfig{
		Level:    a.config.Log.Level,
		Format:   a.config.Log.Format,
		Output:   a.config.Log.Output,
		FilePath: a.config.Log.FilePath,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	observability.Info("Initializing CallForge",
		"server_port", a.config.Server.Port,
		"arg_count_limit", a.config.Engine.ArgCountLimit,
		"llm_enabled", a.config.LLM.Enabled,
	)

	// 2. 初始化链路追踪
	shutdown, err := observability.InitTracing(context.Background(), observability.TracingConfig{
		Enabled:     a.config.Observability.Tracing.Enabled,
		Endpoint:    a.config.Observability.Tracing.Endpoint,
		ServiceName: a.config.Observability.Tracing.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.shutdownTrace = shutdown

	// 3. 初始化数据库
	if err := storage.InitDB(storage.Config{Path: a.config.Database.Path}); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = storage.GetDB()

	return a.wire()
}

// wire 创建函数服务和调度器
func (a *App) wire() error {
	repo := function.NewRepository(a.db)
	if err := repo.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate functions: %w", err)
	}

	opts := []function.Option{
		function.WithConfig(a.config.Engine),
		function.WithMetrics(a.metrics),
	}

	// 命名协作者（可选）
	if a.config.LLM.Enabled {
		d, err := describe.NewOpenAIDescriber(a.config.LLM)
		if err != nil {
			return fmt.Errorf("failed to initialize describer: %w", err)
		}
		opts = append(opts, function.WithDescriber(d))
	}

	// 错误通道
	sinks := sink.Multi{sink.LogSink{}}
	if a.config.Telegram.Enabled {
		tg, err := sink.NewTelegramSink(a.config.Telegram, slog.Default())
		if err != nil {
			return fmt.Errorf("failed to initialize telegram sink: %w", err)
		}
		sinks = append(sinks, tg)
	}
	opts = append(opts, function.WithSink(sinks))

	tr := transport.NewHTTPTransport(transport.Config{
		Timeout:      a.config.Transport.Timeout,
		MaxBodyBytes: a.config.Transport.MaxBodyBytes,
	})
	a.functions = function.NewService(repo, tr, opts...)

	if a.config.Scheduler.Enabled {
		a.cronScheduler = scheduler.NewCronScheduler(a.db, a.functions, slog.Default())
		if err := a.cronScheduler.Start(); err != nil {
			return fmt.Errorf("failed to start cron scheduler: %w", err)
		}
		a.functions.OnDelete(a.cronScheduler.RemoveFunction)
		observability.Info("CronScheduler started")
	}

	observability.Info("CallForge initialized")
	return nil
}

// InitializeWithDB 使用已打开的数据库初始化（用于测试和命令行子命令）
func (a *App) InitializeWithDB(db *gorm.DB) error {
	a.db = db
	return a.wire()
}

// Functions 获取函数服务
func (a *App) Functions() *function.Service {
	return a.functions
}

// Scheduler 获取定时调度器，未启用时为 nil
func (a *App) Scheduler() *scheduler.CronScheduler {
	return a.cronScheduler
}

// Metrics 获取指标
func (a *App) Metrics() *observability.Metrics {
	return a.metrics
}

// GetConfig 获取配置
func (a *App) GetConfig() *Config {
	return a.config
}

// Shutdown 关闭应用
func (a *App) Shutdown() error {
	observability.Info("Shutting down CallForge")

	// 停止调度器
	if a.cronScheduler != nil {
		a.cronScheduler.Stop()
	}

	if a.shutdownTrace != nil {
		if err := a.shutdownTrace(context.Background()); err != nil {
			observability.Warn("Failed to flush traces", "error", err)
		}
	}

	// 关闭数据库
	if err := storage.Close(); err != nil {
		observability.Error("Failed to close database", "error", err)
		return err
	}

	observability.Info("CallForge shutdown complete")
	return nil
}
