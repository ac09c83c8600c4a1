// Package chassis 装配 CallForge 的各个组件
package chassis

import (
	"time"

	"github.com/KodaTao/CallForge/pkg/describe"
	"github.com/KodaTao/CallForge/pkg/function"
	"github.com/KodaTao/CallForge/pkg/sink"
)

// Config 应用配置
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Engine        function.Config     `mapstructure:"engine"`
	Transport     TransportConfig     `mapstructure:"transport"`
	LLM           describe.Config     `mapstructure:"llm"`
	Telegram      sink.TelegramConfig `mapstructure:"telegram"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// Host 监听地址
	Host string `mapstructure:"host"`

	// Port 监听端口
	Port int `mapstructure:"port"`

	// Mode 运行模式：debug, release, test
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// Path 数据库文件路径
	Path string `mapstructure:"path"`
}

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别：debug, info, warn, error
	Level string `mapstructure:"level"`

	// Format 日志格式：text, json
	Format string `mapstructure:"format"`

	// Output 输出目标：stdout, file
	Output string `mapstructure:"output"`

	// FilePath 日志文件路径（当 Output 为 file 时生效）
	FilePath string `mapstructure:"file_path"`
}

// TransportConfig 出站调用配置
type TransportConfig struct {
	// Timeout 单次调用超时
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxBodyBytes 响应体读取上限
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// SchedulerConfig 定时执行配置
type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Enabled 是否启用
	Enabled bool `mapstructure:"enabled"`

	// Path 指标暴露路径
	Path string `mapstructure:"path"`
}

// TracingConfig 链路追踪配置
type TracingConfig struct {
	// Enabled 是否启用
	Enabled bool `mapstructure:"enabled"`

	// Endpoint 追踪数据上报地址（OTLP/HTTP）
	Endpoint string `mapstructure:"endpoint"`

	// ServiceName 上报的服务名
	ServiceName string `mapstructure:"service_name"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Path: "~/.callforge/callforge.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Engine: function.DefaultConfig(),
		Transport: TransportConfig{
			Timeout: 30 * time.Second,
		},
		LLM: describe.Config{
			Enabled: false,
			Model:   "gpt-4o-mini",
			Timeout: 30,
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: false,
				Path:    "/metrics",
			},
			Tracing: TracingConfig{
				Enabled:     false,
				ServiceName: "callforge",
			},
		},
	}
}

// Option 配置选项函数
type Option func(*Config)

// WithConfig 整体替换配置
func WithConfig(cfg *Config) Option {
	return func(c *Config) {
		*c = *cfg
	}
}

// WithServerPort 设置服务器端口
func WithServerPort(port int) Option {
	return func(c *Config) {
		c.Server.Port = port
	}
}

// WithServerMode 设置运行模式
func WithServerMode(mode string) Option {
	return func(c *Config) {
		c.Server.Mode = mode
	}
}

// WithLogLevel 设置日志级别
func WithLogLevel(level string) Option {
	return func(c *Config) {
		c.Log.Level = level
	}
}

// WithDatabasePath 设置数据库路径
func WithDatabasePath(path string) Option {
	return func(c *Config) {
		c.Database.Path = path
	}
}

// WithEngine 设置引擎配置
func WithEngine(cfg function.Config) Option {
	return func(c *Config) {
		c.Engine = cfg
	}
}

// WithLLMConfig 设置命名用的 LLM 配置
func WithLLMConfig(cfg describe.Config) Option {
	return func(c *Config) {
		c.LLM = cfg
	}
}

// WithTelegram 设置 Telegram 错误通道
func WithTelegram(t sink.TelegramConfig) Option {
	return func(c *Config) {
		c.Telegram = t
	}
}

// WithScheduler 启用或关闭定时执行
func WithScheduler(enabled bool) Option {
	return func(c *Config) {
		c.Scheduler.Enabled = enabled
	}
}

// WithMetrics 启用 /metrics
func WithMetrics(enabled bool) Option {
	return func(c *Config) {
		c.Observability.Metrics.Enabled = enabled
	}
}
