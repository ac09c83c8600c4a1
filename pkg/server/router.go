// Package server 提供 HTTP Server 功能
package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/KodaTao/CallForge/pkg/chassis"
	"github.com/KodaTao/CallForge/pkg/observability"
	"github.com/KodaTao/CallForge/pkg/types"
)

// Server HTTP 服务器
type Server struct {
	app    *chassis.App
	engine *gin.Engine
	config *chassis.ServerConfig
}

// NewServer 创建 HTTP 服务器
func NewServer(app *chassis.App) *Server {
	config := &app.GetConfig().Server

	// 设置 Gin 模式
	switch config.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()

	// 添加中间件
	engine.Use(gin.Recovery())
	engine.Use(TraceMiddleware())
	engine.Use(LoggerMiddleware())
	engine.Use(CORSMiddleware())

	server := &Server{
		app:    app,
		engine: engine,
		config: config,
	}

	// 注册路由
	server.setupRoutes()

	return server
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	// 健康检查
	s.engine.GET("/health", s.healthCheck)

	metrics := s.app.GetConfig().Observability.Metrics
	if metrics.Enabled {
		s.engine.GET(metrics.Path, gin.WrapH(s.app.Metrics().Handler()))
	}

	// API v1
	v1 := s.engine.Group("/api/v1")
	{
		// 函数
		v1.POST("/functions/teach", s.teach)
		v1.GET("/functions", s.listFunctions)
		v1.GET("/functions/:id", s.getFunction)
		v1.DELETE("/functions/:id", s.deleteFunction)
		v1.PATCH("/functions/:id/arguments", s.updateArguments)
		v1.POST("/functions/:id/execute", s.execute)
		v1.GET("/functions/:id/specification", s.specification)

		// 定时执行
		if s.app.Scheduler() != nil {
			v1.POST("/schedules", s.createSchedule)
			v1.GET("/schedules", s.listSchedules)
			v1.GET("/schedules/:id", s.getSchedule)
			v1.DELETE("/schedules/:id", s.deleteSchedule)
			v1.GET("/schedules/:id/runs", s.scheduleRuns)
			v1.POST("/schedules/:id/run", s.runSchedule)
		}
	}
}

// Run 启动服务器
func (s *Server) Run() error {
	addr := s.config.Host + ":" + strconv.Itoa(s.config.Port)
	observability.Info("Starting HTTP server", "address", addr)
	return s.engine.Run(addr)
}

// GetEngine 获取 Gin 引擎（用于测试）
func (s *Server) GetEngine() *gin.Engine {
	return s.engine
}

// 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

// writeError 按错误类型映射 HTTP 状态码
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case types.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrFunctionNotFound), errors.Is(err, types.ErrScheduleNotFound):
		status = http.StatusNotFound
	case types.IsConflict(err):
		status = http.StatusConflict
	case types.IsTransport(err):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		observability.ErrorContext(c.Request.Context(), "Request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// pagination 读取 limit/offset 查询参数
func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	return limit, offset
}

// TraceMiddleware 为每个请求分配 trace_id，日志会自动带上
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Header("X-Trace-ID", traceID)
		c.Request = c.Request.WithContext(types.WithTraceID(c.Request.Context(), traceID))
		c.Next()
	}
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		observability.InfoContext(c.Request.Context(), "HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Trace-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
