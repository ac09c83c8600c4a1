package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/KodaTao/CallForge/pkg/argument"
	"github.com/KodaTao/CallForge/pkg/function"
	"github.com/KodaTao/CallForge/pkg/scheduler"
	"github.com/KodaTao/CallForge/pkg/types"
)

// executeRequest 执行请求
type executeRequest struct {
	Arguments map[string]any `json:"arguments"`
}

// updateArgumentsRequest 参数修改请求
type updateArgumentsRequest struct {
	Arguments map[string]argument.Meta `json:"arguments" binding:"required"`
}

// 教学
func (s *Server) teach(c *gin.Context) {
	var req function.TeachInput
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &types.ValidationError{Message: "invalid request", Err: err})
		return
	}

	rec, outcome, err := s.app.Functions().Teach(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if outcome == function.OutcomeCreated {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"outcome":  outcome,
		"function": rec,
	})
}

// 列出函数
func (s *Server) listFunctions(c *gin.Context) {
	limit, offset := pagination(c)
	records, err := s.app.Functions().List(c.Request.Context(), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"functions": records,
		"count":     len(records),
	})
}

// 获取单个函数
func (s *Server) getFunction(c *gin.Context) {
	rec, err := s.app.Functions().Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// 删除函数
func (s *Server) deleteFunction(c *gin.Context) {
	if err := s.app.Functions().Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Function deleted"})
}

// 修改参数元数据
func (s *Server) updateArguments(c *gin.Context) {
	var req updateArgumentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &types.ValidationError{Message: "invalid request", Err: err})
		return
	}

	rec, err := s.app.Functions().UpdateArguments(c.Request.Context(), c.Param("id"), req.Arguments)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// 执行函数
func (s *Server) execute(c *gin.Context) {
	var req executeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, &types.ValidationError{Message: "invalid request", Err: err})
			return
		}
	}

	result, err := s.app.Functions().Execute(c.Request.Context(), c.Param("id"), req.Arguments)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// 获取调用签名
func (s *Server) specification(c *gin.Context) {
	spec, err := s.app.Functions().Specification(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, spec)
}

// 创建调度
func (s *Server) createSchedule(c *gin.Context) {
	var req scheduler.CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &types.ValidationError{Message: "invalid request", Err: err})
		return
	}

	sc, err := s.app.Scheduler().Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sc)
}

// 列出调度
func (s *Server) listSchedules(c *gin.Context) {
	limit, offset := pagination(c)
	schedules, err := s.app.Scheduler().List(limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"schedules": schedules,
		"count":     len(schedules),
	})
}

// 获取调度
func (s *Server) getSchedule(c *gin.Context) {
	id, ok := scheduleID(c)
	if !ok {
		return
	}
	sc, err := s.app.Scheduler().Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sc)
}

// 删除调度
func (s *Server) deleteSchedule(c *gin.Context) {
	id, ok := scheduleID(c)
	if !ok {
		return
	}
	if err := s.app.Scheduler().Delete(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Schedule deleted"})
}

// 执行历史
func (s *Server) scheduleRuns(c *gin.Context) {
	id, ok := scheduleID(c)
	if !ok {
		return
	}
	limit, offset := pagination(c)
	runs, err := s.app.Scheduler().History(id, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

// 立即执行一次调度
func (s *Server) runSchedule(c *gin.Context) {
	id, ok := scheduleID(c)
	if !ok {
		return
	}
	if _, err := s.app.Scheduler().Get(id); err != nil {
		writeError(c, err)
		return
	}
	run := s.app.Scheduler().Run(id)
	if run == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler is stopped"})
		return
	}
	c.JSON(http.StatusOK, run)
}

// scheduleID 解析路径中的调度 ID
func scheduleID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, types.NewValidationError("id", "invalid schedule id %q", c.Param("id")))
		return 0, false
	}
	return uint(id), true
}
