package scheduler

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/KodaTao/CallForge/pkg/types"
)

// ScheduleRepository Schedule 数据访问层
type ScheduleRepository struct {
	db *gorm.DB
}

// NewScheduleRepository 创建 ScheduleRepository
func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// Create 创建调度
func (r *ScheduleRepository) Create(s *Schedule) error {
	return r.db.Create(s).Error
}

// GetByID 根据 ID 获取调度
func (r *ScheduleRepository) GetByID(id uint) (*Schedule, error) {
	var s Schedule
	if err := r.db.First(&s, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", types.ErrScheduleNotFound, id)
		}
		return nil, err
	}
	return &s, nil
}

// ExistsByName 检查名称是否已被占用
func (r *ScheduleRepository) ExistsByName(name string) (bool, error) {
	var count int64
	err := r.db.Model(&Schedule{}).Where("name = ?", name).Count(&count).Error
	return count > 0, err
}

// UpdateNextRunAt 更新下次执行时间
func (r *ScheduleRepository) UpdateNextRunAt(id uint, nextRunAt any) error {
	return r.db.Model(&Schedule{}).Where("id = ?", id).Update("next_run_at", nextRunAt).Error
}

// RecordRun 记录一次执行的结果
func (r *ScheduleRepository) RecordRun(id uint, run *ScheduleRun) error {
	return r.db.Model(&Schedule{}).Where("id = ?", id).Updates(map[string]any{
		"run_count":   gorm.Expr("run_count + ?", 1),
		"last_run_at": run.StartedAt,
		"last_status": run.Status,
	}).Error
}

// DeleteByID 根据 ID 删除调度
func (r *ScheduleRepository) DeleteByID(id uint) error {
	// 硬删除，名称可以被重新使用
	result := r.db.Unscoped().Delete(&Schedule{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", types.ErrScheduleNotFound, id)
	}
	return nil
}

// List 列出调度
func (r *ScheduleRepository) List(limit, offset int) ([]Schedule, error) {
	var schedules []Schedule
	query := r.db.Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&schedules).Error; err != nil {
		return nil, err
	}
	return schedules, nil
}

// ListByFunctionID 列出某个函数的全部调度
func (r *ScheduleRepository) ListByFunctionID(functionID string) ([]Schedule, error) {
	var schedules []Schedule
	err := r.db.Where("function_id = ?", functionID).Find(&schedules).Error
	return schedules, err
}

// ListEnabled 列出所有启用的调度（用于恢复）
func (r *ScheduleRepository) ListEnabled() ([]Schedule, error) {
	var schedules []Schedule
	err := r.db.Where("enabled = ?", true).Find(&schedules).Error
	return schedules, err
}

// RunRepository ScheduleRun 数据访问层
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository 创建 RunRepository
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create 创建执行记录
func (r *RunRepository) Create(run *ScheduleRun) error {
	return r.db.Create(run).Error
}

// Update 更新执行记录
func (r *RunRepository) Update(run *ScheduleRun) error {
	return r.db.Save(run).Error
}

// ListByScheduleID 根据调度 ID 列出执行历史，最新的在前
func (r *RunRepository) ListByScheduleID(scheduleID uint, limit, offset int) ([]ScheduleRun, error) {
	var runs []ScheduleRun
	query := r.db.Where("schedule_id = ?", scheduleID).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// CountByScheduleID 统计调度的执行次数
func (r *RunRepository) CountByScheduleID(scheduleID uint) (int64, error) {
	var count int64
	err := r.db.Model(&ScheduleRun{}).Where("schedule_id = ?", scheduleID).Count(&count).Error
	return count, err
}

// DeleteByScheduleID 删除调度的所有执行历史
func (r *RunRepository) DeleteByScheduleID(scheduleID uint) error {
	return r.db.Unscoped().Where("schedule_id = ?", scheduleID).Delete(&ScheduleRun{}).Error
}
