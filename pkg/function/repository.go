package function

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/KodaTao/CallForge/pkg/types"
)

// Repository 函数记录的数据访问层
type Repository struct {
	db    *gorm.DB
	locks *endpointLocks
}

// NewRepository 创建 Repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, locks: &endpointLocks{m: make(map[string]*endpointLock)}}
}

// Migrate 迁移函数表
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(&Record{})
}

// Transaction 在一个事务中执行 fn，fn 收到绑定到该事务的 Repository
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&Repository{db: db, locks: r.locks})
	})
}

// LockEndpoint 串行化同一 (method, url) 上的教学，返回解锁函数
func (r *Repository) LockEndpoint(method, baseURL string) (unlock func()) {
	return r.locks.lock(strings.ToUpper(method) + " " + baseURL)
}

// FindCandidates 查找 url（忽略查询串）和 method 相同的函数，按创建时间排序
func (r *Repository) FindCandidates(ctx context.Context, baseURL, method string) ([]Record, error) {
	var records []Record
	err := r.db.WithContext(ctx).
		Where("base_url = ? AND method = ?", baseURL, strings.ToUpper(method)).
		Order("created_at ASC").
		Find(&records).Error
	return records, err
}

// Get 根据 ID 获取函数
func (r *Repository) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", types.ErrFunctionNotFound, id)
		}
		return nil, err
	}
	return &rec, nil
}

// FindByName 根据名称获取函数
func (r *Repository) FindByName(ctx context.Context, name string) (*Record, error) {
	var rec Record
	if err := r.db.WithContext(ctx).First(&rec, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", types.ErrFunctionNotFound, name)
		}
		return nil, err
	}
	return &rec, nil
}

// NameTaken 检查名称是否已被 exceptID 以外的函数占用
func (r *Repository) NameTaken(ctx context.Context, name, exceptID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Record{}).
		Where("name = ? AND id <> ?", name, exceptID).
		Count(&count).Error
	return count > 0, err
}

// Create 创建函数，ID 为空时生成 UUID
func (r *Repository) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

// Update 保存函数的全部字段
func (r *Repository) Update(ctx context.Context, rec *Record) error {
	return r.db.WithContext(ctx).Save(rec).Error
}

// Delete 根据 ID 删除函数
func (r *Repository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&Record{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", types.ErrFunctionNotFound, id)
	}
	return nil
}

// List 列出函数
func (r *Repository) List(ctx context.Context, limit, offset int) ([]Record, error) {
	var records []Record
	query := r.db.WithContext(ctx).Order("name ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Count 统计函数数量
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Record{}).Count(&count).Error
	return count, err
}

// endpointLocks 按 endpoint 分配的互斥锁，无人持有时回收
type endpointLocks struct {
	mu sync.Mutex
	m  map[string]*endpointLock
}

type endpointLock struct {
	mu   sync.Mutex
	refs int
}

func (l *endpointLocks) lock(key string) func() {
	l.mu.Lock()
	el, ok := l.m[key]
	if !ok {
		el = &endpointLock{}
		l.m[key] = el
	}
	el.refs++
	l.mu.Unlock()

	el.mu.Lock()
	return func() {
		el.mu.Unlock()
		l.mu.Lock()
		el.refs--
		if el.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}
