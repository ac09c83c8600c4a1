package function

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/KodaTao/CallForge/pkg/argument"
	"github.com/KodaTao/CallForge/pkg/describe"
	"github.com/KodaTao/CallForge/pkg/observability"
	"github.com/KodaTao/CallForge/pkg/payload"
	"github.com/KodaTao/CallForge/pkg/retrain"
	"github.com/KodaTao/CallForge/pkg/signature"
	"github.com/KodaTao/CallForge/pkg/sink"
	"github.com/KodaTao/CallForge/pkg/template"
	"github.com/KodaTao/CallForge/pkg/transport"
	"github.com/KodaTao/CallForge/pkg/types"
)

// Config 引擎配置
type Config struct {
	ArgCountLimit     int    `mapstructure:"arg_count_limit"`     // 超过该数量时 body 参数归入 payload
	AcceptedStatusMin int    `mapstructure:"accepted_status_min"` // 教学时可接受的样例响应状态码下限
	AcceptedStatusMax int    `mapstructure:"accepted_status_max"` // 上限
	Escaping          string `mapstructure:"escaping"`            // control（默认）或 none
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		ArgCountLimit:     argument.DefaultArgCountLimit,
		AcceptedStatusMin: 200,
		AcceptedStatusMax: 299,
		Escaping:          "control",
	}
}

// TeachOutcome 教学结果
type TeachOutcome string

const (
	OutcomeCreated   TeachOutcome = "created"   // 新建函数
	OutcomeRetrained TeachOutcome = "retrained" // 原地重训
)

// SampleResponse 录制时得到的响应
type SampleResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// TeachInput 一次教学
type TeachInput struct {
	Template    template.RequestTemplate `json:"template"`
	Samples     map[string]any           `json:"samples,omitempty"` // 录制时各参数的取值
	Response    *SampleResponse          `json:"response,omitempty"`
	PayloadPath string                   `json:"payload_path,omitempty"`
	Name        string                   `json:"name,omitempty"`
	Description string                   `json:"description,omitempty"`
	FunctionID  string                   `json:"function_id,omitempty"` // 显式指定重训目标
	ForceNew    bool                     `json:"force_new,omitempty"`   // 跳过匹配，总是新建
}

// Service 函数服务：教学、执行与管理
type Service struct {
	repo      *Repository
	transport transport.Transport
	matcher   *retrain.Matcher
	inferrer  argument.TypeInferrer
	describer describe.Describer
	sink      sink.Sink
	metrics   *observability.Metrics
	escaper   template.Escaper
	cfg       Config
	onDelete  []func(ctx context.Context, id string)
}

// Option Service 配置选项
type Option func(*Service)

// WithConfig 设置引擎配置
func WithConfig(cfg Config) Option {
	return func(s *Service) {
		s.cfg = cfg
	}
}

// WithDescriber 设置命名协作者
func WithDescriber(d describe.Describer) Option {
	return func(s *Service) {
		s.describer = d
	}
}

// WithSink 设置错误通道
func WithSink(sk sink.Sink) Option {
	return func(s *Service) {
		s.sink = sk
	}
}

// WithInferrer 设置类型推断协作者
func WithInferrer(inf argument.TypeInferrer) Option {
	return func(s *Service) {
		s.inferrer = inf
	}
}

// WithMetrics 设置指标
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService 创建函数服务
func NewService(repo *Repository, tr transport.Transport, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		transport: tr,
		inferrer:  argument.JSONInferrer{},
		describer: describe.Derived{},
		sink:      sink.LogSink{},
		metrics:   observability.DefaultMetrics,
		cfg:       DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.AcceptedStatusMin == 0 && s.cfg.AcceptedStatusMax == 0 {
		s.cfg.AcceptedStatusMin, s.cfg.AcceptedStatusMax = 200, 299
	}
	s.escaper = template.EscaperByName(s.cfg.Escaping)
	s.matcher = retrain.NewMatcher(s.cfg.ArgCountLimit, s.inferrer)
	return s
}

// OnDelete 注册函数删除后的回调（例如清理调度任务）
func (s *Service) OnDelete(fn func(ctx context.Context, id string)) {
	s.onDelete = append(s.onDelete, fn)
}

// Teach 教学：新建函数，或原地重训一个已有函数
func (s *Service) Teach(ctx context.Context, in TeachInput) (*Record, TeachOutcome, error) {
	in.Template.Method = strings.ToUpper(in.Template.Method)
	if err := template.Validate(in.Template); err != nil {
		return nil, "", err
	}
	sample, err := s.validateResponse(in)
	if err != nil {
		return nil, "", err
	}

	baseURL := in.Template.BaseURL()
	unlock := s.repo.LockEndpoint(in.Template.Method, baseURL)
	defer unlock()

	target, err := s.pickTarget(ctx, in, baseURL)
	if err != nil {
		return nil, "", err
	}

	explicitName := strings.TrimSpace(in.Name) != ""
	outcome := OutcomeCreated
	if target != nil {
		outcome = OutcomeRetrained
	}

	var rec *Record
	for attempt := 1; ; attempt++ {
		var current argument.Metadata
		if target != nil {
			current = target.Metadata
		}
		metadata, err := s.resolveMetadata(in, current)
		if err != nil {
			return nil, "", err
		}

		rec = &Record{}
		if target != nil {
			stored := *target
			rec = &stored
		}
		rec.Method = in.Template.Method
		rec.BaseURL = baseURL
		rec.Template = in.Template
		rec.Metadata = metadata
		rec.ResponseSample = string(sample)
		rec.PayloadPath = strings.TrimSpace(in.PayloadPath)
		switch {
		case explicitName:
			rec.Name = strings.TrimSpace(in.Name)
		case target == nil:
			desc := s.describeNew(ctx, in, argument.Discover(in.Template, nil), sample)
			rec.Name = desc.Name
			rec.Description = desc.Description
		}
		if in.Description != "" {
			rec.Description = in.Description
		}

		err = s.repo.Transaction(ctx, func(tx *Repository) error {
			// 目标在解析元数据期间被修改过（例如 UpdateArguments），基于新版本重新计算
			if target != nil {
				fresh, err := tx.Get(ctx, target.ID)
				if err != nil {
					return err
				}
				if !fresh.UpdatedAt.Equal(target.UpdatedAt) {
					target = fresh
					return errStaleTarget
				}
			}
			name, err := s.reserveName(ctx, tx, rec, explicitName)
			if err != nil {
				return err
			}
			rec.Name = name
			if outcome == OutcomeRetrained {
				return tx.Update(ctx, rec)
			}
			return tx.Create(ctx, rec)
		})
		if errors.Is(err, errStaleTarget) {
			if attempt < maxTeachAttempts {
				continue
			}
			return nil, "", types.NewConflictError("function %s was modified concurrently", target.ID)
		}
		if err != nil {
			return nil, "", err
		}
		break
	}

	s.metrics.Teaches.WithLabelValues(string(outcome)).Inc()
	observability.TeachLog(types.WithFunctionID(ctx, rec.ID), string(outcome), len(rec.Metadata))
	return rec, outcome, nil
}

// resolveMetadata 发现并解析参数元数据
// 重训时，用户显式修改过的必填参数不能从新模板中消失
func (s *Service) resolveMetadata(in TeachInput, current argument.Metadata) (argument.Metadata, error) {
	discovered := argument.Discover(in.Template, current)
	metadata := argument.Resolve(argument.ResolveInput{
		Current:       current,
		Discovered:    discovered,
		Samples:       in.Samples,
		ArgCountLimit: s.cfg.ArgCountLimit,
		Inferrer:      s.inferrer,
	})
	if err := checkDuplicateNames(metadata); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(current))
	for key := range current {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		meta := current[key]
		if !meta.Edited || !meta.IsRequired() {
			continue
		}
		if _, ok := metadata[key]; !ok {
			return nil, types.NewConflictError("required argument %q was edited and is missing from the new template", key)
		}
	}
	return metadata, nil
}

// validateResponse 校验样例响应，返回需要保存的样例
func (s *Service) validateResponse(in TeachInput) (json.RawMessage, error) {
	path := strings.TrimSpace(in.PayloadPath)
	if err := payload.ValidatePath(path); err != nil {
		return nil, &types.ValidationError{Field: "payload_path", Message: "invalid path", Err: err}
	}

	if in.Response == nil {
		if path != "" {
			return nil, types.NewValidationError("response", "payload path requires a sample response")
		}
		return nil, nil
	}

	if in.Response.Status != 0 &&
		(in.Response.Status < s.cfg.AcceptedStatusMin || in.Response.Status > s.cfg.AcceptedStatusMax) {
		return nil, types.NewValidationError("response.status", "status %d outside accepted range %d-%d",
			in.Response.Status, s.cfg.AcceptedStatusMin, s.cfg.AcceptedStatusMax)
	}

	body := in.Response.Body
	if len(body) == 0 || string(body) == "null" {
		if path != "" {
			return nil, types.NewValidationError("response", "payload path requires a sample response")
		}
		return nil, nil
	}
	if path != "" {
		if _, err := payload.Extract(body, path); err != nil {
			return nil, &types.ValidationError{Field: "payload_path", Message: "does not resolve against the sample response", Err: err}
		}
	}
	return body, nil
}

// pickTarget 选择重训目标，nil 表示新建
func (s *Service) pickTarget(ctx context.Context, in TeachInput, baseURL string) (*Record, error) {
	if in.FunctionID != "" {
		return s.repo.Get(ctx, in.FunctionID)
	}
	if in.ForceNew {
		return nil, nil
	}

	records, err := s.repo.FindCandidates(ctx, baseURL, in.Template.Method)
	if err != nil {
		return nil, fmt.Errorf("failed to find candidates: %w", err)
	}
	candidates := make([]retrain.Candidate, len(records))
	for i := range records {
		candidates[i] = records[i].candidate()
	}

	matched, ok := s.matcher.Match(candidates, retrain.Capture{Template: in.Template, Samples: in.Samples})
	if !ok {
		return nil, nil
	}
	for i := range records {
		if records[i].ID == matched.ID {
			return &records[i], nil
		}
	}
	return nil, nil
}

// describeNew 为新函数命名，协作者失败时退回推导名称
func (s *Service) describeNew(ctx context.Context, in TeachInput, args []argument.Argument, sample json.RawMessage) describe.Description {
	names := make([]string, len(args))
	for i, a := range args {
		names[i] = a.Name
	}
	input := describe.Input{Template: in.Template, ResponseSample: sample, ArgumentNames: names}

	desc, err := s.describer.Describe(ctx, input)
	if err != nil || desc.Name == "" {
		if err != nil {
			observability.WarnContext(ctx, "Describer failed, using derived name", "error", err)
		}
		desc, _ = describe.Derived{}.Describe(ctx, input)
	}
	return desc
}

// reserveName 确认名称未被其他函数占用
// 显式指定的名称冲突时返回 ConflictError；自动生成的名称追加序号
func (s *Service) reserveName(ctx context.Context, tx *Repository, rec *Record, explicit bool) (string, error) {
	base := rec.Name
	name := base
	for i := 2; ; i++ {
		taken, err := tx.NameTaken(ctx, name, rec.ID)
		if err != nil {
			return "", err
		}
		if !taken {
			return name, nil
		}
		if explicit {
			return "", types.NewConflictError("function name %q is already used by another function", name)
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
}

// checkDuplicateNames 参数展示名大小写归一后不能重复
func checkDuplicateNames(md argument.Metadata) error {
	seen := make(map[string]string, len(md))
	for key, meta := range md {
		name := strings.ToLower(meta.DisplayName(key))
		if other, ok := seen[name]; ok {
			a, b := other, key
			if a > b {
				a, b = b, a
			}
			return types.NewValidationError("arguments", "duplicate argument name %q (keys %q and %q)", name, a, b)
		}
		seen[name] = key
	}
	return nil
}

// UpdateArguments 显式修改参数元数据，全部成功或全部不生效
// 被修改的条目标记为 Edited，其类型在后续重训中保留
func (s *Service) UpdateArguments(ctx context.Context, id string, patch map[string]argument.Meta) (*Record, error) {
	var rec *Record
	err := s.repo.Transaction(ctx, func(tx *Repository) error {
		var err error
		rec, err = tx.Get(ctx, id)
		if err != nil {
			return err
		}

		updated := rec.Metadata.Clone()
		for key, p := range patch {
			existing, ok := updated[key]
			if !ok {
				return types.NewConflictError("argument %q does not exist in function %s", key, rec.ID)
			}
			updated[key] = applyPatch(existing, p)
		}
		if err := checkDuplicateNames(updated); err != nil {
			return err
		}

		rec.Metadata = updated
		return tx.Update(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	observability.InfoContext(types.WithFunctionID(ctx, rec.ID), "Function arguments updated", "arguments", len(patch))
	return rec, nil
}

// applyPatch 用户显式设置的字段覆盖已有值；payload 始终由分组规则决定
func applyPatch(existing, p argument.Meta) argument.Meta {
	out := existing
	if p.Name != "" {
		out.Name = p.Name
	}
	if p.Description != "" {
		out.Description = p.Description
	}
	if p.Required != nil {
		out.Required = argument.BoolPtr(*p.Required)
	}
	if p.Secure != nil {
		out.Secure = argument.BoolPtr(*p.Secure)
	}
	if p.Type != "" {
		if p.Type != out.Type {
			out.Schema = nil
		}
		out.Type = p.Type
	}
	if p.Schema != nil {
		out.Schema = p.Schema.Clone()
	}
	out.Edited = true
	return out
}

// Get 获取函数
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.repo.Get(ctx, id)
}

// List 列出函数
func (s *Service) List(ctx context.Context, limit, offset int) ([]Record, error) {
	return s.repo.List(ctx, limit, offset)
}

// Delete 删除函数
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	observability.InfoContext(types.WithFunctionID(ctx, id), "Function deleted")
	for _, fn := range s.onDelete {
		fn(ctx, id)
	}
	return nil
}

// Specification 生成函数的调用签名
func (s *Service) Specification(ctx context.Context, id string) (signature.Specification, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return signature.Specification{}, err
	}
	return signature.Generate(rec.source(), s.inferrer), nil
}

// IsNotFound 判断是否为函数不存在错误
func IsNotFound(err error) bool {
	return errors.Is(err, types.ErrFunctionNotFound)
}

// maxTeachAttempts 目标被并发修改时重新计算的最大次数
const maxTeachAttempts = 3

var errStaleTarget = errors.New("target function changed during teach")
