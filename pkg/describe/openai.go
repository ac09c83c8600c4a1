package describe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/KodaTao/CallForge/pkg/observability"
)

// Config LLM 配置
type Config struct {
	// Enabled 是否启用 AI 命名，未启用时使用 Derived
	Enabled bool `mapstructure:"enabled"`

	// APIKey API 密钥，支持 ${ENV} 形式
	APIKey string `mapstructure:"api_key"`

	// BaseURL API 基础 URL（用于自定义 endpoint）
	BaseURL string `mapstructure:"base_url"`

	// Model 模型名称
	Model string `mapstructure:"model"`

	// Timeout 请求超时时间（秒）
	Timeout int `mapstructure:"timeout"`
}

// ResolveAPIKey 解析 API Key（支持环境变量引用）
// 如果值以 ${} 包裹，则从环境变量读取
func ResolveAPIKey(key string) string {
	if strings.HasPrefix(key, "${") && strings.HasSuffix(key, "}") {
		return os.Getenv(key[2 : len(key)-1])
	}
	return key
}

// chatClient go-openai 客户端的最小接口，便于测试替换
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIDescriber 通过 OpenAI 兼容接口生成名称和描述
type OpenAIDescriber struct {
	client  chatClient
	model   string
	timeout time.Duration
	prompt  *template.Template
}

// NewOpenAIDescriber 创建描述器
func NewOpenAIDescriber(cfg Config) (*OpenAIDescriber, error) {
	apiKey := ResolveAPIKey(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	observability.Info("Describer initialized", "model", model, "api_key", maskAPIKey(apiKey))
	return newOpenAIDescriber(openai.NewClientWithConfig(clientCfg), model, timeout), nil
}

func newOpenAIDescriber(client chatClient, model string, timeout time.Duration) *OpenAIDescriber {
	return &OpenAIDescriber{
		client:  client,
		model:   model,
		timeout: timeout,
		prompt:  template.Must(template.New("describe").Parse(describePrompt)),
	}
}

// promptData 提示词模板数据
type promptData struct {
	Method    string
	URL       string
	Arguments []string
	Sample    string
}

// Describe 实现 Describer
func (d *OpenAIDescriber) Describe(ctx context.Context, in Input) (Description, error) {
	var buf bytes.Buffer
	sample := string(in.ResponseSample)
	if len(sample) > 2000 {
		sample = sample[:2000]
	}
	if err := d.prompt.Execute(&buf, promptData{
		Method:    strings.ToUpper(in.Template.Method),
		URL:       in.Template.BaseURL(),
		Arguments: in.ArgumentNames,
		Sample:    sample,
	}); err != nil {
		return Description{}, fmt.Errorf("failed to render prompt: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buf.String()},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.2,
	})
	if err != nil {
		return Description{}, fmt.Errorf("describe request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Description{}, ErrEmptyResponse
	}

	var out Description
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return Description{}, fmt.Errorf("invalid describe response: %w", err)
	}
	out.Name = Sanitize(out.Name)
	if out.Name == "" {
		return Description{}, ErrEmptyResponse
	}
	return out, nil
}

// maskAPIKey 脱敏 API Key，用于日志输出
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

const systemPrompt = `You name HTTP endpoints so they can be called as functions from generated SDKs.
Reply with a JSON object {"name": "...", "description": "..."}.
The name is lower snake_case, starts with a verb, and has at most five words.
The description is one sentence.`

const describePrompt = `Endpoint: {{.Method}} {{.URL}}
{{- if .Arguments}}
Arguments: {{range $i, $a := .Arguments}}{{if $i}}, {{end}}{{$a}}{{end}}
{{- end}}
{{- if .Sample}}
Sample response:
{{.Sample}}
{{- end}}`

// 错误定义
var (
	ErrMissingAPIKey = &DescribeError{Message: "API key is required"}
	ErrEmptyResponse = &DescribeError{Message: "describer returned no name"}
)

// DescribeError 描述器错误
type DescribeError struct {
	Message string
}

func (e *DescribeError) Error() string {
	return e.Message
}
