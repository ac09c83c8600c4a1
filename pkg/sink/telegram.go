package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramConfig Telegram 错误通道配置
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"` // 是否启用
	Token   string `mapstructure:"token"`   // Bot Token
	ChatID  int64  `mapstructure:"chat_id"` // 接收通知的聊天 ID
	Claim   bool   `mapstructure:"claim"`   // 投递成功后是否认领错误（不再向调用方抛出）
}

// Validate 验证配置
func (c TelegramConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Token == "" {
		return ErrTokenRequired
	}
	if c.ChatID == 0 {
		return ErrChatIDRequired
	}
	return nil
}

// messageSender Bot API 的发送能力，便于测试替换
type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink 把执行失败推送到 Telegram 聊天
type TelegramSink struct {
	bot    messageSender
	chatID int64
	claim  bool
	logger *slog.Logger
}

// NewTelegramSink 创建 Telegram 错误通道
func NewTelegramSink(cfg TelegramConfig, logger *slog.Logger) (*TelegramSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	logger.Info("telegram sink authorized", "username", bot.Self.UserName, "chat_id", cfg.ChatID)
	return newTelegramSink(bot, cfg.ChatID, cfg.Claim, logger), nil
}

func newTelegramSink(bot messageSender, chatID int64, claim bool, logger *slog.Logger) *TelegramSink {
	return &TelegramSink{bot: bot, chatID: chatID, claim: claim, logger: logger}
}

// Report 实现 Sink
// 投递失败时不认领，由引擎继续向上抛出
func (s *TelegramSink) Report(ctx context.Context, functionPath string, err error) bool {
	text := fmt.Sprintf("⚠️ %s failed\n%s", functionPath, err.Error())
	msg := tgbotapi.NewMessage(s.chatID, text)

	sent, sendErr := s.bot.Send(msg)
	if sendErr != nil {
		s.logger.Error("failed to send failure notification",
			"chat_id", s.chatID,
			"function_path", functionPath,
			"error", sendErr,
		)
		return false
	}

	s.logger.Debug("failure notification sent",
		"chat_id", s.chatID,
		"message_id", sent.MessageID,
	)
	return s.claim
}

var (
	// ErrTokenRequired Token 未配置
	ErrTokenRequired = errors.New("telegram bot token is required")

	// ErrChatIDRequired 聊天 ID 未配置
	ErrChatIDRequired = errors.New("telegram chat id is required")
)
