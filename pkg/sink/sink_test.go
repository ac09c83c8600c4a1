package sink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLogSink_NeverClaims(t *testing.T) {
	assert.False(t, LogSink{}.Report(context.Background(), "functions/x", errors.New("boom")))
}

func TestMulti_AnyClaimWins(t *testing.T) {
	var calls int
	claim := Func(func(context.Context, string, error) bool { calls++; return true })
	pass := Func(func(context.Context, string, error) bool { calls++; return false })

	assert.True(t, Multi{pass, claim}.Report(context.Background(), "p", errors.New("e")))
	assert.Equal(t, 2, calls)
	assert.False(t, Multi{pass}.Report(context.Background(), "p", errors.New("e")))
}

func TestTelegramSink_Report(t *testing.T) {
	bot := &fakeBot{}
	s := newTelegramSink(bot, 42, true, discardLogger())

	claimed := s.Report(context.Background(), "functions/get_user", errors.New("dial tcp: refused"))
	assert.True(t, claimed)
	require.Len(t, bot.sent, 1)
	assert.Equal(t, int64(42), bot.sent[0].ChatID)
	assert.Contains(t, bot.sent[0].Text, "functions/get_user")
	assert.Contains(t, bot.sent[0].Text, "dial tcp: refused")
}

func TestTelegramSink_DeliveryFailureNotClaimed(t *testing.T) {
	bot := &fakeBot{err: errors.New("network down")}
	s := newTelegramSink(bot, 42, true, discardLogger())

	assert.False(t, s.Report(context.Background(), "functions/x", errors.New("e")))
}

func TestTelegramConfig_Validate(t *testing.T) {
	assert.NoError(t, TelegramConfig{}.Validate())
	assert.ErrorIs(t, TelegramConfig{Enabled: true}.Validate(), ErrTokenRequired)
	assert.ErrorIs(t, TelegramConfig{Enabled: true, Token: "t"}.Validate(), ErrChatIDRequired)
}
