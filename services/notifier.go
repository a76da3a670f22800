package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"railway-accident-analytics/config"
)

// DispatchAlert is the content of a critical-dispatch notification.
type DispatchAlert struct {
	DispatchID    int64
	AccidentID    *int64
	AccidentType  string
	Tier          string
	SeverityScore float64
	Ambulances    int
	DamageCost    decimal.Decimal
	Currency      string
	Reason        string
}

// Notifier delivers dispatch alerts.
type Notifier interface {
	Notify(ctx context.Context, alert DispatchAlert) error
}

// NopNotifier drops every alert.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, DispatchAlert) error { return nil }

type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts alerts to one chat, retrying with linear backoff.
type TelegramNotifier struct {
	bot        messageSender
	chatID     int64
	maxRetries int
	retryDelay time.Duration
}

func NewTelegramNotifier(cfg config.TelegramConfig) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newTelegramNotifier(bot, cfg.ChatID, cfg.MaxRetries, time.Second), nil
}

func newTelegramNotifier(bot messageSender, chatID int64, maxRetries int, retryDelay time.Duration) *TelegramNotifier {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &TelegramNotifier{bot: bot, chatID: chatID, maxRetries: maxRetries, retryDelay: retryDelay}
}

func (n *TelegramNotifier) Notify(ctx context.Context, alert DispatchAlert) error {
	msg := tgbotapi.NewMessage(n.chatID, FormatAlert(alert))
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < n.maxRetries; i++ {
		_, err := n.bot.Send(msg)
		if err == nil {
			alertsSent.WithLabelValues("ok").Inc()
			return nil
		}
		lastErr = err
		if i == n.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			alertsSent.WithLabelValues("failed").Inc()
			return ctx.Err()
		case <-time.After(n.retryDelay * time.Duration(i+1)):
		}
	}
	alertsSent.WithLabelValues("failed").Inc()
	return fmt.Errorf("failed to send alert after %d retries: %w", n.maxRetries, lastErr)
}

// FormatAlert renders an alert as Telegram MarkdownV2.
func FormatAlert(a DispatchAlert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 *%s railway accident*\n\n", escapeMarkdownV2(a.Tier))
	if a.AccidentID != nil {
		fmt.Fprintf(&b, "Accident: \\#%d\n", *a.AccidentID)
	}
	fmt.Fprintf(&b, "Type: %s\n", escapeMarkdownV2(a.AccidentType))
	fmt.Fprintf(&b, "Severity score: %s\n", escapeMarkdownV2(fmt.Sprintf("%.1f", a.SeverityScore)))
	fmt.Fprintf(&b, "Ambulances: *%d*\n", a.Ambulances)
	fmt.Fprintf(&b, "Damage estimate: %s %s\n", escapeMarkdownV2(a.DamageCost.StringFixedBank(0)), a.Currency)
	if a.Reason != "" {
		fmt.Fprintf(&b, "\n%s", escapeMarkdownV2(a.Reason))
	}
	return b.String()
}

func escapeMarkdownV2(text string) string {
	var b strings.Builder
	for _, r := range text {
		if strings.ContainsRune("_*[]()~`>#+-=|{}.!\\", r) {
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
