// Package telegram provides a client for sending signal notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/quantstream/internal/models"
)

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	status         func() string
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// SetStatus installs the function that answers the /status command.
func (c *Client) SetStatus(fn func() string) {
	c.status = fn
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	case "status":
		text := "No status available"
		if c.status != nil {
			text = c.status()
		}
		reply := tgbotapi.NewMessage(msg.Chat.ID, text)
		c.bot.Send(reply) //nolint:errcheck
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a processing error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(runErr error) error {
	text := fmt.Sprintf("⚠️ *Processing error*\n`%s`", escapeMarkdownV2(runErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Processing recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// Send sends a notification with the given signal groups.
func (c *Client) Send(groups []models.SignalGroup) error {
	return c.sendMarkdownV2(FormatMessage(groups))
}

// FormatMessage renders signal groups as a Telegram MarkdownV2 message.
func FormatMessage(groups []models.SignalGroup) string {
	var b strings.Builder
	b.WriteString("📊 *Market Signals*\n\n")

	for i, group := range groups {
		stamp := "untimed"
		if !group.Time.IsZero() {
			stamp = group.Time.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(&b, "%d\\. *%s* %s\n", i+1, escapeMarkdownV2(group.Series), escapeMarkdownV2(stamp))

		for _, sig := range group.Signals {
			value := escapeMarkdownV2(fmt.Sprintf("%.4f", sig.Value))
			fmt.Fprintf(&b, "   %s %s %s `%s`\n",
				signalEmoji(sig), escapeMarkdownV2(sig.Source), escapeMarkdownV2(describe(sig)), value)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func signalEmoji(sig models.Signal) string {
	switch sig.Kind {
	case models.KindPeak:
		return "🔺"
	case models.KindTrough:
		return "🔻"
	case models.KindOutlier:
		return "⚠️"
	}
	if sig.Direction == models.Up {
		return "📈"
	}
	return "📉"
}

func describe(sig models.Signal) string {
	switch sig.Kind {
	case models.KindCrossing:
		return "crossed " + sig.Direction.String()
	case models.KindOutlier:
		return "outlier replaced"
	}
	return string(sig.Kind)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
