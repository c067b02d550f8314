// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/casewatch/internal/clock"
	"github.com/rewired-gh/casewatch/internal/models"
)

// maxMovers caps the digest so it stays under Telegram's message size limit.
const maxMovers = 25

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	sender         sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	clock          clock.Clock
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

	c := newClient(bot, chatIDInt, maxRetries, retryDelayBase, clock.Real{})
	c.bot = bot
	return c, nil
}

func newClient(s sender, chatID int64, maxRetries int, retryDelayBase time.Duration, clk clock.Clock) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		sender:         s,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		clock:          clk,
	}
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	if c.bot == nil {
		return
	}
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
		c.sender.Send(reply) //nolint:errcheck
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.sender.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == c.maxRetries-1 {
			break
		}
		if err := c.clock.Sleep(ctx, c.retryDelayBase*time.Duration(i+1)); err != nil {
			return err
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError reports a sweep that updated nothing.
// Call this only on the first failed sweep of a consecutive run.
func (c *Client) SendError(ctx context.Context, sum models.SweepSummary) error {
	text := fmt.Sprintf("⚠️ *Sweep failed*\nNo prices were updated, %d items skipped\\.", sum.Skipped)
	return c.sendMarkdownV2(ctx, text)
}

// SendRecovery sends a recovery notification after consecutive failed sweeps.
func (c *Client) SendRecovery(ctx context.Context, failedSweeps int) error {
	text := fmt.Sprintf("✅ *Sweeps recovered* after %d failed sweep\\(s\\)", failedSweeps)
	return c.sendMarkdownV2(ctx, text)
}

// SendDigest posts the notable movers of a completed sweep.
func (c *Client) SendDigest(ctx context.Context, sum models.SweepSummary, movers []models.Event) error {
	return c.sendMarkdownV2(ctx, formatDigest(sum, movers))
}

// formatDigest expects movers sorted by descending magnitude.
func formatDigest(sum models.SweepSummary, movers []models.Event) string {
	var b strings.Builder
	b.WriteString("🚨 *Notable Price Movements*\n\n")
	fmt.Fprintf(&b, "📅 %s\n", escapeMarkdownV2(sum.CompletedAt.UTC().Format("2006-01-02 15:04:05")))
	fmt.Fprintf(&b, "Updated %d, skipped %d\n\n", sum.Updated, sum.Skipped)

	shown := movers
	if len(shown) > maxMovers {
		shown = shown[:maxMovers]
	}
	for i, ev := range shown {
		directionEmoji := "📈"
		if ev.PercentChange.IsNegative() {
			directionEmoji = "📉"
		}
		change := ev.PercentChange.StringFixed(2) + "%"
		if ev.PercentChange.IsPositive() {
			change = "+" + change
		}
		fmt.Fprintf(&b, "%d\\. %s %s *%s* \\(%s\\)\n",
			i+1,
			escapeMarkdownV2(ev.Item),
			directionEmoji,
			escapeMarkdownV2(change),
			escapeMarkdownV2("$"+ev.Price.StringFixed(2)),
		)
	}
	if rest := len(movers) - len(shown); rest > 0 {
		fmt.Fprintf(&b, "\n…and %d more\n", rest)
	}
	return b.String()
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
