// Package telegram sends a run summary to a Telegram chat.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bobmcallan/eodscan/internal/common"
	"github.com/bobmcallan/eodscan/internal/interfaces"
	"github.com/bobmcallan/eodscan/internal/models"
)

// maxMessageLen is Telegram's limit on one message's text.
const maxMessageLen = 4096

// Sender is the part of *tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier posts the number of matches and the top tickers of each scan.
type Notifier struct {
	sender         Sender
	chatID         int64
	maxRetries     int
	topN           int
	retryDelayBase time.Duration
	logger         *common.Logger
}

// NewNotifier connects to the Bot API with the configured token.
func NewNotifier(cfg common.TelegramConfig, logger *common.Logger) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return NewNotifierWithSender(bot, cfg.ChatID, cfg.MaxRetries, cfg.TopN, logger), nil
}

// NewNotifierWithSender builds a notifier over any sender.
func NewNotifierWithSender(sender Sender, chatID int64, maxRetries, topN int, logger *common.Logger) *Notifier {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if topN <= 0 {
		topN = 5
	}
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Notifier{
		sender:         sender,
		chatID:         chatID,
		maxRetries:     maxRetries,
		topN:           topN,
		retryDelayBase: time.Second,
		logger:         logger,
	}
}

// Name identifies the sink.
func (n *Notifier) Name() string {
	return "telegram"
}

// Publish sends the run summary, split across messages if it is long.
func (n *Notifier) Publish(ctx context.Context, run *models.ScanRun) error {
	for _, text := range Split(FormatRun(run, n.topN), maxMessageLen) {
		if err := n.sendMarkdownV2(ctx, text); err != nil {
			return err
		}
	}
	n.logger.Info().Str("run_id", run.ID).Int64("chat_id", n.chatID).Msg("Telegram summary sent")
	return nil
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (n *Notifier) sendMarkdownV2(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < n.maxRetries; i++ {
		_, err := n.sender.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		n.logger.Debug().Int("attempt", i+1).Err(err).Msg("Telegram send failed")

		if i == n.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", n.maxRetries, lastErr)
}

// FormatRun renders a run as MarkdownV2: a header, then one block per group
// listing each scan's match count and its top tickers.
func FormatRun(run *models.ScanRun, topN int) string {
	var b strings.Builder

	day := run.AsOf
	if day.IsZero() {
		day = run.StartedAt
	}
	fmt.Fprintf(&b, "📊 *%s scans* %s\n", escapeMarkdownV2(run.Market), escapeMarkdownV2(day.Format("2006-01-02")))
	fmt.Fprintf(&b, "%s\n", escapeMarkdownV2(fmt.Sprintf("%d tickers scanned, %d skipped, %d failed",
		run.Processed, len(run.Skipped), len(run.Failed))))

	group := ""
	for _, res := range run.Results {
		if res.Group != group {
			group = res.Group
			b.WriteString("\n")
			if res.GroupLink != "" {
				fmt.Fprintf(&b, "*[%s](%s)*\n", escapeMarkdownV2(group), escapeLinkURL(res.GroupLink))
			} else {
				fmt.Fprintf(&b, "*%s*\n", escapeMarkdownV2(group))
			}
		}

		fmt.Fprintf(&b, "• %s: %d", escapeMarkdownV2(res.Scan), res.TotalMatched)
		if len(res.Rows) > 0 {
			n := min(topN, len(res.Rows))
			tickers := make([]string, n)
			for i := 0; i < n; i++ {
				tickers[i] = "`" + escapeCode(res.Rows[i].Ticker) + "`"
			}
			fmt.Fprintf(&b, " %s %s", escapeMarkdownV2("-"), strings.Join(tickers, ", "))
		}
		b.WriteString("\n")
	}

	if len(run.ConfigErrors) > 0 {
		fmt.Fprintf(&b, "\n⚠️ %s\n", escapeMarkdownV2(fmt.Sprintf("%d scan definitions excluded", len(run.ConfigErrors))))
	}
	return b.String()
}

// Split breaks text into chunks of at most limit bytes on line boundaries.
// A single line longer than limit is cut.
func Split(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	var cur strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			if cur.Len() > 0 {
				chunks = append(chunks, cur.String())
				cur.Reset()
			}
			chunks = append(chunks, line[:limit])
			line = line[limit:]
		}
		if cur.Len()+len(line) > limit {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// escapeCode escapes the characters MarkdownV2 reserves inside code spans.
func escapeCode(text string) string {
	return strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(text)
}

// escapeLinkURL escapes the characters MarkdownV2 reserves inside (...) of a link.
func escapeLinkURL(url string) string {
	return strings.NewReplacer("\\", "\\\\", ")", "\\)").Replace(url)
}

var _ interfaces.ResultSink = (*Notifier)(nil)
