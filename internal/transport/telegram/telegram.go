// Package telegram delivers notifications as Telegram messages.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	tele "gopkg.in/telebot.v4"

	"immunizer/internal/immunization"
	logx "immunizer/pkg/logx"
)

const telegramTextLimit = 4096

type Config struct {
	Token          string
	DefaultChatID  int64
	Recipients     map[string]int64 // recipient id -> chat id
	ThreadID       int
	DisablePreview bool
}

// sender is the part of *tele.Bot used here.
type sender interface {
	Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error)
}

type Transport struct {
	cfg Config
	log logx.Logger
	bot sender
}

// New builds an offline bot: it only sends and never polls for updates.
func New(cfg Config, log logx.Logger) (*Transport, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: true})
	if err != nil {
		return nil, err
	}
	return newWithSender(cfg, log, b), nil
}

func newWithSender(cfg Config, log logx.Logger, s sender) *Transport {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Transport{cfg: cfg, log: log, bot: s}
}

func (t *Transport) Method() immunization.DeliveryMethod { return immunization.MethodTelegram }

func (t *Transport) Send(ctx context.Context, n immunization.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, ok := t.chatFor(n.Recipient)
	if !ok {
		return fmt.Errorf("no telegram chat for recipient %q", n.Recipient)
	}
	opt := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: t.cfg.DisablePreview,
		ThreadID:              t.cfg.ThreadID,
	}
	if _, err := t.bot.Send(tele.ChatID(chatID), render(n), opt); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (t *Transport) chatFor(recipient string) (int64, bool) {
	if id, ok := t.cfg.Recipients[recipient]; ok && id != 0 {
		return id, true
	}
	if t.cfg.DefaultChatID != 0 {
		return t.cfg.DefaultChatID, true
	}
	return 0, false
}

func render(n immunization.Notification) string {
	var b strings.Builder
	if title := strings.TrimSpace(n.Title); title != "" {
		b.WriteString("<b>")
		b.WriteString(html.EscapeString(title))
		b.WriteString("</b>\n\n")
	}
	b.WriteString(html.EscapeString(n.Message))
	out := b.String()
	if r := []rune(out); len(r) > telegramTextLimit {
		out = string(r[:telegramTextLimit])
	}
	return out
}
