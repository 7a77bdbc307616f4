// Package telegram relays delivered pushes (and high-severity log lines)
// to a Telegram chat through the Bot API.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"pushstream/internal/notifier"
	"pushstream/pkg/logx"
)

const textLimit = 4000

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
	// APIURL overrides the Bot API base URL (tests, self-hosted API servers).
	APIURL         string
	Timeout        time.Duration
	DisablePreview bool
}

// Relay sends plain text messages to one chat (and optional topic).
// It never polls for updates.
type Relay struct {
	bot  *tele.Bot
	chat *tele.Chat
	cfg  Config
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) (*Relay, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: cfg.Timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Relay{bot: b, chat: &tele.Chat{ID: cfg.ChatID}, cfg: cfg, log: log.Component("telegram")}, nil
}

func (r *Relay) Name() string { return "telegram" }

// Send implements notifier.Deliverer.
func (r *Relay) Send(ctx context.Context, n notifier.Notification) error {
	return r.SendText(ctx, FormatNotification(n))
}

// SendText sends text, split into chunks Telegram accepts.
func (r *Relay) SendText(ctx context.Context, text string) error {
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := r.bot.Send(r.chat, chunk, &tele.SendOptions{
			ThreadID:              r.cfg.ThreadID,
			DisableWebPagePreview: r.cfg.DisablePreview,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// FormatNotification renders a notification as "<title>\n<body>".
func FormatNotification(n notifier.Notification) string {
	if n.Body == "" {
		return n.Title
	}
	return n.Title + "\n" + n.Body
}

// splitText cuts s into chunks of at most limit runes, preferring a
// newline in the last two thirds of each window.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
