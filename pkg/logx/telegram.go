package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"
)

// TelegramConfig forwards log lines at or above MinLevel to a chat.
//
// Lines are queued and sent by one background worker; when the queue is full
// or RatePerSec is exceeded they are dropped. Logging never blocks on it.
type TelegramConfig struct {
	Enabled    bool
	Token      string
	ChatID     int64
	ThreadID   int
	MinLevel   string // default: error
	RatePerSec int    // default: 1
}

// Sender delivers one formatted log line to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, threadID int, text string) error
}

const (
	telegramQueueSize = 256
	telegramMaxText   = 3500
)

type telegramItem struct {
	chatID   int64
	threadID int
	msg      string
}

// TelegramBot sends through the Bot API. It never polls for updates.
type TelegramBot struct {
	bot *tele.Bot
}

func NewTelegramBot(token string) (*TelegramBot, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		Offline: true,
		Client:  &http.Client{Timeout: 8 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &TelegramBot{bot: b}, nil
}

func (t *TelegramBot) SendText(_ context.Context, chatID int64, threadID int, text string) error {
	_, err := t.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
		DisableWebPagePreview: true,
		ThreadID:              threadID,
	})
	return err
}

// startTelegramLocked starts the send worker once. Caller holds s.mu.
func (s *Service) startTelegramLocked() {
	s.tgOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.tgCancel = cancel
		s.tgWG.Add(1)
		go func() {
			defer s.tgWG.Done()
			s.telegramWorker(ctx)
		}()
	})
}

func (s *Service) telegramWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-s.tgQueue:
			s.mu.Lock()
			sender := s.sender
			s.mu.Unlock()
			if sender == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := sender.SendText(sctx, it.chatID, it.threadID, it.msg); err != nil {
				fmt.Fprintf(Stderr(), "logx: telegram send failed: %v\n", err)
			}
			cancel()
		}
	}
}

// ---- Telegram writer (zerolog sink) ----

type telegramWriter struct{ svc *Service }

func (w *telegramWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *telegramWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc

	s.mu.Lock()
	tc := s.cfg.Telegram
	lim := s.limiter
	minLvl := s.tgMinLevel
	sender := s.sender
	s.mu.Unlock()

	if !tc.Enabled || tc.ChatID == 0 || sender == nil || lim == nil {
		return len(p), nil
	}
	if level < minLvl || !lim.Allow() {
		return len(p), nil
	}
	msg := formatTelegramJSON(p)
	if msg == "" {
		return len(p), nil
	}

	select {
	case s.tgQueue <- telegramItem{chatID: tc.ChatID, threadID: tc.ThreadID, msg: msg}:
	default:
	}
	return len(p), nil
}

// formatTelegramJSON renders a zerolog JSON line as "[LEVEL] message" followed
// by one "- key=value" line per field, keys sorted.
func formatTelegramJSON(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(p))), &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), telegramMaxText)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message", "stack":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n- " + k + "=" + truncate(fmt.Sprint(m[k]), 600))
	}
	if st, ok := m["stack"]; ok {
		b.WriteString("\n- stack=\n" + truncate(fmt.Sprint(st), 900))
	}
	return truncate(b.String(), telegramMaxText)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
