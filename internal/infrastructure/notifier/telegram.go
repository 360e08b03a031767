// Package notifier pushes trading events to a Telegram chat without ever
// blocking the caller.
package notifier

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	defaultQueueSize = 64
	maxTextLen       = 4096
	maxCaptionLen    = 1024
)

type Options struct {
	Token  string
	ChatID int64
	// APIEndpoint overrides the Bot API URL template, e.g. for tests.
	APIEndpoint string
	QueueSize   int
}

type message struct {
	text  string
	photo []byte
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram implements domain.Notifier. An empty token gives a notifier
// that only logs.
type Telegram struct {
	bot     sender
	chatID  int64
	log     *zap.Logger
	queue   chan message
	dropped atomic.Int64

	mu      sync.Mutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

func NewTelegram(opts Options, log *zap.Logger) (*Telegram, error) {
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	t := &Telegram{
		chatID: opts.ChatID,
		log:    log.Named("telegram"),
		queue:  make(chan message, size),
	}
	if opts.Token == "" {
		t.log.Warn("telegram token empty, notifications are logged only")
		return t, nil
	}

	endpoint := opts.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(opts.Token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	t.log.Info("telegram connected", zap.String("bot", bot.Self.UserName))
	t.bot = bot
	return t, nil
}

// Start launches the delivery worker.
func (t *Telegram) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started || t.closed {
		return
	}
	t.started = true
	t.wg.Add(1)
	go t.worker()
}

// Close stops accepting messages and waits until the queue is drained.
func (t *Telegram) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.queue)
	started := t.started
	t.mu.Unlock()

	if !started {
		for m := range t.queue {
			t.deliver(m)
		}
		return
	}
	t.wg.Wait()
}

func (t *Telegram) Notify(text string) {
	t.enqueue(message{text: text})
}

func (t *Telegram) NotifyPhoto(caption string, png []byte) {
	t.enqueue(message{text: caption, photo: png})
}

// Dropped reports how many messages were discarded on a full queue.
func (t *Telegram) Dropped() int64 {
	return t.dropped.Load()
}

func (t *Telegram) enqueue(m message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		t.dropped.Add(1)
		return
	}
	select {
	case t.queue <- m:
	default:
		t.dropped.Add(1)
		t.log.Warn("notification queue full, message dropped", zap.Int("queue", cap(t.queue)))
	}
}

func (t *Telegram) worker() {
	defer t.wg.Done()
	for m := range t.queue {
		t.deliver(m)
	}
}

func (t *Telegram) deliver(m message) {
	if t.bot == nil {
		t.log.Info("notification", zap.String("text", m.text), zap.Bool("photo", m.photo != nil))
		return
	}

	var c tgbotapi.Chattable
	if m.photo != nil {
		photo := tgbotapi.NewPhoto(t.chatID, tgbotapi.FileBytes{Name: "chart.png", Bytes: m.photo})
		photo.Caption = truncate(m.text, maxCaptionLen)
		photo.ParseMode = tgbotapi.ModeHTML
		c = photo
	} else {
		msg := tgbotapi.NewMessage(t.chatID, truncate(m.text, maxTextLen))
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		c = msg
	}
	if _, err := t.bot.Send(c); err != nil {
		t.log.Error("telegram send failed", zap.Error(err))
	}
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-1]) + "…"
}
