package notifier

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBotAPI struct {
	mu       sync.Mutex
	messages []map[string]string
	photos   []string
	fail     bool
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"trader","username":"trader_bot"}}`)
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		_ = r.ParseForm()
		f.mu.Lock()
		f.messages = append(f.messages, map[string]string{
			"chat_id":    r.Form.Get("chat_id"),
			"text":       r.Form.Get("text"),
			"parse_mode": r.Form.Get("parse_mode"),
		})
		fail := f.fail
		f.mu.Unlock()
		if fail {
			fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`)
			return
		}
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`)
	case strings.HasSuffix(r.URL.Path, "/sendPhoto"):
		_ = r.ParseMultipartForm(1 << 20)
		_, _, err := r.FormFile("photo")
		f.mu.Lock()
		if err == nil {
			f.photos = append(f.photos, r.FormValue("caption"))
		}
		f.mu.Unlock()
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":2,"date":0,"chat":{"id":42,"type":"private"}}}`)
	default:
		http.NotFound(w, r)
	}
}

func newTestTelegram(t *testing.T, fake *fakeBotAPI) *Telegram {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	tg, err := NewTelegram(Options{Token: "123:abc", ChatID: 42, APIEndpoint: srv.URL + "/bot%s/%s"}, zap.NewNop())
	require.NoError(t, err)
	return tg
}

func TestTelegram_DeliversTextAndPhoto(t *testing.T) {
	fake := &fakeBotAPI{}
	tg := newTestTelegram(t, fake)
	tg.Start()

	tg.Notify("<b>opened</b> BTCUSDT LONG")
	tg.NotifyPhoto("equity", []byte("\x89PNG fake"))
	tg.Close()

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.messages, 1)
	assert.Equal(t, "42", fake.messages[0]["chat_id"])
	assert.Equal(t, "<b>opened</b> BTCUSDT LONG", fake.messages[0]["text"])
	assert.Equal(t, "HTML", fake.messages[0]["parse_mode"])
	assert.Equal(t, []string{"equity"}, fake.photos)
}

func TestTelegram_SendErrorsAreSwallowed(t *testing.T) {
	fake := &fakeBotAPI{fail: true}
	tg := newTestTelegram(t, fake)
	tg.Start()

	tg.Notify("<b broken")
	tg.Notify("second")
	tg.Close()

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.messages, 2)
}

func TestTelegram_FullQueueDrops(t *testing.T) {
	tg, err := NewTelegram(Options{QueueSize: 2}, zap.NewNop())
	require.NoError(t, err)

	// worker not started: the queue fills up
	tg.Notify("a")
	tg.Notify("b")
	tg.Notify("c")
	assert.Equal(t, int64(1), tg.Dropped())

	tg.Close()
	tg.Notify("after close")
	assert.Equal(t, int64(2), tg.Dropped())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
	assert.Equal(t, 3, len([]rune(truncate("ääääää", 3))))
}
