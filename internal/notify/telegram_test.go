package notify_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndewijer/nepseutils/internal/notify"
)

// fakeTelegram records sendMessage calls and can be told to fail.
type fakeTelegram struct {
	*httptest.Server

	mu       sync.Mutex
	messages []string
	chatIDs  []string
	paths    []string
	failures int
}

func newFakeTelegram(t *testing.T) *fakeTelegram {
	t.Helper()
	f := &fakeTelegram{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failures > 0 {
			f.failures--
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.paths = append(f.paths, r.URL.Path)
		f.chatIDs = append(f.chatIDs, r.PostForm.Get("chat_id"))
		f.messages = append(f.messages, r.PostForm.Get("text"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeTelegram) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func newNotifier(f *fakeTelegram) *notify.Notifier {
	return notify.New(notify.Config{
		Token:      "123:abc",
		ChatID:     "42",
		APIBase:    f.URL,
		Interval:   time.Hour,
		HTTPClient: f.Client(),
		Log:        zerolog.Nop(),
	})
}

// TestFlush covers batching of queued log lines.
//
// WHY: Telegram rate-limits bots and rejects messages over 4096 characters.
// Sending one message per log line would get the bot throttled during a
// batch; an oversized message would be dropped entirely.
func TestFlush(t *testing.T) {
	t.Run("sends queued lines as one message", func(t *testing.T) {
		tg := newFakeTelegram(t)
		n := newNotifier(tg)
		_, _ = n.Write([]byte("first\n"))
		_, _ = n.Write([]byte("second\n"))

		require.NoError(t, n.Flush(context.Background()))

		assert.Equal(t, []string{"first\nsecond"}, tg.sent())
		assert.Equal(t, []string{"/bot123:abc/sendMessage"}, tg.paths)
		assert.Equal(t, []string{"42"}, tg.chatIDs)
		assert.Zero(t, n.Pending())
	})

	t.Run("empty queue sends nothing", func(t *testing.T) {
		tg := newFakeTelegram(t)
		n := newNotifier(tg)

		require.NoError(t, n.Flush(context.Background()))

		assert.Empty(t, tg.sent())
	})

	t.Run("splits at the message size limit", func(t *testing.T) {
		tg := newFakeTelegram(t)
		n := newNotifier(tg)
		line := strings.Repeat("x", 1500)
		for i := 0; i < 3; i++ {
			_, _ = n.Write([]byte(line))
		}

		require.NoError(t, n.Flush(context.Background()))
		assert.Equal(t, 1, n.Pending())
		require.NoError(t, n.Flush(context.Background()))

		sent := tg.sent()
		require.Len(t, sent, 2)
		assert.Len(t, sent[0], 2*1500+1)
		assert.Len(t, sent[1], 1500)
	})

	t.Run("truncates a single oversized line", func(t *testing.T) {
		tg := newFakeTelegram(t)
		n := newNotifier(tg)
		_, _ = n.Write([]byte(strings.Repeat("y", 5000)))

		require.NoError(t, n.Flush(context.Background()))

		sent := tg.sent()
		require.Len(t, sent, 1)
		assert.Len(t, sent[0], 4000)
	})

	t.Run("truncation keeps multi-byte characters whole", func(t *testing.T) {
		tg := newFakeTelegram(t)
		n := newNotifier(tg)
		_, _ = n.Write([]byte("xy" + strings.Repeat("न", 2000)))

		require.NoError(t, n.Flush(context.Background()))

		sent := tg.sent()
		require.Len(t, sent, 1)
		assert.True(t, utf8.ValidString(sent[0]))
		assert.Len(t, sent[0], 2+3*1332)
	})

	t.Run("failed send keeps the lines in order", func(t *testing.T) {
		tg := newFakeTelegram(t)
		tg.failures = 1
		n := newNotifier(tg)
		_, _ = n.Write([]byte("first"))

		assert.Error(t, n.Flush(context.Background()))
		_, _ = n.Write([]byte("second"))
		require.NoError(t, n.Flush(context.Background()))

		assert.Equal(t, []string{"first\nsecond"}, tg.sent())
	})
}

func TestWrite(t *testing.T) {
	t.Run("renders zerolog events", func(t *testing.T) {
		tg := newFakeTelegram(t)
		n := newNotifier(tg)
		log := zerolog.New(n)

		log.Error().Str("account", "Ram").Str("error", "password expired").Msg("Login failed")
		require.NoError(t, n.Flush(context.Background()))

		assert.Equal(t, []string{"ERROR [Ram] Login failed: password expired"}, tg.sent())
	})

	t.Run("events without an account", func(t *testing.T) {
		tg := newFakeTelegram(t)
		n := newNotifier(tg)
		log := zerolog.New(n)

		log.Info().Msg("Capital list updated")
		require.NoError(t, n.Flush(context.Background()))

		assert.Equal(t, []string{"INFO Capital list updated"}, tg.sent())
	})

	t.Run("blank lines are dropped", func(t *testing.T) {
		n := newNotifier(newFakeTelegram(t))

		_, _ = n.Write([]byte("  \n"))

		assert.Zero(t, n.Pending())
	})
}

// TestStop verifies nothing queued is lost at exit.
//
// WHY: The CLI exits right after a batch finishes. Lines logged in the last
// interval would never reach the chat without a final flush.
func TestStop(t *testing.T) {
	tg := newFakeTelegram(t)
	n := newNotifier(tg)
	require.NoError(t, n.Start())

	_, _ = n.Write([]byte("last words"))
	require.NoError(t, n.Stop(context.Background()))

	assert.Equal(t, []string{"last words"}, tg.sent())
}

func TestScheduledFlush(t *testing.T) {
	tg := newFakeTelegram(t)
	n := notify.New(notify.Config{
		Token:      "123:abc",
		ChatID:     "42",
		APIBase:    tg.URL,
		Interval:   time.Second,
		HTTPClient: tg.Client(),
		Log:        zerolog.Nop(),
	})
	require.NoError(t, n.Start())
	t.Cleanup(func() { _ = n.Stop(context.Background()) })

	_, _ = n.Write([]byte("tick"))

	assert.Eventually(t, func() bool { return len(tg.sent()) == 1 }, 5*time.Second, 50*time.Millisecond)
}
