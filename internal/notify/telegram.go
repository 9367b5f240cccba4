// Package notify forwards log lines to a Telegram chat. Lines are queued by
// any goroutine and sent by one scheduled job, one message per flush.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultAPIBase is the Telegram Bot API.
const DefaultAPIBase = "https://api.telegram.org"

// maxMessageLen keeps a flush under Telegram's 4096 character limit.
const maxMessageLen = 4000

// Config configures a Notifier.
type Config struct {
	Token      string
	ChatID     string
	APIBase    string
	Interval   time.Duration
	HTTPClient *http.Client
	// Log receives the notifier's own diagnostics. It must not write back
	// into the notifier.
	Log zerolog.Logger
}

// Notifier is an io.Writer that batches lines for Telegram.
type Notifier struct {
	token      string
	chatID     string
	apiBase    string
	interval   time.Duration
	httpClient *http.Client
	log        zerolog.Logger

	mu    sync.Mutex
	queue []string

	flushMu sync.Mutex
	cron    *cron.Cron
}

// New creates a stopped notifier.
func New(cfg Config) *Notifier {
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Notifier{
		token:      cfg.Token,
		chatID:     cfg.ChatID,
		apiBase:    strings.TrimRight(apiBase, "/"),
		interval:   interval,
		httpClient: httpClient,
		log:        cfg.Log.With().Str("component", "notify").Logger(),
	}
}

var _ io.Writer = (*Notifier)(nil)

// Write queues one log line. zerolog JSON lines are rendered as
// "LEVEL [account] message"; anything else is queued as is.
func (n *Notifier) Write(p []byte) (int, error) {
	line := render(p)
	if line == "" {
		return len(p), nil
	}
	n.mu.Lock()
	n.queue = append(n.queue, line)
	n.mu.Unlock()
	return len(p), nil
}

func render(p []byte) string {
	var ev struct {
		Level   string `json:"level"`
		Message string `json:"message"`
		Account string `json:"account"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(p, &ev); err != nil || ev.Message == "" {
		return strings.TrimSpace(string(p))
	}

	var b strings.Builder
	b.WriteString(strings.ToUpper(ev.Level))
	if ev.Account != "" {
		fmt.Fprintf(&b, " [%s]", ev.Account)
	}
	b.WriteString(" ")
	b.WriteString(ev.Message)
	if ev.Error != "" {
		b.WriteString(": ")
		b.WriteString(ev.Error)
	}
	return b.String()
}

// Pending is the number of queued lines.
func (n *Notifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}

// Start schedules the flush job.
func (n *Notifier) Start() error {
	n.cron = cron.New()
	_, err := n.cron.AddFunc("@every "+n.interval.String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.interval+30*time.Second)
		defer cancel()
		if err := n.Flush(ctx); err != nil {
			n.log.Warn().Err(err).Msg("Telegram flush failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule telegram flush: %w", err)
	}
	n.cron.Start()
	return nil
}

// Stop waits for a running flush, stops the schedule and sends whatever is
// still queued.
func (n *Notifier) Stop(ctx context.Context) error {
	if n.cron != nil {
		<-n.cron.Stop().Done()
	}
	return n.Flush(ctx)
}

// Flush sends queued lines as a single message. Lines that do not fit are
// left for the next flush; a failed send puts the batch back in front.
func (n *Notifier) Flush(ctx context.Context) error {
	n.flushMu.Lock()
	defer n.flushMu.Unlock()

	batch := n.take()
	if len(batch) == 0 {
		return nil
	}
	if err := n.send(ctx, strings.Join(batch, "\n")); err != nil {
		n.requeue(batch)
		return err
	}
	return nil
}

func (n *Notifier) take() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	size, count := 0, 0
	for _, line := range n.queue {
		if count > 0 && size+len(line)+1 > maxMessageLen {
			break
		}
		size += len(line) + 1
		count++
	}
	batch := n.queue[:count:count]
	n.queue = append([]string(nil), n.queue[count:]...)
	for i, line := range batch {
		batch[i] = truncate(line, maxMessageLen)
	}
	return batch
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (n *Notifier) requeue(batch []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queue = append(append([]string(nil), batch...), n.queue...)
}

func (n *Notifier) send(ctx context.Context, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.token)
	form := url.Values{"chat_id": {n.chatID}, "text": {text}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	n.log.Debug().Int("bytes", len(text)).Msg("Telegram message sent")
	return nil
}
