package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	opsQueueSize   = 128
	opsSendTimeout = 10 * time.Second
	opsMaxText     = 3500
	opsMaxValue    = 600
)

// opsSink forwards entries to an ops chat. Writes never block: entries
// over the rate limit or past a full queue are dropped.
type opsSink struct {
	sender TextSender
	queue  chan string

	mu       sync.Mutex
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter

	start  sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func newOpsSink(sender TextSender) *opsSink {
	return &opsSink{
		sender:   sender,
		queue:    make(chan string, opsQueueSize),
		minLevel: zerolog.ErrorLevel,
		done:     make(chan struct{}),
	}
}

func (o *opsSink) configure(cfg TelegramConfig) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	o.mu.Lock()
	o.chatID = cfg.ChatID
	o.threadID = cfg.ThreadID
	o.minLevel = parseLevel(cfg.MinLevel, zerolog.ErrorLevel)
	o.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	o.mu.Unlock()

	if cfg.Enabled {
		o.start.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			o.mu.Lock()
			o.cancel = cancel
			o.mu.Unlock()
			go o.run(ctx)
		})
	}
}

func (o *opsSink) target() (int64, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.chatID, o.threadID
}

func (o *opsSink) Write(p []byte) (int, error) {
	return o.WriteLevel(zerolog.NoLevel, p)
}

func (o *opsSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	o.mu.Lock()
	accept := o.chatID != 0 && level != zerolog.NoLevel && level >= o.minLevel && o.limiter.Allow()
	o.mu.Unlock()
	if !accept {
		return len(p), nil
	}
	if text := opsText(p); text != "" {
		select {
		case o.queue <- text:
		default:
		}
	}
	return len(p), nil
}

func (o *opsSink) run(ctx context.Context) {
	defer close(o.done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-o.queue:
			chatID, threadID := o.target()
			if chatID == 0 {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, opsSendTimeout)
			_ = o.sender.SendText(sctx, chatID, threadID, text)
			cancel()
		}
	}
}

func (o *opsSink) close() {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
		<-o.done
	}
}

// opsText renders one JSON log line as
//
//	[LEVEL] message
//	- key=value
//
// with keys sorted. Lines that are not JSON are forwarded trimmed.
func opsText(p []byte) string {
	var entry map[string]any
	if err := json.Unmarshal(p, &entry); err != nil {
		return clip(strings.TrimSpace(string(p)), opsMaxText)
	}

	var b strings.Builder
	if lvl, _ := entry[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := entry[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	delete(entry, zerolog.LevelFieldName)
	delete(entry, zerolog.MessageFieldName)
	delete(entry, zerolog.TimestampFieldName)
	keys := make([]string, 0, len(entry))
	for k := range entry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(entry[k]), opsMaxValue))
	}
	return clip(b.String(), opsMaxText)
}

func clip(s string, n int) string {
	switch {
	case len(s) <= n:
		return s
	case n < 10:
		return s[:n]
	default:
		return s[:n-3] + "..."
	}
}
