// Package dispatch renders assignment notifications and sends them through
// the Telegram Bot API, one synchronous call per recipient.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"assignbot/internal/document"
	"assignbot/internal/transport/telegram"
	logx "assignbot/pkg/logx"
)

// Error-log categories for failed deliveries.
const (
	CategoryAPI       = "Telegram API Error"
	CategoryTransport = "Telegram Notification Error"
)

// Sender performs one sendMessage call. *telegram.Client implements it.
type Sender interface {
	SendMessage(ctx context.Context, chatID, text, parseMode string) (telegram.Reply, error)
}

// Status is the delivery state of one Result.
type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// APIError is a Bot API response whose "ok" field was not true.
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api: %s (code=%d)", e.Description, e.Code)
}

// Result is the outcome of one delivery.
type Result struct {
	ChatID string
	Status Status
	// Category and Err are set when Status is StatusFailed.
	Category string
	Err      error
}

// LogMessage is the error-log text for a failed result.
func (r Result) LogMessage() string {
	var apiErr *APIError
	switch {
	case r.Err == nil:
		return ""
	case errors.As(r.Err, &apiErr):
		return "Telegram API error: " + apiErr.Description
	default:
		return "Telegram request failed: " + r.Err.Error()
	}
}

// Dispatcher renders a document into a notification and sends it to one
// chat at a time.
type Dispatcher struct {
	sender    Sender
	signature string
	log       logx.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSignature overrides the italic footer line.
func WithSignature(s string) Option {
	return func(d *Dispatcher) { d.signature = s }
}

func WithLogger(log logx.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

func New(sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{sender: sender, signature: DefaultSignature, log: logx.Nop()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Send renders the notification for doc and delivers it to chatID.
// It never panics and never returns a Go error; failures are reported in
// the Result for the caller to log.
func (d *Dispatcher) Send(ctx context.Context, chatID string, doc document.Doc) (res Result) {
	res = Result{ChatID: chatID}
	defer func() {
		if r := recover(); r != nil {
			res.Status = StatusFailed
			res.Category = CategoryTransport
			res.Err = fmt.Errorf("panic: %v", r)
		}
	}()

	text := Render(doc, d.signature)
	reply, err := d.sender.SendMessage(ctx, chatID, text, telegram.ParseModeMarkdown)
	if err != nil {
		res.Status = StatusFailed
		res.Category = CategoryTransport
		res.Err = err
		return res
	}
	if !reply.OK {
		res.Status = StatusFailed
		res.Category = CategoryAPI
		res.Err = &APIError{Code: reply.ErrorCode, Description: reply.Description}
		return res
	}

	res.Status = StatusSent
	d.log.Debug("notification sent", logx.String("chat_id", chatID), logx.String("doc", doc.Name))
	return res
}
