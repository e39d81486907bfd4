// Package telegram is the Bot API transport: a telebot-backed client for
// sendMessage and an optional long-poll bot for account linking.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "assignbot/pkg/logx"
)

const (
	DefaultAPIURL  = "https://api.telegram.org"
	DefaultTimeout = 10 * time.Second

	// ParseModeMarkdown is Telegram's legacy Markdown dialect.
	ParseModeMarkdown = "Markdown"
)

type Config struct {
	Token  string
	APIURL string
	// Timeout bounds every Bot API request.
	Timeout time.Duration
	// Poll enables long polling; the bot then resolves its identity
	// (getMe) at construction time.
	Poll        bool
	PollTimeout time.Duration
}

// Reply is the decoded Bot API envelope of a sendMessage call.
type Reply struct {
	OK          bool
	ErrorCode   int
	Description string
}

type Client struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if strings.TrimSpace(cfg.APIURL) == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: cfg.Timeout},
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		Offline: !cfg.Poll,
		OnError: func(err error, c tele.Context) {
			log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Client{cfg: cfg, log: log, bot: b}, nil
}

// SendMessage performs one synchronous sendMessage call.
//
// A returned error means the request itself failed (network, timeout,
// undecodable body). Otherwise the Reply carries the API verdict; OK is
// true only when the response's "ok" field is exactly boolean true.
func (c *Client) SendMessage(ctx context.Context, chatID, text, parseMode string) (Reply, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return Reply{}, err
		}
	}

	payload := map[string]string{
		"chat_id": chatID,
		"text":    text,
	}
	if parseMode != "" {
		payload["parse_mode"] = parseMode
	}

	data, err := c.bot.Raw("sendMessage", payload)
	if len(data) > 0 {
		reply, derr := decodeReply(data)
		if derr == nil {
			return reply, nil
		}
		if err == nil {
			err = derr
		}
	}
	if err != nil {
		var apiErr *tele.Error
		if errors.As(err, &apiErr) {
			return Reply{ErrorCode: apiErr.Code, Description: apiErr.Description}, nil
		}
		return Reply{}, fmt.Errorf("sendMessage: %w", err)
	}
	return Reply{}, errors.New("sendMessage: empty response")
}

func decodeReply(data []byte) (Reply, error) {
	var env struct {
		OK          any    `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Reply{}, fmt.Errorf("decode sendMessage response: %w", err)
	}
	ok, isBool := env.OK.(bool)
	return Reply{OK: isBool && ok, ErrorCode: env.ErrorCode, Description: env.Description}, nil
}

// SendText sends plain text (no parse mode). It backs the logx ops-chat sink.
func (c *Client) SendText(ctx context.Context, chatID int64, threadID int, text string) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	_, err := c.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
		ThreadID:              threadID,
		DisableWebPagePreview: true,
	})
	return err
}

// ChatID formats a Telegram user/chat id the way the lookup layer stores it.
func ChatID(id int64) string { return strconv.FormatInt(id, 10) }
