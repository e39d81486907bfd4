package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"assignbot/internal/storage"
	"assignbot/internal/users"
	logx "assignbot/pkg/logx"
)

// Accounts checks a user's host credentials and keeps the chat id on the
// host's user record. users.ERP implements it.
type Accounts interface {
	Login(ctx context.Context, email, password string) error
	MessagingID(ctx context.Context, email string) (string, error)
	SetMessagingID(ctx context.Context, email, id string) error
}

// LinkStore is the slice of storage the link commands need.
type LinkStore interface {
	ClaimLink(ctx context.Context, l storage.UserLink) (storage.UserLink, bool, error)
	GetLink(ctx context.Context, email string) (storage.UserLink, bool, error)
	DeleteLink(ctx context.Context, email string) (bool, error)
}

// Commands answers the bot's chat commands. Each method returns the reply
// text; nothing here talks to Telegram.
//
// Linking needs Accounts: a chat is only linked after the user logs in
// with their own host credentials. Links, when set, also records the link
// locally and refuses emails already held by another chat.
type Commands struct {
	Accounts Accounts
	Links    LinkStore
	Log      logx.Logger
}

const (
	replyLinkDisabled = "Linking is not enabled on this bot."
	replyLinkUsage    = "Usage: /link your@email.com your-password"
	replyTryLater     = "Could not reach the ERP right now, please try again later."
)

func (c Commands) Start(chatID int64, firstName string) string {
	name := strings.TrimSpace(firstName)
	if name == "" {
		name = "there"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s! Your Telegram ID is %s.\n", name, ChatID(chatID))
	b.WriteString("Ask your ERP administrator to put it in the telegram_user_id field of your user")
	if c.Accounts != nil {
		b.WriteString(", or send /link your@email.com your-password")
	}
	b.WriteString(" to receive task assignment notifications.")
	return b.String()
}

func (c Commands) Link(ctx context.Context, chatID int64, username, args string) string {
	if c.Accounts == nil {
		return replyLinkDisabled
	}
	email, password, err := parseLinkArgs(args)
	if err != nil {
		return replyLinkUsage
	}
	id := ChatID(chatID)
	log := c.Log.With(logx.String("email", email), logx.String("chat_id", id))

	if err := c.Accounts.Login(ctx, email, password); err != nil {
		if errors.Is(err, users.ErrBadCredentials) {
			log.Warn("link refused: login failed")
			return "Login failed: wrong email or password."
		}
		log.Warn("link login error", logx.Err(err))
		return replyTryLater
	}

	claimed := false
	if c.Links != nil {
		_, existed, err := c.Links.GetLink(ctx, email)
		if err != nil {
			log.Warn("link lookup failed", logx.Err(err))
			return replyTryLater
		}
		_, ok, err := c.Links.ClaimLink(ctx, storage.UserLink{Email: email, ChatID: id, Username: username})
		if err != nil {
			log.Warn("link store failed", logx.Err(err))
			return replyTryLater
		}
		if !ok {
			return "This email is already linked to another Telegram account. Send /unlink from that chat first."
		}
		claimed = !existed
	}

	if err := c.Accounts.SetMessagingID(ctx, email, id); err != nil {
		log.Warn("erp user update failed", logx.Err(err))
		if claimed {
			if _, derr := c.Links.DeleteLink(ctx, email); derr != nil {
				log.Warn("link rollback failed", logx.Err(derr))
			}
		}
		return replyTryLater
	}
	log.Info("user linked")
	return fmt.Sprintf("Linked %s to this chat. You will be notified about new task assignments.", email)
}

// Unlink removes whatever this chat owns for the email: the local link
// and the host record's messaging id when it points at this chat.
func (c Commands) Unlink(ctx context.Context, chatID int64, args string) string {
	if c.Accounts == nil && c.Links == nil {
		return replyLinkDisabled
	}
	email, err := parseEmail(args)
	if err != nil {
		return "Usage: /unlink your@email.com"
	}
	id := ChatID(chatID)
	log := c.Log.With(logx.String("email", email), logx.String("chat_id", id))

	ownsLink, ownsRecord := false, false
	if c.Links != nil {
		cur, ok, err := c.Links.GetLink(ctx, email)
		if err != nil {
			log.Warn("link lookup failed", logx.Err(err))
			return replyTryLater
		}
		ownsLink = ok && cur.ChatID == id
	}
	if c.Accounts != nil {
		cur, err := c.Accounts.MessagingID(ctx, email)
		if err != nil {
			log.Warn("erp user lookup failed", logx.Err(err))
			return replyTryLater
		}
		ownsRecord = cur == id
	}
	if !ownsLink && !ownsRecord {
		return "No link for " + email + " from this chat."
	}

	if ownsRecord {
		if err := c.Accounts.SetMessagingID(ctx, email, ""); err != nil {
			log.Warn("erp user update failed", logx.Err(err))
			return replyTryLater
		}
	}
	if ownsLink {
		if _, err := c.Links.DeleteLink(ctx, email); err != nil {
			log.Warn("link delete failed", logx.Err(err))
			return replyTryLater
		}
	}
	log.Info("user unlinked")
	return "Unlinked " + email + "."
}

// parseLinkArgs splits "email password"; the password is the rest of the
// line so it may contain spaces.
func parseLinkArgs(args string) (email, password string, err error) {
	first, rest, _ := strings.Cut(strings.TrimSpace(args), " ")
	password = strings.TrimSpace(rest)
	if password == "" {
		return "", "", errors.New("expected email and password")
	}
	email, err = parseEmail(first)
	return email, password, err
}

func parseEmail(args string) (string, error) {
	raw := strings.TrimSpace(args)
	if raw == "" || strings.ContainsAny(raw, " \t\n") {
		return "", errors.New("expected one email address")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return "", err
	}
	return storage.NormalizeEmail(addr.Address), nil
}

// commandTimeout bounds the ERP and storage work of one command.
const commandTimeout = 10 * time.Second

// Run long-polls for updates and answers commands until ctx is done.
// The client must have been created with Config.Poll.
func (c *Client) Run(ctx context.Context, cmds Commands) error {
	if !c.cfg.Poll {
		return errors.New("telegram polling is disabled")
	}
	if cmds.Log.IsZero() {
		cmds.Log = c.log
	}

	c.bot.Handle("/start", func(tc tele.Context) error {
		first := ""
		if s := tc.Sender(); s != nil {
			first = s.FirstName
		}
		return tc.Send(cmds.Start(tc.Chat().ID, first))
	})
	c.bot.Handle("/link", func(tc tele.Context) error {
		cctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		username := ""
		if s := tc.Sender(); s != nil {
			username = s.Username
		}
		reply := cmds.Link(cctx, tc.Chat().ID, username, tc.Message().Payload)
		// The command carries a password; do not leave it in the chat.
		if err := tc.Delete(); err != nil {
			cmds.Log.Debug("could not delete /link message", logx.Err(err))
		}
		return tc.Send(reply)
	})
	c.bot.Handle("/unlink", func(tc tele.Context) error {
		cctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		return tc.Send(cmds.Unlink(cctx, tc.Chat().ID, tc.Message().Payload))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.bot.Start()
	}()
	c.log.Info("telegram poller started")

	select {
	case <-ctx.Done():
		c.bot.Stop()
		<-done
		c.log.Info("telegram poller stopped")
		return nil
	case <-done:
		return errors.New("telegram poller exited")
	}
}
