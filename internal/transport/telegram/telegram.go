// Package telegram implements the outbound transport.Sender on the Telegram
// Bot API via telebot.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"shopbot/internal/transport"
)

// Config configures one Telegram sender credential.
type Config struct {
	Token string
	// SendTimeout bounds every API call so one slow destination cannot
	// starve a dispatch tick. 0 means the default.
	SendTimeout time.Duration
	// Offline skips the getMe verification on startup (used in tests).
	Offline bool
}

type Sender struct {
	bot   *tele.Bot
	label string
}

func New(cfg Config) (*Sender, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		Offline: cfg.Offline,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Sender{bot: b, label: labelFromToken(token)}, nil
}

func (s *Sender) Platform() transport.Platform { return transport.PlatformTelegram }

func (s *Sender) Label() string { return s.label }

// labelFromToken keeps the numeric bot id; the secret part is never logged.
func labelFromToken(token string) string {
	if i := strings.IndexByte(token, ':'); i > 0 {
		return token[:i]
	}
	if len(token) > 8 {
		return token[:8]
	}
	return token
}

func (s *Sender) Send(ctx context.Context, to transport.Target, msg transport.Message) (transport.MessageRef, error) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return transport.MessageRef{}, ctx.Err()
		default:
		}
	}

	opt := &tele.SendOptions{
		ThreadID:              to.ThreadID,
		DisableWebPagePreview: true,
	}
	if rm := buttonMarkup(msg.Buttons); rm != nil {
		opt.ReplyMarkup = rm
	}

	chat := &tele.Chat{ID: to.ChatID}
	var (
		sent *tele.Message
		err  error
	)
	switch msg.MediaKind {
	case transport.MediaPhoto:
		sent, err = s.bot.Send(chat, &tele.Photo{File: mediaFile(msg.MediaRef), Caption: msg.Text}, opt)
	case transport.MediaVideo:
		sent, err = s.bot.Send(chat, &tele.Video{File: mediaFile(msg.MediaRef), Caption: msg.Text}, opt)
	case transport.MediaDocument:
		sent, err = s.bot.Send(chat, &tele.Document{File: mediaFile(msg.MediaRef), Caption: msg.Text}, opt)
	default:
		sent, err = s.bot.Send(chat, msg.Text, opt)
	}
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: sent.ID}, nil
}

// mediaFile treats http(s) refs as remote URLs and anything else as a
// platform file id (re-sending previously uploaded media is cheap).
func mediaFile(ref string) tele.File {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return tele.FromURL(ref)
	}
	return tele.File{FileID: ref}
}

func buttonMarkup(buttons []transport.Button) *tele.ReplyMarkup {
	if len(buttons) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	row := make(tele.Row, 0, len(buttons))
	for _, b := range buttons {
		if strings.TrimSpace(b.URL) == "" {
			continue
		}
		row = append(row, rm.URL(b.Label, b.URL))
	}
	if len(row) == 0 {
		return nil
	}
	rm.Inline(row)
	return rm
}
