// Package telegram is the outbound operator channel: alerts produced by
// internal/notify are delivered to a Telegram chat. Nothing here polls
// for updates; the fleet has no inbound Telegram surface.
package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
}

type Adapter struct {
	cfg Config
	log *slog.Logger
	bot *tele.Bot
}

func New(cfg Config, log *slog.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token: cfg.Token,
		// Send-only adapter: no poller. Offline keeps NewBot from calling
		// getMe so construction cannot hang on a dead network.
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

// SendAlert delivers one alert message to the configured chat.
func (a *Adapter) SendAlert(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	chat := &tele.Chat{ID: a.cfg.ChatID}
	opt := &tele.SendOptions{
		ThreadID:              a.cfg.ThreadID,
		DisableWebPagePreview: true,
	}

	// telebot's Send has no context plumbing; run it on the side so the
	// caller's deadline still applies.
	done := make(chan error, 1)
	go func() {
		_, err := a.bot.Send(chat, text, opt)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("alert delivery failed", slog.Int64("chat", a.cfg.ChatID), slog.Any("err", err))
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Probe checks the token against the API. Called once at startup so a
// bad token fails loudly instead of silently dropping every alert.
func (a *Adapter) Probe(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, err := a.bot.ChatByID(a.cfg.ChatID)
		done <- err
	}()

	t := time.NewTimer(10 * time.Second)
	defer t.Stop()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return errors.New("telegram probe timed out")
	}
}
