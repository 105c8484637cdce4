package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ppiankov/rsspinger/internal/watch"
)

const (
	updateTimeout      = 30
	maxIntervalSeconds = 7 * 24 * 60 * 60

	replyStopped  = "Checker successfully cancelled!"
	replyNoWatch  = "You have no active checkers."
	replyUsage    = "Usage: /start [seconds]. Seconds must be a positive whole number."
	replyNotReady = "Checker is shutting down, try again later."
	replyHelp     = "Commands:\n" +
		"/start [seconds] - check the feed periodically and post new items here\n" +
		"/stop - stop checking\n" +
		"/status - show the current checker"
)

// Updater is the subset of *tgbotapi.BotAPI the bot needs.
type Updater interface {
	Sender
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Controller starts and stops per-chat watches. *watch.Scheduler implements it.
type Controller interface {
	Start(sub int64, interval time.Duration) (watch.State, error)
	Stop(sub int64) bool
	Status(sub int64) (watch.State, bool)
}

type BotOptions struct {
	API             Updater
	Controller      Controller
	DefaultInterval time.Duration
	AllowedChats    []int64 // empty allows every chat
	Logger          *zap.Logger
}

// Bot maps chat commands onto a Controller.
type Bot struct {
	api             Updater
	ctl             Controller
	defaultInterval time.Duration
	allowed         map[int64]struct{}
	log             *zap.Logger
}

func NewBot(opts BotOptions) (*Bot, error) {
	if opts.API == nil {
		return nil, errors.New("telegram: api is required")
	}
	if opts.Controller == nil {
		return nil, errors.New("telegram: controller is required")
	}
	if opts.DefaultInterval <= 0 {
		return nil, watch.ErrInvalidInterval
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var allowed map[int64]struct{}
	if len(opts.AllowedChats) > 0 {
		allowed = make(map[int64]struct{}, len(opts.AllowedChats))
		for _, id := range opts.AllowedChats {
			allowed[id] = struct{}{}
		}
	}

	return &Bot{
		api:             opts.API,
		ctl:             opts.Controller,
		defaultInterval: opts.DefaultInterval,
		allowed:         allowed,
		log:             log.Named("telegram"),
	}, nil
}

// Run long-polls updates until ctx is done or the update channel closes.
func (b *Bot) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = updateTimeout
	updates := b.api.GetUpdatesChan(cfg)
	defer b.api.StopReceivingUpdates()

	b.log.Info("listening for commands")
	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return errors.New("telegram: update channel closed")
			}
			b.Handle(upd)
		}
	}
}

// Handle processes one update. Non-command messages are ignored.
func (b *Bot) Handle(upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil || !msg.IsCommand() {
		return
	}
	chatID := msg.Chat.ID
	log := b.log.With(zap.Int64("chat_id", chatID), zap.String("command", msg.Command()))

	if !b.isAllowed(chatID) {
		log.Warn("command from chat not in allowed list")
		return
	}

	var reply string
	switch msg.Command() {
	case "start":
		reply = b.start(chatID, msg.CommandArguments(), log)
	case "stop":
		if b.ctl.Stop(chatID) {
			reply = replyStopped
		} else {
			reply = replyNoWatch
		}
	case "status":
		reply = b.status(chatID)
	default:
		reply = replyHelp
	}

	b.reply(chatID, reply, log)
}

func (b *Bot) start(chatID int64, args string, log *zap.Logger) string {
	interval, err := parseInterval(args, b.defaultInterval)
	if err != nil {
		return replyUsage
	}

	st, err := b.ctl.Start(chatID, interval)
	switch {
	case errors.Is(err, watch.ErrClosed):
		return replyNotReady
	case err != nil:
		log.Warn("start watch", zap.Error(err))
		return replyUsage
	}
	return fmt.Sprintf("Start automatic check rss feed. Request every %d sec.", int64(st.Interval/time.Second))
}

func (b *Bot) status(chatID int64) string {
	st, ok := b.ctl.Status(chatID)
	if !ok {
		return replyNoWatch
	}
	last := st.LastSeenID
	if last == "" {
		last = "nothing yet"
	}
	return fmt.Sprintf("Checking every %d sec. Last seen item: %s", int64(st.Interval/time.Second), last)
}

func (b *Bot) reply(chatID int64, text string, log *zap.Logger) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Warn("reply failed", zap.Error(err))
	}
}

func (b *Bot) isAllowed(chatID int64) bool {
	if b.allowed == nil {
		return true
	}
	_, ok := b.allowed[chatID]
	return ok
}

// parseInterval reads a whole number of seconds; blank args yield def.
func parseInterval(args string, def time.Duration) (time.Duration, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse interval %q: %w", args, err)
	}
	if n <= 0 || n > maxIntervalSeconds {
		return 0, watch.ErrInvalidInterval
	}
	return time.Duration(n) * time.Second, nil
}
