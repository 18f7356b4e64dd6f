package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"calbot/internal/config"
	"calbot/internal/model"
	"calbot/internal/processing"
	"calbot/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Checker runs a calendar cycle on demand.
type Checker interface {
	RunFeed(ctx context.Context, feedID int64) (processing.Result, error)
}

// StatsSource provides the numbers shown by /stats.
type StatsSource interface {
	Snapshot(ctx context.Context) (model.Stats, error)
}

// Bot is the Telegram bot that handles user commands and sends notifications.
type Bot struct {
	api     telegramAPI
	store   storage.Storage
	cfg     *config.Config
	checker Checker
	stats   StatsSource
	log     *slog.Logger
}

// New creates a Bot with the given Telegram token, storage, and config.
func New(token string, store storage.Storage, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:   api,
		store: store,
		cfg:   cfg,
		log:   log,
	}, nil
}

// SetChecker enables /check.
func (b *Bot) SetChecker(c Checker) {
	b.checker = c
}

// SetStats makes /stats read from s instead of querying storage.
func (b *Bot) SetStats(s StatsSource) {
	b.stats = s
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				if !b.cfg.IsUserAllowed(update.CallbackQuery.From.ID) {
					continue
				}
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// Notify sends text to a chat given either as a numeric ID or as an
// @channel username. It gives up when ctx is done.
func (b *Bot) Notify(ctx context.Context, chatID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg tgbotapi.MessageConfig
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		msg = tgbotapi.NewMessage(id, text)
	} else {
		msg = tgbotapi.NewMessageToChannel(chatID, text)
	}
	msg.DisableWebPagePreview = true

	done := make(chan error, 1)
	go func() {
		_, err := b.api.Send(msg)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("send to %s: %w", chatID, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send to %s: %w", chatID, err)
		}
		return nil
	}
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start", "help":
		b.handleStart(chatID)
	case "add":
		b.handleAdd(ctx, chatID, args)
	case "list":
		b.handleList(ctx, chatID)
	case "info":
		b.handleInfo(ctx, chatID, args)
	case "del":
		b.handleDelete(ctx, chatID, args)
	case cmdEnable:
		b.handleEnable(ctx, chatID, args)
	case cmdCheck:
		b.handleCheck(ctx, chatID, args)
	case "format":
		b.handleFormat(ctx, chatID, args)
	case "advance":
		b.handleAdvance(ctx, chatID, args)
	case "daystart":
		b.handleDayStart(ctx, chatID, args)
	case "stats":
		b.handleStats(ctx, chatID)
	default:
		b.reply(chatID, "Sorry, I don't understand that command. Use /help for a list of commands.")
	}
}
