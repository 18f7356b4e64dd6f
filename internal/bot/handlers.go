package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"calbot/internal/message"
	"calbot/internal/model"
	"calbot/internal/scheduler"
)

func (b *Bot) handleStart(chatID int64) {
	b.log.Info("started", "chat_id", chatID)
	b.reply(chatID, `Hello, I'm calendar bot, please give me some commands.
/add ical_url @channel — add new iCal to be sent to a channel
/list — see all configured calendars
/info id — calendar details
/del id — remove calendar by id
/enable id — turn a disabled calendar back on
/check id — read the calendar right now
/daystart id HH:MM — time to notify all-day events at
/format [new format] — get or set the event format, use {title}, {date}, {time}, {location} and {description}
/advance [hours...] — get or set how many hours before the event to publish it
/stats — bot statistics`)
}

// ownedFeed loads a calendar of the user, replying when there is none.
func (b *Bot) ownedFeed(ctx context.Context, chatID, id int64) (*model.Feed, bool) {
	feed, err := b.store.GetFeed(ctx, id)
	if err != nil || feed.UserID != chatID {
		b.reply(chatID, fmt.Sprintf("Calendar %d not found.", id))
		return nil, false
	}
	return feed, true
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, args string) {
	url, channel, err := ParseAddArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	settings, err := b.store.GetUserSettings(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	f := &model.Feed{
		UserID:           chatID,
		URL:              url,
		Name:             url,
		ChannelID:        channel,
		AdvanceHours:     settings.AdvanceHours,
		DayStart:         model.DefaultDayStart,
		IntervalMinutes:  b.cfg.CheckIntervalMinutes(),
		Enabled:          true,
		FailureThreshold: b.cfg.FailureThreshold,
	}
	if err := b.store.CreateFeed(ctx, f); err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to save calendar: %v", err))
		return
	}

	b.log.Info("calendar added", "feed_id", f.ID, "user_id", chatID, "channel", channel)
	b.reply(chatID, fmt.Sprintf("Calendar %s is queued for verification", url))
}

func (b *Bot) handleList(ctx context.Context, chatID int64) {
	feeds, err := b.store.ListFeeds(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatFeedList(feeds))
}

func (b *Bot) handleInfo(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /info <id>")
		return
	}

	feed, ok := b.ownedFeed(ctx, chatID, id)
	if !ok {
		return
	}

	buttons := []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("Check now", fmt.Sprintf("%s:%d", cmdCheck, id)),
	}
	if !feed.Enabled {
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData("Enable", fmt.Sprintf("%s:%d", cmdEnable, id)))
	}
	buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData("Delete", fmt.Sprintf("%s:%d", cbDeleteConfirm, id)))

	msg := tgbotapi.NewMessage(chatID, FormatFeedInfo(feed))
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(buttons...))
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send calendar info", "error", err)
	}
}

func (b *Bot) handleDelete(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Please provide the calendar id to /del command:\n/del calendar_id")
		return
	}

	feed, ok := b.ownedFeed(ctx, chatID, id)
	if !ok {
		return
	}
	b.confirmDelete(chatID, id, feed.Name)
}

func (b *Bot) deleteFeed(ctx context.Context, chatID, id int64) {
	feed, ok := b.ownedFeed(ctx, chatID, id)
	if !ok {
		return
	}

	if err := b.store.DeleteFeed(ctx, id); err != nil {
		b.log.Warn("delete calendar", "feed_id", id, "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to delete calendar %d:\n%v", id, err))
		return
	}
	b.log.Info("calendar deleted", "feed_id", id, "user_id", chatID)
	b.reply(chatID, fmt.Sprintf("Calendar %d \"%s\" is deleted", id, feed.Name))
}

func (b *Bot) handleEnable(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /enable <id>")
		return
	}

	feed, ok := b.ownedFeed(ctx, chatID, id)
	if !ok {
		return
	}
	if feed.Enabled {
		b.reply(chatID, fmt.Sprintf("Calendar %d \"%s\" is already enabled.", id, feed.Name))
		return
	}

	if err := b.store.SetFeedEnabled(ctx, id, true); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Calendar %d \"%s\" enabled.", id, feed.Name))
}

func (b *Bot) handleCheck(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /check <id>")
		return
	}

	feed, ok := b.ownedFeed(ctx, chatID, id)
	if !ok {
		return
	}
	if !feed.Enabled {
		b.reply(chatID, fmt.Sprintf("Calendar %d \"%s\" is disabled. Use /enable %d first.", id, feed.Name, id))
		return
	}
	if b.checker == nil {
		b.reply(chatID, "Checking is not available right now.")
		return
	}

	res, err := b.checker.RunFeed(ctx, id)
	switch {
	case errors.Is(err, scheduler.ErrBusy):
		b.reply(chatID, fmt.Sprintf("Calendar %d is being processed right now, try again later.", id))
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Check of calendar %d failed:\n%v", id, err))
	default:
		b.reply(chatID, fmt.Sprintf("Calendar %d checked: %d upcoming events, %d notified.", id, res.Read, res.Sent))
	}
}

func (b *Bot) handleFormat(ctx context.Context, chatID int64, args string) {
	settings, err := b.store.GetUserSettings(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	sample := message.Sample(time.Now())
	if args == "" {
		b.reply(chatID, fmt.Sprintf("Current format:\n%s\nSample event:\n%s",
			settings.Format, message.Event(settings.Format, sample, time.UTC)))
		return
	}

	if err := message.Validate(args); err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to update format:\n%v", err))
		return
	}
	settings.Format = args
	if err := b.store.SaveUserSettings(ctx, settings); err != nil {
		b.log.Warn("update format", "user_id", chatID, "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to update format:\n%v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Format is updated\nSample event:\n%s", message.Event(settings.Format, sample, time.UTC)))
}

func (b *Bot) handleAdvance(ctx context.Context, chatID int64, args string) {
	if args == "" {
		settings, err := b.store.GetUserSettings(ctx, chatID)
		if err != nil {
			b.reply(chatID, fmt.Sprintf("Error: %v", err))
			return
		}
		b.reply(chatID, fmt.Sprintf("Events are notified %s hours in advance", FormatAdvance(settings.AdvanceHours)))
		return
	}

	hours, err := model.ParseAdvance(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to update advance hours:\n%v", err))
		return
	}
	if _, err := b.store.GetUserSettings(ctx, chatID); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if err := b.store.SetUserAdvance(ctx, chatID, hours); err != nil {
		b.log.Warn("update advance", "user_id", chatID, "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to update advance hours:\n%v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Advance hours are updated.\nEvents will be notified %s hours in advance.", FormatAdvance(hours)))
}

func (b *Bot) handleDayStart(ctx context.Context, chatID int64, args string) {
	id, tod, err := ParseDayStartArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	feed, ok := b.ownedFeed(ctx, chatID, id)
	if !ok {
		return
	}

	feed.DayStart = tod
	if err := b.store.UpdateFeed(ctx, feed); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("All-day events of calendar %d will be notified at %s.", id, tod))
}

func (b *Bot) handleStats(ctx context.Context, chatID int64) {
	var (
		st  model.Stats
		err error
	)
	if b.stats != nil {
		st, err = b.stats.Snapshot(ctx)
	} else {
		st, err = b.store.Stats(ctx)
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, message.Stats(st))
}
