package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/gmsas95/medminder/internal/adherence"
	apperrors "github.com/gmsas95/medminder/internal/errors"
	"github.com/gmsas95/medminder/internal/notify"
	"github.com/gmsas95/medminder/internal/store"
	"github.com/gmsas95/medminder/internal/tracker"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Tracker is the part of the medicine tracker the bot answers from
type Tracker interface {
	Today(ctx context.Context) (*tracker.Overview, error)
	Streak(ctx context.Context) (adherence.Streak, error)
	TakeByName(ctx context.Context, name string) (*store.Medicine, error)
}

// ChatRegistry persists the chats that receive reminders
type ChatRegistry interface {
	TelegramChats(ctx context.Context) ([]int64, error)
	AddTelegramChat(ctx context.Context, chatID int64) (bool, error)
	RemoveTelegramChat(ctx context.Context, chatID int64) error
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot represents a Telegram bot integration
type Bot struct {
	api       *tgbotapi.BotAPI
	send      sender
	tracker   Tracker
	chats     ChatRegistry
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	enabled   bool
	allowList map[int64]bool // Allowed user IDs
}

// Config holds Telegram bot configuration
type Config struct {
	Token     string
	Enabled   bool
	AllowList []int64 // List of allowed user IDs (empty = allow all)
}

var commands = []tgbotapi.BotCommand{
	{Command: "start", Description: "Receive medicine reminders here"},
	{Command: "today", Description: "Medicines due today"},
	{Command: "streak", Description: "Current adherence streak"},
	{Command: "take", Description: "Log a dose: /take <name>"},
	{Command: "stop", Description: "Stop reminders in this chat"},
	{Command: "help", Description: "Show this help"},
}

// NewBot creates a new Telegram bot
func NewBot(cfg Config, tr Tracker, chats ChatRegistry, logger *zap.Logger) (*Bot, error) {
	if !cfg.Enabled || cfg.Token == "" {
		return &Bot{enabled: false, logger: logger}, nil
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, apperrors.WithCause(apperrors.ErrExternalAuth, fmt.Errorf("telegram: %w", err))
	}
	api.Debug = false
	logger.Info("Telegram bot authorized", zap.String("username", api.Self.UserName))

	b := newBot(api, tr, chats, cfg.AllowList, logger)
	b.api = api
	return b, nil
}

func newBot(s sender, tr Tracker, chats ChatRegistry, allow []int64, logger *zap.Logger) *Bot {
	ctx, cancel := context.WithCancel(context.Background())

	allowList := make(map[int64]bool)
	for _, id := range allow {
		allowList[id] = true
	}

	return &Bot{
		send:      s,
		tracker:   tr,
		chats:     chats,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		enabled:   true,
		allowList: allowList,
	}
}

// Enabled reports whether the bot has a working token
func (b *Bot) Enabled() bool {
	return b.enabled
}

// Start starts polling for updates
func (b *Bot) Start() error {
	if !b.enabled || b.api == nil {
		return nil
	}

	if _, err := b.api.Request(tgbotapi.NewSetMyCommands(commands...)); err != nil {
		b.logger.Warn("Failed to register Telegram commands", zap.Error(err))
	}

	b.wg.Add(1)
	go b.run()

	return nil
}

// Stop stops the bot
func (b *Bot) Stop() error {
	if !b.enabled {
		return nil
	}

	b.cancel()
	if b.api != nil {
		b.api.StopReceivingUpdates()
	}
	b.wg.Wait()
	return nil
}

func (b *Bot) run() {
	defer b.wg.Done()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := b.handleUpdate(b.ctx, update); err != nil {
				b.logger.Error("Failed to handle update", zap.Error(err))
			}
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return nil
	}

	if len(b.allowList) > 0 && !b.allowList[msg.From.ID] {
		return b.reply(msg.Chat.ID, "⛔ You are not authorized to use this bot.")
	}

	if msg.IsCommand() {
		return b.handleCommand(ctx, msg)
	}
	return b.reply(msg.Chat.ID, "Use /help to see what I can do.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		added, err := b.chats.AddTelegramChat(ctx, chatID)
		if err != nil {
			return err
		}
		if !added {
			return b.reply(chatID, "This chat already receives medicine reminders.")
		}
		b.logger.Info("Telegram chat registered", zap.Int64("chat_id", chatID))
		return b.reply(chatID, fmt.Sprintf(
			"<b>Medicine Reminder</b> 💊\n\nReminders will be sent to this chat.\nYour chat ID is <code>%d</code>.", chatID))

	case "stop":
		if err := b.chats.RemoveTelegramChat(ctx, chatID); err != nil {
			return err
		}
		return b.reply(chatID, "Reminders stopped for this chat.")

	case "today":
		overview, err := b.tracker.Today(ctx)
		if err != nil {
			return err
		}
		return b.reply(chatID, formatToday(overview))

	case "streak":
		s, err := b.tracker.Streak(ctx)
		if err != nil {
			return err
		}
		return b.reply(chatID, formatStreak(s))

	case "take":
		name := strings.TrimSpace(msg.CommandArguments())
		if name == "" {
			return b.reply(chatID, "Usage: /take &lt;medicine name&gt;")
		}
		med, err := b.tracker.TakeByName(ctx, name)
		if err != nil {
			if errors.Is(err, apperrors.ErrMedicineNotFound) {
				return b.reply(chatID, fmt.Sprintf("❓ No medicine called <b>%s</b>.", html.EscapeString(name)))
			}
			return err
		}
		text := fmt.Sprintf("✅ Marked <b>%s</b> as taken", html.EscapeString(med.Name))
		if med.DosesRemaining != nil {
			text += fmt.Sprintf(" (%d left)", *med.DosesRemaining)
		}
		return b.reply(chatID, text)

	case "help":
		var sb strings.Builder
		sb.WriteString("<b>Available Commands:</b>\n\n")
		for _, c := range commands {
			fmt.Fprintf(&sb, "/%s - %s\n", c.Command, html.EscapeString(c.Description))
		}
		return b.reply(chatID, sb.String())

	default:
		return b.reply(chatID, "❓ Unknown command. Use /help for available commands.")
	}
}

// Name implements notify.Channel
func (b *Bot) Name() string { return "telegram" }

// Send delivers a notification to every registered chat
func (b *Bot) Send(ctx context.Context, n notify.Notification) error {
	if !b.enabled {
		return apperrors.ErrChannelNotConfigured
	}
	chats, err := b.chats.TelegramChats(ctx)
	if err != nil {
		return err
	}

	text := formatNotification(n)
	var failed []string
	for _, id := range chats {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.reply(id, text); err != nil {
			b.logger.Warn("Telegram send failed", zap.Int64("chat_id", id), zap.Error(err))
			failed = append(failed, fmt.Sprint(id))
		}
	}
	if len(failed) > 0 {
		return apperrors.WithCause(apperrors.ErrChannelUnavailable,
			fmt.Errorf("telegram chats %s", strings.Join(failed, ", ")))
	}
	return nil
}

func (b *Bot) reply(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := b.send.Send(msg); err != nil {
		// Retry as plain text in case the markup was rejected
		msg.ParseMode = ""
		if _, err := b.send.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

func formatNotification(n notify.Notification) string {
	var sb strings.Builder
	switch n.Kind {
	case notify.KindExpiry:
		fmt.Fprintf(&sb, "<b>%s</b> ⚠️\n\n", html.EscapeString(n.Title))
	default:
		fmt.Fprintf(&sb, "<b>%s</b> 💊\n\n", html.EscapeString(n.Title))
	}
	sb.WriteString(html.EscapeString(n.Body))
	if n.Kind == notify.KindReminder && !n.At.IsZero() {
		fmt.Fprintf(&sb, "\n<b>Time:</b> %s", n.At.Format("15:04"))
	}
	return sb.String()
}

func formatToday(o *tracker.Overview) string {
	if len(o.Plan) == 0 {
		return "Nothing due today 🎉"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>Today, %s</b>\n\n", o.Date.Format("Monday, Jan 2"))
	for _, p := range o.Plan {
		mark := "⏳"
		if p.Complete() {
			mark = "✅"
		}
		times := make([]string, len(p.Badges))
		for i, badge := range p.Badges {
			times[i] = badge.Clock.String()
			if badge.Taken {
				times[i] = "<s>" + times[i] + "</s>"
			}
		}
		fmt.Fprintf(&sb, "%s <b>%s</b> %s\n    %s\n", mark, html.EscapeString(p.Name),
			html.EscapeString(p.Dosage), strings.Join(times, ", "))
	}
	fmt.Fprintf(&sb, "\n🔥 Streak: %d day(s)", o.Streak.Current)
	return sb.String()
}

func formatStreak(s adherence.Streak) string {
	text := fmt.Sprintf("🔥 Current streak: <b>%d</b> day(s)\n🏆 Longest: <b>%d</b> day(s)", s.Current, s.Longest)
	if s.TodayDue && !s.TodayKept {
		text += "\n\nDon't forget today's dose!"
	}
	return text
}

// GetBotInfo returns bot information
func (b *Bot) GetBotInfo() map[string]interface{} {
	if !b.enabled || b.api == nil {
		return map[string]interface{}{
			"enabled": b.enabled,
		}
	}

	return map[string]interface{}{
		"enabled":   true,
		"username":  b.api.Self.UserName,
		"firstName": b.api.Self.FirstName,
	}
}
