// Package discord provides Discord bot integration
package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/gmsas95/medminder/internal/adherence"
	apperrors "github.com/gmsas95/medminder/internal/errors"
	"github.com/gmsas95/medminder/internal/notify"
	"github.com/gmsas95/medminder/internal/store"
	"github.com/gmsas95/medminder/internal/tracker"
	"go.uber.org/zap"
)

const maxMessageLen = 2000

// Config holds Discord bot configuration
type Config struct {
	Token     string
	Enabled   bool
	ChannelID string // Channel that receives reminders
}

// Tracker is the part of the medicine tracker the bot answers from
type Tracker interface {
	Today(ctx context.Context) (*tracker.Overview, error)
	Streak(ctx context.Context) (adherence.Streak, error)
	TakeByName(ctx context.Context, name string) (*store.Medicine, error)
}

type sender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Bot represents a Discord bot instance
type Bot struct {
	session *discordgo.Session
	send    sender
	tracker Tracker
	config  Config
	logger  *zap.Logger
}

// NewBot creates a new Discord bot
func NewBot(cfg Config, tr Tracker, logger *zap.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, apperrors.WithCause(apperrors.ErrChannelNotConfigured, fmt.Errorf("discord token is required"))
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	bot := &Bot{
		session: session,
		send:    session,
		tracker: tr,
		config:  cfg,
		logger:  logger,
	}

	session.AddHandler(bot.messageCreate)
	session.AddHandler(bot.ready)
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	return bot, nil
}

// Start opens the gateway connection
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return apperrors.WithCause(apperrors.ErrChannelUnavailable, fmt.Errorf("failed to open discord connection: %w", err))
	}
	return nil
}

// Stop stops the Discord bot
func (b *Bot) Stop() error {
	return b.session.Close()
}

func (b *Bot) ready(s *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("Discord bot ready",
		zap.String("username", event.User.Username),
		zap.Int("guilds", len(event.Guilds)),
	)
}

func (b *Bot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if m.ChannelID != b.config.ChannelID {
		return
	}
	if !strings.HasPrefix(m.Content, "!") {
		return
	}

	reply, err := b.handleCommand(context.Background(), m.Content)
	if err != nil {
		b.logger.Error("Discord command failed", zap.String("command", m.Content), zap.Error(err))
		reply = "❌ Something went wrong, please try again."
	}
	if reply != "" {
		b.post(reply)
	}
}

// handleCommand answers !today, !streak, !take <name> and !help
func (b *Bot) handleCommand(ctx context.Context, content string) (string, error) {
	parts := strings.Fields(content)
	if len(parts) == 0 {
		return "", nil
	}

	switch parts[0] {
	case "!help":
		return "**Medicine Reminder**\n\n" +
			"• `!today` - medicines due today\n" +
			"• `!streak` - adherence streak\n" +
			"• `!take <name>` - log a dose", nil

	case "!today":
		o, err := b.tracker.Today(ctx)
		if err != nil {
			return "", err
		}
		if len(o.Plan) == 0 {
			return "Nothing due today 🎉", nil
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "**Today, %s**\n", o.Date.Format("Monday, Jan 2"))
		for _, p := range o.Plan {
			times := make([]string, len(p.Badges))
			for i, badge := range p.Badges {
				times[i] = badge.Clock.String()
				if badge.Taken {
					times[i] = "~~" + times[i] + "~~"
				}
			}
			fmt.Fprintf(&sb, "• **%s** %s: %s\n", p.Name, p.Dosage, strings.Join(times, ", "))
		}
		return sb.String(), nil

	case "!streak":
		s, err := b.tracker.Streak(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("🔥 Current streak: **%d** | 🏆 Longest: **%d**", s.Current, s.Longest), nil

	case "!take":
		name := strings.TrimSpace(strings.TrimPrefix(content, parts[0]))
		if name == "" {
			return "Usage: `!take <name>`", nil
		}
		med, err := b.tracker.TakeByName(ctx, name)
		if err != nil {
			if apperrors.GetCode(err) == apperrors.ErrMedicineNotFound.Code {
				return fmt.Sprintf("❓ No medicine called **%s**.", name), nil
			}
			return "", err
		}
		return fmt.Sprintf("✅ Marked **%s** as taken", med.Name), nil
	}
	return "", nil
}

// Name implements notify.Channel
func (b *Bot) Name() string { return "discord" }

// Send posts a notification to the reminder channel
func (b *Bot) Send(ctx context.Context, n notify.Notification) error {
	if b.config.ChannelID == "" {
		return apperrors.ErrChannelNotConfigured
	}
	text := fmt.Sprintf("**%s**\n%s", n.Title, n.Body)
	for _, part := range splitMessage(text, maxMessageLen) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := b.send.ChannelMessageSend(b.config.ChannelID, part, discordgo.WithContext(ctx)); err != nil {
			return apperrors.WithCause(apperrors.ErrChannelUnavailable, fmt.Errorf("discord: %w", err))
		}
	}
	return nil
}

func (b *Bot) post(text string) {
	for _, part := range splitMessage(text, maxMessageLen) {
		if _, err := b.send.ChannelMessageSend(b.config.ChannelID, part); err != nil {
			b.logger.Warn("Discord send failed", zap.Error(err))
			return
		}
	}
}

// splitMessage splits a message into chunks under max length
func splitMessage(text string, maxLen int) []string {
	var parts []string
	lines := strings.Split(text, "\n")
	var current strings.Builder

	for _, line := range lines {
		if current.Len()+len(line)+1 > maxLen {
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
