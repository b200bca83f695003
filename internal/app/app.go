package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gmsas95/medminder/internal/api"
	"github.com/gmsas95/medminder/internal/assistant"
	"github.com/gmsas95/medminder/internal/channels/discord"
	"github.com/gmsas95/medminder/internal/channels/telegram"
	"github.com/gmsas95/medminder/internal/cloud"
	"github.com/gmsas95/medminder/internal/config"
	"github.com/gmsas95/medminder/internal/cron"
	"github.com/gmsas95/medminder/internal/metrics"
	"github.com/gmsas95/medminder/internal/notify"
	"github.com/gmsas95/medminder/internal/pharmacy"
	"github.com/gmsas95/medminder/internal/reminder"
	"github.com/gmsas95/medminder/internal/scanner"
	"github.com/gmsas95/medminder/internal/secrets"
	"github.com/gmsas95/medminder/internal/store"
	"github.com/gmsas95/medminder/internal/tracker"
	"go.uber.org/zap"
)

// Job names on the cron runner
const (
	JobReminders   = "reminders"
	JobExpiryCheck = "expiry-check"
)

var syncOps = []string{cloud.OpDriveUpload, cloud.OpCalendar, cloud.OpSheets}

func syncJob(op string) string { return "sync:" + op }

type App struct {
	Config      *config.Config
	Store       *store.Store
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Tracker     *tracker.Tracker
	Assistant   *assistant.Assistant
	Pharmacy    *pharmacy.Locator
	Scanner     *scanner.Scanner
	Cloud       *cloud.Service
	Hub         *notify.Hub
	Fanout      *notify.Fanout
	Dispatcher  *reminder.Dispatcher
	CronRunner  *cron.Runner
	TelegramBot *telegram.Bot
	DiscordBot  *discord.Bot
	Version     string

	mu sync.Mutex
}

// New builds every component that needs no network connection. Chat bots
// are attached by StartChannels.
func New(cfg *config.Config, st *store.Store, logger *zap.Logger, version string) *App {
	m := metrics.New()

	assistantCfg := cfg.Assistant
	assistantCfg.APIKey = secrets.Resolve(secrets.AssistantAPIKey, assistantCfg.APIKey)
	ai := assistant.New(assistantCfg, m, logger)

	email := cfg.Notifications.Email
	hub := notify.NewHub()
	fanout := notify.NewFanout(
		time.Duration(cfg.Notifications.ChannelTimeout)*time.Second, m, logger,
		notify.NewDesktop(""),
		notify.NewEmail(notify.EmailConfig{
			Host:      email.SMTPHost,
			Port:      email.SMTPPort,
			Username:  email.Username,
			Password:  email.Password,
			Sender:    email.Sender,
			Recipient: email.Recipient,
		}, st),
		hub,
	)
	fanout.SetEnabled(cfg.Notifications.EnabledChannels())

	dispatcher := reminder.New(st, fanout, cfg.Notifications, m, logger)
	dispatcher.SetComposer(ai)

	tr := tracker.New(st, cfg.Notifications, m, logger)
	cloudSync := cloud.New(cfg.Cloud, st, m, logger)
	cloudSync.SetStreakSource(tr)

	return &App{
		Config:     cfg,
		Store:      st,
		Logger:     logger,
		Metrics:    m,
		Tracker:    tr,
		Assistant:  ai,
		Pharmacy:   pharmacy.New(cfg.Pharmacy, st, m, logger),
		Scanner:    scanner.New(cfg.Scanner.MaxUploadMB, logger),
		Cloud:      cloudSync,
		Hub:        hub,
		Fanout:     fanout,
		Dispatcher: dispatcher,
		CronRunner: cron.NewRunner(logger, time.Local),
		Version:    version,
	}
}

// Server builds the HTTP server over the app's components
func (a *App) Server() *api.Server {
	return api.New(a.Config, api.Deps{
		Tracker:   a.Tracker,
		Scanner:   a.Scanner,
		Pharmacy:  a.Pharmacy,
		Assistant: a.Assistant,
		Cloud:     a.Cloud,
		Notifier:  a.Fanout,
		Hub:       a.Hub,
		Metrics:   a.Metrics,
		Version:   a.Version,
	}, a.Logger)
}

// StartChannels connects the Telegram and Discord bots that are enabled
// and adds them to the fanout. A bot that fails to connect is logged and
// left out.
func (a *App) StartChannels() {
	n := a.Config.Notifications

	if n.Telegram.Enabled {
		bot, err := telegram.NewBot(telegram.Config{
			Token:     secrets.Resolve(secrets.TelegramBotToken, n.Telegram.BotToken),
			Enabled:   true,
			AllowList: n.Telegram.AllowList,
		}, a.Tracker, a.Store, a.Logger)
		if err != nil {
			a.Logger.Error("Failed to create Telegram bot", zap.Error(err))
		} else if err := bot.Start(); err != nil {
			a.Logger.Error("Failed to start Telegram bot", zap.Error(err))
		} else {
			a.TelegramBot = bot
			a.Fanout.Add(bot)
			a.Logger.Info("Telegram bot started")
		}
	}

	if n.Discord.Enabled {
		bot, err := discord.NewBot(discord.Config{
			Token:     secrets.Resolve(secrets.DiscordBotToken, n.Discord.Token),
			Enabled:   true,
			ChannelID: n.Discord.ChannelID,
		}, a.Tracker, a.Logger)
		if err != nil {
			a.Logger.Error("Failed to create Discord bot", zap.Error(err))
		} else if err := bot.Start(); err != nil {
			a.Logger.Error("Failed to start Discord bot", zap.Error(err))
		} else {
			a.DiscordBot = bot
			a.Fanout.Add(bot)
			a.Logger.Info("Discord bot started")
		}
	}
}

// RegisterJobs puts the reminder poll, the daily expiry check and the
// cloud syncs on the cron runner
func (a *App) RegisterJobs() error {
	if err := a.registerNotificationJobs(a.Config.Notifications); err != nil {
		return err
	}
	for _, op := range syncOps {
		if err := a.CronRunner.Every(syncJob(op), a.Cloud.Interval(op), a.Cloud.Scheduled(op)); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) registerNotificationJobs(n config.NotificationsConfig) error {
	err := a.CronRunner.Every(JobReminders, n.PollInterval(), func(ctx context.Context) error {
		_, err := a.Dispatcher.Tick(ctx)
		return err
	})
	if err != nil {
		return err
	}
	return a.CronRunner.Daily(JobExpiryCheck, n.ExpiryCheckTime, func(ctx context.Context) error {
		_, err := a.Dispatcher.CheckExpiring(ctx)
		return err
	})
}

// Reload applies an edited config file to the running notification
// pipeline. Other sections take effect on restart.
func (a *App) Reload(cfg *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := cfg.Notifications
	a.Fanout.SetEnabled(n.EnabledChannels())
	a.Fanout.SetTimeout(time.Duration(n.ChannelTimeout) * time.Second)
	a.Dispatcher.SetConfig(n)

	old := a.Config.Notifications
	if old.PollIntervalSeconds != n.PollIntervalSeconds || old.ExpiryCheckTime != n.ExpiryCheckTime {
		if err := a.registerNotificationJobs(n); err != nil {
			a.Logger.Warn("Failed to reschedule notification jobs", zap.Error(err))
		}
	}
	a.Config.Notifications = n

	a.Logger.Info("Notification settings reloaded",
		zap.Any("channels", a.Fanout.Channels()),
		zap.Duration("poll_interval", n.PollInterval()),
	)
}

// RunServer starts the background work and the web server, then blocks
// until SIGINT or SIGTERM
func (a *App) RunServer(configPath string) error {
	a.StartChannels()

	if err := a.RegisterJobs(); err != nil {
		return fmt.Errorf("failed to register jobs: %w", err)
	}
	if err := a.CronRunner.Start(); err != nil {
		return fmt.Errorf("failed to start cron runner: %w", err)
	}

	if err := config.Watch(configPath, a.Config.Storage.DataDir, a.Logger, a.Reload); err != nil {
		a.Logger.Warn("Config hot reload disabled", zap.Error(err))
	}

	server := a.Server()
	errc := make(chan error, 1)
	go func() {
		errc <- server.Start()
	}()

	a.Logger.Info("Server started",
		zap.String("address", a.Config.Addr()),
		zap.String("url", a.Config.Server.BaseURL),
		zap.String("version", a.Version),
	)
	for _, job := range a.CronRunner.Jobs() {
		a.Logger.Debug("Job", zap.String("name", job.Name), zap.String("spec", job.Spec), zap.Time("next", job.Next))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-quit:
	case serveErr = <-errc:
		a.Logger.Error("Server error", zap.Error(serveErr))
	}

	a.Logger.Info("Shutting down...")
	a.shutdown(server)
	return serveErr
}

func (a *App) shutdown(server *api.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		a.Logger.Error("Server shutdown error", zap.Error(err))
	}
	a.CronRunner.Stop()

	if a.TelegramBot != nil {
		a.TelegramBot.Stop()
	}
	if a.DiscordBot != nil {
		a.DiscordBot.Stop()
	}
}
