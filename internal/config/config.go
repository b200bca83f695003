package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/gmsas95/medminder/internal/errors"
	"github.com/spf13/viper"
)

// Config holds all configuration for medminder
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Scanner       ScannerConfig       `mapstructure:"scanner"`
	Pharmacy      PharmacyConfig      `mapstructure:"pharmacy"`
	Assistant     AssistantConfig     `mapstructure:"assistant"`
	Cloud         CloudConfig         `mapstructure:"cloud"`
	UI            UIConfig            `mapstructure:"ui"`
	Security      SecurityConfig      `mapstructure:"security"`

	// path of the file the config was read from, empty when defaults only
	File string `mapstructure:"-"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string `mapstructure:"address"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	BaseURL      string `mapstructure:"base_url"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	DataDir     string `mapstructure:"data_dir"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	BadgerPath  string `mapstructure:"badger_path"`
	DatabaseURL string `mapstructure:"database_url"`
}

// LoggingConfig holds log level and rotation settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// NotificationsConfig holds reminder dispatcher and channel settings
type NotificationsConfig struct {
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	ChannelTimeout      int    `mapstructure:"channel_timeout_seconds"`
	LowStockThreshold   int    `mapstructure:"low_stock_threshold"`
	ExpiryCheckTime     string `mapstructure:"expiry_check_time"`
	ExpiryWarningDays   int    `mapstructure:"expiry_warning_days"`
	AIMessages          bool   `mapstructure:"ai_messages"`

	Desktop  DesktopConfig  `mapstructure:"desktop"`
	Email    EmailConfig    `mapstructure:"email"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Discord  DiscordConfig  `mapstructure:"discord"`
	Web      WebConfig      `mapstructure:"web"`
}

// DesktopConfig toggles OS toast notifications
type DesktopConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// EmailConfig holds SMTP settings
type EmailConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	SMTPHost  string `mapstructure:"smtp_host"`
	SMTPPort  int    `mapstructure:"smtp_port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Sender    string `mapstructure:"sender"`
	Recipient string `mapstructure:"recipient"`
}

// TelegramConfig holds Telegram bot settings
type TelegramConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	BotToken  string  `mapstructure:"bot_token"`
	AllowList []int64 `mapstructure:"allow_list"`
}

// DiscordConfig holds Discord bot settings
type DiscordConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Token     string `mapstructure:"token"`
	ChannelID string `mapstructure:"channel_id"`
}

// WebConfig toggles browser push over websocket
type WebConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ScannerConfig holds barcode scanner settings
type ScannerConfig struct {
	CameraIndex int `mapstructure:"camera_index"`
	MaxUploadMB int `mapstructure:"max_upload_mb"`
}

// PharmacyConfig holds pharmacy locator settings
type PharmacyConfig struct {
	SearchRadius int    `mapstructure:"search_radius"`
	MaxResults   int    `mapstructure:"max_results"`
	OverpassURL  string `mapstructure:"overpass_url"`
	NominatimURL string `mapstructure:"nominatim_url"`
	UserAgent    string `mapstructure:"user_agent"`
	CacheTTL     int    `mapstructure:"cache_ttl_hours"`
	Timeout      int    `mapstructure:"timeout"`
}

// AssistantConfig holds AI assistant settings
type AssistantConfig struct {
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	Model       string `mapstructure:"model"`
	VisionModel string `mapstructure:"vision_model"`
	Timeout     int    `mapstructure:"timeout"`
	MaxTokens   int    `mapstructure:"max_tokens"`
}

// CloudConfig holds Google sync settings
type CloudConfig struct {
	Google   GoogleConfig `mapstructure:"google"`
	Drive    SyncConfig   `mapstructure:"drive"`
	Calendar SyncConfig   `mapstructure:"calendar"`
	Sheets   SyncConfig   `mapstructure:"sheets"`
}

// GoogleConfig holds OAuth client credentials
type GoogleConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
}

// SyncConfig toggles one sync job
type SyncConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalMinutes int  `mapstructure:"interval_minutes"`
}

// UIConfig holds presentation settings
type UIConfig struct {
	Theme string `mapstructure:"theme"`
}

// SecurityConfig holds security settings
type SecurityConfig struct {
	JWTSecret     string   `mapstructure:"jwt_secret"`
	SessionSecret string   `mapstructure:"session_secret"`
	AdminPassword string   `mapstructure:"admin_password"`
	AllowOrigins  []string `mapstructure:"allow_origins"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v, err := newViper(configPath, dataDir)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func newViper(configPath, dataDir string) (*viper.Viper, error) {
	if err := LoadEnvFiles(dataDir); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = GetEnvDefault("MEDMINDER_STORAGE_DATA_DIR", getDefaultDataDir())
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.SetDefault("storage.data_dir", dataDir)
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "medminder.db"))
	v.SetDefault("storage.badger_path", filepath.Join(dataDir, "badger"))
	v.SetDefault("logging.file", filepath.Join(dataDir, "logs", "medminder.log"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, "medminder.json")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.WithCause(apperrors.ErrConfigInvalid, fmt.Errorf("read %s: %w", configPath, err))
		}
	}

	// MEDMINDER_SERVER_PORT, MEDMINDER_NOTIFICATIONS_EMAIL_ENABLED, ...
	v.SetEnvPrefix("MEDMINDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.base_url", "http://localhost:5000")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", true)

	v.SetDefault("notifications.poll_interval_seconds", 30)
	v.SetDefault("notifications.channel_timeout_seconds", 10)
	v.SetDefault("notifications.low_stock_threshold", 3)
	v.SetDefault("notifications.expiry_check_time", "09:00")
	v.SetDefault("notifications.expiry_warning_days", 7)
	v.SetDefault("notifications.desktop.enabled", true)
	v.SetDefault("notifications.email.smtp_host", "smtp.gmail.com")
	v.SetDefault("notifications.email.smtp_port", 587)
	v.SetDefault("notifications.web.enabled", true)

	v.SetDefault("scanner.camera_index", 0)
	v.SetDefault("scanner.max_upload_mb", 10)

	v.SetDefault("pharmacy.search_radius", 5000)
	v.SetDefault("pharmacy.max_results", 10)
	v.SetDefault("pharmacy.overpass_url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("pharmacy.nominatim_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("pharmacy.user_agent", "MedicineReminderApp/1.0")
	v.SetDefault("pharmacy.cache_ttl_hours", 24)
	v.SetDefault("pharmacy.timeout", 10)

	v.SetDefault("assistant.base_url", "https://api.x.ai/v1")
	v.SetDefault("assistant.model", "grok-2-1212")
	v.SetDefault("assistant.vision_model", "grok-2-vision-1212")
	v.SetDefault("assistant.timeout", 60)
	v.SetDefault("assistant.max_tokens", 1024)

	v.SetDefault("cloud.google.redirect_url", "http://localhost:5000/oauth/callback")
	v.SetDefault("cloud.drive.interval_minutes", 15)
	v.SetDefault("cloud.calendar.interval_minutes", 60)
	v.SetDefault("cloud.sheets.interval_minutes", 30)

	v.SetDefault("ui.theme", "light")

	v.SetDefault("security.allow_origins", []string{"*"})
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "medminder")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "medminder")
}

// loadEnvOverrides applies the unprefixed variables older deployments set
func loadEnvOverrides(cfg *Config) {
	getEnv := func(key, fallback string) string {
		if val := ResolveEnvWithAliases(key); val != "" {
			return val
		}
		return fallback
	}

	cfg.Storage.DatabaseURL = getEnv("MEDMINDER_STORAGE_DATABASE_URL", cfg.Storage.DatabaseURL)

	cfg.Notifications.Telegram.BotToken = getEnv("MEDMINDER_NOTIFICATIONS_TELEGRAM_BOT_TOKEN", cfg.Notifications.Telegram.BotToken)
	cfg.Notifications.Discord.Token = getEnv("MEDMINDER_NOTIFICATIONS_DISCORD_TOKEN", cfg.Notifications.Discord.Token)
	cfg.Notifications.Email.Password = getEnv("MEDMINDER_NOTIFICATIONS_EMAIL_PASSWORD", cfg.Notifications.Email.Password)

	cfg.Assistant.APIKey = getEnv("MEDMINDER_ASSISTANT_API_KEY", cfg.Assistant.APIKey)

	cfg.Cloud.Google.ClientID = getEnv("MEDMINDER_CLOUD_GOOGLE_CLIENT_ID", cfg.Cloud.Google.ClientID)
	cfg.Cloud.Google.ClientSecret = getEnv("MEDMINDER_CLOUD_GOOGLE_CLIENT_SECRET", cfg.Cloud.Google.ClientSecret)

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	cfg.Security.JWTSecret = getEnv("MEDMINDER_SECURITY_JWT_SECRET", cfg.Security.JWTSecret)
	cfg.Security.SessionSecret = getEnv("MEDMINDER_SECURITY_SESSION_SECRET", cfg.Security.SessionSecret)
	cfg.Security.AdminPassword = getEnv("MEDMINDER_SECURITY_ADMIN_PASSWORD", cfg.Security.AdminPassword)
}

func validate(cfg *Config) error {
	invalid := func(format string, args ...any) error {
		return apperrors.WithCause(apperrors.ErrConfigInvalid, fmt.Errorf(format, args...))
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return invalid("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Notifications.PollIntervalSeconds <= 0 || cfg.Notifications.PollIntervalSeconds > 60 {
		return invalid("notifications.poll_interval_seconds must be between 1 and 60")
	}
	if _, err := time.Parse("15:04", cfg.Notifications.ExpiryCheckTime); err != nil {
		return invalid("notifications.expiry_check_time %q is not HH:MM", cfg.Notifications.ExpiryCheckTime)
	}
	if cfg.Notifications.LowStockThreshold < 0 {
		return invalid("notifications.low_stock_threshold must not be negative")
	}
	if cfg.Pharmacy.SearchRadius <= 0 {
		return invalid("pharmacy.search_radius must be positive")
	}
	if cfg.Pharmacy.MaxResults <= 0 {
		return invalid("pharmacy.max_results must be positive")
	}
	if cfg.Notifications.Telegram.Enabled && cfg.Notifications.Telegram.BotToken == "" {
		return invalid("notifications.telegram.bot_token is required when telegram is enabled")
	}
	if cfg.Notifications.Discord.Enabled && (cfg.Notifications.Discord.Token == "" || cfg.Notifications.Discord.ChannelID == "") {
		return invalid("notifications.discord.token and channel_id are required when discord is enabled")
	}
	switch cfg.UI.Theme {
	case "light", "dark":
	default:
		return invalid("ui.theme must be light or dark, got %q", cfg.UI.Theme)
	}

	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = generateRandomString(32)
	}
	if cfg.Security.SessionSecret == "" {
		cfg.Security.SessionSecret = generateRandomString(32)
	}

	return nil
}

func generateRandomString(n int) string {
	b := make([]byte, n/2)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b)
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// PollInterval returns the dispatcher tick interval
func (n NotificationsConfig) PollInterval() time.Duration {
	return time.Duration(n.PollIntervalSeconds) * time.Second
}

// EnabledChannels maps channel names to their toggles
func (n NotificationsConfig) EnabledChannels() map[string]bool {
	return map[string]bool{
		"desktop":  n.Desktop.Enabled,
		"email":    n.Email.Enabled,
		"telegram": n.Telegram.Enabled,
		"discord":  n.Discord.Enabled,
		"web":      n.Web.Enabled,
	}
}

// AssistantConfigured reports whether an API key is present
func (c *Config) AssistantConfigured() bool {
	return c.Assistant.APIKey != ""
}

// GoogleConfigured reports whether OAuth client credentials are present
func (c *Config) GoogleConfigured() bool {
	return c.Cloud.Google.ClientID != "" && c.Cloud.Google.ClientSecret != ""
}
