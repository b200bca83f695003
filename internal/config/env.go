package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// EnvFileVar names a .env file read before the default locations
const EnvFileVar = "MEDMINDER_ENV_FILE"

// envFilePaths lists the default .env locations in priority order
func envFilePaths(dataDir string) []string {
	paths := []string{".env"}
	if dataDir != "" {
		paths = append(paths, filepath.Join(expandPath(dataDir), ".env"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "medminder", ".env"))
	}
	return paths
}

// LoadEnvFiles reads .env files into the process environment. Variables
// already set keep their value, so earlier files win over later ones. A
// file named by MEDMINDER_ENV_FILE must exist; the defaults are optional.
func LoadEnvFiles(dataDir string) error {
	if path := os.Getenv(EnvFileVar); path != "" {
		if err := loadEnvFile(path); err != nil {
			return fmt.Errorf("%s: %w", EnvFileVar, err)
		}
	}
	for _, path := range envFilePaths(dataDir) {
		err := loadEnvFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func loadEnvFile(path string) error {
	file, err := os.Open(expandPath(path))
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := parseEnvLine(scanner.Text())
		if !ok {
			continue
		}
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

// parseEnvLine accepts KEY=value with an optional export prefix. Double
// quoted values expand \n; unquoted values drop a trailing " # comment".
func parseEnvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")

	key, value, ok = strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false
	}

	value = strings.TrimSpace(value)
	switch {
	case len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"':
		value = strings.ReplaceAll(value[1:len(value)-1], `\n`, "\n")
	case len(value) >= 2 && value[0] == '\'' && value[len(value)-1] == '\'':
		value = value[1 : len(value)-1]
	default:
		if i := strings.Index(value, " #"); i >= 0 {
			value = strings.TrimSpace(value[:i])
		}
	}
	return key, value, true
}

func expandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

func GetEnvDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

var envAliases = map[string][]string{
	"MEDMINDER_STORAGE_DATABASE_URL":             {"DATABASE_URL"},
	"MEDMINDER_NOTIFICATIONS_TELEGRAM_BOT_TOKEN": {"TELEGRAM_BOT_TOKEN"},
	"MEDMINDER_NOTIFICATIONS_DISCORD_TOKEN":      {"DISCORD_BOT_TOKEN", "DISCORD_TOKEN"},
	"MEDMINDER_NOTIFICATIONS_EMAIL_PASSWORD":     {"SMTP_PASSWORD", "EMAIL_PASSWORD"},
	"MEDMINDER_ASSISTANT_API_KEY":                {"XAI_API_KEY", "OPENAI_API_KEY"},
	"MEDMINDER_CLOUD_GOOGLE_CLIENT_ID":           {"GOOGLE_CLIENT_ID"},
	"MEDMINDER_CLOUD_GOOGLE_CLIENT_SECRET":       {"GOOGLE_CLIENT_SECRET"},
	"MEDMINDER_SECURITY_SESSION_SECRET":          {"SESSION_SECRET"},
	"MEDMINDER_SECURITY_JWT_SECRET":              {"MEDMINDER_JWT_SECRET"},
	"MEDMINDER_SECURITY_ADMIN_PASSWORD":          {"MEDMINDER_ADMIN_PASSWORD"},
}

func ResolveEnvWithAliases(canonicalKey string) string {
	if val := os.Getenv(canonicalKey); val != "" {
		return val
	}

	if aliases, ok := envAliases[canonicalKey]; ok {
		for _, alias := range aliases {
			if val := os.Getenv(alias); val != "" {
				return val
			}
		}
	}

	return ""
}
