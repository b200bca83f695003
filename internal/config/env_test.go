package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFile(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	content := `# medminder secrets
SMTP_HOST_T=smtp.example.com
SMTP_PASSWORD_T="quoted value"
XAI_KEY_T='single quoted'
# Comment
export SESSION_T=abc
`
	if err := os.WriteFile(envFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	for _, k := range []string{"SMTP_HOST_T", "SMTP_PASSWORD_T", "XAI_KEY_T", "SESSION_T"} {
		os.Unsetenv(k)
		defer os.Unsetenv(k)
	}

	if err := loadEnvFile(envFile); err != nil {
		t.Fatalf("loadEnvFile failed: %v", err)
	}

	want := map[string]string{
		"SMTP_HOST_T":     "smtp.example.com",
		"SMTP_PASSWORD_T": "quoted value",
		"XAI_KEY_T":       "single quoted",
		"SESSION_T":       "abc",
	}
	for k, v := range want {
		if got := os.Getenv(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestLoadEnvFile_DoesNotOverride(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	if err := os.WriteFile(envFile, []byte(`EXISTING_KEY=new_value`), 0644); err != nil {
		t.Fatal(err)
	}

	os.Setenv("EXISTING_KEY", "original_value")
	defer os.Unsetenv("EXISTING_KEY")

	if err := loadEnvFile(envFile); err != nil {
		t.Fatalf("loadEnvFile failed: %v", err)
	}

	if os.Getenv("EXISTING_KEY") != "original_value" {
		t.Error("loadEnvFile should not override existing env vars")
	}
}

func TestParseEnvLine(t *testing.T) {
	tests := []struct {
		line  string
		key   string
		value string
		ok    bool
	}{
		{"SMTP_HOST=smtp.example.com", "SMTP_HOST", "smtp.example.com", true},
		{"export TOKEN = abc ", "TOKEN", "abc", true},
		{"PORT=587 # submission", "PORT", "587", true},
		{`NOTE="line one\nline two"`, "NOTE", "line one\nline two", true},
		{`HASH='a # b'`, "HASH", "a # b", true},
		{"EMPTY=", "EMPTY", "", true},
		{"# comment", "", "", false},
		{"no equals sign", "", "", false},
		{"BAD KEY=1", "", "", false},
		{"=value", "", "", false},
	}

	for _, tt := range tests {
		key, value, ok := parseEnvLine(tt.line)
		if ok != tt.ok || key != tt.key || value != tt.value {
			t.Errorf("parseEnvLine(%q) = %q, %q, %v; want %q, %q, %v", tt.line, key, value, ok, tt.key, tt.value, tt.ok)
		}
	}
}

func TestLoadEnvFiles_DataDirAndExplicitFile(t *testing.T) {
	dataDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dataDir, ".env"), []byte("MM_DATA_T=from-data\nMM_BOTH_T=from-data\n"), 0600); err != nil {
		t.Fatal(err)
	}
	explicit := filepath.Join(t.TempDir(), "custom.env")
	if err := os.WriteFile(explicit, []byte("MM_BOTH_T=from-explicit\n"), 0600); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"MM_DATA_T", "MM_BOTH_T"} {
		os.Unsetenv(k)
		t.Cleanup(func() { os.Unsetenv(k) })
	}
	t.Setenv(EnvFileVar, explicit)

	if err := LoadEnvFiles(dataDir); err != nil {
		t.Fatalf("LoadEnvFiles failed: %v", err)
	}
	if got := os.Getenv("MM_DATA_T"); got != "from-data" {
		t.Errorf("MM_DATA_T = %q, want from-data", got)
	}
	if got := os.Getenv("MM_BOTH_T"); got != "from-explicit" {
		t.Errorf("MM_BOTH_T = %q, want from-explicit", got)
	}

	t.Setenv(EnvFileVar, filepath.Join(dataDir, "missing.env"))
	if err := LoadEnvFiles(dataDir); err == nil {
		t.Error("expected an error for a missing MEDMINDER_ENV_FILE")
	}
}

func TestResolveEnvWithAliases(t *testing.T) {
	const canonical = "MEDMINDER_ASSISTANT_API_KEY"
	os.Unsetenv(canonical)
	os.Unsetenv("XAI_API_KEY")
	os.Unsetenv("OPENAI_API_KEY")

	if result := ResolveEnvWithAliases(canonical); result != "" {
		t.Error("Expected empty when no keys set")
	}

	os.Setenv("OPENAI_API_KEY", "openai_value")
	defer os.Unsetenv("OPENAI_API_KEY")

	if result := ResolveEnvWithAliases(canonical); result != "openai_value" {
		t.Errorf("Expected openai_value from alias, got %s", result)
	}

	os.Setenv("XAI_API_KEY", "xai_value")
	defer os.Unsetenv("XAI_API_KEY")

	if result := ResolveEnvWithAliases(canonical); result != "xai_value" {
		t.Errorf("Expected xai_value from first alias, got %s", result)
	}

	os.Setenv(canonical, "canonical_value")
	defer os.Unsetenv(canonical)

	if result := ResolveEnvWithAliases(canonical); result != "canonical_value" {
		t.Errorf("Expected canonical_value, got %s", result)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input    string
		expected string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
	}

	for _, test := range tests {
		if result := expandPath(test.input); result != test.expected {
			t.Errorf("expandPath(%s) = %s, expected %s", test.input, result, test.expected)
		}
	}
}

func TestEnvAliases_Exist(t *testing.T) {
	requiredAliases := map[string][]string{
		"MEDMINDER_STORAGE_DATABASE_URL":             {"DATABASE_URL"},
		"MEDMINDER_NOTIFICATIONS_TELEGRAM_BOT_TOKEN": {"TELEGRAM_BOT_TOKEN"},
		"MEDMINDER_ASSISTANT_API_KEY":                {"XAI_API_KEY"},
		"MEDMINDER_SECURITY_SESSION_SECRET":          {"SESSION_SECRET"},
	}

	for canonical, aliases := range requiredAliases {
		for _, alias := range aliases {
			found := false
			for _, a := range envAliases[canonical] {
				if a == alias {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("Missing alias %s for %s", alias, canonical)
			}
		}
	}
}

func BenchmarkLoadEnvFile(b *testing.B) {
	tmpDir := b.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	content := `KEY1=value1
KEY2=value2
KEY3=value3
`
	if err := os.WriteFile(envFile, []byte(content), 0644); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		loadEnvFile(envFile)
	}
}
