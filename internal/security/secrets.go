package security

import (
	"regexp"
)

type SecretMatch struct {
	Type  string
	Start int
	End   int
}

type SecretScanner struct {
	patterns []*secretPattern
}

type secretPattern struct {
	name       string
	regex      *regexp.Regexp
	redactWith string
}

var defaultSecretPatterns = []struct {
	name       string
	pattern    string
	redactWith string
}{
	{"Google API Key", `AIza[0-9A-Za-z\-_]{35}`, "AIza****"},
	{"Google OAuth Token", `ya29\.[0-9A-Za-z\-_]{20,}`, "ya29.****"},
	{"xAI API Key", `xai-[0-9A-Za-z]{20,}`, "xai-****"},
	{"OpenAI API Key", `sk-[0-9A-Za-z\-_]{20,}`, "sk-****"},
	{"Private Key", `-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`, "PRIVATE_KEY****"},
	{"JWT Token", `eyJ[a-zA-Z0-9\-_]+\.eyJ[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]+`, "eyJ****"},
	{"Telegram Bot Token", `[0-9]{8,10}:[a-zA-Z0-9_-]{35}`, "****:****"},
	{"Discord Token", `[MN][a-zA-Z\d]{23}\.[\w-]{6}\.[\w-]{27}`, "DISCORD_TOKEN****"},
	{"Database URL", `(?i)(postgres|postgresql|mysql)://[^\s'"]+:[^\s'"]+@[^\s'"]+`, "DB_URL****"},
	{"Generic Secret", `(?i)(secret|password|passwd|api[_-]?key|token)['"]?\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`, "SECRET****"},
}

func NewSecretScanner() *SecretScanner {
	s := &SecretScanner{patterns: make([]*secretPattern, 0, len(defaultSecretPatterns))}
	for _, p := range defaultSecretPatterns {
		s.patterns = append(s.patterns, &secretPattern{
			name:       p.name,
			regex:      regexp.MustCompile(p.pattern),
			redactWith: p.redactWith,
		})
	}
	return s
}

func (s *SecretScanner) Scan(input string) []SecretMatch {
	var matches []SecretMatch
	for _, p := range s.patterns {
		for _, loc := range p.regex.FindAllStringIndex(input, -1) {
			matches = append(matches, SecretMatch{Type: p.name, Start: loc[0], End: loc[1]})
		}
	}
	return matches
}

func (s *SecretScanner) HasSecrets(input string) bool {
	for _, p := range s.patterns {
		if p.regex.MatchString(input) {
			return true
		}
	}
	return false
}

func (s *SecretScanner) Redact(input string) string {
	result := input
	for _, p := range s.patterns {
		result = p.regex.ReplaceAllString(result, p.redactWith)
	}
	return result
}
