package security

import (
	"errors"
	"regexp"
	"strings"
)

var ErrPromptInjection = errors.New("potential prompt injection detected")

type injectionRule struct {
	name string
	re   *regexp.Regexp
}

// PromptInjectionDetector flags medicine text that tries to steer the
// assistant instead of describing a medicine
type PromptInjectionDetector struct {
	literals []string
	rules    []injectionRule
}

// Medicine notes legitimately say things like "act as directed", so only
// phrases aimed at the model are listed.
var injectionLiterals = []string{
	"ignore previous instructions",
	"ignore all previous",
	"disregard all previous",
	"forget all previous",
	"ignore the above",
	"disregard the above",
	"your new instructions",
	"system override",
	"developer mode",
	"jailbreak",
}

var injectionRules = []struct{ name, pattern string }{
	{"override", `(?i)(ignore|disregard|forget)\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?|directives?|context)`},
	{"role", `(?i)you\s+are\s+now\s+(a|an)\s+\w+`},
	{"role", `(?i)(pretend|act\s+as\s+if)\s+(that\s+)?you\s+are`},
	{"override", `(?i)(override|bypass)\s+(all\s+)?(rules?|restrictions?|filters?|safety)`},
	{"markup", `(?i)system:\s*you\s+must`},
	{"markup", `<\|.*\|>`},
	{"markup", `(?i)\[system\].*\[/system\]`},
	{"markup", `(?i)###\s*(instruction|system)`},

	// attempts to bend the medical answer itself
	{"safety", `(?i)\b(say|tell|claim|state|respond|answer)\s+(to\s+the\s+user\s+|the\s+user\s+|me\s+)?(that\s+)?(it\s+is|it's|this\s+is)\s+(completely\s+|totally\s+)?(safe|harmless|fine)`},
	{"safety", `(?i)\b(say|tell|claim|state|respond|answer|report)\s+(that\s+)?there\s+are\s+no\s+(side\s+effects?|interactions?|warnings?|risks?)`},
	{"safety", `(?i)\b(do\s+not|don't|never)\s+(mention|list|include|report|show)\s+(any\s+)?(side\s+effects?|interactions?|warnings?|contraindications?)`},
	{"dosing", `(?i)\b(recommend|suggest|advise)\s+(taking\s+)?(a\s+)?(double|triple|maximum|unlimited)\s+(dose|dosage|amount)`},
	{"exfiltration", `(?i)\b(reveal|print|show|repeat|output)\s+(your|the)\s+(system\s+)?(prompt|instructions|api\s+key)`},
}

func NewPromptInjectionDetector() *PromptInjectionDetector {
	d := &PromptInjectionDetector{
		literals: make([]string, len(injectionLiterals)),
		rules:    make([]injectionRule, 0, len(injectionRules)),
	}
	for i, lit := range injectionLiterals {
		d.literals[i] = strings.ToLower(lit)
	}
	for _, r := range injectionRules {
		d.rules = append(d.rules, injectionRule{name: r.name, re: regexp.MustCompile(r.pattern)})
	}
	return d
}

// Match returns the kind of the first rule the input trips
func (d *PromptInjectionDetector) Match(input string) (string, bool) {
	lower := strings.ToLower(input)
	for _, lit := range d.literals {
		if strings.Contains(lower, lit) {
			return "override", true
		}
	}
	for _, r := range d.rules {
		if r.re.MatchString(input) {
			return r.name, true
		}
	}
	return "", false
}

func (d *PromptInjectionDetector) Detect(input string) bool {
	_, ok := d.Match(input)
	return ok
}

func (d *PromptInjectionDetector) Validate(input string) error {
	if d.Detect(input) {
		return ErrPromptInjection
	}
	return nil
}
