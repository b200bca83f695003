package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/gmsas95/medminder/internal/app"
	"github.com/gmsas95/medminder/internal/assistant"
	"github.com/gmsas95/medminder/internal/backup"
	"github.com/gmsas95/medminder/internal/config"
	"github.com/gmsas95/medminder/internal/secrets"
	"github.com/gmsas95/medminder/internal/store"
	"golang.org/x/term"
)

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Output writes command results, styled when it is a terminal
type Output struct {
	w      io.Writer
	styled bool
}

// NewOutput styles f only when it is attached to a terminal
func NewOutput(f *os.File) *Output {
	return &Output{w: f, styled: term.IsTerminal(int(f.Fd()))}
}

// PlainOutput never styles
func PlainOutput(w io.Writer) *Output {
	return &Output{w: w}
}

func (o *Output) paint(s lipgloss.Style, text string) string {
	if !o.styled {
		return text
	}
	return s.Render(text)
}

func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.w, format, args...)
}

func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.w, args...)
}

func (o *Output) Title(text string) {
	o.Println(o.paint(titleStyle, text))
	o.Println(o.paint(mutedStyle, strings.Repeat("=", len(text))))
}

// Run executes one command against application and returns the exit code
func Run(ctx context.Context, application *app.App, command string, args []string, out *Output) int {
	var err error
	switch command {
	case "today":
		err = HandleTodayCommand(ctx, application, out)
	case "streak":
		err = HandleStreakCommand(ctx, application, out)
	case "medicines", "ls":
		err = HandleMedicinesCommand(ctx, application, out)
	case "take":
		err = HandleTakeCommand(ctx, application, args, out)
	case "export":
		err = HandleExportCommand(ctx, application, args, out)
	case "import":
		err = HandleImportCommand(ctx, application, args, out)
	case "analyze":
		err = HandleAnalyzeCommand(ctx, application, args, out)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		PrintHelp()
		return 2
	}
	if err != nil {
		out.Printf("%s %s\n", out.paint(warnStyle, "Error:"), err)
		return 1
	}
	return 0
}

func HandleTodayCommand(ctx context.Context, application *app.App, out *Output) error {
	overview, err := application.Tracker.Today(ctx)
	if err != nil {
		return err
	}

	out.Title("Today, " + overview.Date.Format("Monday, January 2"))
	if len(overview.Plan) == 0 {
		out.Println("Nothing due today.")
	}
	for _, p := range overview.Plan {
		times := make([]string, 0, len(p.Badges))
		for _, b := range p.Badges {
			if b.Taken {
				times = append(times, out.paint(okStyle, b.Clock.String()+" ✓"))
			} else {
				times = append(times, b.Clock.String())
			}
		}
		line := fmt.Sprintf("%-24s %s", strings.TrimSpace(p.Name+" "+p.Dosage), strings.Join(times, "  "))
		if p.DosesRemaining != nil {
			line += out.paint(mutedStyle, fmt.Sprintf("  (%d left)", *p.DosesRemaining))
		}
		if p.Expired {
			line += " " + out.paint(warnStyle, "EXPIRED")
		}
		out.Println(line)
	}

	if len(overview.Expiring) > 0 {
		out.Println()
		out.Println(out.paint(warnStyle, "Expiring soon:"))
		for _, m := range overview.Expiring {
			out.Printf("  %s (%s)\n", m.Name, m.ExpiryDate.Format("2006-01-02"))
		}
	}
	if len(overview.LowStock) > 0 {
		out.Println()
		out.Println(out.paint(warnStyle, "Running low:"))
		for _, m := range overview.LowStock {
			out.Printf("  %s (%d left)\n", m.Name, *m.DosesRemaining)
		}
	}
	return nil
}

func HandleStreakCommand(ctx context.Context, application *app.App, out *Output) error {
	streak, err := application.Tracker.Streak(ctx)
	if err != nil {
		return err
	}
	rate, err := application.Tracker.Rate(ctx)
	if err != nil {
		return err
	}

	out.Title("Adherence")
	out.Printf("Current streak: %d day(s)\n", streak.Current)
	out.Printf("Longest streak: %d day(s)\n", streak.Longest)
	out.Printf("Adherence rate: %.0f%%\n", rate)
	switch {
	case !streak.TodayDue:
		out.Println(out.paint(mutedStyle, "Nothing due today."))
	case streak.TodayKept:
		out.Println(out.paint(okStyle, "Today's doses are logged."))
	default:
		out.Println(out.paint(warnStyle, "Take today's medicine to keep the streak."))
	}
	return nil
}

func HandleMedicinesCommand(ctx context.Context, application *app.App, out *Output) error {
	meds, err := application.Store.ListMedicines(ctx)
	if err != nil {
		return err
	}

	out.Title("Medicines")
	if len(meds) == 0 {
		out.Println("No medicines yet. Add one at " + application.Config.Server.BaseURL + "/medicine/add")
		return nil
	}
	now := application.Tracker.Now()
	threshold := application.Config.Notifications.LowStockThreshold
	for _, m := range meds {
		out.Printf("%4d  %s", m.ID, m.Name)
		if m.Dosage != "" {
			out.Printf(" %s", out.paint(mutedStyle, m.Dosage))
		}
		if m.Expired(now) {
			out.Printf(" %s", out.paint(warnStyle, "EXPIRED"))
		} else if m.LowStock(threshold) {
			out.Printf(" %s", out.paint(warnStyle, fmt.Sprintf("%d left", *m.DosesRemaining)))
		}
		out.Println()
		for _, sc := range m.Schedules {
			out.Printf("      %s\n", sc.Describe())
		}
	}
	return nil
}

// HandleTakeCommand logs a dose of the medicine named by id or by name
func HandleTakeCommand(ctx context.Context, application *app.App, args []string, out *Output) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: medminder take <id|name>")
	}

	var (
		med *store.Medicine
		err error
	)
	if id, convErr := strconv.ParseUint(args[0], 10, 64); convErr == nil {
		med, err = application.Tracker.Take(ctx, uint(id))
	} else {
		med, err = application.Tracker.TakeByName(ctx, strings.Join(args, " "))
	}
	if err != nil {
		return err
	}

	out.Printf("%s Marked %s as taken", out.paint(okStyle, "✓"), med.Name)
	if med.DosesRemaining != nil {
		out.Printf(" (%d dose(s) remaining)", *med.DosesRemaining)
	}
	out.Println()
	return nil
}

func HandleExportCommand(ctx context.Context, application *app.App, args []string, out *Output) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	format := fs.String("format", "", "json or yaml (default: from the file name)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := fs.Arg(0)
	f := backup.JSON
	if path != "" {
		f = backup.FormatOf(path)
	}
	if *format != "" {
		parsed, err := backup.ParseFormat(*format)
		if err != nil {
			return err
		}
		f = parsed
	}

	snap, err := backup.Export(ctx, application.Store)
	if err != nil {
		return err
	}
	if path == "" {
		return backup.Encode(out.w, snap, f)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := backup.Encode(file, snap, f); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	out.Printf("Exported %d medicine(s) and %d dose(s) to %s\n", len(snap.Medicines), len(snap.DoseEvents), path)
	return nil
}

// HandleImportCommand replaces every medicine, dose and setting with the
// contents of a backup file
func HandleImportCommand(ctx context.Context, application *app.App, args []string, out *Output) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: medminder import <file>")
	}
	path := args[0]

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	snap, err := backup.Decode(file, backup.FormatOf(path))
	if err != nil {
		return err
	}
	if err := backup.Import(ctx, application.Store, snap); err != nil {
		return err
	}
	out.Printf("Imported %d medicine(s) and %d dose(s) from %s\n", len(snap.Medicines), len(snap.DoseEvents), path)
	return nil
}

func HandleAnalyzeCommand(ctx context.Context, application *app.App, args []string, out *Output) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: medminder analyze <id>")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid medicine id %q", args[0])
	}
	if !application.Assistant.IsConfigured() {
		return fmt.Errorf("AI assistant is not configured, set assistant.api_key or MEDMINDER_ASSISTANT_API_KEY")
	}

	med, err := application.Store.GetMedicine(ctx, uint(id))
	if err != nil {
		return err
	}
	analysis, err := application.Assistant.Analyze(ctx, med.Name, med.Dosage, med.Notes)
	if err != nil {
		return err
	}

	md := AnalysisMarkdown(med, analysis)
	if !out.styled {
		out.Println(md)
		return nil
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80))
	if err != nil {
		return err
	}
	rendered, err := r.Render(md)
	if err != nil {
		return err
	}
	out.Printf("%s", rendered)
	return nil
}

// AnalysisMarkdown formats an analysis for the terminal
func AnalysisMarkdown(med *store.Medicine, a *assistant.Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", strings.TrimSpace(med.Name+" "+med.Dosage))
	section := func(title, body string) {
		if body = strings.TrimSpace(body); body != "" {
			fmt.Fprintf(&b, "## %s\n\n%s\n\n", title, body)
		}
	}
	list := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "## %s\n\n", title)
		for _, item := range items {
			fmt.Fprintf(&b, "- %s\n", item)
		}
		b.WriteString("\n")
	}

	section("How to take it", a.UsageAdvice)
	list("Side effects", a.SideEffects)
	list("Interactions", a.Interactions)
	section("About", a.GeneralInfo)
	b.WriteString("_This is general information, not medical advice._\n")
	return b.String()
}

// HandleDoctorCommand checks the configuration and reports the state of
// each channel and integration. It returns the number of problems found.
func HandleDoctorCommand(configPath, dataDir string, out *Output) int {
	out.Title("Medicine Reminder Diagnostics")
	out.Println()

	issues := 0
	cfg, err := config.Load(configPath, dataDir)
	if err != nil {
		out.Println("❌ Config: Error loading configuration")
		out.Printf("   %v\n", err)
		return 1
	}
	if cfg.File != "" {
		out.Printf("✅ Config: %s\n", cfg.File)
	} else {
		out.Println("✅ Config: Defaults (no config file)")
	}

	if _, err := os.Stat(cfg.Storage.DataDir); err != nil {
		out.Println("❌ Data Directory: Does not exist")
		issues++
	} else {
		out.Printf("✅ Data Directory: %s\n", cfg.Storage.DataDir)
	}

	st, err := store.New(cfg)
	if err != nil {
		out.Println("❌ Database: Cannot open")
		out.Printf("   %v\n", err)
		issues++
	} else {
		if err := st.Ping(context.Background()); err != nil {
			out.Printf("❌ Database: %v\n", err)
			issues++
		} else {
			out.Printf("✅ Database: %s\n", st.Dialect())
		}
		st.Close()
	}

	out.Println()
	out.Println("Channels:")
	n := cfg.Notifications
	out.Printf("  Desktop:  %s\n", channelStatus(n.Desktop.Enabled))
	out.Printf("  Web push: %s\n", channelStatus(n.Web.Enabled))
	out.Printf("  Email:    %s\n", channelStatus(n.Email.Enabled))
	if n.Email.Enabled {
		out.Printf("    Server: %s:%d\n", n.Email.SMTPHost, n.Email.SMTPPort)
		if secrets.Resolve(secrets.SMTPPassword, n.Email.Password) == "" {
			out.Println("    ⚠️  No SMTP password set")
			issues++
		}
	}
	out.Printf("  Telegram: %s\n", channelStatus(n.Telegram.Enabled))
	if n.Telegram.Enabled {
		out.Printf("    Bot Token: %s\n", maskToken(secrets.Resolve(secrets.TelegramBotToken, n.Telegram.BotToken)))
		out.Printf("    Allow List: %d users\n", len(n.Telegram.AllowList))
	}
	out.Printf("  Discord:  %s\n", channelStatus(n.Discord.Enabled))
	if n.Discord.Enabled {
		out.Printf("    Token: %s\n", maskToken(secrets.Resolve(secrets.DiscordBotToken, n.Discord.Token)))
	}

	out.Println()
	out.Println("Integrations:")
	if secrets.Resolve(secrets.AssistantAPIKey, cfg.Assistant.APIKey) != "" {
		out.Printf("  ✅ AI assistant: %s\n", cfg.Assistant.Model)
	} else {
		out.Println("  ⚠️  AI assistant: Not configured")
	}
	if cfg.GoogleConfigured() {
		out.Println("  ✅ Google sync: Client configured")
	} else {
		out.Println("  ⚠️  Google sync: Not configured")
	}
	if secrets.Available() {
		out.Println("  ✅ Keyring: Available")
	} else {
		out.Println("  ⚠️  Keyring: Unavailable, secrets are read from config and env")
	}

	out.Println()
	if issues == 0 {
		out.Println(out.paint(okStyle, "✅ All checks passed!"))
	} else {
		out.Println(out.paint(warnStyle, fmt.Sprintf("⚠️  Found %d issue(s).", issues)))
	}
	return issues
}

func channelStatus(enabled bool) string {
	if enabled {
		return "✅ enabled"
	}
	return "❌ disabled"
}

func maskToken(token string) string {
	if len(token) < 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

func PrintHelp() {
	fmt.Println(`Medicine Reminder

Usage: medminder [-config file] [-data dir] [command]

Commands:
  serve                       Run the web server and reminders (default)
  today                       Show today's medicines
  streak                      Show the adherence streak
  medicines                   List medicines and their schedules
  take <id|name>              Log a dose
  export [--format f] [file]  Write a JSON or YAML backup (stdout without file)
  import <file>               Replace all data with a backup
  analyze <id>                AI analysis of a medicine
  doctor                      Check configuration and channels
  version                     Print the version
  help                        Show this help`)
}
