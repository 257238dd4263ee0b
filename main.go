package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"signin-automation/auth"
	"signin-automation/browser"
	"signin-automation/captcha"
	"signin-automation/config"
	"signin-automation/logger"
	"signin-automation/notify"
	"signin-automation/ratelimit"
	"signin-automation/signin"
	"signin-automation/stealth"
	"signin-automation/storage"
)

var (
	configFile string
	verbose    bool
	headless   bool
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "signin-automation",
		Short: "Daily sign-in automation with slider captcha solving",
		Long:  `Logs in to the site, solves the slider captcha guarding the daily sign-in and reports the result to Telegram.`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./config/config.yaml", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", true, "Run browser in headless mode")

	rootCmd.AddCommand(createRunCmd())
	rootCmd.AddCommand(createScheduleCmd())
	rootCmd.AddCommand(createProbeCmd())
	rootCmd.AddCommand(createStatusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func createRunCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "run",
		Short: "Run the daily sign-in once",
		Long:  `Log in, read the dashboard, pass the slider captcha, sign in, read the statistics and send the report.`,
		RunE:  runSignin,
	}

	cmd.Flags().Bool("no-notify", false, "Print the report without sending it")
	return cmd
}

func createScheduleCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "schedule",
		Short: "Run the daily sign-in on a cron schedule",
		Long:  `Run the sign-in on schedule.cron in schedule.timezone until interrupted.`,
		RunE:  runSchedule,
	}

	cmd.Flags().Bool("now", false, "Also run once immediately")
	return cmd
}

func createProbeCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "probe",
		Short: "Send two local images to the gap recognition service",
		Long:  `Normalize a background and a tile image and ask the recognition service for the gap offset.`,
		RunE:  runProbe,
	}

	cmd.Flags().String("bg", "", "Background image file")
	cmd.Flags().String("tile", "", "Tile image file")
	cmd.MarkFlagRequired("bg")
	cmd.MarkFlagRequired("tile")
	return cmd
}

func createStatusCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "status",
		Short: "Show status and captcha statistics",
		Long:  `Display configuration and today's captcha attempt statistics from the journal.`,
		RunE:  runStatus,
	}

	cmd.Flags().Int("recent", 10, "Number of recent attempts to list")
	cmd.Flags().String("run", "", "List every attempt of one run (id or id prefix)")
	return cmd
}

// Command runners

func runSignin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	noNotify, _ := cmd.Flags().GetBool("no-notify")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.GetLogger()
	limiter := ratelimit.NewRateLimiter(cfg.Pacing, log)

	report := execute(ctx, cfg, limiter, log)
	fmt.Println(report.Markdown())

	if !noNotify {
		sendReport(ctx, cfg, limiter, report, log)
	}
	return nil
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	log := logger.GetLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// daily caps hold across scheduled runs
	limiter := ratelimit.NewRateLimiter(cfg.Pacing, log)
	job := scheduledJob(func() {
		report := execute(ctx, cfg, limiter, log)
		log.WithField("status", string(report.Status)).Info("Scheduled sign-in finished")
		sendReport(ctx, cfg, limiter, report, log)
	}, log)

	c := cron.New(cron.WithLocation(cfg.ScheduleLocation()), cron.WithLogger(cronLogger{log}))
	id, err := c.AddJob(cfg.Schedule.Cron, job)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", cfg.Schedule.Cron, err)
	}
	c.Start()

	log.WithFields(logrus.Fields{
		"cron":     cfg.Schedule.Cron,
		"timezone": cfg.Schedule.Timezone,
		"next_run": c.Entry(id).Next,
	}).Info("Scheduler started")

	if now, _ := cmd.Flags().GetBool("now"); now {
		go job.Run()
	}

	<-ctx.Done()
	log.Info("Stopping scheduler")
	<-c.Stop().Done()
	return nil
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	bgPath, _ := cmd.Flags().GetString("bg")
	tilePath, _ := cmd.Flags().GetString("tile")

	bgData, err := os.ReadFile(bgPath)
	if err != nil {
		return fmt.Errorf("failed to read background: %w", err)
	}
	tileData, err := os.ReadFile(tilePath)
	if err != nil {
		return fmt.Errorf("failed to read tile: %w", err)
	}

	solverCfg := cfg.SolverConfig()
	normalizer := captcha.NewNormalizer(log)
	bg := normalizer.Normalize(captcha.NewPuzzleImage(bgData), solverCfg.SizeBudgets.BackgroundKB)
	tile := normalizer.Normalize(captcha.NewPuzzleImage(tileData), solverCfg.SizeBudgets.TileKB)

	fmt.Printf("Background: %dx%d %s %.1fKB\n", bg.Width, bg.Height, bg.MIME, bg.SizeKB())
	fmt.Printf("Tile:       %dx%d %s %.1fKB\n", tile.Width, tile.Height, tile.MIME, tile.SizeKB())

	resolver := captcha.NewHTTPResolver(solverCfg, nil, log)
	gap := resolver.Resolve(cmd.Context(), bg, tile)
	if gap.Fallback {
		fmt.Printf("Fallback gap: %d (%v)\n", int(gap.X), gap.Err)
		return nil
	}
	fmt.Printf("Gap: %d\n", int(gap.X))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	recent, _ := cmd.Flags().GetInt("recent")
	runID, _ := cmd.Flags().GetString("run")

	fmt.Printf("Sign-in Automation Status\n")
	fmt.Printf("=========================\n\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Config file: %s\n", configFile)
	fmt.Printf("  Site: %s\n", cfg.Site.BaseURL)
	fmt.Printf("  Username: %s\n", maskUsername(cfg.Site.Username))
	fmt.Printf("  Headless: %v\n", cfg.Browser.Headless)
	fmt.Printf("  Schedule: %s (%s)\n", cfg.Schedule.Cron, cfg.Schedule.Timezone)
	fmt.Printf("  Telegram: %v\n", cfg.TelegramConfig().Configured())
	fmt.Printf("\n")

	if cfg.Storage.Path == "" {
		fmt.Printf("Attempt journal disabled\n")
		return nil
	}

	db, err := storage.NewDatabase(cfg.Storage.Path, logger.GetLogger())
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	if runID != "" {
		attempts, err := db.GetRunAttempts(ctx, runID)
		if err != nil {
			return fmt.Errorf("failed to get run attempts: %w", err)
		}
		if len(attempts) == 0 {
			fmt.Printf("No attempts recorded for run %s\n", runID)
			return nil
		}
		fmt.Printf("Attempts of run %s:\n", runID)
		printAttempts(os.Stdout, attempts, cfg.ScheduleLocation())
		return nil
	}

	since := startOfDay(time.Now(), cfg.ScheduleLocation())
	stats, err := db.GetStats(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Printf("Today's Captcha Statistics:\n")
	fmt.Printf("  Runs: %d\n", stats.Runs)
	fmt.Printf("  Attempts: %d\n", stats.Attempts)
	fmt.Printf("  Solved: %d\n", stats.Solved)
	fmt.Printf("  Indeterminate: %d\n", stats.Indeterminate)
	fmt.Printf("  Unsolved: %d\n", stats.Unsolved)
	fmt.Printf("  Fallback offsets: %d\n", stats.Fallbacks)

	if recent <= 0 {
		return nil
	}
	attempts, err := db.GetRecentAttempts(ctx, recent)
	if err != nil {
		return fmt.Errorf("failed to get recent attempts: %w", err)
	}
	if len(attempts) == 0 {
		return nil
	}
	fmt.Printf("\nRecent Attempts:\n")
	printAttempts(os.Stdout, attempts, cfg.ScheduleLocation())
	return nil
}

// printAttempts lists journal rows; a * marks a fallback gap.
func printAttempts(w io.Writer, attempts []*storage.Attempt, loc *time.Location) {
	for _, a := range attempts {
		gap := fmt.Sprintf("%d", a.GapX)
		if a.GapFallback {
			gap += "*"
		}
		line := fmt.Sprintf("  %s  run=%s #%d gap=%s scale=%.3f distance=%d %s",
			a.CreatedAt.In(loc).Format("2006-01-02 15:04:05"),
			shortID(a.RunID), a.Attempt, gap, a.Scale, a.Distance, a.Outcome)
		if a.Reason != "" {
			line += " (" + a.Reason + ")"
		}
		fmt.Fprintln(w, line)
	}
}

// execute runs one full sign-in cycle. It always returns a report; setup
// failures are recorded in it.
func execute(ctx context.Context, cfg *config.Config, limiter *ratelimit.RateLimiter, log *logrus.Logger) *signin.Report {
	signinCfg := cfg.SigninConfig()
	fail := func(err error) *signin.Report {
		log.WithError(err).Error("Sign-in setup failed")
		report := signin.NewReport(signinCfg.ReportTitle, signinCfg.Username, time.Now(), signinCfg.Location)
		report.SetError(err)
		return report
	}

	session, err := browser.Launch(cfg.BrowserOptions(), log)
	if err != nil {
		return fail(err)
	}
	defer session.Close()

	page, err := session.NewPage(ctx)
	if err != nil {
		return fail(err)
	}

	if err := stealth.NewManager(cfg.Stealth, nil, log).Apply(page); err != nil {
		return fail(err)
	}

	solver := captcha.NewSolver(cfg.SolverConfig(), page, nil, log)
	solver.SetPacer(limiter.For(ratelimit.ActionRecognize))
	if cfg.Storage.Path != "" {
		db, err := storage.NewDatabase(cfg.Storage.Path, log)
		if err != nil {
			log.WithError(err).Warn("Attempt journal unavailable, continuing without it")
		} else {
			defer db.Close()
			solver.SetRecorder(db)
		}
	}

	controller := signin.NewController(signinCfg, page, auth.NewManager(cfg.AuthConfig(), log), solver, log)
	controller.SetReloadPacer(limiter.For(ratelimit.ActionReload))

	report := controller.Run(ctx)
	log.WithFields(logrus.Fields{
		"status":          string(report.Status),
		"captcha_outcome": report.CaptchaOutcome,
		"captcha_tries":   report.CaptchaTries,
		"limits":          limiter.GetStats(),
	}).Info("Sign-in finished")
	return report
}

func sendReport(ctx context.Context, cfg *config.Config, limiter *ratelimit.RateLimiter, report *signin.Report, log *logrus.Logger) {
	tg := notify.NewTelegram(cfg.TelegramConfig(), log)
	tg.SetPacer(limiter.For(ratelimit.ActionNotify))
	if _, err := tg.Send(ctx, report.Markdown()); err != nil {
		log.WithError(err).Warn("Failed to send notification")
	}
}

// scheduledJob skips a firing while the previous run is still going, so a
// slow run and --now never drive the browser twice at once.
func scheduledJob(run func(), log *logrus.Logger) cron.Job {
	return cron.NewChain(cron.SkipIfStillRunning(cronLogger{log})).Then(cron.FuncJob(run))
}

// cronLogger routes cron's key/value logging to logrus.
type cronLogger struct {
	log *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		l.log.Warn("Previous sign-in still running, skipping this one")
		return
	}
	l.log.WithFields(kvFields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(kvFields(keysAndValues)).Error("cron: " + msg)
}

func kvFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}

// Helper functions

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := setupLogger(cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = headless
	}
	return cfg, nil
}

func setupLogger(cfg config.LoggingConfig) error {
	level := cfg.Level
	if level == "" {
		level = "info"
	}
	if verbose {
		level = "debug"
	}
	return logger.InitLogger(level, cfg.Format, cfg.Output)
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// maskUsername keeps the first two characters of the account name, and the
// domain when the name is an email address.
func maskUsername(username string) string {
	if username == "" {
		return ""
	}

	local, domain := username, ""
	if i := strings.LastIndex(username, "@"); i >= 0 {
		local, domain = username[:i], username[i:]
	}

	runes := []rune(local)
	if len(runes) <= 2 {
		return username
	}

	return string(runes[:2]) + strings.Repeat("*", len(runes)-2) + domain
}
