package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/quizmaster/internal/challenge"
	"github.com/pavelanni/quizmaster/internal/event"
	"github.com/pavelanni/quizmaster/internal/handler"
	appI18n "github.com/pavelanni/quizmaster/internal/i18n"
	"github.com/pavelanni/quizmaster/internal/llm"
	"github.com/pavelanni/quizmaster/internal/model"
	"github.com/pavelanni/quizmaster/internal/quiz"
	"github.com/pavelanni/quizmaster/internal/selector"
	"github.com/pavelanni/quizmaster/internal/store"
)

func main() {
	// A missing .env is fine; flags, env and config files still apply.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quizmaster",
		Short: "Adaptive quiz server",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), exportCmd(), sweepCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `quizmaster --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "quizmaster.db", "SQLite database path")
	f.StringP("lang", "l", "en", "Default language for messages (en, ru)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP quiz API",
		RunE:  runServe,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringSliceP("questions", "q", nil, "Question JSON files to import at startup (repeatable)")
	f.Int("default-question-count", quiz.DefaultQuestionCount, "Questions per quiz when the request names no count")
	f.Int("streak-up", selector.DefaultStreakUp, "Consecutive correct answers before moving up a tier")
	f.Int("streak-down", selector.DefaultStreakDown, "Consecutive wrong answers before moving down a tier")
	f.Float64("mix-tolerance", selector.DefaultTolerance, "Allowed deviation from the difficulty mix (fraction of the quiz)")
	f.Duration("challenge-ttl", challenge.DefaultTTL, "How long a challenge stays open")
	f.Duration("stale-after", 2*time.Hour, "Abandon active quizzes idle for longer than this")
	f.Duration("sweep-interval", 10*time.Minute, "How often to sweep stale quizzes and expired logins (0 disables)")
	f.Duration("shutdown-timeout", 10*time.Second, "Grace period for in-flight requests on shutdown")
	f.String("llm-url", "", "OpenAI-compatible API base URL for quiz reviews (empty disables reviews)")
	f.String("llm-key", "", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("amqp-url", "", "RabbitMQ URL for quiz events (empty disables publishing)")
	f.String("amqp-exchange", event.DefaultExchange, "Exchange for quiz events")
	f.String("admin-password", "", "Initial admin password (or set QUIZMASTER_ADMIN_PASSWORD)")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import question files into the bank",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	addCommonFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export completed quizzes as JSON",
		RunE:  runExport,
	}
	addCommonFlags(cmd)
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Abandon stale quizzes and remove expired logins",
		RunE:  runSweep,
	}
	addCommonFlags(cmd)
	cmd.Flags().Duration("stale-after", 2*time.Hour, "Abandon active quizzes idle for longer than this")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("QUIZMASTER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("quizmaster")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/quizmaster")
	v.AddConfigPath("/etc/quizmaster")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// openStore opens the database and loads translations, which every command
// needs.
func openStore(v *viper.Viper) (*store.Store, error) {
	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Seed default admin user if no users exist.
	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if err := importFiles(ctx, db, v.GetStringSlice("questions")); err != nil {
		return fmt.Errorf("import questions: %w", err)
	}

	publisher, err := event.NewAMQPPublisher(v.GetString("amqp-url"), v.GetString("amqp-exchange"))
	if err != nil {
		return fmt.Errorf("create event publisher: %w", err)
	}
	defer publisher.Close()

	cfg := model.QuizConfig{
		DefaultQuestionCount: v.GetInt("default-question-count"),
		StreakUp:             v.GetInt("streak-up"),
		StreakDown:           v.GetInt("streak-down"),
		MixTolerance:         v.GetFloat64("mix-tolerance"),
		ChallengeTTL:         v.GetDuration("challenge-ttl"),
	}
	engine := quiz.New(db, cfg, quiz.WithPublisher(publisher))
	builder := challenge.NewBuilder(db, cfg.ChallengeTTL)

	var reviewer handler.Reviewer
	if url := v.GetString("llm-url"); url != "" {
		reviewer = llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"))
		slog.Info("quiz reviews enabled", "url", url, "model", v.GetString("llm-model"))
	}

	lang := v.GetString("lang")
	h := handler.New(db, engine, builder, reviewer)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	server := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"default_question_count", cfg.DefaultQuestionCount,
		"streak_up", cfg.StreakUp,
		"streak_down", cfg.StreakDown,
		"mix_tolerance", cfg.MixTolerance,
		"events", v.GetString("amqp-url") != "",
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), v.GetDuration("shutdown-timeout"))
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if interval := v.GetDuration("sweep-interval"); interval > 0 {
		g.Go(func() error {
			runSweeper(gctx, db, engine, interval, v.GetDuration("stale-after"))
			return nil
		})
	}
	return g.Wait()
}

// runSweeper periodically abandons stale quizzes and deletes expired logins
// until ctx is done.
func runSweeper(ctx context.Context, db *store.Store, engine *quiz.Engine, interval, staleAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx, db, engine, staleAfter)
		}
	}
}

func sweep(ctx context.Context, db *store.Store, engine *quiz.Engine, staleAfter time.Duration) int64 {
	n, err := engine.SweepStale(ctx, staleAfter)
	if err != nil {
		slog.Error("stale quiz sweep failed", "error", err)
	}
	expired, err := db.CleanupExpiredAuthSessions(ctx, time.Now())
	if err != nil {
		slog.Error("auth session cleanup failed", "error", err)
	} else if expired > 0 {
		slog.Info("removed expired logins", "count", expired)
	}
	return n
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	return importFiles(cmd.Context(), db, args)
}

// importFiles imports each file once. Files already imported, with the same
// or different content, are skipped.
func importFiles(ctx context.Context, db *store.Store, paths []string) error {
	total := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		n, err := db.ImportFile(ctx, path, data)
		switch {
		case errors.Is(err, store.ErrAlreadyImported):
			slog.Info("questions file unchanged, skipping", "path", path)
			continue
		case errors.Is(err, store.ErrFileChanged):
			slog.Warn("questions file changed since last import, skipping to avoid duplicate questions",
				"path", path)
			continue
		case err != nil:
			return fmt.Errorf("import %s: %w", path, err)
		}
		slog.Info("imported questions", "path", path, "count", n)
		total += n
	}
	if len(paths) > 0 {
		fmt.Fprintln(os.Stderr, appI18n.Tp(ctx, "QuestionsImported", total))
	}
	return nil
}

type exportFile struct {
	ExportedAt time.Time             `json:"exported_at"`
	Sessions   []store.SessionExport `json:"sessions"`
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, err := db.ExportCompletedSessions(cmd.Context())
	if err != nil {
		return fmt.Errorf("export sessions: %w", err)
	}
	if sessions == nil {
		sessions = []store.SessionExport{}
	}

	data, err := json.MarshalIndent(exportFile{ExportedAt: time.Now().UTC(), Sessions: sessions}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	slog.Info("exported sessions", "count", len(sessions), "output", outPath)
	return nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	n := sweep(ctx, db, quiz.New(db, model.QuizConfig{}), v.GetDuration("stale-after"))
	fmt.Fprintln(os.Stderr, appI18n.Tp(ctx, "SessionsAbandoned", int(n)))
	return nil
}

func seedAdmin(ctx context.Context, db *store.Store, password string) error {
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or QUIZMASTER_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(ctx, model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
