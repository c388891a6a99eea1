package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/almeidatech/quizbank/internal/handler"
	appI18n "github.com/almeidatech/quizbank/internal/i18n"
	"github.com/almeidatech/quizbank/internal/importer"
	"github.com/almeidatech/quizbank/internal/jobs"
	"github.com/almeidatech/quizbank/internal/llm"
	"github.com/almeidatech/quizbank/internal/model"
	"github.com/almeidatech/quizbank/internal/ratelimit"
	"github.com/almeidatech/quizbank/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quizbank",
		Short: "Question bank server with CSV import pipeline",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `quizbank --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP question bank server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "quizbank.db", "SQLite database path")
	f.String("admin-password", "", "Initial admin password (or set QUIZBANK_ADMIN_PASSWORD)")
	f.Int("batch-size", importer.DefaultBatchSize, "Questions written per batch during import")
	f.Int("dedup-window", importer.DefaultSnapshotSize, "Recent questions compared against for duplicate detection")
	f.Int("fuzzy-max-distance", importer.DefaultFuzzyMaxDistance, "Maximum edit distance for fuzzy topic matching")
	f.Int("import-workers", 2, "Concurrent background import workers")
	f.Int("queue-size", 16, "Pending import queue capacity")
	f.String("progress-backend", "memory", "Progress tracker backend (memory, redis)")
	f.String("redis-addr", "localhost:6379", "Redis address for the redis progress backend")
	f.Int("rate-limit", 5, "Max uploads per admin per window")
	f.Duration("rate-window", time.Hour, "Upload rate limit window")
	f.Int64("max-upload-bytes", 10<<20, "Maximum CSV upload size in bytes")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.StringP("lang", "l", "en", "Response language (en, ru)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import a question CSV directly, without the HTTP server",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.String("db", "quizbank.db", "SQLite database path")
	f.Int("batch-size", importer.DefaultBatchSize, "Questions written per batch during import")
	f.Int("dedup-window", importer.DefaultSnapshotSize, "Recent questions compared against for duplicate detection")
	f.Int("fuzzy-max-distance", importer.DefaultFuzzyMaxDistance, "Maximum edit distance for fuzzy topic matching")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
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

	v.SetEnvPrefix("QUIZBANK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("quizbank")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/quizbank")
	v.AddConfigPath("/etc/quizbank")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func newTracker(v *viper.Viper) (importer.ProgressTracker, func(), error) {
	switch strings.ToLower(v.GetString("progress-backend")) {
	case "redis":
		rt, err := importer.NewRedisTracker(v.GetString("redis-addr"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		slog.Info("using redis progress backend", "addr", v.GetString("redis-addr"))
		return rt, func() { _ = rt.Close() }, nil
	case "memory":
		return importer.NewMemoryTracker(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown progress backend %q", v.GetString("progress-backend"))
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	// Open database.
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if n, err := db.QuestionCount(); err == nil {
		slog.Info("question bank loaded", "questions", n)
	}

	// Initialize i18n.
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	tracker, closeTracker, err := newTracker(v)
	if err != nil {
		return err
	}
	defer closeTracker()

	orch := importer.New(db, tracker, importer.Options{
		BatchSize:        v.GetInt("batch-size"),
		SnapshotSize:     v.GetInt("dedup-window"),
		FuzzyMaxDistance: v.GetInt("fuzzy-max-distance"),
	})

	queue := jobs.NewQueue(v.GetInt("import-workers"), v.GetInt("queue-size"))
	defer queue.Close()

	limiter := ratelimit.NewSlidingWindow(v.GetInt("rate-limit"), v.GetDuration("rate-window"))

	// Create LLM client for question generation. The server still runs when
	// the endpoint is down; generation requests fail individually.
	llmClient := llm.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
	)
	if err := llmClient.Ping(context.Background()); err != nil {
		slog.Warn("LLM endpoint unavailable, question generation disabled until it recovers",
			"url", v.GetString("llm-url"), "error", err)
	} else {
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	}

	h := handler.New(db, orch, queue, limiter, llmClient, handler.Config{
		SecureCookies:  v.GetBool("secure-cookies"),
		MaxUploadBytes: v.GetInt64("max-upload-bytes"),
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"db", v.GetString("db"),
		"batch_size", v.GetInt("batch-size"),
		"dedup_window", v.GetInt("dedup-window"),
		"import_workers", v.GetInt("import-workers"),
		"progress_backend", v.GetString("progress-backend"),
		"lang", lang,
	)
	return http.ListenAndServe(addr, r)
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	orch := importer.New(db, importer.NewMemoryTracker(), importer.Options{
		BatchSize:        v.GetInt("batch-size"),
		SnapshotSize:     v.GetInt("dedup-window"),
		FuzzyMaxDistance: v.GetInt("fuzzy-max-distance"),
	})

	summary := orch.ExecuteImport(context.Background(), importer.NewImportID(), data, path, 0, nil)

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	fmt.Println(string(out))

	if summary.Status != model.ImportCompleted {
		return fmt.Errorf("import %s: %s", summary.Status, summary.Message)
	}
	return nil
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or QUIZBANK_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
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
