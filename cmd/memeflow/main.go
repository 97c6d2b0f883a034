// Memeflow entrypoint.
//
// Usage:
//
//	memeflow serve                       # start the HTTP service
//	memeflow serve --config config.yaml  # with a config file
//	memeflow evaluate                    # run the offline evaluation suite
//	memeflow version                     # show version information
//	memeflow health                      # probe a running server
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/memeflow/audit"
	"github.com/BaSui01/memeflow/config"
	"github.com/BaSui01/memeflow/evaluation"
	"github.com/BaSui01/memeflow/feedback"
	"github.com/BaSui01/memeflow/internal/database"
	"github.com/BaSui01/memeflow/internal/metrics"
	"github.com/BaSui01/memeflow/internal/server"
	"github.com/BaSui01/memeflow/llm/generation"
	"github.com/BaSui01/memeflow/llm/moderation"
	"github.com/BaSui01/memeflow/pipeline"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "evaluate":
		runEvaluate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath, config.RequireCredentials)

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting memeflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}

	auditLog, err := audit.NewSQLiteLog(db)
	if err != nil {
		logger.Fatal("failed to initialize audit log", zap.Error(err))
	}
	store, err := feedback.NewSQLiteStore(db, auditLog)
	if err != nil {
		logger.Fatal("failed to initialize feedback store", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector("memeflow", registry, logger)

	p := pipeline.New(
		generation.NewOpenAIProvider(cfg.Generation),
		moderation.NewContentSafetyProvider(cfg.Moderation),
		auditLog,
		pipeline.Options{
			Retry:   cfg.Retry.ToPolicy(),
			Policy:  cfg.Policy,
			Metrics: collector,
		},
		logger,
	)

	handler := server.NewHandler(p, store, collector, cfg.Server, logger)
	manager := server.NewManager(handler.Routes(registry), cfg.Server, logger)

	if err := manager.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	manager.WaitForShutdown()
	logger.Info("memeflow stopped")
}

func runEvaluate(args []string) {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	concurrency := fs.Int("concurrency", 2, "Parallel evaluation cases")
	timeout := fs.Duration("timeout", 10*time.Minute, "Overall run timeout")
	fs.Parse(args)

	cfg := loadConfig(*configPath, config.RequireCredentials)

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	auditLog, err := audit.NewSQLiteLog(db)
	if err != nil {
		logger.Fatal("failed to initialize audit log", zap.Error(err))
	}
	store, err := feedback.NewSQLiteStore(db, auditLog)
	if err != nil {
		logger.Fatal("failed to initialize feedback store", zap.Error(err))
	}

	p := pipeline.New(
		generation.NewOpenAIProvider(cfg.Generation),
		moderation.NewContentSafetyProvider(cfg.Moderation),
		auditLog,
		pipeline.Options{
			Retry:  cfg.Retry.ToPolicy(),
			Policy: cfg.Policy,
		},
		logger,
	)

	runner := evaluation.NewRunner(p, store, *concurrency, logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report, err := runner.Run(ctx)
	if err != nil {
		logger.Fatal("evaluation run failed", zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logger.Fatal("failed to encode report", zap.Error(err))
	}
}

func loadConfig(path string, validators ...func(*config.Config) error) *config.Config {
	loader := config.NewLoader().WithValidator(config.ValidateRanges)
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	for _, v := range validators {
		loader = loader.WithValidator(v)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("Memeflow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`Memeflow - workplace meme generation service

Usage:
  memeflow <command> [options]

Commands:
  serve     Start the memeflow server
  evaluate  Run the offline evaluation suite
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'evaluate':
  --config <path>        Path to configuration file (YAML)
  --concurrency <n>      Parallel evaluation cases (default 2)
  --timeout <duration>   Overall run timeout (default 10m)`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}

	return logger
}
