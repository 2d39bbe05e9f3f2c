package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/evahq/evamem/pkg/config"
	"github.com/evahq/evamem/pkg/dispatch"
	"github.com/evahq/evamem/pkg/memory"
	"github.com/evahq/evamem/pkg/metrics"
	"github.com/evahq/evamem/pkg/summarizer"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "evamem"

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	fmt.Printf("  Go: %s\n", goVer)
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".evamem", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if cfg.Log.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}

// app bundles everything a CLI command needs. Close releases the service
// worker and the store, in that order.
type app struct {
	cfg      *config.Config
	store    memory.Store
	svc      *memory.Service
	disp     *dispatch.Dispatcher
	registry *prometheus.Registry
	log      zerolog.Logger
}

func (a *app) Close() {
	a.svc.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close store")
	}
}

// newApp wires config, store, summarizer, service and dispatcher. Commands
// that never compress (memory CRUD, context inspection) pass
// requireSummarizer=false and run without provider credentials.
func newApp(requireSummarizer bool, withSweeper bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg)

	var summ memory.Summarizer
	if requireSummarizer {
		if strings.TrimSpace(cfg.Summarizer.APIKey) == "" {
			return nil, fmt.Errorf("summarizer.api_key is required in %s or EVAMEM_SUMMARIZER_API_KEY", getConfigPath())
		}
		summ, err = summarizer.New(summarizer.Options{
			APIKey:    cfg.Summarizer.APIKey,
			BaseURL:   cfg.Summarizer.APIBase,
			Model:     cfg.Summarizer.Model,
			MaxTokens: cfg.Summarizer.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("create summarizer: %w", err)
		}
	}

	store, err := memory.NewSQLiteStore(cfg.StorePath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	registry := prometheus.NewRegistry()
	met := metrics.New(registry)
	svcCfg := memory.ServiceConfig{
		Capacity:     cfg.Memory.Capacity,
		TTL:          cfg.TTL(),
		BatchSize:    cfg.Memory.BatchSize,
		CallTimeout:  cfg.CallTimeout(),
		MaxAttempts:  cfg.Memory.MaxAttempts,
		BaseDelay:    cfg.BaseDelay(),
		ContextFacts: cfg.Context.Facts,
		ContextTurns: cfg.Context.Turns,
		SizeBudget:   cfg.Context.SizeBudget,
	}
	if withSweeper {
		svcCfg.SweepInterval = cfg.SweepInterval()
		svcCfg.SweepSchedule = cfg.Sweep.Schedule
	}

	svc := memory.NewService(svcCfg, store, summ, met, log)
	return &app{
		cfg:      cfg,
		store:    store,
		svc:      svc,
		disp:     dispatch.New(svc, log),
		registry: registry,
		log:      log,
	}, nil
}
