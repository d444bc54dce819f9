// Package cli implements the persona-memory CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/persona-memory/internal/config"
	"github.com/rcliao/persona-memory/internal/embedding"
	"github.com/rcliao/persona-memory/internal/logger"
	"github.com/rcliao/persona-memory/internal/memory"
	"github.com/rcliao/persona-memory/internal/metrics"
	"github.com/rcliao/persona-memory/internal/store"
)

var (
	dbPath     string
	configPath string
	logLevel   string
	pretty     bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "persona-memory",
	Short: "Tiered long-term memory for conversational personas",
	Long: "Stores what a persona has seen, recalls it by meaning, keywords and recency, " +
		"and consolidates it from working memory into long-term memory over time. SQLite-backed, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: store.path or ~/.persona-memory/memory.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ~/.persona-memory/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	RootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "Human-readable logs on stderr")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if pretty {
		cfg.Logging.Pretty = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// app holds everything a command needs for one invocation.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	store    store.Store
	embedder embedding.Embedder
	metrics  *metrics.Metrics
	svc      *memory.Service
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: true,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		lg.Close()
		return nil, err
	}

	emb, err := embedding.New(embeddingConfig(cfg))
	if err != nil {
		st.Close()
		lg.Close()
		return nil, fmt.Errorf("init embedder: %w", err)
	}

	m := metrics.NewMetrics()
	svc, err := memory.NewService(st, emb, memoryOptions(cfg), lg.Zerolog(), m)
	if err != nil {
		st.Close()
		lg.Close()
		return nil, err
	}

	return &app{cfg: cfg, log: lg, store: st, embedder: emb, metrics: m, svc: svc}, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemStore(), nil
	default:
		s, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return s, nil
	}
}

// drain waits for queued embeddings so the process can exit with every
// fragment either embedded or degraded.
func (a *app) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Embedding.Timeout+5*time.Second)
	defer cancel()
	if err := a.svc.Close(ctx); err != nil {
		log := a.log.With("cli")
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
}

func (a *app) close() {
	a.drain()
	if c, ok := a.embedder.(*embedding.CachedEmbedder); ok {
		c.Close()
	}
	a.store.Close()
	a.log.Close()
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		exitErr("encode output", err)
	}
	fmt.Println(string(b))
}

func parseTime(flag, s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		exitErr(flag, fmt.Errorf("expected RFC3339 time: %w", err))
	}
	return t
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
