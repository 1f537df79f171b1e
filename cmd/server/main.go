package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/malbeclabs/askdb/pkg/agent"
	"github.com/malbeclabs/askdb/pkg/llm"
	"github.com/malbeclabs/askdb/pkg/querier"
	"github.com/malbeclabs/askdb/pkg/schema"
	"github.com/malbeclabs/askdb/pkg/server"
	"github.com/malbeclabs/askdb/pkg/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultPort        = "8000"
	defaultMetricsAddr = ":9090"
	defaultProvider    = "openai"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.ShowVersion {
		fmt.Printf("version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}

	log := newLogger(cfg.Verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	desc, err := loadSchema(cfg.SchemaFile)
	if err != nil {
		return err
	}
	schemaText := desc.Describe()
	log.Info("schema loaded", "tables", len(desc.Tables), "source", cmp.Or(cfg.SchemaFile, "embedded"))

	llmClient, err := newLLMClient(log, cfg)
	if err != nil {
		return err
	}

	pool, err := querier.Connect(ctx, log, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	q, err := querier.New(querier.Config{
		Logger:       log,
		DB:           pool,
		QueryTimeout: cfg.QueryTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create querier: %w", err)
	}

	prompts, err := agent.LoadPrompts(schemaText)
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}
	gateway, err := agent.NewGateway(agent.GatewayConfig{
		Logger:  log,
		LLM:     llmClient,
		Prompts: prompts,
		Timeout: cfg.LLMTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	engine, err := agent.New(agent.Config{
		Logger:              log,
		Gateway:             gateway,
		Executor:            q,
		ConfidenceThreshold: agent.Threshold(cfg.ConfidenceThreshold),
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	srv, err := server.New(log, server.Config{
		Engine:         engine,
		Store:          q,
		Schema:         desc,
		APIKey:         cfg.APIKey,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	listener, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("failed to listen tcp: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx, listener)
	})

	// Start prometheus metrics server
	if cfg.MetricsAddr != "" {
		server.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		metricsListener, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			return fmt.Errorf("failed to start prometheus metrics server listener: %w", err)
		}
		log.Info("prometheus metrics server listening", "address", metricsListener.Addr().String())
		mux := http.NewServeMux()
		mux.Handle(types.MetricsPath, promhttp.Handler())
		metricsSrv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			<-ctx.Done()
			return metricsSrv.Close()
		})
		g.Go(func() error {
			if err := metricsSrv.Serve(metricsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("prometheus metrics server: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	log.Info("server stopped")
	return err
}

func loadSchema(path string) (*schema.Descriptor, error) {
	if path == "" {
		desc, err := schema.Default()
		if err != nil {
			return nil, fmt.Errorf("failed to load embedded schema: %w", err)
		}
		return desc, nil
	}
	desc, err := schema.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema file: %w", err)
	}
	return desc, nil
}

func newLLMClient(log *slog.Logger, cfg Config) (llm.Client, error) {
	switch cfg.LLMProvider {
	case "anthropic":
		client, err := llm.NewAnthropicClient(log, llm.Config{
			APIKey: cfg.AnthropicAPIKey,
			Model:  cfg.AnthropicModel,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic client (set ANTHROPIC_API_KEY): %w", err)
		}
		log.Info("using anthropic", "model", cmp.Or(cfg.AnthropicModel, llm.DefaultAnthropicModel))
		return client, nil
	case "openai":
		client, err := llm.NewOpenAIClient(log, llm.Config{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client (set OPENAI_API_KEY or NEBIUS_API_KEY): %w", err)
		}
		log.Info("using openai-compatible endpoint", "model", cfg.OpenAIModel, "baseURL", cfg.OpenAIBaseURL)
		return client, nil
	}
	return nil, fmt.Errorf("unknown llm provider %q (want openai or anthropic)", cfg.LLMProvider)
}

type Config struct {
	ShowVersion bool
	Verbose     bool
	MetricsAddr string

	Port           string
	DatabaseURL    string
	APIKey         string
	AllowedOrigins []string
	SchemaFile     string

	LLMProvider     string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	AnthropicAPIKey string
	AnthropicModel  string

	ConfidenceThreshold float64
	LLMTimeout          time.Duration
	QueryTimeout        time.Duration
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvFloat(key string, def float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return f, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return d, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func loadConfig() (Config, error) {
	var cfg Config
	var originsCSV string

	threshold, err := getenvFloat("CONFIDENCE_THRESHOLD", agent.DefaultConfidenceThreshold)
	if err != nil {
		return Config{}, err
	}
	llmTimeout, err := getenvDuration("LLM_TIMEOUT", 60*time.Second)
	if err != nil {
		return Config{}, err
	}
	queryTimeout, err := getenvDuration("QUERY_TIMEOUT", 15*time.Second)
	if err != nil {
		return Config{}, err
	}

	flag.BoolVar(&cfg.ShowVersion, "version", false, "show version and exit")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "verbose mode - show debug logs")

	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", getenv("METRICS_ADDR", defaultMetricsAddr), "address to listen on for prometheus metrics (env: METRICS_ADDR)")
	flag.StringVar(&cfg.Port, "port", getenv("PORT", defaultPort), "http listen port (env: PORT)")
	flag.StringVar(&cfg.DatabaseURL, "database-url", getenv("DATABASE_URL", ""), "postgres connection string (env: DATABASE_URL)")
	flag.StringVar(&cfg.APIKey, "api-key", getenv("API_KEY", getenv("VERY_SECRET_API_KEY", "")), "api key required on /api and /ws; empty disables auth (env: API_KEY)")
	flag.StringVar(&originsCSV, "cors-allowed-origins", getenv("CORS_ALLOWED_ORIGINS", "*"), "allowed origins csv (env: CORS_ALLOWED_ORIGINS)")
	flag.StringVar(&cfg.SchemaFile, "schema-file", getenv("SCHEMA_FILE", ""), "schema yaml file; empty uses the embedded schema (env: SCHEMA_FILE)")

	flag.StringVar(&cfg.LLMProvider, "llm-provider", getenv("LLM_PROVIDER", defaultProvider), "llm provider: openai or anthropic (env: LLM_PROVIDER)")
	flag.StringVar(&cfg.OpenAIBaseURL, "openai-base-url", getenv("OPENAI_BASE_URL", llm.DefaultOpenAIBaseURL), "openai-compatible base url (env: OPENAI_BASE_URL)")
	flag.StringVar(&cfg.OpenAIModel, "openai-model", getenv("OPENAI_MODEL", llm.DefaultOpenAIModel), "openai-compatible model (env: OPENAI_MODEL)")
	flag.StringVar(&cfg.AnthropicModel, "anthropic-model", getenv("ANTHROPIC_MODEL", ""), "anthropic model (env: ANTHROPIC_MODEL)")

	flag.Float64Var(&cfg.ConfidenceThreshold, "confidence-threshold", threshold, "minimum analysis confidence before generating sql (env: CONFIDENCE_THRESHOLD)")
	flag.DurationVar(&cfg.LLMTimeout, "llm-timeout", llmTimeout, "timeout per model call (env: LLM_TIMEOUT)")
	flag.DurationVar(&cfg.QueryTimeout, "query-timeout", queryTimeout, "timeout per sql query (env: QUERY_TIMEOUT)")

	flag.Parse()

	if cfg.ShowVersion {
		return cfg, nil
	}

	// Secrets come from the environment only.
	cfg.OpenAIAPIKey = getenv("OPENAI_API_KEY", getenv("NEBIUS_API_KEY", ""))
	cfg.AnthropicAPIKey = getenv("ANTHROPIC_API_KEY", "")
	cfg.AllowedOrigins = splitCSV(originsCSV)

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("database url is empty (set DATABASE_URL or --database-url)")
	}

	return cfg, nil
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				t := a.Value.Time().UTC()
				a.Value = slog.StringValue(formatRFC3339Millis(t))
			}
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}
