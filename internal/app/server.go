package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mentora-ai/mentora/internal/apikey"
	"github.com/mentora-ai/mentora/internal/events"
	"github.com/mentora-ai/mentora/internal/health"
	"github.com/mentora-ai/mentora/internal/httpapi"
	"github.com/mentora-ai/mentora/internal/logging"
	"github.com/mentora-ai/mentora/internal/metrics"
	"github.com/mentora-ai/mentora/internal/provider"
	"github.com/mentora-ai/mentora/internal/provider/factory"
	"github.com/mentora-ai/mentora/internal/ratelimit"
	"github.com/mentora-ai/mentora/internal/routing"
	"github.com/mentora-ai/mentora/internal/stats"
	"github.com/mentora-ai/mentora/internal/store"
	"github.com/mentora-ai/mentora/internal/tracing"
	"github.com/mentora-ai/mentora/internal/vault"
)

type Server struct {
	cfg Config

	r *chi.Mux

	store   store.Store
	router  *routing.Router
	limiter *ratelimit.Limiter
	logger  *slog.Logger

	tracingShutdown func(context.Context) error
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	tracingShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: "mentora",
	})
	if err != nil {
		return nil, fmt.Errorf("tracing setup: %w", err)
	}

	v, err := vault.New(cfg.VaultSecret)
	if err != nil {
		return nil, err
	}

	db, err := store.NewSQLite(cfg.DBDSN, v)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("database initialized", slog.String("dsn", cfg.DBDSN))

	if err := seedProvidersFromEnv(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	m := metrics.New()
	bus := events.NewBus()
	collector := stats.NewCollector()
	seedStats(context.Background(), db, collector)

	fac := factory.New(
		factory.WithTransport(tracing.HTTPTransport(nil)),
		factory.WithLogger(logger),
	)

	monitor := health.NewMonitor(fac,
		health.WithLogger(logger),
		health.WithEventBus(bus),
	)

	rt := routing.New(fac, monitor, db,
		routing.WithLogger(logger),
		routing.WithMetrics(m),
		routing.WithStats(collector),
		routing.WithEventBus(bus),
	)
	if err := rt.Init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	corsOrigins := cfg.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Second,
		ratelimit.WithCounter(m.HTTPRateLimited))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(tracing.Middleware())
	r.Use(limiter.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var keyMgr *apikey.Manager
	if cfg.APIKeyAuth {
		keyMgr = apikey.NewManager(db)
	}

	httpapi.MountRoutes(r, httpapi.Dependencies{
		Router:      rt,
		Monitor:     monitor,
		Store:       db,
		Metrics:     m,
		Stats:       collector,
		EventBus:    bus,
		Invalidator: fac,
		APIKeyMgr:   keyMgr,
		AdminToken:  cfg.AdminToken,
	})

	return &Server{
		cfg:             cfg,
		r:               r,
		store:           db,
		router:          rt,
		limiter:         limiter,
		logger:          logger,
		tracingShutdown: tracingShutdown,
	}, nil
}

func (s *Server) Router() http.Handler { return s.r }

// Reload applies settings that can change without a restart.
func (s *Server) Reload(cfg Config) {
	logging.SetLevel(cfg.LogLevel)
	s.logger.Info("configuration reloaded", slog.String("log_level", cfg.LogLevel))
}

func (s *Server) Close() error {
	s.router.Close()
	s.limiter.Stop()
	if s.tracingShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.tracingShutdown(ctx)
	}
	return s.store.Close()
}

// envSeed maps an environment variable to a default provider record. Seeding
// only runs against an empty providers table; after that the admin API owns
// the configuration.
type envSeed struct {
	envKey   string
	name     string
	ptype    provider.Type
	priority int
	models   []string
}

var envSeeds = []envSeed{
	{"MENTORA_OPENAI_API_KEY", "OpenAI", provider.TypeOpenAI, 1, []string{"gpt-4o", "gpt-4o-mini"}},
	{"MENTORA_ANTHROPIC_API_KEY", "Anthropic", provider.TypeAnthropic, 2, []string{"claude-sonnet-4-20250514"}},
	{"MENTORA_GOOGLE_API_KEY", "Google", provider.TypeGoogle, 3, []string{"gemini-2.0-flash"}},
	{"MENTORA_GROQ_API_KEY", "Groq", provider.TypeGroq, 4, []string{"llama-3.3-70b-versatile"}},
	{"MENTORA_MISTRAL_API_KEY", "Mistral", provider.TypeMistral, 5, []string{"mistral-large-latest"}},
	{"MENTORA_PERPLEXITY_API_KEY", "Perplexity", provider.TypePerplexity, 6, []string{"sonar"}},
}

func seedProvidersFromEnv(ctx context.Context, db store.Store, logger *slog.Logger) error {
	existing, err := db.ListProviders(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	for _, seed := range envSeeds {
		key := os.Getenv(seed.envKey)
		if key == "" {
			continue
		}
		cfg := provider.Config{
			Name:        seed.name,
			Type:        seed.ptype,
			Enabled:     true,
			Priority:    seed.priority,
			Models:      seed.models,
			Credentials: provider.Credentials{APIKey: key},
		}
		if err := db.UpsertProvider(ctx, cfg); err != nil {
			return err
		}
		logger.Info("seeded provider", slog.String("provider", seed.name))
	}

	if baseURL := os.Getenv("MENTORA_OLLAMA_BASE_URL"); baseURL != "" {
		cfg := provider.Config{
			Name:        "Ollama",
			Type:        provider.TypeOllama,
			Enabled:     true,
			Priority:    10,
			Models:      getEnvStringSlice("MENTORA_OLLAMA_MODELS", []string{"llama3.2"}),
			Credentials: provider.Credentials{BaseURL: baseURL},
		}
		if err := db.UpsertProvider(ctx, cfg); err != nil {
			return err
		}
		logger.Info("seeded provider", slog.String("provider", "Ollama"))
	}

	return nil
}

// seedStats backfills the in-memory stats collector from recent request logs
// so dashboards are not blank after a restart. Best effort.
func seedStats(ctx context.Context, db store.Store, c *stats.Collector) {
	entries, err := db.ListRequestLogs(ctx, 1000, 0)
	if err != nil {
		return
	}
	snapshots := make([]stats.Snapshot, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- { // oldest first
		e := entries[i]
		snapshots = append(snapshots, stats.Snapshot{
			Timestamp:        e.Timestamp,
			ProviderID:       e.ProviderID,
			Model:            e.Model,
			LatencyMs:        float64(e.LatencyMs),
			CostUSD:          e.CostUSD,
			Success:          e.Success,
			PromptTokens:     e.PromptTokens,
			CompletionTokens: e.CompletionTokens,
			Category:         e.ErrorCategory,
		})
	}
	c.Seed(snapshots)
}
