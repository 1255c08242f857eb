package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/finquery/finquery/db"
	"github.com/finquery/finquery/internal/agent"
	"github.com/finquery/finquery/internal/cache"
	"github.com/finquery/finquery/internal/chat"
	"github.com/finquery/finquery/internal/config"
	"github.com/finquery/finquery/internal/market"
	"github.com/finquery/finquery/internal/observability"
	"github.com/finquery/finquery/internal/prompt"
	"github.com/finquery/finquery/internal/session"
	"github.com/finquery/finquery/internal/websearch"
)

// Setup creates and initializes the application.
// On error, everything already initialized is cleaned up.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	a := &App{Config: cfg}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				slog.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideTraceShutdown(ctx, cfg)

	mkt, err := provideMarket(cfg)
	if err != nil {
		return nil, err
	}
	a.Market = mkt

	a.Search = provideSearch(cfg)
	a.Sessions = provideSessions(cfg)
	a.Cache = provideCache(cfg)

	pool, dbCleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool
	a.dbCleanup = dbCleanup

	prompts, err := providePrompts(ctx, pool)
	if err != nil {
		return nil, err
	}
	a.Prompts = prompts

	g, err := provideGenkit(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	if cfg.AI.Enabled {
		ag, err := provideAgent(g, cfg, a.Market, a.Search, prompts)
		if err != nil {
			return nil, err
		}
		a.Agent = ag
	}

	svc, err := provideChat(cfg, a)
	if err != nil {
		return nil, err
	}
	a.Chat = svc
	a.Flow = chat.NewFlow(g, svc)

	janitorCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	startJanitors(janitorCtx, a)

	return a, nil
}

// provideTraceShutdown wires the OTLP span exporter when tracing is
// enabled. Must run before provideGenkit so the processor is registered
// before the first span.
func provideTraceShutdown(ctx context.Context, cfg *config.Config) func() {
	if !cfg.Trace.Enabled {
		return func() {}
	}

	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.Trace.Endpoint,
		Service:     cfg.Trace.Service,
		Environment: cfg.Trace.Environment,
	})
	if err != nil {
		slog.Warn("setting up trace export, tracing disabled", "error", err)
		return func() {}
	}

	//nolint:contextcheck // Independent context: shutdown runs during teardown when the parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideMarket creates the market data gateway client. It does not dial;
// the first query establishes the MCP session.
func provideMarket(cfg *config.Config) (*market.Client, error) {
	client, err := market.NewClient(market.Config{
		ServerURL: cfg.MCP.ServerURL,
		Timeout:   cfg.MCP.Timeout,
		Logger:    slog.Default().With("component", "market"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating market client: %w", err)
	}
	return client, nil
}

// provideSearch returns nil when web search is disabled; downstream
// consumers treat a nil client as "no search tool".
func provideSearch(cfg *config.Config) *websearch.Client {
	if !cfg.Search.Enabled {
		return nil
	}
	return websearch.New(websearch.Config{
		Endpoint:   cfg.Search.Endpoint,
		MaxResults: cfg.Search.MaxResults,
		Timeout:    cfg.Search.Timeout,
		Logger:     slog.Default().With("component", "websearch"),
	})
}

func provideSessions(cfg *config.Config) *session.Store {
	return session.New(session.Config{
		Timeout:      cfg.Session.Timeout,
		HistoryLimit: cfg.Session.HistoryLimit,
		RateLimit:    cfg.RateLimit.Requests,
		RateWindow:   cfg.RateLimit.Window,
	})
}

func provideCache(cfg *config.Config) *cache.Store {
	return cache.New(cache.Config{
		PriceTTL: cfg.Cache.PriceTTL,
		SlowTTL:  cfg.Cache.SlowTTL,
	})
}

// provideDBPool creates the prompt-store connection pool and runs the
// embedded migrations. An empty database URL means the in-memory prompt
// store will be used, so no pool is created.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if cfg.Database.URL == "" {
		return nil, nil, nil
	}

	if err := db.Migrate(cfg.Database.URL, slog.Default()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing database URL: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}

// providePrompts selects the prompt store: Postgres when a pool exists,
// in-memory otherwise. Both seed the default prompt as active on first use.
func providePrompts(ctx context.Context, pool *pgxpool.Pool) (prompt.Store, error) {
	if pool == nil {
		slog.Info("using in-memory prompt store")
		return prompt.NewMemory(), nil
	}
	store, err := prompt.NewPostgres(ctx, pool, slog.Default().With("component", "prompt"))
	if err != nil {
		return nil, fmt.Errorf("creating prompt store: %w", err)
	}
	return store, nil
}

// provideGenkit initializes Genkit. With the agent disabled it still
// initializes, because the chat flow is registered on it; only the model
// provider plugins are conditional. Supports gemini (default), openai and
// ollama providers.
func provideGenkit(ctx context.Context, cfg *config.Config) (*genkit.Genkit, error) {
	if !cfg.AI.Enabled {
		g := genkit.Init(ctx)
		if g == nil {
			return nil, errors.New("initializing genkit")
		}
		return g, nil
	}

	var g *genkit.Genkit

	switch cfg.AI.Provider {
	case config.ProviderOllama:
		plugin := &ollama.Ollama{ServerAddress: cfg.AI.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(plugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery)
		plugin.DefineModel(g, ollama.ModelDefinition{Name: cfg.AI.Model, Type: "chat"}, nil)
		if fb := cfg.AI.FallbackModel; fb != "" && fb != cfg.AI.Model {
			plugin.DefineModel(g, ollama.ModelDefinition{Name: fb, Type: "chat"}, nil)
		}
		slog.Info("initialized genkit with ollama provider",
			"model", cfg.AI.Model, "host", cfg.AI.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		slog.Info("initialized genkit with openai provider", "model", cfg.AI.Model)

	default: // "gemini"
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		slog.Info("initialized genkit with gemini provider", "model", cfg.AI.Model)
	}

	return g, nil
}

// provideAgent registers the market and web tools with Genkit and builds
// the tool-calling agent around them.
func provideAgent(g *genkit.Genkit, cfg *config.Config, mkt *market.Client, search *websearch.Client, prompts prompt.Store) (*agent.Agent, error) {
	logger := slog.Default().With("component", "agent")

	var (
		ts  *agent.Toolset
		err error
	)
	if search != nil {
		ts, err = agent.NewToolset(mkt, search, logger)
	} else {
		ts, err = agent.NewToolset(mkt, nil, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("creating toolset: %w", err)
	}

	tools, err := agent.RegisterTools(g, ts)
	if err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	var limiter *rate.Limiter
	if rpm := cfg.AI.RequestsPerMinute; rpm > 0 {
		// Sustained pacing at the per-minute quota; the full quota may
		// arrive as one burst, matching how providers meter by minute.
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)
	}

	ag, err := agent.New(agent.Config{
		Genkit:        g,
		Prompts:       prompts,
		Logger:        logger,
		PrimaryModel:  cfg.FullModelName(),
		FallbackModel: cfg.FullFallbackModelName(),
		MaxTurns:      cfg.AI.MaxTurns,
		Tools:         tools,
		Limiter:       limiter,
	})
	if err != nil {
		return nil, fmt.Errorf("creating agent: %w", err)
	}
	return ag, nil
}

// provideChat builds the router (agent when tool-calling mode is on,
// manual otherwise) and the chat service on top of it.
func provideChat(cfg *config.Config, a *App) (*chat.Service, error) {
	logger := slog.Default().With("component", "chat")

	var router chat.Router
	if a.Agent != nil {
		router = chat.NewAgentRouter(a.Agent, logger)
	} else {
		mc := chat.ManualConfig{
			Cache:  a.Cache,
			Market: a.Market,
			Logger: logger,
		}
		if a.Search != nil {
			mc.Search = a.Search
		}
		mr, err := chat.NewManualRouter(mc)
		if err != nil {
			return nil, fmt.Errorf("creating manual router: %w", err)
		}
		router = mr
	}

	svc, err := chat.New(chat.Config{
		Sessions:       a.Sessions,
		Router:         router,
		Logger:         logger,
		MaxQueryLength: cfg.Query.MaxLength,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat service: %w", err)
	}
	return svc, nil
}

// startJanitors launches the expiry sweepers. A zero interval disables the
// corresponding janitor; Close cancels their context and waits for both.
func startJanitors(ctx context.Context, a *App) {
	if every := a.Config.Session.CleanupInterval; every > 0 {
		a.janitors.Add(1)
		go func() {
			defer a.janitors.Done()
			a.Sessions.Janitor(ctx, every)
		}()
	}
	if every := a.Config.Cache.CleanupInterval; every > 0 {
		a.janitors.Add(1)
		go func() {
			defer a.janitors.Done()
			a.Cache.Janitor(ctx, every)
		}()
	}
}
