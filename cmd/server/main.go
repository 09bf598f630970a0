package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/aulamcp/aula-mcp-server/internal/config"
	"github.com/aulamcp/aula-mcp-server/internal/database"
	"github.com/aulamcp/aula-mcp-server/internal/handler"
	"github.com/aulamcp/aula-mcp-server/internal/jobs"
	"github.com/aulamcp/aula-mcp-server/internal/middleware"
	"github.com/aulamcp/aula-mcp-server/internal/portal"
	"github.com/aulamcp/aula-mcp-server/internal/redis"
	"github.com/aulamcp/aula-mcp-server/internal/repository"
	"github.com/aulamcp/aula-mcp-server/internal/service"
	"github.com/aulamcp/aula-mcp-server/internal/sessionstore"
	"github.com/aulamcp/aula-mcp-server/internal/util"
)

var version = "dev"

type flags struct {
	transport   string
	port        int
	credentials string
	debug       bool
}

func parseFlags() flags {
	var f flags
	pflag.StringVar(&f.transport, "transport", "", "MCP transport: stdio or http (overrides TRANSPORT)")
	pflag.IntVar(&f.port, "port", 0, "HTTP listen port (overrides PORT)")
	pflag.StringVar(&f.credentials, "credentials", "", "YAML or JSON credentials file (overrides AULA_CREDENTIALS_FILE)")
	pflag.BoolVar(&f.debug, "debug", false, "enable debug logging")
	pflag.Parse()
	return f
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// stdout carries the stdio transport.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	f := parseFlags()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := applyFlags(cfg, f); err != nil {
		log.Fatal().Err(err).Msg("failed to load credentials file")
	}

	setLogLevel(cfg.LogLevel)
	if f.debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openSessionStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.SessionStore).Msg("failed to open session store")
	}
	defer closeStore()

	client := portal.NewClient(portal.Config{
		Username:           cfg.Username,
		Password:           cfg.Password,
		LoginURL:           cfg.LoginURL,
		APIBase:            cfg.APIBase,
		APIVersion:         cfg.APIVersion,
		LandingURL:         cfg.LandingURL,
		MaxRedirects:       cfg.MaxRedirects,
		MaxVersionAttempts: cfg.MaxVersionAttempts,
		HTTPTimeout:        cfg.HTTPTimeout(),
		SessionMaxAge:      cfg.SessionMaxAge(),
		TokenFreshness:     config.TokenFreshness,
		Actor:              cfg.LoginActor,
		CredentialFields:   cfg.LoginFieldAllow,
	}, store)

	if client.Restore(ctx) {
		log.Info().Msg("restored cached portal session")
	} else {
		log.Info().Msg("no usable cached session, logging in on first use")
	}

	calendar := service.NewCalendarService(client)
	aggregator := service.NewAggregator(client, calendar,
		service.WithSummaryTTL(config.SummaryTTL),
		service.WithCalendarDays(cfg.CalendarDays),
	)

	opts := handler.ToolOptions{
		Account:      cfg.Username,
		CalendarDays: cfg.CalendarDays,
	}
	if cfg.FeatureUgeplan {
		opts.WeeklyPlan = service.NewWeeklyPlanService(client, service.WeeklyPlanConfig{
			BaseURL:     cfg.MinUddannelseAPI,
			Guardian:    cfg.Username,
			MockTokens:  cfg.MockTokens,
			HTTPTimeout: cfg.HTTPTimeout(),
		})
	}
	server := handler.NewMCPServer(version, handler.NewToolHandler(client, aggregator, calendar, opts))

	if cfg.RefreshInterval() > 0 {
		refreshJob := jobs.NewRefreshJob(aggregator, cfg.RefreshInterval(), config.RefreshJobTimeout)
		refreshJob.Start()
		defer refreshJob.Stop()
	}

	switch cfg.Transport {
	case config.TransportHTTP:
		serveHTTP(ctx, cfg, client, server)
	default:
		log.Info().Str("version", version).Msg("serving MCP over stdio")
		if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("stdio transport stopped")
		}
	}

	log.Info().Msg("server stopped")
}

func applyFlags(cfg *config.Config, f flags) error {
	if f.transport != "" {
		cfg.Transport = f.transport
	}
	if f.port > 0 {
		cfg.Port = f.port
	}
	if f.credentials != "" {
		return cfg.LoadCredentialsFile(f.credentials)
	}
	return nil
}

// openSessionStore builds the configured backend. The returned func
// releases its connections.
func openSessionStore(ctx context.Context, cfg *config.Config) (*sessionstore.Store, func(), error) {
	opts := []sessionstore.Option{sessionstore.WithEncryptionKey(cfg.SessionEncryptionKey)}
	key := util.HashToken(cfg.Username)

	switch cfg.SessionStore {
	case config.SessionStoreRedis:
		pingCtx, cancel := context.WithTimeout(ctx, config.StorePingTimeout)
		defer cancel()

		client, err := redis.NewClient(pingCtx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Msg("redis connected")
		store := sessionstore.NewRedisStore(client, redis.SessionKey(key), cfg.SessionMaxAge(), opts...)
		return store, func() { _ = client.Close() }, nil

	case config.SessionStorePostgres:
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}

		pingCtx, cancel := context.WithTimeout(ctx, config.StorePingTimeout)
		defer cancel()
		if err := db.Ping(pingCtx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		if err := db.EnsureSchema(pingCtx, repository.SessionCacheSchema); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		log.Info().Msg("database connected")
		store := sessionstore.NewPostgresStore(repository.NewSessionCacheRepository(db.DB), key, opts...)
		return store, func() { _ = db.Close() }, nil

	default:
		store, err := sessionstore.NewFileStore(cfg.SessionDir(), opts...)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}

func serveHTTP(ctx context.Context, cfg *config.Config, client *portal.Client, server *mcp.Server) {
	authMiddleware := middleware.NewTokenAuthMiddleware(cfg.MCPAuthTokenHash)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	var limiter middleware.Limiter = middleware.NewRateLimiter()
	if cfg.RedisURL != "" {
		pingCtx, cancel := context.WithTimeout(ctx, config.StorePingTimeout)
		redisClient, err := redis.NewClient(pingCtx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, rate limiting in memory")
		} else {
			defer redisClient.Close()
			limiter = middleware.NewRedisRateLimiter(redisClient.Client)
		}
	}
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(limiter, cfg.RateLimitPerMin)

	healthHandler := handler.NewHealthHandler(client)
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)

	r.Mount("/health", healthHandler.Routes())

	r.Route("/mcp", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Handle("/", mcpHandler)
	})

	httpServer := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     r,
		ReadTimeout: config.ServerReadTimeout,
		// Streamable HTTP keeps responses open.
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Bool("auth", authMiddleware.Enabled()).Msg("starting server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
