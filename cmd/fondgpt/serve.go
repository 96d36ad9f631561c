package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gustaflugnegard/FOND-GPT/internal/backend"
	mw "github.com/gustaflugnegard/FOND-GPT/middleware/http"
	"github.com/gustaflugnegard/FOND-GPT/pkg/answer"
	"github.com/gustaflugnegard/FOND-GPT/pkg/api"
	"github.com/gustaflugnegard/FOND-GPT/pkg/auth"
	"github.com/gustaflugnegard/FOND-GPT/pkg/funds"
	"github.com/gustaflugnegard/FOND-GPT/pkg/tokens"
	tokenszerolog "github.com/gustaflugnegard/FOND-GPT/pkg/tokens/logger/zerolog"
	prommetrics "github.com/gustaflugnegard/FOND-GPT/pkg/tokens/metrics/prometheus"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the token API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	logger := tokenszerolog.NewLogger(a.log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := prommetrics.NewMetrics(reg, "fondgpt")

	b, err := backend.Open(ctx, cfg.Storage, func(err error) {
		a.log.Warn().Err(err).Msg("balance cache out of sync")
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close storage")
		}
	}()

	storeConfig := tokens.Config{
		Logger:           logger,
		Metrics:          metrics,
		OperationTimeout: cfg.Storage.OperationTimeout,
	}
	if cfg.CircuitBreaker.Enabled {
		storeConfig.CircuitBreakerConfig = &tokens.CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			ResetTimeout:     cfg.CircuitBreaker.ResetTimeout,
		}
	}
	store, err := tokens.NewStore(b.Storage, storeConfig)
	if err != nil {
		return err
	}

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	verifier, err := auth.NewVerifier(auth.Config{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		Leeway:   cfg.Auth.Leeway,
	})
	if err != nil {
		return err
	}

	tokenizer := tokens.NewBPETokenizer(cfg.Estimator.Encoding)
	go func() {
		if err := tokenizer.Load(); err != nil {
			a.log.Warn().Err(err).Msg("tokenizer unavailable, estimating by length")
		}
	}()
	estimator := tokens.NewEstimator(tokenizer)

	var answerer tokens.Answerer
	endpoints := map[tokens.EdgeTarget]string{
		tokens.EdgeKnowledge: cfg.Answer.Edge1URL,
		tokens.EdgeFundDocs:  cfg.Answer.Edge2URL,
	}
	if cfg.Answer.Edge1URL != "" || cfg.Answer.Edge2URL != "" {
		c, err := answer.New(answer.Config{Endpoints: endpoints, APIKey: cfg.Answer.APIKey, Logger: logger})
		if err != nil {
			return err
		}
		answerer = c
	} else {
		a.log.Warn().Msg("no answer backend configured, /ask will respond 503")
	}

	handler, err := api.NewHandler(api.Config{
		Store:     store,
		Answerer:  answerer,
		GetUserID: mw.FromContext,
		Estimator: estimator,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}

	var routes []api.RouteRegistrar
	if cfg.Funds.DSN != "" {
		pool, err := pgxpool.New(ctx, cfg.Funds.DSN)
		if err != nil {
			return fmt.Errorf("failed to connect to fund database: %w", err)
		}
		defer pool.Close()

		source, err := funds.NewPostgresSource(pool)
		if err != nil {
			return err
		}
		svc, err := funds.NewService(source, funds.Config{
			CacheTTL:  cfg.Funds.CacheTTL,
			CacheSize: cfg.Funds.CacheSize,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		routes = append(routes, funds.NewHandler(svc, logger))
	}

	corsOptions := api.DefaultCORS()
	corsOptions.AllowedOrigins = cfg.Server.AllowedOrigins

	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	routerConfig := api.RouterConfig{
		Handler:      handler,
		Authenticate: mw.Authenticate(verifier),
		Routes:       routes,
		Health:       store.Ping,
		CORS:         corsOptions,
		Logger:       a.log,
	}
	if cfg.Server.BalanceGate {
		routerConfig.Gate = mw.BalanceGate(mw.Config{Store: store, Estimator: estimator, Metrics: metrics})
	}

	servers := []*http.Server{}
	if cfg.Server.MetricsAddr == "" {
		routerConfig.Metrics = metricsHandler
	} else {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		servers = append(servers, &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		})
	}
	servers = append(servers, &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(routerConfig),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	})

	return a.run(ctx, servers)
}

// run serves until ctx is cancelled or a listener fails, then shuts every
// server down within the configured timeout.
func (a *app) run(ctx context.Context, servers []*http.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, srv := range servers {
		g.Go(func() error {
			a.log.Info().Str("addr", srv.Addr).Str("storage", a.cfg.Storage.Backend).Msg("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen on %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
