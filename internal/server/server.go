package server

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	"github.com/slok/go-http-metrics/middleware/std"
	promclient "github.com/prometheus/client_golang/prometheus"

	"github.com/deliverhq/walletd/internal/core/cache"
	"github.com/deliverhq/walletd/internal/core/handler"
	"github.com/deliverhq/walletd/internal/core/logger"
	"github.com/deliverhq/walletd/internal/core/metrics"
	middlWre "github.com/deliverhq/walletd/internal/core/middleware"
	"github.com/deliverhq/walletd/internal/core/repository/postgres"
	"github.com/deliverhq/walletd/internal/core/usecase"
	"github.com/deliverhq/walletd/pkg/config"
	"github.com/deliverhq/walletd/pkg/postgresdb"
)

type Server struct {
	router        *mux.Router
	log           logger.Logger
	httpServer    *http.Server
	walletHandler *handler.WalletHandler
	db            *postgresdb.Database
	redisClient   *redis.Client
	addr          string
}

// Addr is the configured listen address.
func (s *Server) Addr() string { return s.addr }

func NewServer(log logger.Logger) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	db, err := postgresdb.NewPostgresDB(cfg.DB, log)
	if err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	var walletCache usecase.WalletCache = usecase.NoopWalletCache{}
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		redisClient, err = cache.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		walletCache = cache.NewRedisWalletCache(redisClient, cache.DefaultTTL, log)
		log.Info("Wallet cache enabled", logger.StringField("redis_addr", cfg.RedisAddr))
	}

	walletRepository := postgres.NewPostgresWalletRepo(db.DB, log)
	transactionRepository := postgres.NewPostgresTransactionRepo(db.DB, log)
	collector := metrics.NewPrometheusCollector(promclient.DefaultRegisterer)

	ledgerUsecase := usecase.NewLedgerUsecase(walletRepository, walletCache, collector, log)
	queryUsecase := usecase.NewWalletQueryUsecase(walletRepository, transactionRepository, walletCache, log)
	walletHandler := handler.NewWalletHandler(ledgerUsecase, queryUsecase, log)

	server := &Server{
		log:           log,
		router:        mux.NewRouter(),
		walletHandler: walletHandler,
		db:            db,
		redisClient:   redisClient,
		addr:          cfg.HTTPAddr,
	}

	server.router.Use(loggingMiddleware(server.log))

	mw := middleware.New(middleware.Config{
		Recorder: prometheus.NewRecorder(prometheus.Config{}),
	})

	server.router.Use(func(next http.Handler) http.Handler {
		return std.Handler("", mw, next)
	})

	server.RegisterRoutes()

	return server, nil
}

func (s *Server) RegisterRoutes() {
	s.router.Use(
		middlWre.RequestID(),
		middlWre.Recovery(s.log),
	)
	s.walletHandler.RegisterRoutes(s.router)
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
}

func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       9 * time.Second,
		WriteTimeout:      12 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 6 * time.Second,
	}

	s.httpServer = srv

	return srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	var shutdownErr error

	go func() {
		if s.httpServer != nil {
			err := s.httpServer.Shutdown(ctx)
			if err != nil {
				s.log.Error("failed to shutdown HTTP server", logger.ErrorField("error", err))
				shutdownErr = fmt.Errorf("HTTP server shutdown error: %w", err)
			}
		}

		if s.redisClient != nil {
			if err := s.redisClient.Close(); err != nil {
				s.log.Error("failed to close redis client", logger.ErrorField("error", err))
				shutdownErr = fmt.Errorf("redis shutdown error: %w", err)
			}
		}

		if s.db != nil {
			err := s.db.Close()
			if err != nil {
				s.log.Error("failed to close database connection", logger.ErrorField("error", err))
				shutdownErr = fmt.Errorf("database shutdown error: %w", err)
			}
		}

		close(done)
	}()

	select {
	case <-done:
		return shutdownErr
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func loggingMiddleware(log logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Info("HTTP request",
				logger.StringField("method", r.Method),
				logger.StringField("path", r.URL.Path),
				logger.StringField("remote_addr", r.RemoteAddr),
				logger.StringField("user_agent", r.UserAgent()),
			)
			next.ServeHTTP(w, r)
		})
	}
}
