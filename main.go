package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/face-match/internal/apiclient"
	"github.com/example/face-match/internal/auth"
	"github.com/example/face-match/internal/comparison"
	"github.com/example/face-match/internal/config"
	"github.com/example/face-match/internal/handlers"
	"github.com/example/face-match/internal/logging"
	"github.com/example/face-match/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store session.SlotStore
	if cfg.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)
		redisCancel()
		defer redisClient.Close()
		store = session.NewRedisSlotStore(redisClient, cfg.SessionTTL, logger)
	}

	if cfg.RemoteAPIURL == "" {
		logger.Warn("REMOTE_API_URL not set, non-local pages will use the placeholder backend",
			zap.String("placeholder", config.PlaceholderRemoteAPIURL))
	}

	pool := apiclient.NewPool(cfg.RequestTimeout, logger)
	resolve := func(host string) comparison.Client {
		return pool.Get(cfg.ResolveBaseURL(host))
	}
	registry := session.NewRegistry(resolve, store, logger, session.DefaultOptions(), cfg.SessionTTL, cfg.HealthTimeout)
	registry.SetLimits(cfg.MaxSessions, cfg.HealthProbeInterval)
	go registry.Run(ctx, time.Minute)

	go probeBackend(ctx, pool.Get(cfg.LocalAPIURL), cfg.HealthTimeout, logger)

	router := handlers.NewRouter(handlers.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		StaticDir:      cfg.StaticDir,
		Logger:         logger,
	})
	handlers.RegisterRoutes(router, registry, auth.SessionMiddleware(auth.SessionConfig{
		Secret: cfg.SessionSecret,
		TTL:    cfg.SessionTTL,
		Secure: cfg.SecureCookies,
	}))

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("face match server listening", zap.String("addr", cfg.Addr))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

// probeBackend checks the development backend once at startup; the result is only logged.
func probeBackend(ctx context.Context, client comparison.Client, timeout time.Duration, logger *zap.Logger) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Health(probeCtx); err != nil {
		logger.Warn("comparison backend is not running", zap.Error(err))
		return
	}
	logger.Info("comparison backend is running")
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
