package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"intakeportal.org/internal/auth"
	"intakeportal.org/internal/authz"
	"intakeportal.org/internal/config"
	"intakeportal.org/internal/httpapi"
	"intakeportal.org/internal/intake"
	"intakeportal.org/internal/notify"
	"intakeportal.org/internal/obs"
	"intakeportal.org/internal/ratelimit"
	"intakeportal.org/internal/store/mem"
	"intakeportal.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

const serviceName = "intake-portal"

// backend is what a storage driver has to provide.
type backend interface {
	intake.Store
	auth.ProfileStore
	auth.FirmStore
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	configPath := flag.String("config", os.Getenv("PORTAL_CONFIG"), "Path to YAML config (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "intake-portal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.App.Version != "" {
		version = cfg.App.Version
	}

	logger, err := obs.InitLogger(obs.LogConfig{Env: cfg.App.Env, Level: cfg.Log.Level, Service: serviceName, Version: version})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.InitTracing(ctx, cfg.Tracing.Endpoint, serviceName, cfg.App.Env)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	store, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sessionOpts := []auth.SessionOption{auth.WithAudience(cfg.Auth.Audience)}
	if cfg.Auth.Issuer != "" {
		sessionOpts = append(sessionOpts, auth.WithIssuer(cfg.Auth.Issuer))
	}
	sessions, err := auth.NewSessionResolver(cfg.Auth.JWTSecret, sessionOpts...)
	if err != nil {
		return err
	}
	roles := auth.NewRoleLookup(store)
	profiles, err := auth.NewProfileService(store, store)
	if err != nil {
		return err
	}

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}
	forms, err := intake.NewService(store, roles, intake.WithNotifier(notifier))
	if err != nil {
		return err
	}

	limiter, err := buildLimiter(ctx, cfg)
	if err != nil {
		return err
	}

	var pages http.Handler
	if cfg.Server.UIUpstream != "" {
		if pages, err = httpapi.UIProxy(cfg.Server.UIUpstream); err != nil {
			return err
		}
	}

	if cfg.Auth.DevSessions && cfg.IsProd() {
		logger.Warn("dev sessions are enabled in prod")
	}

	api, err := httpapi.New(httpapi.Config{
		Version:      version,
		Ready:        store,
		Sessions:     sessions,
		Roles:        roles,
		Profiles:     profiles,
		Forms:        forms,
		Engine:       authz.NewEngine(authz.DefaultTable()),
		Limiter:      limiter,
		CookieName:   cfg.Auth.CookieName,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		DevSessions:  cfg.Auth.DevSessions,
		Pages:        pages,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           otelhttp.NewHandler(api.Handler(), "http.server"),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("env", cfg.App.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpc.NewServer()
		health := httpapi.NewHealthServer(store)
		health.Register(grpcSrv)
		go health.Run(ctx, 10*time.Second)
		go func() {
			logger.Info("grpc health listening", zap.String("addr", cfg.Server.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
		stop()
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("stopped")
	return nil
}

func openBackend(cfg *config.Config) (backend, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		st, err := pg.Open(cfg.Storage.DSN, pg.PoolOptions{
			MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		obs.Logger().Info("storage: postgres")
		return st, nil
	default:
		obs.Logger().Warn("storage: in-memory, data is lost on restart")
		return mem.New(), nil
	}
}

func buildNotifier(cfg *config.Config) (notify.Notifier, error) {
	if cfg.Mail.Host == "" {
		return notify.Nop{}, nil
	}
	n, err := notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
		To:       cfg.Mail.NotifyTo,
		TLSMode:  cfg.Mail.TLS,
	})
	if err != nil {
		return nil, fmt.Errorf("smtp notifier: %w", err)
	}
	return n, nil
}

func buildLimiter(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, error) {
	if !cfg.Rate.Enabled {
		return nil, nil
	}
	if cfg.Rate.Driver == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Rate.Redis.Addr, DB: cfg.Rate.Redis.DB})
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return ratelimit.NewRedis(client, cfg.Rate.Redis.Prefix, cfg.Rate.Redis.Max, cfg.Rate.Redis.Window), nil
	}
	m := ratelimit.NewMemory(cfg.Rate.PerSecond, cfg.Rate.Burst)
	m.Start(ctx, time.Minute)
	return m, nil
}
