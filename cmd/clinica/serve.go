package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"clinica.app/internal/audit"
	"clinica.app/internal/config"
	"clinica.app/internal/grpcapi"
	"clinica.app/internal/guard"
	"clinica.app/internal/httpapi"
	"clinica.app/internal/identity"
	"clinica.app/internal/obs"
	"clinica.app/internal/patient"
	"clinica.app/internal/rbac"
	"clinica.app/internal/staff"
	"clinica.app/internal/store/pg"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config) error {
	log, err := obs.NewLogger(cfg.LogLevel, cfg.LogFormat, "clinica-api")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	obs.SetLogger(log)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	store, err := pg.Open(cfg.DatabaseURL, cfg.DBMaxOpenConns, log.Named("pg"))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		log.Warn("database not reachable at startup", zap.Error(err))
	}
	cancelPing()

	auditLog := audit.NewLogger(store, log.Named("audit"), cfg.AuditTimeout)

	var (
		provider identity.Provider
		tokens   httpapi.TokenIssuer
	)
	switch cfg.IdPMode {
	case "local":
		local, err := identity.NewLocalProvider(store, []byte(cfg.IdPJWTSecret), cfg.SessionTTL)
		if err != nil {
			return fmt.Errorf("init local identity provider: %w", err)
		}
		provider, tokens = local, local
	default:
		provider = identity.NewRemoteProvider(cfg.IdPURL, cfg.IdPAPIKey, log.Named("idp"))
	}
	gateway := identity.NewGateway(provider, store, cfg.IdPCookieName, log.Named("identity"))

	codec, closeCodec, err := sessionCodec(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCodec()

	registry := rbac.NewRegistry(store, auditLog, log.Named("rbac"))
	staffSvc := staff.NewService(store, registry, provider, codec, auditLog, staff.CookieConfig{
		Name:   cfg.SessionCookieName,
		TTL:    cfg.SessionTTL,
		Secure: cfg.IsProduction(),
	}, log.Named("staff"))
	resolver := patient.NewResolver(store, auditLog, log.Named("patient"))
	g := guard.New(gateway, staffSvc, cfg.SessionRefreshGuard, log.Named("guard"))

	proxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return err
	}

	probe := httpapi.ReadyProbe{DB: store.DB()}
	api := httpapi.New(httpapi.Options{
		Guard:           g,
		Staff:           staffSvc,
		RoleUsers:       staffSvc,
		Roles:           registry,
		Patients:        resolver,
		Audit:           auditLog,
		Tokens:          tokens,
		Ready:           probe,
		Logger:          log.Named("http"),
		Version:         version,
		LoginRateBurst:  cfg.LoginRateBurst,
		LoginRatePerSec: cfg.LoginRatePerSec,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		TrustedProxies:  proxies,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcapi.UnaryLogger(log.Named("grpc"))))
	health := grpcapi.NewServer(probe, 5*time.Second, log.Named("grpc"))
	health.Register(gs)
	go health.Run(ctx)

	errc := make(chan error, 2)
	go func() {
		log.Info("http server starting", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		log.Info("grpc server starting", zap.String("addr", cfg.GRPCAddr))
		if err := gs.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errc <- fmt.Errorf("grpc: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errc:
		log.Error("server failed", zap.Error(err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	gs.GracefulStop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info("stopped")
	return nil
}

// sessionCodec builds the staff cookie codec for the configured backend.
func sessionCodec(ctx context.Context, cfg *config.Config) (staff.Codec, func(), error) {
	if cfg.SessionBackend != "redis" {
		codec, err := staff.NewTokenCodec([]byte(cfg.SessionSecret), cfg.SessionTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("init session codec: %w", err)
		}
		return codec, func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return staff.NewRedisCodec(staff.NewRedisKV(client), cfg.SessionTTL), func() { _ = client.Close() }, nil
}
