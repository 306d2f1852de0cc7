package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/auth"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/cache"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/chat"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/config"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/data"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/db"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/docstore"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/favorites"
	"github.com/PaulBabatuyi/petmarket-gRPC/internal/middleware"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	// readiness dependencies, pinged by the health service
	deps := map[string]pinger{}

	// Document store: MongoDB when configured, memory otherwise
	var store docstore.Store
	if cfg.MongoURI != "" {
		dbClient, err := db.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			log.Fatal("failed to connect to DB", zap.Error(err))
		}
		defer func() {
			_ = dbClient.Close(context.Background())
		}()
		if err := dbClient.CreateIndexes(ctx); err != nil {
			log.Fatal("failed to create indexes", zap.Error(err))
		}
		store = dbClient
		deps["mongodb"] = dbClient
	} else {
		log.Warn("MONGODB_URI not set; using the in-memory store, data is lost on exit")
		store = docstore.NewMemory()
	}

	// Owner email cache: Redis when configured
	var ownerCache cache.Cache = cache.NewMemory()
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisURL, "petmarket:")
		if err != nil {
			log.Fatal("failed to connect to Redis", zap.Error(err))
		}
		ownerCache = rc
	}
	defer ownerCache.Close()
	deps["cache"] = ownerCache

	var jwtMgr *auth.JWTManager
	if len(cfg.JWTKeys) > 0 {
		jwtMgr = auth.NewJWTManagerFromKeys(cfg.JWTKeys, cfg.JWTActiveKid, cfg.TokenTTL)
	} else {
		jwtMgr = auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)
	}

	// Components
	listings := data.NewListingsStore(store)
	hub := NewConnectionHub(log.Named("hub"))
	srv := newServer(
		listings,
		favorites.New(store, listings, log.Named("favorites")),
		chat.NewResolver(store, listings,
			chat.WithOwnerCache(ownerCache, cfg.OwnerCacheTTL),
			chat.WithResolverLogger(log.Named("resolver"))),
		chat.NewController(store,
			chat.WithLogger(log.Named("chat")),
			chat.WithNotifier(hub)),
		hub,
		log,
	)

	limiterStore := middleware.NewLimiterStore(cfg.RateLimitRPM, cfg.RateLimitBurst, time.Minute)
	defer limiterStore.Stop()

	var serverOpts []grpc.ServerOption
	if cfg.TLSEnabled() {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			log.Fatal("failed to load TLS certs", zap.Error(err))
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}

	// logging -> auth -> rate limit (keyed by the principal auth attached)
	serverOpts = append(serverOpts,
		grpc.ChainUnaryInterceptor(
			loggingUnaryInterceptor(log),
			authUnaryInterceptor(jwtMgr),
			middleware.RateLimitUnaryInterceptor(limiterStore, limitedMethods, log.Named("ratelimit")),
		),
		grpc.ChainStreamInterceptor(
			loggingStreamInterceptor(log),
			authStreamInterceptor(jwtMgr),
		),
	)

	grpcServer := grpc.NewServer(serverOpts...)
	registerService(grpcServer, srv)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	readyCtx, stopReadiness := context.WithCancel(ctx)
	defer stopReadiness()
	go watchReadiness(readyCtx, healthServer, deps, 15*time.Second, log.Named("health"))

	listenAddr := fmt.Sprintf(":%s", cfg.Port)
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		log.Fatal("failed to listen", zap.String("addr", listenAddr), zap.Error(err))
	}

	go func() {
		log.Info("gRPC server listening", zap.String("addr", listenAddr), zap.Bool("tls", cfg.TLSEnabled()))
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal("gRPC server exit", zap.Error(err))
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down gRPC server")
	stopReadiness()
	healthServer.Shutdown()
	// open message and inbox streams only end when clients leave
	done := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		grpcServer.Stop()
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.LogDevelopment {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
