package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/PaulBabatuyi/roomchat/internal/auth"
	"github.com/PaulBabatuyi/roomchat/internal/cache"
	"github.com/PaulBabatuyi/roomchat/internal/chatrpc"
	"github.com/PaulBabatuyi/roomchat/internal/config"
	"github.com/PaulBabatuyi/roomchat/internal/gateway"
	"github.com/PaulBabatuyi/roomchat/internal/logging"
	"github.com/PaulBabatuyi/roomchat/internal/metrics"
	"github.com/PaulBabatuyi/roomchat/internal/middleware"
	"github.com/PaulBabatuyi/roomchat/internal/realtime"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.App.LogLevel, cfg.App.LogFormat)
	slog.SetDefault(logger)

	ctx := context.Background()

	st, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		fatal(logger, "failed to open storage", err)
	}

	jwtMgr, err := newJWTManager(cfg.Auth)
	if err != nil {
		fatal(logger, "failed to configure JWT keys", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	// Redis mirrors presence for other processes when configured
	var mirror realtime.PresenceMirror
	var presenceCache *cache.PresenceCache
	if cfg.Redis.Addr != "" {
		presenceCache, err = cache.NewPresenceCache(ctx, cache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.PresenceTTL,
		})
		if err != nil {
			fatal(logger, "failed to connect to redis", err)
		}
		mirror = presenceCache
	}

	a, err := buildApp(cfg, st, jwtMgr, mirror, m, logger)
	if err != nil {
		fatal(logger, "failed to build server", err)
	}
	a.presence.Start(ctx)

	keepAliveCtx, stopKeepAlive := context.WithCancel(ctx)
	if presenceCache != nil {
		go presenceCache.KeepAlive(keepAliveCtx, a.rt.OnlineUsers)
	}

	listenAddr := fmt.Sprintf(":%s", cfg.GRPC.Port)
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		fatal(logger, "failed to listen", err)
	}
	go func() {
		logger.Info("gRPC server listening", "addr", listenAddr)
		if err := a.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			fatal(logger, "gRPC server exit", err)
		}
	}()

	var gw *gateway.Gateway
	if cfg.Gateway.Enabled {
		gw = gateway.New(a.rt, gateway.Config{
			Addr:           cfg.Gateway.Addr,
			AllowedOrigins: cfg.Gateway.AllowedOrigins,
			Gatherer:       prometheus.DefaultGatherer,
		}, logger)
		if err := gw.Start(); err != nil {
			fatal(logger, "failed to start websocket gateway", err)
		}
	}

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.App.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			cfg.App.Name: func(ctx context.Context) error {
				logger.Info("shutting down")
				var errs []error
				if gw != nil {
					errs = append(errs, gw.Shutdown(ctx))
				}
				stopGRPC(ctx, a.grpc)
				stopKeepAlive()
				a.close()
				if presenceCache != nil {
					errs = append(errs, presenceCache.Close())
				}
				errs = append(errs, st.close(ctx))
				return errors.Join(errs...)
			},
		},
	)

	exitCode := <-wait
	logger.Info("server exited", "code", exitCode)
	os.Exit(exitCode)
}

// app is the assembled gRPC service with the realtime core behind it.
type app struct {
	grpc         *grpc.Server
	server       *Server
	rt           *realtime.Manager
	presence     *realtime.PresenceTracker
	authLimiter  *middleware.LimiterStore
	eventLimiter *middleware.LimiterStore
}

func buildApp(cfg *config.Config, st *storage, jwtMgr *auth.JWTManager, mirror realtime.PresenceMirror, m *metrics.Metrics, logger *slog.Logger) (*app, error) {
	presence := realtime.NewPresenceTracker(st.presence, mirror, logger, m)

	// Register and Login get a small burst so a client can retry quickly
	authLimiter := middleware.NewLimiterStore(cfg.Auth.RateLimitRPM, 3, time.Minute)
	eventLimiter := middleware.NewLimiterStore(cfg.Realtime.EventsPerMinute, cfg.Realtime.EventBurst, time.Minute)

	rt := realtime.NewManager(
		auth.NewAuthenticator(jwtMgr, st.users),
		st.core,
		realtime.NewRegistry(),
		presence,
		realtime.Options{
			Logger:           logger,
			Metrics:          m,
			Limiter:          eventLimiter,
			MaxContentLength: cfg.Realtime.MaxContentLength,
			StorageTimeout:   cfg.Realtime.StorageTimeout,
		},
	)

	var serverOpts []grpc.ServerOption

	// If TLS certs are configured, create server credentials
	if cfg.GRPC.TLSCert != "" && cfg.GRPC.TLSKey != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.GRPC.TLSCert, cfg.GRPC.TLSKey)
		if err != nil {
			authLimiter.Stop()
			eventLimiter.Stop()
			return nil, fmt.Errorf("load TLS certs: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}

	limited := map[string]bool{
		chatrpc.RegisterMethod: true,
		chatrpc.LoginMethod:    true,
	}
	serverOpts = append(serverOpts,
		grpc.ChainUnaryInterceptor(
			middleware.RateLimitUnaryInterceptor(authLimiter, limited),
			authUnaryInterceptor(jwtMgr),
		),
		grpc.ChainStreamInterceptor(authStreamInterceptor(jwtMgr)),
	)

	grpcServer := grpc.NewServer(serverOpts...)
	srv := newServer(st.users, st.chats, st.history, jwtMgr, rt, logger)
	registerService(grpcServer, srv)

	return &app{
		grpc:         grpcServer,
		server:       srv,
		rt:           rt,
		presence:     presence,
		authLimiter:  authLimiter,
		eventLimiter: eventLimiter,
	}, nil
}

// close stops background work once no more connections can arrive.
func (a *app) close() {
	a.presence.Close()
	a.authLimiter.Stop()
	a.eventLimiter.Stop()
}

func newJWTManager(cfg config.AuthConfig) (*auth.JWTManager, error) {
	if cfg.JWTKeys == "" {
		return auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL), nil
	}
	keys, err := config.ParseKeys(cfg.JWTKeys)
	if err != nil {
		return nil, err
	}
	return auth.NewJWTManagerFromKeys(keys, cfg.JWTActiveKid, cfg.TokenTTL), nil
}

// stopGRPC drains streams until ctx expires, then forces the stop.
func stopGRPC(ctx context.Context, s *grpc.Server) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.Stop()
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
