package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/Hashibutogarasu/karasu-lab-auth/internal/adapter/cache"
	oauthadapter "github.com/Hashibutogarasu/karasu-lab-auth/internal/adapter/oauth"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/bootstrap"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/config"
	httptransport "github.com/Hashibutogarasu/karasu-lab-auth/internal/http"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/http/handler"
	httpmiddleware "github.com/Hashibutogarasu/karasu-lab-auth/internal/http/middleware"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/jwt"
	apimiddleware "github.com/Hashibutogarasu/karasu-lab-auth/internal/middleware"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/repository"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/server"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/service"
	authservice "github.com/Hashibutogarasu/karasu-lab-auth/internal/service/auth"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newUserRepository,
			newClientRepository,
			newCodeRepository,
			newTokenRepository,
			newKeyRepository,
			newProviderRepository,
			newRedisClient,
			newStateStore,
			newProviderClient,
			newRateLimiter,
			newKeyManager,
			newTokenGenerator,
			service.NewLedgerService,
			service.NewClientService,
			service.NewOAuthService,
			service.NewAuthService,
			service.NewDiscoveryService,
			service.NewSweeper,
			authservice.NewFederationService,
			handler.NewOAuthHandler,
			handler.NewAuthHandler,
			handler.NewClientHandler,
			handler.NewFederationHandler,
			handler.NewWellKnownHandler,
			newHandlers,
			newAuthMiddleware,
			newRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureSeed, startSweeper, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newUserRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool, node)
}

func newClientRepository(pool *pgxpool.Pool) repository.ClientRepository {
	return repository.NewPostgresClientRepo(pool)
}

func newCodeRepository(pool *pgxpool.Pool) repository.CodeRepository {
	return repository.NewPostgresCodeRepo(pool)
}

func newTokenRepository(pool *pgxpool.Pool) repository.TokenRepository {
	return repository.NewPostgresTokenRepo(pool)
}

func newKeyRepository(pool *pgxpool.Pool) repository.KeyRepository {
	return repository.NewPostgresKeyRepo(pool)
}

func newProviderRepository(pool *pgxpool.Pool) repository.ProviderRepository {
	return repository.NewPostgresProviderRepo(pool)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newStateStore(client redis.UniversalClient) repository.StateStore {
	return cacheadapter.NewRedisStateStore(client)
}

func newProviderClient() oauthadapter.ProviderClient {
	return oauthadapter.NewHTTPProviderClient(nil)
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newKeyManager(repo repository.KeyRepository) *jwt.KeyManager {
	return jwt.NewKeyManager(repo)
}

func newTokenGenerator(manager *jwt.KeyManager) *jwt.Generator {
	return jwt.NewGenerator(manager)
}

func newHandlers(
	oauthHandler *handler.OAuthHandler,
	authHandler *handler.AuthHandler,
	clientHandler *handler.ClientHandler,
	federationHandler *handler.FederationHandler,
	wellKnownHandler *handler.WellKnownHandler,
) httptransport.Handlers {
	return httptransport.Handlers{
		OAuth:      oauthHandler,
		Auth:       authHandler,
		Clients:    clientHandler,
		Federation: federationHandler,
		WellKnown:  wellKnownHandler,
	}
}

func newAuthMiddleware(authService *service.AuthService) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{AuthService: authService}
}

func newRouter(cfg config.Config, logger *zap.Logger, h httptransport.Handlers, session *httpmiddleware.Auth, limiter *apimiddleware.RateLimiter) *gin.Engine {
	return httptransport.NewRouter(cfg, logger, h, session, limiter)
}

func startSweeper(lc fx.Lifecycle, sweeper *service.Sweeper) {
	var cancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			go sweeper.Run(runCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
