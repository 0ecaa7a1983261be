package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"ticketflow/internal/auth"
	"ticketflow/internal/config"
	"ticketflow/internal/hub"
	"ticketflow/internal/logger"
	"ticketflow/internal/middleware"
	"ticketflow/internal/server"
	"ticketflow/internal/service"
	"ticketflow/internal/store"
	"ticketflow/internal/store/mongostore"
	"ticketflow/internal/store/redisinbox"
)

type records interface {
	auth.UserRepository
	service.TicketRepository
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		return err
	}

	log := logger.New(logger.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	gin.SetMode(cfg.GinMode)

	mem := store.NewWithOptions(store.Options{StateFile: cfg.StateFile, Logger: log})

	var recs records = mem
	if cfg.StoreBackend == config.StoreMongo {
		client, db, err := mongostore.Connect(ctx, mongostore.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
		if err != nil {
			return err
		}
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(dctx)
		}()
		ms := mongostore.New(db)
		if err := ms.EnsureIndexes(ctx); err != nil {
			return err
		}
		recs = ms
		log.Info().Str("database", cfg.Mongo.Database).Msg("using mongo record store")
	}

	var inbox service.NotificationRepository = mem
	if cfg.Redis.Addr != "" {
		rdb, err := redisinbox.Connect(ctx, redisinbox.Config{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err != nil {
			return err
		}
		defer rdb.Close()
		inbox = redisinbox.New(rdb, redisinbox.DefaultRetention)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis notification inbox")
	}

	var audience hub.Audience
	if cfg.BroadcastScope == config.BroadcastVisible {
		audience = service.NewTicketAudience(recs, log)
	} else {
		log.Warn().Msg("ticket broadcasts go to every connected socket; set BROADCAST_SCOPE=visible to restrict them")
	}
	router := hub.NewRouter(log, audience)

	tokenCfg := auth.DefaultTokenConfig(cfg.JWTSecret)
	tokenCfg.Expiry = cfg.TokenExpiry()
	authSvc := auth.NewService(auth.ServiceDeps{
		Users:       recs,
		Hasher:      auth.BcryptHasher{},
		TokenConfig: tokenCfg,
		Logger:      log,
	})
	notifications := service.NewNotificationService(inbox, router, log)
	tickets := service.NewTicketService(service.TicketDeps{
		Tickets:       recs,
		Notifier:      router,
		Notifications: notifications,
		Logger:        log,
	})

	var limiter *middleware.RateLimiter
	if cfg.LoginRateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.LoginRateLimit, time.Minute)
		defer limiter.Stop()
	}

	engine := server.NewRouter(server.Deps{
		Auth:              authSvc,
		Tickets:           tickets,
		Notifications:     notifications,
		Router:            router,
		TokenConfig:       tokenCfg,
		Logger:            log,
		CORSOrigins:       cfg.CORSOrigins,
		LoginLimiter:      limiter,
		SocketRequireAuth: cfg.SocketRequireAuth,
	})

	log.Info().
		Int("port", cfg.Port).
		Str("store", cfg.StoreBackend).
		Str("broadcast_scope", cfg.BroadcastScope).
		Msg("starting ticketflow")

	err = server.Run(ctx, cfg, engine, log)
	router.CloseAll()
	if err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
