package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vedran77/bazaar/internal/autoreply"
	"github.com/vedran77/bazaar/internal/config"
	"github.com/vedran77/bazaar/internal/database"
	"github.com/vedran77/bazaar/internal/debuglog"
	"github.com/vedran77/bazaar/internal/enforcement"
	"github.com/vedran77/bazaar/internal/logging"
	"github.com/vedran77/bazaar/internal/moderation"
	"github.com/vedran77/bazaar/internal/notify"
	"github.com/vedran77/bazaar/internal/pipeline"
	"github.com/vedran77/bazaar/internal/repository"
	"github.com/vedran77/bazaar/internal/repository/memory"
	postgresrepo "github.com/vedran77/bazaar/internal/repository/postgres"
	"github.com/vedran77/bazaar/internal/service"
	"github.com/vedran77/bazaar/internal/transport/http/handlers"
	"github.com/vedran77/bazaar/internal/transport/ws"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	debugLog, err := debuglog.Open(debuglog.Options{
		Path:       cfg.DebugLog.Path,
		BufferSize: cfg.DebugLog.BufferSize,
	}, logger)
	if err != nil {
		return err
	}
	defer debugLog.Close()

	hub := ws.NewHub(logger)

	// Notifications go straight to the hub unless Redis fans them out.
	var dispatcher pipeline.NotificationDispatcher = notify.NewHubDispatcher(hub)
	var inbox handlers.Inbox
	var relay *notify.Relay
	if cfg.Redis.Enabled {
		client, err := notify.NewClient(cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()

		redisDispatcher := notify.NewRedisDispatcher(client, logger)
		dispatcher = redisDispatcher
		inbox = redisDispatcher
		relay = notify.NewRelay(client, hub, logger)
		logger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	// Domain
	terms, err := bannedTerms(cfg.Moderation)
	if err != nil {
		return err
	}
	moderator := moderation.NewEngine(terms)
	ledger := enforcement.NewLedger(store.Enforcement, enforcement.PolicyFromConfig(cfg.Enforcement), logger)
	detector := autoreply.NewDetector(cfg.AutoReply.Triggers)

	// Services
	authService := service.NewAuthService(store.Users, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	convService := service.NewConversationService(store)
	msgService := service.NewMessageService(store, logger)
	msgService.SetNotifier(ws.NewHubNotifier(hub))
	autoReplyService := service.NewAutoReplyService(store, detector)

	orch := pipeline.New(pipeline.Deps{
		Moderator:     moderator,
		Enforcer:      ledger,
		Messages:      msgService,
		AutoReplies:   autoreply.NewEngine(detector, store, ledger, msgService, logger),
		DebugLog:      debugLog,
		Notifications: dispatcher,
		Conversations: store.Conversations,
	}, logger)
	defer orch.Close()

	router := newRouter(routerDeps{
		auth:          handlers.NewAuthHandler(authService, ledger, logger),
		conversations: handlers.NewConversationHandler(convService, logger),
		messages:      handlers.NewMessageHandler(convService, logger),
		autoReplies:   handlers.NewAutoReplyHandler(autoReplyService, logger),
		admin:         handlers.NewAdminHandler(convService, ledger, debugLog, logger),
		notifications: handlers.NewNotificationHandler(inbox, logger),
		tokens:        authService,
		ws:            ws.ServeWS(hub, authService, orch, cfg.WS, cfg.Server.CORSOrigins, logger),
		origins:       cfg.Server.CORSOrigins,
		logger:        logger,
	})

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("Starting server", zap.String("addr", cfg.Server.Addr), zap.String("driver", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	if cfg.Enforcement.SweepCron != "" {
		sweeper, err := enforcement.NewSweeper(ledger, cfg.Enforcement.SweepCron, logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return sweeper.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		hub.Close()
		if derr := orch.Drain(shutdownCtx); derr != nil {
			logger.Warn("Post-processing did not finish before shutdown", zap.Error(derr))
		}
		return err
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*repository.Store, func(), error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using the in-memory store, data is lost on exit")
		return memory.NewStore(), func() {}, nil
	}

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Connected to database", zap.String("host", cfg.Database.Host), zap.String("name", cfg.Database.Name))
	return postgresrepo.NewStore(pool), pool.Close, nil
}
