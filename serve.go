package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"gorm.io/gorm"

	"github.com/karthikraju391/teamchat-gateway/auth"
	"github.com/karthikraju391/teamchat-gateway/authz"
	"github.com/karthikraju391/teamchat-gateway/config"
	"github.com/karthikraju391/teamchat-gateway/encryption"
	"github.com/karthikraju391/teamchat-gateway/handlers"
	"github.com/karthikraju391/teamchat-gateway/hub"
	"github.com/karthikraju391/teamchat-gateway/metrics"
	"github.com/karthikraju391/teamchat-gateway/store"
)

const shutdownTimeout = 30 * time.Second

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func openStore(ctx context.Context, cfg *config.Config, db *gorm.DB, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverJetStream:
		return store.DialJetStream(ctx, store.JetStreamConfig{
			URL:           cfg.NATS.URL,
			Stream:        cfg.NATS.Stream,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			MaxAge:        cfg.NATS.MaxAge,
		}, logger)
	default:
		return store.NewGormStore(db), nil
	}
}

// runServe serves until ctx is done or the process is signalled, and returns
// once every resource it opened has been released.
func runServe(ctx context.Context, configPath string, logOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// Also routes the stdlib log output of the shutdown helper through logger.
	logger := newLogger(cfg, logOut)
	slog.SetDefault(logger)

	cipher, err := encryption.New(cfg.Encryption.Secret, encryption.Mode(cfg.Encryption.Mode))
	if err != nil {
		return err
	}
	if cipher.Mode() == encryption.ModeFixedIV {
		logger.Warn("fixed-iv encryption enabled: identical messages produce identical ciphertexts")
	}

	// Workspace and channel membership live in the sqlite database even
	// when messages go to JetStream.
	db, err := store.OpenSQLite(cfg.Store.SQLitePath)
	if err != nil {
		return err
	}
	msgStore, err := openStore(ctx, cfg, db, logger)
	if err != nil {
		return errors.Join(err, closeDB(db))
	}

	var authorizer authz.Authorizer = authz.AllowAll{}
	var access handlers.ChannelReader
	if cfg.Gateway.Authorize {
		ga := authz.NewGormAuthorizer(db)
		authorizer, access = ga, ga
	} else {
		logger.Warn("gateway.authorize is off: any authenticated user may post to any channel")
	}

	m := metrics.New()
	h := hub.New(logger.With("component", "hub"), m)
	hubCtx, stopHub := context.WithCancel(context.Background())
	go h.Run(hubCtx)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	pipeline := handlers.NewPipeline(handlers.PipelineConfig{
		Hub:                h,
		Cipher:             cipher,
		Store:              msgStore,
		Authorizer:         authorizer,
		Metrics:            m,
		Logger:             logger.With("component", "ingest"),
		IncludeWorkspaceID: cfg.Gateway.IncludeWorkspaceID,
		PersistTimeout:     cfg.Store.PersistTimeout,
	})
	gateway := handlers.NewGateway(handlers.GatewayConfig{
		Verifier:   verifier,
		Hub:        h,
		Pipeline:   pipeline,
		Metrics:    m,
		Logger:     logger.With("component", "gateway"),
		SendBuffer: cfg.Gateway.SendBuffer,
		RateLimit:  cfg.Gateway.RateLimit,
		RateBurst:  cfg.Gateway.RateBurst,
	})
	app := handlers.NewApp(handlers.AppConfig{
		WSPath:    cfg.Server.WSPath,
		Gateway:   gateway,
		Hub:       h,
		Verifier:  verifier,
		History:   msgStore,
		Cipher:    cipher,
		Access:    access,
		Metrics:   m,
		Logger:    logger,
		AccessLog: true,
	})

	// The order matters: sockets are torn down and in-flight frames finish
	// persisting before the stores close.
	var (
		stopOnce sync.Once
		stopErr  error
	)
	stop := func(ctx context.Context) error {
		stopOnce.Do(func() {
			stopHub()
			h.Wait()
			stopErr = errors.Join(
				gateway.Drain(ctx),
				app.ShutdownWithContext(ctx),
				msgStore.Close(),
				closeDB(db),
			)
		})
		return stopErr
	}

	triggerCtx, trigger := context.WithCancel(ctx)
	defer trigger()
	wait := gfshutdown.GracefulShutdown(triggerCtx, shutdownTimeout, map[string]gfshutdown.Operation{
		"gateway": stop,
	})

	logger.Info("starting server", "addr", cfg.Server.Addr, "ws_path", cfg.Server.WSPath, "store", cfg.Store.Driver)
	if err := app.Listen(cfg.Server.Addr); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = errors.Join(fmt.Errorf("failed to start server: %w", err), stop(stopCtx))
		trigger()
		<-wait
		return err
	}

	// Listen returns nil only once stop has shut the app down; wait for the
	// rest of the sequence.
	code := <-wait
	logger.Info("server stopped", "exit_code", code)
	if code != 0 {
		return fmt.Errorf("shutdown finished with exit code %d", code)
	}
	return stopErr
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
