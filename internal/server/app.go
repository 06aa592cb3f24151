// Package server initializes and runs the application server: it opens the
// database and runs migrations, wires repositories, services, and the
// provider bridge together, and serves the HTTP API until shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mivanovs/telegate/internal/logging"
	"github.com/mivanovs/telegate/internal/server/cache"
	"github.com/mivanovs/telegate/internal/server/config"
	"github.com/mivanovs/telegate/internal/server/httpapi"
	"github.com/mivanovs/telegate/internal/server/provider/bridge"
	"github.com/mivanovs/telegate/internal/server/repositories/repomanager"
	"github.com/mivanovs/telegate/internal/server/services"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	handler http.Handler
}

func NewApp(cfg *config.Config, logger logging.Logger) (*App, error) {
	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm, err := repomanager.NewPostgresRepositoryManager(db)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := rm.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	factory := bridge.NewFactory(cfg.BridgeEndpoint, cfg.ProviderAPIID, cfg.ProviderAPIHash, cfg.ProviderTimeout)

	var msgCache *cache.MessageCache
	if cfg.RedisURI != "" {
		msgCache, err = cache.Connect(cfg.RedisURI, cfg.MessageCacheTTL, logger)
		if err != nil {
			// The cache is best-effort everywhere else too.
			logger.Warn(context.Background(), "redis unavailable, message cache disabled", "error", err.Error())
			msgCache = nil
		}
	}

	var photos *services.PhotoArchive
	if cfg.S3BaseEndpoint != "" {
		photos = services.NewPhotoArchive(cfg)
	}

	userService := services.NewUserService(db, rm, cfg)
	authService := services.NewAuthService(db, rm, factory, photoStoreOrNil(photos), cfg, logger)
	messageService := services.NewMessageService(db, rm, factory, msgCache, cfg, logger)

	handler := httpapi.NewRouter(
		httpapi.NewHandler(userService, authService, messageService, logger),
		[]byte(cfg.SecretKey),
		logger,
	)

	return &App{config: cfg, logger: logger, db: db, handler: handler}, nil
}

// photoStoreOrNil avoids handing a typed nil pointer to the auth service.
func photoStoreOrNil(p *services.PhotoArchive) services.PhotoStore {
	if p == nil {
		return nil
	}
	return p
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves the HTTP API until the context is cancelled or a signal
// arrives, then shuts down gracefully.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.initSignalHandler(cancelFunc)

	server := &http.Server{
		Addr:    app.config.EndpointAddr,
		Handler: app.handler,
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info(ctx, "starting http server", "addr", app.config.EndpointAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		app.logger.Info(context.Background(), "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}

	return app.db.Close()
}
