package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"collabrelay/internal/auth"
	"collabrelay/internal/broker"
	"collabrelay/internal/channel"
	"collabrelay/internal/config"
	"collabrelay/internal/relay"
	"collabrelay/internal/repository"
	"collabrelay/internal/ws"
	"collabrelay/pkg/interfaces"
)

// Application wires the relay components together: store, bus, auth
// chain, sync service, dispatcher, websocket handler, HTTP server.
type Application struct {
	config     *config.Config
	log        *zap.SugaredLogger
	store      interfaces.ResourceStore
	dialer     *broker.Dialer
	sync       *repository.Sync
	httpServer *http.Server
}

func NewApplication(cfg *config.Config, log *zap.SugaredLogger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := newStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("store init: %w", err)
	}

	// Open mode (no secret) accepts claimed identities and relaxes the
	// join gate; secured mode verifies tokens and restricts each user to
	// their own channel.
	open := cfg.Auth.Secret == ""
	var authenticator interfaces.Authenticator
	if open {
		authenticator = auth.NewChain(log, auth.AnonymousAuthenticator{})
	} else {
		authenticator = auth.NewChain(log,
			auth.NewTokenAuthenticator(auth.NewJWTVerifier(cfg.Auth.Secret), cfg.Auth.Secret),
		)
	}
	joins := auth.ChannelPolicy{Open: open}
	sends := auth.AllowAllSends{}

	var bus interfaces.Bus
	var dialer *broker.Dialer
	if cfg.Broker.URL != "" {
		dialer = broker.NewDialer(cfg.Broker.URL, log)
		bus = broker.NewBridge(dialer, sends, log)
	} else {
		bus = channel.NewRouter(sends, log)
	}

	syncService := repository.NewSync(store, log)
	if err := syncService.Start(context.Background(), bus); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("sync service start: %w", err)
	}

	dispatcher := relay.NewDispatcher(joins, log)
	wsHandler := ws.NewHandler(bus, authenticator, dispatcher, log)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		log:        log,
		store:      store,
		dialer:     dialer,
		sync:       syncService,
		httpServer: httpServer,
	}, nil
}

func newStore(cfg *config.Config) (interfaces.ResourceStore, error) {
	switch cfg.Store.Backend {
	case config.StoreSQLite:
		return repository.NewSQLiteStore(cfg.Store.SQLitePath)
	default:
		return repository.NewMemoryStore(), nil
	}
}

func (app *Application) Start() error {
	app.log.Infow("relay starting", "addr", app.httpServer.Addr,
		"store", app.config.Store.Backend, "broker", app.config.Broker.URL != "")

	errCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		app.log.Infow("relay started")
		return nil
	}
}

func (app *Application) Stop(ctx context.Context) {
	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.Warnw("http shutdown", "error", err)
	}
	if err := app.sync.Stop(); err != nil {
		app.log.Warnw("sync shutdown", "error", err)
	}
	if app.dialer != nil {
		if err := app.dialer.Close(); err != nil {
			app.log.Warnw("broker shutdown", "error", err)
		}
	}
	if err := app.store.Close(); err != nil {
		app.log.Warnw("store shutdown", "error", err)
	}
	app.log.Infow("relay stopped")
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	app, err := NewApplication(config.LoadFromEnv(), log)
	if err != nil {
		return err
	}
	if err := app.Start(); err != nil {
		return err
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalCh
	log.Infow("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	app.Stop(shutdownCtx)
	return nil
}
