// ABOUTME: Gateway orchestrator that wires the stores, the LINE client and the HTTP server
// ABOUTME: Owns the webhook endpoint, the admin API and the announcement delivery loop lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/courier/internal/announce"
	"github.com/2389/courier/internal/auth"
	"github.com/2389/courier/internal/config"
	"github.com/2389/courier/internal/conversation"
	"github.com/2389/courier/internal/dedupe"
	"github.com/2389/courier/internal/directory"
	"github.com/2389/courier/internal/line"
	"github.com/2389/courier/internal/store"
)

// Gateway orchestrates the courier server components.
type Gateway struct {
	config        *config.Config
	directory     *directory.Store
	announcements *announce.Store
	ledger        store.Ledger
	machine       *conversation.Machine
	deliverer     *announce.Deliverer
	httpServer    *http.Server
	logger        *slog.Logger

	// dedupe drops webhook redeliveries already handled
	dedupe *dedupe.Filter

	// verifier guards the admin API; nil when no secret is configured
	verifier auth.TokenVerifier

	// deliveryDone is closed when the delivery loop returns
	deliveryDone   chan struct{}
	stopDelivery   context.CancelFunc
	deliveryMu     sync.Mutex
	shutdownOnce   sync.Once
	shutdownResult error
}

// New creates a gateway from configuration. Storage locations are opened
// eagerly so misconfiguration fails at startup.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base := logger
	logger = logger.With("component", "gateway")

	dir, err := directory.New(cfg.Storage.DirectoryFile, base)
	if err != nil {
		return nil, fmt.Errorf("opening directory: %w", err)
	}

	announcements, err := announce.NewStore(cfg.Storage.AnnouncementFile, cfg.Storage.HistoryDir, base)
	if err != nil {
		return nil, fmt.Errorf("opening announcement store: %w", err)
	}

	ledger, err := store.NewSQLiteStore(cfg.Storage.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	client := line.NewClient(line.ClientConfig{
		BaseURL:     cfg.Line.APIBaseURL,
		AccessToken: cfg.Line.ChannelAccessToken,
		PushRate:    cfg.Line.PushRate,
		PushBurst:   cfg.Line.PushBurst,
		Logger:      base,
	})

	g := &Gateway{
		config:        cfg,
		directory:     dir,
		announcements: announcements,
		ledger:        ledger,
		dedupe:        dedupe.New(cfg.Bot.DedupeTTL, cfg.Bot.DedupeMaxEntries),
		logger:        logger,
	}

	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			_ = ledger.Close()
			g.dedupe.Close()
			return nil, fmt.Errorf("creating token verifier: %w", err)
		}
		g.verifier = verifier
	} else {
		logger.Warn("auth.jwt_secret not set, admin API disabled")
	}

	g.machine = conversation.New(conversation.Config{
		Directory: dir,
		Gateway:   client,
		Ledger:    ledger,
		IntroURL:  cfg.Bot.IntroURL,
		Logger:    base,
	})
	g.deliverer = announce.NewDeliverer(announce.DelivererConfig{
		Store:        announcements,
		Pusher:       client,
		Ledger:       ledger,
		Interval:     cfg.Delivery.Interval,
		ErrorBackoff: cfg.Delivery.ErrorBackoff,
		Logger:       base,
	})

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// Handler returns the HTTP routes served by the gateway.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/callback", g.handleCallback)
	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	if g.verifier != nil {
		r.Route("/api", func(r chi.Router) {
			r.Use(auth.RequireAdmin(g.verifier))
			r.Get("/users", g.handleListUsers)
			r.Get("/announcements/active", g.handleActiveAnnouncement)
			r.Post("/announcements", g.handleCreateAnnouncement)
			r.Get("/announcements/history", g.handleHistory)
			r.Get("/announcements/history/{name}", g.handleGetArchived)
			r.Get("/announcements/{messageID}/deliveries", g.handleListDeliveries)
			r.Get("/relays", g.handleListRelays)
			r.Get("/relays/{relayID}", g.handleGetRelay)
		})
	}
	return r
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// startDelivery runs the announcement loop until Shutdown stops it.
func (g *Gateway) startDelivery() {
	g.deliveryMu.Lock()
	defer g.deliveryMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	g.stopDelivery = cancel
	g.deliveryDone = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		g.deliverer.Run(ctx)
	}(g.deliveryDone)
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run serves HTTP and drives the delivery loop until ctx is canceled.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}

	errCh := g.startServer(ln)
	g.startDelivery()

	serverErr := g.waitForShutdownSignal(ctx, errCh)
	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The caller's context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and the delivery loop, then closes the ledger.
// It is safe to call more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.shutdownResult = g.shutdown(ctx)
	})
	return g.shutdownResult
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "delivery loop", g.stopDeliveryLoop(ctx))
	errs = appendCloseError(errs, "ledger close", g.ledger.Close())
	g.dedupe.Close()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// stopDeliveryLoop cancels the loop and waits for the current cycle to save
// its progress.
func (g *Gateway) stopDeliveryLoop(ctx context.Context) error {
	g.deliveryMu.Lock()
	cancel, done := g.stopDelivery, g.deliveryDone
	g.deliveryMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the user directory can be read.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	n, err := g.directory.Count(r.Context())
	if err != nil {
		g.logger.Error("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("directory unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d users)", n)
}
