// Package relay provides the chat streaming relay: an HTTP endpoint that takes
// a whole conversation, opens a completion stream against the configured
// backend and forwards the model's output to the caller chunk by chunk.
//
// The relay is stateless. Clients resend the full conversation on every turn
// and no request shares mutable state with another. The optional transcript
// archive only ever receives completed turns.
package relay

import (
	"expvar"
	"net"
	"sync/atomic"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/papercomputeco/staffdesk/pkg/auth"
	"github.com/papercomputeco/staffdesk/pkg/backend"
	"github.com/papercomputeco/staffdesk/pkg/config"
	"github.com/papercomputeco/staffdesk/pkg/llm"
	"github.com/papercomputeco/staffdesk/pkg/merkle"
)

// settings is the part of the configuration that can change while serving.
// Requests read one snapshot and keep it for their whole lifetime.
type settings struct {
	model         string
	maxDuration   time.Duration
	allowOverride bool
	options       *llm.Options
}

// Relay is the chat streaming relay server.
type Relay struct {
	listenAddr string
	backend    backend.Backend
	archive    merkle.Storer
	auth       *auth.Authenticator
	demo       bool
	logger     *zap.Logger
	server     *fiber.App

	settings atomic.Pointer[settings]
}

// New creates a Relay. archive may be nil, which disables the transcript
// archive and its history endpoints.
func New(cfg *config.Config, be backend.Backend, archive merkle.Storer, logger *zap.Logger) (*Relay, error) {
	r := &Relay{
		listenAddr: cfg.Server.ListenAddr,
		backend:    be,
		archive:    archive,
		demo:       cfg.Demo.Enabled,
		logger:     logger,
	}
	r.Apply(cfg)

	if cfg.Auth.JWTSecret != "" {
		a, err := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Duration)
		if err != nil {
			return nil, err
		}
		r.auth = a
	} else {
		logger.Warn("no auth.jwt_secret configured, chat routes accept anonymous requests")
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		// Enable streaming
		StreamRequestBody: true,
		ErrorHandler:      r.handleError,
	})
	app.Use(recover.New())
	app.Use(requestID)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok", "backend": be.Name()})
	})
	app.Get("/debug/vars", adaptor.HTTPHandler(expvar.Handler()))

	app.Post("/api/chat", r.requireAuth, r.handleChat)
	app.Get("/api/chat/history", r.requireAuth, r.handleListHistories)
	app.Get("/api/chat/history/:id", r.requireAuth, r.handleGetHistory)
	app.Get("/api/archive/stats", r.requireAuth, r.handleArchiveStats)

	r.server = app
	return r, nil
}

// OpenArchive opens the transcript archive described by cfg, or returns nil
// when archiving is disabled.
func OpenArchive(cfg config.Archive, logger *zap.Logger) (merkle.Storer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Path == "" || cfg.Path == ":memory:" {
		logger.Info("using in-memory transcript archive")
		return merkle.NewMemoryStorer(), nil
	}
	storer, err := merkle.NewSQLiteStorer(cfg.Path)
	if err != nil {
		return nil, err
	}
	logger.Info("using SQLite transcript archive", zap.String("path", cfg.Path))
	return storer, nil
}

// Apply swaps in the reloadable settings of cfg. In-flight requests keep the
// snapshot they started with.
func (r *Relay) Apply(cfg *config.Config) {
	opts := cfg.Backend.Options
	r.settings.Store(&settings{
		model:         cfg.Relay.Model,
		maxDuration:   cfg.Relay.MaxDuration.Duration,
		allowOverride: cfg.Relay.AllowModelOverride,
		options:       &opts,
	})
	r.logger.Info("relay settings applied",
		zap.String("model", cfg.Relay.Model),
		zap.Duration("max_duration", cfg.Relay.MaxDuration.Duration),
	)
}

// Run starts the relay server on the configured listening address.
func (r *Relay) Run() error {
	r.logger.Info("starting relay server",
		zap.String("listen", r.listenAddr),
		zap.String("backend", r.backend.Name()),
	)

	return r.server.Listen(r.listenAddr)
}

// RunWithListener serves on an existing listener.
func (r *Relay) RunWithListener(ln net.Listener) error {
	r.logger.Info("starting relay server",
		zap.String("listen", ln.Addr().String()),
		zap.String("backend", r.backend.Name()),
	)

	return r.server.Listener(ln)
}

// Shutdown stops accepting connections and waits up to timeout for open
// streams. Streams are bounded by the relay's max duration anyway.
func (r *Relay) Shutdown(timeout time.Duration) error {
	return r.server.ShutdownWithTimeout(timeout)
}

// Close releases the backend and the archive.
func (r *Relay) Close() error {
	err := r.backend.Close()
	if r.archive != nil {
		if cerr := r.archive.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
