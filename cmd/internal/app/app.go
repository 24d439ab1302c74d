// Package app wires the MicroHire realtime server: config, logging, HTTP
// routes, the WebSocket gateway, and the messaging and notification services.
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pranaynidhi/microhire-backend/cmd/internal/identity"
	"github.com/pranaynidhi/microhire-backend/cmd/internal/messaging"
	"github.com/pranaynidhi/microhire-backend/cmd/internal/notify"
	"github.com/pranaynidhi/microhire-backend/cmd/internal/realtime"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the MicroHire server runtime. It owns HTTP server wiring and the
// realtime gateway dependency graph.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	gateway *realtime.Gateway
	api     *APIHandler

	// Exposed so schedulers and business handlers outside this process slice
	// can emit notifications through the same fan-out path.
	Notifications *notify.Service
	Messages      *messaging.Service

	metricsReg *prometheus.Registry
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	st, dbPool, dbEnabled, deps, err := newStores(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	var metricsReg *prometheus.Registry
	var wsMetrics *realtime.Metrics
	if cfg.MetricsEnabled {
		metricsReg = NewMetricsRegistry()
		wsMetrics = realtime.NewMetrics(metricsReg)
	}

	verifier, err := identity.NewJWTVerifier([]byte(cfg.JWTSecret))
	if err != nil {
		return nil, err
	}
	auth, err := identity.NewAuthenticator(verifier, deps.directory)
	if err != nil {
		return nil, err
	}

	reg := realtime.NewRegistry(log)
	router := realtime.NewRouter(log, reg, wsMetrics)
	presence := realtime.NewPresence(log, router)

	messages, err := messaging.NewService(log, deps.messages, deps.directory, router)
	if err != nil {
		return nil, err
	}
	notifications, err := notify.NewService(log, deps.notifications, router)
	if err != nil {
		return nil, err
	}

	gw := realtime.NewGateway(log, reg, router, presence, auth, messages, wsMetrics)

	api, err := NewAPIHandler(log, auth, messages, notifications)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:           cfg,
		log:           log,
		store:         st,
		dbPool:        dbPool,
		dbEnabled:     dbEnabled,
		gateway:       gw,
		api:           api,
		Notifications: notifications,
		Messages:      messages,
		metricsReg:    metricsReg,
	}, nil
}

// Gateway exposes the realtime gateway (tests, smoke tooling).
func (a *App) Gateway() *realtime.Gateway { return a.gateway }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.gateway, a.api, a.metricsReg)

	var handler http.Handler = mux
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithSecurityHeaders(handler)
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"url", runtimeBaseURL(a.cfg.HTTPAddr),
		"ws", wsBaseURL(runtimeBaseURL(a.cfg.HTTPAddr))+"/ws",
		"db_enabled", a.dbEnabled,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a bind address into a URL a developer can click.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return "http://" + host + ":" + port
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}

type storeDeps struct {
	directory     identity.Directory
	messages      messaging.Store
	notifications notify.Store
}

// newStores decides between Postgres-backed persistence and the in-memory dev stores.
func newStores(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, storeDeps, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopStore{}, nil, false, storeDeps{
			directory:     devDirectory(log),
			messages:      messaging.NewMemoryStore(),
			notifications: notify.NewMemoryStore(),
		}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, storeDeps{}, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)

	// Ownership model:
	// - app owns pool lifecycle
	// - the per-package Postgres stores treat Close() as a no-op
	directory, err := identity.NewPostgresDirectory(pool, identity.WithDirectorySchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, storeDeps{}, err
	}
	msgStore, err := messaging.NewPostgresStore(pool, messaging.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, storeDeps{}, err
	}
	notifStore, err := notify.NewPostgresStore(pool, notify.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, storeDeps{}, err
	}

	deps := storeDeps{directory: directory, messages: msgStore, notifications: notifStore}
	return dbStore{pool: pool, messages: msgStore, notifications: notifStore}, pool, true, deps, nil
}

// devDirectory seeds the in-memory account directory from
// MICROHIRE_DEV_USERS ("id:name:role,id:name:role"). Without seeding, no
// credential can resolve and every connection would be rejected.
func devDirectory(log Logger) *identity.MemoryDirectory {
	dir := identity.NewMemoryDirectory()

	spec := EnvString("MICROHIRE_DEV_USERS", "7:Alice:student,42:Bob:employer")
	for _, entry := range strings.Split(spec, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
		if len(parts) != 3 {
			continue
		}
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil || id <= 0 {
			log.Warn("dev_users.skip", "entry", entry)
			continue
		}
		dir.Put(identity.Identity{ID: id, Name: parts[1], Role: parts[2]}, true)
	}
	return dir
}

type dbStore struct {
	pool          *pgxpool.Pool
	messages      messaging.Store
	notifications notify.Store
}

func (s dbStore) Close(_ context.Context) error {
	if s.messages != nil {
		_ = s.messages.Close()
	}
	if s.notifications != nil {
		_ = s.notifications.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
