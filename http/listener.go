package http

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	log "github.com/stephnangue/bastion/logger"
)

// Listener owns the HTTP server lifecycle: it serves the gateway
// handler until its context is canceled, then shuts down gracefully.
type Listener struct {
	logger          log.Logger
	server          *http.Server
	shutdownTimeout time.Duration
	stopped         atomic.Bool
}

type ListenerConfig struct {
	Logger  log.Logger
	Address string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func NewListener(cfg ListenerConfig, handler http.Handler) *Listener {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Minute
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	return &Listener{
		logger:          cfg.Logger.WithSubsystem("http.listener"),
		shutdownTimeout: cfg.ShutdownTimeout,
		server: &http.Server{
			Addr:         cfg.Address,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

func (l *Listener) Addr() string {
	return l.server.Addr
}

// Start serves until the context is canceled or the server fails.
func (l *Listener) Start(ctx context.Context) error {
	l.logger.Info("starting HTTP server", log.String("address", l.server.Addr))

	errChan := make(chan error, 1)
	go func() {
		err := l.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		l.logger.Info("shutdown signal received")
		return l.Stop()
	case err := <-errChan:
		l.logger.Error("HTTP server error", log.Err(err))
		return err
	}
}

// Stop drains in-flight requests, bounded by a shutdown timeout.
func (l *Listener) Stop() error {
	if !l.stopped.CompareAndSwap(false, true) {
		return nil
	}

	l.logger.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer cancel()

	if err := l.server.Shutdown(ctx); err != nil {
		l.logger.Error("error shutting down HTTP server", log.Err(err))
		return err
	}
	return nil
}
