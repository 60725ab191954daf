// Package serverutil runs an HTTP server until its context is cancelled,
// then shuts it down gracefully.
package serverutil

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Runner is the server lifecycle serverutil drives. *server.Server
// satisfies it.
type Runner interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// DefaultShutdownTimeout bounds graceful shutdown when the context is cancelled.
const DefaultShutdownTimeout = 10 * time.Second

// Run starts the server and blocks until it stops on its own or the context
// is cancelled. Cancellation triggers a graceful shutdown bounded by
// shutdownTimeout; in-flight requests get that long to finish.
func Run(ctx context.Context, srv Runner, shutdownTimeout time.Duration) error {
	if srv == nil {
		return errors.New("server is required")
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-shutdownCtx.Done():
		if shutdownErr != nil {
			return shutdownErr
		}
		return shutdownCtx.Err()
	}

	return shutdownErr
}
