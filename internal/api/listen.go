package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/banshee-data/gesture/internal/monitoring"
)

// ShutdownTimeout bounds the graceful shutdown once ctx is cancelled.
const ShutdownTimeout = time.Second

// Serve runs h on ln until ctx is cancelled, then shuts the server down.
func Serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	server := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	monitoring.Logf("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Warnf("HTTP server shutdown error: %v", err)
		// force close the server if graceful shutdown fails
		if err := server.Close(); err != nil {
			monitoring.Warnf("HTTP server force close error: %v", err)
		}
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	monitoring.Logf("HTTP server listening on %s", ln.Addr())
	return Serve(ctx, ln, h)
}
