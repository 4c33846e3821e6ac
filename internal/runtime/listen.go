package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds graceful shutdown of the local server.
const ShutdownTimeout = 30 * time.Second

// ListenAndServe runs the long-running server on the configured port until
// ctx is cancelled, then drains in-flight requests and closes the store.
// Requests go through Invoke, so a store that was not connected eagerly is
// connected by the first request.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort("", strconv.Itoa(g.cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return g.serve(ctx, ln)
}

func (g *Gateway) serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           g,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("starting server", slog.String("addr", ln.Addr().String()))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		g.logger.Info("shutdown signal received, stopping server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(shutdownCtx)
		return errors.Join(err, g.Shutdown(shutdownCtx))
	})

	if err := eg.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	g.logger.Info("server stopped gracefully")
	return nil
}
