package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/zjrosen/deepfocus/internal/log"
)

// Serve exposes /metrics on addr until ctx is done. The listener is bound
// before Serve returns so bind errors surface to the caller.
func (m *Metrics) Serve(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ErrorErr(log.CatEngine, "metrics server stopped", err, "addr", addr)
		}
	}()

	log.Info(log.CatEngine, "metrics server listening", "addr", ln.Addr().String())
	return ln.Addr(), nil
}
