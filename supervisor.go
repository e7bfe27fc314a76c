package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// httpService adapts Server to suture's Serve pattern.
type httpService struct {
	server          httpServer
	shutdownTimeout time.Duration
}

type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

func (h *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *httpService) String() string { return "http-server" }

// NewSupervisor builds the service tree: the hub and the optional change
// notifiers under "messaging", the listener and its limiter under "api".
func NewSupervisor(cfg *Config, hub *Hub, srv *Server, limiter *IPLimiter) *suture.Supervisor {
	handler := &sutureslog.Handler{Logger: newSlogLogger()}
	root := suture.New("maprelay", suture.Spec{
		EventHook: handler.MustHook(),
		Timeout:   cfg.ShutdownTimeout,
	})

	messaging := suture.NewSimple("messaging")
	messaging.Add(hub)
	for _, src := range changeSources(cfg) {
		messaging.Add(NewNotifier(src, hub))
	}

	api := suture.NewSimple("api")
	api.Add(limiter)
	api.Add(&httpService{server: srv, shutdownTimeout: cfg.ShutdownTimeout})

	root.Add(messaging)
	root.Add(api)
	return root
}
