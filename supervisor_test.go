package main

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

type fakeHTTPServer struct {
	listenErr error
	stop      chan struct{}
	shutdowns int
}

func newFakeHTTPServer(listenErr error) *fakeHTTPServer {
	return &fakeHTTPServer{listenErr: listenErr, stop: make(chan struct{})}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(context.Context) error {
	f.shutdowns++
	close(f.stop)
	return nil
}

func TestHTTPService_ShutsDownOnCancel(t *testing.T) {
	fake := newFakeHTTPServer(nil)
	svc := &httpService{server: fake, shutdownTimeout: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	if fake.shutdowns != 1 {
		t.Errorf("Shutdown called %d times, want 1", fake.shutdowns)
	}
}

func TestHTTPService_ListenFailure(t *testing.T) {
	boom := errors.New("address in use")
	svc := &httpService{server: newFakeHTTPServer(boom), shutdownTimeout: time.Second}

	err := svc.Serve(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("Serve = %v, want wrapped %v", err, boom)
	}
}

func TestNewSupervisor_Stops(t *testing.T) {
	cfg := testConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	hub := NewHub(HubOptionsFromConfig(cfg))
	limiter := NewIPLimiter(cfg.RateLimitPerIP)
	sup := NewSupervisor(cfg, hub, NewServer(cfg, hub, limiter), limiter)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}
