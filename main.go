package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	format := cfg.LogFormat
	if cfg.IsDev() {
		format = "console"
	}
	InitLogging(cfg.LogLevel, format, os.Stderr)

	hub := NewHub(HubOptionsFromConfig(cfg))
	limiter := NewIPLimiter(cfg.RateLimitPerIP)
	srv := NewServer(cfg, hub, limiter)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	Log().Info().
		Str("mode", cfg.Mode).
		Str("addr", cfg.Addr).
		Dur("heartbeat", cfg.HeartbeatInterval).
		Dur("retention", cfg.Retention).
		Str("catch_up", cfg.CatchUpPolicy).
		Msg("relay starting")

	sup := NewSupervisor(cfg, hub, srv, limiter)
	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		Log().Error().Err(err).Msg("supervisor stopped with error")
	}

	if unstopped, _ := sup.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			Log().Warn().Str("service", svc.Name).Msg("service failed to stop")
		}
	}
	Log().Info().Msg("relay shut down")
}
