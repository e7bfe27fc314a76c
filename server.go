package main

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Server struct {
	cfg     *Config
	hub     *Hub
	srv     *http.Server
	limiter *IPLimiter
	filter  *IPFilter
}

func NewServer(cfg *Config, hub *Hub, limiter *IPLimiter) *Server {
	s := &Server{
		cfg:     cfg,
		hub:     hub,
		limiter: limiter,
	}
	if ips := cfg.allowedIPList(); len(ips) > 0 && !cfg.IsDev() {
		s.filter = NewIPFilter(ips)
	}

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Routes builds the HTTP surface. The page-serving application mounts its
// own handler next to this one on the same listener.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(600, time.Minute))
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Handle("/metrics", promhttp.Handler())
	})

	r.Group(func(r chi.Router) {
		if s.filter != nil {
			r.Use(s.filter.Middleware)
		}
		r.Get("/ws", s.handleWS)
	})
	return r
}

func (s *Server) ListenAndServe() error {
	if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
		s.srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		Log().Info().Str("addr", s.cfg.Addr).Str("cert", s.cfg.TLSCert).Msg("relay listening (wss)")
		return s.srv.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
	}
	Log().Info().Str("addr", s.cfg.Addr).Msg("relay listening (ws, TLS disabled)")
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type statusResponse struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statusResponse{
		Connections: s.hub.ClientCount(),
		Rooms:       s.hub.RoomCount(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if !s.limiter.Allow(ip) {
		upgradesRejected.WithLabelValues("rate_limited").Inc()
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		upgradesRejected.WithLabelValues("upgrade_failed").Inc()
		Log().Debug().Err(err).Str("ip", ip).Msg("upgrade failed")
		return
	}
	conn.SetReadLimit(s.cfg.MaxMessageSize)

	client := NewClient(s.hub, conn, ip, newFrameLimiter(s.cfg.FramesPerSecond))
	s.hub.Register(client)
	client.Start()
}

// clientIP returns the remote host; middleware.RealIP has already applied
// X-Forwarded-For / X-Real-IP.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
