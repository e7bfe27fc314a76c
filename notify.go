package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nats-io/nats.go"
)

// Change is one out-of-band "data changed, refetch" signal.
type Change struct {
	Source  string
	Channel string
	Payload string
}

// ChangeSource delivers row-change signals until ctx is done or the
// underlying connection fails.
type ChangeSource interface {
	Listen(ctx context.Context, fn func(Change)) error
	String() string
}

// Notifier forwards every change from its source to all connected clients
// as the plain text frame "map_red_updated". Returned errors let the
// supervisor restart it with backoff.
type Notifier struct {
	source ChangeSource
	target Broadcaster
}

// Broadcaster is the part of the Hub the notifier needs.
type Broadcaster interface {
	NotifyAll(frame string)
}

func NewNotifier(source ChangeSource, target Broadcaster) *Notifier {
	return &Notifier{source: source, target: target}
}

func (n *Notifier) Serve(ctx context.Context) error {
	Log().Info().Str("source", n.source.String()).Msg("change notifier started")
	err := n.source.Listen(ctx, n.forward)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		err = errors.New("change source stopped")
	}
	Log().Warn().Err(err).Str("source", n.source.String()).Msg("change notifier failed")
	return err
}

func (n *Notifier) String() string { return "notifier-" + n.source.String() }

func (n *Notifier) forward(c Change) {
	notifications.WithLabelValues(c.Source).Inc()
	Log().Info().Str("source", c.Source).Str("channel", c.Channel).Msg("change notification received")
	n.target.NotifyAll(mapRedUpdatedFrame)
}

// PostgresSource LISTENs on a PostgreSQL NOTIFY channel.
type PostgresSource struct {
	DSN     string
	Channel string
}

func (p *PostgresSource) String() string { return "postgres" }

func (p *PostgresSource) Listen(ctx context.Context, fn func(Change)) error {
	conn, err := pgx.Connect(ctx, p.DSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{p.Channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", p.Channel, err)
	}
	Log().Info().Str("channel", p.Channel).Msg("postgres LISTEN started")

	for {
		note, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		if note.Channel != p.Channel {
			continue
		}
		fn(Change{Source: "postgres", Channel: note.Channel, Payload: note.Payload})
	}
}

// NATSSource subscribes to a subject carrying row-change events.
type NATSSource struct {
	URL     string
	Subject string
}

func (s *NATSSource) String() string { return "nats" }

func (s *NATSSource) Listen(ctx context.Context, fn func(Change)) error {
	nc, err := nats.Connect(s.URL,
		nats.Name("maprelay"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer nc.Close()

	closed := make(chan struct{})
	nc.SetClosedHandler(func(*nats.Conn) { close(closed) })

	sub, err := nc.Subscribe(s.Subject, func(m *nats.Msg) {
		fn(Change{Source: "nats", Channel: m.Subject, Payload: string(m.Data)})
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.Subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()
	Log().Info().Str("subject", s.Subject).Msg("nats subscription started")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-closed:
		return errors.New("nats connection closed")
	}
}

// changeSources returns the sources enabled by cfg.
func changeSources(cfg *Config) []ChangeSource {
	var out []ChangeSource
	if cfg.PostgresDSN != "" {
		out = append(out, &PostgresSource{DSN: cfg.PostgresDSN, Channel: cfg.NotifyChannel})
	}
	if cfg.NATSURL != "" {
		out = append(out, &NATSSource{URL: cfg.NATSURL, Subject: cfg.NATSSubject})
	}
	return out
}
