package main

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	catchUpEvery = "every"
	catchUpOnce  = "once"
)

type HubOptions struct {
	HeartbeatInterval   time.Duration
	Retention           time.Duration
	CatchUpPolicy       string
	MissingDateDelivers bool
	Clock               clock.Clock
}

func HubOptionsFromConfig(cfg *Config) HubOptions {
	return HubOptions{
		HeartbeatInterval:   cfg.HeartbeatInterval,
		Retention:           cfg.Retention,
		CatchUpPolicy:       cfg.CatchUpPolicy,
		MissingDateDelivers: cfg.MissingDateDelivers,
	}
}

type hubEventKind int

const (
	eventRegister hubEventKind = iota
	eventUnregister
	eventInbound
)

// hubEvent travels on a single queue so that one connection's register,
// frames and unregister are handled in the order they happened.
type hubEvent struct {
	kind   hubEventKind
	client *Client
	data   []byte
}

// Hub owns the connection registry and the state cache. All mutations run
// on the goroutine executing Serve; the exported methods only enqueue work.
type Hub struct {
	opts     HubOptions
	clock    clock.Clock
	registry *Registry
	cache    *StateCache

	events   chan hubEvent
	notifyCh chan []byte
}

func NewHub(opts HubOptions) *Hub {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	if opts.CatchUpPolicy == "" {
		opts.CatchUpPolicy = catchUpEvery
	}
	return &Hub{
		opts:     opts,
		clock:    opts.Clock,
		registry: NewRegistry(),
		cache:    NewStateCache(opts.Clock, opts.Retention, opts.MissingDateDelivers),
		events:   make(chan hubEvent, 2048),
		notifyCh: make(chan []byte, 16),
	}
}

// Serve runs the hub until ctx is done. It satisfies suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	ticker := h.clock.Ticker(h.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n := h.closeAll()
			Log().Info().Int("clients_closed", n).Msg("hub stopped")
			return ctx.Err()

		case ev := <-h.events:
			h.handle(ev)

		case frame := <-h.notifyCh:
			h.notifyAll(frame)

		case <-ticker.C:
			h.heartbeat()
		}
	}
}

func (h *Hub) String() string { return "hub" }

func (h *Hub) Register(c *Client) {
	h.events <- hubEvent{kind: eventRegister, client: c}
}

func (h *Hub) Unregister(c *Client) {
	h.events <- hubEvent{kind: eventUnregister, client: c}
}

func (h *Hub) Inbound(c *Client, data []byte) {
	h.events <- hubEvent{kind: eventInbound, client: c, data: data}
}

// NotifyAll pushes a plain text frame to every open connection. It drops the
// notification when the queue is full; a refetch hint loses nothing by
// being coalesced.
func (h *Hub) NotifyAll(frame string) {
	select {
	case h.notifyCh <- []byte(frame):
	default:
		framesDropped.WithLabelValues("notify_queue_full").Inc()
	}
}

func (h *Hub) ClientCount() int { return h.registry.Len() }

func (h *Hub) RoomCount() int { return h.registry.RoomCount() }

func (h *Hub) handle(ev hubEvent) {
	switch ev.kind {
	case eventRegister:
		h.register(ev.client)
	case eventUnregister:
		h.unregister(ev.client)
	case eventInbound:
		h.dispatch(ev.client, ev.data)
	}
}

func (h *Hub) register(c *Client) {
	h.registry.Register(c)
	connections.Set(float64(h.registry.Len()))
	Log().Debug().Str("conn", c.shortID()).Str("ip", c.ip).Int("clients", h.registry.Len()).Msg("client connected")
}

func (h *Hub) unregister(c *Client) {
	if h.registry.Unregister(c) {
		Log().Debug().Str("conn", c.shortID()).Int("clients", h.registry.Len()).Msg("client disconnected")
	}
	c.Close()
	connections.Set(float64(h.registry.Len()))
}

// dispatch handles one inbound frame from c.
func (h *Hub) dispatch(c *Client, data []byte) {
	msg, err := DecodeMessage(data)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, ErrNotJSON) {
			reason = "malformed"
		}
		framesInbound.WithLabelValues(reason).Inc()
		Log().Warn().Err(err).Str("conn", c.shortID()).Msg("dropping inbound frame")
		return
	}
	framesInbound.WithLabelValues(msg.messageType()).Inc()

	switch m := msg.(type) {
	case InitRoute:
		h.announce(c, m.Route)
	case MoveMapCenter:
		if _, err := h.cache.Store(m); err != nil {
			Log().Error().Err(err).Str("path", m.Path).Msg("cache store failed")
		}
		cacheEntries.Set(float64(h.cache.Len()))
		h.broadcast(m.Path, TypeMoveMapCenter, data)
	case UpdateMap:
		h.broadcast(m.Path, TypeUpdateMap, data)
	case ResetMapCenter:
		h.broadcast(m.Path, TypeResetMapCenter, data)
	case Unknown:
		Log().Debug().Str("conn", c.shortID()).Str("type", m.Type).Msg("ignoring unknown frame type")
	}
}

// announce records c's route and sends it the retained state, if any.
func (h *Hub) announce(c *Client, route string) {
	first, ok := h.registry.SetRoute(c, route)
	if !ok {
		return
	}
	Log().Debug().Str("conn", c.shortID()).Str("route", route).Msg("route announced")

	if ClassifyRoute(route).Kind != RoomTeam {
		return
	}
	h.cache.Touch(route)
	cacheEntries.Set(float64(h.cache.Len()))

	if h.opts.CatchUpPolicy == catchUpOnce && !first {
		return
	}
	replay, ok := h.cache.CatchUp(route)
	if !ok {
		return
	}
	if c.sendText(replay) {
		catchUpReplays.Inc()
	}
}

// broadcast sends data to every open connection whose route receives path.
func (h *Hub) broadcast(path, kind string, data []byte) int {
	sent := 0
	for c, route := range h.registry.Snapshot() {
		if !Receives(path, route) {
			continue
		}
		if c.sendText(data) {
			sent++
		}
	}
	deliveries.WithLabelValues(kind).Add(float64(sent))
	Log().Debug().Str("path", path).Str("type", kind).Int("recipients", sent).Msg("broadcast")
	return sent
}

func (h *Hub) notifyAll(frame []byte) {
	sent := 0
	for c := range h.registry.Snapshot() {
		if c.sendText(frame) {
			sent++
		}
	}
	Log().Info().Int("recipients", sent).Msg("change notification pushed")
}

// heartbeat reaps connections that missed the previous probe and probes the
// rest with a ping and a keepalive text frame.
func (h *Hub) heartbeat() {
	keepalive := []byte(keepaliveFrame)
	for c := range h.registry.Snapshot() {
		if !c.alive.Load() {
			h.registry.Unregister(c)
			c.Close()
			reaped.Inc()
			Log().Info().Str("conn", c.shortID()).Msg("reaped unresponsive client")
			continue
		}
		c.alive.Store(false)
		c.enqueue(outFrame{ping: true})
		c.sendText(keepalive)
	}
	connections.Set(float64(h.registry.Len()))
}

func (h *Hub) closeAll() int {
	clients := h.registry.Snapshot()
	for c := range clients {
		h.registry.Unregister(c)
		c.Close()
	}
	connections.Set(0)
	return len(clients)
}
