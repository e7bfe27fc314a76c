// E2E test: drives a live relay with viewer, editor and sender connections.
// Usage: go run ./cmd/e2etest -relay ws://localhost:8443/ws
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	relayURL = flag.String("relay", "ws://localhost:8443/ws", "relay WebSocket URL")
	team     = flag.String("team", "e2eA", "team id used for the isolation checks")
	other    = flag.String("other", "e2eB", "team id that must not receive the team's frames")
)

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).With().Timestamp().Logger()

type frame struct {
	Type string          `json:"type"`
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
	Date string          `json:"date"`
}

func main() {
	flag.Parse()

	teamPath := "/red/" + *team
	otherPath := "/red/" + *other

	viewer := mustJoin(teamPath)
	defer viewer.Close()
	bystander := mustJoin(otherPath)
	defer bystander.Close()
	editor := mustJoin("/edit/map")
	defer editor.Close()

	sender, err := dial()
	if err != nil {
		log.Fatal().Err(err).Msg("sender connect")
	}
	defer sender.Close()

	move := map[string]any{
		"type": "moveMapCenter",
		"path": teamPath,
		"data": map[string]any{"lat": 35.68, "lng": 139.76, "title": "e2e", "description": "relay smoke test"},
		"date": time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
	}
	log.Info().Str("path", teamPath).Msg(">> sending moveMapCenter")
	if err := sender.WriteJSON(move); err != nil {
		log.Fatal().Err(err).Msg("send moveMapCenter")
	}

	expect(viewer, "moveMapCenter", "viewer")
	expect(editor, "moveMapCenter", "editor")
	expectNothing(bystander, "bystander")

	log.Info().Msg(">> late joiner announcing the same room")
	late := mustJoin(teamPath)
	defer late.Close()
	expect(late, "getMoveMapCenter", "late joiner")

	fmt.Println()
	log.Info().Msg("═══════════════════════════════")
	log.Info().Msg("  E2E TEST PASSED ✓")
	log.Info().Msg("═══════════════════════════════")
	os.Exit(0)
}

func dial() (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(*relayURL, nil)
	return conn, err
}

func mustJoin(route string) *websocket.Conn {
	conn, err := dial()
	if err != nil {
		log.Fatal().Err(err).Str("route", route).Msg("connect")
	}
	if err := conn.WriteJSON(map[string]string{"type": "initRoute", "route": route}); err != nil {
		log.Fatal().Err(err).Str("route", route).Msg("initRoute")
	}
	log.Info().Str("route", route).Msg("   joined ✓")
	return conn
}

// next reads until a JSON frame arrives, skipping keepalive text.
func next(conn *websocket.Conn, wait time.Duration) (*frame, error) {
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 || data[0] != '{' {
			continue
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		return &f, nil
	}
}

func expect(conn *websocket.Conn, kind, who string) {
	f, err := next(conn, 5*time.Second)
	if err != nil {
		log.Fatal().Err(err).Str("who", who).Msg("no frame received")
	}
	if f.Type != kind {
		log.Fatal().Str("who", who).Str("got", f.Type).Str("want", kind).Msg("unexpected frame")
	}
	log.Info().Str("who", who).Str("type", f.Type).Str("path", f.Path).Msg("   received ✓")
}

func expectNothing(conn *websocket.Conn, who string) {
	f, err := next(conn, time.Second)
	var netErr interface{ Timeout() bool }
	if err != nil && errors.As(err, &netErr) && netErr.Timeout() {
		log.Info().Str("who", who).Msg("   nothing received ✓")
		return
	}
	if err != nil {
		log.Fatal().Err(err).Str("who", who).Msg("read failed")
	}
	log.Fatal().Str("who", who).Str("type", f.Type).Msg("frame leaked across rooms")
}
