package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// Frame types exchanged with browser clients.
const (
	TypeInitRoute        = "initRoute"
	TypeMoveMapCenter    = "moveMapCenter"
	TypeGetMoveMapCenter = "getMoveMapCenter"
	TypeUpdateMap        = "updateMap"
	TypeResetMapCenter   = "resetMapCenter"

	keepaliveFrame     = "keepalive"
	mapRedUpdatedFrame = "map_red_updated"
)

var (
	ErrNotJSON      = errors.New("frame is not a JSON object")
	ErrInvalidFrame = errors.New("frame failed validation")
)

var frameValidator = validator.New(validator.WithRequiredStructEnabled())

// Message is one decoded inbound frame. The concrete types are InitRoute,
// MoveMapCenter, UpdateMap, ResetMapCenter and Unknown.
type Message interface {
	messageType() string
}

type InitRoute struct {
	Route string `json:"route" validate:"required,startswith=/"`
}

type MoveMapCenter struct {
	Path string          `json:"path" validate:"required,startswith=/"`
	Data json.RawMessage `json:"data" validate:"required"`
	Date string          `json:"date"`
}

type UpdateMap struct {
	Path string          `json:"path" validate:"required,startswith=/"`
	Data json.RawMessage `json:"data" validate:"required"`
}

type ResetMapCenter struct {
	Path string `json:"path" validate:"required,startswith=/"`
}

// Unknown carries a well-formed frame whose type the relay does not handle.
type Unknown struct {
	Type string
}

func (InitRoute) messageType() string      { return TypeInitRoute }
func (MoveMapCenter) messageType() string  { return TypeMoveMapCenter }
func (UpdateMap) messageType() string      { return TypeUpdateMap }
func (ResetMapCenter) messageType() string { return TypeResetMapCenter }
func (u Unknown) messageType() string      { return u.Type }

// DecodeMessage parses a text frame. It never panics on hostile input; any
// frame that does not decode or validate returns an error and is dropped by
// the caller.
func DecodeMessage(data []byte) (Message, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}

	var msg Message
	switch env.Type {
	case TypeInitRoute:
		m := InitRoute{}
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		m.Route = NormalizeRoute(m.Route)
		msg = m
	case TypeMoveMapCenter:
		m := MoveMapCenter{}
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		m.Path = NormalizeRoute(m.Path)
		msg = m
	case TypeUpdateMap:
		m := UpdateMap{}
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		m.Path = NormalizeRoute(m.Path)
		msg = m
	case TypeResetMapCenter:
		m := ResetMapCenter{}
		if err := decodeInto(data, &m); err != nil {
			return nil, err
		}
		m.Path = NormalizeRoute(m.Path)
		msg = m
	default:
		msg = Unknown{Type: env.Type}
	}
	return msg, nil
}

func decodeInto(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	if err := frameValidator.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return nil
}

// replayFrame is the catch-up form of a retained moveMapCenter.
type replayFrame struct {
	Type string          `json:"type"`
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
	Date string          `json:"date,omitempty"`
}

func (m MoveMapCenter) replay() ([]byte, error) {
	return json.Marshal(replayFrame{
		Type: TypeGetMoveMapCenter,
		Path: m.Path,
		Data: m.Data,
		Date: m.Date,
	})
}

// sentAt parses the client-supplied ISO 8601 timestamp.
func (m MoveMapCenter) sentAt() (time.Time, bool) {
	if m.Date == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, m.Date)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
