package main

import (
	"regexp"
	"strings"
)

const (
	rulebookPath = "/red/rulebook"
	editorPrefix = "/edit"
)

var teamRoutePattern = regexp.MustCompile(`^/red/[A-Za-z0-9]+$`)

type RoomKind int

const (
	RoomOther RoomKind = iota
	RoomTeam
	RoomRulebook
	RoomEditor
)

func (k RoomKind) String() string {
	switch k {
	case RoomTeam:
		return "team"
	case RoomRulebook:
		return "rulebook"
	case RoomEditor:
		return "editor"
	default:
		return "other"
	}
}

// Room is the classification of a route. TeamID is set only for RoomTeam.
type Room struct {
	Kind   RoomKind
	TeamID string
}

// NormalizeRoute drops a single trailing slash, keeping "/" as is.
func NormalizeRoute(route string) string {
	if len(route) > 1 && strings.HasSuffix(route, "/") {
		return route[:len(route)-1]
	}
	return route
}

// ClassifyRoute maps a (normalized) route onto its room.
//
//	/red/rulebook  -> rulebook
//	/red/<alnum>   -> team
//	/edit...       -> editor
//	anything else  -> other (including /red, /red/a/b, /red/edit/...)
func ClassifyRoute(route string) Room {
	switch {
	case route == rulebookPath:
		return Room{Kind: RoomRulebook}
	case teamRoutePattern.MatchString(route):
		return Room{Kind: RoomTeam, TeamID: route[len("/red/"):]}
	case strings.HasPrefix(route, editorPrefix):
		return Room{Kind: RoomEditor}
	default:
		return Room{Kind: RoomOther}
	}
}

// Receives reports whether a listener on listenerRoute should get a frame
// addressed to targetPath.
func Receives(targetPath, listenerRoute string) bool {
	listener := ClassifyRoute(listenerRoute)
	if listener.Kind == RoomEditor {
		return ClassifyRoute(targetPath).Kind.broadcasts()
	}

	switch ClassifyRoute(targetPath).Kind {
	case RoomTeam:
		return listenerRoute == targetPath
	case RoomRulebook:
		return listener.Kind == RoomTeam
	default:
		return false
	}
}

func (k RoomKind) broadcasts() bool {
	return k == RoomTeam || k == RoomRulebook
}
