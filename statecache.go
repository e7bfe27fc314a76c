package main

import (
	"time"

	"github.com/benbjohnson/clock"
)

// cacheEntry holds the last moveMapCenter seen for a team room. msg is nil
// for a placeholder created when the room was first announced.
type cacheEntry struct {
	msg      *MoveMapCenter
	replay   []byte
	storedAt time.Time
}

// StateCache retains the latest map center per team room so late joiners
// can be caught up. Entries are never deleted; they only go stale.
//
// Not safe for concurrent use. The Hub goroutine owns it.
type StateCache struct {
	clock               clock.Clock
	retention           time.Duration
	missingDateDelivers bool
	entries             map[string]*cacheEntry
}

func NewStateCache(clk clock.Clock, retention time.Duration, missingDateDelivers bool) *StateCache {
	return &StateCache{
		clock:               clk,
		retention:           retention,
		missingDateDelivers: missingDateDelivers,
		entries:             make(map[string]*cacheEntry),
	}
}

// Touch creates an empty entry for a team route that has none yet.
func (s *StateCache) Touch(route string) {
	if ClassifyRoute(route).Kind != RoomTeam {
		return
	}
	if _, ok := s.entries[route]; !ok {
		s.entries[route] = &cacheEntry{}
	}
}

// Store retains m under its team path. A rulebook-addressed event replaces
// every existing entry instead and creates none. Other paths are ignored.
// It returns the number of entries written.
func (s *StateCache) Store(m MoveMapCenter) (int, error) {
	replay, err := m.replay()
	if err != nil {
		return 0, err
	}
	entry := func() *cacheEntry {
		msg := m
		return &cacheEntry{msg: &msg, replay: replay, storedAt: s.clock.Now()}
	}

	switch ClassifyRoute(m.Path).Kind {
	case RoomTeam:
		s.entries[m.Path] = entry()
		return 1, nil
	case RoomRulebook:
		for key := range s.entries {
			s.entries[key] = entry()
		}
		return len(s.entries), nil
	default:
		return 0, nil
	}
}

// CatchUp returns the replay frame for route if one is retained and still
// inside the retention window.
func (s *StateCache) CatchUp(route string) ([]byte, bool) {
	e, ok := s.entries[route]
	if !ok || e.msg == nil {
		return nil, false
	}

	sent, ok := e.msg.sentAt()
	if !ok {
		if !s.missingDateDelivers {
			return nil, false
		}
		return e.replay, true
	}
	if s.clock.Now().Sub(sent) > s.retention {
		return nil, false
	}
	return e.replay, true
}

func (s *StateCache) Len() int {
	return len(s.entries)
}
