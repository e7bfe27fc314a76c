package main

import (
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func newTestCache(missingDateDelivers bool) (*StateCache, *clock.Mock) {
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	return NewStateCache(mock, time.Hour, missingDateDelivers), mock
}

func move(path string, date string) MoveMapCenter {
	return MoveMapCenter{Path: path, Data: []byte(`{"lat":1,"lng":2}`), Date: date}
}

func TestStateCache_TouchOnlyTeamRooms(t *testing.T) {
	s, _ := newTestCache(false)
	s.Touch("/red/teamA")
	s.Touch("/red/teamA")
	s.Touch("/red")
	s.Touch("/red/rulebook")
	s.Touch("/edit")

	if s.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", s.Len())
	}
	if _, ok := s.CatchUp("/red/teamA"); ok {
		t.Error("placeholder must not replay")
	}
}

func TestStateCache_StoreAndCatchUp(t *testing.T) {
	s, mock := newTestCache(false)
	n, err := s.Store(move("/red/teamA", mock.Now().Format(time.RFC3339)))
	if err != nil || n != 1 {
		t.Fatalf("Store = %d, %v", n, err)
	}

	replay, ok := s.CatchUp("/red/teamA")
	if !ok {
		t.Fatal("expected replay")
	}
	if !strings.HasPrefix(string(replay), `{"type":"getMoveMapCenter","path":"/red/teamA","data":{"lat":1,"lng":2}`) {
		t.Errorf("replay = %s", replay)
	}

	if _, ok := s.CatchUp("/red/teamB"); ok {
		t.Error("other rooms must not replay")
	}
}

func TestStateCache_RetentionWindow(t *testing.T) {
	s, mock := newTestCache(false)
	s.Store(move("/red/teamA", mock.Now().Format(time.RFC3339)))

	mock.Add(59 * time.Minute)
	if _, ok := s.CatchUp("/red/teamA"); !ok {
		t.Error("state inside the window should replay")
	}

	mock.Add(2 * time.Minute)
	if _, ok := s.CatchUp("/red/teamA"); ok {
		t.Error("state outside the window should not replay")
	}
	if s.Len() != 1 {
		t.Error("expired entries are kept")
	}

	s.Store(move("/red/teamA", mock.Now().Format(time.RFC3339)))
	if _, ok := s.CatchUp("/red/teamA"); !ok {
		t.Error("a newer event supersedes the expired one")
	}
}

func TestStateCache_MissingOrInvalidDate(t *testing.T) {
	for _, date := range []string{"", "not-a-date"} {
		strict, _ := newTestCache(false)
		strict.Store(move("/red/teamA", date))
		if _, ok := strict.CatchUp("/red/teamA"); ok {
			t.Errorf("date %q: treated as expired by default", date)
		}

		lenient, _ := newTestCache(true)
		lenient.Store(move("/red/teamA", date))
		if _, ok := lenient.CatchUp("/red/teamA"); !ok {
			t.Errorf("date %q: should replay when missing dates deliver", date)
		}
	}
}

func TestStateCache_RulebookOverwritesExistingOnly(t *testing.T) {
	s, mock := newTestCache(false)
	s.Touch("/red/teamA")
	s.Store(move("/red/teamB", mock.Now().Format(time.RFC3339)))

	n, err := s.Store(move("/red/rulebook", mock.Now().Format(time.RFC3339)))
	if err != nil || n != 2 {
		t.Fatalf("Store = %d, %v", n, err)
	}
	if s.Len() != 2 {
		t.Errorf("rulebook must not add entries, got %d", s.Len())
	}

	for _, route := range []string{"/red/teamA", "/red/teamB"} {
		replay, ok := s.CatchUp(route)
		if !ok || !strings.Contains(string(replay), `"path":"/red/rulebook"`) {
			t.Errorf("%s replay = %s, %v", route, replay, ok)
		}
	}
}

func TestStateCache_IgnoresOtherPaths(t *testing.T) {
	s, mock := newTestCache(false)
	for _, p := range []string{"/red", "/edit/map", "/red/a/b"} {
		if n, _ := s.Store(move(p, mock.Now().Format(time.RFC3339))); n != 0 {
			t.Errorf("Store(%q) wrote %d entries", p, n)
		}
	}
	if s.Len() != 0 {
		t.Errorf("cache should be empty, got %d", s.Len())
	}
}
