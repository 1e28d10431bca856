package call

import (
	"strconv"
	"sync"
	"testing"

	"github.com/ashureev/callrelay/internal/domain"
)

func newBareSession(userID string) *Session {
	return &Session{userID: userID, callID: "call-" + userID}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry(nil)
	s := newBareSession("alice")

	if prev := r.Register("alice", s); prev != nil {
		t.Errorf("Expected no previous session, got %v", prev)
	}
	if got := r.Lookup("alice"); got != s {
		t.Errorf("Expected session %p, got %p", s, got)
	}
	if r.Lookup("bob") != nil {
		t.Error("Expected nil for unknown identity")
	}
}

func TestRegistry_RegisterReplacesAndReturnsPrevious(t *testing.T) {
	r := NewRegistry(nil)
	first := newBareSession("alice")
	second := newBareSession("alice")

	r.Register("alice", first)
	if prev := r.Register("alice", second); prev != first {
		t.Errorf("Expected previous session to be returned")
	}
	if r.Lookup("alice") != second {
		t.Error("Expected replacement to be active")
	}
	if r.Len() != 1 {
		t.Errorf("Expected one entry, got %d", r.Len())
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("alice", newBareSession("alice"))

	r.Unregister("alice")
	r.Unregister("alice")
	r.Unregister("nobody")

	if r.Lookup("alice") != nil {
		t.Error("Expected entry removed")
	}
}

func TestRegistry_ReleaseIgnoresStaleSession(t *testing.T) {
	r := NewRegistry(nil)
	stale := newBareSession("alice")
	current := newBareSession("alice")

	r.Register("alice", stale)
	r.Register("alice", current)

	if r.Release("alice", stale) {
		t.Error("Stale release must not remove the replacement")
	}
	if r.Lookup("alice") != current {
		t.Error("Replacement evicted by stale release")
	}
	if !r.Release("alice", current) {
		t.Error("Expected current session to be released")
	}
	if r.Lookup("alice") != nil {
		t.Error("Expected entry removed")
	}
}

func TestRegistry_TerminateAll(t *testing.T) {
	m := newTestManager(t, testDeps{})
	conns := []*fakeConn{{}, {}, {}}
	for i, c := range conns {
		m.Open("user"+strconv.Itoa(i), c)
	}

	if n := m.Registry().TerminateAll(domain.EndReasonShutdown); n != 3 {
		t.Errorf("Expected 3 terminated, got %d", n)
	}
	if m.Registry().Len() != 0 {
		t.Errorf("Expected empty registry, got %d", m.Registry().Len())
	}
	for i, c := range conns {
		if c.CloseCalls() != 1 {
			t.Errorf("Connection %d not closed", i)
		}
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "user" + strconv.Itoa(i%5)
			s := newBareSession(id)
			r.Register(id, s)
			_ = r.Lookup(id)
			_ = r.Snapshot()
			r.Release(id, s)
		}(i)
	}
	wg.Wait()

	if r.Len() > 5 {
		t.Errorf("Expected at most 5 entries, got %d", r.Len())
	}
}
