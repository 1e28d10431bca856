package call

import (
	"context"
	"testing"
	"time"

	"github.com/ashureev/callrelay/internal/agent"
	"github.com/ashureev/callrelay/internal/domain"
)

func TestNewManager_RequiresPipeline(t *testing.T) {
	t.Parallel()

	if _, err := NewManager(ManagerConfig{}); err == nil {
		t.Error("Expected error without pipeline")
	}
}

func TestManager_OpenRecordsAndRegisters(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{}
	m := newTestManager(t, testDeps{ledger: ledger})

	s, prev := m.Open("alice", &fakeConn{})
	if prev != nil {
		t.Errorf("Expected no previous session")
	}
	if !s.Active() || s.CallID() == "" || s.UserID() != "alice" {
		t.Errorf("Unexpected session state: active=%v call_id=%q user=%q", s.Active(), s.CallID(), s.UserID())
	}
	if m.Registry().Lookup("alice") != s {
		t.Error("Session not registered")
	}

	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if len(ledger.inserted) != 1 || ledger.inserted[0].CallID != s.CallID() || ledger.inserted[0].UserID != "alice" {
		t.Errorf("Unexpected ledger inserts: %+v", ledger.inserted)
	}
}

func TestManager_SupersededSessionDoesNotEvictReplacement(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, testDeps{})
	oldConn := &fakeConn{}
	first, _ := m.Open("alice", oldConn)
	second, prev := m.Open("alice", &fakeConn{})

	if prev != first {
		t.Fatal("Expected first session returned as superseded")
	}
	if first.CallID() == second.CallID() {
		t.Error("Call ids must be unique")
	}

	prev.Terminate(domain.EndReasonSuperseded)

	if m.Registry().Lookup("alice") != second {
		t.Error("Replacement must stay registered after the old session ends")
	}
	if oldConn.CloseCalls() != 1 {
		t.Error("Superseded connection not closed")
	}
	if !second.Active() {
		t.Error("Replacement must stay active")
	}
}

func TestManager_Shutdown(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, testDeps{})
	a, _ := m.Open("a", &fakeConn{})
	b, _ := m.Open("b", &fakeConn{})

	if n := m.Shutdown(); n != 2 {
		t.Errorf("Expected 2 calls ended, got %d", n)
	}
	for _, s := range []*Session{a, b} {
		if s.Active() || s.EndReason() != domain.EndReasonShutdown {
			t.Errorf("Expected %s shut down, got active=%v reason=%q", s.UserID(), s.Active(), s.EndReason())
		}
	}
}

func TestManager_ShutdownJoinsTurnWorkers(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	m := newTestManager(t, testDeps{
		responder: agent.ResponderFunc(func(ctx context.Context, _ string, _ []domain.Turn) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		}),
		timeouts: Timeouts{Generate: time.Minute},
	})
	s, _ := m.Open("alice", &fakeConn{})
	if err := s.Submit([]byte("hello")); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("Turn never reached generation")
	}

	m.Shutdown()

	select {
	case <-s.queue.done:
	default:
		t.Error("Turn worker still running after Shutdown returned")
	}
}
