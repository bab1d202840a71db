package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"threadsync/pkg/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInitReturnsSingleton(t *testing.T) {
	reset()
	s := openTestStore(t)
	m1 := Init(s, "tok", nil)
	m2 := Init(s, "other", nil)
	if m1 != m2 {
		t.Fatalf("Init returned different managers")
	}
	if Get() != m1 {
		t.Fatalf("Get returned a different manager")
	}
	if m1.Token() != "tok" {
		t.Fatalf("second Init overwrote the token: %q", m1.Token())
	}
}

func TestSessionLazyCreate(t *testing.T) {
	reset()
	s := openTestStore(t)
	m := Init(s, "", nil)
	first := m.Session()
	if first.ID == "" {
		t.Fatalf("empty session id")
	}
	second := m.Session()
	if second.ID != first.ID {
		t.Fatalf("session recreated: %s != %s", second.ID, first.ID)
	}
	if got := s.GetSession(); got == nil || got.ID != first.ID {
		t.Fatalf("session not persisted")
	}
}

func TestMarkSynced(t *testing.T) {
	reset()
	s := openTestStore(t)
	m := Init(s, "", nil)
	m.Session()
	m.MarkSynced()
	got := s.GetSession()
	if got.LastSyncedTS == 0 {
		t.Fatalf("LastSyncedTS not set")
	}
}

func TestRefreshNow(t *testing.T) {
	reset()
	s := openTestStore(t)
	calls := 0
	m := Init(s, "old", func(context.Context) (string, error) {
		calls++
		switch calls {
		case 1:
			return "new", nil
		case 2:
			return "", nil // keep current
		default:
			return "", fmt.Errorf("backend down")
		}
	})
	m.Session()

	m.RefreshNow(context.Background())
	if m.Token() != "new" {
		t.Fatalf("token = %q", m.Token())
	}
	if got := s.GetSession(); got.LastRefreshTS == 0 {
		t.Fatalf("LastRefreshTS not set")
	}

	m.RefreshNow(context.Background())
	if m.Token() != "new" {
		t.Fatalf("empty refresh changed token to %q", m.Token())
	}

	m.RefreshNow(context.Background())
	if m.Token() != "new" {
		t.Fatalf("failed refresh changed token to %q", m.Token())
	}
}

func TestStartRefreshValidation(t *testing.T) {
	reset()
	s := openTestStore(t)
	m := Init(s, "", func(context.Context) (string, error) { return "", nil })
	if _, err := m.StartRefresh(context.Background(), time.Hour, "not a cron"); err == nil {
		t.Fatalf("invalid cron accepted")
	}
	stop, err := m.StartRefresh(context.Background(), time.Hour, "0 3 * * *")
	if err != nil {
		t.Fatalf("valid cron rejected: %v", err)
	}
	stop()
	m.Close()
}

func TestStartRefreshWithoutRefresherIsNoop(t *testing.T) {
	reset()
	s := openTestStore(t)
	m := Init(s, "", nil)
	stop, err := m.StartRefresh(context.Background(), time.Hour, "")
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	stop()
}
