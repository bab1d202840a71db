package models

import (
	"strconv"
	"testing"
)

func TestNewLocalThreadIDs(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		th := NewLocalThread("")
		n, err := strconv.ParseInt(th.ID, 10, 64)
		if err != nil || n >= 0 {
			t.Fatalf("id %q is not a negative integer", th.ID)
		}
		if seen[th.ID] {
			t.Fatalf("duplicate local id %q", th.ID)
		}
		seen[th.ID] = true
		if !th.IsLocal() || th.State != ThreadLocal {
			t.Fatalf("thread = %+v", th)
		}
		if th.Meta.LocalThreadID != th.ID {
			t.Fatalf("meta local id = %q", th.Meta.LocalThreadID)
		}
	}
}

func TestIsLocalID(t *testing.T) {
	if !IsLocalID("-17") || IsLocalID("17") || IsLocalID("") {
		t.Fatalf("IsLocalID sign convention broken")
	}
}

func TestValidThreadID(t *testing.T) {
	cases := map[string]bool{
		"12":  true,
		"-12": true,
		"0":   false,
		"abc": false,
		"":    false,
	}
	for id, want := range cases {
		if got := ValidThreadID(id); got != want {
			t.Fatalf("ValidThreadID(%q) = %v", id, got)
		}
	}
}

func TestNormalizeClearsDoubleVote(t *testing.T) {
	m := NewMessage("-1", RoleAssistant, "x")
	m.Meta.IsUpvote = true
	m.Meta.IsDownvote = true
	m.Normalize()
	if m.Meta.IsUpvote || m.Meta.IsDownvote {
		t.Fatalf("double vote survived: %+v", m.Meta)
	}
	// a single set flag is left alone
	m.Meta.IsUpvote = true
	m.Normalize()
	if !m.Meta.IsUpvote {
		t.Fatalf("single vote cleared")
	}
}

func TestNewMessageFields(t *testing.T) {
	m := NewMessage("-7", RoleUser, "hello")
	if m.ID == "" || m.Thread != "-7" || m.Role != RoleUser || m.CreatedTS == 0 {
		t.Fatalf("message = %+v", m)
	}
	m2 := NewMessage("-7", RoleUser, "hello")
	if m2.ID == m.ID {
		t.Fatalf("message ids must be unique")
	}
}
