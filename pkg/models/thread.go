package models

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// ThreadState tracks where a thread sits in the local->server identity
// handshake. The id sign convention (negative = local, positive =
// confirmed) is part of the stored contract; State makes it explicit so
// callers do not parse ids.
type ThreadState string

const (
	// ThreadLocal means the thread exists only on this device; its id is a
	// negative integer string minted at creation time.
	ThreadLocal ThreadState = "local"
	// ThreadMigrating means a server id has been assigned and the record
	// rewrite is in flight. Both ids are present in Meta during this window.
	ThreadMigrating ThreadState = "migrating"
	// ThreadConfirmed means the thread id is the server-assigned one.
	ThreadConfirmed ThreadState = "confirmed"
)

// ThreadMeta carries identity bookkeeping that survives migration.
// ServerThreadID and LocalThreadID may both be set during the migration
// window; afterwards LocalThreadID is audit trail only.
type ThreadMeta struct {
	ServerThreadID string `json:"server_thread_id,omitempty"`
	LocalThreadID  string `json:"local_thread_id,omitempty"`
}

// Thread is one conversation. ID is the string encoding of an integer:
// negative while locally-originated, positive once server-confirmed.
type Thread struct {
	ID        string      `json:"id"`
	Title     string      `json:"title,omitempty"`
	State     ThreadState `json:"state"`
	CreatedTS int64       `json:"created_ts,omitempty"`
	UpdatedTS int64       `json:"updated_ts,omitempty"`
	// Messages holds message ids in conversation order.
	Messages []string   `json:"messages,omitempty"`
	Meta     ThreadMeta `json:"meta"`
}

var (
	localIDMu   sync.Mutex
	lastLocalID int64
)

// nextLocalID returns a strictly decreasing negative id even when two
// threads are minted within the same millisecond.
func nextLocalID(now time.Time) int64 {
	localIDMu.Lock()
	defer localIDMu.Unlock()
	id := -now.UnixMilli()
	if id >= lastLocalID {
		id = lastLocalID - 1
	}
	lastLocalID = id
	return id
}

// NewLocalThread mints a thread with a fresh negative id.
func NewLocalThread(title string) Thread {
	now := time.Now().UTC()
	id := strconv.FormatInt(nextLocalID(now), 10)
	return Thread{
		ID:        id,
		Title:     title,
		State:     ThreadLocal,
		CreatedTS: now.UnixNano(),
		UpdatedTS: now.UnixNano(),
		Meta:      ThreadMeta{LocalThreadID: id},
	}
}

// IsLocal reports whether the thread still carries a locally-minted id.
func (t *Thread) IsLocal() bool {
	return IsLocalID(t.ID)
}

// Touch bumps the last-update timestamp.
func (t *Thread) Touch() {
	t.UpdatedTS = time.Now().UTC().UnixNano()
}

// IsLocalID reports whether id encodes a negative (locally-minted) integer.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, "-")
}

// ValidThreadID reports whether id is a non-zero integer string.
func ValidThreadID(id string) bool {
	n, err := strconv.ParseInt(id, 10, 64)
	return err == nil && n != 0
}
