package models

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Session is the single per-store identity record. Exactly one exists; it
// is created lazily on first access and removed only by explicit reset.
type Session struct {
	ID        string `json:"id"`
	CreatedTS int64  `json:"created_ts"`
	// LastSyncedTS is 0 until the first successful server round trip.
	LastSyncedTS int64 `json:"last_synced_ts,omitempty"`
	ThreadCount  int   `json:"thread_count"`
	// LastRefreshTS is 0 until the first credential refresh.
	LastRefreshTS int64 `json:"last_refresh_ts,omitempty"`
}

// NewSession mints a session with a random 16-byte hex id.
func NewSession() Session {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return Session{
		ID:        hex.EncodeToString(b),
		CreatedTS: time.Now().UTC().UnixNano(),
	}
}
