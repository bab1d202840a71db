// Package reconcile decides whether a server response belongs to the thread
// the user currently has open, and performs the local-to-server thread id
// migration against the store.
package reconcile

import (
	"fmt"

	"go.uber.org/zap"

	"threadsync/pkg/logger"
	"threadsync/pkg/models"
	"threadsync/pkg/store"
	"threadsync/pkg/telemetry"
)

// BelongsToActiveThread reports whether a response tagged responseThreadID
// should be attributed to the thread currently open in the client.
//
// activeID is the orchestrator's pointer to the thread awaiting a response
// (may be empty before the first response on a fresh thread), urlThreadID is
// the thread the UI currently shows, and activeIsLocal reports whether the
// currently open thread still carries a locally-minted id.
//
// Rules, in priority order:
//  1. the awaited pointer matches the response's thread id;
//  2. the awaited pointer matches the open thread (covers the instant
//     before the first response arrives, when the server id is unknown);
//  3. first-response bootstrap: the open thread is local and the response
//     carries a server id. This only fires when the open thread is the one
//     awaiting the response (awaited pointer empty or equal to the open
//     thread); a stale pointer at some other thread must not capture it.
func BelongsToActiveThread(activeID, responseThreadID, urlThreadID string, activeIsLocal bool) bool {
	if activeID != "" && activeID == responseThreadID {
		return true
	}
	if activeID != "" && activeID == urlThreadID {
		return true
	}
	if activeIsLocal && responseThreadID != "" && !models.IsLocalID(responseThreadID) {
		if activeID == "" || activeID == urlThreadID {
			return true
		}
	}
	return false
}

// Migrate rewrites thread oldID as newID: merged metadata, every message
// repointed, ordering preserved, old record removed last. The sequence is a
// logical transaction over non-atomic store primitives and is safe to
// re-run after a crash at any step (each step is idempotent).
func Migrate(s *store.Store, oldID, newID, title string) (*models.Thread, error) {
	if newID == "" {
		return nil, fmt.Errorf("migrate: empty target thread id")
	}
	if oldID == newID {
		th := s.GetThread(newID)
		if th == nil {
			return nil, fmt.Errorf("migrate: thread %s not found", newID)
		}
		return th, nil
	}

	old := s.GetThread(oldID)
	target := s.GetThread(newID)
	if old == nil && target == nil {
		return nil, fmt.Errorf("migrate: neither %s nor %s exists", oldID, newID)
	}

	var th models.Thread
	if target != nil {
		th = *target
	} else {
		th = *old
	}
	th.ID = newID
	if title != "" {
		th.Title = title
	}
	th.State = models.ThreadMigrating
	if !models.IsLocalID(newID) {
		th.Meta.ServerThreadID = newID
	}
	if models.IsLocalID(oldID) {
		th.Meta.LocalThreadID = oldID
	}
	// Write the target record before touching messages so a crash mid-way
	// leaves a migrating record for Recover to finish from.
	if err := s.SaveThread(th); err != nil {
		return nil, fmt.Errorf("migrate: save target thread: %w", err)
	}

	for _, mid := range s.ListMessageIDs(oldID) {
		if err := s.MoveMessage(mid, oldID, newID); err != nil {
			return nil, fmt.Errorf("migrate: repoint message %s: %w", mid, err)
		}
	}

	th.Messages = s.ListMessageIDs(newID)
	if !models.IsLocalID(newID) {
		th.State = models.ThreadConfirmed
	}
	th.Touch()
	if err := s.SaveThread(th); err != nil {
		return nil, fmt.Errorf("migrate: finalize thread: %w", err)
	}

	// Messages were already repointed; only the stale meta record goes.
	if old != nil {
		if err := s.DeleteThreadMeta(oldID); err != nil {
			return nil, fmt.Errorf("migrate: drop old thread: %w", err)
		}
	}

	telemetry.MigrationsTotal.Inc()
	logger.Info("thread_migrated",
		zap.String("old", oldID),
		zap.String("new", newID),
		zap.Int("messages", len(th.Messages)))
	return &th, nil
}
