package reconcile

import (
	"go.uber.org/zap"

	"threadsync/pkg/logger"
	"threadsync/pkg/models"
	"threadsync/pkg/store"
)

// Recover sweeps the store for migrations interrupted by a crash: records
// stuck in the migrating state, local records that already claim a server
// id, and local twins left behind when the crash hit after the target was
// confirmed but before the old meta record was deleted. The record whose id
// sign agrees with its stored metadata wins; the other is folded into it.
// Returns the number of repairs applied.
//
// Run once at startup, before the orchestrator loads any thread.
func Recover(s *store.Store) int {
	repaired := 0
	threads := s.ListThreads()

	// Confirmed records remember their local twin in Meta.LocalThreadID; a
	// twin that still exists is leftover from an unfinished delete. Targets
	// still in the migrating state are handled by the first case below.
	claimedBy := map[string]string{}
	for _, th := range threads {
		if !th.IsLocal() && th.State == models.ThreadConfirmed && th.Meta.LocalThreadID != "" {
			claimedBy[th.Meta.LocalThreadID] = th.ID
		}
	}

	folded := map[string]bool{}
	for _, th := range threads {
		switch {
		case th.State == models.ThreadMigrating && !th.IsLocal():
			// Target record exists; finish repointing from the local twin.
			old := th.Meta.LocalThreadID
			if old == "" || old == th.ID {
				continue
			}
			if _, err := Migrate(s, old, th.ID, th.Title); err != nil {
				logger.Error("recover_migration_failed",
					zap.String("thread", th.ID), zap.Error(err))
				continue
			}
			folded[old] = true
			repaired++
		case th.IsLocal() && th.Meta.ServerThreadID != "":
			// Local record claims a server id: the confirmed identity wins,
			// whether or not its record was ever written.
			if _, err := Migrate(s, th.ID, th.Meta.ServerThreadID, th.Title); err != nil {
				logger.Error("recover_migration_failed",
					zap.String("thread", th.ID), zap.Error(err))
				continue
			}
			folded[th.ID] = true
			repaired++
		case th.IsLocal() && claimedBy[th.ID] != "" && !folded[th.ID]:
			// The target was already confirmed; only the old meta record
			// survived the crash. Fold the twin into the confirmed thread.
			if _, err := Migrate(s, th.ID, claimedBy[th.ID], ""); err != nil {
				logger.Error("recover_migration_failed",
					zap.String("thread", claimedBy[th.ID]), zap.Error(err))
				continue
			}
			folded[th.ID] = true
			repaired++
		}
	}
	if repaired > 0 {
		logger.Info("recovered_interrupted_migrations", zap.Int("count", repaired))
	}
	return repaired
}
