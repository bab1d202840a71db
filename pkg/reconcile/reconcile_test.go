package reconcile

import (
	"testing"

	"threadsync/pkg/models"
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

func TestBelongsToActiveThread(t *testing.T) {
	cases := []struct {
		name     string
		active   string
		response string
		url      string
		isLocal  bool
		want     bool
	}{
		{"awaited matches response", "12", "12", "12", false, true},
		{"awaited matches open thread", "-5", "", "-5", true, true},
		{"bootstrap: local thread gets first server id", "-5", "77", "-5", true, true},
		{"bootstrap with empty awaited pointer", "", "77", "-5", true, true},
		{"stale pointer must not capture", "-9", "77", "-5", true, false},
		{"response for another confirmed thread", "12", "34", "12", false, true}, // awaited==url wins
		{"nothing matches", "12", "34", "56", false, false},
		{"local response id never bootstraps", "", "-8", "-5", true, false},
		{"empty everything", "", "", "", false, false},
	}
	for _, c := range cases {
		got := BelongsToActiveThread(c.active, c.response, c.url, c.isLocal)
		if got != c.want {
			t.Fatalf("%s: got %v want %v", c.name, got, c.want)
		}
	}
}

func TestMigrateMovesEverything(t *testing.T) {
	s := openTestStore(t)
	th := models.NewLocalThread("draft")
	if err := s.SaveThread(th); err != nil {
		t.Fatalf("save thread: %v", err)
	}
	var ids []string
	for _, txt := range []string{"q1", "a1", "q2"} {
		m := models.NewMessage(th.ID, models.RoleUser, txt)
		ids = append(ids, m.ID)
		if err := s.SaveMessage(m); err != nil {
			t.Fatalf("save message: %v", err)
		}
	}

	got, err := Migrate(s, th.ID, "501", "named by server")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if got.ID != "501" || got.State != models.ThreadConfirmed {
		t.Fatalf("thread after migrate: %+v", got)
	}
	if got.Meta.LocalThreadID != th.ID || got.Meta.ServerThreadID != "501" {
		t.Fatalf("meta: %+v", got.Meta)
	}
	if got.Title != "named by server" {
		t.Fatalf("title = %q", got.Title)
	}
	if s.GetThread(th.ID) != nil {
		t.Fatalf("old record survived")
	}
	moved := s.ListMessageIDs("501")
	if len(moved) != 3 {
		t.Fatalf("moved %d messages", len(moved))
	}
	for i := range ids {
		if moved[i] != ids[i] {
			t.Fatalf("order broken at %d: %s != %s", i, moved[i], ids[i])
		}
	}
	if len(got.Messages) != 3 {
		t.Fatalf("thread message list = %d", len(got.Messages))
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	th := models.NewLocalThread("x")
	if err := s.SaveThread(th); err != nil {
		t.Fatalf("save: %v", err)
	}
	m := models.NewMessage(th.ID, models.RoleUser, "hello")
	if err := s.SaveMessage(m); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := Migrate(s, th.ID, "900", ""); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	// same old id again: old record is gone, target exists
	got, err := Migrate(s, th.ID, "900", "")
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if got.ID != "900" || len(s.ListMessageIDs("900")) != 1 {
		t.Fatalf("idempotent migrate broke state: %+v", got)
	}
	// identical source and target is a read
	if _, err := Migrate(s, "900", "900", ""); err != nil {
		t.Fatalf("self migrate: %v", err)
	}
}

func TestMigrateUnknownThreads(t *testing.T) {
	s := openTestStore(t)
	if _, err := Migrate(s, "-1", "", ""); err == nil {
		t.Fatalf("expected error for empty target")
	}
	if _, err := Migrate(s, "-1", "2", ""); err == nil {
		t.Fatalf("expected error when neither record exists")
	}
}

func TestRecoverFinishesInterruptedMigration(t *testing.T) {
	s := openTestStore(t)
	// Simulate a crash after the target record was written but before the
	// messages were repointed and the old record removed.
	local := models.NewLocalThread("wip")
	if err := s.SaveThread(local); err != nil {
		t.Fatalf("save: %v", err)
	}
	m := models.NewMessage(local.ID, models.RoleUser, "stranded")
	if err := s.SaveMessage(m); err != nil {
		t.Fatalf("save: %v", err)
	}
	target := local
	target.ID = "321"
	target.State = models.ThreadMigrating
	target.Meta.ServerThreadID = "321"
	target.Meta.LocalThreadID = local.ID
	if err := s.SaveThread(target); err != nil {
		t.Fatalf("save: %v", err)
	}

	if n := Recover(s); n != 1 {
		t.Fatalf("repaired = %d", n)
	}
	if s.GetThread(local.ID) != nil {
		t.Fatalf("local twin survived recovery")
	}
	got := s.GetThread("321")
	if got == nil || got.State != models.ThreadConfirmed {
		t.Fatalf("target after recovery: %+v", got)
	}
	if ids := s.ListMessageIDs("321"); len(ids) != 1 || ids[0] != m.ID {
		t.Fatalf("message not repointed: %v", ids)
	}
	// second sweep finds nothing
	if n := Recover(s); n != 0 {
		t.Fatalf("clean sweep repaired %d", n)
	}
}

func TestRecoverDropsTwinAfterConfirmedTarget(t *testing.T) {
	s := openTestStore(t)
	// Simulate a crash after the target was finalized as confirmed but
	// before the old meta record was deleted: messages already repointed,
	// the local twin untouched and claiming no server id.
	local := models.NewLocalThread("almost done")
	if err := s.SaveThread(local); err != nil {
		t.Fatalf("save: %v", err)
	}
	m := models.NewMessage("321", models.RoleUser, "already moved")
	if err := s.SaveMessage(m); err != nil {
		t.Fatalf("save: %v", err)
	}
	target := local
	target.ID = "321"
	target.State = models.ThreadConfirmed
	target.Meta.ServerThreadID = "321"
	target.Meta.LocalThreadID = local.ID
	target.Messages = []string{m.ID}
	if err := s.SaveThread(target); err != nil {
		t.Fatalf("save: %v", err)
	}

	if n := Recover(s); n != 1 {
		t.Fatalf("repaired = %d", n)
	}
	if s.GetThread(local.ID) != nil {
		t.Fatalf("stale local twin %s survived recovery alongside confirmed thread 321", local.ID)
	}
	got := s.GetThread("321")
	if got == nil || got.State != models.ThreadConfirmed || got.Title != "almost done" {
		t.Fatalf("confirmed thread after recovery: %+v", got)
	}
	if ids := s.ListMessageIDs("321"); len(ids) != 1 || ids[0] != m.ID {
		t.Fatalf("messages disturbed: %v", ids)
	}
	if n := Recover(s); n != 0 {
		t.Fatalf("clean sweep repaired %d", n)
	}
}

func TestRecoverLocalRecordWithServerID(t *testing.T) {
	s := openTestStore(t)
	// Crash before the target record was written: the local record already
	// carries the server id in metadata.
	local := models.NewLocalThread("early crash")
	local.Meta.ServerThreadID = "654"
	if err := s.SaveThread(local); err != nil {
		t.Fatalf("save: %v", err)
	}
	if n := Recover(s); n != 1 {
		t.Fatalf("repaired = %d", n)
	}
	got := s.GetThread("654")
	if got == nil || got.State != models.ThreadConfirmed {
		t.Fatalf("thread after recovery: %+v", got)
	}
	if s.GetThread(local.ID) != nil {
		t.Fatalf("local record survived")
	}
}
