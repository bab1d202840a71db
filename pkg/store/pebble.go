// Package store is the durable local mirror of chat state: one session
// record, thread metadata and messages, all in a Pebble database on disk.
//
// Key layout:
//
//	session:<id>                                 session record
//	thread:<threadID>:meta                       thread record
//	thread:<threadID>:msg:<created_ns>-<seq>     message id, ordered by creation
//	msg:<messageID>                              message record
//
// Individual writes are synced and atomic; multi-record procedures (thread
// migration) are built from these primitives and tolerate partial
// completion. Reads never fail outward: on underlying errors they log,
// count a store error and return empty values. Writes propagate errors.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"threadsync/pkg/logger"
	"threadsync/pkg/models"
	"threadsync/pkg/telemetry"
)

// ErrNotOpen is returned by writes against a closed store.
var ErrNotOpen = fmt.Errorf("store not opened; call store.Open first")

// Store wraps a Pebble database holding one session's chat state.
type Store struct {
	db  *pebble.DB
	seq uint64 // disambiguates message keys sharing a nanosecond timestamp
}

// Open opens (or creates) the Pebble database at path.
func Open(path string) (*Store, error) {
	logger.Info("opening_store", zap.String("path", path))
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("store_open_failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	logger.Info("store_closed")
	return err
}

// Ready reports whether the store is open.
func (s *Store) Ready() bool { return s != nil && s.db != nil }

func readFail(op string, err error) {
	telemetry.StoreErrors.WithLabelValues(op).Inc()
	logger.Error("store_read_failed", zap.String("op", op), zap.Error(err))
}

// ---- sessions ----

// GetSession returns the session record, or nil when none exists yet.
func (s *Store) GetSession() *models.Session {
	if !s.Ready() {
		return nil
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		readFail("get_session", err)
		return nil
	}
	defer iter.Close()
	prefix := []byte("session:")
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var sess models.Session
		if err := json.Unmarshal(iter.Value(), &sess); err != nil {
			readFail("get_session", err)
			return nil
		}
		return &sess
	}
	return nil
}

// SaveSession writes the session record.
func (s *Store) SaveSession(sess models.Session) error {
	if !s.Ready() {
		return ErrNotOpen
	}
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.db.Set([]byte("session:"+sess.ID), b, pebble.Sync); err != nil {
		telemetry.StoreErrors.WithLabelValues("save_session").Inc()
		return err
	}
	return nil
}

// ResetSession removes the session record. Threads and messages survive.
func (s *Store) ResetSession() error {
	if !s.Ready() {
		return ErrNotOpen
	}
	sess := s.GetSession()
	if sess == nil {
		return nil
	}
	return s.db.Delete([]byte("session:"+sess.ID), pebble.Sync)
}

// bumpThreadCount adjusts the session's thread counter. Best-effort by
// contract: failures are logged and never surface to the caller.
func (s *Store) bumpThreadCount(delta int) {
	sess := s.GetSession()
	if sess == nil {
		return
	}
	sess.ThreadCount += delta
	if sess.ThreadCount < 0 {
		sess.ThreadCount = 0
	}
	if err := s.SaveSession(*sess); err != nil {
		logger.Warn("thread_count_update_failed", zap.Error(err))
	}
}

// ---- threads ----

func threadMetaKey(id string) []byte { return []byte("thread:" + id + ":meta") }

// GetThread returns the thread record, or nil when absent.
func (s *Store) GetThread(id string) *models.Thread {
	if !s.Ready() {
		return nil
	}
	v, closer, err := s.db.Get(threadMetaKey(id))
	if err != nil {
		if err != pebble.ErrNotFound {
			readFail("get_thread", err)
		}
		return nil
	}
	defer closer.Close()
	var th models.Thread
	if err := json.Unmarshal(v, &th); err != nil {
		readFail("get_thread", err)
		return nil
	}
	return &th
}

// SaveThread writes the thread record. First-time inserts bump the session
// thread counter as a best-effort side write.
func (s *Store) SaveThread(th models.Thread) error {
	if !s.Ready() {
		return ErrNotOpen
	}
	isNew := s.GetThread(th.ID) == nil
	b, err := json.Marshal(th)
	if err != nil {
		return fmt.Errorf("marshal thread: %w", err)
	}
	if err := s.db.Set(threadMetaKey(th.ID), b, pebble.Sync); err != nil {
		telemetry.StoreErrors.WithLabelValues("save_thread").Inc()
		logger.Error("save_thread_failed", zap.String("thread", th.ID), zap.Error(err))
		return err
	}
	if isNew {
		s.bumpThreadCount(1)
	}
	return nil
}

// DeleteThread removes the thread record and every message it owns.
func (s *Store) DeleteThread(id string) error {
	if !s.Ready() {
		return ErrNotOpen
	}
	existed := s.GetThread(id) != nil
	for _, mid := range s.ListMessageIDs(id) {
		if err := s.db.Delete(msgKey(mid), pebble.Sync); err != nil {
			telemetry.StoreErrors.WithLabelValues("delete_thread").Inc()
			return err
		}
	}
	for _, k := range s.messageIndexKeys(id) {
		if err := s.db.Delete([]byte(k), pebble.Sync); err != nil {
			telemetry.StoreErrors.WithLabelValues("delete_thread").Inc()
			return err
		}
	}
	if err := s.db.Delete(threadMetaKey(id), pebble.Sync); err != nil {
		telemetry.StoreErrors.WithLabelValues("delete_thread").Inc()
		return err
	}
	if existed {
		s.bumpThreadCount(-1)
	}
	logger.Info("thread_deleted", zap.String("thread", id))
	return nil
}

// DeleteThreadMeta removes only the thread record, leaving messages alone.
// Migration uses this after repointing messages to the new id.
func (s *Store) DeleteThreadMeta(id string) error {
	if !s.Ready() {
		return ErrNotOpen
	}
	existed := s.GetThread(id) != nil
	if err := s.db.Delete(threadMetaKey(id), pebble.Sync); err != nil {
		telemetry.StoreErrors.WithLabelValues("delete_thread_meta").Inc()
		return err
	}
	if existed {
		s.bumpThreadCount(-1)
	}
	return nil
}

// ListThreads returns every thread ordered by last update, newest first.
func (s *Store) ListThreads() []models.Thread {
	if !s.Ready() {
		return nil
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		readFail("list_threads", err)
		return nil
	}
	defer iter.Close()
	prefix := []byte("thread:")
	var out []models.Thread
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !strings.HasSuffix(string(iter.Key()), ":meta") {
			continue
		}
		var th models.Thread
		if err := json.Unmarshal(iter.Value(), &th); err != nil {
			readFail("list_threads", err)
			continue
		}
		out = append(out, th)
	}
	if err := iter.Error(); err != nil {
		readFail("list_threads", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedTS > out[j].UpdatedTS })
	return out
}

// ---- messages ----

func msgKey(id string) []byte { return []byte("msg:" + id) }

func msgIndexPrefix(threadID string) string { return "thread:" + threadID + ":msg:" }

// SaveMessage writes the message record and, when the message is new to its
// thread, an ordering index entry under the owning thread.
func (s *Store) SaveMessage(msg models.Message) error {
	if !s.Ready() {
		return ErrNotOpen
	}
	if msg.ID == "" || msg.Thread == "" {
		return fmt.Errorf("message requires id and thread")
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	isNew := !s.hasMessage(msg.ID)
	if err := s.db.Set(msgKey(msg.ID), b, pebble.Sync); err != nil {
		telemetry.StoreErrors.WithLabelValues("save_message").Inc()
		logger.Error("save_message_failed", zap.String("msg", msg.ID), zap.Error(err))
		return err
	}
	if isNew {
		ts := msg.CreatedTS
		if ts == 0 {
			ts = time.Now().UTC().UnixNano()
		}
		n := atomic.AddUint64(&s.seq, 1)
		idx := fmt.Sprintf("%s%020d-%06d", msgIndexPrefix(msg.Thread), ts, n)
		if err := s.db.Set([]byte(idx), []byte(msg.ID), pebble.Sync); err != nil {
			telemetry.StoreErrors.WithLabelValues("save_message").Inc()
			return err
		}
	}
	return nil
}

// GetMessage returns a message by its local id, or nil when absent.
// Vote flags are normalized on the way out.
func (s *Store) GetMessage(id string) *models.Message {
	if !s.Ready() {
		return nil
	}
	v, closer, err := s.db.Get(msgKey(id))
	if err != nil {
		if err != pebble.ErrNotFound {
			readFail("get_message", err)
		}
		return nil
	}
	defer closer.Close()
	var m models.Message
	if err := json.Unmarshal(v, &m); err != nil {
		readFail("get_message", err)
		return nil
	}
	m.Normalize()
	return &m
}

func (s *Store) hasMessage(id string) bool {
	_, closer, err := s.db.Get(msgKey(id))
	if err != nil {
		return false
	}
	closer.Close()
	return true
}

// DeleteMessage removes a message record and its ordering entry.
func (s *Store) DeleteMessage(id string) error {
	if !s.Ready() {
		return ErrNotOpen
	}
	m := s.GetMessage(id)
	if m == nil {
		return nil
	}
	for _, k := range s.messageIndexKeys(m.Thread) {
		if s.indexValue(k) == id {
			if err := s.db.Delete([]byte(k), pebble.Sync); err != nil {
				telemetry.StoreErrors.WithLabelValues("delete_message").Inc()
				return err
			}
		}
	}
	if err := s.db.Delete(msgKey(id), pebble.Sync); err != nil {
		telemetry.StoreErrors.WithLabelValues("delete_message").Inc()
		return err
	}
	return nil
}

// ListMessages returns a thread's messages in creation order.
func (s *Store) ListMessages(threadID string) []models.Message {
	var out []models.Message
	for _, id := range s.ListMessageIDs(threadID) {
		if m := s.GetMessage(id); m != nil {
			out = append(out, *m)
		}
	}
	return out
}

// ListMessageIDs returns a thread's message ids in creation order.
func (s *Store) ListMessageIDs(threadID string) []string {
	var out []string
	for _, k := range s.messageIndexKeys(threadID) {
		if id := s.indexValue(k); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// MoveMessage repoints one message from oldThread to newThread, preserving
// its position suffix so ordering survives migration. Safe to re-run.
func (s *Store) MoveMessage(msgID, oldThread, newThread string) error {
	if !s.Ready() {
		return ErrNotOpen
	}
	m := s.GetMessage(msgID)
	if m == nil {
		return nil
	}
	if m.Thread != newThread {
		m.Thread = newThread
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		if err := s.db.Set(msgKey(msgID), b, pebble.Sync); err != nil {
			telemetry.StoreErrors.WithLabelValues("move_message").Inc()
			return err
		}
	}
	oldPrefix := msgIndexPrefix(oldThread)
	for _, k := range s.messageIndexKeys(oldThread) {
		if s.indexValue(k) != msgID {
			continue
		}
		suffix := strings.TrimPrefix(k, oldPrefix)
		if err := s.db.Set([]byte(msgIndexPrefix(newThread)+suffix), []byte(msgID), pebble.Sync); err != nil {
			telemetry.StoreErrors.WithLabelValues("move_message").Inc()
			return err
		}
		if err := s.db.Delete([]byte(k), pebble.Sync); err != nil {
			telemetry.StoreErrors.WithLabelValues("move_message").Inc()
			return err
		}
	}
	return nil
}

// messageIndexKeys returns the raw ordering keys for a thread, sorted.
func (s *Store) messageIndexKeys(threadID string) []string {
	if !s.Ready() {
		return nil
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		readFail("list_messages", err)
		return nil
	}
	defer iter.Close()
	prefix := []byte(msgIndexPrefix(threadID))
	var out []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		out = append(out, string(iter.Key()))
	}
	if err := iter.Error(); err != nil {
		readFail("list_messages", err)
	}
	return out
}

func (s *Store) indexValue(key string) string {
	v, closer, err := s.db.Get([]byte(key))
	if err != nil {
		return ""
	}
	defer closer.Close()
	return string(v)
}
