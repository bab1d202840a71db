package store

import (
	"bytes"
	"strings"

	"github.com/cockroachdb/pebble"
)

// Stats is a cheap census of the key space, used by cmd/inspect and the
// startup banner.
type Stats struct {
	Sessions int
	Threads  int
	Messages int
}

// CollectStats scans the store and counts records per kind.
func (s *Store) CollectStats() Stats {
	var st Stats
	if !s.Ready() {
		return st
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		readFail("stats", err)
		return st
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		k := string(iter.Key())
		switch {
		case strings.HasPrefix(k, "session:"):
			st.Sessions++
		case strings.HasPrefix(k, "msg:"):
			st.Messages++
		case strings.HasPrefix(k, "thread:") && strings.HasSuffix(k, ":meta"):
			st.Threads++
		}
	}
	return st
}

// Dump walks every key with the given prefix and hands raw key/value pairs
// to fn. Used by the offline inspector; fn must not retain the slices.
func (s *Store) Dump(prefix string, fn func(key string, value []byte)) error {
	if !s.Ready() {
		return ErrNotOpen
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	p := []byte(prefix)
	for iter.SeekGE(p); iter.Valid(); iter.Next() {
		if len(p) > 0 && !bytes.HasPrefix(iter.Key(), p) {
			break
		}
		fn(string(iter.Key()), iter.Value())
	}
	return iter.Error()
}
