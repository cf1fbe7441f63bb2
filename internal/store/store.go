// Package store keeps a local cache of every club collection consistent
// with the authoritative remote document.
//
// Writes land in the local cache synchronously and are forwarded to the
// remote channel in the background. Every remote snapshot overwrites the
// cached collections it contains, so the last delivered snapshot wins per
// collection. Collections with a local push still queued are the exception:
// their snapshot values predate that push and are skipped.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"hordegraphy/internal/attendance"
	"hordegraphy/internal/metrics"
	"hordegraphy/internal/remote"
)

// Collection keys, shared by the local cache, the remote paths and the
// export bundle.
const (
	KeyMembers          = "members"
	KeyBannedMembers    = "bannedMembers"
	KeyAttendance       = "attendance"
	KeyOnlineAttendance = "onlineAttendance"
	KeyMetadata         = "metadata"
	KeyOnlineMetadata   = "onlineMetadata"
	KeyGlobalSessions   = "globalSessions"
	KeyClubLink         = "clubLink"
	KeySuggestions      = "suggestions"
)

// Keys lists every persisted collection.
var Keys = []string{
	KeyMembers,
	KeyBannedMembers,
	KeyAttendance,
	KeyOnlineAttendance,
	KeyMetadata,
	KeyOnlineMetadata,
	KeyGlobalSessions,
	KeyClubLink,
	KeySuggestions,
}

// AttendanceKey returns the collection key of a variant's attendance.
func AttendanceKey(v attendance.Variant) string {
	if v == attendance.Online {
		return KeyOnlineAttendance
	}
	return KeyAttendance
}

// MetadataKey returns the collection key of a variant's metadata.
func MetadataKey(v attendance.Variant) string {
	if v == attendance.Online {
		return KeyOnlineMetadata
	}
	return KeyMetadata
}

// Backing persists the local cache across restarts.
type Backing interface {
	Load(ctx context.Context) (map[string][]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Snapshot is the set of collections delivered by one remote change.
type Snapshot map[string]json.RawMessage

// Has reports whether the snapshot carried key.
func (s Snapshot) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Store mediates every read and write of the club collections.
type Store struct {
	remote  remote.Channel
	backing Backing
	log     logrus.FieldLogger

	mu    sync.RWMutex
	cache map[string][]byte
	// pending counts queued or in-flight pushes per key. Snapshot values for
	// such keys predate the local write and are not applied.
	pending map[string]int

	outbox   *outbox
	onChange func(Snapshot)

	lifecycle   sync.Mutex
	opened      bool
	closed      bool
	unsubscribe func()
	stop        chan struct{}
	pusherDone  chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithBacking persists the local cache through b.
func WithBacking(b Backing) Option {
	return func(s *Store) { s.backing = b }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = l }
}

// New creates a store on top of a remote channel. Call Open before use.
func New(ch remote.Channel, opts ...Option) *Store {
	s := &Store{
		remote:  ch,
		log:     logrus.StandardLogger(),
		cache:   make(map[string][]byte),
		pending: make(map[string]int),
		outbox:  newOutbox(),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open warms the cache from the backing, starts the pusher and subscribes to
// the remote root. onChange, if set, receives the cached value of every
// collection a snapshot carried, read after the snapshot was applied; the
// first call may happen before Open returns. onChange runs on the channel's delivery path and must not call
// Close. A failed subscription is logged; the store keeps serving its local
// cache.
func (s *Store) Open(ctx context.Context, onChange func(Snapshot)) error {
	s.lifecycle.Lock()
	if s.opened {
		s.lifecycle.Unlock()
		return nil
	}
	s.opened = true
	s.onChange = onChange

	if s.backing != nil {
		entries, err := s.backing.Load(ctx)
		if err != nil {
			s.log.WithError(err).Warn("local cache load failed")
		}
		s.mu.Lock()
		for k, v := range entries {
			s.cache[k] = v
		}
		s.mu.Unlock()
	}

	s.pusherDone = make(chan struct{})
	go s.pushLoop()
	s.lifecycle.Unlock()

	unsubscribe, err := s.remote.Subscribe(ctx, remote.Root, s.applySnapshot)
	if err != nil {
		s.log.WithError(err).Warn("remote subscribe failed, serving local cache")
		return nil
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.closed {
		unsubscribe()
		return nil
	}
	s.unsubscribe = unsubscribe
	return nil
}

// Close stops the subscription and waits for queued pushes to be attempted.
// The remote channel and backing stay open; they belong to the caller.
func (s *Store) Close() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.opened {
		close(s.stop)
		<-s.pusherDone
	}
	return nil
}

// Healthy reports whether the remote channel is reachable.
func (s *Store) Healthy(ctx context.Context) bool {
	return s.remote.Healthy(ctx)
}

// Snapshot returns the current local cache.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Snapshot, len(s.cache))
	for k, v := range s.cache {
		out[k] = bytes.Clone(v)
	}
	return out
}

func (s *Store) applySnapshot(value json.RawMessage) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(value, &doc); err != nil {
		s.log.WithError(err).Warn("ignoring malformed remote snapshot")
		return
	}
	snap := Snapshot{}
	for _, key := range Keys {
		if v, ok := doc[key]; ok && !isNull(v) {
			snap[key] = v
		}
	}
	if len(snap) == 0 {
		return
	}

	view := make(Snapshot, len(snap))
	s.mu.Lock()
	for k, v := range snap {
		if s.pending[k] == 0 {
			s.writeLocked(k, bytes.Clone(v))
		}
		view[k] = bytes.Clone(s.cache[k])
	}
	s.mu.Unlock()
	metrics.Snapshots.Inc()

	if s.onChange != nil {
		s.onChange(view)
	}
}

// writeLocked replaces one cache entry. Backing failures are logged only;
// the in-memory write always takes effect.
func (s *Store) writeLocked(key string, value []byte) {
	s.cache[key] = value
	if s.backing == nil {
		return
	}
	if err := s.backing.Put(context.Background(), key, value); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("local cache write failed")
	}
}

func (s *Store) raw(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.cache[key]
	return v, ok
}

func isNull(v []byte) bool {
	v = bytes.TrimSpace(v)
	return len(v) == 0 || bytes.Equal(v, []byte("null"))
}
