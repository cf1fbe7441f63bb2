package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"hordegraphy/internal/metrics"
	"hordegraphy/internal/remote"
)

const pushTimeout = 10 * time.Second

// job is one queued remote push. A job with a non-nil done channel is a
// flush barrier and carries no value.
type job struct {
	path  string
	value json.RawMessage
	keys  []string
	done  chan struct{}
}

// outbox is an unbounded FIFO drained by a single pusher, so pushes reach
// the remote in the order the writes were made.
type outbox struct {
	mu     sync.Mutex
	items  []job
	signal chan struct{}
}

func newOutbox() *outbox {
	return &outbox{signal: make(chan struct{}, 1)}
}

func (o *outbox) put(j job) {
	o.mu.Lock()
	o.items = append(o.items, j)
	o.mu.Unlock()
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

func (o *outbox) take() []job {
	o.mu.Lock()
	defer o.mu.Unlock()
	items := o.items
	o.items = nil
	return items
}

// enqueueLocked queues a push of value to path on behalf of keys. s.mu must
// be held so the pending count moves together with the cache write.
func (s *Store) enqueueLocked(path string, value []byte, keys ...string) {
	for _, k := range keys {
		s.pending[k]++
	}
	s.outbox.put(job{path: path, value: value, keys: keys})
}

func (s *Store) settle(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		if s.pending[k]--; s.pending[k] <= 0 {
			delete(s.pending, k)
		}
	}
}

func (s *Store) pushLoop() {
	defer close(s.pusherDone)
	for {
		select {
		case <-s.outbox.signal:
			s.drain()
		case <-s.stop:
			s.drain()
			return
		}
	}
}

func (s *Store) drain() {
	for _, j := range s.outbox.take() {
		if j.done != nil {
			close(j.done)
			continue
		}
		s.push(j)
	}
}

// push never surfaces its error; the local write already succeeded.
func (s *Store) push(j job) {
	key := j.path
	if key == remote.Root {
		key = "root"
	}
	defer s.settle(j.keys)
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	if err := s.remote.Push(ctx, j.path, j.value); err != nil {
		metrics.Pushes.WithLabelValues(key, metrics.Failed).Inc()
		s.log.WithError(err).WithField("key", key).Warn("remote push failed")
		return
	}
	metrics.Pushes.WithLabelValues(key, metrics.OK).Inc()
}

// Flush blocks until every push queued before the call has been attempted.
func (s *Store) Flush(ctx context.Context) error {
	s.lifecycle.Lock()
	running := s.opened && !s.closed
	s.lifecycle.Unlock()
	if !running {
		return nil
	}
	done := make(chan struct{})
	s.outbox.put(job{done: done})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
