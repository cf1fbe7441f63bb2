package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
)

// InMemory is a process-local channel for dev/testing. Every connected
// store sees changes in the order they were pushed.
type InMemory struct {
	// deliver serializes commit and notification, so listeners must not
	// push synchronously.
	deliver sync.Mutex

	mu     sync.Mutex
	doc    tree
	subs   map[int]memSub
	next   int
	failed error
	closed bool
}

type memSub struct {
	path string
	fn   Listener
}

// NewInMemory creates an empty shared document.
func NewInMemory() *InMemory {
	return &InMemory{doc: tree{}, subs: make(map[int]memSub)}
}

// Fail makes subsequent pushes return err. Pass nil to recover.
func (m *InMemory) Fail(err error) {
	m.mu.Lock()
	m.failed = err
	m.mu.Unlock()
}

// Push replaces the value at path and notifies subscribers.
func (m *InMemory) Push(ctx context.Context, path string, value json.RawMessage) error {
	p, err := normalize(path)
	if err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.deliver.Lock()
	defer m.deliver.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.failed != nil {
		err := m.failed
		m.mu.Unlock()
		return err
	}
	if p == Root {
		doc, err := decodeTree(value)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		m.doc = doc
	} else if isNull(value) {
		delete(m.doc, p)
	} else {
		m.doc[p] = bytes.Clone(value)
	}
	pending := m.pendingLocked()
	m.mu.Unlock()

	for _, n := range pending {
		n.fn(n.value)
	}
	return nil
}

type notification struct {
	fn    Listener
	value json.RawMessage
}

func (m *InMemory) pendingLocked() []notification {
	out := make([]notification, 0, len(m.subs))
	for _, s := range m.subs {
		v, err := m.doc.at(s.path)
		if err != nil {
			continue
		}
		out = append(out, notification{fn: s.fn, value: bytes.Clone(v)})
	}
	return out
}

// Subscribe registers fn and calls it once with the current value.
func (m *InMemory) Subscribe(ctx context.Context, path string, fn Listener) (func(), error) {
	p, err := normalize(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.deliver.Lock()
	defer m.deliver.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	id := m.next
	m.next++
	m.subs[id] = memSub{path: p, fn: fn}
	v, err := m.doc.at(p)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	fn(bytes.Clone(v))

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}, nil
}

// Value returns the current value at path.
func (m *InMemory) Value(path string) json.RawMessage {
	p, err := normalize(path)
	if err != nil {
		return null
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.doc.at(p)
	if err != nil {
		return null
	}
	return bytes.Clone(v)
}

// Healthy reports whether the channel is open.
func (m *InMemory) Healthy(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && m.failed == nil
}

// Close drops every subscriber.
func (m *InMemory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[int]memSub)
	return nil
}
