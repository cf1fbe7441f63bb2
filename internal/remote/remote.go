// Package remote is the transport to the authoritative shared document.
//
// The document is a JSON object whose top-level fields are addressed by
// path. Push replaces the value at a path; Subscribe delivers the value at a
// path once on registration and again after every change.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Root addresses the whole document.
const Root = "/"

// ErrClosed is returned by operations on a closed channel.
var ErrClosed = errors.New("remote: channel closed")

var null = json.RawMessage("null")

// Listener receives the full value at a subscribed path.
type Listener func(value json.RawMessage)

// Channel is the abstraction over different backends.
type Channel interface {
	Push(ctx context.Context, path string, value json.RawMessage) error
	Subscribe(ctx context.Context, path string, fn Listener) (func(), error)
	Healthy(ctx context.Context) bool
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend     string
	RedisAddr   string
	RedisPrefix string
	DatabaseURL string
}

// Open builds the channel named by opts.Backend.
func Open(ctx context.Context, opts Options) (Channel, error) {
	switch opts.Backend {
	case "memory":
		return NewInMemory(), nil
	case "redis", "":
		return NewRedis(NewRedisClient(opts.RedisAddr), opts.RedisPrefix), nil
	case "postgres":
		return NewPostgres(ctx, opts.DatabaseURL)
	}
	return nil, fmt.Errorf("remote: unknown backend %q", opts.Backend)
}

func normalize(path string) (string, error) {
	p := strings.Trim(path, "/ ")
	if p == "" {
		return Root, nil
	}
	if strings.Contains(p, "/") {
		return "", fmt.Errorf("remote: nested path %q not supported", path)
	}
	return p, nil
}

func isNull(value json.RawMessage) bool {
	v := bytes.TrimSpace(value)
	return len(v) == 0 || bytes.Equal(v, null)
}

// tree is the decoded top level of the document.
type tree map[string]json.RawMessage

func decodeTree(value json.RawMessage) (tree, error) {
	t := tree{}
	if isNull(value) {
		return t, nil
	}
	if err := json.Unmarshal(value, &t); err != nil {
		return nil, fmt.Errorf("remote: root value must be an object: %w", err)
	}
	for k, v := range t {
		if isNull(v) {
			delete(t, k)
		}
	}
	return t, nil
}

func (t tree) at(path string) (json.RawMessage, error) {
	if path != Root {
		v, ok := t[path]
		if !ok {
			return null, nil
		}
		return v, nil
	}
	if len(t) == 0 {
		return null, nil
	}
	return json.Marshal(map[string]json.RawMessage(t))
}

func checkValue(value json.RawMessage) error {
	if !isNull(value) && !json.Valid(value) {
		return errors.New("remote: value is not valid JSON")
	}
	return nil
}
