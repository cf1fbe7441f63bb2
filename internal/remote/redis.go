package remote

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to redis with short timeouts.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
}

// Redis keeps the document in a hash (one field per path) and announces
// changes on a pub/sub channel.
type Redis struct {
	client  *redis.Client
	docKey  string
	channel string
}

// NewRedis builds a channel under the given key prefix.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "club"
	}
	return &Redis{client: client, docKey: prefix + ":doc", channel: prefix + ":changes"}
}

// Push replaces the value at path and publishes the change.
func (r *Redis) Push(ctx context.Context, path string, value json.RawMessage) error {
	p, err := normalize(path)
	if err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}

	var doc tree
	if p == Root {
		if doc, err = decodeTree(value); err != nil {
			return err
		}
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		switch {
		case p == Root:
			pipe.Del(ctx, r.docKey)
			if len(doc) > 0 {
				fields := make(map[string]any, len(doc))
				for k, v := range doc {
					fields[k] = string(v)
				}
				pipe.HSet(ctx, r.docKey, fields)
			}
		case isNull(value):
			pipe.HDel(ctx, r.docKey, p)
		default:
			pipe.HSet(ctx, r.docKey, p, string(value))
		}
		pipe.Publish(ctx, r.channel, p)
		return nil
	})
	return err
}

// Subscribe streams the value at path, re-reading it after each change.
func (r *Redis) Subscribe(ctx context.Context, path string, fn Listener) (func(), error) {
	p, err := normalize(path)
	if err != nil {
		return nil, err
	}
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	v, err := r.read(ctx, p)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}
	fn(v)

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range sub.Channel() {
			v, err := r.read(loopCtx, p)
			if err != nil {
				if loopCtx.Err() != nil {
					return
				}
				continue
			}
			fn(v)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = sub.Close()
			<-done
		})
	}, nil
}

func (r *Redis) read(ctx context.Context, p string) (json.RawMessage, error) {
	if p != Root {
		s, err := r.client.HGet(ctx, r.docKey, p).Result()
		if errors.Is(err, redis.Nil) {
			return null, nil
		}
		if err != nil {
			return nil, err
		}
		return json.RawMessage(s), nil
	}
	fields, err := r.client.HGetAll(ctx, r.docKey).Result()
	if err != nil {
		return nil, err
	}
	doc := make(tree, len(fields))
	for k, v := range fields {
		doc[k] = json.RawMessage(v)
	}
	return doc.at(Root)
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.client == nil {
		return false
	}
	return r.client.Ping(ctx).Err() == nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
