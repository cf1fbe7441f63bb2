package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	documentsTable = "club_documents"
	notifyChannel  = "club_changes"
)

// Postgres stores the document as one jsonb row per path and announces
// changes with NOTIFY.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pool with sane defaults and ensures the schema.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+documentsTable+` (
			path       TEXT PRIMARY KEY,
			value      JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure documents table: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Push replaces the value at path and notifies listeners on commit.
func (p *Postgres) Push(ctx context.Context, path string, value json.RawMessage) error {
	key, err := normalize(path)
	if err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	switch {
	case key == Root:
		doc, err := decodeTree(value)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM `+documentsTable); err != nil {
			return err
		}
		for k, v := range doc {
			if _, err := tx.Exec(ctx, `INSERT INTO `+documentsTable+` (path, value) VALUES ($1, $2::jsonb)`, k, string(v)); err != nil {
				return err
			}
		}
	case isNull(value):
		if _, err := tx.Exec(ctx, `DELETE FROM `+documentsTable+` WHERE path = $1`, key); err != nil {
			return err
		}
	default:
		_, err := tx.Exec(ctx, `
			INSERT INTO `+documentsTable+` (path, value)
			VALUES ($1, $2::jsonb)
			ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
		`, key, string(value))
		if err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, key); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Subscribe holds a dedicated LISTEN connection until cancelled.
func (p *Postgres) Subscribe(ctx context.Context, path string, fn Listener) (func(), error) {
	key, err := normalize(path)
	if err != nil {
		return nil, err
	}
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{notifyChannel}.Sanitize()); err != nil {
		conn.Release()
		return nil, err
	}
	v, err := p.read(ctx, key)
	if err != nil {
		_ = conn.Conn().Close(context.Background())
		conn.Release()
		return nil, err
	}
	fn(v)

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer conn.Release()
		// The LISTEN session is never handed back to the pool.
		defer func() { _ = conn.Conn().Close(context.Background()) }()
		for {
			if _, err := conn.Conn().WaitForNotification(loopCtx); err != nil {
				return
			}
			v, err := p.read(loopCtx, key)
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
			<-done
		})
	}, nil
}

func (p *Postgres) read(ctx context.Context, key string) (json.RawMessage, error) {
	if key != Root {
		var s string
		err := p.pool.QueryRow(ctx, `SELECT value::text FROM `+documentsTable+` WHERE path = $1`, key).Scan(&s)
		if errors.Is(err, pgx.ErrNoRows) {
			return null, nil
		}
		if err != nil {
			return nil, err
		}
		return json.RawMessage(s), nil
	}
	rows, err := p.pool.Query(ctx, `SELECT path, value::text FROM `+documentsTable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	doc := tree{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		doc[k] = json.RawMessage(v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return doc.at(Root)
}

// Healthy pings the pool.
func (p *Postgres) Healthy(ctx context.Context) bool {
	if p == nil || p.pool == nil {
		return false
	}
	return p.pool.Ping(ctx) == nil
}

// Close closes the pool. Subscriptions must be cancelled first.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
