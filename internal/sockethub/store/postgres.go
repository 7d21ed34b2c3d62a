package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const defaultPostgresTable = "sockethub_kv"

// Postgres is a SharedStore on a Postgres table, using LISTEN/NOTIFY for
// publish/subscribe. Each subscription holds its own connection.
type Postgres struct {
	db    *sql.DB
	dsn   string
	table string
}

// NewPostgres opens the database, waits for it to answer and creates the
// key-value table if needed.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, ErrStoreUnavailable.MsgErr("failed to open database connection", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := connectRetry(ctx, "postgres", func() error { return db.PingContext(ctx) }, 5); err != nil {
		db.Close()
		return nil, ErrStoreUnavailable.MsgErr("unable to connect to postgres", err)
	}
	p := &Postgres{db: db, dsn: dsn, table: defaultPostgresTable}
	if err := p.bootstrap(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) bootstrap(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key        TEXT PRIMARY KEY,
		value      BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, pq.QuoteIdentifier(p.table))
	if _, err := p.db.ExecContext(ctx, q); err != nil {
		return pgError(err)
	}
	return nil
}

// pgError maps connection-class failures to ErrStoreUnavailable.
func pgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08 is connection exception, 57P covers server shutdown
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P") {
			return ErrStoreUnavailable.Err(err)
		}
		return ErrStore.Err(err)
	}
	// anything that never reached the server counts as unavailable
	return ErrStoreUnavailable.Err(err)
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	q := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, pq.QuoteIdentifier(p.table))
	err := p.db.QueryRowContext(ctx, q, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound.Msg("key not found: " + key)
	}
	if err != nil {
		return nil, pgError(err)
	}
	return value, nil
}

func (p *Postgres) Set(ctx context.Context, key string, value []byte) error {
	q := fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, pq.QuoteIdentifier(p.table))
	if _, err := p.db.ExecContext(ctx, q, key, value); err != nil {
		return pgError(err)
	}
	return nil
}

func (p *Postgres) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE key = ANY($1)`, pq.QuoteIdentifier(p.table))
	if _, err := p.db.ExecContext(ctx, q, pq.Array(keys)); err != nil {
		return pgError(err)
	}
	return nil
}

func (p *Postgres) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	q := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE key = $1)`, pq.QuoteIdentifier(p.table))
	if err := p.db.QueryRowContext(ctx, q, key).Scan(&exists); err != nil {
		return false, pgError(err)
	}
	return exists, nil
}

// notifyChannel maps a store channel name onto a valid Postgres channel
// identifier, which is limited to 63 bytes.
func notifyChannel(channel string) string {
	sum := sha256.Sum256([]byte(channel))
	return "sockethub_" + hex.EncodeToString(sum[:])[:40]
}

// Publish sends payload with pg_notify. Payloads are base64 encoded since
// NOTIFY carries text.
func (p *Postgres) Publish(ctx context.Context, channel string, payload []byte) error {
	encoded := base64.StdEncoding.EncodeToString(payload)
	if _, err := p.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel(channel), encoded); err != nil {
		return pgError(err)
	}
	return nil
}

func (p *Postgres) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	conn, err := pgx.Connect(ctx, p.dsn)
	if err != nil {
		return nil, pgError(err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pq.QuoteIdentifier(notifyChannel(channel))); err != nil {
		conn.Close(context.Background())
		return nil, pgError(err)
	}
	subCtx, cancel := context.WithCancel(context.Background())
	sub := &pgSubscription{
		conn:    conn,
		channel: channel,
		out:     make(chan []byte),
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	go sub.pump(subCtx)
	return sub, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

type pgSubscription struct {
	conn    *pgx.Conn
	channel string
	out     chan []byte
	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once
}

func (s *pgSubscription) pump(ctx context.Context) {
	defer close(s.stopped)
	defer close(s.out)
	for {
		n, err := s.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Str("channel", s.channel).Msg("postgres subscription ended")
			}
			return
		}
		payload, err := base64.StdEncoding.DecodeString(n.Payload)
		if err != nil {
			log.Warn().Err(err).Str("channel", s.channel).Msg("dropping undecodable notification")
			continue
		}
		select {
		case s.out <- payload:
		case <-ctx.Done():
			return
		}
	}
}

func (s *pgSubscription) Messages() <-chan []byte {
	return s.out
}

func (s *pgSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		<-s.stopped
		err = s.conn.Close(context.Background())
	})
	return err
}
