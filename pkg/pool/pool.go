// Package pool manages connections to the embedded SQLite store. SQLite
// allows any number of concurrent readers but a single writer, so the pool
// owns one write mutex that every write transaction holds, and leases a
// bounded number of persistent connections to logical sessions.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/odvcencio/babel/pkg/object"
)

// Options tunes a Pool.
type Options struct {
	// Size bounds the number of open connections.
	Size int
	// Wait bounds how long Session blocks when every connection is leased.
	Wait time.Duration
	// BusyTimeout is SQLite's own lock wait, which covers writers in other
	// processes.
	BusyTimeout time.Duration
	Logger      *slog.Logger
}

func (o *Options) normalize() {
	if o.Size <= 0 {
		o.Size = 8
	}
	if o.Wait <= 0 {
		o.Wait = 5 * time.Second
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Pool is a bounded set of persistent SQLite connections plus the write
// lock that serializes writers.
type Pool struct {
	db     *sql.DB
	opts   Options
	logger *slog.Logger

	slots   chan struct{}
	mu      sync.Mutex
	idle    []*sql.Conn
	writeMu sync.Mutex
}

// DSN builds the mattn/go-sqlite3 data source name for path. Every
// connection opened from it runs in WAL mode with foreign keys enforced.
func DSN(path string, busyTimeout time.Duration) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", fmt.Sprint(busyTimeout.Milliseconds()))
	q.Set("_foreign_keys", "on")
	return "file:" + path + "?" + q.Encode()
}

// Open opens the database at path. The file is created if missing.
func Open(path string, opts Options) (*Pool, error) {
	opts.normalize()
	db, err := sql.Open("sqlite3", DSN(path, opts.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", object.ErrBackendUnavailable, path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: connect %s: %v", object.ErrBackendUnavailable, path, err)
	}
	db.SetMaxOpenConns(opts.Size)
	db.SetMaxIdleConns(opts.Size)
	db.SetConnMaxLifetime(0)

	p := &Pool{
		db:     db,
		opts:   opts,
		logger: opts.Logger.With("component", "pool", "path", path),
		slots:  make(chan struct{}, opts.Size),
	}
	for i := 0; i < opts.Size; i++ {
		p.slots <- struct{}{}
	}
	return p, nil
}

// Size returns the connection bound.
func (p *Pool) Size() int { return p.opts.Size }

// Close closes every connection. Leased sessions must be released first.
func (p *Pool) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, c := range idle {
		c.Close()
	}
	return p.db.Close()
}

// Session leases a connection for one logical session. It blocks while
// every connection is leased, up to the configured wait, then fails with
// object.ErrPoolTimeout.
func (p *Pool) Session(ctx context.Context) (*Session, error) {
	start := time.Now()
	timer := time.NewTimer(p.opts.Wait)
	defer timer.Stop()

	select {
	case <-p.slots:
	case <-timer.C:
		poolTimeouts.Inc()
		p.logger.Warn("connection pool exhausted", "wait", p.opts.Wait, "size", p.opts.Size)
		return nil, fmt.Errorf("%w after %s (%d connections leased)", object.ErrPoolTimeout, p.opts.Wait, p.opts.Size)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	poolWaitSeconds.Observe(time.Since(start).Seconds())

	conn, err := p.takeConn(ctx)
	if err != nil {
		p.slots <- struct{}{}
		return nil, err
	}
	sessionsLeased.Inc()
	return &Session{ID: uuid.NewString(), pool: p, conn: conn}, nil
}

func (p *Pool) takeConn(ctx context.Context) (*sql.Conn, error) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", object.ErrBackendUnavailable, err)
	}
	return c, nil
}

func (p *Pool) release(c *sql.Conn) {
	p.mu.Lock()
	p.idle = append(p.idle, c)
	p.mu.Unlock()
	sessionsLeased.Dec()
	p.slots <- struct{}{}
}

// Write runs fn in a write transaction on a short-lived session.
func (p *Pool) Write(ctx context.Context, fn func(*sql.Tx) error) error {
	s, err := p.Session(ctx)
	if err != nil {
		return err
	}
	defer s.Release()
	return s.Write(ctx, fn)
}

// Read runs fn in a read transaction on a short-lived session.
func (p *Pool) Read(ctx context.Context, fn func(*sql.Tx) error) error {
	s, err := p.Session(ctx)
	if err != nil {
		return err
	}
	defer s.Release()
	return s.Read(ctx, fn)
}

// Session is a logical client of the pool. All of its work runs on the one
// connection it was assigned until Release.
type Session struct {
	ID   string
	pool *Pool
	conn *sql.Conn
}

// Release returns the session's connection to the pool. It is safe to call
// more than once.
func (s *Session) Release() {
	if s.conn == nil {
		return
	}
	c := s.conn
	s.conn = nil
	s.pool.release(c)
}

var errReleased = errors.New("session already released")

// Write holds the pool's write lock for the duration of one transaction,
// so at most one write is in flight. fn's changes commit together or not
// at all.
func (s *Session) Write(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	if s.conn == nil {
		return errReleased
	}
	s.pool.writeMu.Lock()
	defer s.pool.writeMu.Unlock()
	defer func() {
		outcome := "commit"
		if err != nil {
			outcome = "rollback"
		}
		writeTransactions.WithLabelValues(outcome).Inc()
	}()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin write: %v", object.ErrBackendUnavailable, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", object.ErrBackendUnavailable, err)
	}
	return nil
}

// Read runs fn in a deferred transaction without the write lock. In WAL
// mode it sees a committed snapshot, never a write in progress.
func (s *Session) Read(ctx context.Context, fn func(*sql.Tx) error) error {
	if s.conn == nil {
		return errReleased
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin read: %v", object.ErrBackendUnavailable, err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
