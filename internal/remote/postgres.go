package remote

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const (
	postgresTableName        = "folio_documents"
	postgresNotifyChannel    = "folio_documents"
	postgresOperationTimeout = 5 * time.Second
	postgresMinReconnect     = 2 * time.Second
	postgresMaxReconnect     = time.Minute
)

func init() {
	factory := func(dsn string, log logrus.FieldLogger) (Store, error) {
		return NewPostgresStore(dsn, log)
	}
	Register("postgres", factory)
	Register("postgresql", factory)
}

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore keeps documents as JSONB rows and announces writes with
// NOTIFY so subscribers in other processes see them.
type PostgresStore struct {
	dsn       string
	tableName string
	channel   string
	openDB    sqlOpenFunc
	log       logrus.FieldLogger

	initOnce sync.Once
	initErr  error
	db       *sql.DB
	authed   atomic.Bool
}

// NewPostgresStore returns a store for dsn. No connection is made until
// Authenticate.
func NewPostgresStore(dsn string, log logrus.FieldLogger) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PostgresStore{
		dsn:       dsn,
		tableName: postgresTableName,
		channel:   postgresNotifyChannel,
		openDB:    sql.Open,
		log:       log,
	}, nil
}

// Authenticate connects and creates the documents table. Database
// credentials come from the DSN.
func (p *PostgresStore) Authenticate(ctx context.Context) error {
	return p.ensureReady(ctx)
}

func (p *PostgresStore) ensureReady(ctx context.Context) error {
	p.initOnce.Do(func() {
		db, err := p.openDB("postgres", p.dsn)
		if err != nil {
			p.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				name TEXT PRIMARY KEY,
				body JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, pq.QuoteIdentifier(p.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			p.initErr = err
			return
		}
		p.db = db
		p.authed.Store(true)
	})
	return p.initErr
}

func (p *PostgresStore) ready() error {
	if !p.authed.Load() {
		return ErrNotAuthenticated
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, name string) (Document, error) {
	if err := p.ready(); err != nil {
		return Document{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT body FROM %s WHERE name = $1", pq.QuoteIdentifier(p.tableName))
	var body []byte
	err := p.db.QueryRowContext(ctx, query, name).Scan(&body)
	if stderrors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrDocumentNotFound
	}
	if err != nil {
		return Document{}, err
	}
	return DecodeDocument(body)
}

// Merge upserts with the JSONB || operator, which overlays top-level keys,
// and notifies subscribers in the same transaction.
func (p *PostgresStore) Merge(ctx context.Context, name string, doc Document) error {
	if err := p.ready(); err != nil {
		return err
	}
	body, err := EncodeDocument(doc)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	table := pq.QuoteIdentifier(p.tableName)
	query := fmt.Sprintf(`
		INSERT INTO %s AS d (name, body, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (name)
		DO UPDATE SET body = d.body || EXCLUDED.body, updated_at = NOW()`, table)
	if _, err := tx.ExecContext(ctx, query, name, string(body)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", p.channel, name); err != nil {
		return err
	}
	return tx.Commit()
}

// Subscribe listens on the notify channel and re-reads the document on every
// notification for name. A failed reconnect attempt ends the subscription.
func (p *PostgresStore) Subscribe(ctx context.Context, name string, onUpdate UpdateFunc, onError ErrorFunc) (Subscription, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	sub := &pgSubscription{done: make(chan struct{})}
	listener := pq.NewListener(p.dsn, postgresMinReconnect, postgresMaxReconnect, func(ev pq.ListenerEventType, err error) {
		if ev == pq.ListenerEventConnectionAttemptFailed && err != nil {
			sub.fail(err, onError)
		}
	})
	if err := listener.Listen(p.channel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("listen %s: %w", p.channel, err)
	}
	sub.setListener(listener)
	select {
	case <-sub.done:
		_ = listener.Close()
		return sub, nil
	default:
	}

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				// nil follows a reconnect; re-read since notifications may have been lost.
				if n != nil && n.Extra != name {
					continue
				}
				doc, err := p.Get(context.Background(), name)
				if err != nil {
					p.log.WithError(err).Warn("failed to read document after notification")
					continue
				}
				select {
				case <-sub.done:
					return
				default:
				}
				onUpdate(doc)
			}
		}
	}()
	return sub, nil
}

func (p *PostgresStore) Close() error {
	if !p.authed.Load() {
		return nil
	}
	return p.db.Close()
}

type pgSubscription struct {
	mu       sync.Mutex
	listener *pq.Listener
	done     chan struct{}
	once     sync.Once
}

func (s *pgSubscription) setListener(l *pq.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

func (s *pgSubscription) stop() bool {
	stopped := false
	s.once.Do(func() {
		close(s.done)
		stopped = true
	})
	if stopped {
		s.mu.Lock()
		l := s.listener
		s.mu.Unlock()
		if l != nil {
			// Close from a fresh goroutine: fail runs on the listener's own
			// event callback.
			go func() { _ = l.Close() }()
		}
	}
	return stopped
}

func (s *pgSubscription) fail(err error, onError ErrorFunc) {
	if s.stop() && onError != nil {
		onError(err)
	}
}

func (s *pgSubscription) Unsubscribe() {
	s.stop()
}
