package local

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const sqliteFile = "folio.db"

// sqliteMigrations are applied in order; the database's user_version is the
// count already applied.
var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}

func init() {
	Register("sqlite", func(baseDir string, log logrus.FieldLogger) (Store, error) {
		db, err := openSQLite(baseDir)
		if err != nil {
			return nil, err
		}
		return newStore("sqlite", &sqliteKV{db: db}, log), nil
	})
}

// openSQLite opens baseDir/folio.db in WAL mode and brings its schema up to
// date. The directory and file are private to the user.
func openSQLite(baseDir string) (*sql.DB, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("create %s: %w", baseDir, err)
	}
	_ = os.Chmod(baseDir, 0o700)

	path := filepath.Join(baseDir, sqliteFile)
	// DSN pragmas are applied to each connection in the pool.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := prepareSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	_ = os.Chmod(path, 0o600)
	return db, nil
}

func prepareSQLite(db *sql.DB) error {
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("read journal_mode: %w", err)
	}
	if mode != "wal" {
		return fmt.Errorf("journal_mode is %q, need wal", mode)
	}

	applied, err := schemaVersion(db)
	if err != nil {
		return err
	}
	if applied > len(sqliteMigrations) {
		return fmt.Errorf("%s has schema version %d, newer than this build supports (%d)", sqliteFile, applied, len(sqliteMigrations))
	}
	for v := applied; v < len(sqliteMigrations); v++ {
		if _, err := db.Exec(sqliteMigrations[v]); err != nil {
			return fmt.Errorf("apply migration %d: %w", v+1, err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			return fmt.Errorf("record migration %d: %w", v+1, err)
		}
	}
	return nil
}

func schemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return v, nil
}

type sqliteKV struct {
	db *sql.DB
}

const upsertKV = `
INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

func (s *sqliteKV) put(files []byte, activeID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	if _, err := tx.Exec(upsertKV, KeyFiles, files, now); err != nil {
		return err
	}
	if _, err := tx.Exec(upsertKV, KeyActiveFileID, []byte(activeID), now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteKV) get() ([]byte, string, bool, error) {
	var files, active []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, KeyFiles).Scan(&files)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, err
	}
	err = s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, KeyActiveFileID).Scan(&active)
	if err != nil && !stderrors.Is(err, sql.ErrNoRows) {
		return nil, "", false, err
	}
	return files, string(active), true, nil
}

func (s *sqliteKV) close() error {
	return s.db.Close()
}
