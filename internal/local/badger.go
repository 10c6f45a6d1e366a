package local

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

func init() {
	Register("badger", func(baseDir string, log logrus.FieldLogger) (Store, error) {
		db, err := OpenBadger(filepath.Join(baseDir, "badger"), log)
		if err != nil {
			return nil, err
		}
		return newStore("badger", &badgerKV{db: db}, log), nil
	})
}

// OpenBadger opens a BadgerDB directory with synchronous writes. An empty
// path opens an in-memory instance.
func OpenBadger(path string, log logrus.FieldLogger) (*badger.DB, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0700); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if log != nil {
		opts = opts.WithLogger(&badgerLogger{log: log.WithField("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// badgerLogger routes badger's internal logging to logrus. Info output is
// demoted to debug because badger is chatty at startup.
type badgerLogger struct {
	log logrus.FieldLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.log.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.log.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.log.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.log.Debugf(format, args...) }

type badgerKV struct {
	db *badger.DB
}

func (b *badgerKV) put(files []byte, activeID string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(KeyFiles), files); err != nil {
			return err
		}
		return txn.Set([]byte(KeyActiveFileID), []byte(activeID))
	})
}

func (b *badgerKV) get() ([]byte, string, bool, error) {
	var files, active []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(KeyFiles))
		if err != nil {
			return err
		}
		if files, err = item.ValueCopy(nil); err != nil {
			return err
		}
		item, err = txn.Get([]byte(KeyActiveFileID))
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		active, err = item.ValueCopy(nil)
		return err
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, err
	}
	return files, string(active), true, nil
}

func (b *badgerKV) close() error {
	return b.db.Close()
}
