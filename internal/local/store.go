// Package local persists the workspace to durable storage on this machine.
//
// Every backend stores the same two logical keys, written in one transaction
// and read together: the serialized forest and the active file id.
package local

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hpungsan/folio/internal/tree"
	"github.com/hpungsan/folio/internal/workspace"
)

// Keys of the two persisted values.
const (
	KeyFiles        = "workspace.files"
	KeyActiveFileID = "workspace.active_file_id"
)

// Store is the local persistence contract.
type Store interface {
	// Save writes the forest and active id together.
	Save(s workspace.Snapshot) error
	// Load returns the persisted snapshot, or false when nothing usable is
	// stored. Corrupt data is logged and reported as absent.
	Load() (workspace.Snapshot, bool)
	Close() error
}

// kv is the raw storage a backend provides.
type kv interface {
	put(files []byte, activeID string) error
	// get reports found=false when no forest has ever been written.
	get() (files []byte, activeID string, found bool, err error)
	close() error
}

type store struct {
	kv   kv
	name string
	log  logrus.FieldLogger
}

func newStore(name string, backend kv, log logrus.FieldLogger) *store {
	return &store{kv: backend, name: name, log: log.WithField("local_store", name)}
}

func (s *store) Save(snap workspace.Snapshot) error {
	files, err := tree.EncodeForest(snap.Files)
	if err != nil {
		return fmt.Errorf("encode workspace: %w", err)
	}
	if err := s.kv.put(files, snap.ActiveFileID); err != nil {
		return fmt.Errorf("save workspace to %s: %w", s.name, err)
	}
	return nil
}

func (s *store) Load() (workspace.Snapshot, bool) {
	files, activeID, found, err := s.kv.get()
	if err != nil {
		s.log.WithError(err).Warn("failed to read local workspace")
		return workspace.Snapshot{}, false
	}
	if !found {
		return workspace.Snapshot{}, false
	}
	forest, err := tree.DecodeForest(files)
	if err != nil {
		s.log.WithError(err).Warn("local workspace is corrupt, ignoring it")
		return workspace.Snapshot{}, false
	}
	return workspace.Snapshot{Files: forest, ActiveFileID: activeID}, true
}

func (s *store) Close() error {
	return s.kv.close()
}
