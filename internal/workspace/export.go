package workspace

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hpungsan/folio/internal/errors"
	"github.com/hpungsan/folio/internal/tree"
)

// Format is an export file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

const exportSchemaVersion = "1.0"

// ExportFile is the on-disk shape of a workspace export.
type ExportFile struct {
	FolioExport   bool        `json:"_folio_export" yaml:"_folio_export"`
	SchemaVersion string      `json:"schema_version" yaml:"schema_version"`
	ExportedAt    int64       `json:"exported_at" yaml:"exported_at"`
	ActiveFileID  string      `json:"activeFileId,omitempty" yaml:"activeFileId,omitempty"`
	Files         tree.Forest `json:"files" yaml:"files"`
}

// ExportOutput reports a completed export.
type ExportOutput struct {
	Path       string `json:"path"`
	Format     Format `json:"format"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// ImportOutput reports a completed import.
type ImportOutput struct {
	Path         string `json:"path"`
	Count        int    `json:"count"`
	ActiveFileID string `json:"activeFileId,omitempty"`
}

// FormatForPath picks the encoding from the file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", errors.NewInvalidRequest("path must end in .json, .yaml or .yml")
	}
}

// Encode serializes a snapshot in the given format.
func Encode(s Snapshot, format Format, now time.Time) ([]byte, error) {
	ef := ExportFile{
		FolioExport:   true,
		SchemaVersion: exportSchemaVersion,
		ExportedAt:    now.Unix(),
		ActiveFileID:  s.ActiveFileID,
		Files:         nonNil(s.Files),
	}
	switch format {
	case FormatJSON:
		return json.MarshalIndent(ef, "", "  ")
	case FormatYAML:
		return yaml.Marshal(ef)
	default:
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown format %q", format))
	}
}

// Decode parses and validates an export file.
func Decode(data []byte, format Format) (*ExportFile, error) {
	var ef ExportFile
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &ef)
	case FormatYAML:
		err = yaml.Unmarshal(data, &ef)
	default:
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown format %q", format))
	}
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid export file: %v", err))
	}
	if !ef.FolioExport {
		return nil, errors.NewInvalidRequest("not a folio export file")
	}
	if ef.SchemaVersion != exportSchemaVersion {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unsupported schema version %q", ef.SchemaVersion))
	}
	ef.Files = nonNil(ef.Files)
	if err := tree.Validate(ef.Files); err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	return &ef, nil
}

// ExportTo writes the current snapshot to path. The file is written to a
// temp name first and renamed into place so a failed export never leaves a
// partial file.
func (m *Manager) ExportTo(path string) (*ExportOutput, error) {
	format, err := checkPath(path, pathWrite)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	s := m.Snapshot()
	data, err := Encode(s, format, now)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return nil, err
	}
	return &ExportOutput{
		Path:       path,
		Format:     format,
		Count:      countNodes(s.Files),
		ExportedAt: now.Unix(),
	}, nil
}

// ImportFrom replaces the workspace with the contents of an export file.
// The replacement is a local transition, so it is persisted and pushed.
func (m *Manager) ImportFrom(path string) (*ImportOutput, error) {
	format, err := checkPath(path, pathRead)
	if err != nil {
		return nil, err
	}
	f, err := openFileNoFollow(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	ef, err := Decode(data, format)
	if err != nil {
		return nil, err
	}

	var active string
	err = m.mutate(func(s state) (state, error) {
		active = validActive(ef.Files, ef.ActiveFileID)
		return state{files: ef.Files, activeID: active}, nil
	})
	if err != nil {
		return nil, err
	}
	return &ImportOutput{Path: path, Count: countNodes(ef.Files), ActiveFileID: active}, nil
}

func writeFileAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
		}
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := file.Write(data); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink at the destination.
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("export path is a symlink")
	}
	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return errors.NewInvalidRequest("export destination already exists")
			}
		}
		return errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}
	success = true
	return nil
}

func countNodes(f tree.Forest) int {
	count := 0
	tree.Walk(f, func(tree.Node, string, int) bool {
		count++
		return true
	})
	return count
}
