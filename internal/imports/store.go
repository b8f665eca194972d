package imports

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

var storeLog = logrus.WithField("component", "imports.store")

// Store is the Artifact Store: an on-disk,
// content-addressed cache of (Meta, Doc) pairs, one meta.json/spec.json pair
// per filepath_base under a per-kind subdirectory of the cache root.
type Store struct {
	ctx *ManagerContext
}

func NewStore(ctx *ManagerContext) *Store {
	return &Store{ctx: ctx}
}

func (s *Store) kindDir(kind Kind) string {
	return filepath.Join(s.ctx.CacheRoot(), kind.cacheDir())
}

func (s *Store) paths(kind Kind, base string) (metaPath, specPath string) {
	dir := s.kindDir(kind)
	return filepath.Join(dir, base+".meta.json"), filepath.Join(dir, base+".spec.json")
}

// Read loads the persisted Meta and raw Doc payload for base, if present. A
// missing or unreadable pair is reported as (nil, nil, nil): the caller
// treats any failure to read as a plain cache miss.
func (s *Store) Read(kind Kind, base string) (*Meta, json.RawMessage, error) {
	metaPath, specPath := s.paths(kind, base)

	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		if !os.IsNotExist(err) {
			storeLog.WithError(err).WithField("path", metaPath).Debug("imports: cache meta unreadable, treating as miss")
		}
		return nil, nil, nil
	}

	var meta Meta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		storeLog.WithError(err).WithField("path", metaPath).Debug("imports: cache meta corrupt, treating as miss")
		return nil, nil, nil
	}
	if meta.MetaVersion != MetaVersion {
		storeLog.WithField("path", metaPath).Debug("imports: cache meta version mismatch, treating as miss")
		return nil, nil, nil
	}

	specBytes, err := os.ReadFile(specPath)
	if err != nil {
		storeLog.WithError(err).WithField("path", specPath).Debug("imports: cache spec unreadable, treating as miss")
		return nil, nil, nil
	}

	return &meta, specBytes, nil
}

// Write persists meta and doc for base atomically: each file is written to a
// sibling temp file and renamed into place, spec before meta, so a reader
// never observes a meta.json whose spec.json is stale or absent.
func (s *Store) Write(kind Kind, base string, meta *Meta, doc Doc) error {
	metaPath, specPath := s.paths(kind, base)

	// base may contain path separators (module imports map "." to "/"), so
	// the directory to create is the pair's own parent, not just the kind dir.
	dir := filepath.Dir(specPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &CacheIoError{Path: dir, Cause: err}
	}

	specBytes, err := json.Marshal(doc)
	if err != nil {
		return &CacheIoError{Path: specPath, Cause: err}
	}
	if err := writeAtomic(specPath, specBytes); err != nil {
		return err
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return &CacheIoError{Path: metaPath, Cause: err}
	}
	if err := writeAtomic(metaPath, metaBytes); err != nil {
		return err
	}

	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return &CacheIoError{Path: path, Cause: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &CacheIoError{Path: path, Cause: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &CacheIoError{Path: path, Cause: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &CacheIoError{Path: path, Cause: err}
	}
	return nil
}

// Clear removes the entire on-disk cache tree, used by the manager's
// clear_cache operation.
func (s *Store) Clear() error {
	root := s.ctx.CacheRoot()
	if err := os.RemoveAll(root); err != nil {
		return &CacheIoError{Path: root, Cause: err}
	}
	return nil
}

// ClearKind removes only the subdirectory for one kind.
func (s *Store) ClearKind(kind Kind) error {
	dir := s.kindDir(kind)
	if dir == "" || dir == s.ctx.CacheRoot() {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return &CacheIoError{Path: dir, Cause: err}
	}
	return nil
}
