// Copyright 2025 Cynic Protocol
//
// Package storage implements the §6 persisted state layout. The
// normative structure is logical — chain/<operator>/<slot>.block,
// knowledge/<axiom>/<pattern_id>, operator.json, peers.json,
// proposals/<proposal_id> — and the container is an implementation
// choice; FileStore chooses a plain directory tree so the layout is
// directly inspectable on disk, following the same KV-over-a-simple-
// backend shape the teacher's pkg/kvdb.KVAdapter gives cometbft-db.
package storage

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/cynic-protocol/cynic-node/pkg/cynicerr"
)

// FileStore is a KV implementation (satisfying pkg/chain.KV,
// pkg/knowledge.KV, and any other component's minimal Get/Set
// contract) backed by a directory tree under Root. Keys containing
// ':' — the delimiter every component in this codebase already uses
// for its logical key layout (e.g. chain's "chain:<operator>:slot:
// <n>") — are split into nested directories so the on-disk tree
// mirrors §6's logical paths; every segment is hex-encoded so
// arbitrary binary key material is always a valid filename.
type FileStore struct {
	Root string
}

// NewFileStore creates Root (and any missing parents) and returns a
// FileStore rooted there.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, cynicerr.Wrap(err, cynicerr.Configuration, "create storage root")
	}
	return &FileStore{Root: root}, nil
}

func (f *FileStore) keyToPath(key []byte) string {
	segments := strings.Split(string(key), ":")
	for i, s := range segments {
		segments[i] = hex.EncodeToString([]byte(s))
	}
	parts := append([]string{f.Root}, segments...)
	return filepath.Join(parts...)
}

// Get reads the value stored for key, returning (nil, nil) if absent —
// matching pkg/kvdb.KVAdapter's not-found contract so callers written
// against either backend behave identically.
func (f *FileStore) Get(key []byte) ([]byte, error) {
	data, err := os.ReadFile(f.keyToPath(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, cynicerr.Wrap(err, cynicerr.ResourceExhausted, "read storage key")
	}
	return data, nil
}

// Set writes value for key, creating any parent directories the
// key's ':'-delimited segments imply.
func (f *FileStore) Set(key, value []byte) error {
	path := f.keyToPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cynicerr.Wrap(err, cynicerr.ResourceExhausted, "create storage directory")
	}
	if err := os.WriteFile(path, value, 0o644); err != nil {
		return cynicerr.Wrap(err, cynicerr.ResourceExhausted, "write storage key")
	}
	return nil
}

// Has reports whether key has a stored value.
func (f *FileStore) Has(key []byte) bool {
	_, err := os.Stat(f.keyToPath(key))
	return err == nil
}
