// Copyright 2025 Cynic Protocol
//
// KV Adapter for CometBFT Database Integration
//
// Wraps cometbft-db's dbm.DB so pkg/knowledge.KV and pkg/chain.KV can
// both be backed by any of its engines (goleveldb, memdb, boltdb)
// without either package importing cometbft-db directly.
package kvdb

import (
	dbm "github.com/cometbft/cometbft-db"
)

// KVAdapter wraps a cometbft-db handle behind the narrow Get/Set shape
// pkg/knowledge.KV and pkg/chain.KV both declare.
type KVAdapter struct {
	db dbm.DB
}

// NewKVAdapter wraps db.
func NewKVAdapter(db dbm.DB) *KVAdapter {
	return &KVAdapter{db: db}
}

func (a *KVAdapter) Get(key []byte) ([]byte, error) {
	if a.db == nil {
		return nil, nil
	}
	v, err := a.db.Get(key)
	if err != nil {
		return nil, err
	}
	// v may be nil if key not found — both KV consumers treat nil as "not present".
	return v, nil
}

// Set writes through SetSync: block and pattern writes must be durable
// before the controller advances past the scheduler tick that produced
// them (§4.C6/C4).
func (a *KVAdapter) Set(key, value []byte) error {
	if a.db == nil {
		return nil
	}
	return a.db.SetSync(key, value)
}