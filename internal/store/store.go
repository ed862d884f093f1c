// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store is the Progress Store Adapter (spec.md §4.1): it persists
// the three pipeline progress pointers and their per-block auxiliary
// records, atomically within short-lived transactions, and offers
// consistent read-only snapshots for the submit/confirm tasks to compose
// against.
//
// The backing engine is cockroachdb/pebble, the embedded KV store this
// codebase's lineage already depends on for its own chain database.
package store

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/luxfi/rollup-producer/internal/rollup"
)

// Store owns the pebble handle. All pointer writes happen inside a
// Transaction; all composition reads happen against a Snapshot, so that a
// concurrent writer never perturbs a submit/confirm task mid-read (spec.md
// §5 "snapshots are used for read-only composition").
type Store struct {
	db *pebble.DB
}

// Open opens (creating if necessary) a pebble database at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a pebble database backed entirely by memory, for tests.
func OpenInMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// reader is the subset of pebble.Reader this package needs; both *pebble.DB
// and *pebble.Snapshot satisfy it, which lets GetSnapshot and the plain
// read helpers share one accessor implementation.
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

var _ reader = (*pebble.DB)(nil)
var _ reader = (*pebble.Snapshot)(nil)

func get(r reader, key []byte) ([]byte, bool, error) {
	v, closer, err := r.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := append([]byte{}, v...)
	_ = closer.Close()
	return out, true, nil
}

// Snapshot is a consistent, read-only point-in-time view of the store.
// Submit and confirm tasks open one to compose against, then drop it before
// doing any L1 I/O (spec.md §4.3 step 1-2, §4.4 step 1).
type Snapshot struct {
	snap *pebble.Snapshot
}

// GetSnapshot opens a new read-only snapshot. The caller must Close it.
func (s *Store) GetSnapshot() *Snapshot {
	return &Snapshot{snap: s.db.NewSnapshot()}
}

// Close releases the snapshot.
func (sn *Snapshot) Close() error { return sn.snap.Close() }

func (sn *Snapshot) getNumberHash(key []byte) (rollup.NumberHash, bool, error) {
	return getNumberHash(sn.snap, key)
}

// GetLastValid returns the highest locally produced L2 block.
func (sn *Snapshot) GetLastValid() (rollup.NumberHash, bool, error) {
	return sn.getNumberHash(lastValidKey)
}

// GetLastSubmitted returns the highest block for which a submission
// transaction has been sent.
func (sn *Snapshot) GetLastSubmitted() (rollup.NumberHash, bool, error) {
	return sn.getNumberHash(lastSubmittedKey)
}

// GetLastConfirmed returns the highest block confirmed on L1.
func (sn *Snapshot) GetLastConfirmed() (rollup.NumberHash, bool, error) {
	return sn.getNumberHash(lastConfirmedKey)
}

// GetBlockHashByNumber returns the L2 block hash at the given number.
func (sn *Snapshot) GetBlockHashByNumber(number uint64) (rollup.Hash, bool, error) {
	raw, ok, err := get(sn.snap, numberKey(blockHashByNumberPrefix, number))
	if err != nil || !ok {
		return rollup.Hash{}, ok, err
	}
	var h rollup.Hash
	copy(h[:], raw)
	return h, true, nil
}

// GetBlock returns the block with the given hash.
func (sn *Snapshot) GetBlock(hash rollup.Hash) (*rollup.Block, bool, error) {
	raw, ok, err := get(sn.snap, hashKey(blockPrefix, hash))
	if err != nil || !ok {
		return nil, ok, err
	}
	var b rollup.Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, false, fmt.Errorf("decode block %s: %w", hash, err)
	}
	return &b, true, nil
}

// GetBlockPostGlobalState returns the post-block global state committed by
// the block with the given hash.
func (sn *Snapshot) GetBlockPostGlobalState(hash rollup.Hash) (*rollup.GlobalState, bool, error) {
	raw, ok, err := get(sn.snap, hashKey(globalStatePrefix, hash))
	if err != nil || !ok {
		return nil, ok, err
	}
	var gs rollup.GlobalState
	if err := json.Unmarshal(raw, &gs); err != nil {
		return nil, false, fmt.Errorf("decode global state for %s: %w", hash, err)
	}
	return &gs, true, nil
}

// GetSubmitTx returns the submission transaction composed for block number.
// Once written it is immutable (spec.md §3).
func (sn *Snapshot) GetSubmitTx(number uint64) (*rollup.L1Transaction, bool, error) {
	raw, ok, err := get(sn.snap, numberKey(submitTxPrefix, number))
	if err != nil || !ok {
		return nil, ok, err
	}
	var tx rollup.L1Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, false, fmt.Errorf("decode submit tx for block %d: %w", number, err)
	}
	return &tx, true, nil
}

// GetBlockDepositInfoVec returns the deposit cells selected into block
// number.
func (sn *Snapshot) GetBlockDepositInfoVec(number uint64) ([]rollup.DepositInfo, bool, error) {
	raw, ok, err := get(sn.snap, numberKey(depositInfoVecPrefix, number))
	if err != nil || !ok {
		return nil, ok, err
	}
	var deposits []rollup.DepositInfo
	if err := json.Unmarshal(raw, &deposits); err != nil {
		return nil, false, fmt.Errorf("decode deposit info for block %d: %w", number, err)
	}
	return deposits, true, nil
}

// GetWithdrawalByKey returns the withdrawal extra matching blockHash/index.
func (sn *Snapshot) GetWithdrawalByKey(blockHash rollup.Hash, index uint32) (*rollup.WithdrawalExtra, bool, error) {
	raw, ok, err := get(sn.snap, withdrawalKey(blockHash, index))
	if err != nil || !ok {
		return nil, ok, err
	}
	var w rollup.WithdrawalExtra
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, false, fmt.Errorf("decode withdrawal %s/%d: %w", blockHash, index, err)
	}
	return &w, true, nil
}

func getNumberHash(r reader, key []byte) (rollup.NumberHash, bool, error) {
	raw, ok, err := get(r, key)
	if err != nil || !ok {
		return rollup.NumberHash{}, ok, err
	}
	var nh rollup.NumberHash
	if err := json.Unmarshal(raw, &nh); err != nil {
		return rollup.NumberHash{}, false, fmt.Errorf("decode number-hash: %w", err)
	}
	return nh, true, nil
}
