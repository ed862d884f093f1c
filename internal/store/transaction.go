// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/luxfi/rollup-producer/internal/rollup"
)

// Transaction is a short-lived, atomic batch of writes. Every pointer
// write (spec.md §4.1) happens inside one of these, together with any
// per-block writes it depends on, and is made durable only on Commit.
type Transaction struct {
	db    *pebble.DB
	batch *pebble.Batch
}

// BeginTransaction opens a new transaction. The caller must Commit or
// Abort it.
func (s *Store) BeginTransaction() *Transaction {
	return &Transaction{db: s.db, batch: s.db.NewIndexedBatch()}
}

// Commit makes the transaction's writes durable and atomic.
func (tx *Transaction) Commit() error {
	if err := tx.batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit store transaction: %w", err)
	}
	return nil
}

// Abort discards the transaction's writes.
func (tx *Transaction) Abort() error { return tx.batch.Close() }

func (tx *Transaction) get(key []byte) ([]byte, bool, error) {
	return get(tx.batch, key)
}

func (tx *Transaction) put(key []byte, value []byte) error {
	if err := tx.batch.Set(key, value, nil); err != nil {
		return fmt.Errorf("store transaction put: %w", err)
	}
	return nil
}

func putJSON(tx *Transaction, key []byte, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode store value: %w", err)
	}
	return tx.put(key, raw)
}

// GetLastValid reads the current last_valid pointer within the transaction.
func (tx *Transaction) GetLastValid() (rollup.NumberHash, bool, error) {
	return getNumberHash(tx.batch, lastValidKey)
}

// GetLastSubmitted reads the current last_submitted pointer within the transaction.
func (tx *Transaction) GetLastSubmitted() (rollup.NumberHash, bool, error) {
	return getNumberHash(tx.batch, lastSubmittedKey)
}

// GetLastConfirmed reads the current last_confirmed pointer within the transaction.
func (tx *Transaction) GetLastConfirmed() (rollup.NumberHash, bool, error) {
	return getNumberHash(tx.batch, lastConfirmedKey)
}

// SetLastValid persists the last_valid pointer.
func (tx *Transaction) SetLastValid(nh rollup.NumberHash) error {
	return putJSON(tx, lastValidKey, nh)
}

// SetLastSubmitted persists the last_submitted pointer. Called exclusively
// from the PSC controller's submit-completion handler (spec.md §3
// ownership rule).
func (tx *Transaction) SetLastSubmitted(nh rollup.NumberHash) error {
	return putJSON(tx, lastSubmittedKey, nh)
}

// SetLastConfirmed persists the last_confirmed pointer. Called exclusively
// from the PSC controller's confirm-completion handler.
func (tx *Transaction) SetLastConfirmed(nh rollup.NumberHash) error {
	return putJSON(tx, lastConfirmedKey, nh)
}

// SetBlockHashByNumber records the canonical hash for an L2 block number.
func (tx *Transaction) SetBlockHashByNumber(number uint64, hash rollup.Hash) error {
	return tx.put(numberKey(blockHashByNumberPrefix, number), hash[:])
}

// SetBlock persists a block body.
func (tx *Transaction) SetBlock(b *rollup.Block) error {
	return putJSON(tx, hashKey(blockPrefix, b.Hash), b)
}

// SetBlockPostGlobalState persists the post-block global state for a block hash.
func (tx *Transaction) SetBlockPostGlobalState(hash rollup.Hash, gs *rollup.GlobalState) error {
	return putJSON(tx, hashKey(globalStatePrefix, hash), gs)
}

// SetSubmitTx persists the submission transaction for a block number. Must
// only ever be called once per number (spec.md §3 immutability); callers
// are expected to check GetSubmitTx first (the submit task does, in
// internal/psc).
func (tx *Transaction) SetSubmitTx(number uint64, l1tx *rollup.L1Transaction) error {
	return putJSON(tx, numberKey(submitTxPrefix, number), l1tx)
}

// GetSubmitTx reads the submission transaction for a block number within
// the transaction.
func (tx *Transaction) GetSubmitTx(number uint64) (*rollup.L1Transaction, bool, error) {
	raw, ok, err := tx.get(numberKey(submitTxPrefix, number))
	if err != nil || !ok {
		return nil, ok, err
	}
	var l1tx rollup.L1Transaction
	if err := json.Unmarshal(raw, &l1tx); err != nil {
		return nil, false, fmt.Errorf("decode submit tx for block %d: %w", number, err)
	}
	return &l1tx, true, nil
}

// SetBlockDepositInfoVec persists the deposit cells selected into a block.
func (tx *Transaction) SetBlockDepositInfoVec(number uint64, deposits []rollup.DepositInfo) error {
	return putJSON(tx, numberKey(depositInfoVecPrefix, number), deposits)
}

// SetBlockPostFinalizedCustodianCapacity persists the residual custodian
// capacity carried forward from a block's submission.
func (tx *Transaction) SetBlockPostFinalizedCustodianCapacity(number uint64, cap rollup.CustodianCapacity) error {
	return putJSON(tx, numberKey(custodianCapacityPrefix, number), cap)
}

// SetWithdrawalByKey persists a withdrawal extra keyed by its owning
// block's hash and index.
func (tx *Transaction) SetWithdrawalByKey(blockHash rollup.Hash, index uint32, w *rollup.WithdrawalExtra) error {
	return putJSON(tx, withdrawalKey(blockHash, index), w)
}
