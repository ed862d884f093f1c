// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package localcells tracks L1 cells reserved by this node's own unconfirmed
// activity so the mempool (and the submit task composing the next block's
// transaction) never tries to spend a cell that a produced-but-not-yet-
// confirmed block already claims.
//
// The manager mirrors the shape of a tx-pool account reservation map
// (a map guarded by a single mutex, held only across the map mutation
// itself, never across I/O): see core/txpool.TxPool.reservations in the
// go-ethereum-derived subpool implementations this package's lineage
// ships alongside.
package localcells

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/luxfi/rollup-producer/internal/rollup"
)

// Manager tracks two disjoint sets of out-points:
//
//   - locked: reserved by local activity (a produced block's deposit
//     cells) but not yet referenced by any known in-flight L1 transaction.
//   - inFlight: inputs of a submitted-but-not-confirmed transaction,
//     tagged by the hash of the transaction that consumes them.
//
// A third, internal bookkeeping set — chained — holds the outputs of an
// applied transaction that a later submission is allowed to consume before
// the transaction that created them is confirmed on L1 (custodian cell
// chaining, spec.md §4.2). chained entries are also tagged by owning tx
// hash so ConfirmTx can release them together with the in-flight inputs.
type Manager struct {
	mu sync.Mutex

	locked   mapset.Set[rollup.OutPoint]
	inFlight map[rollup.OutPoint]rollup.Hash
	chained  map[rollup.OutPoint]rollup.Hash
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{
		locked:   mapset.NewThreadUnsafeSet[rollup.OutPoint](),
		inFlight: make(map[rollup.OutPoint]rollup.Hash),
		chained:  make(map[rollup.OutPoint]rollup.Hash),
	}
}

// LockCell reserves out as Locked. Idempotent: locking an already-locked
// cell is a no-op.
func (m *Manager) LockCell(out rollup.OutPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked.Add(out)
}

// ApplyTx registers tx as in-flight: every input it consumes moves out of
// Locked (if present there) and into In-flight tagged by tx.Hash(); every
// output it creates becomes available for a subsequent submit to chain off
// of (spec.md §3, Local-Cell Manager lifecycle).
func (m *Manager) ApplyTx(tx *rollup.L1Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := tx.Hash()
	for _, in := range tx.InputOutPoints() {
		m.locked.Remove(in)
		m.inFlight[in] = h
	}
	for _, out := range tx.ChainedOutPoints() {
		m.chained[out] = h
	}
}

// ConfirmTx releases every In-flight entry and every chained-output entry
// tagged by tx.Hash(), once that transaction has been observed committed on
// L1 (spec.md §4.4 step 5).
func (m *Manager) ConfirmTx(tx *rollup.L1Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := tx.Hash()
	for _, in := range tx.InputOutPoints() {
		if owner, ok := m.inFlight[in]; ok && owner == h {
			delete(m.inFlight, in)
		}
	}
	for _, out := range tx.ChainedOutPoints() {
		if owner, ok := m.chained[out]; ok && owner == h {
			delete(m.chained, out)
		}
	}
}

// IsLocked reports whether out is reserved by any local activity: Locked,
// In-flight, or a not-yet-confirmed chained output. The mempool calls this
// to exclude cells it would otherwise attempt to consume.
func (m *Manager) IsLocked(out rollup.OutPoint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked.Contains(out) {
		return true
	}
	if _, ok := m.inFlight[out]; ok {
		return true
	}
	_, ok := m.chained[out]
	return ok
}

// Snapshot is a read-only, point-in-time copy of the manager's state,
// handed to BlockProducer.ComposeSubmitTx (which must not observe
// concurrent mutation while it selects inputs) and to MemPool.NotifyNewTip.
type Snapshot struct {
	Locked   []rollup.OutPoint
	InFlight map[rollup.OutPoint]rollup.Hash
	Chained  map[rollup.OutPoint]rollup.Hash
}

// IsLocked reports whether out appears in any set captured by the snapshot.
func (s Snapshot) IsLocked(out rollup.OutPoint) bool {
	for _, l := range s.Locked {
		if l == out {
			return true
		}
	}
	if _, ok := s.InFlight[out]; ok {
		return true
	}
	_, ok := s.Chained[out]
	return ok
}

// Snapshot copies the manager's current state. The copy is taken entirely
// under the lock and the lock is released before any caller can observe it,
// satisfying §5's "lock held only across set mutation, never across I/O".
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		Locked:   m.locked.ToSlice(),
		InFlight: make(map[rollup.OutPoint]rollup.Hash, len(m.inFlight)),
		Chained:  make(map[rollup.OutPoint]rollup.Hash, len(m.chained)),
	}
	for k, v := range m.inFlight {
		s.InFlight[k] = v
	}
	for k, v := range m.chained {
		s.Chained[k] = v
	}
	return s
}

// LockedCount returns the number of cells currently in the Locked set.
// Used by invariant checks (I5) in tests.
func (m *Manager) LockedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked.Cardinality()
}

// InFlightCount returns the number of cells currently in the In-flight set.
func (m *Manager) InFlightCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inFlight)
}
