// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package localcells

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/rollup-producer/internal/rollup"
)

func outPoint(b byte) rollup.OutPoint {
	var h rollup.Hash
	h[0] = b
	return rollup.OutPoint{TxHash: h, Index: 0}
}

func TestLockCellIdempotent(t *testing.T) {
	m := New()
	o := outPoint(1)
	m.LockCell(o)
	m.LockCell(o)
	require.True(t, m.IsLocked(o))
	require.Equal(t, 1, m.LockedCount())
}

func TestApplyTxMovesLockedToInFlight(t *testing.T) {
	m := New()
	o := outPoint(1)
	m.LockCell(o)

	tx := &rollup.L1Transaction{
		Inputs: []rollup.CellInput{{PreviousOutput: o}},
		Outputs: []rollup.CellOutput{
			{Capacity: uint256.NewInt(100)},
		},
	}
	m.ApplyTx(tx)

	require.Equal(t, 0, m.LockedCount())
	require.Equal(t, 1, m.InFlightCount())
	require.True(t, m.IsLocked(o))

	// The tx's own output is chainable before confirmation.
	chained := tx.ChainedOutPoints()[0]
	require.True(t, m.IsLocked(chained))
}

func TestConfirmTxReleasesInFlightAndChained(t *testing.T) {
	m := New()
	o := outPoint(1)
	tx := &rollup.L1Transaction{
		Inputs:  []rollup.CellInput{{PreviousOutput: o}},
		Outputs: []rollup.CellOutput{{Capacity: uint256.NewInt(50)}},
	}
	m.ApplyTx(tx)
	chained := tx.ChainedOutPoints()[0]

	m.ConfirmTx(tx)

	require.False(t, m.IsLocked(o))
	require.False(t, m.IsLocked(chained))
	require.Equal(t, 0, m.InFlightCount())
}

func TestCellAppearsInAtMostOneSet(t *testing.T) {
	m := New()
	o := outPoint(7)
	m.LockCell(o)

	tx := &rollup.L1Transaction{Inputs: []rollup.CellInput{{PreviousOutput: o}}}
	m.ApplyTx(tx)

	snap := m.Snapshot()
	lockedCount := 0
	for _, l := range snap.Locked {
		if l == o {
			lockedCount++
		}
	}
	_, inFlight := snap.InFlight[o]
	require.Zero(t, lockedCount)
	require.True(t, inFlight)
}

func TestSnapshotIsolatedFromMutation(t *testing.T) {
	m := New()
	o := outPoint(3)
	m.LockCell(o)
	snap := m.Snapshot()

	m.LockCell(outPoint(4))

	require.Len(t, snap.Locked, 1)
	require.True(t, snap.IsLocked(o))
	require.False(t, snap.IsLocked(outPoint(4)))
}
