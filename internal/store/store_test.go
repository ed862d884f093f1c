// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/rollup-producer/internal/rollup"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestProgressPointersRoundTrip(t *testing.T) {
	s := newTestStore(t)

	tx := s.BeginTransaction()
	nh := rollup.NumberHash{Number: 11, BlockHash: rollup.Hash{1}}
	require.NoError(t, tx.SetLastValid(nh))
	require.NoError(t, tx.SetLastSubmitted(nh))
	require.NoError(t, tx.SetLastConfirmed(nh))
	require.NoError(t, tx.Commit())

	snap := s.GetSnapshot()
	defer snap.Close()

	got, ok, err := snap.GetLastValid()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, nh, got)

	got, ok, err = snap.GetLastSubmitted()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, nh, got)

	got, ok, err = snap.GetLastConfirmed()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, nh, got)
}

func TestSubmitTxRoundTrip(t *testing.T) {
	s := newTestStore(t)

	tx := s.BeginTransaction()
	l1tx := &rollup.L1Transaction{Inputs: []rollup.CellInput{{PreviousOutput: rollup.OutPoint{Index: 1}}}}
	require.NoError(t, tx.SetSubmitTx(11, l1tx))
	require.NoError(t, tx.Commit())

	snap := s.GetSnapshot()
	defer snap.Close()
	got, ok, err := snap.GetSubmitTx(11)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, l1tx.Inputs, got.Inputs)
}

func TestMissingKeyIsAbsentNotError(t *testing.T) {
	s := newTestStore(t)
	snap := s.GetSnapshot()
	defer snap.Close()

	_, ok, err := snap.GetLastSubmitted()
	require.NoError(t, err)
	require.False(t, ok)
}
