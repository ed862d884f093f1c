// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package psc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/luxfi/rollup-producer/internal/l1client"
	"github.com/luxfi/rollup-producer/internal/localcells"
	"github.com/luxfi/rollup-producer/internal/psc/psctest"
	"github.com/luxfi/rollup-producer/internal/rollup"
	"github.com/luxfi/rollup-producer/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestContext(t *testing.T) (*Context, *psctest.L1, *psctest.BlockProducer) {
	t.Helper()
	s, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	l1 := psctest.NewL1(0)
	bp := psctest.NewBlockProducer()
	pctx := &Context{
		Store:         s,
		RPC:           l1,
		Chain:         &psctest.Chain{},
		MemPool:       &psctest.MemPool{},
		BlockProducer: bp,
		LocalCells:    localcells.New(),
	}
	return pctx, l1, bp
}

func seedGenesis(t *testing.T, pctx *Context) {
	t.Helper()
	tx := pctx.Store.BeginTransaction()
	genesis := rollup.NumberHash{Number: 0, BlockHash: rollup.Hash{0xAA}}
	require.NoError(t, tx.SetBlockHashByNumber(0, genesis.BlockHash))
	require.NoError(t, tx.SetBlock(&rollup.Block{Number: 0, Hash: genesis.BlockHash, TimestampMs: 1_700_000_000_000}))
	require.NoError(t, tx.SetBlockPostGlobalState(genesis.BlockHash, &rollup.GlobalState{Raw: []byte("genesis")}))
	require.NoError(t, tx.SetLastValid(genesis))
	require.NoError(t, tx.SetLastSubmitted(genesis))
	require.NoError(t, tx.SetLastConfirmed(genesis))
	require.NoError(t, tx.Commit())
}

func TestInitAcceptsConsistentPointers(t *testing.T) {
	pctx, _, _ := newTestContext(t)
	seedGenesis(t, pctx)

	c := NewController(pctx)
	require.NoError(t, c.Init(context.Background()))
	require.True(t, pctx.Chain.(*psctest.Chain).SyncingCompleted)
}

func TestInitRejectsBrokenInvariant(t *testing.T) {
	pctx, _, _ := newTestContext(t)
	tx := pctx.Store.BeginTransaction()
	require.NoError(t, tx.SetLastValid(rollup.NumberHash{Number: 1}))
	require.NoError(t, tx.SetLastSubmitted(rollup.NumberHash{Number: 2}))
	require.NoError(t, tx.SetLastConfirmed(rollup.NumberHash{Number: 0}))
	require.NoError(t, tx.Commit())

	c := NewController(pctx)
	err := c.Init(context.Background())
	require.Error(t, err)
	require.True(t, IsFatal(err))
}

func TestInitRejectsMissingPointers(t *testing.T) {
	pctx, _, _ := newTestContext(t)
	c := NewController(pctx)
	err := c.Init(context.Background())
	require.Error(t, err)
	require.True(t, IsFatal(err))
}

func block1() *rollup.Block {
	return &rollup.Block{
		Number:      1,
		Hash:        rollup.Hash{0xBB},
		TimestampMs: 1_700_000_010_000,
	}
}

func TestProduceNextAdvancesLastValid(t *testing.T) {
	pctx, _, bp := newTestContext(t)
	seedGenesis(t, pctx)

	b1 := block1()
	bp.Enqueue(&ProduceBlockResult{
		Block:             b1,
		GlobalState:       &rollup.GlobalState{Raw: []byte("s1")},
		RemainingCapacity: rollup.CustodianCapacity{},
	})

	c := NewController(pctx)
	require.NoError(t, c.produceNext(context.Background()))

	snap := pctx.Store.GetSnapshot()
	defer snap.Close()
	lastValid, ok, err := snap.GetLastValid()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), lastValid.Number)
	require.Equal(t, b1.Hash, lastValid.BlockHash)
}

func TestSubmitBlockComposesPersistsSendsAndIsIdempotent(t *testing.T) {
	pctx, l1, bp := newTestContext(t)
	seedGenesis(t, pctx)

	b1 := block1()
	composeCalls := 0
	bp.ComposeSubmit = func(args ComposeSubmitTxArgs) (*rollup.L1Transaction, error) {
		composeCalls++
		return &rollup.L1Transaction{
			Inputs: []rollup.CellInput{{PreviousOutput: rollup.OutPoint{TxHash: rollup.Hash{0x01}, Index: 0}}},
		}, nil
	}

	storeTx := pctx.Store.BeginTransaction()
	require.NoError(t, storeTx.SetBlock(b1))
	require.NoError(t, storeTx.SetBlockHashByNumber(1, b1.Hash))
	require.NoError(t, storeTx.SetBlockPostGlobalState(b1.Hash, &rollup.GlobalState{Raw: []byte("s1")}))
	require.NoError(t, storeTx.SetBlockDepositInfoVec(1, nil))
	require.NoError(t, storeTx.Commit())

	l1.SetMedianTimeMs(rollup.GreaterSince(b1.TimestampMs).Millis())

	nh, err := SubmitBlock(context.Background(), pctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nh.Number)
	require.Equal(t, 1, composeCalls)
	require.Equal(t, 1, pctx.LocalCells.InFlightCount())

	// Calling again must reuse the persisted submit tx, not recompose.
	_, err = SubmitBlock(context.Background(), pctx)
	require.NoError(t, err)
	require.Equal(t, 1, composeCalls)
}

func TestRunConfirmTaskAdvancesOnCommitted(t *testing.T) {
	pctx, l1, _ := newTestContext(t)
	seedGenesis(t, pctx)

	b1 := block1()
	storeTx := pctx.Store.BeginTransaction()
	require.NoError(t, storeTx.SetBlock(b1))
	require.NoError(t, storeTx.SetBlockHashByNumber(1, b1.Hash))
	l1tx := &rollup.L1Transaction{Inputs: []rollup.CellInput{{PreviousOutput: rollup.OutPoint{Index: 9}}}}
	require.NoError(t, storeTx.SetSubmitTx(1, l1tx))
	require.NoError(t, storeTx.Commit())

	pctx.LocalCells.ApplyTx(l1tx)
	l1.SetTxStatus(l1tx.Hash(), l1client.TxStatusCommitted)

	nh, err := runConfirmTask(context.Background(), pctx, rollup.NumberHash{Number: 1})
	require.NoError(t, err)
	require.Equal(t, uint64(1), nh.Number)
	require.Equal(t, 0, pctx.LocalCells.InFlightCount())
}

// TestRunConfirmTaskResendsOnRejectedThenCommits exercises spec.md §4.4
// step 2's "Rejected -> resend immediately": the confirm task re-broadcasts
// the very same transaction rather than recomposing a new one, and
// proceeds once the resent transaction is observed Committed.
func TestRunConfirmTaskResendsOnRejectedThenCommits(t *testing.T) {
	pctx, l1, _ := newTestContext(t)
	seedGenesis(t, pctx)

	b1 := block1()
	storeTx := pctx.Store.BeginTransaction()
	require.NoError(t, storeTx.SetBlock(b1))
	require.NoError(t, storeTx.SetBlockHashByNumber(1, b1.Hash))
	tx := &rollup.L1Transaction{Inputs: []rollup.CellInput{{PreviousOutput: rollup.OutPoint{Index: 1}}}}
	require.NoError(t, storeTx.SetSubmitTx(1, tx))
	require.NoError(t, storeTx.Commit())

	pctx.LocalCells.ApplyTx(tx)
	l1.SetTxStatus(tx.Hash(), l1client.TxStatusRejected)

	go func() {
		// Simulate the resend landing: once the confirm task has
		// rebroadcast, flip the same transaction to Committed.
		require.Eventually(t, func() bool { return l1.SendCount(tx.Hash()) > 0 }, time.Second, time.Millisecond)
		l1.SetTxStatus(tx.Hash(), l1client.TxStatusCommitted)
	}()

	nh, err := runConfirmTask(context.Background(), pctx, rollup.NumberHash{Number: 1})
	require.NoError(t, err)
	require.Equal(t, uint64(1), nh.Number)
	require.Equal(t, 1, l1.SendCount(tx.Hash()))
	require.Equal(t, 0, pctx.LocalCells.InFlightCount())
}

// TestRunConfirmTaskWaitsForTipAfterCommitted covers spec.md §4.4 step 4:
// after Committed, the confirm task must wait for the L1 tip number to
// reach the tx's block number before releasing the cell.
func TestRunConfirmTaskWaitsForTipAfterCommitted(t *testing.T) {
	pctx, l1, _ := newTestContext(t)
	seedGenesis(t, pctx)

	b1 := block1()
	storeTx := pctx.Store.BeginTransaction()
	require.NoError(t, storeTx.SetBlock(b1))
	require.NoError(t, storeTx.SetBlockHashByNumber(1, b1.Hash))
	tx := &rollup.L1Transaction{Inputs: []rollup.CellInput{{PreviousOutput: rollup.OutPoint{Index: 9}}}}
	require.NoError(t, storeTx.SetSubmitTx(1, tx))
	require.NoError(t, storeTx.Commit())

	pctx.LocalCells.ApplyTx(tx)
	l1.SetTxStatus(tx.Hash(), l1client.TxStatusCommitted)
	l1.SetTransactionBlockNumber(tx.Hash(), 50)
	l1.SetTip(10) // below the tx's block number: confirm must keep waiting

	resultCh := make(chan rollup.NumberHash, 1)
	go func() {
		nh, err := runConfirmTask(context.Background(), pctx, rollup.NumberHash{Number: 1})
		require.NoError(t, err)
		resultCh <- nh
	}()

	select {
	case <-resultCh:
		t.Fatal("confirm task returned before the L1 tip reached the tx's block number")
	case <-time.After(150 * time.Millisecond):
	}

	l1.SetTip(50)
	select {
	case nh := <-resultCh:
		require.Equal(t, uint64(1), nh.Number)
	case <-time.After(time.Second):
		t.Fatal("confirm task did not return after the tip caught up")
	}
	require.Equal(t, 0, pctx.LocalCells.InFlightCount())
}

// TestRunGatesProductionAndSubmissionByWindowLimits covers spec.md §4.5
// scenario 5: with local_limit=1, the producer must not advance past a
// single in-flight local block, and submitted_limit gates submission the
// same way.
func TestRunGatesProductionAndSubmissionByWindowLimits(t *testing.T) {
	pctx, _, bp := newTestContext(t)
	seedGenesis(t, pctx)

	b1 := block1()
	bp.Enqueue(&ProduceBlockResult{Block: b1, GlobalState: &rollup.GlobalState{Raw: []byte("s1")}})
	b2 := &rollup.Block{Number: 2, Hash: rollup.Hash{0xCC}, TimestampMs: 1_700_000_020_000}
	bp.Enqueue(&ProduceBlockResult{Block: b2, GlobalState: &rollup.GlobalState{Raw: []byte("s2")}})

	c := NewController(pctx)
	c.localLimit = 1
	require.NoError(t, c.Init(context.Background()))

	require.NoError(t, c.produceNext(context.Background()))
	c.localCount++
	require.Equal(t, 1, c.localCount)

	// Gated: local_count (1) is not < local_limit (1), so the second
	// enqueued block must not be produced yet; with submitted_limit=0 the
	// submit task must not start either.
	c.submittedLimit = 0
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.Run(ctx), context.DeadlineExceeded)
	require.False(t, c.submitting, "submitted_limit must block the submit task")
	snap := pctx.Store.GetSnapshot()
	lastValid, _, err := snap.GetLastValid()
	snap.Close()
	require.NoError(t, err)
	require.Equal(t, uint64(1), lastValid.Number, "local_limit must block production of block 2")
}
