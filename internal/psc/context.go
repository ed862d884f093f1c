// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package psc implements the produce-submit-confirm state machine: the
// controller event loop (spec.md §4.5) and the submit/confirm background
// tasks it supervises (spec.md §4.3-4.4).
package psc

import (
	"context"
	"errors"
	"fmt"

	"github.com/luxfi/rollup-producer/internal/l1client"
	"github.com/luxfi/rollup-producer/internal/localcells"
	"github.com/luxfi/rollup-producer/internal/rollup"
	"github.com/luxfi/rollup-producer/internal/store"
)

// ProduceBlockResult is what BlockProducer.ProduceNextBlock hands back: a
// freshly assembled L2 block plus everything the pipeline needs to persist
// and later submit it.
type ProduceBlockResult struct {
	Block             *rollup.Block
	GlobalState       *rollup.GlobalState
	WithdrawalExtras  []rollup.WithdrawalExtra
	DepositCells      []rollup.DepositInfo
	RemainingCapacity rollup.CustodianCapacity
}

// ComposeSubmitTxArgs bundles everything BlockProducer.ComposeSubmitTx
// needs to build the L1 submission transaction for one block (spec.md
// §4.3 step 2).
type ComposeSubmitTxArgs struct {
	DepositCells     []rollup.DepositInfo
	Block            *rollup.Block
	GlobalState      *rollup.GlobalState
	Since            rollup.Since
	WithdrawalExtras []rollup.WithdrawalExtra
	LocalCells       localcells.Snapshot
}

// BlockProducer is the external collaborator that turns pending mempool
// transactions and deposit requests into L2 blocks, and later composes the
// L1 transaction that commits one to L1. Out of scope per spec.md §1: the
// pipeline only ever calls through this interface.
type BlockProducer interface {
	ProduceNextBlock(ctx context.Context, retryCount int) (*ProduceBlockResult, error)
	ComposeSubmitTx(ctx context.Context, args ComposeSubmitTxArgs) (*rollup.L1Transaction, error)
}

// Chain is the external collaborator that validates and persists a
// produced block's effects, and tracks whether initial syncing has
// completed.
type Chain interface {
	UpdateLocal(ctx context.Context, tx *store.Transaction, block *rollup.Block, depositRequests [][]byte, depositAssetScripts [][]byte, withdrawalExtras []rollup.WithdrawalExtra, globalState *rollup.GlobalState) error
	CompleteInitialSyncing(ctx context.Context) error
}

// MemPool is the external collaborator notified of new tips so it can
// re-validate pending transactions against the Local-Cell Manager's
// current view.
type MemPool interface {
	NotifyNewTip(ctx context.Context, blockHash rollup.Hash, localCells localcells.Snapshot) error
}

// Context bundles every collaborator the PSC pipeline depends on (spec.md
// §6). It is shared read-only by the controller and both background
// tasks; the only mutable shared piece is LocalCells, which guards its own
// access.
type Context struct {
	Store         *store.Store
	RPC           l1client.Client
	Chain         Chain
	MemPool       MemPool
	BlockProducer BlockProducer
	LocalCells    *localcells.Manager
}

// FatalError marks a condition that indicates a broken invariant (P1/P2)
// or store corruption rather than a transient failure: per spec.md §7, the
// process must abort rather than retry, because retrying could silently
// paper over a corrupted progress pointer.
type FatalError struct {
	msg string
	err error
}

func fatalf(format string, args ...interface{}) error {
	return &FatalError{msg: fmt.Sprintf(format, args...)}
}

func wrapFatal(context string, err error) error {
	return &FatalError{msg: context, err: err}
}

func (e *FatalError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("fatal: %s: %v", e.msg, e.err)
	}
	return fmt.Sprintf("fatal: %s", e.msg)
}

func (e *FatalError) Unwrap() error { return e.err }

// IsFatal reports whether err (or anything it wraps) is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
