// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package l1client is the RPC Client consumed interface from spec.md §6:
// everything the submit and confirm tasks need to observe and mutate L1
// chain state. It is implemented as a JSON-RPC 2.0 HTTP client, the
// transport this codebase's lineage already wires up in utils/rpc for
// talking to its own node's RPC surface.
package l1client

import (
	"context"
	"errors"
	"time"

	"github.com/luxfi/rollup-producer/internal/rollup"
)

// TxStatus is the lifecycle state of a transaction as seen by L1
// (spec.md §4.4 step 2).
type TxStatus int

const (
	TxStatusUnknown TxStatus = iota
	TxStatusPending
	TxStatusProposed
	TxStatusCommitted
	TxStatusRejected
)

func (s TxStatus) String() string {
	switch s {
	case TxStatusPending:
		return "pending"
	case TxStatusProposed:
		return "proposed"
	case TxStatusCommitted:
		return "committed"
	case TxStatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// CellStatus is the liveness state of an L1 cell (spec.md §4.3 step 5).
type CellStatus int

const (
	CellStatusUnknown CellStatus = iota
	CellStatusLive
	CellStatusDead
)

// Cell is the liveness status of a single out-point, as returned by GetCell.
type Cell struct {
	Status CellStatus
}

// L1Block is the subset of an L1 block's contents the pipeline needs:
// enough to walk forward looking for the consumer of a dead input
// (spec.md §4.3 step 5, check_tx_input).
type L1Block struct {
	Number       uint64
	Hash         rollup.Hash
	Transactions []rollup.L1Transaction
}

// ErrTransactionFailedToResolve is returned by SendTransaction when one or
// more of the transaction's inputs could not be resolved to a live cell —
// the trigger condition for the check_tx_input diagnostic walk in both the
// submit and confirm tasks (spec.md §4.3 step 5, §4.4 step 3).
var ErrTransactionFailedToResolve = errors.New("l1client: transaction failed to resolve")

// Client is the RPC surface the PSC pipeline consumes from L1. Implemented
// by *JSONRPCClient; a fake implementation lives in internal/psc/psctest
// for tests.
type Client interface {
	// GetTip returns the current L1 tip.
	GetTip(ctx context.Context) (rollup.NumberHash, error)

	// GetBlockMedianTime returns the median-time-past of the block with
	// the given hash, or ok=false if the block is unknown.
	GetBlockMedianTime(ctx context.Context, hash rollup.Hash) (d time.Duration, ok bool, err error)

	// GetTransactionStatus returns the current status of a transaction.
	GetTransactionStatus(ctx context.Context, hash rollup.Hash) (TxStatus, error)

	// SendTransaction broadcasts tx. Returns
	// ErrTransactionFailedToResolve (wrapped) when one or more inputs
	// could not be resolved.
	SendTransaction(ctx context.Context, tx *rollup.L1Transaction) error

	// GetTransactionBlockNumber returns the L1 block number containing a
	// committed transaction, or ok=false if it is not yet known.
	GetTransactionBlockNumber(ctx context.Context, hash rollup.Hash) (number uint64, ok bool, err error)

	// GetBlockByNumber returns the L1 block at number, or ok=false past
	// the tip.
	GetBlockByNumber(ctx context.Context, number uint64) (block *L1Block, ok bool, err error)

	// GetCell returns the liveness status of an out-point, or ok=false if
	// it has never existed.
	GetCell(ctx context.Context, out rollup.OutPoint) (cell *Cell, ok bool, err error)
}
