// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package psctest provides in-memory fakes for the PSC pipeline's external
// collaborator interfaces, for use in internal/psc's own tests.
package psctest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/rollup-producer/internal/l1client"
	"github.com/luxfi/rollup-producer/internal/localcells"
	"github.com/luxfi/rollup-producer/internal/psc"
	"github.com/luxfi/rollup-producer/internal/rollup"
	"github.com/luxfi/rollup-producer/internal/store"
)

// L1 is an in-memory fake of l1client.Client. It holds a single
// mutable "chain" of committed blocks plus a set of outstanding
// submitted transactions that transition status under test control.
type L1 struct {
	mu sync.Mutex

	medianTimeMs  uint64
	txStatus      map[rollup.Hash]l1client.TxStatus
	sent          map[rollup.Hash]*rollup.L1Transaction
	sendCount     map[rollup.Hash]int
	cells         map[rollup.OutPoint]l1client.CellStatus
	txBlockNumber map[rollup.Hash]uint64

	blocks   []l1client.L1Block
	tip      uint64
	tipIsSet bool

	// SendErr, if set, is returned by every call to SendTransaction.
	SendErr error
}

var _ l1client.Client = (*L1)(nil)

// NewL1 returns a fake L1 client with the given median-time-past in
// milliseconds.
func NewL1(medianTimeMs uint64) *L1 {
	return &L1{
		medianTimeMs:  medianTimeMs,
		txStatus:      make(map[rollup.Hash]l1client.TxStatus),
		sent:          make(map[rollup.Hash]*rollup.L1Transaction),
		sendCount:     make(map[rollup.Hash]int),
		cells:         make(map[rollup.OutPoint]l1client.CellStatus),
		txBlockNumber: make(map[rollup.Hash]uint64),
	}
}

// SetMedianTimeMs advances the fake chain's reported median-time-past.
func (f *L1) SetMedianTimeMs(ms uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.medianTimeMs = ms
}

// SetTxStatus forces the status reported for hash.
func (f *L1) SetTxStatus(hash rollup.Hash, status l1client.TxStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txStatus[hash] = status
}

// SetCellStatus forces the liveness reported for an out-point.
func (f *L1) SetCellStatus(out rollup.OutPoint, status l1client.CellStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cells[out] = status
}

// SetTip forces the L1 tip number GetTip reports, overriding any blocks
// appended to the fake's chain.
func (f *L1) SetTip(number uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tip = number
	f.tipIsSet = true
}

// SetTransactionBlockNumber forces the L1 block number GetTransactionBlockNumber
// reports for hash.
func (f *L1) SetTransactionBlockNumber(hash rollup.Hash, number uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txBlockNumber[hash] = number
}

// SendCount returns how many times SendTransaction has been called for hash.
func (f *L1) SendCount(hash rollup.Hash) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCount[hash]
}

func (f *L1) GetTip(ctx context.Context) (rollup.NumberHash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tipIsSet {
		return rollup.NumberHash{Number: f.tip}, nil
	}
	if len(f.blocks) == 0 {
		return rollup.NumberHash{}, nil
	}
	tip := f.blocks[len(f.blocks)-1]
	return rollup.NumberHash{Number: tip.Number, BlockHash: tip.Hash}, nil
}

func (f *L1) GetBlockMedianTime(ctx context.Context, hash rollup.Hash) (time.Duration, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Duration(f.medianTimeMs) * time.Millisecond, true, nil
}

func (f *L1) GetTransactionStatus(ctx context.Context, hash rollup.Hash) (l1client.TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.txStatus[hash]
	if !ok {
		return l1client.TxStatusUnknown, fmt.Errorf("psctest: unknown transaction %s", hash)
	}
	return status, nil
}

func (f *L1) SendTransaction(ctx context.Context, tx *rollup.L1Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := tx.Hash()
	f.sendCount[h]++
	if f.SendErr != nil {
		return f.SendErr
	}
	f.sent[h] = tx
	if _, ok := f.txStatus[h]; !ok {
		f.txStatus[h] = l1client.TxStatusPending
	}
	return nil
}

// GetTransactionBlockNumber reports the block number set via
// SetTransactionBlockNumber, defaulting to 0 (ok=true) so tests that never
// configure it exercise the tip-wait step with a trivially satisfied tip.
func (f *L1) GetTransactionBlockNumber(ctx context.Context, hash rollup.Hash) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txBlockNumber[hash], true, nil
}

func (f *L1) GetBlockByNumber(ctx context.Context, number uint64) (*l1client.L1Block, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.blocks {
		if b.Number == number {
			return &b, true, nil
		}
	}
	return nil, false, nil
}

func (f *L1) GetCell(ctx context.Context, out rollup.OutPoint) (*l1client.Cell, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.cells[out]
	if !ok {
		return &l1client.Cell{Status: l1client.CellStatusLive}, true, nil
	}
	return &l1client.Cell{Status: status}, true, nil
}

// Chain is a no-op fake of psc.Chain: blocks are already fully persisted by
// the controller before Chain would see them, so the fake just records
// calls for assertions.
type Chain struct {
	mu                   sync.Mutex
	SyncingCompleted     bool
	UpdateLocalCallCount int
}

var _ psc.Chain = (*Chain)(nil)

func (c *Chain) UpdateLocal(ctx context.Context, tx *store.Transaction, block *rollup.Block, depositRequests [][]byte, depositAssetScripts [][]byte, withdrawalExtras []rollup.WithdrawalExtra, globalState *rollup.GlobalState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UpdateLocalCallCount++
	return nil
}

func (c *Chain) CompleteInitialSyncing(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SyncingCompleted = true
	return nil
}

// MemPool is a fake of psc.MemPool recording each notified tip.
type MemPool struct {
	mu    sync.Mutex
	Tips  []rollup.Hash
	Views []localcells.Snapshot
}

var _ psc.MemPool = (*MemPool)(nil)

func (m *MemPool) NotifyNewTip(ctx context.Context, blockHash rollup.Hash, localCells localcells.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tips = append(m.Tips, blockHash)
	m.Views = append(m.Views, localCells)
	return nil
}

// BlockProducer is a fake of psc.BlockProducer that produces blocks from a
// caller-supplied queue and composes submission transactions with a
// caller-supplied function.
type BlockProducer struct {
	mu sync.Mutex

	pending       []*psc.ProduceBlockResult
	ComposeSubmit func(args psc.ComposeSubmitTxArgs) (*rollup.L1Transaction, error)
}

var _ psc.BlockProducer = (*BlockProducer)(nil)

// NewBlockProducer returns a fake that will hand out results in order.
func NewBlockProducer() *BlockProducer {
	return &BlockProducer{}
}

// Enqueue appends a block the next call to ProduceNextBlock should return.
func (b *BlockProducer) Enqueue(result *psc.ProduceBlockResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, result)
}

func (b *BlockProducer) ProduceNextBlock(ctx context.Context, retryCount int) (*psc.ProduceBlockResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil, nil
	}
	next := b.pending[0]
	b.pending = b.pending[1:]
	return next, nil
}

func (b *BlockProducer) ComposeSubmitTx(ctx context.Context, args psc.ComposeSubmitTxArgs) (*rollup.L1Transaction, error) {
	if b.ComposeSubmit != nil {
		return b.ComposeSubmit(args)
	}
	return &rollup.L1Transaction{}, nil
}
