// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"

	"github.com/luxfi/rollup-producer/internal/localcells"
	"github.com/luxfi/rollup-producer/internal/psc"
	"github.com/luxfi/rollup-producer/internal/rollup"
	"github.com/luxfi/rollup-producer/internal/store"
)

// noopChain, noopMemPool, and noopBlockProducer are placeholders for the
// block-assembly, chain-validation, and mempool logic this binary does not
// implement: an embedding application wires its real implementations of
// psc.Chain, psc.MemPool, and psc.BlockProducer in place of these before
// shipping. Running the stock binary against them only exercises the
// produce-submit-confirm plumbing (store, L1 client, local-cell tracking)
// against a chain that never has a block ready to produce.

type noopChain struct{}

func (noopChain) UpdateLocal(ctx context.Context, tx *store.Transaction, block *rollup.Block, depositRequests [][]byte, depositAssetScripts [][]byte, withdrawalExtras []rollup.WithdrawalExtra, globalState *rollup.GlobalState) error {
	return nil
}

func (noopChain) CompleteInitialSyncing(ctx context.Context) error { return nil }

type noopMemPool struct{}

func (noopMemPool) NotifyNewTip(ctx context.Context, blockHash rollup.Hash, localCells localcells.Snapshot) error {
	return nil
}

type noopBlockProducer struct{}

func (noopBlockProducer) ProduceNextBlock(ctx context.Context, retryCount int) (*psc.ProduceBlockResult, error) {
	return nil, nil
}

func (noopBlockProducer) ComposeSubmitTx(ctx context.Context, args psc.ComposeSubmitTxArgs) (*rollup.L1Transaction, error) {
	return &rollup.L1Transaction{}, nil
}
