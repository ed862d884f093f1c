// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package psc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/rollup-producer/internal/l1client"
	"github.com/luxfi/rollup-producer/internal/metrics"
	"github.com/luxfi/rollup-producer/internal/rollup"
	"github.com/luxfi/rollup-producer/internal/store"
)

// submitRetryDelay is the sleep between failed submit attempts. Composition
// and broadcast never repeat faster than this, since every attempt that
// reaches L1 is a real network round trip (spec.md §4.3 protocol note,
// §7 "transient L1 error").
const submitRetryDelay = 20 * time.Second

// medianPollInterval is how often the submit task re-checks whether the L1
// tip's median-time-past has advanced past the submission's `since`
// (spec.md §4.3 step 4).
const medianPollInterval = 3 * time.Second

// maxCheckTxInputBlocks bounds the forward walk check_tx_input performs
// looking for the consumer of a non-live input (spec.md §4.3 step 5).
const maxCheckTxInputBlocks = 100

// runSubmitTask loops SubmitBlock until it succeeds, sleeping
// submitRetryDelay between attempts, and returns the resulting NumberHash.
// A FatalError breaks the loop immediately instead of retrying (spec.md §7:
// retrying a store-corruption condition could never fix it).
func runSubmitTask(ctx context.Context, pctx *Context) (rollup.NumberHash, error) {
	for {
		nh, err := SubmitBlock(ctx, pctx)
		if err == nil {
			metrics.SubmitAttemptsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
			return nh, nil
		}
		if IsFatal(err) {
			return rollup.NumberHash{}, err
		}
		metrics.SubmitAttemptsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		log.Warn("failed to submit next block", "error", err)
		select {
		case <-ctx.Done():
			return rollup.NumberHash{}, ctx.Err()
		case <-time.After(submitRetryDelay):
		}
	}
}

// SubmitBlock runs one attempt at submitting block number
// last_submitted+1 to L1 (spec.md §4.3). It is exported so tests and the
// controller can drive a single attempt deterministically.
func SubmitBlock(ctx context.Context, pctx *Context) (rollup.NumberHash, error) {
	snap := pctx.Store.GetSnapshot()
	lastSubmitted, ok, err := snap.GetLastSubmitted()
	if err != nil {
		snap.Close()
		return rollup.NumberHash{}, fmt.Errorf("get last submitted: %w", err)
	}
	if !ok {
		snap.Close()
		return rollup.NumberHash{}, fatalf("last_submitted pointer missing")
	}
	number := lastSubmitted.Number + 1

	blockHash, ok, err := snap.GetBlockHashByNumber(number)
	if err != nil {
		snap.Close()
		return rollup.NumberHash{}, fmt.Errorf("get block hash for %d: %w", number, err)
	}
	if !ok {
		snap.Close()
		return rollup.NumberHash{}, fatalf("no block hash recorded for block %d", number)
	}
	block, ok, err := snap.GetBlock(blockHash)
	if err != nil {
		snap.Close()
		return rollup.NumberHash{}, fmt.Errorf("get block %s: %w", blockHash, err)
	}
	if !ok {
		snap.Close()
		return rollup.NumberHash{}, fatalf("block %s not found for number %d", blockHash, number)
	}

	since := rollup.GreaterSince(block.TimestampMs)
	sinceMillis := since.Millis()

	tx, ok, err := snap.GetSubmitTx(number)
	if err != nil {
		snap.Close()
		return rollup.NumberHash{}, fmt.Errorf("get submit tx for %d: %w", number, err)
	}
	if !ok {
		tx, err = composeAndPersistSubmitTx(ctx, pctx, snap, number, block, since)
		snap.Close()
		if err != nil {
			return rollup.NumberHash{}, err
		}
	} else {
		snap.Close()
	}

	pctx.LocalCells.ApplyTx(tx)

	if err := waitForMedianGTE(ctx, pctx, sinceMillis); err != nil {
		return rollup.NumberHash{}, err
	}

	log.Info("sending submission transaction", "block", number, "tx", tx.Hash())
	if err := pctx.RPC.SendTransaction(ctx, tx); err != nil {
		if errors.Is(err, l1client.ErrTransactionFailedToResolve) {
			if checkErr := checkTxInput(ctx, pctx, tx); checkErr != nil {
				log.Warn("tx input check found an anomaly", "error", checkErr)
			} else {
				log.Warn("TransactionFailedToResolve, but all inputs are live")
			}
		} else {
			log.Warn("send transaction failed", "error", err)
		}
		return rollup.NumberHash{}, fmt.Errorf("send submit tx for block %d: %w", number, err)
	}
	log.Info("submission transaction sent", "block", number, "tx", tx.Hash())

	return rollup.NumberHash{Number: number, BlockHash: blockHash}, nil
}

// composeAndPersistSubmitTx builds submit_tx(number) for the first time and
// persists it before returning, so that every later attempt (including
// after a restart) reuses exactly the same inputs (spec.md §4.3 step 2
// rationale: L1 inputs must never change across attempts).
func composeAndPersistSubmitTx(ctx context.Context, pctx *Context, snap *store.Snapshot, number uint64, block *rollup.Block, since rollup.Since) (*rollup.L1Transaction, error) {
	withdrawalExtras := make([]rollup.WithdrawalExtra, 0, len(block.Withdrawals))
	for idx, w := range block.Withdrawals {
		extra, ok, err := snap.GetWithdrawalByKey(block.Hash, uint32(idx))
		if err != nil {
			return nil, fmt.Errorf("get withdrawal %d for block %d: %w", idx, number, err)
		}
		if !ok {
			return nil, fatalf("withdrawal %d for block %d missing from store", idx, number)
		}
		if extra.Hash != w {
			return nil, fatalf("withdrawal %d for block %d: hash mismatch (store corruption)", idx, number)
		}
		withdrawalExtras = append(withdrawalExtras, *extra)
	}

	deposits, ok, err := snap.GetBlockDepositInfoVec(number)
	if err != nil {
		return nil, fmt.Errorf("get deposit info for block %d: %w", number, err)
	}
	if !ok {
		return nil, fatalf("deposit info vec for block %d missing from store", number)
	}

	globalState, ok, err := snap.GetBlockPostGlobalState(block.Hash)
	if err != nil {
		return nil, fmt.Errorf("get global state for block %d: %w", number, err)
	}
	if !ok {
		return nil, fatalf("post global state for block %d missing from store", number)
	}

	localCells := pctx.LocalCells.Snapshot()
	args := ComposeSubmitTxArgs{
		DepositCells:     deposits,
		Block:            block,
		GlobalState:      globalState,
		Since:            since,
		WithdrawalExtras: withdrawalExtras,
		LocalCells:       localCells,
	}
	tx, err := pctx.BlockProducer.ComposeSubmitTx(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("compose submit tx for block %d: %w", number, err)
	}

	storeTx := pctx.Store.BeginTransaction()
	if err := storeTx.SetSubmitTx(number, tx); err != nil {
		_ = storeTx.Abort()
		return nil, fmt.Errorf("persist submit tx for block %d: %w", number, err)
	}
	if err := storeTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit submit tx for block %d: %w", number, err)
	}
	log.Info("generated submission transaction", "block", number)
	return tx, nil
}

// waitForMedianGTE blocks until the L1 tip's median-time-past is at least
// timestampMillis, or ctx is cancelled. There is no timeout on the happy
// path: this is a liveness wait by design (spec.md §9 open question).
func waitForMedianGTE(ctx context.Context, pctx *Context, timestampMillis uint64) error {
	start := time.Now()
	defer func() { metrics.MedianWaitSeconds.Observe(time.Since(start).Seconds()) }()
	for {
		ok, err := medianGTE(ctx, pctx, timestampMillis)
		if err == nil && ok {
			return nil
		}
		if err != nil {
			log.Info("waiting for median time", "target_millis", timestampMillis, "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(medianPollInterval):
		}
	}
}

func medianGTE(ctx context.Context, pctx *Context, timestampMillis uint64) (bool, error) {
	tip, err := pctx.RPC.GetTip(ctx)
	if err != nil {
		return false, fmt.Errorf("get tip: %w", err)
	}
	median, ok, err := pctx.RPC.GetBlockMedianTime(ctx, tip.BlockHash)
	if err != nil {
		return false, fmt.Errorf("get median time: %w", err)
	}
	if !ok {
		return false, nil
	}
	return uint64(median/time.Millisecond) >= timestampMillis, nil
}

// checkTxInput inspects every input of tx and, for any that is not Live,
// walks forward up to maxCheckTxInputBlocks L1 blocks from the input's
// originating transaction looking for whoever consumed it. Purely
// diagnostic: the caller always returns the original send error regardless
// of what this finds (spec.md §4.3 step 5).
func checkTxInput(ctx context.Context, pctx *Context, tx *rollup.L1Transaction) error {
	for _, in := range tx.Inputs {
		cell, ok, err := pctx.RPC.GetCell(ctx, in.PreviousOutput)
		if err != nil {
			return fmt.Errorf("get cell %s: %w", in.PreviousOutput, err)
		}
		if ok && cell.Status == l1client.CellStatusLive {
			continue
		}
		if err := checkCell(ctx, pctx, in.PreviousOutput); err != nil {
			return fmt.Errorf("checking out point %s: %w", in.PreviousOutput, err)
		}
	}
	return nil
}

func checkCell(ctx context.Context, pctx *Context, out rollup.OutPoint) error {
	originNumber, ok, err := pctx.RPC.GetTransactionBlockNumber(ctx, out.TxHash)
	if err != nil {
		return fmt.Errorf("get origin block number: %w", err)
	}
	if !ok {
		return errors.New("originating transaction not committed")
	}
	number := originNumber
	for i := 0; i < maxCheckTxInputBlocks; i++ {
		block, ok, err := pctx.RPC.GetBlockByNumber(ctx, number)
		if err != nil {
			return fmt.Errorf("get block %d: %w", number, err)
		}
		if !ok {
			log.Info("cell consumer not found before L1 tip", "out_point", out)
			return nil
		}
		for _, candidate := range block.Transactions {
			for _, in := range candidate.Inputs {
				if in.PreviousOutput == out {
					log.Warn("cell consumed by another transaction", "out_point", out, "consumer", candidate.Hash())
					return fmt.Errorf("consumed by tx %s", candidate.Hash())
				}
			}
		}
		number++
	}
	return fmt.Errorf("did not find consuming tx in %d blocks", maxCheckTxInputBlocks)
}
