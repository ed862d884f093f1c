// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package psc

import (
	"context"
	"errors"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/rollup-producer/internal/l1client"
	"github.com/luxfi/rollup-producer/internal/metrics"
	"github.com/luxfi/rollup-producer/internal/rollup"
)

// confirmPollInterval is how often the confirm task re-checks a submitted
// transaction's status (spec.md §4.4 step 1).
const confirmPollInterval = 1 * time.Second

// confirmResendAfter is how long an Unknown/absent status must persist
// before the confirm task re-broadcasts the same transaction (spec.md §4.4
// step 2).
const confirmResendAfter = 20 * time.Second

// tipWaitPollInterval is how often the confirm task re-checks the L1 tip
// number while waiting for indexer visibility after a Committed status
// (spec.md §4.4 step 4).
const tipWaitPollInterval = 50 * time.Millisecond

// confirmRetryDelay is the sleep between attempts to load the submit tx
// when the store read fails.
const confirmRetryDelay = 3 * time.Second

// runConfirmTask waits for the submission transaction of block nh.Number to
// reach Committed and become visible at the L1 tip, then releases its
// inputs on the Local-Cell Manager. RPC and store-read failures are retried
// forever (spec.md §7); the only errors it returns are a FatalError for a
// missing submit tx and ctx's error on cancellation.
func runConfirmTask(ctx context.Context, pctx *Context, nh rollup.NumberHash) (rollup.NumberHash, error) {
	snap := pctx.Store.GetSnapshot()
	tx, ok, err := snap.GetSubmitTx(nh.Number)
	snap.Close()
	for err != nil {
		log.Warn("failed to get submit tx, retrying", "block", nh.Number, "error", err)
		if err := sleep(ctx, confirmRetryDelay); err != nil {
			return rollup.NumberHash{}, err
		}
		snap = pctx.Store.GetSnapshot()
		tx, ok, err = snap.GetSubmitTx(nh.Number)
		snap.Close()
	}
	if !ok {
		return rollup.NumberHash{}, fatalf("no submit tx recorded for block %d awaiting confirmation", nh.Number)
	}

	lastSendAt := time.Now()
	for {
		status, err := pctx.RPC.GetTransactionStatus(ctx, tx.Hash())
		if err != nil {
			log.Warn("failed to get transaction status, retrying", "tx", tx.Hash(), "error", err)
			if err := sleep(ctx, confirmPollInterval); err != nil {
				return rollup.NumberHash{}, err
			}
			continue
		}

		switch status {
		case l1client.TxStatusCommitted:
			if err := waitForTipAtLeast(ctx, pctx, tx); err != nil {
				return rollup.NumberHash{}, err
			}
			pctx.LocalCells.ConfirmTx(tx)
			metrics.ConfirmOutcomesTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
			log.Info("submission transaction confirmed", "block", nh.Number, "tx", tx.Hash())
			return nh, nil

		case l1client.TxStatusRejected:
			metrics.ConfirmOutcomesTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
			log.Warn("submission transaction rejected by L1, resending", "block", nh.Number, "tx", tx.Hash())
			resend(ctx, pctx, tx)
			lastSendAt = time.Now()

		case l1client.TxStatusPending, l1client.TxStatusProposed:
			// keep waiting

		default: // Unknown or absent
			if time.Since(lastSendAt) > confirmResendAfter {
				log.Warn("submission transaction status unknown, resending", "block", nh.Number, "tx", tx.Hash())
				resend(ctx, pctx, tx)
				lastSendAt = time.Now()
			}
		}

		if err := sleep(ctx, confirmPollInterval); err != nil {
			return rollup.NumberHash{}, err
		}
	}
}

// resend re-broadcasts tx. Resend errors follow the same
// TransactionFailedToResolve diagnostic path as the submit task's broadcast
// step but are never fatal: the confirm loop simply re-polls status (spec.md
// §4.4 step 3).
func resend(ctx context.Context, pctx *Context, tx *rollup.L1Transaction) {
	if err := pctx.RPC.SendTransaction(ctx, tx); err != nil {
		if errors.Is(err, l1client.ErrTransactionFailedToResolve) {
			if checkErr := checkTxInput(ctx, pctx, tx); checkErr != nil {
				log.Warn("confirm: tx input check found an anomaly", "tx", tx.Hash(), "error", checkErr)
			} else {
				log.Warn("confirm: TransactionFailedToResolve, but all inputs are live", "tx", tx.Hash())
			}
		} else {
			log.Warn("resend failed", "tx", tx.Hash(), "error", err)
		}
	}
}

// waitForTipAtLeast blocks until the L1 tip number is at least the block
// number containing tx, so that indexer-backed queries will see the
// committed state before the pipeline advances last_confirmed (spec.md
// §4.4 step 4).
func waitForTipAtLeast(ctx context.Context, pctx *Context, tx *rollup.L1Transaction) error {
	for {
		number, ok, err := pctx.RPC.GetTransactionBlockNumber(ctx, tx.Hash())
		if err != nil {
			log.Warn("failed to get transaction block number, retrying", "tx", tx.Hash(), "error", err)
		} else if ok {
			tip, err := pctx.RPC.GetTip(ctx)
			if err != nil {
				log.Warn("failed to get l1 tip, retrying", "tx", tx.Hash(), "error", err)
			} else if tip.Number >= number {
				return nil
			}
		}
		if err := sleep(ctx, tipWaitPollInterval); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
