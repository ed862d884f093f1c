// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package psc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/log"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/rollup-producer/internal/metrics"
	"github.com/luxfi/rollup-producer/internal/rollup"
)

// defaultLocalLimit bounds local_count: how many produced-but-not-submitted
// blocks the controller will let pile up before pausing production (spec.md
// §4.5, invariant I3). It must not exceed the L1 finality depth.
const defaultLocalLimit = 3

// defaultSubmittedLimit bounds submitted_count: how many submitted-but-not-
// confirmed blocks the controller will let pile up before pausing
// submission (spec.md §4.5, invariant I3).
const defaultSubmittedLimit = 5

// produceTimerInterval is how often the controller attempts to produce the
// next local block while local_count < local_limit (spec.md §4.5.1).
const produceTimerInterval = 3 * time.Second

// errNothingToProduce is returned by produceNext when BlockProducer has no
// block ready; the loop counts it neither as a produced block nor as a failure.
var errNothingToProduce = errors.New("no block ready to produce")

// taskResult is how the submit and confirm background tasks report their
// outcome back to the controller's single-consumer event loop: by value,
// over a channel, never by writing the store themselves (spec.md §5, §9).
type taskResult struct {
	nh  rollup.NumberHash
	err error
}

// Controller drives the produce-submit-confirm pipeline (spec.md §4.5): a
// select-driven event loop that waits on a produce timer and the submit and
// confirm tasks' completion channels, gated by the local_count/
// submitted_count windows (I2, I3). Every progress-pointer write happens
// here, in the loop itself — the background tasks only ever return a
// NumberHash by value, eliminating the read-modify-write race a pointer
// write from inside a spawned goroutine would reintroduce.
type Controller struct {
	pctx *Context

	localLimit     int
	submittedLimit int
	localCount     int
	submittedCount int

	submitting bool
	syncing    bool

	submitResultCh  chan taskResult
	confirmResultCh chan taskResult

	group *errgroup.Group

	retryCount int
}

// NewController returns a Controller wired to pctx, using the spec's
// default window sizes (local_limit=3, submitted_limit=5).
func NewController(pctx *Context) *Controller {
	return &Controller{
		pctx:            pctx,
		localLimit:      defaultLocalLimit,
		submittedLimit:  defaultSubmittedLimit,
		submitResultCh:  make(chan taskResult, 1),
		confirmResultCh: make(chan taskResult, 1),
	}
}

// Init performs one-time startup: it ensures the three progress pointers
// are internally consistent (P1: last_confirmed <= last_submitted <=
// last_valid), derives the local_count/submitted_count windows from them
// (I2), and tells Chain that initial syncing has completed (spec.md
// §4.5.3).
func (c *Controller) Init(ctx context.Context) error {
	snap := c.pctx.Store.GetSnapshot()
	defer snap.Close()

	lastValid, validOK, err := snap.GetLastValid()
	if err != nil {
		return fmt.Errorf("init: get last_valid: %w", err)
	}
	lastSubmitted, submittedOK, err := snap.GetLastSubmitted()
	if err != nil {
		return fmt.Errorf("init: get last_submitted: %w", err)
	}
	lastConfirmed, confirmedOK, err := snap.GetLastConfirmed()
	if err != nil {
		return fmt.Errorf("init: get last_confirmed: %w", err)
	}

	if !validOK || !submittedOK || !confirmedOK {
		return fatalf("init: progress pointers not fully initialized (valid=%v submitted=%v confirmed=%v)", validOK, submittedOK, confirmedOK)
	}
	if lastConfirmed.Number > lastSubmitted.Number || lastSubmitted.Number > lastValid.Number {
		return fatalf("init: progress pointer invariant violated: confirmed=%d submitted=%d valid=%d", lastConfirmed.Number, lastSubmitted.Number, lastValid.Number)
	}

	c.localCount = int(lastValid.Number - lastSubmitted.Number)
	c.submittedCount = int(lastSubmitted.Number - lastConfirmed.Number)

	log.Info("psc pipeline progress at startup",
		"last_valid", lastValid.Number, "last_submitted", lastSubmitted.Number, "last_confirmed", lastConfirmed.Number,
		"local_count", c.localCount, "submitted_count", c.submittedCount)
	metrics.LastValidBlock.Set(float64(lastValid.Number))
	metrics.LastSubmittedBlock.Set(float64(lastSubmitted.Number))
	metrics.LastConfirmedBlock.Set(float64(lastConfirmed.Number))

	if err := c.pctx.Chain.CompleteInitialSyncing(ctx); err != nil {
		return fmt.Errorf("init: complete initial syncing: %w", err)
	}
	return nil
}

// Run drives the pipeline until ctx is cancelled or a background task
// reports a fatal error. It is the single entry point the binary's main
// loop calls after Init succeeds.
func (c *Controller) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.group = &errgroup.Group{}
	c.maybeStartSubmit(runCtx)
	c.maybeStartConfirm(runCtx)

	runErr := c.loop(runCtx)

	// Stop any still-running submit/confirm task and wait for it to exit
	// before returning, so Run never leaves a goroutine behind.
	cancel()
	_ = c.group.Wait()
	return runErr
}

// loop is spec.md §4.5.1's event loop: on every iteration, wait for
// whichever fires first among the produce timer and the two task
// completion channels, handle it, then launch at most one of each
// background task.
func (c *Controller) loop(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer.C:
			timer.Reset(produceTimerInterval)
			if c.localCount < c.localLimit {
				if err := c.produceNext(ctx); errors.Is(err, errNothingToProduce) {
					// Nothing produced this tick.
				} else if err != nil {
					if IsFatal(err) {
						return err
					}
					c.retryCount++
					log.Warn("produce next block failed, will retry", "retry_count", c.retryCount, "error", err)
				} else {
					c.retryCount = 0
					c.localCount++
				}
			}

		case res := <-c.submitResultCh:
			c.submitting = false
			if res.err != nil {
				return res.err
			}
			if err := c.persistLastSubmitted(res.nh); err != nil {
				return err
			}
			c.submittedCount++
			c.localCount--
			metrics.LastSubmittedBlock.Set(float64(res.nh.Number))

		case res := <-c.confirmResultCh:
			c.syncing = false
			if res.err != nil {
				return res.err
			}
			if err := c.persistLastConfirmed(res.nh); err != nil {
				return err
			}
			c.submittedCount--
			metrics.LastConfirmedBlock.Set(float64(res.nh.Number))
			metrics.LocalCellsLocked.Set(float64(c.pctx.LocalCells.LockedCount()))
			metrics.LocalCellsInFlight.Set(float64(c.pctx.LocalCells.InFlightCount()))
			if err := c.pctx.MemPool.NotifyNewTip(ctx, res.nh.BlockHash, c.pctx.LocalCells.Snapshot()); err != nil {
				log.Warn("mempool failed to process new confirmed tip", "block", res.nh.Number, "error", err)
			}
		}

		c.maybeStartSubmit(ctx)
		c.maybeStartConfirm(ctx)
	}
}

// persistLastSubmitted is the only place last_submitted is written: always
// from the controller's event loop, never from the submit task's goroutine.
func (c *Controller) persistLastSubmitted(nh rollup.NumberHash) error {
	storeTx := c.pctx.Store.BeginTransaction()
	if err := storeTx.SetLastSubmitted(nh); err != nil {
		_ = storeTx.Abort()
		return fmt.Errorf("advance last_submitted to %d: %w", nh.Number, err)
	}
	if err := storeTx.Commit(); err != nil {
		return fmt.Errorf("commit last_submitted advance to %d: %w", nh.Number, err)
	}
	return nil
}

// persistLastConfirmed is the only place last_confirmed is written: always
// from the controller's event loop, never from the confirm task's
// goroutine.
func (c *Controller) persistLastConfirmed(nh rollup.NumberHash) error {
	storeTx := c.pctx.Store.BeginTransaction()
	if err := storeTx.SetLastConfirmed(nh); err != nil {
		_ = storeTx.Abort()
		return fmt.Errorf("advance last_confirmed to %d: %w", nh.Number, err)
	}
	if err := storeTx.Commit(); err != nil {
		return fmt.Errorf("commit last_confirmed advance to %d: %w", nh.Number, err)
	}
	return nil
}

// produceNext asks BlockProducer for the next block, persists it and its
// side effects, and advances last_valid (spec.md §4.5.2).
func (c *Controller) produceNext(ctx context.Context) error {
	snap := c.pctx.Store.GetSnapshot()
	lastValid, ok, err := snap.GetLastValid()
	snap.Close()
	if err != nil {
		return fmt.Errorf("produce: get last_valid: %w", err)
	}
	if !ok {
		return fatalf("produce: last_valid pointer missing")
	}

	result, err := c.pctx.BlockProducer.ProduceNextBlock(ctx, c.retryCount)
	if err != nil {
		return err
	}
	if result == nil {
		return errNothingToProduce
	}
	if result.Block.Number != lastValid.Number+1 {
		return fatalf("produced block %d does not extend last_valid %d", result.Block.Number, lastValid.Number)
	}

	for _, out := range collectDepositOutPoints(result.DepositCells) {
		c.pctx.LocalCells.LockCell(out)
	}

	storeTx := c.pctx.Store.BeginTransaction()
	if err := storeTx.SetBlock(result.Block); err != nil {
		_ = storeTx.Abort()
		return fmt.Errorf("produce: persist block %d: %w", result.Block.Number, err)
	}
	if err := storeTx.SetBlockHashByNumber(result.Block.Number, result.Block.Hash); err != nil {
		_ = storeTx.Abort()
		return fmt.Errorf("produce: persist block hash for %d: %w", result.Block.Number, err)
	}
	if err := storeTx.SetBlockPostGlobalState(result.Block.Hash, result.GlobalState); err != nil {
		_ = storeTx.Abort()
		return fmt.Errorf("produce: persist global state for %d: %w", result.Block.Number, err)
	}
	if err := storeTx.SetBlockDepositInfoVec(result.Block.Number, result.DepositCells); err != nil {
		_ = storeTx.Abort()
		return fmt.Errorf("produce: persist deposit info for %d: %w", result.Block.Number, err)
	}
	if err := storeTx.SetBlockPostFinalizedCustodianCapacity(result.Block.Number, result.RemainingCapacity); err != nil {
		_ = storeTx.Abort()
		return fmt.Errorf("produce: persist custodian capacity for %d: %w", result.Block.Number, err)
	}
	for idx, extra := range result.WithdrawalExtras {
		if err := storeTx.SetWithdrawalByKey(result.Block.Hash, uint32(idx), &extra); err != nil {
			_ = storeTx.Abort()
			return fmt.Errorf("produce: persist withdrawal %d for %d: %w", idx, result.Block.Number, err)
		}
	}
	newValid := rollup.NumberHash{Number: result.Block.Number, BlockHash: result.Block.Hash}
	if err := storeTx.SetLastValid(newValid); err != nil {
		_ = storeTx.Abort()
		return fmt.Errorf("produce: advance last_valid to %d: %w", result.Block.Number, err)
	}
	if err := storeTx.Commit(); err != nil {
		return fmt.Errorf("produce: commit block %d: %w", result.Block.Number, err)
	}

	metrics.LastValidBlock.Set(float64(newValid.Number))
	log.Info("produced block", "number", result.Block.Number, "hash", result.Block.Hash)
	return nil
}

func collectDepositOutPoints(deposits []rollup.DepositInfo) []rollup.OutPoint {
	outs := make([]rollup.OutPoint, 0, len(deposits))
	for _, d := range deposits {
		outs = append(outs, d.Cell.OutPoint)
	}
	return outs
}

// maybeStartSubmit launches the submit task in the background when there is
// a produced block awaiting submission and the submitted window has room
// (spec.md §4.5.1: "!submitting ∧ local_count > 0 ∧ submitted_count <
// submitted_limit"). The task loops internally until it succeeds or hits a
// fatal error; its result reaches the loop over submitResultCh.
func (c *Controller) maybeStartSubmit(ctx context.Context) {
	if c.submitting || c.localCount <= 0 || c.submittedCount >= c.submittedLimit {
		return
	}
	c.submitting = true
	c.group.Go(func() error {
		nh, err := c.runRecovered("submit", func() (rollup.NumberHash, error) {
			return runSubmitTask(ctx, c.pctx)
		})
		c.submitResultCh <- taskResult{nh: nh, err: err}
		return nil
	})
}

// maybeStartConfirm launches the confirm task in the background when a
// submitted block is awaiting confirmation (spec.md §4.5.1: "!syncing ∧
// submitted_count > 0").
func (c *Controller) maybeStartConfirm(ctx context.Context) {
	if c.syncing || c.submittedCount <= 0 {
		return
	}
	snap := c.pctx.Store.GetSnapshot()
	lastConfirmed, ok, err := snap.GetLastConfirmed()
	var blockHash rollup.Hash
	if err == nil && ok {
		blockHash, ok, err = snap.GetBlockHashByNumber(lastConfirmed.Number + 1)
	}
	snap.Close()
	if err != nil || !ok {
		return
	}
	target := rollup.NumberHash{Number: lastConfirmed.Number + 1, BlockHash: blockHash}

	c.syncing = true
	c.group.Go(func() error {
		nh, err := c.runRecovered("confirm", func() (rollup.NumberHash, error) {
			return runConfirmTask(ctx, c.pctx, target)
		})
		c.confirmResultCh <- taskResult{nh: nh, err: err}
		return nil
	})
}

// runRecovered wraps fn so a panic inside a supervised task becomes a
// FatalError instead of crashing the process with no diagnostic (spec.md
// §7: a background-task panic must surface as a fatal condition, mirroring
// tokio::JoinError::is_panic()).
func (c *Controller) runRecovered(name string, fn func() (rollup.NumberHash, error)) (nh rollup.NumberHash, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fatalf("%s task panicked: %v", name, r)
		}
	}()
	return fn()
}
