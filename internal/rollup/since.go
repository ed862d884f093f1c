// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rollup

// Since encodes an L1 lock-time condition in seconds-since-epoch mode: the
// earliest unix time (in seconds) at which the cells an input protects may
// be consumed. This mirrors the "since" field used by the on-chain
// state-validator script (spec.md glossary, §4.3.1).
type Since struct {
	timestampSeconds uint64
}

// sinceTimestampFlag marks the packed since value as "absolute timestamp in
// seconds" per the lock-time encoding convention; the high bits select the
// mode, the low 56 bits carry the value.
const sinceTimestampFlag = uint64(1) << 63

// NewSinceTimestampSeconds builds a Since locked to an absolute unix time in
// seconds.
func NewSinceTimestampSeconds(seconds uint64) Since {
	return Since{timestampSeconds: seconds}
}

// TimestampSeconds returns the lock time in seconds.
func (s Since) TimestampSeconds() uint64 { return s.timestampSeconds }

// Millis returns the lock time in milliseconds, the unit the
// state-validator script compares against block timestamps.
func (s Since) Millis() uint64 { return s.timestampSeconds * 1000 }

// Pack returns the since value as it is written into a CellInput, with the
// seconds-since-epoch mode flag set.
func (s Since) Pack() uint64 { return sinceTimestampFlag | s.timestampSeconds }

// GreaterSince computes the submission `since` for a block with the given
// timestamp in milliseconds: the smallest whole second strictly greater
// than timestampMillis/1000. The on-chain state-validator enforces
// prev_block.timestamp_ms < block.timestamp_ms < since.timestamp_s*1000, so
// the submission transaction's since must be the first second boundary
// after the block's own timestamp (spec.md §4.3.1).
//
// Invariant: for any timestampMillis below math.MaxUint64/1000*1000,
// 1 <= GreaterSince(timestampMillis).Millis()-timestampMillis <= 1000; at or
// above that bound Millis() overflows.
func GreaterSince(timestampMillis uint64) Since {
	return NewSinceTimestampSeconds(timestampMillis/1000 + 1)
}
