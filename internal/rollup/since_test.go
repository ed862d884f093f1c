// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rollup

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGreaterSinceInvariant(t *testing.T) {
	cases := []uint64{0, 999, 1000, 1500, 2000, math.MaxUint64/1000*1000 - 1}
	for _, ts := range cases {
		since := GreaterSince(ts)
		delta := since.Millis() - ts
		require.Greaterf(t, since.Millis(), ts, "timestamp=%d", ts)
		require.LessOrEqualf(t, delta, uint64(1000), "timestamp=%d", ts)
		require.GreaterOrEqualf(t, delta, uint64(1), "timestamp=%d", ts)
	}
}

func TestGreaterSinceExample(t *testing.T) {
	// spec.md §8 scenario 6.
	since := GreaterSince(1_700_000_000_500)
	require.Equal(t, uint64(1_700_000_001), since.TimestampSeconds())
	require.Equal(t, uint64(1_700_000_001_000), since.Millis())
}
