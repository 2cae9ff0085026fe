// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package syncstorage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuantizeRoundsDownToTick(t *testing.T) {
	require.EqualValues(t, 1000, Quantize(1000))
	require.EqualValues(t, 1000, Quantize(1009))
	require.EqualValues(t, 1010, Quantize(1010))
	require.EqualValues(t, 0, Quantize(9))
}

func TestSecondsRendersTwoDecimalPlaces(t *testing.T) {
	require.Equal(t, 1.23, Timestamp(1230).Seconds())
	require.Equal(t, 0.0, Timestamp(0).Seconds())
}

func TestClockNextIsStrictlyMonotone(t *testing.T) {
	fixed := Timestamp(1000)
	c := &Clock{now: func() Timestamp { return fixed }}

	first := c.Next()
	second := c.Next()
	third := c.Next()

	require.Equal(t, Timestamp(1000), first)
	require.Equal(t, Timestamp(1010), second, "a colliding now must advance one tick")
	require.Equal(t, Timestamp(1020), third)
}

func TestClockNextFollowsAdvancingWallClock(t *testing.T) {
	now := Timestamp(1000)
	c := &Clock{now: func() Timestamp { return now }}

	require.Equal(t, Timestamp(1000), c.Next())
	now = 5000
	require.Equal(t, Timestamp(5000), c.Next())
}

func TestClockObserveRaisesTheFloor(t *testing.T) {
	c := &Clock{now: func() Timestamp { return 1000 }}
	c.Observe(3000)

	require.Equal(t, Timestamp(3010), c.Next(), "Next must not regress below an observed stored timestamp")
}

func TestClockObserveIgnoresOlderValues(t *testing.T) {
	c := &Clock{now: func() Timestamp { return 2000 }}
	c.Observe(1000)
	require.Equal(t, Timestamp(2000), c.Next())
}
