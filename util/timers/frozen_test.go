// Copyright (C) 2019-2024 Algorand, Inc.
// This file is part of go-microledger
//
// go-microledger is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// go-microledger is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with go-microledger.  If not, see <https://www.gnu.org/licenses/>.

package timers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/algorand/go-microledger/test/partitiontest"
)

func fired(ch <-chan time.Time) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestFrozenAdvance(t *testing.T) {
	partitiontest.PartitionTest(t)

	start := time.Unix(1000, 0)
	c := MakeFrozenClock(start)
	require.Equal(t, start, c.Now())

	short := c.After(time.Second)
	long := c.After(time.Minute)
	require.True(t, fired(c.After(0)))
	require.False(t, fired(short))

	c.Advance(500 * time.Millisecond)
	require.False(t, fired(short))
	c.Advance(500 * time.Millisecond)
	require.True(t, fired(short))
	require.False(t, fired(long))
	require.Equal(t, start.Add(time.Second), c.Now())

	c.Advance(time.Hour)
	require.True(t, fired(long))
}

func TestMonotonic(t *testing.T) {
	partitiontest.PartitionTest(t)

	c := MakeMonotonicClock()
	require.True(t, fired(c.After(-time.Second)))

	before := c.Now()
	<-c.After(10 * time.Millisecond)
	require.GreaterOrEqual(t, c.Now().Sub(before), 10*time.Millisecond)
}
