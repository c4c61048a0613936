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

package locking

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/algorand/go-microledger/test/partitiontest"
	"github.com/algorand/go-microledger/util/timers"
)

func TestAcquireRelease(t *testing.T) {
	partitiontest.PartitionTest(t)

	m := MakeManager(timers.MakeFrozenClock(time.Unix(0, 0)))
	ok, busy := m.Acquire("alice", []string{"b", "a", "a"}, time.Minute)
	require.True(t, ok)
	require.Empty(t, busy)

	ok, busy = m.Acquire("bob", []string{"c", "b", "a"}, time.Minute)
	require.False(t, ok)
	require.Equal(t, []string{"a", "b"}, busy)

	// bob got nothing, so c is still free for carol
	ok, _ = m.Acquire("carol", []string{"c"}, time.Minute)
	require.True(t, ok)

	m.Release("alice")
	ok, busy = m.Acquire("bob", []string{"a", "b", "c"}, time.Minute)
	require.False(t, ok)
	require.Equal(t, []string{"c"}, busy)

	tickets := m.Tickets()
	require.Len(t, tickets, 1)
	require.Equal(t, "carol", tickets[0].Owner)
}

func TestReacquireReplacesOwnLocks(t *testing.T) {
	partitiontest.PartitionTest(t)

	m := MakeManager(timers.MakeFrozenClock(time.Unix(0, 0)))
	ok, _ := m.Acquire("alice", []string{"a", "b"}, time.Minute)
	require.True(t, ok)
	ok, _ = m.Acquire("alice", []string{"b", "c"}, time.Minute)
	require.True(t, ok)

	// a was released by the second acquire
	ok, _ = m.Acquire("bob", []string{"a"}, time.Minute)
	require.True(t, ok)

	// a failed re-acquire still drops what alice held before
	ok, busy := m.Acquire("alice", []string{"a", "c"}, time.Minute)
	require.False(t, ok)
	require.Equal(t, []string{"a"}, busy)
	ok, _ = m.Acquire("carol", []string{"b", "c"}, time.Minute)
	require.True(t, ok)
}

func TestLocksExpire(t *testing.T) {
	partitiontest.PartitionTest(t)

	clock := timers.MakeFrozenClock(time.Unix(0, 0))
	m := MakeManager(clock)
	ok, _ := m.Acquire("alice", []string{"a"}, 10*time.Second)
	require.True(t, ok)

	clock.Advance(9 * time.Second)
	ok, _ = m.Acquire("bob", []string{"a"}, time.Minute)
	require.False(t, ok)

	clock.Advance(time.Second)
	ok, _ = m.Acquire("bob", []string{"a"}, time.Minute)
	require.True(t, ok)
	require.Equal(t, "bob", m.Tickets()[0].Owner)
}

func TestAcquireWait(t *testing.T) {
	partitiontest.PartitionTest(t)

	m := MakeManager(nil)
	ok, _ := m.Acquire("alice", []string{"a"}, time.Minute)
	require.True(t, ok)

	go func() {
		time.Sleep(20 * time.Millisecond)
		m.Release("alice")
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	busy, err := m.AcquireWait(ctx, "bob", []string{"a"}, time.Minute)
	require.NoError(t, err)
	require.Empty(t, busy)

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	busy, err = m.AcquireWait(ctx, "carol", []string{"b", "a"}, time.Minute)
	require.ErrorIs(t, err, ErrBusy)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, []string{"a"}, busy)
}

// Two owners competing for overlapping names: exactly one wins, the loser
// gets precisely the overlap as busy and holds nothing.
func TestMutualExclusionProperty(t *testing.T) {
	partitiontest.PartitionTest(t)

	rapid.Check(t, func(t *rapid.T) {
		universe := []string{"l0", "l1", "l2", "l3", "l4", "l5"}
		gen := rapid.SliceOfNDistinct(rapid.SampledFrom(universe), 1, len(universe), rapid.ID[string])
		first := gen.Draw(t, "first")
		second := gen.Draw(t, "second")

		m := MakeManager(timers.MakeFrozenClock(time.Unix(0, 0)))
		ok1, _ := m.Acquire("one", first, time.Minute)
		ok2, busy := m.Acquire("two", second, time.Minute)
		if !ok1 {
			t.Fatalf("first acquire on an empty table failed")
		}

		overlap := map[string]bool{}
		for _, a := range first {
			for _, b := range second {
				if a == b {
					overlap[a] = true
				}
			}
		}
		if len(overlap) == 0 {
			if !ok2 {
				t.Fatalf("disjoint acquire failed, busy %v", busy)
			}
			return
		}
		if ok2 {
			t.Fatalf("overlapping acquire succeeded")
		}
		if len(busy) != len(overlap) {
			t.Fatalf("busy %v, overlap %v", busy, overlap)
		}
		for _, name := range busy {
			if !overlap[name] {
				t.Fatalf("%s reported busy outside overlap", name)
			}
		}
		for _, ticket := range m.Tickets() {
			if ticket.Owner == "two" {
				t.Fatalf("loser kept a ticket: %v", fmt.Sprint(ticket))
			}
		}
	})
}
