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

// Package ledgertest holds checks every ledger.Engine must pass.
package ledgertest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/algorand/go-microledger/ledger"
)

// Genesis returns n distinct transactions without metadata.
func Genesis(n int) []ledger.Transaction {
	txns := make([]ledger.Transaction, n)
	for i := range txns {
		txns[i] = ledger.MakeTransaction(map[string]interface{}{"op": "genesis", "i": i})
	}
	return txns
}

// Txns returns n distinct application transactions tagged with tag.
func Txns(tag string, n int) []ledger.Transaction {
	txns := make([]ledger.Transaction, n)
	for i := range txns {
		txns[i] = ledger.MakeTransaction(map[string]interface{}{"op": tag, "i": i})
	}
	return txns
}

// RunEngine exercises engine behavior shared by all implementations. mk
// must return a fresh, empty engine.
func RunEngine(t *testing.T, mk func(t *testing.T) ledger.Engine) {
	now := time.Unix(1700000000, 0)

	t.Run("CreateOpenReset", func(t *testing.T) {
		e := mk(t)
		l, txns, err := e.Create("L", Genesis(2), now)
		require.NoError(t, err)
		require.Len(t, txns, 2)
		require.Equal(t, uint64(1), txns[0].Metadata.SeqNo)
		require.Equal(t, uint64(2), txns[1].Metadata.SeqNo)
		require.Equal(t, now.Unix(), txns[1].Metadata.Time)
		require.Equal(t, uint64(2), l.Size())
		require.Equal(t, uint64(2), l.UncommittedSize())
		require.Equal(t, l.RootHash(), l.UncommittedRootHash())
		require.Equal(t, ledger.RootOf(txns), l.RootHash())

		_, _, err = e.Create("L", Genesis(1), now)
		require.ErrorIs(t, err, ledger.ErrLedgerExists)
		_, _, err = e.Create("M", nil, now)
		require.ErrorIs(t, err, ledger.ErrNoTransactions)

		exists, err := e.Exists("L")
		require.NoError(t, err)
		require.True(t, exists)
		names, err := e.Names()
		require.NoError(t, err)
		require.Equal(t, []string{"L"}, names)

		again, err := e.Open("L")
		require.NoError(t, err)
		require.Equal(t, l.RootHash(), again.RootHash())

		require.NoError(t, e.Reset("L"))
		exists, err = e.Exists("L")
		require.NoError(t, err)
		require.False(t, exists)
		_, err = e.Open("L")
		require.ErrorIs(t, err, ledger.ErrLedgerNotFound)
		require.ErrorIs(t, e.Reset("L"), ledger.ErrLedgerNotFound)

		// the name is free again
		_, _, err = e.Create("L", Genesis(1), now)
		require.NoError(t, err)
	})

	t.Run("AppendCommitDiscard", func(t *testing.T) {
		e := mk(t)
		l, _, err := e.Create("L", Genesis(1), now)
		require.NoError(t, err)
		committedRoot := l.RootHash()

		start, end, appended, err := l.Append(Txns("a", 3), now.Add(time.Second))
		require.NoError(t, err)
		require.Equal(t, uint64(2), start)
		require.Equal(t, uint64(4), end)
		require.Len(t, appended, 3)
		for _, txn := range appended {
			require.True(t, txn.HasMetadata())
		}
		require.Equal(t, uint64(1), l.Size())
		require.Equal(t, uint64(4), l.UncommittedSize())
		require.Equal(t, committedRoot, l.RootHash())
		require.NotEqual(t, committedRoot, l.UncommittedRootHash())

		require.ErrorIs(t, l.Commit(4), ledger.ErrInvalidCount)
		require.ErrorIs(t, l.Discard(4), ledger.ErrInvalidCount)

		require.NoError(t, l.Discard(1))
		require.Equal(t, uint64(3), l.UncommittedSize())

		require.NoError(t, l.Commit(1))
		require.Equal(t, uint64(2), l.Size())
		require.Equal(t, uint64(2), l.SeqNo())
		require.NotEqual(t, committedRoot, l.RootHash())

		require.NoError(t, l.ResetUncommitted())
		require.Equal(t, uint64(2), l.UncommittedSize())
		require.Equal(t, l.RootHash(), l.UncommittedRootHash())

		all, err := l.Transactions(true)
		require.NoError(t, err)
		require.Len(t, all, 2)
		require.Equal(t, appended[0], all[1])
	})

	t.Run("ReplayKeepsHashes", func(t *testing.T) {
		leader, acceptor := mk(t), mk(t)
		gl, genesis, err := leader.Create("L", Genesis(1), now)
		require.NoError(t, err)
		ga, _, err := acceptor.Create("L", genesis, now.Add(time.Hour))
		require.NoError(t, err)
		require.Equal(t, gl.RootHash(), ga.RootHash())

		_, _, appended, err := gl.Append(Txns("x", 2), now.Add(time.Minute))
		require.NoError(t, err)
		_, _, replayed, err := ga.Append(appended, now.Add(time.Hour))
		require.NoError(t, err)
		require.Equal(t, appended, replayed)
		require.Equal(t, gl.UncommittedRootHash(), ga.UncommittedRootHash())

		// a claimed position other than the landing one is refused
		require.NoError(t, ga.ResetUncommitted())
		_, _, _, err = ga.Append(appended[1:], now)
		require.ErrorIs(t, err, ledger.ErrMetadataMismatch)
		require.Equal(t, uint64(1), ga.UncommittedSize())

		_, _, _, err = ga.Append(nil, now)
		require.ErrorIs(t, err, ledger.ErrNoTransactions)
	})
}
