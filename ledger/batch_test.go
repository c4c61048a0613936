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

package ledger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/algorand/go-microledger/ledger"
	"github.com/algorand/go-microledger/ledger/ledgertest"
	"github.com/algorand/go-microledger/ledger/memstore"
	"github.com/algorand/go-microledger/test/partitiontest"
)

func TestBatchAppendCommit(t *testing.T) {
	partitiontest.PartitionTest(t)

	now := time.Unix(500, 0)
	e := memstore.MakeEngine()
	_, _, err := e.Create("A", ledgertest.Genesis(1), now)
	require.NoError(t, err)
	_, _, err = e.Create("B", ledgertest.Genesis(3), now)
	require.NoError(t, err)

	b, err := ledger.OpenBatch(e, []string{"A", "B"})
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, b.Names())

	txns := ledger.Stamp(ledgertest.Txns("t", 2), now)
	appended, err := b.Append(txns, now)
	require.NoError(t, err)
	require.Equal(t, uint64(2), appended[0][0].Metadata.SeqNo)
	require.Equal(t, uint64(4), appended[1][0].Metadata.SeqNo)

	require.NoError(t, b.Commit())
	for _, l := range b.Ledgers() {
		require.Equal(t, l.Size(), l.UncommittedSize())
	}
	la, _ := e.Open("A")
	require.Equal(t, uint64(3), la.Size())
}

func TestBatchAppendRollsBack(t *testing.T) {
	partitiontest.PartitionTest(t)

	now := time.Unix(500, 0)
	e := memstore.MakeEngine()
	a, _, err := e.Create("A", ledgertest.Genesis(1), now)
	require.NoError(t, err)
	bl, _, err := e.Create("B", ledgertest.Genesis(2), now)
	require.NoError(t, err)

	// positions valid for A but not for B
	_, _, placed, err := a.Append(ledgertest.Txns("t", 1), now)
	require.NoError(t, err)
	require.NoError(t, a.ResetUncommitted())

	b := ledger.MakeBatch(a, bl)
	_, err = b.Append(placed, now)
	require.ErrorIs(t, err, ledger.ErrMetadataMismatch)
	require.Equal(t, uint64(1), a.UncommittedSize())
	require.Equal(t, uint64(2), bl.UncommittedSize())

	_, err = ledger.OpenBatch(e, []string{"A", "A"})
	require.Error(t, err)
	_, err = ledger.OpenBatch(e, []string{"A", "nope"})
	require.ErrorIs(t, err, ledger.ErrLedgerNotFound)
}

var errStuck = errors.New("stuck")

// stuckLedger refuses to drop uncommitted transactions.
type stuckLedger struct {
	ledger.Ledger
}

func (stuckLedger) Discard(uint64) error {
	return errStuck
}

func TestBatchAppendReportsFailedRollback(t *testing.T) {
	partitiontest.PartitionTest(t)

	now := time.Unix(500, 0)
	e := memstore.MakeEngine()
	a, _, err := e.Create("A", ledgertest.Genesis(1), now)
	require.NoError(t, err)
	bl, _, err := e.Create("B", ledgertest.Genesis(2), now)
	require.NoError(t, err)

	_, _, placed, err := a.Append(ledgertest.Txns("t", 1), now)
	require.NoError(t, err)
	require.NoError(t, a.ResetUncommitted())

	b := ledger.MakeBatch(stuckLedger{a}, bl)
	_, err = b.Append(placed, now)
	require.ErrorIs(t, err, ledger.ErrMetadataMismatch)
	require.ErrorIs(t, err, errStuck)
	require.Contains(t, err.Error(), `rolling back ledger "A"`)
	require.Equal(t, uint64(2), a.UncommittedSize())
}
