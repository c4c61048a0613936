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

package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/algorand/go-microledger/test/partitiontest"
)

func TestTransactionFields(t *testing.T) {
	partitiontest.PartitionTest(t)

	txn := MakeTransaction(map[string]interface{}{"op": "issue", "to": "did:sov:abc"})
	fields, err := txn.Fields()
	require.NoError(t, err)
	require.Equal(t, "issue", fields["op"])
	require.Equal(t, "did:sov:abc", fields["to"])
	require.IsType(t, "", fields["op"])
	require.Equal(t, txn.Body, MakeTransaction(fields).Body)
	require.False(t, txn.HasMetadata())

	_, err = Transaction{}.Fields()
	require.ErrorIs(t, err, ErrNoBody)

	// same record, same body regardless of map iteration order
	for i := 0; i < 10; i++ {
		require.Equal(t, txn.Body, MakeTransaction(map[string]interface{}{"to": "did:sov:abc", "op": "issue"}).Body)
	}
}

func TestTransactionHashCoversMetadata(t *testing.T) {
	partitiontest.PartitionTest(t)

	txn := MakeTransaction(map[string]interface{}{"k": "v"})
	h0 := txn.Hash()
	h1 := txn.WithMetadata(TxnMetadata{SeqNo: 1, Time: 10}).Hash()
	h2 := txn.WithMetadata(TxnMetadata{SeqNo: 2, Time: 10}).Hash()
	require.NotEqual(t, h0, h1)
	require.NotEqual(t, h1, h2)
	require.Equal(t, h1, txn.WithMetadata(TxnMetadata{SeqNo: 1, Time: 10}).Hash())
}

func TestAssignMetadata(t *testing.T) {
	partitiontest.PartitionTest(t)

	now := time.Unix(1000, 0)
	raw := MakeTransaction(map[string]interface{}{"k": 1})
	stamped := raw.WithMetadata(TxnMetadata{Time: 5})
	placed := raw.WithMetadata(TxnMetadata{SeqNo: 13, Time: 7})

	out, err := AssignMetadata([]Transaction{raw, stamped, placed}, 10, now)
	require.NoError(t, err)
	require.Equal(t, TxnMetadata{SeqNo: 11, Time: 1000}, *out[0].Metadata)
	require.Equal(t, TxnMetadata{SeqNo: 12, Time: 5}, *out[1].Metadata)
	require.Equal(t, TxnMetadata{SeqNo: 13, Time: 7}, *out[2].Metadata)

	_, err = AssignMetadata([]Transaction{placed}, 0, now)
	require.ErrorIs(t, err, ErrMetadataMismatch)
	_, err = AssignMetadata([]Transaction{{}}, 0, now)
	require.ErrorIs(t, err, ErrNoBody)
	_, err = AssignMetadata(nil, 0, now)
	require.ErrorIs(t, err, ErrNoTransactions)

	// input is not mutated
	require.Nil(t, raw.Metadata)
	require.Equal(t, TxnMetadata{Time: 5}, *stamped.Metadata)
	require.Equal(t, TxnMetadata{SeqNo: 13, Time: 7}, *placed.Metadata)
	require.NotSame(t, stamped.Metadata, out[1].Metadata)
}

func TestStamp(t *testing.T) {
	partitiontest.PartitionTest(t)

	raw := MakeTransaction(map[string]interface{}{"k": 1})
	kept := raw.WithMetadata(TxnMetadata{Time: 3})
	out := Stamp([]Transaction{raw, kept}, time.Unix(9, 0))
	require.Equal(t, int64(9), out[0].Metadata.Time)
	require.Equal(t, int64(3), out[1].Metadata.Time)
	require.True(t, out[0].HasTime())
	require.False(t, out[0].HasMetadata())

	placed := raw.WithMetadata(TxnMetadata{SeqNo: 4, Time: 3})
	require.Equal(t, TxnMetadata{Time: 3}, *StripPositions([]Transaction{placed})[0].Metadata)
}
