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

package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/algorand/go-microledger/ledger/ledgertest"
	"github.com/algorand/go-microledger/ledger/memstore"
	"github.com/algorand/go-microledger/protocol"
	"github.com/algorand/go-microledger/test/partitiontest"
)

func genLedgerState() *rapid.Generator[LedgerState] {
	return rapid.Custom(func(t *rapid.T) LedgerState {
		size := rapid.Uint64Range(1, 1<<20).Draw(t, "size")
		return LedgerState{
			Name:                rapid.StringMatching(`[a-z]{1,12}`).Draw(t, "name"),
			SeqNo:               size,
			Size:                size,
			UncommittedSize:     size + rapid.Uint64Range(0, 64).Draw(t, "pending"),
			RootHash:            rapid.StringMatching(`[1-9A-HJ-NP-Za-km-z]{43,44}`).Draw(t, "root"),
			UncommittedRootHash: rapid.StringMatching(`[1-9A-HJ-NP-Za-km-z]{43,44}`).Draw(t, "uroot"),
		}
	})
}

func TestLedgerStateHashDeterministic(t *testing.T) {
	partitiontest.PartitionTest(t)

	rapid.Check(t, func(t *rapid.T) {
		s1 := genLedgerState().Draw(t, "s1")
		s2 := s1
		if s1.Hash() != s2.Hash() {
			t.Fatalf("equal states hash differently")
		}

		var decoded LedgerState
		if err := protocol.Decode(protocol.Encode(s1), &decoded); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if decoded != s1 || decoded.Hash() != s1.Hash() {
			t.Fatalf("round trip changed the state")
		}

		s3 := s1
		s3.UncommittedSize++
		if s3.Hash() == s1.Hash() {
			t.Fatalf("different states share a hash")
		}
	})
}

func TestMakeLedgerStateStable(t *testing.T) {
	partitiontest.PartitionTest(t)

	e := memstore.MakeEngine()
	l, _, err := e.Create("L", ledgertest.Genesis(1), time.Unix(1700000000, 0))
	require.NoError(t, err)

	s1 := MakeLedgerState(l)
	s2 := MakeLedgerState(l)
	require.True(t, s1.IsFilled())
	require.Equal(t, s1, s2)
	require.Equal(t, s1.Hash(), s2.Hash())

	_, _, _, err = l.Append(ledgertest.Txns("app", 2), time.Unix(1700000001, 0))
	require.NoError(t, err)
	s3 := MakeLedgerState(l)
	require.Equal(t, uint64(1), s3.Size)
	require.Equal(t, uint64(3), s3.UncommittedSize)
	require.Equal(t, s1.RootHash, s3.RootHash)
	require.NotEqual(t, s1.UncommittedRootHash, s3.UncommittedRootHash)
	require.NotEqual(t, s1.Hash(), s3.Hash())
}

func TestLedgerStateIsFilled(t *testing.T) {
	partitiontest.PartitionTest(t)

	full := LedgerState{Name: "L", SeqNo: 1, Size: 1, UncommittedSize: 1, RootHash: "r", UncommittedRootHash: "u"}
	require.True(t, full.IsFilled())

	for name, mutate := range map[string]func(*LedgerState){
		"name":             func(s *LedgerState) { s.Name = "" },
		"seqNo":            func(s *LedgerState) { s.SeqNo = 0 },
		"size":             func(s *LedgerState) { s.Size = 0 },
		"uncommittedBelow": func(s *LedgerState) { s.Size = 2; s.SeqNo = 2 },
		"root":             func(s *LedgerState) { s.RootHash = "" },
		"uncommittedRoot":  func(s *LedgerState) { s.UncommittedRootHash = "" },
	} {
		s := full
		mutate(&s)
		require.False(t, s.IsFilled(), name)
	}

	require.False(t, LedgerStates{}.IsFilled())
	require.True(t, LedgerStates{full}.IsFilled())
	require.False(t, LedgerStates{full, {}}.IsFilled())
}

func TestLedgerStatesOrderMatters(t *testing.T) {
	partitiontest.PartitionTest(t)

	a := LedgerState{Name: "A", SeqNo: 1, Size: 1, UncommittedSize: 2, RootHash: "r", UncommittedRootHash: "u"}
	b := a
	b.Name = "B"
	require.Equal(t, []string{"A", "B"}, LedgerStates{a, b}.Names())
	require.NotEqual(t, LedgerStates{a, b}.Hash(), LedgerStates{b, a}.Hash())
	require.NotEqual(t, a.Hash(), LedgerStates{a}.Hash())
}
