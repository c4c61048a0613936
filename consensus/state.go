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
	"github.com/algorand/go-microledger/crypto"
	"github.com/algorand/go-microledger/ledger"
	"github.com/algorand/go-microledger/protocol"
)

// LedgerState is a snapshot of one microledger. Participants sign the hash
// of a snapshot rather than the ledger itself.
type LedgerState struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Name                string `codec:"name"`
	SeqNo               uint64 `codec:"seq_no"`
	Size                uint64 `codec:"size"`
	UncommittedSize     uint64 `codec:"uncommitted_size"`
	RootHash            string `codec:"root_hash"`
	UncommittedRootHash string `codec:"uncommitted_root_hash"`
}

// MakeLedgerState snapshots l.
func MakeLedgerState(l ledger.Ledger) LedgerState {
	return LedgerState{
		Name:                l.Name(),
		SeqNo:               l.SeqNo(),
		Size:                l.Size(),
		UncommittedSize:     l.UncommittedSize(),
		RootHash:            l.RootHash().String(),
		UncommittedRootHash: l.UncommittedRootHash().String(),
	}
}

// IsFilled reports whether every field is set. Ledgers always start with
// a non-empty genesis, so zero sizes mean the field is missing.
func (s LedgerState) IsFilled() bool {
	return s.Name != "" &&
		s.SeqNo > 0 &&
		s.Size > 0 &&
		s.UncommittedSize >= s.Size &&
		s.RootHash != "" &&
		s.UncommittedRootHash != ""
}

// ToBeHashed implements crypto.Hashable.
func (s LedgerState) ToBeHashed() (protocol.HashID, []byte) {
	return protocol.LedgerState, protocol.Encode(s)
}

// Hash is the base58 digest participants sign.
func (s LedgerState) Hash() string {
	return crypto.HashObj(s).String()
}

// LedgerStates is the ordered list of snapshots a batched round agrees on.
type LedgerStates []LedgerState

// MakeLedgerStates snapshots every ledger of b in order.
func MakeLedgerStates(b *ledger.Batch) LedgerStates {
	ledgers := b.Ledgers()
	out := make(LedgerStates, len(ledgers))
	for i, l := range ledgers {
		out[i] = MakeLedgerState(l)
	}
	return out
}

// IsFilled reports whether the list is non-empty and every state is filled.
func (ss LedgerStates) IsFilled() bool {
	if len(ss) == 0 {
		return false
	}
	for _, s := range ss {
		if !s.IsFilled() {
			return false
		}
	}
	return true
}

// Names returns the ledger names in order.
func (ss LedgerStates) Names() []string {
	names := make([]string, len(ss))
	for i, s := range ss {
		names[i] = s.Name
	}
	return names
}

// ToBeHashed implements crypto.Hashable.
func (ss LedgerStates) ToBeHashed() (protocol.HashID, []byte) {
	return protocol.LedgerStates, protocol.Encode([]LedgerState(ss))
}

// Hash is the base58 digest participants of a batched round sign.
func (ss LedgerStates) Hash() string {
	return crypto.HashObj(ss).String()
}
