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

// Package ledger defines microledgers: named, append-only logs private to
// a fixed set of participants. A ledger has a committed region and, after
// it, an uncommitted region of transactions that are appended but not yet
// agreed upon.
package ledger

import (
	"errors"
	"time"

	"github.com/algorand/go-microledger/crypto"
)

var (
	// ErrLedgerNotFound is returned when opening or resetting an unknown ledger.
	ErrLedgerNotFound = errors.New("microledger does not exist")
	// ErrLedgerExists is returned when creating a ledger under a taken name.
	ErrLedgerExists = errors.New("microledger already exists")
	// ErrInvalidCount is returned when committing or discarding more
	// transactions than are uncommitted.
	ErrInvalidCount = errors.New("count exceeds uncommitted transactions")
	// ErrNoTransactions is returned when appending or creating with nothing.
	ErrNoTransactions = errors.New("no transactions")
	// ErrMetadataMismatch is returned when a transaction claims a position
	// other than the one it would land on.
	ErrMetadataMismatch = errors.New("transaction metadata does not match ledger position")
)

// Ledger is one participant's copy of a microledger.
//
// UncommittedSize is never below Size. RootHash changes only on Commit,
// UncommittedRootHash changes on every Append.
type Ledger interface {
	Name() string

	// Size is the number of committed transactions.
	Size() uint64
	// UncommittedSize counts committed and uncommitted transactions.
	UncommittedSize() uint64
	// SeqNo is the position of the last committed transaction.
	SeqNo() uint64

	RootHash() crypto.Digest
	UncommittedRootHash() crypto.Digest

	// Append adds txns to the uncommitted region and returns the positions
	// of the first and last appended transaction and the transactions as
	// stored.
	Append(txns []Transaction, txnTime time.Time) (start, end uint64, appended []Transaction, err error)
	// Commit moves the first count uncommitted transactions into the
	// committed region.
	Commit(count uint64) error
	// Discard drops the last count uncommitted transactions.
	Discard(count uint64) error
	// ResetUncommitted drops every uncommitted transaction.
	ResetUncommitted() error

	Transactions(uncommitted bool) ([]Transaction, error)
}

// Engine stores microledgers by name.
type Engine interface {
	// Create makes a new ledger whose first transactions are genesis, all
	// committed.
	Create(name string, genesis []Transaction, txnTime time.Time) (Ledger, []Transaction, error)
	Open(name string) (Ledger, error)
	Exists(name string) (bool, error)
	// Reset deletes the ledger entirely.
	Reset(name string) error
	Names() ([]string, error)
}

// CreateWith is the usual Create body shared by engines: it makes the empty
// ledger through mk, appends genesis and commits it.
func CreateWith(mk func() (Ledger, error), drop func() error, genesis []Transaction, txnTime time.Time) (Ledger, []Transaction, error) {
	if len(genesis) == 0 {
		return nil, nil, ErrNoTransactions
	}
	l, err := mk()
	if err != nil {
		return nil, nil, err
	}
	_, _, txns, err := l.Append(genesis, txnTime)
	if err == nil {
		err = l.Commit(uint64(len(txns)))
	}
	if err != nil {
		drop()
		return nil, nil, err
	}
	return l, txns, nil
}
