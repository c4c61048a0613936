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

// Package memstore keeps microledgers in process memory.
package memstore

import (
	"fmt"
	"sort"
	"time"

	"github.com/algorand/go-deadlock"

	"github.com/algorand/go-microledger/crypto"
	"github.com/algorand/go-microledger/ledger"
)

// Engine is a ledger.Engine holding everything in memory.
type Engine struct {
	mu      deadlock.Mutex
	ledgers map[string]*microledger
}

// MakeEngine returns an empty engine.
func MakeEngine() *Engine {
	return &Engine{ledgers: make(map[string]*microledger)}
}

// Create implements ledger.Engine.
func (e *Engine) Create(name string, genesis []ledger.Transaction, txnTime time.Time) (ledger.Ledger, []ledger.Transaction, error) {
	mk := func() (ledger.Ledger, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.ledgers[name]; ok {
			return nil, fmt.Errorf("%w: %s", ledger.ErrLedgerExists, name)
		}
		l := &microledger{name: name}
		e.ledgers[name] = l
		return l, nil
	}
	return ledger.CreateWith(mk, func() error { return e.Reset(name) }, genesis, txnTime)
}

// Open implements ledger.Engine.
func (e *Engine) Open(name string) (ledger.Ledger, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.ledgers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrLedgerNotFound, name)
	}
	return l, nil
}

// Exists implements ledger.Engine.
func (e *Engine) Exists(name string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.ledgers[name]
	return ok, nil
}

// Reset implements ledger.Engine.
func (e *Engine) Reset(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.ledgers[name]; !ok {
		return fmt.Errorf("%w: %s", ledger.ErrLedgerNotFound, name)
	}
	delete(e.ledgers, name)
	return nil
}

// Names implements ledger.Engine.
func (e *Engine) Names() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.ledgers))
	for name := range e.ledgers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

type microledger struct {
	mu     deadlock.RWMutex
	name   string
	txns   []ledger.Transaction
	leaves []crypto.Digest
	size   uint64
}

func (l *microledger) Name() string { return l.name }

func (l *microledger) Size() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

func (l *microledger) UncommittedSize() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.txns))
}

func (l *microledger) SeqNo() uint64 {
	return l.Size()
}

func (l *microledger) RootHash() crypto.Digest {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return ledger.MerkleRoot(l.leaves[:l.size])
}

func (l *microledger) UncommittedRootHash() crypto.Digest {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return ledger.MerkleRoot(l.leaves)
}

func (l *microledger) Append(txns []ledger.Transaction, txnTime time.Time) (start, end uint64, appended []ledger.Transaction, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	last := uint64(len(l.txns))
	appended, err = ledger.AssignMetadata(txns, last, txnTime)
	if err != nil {
		return 0, 0, nil, err
	}
	for _, txn := range appended {
		l.txns = append(l.txns, txn)
		l.leaves = append(l.leaves, txn.Hash())
	}
	return last + 1, last + uint64(len(appended)), appended, nil
}

func (l *microledger) Commit(count uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.size+count > uint64(len(l.txns)) {
		return fmt.Errorf("%w: commit %d of %d", ledger.ErrInvalidCount, count, uint64(len(l.txns))-l.size)
	}
	l.size += count
	return nil
}

func (l *microledger) Discard(count uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.size+count > uint64(len(l.txns)) {
		return fmt.Errorf("%w: discard %d of %d", ledger.ErrInvalidCount, count, uint64(len(l.txns))-l.size)
	}
	keep := uint64(len(l.txns)) - count
	l.txns = l.txns[:keep]
	l.leaves = l.leaves[:keep]
	return nil
}

func (l *microledger) ResetUncommitted() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txns = l.txns[:l.size]
	l.leaves = l.leaves[:l.size]
	return nil
}

func (l *microledger) Transactions(uncommitted bool) ([]ledger.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := l.size
	if uncommitted {
		n = uint64(len(l.txns))
	}
	return append([]ledger.Transaction(nil), l.txns[:n]...), nil
}
