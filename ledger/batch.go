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
	"errors"
	"fmt"
	"time"
)

// Batch applies the same operation to an ordered list of ledgers. It backs
// the consensus rounds that commit one set of transactions into several
// microledgers at once.
type Batch struct {
	ledgers []Ledger
}

// OpenBatch opens every named ledger from engine. Duplicate names are an
// error.
func OpenBatch(engine Engine, names []string) (*Batch, error) {
	seen := make(map[string]bool, len(names))
	b := &Batch{}
	for _, name := range names {
		if seen[name] {
			return nil, fmt.Errorf("ledger %q listed twice", name)
		}
		seen[name] = true
		l, err := engine.Open(name)
		if err != nil {
			return nil, fmt.Errorf("ledger %q: %w", name, err)
		}
		b.ledgers = append(b.ledgers, l)
	}
	if len(b.ledgers) == 0 {
		return nil, errors.New("empty ledger batch")
	}
	return b, nil
}

// MakeBatch wraps already opened ledgers.
func MakeBatch(ledgers ...Ledger) *Batch {
	return &Batch{ledgers: append([]Ledger(nil), ledgers...)}
}

// Ledgers returns the ledgers in batch order.
func (b *Batch) Ledgers() []Ledger {
	return append([]Ledger(nil), b.ledgers...)
}

// Names returns ledger names in batch order.
func (b *Batch) Names() []string {
	names := make([]string, len(b.ledgers))
	for i, l := range b.ledgers {
		names[i] = l.Name()
	}
	return names
}

// Append appends txns to every ledger and returns what each one appended,
// in batch order. If some ledger refuses them, the ledgers already appended
// to are rolled back by exactly what was added; rollback failures are
// joined into the returned error.
func (b *Batch) Append(txns []Transaction, txnTime time.Time) ([][]Transaction, error) {
	out := make([][]Transaction, 0, len(b.ledgers))
	for i, l := range b.ledgers {
		_, _, appended, err := l.Append(txns, txnTime)
		if err != nil {
			errs := []error{fmt.Errorf("ledger %q: %w", l.Name(), err)}
			for j := i - 1; j >= 0; j-- {
				if derr := b.ledgers[j].Discard(uint64(len(out[j]))); derr != nil {
					errs = append(errs, fmt.Errorf("rolling back ledger %q: %w", b.ledgers[j].Name(), derr))
				}
			}
			return nil, errors.Join(errs...)
		}
		out = append(out, appended)
	}
	return out, nil
}

// Commit commits every uncommitted transaction in every ledger.
func (b *Batch) Commit() error {
	for _, l := range b.ledgers {
		if err := l.Commit(l.UncommittedSize() - l.Size()); err != nil {
			return fmt.Errorf("ledger %q: %w", l.Name(), err)
		}
	}
	return nil
}

// ResetUncommitted drops the uncommitted region of every ledger. All
// ledgers are attempted; the first failure is returned.
func (b *Batch) ResetUncommitted() error {
	var first error
	for _, l := range b.ledgers {
		if err := l.ResetUncommitted(); err != nil && first == nil {
			first = fmt.Errorf("ledger %q: %w", l.Name(), err)
		}
	}
	return first
}
