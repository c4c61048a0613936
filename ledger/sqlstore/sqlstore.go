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

// Package sqlstore persists microledgers in a sqlite database.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/algorand/go-microledger/crypto"
	"github.com/algorand/go-microledger/ledger"
	"github.com/algorand/go-microledger/logging"
	"github.com/algorand/go-microledger/util/db"
)

var schema = []db.Migration{
	func(ctx context.Context, tx *sql.Tx) error {
		stmts := []string{
			`CREATE TABLE microledgers (
				name TEXT PRIMARY KEY,
				size INTEGER NOT NULL DEFAULT 0)`,
			`CREATE TABLE transactions (
				ledger TEXT NOT NULL REFERENCES microledgers(name) ON DELETE CASCADE,
				seqno INTEGER NOT NULL,
				body BLOB NOT NULL,
				txntime INTEGER NOT NULL,
				hash BLOB NOT NULL,
				PRIMARY KEY (ledger, seqno))`,
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	},
}

// Engine is a ledger.Engine over a sqlite database.
type Engine struct {
	acc db.Accessor
	log logging.Logger
}

// Open opens (and if needed initializes) the database in filename. With
// inMemory set, filename only names a shared in-memory database.
func Open(filename string, inMemory bool, log logging.Logger) (*Engine, error) {
	if log == nil {
		log = logging.Base()
	}
	acc, err := db.MakeAccessor(filename, false, inMemory, log)
	if err != nil {
		return nil, err
	}
	e := &Engine{acc: acc, log: log.With("db", filename)}
	err = e.atomic("migrate", func(ctx context.Context, tx *sql.Tx) error {
		version, err := db.Migrate(ctx, tx, schema)
		if err == nil {
			e.log.Debugf("microledger schema at version %d", version)
		}
		return err
	})
	if err != nil {
		acc.Close()
		return nil, err
	}
	return e, nil
}

// Close releases the database.
func (e *Engine) Close() {
	e.acc.Close()
}

func (e *Engine) atomic(descr string, fn db.TxFn) error {
	return e.acc.Atomic(context.Background(), descr, fn)
}

// Create implements ledger.Engine.
func (e *Engine) Create(name string, genesis []ledger.Transaction, txnTime time.Time) (ledger.Ledger, []ledger.Transaction, error) {
	if len(genesis) == 0 {
		return nil, nil, ledger.ErrNoTransactions
	}
	var appended []ledger.Transaction
	err := e.atomic("create", func(ctx context.Context, tx *sql.Tx) (err error) {
		exists, err := ledgerExists(ctx, tx, name)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ledger.ErrLedgerExists, name)
		}
		if _, err = tx.ExecContext(ctx, "INSERT INTO microledgers (name, size) VALUES (?, 0)", name); err != nil {
			return err
		}
		appended, err = appendTxns(ctx, tx, name, 0, genesis, txnTime)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "UPDATE microledgers SET size = ? WHERE name = ?", len(appended), name)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &microledger{e: e, name: name}, appended, nil
}

// Open implements ledger.Engine.
func (e *Engine) Open(name string) (ledger.Ledger, error) {
	exists, err := e.Exists(name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ledger.ErrLedgerNotFound, name)
	}
	return &microledger{e: e, name: name}, nil
}

// Exists implements ledger.Engine.
func (e *Engine) Exists(name string) (exists bool, err error) {
	err = e.atomic("exists", func(ctx context.Context, tx *sql.Tx) (err error) {
		exists, err = ledgerExists(ctx, tx, name)
		return err
	})
	return
}

// Reset implements ledger.Engine.
func (e *Engine) Reset(name string) error {
	return e.atomic("reset", func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM transactions WHERE ledger = ?", name); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM microledgers WHERE name = ?", name)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("%w: %s", ledger.ErrLedgerNotFound, name)
		}
		return nil
	})
}

// Names implements ledger.Engine.
func (e *Engine) Names() (names []string, err error) {
	err = e.atomic("names", func(ctx context.Context, tx *sql.Tx) error {
		names = nil
		rows, err := tx.QueryContext(ctx, "SELECT name FROM microledgers ORDER BY name")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			names = append(names, name)
		}
		return rows.Err()
	})
	return
}

func ledgerExists(ctx context.Context, tx *sql.Tx, name string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM microledgers WHERE name = ?", name).Scan(&n)
	return n > 0, err
}

type sizes struct {
	size        uint64
	uncommitted uint64
}

func loadSizes(ctx context.Context, tx *sql.Tx, name string) (s sizes, err error) {
	err = tx.QueryRowContext(ctx, "SELECT size FROM microledgers WHERE name = ?", name).Scan(&s.size)
	if errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("%w: %s", ledger.ErrLedgerNotFound, name)
	}
	if err != nil {
		return s, err
	}
	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions WHERE ledger = ?", name).Scan(&s.uncommitted)
	return s, err
}

func appendTxns(ctx context.Context, tx *sql.Tx, name string, last uint64, txns []ledger.Transaction, txnTime time.Time) ([]ledger.Transaction, error) {
	appended, err := ledger.AssignMetadata(txns, last, txnTime)
	if err != nil {
		return nil, err
	}
	for _, txn := range appended {
		h := txn.Hash()
		_, err = tx.ExecContext(ctx, "INSERT INTO transactions (ledger, seqno, body, txntime, hash) VALUES (?, ?, ?, ?, ?)",
			name, txn.Metadata.SeqNo, txn.Body, txn.Metadata.Time, h[:])
		if err != nil {
			return nil, err
		}
	}
	return appended, nil
}

type microledger struct {
	e    *Engine
	name string
}

func (l *microledger) Name() string { return l.name }

func (l *microledger) sizes() (s sizes) {
	err := l.e.atomic("sizes", func(ctx context.Context, tx *sql.Tx) (err error) {
		s, err = loadSizes(ctx, tx, l.name)
		return err
	})
	if err != nil {
		l.e.log.With("ledger", l.name).Warnf("reading sizes: %v", err)
	}
	return s
}

func (l *microledger) Size() uint64            { return l.sizes().size }
func (l *microledger) UncommittedSize() uint64 { return l.sizes().uncommitted }
func (l *microledger) SeqNo() uint64           { return l.Size() }

func (l *microledger) root(uncommitted bool) crypto.Digest {
	var leaves []crypto.Digest
	err := l.e.atomic("root", func(ctx context.Context, tx *sql.Tx) error {
		leaves = nil
		s, err := loadSizes(ctx, tx, l.name)
		if err != nil {
			return err
		}
		limit := s.size
		if uncommitted {
			limit = s.uncommitted
		}
		rows, err := tx.QueryContext(ctx, "SELECT hash FROM transactions WHERE ledger = ? AND seqno <= ? ORDER BY seqno", l.name, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var raw []byte
			if err := rows.Scan(&raw); err != nil {
				return err
			}
			var d crypto.Digest
			copy(d[:], raw)
			leaves = append(leaves, d)
		}
		return rows.Err()
	})
	if err != nil {
		l.e.log.With("ledger", l.name).Warnf("reading root: %v", err)
	}
	return ledger.MerkleRoot(leaves)
}

func (l *microledger) RootHash() crypto.Digest            { return l.root(false) }
func (l *microledger) UncommittedRootHash() crypto.Digest { return l.root(true) }

func (l *microledger) Append(txns []ledger.Transaction, txnTime time.Time) (start, end uint64, appended []ledger.Transaction, err error) {
	err = l.e.atomic("append", func(ctx context.Context, tx *sql.Tx) error {
		s, err := loadSizes(ctx, tx, l.name)
		if err != nil {
			return err
		}
		appended, err = appendTxns(ctx, tx, l.name, s.uncommitted, txns, txnTime)
		start, end = s.uncommitted+1, s.uncommitted+uint64(len(appended))
		return err
	})
	if err != nil {
		return 0, 0, nil, err
	}
	return start, end, appended, nil
}

func (l *microledger) Commit(count uint64) error {
	return l.e.atomic("commit", func(ctx context.Context, tx *sql.Tx) error {
		s, err := loadSizes(ctx, tx, l.name)
		if err != nil {
			return err
		}
		if s.size+count > s.uncommitted {
			return fmt.Errorf("%w: commit %d of %d", ledger.ErrInvalidCount, count, s.uncommitted-s.size)
		}
		_, err = tx.ExecContext(ctx, "UPDATE microledgers SET size = ? WHERE name = ?", s.size+count, l.name)
		return err
	})
}

func (l *microledger) Discard(count uint64) error {
	return l.e.atomic("discard", func(ctx context.Context, tx *sql.Tx) error {
		s, err := loadSizes(ctx, tx, l.name)
		if err != nil {
			return err
		}
		if s.size+count > s.uncommitted {
			return fmt.Errorf("%w: discard %d of %d", ledger.ErrInvalidCount, count, s.uncommitted-s.size)
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM transactions WHERE ledger = ? AND seqno > ?", l.name, s.uncommitted-count)
		return err
	})
}

func (l *microledger) ResetUncommitted() error {
	return l.e.atomic("resetUncommitted", func(ctx context.Context, tx *sql.Tx) error {
		s, err := loadSizes(ctx, tx, l.name)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM transactions WHERE ledger = ? AND seqno > ?", l.name, s.size)
		return err
	})
}

func (l *microledger) Transactions(uncommitted bool) (txns []ledger.Transaction, err error) {
	err = l.e.atomic("transactions", func(ctx context.Context, tx *sql.Tx) error {
		txns = nil
		s, err := loadSizes(ctx, tx, l.name)
		if err != nil {
			return err
		}
		limit := s.size
		if uncommitted {
			limit = s.uncommitted
		}
		rows, err := tx.QueryContext(ctx, "SELECT seqno, body, txntime FROM transactions WHERE ledger = ? AND seqno <= ? ORDER BY seqno", l.name, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var md ledger.TxnMetadata
			var body []byte
			if err := rows.Scan(&md.SeqNo, &body, &md.Time); err != nil {
				return err
			}
			txns = append(txns, ledger.Transaction{Body: body}.WithMetadata(md))
		}
		return rows.Err()
	})
	return
}
