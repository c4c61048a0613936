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

// Package db wraps a sqlite database handle with retrying, serializable
// transactions and a small schema versioning helper.
//
// These functions currently work on a sqlite database.
// Other databases may not work with functions in this package.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/algorand/go-microledger/logging"
)

// busy is the time to wait for a sqlite lock from another process, in ms.
// This causes sqlite to wait before returning SQLITE_BUSY.
const busy = 1000

// maxTxRetries bounds how many times a contended transaction is attempted.
const maxTxRetries = 1000

// warnTxRetries is how often (in attempts) a contended transaction is logged.
const warnTxRetries = 10

// ErrTooManyRetries is returned when a transaction kept hitting contention.
var ErrTooManyRetries = errors.New("database transaction retried too many times")

// An Accessor manages a sqlite database handle.
type Accessor struct {
	Handle   *sql.DB
	readOnly bool
	log      logging.Logger
}

// TxFn is the body of an atomic database transaction. It may run more than
// once, so it must not have side effects outside of tx.
type TxFn func(ctx context.Context, tx *sql.Tx) error

// MakeAccessor opens dbfilename. When inMemory is set the database lives
// in a shared-cache memory region named after dbfilename and disappears with
// its last connection.
func MakeAccessor(dbfilename string, readOnly bool, inMemory bool, log logging.Logger) (Accessor, error) {
	if log == nil {
		log = logging.Base()
	}
	db := Accessor{readOnly: readOnly, log: log}

	var err error
	db.Handle, err = sql.Open("sqlite3", URI(dbfilename, readOnly, inMemory)+"&_journal_mode=wal")
	if err != nil {
		return Accessor{}, err
	}
	if inMemory {
		// the memory database only lives as long as some connection is open
		db.Handle.SetConnMaxIdleTime(0)
		db.Handle.SetMaxIdleConns(1)
	}
	if err = db.Handle.Ping(); err != nil {
		db.Handle.Close()
		return Accessor{}, err
	}
	return db, nil
}

// Close closes the connection.
func (db Accessor) Close() {
	if db.Handle != nil {
		db.Handle.Close()
	}
}

// Atomic runs fn inside a serializable transaction, retrying it for as long
// as sqlite reports lock contention.
func (db Accessor) Atomic(ctx context.Context, fnDescription string, fn TxFn) (err error) {
	descr := "w"
	if db.readOnly {
		descr = "r"
	}
	log := db.log.With("description", fnDescription)

	start := time.Now()
	defer func() {
		delta := time.Since(start)
		if delta > time.Second {
			log.Warnf("dbatomic(%v): tx took %v", descr, delta)
		} else if delta > time.Millisecond {
			log.Debugf("dbatomic(%v): tx took %v", descr, delta)
		}
	}()

	// the sql library drops panics inside an active transaction
	guardedFn := func(tx *sql.Tx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				var ok bool
				err, ok = r.(error)
				if !ok {
					err = fmt.Errorf("%v", r)
				}
			}
		}()
		return fn(ctx, tx)
	}

	conn, err := db.Handle.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	for i := 0; ; i++ {
		if i > 0 && i%warnTxRetries == 0 {
			if i >= maxTxRetries {
				log.Errorf("dbatomic(%v): %d retries (last err: %v)", descr, i, err)
				return fmt.Errorf("%w: %v", ErrTooManyRetries, err)
			}
			log.Warnf("dbatomic(%v): %d retries (last err: %v)", descr, i, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		var tx *sql.Tx
		tx, err = conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: db.readOnly})
		if dbretry(err) {
			continue
		} else if err != nil {
			return err
		}

		err = guardedFn(tx)
		if err != nil {
			tx.Rollback()
			if dbretry(err) {
				continue
			}
			return err
		}

		err = tx.Commit()
		if err == nil || !dbretry(err) {
			return err
		}
	}
}

// URI returns the sqlite URI given a db filename as an input.
func URI(filename string, readOnly bool, memory bool) string {
	uri := fmt.Sprintf("file:%s?_busy_timeout=%d&_synchronous=full", filename, busy)
	if !readOnly {
		uri += "&_txlock=immediate"
	}
	if memory {
		uri += "&mode=memory"
		uri += "&cache=shared"
	}
	return uri
}

// dbretry returns true if the error might be temporary
func dbretry(obj error) bool {
	var err sqlite3.Error
	return errors.As(obj, &err) && (err.Code == sqlite3.ErrLocked || err.Code == sqlite3.ErrBusy)
}
