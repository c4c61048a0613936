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

	"github.com/algorand/go-microledger/crypto"
	"github.com/algorand/go-microledger/protocol"
)

// ErrNoBody is returned for a transaction that carries no application record.
var ErrNoBody = errors.New("transaction has no body")

// TxnMetadata is what a microledger stamps on a transaction when it is
// appended.
type TxnMetadata struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	// SeqNo is the 1-based position of the transaction in its ledger. Zero
	// means the position is not assigned yet.
	SeqNo uint64 `codec:"seqNo"`

	// Time is the append time in unix seconds.
	Time int64 `codec:"time"`
}

// Timestamp returns the append time.
func (m TxnMetadata) Timestamp() time.Time {
	return time.Unix(m.Time, 0).UTC()
}

// Transaction is an application-defined record together with the metadata
// the ledger assigned to it.
type Transaction struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	// Body is the canonical msgpack encoding of the application record.
	Body     []byte       `codec:"body"`
	Metadata *TxnMetadata `codec:"metadata"`
}

// MakeTransaction encodes an application record into a transaction without
// metadata.
func MakeTransaction(fields map[string]interface{}) Transaction {
	return Transaction{Body: protocol.Encode(fields)}
}

// Fields decodes the application record.
func (txn Transaction) Fields() (map[string]interface{}, error) {
	if len(txn.Body) == 0 {
		return nil, ErrNoBody
	}
	fields := make(map[string]interface{})
	if err := protocol.DecodeRecord(txn.Body, &fields); err != nil {
		return nil, fmt.Errorf("transaction body: %w", err)
	}
	return fields, nil
}

// HasMetadata reports whether the transaction has a fully assigned position
// and time.
func (txn Transaction) HasMetadata() bool {
	return txn.Metadata != nil && txn.Metadata.SeqNo > 0 && txn.Metadata.Time != 0
}

// HasTime reports whether an append time is attached, even if the position
// is still open.
func (txn Transaction) HasTime() bool {
	return txn.Metadata != nil && txn.Metadata.Time != 0
}

// WithMetadata returns a copy of txn carrying md.
func (txn Transaction) WithMetadata(md TxnMetadata) Transaction {
	out := Transaction{Body: txn.Body}
	out.Metadata = &md
	return out
}

// ToBeHashed implements crypto.Hashable.
func (txn Transaction) ToBeHashed() (protocol.HashID, []byte) {
	return protocol.Transaction, protocol.Encode(txn)
}

// Hash covers both the record and its metadata.
func (txn Transaction) Hash() crypto.Digest {
	return crypto.HashObj(txn)
}

// Stamp attaches txnTime to every transaction that has no time yet, leaving
// positions open. Batched appends use it so that the same stamped
// transactions land in ledgers of different sizes.
func Stamp(txns []Transaction, txnTime time.Time) []Transaction {
	out := make([]Transaction, len(txns))
	for i, txn := range txns {
		if txn.HasTime() {
			out[i] = txn.WithMetadata(*txn.Metadata)
			continue
		}
		out[i] = txn.WithMetadata(TxnMetadata{Time: txnTime.Unix()})
	}
	return out
}

// StripPositions returns copies of txns with positions cleared and times
// kept.
func StripPositions(txns []Transaction) []Transaction {
	out := make([]Transaction, len(txns))
	for i, txn := range txns {
		out[i] = txn
		if txn.Metadata != nil {
			out[i] = txn.WithMetadata(TxnMetadata{Time: txn.Metadata.Time})
		}
	}
	return out
}

// AssignMetadata decides the metadata of txns appended right after
// position last. A transaction that already names its position must name
// exactly the one it lands on; one without a time gets txnTime.
func AssignMetadata(txns []Transaction, last uint64, txnTime time.Time) ([]Transaction, error) {
	if len(txns) == 0 {
		return nil, ErrNoTransactions
	}
	out := make([]Transaction, len(txns))
	for i, txn := range txns {
		if len(txn.Body) == 0 {
			return nil, fmt.Errorf("transaction %d: %w", i, ErrNoBody)
		}
		pos := last + uint64(i) + 1
		md := TxnMetadata{SeqNo: pos, Time: txnTime.Unix()}
		if txn.Metadata != nil {
			if txn.Metadata.SeqNo != 0 && txn.Metadata.SeqNo != pos {
				return nil, fmt.Errorf("%w: transaction %d claims seqNo %d, lands on %d", ErrMetadataMismatch, i, txn.Metadata.SeqNo, pos)
			}
			if txn.Metadata.Time != 0 {
				md.Time = txn.Metadata.Time
			}
		}
		out[i] = txn.WithMetadata(md)
	}
	return out, nil
}
