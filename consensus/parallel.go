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
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/algorand/go-microledger/ledger"
	"github.com/algorand/go-microledger/protocol"
)

// CommitInParallel appends the same txns to every ledger of ledgers and
// has every participant do the same, in a single round. out[i] holds the
// transactions as appended to ledgers[i], with the positions that ledger
// assigned.
func (sc *SimpleConsensus) CommitInParallel(ctx context.Context, ledgers []ledger.Ledger, participants []string, txns []ledger.Transaction) (out [][]ledger.Transaction, err error) {
	batch := ledger.MakeBatch(ledgers...)
	r := sc.newRound(opCommitParallel, roleLeader, uuid.NewString(), sc.Me.DID, participants, batch.Names(), sc.leaderTimeToLive())
	defer func() { r.end(err) }()

	out, err = r.parallelLeader(ctx, batch, txns)
	if err != nil {
		return nil, r.fail(err)
	}
	return out, nil
}

func (r *round) parallelLeader(ctx context.Context, batch *ledger.Batch, txns []ledger.Transaction) ([][]ledger.Transaction, error) {
	names := batch.Names()
	if len(names) == 0 {
		return nil, preconditionf("no ledgers")
	}
	if len(txns) == 0 {
		return nil, preconditionf("ledgers %v: %v", names, ledger.ErrNoTransactions)
	}
	if err := r.begin(ctx, names); err != nil {
		return nil, err
	}
	for _, l := range batch.Ledgers() {
		if l.UncommittedSize() != l.Size() {
			return nil, preconditionf("ledger %q has %d uncommitted transactions", l.Name(), l.UncommittedSize()-l.Size())
		}
	}

	now := r.now()
	stamped := ledger.Stamp(ledger.StripPositions(txns), now)
	appended, err := batch.Append(stamped, now)
	if err != nil {
		return nil, preconditionf("%v", err)
	}
	r.onFailure(batch.ResetUncommitted)

	states := MakeLedgerStates(batch)
	hash := states.Hash()
	propose := &ProposeParallel{
		MessageHeader: makeHeader(protocol.ProposeParallelType, r.participants),
		Transactions:  stamped,
		Ledgers:       names,
		States:        states,
		Hash:          hash,
		TimeoutSec:    roundTimeoutSec(r.ttl),
	}
	if err := r.agreeAsLeader(ctx, parallelStages, propose, hash, batch.Commit); err != nil {
		return nil, err
	}
	return appended, nil
}

// AcceptCommitParallel answers a ProposeParallel received from leader on
// threadID. Like CommitInParallel, out is indexed by the proposed ledgers.
func (sc *SimpleConsensus) AcceptCommitParallel(ctx context.Context, leader string, propose *ProposeParallel, threadID string) (out [][]ledger.Transaction, err error) {
	if propose == nil {
		return nil, &RoundError{Kind: KindPrecondition, Err: preconditionf("nil proposal")}
	}
	if threadID == "" {
		threadID = propose.ThreadID()
	}
	r := sc.newRound(opAcceptCommitParallel, roleAcceptor, threadID, leader, propose.Participants, propose.Ledgers, sc.acceptorTimeToLive(propose.TimeoutSec))
	defer func() { r.end(err) }()

	out, err = r.parallelAcceptor(ctx, propose)
	if err != nil {
		return nil, r.fail(err)
	}
	return out, nil
}

func (r *round) parallelAcceptor(ctx context.Context, propose *ProposeParallel) ([][]ledger.Transaction, error) {
	if r.threadID == "" {
		return nil, preconditionf("proposal without thread")
	}
	if err := r.begin(ctx, propose.Ledgers); err != nil {
		return nil, err
	}
	if err := propose.Validate(); err != nil {
		return nil, protocolErrorf(r.notAccepted(), true, "%v", err)
	}
	if propose.States.Hash() != propose.Hash {
		return nil, protocolErrorf(r.notAccepted(), true, "proposed hash does not match proposed states")
	}

	batch, err := ledger.OpenBatch(r.sc.Engine, propose.Ledgers)
	if err != nil {
		return nil, protocolErrorf(r.notAccepted(), true, "%v", err)
	}
	for _, l := range batch.Ledgers() {
		if err := r.dropStale(l); err != nil {
			return nil, err
		}
	}
	appended, err := batch.Append(propose.Transactions, r.now())
	if err != nil {
		if errors.Is(err, ledger.ErrMetadataMismatch) {
			return nil, protocolErrorf(r.notAccepted(), true, "%v", err)
		}
		return nil, err
	}
	r.onFailure(batch.ResetUncommitted)

	hash := MakeLedgerStates(batch).Hash()
	if hash != propose.Hash {
		return nil, protocolErrorf(r.notAccepted(), true, "local states %s differ from proposed %s", hash, propose.Hash)
	}
	if err := r.agreeAsAcceptor(ctx, parallelStages, hash, batch.Commit); err != nil {
		return nil, err
	}
	return appended, nil
}
