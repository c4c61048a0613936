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

	"github.com/algorand/go-microledger/crypto"
	"github.com/algorand/go-microledger/ledger"
	"github.com/algorand/go-microledger/protocol"
)

// stageSet names the message types of the three stages following a
// proposal, for single-ledger or batched rounds.
type stageSet struct {
	preCommit  protocol.MessageType
	commit     protocol.MessageType
	postCommit protocol.MessageType
}

var (
	singleStages = stageSet{
		preCommit:  protocol.PreCommitType,
		commit:     protocol.CommitType,
		postCommit: protocol.PostCommitType,
	}
	parallelStages = stageSet{
		preCommit:  protocol.PreCommitParallelType,
		commit:     protocol.CommitParallelType,
		postCommit: protocol.PostCommitParallelType,
	}
)

type preCommitMessage interface {
	Message
	hashSig() crypto.SignedEnvelope
}

type commitMessage interface {
	Message
	preCommits() map[string]crypto.SignedEnvelope
}

type postCommitMessage interface {
	Message
	commits() []crypto.SignedEnvelope
}

func (m *PreCommit) hashSig() crypto.SignedEnvelope         { return m.HashSig }
func (m *PreCommitParallel) hashSig() crypto.SignedEnvelope { return m.HashSig }

func (m *Commit) preCommits() map[string]crypto.SignedEnvelope         { return m.PreCommits }
func (m *CommitParallel) preCommits() map[string]crypto.SignedEnvelope { return m.PreCommits }

func (m *PostCommit) commits() []crypto.SignedEnvelope         { return m.Commits }
func (m *PostCommitParallel) commits() []crypto.SignedEnvelope { return m.Commits }

func (s stageSet) makePreCommit(env crypto.SignedEnvelope) Message {
	h := makeHeader(s.preCommit, nil)
	if s == parallelStages {
		return &PreCommitParallel{MessageHeader: h, HashSig: env}
	}
	return &PreCommit{MessageHeader: h, HashSig: env}
}

func (s stageSet) makeCommit(participants []string, preCommits map[string]crypto.SignedEnvelope) Message {
	h := makeHeader(s.commit, participants)
	if s == parallelStages {
		return &CommitParallel{MessageHeader: h, PreCommits: preCommits}
	}
	return &Commit{MessageHeader: h, PreCommits: preCommits}
}

func (s stageSet) makePostCommit(commits []crypto.SignedEnvelope) Message {
	h := makeHeader(s.postCommit, nil)
	if s == parallelStages {
		return &PostCommitParallel{MessageHeader: h, Commits: commits}
	}
	return &PostCommit{MessageHeader: h, Commits: commits}
}

// stageReply narrows m to the stage message type want.
func stageReply[T Message](r *round, did string, m Message, want protocol.MessageType) (T, error) {
	var zero T
	if m.Header().Type != want {
		return zero, protocolErrorf(r.notAccepted(), true, "%s replied %s, expected %s: %v", did, m.Header().Type.Name(), want.Name(), ErrUnexpectedMessage)
	}
	return expect[T](r, did, m)
}

// Commit appends txns to l and has every participant append and commit
// them too. Either all participants commit or every ledger, the local one
// included, is left as it was.
func (sc *SimpleConsensus) Commit(ctx context.Context, l ledger.Ledger, participants []string, txns []ledger.Transaction) (out []ledger.Transaction, err error) {
	var names []string
	if l != nil {
		names = []string{l.Name()}
	}
	r := sc.newRound(opCommit, roleLeader, uuid.NewString(), sc.Me.DID, participants, names, sc.leaderTimeToLive())
	defer func() { r.end(err) }()

	out, err = r.commitLeader(ctx, l, txns)
	if err != nil {
		return nil, r.fail(err)
	}
	return out, nil
}

func (r *round) commitLeader(ctx context.Context, l ledger.Ledger, txns []ledger.Transaction) ([]ledger.Transaction, error) {
	if l == nil {
		return nil, preconditionf("nil ledger")
	}
	if len(txns) == 0 {
		return nil, preconditionf("ledger %q: %v", l.Name(), ledger.ErrNoTransactions)
	}
	if err := r.begin(ctx, []string{l.Name()}); err != nil {
		return nil, err
	}
	if l.UncommittedSize() != l.Size() {
		return nil, preconditionf("ledger %q has %d uncommitted transactions", l.Name(), l.UncommittedSize()-l.Size())
	}

	_, _, appended, err := l.Append(txns, r.now())
	if err != nil {
		return nil, preconditionf("ledger %q: %v", l.Name(), err)
	}
	r.onFailure(l.ResetUncommitted)

	state := MakeLedgerState(l)
	hash := state.Hash()
	propose := &Propose{
		MessageHeader: makeHeader(protocol.ProposeType, r.participants),
		Transactions:  appended,
		State:         state,
		Hash:          hash,
		TimeoutSec:    roundTimeoutSec(r.ttl),
	}
	finalize := func() error { return l.Commit(uint64(len(appended))) }
	if err := r.agreeAsLeader(ctx, singleStages, propose, hash, finalize); err != nil {
		return nil, err
	}
	return appended, nil
}

// agreeAsLeader sends propose, collects pre-commits over hash, aggregates
// them into a commit and collects the post-commits. finalize runs once
// every participant countersigned; the consolidated post-commit follows.
func (r *round) agreeAsLeader(ctx context.Context, stages stageSet, propose Message, hash string, finalize func() error) error {
	replies, err := r.switchAll(ctx, propose)
	if err != nil {
		return err
	}

	mine, err := r.sign([]byte(hash))
	if err != nil {
		return err
	}
	preCommits := map[string]crypto.SignedEnvelope{r.sc.Me.DID: mine}
	for did, msg := range replies {
		pc, err := stageReply[preCommitMessage](r, did, msg, stages.preCommit)
		if err != nil {
			return err
		}
		if err := r.verifySigned(did, pc.hashSig(), []byte(hash), "pre-commit"); err != nil {
			return err
		}
		preCommits[did] = pc.hashSig()
	}

	digest := commitDigest{StateHash: hash, PreCommits: preCommits}.payload()
	replies, err = r.switchAll(ctx, stages.makeCommit(r.participants, preCommits))
	if err != nil {
		return err
	}

	myCommit, err := r.sign(digest)
	if err != nil {
		return err
	}
	countersigned := map[string]crypto.SignedEnvelope{r.sc.Me.DID: myCommit}
	for did, msg := range replies {
		post, err := stageReply[postCommitMessage](r, did, msg, stages.postCommit)
		if err != nil {
			return err
		}
		if len(post.commits()) != 1 {
			return protocolErrorf(r.notAccepted(), true, "%s sent %d post-commit signatures", did, len(post.commits()))
		}
		if err := r.verifySigned(did, post.commits()[0], digest, "post-commit"); err != nil {
			return err
		}
		countersigned[did] = post.commits()[0]
	}
	all := make([]crypto.SignedEnvelope, 0, len(r.participants))
	for _, did := range r.participants {
		if env, ok := countersigned[did]; ok {
			all = append(all, env)
		}
	}
	if err := r.verifyAll(all, digest, "post-commit signatures"); err != nil {
		return err
	}

	if err := finalize(); err != nil {
		return err
	}
	r.succeed()

	if err := r.send(ctx, stages.makePostCommit(all)); err != nil {
		r.log.Warnf("consolidated post-commit not delivered to every participant: %v", err)
	}
	return nil
}

// AcceptCommit answers a Propose received from leader on threadID.
func (sc *SimpleConsensus) AcceptCommit(ctx context.Context, leader string, propose *Propose, threadID string) (out []ledger.Transaction, err error) {
	if propose == nil {
		return nil, &RoundError{Kind: KindPrecondition, Err: preconditionf("nil proposal")}
	}
	if threadID == "" {
		threadID = propose.ThreadID()
	}
	r := sc.newRound(opAcceptCommit, roleAcceptor, threadID, leader, propose.Participants, []string{propose.State.Name}, sc.acceptorTimeToLive(propose.TimeoutSec))
	defer func() { r.end(err) }()

	out, err = r.commitAcceptor(ctx, propose)
	if err != nil {
		return nil, r.fail(err)
	}
	return out, nil
}

func (r *round) commitAcceptor(ctx context.Context, propose *Propose) ([]ledger.Transaction, error) {
	if r.threadID == "" {
		return nil, preconditionf("proposal without thread")
	}
	if err := r.begin(ctx, []string{propose.State.Name}); err != nil {
		return nil, err
	}
	if err := propose.Validate(); err != nil {
		return nil, protocolErrorf(r.notAccepted(), true, "%v", err)
	}
	if propose.State.Hash() != propose.Hash {
		return nil, protocolErrorf(r.notAccepted(), true, "proposed hash does not match proposed state")
	}

	l, err := r.sc.Engine.Open(propose.State.Name)
	if err != nil {
		return nil, protocolErrorf(r.notAccepted(), true, "ledger %q: %v", propose.State.Name, err)
	}
	if err := r.dropStale(l); err != nil {
		return nil, err
	}
	_, _, appended, err := l.Append(propose.Transactions, r.now())
	if err != nil {
		if errors.Is(err, ledger.ErrMetadataMismatch) {
			return nil, protocolErrorf(r.notAccepted(), true, "ledger %q: %v", l.Name(), err)
		}
		return nil, err
	}
	r.onFailure(l.ResetUncommitted)

	hash := MakeLedgerState(l).Hash()
	if hash != propose.Hash {
		return nil, protocolErrorf(r.notAccepted(), true, "ledger %q: local state %s differs from proposed %s", l.Name(), hash, propose.Hash)
	}
	finalize := func() error { return l.Commit(uint64(len(appended))) }
	if err := r.agreeAsAcceptor(ctx, singleStages, hash, finalize); err != nil {
		return nil, err
	}
	return appended, nil
}

// dropStale discards uncommitted transactions a crashed or abandoned
// round left behind. The round holds the ledger lock, so nothing else owns them.
func (r *round) dropStale(l ledger.Ledger) error {
	if stale := l.UncommittedSize() - l.Size(); stale > 0 {
		r.log.Warnf("ledger %q: discarding %d stale uncommitted transactions", l.Name(), stale)
		return l.ResetUncommitted()
	}
	return nil
}

// agreeAsAcceptor signs hash, checks the leader's aggregate of pre-commits,
// countersigns it and commits once the leader's consolidated post-commit
// verifies.
func (r *round) agreeAsAcceptor(ctx context.Context, stages stageSet, hash string, finalize func() error) error {
	mine, err := r.sign([]byte(hash))
	if err != nil {
		return err
	}
	reply, err := r.switchLeader(ctx, stages.makePreCommit(mine))
	if err != nil {
		return err
	}
	commit, err := stageReply[commitMessage](r, r.leader, reply, stages.commit)
	if err != nil {
		return err
	}
	if !sameParticipants(commit.Header().Participants, r.participants) {
		return protocolErrorf(r.notAccepted(), true, "commit participants %v, proposed %v", commit.Header().Participants, r.participants)
	}
	preCommits := commit.preCommits()
	envs := make([]crypto.SignedEnvelope, 0, len(preCommits))
	for did, env := range preCommits {
		if r.dids[env.Signer] != did {
			return protocolErrorf(r.notAccepted(), true, "pre-commit listed for %s is not signed by its verkey", did)
		}
		envs = append(envs, env)
	}
	if err := r.verifyAll(envs, []byte(hash), "pre-commits"); err != nil {
		return err
	}

	digest := commitDigest{StateHash: hash, PreCommits: preCommits}.payload()
	myCommit, err := r.sign(digest)
	if err != nil {
		return err
	}
	reply, err = r.switchLeader(ctx, stages.makePostCommit([]crypto.SignedEnvelope{myCommit}))
	if err != nil {
		return err
	}
	post, err := stageReply[postCommitMessage](r, r.leader, reply, stages.postCommit)
	if err != nil {
		return err
	}
	if err := r.verifyAll(post.commits(), digest, "post-commit signatures"); err != nil {
		return err
	}

	if err := finalize(); err != nil {
		return err
	}
	r.succeed()
	return nil
}
