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
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/algorand/go-deadlock"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/algorand/go-microledger/config"
	"github.com/algorand/go-microledger/coprotocol"
	"github.com/algorand/go-microledger/crypto"
	"github.com/algorand/go-microledger/ledger"
	"github.com/algorand/go-microledger/locking"
	"github.com/algorand/go-microledger/logging"
	"github.com/algorand/go-microledger/protocol"
	"github.com/algorand/go-microledger/util/timers"
)

// ErrPrecondition is wrapped by failures caught before a round talks to
// any peer. They are never reported over the network.
var ErrPrecondition = errors.New("consensus precondition failed")

func preconditionf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}

const (
	defaultTimeToLive = 60 * time.Second
	notifyTimeout     = 5 * time.Second
)

// Parameters holds what a SimpleConsensus needs to run rounds.
type Parameters struct {
	// Me is the identity this agent signs and locks with.
	Me coprotocol.Identity

	Resolver coprotocol.Resolver
	Network  coprotocol.Network
	Signer   crypto.SigningService
	Engine   ledger.Engine

	// Locks serializes rounds touching the same ledgers. Agents hosting
	// several machines over one Engine must share it.
	Locks *locking.Manager

	Config     config.Local
	Logger     logging.Logger
	Registerer prometheus.Registerer
	Clock      timers.Clock
}

// parameters is a convenience typedef for Parameters.
type parameters Parameters

// SimpleConsensus drives microledger creation and transaction commitment
// rounds, as leader or as acceptor. Rounds may run concurrently; the lock
// manager serializes the ones sharing a ledger.
type SimpleConsensus struct {
	parameters

	metrics *roundMetrics

	mu          deadlock.Mutex
	lastProblem *ProblemReport
}

// MakeSimpleConsensus checks p and builds a machine.
func MakeSimpleConsensus(p Parameters) (*SimpleConsensus, error) {
	switch {
	case p.Me.DID == "" || p.Me.Verkey.IsZero():
		return nil, errors.New("consensus: identity is required")
	case p.Resolver == nil:
		return nil, errors.New("consensus: resolver is required")
	case p.Network == nil:
		return nil, errors.New("consensus: network is required")
	case p.Signer == nil:
		return nil, errors.New("consensus: signing service is required")
	case p.Engine == nil:
		return nil, errors.New("consensus: ledger engine is required")
	}
	if p.Clock == nil {
		p.Clock = timers.MakeMonotonicClock()
	}
	if p.Locks == nil {
		p.Locks = locking.MakeManager(p.Clock)
	}
	if p.Logger == nil {
		p.Logger = logging.Base()
	}

	metrics, err := makeRoundMetrics(p.Registerer)
	if err != nil {
		return nil, fmt.Errorf("consensus: metrics: %w", err)
	}
	return &SimpleConsensus{
		parameters: parameters(p),
		metrics:    metrics,
	}, nil
}

// LastProblemReport returns the report of the most recent failed round, or
// of the most recent report a peer sent outside of any round.
func (sc *SimpleConsensus) LastProblemReport() *ProblemReport {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.lastProblem
}

func (sc *SimpleConsensus) recordProblem(p *ProblemReport) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.lastProblem = p
}

func (sc *SimpleConsensus) leaderTimeToLive() time.Duration {
	if ttl := sc.Config.ConsensusTimeToLive(); ttl > 0 {
		return ttl
	}
	return defaultTimeToLive
}

// acceptorTimeToLive honors the leader's timeout when it is shorter than ours.
func (sc *SimpleConsensus) acceptorTimeToLive(timeoutSec uint32) time.Duration {
	ttl := sc.leaderTimeToLive()
	if asked := time.Duration(timeoutSec) * time.Second; asked > 0 && asked < ttl {
		ttl = asked
	}
	return ttl
}

func (sc *SimpleConsensus) lockTimeToLive(roundTTL time.Duration) time.Duration {
	ttl := sc.Config.LockTimeToLive()
	// a lock must outlive the exchanges it protects
	if floor := 4 * roundTTL; ttl < floor {
		ttl = floor
	}
	return ttl
}

type role string

const (
	roleLeader   role = "leader"
	roleAcceptor role = "acceptor"
)

// round is the state of one consensus exchange.
type round struct {
	sc       *SimpleConsensus
	op       string
	role     role
	threadID string
	leader   string

	participants []string
	peers        map[string]coprotocol.Pairwise
	verkeys      map[string]crypto.PublicKey
	dids         map[crypto.PublicKey]string

	ch    coprotocol.Channel
	owner string
	ttl   time.Duration
	start time.Time

	log       logging.Logger
	rollbacks []func() error
}

func (sc *SimpleConsensus) newRound(op string, r role, threadID, leader string, participants []string, ledgers []string, ttl time.Duration) *round {
	return &round{
		sc:           sc,
		op:           op,
		role:         r,
		threadID:     threadID,
		leader:       leader,
		participants: append([]string(nil), participants...),
		ttl:          ttl,
		start:        time.Now(),
		log: sc.Logger.WithFields(logging.Fields{
			"ledger": fmt.Sprint(ledgers),
			"thread": threadID,
			"role":   string(r),
		}),
	}
}

// begin resolves every participant, locks ledgers and opens the channel.
func (r *round) begin(ctx context.Context, ledgers []string) error {
	me := r.sc.Me
	if len(r.participants) < 2 {
		return preconditionf("a round needs at least two participants, got %v", r.participants)
	}
	if mapset.NewThreadUnsafeSet(r.participants...).Cardinality() != len(r.participants) {
		return preconditionf("duplicate participants in %v", r.participants)
	}
	if !containsString(r.participants, me.DID) {
		return preconditionf("%s is not a participant", me.DID)
	}
	if !containsString(r.participants, r.leader) {
		return preconditionf("leader %s is not a participant", r.leader)
	}

	r.peers = make(map[string]coprotocol.Pairwise, len(r.participants)-1)
	r.verkeys = map[string]crypto.PublicKey{me.DID: me.Verkey}
	r.dids = map[crypto.PublicKey]string{me.Verkey: me.DID}
	for _, did := range r.participants {
		if did == me.DID {
			continue
		}
		pw, err := r.sc.Resolver.Resolve(did)
		if err != nil {
			return preconditionf("participant %s: %v", did, err)
		}
		if _, dup := r.dids[pw.Their.Verkey]; dup {
			return preconditionf("participant %s shares verkey %v", did, pw.Their.Verkey)
		}
		r.peers[did] = pw
		r.verkeys[did] = pw.Their.Verkey
		r.dids[pw.Their.Verkey] = did
	}

	r.owner = me.Verkey.String() + "/" + r.threadID
	if err := r.lock(ctx, ledgers); err != nil {
		return err
	}

	var targets []coprotocol.Pairwise
	if r.role == roleLeader {
		for _, did := range r.participants {
			if did != me.DID {
				targets = append(targets, r.peers[did])
			}
		}
	} else {
		targets = []coprotocol.Pairwise{r.peers[r.leader]}
	}
	ch, err := r.sc.Network.Open(r.threadID, targets, r.ttl)
	if err != nil {
		return preconditionf("open channel: %v", err)
	}
	r.ch = ch
	r.log.Debugf("round started with %v", r.participants)
	return nil
}

func (r *round) lock(ctx context.Context, ledgers []string) error {
	ttl := r.sc.lockTimeToLive(r.ttl)
	wait := r.sc.Config.LockWait()
	if wait <= 0 {
		if ok, busy := r.sc.Locks.Acquire(r.owner, ledgers, ttl); !ok {
			return preconditionf("ledgers %v are busy: %v", busy, locking.ErrBusy)
		}
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if _, err := r.sc.Locks.AcquireWait(wctx, r.owner, ledgers, ttl); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return preconditionf("%v", err)
	}
	return nil
}

// end tears the round down on every exit path.
func (r *round) end(err error) {
	if r.ch != nil {
		r.ch.Close()
	}
	if r.owner != "" {
		r.sc.Locks.Release(r.owner)
	}
	r.sc.metrics.observe(r.op, r.start, err)
	if err == nil {
		r.log.Infof("%s round finished in %v", r.op, time.Since(r.start))
	}
}

func (r *round) onFailure(undo func() error) {
	r.rollbacks = append(r.rollbacks, undo)
}

// succeed forgets the rollbacks once local mutations are final.
func (r *round) succeed() {
	r.rollbacks = nil
}

func (r *round) notAccepted() string {
	if r.role == roleLeader {
		return ProblemResponseNotAccepted
	}
	return ProblemRequestNotAccepted
}

func (r *round) processingError() string {
	if r.role == roleLeader {
		return ProblemResponseProcessingError
	}
	return ProblemRequestProcessingError
}

func (r *round) classify(err error) (Kind, *ProtocolError) {
	var pe *ProtocolError
	switch {
	case errors.Is(err, ErrPrecondition):
		return KindPrecondition, &ProtocolError{Code: r.processingError(), Explain: err.Error()}
	case errors.As(err, &pe):
		switch pe.Code {
		case ProblemUnreachable:
			return KindTimeout, pe
		case ProblemAborted:
			return KindAborted, pe
		}
		return KindProtocol, pe
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindAborted, &ProtocolError{Code: ProblemAborted, Explain: err.Error(), Notify: r.ch != nil}
	default:
		return KindProtocol, &ProtocolError{Code: r.processingError(), Explain: err.Error(), Notify: r.ch != nil}
	}
}

// fail rolls back, reports and converts err into a *RoundError. It is the
// one place a round decides what to undo and whom to tell.
func (r *round) fail(err error) error {
	kind, pe := r.classify(err)

	for i := len(r.rollbacks) - 1; i >= 0; i-- {
		if rerr := r.rollbacks[i](); rerr != nil {
			r.log.Errorf("rollback failed: %v", rerr)
		}
	}
	r.rollbacks = nil

	problem := &ProblemReport{
		MessageHeader: makeHeader(protocol.ProblemReportType, nil),
		ProblemCode:   pe.Code,
		Explain:       pe.Explain,
		Notify:        pe.Notify,
	}
	problem.SetThreadID(r.threadID)

	if pe.Notify && r.sc.Config.NotifyPeersOnFailure && r.ch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		if serr := r.ch.Send(ctx, EncodeMessage(problem)); serr != nil {
			r.log.Infof("problem report not delivered: %v", serr)
		} else {
			r.sc.metrics.problemReports.Inc()
		}
		cancel()
	}
	r.sc.recordProblem(problem)
	r.log.Warnf("%s round failed (%v): %s: %s", r.op, kind, pe.Code, pe.Explain)
	return &RoundError{Kind: kind, Problem: problem, Err: err}
}

func (r *round) stage(name string) {
	r.log.With("stage", name).Debugf("%s", name)
}

// switchAll sends m to every channel peer and returns their validated
// replies by DID.
func (r *round) switchAll(ctx context.Context, m Message) (map[string]Message, error) {
	r.stage(m.Header().Type.Name())
	m.Header().SetThreadID(r.threadID)
	replies := r.ch.Switch(ctx, EncodeMessage(m))

	dids := make([]string, 0, len(replies))
	for did := range replies {
		dids = append(dids, did)
	}
	sort.Strings(dids)

	out := make(map[string]Message, len(replies))
	for _, did := range dids {
		msg, err := r.interpret(ctx, did, replies[did])
		if err != nil {
			return nil, err
		}
		out[did] = msg
	}
	return out, nil
}

// switchLeader is switchAll for acceptors, whose only peer is the leader.
func (r *round) switchLeader(ctx context.Context, m Message) (Message, error) {
	replies, err := r.switchAll(ctx, m)
	if err != nil {
		return nil, err
	}
	reply, ok := replies[r.leader]
	if !ok {
		return nil, protocolErrorf(ProblemUnreachable, true, "no reply from leader %s", r.leader)
	}
	return reply, nil
}

func (r *round) send(ctx context.Context, m Message) error {
	r.stage(m.Header().Type.Name())
	m.Header().SetThreadID(r.threadID)
	return r.ch.Send(ctx, EncodeMessage(m))
}

func (r *round) interpret(ctx context.Context, did string, reply coprotocol.Reply) (Message, error) {
	if reply.Err != nil {
		if ctx.Err() != nil {
			return nil, protocolErrorf(ProblemAborted, true, "round canceled: %v", ctx.Err())
		}
		return nil, protocolErrorf(ProblemUnreachable, true, "%s: %v", did, reply.Err)
	}
	msg, err := DecodeMessage(reply.Payload)
	if err != nil {
		return nil, protocolErrorf(r.processingError(), true, "reply from %s: %v", did, err)
	}
	if pr, ok := msg.(*ProblemReport); ok {
		// an acceptor's only peer is the leader that sent the report
		return nil, protocolErrorf(pr.ProblemCode, r.role == roleLeader, "%s reported: %s", did, pr.Explain)
	}
	if thid := msg.Header().ThreadID(); thid != r.threadID {
		return nil, protocolErrorf(r.notAccepted(), true, "reply from %s is on thread %q", did, thid)
	}
	if err := msg.Validate(); err != nil {
		return nil, protocolErrorf(r.notAccepted(), true, "reply from %s: %v", did, err)
	}
	return msg, nil
}

// expect narrows a validated reply to the message type a stage accepts.
func expect[T Message](r *round, did string, m Message) (T, error) {
	t, ok := m.(T)
	if !ok {
		var zero T
		return zero, protocolErrorf(r.notAccepted(), true, "%s replied %s: %v", did, m.Header().Type.Name(), ErrUnexpectedMessage)
	}
	return t, nil
}

// verifySigned checks that env was signed by did and covers expected.
// A valid signature over other content is refused.
func (r *round) verifySigned(did string, env crypto.SignedEnvelope, expected []byte, what string) error {
	vk, ok := r.verkeys[did]
	if !ok {
		return protocolErrorf(r.notAccepted(), true, "%s from %s: not a participant", what, did)
	}
	payload, ok := r.sc.Signer.Verify(env, vk)
	if !ok {
		return protocolErrorf(r.notAccepted(), true, "%s from %s: signature does not verify", what, did)
	}
	if !bytes.Equal(payload, expected) {
		return protocolErrorf(r.notAccepted(), true, "%s from %s: non-consistent signed content", what, did)
	}
	return nil
}

// verifyAll checks an aggregate: its signers must be exactly the
// participants, every signature must verify and cover expected.
func (r *round) verifyAll(envs []crypto.SignedEnvelope, expected []byte, what string) error {
	signers := mapset.NewThreadUnsafeSet[string]()
	for _, env := range envs {
		did, ok := r.dids[env.Signer]
		if !ok {
			return protocolErrorf(r.notAccepted(), true, "%s: signer %v is not a participant", what, env.Signer)
		}
		if !signers.Add(did) {
			return protocolErrorf(r.notAccepted(), true, "%s: %s signed twice", what, did)
		}
	}
	if !signers.Equal(mapset.NewThreadUnsafeSet(r.participants...)) {
		return protocolErrorf(r.notAccepted(), true, "%s: signers %v do not match participants %v", what, signers.ToSlice(), r.participants)
	}

	bv := crypto.MakeBatchVerifier(len(envs))
	for _, env := range envs {
		bv.EnqueueEnvelope(env)
	}
	if failed, err := bv.VerifyWithFeedback(); err != nil {
		var bad []string
		for i, f := range failed {
			if f {
				bad = append(bad, r.dids[envs[i].Signer])
			}
		}
		return protocolErrorf(r.notAccepted(), true, "%s: signatures of %v do not verify", what, bad)
	}
	for _, env := range envs {
		if !bytes.Equal(env.Payload, expected) {
			return protocolErrorf(r.notAccepted(), true, "%s: %s signed non-consistent content", what, r.dids[env.Signer])
		}
	}
	return nil
}

// sameParticipants compares participant lists as sets.
func sameParticipants(a, b []string) bool {
	return len(a) == len(b) && mapset.NewThreadUnsafeSet(a...).Equal(mapset.NewThreadUnsafeSet(b...))
}

func (r *round) sign(payload []byte) (crypto.SignedEnvelope, error) {
	env, err := r.sc.Signer.Sign(payload, r.sc.Me.Verkey)
	if err != nil {
		return crypto.SignedEnvelope{}, fmt.Errorf("sign: %w", err)
	}
	return env, nil
}

func (r *round) now() time.Time {
	return r.sc.Clock.Now().UTC()
}

// commitDigest is what participants countersign in the post-commit stage:
// the state they agreed on and the pre-commits proving it.
type commitDigest struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	StateHash  string                           `codec:"state_hash"`
	PreCommits map[string]crypto.SignedEnvelope `codec:"pre_commits"`
}

// ToBeHashed implements crypto.Hashable.
func (d commitDigest) ToBeHashed() (protocol.HashID, []byte) {
	return protocol.CommitDigest, protocol.Encode(d)
}

func (d commitDigest) payload() []byte {
	return []byte(crypto.HashObj(d).String())
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func roundTimeoutSec(ttl time.Duration) uint32 {
	sec := ttl / time.Second
	if sec < 1 {
		sec = 1
	}
	return uint32(sec)
}
