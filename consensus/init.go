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

// InitMicroledger creates the ledger name with genesis locally and has
// every participant create an identical copy. On failure the local ledger
// is removed again.
func (sc *SimpleConsensus) InitMicroledger(ctx context.Context, name string, participants []string, genesis []ledger.Transaction) (l ledger.Ledger, txns []ledger.Transaction, err error) {
	r := sc.newRound(opInit, roleLeader, uuid.NewString(), sc.Me.DID, participants, []string{name}, sc.leaderTimeToLive())
	defer func() { r.end(err) }()

	l, txns, err = r.initLeader(ctx, name, genesis)
	if err != nil {
		return nil, nil, r.fail(err)
	}
	return l, txns, nil
}

func (r *round) initLeader(ctx context.Context, name string, genesis []ledger.Transaction) (ledger.Ledger, []ledger.Transaction, error) {
	if name == "" {
		return nil, nil, preconditionf("empty ledger name")
	}
	if len(genesis) == 0 {
		return nil, nil, preconditionf("ledger %q: empty genesis", name)
	}
	if err := r.begin(ctx, []string{name}); err != nil {
		return nil, nil, err
	}

	exists, err := r.sc.Engine.Exists(name)
	if err != nil {
		return nil, nil, preconditionf("ledger %q: %v", name, err)
	}
	if exists {
		return nil, nil, preconditionf("ledger %q: %v", name, ledger.ErrLedgerExists)
	}
	l, txns, err := r.sc.Engine.Create(name, genesis, r.now())
	if err != nil {
		return nil, nil, preconditionf("ledger %q: %v", name, err)
	}
	r.onFailure(func() error { return r.sc.Engine.Reset(name) })

	desc := LedgerDescriptor{Name: name, RootHash: l.RootHash().String(), Genesis: txns}
	lh := MakeLedgerHash(desc)
	payload := lh.signedPayload()
	mine, err := r.sign(payload)
	if err != nil {
		return nil, nil, err
	}

	req := &InitRequest{
		MessageHeader: makeHeader(protocol.InitRequestType, r.participants),
		InitBody: InitBody{
			Ledger:     desc,
			LedgerHash: lh,
			Signatures: []Attestation{{Participant: r.sc.Me.DID, Signature: mine}},
			TimeoutSec: roundTimeoutSec(r.ttl),
		},
	}
	replies, err := r.switchAll(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	attestations := map[string]Attestation{r.sc.Me.DID: req.Signatures[0]}
	for did, msg := range replies {
		resp, err := expect[*InitResponse](r, did, msg)
		if err != nil {
			return nil, nil, err
		}
		if resp.LedgerHash != lh {
			return nil, nil, protocolErrorf(r.notAccepted(), true, "%s answered for ledger hash %s, expected %s", did, resp.LedgerHash.Base58, lh.Base58)
		}
		att, ok := findAttestation(resp.Signatures, did)
		if !ok {
			return nil, nil, protocolErrorf(r.notAccepted(), true, "%s did not sign the ledger hash", did)
		}
		if err := r.verifySigned(did, att.Signature, payload, "ledger hash signature"); err != nil {
			return nil, nil, err
		}
		attestations[did] = att
	}

	all := make([]Attestation, 0, len(r.participants))
	for _, did := range r.participants {
		if att, ok := attestations[did]; ok {
			all = append(all, att)
		}
	}
	if err := r.verifyAttestations(all, payload); err != nil {
		return nil, nil, err
	}

	ini := &Initialize{
		MessageHeader: makeHeader(protocol.InitializeType, r.participants),
		InitBody: InitBody{
			Ledger:     desc,
			LedgerHash: lh,
			Signatures: all,
			TimeoutSec: req.TimeoutSec,
		},
	}
	replies, err = r.switchAll(ctx, ini)
	if err != nil {
		return nil, nil, err
	}
	for did, msg := range replies {
		ack, err := expect[*Ack](r, did, msg)
		if err != nil {
			return nil, nil, err
		}
		if ack.Status != AckOK {
			return nil, nil, protocolErrorf(r.notAccepted(), true, "%s acknowledged with %s", did, ack.Status)
		}
	}

	r.succeed()
	return l, txns, nil
}

// AcceptMicroledger answers an InitRequest received from leader on
// threadID by creating the proposed ledger locally. The ledger is removed
// again if the round fails before the leader's aggregate is verified.
func (sc *SimpleConsensus) AcceptMicroledger(ctx context.Context, leader string, req *InitRequest, threadID string) (l ledger.Ledger, txns []ledger.Transaction, err error) {
	if req == nil {
		return nil, nil, &RoundError{Kind: KindPrecondition, Err: preconditionf("nil initialize request")}
	}
	if threadID == "" {
		threadID = req.ThreadID()
	}
	r := sc.newRound(opAcceptInit, roleAcceptor, threadID, leader, req.Participants, []string{req.Ledger.Name}, sc.acceptorTimeToLive(req.TimeoutSec))
	defer func() { r.end(err) }()

	l, txns, err = r.initAcceptor(ctx, req)
	if err != nil {
		return nil, nil, r.fail(err)
	}
	return l, txns, nil
}

func (r *round) initAcceptor(ctx context.Context, req *InitRequest) (ledger.Ledger, []ledger.Transaction, error) {
	if r.threadID == "" {
		return nil, nil, preconditionf("initialize request without thread")
	}
	if err := r.begin(ctx, []string{req.Ledger.Name}); err != nil {
		return nil, nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, nil, protocolErrorf(r.notAccepted(), true, "%v", err)
	}

	lh := req.LedgerHash
	if lh.Func != crypto.HashFunc {
		return nil, nil, protocolErrorf(r.notAccepted(), true, "unsupported hash function %q", lh.Func)
	}
	if MakeLedgerHash(req.Ledger) != lh {
		return nil, nil, protocolErrorf(r.notAccepted(), true, "ledger hash does not match the ledger descriptor")
	}
	payload := lh.signedPayload()

	// the request carries the signatures collected so far, the leader's at least
	seen := make(map[string]bool, len(req.Signatures))
	for _, att := range req.Signatures {
		if seen[att.Participant] {
			return nil, nil, protocolErrorf(r.notAccepted(), true, "%s signed twice", att.Participant)
		}
		seen[att.Participant] = true
		if err := r.verifySigned(att.Participant, att.Signature, payload, "ledger hash signature"); err != nil {
			return nil, nil, err
		}
	}
	if !seen[r.leader] {
		return nil, nil, protocolErrorf(r.notAccepted(), true, "leader %s did not sign the ledger hash", r.leader)
	}

	name := req.Ledger.Name
	exists, err := r.sc.Engine.Exists(name)
	if err != nil {
		return nil, nil, err
	}
	if exists {
		return nil, nil, protocolErrorf(r.notAccepted(), true, "ledger %q: %v", name, ledger.ErrLedgerExists)
	}
	l, txns, err := r.sc.Engine.Create(name, req.Ledger.Genesis, r.now())
	if err != nil {
		if errors.Is(err, ledger.ErrMetadataMismatch) {
			return nil, nil, protocolErrorf(r.notAccepted(), true, "genesis: %v", err)
		}
		return nil, nil, err
	}
	r.onFailure(func() error { return r.sc.Engine.Reset(name) })

	if root := l.RootHash().String(); root != req.Ledger.RootHash {
		return nil, nil, protocolErrorf(r.notAccepted(), true, "root hash %s, leader asserted %s", root, req.Ledger.RootHash)
	}

	mine, err := r.sign(payload)
	if err != nil {
		return nil, nil, err
	}
	resp := &InitResponse{
		MessageHeader: makeHeader(protocol.InitResponseType, r.participants),
		InitBody: InitBody{
			Ledger:     req.Ledger,
			LedgerHash: lh,
			Signatures: append(append([]Attestation(nil), req.Signatures...), Attestation{Participant: r.sc.Me.DID, Signature: mine}),
			TimeoutSec: req.TimeoutSec,
		},
	}
	reply, err := r.switchLeader(ctx, resp)
	if err != nil {
		return nil, nil, err
	}
	ini, err := expect[*Initialize](r, r.leader, reply)
	if err != nil {
		return nil, nil, err
	}
	if ini.LedgerHash != lh {
		return nil, nil, protocolErrorf(r.notAccepted(), true, "initialize is for ledger hash %s, expected %s", ini.LedgerHash.Base58, lh.Base58)
	}
	if !sameParticipants(ini.Participants, r.participants) {
		return nil, nil, protocolErrorf(r.notAccepted(), true, "initialize participants %v, proposed %v", ini.Participants, r.participants)
	}
	if err := r.verifyAttestations(ini.Signatures, payload); err != nil {
		return nil, nil, err
	}

	ack := &Ack{MessageHeader: makeHeader(protocol.AckType, nil), Status: AckOK}
	if err := r.send(ctx, ack); err != nil {
		return nil, nil, protocolErrorf(ProblemUnreachable, false, "ack: %v", err)
	}

	r.succeed()
	return l, txns, nil
}

// verifyAttestations checks a full signature bundle: every attestation
// names its signer and the signers are exactly the participants.
func (r *round) verifyAttestations(atts []Attestation, payload []byte) error {
	envs := make([]crypto.SignedEnvelope, len(atts))
	for i, att := range atts {
		if did, ok := r.dids[att.Signature.Signer]; !ok || did != att.Participant {
			return protocolErrorf(r.notAccepted(), true, "attestation for %s is not signed by its verkey", att.Participant)
		}
		envs[i] = att.Signature
	}
	return r.verifyAll(envs, payload, "ledger hash signatures")
}

func findAttestation(atts []Attestation, did string) (Attestation, bool) {
	for _, att := range atts {
		if att.Participant == did {
			return att, true
		}
	}
	return Attestation{}, false
}
