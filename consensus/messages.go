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
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/algorand/go-microledger/crypto"
	"github.com/algorand/go-microledger/ledger"
	"github.com/algorand/go-microledger/protocol"
)

// ErrInvalidMessage is wrapped by every Validate failure.
var ErrInvalidMessage = errors.New("invalid message")

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidMessage, fmt.Sprintf(format, args...))
}

// Thread correlates the messages of one round.
type Thread struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	ThID string `codec:"thid"`
}

// MessageHeader is common to every message.
type MessageHeader struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	ID           string               `codec:"@id"`
	Type         protocol.MessageType `codec:"@type"`
	Thread       *Thread              `codec:"~thread"`
	Participants []string             `codec:"participants"`
}

func makeHeader(t protocol.MessageType, participants []string) MessageHeader {
	return MessageHeader{
		ID:           uuid.NewString(),
		Type:         t,
		Participants: append([]string(nil), participants...),
	}
}

// Header returns the header itself; it is promoted to every message.
func (h *MessageHeader) Header() *MessageHeader {
	return h
}

// ThreadID returns the thread id, or "".
func (h *MessageHeader) ThreadID() string {
	if h.Thread == nil {
		return ""
	}
	return h.Thread.ThID
}

// SetThreadID binds the message to a thread.
func (h *MessageHeader) SetThreadID(thid string) {
	h.Thread = &Thread{ThID: thid}
}

func (h *MessageHeader) sealed() {}

func (h *MessageHeader) validate(t protocol.MessageType, needParticipants bool) error {
	if h.Type != t {
		return invalid("type %q, expected %q", h.Type, t)
	}
	if needParticipants {
		if len(h.Participants) == 0 {
			return invalid("%s: empty participants", t.Name())
		}
		if mapset.NewSet(h.Participants...).Cardinality() != len(h.Participants) {
			return invalid("%s: duplicate participants", t.Name())
		}
	}
	return nil
}

// Message is one of the consensus or notification messages.
type Message interface {
	Header() *MessageHeader
	Validate() error
	sealed()
}

// LedgerDescriptor describes a ledger being created.
type LedgerDescriptor struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Name     string               `codec:"name"`
	RootHash string               `codec:"root_hash"`
	Genesis  []ledger.Transaction `codec:"genesis"`
}

// ToBeHashed implements crypto.Hashable.
func (d LedgerDescriptor) ToBeHashed() (protocol.HashID, []byte) {
	return protocol.LedgerDescriptor, protocol.Encode(d)
}

// LedgerHash names a digest and the function that produced it.
type LedgerHash struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Func   string `codec:"func"`
	Base58 string `codec:"base58"`
}

// MakeLedgerHash hashes a descriptor.
func MakeLedgerHash(d LedgerDescriptor) LedgerHash {
	return LedgerHash{Func: crypto.HashFunc, Base58: crypto.HashObj(d).String()}
}

// signedPayload is what participants sign when attesting a ledger hash.
func (h LedgerHash) signedPayload() []byte {
	return protocol.Encode(h)
}

// Attestation is a participant's signature.
type Attestation struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Participant string                `codec:"participant"`
	Signature   crypto.SignedEnvelope `codec:"signature"`
}

// InitBody is shared by the ledger creation messages.
type InitBody struct {
	Ledger     LedgerDescriptor `codec:"ledger"`
	LedgerHash LedgerHash       `codec:"ledger~hash"`
	Signatures []Attestation    `codec:"signatures"`
	TimeoutSec uint32           `codec:"timeout_sec"`
}

func (b *InitBody) validate(name string) error {
	if b.Ledger.Name == "" || b.Ledger.RootHash == "" || len(b.Ledger.Genesis) == 0 {
		return invalid("%s: ledger must have name, root_hash and genesis", name)
	}
	for i, txn := range b.Ledger.Genesis {
		if !txn.HasMetadata() {
			return invalid("%s: genesis transaction %d has no metadata", name, i)
		}
	}
	if b.LedgerHash.Func == "" || b.LedgerHash.Base58 == "" {
		return invalid("%s: ledger~hash must have func and base58", name)
	}
	if len(b.Signatures) == 0 {
		return invalid("%s: no signatures", name)
	}
	return nil
}

// Signers returns the participants named by the attestations.
func (b *InitBody) Signers() []string {
	out := make([]string, len(b.Signatures))
	for i, a := range b.Signatures {
		out[i] = a.Participant
	}
	return out
}

// InitRequest is the leader's proposal of a new ledger.
type InitRequest struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`
	MessageHeader
	InitBody
}

// Validate implements Message.
func (m *InitRequest) Validate() error {
	if err := m.MessageHeader.validate(protocol.InitRequestType, true); err != nil {
		return err
	}
	return m.InitBody.validate("initialize-request")
}

// InitResponse is an acceptor's signed answer to an InitRequest.
type InitResponse struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`
	MessageHeader
	InitBody
}

// Validate implements Message.
func (m *InitResponse) Validate() error {
	if err := m.MessageHeader.validate(protocol.InitResponseType, true); err != nil {
		return err
	}
	return m.InitBody.validate("initialize-response")
}

// Initialize carries every participant's signature over the new ledger.
type Initialize struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`
	MessageHeader
	InitBody
}

// Validate implements Message.
func (m *Initialize) Validate() error {
	if err := m.MessageHeader.validate(protocol.InitializeType, true); err != nil {
		return err
	}
	return m.InitBody.validate("initialize")
}

// Propose asks acceptors to append transactions to one ledger.
type Propose struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`
	MessageHeader

	Transactions []ledger.Transaction `codec:"transactions"`
	State        LedgerState          `codec:"state"`
	Hash         string               `codec:"hash"`
	TimeoutSec   uint32               `codec:"timeout_sec"`
}

// Validate implements Message.
func (m *Propose) Validate() error {
	if err := m.MessageHeader.validate(protocol.ProposeType, true); err != nil {
		return err
	}
	if len(m.Transactions) == 0 {
		return invalid("stage-propose: empty transactions")
	}
	for i, txn := range m.Transactions {
		if !txn.HasMetadata() {
			return invalid("stage-propose: transaction %d has no metadata", i)
		}
	}
	if !m.State.IsFilled() {
		return invalid("stage-propose: ledger state is not filled")
	}
	if m.Hash == "" {
		return invalid("stage-propose: empty hash")
	}
	return nil
}

// PreCommit is an acceptor's signature over its resulting state hash.
type PreCommit struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`
	MessageHeader

	HashSig crypto.SignedEnvelope `codec:"hash~sig"`
}

// Validate implements Message.
func (m *PreCommit) Validate() error {
	if err := m.MessageHeader.validate(protocol.PreCommitType, false); err != nil {
		return err
	}
	if m.HashSig.Empty() {
		return invalid("stage-pre-commit: no signature")
	}
	return nil
}

// Commit aggregates the pre-commits of every participant.
type Commit struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`
	MessageHeader

	PreCommits map[string]crypto.SignedEnvelope `codec:"pre_commits"`
}

// Validate implements Message.
func (m *Commit) Validate() error {
	if err := m.MessageHeader.validate(protocol.CommitType, true); err != nil {
		return err
	}
	return validatePreCommits("stage-commit", m.Participants, m.PreCommits)
}

// PostCommit carries signatures over the commit digest.
type PostCommit struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`
	MessageHeader

	Commits []crypto.SignedEnvelope `codec:"commits"`
}

// Validate implements Message.
func (m *PostCommit) Validate() error {
	if err := m.MessageHeader.validate(protocol.PostCommitType, false); err != nil {
		return err
	}
	if len(m.Commits) == 0 {
		return invalid("stage-post-commit: empty commits")
	}
	return nil
}

// ProposeParallel asks acceptors to append the same transactions to several
// ledgers. Transactions carry their append time; positions are assigned by
// each ledger and bound by States.
type ProposeParallel struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`
	MessageHeader

	Transactions []ledger.Transaction `codec:"transactions"`
	Ledgers      []string             `codec:"ledgers"`
	States       LedgerStates         `codec:"states"`
	Hash         string               `codec:"hash"`
	TimeoutSec   uint32               `codec:"timeout_sec"`
}

// Validate implements Message.
func (m *ProposeParallel) Validate() error {
	if err := m.MessageHeader.validate(protocol.ProposeParallelType, true); err != nil {
		return err
	}
	if len(m.Transactions) == 0 {
		return invalid("stage-propose-parallel: empty transactions")
	}
	for i, txn := range m.Transactions {
		if !txn.HasTime() {
			return invalid("stage-propose-parallel: transaction %d has no metadata", i)
		}
	}
	if len(m.Ledgers) == 0 {
		return invalid("stage-propose-parallel: empty ledgers")
	}
	if mapset.NewSet(m.Ledgers...).Cardinality() != len(m.Ledgers) {
		return invalid("stage-propose-parallel: duplicate ledgers")
	}
	if !m.States.IsFilled() {
		return invalid("stage-propose-parallel: ledger states are not filled")
	}
	names := m.States.Names()
	if len(names) != len(m.Ledgers) {
		return invalid("stage-propose-parallel: %d states for %d ledgers", len(names), len(m.Ledgers))
	}
	for i := range names {
		if names[i] != m.Ledgers[i] {
			return invalid("stage-propose-parallel: state %d is for %q, expected %q", i, names[i], m.Ledgers[i])
		}
	}
	if m.Hash == "" {
		return invalid("stage-propose-parallel: empty hash")
	}
	return nil
}

// PreCommitParallel is an acceptor's signature over its resulting states.
type PreCommitParallel struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`
	MessageHeader

	HashSig crypto.SignedEnvelope `codec:"hash~sig"`
}

// Validate implements Message.
func (m *PreCommitParallel) Validate() error {
	if err := m.MessageHeader.validate(protocol.PreCommitParallelType, false); err != nil {
		return err
	}
	if m.HashSig.Empty() {
		return invalid("stage-pre-commit-parallel: no signature")
	}
	return nil
}

// CommitParallel aggregates the parallel pre-commits of every participant.
type CommitParallel struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`
	MessageHeader

	PreCommits map[string]crypto.SignedEnvelope `codec:"pre_commits"`
}

// Validate implements Message.
func (m *CommitParallel) Validate() error {
	if err := m.MessageHeader.validate(protocol.CommitParallelType, true); err != nil {
		return err
	}
	return validatePreCommits("stage-commit-parallel", m.Participants, m.PreCommits)
}

// PostCommitParallel carries signatures over the parallel commit digest.
type PostCommitParallel struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`
	MessageHeader

	Commits []crypto.SignedEnvelope `codec:"commits"`
}

// Validate implements Message.
func (m *PostCommitParallel) Validate() error {
	if err := m.MessageHeader.validate(protocol.PostCommitParallelType, false); err != nil {
		return err
	}
	if len(m.Commits) == 0 {
		return invalid("stage-post-commit-parallel: empty commits")
	}
	return nil
}

// ProblemReport tells peers why a round ended. Notify is local: it decides
// whether the report is sent at all.
type ProblemReport struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`
	MessageHeader

	ProblemCode string `codec:"problem-code"`
	Explain     string `codec:"explain"`

	Notify bool `codec:"-"`
}

// Validate implements Message.
func (m *ProblemReport) Validate() error {
	if err := m.MessageHeader.validate(protocol.ProblemReportType, false); err != nil {
		return err
	}
	if m.ProblemCode == "" {
		return invalid("problem_report: empty problem-code")
	}
	return nil
}

// AckStatus is the outcome an Ack reports.
type AckStatus string

// Ack statuses.
const (
	AckOK      AckStatus = "OK"
	AckPending AckStatus = "PENDING"
	AckFail    AckStatus = "FAIL"
)

// Ack closes a stage.
type Ack struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`
	MessageHeader

	Status AckStatus `codec:"status"`
}

// Validate implements Message.
func (m *Ack) Validate() error {
	if err := m.MessageHeader.validate(protocol.AckType, false); err != nil {
		return err
	}
	switch m.Status {
	case AckOK, AckPending, AckFail:
		return nil
	default:
		return invalid("ack: unknown status %q", m.Status)
	}
}

func validatePreCommits(name string, participants []string, preCommits map[string]crypto.SignedEnvelope) error {
	for _, p := range participants {
		if _, ok := preCommits[p]; !ok {
			return invalid("%s: no pre-commit from participant %s", name, p)
		}
	}
	return nil
}

var messageFactories = map[protocol.MessageType]func() Message{
	protocol.AckType:                func() Message { return &Ack{} },
	protocol.InitializeType:         func() Message { return &Initialize{} },
	protocol.InitRequestType:        func() Message { return &InitRequest{} },
	protocol.InitResponseType:       func() Message { return &InitResponse{} },
	protocol.ProblemReportType:      func() Message { return &ProblemReport{} },
	protocol.CommitType:             func() Message { return &Commit{} },
	protocol.CommitParallelType:     func() Message { return &CommitParallel{} },
	protocol.PostCommitType:         func() Message { return &PostCommit{} },
	protocol.PostCommitParallelType: func() Message { return &PostCommitParallel{} },
	protocol.PreCommitType:          func() Message { return &PreCommit{} },
	protocol.PreCommitParallelType:  func() Message { return &PreCommitParallel{} },
	protocol.ProposeType:            func() Message { return &Propose{} },
	protocol.ProposeParallelType:    func() Message { return &ProposeParallel{} },
}

// EncodeMessage serializes m as canonical msgpack.
func EncodeMessage(m Message) []byte {
	return protocol.Encode(m)
}

// DecodeMessage reads the header of b to find the message type, then
// decodes b strictly into that type. The result is not validated.
func DecodeMessage(b []byte) (Message, error) {
	var h MessageHeader
	if err := protocol.DecodeLenient(b, &h); err != nil {
		return nil, fmt.Errorf("message header: %w", err)
	}
	factory, ok := messageFactories[h.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedMessage, h.Type)
	}
	m := factory()
	if err := protocol.Decode(b, m); err != nil {
		return nil, fmt.Errorf("%s: %w", h.Type.Name(), err)
	}
	return m, nil
}
