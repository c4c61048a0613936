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
	"reflect"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/algorand/go-microledger/crypto"
	"github.com/algorand/go-microledger/ledger"
	"github.com/algorand/go-microledger/ledger/ledgertest"
	"github.com/algorand/go-microledger/protocol"
	"github.com/algorand/go-microledger/test/partitiontest"
)

var exportAll = cmp.Exporter(func(reflect.Type) bool { return true })

func testPropose(t *testing.T) *Propose {
	txns, err := ledger.AssignMetadata(ledgertest.Txns("app", 2), 1, time.Unix(1700000000, 0))
	require.NoError(t, err)
	state := LedgerState{Name: "L", SeqNo: 1, Size: 1, UncommittedSize: 3, RootHash: "r", UncommittedRootHash: "u"}
	m := &Propose{
		MessageHeader: makeHeader(protocol.ProposeType, []string{"did:a", "did:b"}),
		Transactions:  txns,
		State:         state,
		Hash:          state.Hash(),
		TimeoutSec:    60,
	}
	m.SetThreadID("thread-1")
	return m
}

func TestMessageRoundTrip(t *testing.T) {
	partitiontest.PartitionTest(t)

	keys := crypto.MakeKeyring()
	vk := keys.GenerateKey()
	env, err := keys.Sign([]byte("hash"), vk)
	require.NoError(t, err)

	commit := &Commit{
		MessageHeader: makeHeader(protocol.CommitType, []string{"did:a"}),
		PreCommits:    map[string]crypto.SignedEnvelope{"did:a": env},
	}
	commit.SetThreadID("thread-1")

	for _, m := range []Message{
		testPropose(t),
		commit,
		&PostCommit{MessageHeader: makeHeader(protocol.PostCommitType, nil), Commits: []crypto.SignedEnvelope{env}},
		&Ack{MessageHeader: makeHeader(protocol.AckType, nil), Status: AckOK},
		&ProblemReport{MessageHeader: makeHeader(protocol.ProblemReportType, nil), ProblemCode: ProblemUnreachable, Explain: "gone"},
	} {
		require.NoError(t, m.Validate())
		decoded, err := DecodeMessage(EncodeMessage(m))
		require.NoError(t, err)
		if diff := cmp.Diff(m, decoded, exportAll); diff != "" {
			t.Errorf("%s round trip mismatch (-want +got):\n%s", m.Header().Type.Name(), diff)
		}
		require.NoError(t, decoded.Validate())
	}
}

func TestProblemReportNotifyStaysLocal(t *testing.T) {
	partitiontest.PartitionTest(t)

	pr := &ProblemReport{MessageHeader: makeHeader(protocol.ProblemReportType, nil), ProblemCode: ProblemAborted, Notify: true}
	decoded, err := DecodeMessage(EncodeMessage(pr))
	require.NoError(t, err)
	require.False(t, decoded.(*ProblemReport).Notify)
}

func TestDecodeMessageErrors(t *testing.T) {
	partitiontest.PartitionTest(t)

	_, err := DecodeMessage([]byte{0xc1})
	require.Error(t, err)

	unknown := makeHeader(protocol.MakeMessageType("other", "1.0", "thing"), nil)
	_, err = DecodeMessage(protocol.Encode(&unknown))
	require.ErrorIs(t, err, ErrUnexpectedMessage)

	// unknown fields are refused once the type is known
	type proposeWithExtra struct {
		_struct struct{} `codec:",omitempty,omitemptyarray"`
		MessageHeader
		Bogus string `codec:"bogus"`
	}
	extra := proposeWithExtra{MessageHeader: makeHeader(protocol.ProposeType, []string{"did:a"}), Bogus: "x"}
	_, err = DecodeMessage(protocol.Encode(&extra))
	require.Error(t, err)
}

func TestProposeValidate(t *testing.T) {
	partitiontest.PartitionTest(t)

	require.NoError(t, testPropose(t).Validate())

	for name, mutate := range map[string]func(*Propose){
		"type":         func(m *Propose) { m.Type = protocol.CommitType },
		"participants": func(m *Propose) { m.Participants = nil },
		"duplicates":   func(m *Propose) { m.Participants = []string{"did:a", "did:a"} },
		"transactions": func(m *Propose) { m.Transactions = nil },
		"metadata":     func(m *Propose) { m.Transactions[0].Metadata = nil },
		"state":        func(m *Propose) { m.State.RootHash = "" },
		"hash":         func(m *Propose) { m.Hash = "" },
	} {
		m := testPropose(t)
		mutate(m)
		require.ErrorIs(t, m.Validate(), ErrInvalidMessage, name)
	}
}

func TestCommitValidateMembership(t *testing.T) {
	partitiontest.PartitionTest(t)

	env := crypto.SignedEnvelope{Payload: []byte("h"), Sig: crypto.Signature{1}}
	m := &Commit{
		MessageHeader: makeHeader(protocol.CommitType, []string{"did:a", "did:b"}),
		PreCommits:    map[string]crypto.SignedEnvelope{"did:a": env, "did:c": env},
	}
	// same count, different members
	require.ErrorIs(t, m.Validate(), ErrInvalidMessage)

	m.PreCommits["did:b"] = env
	require.NoError(t, m.Validate())
}

func TestProposeParallelValidate(t *testing.T) {
	partitiontest.PartitionTest(t)

	stamped := ledger.Stamp(ledgertest.Txns("app", 1), time.Unix(1700000000, 0))
	a := LedgerState{Name: "A", SeqNo: 1, Size: 1, UncommittedSize: 2, RootHash: "r", UncommittedRootHash: "u"}
	b := a
	b.Name = "B"
	mk := func() *ProposeParallel {
		return &ProposeParallel{
			MessageHeader: makeHeader(protocol.ProposeParallelType, []string{"did:a", "did:b"}),
			Transactions:  stamped,
			Ledgers:       []string{"A", "B"},
			States:        LedgerStates{a, b},
			Hash:          LedgerStates{a, b}.Hash(),
		}
	}
	require.NoError(t, mk().Validate())

	m := mk()
	m.Ledgers = []string{"B", "A"}
	require.ErrorIs(t, m.Validate(), ErrInvalidMessage)

	m = mk()
	m.Ledgers = []string{"A", "A"}
	require.ErrorIs(t, m.Validate(), ErrInvalidMessage)

	m = mk()
	m.States = LedgerStates{a}
	require.ErrorIs(t, m.Validate(), ErrInvalidMessage)

	m = mk()
	m.Transactions = ledgertest.Txns("app", 1)
	require.ErrorIs(t, m.Validate(), ErrInvalidMessage)
}

func TestInitBodyValidate(t *testing.T) {
	partitiontest.PartitionTest(t)

	genesis, err := ledger.AssignMetadata(ledgertest.Genesis(1), 0, time.Unix(1700000000, 0))
	require.NoError(t, err)
	desc := LedgerDescriptor{Name: "L", RootHash: ledger.RootOf(genesis).String(), Genesis: genesis}
	req := &InitRequest{
		MessageHeader: makeHeader(protocol.InitRequestType, []string{"did:a", "did:b"}),
		InitBody: InitBody{
			Ledger:     desc,
			LedgerHash: MakeLedgerHash(desc),
			Signatures: []Attestation{{Participant: "did:a"}},
		},
	}
	require.NoError(t, req.Validate())
	require.Equal(t, []string{"did:a"}, req.Signers())
	require.Equal(t, crypto.HashFunc, req.LedgerHash.Func)

	req.LedgerHash = LedgerHash{}
	require.ErrorIs(t, req.Validate(), ErrInvalidMessage)

	req.LedgerHash = MakeLedgerHash(desc)
	req.Ledger.Genesis = nil
	require.ErrorIs(t, req.Validate(), ErrInvalidMessage)
}

func TestAckValidate(t *testing.T) {
	partitiontest.PartitionTest(t)

	ack := &Ack{MessageHeader: makeHeader(protocol.AckType, nil), Status: AckPending}
	require.NoError(t, ack.Validate())
	ack.Status = "MAYBE"
	require.ErrorIs(t, ack.Validate(), ErrInvalidMessage)
}
