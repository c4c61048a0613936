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

package protocol

import (
	"strings"
)

// MessageType identifies a protocol message on the wire. It is made of a
// protocol family prefix, the protocol name, its version and the message
// name, e.g. https://didcomm.org/simple-consensus/1.0/stage-propose.
type MessageType string

// DIDCommPrefix is the family prefix every message type starts with.
const DIDCommPrefix = "https://didcomm.org/"

// Protocol names and versions spoken by the consensus core.
const (
	SimpleConsensusProtocol = "simple-consensus"
	NotificationProtocol    = "notification"

	SimpleConsensusVersion = "1.0"
	NotificationVersion    = "1.0"
)

// MakeMessageType assembles a MessageType from its parts.
func MakeMessageType(protocol, version, name string) MessageType {
	return MessageType(DIDCommPrefix + protocol + "/" + version + "/" + name)
}

func consensusType(name string) MessageType {
	return MakeMessageType(SimpleConsensusProtocol, SimpleConsensusVersion, name)
}

func notificationType(name string) MessageType {
	return MakeMessageType(NotificationProtocol, NotificationVersion, name)
}

// Message types, in lexicographic sort order of names to avoid duplicates.
var (
	AckType                = notificationType("ack")
	InitializeType         = consensusType("initialize")
	InitRequestType        = consensusType("initialize-request")
	InitResponseType       = consensusType("initialize-response")
	ProblemReportType      = notificationType("problem_report")
	CommitType             = consensusType("stage-commit")
	CommitParallelType     = consensusType("stage-commit-parallel")
	PostCommitType         = consensusType("stage-post-commit")
	PostCommitParallelType = consensusType("stage-post-commit-parallel")
	PreCommitType          = consensusType("stage-pre-commit")
	PreCommitParallelType  = consensusType("stage-pre-commit-parallel")
	ProposeType            = consensusType("stage-propose")
	ProposeParallelType    = consensusType("stage-propose-parallel")
)

// split returns the protocol, version and name parts of t, or ok=false if t
// is not a well formed message type.
func (t MessageType) split() (protocol, version, name string, ok bool) {
	s := string(t)
	if !strings.HasPrefix(s, DIDCommPrefix) {
		return "", "", "", false
	}
	parts := strings.Split(strings.TrimPrefix(s, DIDCommPrefix), "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// Protocol returns the protocol name of the message type, or "" if it is malformed.
func (t MessageType) Protocol() string {
	p, _, _, _ := t.split()
	return p
}

// Version returns the protocol version of the message type, or "" if it is malformed.
func (t MessageType) Version() string {
	_, v, _, _ := t.split()
	return v
}

// Name returns the message name of the message type, or "" if it is malformed.
func (t MessageType) Name() string {
	_, _, n, _ := t.split()
	return n
}

// Valid reports whether t is a well formed message type.
func (t MessageType) Valid() bool {
	_, _, _, ok := t.split()
	return ok
}
