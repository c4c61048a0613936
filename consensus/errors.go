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
)

// Problem codes carried by problem reports.
const (
	ProblemRequestNotAccepted      = "request_not_accepted"
	ProblemRequestProcessingError  = "request_processing_error"
	ProblemResponseNotAccepted     = "response_not_accepted"
	ProblemResponseProcessingError = "response_processing_error"
	ProblemUnreachable             = "unreachable"
	ProblemAborted                 = "aborted"
)

// ErrUnexpectedMessage is returned when a reply or delivery has a type the
// current stage does not accept.
var ErrUnexpectedMessage = errors.New("unexpected message type")

// ProtocolError terminates a round. Notify tells whether peers should get
// a problem report about it.
type ProtocolError struct {
	Code    string
	Explain string
	Notify  bool
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Explain)
}

func protocolErrorf(code string, notify bool, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Code: code, Explain: fmt.Sprintf(format, args...), Notify: notify}
}

// Kind classifies why a round failed.
type Kind int

const (
	// KindPrecondition is a local misuse caught before anything was sent.
	KindPrecondition Kind = iota
	// KindProtocol is a validation failure or a problem reported by a peer.
	KindProtocol
	// KindTimeout means some peer did not answer in time.
	KindTimeout
	// KindAborted means the caller canceled the round.
	KindAborted
)

func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindProtocol:
		return "protocol"
	case KindTimeout:
		return "timeout"
	case KindAborted:
		return "aborted"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// RoundError is what every failed consensus operation returns. Problem is
// the report captured for the failure, whether or not it was sent.
type RoundError struct {
	Kind    Kind
	Problem *ProblemReport
	Err     error
}

func (e *RoundError) Error() string {
	if e.Problem != nil {
		return fmt.Sprintf("consensus round failed (%v): %s: %s", e.Kind, e.Problem.ProblemCode, e.Problem.Explain)
	}
	return fmt.Sprintf("consensus round failed (%v): %v", e.Kind, e.Err)
}

func (e *RoundError) Unwrap() error {
	return e.Err
}
