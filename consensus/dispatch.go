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
	"fmt"
	"sync"

	"github.com/algorand/go-microledger/coprotocol"
)

// Handle decodes an unsolicited delivery and runs the acceptor side of the
// round it opens. Problem reports outside of a round are recorded, other
// messages are logged and dropped.
func (sc *SimpleConsensus) Handle(ctx context.Context, d coprotocol.Delivery) error {
	msg, err := DecodeMessage(d.Payload)
	if err != nil {
		sc.Logger.Infof("dropping message from %s: %v", d.From, err)
		return err
	}
	if thid := msg.Header().ThreadID(); thid != "" && d.ThreadID != "" && thid != d.ThreadID {
		err = fmt.Errorf("%w: message on thread %q delivered on thread %q", ErrInvalidMessage, thid, d.ThreadID)
		sc.Logger.Infof("dropping message from %s: %v", d.From, err)
		return err
	}

	switch m := msg.(type) {
	case *InitRequest:
		_, _, err = sc.AcceptMicroledger(ctx, d.From, m, d.ThreadID)
	case *Propose:
		_, err = sc.AcceptCommit(ctx, d.From, m, d.ThreadID)
	case *ProposeParallel:
		_, err = sc.AcceptCommitParallel(ctx, d.From, m, d.ThreadID)
	case *ProblemReport:
		sc.Logger.Infof("problem report from %s on thread %s: %s: %s", d.From, d.ThreadID, m.ProblemCode, m.Explain)
		sc.recordProblem(m)
	default:
		sc.Logger.Debugf("ignoring %s from %s outside of a round", m.Header().Type.Name(), d.From)
	}
	return err
}

// Serve handles every delivery of the network inbox, each on its own
// goroutine, until ctx is done or the inbox is closed. It waits for the
// rounds it started before returning.
func (sc *SimpleConsensus) Serve(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()

	inbox := sc.Network.Inbox()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-inbox:
			if !ok {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				sc.Handle(ctx, d)
			}()
		}
	}
}
