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

package wsnet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/algorand/go-microledger/coprotocol"
	"github.com/algorand/go-microledger/logging"
	"github.com/algorand/go-microledger/test/partitiontest"
)

func startNode(t *testing.T, did string) *Node {
	n := MakeNode(coprotocol.Identity{DID: did}, "127.0.0.1:0", logging.TestingLog(t))
	require.NoError(t, n.Start())
	t.Cleanup(n.Stop)
	return n
}

func TestWebsocketSwitch(t *testing.T) {
	partitiontest.PartitionTest(t)

	a, b := startNode(t, "did:a"), startNode(t, "did:b")
	toB := coprotocol.Pairwise{Me: a.me, Their: b.me, TheirEndpoint: b.Address()}
	toA := coprotocol.Pairwise{Me: b.me, Their: a.me, TheirEndpoint: a.Address()}

	go func() {
		d, ok := <-b.Inbox()
		if !ok {
			return
		}
		ch, err := b.Open(d.ThreadID, []coprotocol.Pairwise{toA}, time.Second)
		if err != nil {
			return
		}
		defer ch.Close()
		ch.Send(context.Background(), append([]byte("re:"), d.Payload...))
	}()

	ch, err := a.Open("thread", []coprotocol.Pairwise{toB}, 5*time.Second)
	require.NoError(t, err)
	defer ch.Close()
	replies := ch.Switch(context.Background(), []byte("hello"))
	require.NoError(t, replies["did:b"].Err)
	require.Equal(t, []byte("re:hello"), replies["did:b"].Payload)
}

func TestWebsocketUnreachable(t *testing.T) {
	partitiontest.PartitionTest(t)

	a := startNode(t, "did:a")
	gone := startNode(t, "did:gone")
	addr := gone.Address()
	gone.Stop()

	ch, err := a.Open("thread", []coprotocol.Pairwise{{Their: coprotocol.Identity{DID: "did:gone"}, TheirEndpoint: addr}}, time.Second)
	require.NoError(t, err)
	defer ch.Close()
	replies := ch.Switch(context.Background(), []byte("hello"))
	require.ErrorIs(t, replies["did:gone"].Err, coprotocol.ErrUnknownPeer)

	require.ErrorIs(t, a.Deliver(context.Background(), coprotocol.Pairwise{}, "t", nil), coprotocol.ErrUnknownPeer)
}
