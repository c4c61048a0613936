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

// Package coprotocol carries the thread-correlated request/reply exchanges
// of a consensus round between agents. A round opens a Channel bound to a
// thread id and its peers; replies from those peers on that thread come back
// through the channel, anything else lands in the network inbox.
package coprotocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/algorand/go-deadlock"

	"github.com/algorand/go-microledger/crypto"
)

var (
	// ErrTimeout is the reply error of a peer that did not answer in time.
	ErrTimeout = errors.New("peer did not reply before the deadline")
	// ErrUnknownPeer is returned when a participant cannot be resolved or
	// reached.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrClosed is returned when using a closed channel or network.
	ErrClosed = errors.New("channel closed")
)

// Identity is an agent's decentralized identifier and the verkey it signs
// with.
type Identity struct {
	DID    string
	Verkey crypto.PublicKey
}

// Pairwise is an established relationship with another agent.
type Pairwise struct {
	Me            Identity
	Their         Identity
	TheirEndpoint string
}

// Resolver finds the pairwise relationship with a participant.
type Resolver interface {
	Resolve(did string) (Pairwise, error)
}

// StaticResolver resolves from a fixed table.
type StaticResolver struct {
	mu    deadlock.RWMutex
	me    Identity
	peers map[string]Pairwise
}

// MakeStaticResolver returns an empty table for me.
func MakeStaticResolver(me Identity) *StaticResolver {
	return &StaticResolver{me: me, peers: make(map[string]Pairwise)}
}

// Add records how to reach their.
func (r *StaticResolver) Add(their Identity, endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[their.DID] = Pairwise{Me: r.me, Their: their, TheirEndpoint: endpoint}
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(did string) (Pairwise, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[did]
	if !ok {
		return Pairwise{}, fmt.Errorf("%w: %s", ErrUnknownPeer, did)
	}
	return p, nil
}

// Delivery is an inbound message that no open channel claimed.
type Delivery struct {
	From     string
	ThreadID string
	Payload  []byte
}

// Reply is one peer's answer to a Switch.
type Reply struct {
	Payload []byte
	Err     error
}

// Network opens channels and surfaces unsolicited messages.
type Network interface {
	// Open binds a channel to threadID and peers. Every Switch on it waits
	// at most ttl.
	Open(threadID string, peers []Pairwise, ttl time.Duration) (Channel, error)

	// Inbox yields messages not addressed to an open channel.
	Inbox() <-chan Delivery
}

// Channel is one round's view of the network.
type Channel interface {
	// Switch sends payload to every peer and waits for one reply from each.
	// The result has an entry per peer DID; peers that did not answer
	// carry ErrTimeout, or ctx.Err() if ctx ended first.
	Switch(ctx context.Context, payload []byte) map[string]Reply

	// Send delivers payload to every peer without waiting for replies.
	Send(ctx context.Context, payload []byte) error

	ThreadID() string

	// Close unbinds the channel. It is safe to call more than once.
	Close()
}
