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

package coprotocol

import (
	"context"
	"fmt"
	"time"

	"github.com/algorand/go-deadlock"
	"golang.org/x/sync/errgroup"

	"github.com/algorand/go-microledger/logging"
)

const (
	mailboxSize = 8
	inboxSize   = 256
)

// Transport delivers one payload to one peer.
type Transport interface {
	Deliver(ctx context.Context, to Pairwise, threadID string, payload []byte) error
}

type routeKey struct {
	thread string
	from   string
}

// Router matches inbound messages with open channels. Transports embed it
// and feed it with Dispatch.
type Router struct {
	mu     deadlock.Mutex
	routes map[routeKey]chan []byte
	inbox  chan Delivery
	closed bool
	log    logging.Logger
}

// MakeRouter returns a router logging to log.
func MakeRouter(log logging.Logger) *Router {
	if log == nil {
		log = logging.Base()
	}
	return &Router{
		routes: make(map[routeKey]chan []byte),
		inbox:  make(chan Delivery, inboxSize),
		log:    log,
	}
}

// Inbox implements Network.
func (r *Router) Inbox() <-chan Delivery {
	return r.inbox
}

// Dispatch hands d to the channel bound to its thread and sender, or to the
// inbox. It never blocks; messages that find no room are dropped.
func (r *Router) Dispatch(d Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if mb, ok := r.routes[routeKey{thread: d.ThreadID, from: d.From}]; ok {
		select {
		case mb <- d.Payload:
		default:
			r.log.With("thread", d.ThreadID).Warnf("mailbox for %s full, dropping message", d.From)
		}
		return
	}
	select {
	case r.inbox <- d:
	default:
		r.log.With("thread", d.ThreadID).Warnf("inbox full, dropping message from %s", d.From)
	}
}

// Close closes the inbox; later deliveries are dropped.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.inbox)
	}
}

// Open binds a channel over transport.
func (r *Router) Open(transport Transport, threadID string, peers []Pairwise, ttl time.Duration) (Channel, error) {
	if threadID == "" {
		return nil, fmt.Errorf("empty thread id")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("non-positive time-to-live %v", ttl)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	c := &channel{
		router:    r,
		transport: transport,
		threadID:  threadID,
		ttl:       ttl,
		mailboxes: make(map[string]chan []byte, len(peers)),
		abandoned: make(map[string]bool, len(peers)),
	}
	for _, p := range peers {
		key := routeKey{thread: threadID, from: p.Their.DID}
		if _, taken := r.routes[key]; taken {
			c.unbindLocked()
			return nil, fmt.Errorf("thread %s already bound to %s", threadID, p.Their.DID)
		}
		mb := make(chan []byte, mailboxSize)
		r.routes[key] = mb
		c.mailboxes[p.Their.DID] = mb
		c.peers = append(c.peers, p)
	}
	return c, nil
}

type channel struct {
	router    *Router
	transport Transport
	threadID  string
	ttl       time.Duration
	peers     []Pairwise
	mailboxes map[string]chan []byte

	// abandoned marks peers whose last exchange gave up waiting; a reply
	// still queued for them answers the old request, not the next one.
	abandonedMu deadlock.Mutex
	abandoned   map[string]bool

	closeMu deadlock.Mutex
	closed  bool
}

func (c *channel) ThreadID() string {
	return c.threadID
}

func (c *channel) isClosed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closed
}

func (c *channel) Send(ctx context.Context, payload []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, c.ttl)
	defer cancel()

	var g errgroup.Group
	for _, p := range c.peers {
		p := p
		g.Go(func() error {
			if err := c.transport.Deliver(ctx, p, c.threadID, payload); err != nil {
				return fmt.Errorf("%s: %w", p.Their.DID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *channel) Switch(ctx context.Context, payload []byte) map[string]Reply {
	out := make(map[string]Reply, len(c.peers))
	if c.isClosed() {
		for _, p := range c.peers {
			out[p.Their.DID] = Reply{Err: ErrClosed}
		}
		return out
	}

	wctx, cancel := context.WithTimeout(ctx, c.ttl)
	defer cancel()

	var mu deadlock.Mutex
	var g errgroup.Group
	for _, p := range c.peers {
		p := p
		mb := c.mailboxes[p.Their.DID]
		g.Go(func() error {
			reply := c.exchange(ctx, wctx, p, mb, payload)
			mu.Lock()
			out[p.Their.DID] = reply
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return out
}

func (c *channel) exchange(parent, wctx context.Context, p Pairwise, mb chan []byte, payload []byte) Reply {
	did := p.Their.DID
	c.abandonedMu.Lock()
	if c.abandoned[did] {
		for drained := false; !drained; {
			select {
			case <-mb:
			default:
				drained = true
			}
		}
		c.abandoned[did] = false
	}
	c.abandonedMu.Unlock()

	if err := c.transport.Deliver(wctx, p, c.threadID, payload); err != nil {
		return Reply{Err: err}
	}
	select {
	case msg := <-mb:
		return Reply{Payload: msg}
	case <-wctx.Done():
		c.abandonedMu.Lock()
		c.abandoned[did] = true
		c.abandonedMu.Unlock()
		if parent.Err() != nil {
			return Reply{Err: parent.Err()}
		}
		return Reply{Err: ErrTimeout}
	}
}

// unbindLocked removes the channel's routes. c.router.mu must be held.
func (c *channel) unbindLocked() {
	for did, mb := range c.mailboxes {
		key := routeKey{thread: c.threadID, from: did}
		if c.router.routes[key] == mb {
			delete(c.router.routes, key)
		}
	}
}

func (c *channel) Close() {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return
	}
	c.closed = true
	c.closeMu.Unlock()

	c.router.mu.Lock()
	defer c.router.mu.Unlock()
	c.unbindLocked()
}
