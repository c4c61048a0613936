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

// Package loopback connects agents living in one process. It can take
// agents offline and tamper with payloads in flight, which is how consensus
// failure paths are exercised.
package loopback

import (
	"context"
	"fmt"
	"time"

	"github.com/algorand/go-deadlock"

	"github.com/algorand/go-microledger/coprotocol"
	"github.com/algorand/go-microledger/logging"
)

// TamperFunc may rewrite a payload travelling from one DID to another.
type TamperFunc func(from, to string, payload []byte) []byte

// Hub is the shared medium endpoints deliver through.
type Hub struct {
	mu        deadlock.RWMutex
	endpoints map[string]*Endpoint
	offline   map[string]bool
	tamper    TamperFunc
	log       logging.Logger
}

// MakeHub returns an empty hub.
func MakeHub(log logging.Logger) *Hub {
	if log == nil {
		log = logging.Base()
	}
	return &Hub{
		endpoints: make(map[string]*Endpoint),
		offline:   make(map[string]bool),
		log:       log,
	}
}

// Join attaches an agent to the hub.
func (h *Hub) Join(me coprotocol.Identity) *Endpoint {
	ep := &Endpoint{
		hub:    h,
		me:     me,
		Router: coprotocol.MakeRouter(h.log.With("did", me.DID)),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.endpoints[me.DID] = ep
	return ep
}

// SetOffline makes every message from or to did vanish.
func (h *Hub) SetOffline(did string, offline bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.offline[did] = offline
}

// SetTamper installs fn on every later delivery; nil removes it.
func (h *Hub) SetTamper(fn TamperFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tamper = fn
}

func (h *Hub) deliver(from, to, threadID string, payload []byte) error {
	h.mu.RLock()
	target, ok := h.endpoints[to]
	dropped := h.offline[from] || h.offline[to]
	tamper := h.tamper
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", coprotocol.ErrUnknownPeer, to)
	}
	if dropped {
		h.log.With("thread", threadID).Debugf("dropping %s -> %s, offline", from, to)
		return nil
	}
	msg := append([]byte(nil), payload...)
	if tamper != nil {
		msg = tamper(from, to, msg)
	}
	target.Dispatch(coprotocol.Delivery{From: from, ThreadID: threadID, Payload: msg})
	return nil
}

// Endpoint is one agent's coprotocol.Network on a hub.
type Endpoint struct {
	*coprotocol.Router
	hub *Hub
	me  coprotocol.Identity
}

// Identity returns who the endpoint belongs to.
func (ep *Endpoint) Identity() coprotocol.Identity {
	return ep.me
}

// Open implements coprotocol.Network.
func (ep *Endpoint) Open(threadID string, peers []coprotocol.Pairwise, ttl time.Duration) (coprotocol.Channel, error) {
	return ep.Router.Open(ep, threadID, peers, ttl)
}

// Deliver implements coprotocol.Transport.
func (ep *Endpoint) Deliver(ctx context.Context, to coprotocol.Pairwise, threadID string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ep.hub.deliver(ep.me.DID, to.Their.DID, threadID, payload)
}

// Leave detaches the endpoint and closes its inbox.
func (ep *Endpoint) Leave() {
	ep.hub.mu.Lock()
	if ep.hub.endpoints[ep.me.DID] == ep {
		delete(ep.hub.endpoints, ep.me.DID)
	}
	ep.hub.mu.Unlock()
	ep.Router.Close()
}
