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

// Package wsnet runs coprotocol exchanges over websockets. Every node
// serves one websocket route; it dials peers at their endpoint and keeps the
// outbound connection for later messages.
package wsnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/algorand/go-deadlock"
	"github.com/algorand/websocket"
	"github.com/gorilla/mux"

	"github.com/algorand/go-microledger/coprotocol"
	"github.com/algorand/go-microledger/logging"
	"github.com/algorand/go-microledger/protocol"
)

// CoprotocolPath is the route peers connect to.
const CoprotocolPath = "/v1/coprotocol"

const maxFrameBytes = 4 << 20

// Frame is the unit sent over a websocket connection.
type Frame struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	From     string `codec:"from"`
	To       string `codec:"to"`
	ThreadID string `codec:"thid"`
	Payload  []byte `codec:"payload"`
}

type outConn struct {
	mu   deadlock.Mutex
	conn *websocket.Conn
}

// Node is a coprotocol.Network speaking websockets.
type Node struct {
	*coprotocol.Router

	me         coprotocol.Identity
	listenAddr string
	log        logging.Logger

	upgrader websocket.Upgrader
	dialer   websocket.Dialer

	mu       deadlock.Mutex
	out      map[string]*outConn
	in       map[*websocket.Conn]bool
	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup
}

// MakeNode creates a node for me that will listen on listenAddr.
func MakeNode(me coprotocol.Identity, listenAddr string, log logging.Logger) *Node {
	if log == nil {
		log = logging.Base()
	}
	log = log.With("did", me.DID)
	n := &Node{
		Router:     coprotocol.MakeRouter(log),
		me:         me,
		listenAddr: listenAddr,
		log:        log,
		out:        make(map[string]*outConn),
		in:         make(map[*websocket.Conn]bool),
	}
	n.upgrader.ReadBufferSize = 4096
	n.upgrader.WriteBufferSize = 4096
	n.upgrader.EnableCompression = false
	n.dialer = websocket.Dialer{
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: false,
	}
	return n
}

// Start begins serving.
func (n *Node) Start() error {
	listener, err := net.Listen("tcp", n.listenAddr)
	if err != nil {
		return err
	}
	router := mux.NewRouter()
	router.HandleFunc(CoprotocolPath, n.serveWS).Methods(http.MethodGet)

	n.mu.Lock()
	n.listener = listener
	n.server = &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	server := n.server
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Warnf("websocket server stopped: %v", err)
		}
	}()
	n.log.Infof("listening for coprotocol messages on %s", n.Address())
	return nil
}

// Address returns the websocket URL peers should use as this node's
// endpoint, or "" before Start.
func (n *Node) Address() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener == nil {
		return ""
	}
	return "ws://" + n.listener.Addr().String() + CoprotocolPath
}

// Stop closes the server and every connection and waits for readers.
func (n *Node) Stop() {
	n.mu.Lock()
	server := n.server
	for endpoint, oc := range n.out {
		oc.conn.Close()
		delete(n.out, endpoint)
	}
	for conn := range n.in {
		conn.Close()
	}
	n.mu.Unlock()

	if server != nil {
		server.Close()
	}
	n.wg.Wait()
	n.Router.Close()
}

// Open implements coprotocol.Network.
func (n *Node) Open(threadID string, peers []coprotocol.Pairwise, ttl time.Duration) (coprotocol.Channel, error) {
	return n.Router.Open(n, threadID, peers, ttl)
}

func (n *Node) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.log.Infof("websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	n.mu.Lock()
	n.in[conn] = true
	n.mu.Unlock()
	n.wg.Add(1)
	defer func() {
		n.mu.Lock()
		delete(n.in, conn)
		n.mu.Unlock()
		conn.Close()
		n.wg.Done()
	}()

	for {
		mtype, data, err := conn.ReadMessage()
		if err != nil {
			n.log.Debugf("connection from %s closed: %v", r.RemoteAddr, err)
			return
		}
		if mtype != websocket.BinaryMessage {
			n.log.Warnf("unexpected websocket message type %d from %s", mtype, r.RemoteAddr)
			continue
		}
		var f Frame
		if err := protocol.Decode(data, &f); err != nil {
			n.log.Warnf("bad frame from %s: %v", r.RemoteAddr, err)
			continue
		}
		if f.To != n.me.DID {
			n.log.Warnf("frame for %s delivered to %s, dropping", f.To, n.me.DID)
			continue
		}
		n.Dispatch(coprotocol.Delivery{From: f.From, ThreadID: f.ThreadID, Payload: f.Payload})
	}
}

func (n *Node) conn(ctx context.Context, endpoint string) (*outConn, error) {
	n.mu.Lock()
	oc, ok := n.out[endpoint]
	n.mu.Unlock()
	if ok {
		return oc, nil
	}

	conn, _, err := n.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", coprotocol.ErrUnknownPeer, endpoint, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if existing, ok := n.out[endpoint]; ok {
		conn.Close()
		return existing, nil
	}
	oc = &outConn{conn: conn}
	n.out[endpoint] = oc
	return oc, nil
}

func (n *Node) dropConn(endpoint string, oc *outConn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.out[endpoint] == oc {
		delete(n.out, endpoint)
	}
	oc.conn.Close()
}

// Deliver implements coprotocol.Transport.
func (n *Node) Deliver(ctx context.Context, to coprotocol.Pairwise, threadID string, payload []byte) error {
	if to.TheirEndpoint == "" {
		return fmt.Errorf("%w: %s has no endpoint", coprotocol.ErrUnknownPeer, to.Their.DID)
	}
	oc, err := n.conn(ctx, to.TheirEndpoint)
	if err != nil {
		return err
	}
	data := protocol.Encode(&Frame{From: n.me.DID, To: to.Their.DID, ThreadID: threadID, Payload: payload})

	oc.mu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		oc.conn.SetWriteDeadline(deadline)
	} else {
		oc.conn.SetWriteDeadline(time.Time{})
	}
	err = oc.conn.WriteMessage(websocket.BinaryMessage, data)
	oc.mu.Unlock()
	if err != nil {
		n.dropConn(to.TheirEndpoint, oc)
		return fmt.Errorf("write to %s: %w", to.Their.DID, err)
	}
	return nil
}
