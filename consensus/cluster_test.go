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
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/algorand/go-microledger/config"
	"github.com/algorand/go-microledger/coprotocol"
	"github.com/algorand/go-microledger/coprotocol/loopback"
	"github.com/algorand/go-microledger/crypto"
	"github.com/algorand/go-microledger/ledger"
	"github.com/algorand/go-microledger/ledger/memstore"
	"github.com/algorand/go-microledger/logging"
)

// testAgent is one participant of a test cluster.
type testAgent struct {
	id       coprotocol.Identity
	keys     *crypto.Keyring
	engine   ledger.Engine
	network  coprotocol.Network
	resolver *coprotocol.StaticResolver
	registry *prometheus.Registry
	sc       *SimpleConsensus

	cancel context.CancelFunc
	done   chan struct{}
}

func (a *testAgent) open(t *testing.T, name string) ledger.Ledger {
	l, err := a.engine.Open(name)
	require.NoError(t, err)
	return l
}

type cluster struct {
	hub    *loopback.Hub
	agents []*testAgent
}

func testConfig() config.Local {
	cfg := config.GetDefaultLocal()
	cfg.ConsensusTimeToLiveSec = 2
	cfg.LockWaitSec = 1
	return cfg
}

func makeAgent(t *testing.T, i int, engine ledger.Engine) *testAgent {
	keys := crypto.MakeKeyring()
	return &testAgent{
		id:       coprotocol.Identity{DID: fmt.Sprintf("did:ml:agent%d", i), Verkey: keys.GenerateKey()},
		keys:     keys,
		engine:   engine,
		registry: prometheus.NewRegistry(),
	}
}

// start builds the agent's machine over network and serves its inbox until
// the test ends.
func (a *testAgent) start(t *testing.T, network coprotocol.Network, cfg config.Local) {
	a.network = network
	sc, err := MakeSimpleConsensus(Parameters{
		Me:         a.id,
		Resolver:   a.resolver,
		Network:    network,
		Signer:     a.keys,
		Engine:     a.engine,
		Config:     cfg,
		Logger:     logging.TestingLog(t).With("did", a.id.DID),
		Registerer: a.registry,
	})
	require.NoError(t, err)
	a.sc = sc

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		sc.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-a.done
	})
}

// makeCluster connects n agents over a loopback hub, each with its own
// engine from mkEngine.
func makeCluster(t *testing.T, n int, mkEngine func(t *testing.T) ledger.Engine) *cluster {
	c := &cluster{hub: loopback.MakeHub(logging.TestingLog(t))}
	for i := 0; i < n; i++ {
		c.agents = append(c.agents, makeAgent(t, i, mkEngine(t)))
	}
	for _, a := range c.agents {
		a.resolver = coprotocol.MakeStaticResolver(a.id)
		for _, b := range c.agents {
			if b != a {
				a.resolver.Add(b.id, "loopback")
			}
		}
	}
	for _, a := range c.agents {
		ep := c.hub.Join(a.id)
		t.Cleanup(ep.Leave)
		a.start(t, ep, testConfig())
	}
	return c
}

func memEngine(*testing.T) ledger.Engine {
	return memstore.MakeEngine()
}

func (c *cluster) dids() []string {
	out := make([]string, len(c.agents))
	for i, a := range c.agents {
		out[i] = a.id.DID
	}
	return out
}

func (c *cluster) agent(did string) *testAgent {
	for _, a := range c.agents {
		if a.id.DID == did {
			return a
		}
	}
	return nil
}

// create has the first agent lead the creation of name on every agent.
func (c *cluster) create(t *testing.T, name string, genesis []ledger.Transaction) {
	_, _, err := c.agents[0].sc.InitMicroledger(context.Background(), name, c.dids(), genesis)
	require.NoError(t, err)
	for _, a := range c.agents {
		exists, err := a.engine.Exists(name)
		require.NoError(t, err)
		require.True(t, exists, a.id.DID)
	}
}

// requireEventually waits for every agent's copy of name to reach size and
// uncommitted size, and checks that they agree on the root.
func (c *cluster) requireEventually(t *testing.T, name string, size, uncommitted uint64) {
	t.Helper()
	for _, a := range c.agents {
		a := a
		require.Eventuallyf(t, func() bool {
			l, err := a.engine.Open(name)
			return err == nil && l.Size() == size && l.UncommittedSize() == uncommitted
		}, 10*time.Second, 10*time.Millisecond, "%s: ledger %s never reached size %d/%d", a.id.DID, name, size, uncommitted)
	}
	root := c.agents[0].open(t, name).RootHash()
	for _, a := range c.agents[1:] {
		require.Equal(t, root, a.open(t, name).RootHash(), a.id.DID)
	}
}

// tamperType rewrites messages of type T travelling from -> to.
func tamperType[T Message](c *cluster, from, to string, fn func(T)) {
	c.hub.SetTamper(func(src, dst string, payload []byte) []byte {
		if src != from || dst != to {
			return payload
		}
		msg, err := DecodeMessage(payload)
		if err != nil {
			return payload
		}
		m, ok := msg.(T)
		if !ok {
			return payload
		}
		fn(m)
		return EncodeMessage(m)
	})
}
