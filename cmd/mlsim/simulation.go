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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/algorand/go-microledger/config"
	"github.com/algorand/go-microledger/consensus"
	"github.com/algorand/go-microledger/coprotocol"
	"github.com/algorand/go-microledger/coprotocol/loopback"
	"github.com/algorand/go-microledger/coprotocol/wsnet"
	"github.com/algorand/go-microledger/crypto"
	"github.com/algorand/go-microledger/ledger"
	"github.com/algorand/go-microledger/ledger/memstore"
	"github.com/algorand/go-microledger/ledger/sqlstore"
	"github.com/algorand/go-microledger/logging"
)

const simLedgerName = "sim"

type simOptions struct {
	agents   int
	txns     int
	parallel int
	backend  string
	offline  []string
}

func (o simOptions) validate() error {
	switch {
	case o.agents < 2:
		return fmt.Errorf("need at least 2 agents, got %d", o.agents)
	case o.txns < 0:
		return fmt.Errorf("negative transaction count %d", o.txns)
	case o.parallel < 0:
		return fmt.Errorf("negative parallel ledger count %d", o.parallel)
	case o.backend != config.LedgerBackendMemory && o.backend != config.LedgerBackendSQLite:
		return fmt.Errorf("unknown ledger backend %q", o.backend)
	}
	for _, did := range o.offline {
		var known bool
		for i := 1; i < o.agents; i++ {
			known = known || did == agentDID(i)
		}
		if !known {
			return fmt.Errorf("offline agent %q is not an acceptor of this simulation", did)
		}
	}
	return nil
}

// simAgent is one agent hosted by the simulation.
type simAgent struct {
	id      coprotocol.Identity
	keys    *crypto.Keyring
	engine  ledger.Engine
	network coprotocol.Network
	sc      *consensus.SimpleConsensus
}

// ledgerReport is what one agent holds for one ledger at the end of a run.
type ledgerReport struct {
	Agent       string
	Ledger      string
	Size        uint64
	Uncommitted uint64
	Root        string
}

type simReport struct {
	Committed int
	Failed    int
	Failures  map[consensus.Kind]int
	Ledgers   []ledgerReport
	Rounds    map[string]float64
}

// Agreed tells whether every agent holds the same committed root for every
// ledger with nothing left uncommitted.
func (r *simReport) Agreed() bool {
	roots := make(map[string]string)
	for _, lr := range r.Ledgers {
		if lr.Size != lr.Uncommitted {
			return false
		}
		if root, ok := roots[lr.Ledger]; ok && root != lr.Root {
			return false
		}
		roots[lr.Ledger] = lr.Root
	}
	return true
}

type simulation struct {
	opts     simOptions
	cfg      config.Local
	dataDir  string
	log      logging.Logger
	registry *prometheus.Registry

	agents  []*simAgent
	hub     *loopback.Hub
	cleanup []func()
}

func agentDID(i int) string {
	return fmt.Sprintf("did:ml:agent%d", i)
}

// runSimulation creates the simulation ledgers through agent 0 and then
// commits opts.txns rounds, one transaction per round.
func runSimulation(ctx context.Context, opts simOptions, cfg config.Local, dataDir string, log logging.Logger) (*simReport, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if cfg.NetAddress != "" && len(opts.offline) > 0 {
		return nil, errors.New("taking agents offline needs in-process delivery, clear NetAddress")
	}
	s := &simulation{opts: opts, cfg: cfg, dataDir: dataDir, log: log}
	if cfg.EnableMetrics {
		s.registry = prometheus.NewRegistry()
	}
	defer s.close()

	if err := s.setup(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range s.agents {
		sc := a.sc
		g.Go(func() error {
			sc.Serve(gctx)
			return nil
		})
	}
	report, err := s.run(ctx)
	cancel()
	g.Wait()
	return report, err
}

func (s *simulation) close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

func (s *simulation) setup() error {
	for i := 0; i < s.opts.agents; i++ {
		keys := crypto.MakeKeyring()
		a := &simAgent{
			id:   coprotocol.Identity{DID: agentDID(i), Verkey: keys.GenerateKey()},
			keys: keys,
		}
		engine, err := s.makeEngine(a.id.DID)
		if err != nil {
			return err
		}
		a.engine = engine
		s.agents = append(s.agents, a)
	}

	endpoints, err := s.connect()
	if err != nil {
		return err
	}

	var registerer prometheus.Registerer
	if s.registry != nil {
		registerer = s.registry
	}
	for _, a := range s.agents {
		resolver := coprotocol.MakeStaticResolver(a.id)
		for _, b := range s.agents {
			if b != a {
				resolver.Add(b.id, endpoints[b.id.DID])
			}
		}
		sc, err := consensus.MakeSimpleConsensus(consensus.Parameters{
			Me:         a.id,
			Resolver:   resolver,
			Network:    a.network,
			Signer:     a.keys,
			Engine:     a.engine,
			Config:     s.cfg,
			Logger:     s.log.With("did", a.id.DID),
			Registerer: registerer,
		})
		if err != nil {
			return err
		}
		a.sc = sc
	}
	return nil
}

func (s *simulation) makeEngine(did string) (ledger.Engine, error) {
	if s.opts.backend == config.LedgerBackendMemory {
		return memstore.MakeEngine(), nil
	}

	root := s.dataDir
	if root == "" {
		tmp, err := os.MkdirTemp("", "mlsim")
		if err != nil {
			return nil, err
		}
		s.dataDir = tmp
		s.cleanup = append(s.cleanup, func() { os.RemoveAll(tmp) })
		root = tmp
	}
	dir := filepath.Join(root, uuid.NewSHA1(uuid.NameSpaceURL, []byte(did)).String())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	path := s.cfg.LedgerDBPath(dir)
	// a previous run's ledgers would make creation fail
	os.Remove(path)
	e, err := sqlstore.Open(path, false, s.log.With("did", did))
	if err != nil {
		return nil, err
	}
	s.cleanup = append(s.cleanup, e.Close)
	return e, nil
}

// connect attaches every agent to the network and returns their endpoints.
func (s *simulation) connect() (map[string]string, error) {
	endpoints := make(map[string]string, len(s.agents))
	if s.cfg.NetAddress == "" {
		s.hub = loopback.MakeHub(s.log)
		for _, a := range s.agents {
			ep := s.hub.Join(a.id)
			s.cleanup = append(s.cleanup, ep.Leave)
			a.network = ep
			endpoints[a.id.DID] = "loopback"
		}
		return endpoints, nil
	}

	for _, a := range s.agents {
		node := wsnet.MakeNode(a.id, s.cfg.NetAddress, s.log.With("did", a.id.DID))
		a.network = node
		if err := node.Start(); err != nil {
			return nil, fmt.Errorf("%s: %w", a.id.DID, err)
		}
		s.cleanup = append(s.cleanup, node.Stop)
		endpoints[a.id.DID] = node.Address()
	}
	return endpoints, nil
}

func (s *simulation) run(ctx context.Context) (*simReport, error) {
	leader := s.agents[0]
	dids := make([]string, len(s.agents))
	for i, a := range s.agents {
		dids[i] = a.id.DID
	}

	names := []string{simLedgerName}
	if s.opts.parallel > 0 {
		names = names[:0]
		for i := 0; i < s.opts.parallel; i++ {
			names = append(names, fmt.Sprintf("%s-%d", simLedgerName, i))
		}
	}
	ledgers := make([]ledger.Ledger, 0, len(names))
	for _, name := range names {
		genesis := []ledger.Transaction{ledger.MakeTransaction(map[string]interface{}{"op": "genesis", "ledger": name})}
		l, _, err := leader.sc.InitMicroledger(ctx, name, dids, genesis)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", name, err)
		}
		ledgers = append(ledgers, l)
	}

	if s.hub != nil {
		for _, did := range s.opts.offline {
			s.hub.SetOffline(did, true)
		}
	}

	report := &simReport{Failures: make(map[consensus.Kind]int)}
	for i := 0; i < s.opts.txns; i++ {
		txns := []ledger.Transaction{ledger.MakeTransaction(map[string]interface{}{"op": "sim", "round": i, "nonce": uuid.NewString()})}
		var err error
		if s.opts.parallel > 0 {
			_, err = leader.sc.CommitInParallel(ctx, ledgers, dids, txns)
		} else {
			_, err = leader.sc.Commit(ctx, ledgers[0], dids, txns)
		}
		if err == nil {
			report.Committed++
			continue
		}
		var re *consensus.RoundError
		if !errors.As(err, &re) {
			return nil, err
		}
		report.Failed++
		report.Failures[re.Kind]++
		s.log.Infof("round %d failed: %v", i, err)
		if ctx.Err() != nil {
			break
		}
	}

	if s.hub != nil {
		for _, did := range s.opts.offline {
			s.hub.SetOffline(did, false)
		}
	}
	s.settle(ctx, names)

	var err error
	report.Ledgers, err = s.snapshot(names)
	if err != nil {
		return nil, err
	}
	report.Rounds, err = s.roundCounts()
	if err != nil {
		return nil, err
	}
	return report, nil
}

// settle waits until acceptors finished the rounds the leader concluded, or
// for at most one consensus time-to-live.
func (s *simulation) settle(ctx context.Context, names []string) {
	deadline := time.Now().Add(s.cfg.ConsensusTimeToLive())
	for time.Now().Before(deadline) && ctx.Err() == nil {
		ledgers, err := s.snapshot(names)
		if err == nil && (&simReport{Ledgers: ledgers}).Agreed() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (s *simulation) snapshot(names []string) ([]ledgerReport, error) {
	var out []ledgerReport
	for _, a := range s.agents {
		for _, name := range names {
			exists, err := a.engine.Exists(name)
			if err != nil {
				return nil, err
			}
			if !exists {
				out = append(out, ledgerReport{Agent: a.id.DID, Ledger: name})
				continue
			}
			l, err := a.engine.Open(name)
			if err != nil {
				return nil, err
			}
			out = append(out, ledgerReport{
				Agent:       a.id.DID,
				Ledger:      name,
				Size:        l.Size(),
				Uncommitted: l.UncommittedSize(),
				Root:        l.RootHash().String(),
			})
		}
	}
	return out, nil
}

// roundCounts reads the rounds counter, keyed by operation/outcome.
func (s *simulation) roundCounts() (map[string]float64, error) {
	counts := make(map[string]float64)
	if s.registry == nil {
		return counts, nil
	}
	families, err := s.registry.Gather()
	if err != nil {
		return nil, err
	}
	for _, mf := range families {
		if mf.GetName() != "microledger_consensus_rounds_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			var op, outcome string
			for _, lp := range m.GetLabel() {
				switch lp.GetName() {
				case "operation":
					op = lp.GetValue()
				case "outcome":
					outcome = lp.GetValue()
				}
			}
			counts[op+"/"+outcome] += m.GetCounter().GetValue()
		}
	}
	return counts, nil
}
