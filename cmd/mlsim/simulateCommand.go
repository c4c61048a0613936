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
	"fmt"
	"os"
	"os/signal"
	"sort"

	"github.com/spf13/cobra"

	"github.com/algorand/go-microledger/config"
	"github.com/algorand/go-microledger/logging"
)

var (
	simAgents   int
	simTxns     int
	simParallel int
	simBackend  string
	simOffline  []string
)

func init() {
	simulateCmd.Flags().IntVarP(&simAgents, "agents", "n", 3, "Number of agents; agent 0 leads every round")
	simulateCmd.Flags().IntVarP(&simTxns, "txns", "t", 10, "Number of commit rounds, one transaction each")
	simulateCmd.Flags().IntVar(&simParallel, "parallel", 0, "Commit every transaction to this many ledgers in one round")
	simulateCmd.Flags().StringVar(&simBackend, "backend", "", "Ledger backend, memory or sqlite (default from config)")
	simulateCmd.Flags().StringArrayVar(&simOffline, "offline", nil, "DID of an acceptor to take offline after the ledgers are created")

	rootCmd.AddCommand(simulateCmd)
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run consensus rounds between in-process agents",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		dataDir := resolveDataDir()
		cfg := config.GetDefaultLocal()
		if dataDir != "" {
			var err error
			cfg, err = config.LoadConfigFromDisk(dataDir)
			if err != nil && !os.IsNotExist(err) {
				reportErrorf("Error loading config file from '%s': %v", dataDir, err)
			}
		}

		log, closeLog := simulationLogger(cfg, dataDir)
		defer closeLog()

		opts := simOptions{
			agents:   simAgents,
			txns:     simTxns,
			parallel: simParallel,
			backend:  cfg.LedgerBackend,
			offline:  simOffline,
		}
		if simBackend != "" {
			opts.backend = simBackend
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		report, err := runSimulation(ctx, opts, cfg, dataDir, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Simulation failed: %v\n", err)
			log.Fatalf("Simulation failed: %v", err)
		}
		printReport(report)
		if !report.Agreed() {
			fmt.Fprintln(os.Stderr, "Agents disagree on the ledger state")
			log.Fatal("Agents disagree on the ledger state")
		}
	},
}

// simulationLogger logs at the configured level, to a rotating file under
// dataDir when one is given and LogSizeLimit allows it. A Fatal entry closes
// the file before the process exits.
func simulationLogger(cfg config.Local, dataDir string) (logging.Logger, func()) {
	log := logging.NewLogger()
	log.SetLevel(logging.Level(cfg.BaseLoggerDebugLevel))
	if dataDir == "" || cfg.LogSizeLimit == 0 {
		log.SetOutput(os.Stdout)
		return log, func() {}
	}

	maxAge, err := cfg.ArchiveMaxAge()
	if err != nil {
		reportErrorf("Invalid LogArchiveMaxAge '%s': %v", cfg.LogArchiveMaxAge, err)
	}
	liveLog, archive := cfg.ResolveLogPaths(dataDir)
	writer := logging.MakeCyclicFileWriter(liveLog, archive, cfg.LogSizeLimit, maxAge)
	log.SetOutput(writer)
	log.SetJSONFormatter()
	logging.RegisterExitHandler(func() { writer.Close() })
	return log, func() { writer.Close() }
}

func printReport(report *simReport) {
	reportInfof("Rounds committed: %d, failed: %d", report.Committed, report.Failed)
	for kind, n := range report.Failures {
		reportInfof("  %v: %d", kind, n)
	}
	for _, lr := range report.Ledgers {
		reportInfof("%s %s size=%d uncommitted=%d root=%s", lr.Agent, lr.Ledger, lr.Size, lr.Uncommitted, lr.Root)
	}
	if len(report.Rounds) > 0 {
		keys := make([]string, 0, len(report.Rounds))
		for k := range report.Rounds {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		reportInfoln("Rounds by operation/outcome:")
		for _, k := range keys {
			reportInfof("  %s %v", k, report.Rounds[k])
		}
	}
}
