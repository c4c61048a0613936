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

package config

import (
	"path/filepath"
	"time"
)

// Local holds the per-agent configuration settings for the consensus machine
// and the processes hosting it.
//
// The versioned struct tags are treated like constants: once a version is
// released its defaults are never edited. A default change is expressed by
// adding a new version tag to the field and to Version.
type Local struct {
	// Version tracks the current version of the defaults so we can migrate old -> new.
	Version uint32 `version[0]:"0" version[1]:"1"`

	// ConsensusTimeToLiveSec bounds every request/reply exchange of a round led by this agent.
	// Acceptors use the smaller of this value and the timeout the leader asked for.
	ConsensusTimeToLiveSec int64 `version[0]:"60"`

	// LockTimeToLiveSec is how long a ledger lock taken for a round stays valid without release.
	LockTimeToLiveSec int64 `version[0]:"60"`

	// LockWaitSec is how long a round waits for busy ledgers before failing. Zero fails immediately.
	LockWaitSec int64 `version[0]:"0" version[1]:"3"`

	// NotifyPeersOnFailure controls whether failed rounds send a problem report to the other participants.
	NotifyPeersOnFailure bool `version[0]:"true"`

	// BaseLoggerDebugLevel specifies the logging level (0 = Panic ... 5 = Debug).
	BaseLoggerDebugLevel uint32 `version[0]:"4"`

	// LogSizeLimit is the log file size limit in bytes. When set to 0 logs are written to stdout.
	LogSizeLimit uint64 `version[0]:"1073741824"`

	// LogArchiveName is the text/template for creating the log archive filename.
	LogArchiveName string `version[0]:"mlsim.archive.log"`

	// LogArchiveMaxAge is the maximum age of the archived log, parsed with time.ParseDuration.
	// An empty value keeps archives forever.
	LogArchiveMaxAge string `version[0]:""`

	// LedgerBackend selects the microledger storage engine, "memory" or "sqlite".
	LedgerBackend string `version[0]:"memory"`

	// LedgerDBFilename is the sqlite database file used when LedgerBackend is "sqlite",
	// relative to the data directory.
	LedgerDBFilename string `version[0]:"microledgers.sqlite"`

	// NetAddress is the address on which the websocket coprotocol endpoint listens, e.g. 127.0.0.1:0.
	// Leave it blank to use in-process delivery only.
	NetAddress string `version[0]:""`

	// EnableMetrics registers the consensus metrics with prometheus.
	EnableMetrics bool `version[0]:"true"`
}

// ConsensusTimeToLive returns ConsensusTimeToLiveSec as a duration.
func (cfg Local) ConsensusTimeToLive() time.Duration {
	return time.Duration(cfg.ConsensusTimeToLiveSec) * time.Second
}

// LockTimeToLive returns LockTimeToLiveSec as a duration.
func (cfg Local) LockTimeToLive() time.Duration {
	return time.Duration(cfg.LockTimeToLiveSec) * time.Second
}

// LockWait returns LockWaitSec as a duration.
func (cfg Local) LockWait() time.Duration {
	return time.Duration(cfg.LockWaitSec) * time.Second
}

// ArchiveMaxAge parses LogArchiveMaxAge. An empty setting yields zero.
func (cfg Local) ArchiveMaxAge() (time.Duration, error) {
	if cfg.LogArchiveMaxAge == "" {
		return 0, nil
	}
	return time.ParseDuration(cfg.LogArchiveMaxAge)
}

// ResolveLogPaths returns the live log and archive locations under rootDir.
func (cfg Local) ResolveLogPaths(rootDir string) (liveLog, archive string) {
	liveLog = filepath.Join(rootDir, "mlsim.log")
	archive = filepath.Join(rootDir, cfg.LogArchiveName)
	return liveLog, archive
}

// LedgerDBPath returns the location of the sqlite ledger database under rootDir.
func (cfg Local) LedgerDBPath(rootDir string) string {
	if filepath.IsAbs(cfg.LedgerDBFilename) {
		return cfg.LedgerDBFilename
	}
	return filepath.Join(rootDir, cfg.LedgerDBFilename)
}
