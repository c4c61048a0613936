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
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation labels used by the round metrics.
const (
	opInit                 = "init"
	opAcceptInit           = "accept_init"
	opCommit               = "commit"
	opAcceptCommit         = "accept_commit"
	opCommitParallel       = "commit_parallel"
	opAcceptCommitParallel = "accept_commit_parallel"
)

const outcomeSuccess = "success"

type roundMetrics struct {
	rounds         *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	problemReports prometheus.Counter
}

func makeRoundMetrics(reg prometheus.Registerer) (*roundMetrics, error) {
	m := &roundMetrics{
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "microledger",
			Subsystem: "consensus",
			Name:      "rounds_total",
			Help:      "Consensus rounds finished, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "microledger",
			Subsystem: "consensus",
			Name:      "round_seconds",
			Help:      "Wall time of consensus rounds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"operation"}),
		problemReports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "microledger",
			Subsystem: "consensus",
			Name:      "problem_reports_sent_total",
			Help:      "Problem reports sent to peers.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.rounds, err = register(reg, m.rounds); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.problemReports, err = register(reg, m.problemReports); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, or returns the collector already registered
// under the same description so that several machines can share a registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

func (m *roundMetrics) observe(op string, start time.Time, err error) {
	outcome := outcomeSuccess
	var re *RoundError
	if errors.As(err, &re) {
		outcome = re.Kind.String()
	} else if err != nil {
		outcome = KindProtocol.String()
	}
	m.rounds.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
