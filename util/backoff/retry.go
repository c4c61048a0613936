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

// Package backoff turns repeated failures into randomized, exponentially
// growing delays.
package backoff

import (
	"context"
	"math/rand"
	"time"

	"github.com/algorand/go-microledger/logging"
	"github.com/algorand/go-microledger/util/timers"
)

const defaultMinWait = time.Millisecond

// Config holds the parameters of a retry loop. The zero value retries
// forever, starting at one millisecond, and logs failures at Debug level.
type Config struct {
	// Report is called with every failure. Returning a non-nil error stops
	// the loop with that error.
	Report func(error) error

	// MinWait is the first delay; MaxWait, if set, caps every delay.
	MinWait time.Duration
	MaxWait time.Duration

	// Clock measures the delays; nil means the system clock.
	Clock timers.Clock
}

func defaultReport(err error) error {
	logging.Base().Debugf("backoff: %v", err)
	return nil
}

// Retry calls try with the zero Config.
func Retry(ctx context.Context, try func() error) error {
	return Config{}.Retry(ctx, try)
}

// Retry calls try until it succeeds, Report gives up, or ctx is done. If ctx
// is already done, try is never called and ctx.Err() is returned.
func (c Config) Retry(ctx context.Context, try func() error) error {
	if c.Report == nil {
		c.Report = defaultReport
	}
	if c.Clock == nil {
		c.Clock = timers.MakeMonotonicClock()
	}
	if c.MinWait <= 0 {
		c.MinWait = defaultMinWait
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	backoff := c.MinWait
	for {
		before := c.Clock.Now()
		err := try()
		if err == nil {
			return nil
		}
		elapsed := c.Clock.Now().Sub(before)

		if err = c.Report(err); err != nil {
			return err
		}

		// an attempt never waits less than the last attempt took
		if backoff <= elapsed {
			backoff = elapsed
		}
		backoff += time.Duration(rand.Int63n(int64(backoff)))
		if c.MaxWait > 0 && backoff > c.MaxWait {
			backoff = c.MaxWait
		}

		select {
		case <-c.Clock.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
