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

package timers

import (
	"time"
)

// Monotonic is the system clock. Durations it measures use the monotonic
// reading, so wall-clock jumps do not shorten or extend timeouts.
type Monotonic struct{}

// MakeMonotonicClock returns the system clock.
func MakeMonotonicClock() Clock {
	return Monotonic{}
}

// Now implements Clock.
func (Monotonic) Now() time.Time {
	return time.Now()
}

// After implements Clock.
func (Monotonic) After(delta time.Duration) <-chan time.Time {
	if delta <= 0 {
		fired := make(chan time.Time, 1)
		fired <- time.Now()
		return fired
	}
	return time.After(delta)
}
