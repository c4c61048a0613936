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

	"github.com/algorand/go-deadlock"
)

// Frozen is a clock that only moves when told to.
type Frozen struct {
	mu      deadlock.Mutex
	now     time.Time
	waiters []frozenWaiter
}

type frozenWaiter struct {
	at time.Time
	ch chan time.Time
}

// MakeFrozenClock creates a clock stopped at now.
func MakeFrozenClock(now time.Time) *Frozen {
	return &Frozen{now: now}
}

// Now implements Clock.
func (m *Frozen) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After implements Clock. The channel fires when Advance moves the clock to
// or past the deadline.
func (m *Frozen) After(delta time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan time.Time, 1)
	at := m.now.Add(delta)
	if delta <= 0 {
		ch <- m.now
		return ch
	}
	m.waiters = append(m.waiters, frozenWaiter{at: at, ch: ch})
	return ch
}

// Advance moves the clock forward by delta and fires every timeout that
// became due.
func (m *Frozen) Advance(delta time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(delta)
	pending := m.waiters[:0]
	for _, w := range m.waiters {
		if !w.at.After(m.now) {
			w.ch <- m.now
			continue
		}
		pending = append(pending, w)
	}
	m.waiters = pending
}

func (m *Frozen) String() string {
	return m.Now().String()
}
