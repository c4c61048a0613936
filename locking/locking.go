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

// Package locking hands out named, owner-scoped, time-bounded locks. A
// consensus round locks the names of every ledger it touches so that two
// rounds never mutate the same ledger at once.
package locking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/algorand/go-deadlock"

	"github.com/algorand/go-microledger/util/backoff"
	"github.com/algorand/go-microledger/util/timers"
)

// ErrBusy is wrapped by AcquireWait when some names stayed locked by
// other owners.
var ErrBusy = errors.New("resources are locked by another owner")

// Ticket is one owner's hold on a set of names.
type Ticket struct {
	Owner   string
	Names   []string
	Expires time.Time
}

// Manager holds the lock table.
type Manager struct {
	mu      deadlock.Mutex
	clock   timers.Clock
	holds   map[string]string // name -> owner
	tickets map[string]Ticket
}

// MakeManager creates an empty lock table measuring expiry on clock.
func MakeManager(clock timers.Clock) *Manager {
	if clock == nil {
		clock = timers.MakeMonotonicClock()
	}
	return &Manager{
		clock:   clock,
		holds:   make(map[string]string),
		tickets: make(map[string]Ticket),
	}
}

func normalize(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	n := 0
	for i, name := range out {
		if i > 0 && name == out[n-1] {
			continue
		}
		out[n] = name
		n++
	}
	return out[:n]
}

// releaseLocked drops owner's ticket. m.mu must be held.
func (m *Manager) releaseLocked(owner string) {
	t, ok := m.tickets[owner]
	if !ok {
		return
	}
	for _, name := range t.Names {
		if m.holds[name] == owner {
			delete(m.holds, name)
		}
	}
	delete(m.tickets, owner)
}

// expireLocked drops every ticket past its expiry. m.mu must be held.
func (m *Manager) expireLocked(now time.Time) {
	for owner, t := range m.tickets {
		if !now.Before(t.Expires) {
			m.releaseLocked(owner)
		}
	}
}

// Acquire locks every name in names for owner until ttl passes. Locks the
// owner already held are released first. If any name is held by another
// owner, nothing is locked and the sorted busy names are returned.
func (m *Manager) Acquire(owner string, names []string, ttl time.Duration) (bool, []string) {
	names = normalize(names)

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	m.expireLocked(now)
	m.releaseLocked(owner)

	var busy []string
	for _, name := range names {
		if holder, ok := m.holds[name]; ok && holder != owner {
			busy = append(busy, name)
		}
	}
	if len(busy) > 0 {
		return false, busy
	}

	expires := now.Add(ttl)
	for _, name := range names {
		m.holds[name] = owner
	}
	m.tickets[owner] = Ticket{Owner: owner, Names: names, Expires: expires}
	return true, nil
}

// AcquireWait retries Acquire with randomized backoff until it succeeds or
// ctx is done. On failure the busy names of the last attempt are returned
// along with an error wrapping ErrBusy and the context error.
func (m *Manager) AcquireWait(ctx context.Context, owner string, names []string, ttl time.Duration) ([]string, error) {
	var busy []string
	err := backoff.Config{
		MaxWait: 100 * time.Millisecond,
		Clock:   m.clock,
		Report:  func(error) error { return nil },
	}.Retry(ctx, func() error {
		var ok bool
		ok, busy = m.Acquire(owner, names, ttl)
		if !ok {
			return ErrBusy
		}
		return nil
	})
	if err != nil {
		if len(busy) == 0 {
			busy = normalize(names)
		}
		return busy, fmt.Errorf("%w: %s (%w)", ErrBusy, strings.Join(busy, ", "), err)
	}
	return nil, nil
}

// Release drops every lock held by owner.
func (m *Manager) Release(owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked(owner)
}

// Tickets returns the unexpired tickets, ordered by owner.
func (m *Manager) Tickets() []Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(m.clock.Now())
	out := make([]Ticket, 0, len(m.tickets))
	for _, t := range m.tickets {
		t.Names = append([]string(nil), t.Names...)
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	return out
}
