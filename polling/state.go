// go-nrf24
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-nrf24.
//
// go-nrf24 is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-nrf24 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-nrf24; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package polling

import "time"

// LinkState describes whether a remote transmitter is being heard.
type LinkState int

const (
	// LinkIdle means no packet has been received yet.
	LinkIdle LinkState = iota
	// LinkUp means a packet arrived within the link timeout.
	LinkUp
	// LinkLost means packets stopped arriving for longer than the timeout.
	LinkLost
)

func (s LinkState) String() string {
	switch s {
	case LinkIdle:
		return "idle"
	case LinkUp:
		return "up"
	case LinkLost:
		return "lost"
	default:
		return "unknown"
	}
}

// LinkStatus is a snapshot of the link tracker.
type LinkStatus struct {
	LastSeen time.Time
	LastPipe int
	State    LinkState
}

// linkTracker follows packet arrival against a timeout. It is driven by the
// poll loop, so timing is checked each cycle instead of with timers.
type linkTracker struct {
	lastSeen time.Time
	timeout  time.Duration
	lastPipe int
	state    LinkState
}

func newLinkTracker(timeout time.Duration) linkTracker {
	return linkTracker{timeout: timeout, lastPipe: -1}
}

// observe records a packet and reports whether the link just came up.
func (lt *linkTracker) observe(now time.Time, pipe int) bool {
	lt.lastSeen = now
	lt.lastPipe = pipe
	if lt.state == LinkUp {
		return false
	}
	lt.state = LinkUp
	return true
}

// expire reports whether the link just went down at now.
func (lt *linkTracker) expire(now time.Time) bool {
	if lt.timeout <= 0 || lt.state != LinkUp {
		return false
	}
	if now.Sub(lt.lastSeen) <= lt.timeout {
		return false
	}
	lt.state = LinkLost
	return true
}

func (lt *linkTracker) status() LinkStatus {
	return LinkStatus{State: lt.state, LastSeen: lt.lastSeen, LastPipe: lt.lastPipe}
}
