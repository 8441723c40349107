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

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLinkState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", LinkIdle.String())
	assert.Equal(t, "up", LinkUp.String())
	assert.Equal(t, "lost", LinkLost.String())
	assert.Equal(t, "unknown", LinkState(9).String())
}

func TestLinkTracker(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lt := newLinkTracker(100 * time.Millisecond)
	assert.Equal(t, LinkStatus{State: LinkIdle, LastPipe: -1}, lt.status())

	assert.False(t, lt.expire(base), "idle link cannot be lost")
	assert.True(t, lt.observe(base, 2), "first packet brings the link up")
	assert.False(t, lt.observe(base.Add(10*time.Millisecond), 3))
	assert.Equal(t, 3, lt.status().LastPipe)

	assert.False(t, lt.expire(base.Add(110*time.Millisecond)), "timeout runs from the last packet")
	assert.True(t, lt.expire(base.Add(111*time.Millisecond)))
	assert.False(t, lt.expire(base.Add(time.Second)), "lost is reported once")
	assert.Equal(t, LinkLost, lt.status().State)

	assert.True(t, lt.observe(base.Add(2*time.Second), 0))
	assert.Equal(t, LinkUp, lt.status().State)
}

func TestLinkTracker_NoTimeout(t *testing.T) {
	t.Parallel()

	base := time.Now()
	lt := newLinkTracker(0)
	lt.observe(base, 0)
	assert.False(t, lt.expire(base.Add(time.Hour)))
	assert.Equal(t, LinkUp, lt.status().State)
}
