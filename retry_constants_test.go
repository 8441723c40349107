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

package nrf24

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryConstants_ConnectionValues(t *testing.T) {
	t.Parallel()

	assert.GreaterOrEqual(t, DefaultConnectionRetries, 1)
	assert.LessOrEqual(t, DefaultConnectionRetries, 10)
	assert.Greater(t, ConnectionMaxBackoff, ConnectionInitialBackoff)
	assert.GreaterOrEqual(t, ConnectionBackoffMultiplier, 1.5)
	assert.LessOrEqual(t, ConnectionBackoffMultiplier, 3.0)
	assert.GreaterOrEqual(t, ConnectionJitter, 0.0)
	assert.LessOrEqual(t, ConnectionJitter, 0.5)

	minExpected := time.Duration(DefaultConnectionRetries) * ConnectionMaxBackoff
	assert.Greater(t, ConnectionRetryTimeout, minExpected,
		"timeout must leave room for every attempt at the maximum backoff")
}

func TestRetryConstants_SendDelaysIncrease(t *testing.T) {
	t.Parallel()

	assert.Less(t, SendRetryDelay1, SendRetryDelay2)
	assert.Less(t, SendRetryDelay2, SendRetryDelay3)
	assert.Equal(t, []time.Duration{SendRetryDelay1, SendRetryDelay2, SendRetryDelay3}, sendRetryDelays)
	assert.GreaterOrEqual(t, SendMaxRetries, 1)
}

func TestRetryConstants_Wait(t *testing.T) {
	t.Parallel()

	assert.Positive(t, DefaultWaitPollInterval)
	assert.Greater(t, WaitMaxErrors, 1)
}
