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

import "time"

// Connection retry constants control ConnectDevice.
const (
	// DefaultConnectionRetries is the number of attempts to bring up a chip
	// on an explicit path.
	DefaultConnectionRetries = 3
	// ConnectionInitialBackoff is the delay after the first failed attempt.
	ConnectionInitialBackoff = 50 * time.Millisecond
	// ConnectionMaxBackoff caps the delay between attempts.
	ConnectionMaxBackoff = 500 * time.Millisecond
	// ConnectionBackoffMultiplier is the exponential backoff multiplier.
	ConnectionBackoffMultiplier = 2.0
	// ConnectionJitter is the random jitter factor (0.0-1.0).
	ConnectionJitter = 0.1
	// ConnectionRetryTimeout bounds the whole connection attempt.
	ConnectionRetryTimeout = 10 * time.Second
)

// Send retry constants control SendWithRetry. Delays are a few packet
// times so a busy receiver has drained its FIFO before the next attempt.
const (
	// SendMaxRetries is the default number of attempts.
	SendMaxRetries = 3
	// SendRetryDelay1 is the delay before the first retry.
	SendRetryDelay1 = 2 * time.Millisecond
	// SendRetryDelay2 is the delay before the second retry.
	SendRetryDelay2 = 4 * time.Millisecond
	// SendRetryDelay3 is the delay before the third and later retries.
	SendRetryDelay3 = 8 * time.Millisecond
)

// Receive wait constants control WaitForPacket.
const (
	// DefaultWaitPollInterval is the delay between RX FIFO checks.
	DefaultWaitPollInterval = 5 * time.Millisecond
	// WaitMaxErrors is the number of failed checks WaitForPacket tolerates.
	WaitMaxErrors = 10
)
