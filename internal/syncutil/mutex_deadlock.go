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

//go:build deadlock

// Package syncutil picks the mutex type used by the simulator, transports
// and polling loop. This build checks lock ordering with go-deadlock.
package syncutil

import (
	"os"
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// DeadlockDetection reports whether lock checking is compiled in.
const DeadlockDetection = true

// TimeoutEnv overrides how long a lock may be waited on before go-deadlock
// reports it, as a time.ParseDuration string.
const TimeoutEnv = "NRF24_DEADLOCK_TIMEOUT"

func init() {
	if d, ok := timeoutFromEnv(); ok {
		deadlock.Opts.DeadlockTimeout = d
	}
}

// Mutex is a go-deadlock mutex.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is a go-deadlock reader/writer mutex.
type RWMutex struct {
	deadlock.RWMutex
}

func timeoutFromEnv() (time.Duration, bool) {
	d, err := time.ParseDuration(os.Getenv(TimeoutEnv))
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
