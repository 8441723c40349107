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

//go:build !prod

package nrf24

import (
	"testing"

	testutil "github.com/ZaparooProject/go-nrf24/internal/testing"
	"github.com/stretchr/testify/require"
)

// newSimDevice creates a device on a fresh chip simulator with a recording
// delayer, and clears the simulator's log of the setup traffic.
func newSimDevice(t *testing.T, cfg Config) (*Device, *testutil.VirtualNRF24, *MockDelayer) {
	t.Helper()
	sim := testutil.NewVirtualNRF24()
	delay := &MockDelayer{}
	dev, err := New(sim, sim, cfg, WithDelayer(delay))
	require.NoError(t, err)
	sim.ClearTransactions()
	return dev, sim, delay
}

// newMockDevice creates a device on a scripted MockBus and clears its log.
func newMockDevice(t *testing.T, cfg Config) (*Device, *MockBus, *MockPin) {
	t.Helper()
	bus := NewMockBus()
	pin := &MockPin{}
	dev, err := New(bus, pin, cfg, WithDelayer(&MockDelayer{}))
	require.NoError(t, err)
	bus.Reset()
	return dev, bus, pin
}

// moveTo drives a device from PowerDown to mode along legal edges.
func moveTo(t *testing.T, dev *Device, mode Mode) {
	t.Helper()
	require.Equal(t, PowerDown, dev.Mode())
	if mode == PowerDown {
		return
	}
	require.NoError(t, dev.PowerUp())
	if mode != Standby {
		require.NoError(t, dev.Transition(mode))
	}
}
