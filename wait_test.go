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
	"context"
	"errors"
	"testing"
	"time"

	testutil "github.com/ZaparooProject/go-nrf24/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWaitDevice(t *testing.T, cfg Config) (*Device, *testutil.VirtualNRF24, *hookDelayer) {
	t.Helper()
	sim := testutil.NewVirtualNRF24()
	delay := &hookDelayer{}
	dev, err := New(sim, sim, cfg, WithDelayer(delay))
	require.NoError(t, err)
	moveTo(t, dev, ReceiveMode)
	return dev, sim, delay
}

func TestWaitForPacket_AlreadyQueued(t *testing.T) {
	t.Parallel()

	dev, sim, delay := newWaitDevice(t, DefaultConfig())
	require.True(t, sim.Receive(2, []byte{0xAA, 0xBB}))
	before := len(delay.Delays())

	buf := make([]byte, MaxPayloadSize)
	n, pipe, err := dev.WaitForPacket(context.Background(), buf, 0)
	require.NoError(t, err)
	assert.Equal(t, MaxPayloadSize, n)
	assert.Equal(t, 2, pipe)
	assert.Equal(t, []byte{0xAA, 0xBB}, buf[:2])
	assert.Len(t, delay.Delays(), before, "no wait when a packet is ready")
}

func TestWaitForPacket_PollsUntilArrival(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Payload = DynamicPayload()
	dev, sim, delay := newWaitDevice(t, cfg)

	polls := 0
	delay.hook = func(d time.Duration) {
		assert.Equal(t, time.Millisecond, d)
		polls++
		if polls == 3 {
			sim.Receive(0, []byte{1, 2, 3})
		}
	}

	buf := make([]byte, MaxPayloadSize)
	n, pipe, err := dev.WaitForPacket(context.Background(), buf, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, polls)
	assert.Equal(t, 0, pipe)
	assert.Equal(t, []byte{1, 2, 3}, buf[:n])
}

func TestWaitForPacket_SkipsCorruptPackets(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Payload = DynamicPayload()
	dev, sim, delay := newWaitDevice(t, cfg)

	sim.SetCorruptWidth(40)
	require.True(t, sim.Receive(0, []byte{9}))
	delay.hook = func(time.Duration) {
		sim.SetCorruptWidth(-1)
		sim.Receive(1, []byte{5})
	}

	buf := make([]byte, MaxPayloadSize)
	n, pipe, err := dev.WaitForPacket(context.Background(), buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, pipe)
	assert.Equal(t, []byte{5}, buf[:n])
}

func TestWaitForPacket_RequiresReceiveMode(t *testing.T) {
	t.Parallel()

	dev, _, _ := newSimDevice(t, DefaultConfig())
	_, _, err := dev.WaitForPacket(context.Background(), make([]byte, 32), 0)
	var modeErr *ModeError
	require.ErrorAs(t, err, &modeErr)
}

func TestWaitForPacket_ContextCancelled(t *testing.T) {
	t.Parallel()

	dev, _, delay := newWaitDevice(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	delay.hook = func(time.Duration) { cancel() }

	_, pipe, err := dev.WaitForPacket(ctx, make([]byte, 32), 0)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, -1, pipe)
}

func TestWaitForPacket_TooManyErrors(t *testing.T) {
	t.Parallel()

	dev, sim, delay := newWaitDevice(t, DefaultConfig())
	sim.InjectBusError(testutil.ErrBusFault)
	before := len(delay.Delays())

	_, _, err := dev.WaitForPacket(context.Background(), make([]byte, 32), 0)
	require.ErrorIs(t, err, testutil.ErrBusFault)
	assert.Contains(t, err.Error(), "too many receive errors")
	assert.Len(t, delay.Delays()[before:], WaitMaxErrors)
}

func TestWaitForPacket_ShortBufferNotRetried(t *testing.T) {
	t.Parallel()

	dev, sim, delay := newWaitDevice(t, DefaultConfig())
	require.True(t, sim.Receive(0, []byte{1, 2, 3}))
	before := len(delay.Delays())

	_, _, err := dev.WaitForPacket(context.Background(), make([]byte, 4), 0)
	var pe *PayloadSizeError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, PayloadSizeError{Given: MaxPayloadSize, Max: 4}, *pe)
	assert.NotContains(t, err.Error(), "too many receive errors")
	assert.Len(t, delay.Delays(), before, "returned without polling again")
	assert.Equal(t, 1, sim.RxQueued())
}

func TestHandleWaitError(t *testing.T) {
	t.Parallel()

	dev := &Device{}
	count := 0
	cause := errors.New("glitch")
	for range WaitMaxErrors {
		require.NoError(t, dev.handleWaitError(&count, cause))
	}
	err := dev.handleWaitError(&count, cause)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, WaitMaxErrors+1, count)
}
