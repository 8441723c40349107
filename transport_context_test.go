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
	"periph.io/x/conn/v3/gpio"
)

// ctxBus adds the cooperative capability to the simulator.
type ctxBus struct {
	*testutil.VirtualNRF24
	calls int
}

func (b *ctxBus) TxContext(ctx context.Context, w, r []byte) error {
	b.calls++
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Tx(w, r)
}

type ctxPin struct {
	err    error
	levels []gpio.Level
}

func (*ctxPin) Out(gpio.Level) error {
	return errors.New("blocking Out used")
}

func (p *ctxPin) OutContext(ctx context.Context, l gpio.Level) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.err != nil {
		return p.err
	}
	p.levels = append(p.levels, l)
	return nil
}

type ctxDelayer struct {
	delays []time.Duration
}

func (*ctxDelayer) Delay(time.Duration) {
	panic("blocking Delay used")
}

func (d *ctxDelayer) DelayContext(ctx context.Context, dur time.Duration) error {
	d.delays = append(d.delays, dur)
	return ctx.Err()
}

func TestExecutor_PrefersContextCapabilities(t *testing.T) {
	t.Parallel()

	bus := &ctxBus{VirtualNRF24: testutil.NewVirtualNRF24()}
	pin := &ctxPin{}
	delay := &ctxDelayer{}

	dev, err := NewContext(context.Background(), bus, pin, DefaultConfig(), WithDelayer(delay))
	require.NoError(t, err)
	require.NoError(t, dev.PowerUpContext(context.Background()))
	require.NoError(t, dev.StartTransmitContext(context.Background()))
	require.NoError(t, dev.SendContext(context.Background(), []byte("ping"), false))

	assert.Equal(t, len(bus.Transactions()), bus.calls)
	assert.Equal(t, []gpio.Level{gpio.Low, gpio.High, gpio.Low, gpio.High, gpio.Low}, pin.levels)
	assert.Equal(t, []time.Duration{PowerUpDelay, CEPulseWidth, CEPulseWidth}, delay.delays)
	require.Len(t, bus.Sent(), 1)
}

func TestExecutor_BlockingBusChecksContextFirst(t *testing.T) {
	t.Parallel()

	dev, sim, _ := newSimDevice(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := dev.ReadRegisterContext(ctx, RegRFCh)

	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, GetTrace(err), "context errors are not bus errors")
	assert.Empty(t, sim.Transactions())
}

func TestExecutor_ContextBusCancellationPassesThrough(t *testing.T) {
	t.Parallel()

	bus := &ctxBus{VirtualNRF24: testutil.NewVirtualNRF24()}
	dev, err := New(bus, &MockPin{}, DefaultConfig(), WithDelayer(&MockDelayer{}))
	require.NoError(t, err)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err = dev.StatusContext(ctx)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	var te *TransportError
	assert.False(t, errors.As(err, &te))
}

func TestExecutor_PinErrors(t *testing.T) {
	t.Parallel()

	cause := errors.New("line busy")
	e := executor{ce: &ctxPin{err: cause}, delay: SleepDelayer{}}

	err := e.setCE(context.Background(), gpio.High)
	var pe *PinError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, gpio.High, pe.Level)
	require.ErrorIs(t, err, cause)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = executor{ce: &ctxPin{}}.setCE(ctx, gpio.Low)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.As(err, &pe))

	err = executor{ce: &MockPin{}}.setCE(ctx, gpio.Low)
	require.ErrorIs(t, err, context.Canceled)
}

func TestExecutor_BlockingDelayerChecksContext(t *testing.T) {
	t.Parallel()

	delay := &MockDelayer{}
	e := executor{delay: delay}
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, e.wait(ctx, time.Millisecond))
	cancel()
	require.ErrorIs(t, e.wait(ctx, time.Millisecond), context.Canceled)
	assert.Equal(t, []time.Duration{time.Millisecond}, delay.Delays())
}

func TestSleepDelayer(t *testing.T) {
	t.Parallel()

	var d SleepDelayer
	start := time.Now()
	require.NoError(t, d.DelayContext(context.Background(), 2*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start = time.Now()
	require.ErrorIs(t, d.DelayContext(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestIsContextError(t *testing.T) {
	t.Parallel()

	assert.True(t, isContextError(context.Canceled))
	assert.True(t, isContextError(errors.Join(errors.New("x"), context.DeadlineExceeded)))
	assert.False(t, isContextError(testutil.ErrBusFault))
}
