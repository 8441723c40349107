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

package mcu

import (
	"errors"
	"testing"
	"time"

	"github.com/ZaparooProject/go-nrf24"
	virt "github.com/ZaparooProject/go-nrf24/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"tinygo.org/x/drivers"
)

var errSPIFault = errors.New("spi fault")

// fakeSPI is a microcontroller SPI peripheral wired to the simulator. Bytes
// sent through Transfer are collected and run as one frame when CSN rises.
type fakeSPI struct {
	sim     *virt.VirtualNRF24
	err     error
	frame   []byte
	miso    []byte
	csnLog  []bool
	txCalls int
	csnLow  bool
}

var _ drivers.SPI = (*fakeSPI)(nil)

func (f *fakeSPI) Tx(w, r []byte) error {
	f.txCalls++
	if f.err != nil {
		return f.err
	}
	if !f.csnLow {
		return errors.New("Tx with CSN high")
	}
	return f.sim.Tx(w, r)
}

func (f *fakeSPI) Transfer(b byte) (byte, error) {
	if f.err != nil {
		return 0, f.err
	}
	if len(f.frame) == 0 {
		f.miso = f.sim.Peek(b, 33)
	}
	r := f.miso[len(f.frame)]
	f.frame = append(f.frame, b)
	return r, nil
}

func (f *fakeSPI) setCSN(high bool) {
	f.csnLog = append(f.csnLog, high)
	if high && f.csnLow && len(f.frame) > 0 {
		_ = f.sim.Tx(f.frame, nil)
	}
	f.csnLow = !high
	f.frame = f.frame[:0]
}

type noDelay struct{}

func (noDelay) Delay(time.Duration) {}

func newFake() (*fakeSPI, *virt.VirtualNRF24) {
	sim := virt.NewVirtualNRF24()
	return &fakeSPI{sim: sim}, sim
}

func TestNew_IdleLevels(t *testing.T) {
	t.Parallel()
	spi, sim := newFake()

	New(spi, spi.setCSN, func(b bool) { _ = sim.Out(gpio.Level(b)) })

	assert.Equal(t, []bool{true}, spi.csnLog)
	assert.Equal(t, []gpio.Level{gpio.Low}, sim.CELevels())
}

func TestTransport_Tx(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []Option
	}{
		{name: "Bulk"},
		{name: "Byte_Transfer", opts: []Option{WithByteTransfer()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			spi, sim := newFake()
			tr := New(spi, spi.setCSN, func(b bool) { _ = sim.Out(gpio.Level(b)) }, tt.opts...)

			require.NoError(t, tr.Tx([]byte{0x25, 9}, nil))
			r := make([]byte, 2)
			require.NoError(t, tr.Tx([]byte{0x05, 0xFF}, r))

			assert.Equal(t, []byte{0x0E, 9}, r)
			assert.Equal(t, []byte{9}, sim.Register(virt.RegRFCh))
			assert.Equal(t, []bool{true, false, true, false, true}, spi.csnLog)
		})
	}
}

func TestTransport_TxValidation(t *testing.T) {
	t.Parallel()
	spi, sim := newFake()
	tr := New(spi, spi.setCSN, func(b bool) { _ = sim.Out(gpio.Level(b)) })

	require.Error(t, tr.Tx(nil, nil))
	require.Error(t, tr.Tx([]byte{1, 2}, make([]byte, 1)))
	assert.Zero(t, spi.txCalls)
	assert.Equal(t, []bool{true}, spi.csnLog, "CSN untouched by rejected frames")
}

func TestTransport_TxErrorReleasesCSN(t *testing.T) {
	t.Parallel()
	spi, sim := newFake()
	tr := New(spi, spi.setCSN, func(b bool) { _ = sim.Out(gpio.Level(b)) })
	spi.err = errSPIFault

	err := tr.Tx([]byte{0xFF}, nil)

	require.ErrorIs(t, err, errSPIFault)
	assert.True(t, spi.csnLog[len(spi.csnLog)-1])
}

func TestTransport_DrivesDevice(t *testing.T) {
	t.Parallel()
	spi, sim := newFake()
	tr := New(spi, spi.setCSN, func(b bool) { _ = sim.Out(gpio.Level(b)) }, WithByteTransfer())

	dev, err := nrf24.New(tr, tr, nrf24.DefaultConfig(), nrf24.WithDelayer(noDelay{}))
	require.NoError(t, err)
	require.NoError(t, dev.PowerUp())
	require.NoError(t, dev.StartTransmit())
	require.NoError(t, dev.Send([]byte{1, 2, 3}, true))

	sent := sim.Sent()
	require.Len(t, sent, 1)
	assert.True(t, sent[0].NoAck)
	assert.Equal(t, gpio.Low, sim.CE())
}
