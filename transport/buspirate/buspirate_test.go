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

package buspirate

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ZaparooProject/go-nrf24"
	virt "github.com/ZaparooProject/go-nrf24/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"periph.io/x/conn/v3/gpio"
)

var errPortClosed = errors.New("port is closed")

// mockSerialPort implements serial.Port over an emulated Bus Pirate.
type mockSerialPort struct {
	backend     io.ReadWriter
	readTimeout time.Duration
	closed      bool
}

func newMockSerialPort(backend io.ReadWriter) *mockSerialPort {
	return &mockSerialPort{backend: backend, readTimeout: pollTimeout}
}

func (*mockSerialPort) SetMode(_ *serial.Mode) error {
	return nil
}

func (m *mockSerialPort) Read(p []byte) (int, error) {
	if m.closed {
		return 0, errPortClosed
	}
	n, err := m.backend.Read(p)
	if n == 0 && err == nil {
		// a real port blocks for its read timeout
		time.Sleep(50 * time.Microsecond)
	}
	return n, err //nolint:wrapcheck // test double
}

func (m *mockSerialPort) Write(p []byte) (int, error) {
	if m.closed {
		return 0, errPortClosed
	}
	return m.backend.Write(p) //nolint:wrapcheck // test double
}

func (*mockSerialPort) Drain() error {
	return nil
}

// ResetInputBuffer discards pending replies. Three empty reads in a row
// mean nothing is left, even behind a jittery connection.
func (m *mockSerialPort) ResetInputBuffer() error {
	buf := make([]byte, 64)
	for empty := 0; empty < 3; {
		n, err := m.backend.Read(buf)
		if err != nil {
			return err //nolint:wrapcheck // test double
		}
		if n == 0 {
			empty++
		} else {
			empty = 0
		}
	}
	return nil
}

func (*mockSerialPort) ResetOutputBuffer() error {
	return nil
}

func (*mockSerialPort) SetDTR(_ bool) error {
	return nil
}

func (*mockSerialPort) SetRTS(_ bool) error {
	return nil
}

func (*mockSerialPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

func (m *mockSerialPort) SetReadTimeout(t time.Duration) error {
	m.readTimeout = t
	return nil
}

func (m *mockSerialPort) Close() error {
	m.closed = true
	return nil
}

func (*mockSerialPort) Break(_ time.Duration) error {
	return nil
}

var (
	_ serial.Port      = (*mockSerialPort)(nil)
	_ nrf24.ContextBus = (*Transport)(nil)
	_ nrf24.ContextPin = (*Transport)(nil)
)

type noDelay struct{}

func (noDelay) Delay(time.Duration) {}

type rig struct {
	tr   *Transport
	bp   *virt.VirtualBusPirate
	chip *virt.VirtualNRF24
	port *mockSerialPort
}

func newRig(t *testing.T, jitter bool) rig {
	t.Helper()
	chip := virt.NewVirtualNRF24()
	bp := virt.NewVirtualBusPirate(chip)
	var backend io.ReadWriter = bp
	if jitter {
		backend = virt.NewJitteryConn(bp, virt.JitterConfig{
			MaxLatency: 50 * time.Microsecond,
			MaxChunk:   3,
			EmptyEvery: 4,
			Seed:       99,
		})
	}
	port := newMockSerialPort(backend)
	cfg := DefaultConfig()
	cfg.Port = "/dev/ttyUSB7"
	tr, err := newTransport(context.Background(), port, cfg)
	require.NoError(t, err)
	return rig{tr: tr, bp: bp, chip: chip, port: port}
}

func TestNewTransport_Handshake(t *testing.T) {
	t.Parallel()
	r := newRig(t, false)

	assert.Equal(t, virt.BPSPI, r.bp.Mode())
	assert.Equal(t, byte(Speed1MHz), r.bp.Speed())
	assert.Equal(t, byte(spiMode0), r.bp.SPIConfig())
	assert.Equal(t, byte(periphPower|periphCS), r.bp.Peripherals())
	assert.Equal(t, []byte{0x00, 0x01, 0x63, 0x8A, 0x49}, r.bp.Commands())
	assert.Equal(t, "buspirate:/dev/ttyUSB7", r.tr.String())
}

func TestNewTransport_Options(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cfg        Config
		wantPeriph byte
		wantSpeed  byte
	}{
		{name: "No_Power", cfg: Config{Speed: Speed250kHz}, wantPeriph: periphCS, wantSpeed: 2},
		{name: "PullUps", cfg: Config{Speed: Speed8MHz, PullUps: true}, wantPeriph: periphCS | periphPullUps, wantSpeed: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			bp := virt.NewVirtualBusPirate(virt.NewVirtualNRF24())

			_, err := newTransport(context.Background(), newMockSerialPort(bp), tt.cfg)

			require.NoError(t, err)
			assert.Equal(t, tt.wantPeriph, bp.Peripherals())
			assert.Equal(t, tt.wantSpeed, bp.Speed())
		})
	}
}

func TestNewTransport_InvalidSpeed(t *testing.T) {
	t.Parallel()
	port := newMockSerialPort(virt.NewVirtualBusPirate(virt.NewVirtualNRF24()))

	_, err := newTransport(context.Background(), port, Config{Speed: 8})

	require.Error(t, err)
	assert.True(t, port.closed)
}

func TestNewTransport_NoResponse(t *testing.T) {
	t.Parallel()
	bp := virt.NewVirtualBusPirate(virt.NewVirtualNRF24())
	bp.SetMute(true)
	port := newMockSerialPort(bp)

	_, err := newTransport(context.Background(), port, Config{ReadTimeout: 5 * time.Millisecond})

	require.ErrorIs(t, err, ErrNoResponse)
	assert.True(t, port.closed)
	assert.Len(t, bp.Commands(), maxResetAttempts)
}

func TestNewTransport_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	port := newMockSerialPort(virt.NewVirtualBusPirate(virt.NewVirtualNRF24()))

	_, err := newTransport(ctx, port, DefaultConfig())

	require.ErrorIs(t, err, context.Canceled)
}

func TestTransport_LongFrameSplitsIntoBulkChunks(t *testing.T) {
	t.Parallel()
	r := newRig(t, false)
	before := len(r.bp.Commands())

	w := make([]byte, 33)
	w[0] = 0xA0 // W_TX_PAYLOAD
	rbuf := make([]byte, len(w))
	require.NoError(t, r.tr.Tx(w, rbuf))

	assert.Equal(t, []byte{0x02, 0x1F, 0x1F, 0x10, 0x03}, r.bp.Commands()[before:])
	assert.Equal(t, 1, r.chip.TxQueued())
	assert.Equal(t, byte(0x0E), rbuf[0], "STATUS clocked out first")
}

func TestTransport_MismatchedBuffers(t *testing.T) {
	t.Parallel()
	r := newRig(t, false)

	err := r.tr.Tx([]byte{0xFF, 0xFF}, make([]byte, 1))

	require.Error(t, err)
}

func TestTransport_TxContextCancelledBeforeFrame(t *testing.T) {
	t.Parallel()
	r := newRig(t, false)
	before := len(r.bp.Commands())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.tr.TxContext(ctx, []byte{0xFF}, nil)

	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, r.bp.Commands(), before)
	assert.Empty(t, r.chip.Transactions())
}

func TestTransport_OutDrivesAux(t *testing.T) {
	t.Parallel()
	r := newRig(t, false)

	require.NoError(t, r.tr.Out(gpio.High))
	assert.Equal(t, gpio.High, r.chip.CE())
	assert.Equal(t, byte(periphPower|periphAux|periphCS), r.bp.Peripherals())

	require.NoError(t, r.tr.Out(gpio.Low))
	assert.Equal(t, gpio.Low, r.chip.CE())
}

func TestTransport_DeviceOverJitteryLink(t *testing.T) {
	t.Parallel()
	r := newRig(t, true)

	cfg := nrf24.DefaultConfig()
	cfg.Channel = 42
	dev, err := nrf24.New(r.tr, r.tr, cfg, nrf24.WithDelayer(noDelay{}))
	require.NoError(t, err)

	ok, err := dev.IsConnected()
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, dev.PowerUp())
	require.NoError(t, dev.StartTransmit())
	require.NoError(t, dev.Send([]byte("over usb"), false))

	sent := r.chip.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, 42, sent[0].Channel)
	assert.Equal(t, gpio.Low, r.chip.CE())
}

func TestTransport_Close(t *testing.T) {
	t.Parallel()
	r := newRig(t, false)
	require.NoError(t, r.tr.Out(gpio.High))

	require.NoError(t, r.tr.Close())
	require.NoError(t, r.tr.Close())

	assert.Equal(t, gpio.Low, r.chip.CE())
	assert.Equal(t, virt.BPTerminal, r.bp.Mode())
	assert.True(t, r.port.closed)
	require.ErrorIs(t, r.tr.Tx([]byte{0xFF}, nil), ErrClosed)
	require.ErrorIs(t, r.tr.Out(gpio.High), ErrClosed)
}

func TestSpeed_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1MHz", Speed1MHz.String())
	assert.Equal(t, "2.6MHz", Speed2600kHz.String())
	assert.Equal(t, "Speed(9)", Speed(9).String())
}
