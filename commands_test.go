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

	testutil "github.com/ZaparooProject/go-nrf24/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterCommandEncoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		addr  byte
		read  byte
		write byte
	}{
		{name: "CONFIG", addr: RegConfig, read: 0x00, write: 0x20},
		{name: "RF_CH", addr: RegRFCh, read: 0x05, write: 0x25},
		{name: "TX_ADDR", addr: RegTxAddr, read: 0x10, write: 0x30},
		{name: "FEATURE", addr: RegFeature, read: 0x1D, write: 0x3D},
		{name: "masked", addr: 0xE5, read: 0x05, write: 0x25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.read, ReadRegisterCmd(tt.addr))
			assert.Equal(t, tt.write, WriteRegisterCmd(tt.addr))
		})
	}
}

func TestReadRegister_ReturnsStatusAndValue(t *testing.T) {
	t.Parallel()

	dev, sim, _ := newSimDevice(t, DefaultConfig())

	st, v, err := dev.ReadRegister(RegRFCh)
	require.NoError(t, err)
	assert.Equal(t, byte(76), v)
	assert.Equal(t, -1, st.RxPipe())
	assert.Equal(t, [][]byte{{0x05, 0xFF}}, sim.Transactions())
}

func TestReadRegisterBytes(t *testing.T) {
	t.Parallel()

	dev, _, _ := newSimDevice(t, DefaultConfig())

	buf := make([]byte, 5)
	_, err := dev.ReadRegisterBytes(RegTxAddr, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xE7, 0xE7, 0xE7, 0xE7, 0xE7}, buf)

	_, err = dev.ReadRegisterBytes(RegTxAddr, make([]byte, 6))
	require.Error(t, err)
	_, err = dev.ReadRegisterBytes(RegTxAddr, nil)
	require.Error(t, err)
}

func TestWriteRegister(t *testing.T) {
	t.Parallel()

	dev, sim, _ := newSimDevice(t, DefaultConfig())

	_, err := dev.WriteRegister(RegRFCh, 40)
	require.NoError(t, err)
	assert.Equal(t, []byte{40}, sim.Register(RegRFCh))
	assert.Equal(t, [][]byte{{0x25, 40}}, sim.Transactions())

	_, err = dev.WriteRegister(RegRFCh)
	require.Error(t, err)
}

func TestWriteRegister_RefusesConfig(t *testing.T) {
	t.Parallel()

	dev, sim, _ := newSimDevice(t, DefaultConfig())

	_, err := dev.WriteRegister(RegConfig, 0x0E)
	require.ErrorIs(t, err, ErrInvalidMode)
	assert.Empty(t, sim.Transactions())
	assert.Equal(t, PowerDown, dev.Mode())
}

func TestTransportErrorCarriesTrace(t *testing.T) {
	t.Parallel()

	dev, sim, _ := newSimDevice(t, DefaultConfig())
	_, _, err := dev.ReadRegister(RegRFCh)
	require.NoError(t, err)

	sim.InjectBusError(testutil.ErrBusFault)
	_, _, err = dev.ReadRegister(RegSetupAW)

	require.ErrorIs(t, err, testutil.ErrBusFault)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ReadRegisterCmd(RegSetupAW), te.Command)
	assert.Equal(t, "ReadRegister", te.Op)

	trace := GetTrace(err)
	require.NotNil(t, trace)
	require.NotEmpty(t, trace.Trace)
	last := trace.Trace[len(trace.Trace)-1]
	assert.Equal(t, TraceTX, last.Direction)
	assert.Equal(t, []byte{0x03, 0xFF}, last.Data)
	assert.True(t, IsRetryable(err))
}

func TestContextErrorsPassThrough(t *testing.T) {
	t.Parallel()

	dev, sim, _ := newSimDevice(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dev.StatusContext(ctx)
	require.ErrorIs(t, err, context.Canceled)
	var te *TransportError
	assert.False(t, errors.As(err, &te))
	assert.Empty(t, sim.Transactions())
}

func TestClosedDevice_RefusesIO(t *testing.T) {
	t.Parallel()

	dev, _, _ := newSimDevice(t, DefaultConfig())
	require.NoError(t, dev.Close())

	_, err := dev.Status()
	require.ErrorIs(t, err, ErrDeviceClosed)
	assert.True(t, IsFatal(err))
}

func TestStatusAndFIFOStatus(t *testing.T) {
	t.Parallel()

	dev, sim, _ := newSimDevice(t, DefaultConfig())
	require.True(t, sim.Receive(1, []byte{1, 2, 3}))

	st, err := dev.Status()
	require.NoError(t, err)
	assert.True(t, st.Has(RxDataReady))
	assert.Equal(t, 1, st.RxPipe())

	fifo, err := dev.FIFOStatus()
	require.NoError(t, err)
	assert.False(t, fifo.Has(FIFORxEmpty))
	assert.True(t, fifo.Has(FIFOTxEmpty))
}

func TestClearInterrupts(t *testing.T) {
	t.Parallel()

	dev, sim, _ := newSimDevice(t, DefaultConfig())
	require.True(t, sim.Receive(0, []byte{0xAA}))

	// non-interrupt bits are masked off
	_, err := dev.ClearInterrupts(RxDataReady | TxFull)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x27, 0x40}}, sim.Transactions())

	st, err := dev.Status()
	require.NoError(t, err)
	assert.False(t, st.Has(RxDataReady))
	assert.Equal(t, 0, st.RxPipe())
}

func TestObserveTX(t *testing.T) {
	t.Parallel()

	dev, bus, _ := newMockDevice(t, DefaultConfig())
	bus.SetResponse(ReadRegisterCmd(RegObserveTx), []byte{0x0E, 0x3A})

	lost, retries, err := dev.ObserveTX()
	require.NoError(t, err)
	assert.Equal(t, 3, lost)
	assert.Equal(t, 10, retries)
}

func TestCarrierDetected(t *testing.T) {
	t.Parallel()

	dev, sim, _ := newSimDevice(t, DefaultConfig())

	got, err := dev.CarrierDetected()
	require.NoError(t, err)
	assert.False(t, got)

	sim.SetCarrier(true)
	got, err = dev.CarrierDetected()
	require.NoError(t, err)
	assert.True(t, got)
}

func TestIsConnected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value byte
		want  bool
	}{
		{name: "5 byte", value: 0x03, want: true},
		{name: "3 byte", value: 0x01, want: true},
		{name: "floating low", value: 0x00, want: false},
		{name: "floating high", value: 0xFF, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dev, bus, _ := newMockDevice(t, DefaultConfig())
			bus.SetResponse(ReadRegisterCmd(RegSetupAW), []byte{0x0E, tt.value})

			got, err := dev.IsConnected()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSendCommand(t *testing.T) {
	t.Parallel()

	dev, sim, _ := newSimDevice(t, DefaultConfig())

	st, resp, err := dev.SendCommand(ReadRegisterCmd(RegRxAddrP1), nil, 5)
	require.NoError(t, err)
	assert.Equal(t, -1, st.RxPipe())
	assert.Equal(t, []byte{0xC2, 0xC2, 0xC2, 0xC2, 0xC2}, resp)

	// the response must not alias the device buffer
	_, _, err = dev.SendCommand(CmdNOP, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(0xC2), resp[0])
	assert.Len(t, sim.Transactions(), 2)

	_, _, err = dev.SendCommand(CmdWriteTxPayload, make([]byte, 33), 0)
	require.Error(t, err)
}

func TestSendCommand_ResponseLengthOutOfRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		respLen int
	}{
		{name: "negative", respLen: -1},
		{name: "above max payload", respLen: MaxPayloadSize + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dev, sim, _ := newSimDevice(t, DefaultConfig())
			assert.NotPanics(t, func() {
				_, resp, err := dev.SendCommand(CmdNOP, nil, tt.respLen)
				require.ErrorIs(t, err, ErrInvalidCommand)
				assert.Nil(t, resp)
			})
			assert.Empty(t, sim.Transactions())
		})
	}
}

func TestActivate(t *testing.T) {
	t.Parallel()

	dev, sim, _ := newSimDevice(t, DefaultConfig())
	require.NoError(t, dev.Activate())
	assert.Equal(t, [][]byte{{0x50, 0x73}}, sim.Transactions())
}

func TestDumpRegisters(t *testing.T) {
	t.Parallel()

	dev, sim, _ := newSimDevice(t, DefaultConfig())

	dump, err := dev.DumpRegisters()
	require.NoError(t, err)
	require.Len(t, dump, len(dumpOrder))
	assert.Len(t, sim.Transactions(), len(dumpOrder))

	byAddr := make(map[byte]RegisterDump, len(dump))
	for _, r := range dump {
		byAddr[r.Addr] = r
	}
	assert.Equal(t, []byte{76}, byAddr[RegRFCh].Value)
	assert.Equal(t, []byte{0xE7, 0xE7, 0xE7, 0xE7, 0xE7}, byAddr[RegRxAddrP0].Value)
	assert.Equal(t, []byte{MaxPayloadSize}, byAddr[RegRxPwP0].Value)
	assert.Equal(t, "RF_CH       4C", byAddr[RegRFCh].String())
}

func TestDumpRegisters_StopsOnError(t *testing.T) {
	t.Parallel()

	dev, sim, _ := newSimDevice(t, DefaultConfig())
	sim.InjectBusError(testutil.ErrBusFault)

	dump, err := dev.DumpRegisters()
	require.ErrorIs(t, err, testutil.ErrBusFault)
	assert.Empty(t, dump)
	assert.Contains(t, err.Error(), "dump CONFIG")
}

func TestStatusString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "RxDR- TxDS- MaxRT- TxFull- RxPipe:-1", Status(0x0E).String())
	assert.Equal(t, "RxDR+ TxDS- MaxRT- TxFull- RxPipe:1", Status(0x42).String())
	assert.Equal(t, "RxDR- TxDS+ MaxRT+ TxFull+ RxPipe:-1", Status(0x3F).String())
	assert.Equal(t, "TxReuse- TxFull- TxEmpty+ RxFull- RxEmpty+", FIFOStatus(0x11).String())
}

func TestStatusRxPipe(t *testing.T) {
	t.Parallel()

	for pipe := range NumPipes {
		assert.Equal(t, pipe, Status(pipe<<1).RxPipe())
	}
	assert.Equal(t, -1, Status(0x0C).RxPipe(), "110 is reserved")
	assert.Equal(t, -1, Status(0x0E).RxPipe())
}

func TestRegisterName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "CONFIG", RegisterName(RegConfig))
	assert.Equal(t, "RX_ADDR_P3", RegisterName(RegRxAddrP3))
	assert.Equal(t, "RX_PW_P5", RegisterName(RegRxPwP5))
	assert.Equal(t, "0x1a", RegisterName(0x1A))
}
