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
	"fmt"
)

// SPI command set (datasheet §8.3.1, table 20).
const (
	cmdReadRegister      byte = 0x00 // 000A AAAA
	cmdWriteRegister     byte = 0x20 // 001A AAAA
	cmdReadRxPayloadWid  byte = 0x60
	cmdReadRxPayload     byte = 0x61
	cmdWriteTxPayload    byte = 0xA0
	cmdWriteAckPayload   byte = 0xA8 // 1010 1PPP
	cmdWriteTxPayloadNoA byte = 0xB0
	cmdFlushTx           byte = 0xE1
	cmdFlushRx           byte = 0xE2
	cmdReuseTxPayload    byte = 0xE3
	cmdActivate          byte = 0x50
	cmdNOP               byte = 0xFF

	activateKey byte = 0x73
)

// Exported opcodes for callers using SendCommand directly and for tests.
const (
	CmdReadRxPayloadWidth  = cmdReadRxPayloadWid
	CmdReadRxPayload       = cmdReadRxPayload
	CmdWriteTxPayload      = cmdWriteTxPayload
	CmdWriteTxPayloadNoAck = cmdWriteTxPayloadNoA
	CmdWriteAckPayload     = cmdWriteAckPayload
	CmdFlushTx             = cmdFlushTx
	CmdFlushRx             = cmdFlushRx
	CmdReuseTxPayload      = cmdReuseTxPayload
	CmdActivate            = cmdActivate
	CmdNOP                 = cmdNOP
)

// ReadRegisterCmd returns the R_REGISTER opcode for addr.
func ReadRegisterCmd(addr byte) byte {
	return cmdReadRegister | addr&regAddrMask
}

// WriteRegisterCmd returns the W_REGISTER opcode for addr.
func WriteRegisterCmd(addr byte) byte {
	return cmdWriteRegister | addr&regAddrMask
}

// transfer performs one SPI transaction: cmd followed by data, with n bytes
// clocked back after STATUS. The returned slice aliases the device buffer
// and is only valid until the next transfer.
func (d *Device) transfer(ctx context.Context, op string, cmd byte, data []byte, n int) (Status, []byte, error) {
	if d.closed {
		return 0, nil, ErrDeviceClosed
	}
	size := 1 + max(len(data), n)
	if size > len(d.wbuf) {
		return 0, nil, fmt.Errorf("%s: %d byte transaction exceeds %d", op, size, len(d.wbuf))
	}
	w := d.wbuf[:size]
	r := d.rbuf[:size]
	w[0] = cmd
	copy(w[1:], data)
	for i := 1 + len(data); i < size; i++ {
		w[i] = cmdNOP
	}

	d.trace.RecordTX(w, op)
	if err := d.exec.tx(ctx, w, r); err != nil {
		if isContextError(err) {
			return 0, nil, err
		}
		return 0, nil, d.trace.WrapError(&TransportError{Op: op, Command: cmd, Err: err})
	}
	d.trace.RecordRX(r, op)
	return Status(r[0]), r[1:], nil
}

// SendCommandContext issues an arbitrary command with payload bytes and
// reads respLen bytes back. Protocol state (mode, CONFIG shadow) is not
// updated; prefer the typed operations. respLen must be within 0..32.
func (d *Device) SendCommandContext(ctx context.Context, cmd byte, payload []byte, respLen int) (Status, []byte, error) {
	if respLen < 0 || respLen > MaxPayloadSize {
		return 0, nil, fmt.Errorf("SendCommand: response length %d outside 0..%d: %w",
			respLen, MaxPayloadSize, ErrInvalidCommand)
	}
	st, resp, err := d.transfer(ctx, "SendCommand", cmd, payload, respLen)
	if err != nil {
		return st, nil, err
	}
	return st, clone(resp[:respLen]), nil
}

// ReadRegisterContext reads a single-byte register.
func (d *Device) ReadRegisterContext(ctx context.Context, addr byte) (Status, byte, error) {
	st, resp, err := d.transfer(ctx, "ReadRegister", ReadRegisterCmd(addr), nil, 1)
	if err != nil {
		return st, 0, err
	}
	return st, resp[0], nil
}

// ReadRegisterBytesContext reads len(buf) bytes of a multi-byte register
// (RX_ADDR_P0, RX_ADDR_P1, TX_ADDR) into buf.
func (d *Device) ReadRegisterBytesContext(ctx context.Context, addr byte, buf []byte) (Status, error) {
	if len(buf) == 0 || len(buf) > 5 {
		return 0, fmt.Errorf("ReadRegisterBytes: %d bytes requested, want 1-5", len(buf))
	}
	st, resp, err := d.transfer(ctx, "ReadRegister", ReadRegisterCmd(addr), nil, len(buf))
	if err != nil {
		return st, err
	}
	copy(buf, resp)
	return st, nil
}

// WriteRegisterContext writes value bytes to a register. Writing CONFIG
// through here bypasses the mode state machine and is rejected; use the
// mode transitions instead.
func (d *Device) WriteRegisterContext(ctx context.Context, addr byte, value ...byte) (Status, error) {
	if addr&regAddrMask == RegConfig {
		return 0, fmt.Errorf("WriteRegister: CONFIG is owned by the mode state machine: %w", ErrInvalidMode)
	}
	return d.writeRegister(ctx, addr, value...)
}

func (d *Device) writeRegister(ctx context.Context, addr byte, value ...byte) (Status, error) {
	if len(value) == 0 || len(value) > 5 {
		return 0, fmt.Errorf("WriteRegister %s: %d bytes, want 1-5", RegisterName(addr), len(value))
	}
	st, _, err := d.transfer(ctx, "WriteRegister "+RegisterName(addr), WriteRegisterCmd(addr), value, 0)
	return st, err
}

// writeConfig writes CONFIG and updates the shadow only on success.
func (d *Device) writeConfig(ctx context.Context, value byte) error {
	if _, err := d.writeRegister(ctx, RegConfig, value); err != nil {
		return err
	}
	d.config = value
	return nil
}

// StatusContext reads STATUS with a NOP.
func (d *Device) StatusContext(ctx context.Context) (Status, error) {
	st, _, err := d.transfer(ctx, "NOP", cmdNOP, nil, 0)
	return st, err
}

// FIFOStatusContext reads FIFO_STATUS.
func (d *Device) FIFOStatusContext(ctx context.Context) (FIFOStatus, error) {
	_, v, err := d.ReadRegisterContext(ctx, RegFIFOStatus)
	return FIFOStatus(v), err
}

// ClearInterruptsContext clears the given STATUS interrupt flags.
func (d *Device) ClearInterruptsContext(ctx context.Context, flags Status) (Status, error) {
	return d.writeRegister(ctx, RegStatus, byte(flags&InterruptFlags))
}

// ObserveTXContext returns the lost-packet and retransmit counters of
// OBSERVE_TX. The lost counter is reset by writing RF_CH (Apply does).
func (d *Device) ObserveTXContext(ctx context.Context) (lost, retransmits int, err error) {
	_, v, err := d.ReadRegisterContext(ctx, RegObserveTx)
	if err != nil {
		return 0, 0, err
	}
	return int(v >> 4), int(v & 0x0F), nil
}

// CarrierDetectedContext reads RPD: received power above -64 dBm. It is only
// meaningful after at least 170us in ReceiveMode.
func (d *Device) CarrierDetectedContext(ctx context.Context) (bool, error) {
	_, v, err := d.ReadRegisterContext(ctx, RegRPD)
	return v&1 != 0, err
}

// IsConnectedContext checks that the chip answers with a plausible SETUP_AW
// value. A floating MISO reads 0x00 or 0xFF.
func (d *Device) IsConnectedContext(ctx context.Context) (bool, error) {
	_, v, err := d.ReadRegisterContext(ctx, RegSetupAW)
	if err != nil {
		return false, err
	}
	return v >= 1 && v <= 3, nil
}

// ActivateContext sends ACTIVATE 0x73, which toggles access to FEATURE,
// DYNPD and the payload-with-ack commands on the original nRF24L01. The
// nRF24L01+ ignores it. Re-run Apply afterwards.
func (d *Device) ActivateContext(ctx context.Context) error {
	_, _, err := d.transfer(ctx, "Activate", cmdActivate, []byte{activateKey}, 0)
	return err
}

// RegisterDump is one register read back by DumpRegisters.
type RegisterDump struct {
	Value []byte
	Addr  byte
}

func (r RegisterDump) String() string {
	return fmt.Sprintf("%-11s %s", RegisterName(r.Addr), formatHexBytes(r.Value))
}

var dumpOrder = []byte{
	RegConfig, RegEnAA, RegEnRxAddr, RegSetupAW, RegSetupRetr, RegRFCh,
	RegRFSetup, RegStatus, RegObserveTx, RegRPD,
	RegRxAddrP0, RegRxAddrP1, RegRxAddrP2, RegRxAddrP3, RegRxAddrP4, RegRxAddrP5,
	RegTxAddr, RegRxPwP0, RegRxPwP1, RegRxPwP2, RegRxPwP3, RegRxPwP4, RegRxPwP5,
	RegFIFOStatus, RegDynPD, RegFeature,
}

// DumpRegistersContext reads every documented register.
func (d *Device) DumpRegistersContext(ctx context.Context) ([]RegisterDump, error) {
	out := make([]RegisterDump, 0, len(dumpOrder))
	for _, addr := range dumpOrder {
		buf := make([]byte, registerWidth(addr, d.cfg.AddressWidth))
		if _, err := d.ReadRegisterBytesContext(ctx, addr, buf); err != nil {
			return out, fmt.Errorf("dump %s: %w", RegisterName(addr), err)
		}
		out = append(out, RegisterDump{Addr: addr, Value: buf})
	}
	return out, nil
}
