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

// Package testing provides test utilities including a wire-level nRF24L01+
// simulator.
//
// VirtualNRF24 implements the driver's Bus (Tx) and Pin (Out) capabilities
// and decodes every SPI transaction against a simulated register file and
// FIFOs, following the nRF24L01+ Product Specification v1.0:
//   - SPI commands: §8.3.1, table 20
//   - Register map: §9.1, table 28
//   - FIFOs: §7.7
//   - Enhanced ShockBurst transmit: §7.4, §7.8
package testing

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-nrf24/internal/syncutil"
	"periph.io/x/conn/v3/gpio"
)

// SPI commands (§8.3.1)
const (
	cmdReadRegister    = 0x00
	cmdWriteRegister   = 0x20
	cmdReadPayloadWid  = 0x60
	cmdReadPayload     = 0x61
	cmdWritePayload    = 0xA0
	cmdWriteAckPayload = 0xA8
	cmdWritePayloadNoA = 0xB0
	cmdFlushTx         = 0xE1
	cmdFlushRx         = 0xE2
	cmdReuseTx         = 0xE3
	cmdNOP             = 0xFF
)

// Register addresses (§9.1)
const (
	RegConfig     = 0x00
	RegEnAA       = 0x01
	RegEnRxAddr   = 0x02
	RegSetupAW    = 0x03
	RegSetupRetr  = 0x04
	RegRFCh       = 0x05
	RegRFSetup    = 0x06
	RegStatus     = 0x07
	RegObserveTx  = 0x08
	RegRPD        = 0x09
	RegRxAddrP0   = 0x0A
	RegRxAddrP1   = 0x0B
	RegTxAddr     = 0x10
	RegRxPwP0     = 0x11
	RegFIFOStatus = 0x17
	RegDynPD      = 0x1C
	RegFeature    = 0x1D

	numRegisters = 0x1E
)

// Bits used by the simulation.
const (
	configPrimRx = 0x01
	configPwrUp  = 0x02

	statusTxFull = 0x01
	statusMaxRT  = 0x10
	statusTxDS   = 0x20
	statusRxDR   = 0x40
	statusIRQ    = statusMaxRT | statusTxDS | statusRxDR

	fifoRxEmpty = 0x01
	fifoRxFull  = 0x02
	fifoTxEmpty = 0x10
	fifoTxFull  = 0x20
	fifoTxReuse = 0x40

	fifoDepth  = 3
	maxPayload = 32
)

// ErrBusFault is returned by Tx after InjectBusError.
var ErrBusFault = errors.New("simulated SPI fault")

type rxPacket struct {
	data []byte
	pipe int
}

// TxPacket is one payload that left the TX FIFO over the air.
type TxPacket struct {
	Data    []byte
	Address []byte
	Channel int
	NoAck   bool
}

type txEntry struct {
	data  []byte
	pipe  int // ack payload pipe, -1 for W_TX_PAYLOAD
	noAck bool
}

// VirtualNRF24 simulates an nRF24L01+ at the SPI transaction level.
type VirtualNRF24 struct {
	busErr       error
	pinErr       error
	regs         [numRegisters][]byte
	transactions [][]byte
	ceLevels     []gpio.Level
	rx           []rxPacket
	tx           []txEntry
	sent         []TxPacket
	mu           syncutil.Mutex
	corruptWidth int
	ce           gpio.Level
	linkDown     bool
	reuse        bool
	closed       bool
}

// NewVirtualNRF24 returns a simulator holding the power-on reset values.
func NewVirtualNRF24() *VirtualNRF24 {
	v := &VirtualNRF24{corruptWidth: -1}
	v.reset()
	return v
}

func (v *VirtualNRF24) reset() {
	for i := range v.regs {
		v.regs[i] = []byte{0x00}
	}
	v.regs[RegConfig][0] = 0x08
	v.regs[RegEnAA][0] = 0x3F
	v.regs[RegEnRxAddr][0] = 0x03
	v.regs[RegSetupAW][0] = 0x03
	v.regs[RegSetupRetr][0] = 0x03
	v.regs[RegRFCh][0] = 0x02
	v.regs[RegRFSetup][0] = 0x0E
	v.regs[RegRxAddrP0] = []byte{0xE7, 0xE7, 0xE7, 0xE7, 0xE7}
	v.regs[RegRxAddrP1] = []byte{0xC2, 0xC2, 0xC2, 0xC2, 0xC2}
	for i, lsb := range []byte{0xC3, 0xC4, 0xC5, 0xC6} {
		v.regs[RegRxAddrP1+1+i][0] = lsb
	}
	v.regs[RegTxAddr] = []byte{0xE7, 0xE7, 0xE7, 0xE7, 0xE7}
	v.rx = nil
	v.tx = nil
	v.reuse = false
	v.ce = gpio.Low
}

// Reset restores power-on register values and clears the FIFOs and logs.
func (v *VirtualNRF24) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reset()
	v.transactions = nil
	v.ceLevels = nil
	v.sent = nil
	v.busErr = nil
	v.pinErr = nil
	v.linkDown = false
	v.corruptWidth = -1
}

// Tx implements the driver's Bus capability.
func (v *VirtualNRF24) Tx(w, r []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return errors.New("simulated bus closed")
	}
	if v.busErr != nil {
		return v.busErr
	}
	if len(w) == 0 {
		return errors.New("empty SPI transaction")
	}
	if len(r) != 0 && len(r) != len(w) {
		return fmt.Errorf("read buffer %d bytes, write buffer %d", len(r), len(w))
	}
	v.transactions = append(v.transactions, append([]byte(nil), w...))

	resp := make([]byte, len(w))
	resp[0] = v.status()
	v.execute(w[0], w[1:], resp[1:])
	copy(r, resp)
	return nil
}

// Close makes later transactions fail.
func (v *VirtualNRF24) Close() error {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
	return nil
}

// Out implements the driver's Pin capability for CE. A rising edge while
// powered up in PTX transmits the head of the TX FIFO.
func (v *VirtualNRF24) Out(l gpio.Level) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.pinErr != nil {
		return v.pinErr
	}
	rising := l == gpio.High && v.ce == gpio.Low
	v.ce = l
	v.ceLevels = append(v.ceLevels, l)
	if rising && v.regs[RegConfig][0]&configPwrUp != 0 && v.regs[RegConfig][0]&configPrimRx == 0 {
		v.transmit()
	}
	return nil
}

// output fills resp with the bytes clocked out after STATUS for cmd. It has
// no side effects.
func (v *VirtualNRF24) output(cmd byte, resp []byte) {
	switch {
	case cmd&0xE0 == cmdReadRegister:
		v.readRegister(cmd&0x1F, resp)
	case cmd == cmdReadPayloadWid:
		if len(resp) > 0 && len(v.rx) > 0 {
			resp[0] = byte(len(v.rx[0].data))
			if v.corruptWidth >= 0 {
				resp[0] = byte(v.corruptWidth)
			}
		}
	case cmd == cmdReadPayload:
		if len(v.rx) > 0 {
			copy(resp, v.rx[0].data)
		}
	}
}

//nolint:gocyclo,cyclop // one case per command
func (v *VirtualNRF24) execute(cmd byte, data, resp []byte) {
	v.output(cmd, resp)
	switch {
	case cmd&0xE0 == cmdWriteRegister:
		v.writeRegister(cmd&0x1F, data)
	case cmd == cmdReadPayload:
		if len(v.rx) > 0 {
			v.rx = v.rx[1:]
		}
	case cmd == cmdWritePayload, cmd == cmdWritePayloadNoA:
		if len(v.tx) < fifoDepth && len(data) > 0 {
			v.tx = append(v.tx, txEntry{data: append([]byte(nil), data...), pipe: -1, noAck: cmd == cmdWritePayloadNoA})
			v.reuse = false
		}
	case cmd&0xF8 == cmdWriteAckPayload:
		if len(v.tx) < fifoDepth && len(data) > 0 {
			v.tx = append(v.tx, txEntry{data: append([]byte(nil), data...), pipe: int(cmd & 0x07)})
		}
	case cmd == cmdFlushTx:
		v.tx = nil
		v.reuse = false
	case cmd == cmdFlushRx:
		v.rx = nil
	case cmd == cmdReuseTx:
		v.reuse = true
	}
}

// Peek returns the n bytes the chip would clock out for a frame starting
// with cmd, without executing it. Bridges that answer byte by byte before
// chip-select rises use it; the frame itself is then run through Tx.
func (v *VirtualNRF24) Peek(cmd byte, n int) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	resp := make([]byte, n)
	if n == 0 {
		return resp
	}
	resp[0] = v.status()
	v.output(cmd, resp[1:])
	return resp
}

func (v *VirtualNRF24) readRegister(addr byte, resp []byte) {
	if int(addr) >= numRegisters {
		return
	}
	switch addr {
	case RegStatus:
		if len(resp) > 0 {
			resp[0] = v.status()
		}
	case RegFIFOStatus:
		if len(resp) > 0 {
			resp[0] = v.fifoStatus()
		}
	default:
		copy(resp, v.regs[addr])
	}
}

func (v *VirtualNRF24) writeRegister(addr byte, data []byte) {
	if int(addr) >= numRegisters || len(data) == 0 {
		return
	}
	switch addr {
	case RegStatus:
		// Interrupt flags are cleared by writing 1.
		v.regs[RegStatus][0] &^= data[0] & statusIRQ
	case RegObserveTx, RegRPD, RegFIFOStatus:
	case RegRxAddrP0, RegRxAddrP1, RegTxAddr:
		v.regs[addr] = append([]byte(nil), data...)
	case RegRFCh:
		v.regs[addr][0] = data[0] & 0x7F
		v.regs[RegObserveTx][0] &= 0x0F // PLOS_CNT resets on RF_CH write
	default:
		v.regs[addr][0] = data[0]
	}
}

func (v *VirtualNRF24) status() byte {
	st := v.regs[RegStatus][0] & statusIRQ
	if len(v.rx) > 0 {
		st |= byte(v.rx[0].pipe) << 1
	} else {
		st |= 0x0E
	}
	if len(v.tx) >= fifoDepth {
		st |= statusTxFull
	}
	return st
}

func (v *VirtualNRF24) fifoStatus() byte {
	var fs byte
	switch len(v.rx) {
	case 0:
		fs |= fifoRxEmpty
	case fifoDepth:
		fs |= fifoRxFull
	}
	switch len(v.tx) {
	case 0:
		fs |= fifoTxEmpty
	case fifoDepth:
		fs |= fifoTxFull
	}
	if v.reuse {
		fs |= fifoTxReuse
	}
	return fs
}

// transmit sends the head of the TX FIFO. With the link down and auto-ack
// in force the payload stays queued and MAX_RT is raised after ARC retries.
func (v *VirtualNRF24) transmit() {
	var head *txEntry
	for i := range v.tx {
		if v.tx[i].pipe < 0 {
			head = &v.tx[i]
			break
		}
	}
	if head == nil {
		return
	}
	if v.regs[RegStatus][0]&statusMaxRT != 0 {
		return
	}

	pkt := TxPacket{
		Data:    append([]byte(nil), head.data...),
		Address: append([]byte(nil), v.regs[RegTxAddr]...),
		Channel: int(v.regs[RegRFCh][0]),
		NoAck:   head.noAck,
	}
	arc := v.regs[RegSetupRetr][0] & 0x0F
	acked := head.noAck || v.regs[RegEnAA][0]&0x01 == 0

	if v.linkDown && !acked {
		plos := v.regs[RegObserveTx][0] >> 4
		if plos < 0x0F {
			plos++
		}
		v.regs[RegObserveTx][0] = plos<<4 | arc
		v.regs[RegStatus][0] |= statusMaxRT
		return
	}

	v.sent = append(v.sent, pkt)
	v.regs[RegObserveTx][0] &= 0xF0
	v.regs[RegStatus][0] |= statusTxDS
	if !v.reuse {
		for i := range v.tx {
			if &v.tx[i] == head {
				v.tx = append(v.tx[:i], v.tx[i+1:]...)
				break
			}
		}
	}
}

// Receive queues a payload as if it arrived on pipe and raises RX_DR. It
// reports false when the RX FIFO is full.
func (v *VirtualNRF24) Receive(pipe int, data []byte) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.rx) >= fifoDepth || pipe < 0 || pipe > 5 || len(data) > maxPayload {
		return false
	}
	payload := append([]byte(nil), data...)
	if v.regs[RegDynPD][0]&(1<<pipe) == 0 {
		if width := int(v.regs[RegRxPwP0+pipe][0]); width > len(payload) {
			payload = append(payload, make([]byte, width-len(payload))...)
		}
	}
	v.rx = append(v.rx, rxPacket{pipe: pipe, data: payload})
	v.regs[RegStatus][0] |= statusRxDR
	return true
}

// SetLinkDown makes every acknowledged transmission fail with MAX_RT.
func (v *VirtualNRF24) SetLinkDown(down bool) {
	v.mu.Lock()
	v.linkDown = down
	v.mu.Unlock()
}

// SetCorruptWidth makes R_RX_PL_WID report width instead of the real one.
// A negative width restores the real one.
func (v *VirtualNRF24) SetCorruptWidth(width int) {
	v.mu.Lock()
	v.corruptWidth = width
	v.mu.Unlock()
}

// SetCarrier sets the RPD bit.
func (v *VirtualNRF24) SetCarrier(detected bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if detected {
		v.regs[RegRPD][0] = 1
	} else {
		v.regs[RegRPD][0] = 0
	}
}

// InjectBusError makes every later Tx fail with err. Pass nil to clear.
func (v *VirtualNRF24) InjectBusError(err error) {
	v.mu.Lock()
	v.busErr = err
	v.mu.Unlock()
}

// InjectPinError makes every later Out fail with err. Pass nil to clear.
func (v *VirtualNRF24) InjectPinError(err error) {
	v.mu.Lock()
	v.pinErr = err
	v.mu.Unlock()
}

// Register returns a copy of a register's stored bytes.
func (v *VirtualNRF24) Register(addr byte) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch addr {
	case RegStatus:
		return []byte{v.status()}
	case RegFIFOStatus:
		return []byte{v.fifoStatus()}
	}
	return append([]byte(nil), v.regs[addr]...)
}

// Transactions returns every SPI transaction (MOSI bytes) seen so far.
func (v *VirtualNRF24) Transactions() [][]byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([][]byte, len(v.transactions))
	for i, t := range v.transactions {
		out[i] = append([]byte(nil), t...)
	}
	return out
}

// ClearTransactions empties the transaction and CE logs.
func (v *VirtualNRF24) ClearTransactions() {
	v.mu.Lock()
	v.transactions = nil
	v.ceLevels = nil
	v.mu.Unlock()
}

// CELevels returns every CE level driven so far.
func (v *VirtualNRF24) CELevels() []gpio.Level {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]gpio.Level(nil), v.ceLevels...)
}

// CE returns the current CE level.
func (v *VirtualNRF24) CE() gpio.Level {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ce
}

// Sent returns every payload transmitted over the air.
func (v *VirtualNRF24) Sent() []TxPacket {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]TxPacket(nil), v.sent...)
}

// TxQueued returns the number of entries in the TX FIFO.
func (v *VirtualNRF24) TxQueued() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.tx)
}

// RxQueued returns the number of payloads in the RX FIFO.
func (v *VirtualNRF24) RxQueued() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.rx)
}
