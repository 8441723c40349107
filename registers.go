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

import "strconv"

// Register addresses from the nRF24L01+ register map (datasheet §9.1).
const (
	RegConfig     byte = 0x00
	RegEnAA       byte = 0x01
	RegEnRxAddr   byte = 0x02
	RegSetupAW    byte = 0x03
	RegSetupRetr  byte = 0x04
	RegRFCh       byte = 0x05
	RegRFSetup    byte = 0x06
	RegStatus     byte = 0x07
	RegObserveTx  byte = 0x08
	RegRPD        byte = 0x09
	RegRxAddrP0   byte = 0x0A
	RegRxAddrP1   byte = 0x0B
	RegRxAddrP2   byte = 0x0C
	RegRxAddrP3   byte = 0x0D
	RegRxAddrP4   byte = 0x0E
	RegRxAddrP5   byte = 0x0F
	RegTxAddr     byte = 0x10
	RegRxPwP0     byte = 0x11
	RegRxPwP1     byte = 0x12
	RegRxPwP2     byte = 0x13
	RegRxPwP3     byte = 0x14
	RegRxPwP4     byte = 0x15
	RegRxPwP5     byte = 0x16
	RegFIFOStatus byte = 0x17
	RegDynPD      byte = 0x1C
	RegFeature    byte = 0x1D
)

const (
	// MaxPayloadSize is the size of one FIFO slot.
	MaxPayloadSize = 32
	// NumPipes is the number of RX data pipes.
	NumPipes = 6
	// MaxChannel is the highest RF channel the driver accepts (2400 + 125 MHz).
	MaxChannel = 125

	regAddrMask = 0x1F
)

// CONFIG register bits.
const (
	cfgPrimRx    byte = 1 << 0
	cfgPwrUp     byte = 1 << 1
	cfgCRCO      byte = 1 << 2
	cfgEnCRC     byte = 1 << 3
	cfgMaskMaxRT byte = 1 << 4
	cfgMaskTxDS  byte = 1 << 5
	cfgMaskRxDR  byte = 1 << 6
)

// RF_SETUP register bits.
const (
	rfDRHigh   byte = 1 << 3
	rfDRLow    byte = 1 << 5
	rfPwrShift      = 1
	rfPwrMask  byte = 0x06
)

// FEATURE register bits.
const (
	featDynAck byte = 1 << 0
	featAckPay byte = 1 << 1
	featDPL    byte = 1 << 2
)

// Status is the STATUS register, returned as the first byte of every SPI
// transaction.
type Status byte

const (
	// TxFull is set when the TX FIFO is full.
	TxFull Status = 1 << 0
	// MaxRetransmits is set when the auto-retransmit counter hit its limit.
	MaxRetransmits Status = 1 << 4
	// TxDataSent is set when a packet was transmitted (and acknowledged, if
	// auto-ack is on).
	TxDataSent Status = 1 << 5
	// RxDataReady is set when a payload arrived in the RX FIFO.
	RxDataReady Status = 1 << 6

	// InterruptFlags are the write-1-to-clear bits of STATUS.
	InterruptFlags = RxDataReady | TxDataSent | MaxRetransmits

	rxPipeMask  Status = 0x0E
	rxPipeEmpty Status = 0x0E
)

// RxPipe returns the data pipe number of the payload at the head of the RX
// FIFO, or -1 if the RX FIFO is empty.
func (s Status) RxPipe() int {
	n := s & rxPipeMask
	if n == rxPipeEmpty {
		return -1
	}
	pipe := int(n >> 1)
	if pipe >= NumPipes {
		// 110 is reserved by the chip
		return -1
	}
	return pipe
}

// Has reports whether all flags in f are set.
func (s Status) Has(f Status) bool {
	return s&f == f
}

func (s Status) String() string {
	return flags("RxDR+ TxDS+ MaxRT+ TxFull+ RxPipe:", 0x71, byte(s)) +
		strconv.Itoa(s.RxPipe())
}

// FIFOStatus is the FIFO_STATUS register.
type FIFOStatus byte

const (
	// FIFORxEmpty is set when the RX FIFO holds no payload.
	FIFORxEmpty FIFOStatus = 1 << 0
	// FIFORxFull is set when all three RX FIFO slots are used.
	FIFORxFull FIFOStatus = 1 << 1
	// FIFOTxEmpty is set when the TX FIFO holds no payload.
	FIFOTxEmpty FIFOStatus = 1 << 4
	// FIFOTxFull is set when all three TX FIFO slots are used.
	FIFOTxFull FIFOStatus = 1 << 5
	// FIFOTxReuse is set while REUSE_TX_PL is active.
	FIFOTxReuse FIFOStatus = 1 << 6
)

// Has reports whether all flags in f are set.
func (f FIFOStatus) Has(flag FIFOStatus) bool {
	return f&flag == flag
}

func (f FIFOStatus) String() string {
	return flags("TxReuse+ TxFull+ TxEmpty+ RxFull+ RxEmpty+", 0x73, byte(f))
}

// flags renders the bits of b selected by mask into the '+' placeholders of
// f, most significant bit first. Cleared bits are shown as '-'.
func flags(f string, mask, b byte) string {
	buf := make([]byte, len(f))
	m := byte(0x80)
	for i := range buf {
		if f[i] != '+' {
			buf[i] = f[i]
			continue
		}
		for mask&m == 0 {
			m >>= 1
		}
		if b&m == 0 {
			buf[i] = '-'
		} else {
			buf[i] = '+'
		}
		m >>= 1
	}
	return string(buf)
}

// RegisterName returns the datasheet mnemonic of a register address.
func RegisterName(addr byte) string {
	switch addr {
	case RegConfig:
		return "CONFIG"
	case RegEnAA:
		return "EN_AA"
	case RegEnRxAddr:
		return "EN_RXADDR"
	case RegSetupAW:
		return "SETUP_AW"
	case RegSetupRetr:
		return "SETUP_RETR"
	case RegRFCh:
		return "RF_CH"
	case RegRFSetup:
		return "RF_SETUP"
	case RegStatus:
		return "STATUS"
	case RegObserveTx:
		return "OBSERVE_TX"
	case RegRPD:
		return "RPD"
	case RegTxAddr:
		return "TX_ADDR"
	case RegFIFOStatus:
		return "FIFO_STATUS"
	case RegDynPD:
		return "DYNPD"
	case RegFeature:
		return "FEATURE"
	}
	switch {
	case addr >= RegRxAddrP0 && addr <= RegRxAddrP5:
		return "RX_ADDR_P" + strconv.Itoa(int(addr-RegRxAddrP0))
	case addr >= RegRxPwP0 && addr <= RegRxPwP5:
		return "RX_PW_P" + strconv.Itoa(int(addr-RegRxPwP0))
	}
	return "0x" + strconv.FormatUint(uint64(addr), 16)
}

// registerWidth returns how many data bytes a register holds for the given
// address width.
func registerWidth(addr byte, addrWidth int) int {
	switch addr {
	case RegRxAddrP0, RegRxAddrP1, RegTxAddr:
		return addrWidth
	}
	return 1
}
