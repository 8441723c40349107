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

package testing

import (
	"bytes"
	"errors"

	"github.com/ZaparooProject/go-nrf24/internal/syncutil"
	"periph.io/x/conn/v3/gpio"
)

// Bus Pirate binary mode commands (the "bitbang" and "SPI" protocols of
// firmware 5.x and later).
const (
	BPReset      = 0x00
	BPEnterSPI   = 0x01
	BPCSLow      = 0x02
	BPCSHigh     = 0x03
	BPExit       = 0x0F
	BPBulk       = 0x10 // 0001 xxxx: transfer xxxx+1 bytes
	BPPeripheral = 0x40 // 0100 wxyz: power, pull-ups, AUX, CS
	BPSpeed      = 0x60 // 0110 0xxx
	BPSPIConfig  = 0x80 // 1000 wxyz: output, idle, edge, sample

	BPAux = 0x02
)

// BPMode is the protocol the emulated Bus Pirate is speaking.
type BPMode int

const (
	BPTerminal BPMode = iota
	BPBitbang
	BPSPI
)

// ErrPortClosed is returned by a closed VirtualBusPirate.
var ErrPortClosed = errors.New("port is closed")

// VirtualBusPirate emulates a Bus Pirate in binary SPI mode with an nRF24L01+
// on its SPI pins and CE on AUX. It implements io.ReadWriter: commands are
// written, replies are read back.
type VirtualBusPirate struct {
	chip      *VirtualNRF24
	out       bytes.Buffer
	frame     []byte
	miso      []byte
	commands  []byte
	mu        syncutil.Mutex
	mode      BPMode
	bulkLeft  int
	periph    byte
	speed     byte
	spiConfig byte
	csLow     bool
	closed    bool
	mute      bool
}

// NewVirtualBusPirate returns an emulator in terminal mode driving chip.
func NewVirtualBusPirate(chip *VirtualNRF24) *VirtualBusPirate {
	return &VirtualBusPirate{chip: chip}
}

// Write feeds command bytes to the emulator.
func (b *VirtualBusPirate) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrPortClosed
	}
	for _, c := range p {
		b.feed(c)
	}
	return len(p), nil
}

// Read returns pending reply bytes. Like a serial port after its read
// timeout, it returns 0, nil when nothing is pending.
func (b *VirtualBusPirate) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrPortClosed
	}
	if b.out.Len() == 0 {
		return 0, nil
	}
	return b.out.Read(p) //nolint:wrapcheck // bytes.Buffer only returns io.EOF when empty
}

// Close makes later reads and writes fail.
func (b *VirtualBusPirate) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *VirtualBusPirate) reply(p ...byte) {
	if !b.mute {
		_, _ = b.out.Write(p)
	}
}

func (b *VirtualBusPirate) feed(c byte) {
	if b.bulkLeft > 0 {
		b.bulkByte(c)
		return
	}
	b.commands = append(b.commands, c)

	switch b.mode {
	case BPTerminal, BPBitbang:
		switch c {
		case BPReset:
			b.mode = BPBitbang
			b.reply([]byte("BBIO1")...)
		case BPEnterSPI:
			if b.mode == BPBitbang {
				b.mode = BPSPI
				b.reply([]byte("SPI1")...)
			}
		case BPExit:
			if b.mode == BPBitbang {
				b.mode = BPTerminal
				b.reply(0x01)
			}
		}
	case BPSPI:
		b.spiCommand(c)
	}
}

func (b *VirtualBusPirate) spiCommand(c byte) {
	switch {
	case c == BPReset:
		b.mode = BPBitbang
		b.reply([]byte("BBIO1")...)
	case c == BPEnterSPI:
		b.reply([]byte("SPI1")...)
	case c == BPCSLow:
		b.csLow = true
		b.frame = b.frame[:0]
		b.miso = nil
		b.reply(0x01)
	case c == BPCSHigh:
		b.endFrame()
		b.reply(0x01)
	case c&0xF0 == BPBulk:
		b.bulkLeft = int(c&0x0F) + 1
		b.reply(0x01)
	case c&0xF0 == BPPeripheral:
		b.setPeripherals(c & 0x0F)
		b.reply(0x01)
	case c&0xF8 == BPSpeed:
		b.speed = c & 0x07
		b.reply(0x01)
	case c&0xF0 == BPSPIConfig:
		b.spiConfig = c & 0x0F
		b.reply(0x01)
	default:
		b.reply(0x00)
	}
}

func (b *VirtualBusPirate) bulkByte(c byte) {
	b.bulkLeft--
	if !b.csLow {
		// CS not asserted: the chip ignores the clock
		b.reply(0xFF)
		return
	}
	if len(b.frame) == 0 {
		b.miso = b.chip.Peek(c, maxPayload+1)
	}
	var r byte
	if i := len(b.frame); i < len(b.miso) {
		r = b.miso[i]
	}
	b.frame = append(b.frame, c)
	b.reply(r)
}

func (b *VirtualBusPirate) endFrame() {
	if b.csLow && len(b.frame) > 0 {
		_ = b.chip.Tx(b.frame, nil)
	}
	b.csLow = false
	b.frame = b.frame[:0]
	b.miso = nil
}

func (b *VirtualBusPirate) setPeripherals(bits byte) {
	prevAux := b.periph&BPAux != 0
	b.periph = bits
	if aux := bits&BPAux != 0; aux != prevAux {
		_ = b.chip.Out(gpio.Level(aux))
	}
}

// Mode returns the protocol the emulator is in.
func (b *VirtualBusPirate) Mode() BPMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// Peripherals returns the last wxyz bits of the peripheral command.
func (b *VirtualBusPirate) Peripherals() byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.periph
}

// Speed returns the SPI speed index.
func (b *VirtualBusPirate) Speed() byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.speed
}

// SPIConfig returns the wxyz bits of the last SPI configuration command.
func (b *VirtualBusPirate) SPIConfig() byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spiConfig
}

// CSAsserted reports whether chip-select is low.
func (b *VirtualBusPirate) CSAsserted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.csLow
}

// Commands returns every command byte received, excluding bulk data.
func (b *VirtualBusPirate) Commands() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.commands...)
}

// SetMute stops the emulator from replying, as an unplugged or hung adapter.
func (b *VirtualBusPirate) SetMute(mute bool) {
	b.mu.Lock()
	b.mute = mute
	b.mu.Unlock()
}
