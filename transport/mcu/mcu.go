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

// Package mcu adapts a TinyGo drivers.SPI and two GPIO setter functions into
// the nrf24 Bus and Pin capabilities, for boards where the chip hangs off a
// microcontroller SPI peripheral.
//
//	spi := machine.SPI0
//	spi.Configure(machine.SPIConfig{Frequency: 8_000_000, Mode: 0})
//	csn, ce := machine.GP17, machine.GP20
//	csn.Configure(machine.PinConfig{Mode: machine.PinOutput})
//	ce.Configure(machine.PinConfig{Mode: machine.PinOutput})
//	t := mcu.New(spi, csn.Set, ce.Set)
//	dev, err := nrf24.New(t, t, nrf24.DefaultConfig())
package mcu

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"tinygo.org/x/drivers"
)

// Option configures a Transport.
type Option func(*Transport)

// WithByteTransfer clocks each byte through SPI.Transfer instead of one Tx
// call. Some HAL ports only implement the single-byte path correctly.
func WithByteTransfer() Option {
	return func(t *Transport) {
		t.byteWise = true
	}
}

// Transport frames every Tx between CSN low and CSN high.
type Transport struct {
	spi      drivers.SPI
	csn      func(bool)
	ce       func(bool)
	byteWise bool
}

// New wraps spi. csn and ce set their pin high for true. CSN is driven high
// and CE low before returning.
func New(spi drivers.SPI, csn, ce func(bool), opts ...Option) *Transport {
	t := &Transport{spi: spi, csn: csn, ce: ce}
	for _, opt := range opts {
		opt(t)
	}
	csn(true)
	ce(false)
	return t
}

// Tx implements nrf24.Bus.
func (t *Transport) Tx(w, r []byte) error {
	if len(w) == 0 {
		return errors.New("empty SPI transaction")
	}
	if len(r) != 0 && len(r) != len(w) {
		return fmt.Errorf("read buffer %d bytes, write buffer %d", len(r), len(w))
	}
	t.csn(false)
	defer t.csn(true)

	if !t.byteWise {
		if err := t.spi.Tx(w, r); err != nil {
			return fmt.Errorf("SPI transfer: %w", err)
		}
		return nil
	}
	for i, b := range w {
		got, err := t.spi.Transfer(b)
		if err != nil {
			return fmt.Errorf("SPI transfer byte %d: %w", i, err)
		}
		if len(r) > 0 {
			r[i] = got
		}
	}
	return nil
}

// Out implements nrf24.Pin for CE.
func (t *Transport) Out(l gpio.Level) error {
	t.ce(bool(l))
	return nil
}
