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

import "time"

// Mode is the logical state of the chip's internal state machine.
type Mode int

const (
	// PowerDown is the reset state: oscillator off, registers retained.
	PowerDown Mode = iota
	// Standby is Standby-I: oscillator running, CE low.
	Standby
	// TransmitMode is primary TX with CE pulsed per payload.
	TransmitMode
	// ReceiveMode is primary RX with CE held high.
	ReceiveMode
)

// Modes lists every mode, in declaration order.
var Modes = []Mode{PowerDown, Standby, TransmitMode, ReceiveMode}

func (m Mode) String() string {
	switch m {
	case PowerDown:
		return "PowerDown"
	case Standby:
		return "Standby"
	case TransmitMode:
		return "TransmitMode"
	case ReceiveMode:
		return "ReceiveMode"
	default:
		return "Mode(?)"
	}
}

// Timing contracts from the datasheet (§6.1.7, table 16).
const (
	// PowerUpDelay covers Tpd2stby with a crystal oscillator.
	PowerUpDelay = 1500 * time.Microsecond
	// CEPulseWidth is the minimum CE high time that starts one transmission.
	CEPulseWidth = 10 * time.Microsecond
	// RxSettleDelay is Tstby2a, the PLL settling time before RX is live.
	RxSettleDelay = 130 * time.Microsecond
)

type transition struct {
	from Mode
	to   Mode
}

// legalTransitions is the complete edge set. Anything else is rejected,
// including promotions through Standby.
var legalTransitions = map[transition]bool{
	{PowerDown, Standby}:      true,
	{Standby, TransmitMode}:   true,
	{Standby, ReceiveMode}:    true,
	{TransmitMode, Standby}:   true,
	{ReceiveMode, Standby}:    true,
	{PowerDown, PowerDown}:    true,
	{Standby, PowerDown}:      true,
	{TransmitMode, PowerDown}: true,
	{ReceiveMode, PowerDown}:  true,
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Mode) bool {
	return legalTransitions[transition{from, to}]
}

func checkTransition(from, to Mode) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

func requireMode(op string, actual Mode, allowed ...Mode) error {
	for _, m := range allowed {
		if m == actual {
			return nil
		}
	}
	return &ModeError{Op: op, Required: allowed, Actual: actual}
}
