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
	"bytes"
	"fmt"
	"time"
)

// DataRate is the air data rate.
type DataRate int

const (
	// DataRate1Mbps is the chip's reset data rate.
	DataRate1Mbps DataRate = iota
	// DataRate2Mbps needs channels at least 2 MHz apart.
	DataRate2Mbps
	// DataRate250Kbps is only available on the nRF24L01+.
	DataRate250Kbps
)

func (r DataRate) String() string {
	switch r {
	case DataRate1Mbps:
		return "1Mbps"
	case DataRate2Mbps:
		return "2Mbps"
	case DataRate250Kbps:
		return "250kbps"
	default:
		return "unknown"
	}
}

// ParseDataRate parses "250k", "1M", "2M" and their String forms.
func ParseDataRate(s string) (DataRate, error) {
	switch s {
	case "250k", "250kbps", "250K":
		return DataRate250Kbps, nil
	case "1M", "1Mbps", "1m":
		return DataRate1Mbps, nil
	case "2M", "2Mbps", "2m":
		return DataRate2Mbps, nil
	}
	return 0, fmt.Errorf("unknown data rate %q", s)
}

func (r DataRate) bits() byte {
	switch r {
	case DataRate2Mbps:
		return rfDRHigh
	case DataRate250Kbps:
		return rfDRLow
	default:
		return 0
	}
}

// CRCMode selects the packet CRC.
type CRCMode int

const (
	// CRCDisabled turns CRC off. Not allowed with auto-ack.
	CRCDisabled CRCMode = iota
	// CRCOneByte is an 8-bit CRC.
	CRCOneByte
	// CRCTwoByte is a 16-bit CRC.
	CRCTwoByte
)

func (c CRCMode) String() string {
	switch c {
	case CRCDisabled:
		return "disabled"
	case CRCOneByte:
		return "1-byte"
	case CRCTwoByte:
		return "2-byte"
	default:
		return "unknown"
	}
}

func (c CRCMode) bits() byte {
	switch c {
	case CRCOneByte:
		return cfgEnCRC
	case CRCTwoByte:
		return cfgEnCRC | cfgCRCO
	default:
		return 0
	}
}

// PowerLevel is the PA output power in TX mode. The value is the RF_PWR
// field encoding.
type PowerLevel int

const (
	PowerMin  PowerLevel = iota // -18 dBm
	PowerLow                    // -12 dBm
	PowerHigh                   // -6 dBm
	PowerMax                    // 0 dBm
)

// DBm returns the nominal output power.
func (p PowerLevel) DBm() int {
	return 6*int(p) - 18
}

func (p PowerLevel) String() string {
	return fmt.Sprintf("%ddBm", p.DBm())
}

// PayloadSize is either a static size shared by every pipe or dynamic
// (chip-reported) sizing.
type PayloadSize struct {
	size    int
	dynamic bool
}

// StaticPayload returns a fixed payload size of n bytes.
func StaticPayload(n int) PayloadSize {
	return PayloadSize{size: n}
}

// DynamicPayload returns dynamic payload sizing.
func DynamicPayload() PayloadSize {
	return PayloadSize{dynamic: true}
}

// IsDynamic reports whether the chip reports the length of each packet.
func (p PayloadSize) IsDynamic() bool {
	return p.dynamic
}

// Size returns the static size, or MaxPayloadSize when dynamic.
func (p PayloadSize) Size() int {
	if p.dynamic {
		return MaxPayloadSize
	}
	return p.size
}

func (p PayloadSize) String() string {
	if p.dynamic {
		return "Dynamic"
	}
	return fmt.Sprintf("Static(%d)", p.size)
}

// PipeConfig configures one RX data pipe.
type PipeConfig struct {
	// Address in register order, least significant byte first. Pipes 0 and
	// 1 take AddressWidth bytes. Pipes 2-5 take either the single LSB or a
	// full address whose upper bytes equal pipe 1's.
	Address []byte
	Enabled bool
	AutoAck bool
}

// AutoRetransmit configures SETUP_RETR.
type AutoRetransmit struct {
	// Delay between retransmits, 250us to 4000us in 250us steps.
	Delay time.Duration
	// Count of retransmits, 0 to 15. 0 disables auto-retransmit.
	Count int
}

// Config is the complete desired chip configuration. It is consumed by New
// and Apply; changing a Config after that has no effect on the chip.
type Config struct {
	// AutoRetransmit leaves SETUP_RETR at its reset value when nil.
	AutoRetransmit *AutoRetransmit
	// TxAddress defaults to pipe 0's address, which is what auto-ack needs.
	TxAddress    []byte
	Pipes        [NumPipes]PipeConfig
	Payload      PayloadSize
	Channel      int
	DataRate     DataRate
	CRC          CRCMode
	AddressWidth int
	Power        PowerLevel
	// IRQMask lists the STATUS interrupt flags kept off the IRQ line.
	IRQMask Status
	// AckPayloads enables W_ACK_PAYLOAD. Requires dynamic payloads.
	AckPayloads bool
}

// DefaultConfig returns channel 76, 1 Mbps, 2-byte CRC, 5-byte addresses,
// pipe 0 enabled with auto-ack at E7E7E7E7E7, and 32-byte static payloads.
func DefaultConfig() Config {
	cfg := Config{
		Channel:      76,
		DataRate:     DataRate1Mbps,
		CRC:          CRCTwoByte,
		AddressWidth: 5,
		Power:        PowerMax,
		Payload:      StaticPayload(MaxPayloadSize),
	}
	cfg.Pipes[0] = PipeConfig{
		Enabled: true,
		AutoAck: true,
		Address: []byte{0xE7, 0xE7, 0xE7, 0xE7, 0xE7},
	}
	return cfg
}

// Validate checks every chip constraint without touching the hardware.
//
//nolint:gocognit,gocyclo,cyclop // one check per invariant
func (c *Config) Validate() error {
	if c.Channel < 0 || c.Channel > MaxChannel {
		return newConfigError("Channel", "%d out of range 0-%d", c.Channel, MaxChannel)
	}
	switch c.DataRate {
	case DataRate1Mbps, DataRate2Mbps, DataRate250Kbps:
	default:
		return newConfigError("DataRate", "unknown data rate %d", int(c.DataRate))
	}
	switch c.CRC {
	case CRCDisabled, CRCOneByte, CRCTwoByte:
	default:
		return newConfigError("CRC", "unknown CRC mode %d", int(c.CRC))
	}
	if c.Power < PowerMin || c.Power > PowerMax {
		return newConfigError("Power", "unknown power level %d", int(c.Power))
	}
	if c.AddressWidth < 3 || c.AddressWidth > 5 {
		return newConfigError("AddressWidth", "%d not in 3-5", c.AddressWidth)
	}
	if !c.Payload.dynamic && (c.Payload.size < 1 || c.Payload.size > MaxPayloadSize) {
		return newConfigError("Payload", "static size %d not in 1-%d", c.Payload.size, MaxPayloadSize)
	}
	if c.AckPayloads && !c.Payload.dynamic {
		return newConfigError("AckPayloads", "ack payloads require dynamic payload size")
	}
	if c.IRQMask&^InterruptFlags != 0 {
		return newConfigError("IRQMask", "only RX_DR, TX_DS and MAX_RT can be masked")
	}

	enabled := 0
	for i := range c.Pipes {
		if err := c.validatePipe(i); err != nil {
			return err
		}
		if c.Pipes[i].Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return newConfigError("Pipes", "at least one pipe must be enabled")
	}

	if c.TxAddress != nil && len(c.TxAddress) != c.AddressWidth {
		return newConfigError("TxAddress", "%d bytes, address width is %d", len(c.TxAddress), c.AddressWidth)
	}
	if c.TxAddress == nil && len(c.Pipes[0].Address) != c.AddressWidth {
		return newConfigError("TxAddress", "not set and pipe 0 has no address to default to")
	}

	if rt := c.AutoRetransmit; rt != nil {
		if rt.Count < 0 || rt.Count > 15 {
			return newConfigError("AutoRetransmit.Count", "%d not in 0-15", rt.Count)
		}
		us := rt.Delay.Microseconds()
		if us < 250 || us > 4000 || us%250 != 0 {
			return newConfigError("AutoRetransmit.Delay", "%v not a multiple of 250us in 250us-4ms", rt.Delay)
		}
	}
	return nil
}

func (c *Config) validatePipe(i int) error {
	p := c.Pipes[i]
	field := fmt.Sprintf("Pipes[%d]", i)
	if !p.Enabled {
		if p.AutoAck {
			return newConfigError(field, "auto-ack set on a disabled pipe")
		}
		return nil
	}
	if p.AutoAck && c.CRC == CRCDisabled {
		return newConfigError(field, "auto-ack requires CRC")
	}
	if c.Payload.dynamic && !p.AutoAck {
		return newConfigError(field, "dynamic payload size requires auto-ack")
	}
	switch {
	case i < 2:
		if len(p.Address) != c.AddressWidth {
			return newConfigError(field, "address is %d bytes, address width is %d", len(p.Address), c.AddressWidth)
		}
	case len(c.Pipes[1].Address) != c.AddressWidth:
		// the chip stores only the LSB; the rest is shared with pipe 1
		return newConfigError(field, "pipe 1 must carry a full address to share its upper bytes")
	case len(p.Address) == 1:
	case len(p.Address) == c.AddressWidth:
		if !bytes.Equal(p.Address[1:], c.Pipes[1].Address[1:]) {
			return newConfigError(field, "upper address bytes must match pipe 1")
		}
	default:
		return newConfigError(field, "address is %d bytes, want 1 or %d", len(p.Address), c.AddressWidth)
	}
	return nil
}

// RegisterWrite is one W_REGISTER transaction of a configuration.
type RegisterWrite struct {
	Value []byte
	Addr  byte
}

func (w RegisterWrite) String() string {
	return fmt.Sprintf("%s=%s", RegisterName(w.Addr), formatHexBytes(w.Value))
}

// configBits returns the CONFIG bits owned by the configuration (CRC and IRQ
// masks). PWR_UP and PRIM_RX belong to the mode state machine.
func (c *Config) configBits() byte {
	b := c.CRC.bits()
	if c.IRQMask.Has(RxDataReady) {
		b |= cfgMaskRxDR
	}
	if c.IRQMask.Has(TxDataSent) {
		b |= cfgMaskTxDS
	}
	if c.IRQMask.Has(MaxRetransmits) {
		b |= cfgMaskMaxRT
	}
	return b
}

func (c *Config) pipeMasks() (enabled, autoAck byte) {
	for i, p := range c.Pipes {
		if p.Enabled {
			enabled |= 1 << i
		}
		if p.AutoAck {
			autoAck |= 1 << i
		}
	}
	return enabled, autoAck
}

func (c *Config) txAddress() []byte {
	if c.TxAddress != nil {
		return c.TxAddress
	}
	return c.Pipes[0].Address
}

// Registers validates the configuration and translates it into the ordered
// register writes Apply issues, with CONFIG last. modeBits are the
// PWR_UP/PRIM_RX bits to carry into the CONFIG write.
func (c *Config) Registers(modeBits byte) ([]RegisterWrite, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	enabled, autoAck := c.pipeMasks()
	rf := c.DataRate.bits() | byte(c.Power)<<rfPwrShift&rfPwrMask

	writes := []RegisterWrite{
		{Addr: RegSetupAW, Value: []byte{byte(c.AddressWidth - 2)}},
		{Addr: RegRFCh, Value: []byte{byte(c.Channel)}},
		{Addr: RegRFSetup, Value: []byte{rf}},
		{Addr: RegEnAA, Value: []byte{autoAck}},
		{Addr: RegEnRxAddr, Value: []byte{enabled}},
	}
	if rt := c.AutoRetransmit; rt != nil {
		ard := byte(rt.Delay.Microseconds()/250 - 1)
		writes = append(writes, RegisterWrite{Addr: RegSetupRetr, Value: []byte{ard<<4 | byte(rt.Count)}})
	}

	for i, p := range c.Pipes {
		sharedP1 := i == 1 && len(p.Address) == c.AddressWidth
		if !p.Enabled && !sharedP1 {
			continue
		}
		addr := p.Address
		if i >= 2 {
			addr = addr[:1]
		}
		writes = append(writes, RegisterWrite{Addr: RegRxAddrP0 + byte(i), Value: clone(addr)})
	}
	writes = append(writes, RegisterWrite{Addr: RegTxAddr, Value: clone(c.txAddress())})

	var dynpd byte
	feature := featDynAck
	for i, p := range c.Pipes {
		width := byte(0)
		if p.Enabled && !c.Payload.dynamic {
			width = byte(c.Payload.size)
		}
		writes = append(writes, RegisterWrite{Addr: RegRxPwP0 + byte(i), Value: []byte{width}})
	}
	if c.Payload.dynamic {
		feature |= featDPL
		dynpd = enabled
	}
	if c.AckPayloads {
		feature |= featAckPay
	}
	writes = append(writes,
		RegisterWrite{Addr: RegFeature, Value: []byte{feature}},
		RegisterWrite{Addr: RegDynPD, Value: []byte{dynpd}},
		RegisterWrite{Addr: RegConfig, Value: []byte{c.configBits() | modeBits&(cfgPwrUp|cfgPrimRx)}},
	)
	return writes, nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
