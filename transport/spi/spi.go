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

// Package spi connects an nRF24L01+ through a Linux spidev node and a GPIO
// line for CE, using periph.io.
package spi

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-nrf24"
	"github.com/ZaparooProject/go-nrf24/detection"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	// DefaultFrequency is safe on long jumper wires.
	DefaultFrequency = 8 * physic.MegaHertz
	// MaxFrequency is the chip's SPI limit.
	MaxFrequency = 10 * physic.MegaHertz

	// MetadataCEPin is the detection.DeviceInfo metadata key naming the CE
	// GPIO for a detected spidev node.
	MetadataCEPin = "ce_pin"

	mode = spi.Mode0 // CPOL=0, CPHA=0, MSB first
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("spi transport closed")

// Config selects the spidev node, the CE line and the clock.
type Config struct {
	// Device is a spidev path ("/dev/spidev0.0") or a periph port name
	// ("SPI0.0").
	Device string
	// CEPin is a periph GPIO name such as "GPIO25".
	CEPin     string
	Frequency physic.Frequency
}

// DefaultConfig returns the wiring most Raspberry Pi nRF24 hats use.
func DefaultConfig() Config {
	return Config{
		Device:    "/dev/spidev0.0",
		CEPin:     "GPIO25",
		Frequency: DefaultFrequency,
	}
}

// Transport is both the nrf24.Bus and the nrf24.Pin of a chip wired to
// spidev.
type Transport struct {
	port     spi.PortCloser
	conn     spi.Conn
	ce       nrf24.Pin
	portName string
	ceName   string
	closed   bool
}

// New initialises the periph host drivers and opens cfg.Device and cfg.CEPin.
// CE is driven low before returning.
func New(cfg Config) (*Transport, error) {
	if cfg.Frequency > MaxFrequency {
		return nil, fmt.Errorf("SPI clock %s above %s", cfg.Frequency, MaxFrequency)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	pin := gpioreg.ByName(cfg.CEPin)
	if pin == nil {
		return nil, fmt.Errorf("CE pin %q not found", cfg.CEPin)
	}

	port, err := spireg.Open(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", cfg.Device, err)
	}
	return newTransport(port, pin, cfg)
}

// newTransport connects an opened port. The port is closed on failure.
func newTransport(port spi.PortCloser, ce nrf24.Pin, cfg Config) (*Transport, error) {
	if cfg.Frequency == 0 {
		cfg.Frequency = DefaultFrequency
	}
	if cfg.Frequency > MaxFrequency {
		_ = port.Close()
		return nil, fmt.Errorf("SPI clock %s above %s", cfg.Frequency, MaxFrequency)
	}

	conn, err := port.Connect(cfg.Frequency, mode, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}
	if err := ce.Out(gpio.Low); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to drive CE %s low: %w", cfg.CEPin, err)
	}

	nrf24.Debugf("spi: opened %s at %s, CE on %s", cfg.Device, cfg.Frequency, cfg.CEPin)
	return &Transport{
		port:     port,
		conn:     conn,
		ce:       ce,
		portName: cfg.Device,
		ceName:   cfg.CEPin,
	}, nil
}

// Tx implements nrf24.Bus with one chip-select frame.
func (t *Transport) Tx(w, r []byte) error {
	if t.closed {
		return ErrClosed
	}
	if err := t.conn.Tx(w, r); err != nil {
		return fmt.Errorf("SPI transfer on %s: %w", t.portName, err)
	}
	return nil
}

// Out implements nrf24.Pin for CE.
func (t *Transport) Out(l gpio.Level) error {
	if t.closed {
		return ErrClosed
	}
	if err := t.ce.Out(l); err != nil {
		return fmt.Errorf("CE %s: %w", t.ceName, err)
	}
	return nil
}

// Close drives CE low and releases the port. Closing twice is a no-op.
func (t *Transport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	ceErr := t.ce.Out(gpio.Low)
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("SPI close failed: %w", err)
	}
	if ceErr != nil {
		return fmt.Errorf("CE %s: %w", t.ceName, ceErr)
	}
	return nil
}

func (t *Transport) String() string {
	return fmt.Sprintf("spi:%s ce=%s", t.portName, t.ceName)
}

// Factory returns an nrf24.BusFactory opening path with the given CE pin.
func Factory(cePin string) nrf24.BusFactory {
	return func(path string) (nrf24.Bus, nrf24.Pin, error) {
		cfg := DefaultConfig()
		cfg.Device = path
		if cePin != "" {
			cfg.CEPin = cePin
		}
		t, err := New(cfg)
		if err != nil {
			return nil, nil, err
		}
		return t, t, nil
	}
}

// FromDevice opens a spidev node found by detection. The CE pin comes from
// the MetadataCEPin entry, or the default when absent.
func FromDevice(info detection.DeviceInfo) (nrf24.Bus, nrf24.Pin, error) {
	if info.Transport != "spi" {
		return nil, nil, fmt.Errorf("device %s is not a spidev node", info)
	}
	return Factory(info.Metadata[MetadataCEPin])(info.Path)
}
