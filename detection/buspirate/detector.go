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

// Package buspirate detects Bus Pirate SPI bridges on USB serial ports with
// an nRF24L01+ attached. Importing it registers the detector.
package buspirate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ZaparooProject/go-nrf24"
	"github.com/ZaparooProject/go-nrf24/detection"
	"github.com/ZaparooProject/go-nrf24/transport/buspirate"
	"go.bug.st/serial/enumerator"
)

const probeTimeout = 2 * time.Second

// knownBridges are the USB identities Bus Pirates enumerate with.
var knownBridges = []string{
	"0403:6001", // v3: FTDI FT232RL
	"04D8:FB00", // v4: PIC24 CDC
	"1209:7331", // v5/v6: RP2040 CDC
}

// serialPort is one enumerated serial port.
type serialPort struct {
	Path         string
	Name         string
	VIDPID       string
	Product      string
	SerialNumber string
}

// detector implements detection.Detector for Bus Pirates.
type detector struct {
	ports func() ([]serialPort, error)
	probe func(ctx context.Context, path string) bool
}

// New returns the Bus Pirate detector.
func New() detection.Detector {
	return &detector{ports: listPorts, probe: probePort}
}

func init() {
	detection.RegisterDetector(New())
}

func (*detector) Transport() string {
	return detection.TransportBusPirate
}

// Detect lists USB serial ports. Passive mode keeps known Bus Pirate
// identities at Medium confidence without opening them. Safe mode opens
// those and keeps the ones where a chip answers, at High. Full mode also
// tries every other port.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := d.ports()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	var devices []detection.DeviceInfo
	for i := range ports {
		if ctx.Err() != nil {
			return devices, detection.ErrDetectionTimeout
		}
		port := &ports[i]
		if detection.IsPathIgnored(port.Path, opts.IgnorePaths) ||
			(port.VIDPID != "" && detection.IsBlocked(port.VIDPID, opts.Blocklist)) {
			continue
		}
		if device, ok := d.processPort(ctx, port, opts.Mode); ok {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func (d *detector) processPort(ctx context.Context, port *serialPort, mode detection.Mode) (detection.DeviceInfo, bool) {
	likely := isLikelyBusPirate(port)
	switch {
	case mode == detection.Passive && likely:
		return createDeviceInfo(port, detection.Medium), true
	case mode == detection.Passive, mode == detection.Safe && !likely:
		return detection.DeviceInfo{}, false
	}

	// A failed probe discards even a known identity: a bare Bus Pirate with
	// no radio must not hide a working one enumerated later.
	if !d.probe(ctx, port.Path) {
		return detection.DeviceInfo{}, false
	}
	return createDeviceInfo(port, detection.High), true
}

func createDeviceInfo(port *serialPort, confidence detection.Confidence) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  detection.TransportBusPirate,
		Path:       port.Path,
		Name:       port.Name,
		Confidence: confidence,
		Metadata:   make(map[string]string),
	}
	if device.Name == "" {
		device.Name = "Bus Pirate on " + port.Path
	}
	if port.VIDPID != "" {
		device.Metadata["vidpid"] = port.VIDPID
	}
	if port.Product != "" {
		device.Metadata["product"] = port.Product
	}
	if port.SerialNumber != "" {
		device.Metadata["serial"] = port.SerialNumber
	}
	return device
}

func isLikelyBusPirate(port *serialPort) bool {
	if detection.MatchesVIDPID(port.VIDPID, knownBridges) {
		return true
	}
	product := strings.ToLower(port.Product)
	return strings.Contains(product, "bus pirate") || strings.Contains(product, "buspirate")
}

// listPorts enumerates USB serial ports with their identities.
func listPorts() ([]serialPort, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	ports := make([]serialPort, 0, len(details))
	for _, p := range details {
		if !p.IsUSB {
			continue
		}
		ports = append(ports, serialPort{
			Path:         p.Name,
			Name:         p.Product,
			VIDPID:       detection.ParseVIDPID(p.VID + ":" + p.PID),
			Product:      p.Product,
			SerialNumber: p.SerialNumber,
		})
	}
	return ports, nil
}

// probePort enters binary SPI mode and reads SETUP_AW once. Probing is never
// retried: a port that is not a Bus Pirate gets a single burst of zero bytes.
func probePort(ctx context.Context, path string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cfg := buspirate.DefaultConfig()
	cfg.Port = path
	t, err := buspirate.New(cfg)
	if err != nil {
		nrf24.Debugf("detection/buspirate: %s: %v", path, err)
		return false
	}
	defer func() { _ = t.Close() }()

	ok, err := chipAnswers(ctx, t)
	if err != nil {
		nrf24.Debugf("detection/buspirate: %s: %v", path, err)
	}
	return ok
}

// chipAnswers reads SETUP_AW, which only holds 1-3 on a live chip.
func chipAnswers(ctx context.Context, bus nrf24.ContextBus) (bool, error) {
	r := make([]byte, 2)
	if err := bus.TxContext(ctx, []byte{nrf24.ReadRegisterCmd(nrf24.RegSetupAW), nrf24.CmdNOP}, r); err != nil {
		return false, fmt.Errorf("read SETUP_AW: %w", err)
	}
	return r[1] >= 1 && r[1] <= 3, nil
}
