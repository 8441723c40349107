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

// Package spi detects nRF24L01+ modules on Linux spidev nodes. Importing it
// registers the detector.
package spi

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ZaparooProject/go-nrf24"
	"github.com/ZaparooProject/go-nrf24/detection"
	"github.com/ZaparooProject/go-nrf24/transport/spi"
)

const probeTimeout = 2 * time.Second

// Config names one spidev node and its CE line. It is also the format of
// the spi.json config file, either a single object or an array.
type Config struct {
	Metadata map[string]string `json:"metadata,omitempty"`
	Device   string            `json:"device"`
	Name     string            `json:"name,omitempty"`
	CEPin    string            `json:"ce_pin,omitempty"`
}

// probeBus is a bus opened for probing.
type probeBus interface {
	nrf24.Bus
	Close() error
}

func openBus(cfg Config) (probeBus, error) {
	tc := spi.DefaultConfig()
	tc.Device = cfg.Device
	if cfg.CEPin != "" {
		tc.CEPin = cfg.CEPin
	}
	t, err := spi.New(tc)
	if err != nil {
		return nil, err
	}
	return t, nil
}

type detector struct {
	open   func(Config) (probeBus, error)
	access func(path string) error
	// sources return candidate configs in priority order
	sources []func() []Config
}

// New returns the spidev detector. Candidates come from the config files,
// then the NRF24_SPI_DEVICE and NRF24_CE_PIN environment variables, then
// /dev/spidev*.
func New() detection.Detector {
	return &detector{
		open:    openBus,
		access:  checkAccess,
		sources: []func() []Config{loadConfigFile, loadEnvConfig, globSPIDevices},
	}
}

func init() {
	detection.RegisterDetector(New())
}

func (*detector) Transport() string {
	return detection.TransportSPI
}

// Detect lists candidate nodes. Passive mode stops there; Safe and Full
// probe each node and drop those where no chip answers.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	var devices []detection.DeviceInfo
	for _, cfg := range d.gatherConfigs() {
		if ctx.Err() != nil {
			return devices, detection.ErrDetectionTimeout
		}
		if detection.IsPathIgnored(cfg.Device, opts.IgnorePaths) {
			continue
		}
		if err := d.access(cfg.Device); err != nil {
			nrf24.Debugf("detection/spi: skipping %s: %v", cfg.Device, err)
			continue
		}

		device := createDeviceInfo(cfg)
		if opts.Mode != detection.Passive {
			confidence, ok := d.probeDevice(ctx, cfg, opts.Mode)
			if !ok {
				continue
			}
			device.Confidence = confidence
		}
		devices = append(devices, device)
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// gatherConfigs merges every source, keeping the first config per device.
func (d *detector) gatherConfigs() []Config {
	seen := make(map[string]bool)
	var unique []Config
	for _, source := range d.sources {
		for _, cfg := range source() {
			if cfg.Device == "" || seen[cfg.Device] {
				continue
			}
			seen[cfg.Device] = true
			unique = append(unique, cfg)
		}
	}
	return unique
}

func createDeviceInfo(cfg Config) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  detection.TransportSPI,
		Path:       cfg.Device,
		Name:       cfg.Name,
		Confidence: detection.Low,
		Metadata:   make(map[string]string, len(cfg.Metadata)+1),
	}
	for k, v := range cfg.Metadata {
		device.Metadata[k] = v
	}
	if cfg.CEPin != "" {
		device.Metadata[spi.MetadataCEPin] = cfg.CEPin
	}
	if device.Name == "" {
		device.Name = "nRF24L01 on " + filepath.Base(cfg.Device)
	}
	return device
}

func (d *detector) probeDevice(ctx context.Context, cfg Config, mode detection.Mode) (detection.Confidence, bool) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	bus, err := d.open(cfg)
	if err != nil {
		nrf24.Debugf("detection/spi: open %s: %v", cfg.Device, err)
		return detection.Low, false
	}
	defer func() { _ = bus.Close() }()

	confidence, err := probe(ctx, bus, mode)
	if err != nil {
		nrf24.Debugf("detection/spi: probe %s: %v", cfg.Device, err)
		return detection.Low, false
	}
	return confidence, true
}

// probe checks for a chip without initialising it. Safe mode reads SETUP_AW,
// which only holds 1-3 on a live chip; a floating MISO reads 0x00 or 0xFF.
// Full mode also flips a bit of RF_CH, reads it back and restores it.
func probe(ctx context.Context, bus nrf24.Bus, mode detection.Mode) (detection.Confidence, error) {
	aw, err := readRegister(ctx, bus, nrf24.RegSetupAW)
	if err != nil {
		return detection.Low, err
	}
	if aw < 1 || aw > 3 {
		return detection.Low, fmt.Errorf("SETUP_AW reads 0x%02X", aw)
	}
	if mode != detection.Full {
		return detection.Medium, nil
	}

	ch, err := readRegister(ctx, bus, nrf24.RegRFCh)
	if err != nil {
		return detection.Low, err
	}
	scratch := (ch ^ 0x01) & 0x7F
	if err := writeRegister(ctx, bus, nrf24.RegRFCh, scratch); err != nil {
		return detection.Low, err
	}
	got, err := readRegister(ctx, bus, nrf24.RegRFCh)
	restoreErr := writeRegister(context.WithoutCancel(ctx), bus, nrf24.RegRFCh, ch)
	if err != nil {
		return detection.Low, err
	}
	if restoreErr != nil {
		return detection.Low, restoreErr
	}
	if got != scratch {
		return detection.Medium, nil
	}
	return detection.High, nil
}

func readRegister(ctx context.Context, bus nrf24.Bus, addr byte) (byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r := make([]byte, 2)
	if err := bus.Tx([]byte{nrf24.ReadRegisterCmd(addr), nrf24.CmdNOP}, r); err != nil {
		return 0, fmt.Errorf("read %s: %w", nrf24.RegisterName(addr), err)
	}
	return r[1], nil
}

func writeRegister(ctx context.Context, bus nrf24.Bus, addr, value byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := bus.Tx([]byte{nrf24.WriteRegisterCmd(addr), value}, nil); err != nil {
		return fmt.Errorf("write %s: %w", nrf24.RegisterName(addr), err)
	}
	return nil
}

// configPaths are searched in order; the first readable file wins.
func configPaths() []string {
	paths := []string{"nrf24-spi.json", ".nrf24-spi.json"}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "nrf24", "spi.json"))
	}
	return append(paths, "/etc/nrf24/spi.json")
}

func loadConfigFile() []Config {
	for _, path := range configPaths() {
		// #nosec G304 -- fixed search paths
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		configs, err := parseConfigs(data)
		if err != nil {
			nrf24.Debugf("detection/spi: %s: %v", path, err)
			continue
		}
		return configs
	}
	return nil
}

// parseConfigs accepts a single Config object or an array of them.
func parseConfigs(data []byte) ([]Config, error) {
	var configs []Config
	if err := json.Unmarshal(data, &configs); err == nil {
		return configs, nil
	}
	var single Config
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("invalid SPI config: %w", err)
	}
	return []Config{single}, nil
}

func loadEnvConfig() []Config {
	device := os.Getenv("NRF24_SPI_DEVICE")
	if device == "" {
		return nil
	}
	return []Config{{
		Device: device,
		Name:   "nRF24L01 from environment",
		CEPin:  os.Getenv("NRF24_CE_PIN"),
	}}
}

func globSPIDevices() []Config {
	matches, err := filepath.Glob("/dev/spidev*")
	if err != nil {
		return nil
	}
	configs := make([]Config, 0, len(matches))
	for _, path := range matches {
		configs = append(configs, Config{Device: path})
	}
	return configs
}
