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

// Package detection finds nRF24L01+ modules reachable from this host. Each
// transport registers a Detector on import; DetectAll runs them in parallel.
package detection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Transport names used in DeviceInfo.Transport.
const (
	TransportSPI       = "spi"
	TransportBusPirate = "buspirate"
)

// Mode is how far a detector may go to confirm a chip.
type Mode int

const (
	// Passive only lists device nodes; nothing is opened.
	Passive Mode = iota
	// Safe reads SETUP_AW and nothing else.
	Safe
	// Full also writes a scratch register and reads it back, restoring it
	// afterwards.
	Full
)

func (m Mode) String() string {
	switch m {
	case Passive:
		return "passive"
	case Safe:
		return "safe"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Confidence is how sure a detector is that a chip sits behind the path.
type Confidence int

const (
	// Low: the node exists and is accessible.
	Low Confidence = iota
	// Medium: a known bridge (USB VID:PID) or a plausible register read.
	Medium
	// High: the chip answered a register write/readback.
	High
)

func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// DeviceInfo describes one candidate module.
type DeviceInfo struct {
	// Transport-specific extras, e.g. "vidpid" or "ce_pin"
	Metadata map[string]string
	// TransportSPI or TransportBusPirate
	Transport string
	// "/dev/spidev0.0", "/dev/ttyUSB0"
	Path       string
	Name       string
	Confidence Confidence
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s device at %s (confidence: %s)", d.Transport, d.Path, d.Confidence)
}

// Options configures DetectAll.
type Options struct {
	// USB VID:PID pairs never probed
	Blocklist []string
	// Device paths never probed
	IgnorePaths []string
	// Transports to run; empty runs every registered detector
	Transports []string
	CacheTTL   time.Duration
	// Timeout bounds DetectAll; zero means the caller's context only
	Timeout     time.Duration
	Mode        Mode
	EnableCache bool
}

// DefaultOptions probes read-only with a 5s budget and a 30s cache.
func DefaultOptions() Options {
	return Options{
		Mode:        Safe,
		Timeout:     5 * time.Second,
		Blocklist:   DefaultBlocklist(),
		EnableCache: true,
		CacheTTL:    30 * time.Second,
	}
}

// Detector finds devices on one transport.
type Detector interface {
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
	Transport() string
}

var (
	// ErrNoDevicesFound is returned when no detector found anything.
	ErrNoDevicesFound = errors.New("no nRF24L01 devices found")
	// ErrDetectionTimeout is returned when the detection budget runs out.
	ErrDetectionTimeout = errors.New("detection timeout")
	// ErrUnsupportedPlatform is returned by detectors with nothing to scan
	// on this OS.
	ErrUnsupportedPlatform = errors.New("platform not supported")
)

var registry []Detector

// RegisterDetector adds d to the set DetectAll runs.
func RegisterDetector(d Detector) {
	registry = append(registry, d)
}

func getDetectors(transports []string) []Detector {
	if len(transports) == 0 {
		return registry
	}
	var filtered []Detector
	for _, d := range registry {
		for _, t := range transports {
			if d.Transport() == t {
				filtered = append(filtered, d)
				break
			}
		}
	}
	return filtered
}

type detectionResult struct {
	err     error
	devices []DeviceInfo
}

// DetectAll runs the selected detectors in parallel and returns every device
// found, highest confidence first. A failing detector does not hide the
// devices others found.
func DetectAll(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	detectors := getDetectors(opts.Transports)
	if len(detectors) == 0 {
		return nil, errors.New("no detectors available for specified transports")
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	results := make(chan detectionResult, len(detectors))
	for _, d := range detectors {
		go func() {
			results <- runDetector(ctx, d, opts)
		}()
	}

	var devices []DeviceInfo
	var errs []error
	for range detectors {
		select {
		case res := <-results:
			if res.err != nil {
				errs = append(errs, res.err)
			} else {
				devices = append(devices, res.devices...)
			}
		case <-ctx.Done():
			return nil, ErrDetectionTimeout
		}
	}

	if len(devices) > 0 {
		sort.SliceStable(devices, func(i, j int) bool {
			return devices[i].Confidence > devices[j].Confidence
		})
		return devices, nil
	}
	if ctx.Err() != nil {
		return nil, ErrDetectionTimeout
	}
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return nil, ErrNoDevicesFound
}

func runDetector(ctx context.Context, d Detector, opts *Options) detectionResult {
	if opts.EnableCache {
		if cached, ok := getCached(d.Transport(), opts.Mode, opts.CacheTTL); ok {
			// the options may have changed since the entry was stored
			return detectionResult{devices: filterDevices(cached, opts)}
		}
	}

	devices, err := d.Detect(ctx, opts)
	if err != nil && !errors.Is(err, ErrNoDevicesFound) {
		return detectionResult{err: err}
	}

	if opts.EnableCache {
		if len(devices) > 0 {
			setCached(d.Transport(), opts.Mode, devices)
		} else {
			// an unplugged device must not linger until the TTL expires
			clearCacheForTransport(d.Transport())
		}
	}
	return detectionResult{devices: devices}
}

// filterDevices applies IgnorePaths and Blocklist.
func filterDevices(devices []DeviceInfo, opts *Options) []DeviceInfo {
	if len(opts.IgnorePaths) == 0 && len(opts.Blocklist) == 0 {
		return devices
	}
	var filtered []DeviceInfo
	for _, device := range devices {
		if IsPathIgnored(device.Path, opts.IgnorePaths) {
			continue
		}
		if vidpid, ok := device.Metadata["vidpid"]; ok && IsBlocked(vidpid, opts.Blocklist) {
			continue
		}
		filtered = append(filtered, device)
	}
	return filtered
}

// ClearDetectionCache drops every cached result.
func ClearDetectionCache() {
	clearCache()
}

// ClearDetectionCacheForTransport drops the cached results of one transport.
func ClearDetectionCacheForTransport(transport string) {
	clearCacheForTransport(transport)
}
