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

//nolint:paralleltest // tests swap the global registry and cache
package detection

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMode_String(t *testing.T) {
	assert.Equal(t, Passive, Mode(0))
	assert.Equal(t, "passive", Passive.String())
	assert.Equal(t, "safe", Safe.String())
	assert.Equal(t, "full", Full.String())
	assert.Equal(t, "Mode(7)", Mode(7).String())
}

func TestDeviceInfo_String(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		device   DeviceInfo
	}{
		{
			name:     "Low confidence spidev",
			device:   DeviceInfo{Transport: TransportSPI, Path: "/dev/spidev0.0", Confidence: Low},
			expected: "spi device at /dev/spidev0.0 (confidence: low)",
		},
		{
			name:     "Medium confidence Bus Pirate",
			device:   DeviceInfo{Transport: TransportBusPirate, Path: "/dev/ttyUSB0", Confidence: Medium},
			expected: "buspirate device at /dev/ttyUSB0 (confidence: medium)",
		},
		{
			name:     "High confidence",
			device:   DeviceInfo{Transport: TransportSPI, Path: "/dev/spidev1.0", Confidence: High},
			expected: "spi device at /dev/spidev1.0 (confidence: high)",
		},
		{
			name:     "Unknown confidence",
			device:   DeviceInfo{Transport: TransportSPI, Path: "/dev/spidev0.1", Confidence: Confidence(99)},
			expected: "spi device at /dev/spidev0.1 (confidence: unknown)",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.device.String())
		})
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.Equal(t, Safe, opts.Mode)
	assert.Equal(t, 5*time.Second, opts.Timeout)
	assert.True(t, opts.EnableCache)
	assert.Equal(t, 30*time.Second, opts.CacheTTL)
	assert.NotEmpty(t, opts.Blocklist)
}

// --- cache ---

func TestCache_GetSet(t *testing.T) {
	clearCache()
	defer clearCache()

	_, found := getCached(TransportSPI, Passive, time.Minute)
	assert.False(t, found)

	setCached(TransportSPI, Safe, []DeviceInfo{{Transport: TransportSPI, Path: "/dev/spidev0.0"}})

	cached, found := getCached(TransportSPI, Safe, time.Minute)
	require.True(t, found)
	assert.Equal(t, "/dev/spidev0.0", cached[0].Path)

	_, found = getCached(TransportSPI, Passive, time.Minute)
	assert.True(t, found, "a safe probe answers a passive request")
	_, found = getCached(TransportSPI, Full, time.Minute)
	assert.False(t, found, "a safe probe cannot answer a full request")
}

func TestCache_TTLExpiry(t *testing.T) {
	clearCache()
	defer clearCache()

	setCached(TransportSPI, Safe, []DeviceInfo{{Path: "/dev/spidev0.0"}})
	time.Sleep(time.Millisecond)

	cached, found := getCached(TransportSPI, Safe, time.Nanosecond)
	assert.False(t, found)
	assert.Nil(t, cached)
}

func TestCache_ClearForTransport(t *testing.T) {
	clearCache()
	defer clearCache()

	setCached(TransportSPI, Safe, []DeviceInfo{{Transport: TransportSPI}})
	setCached(TransportBusPirate, Safe, []DeviceInfo{{Transport: TransportBusPirate}})

	ClearDetectionCacheForTransport(TransportSPI)

	_, found := getCached(TransportSPI, Safe, time.Minute)
	assert.False(t, found)
	_, found = getCached(TransportBusPirate, Safe, time.Minute)
	assert.True(t, found)

	ClearDetectionCache()
	_, found = getCached(TransportBusPirate, Safe, time.Minute)
	assert.False(t, found)
}

func TestCache_CopiesMetadata(t *testing.T) {
	clearCache()
	defer clearCache()

	devices := []DeviceInfo{{Path: "/dev/spidev0.0", Metadata: map[string]string{"ce_pin": "GPIO25"}}}
	setCached(TransportSPI, Safe, devices)
	devices[0].Metadata["ce_pin"] = "GPIO22"

	cached, _ := getCached(TransportSPI, Safe, time.Minute)
	assert.Equal(t, "GPIO25", cached[0].Metadata["ce_pin"])

	cached[0].Metadata["ce_pin"] = "GPIO5"
	again, _ := getCached(TransportSPI, Safe, time.Minute)
	assert.Equal(t, "GPIO25", again[0].Metadata["ce_pin"])
}

// --- blocklist ---

func TestIsBlocked(t *testing.T) {
	blocklist := []string{"0403:6001", "ABCD:EF01"}

	tests := []struct {
		name    string
		vidpid  string
		blocked bool
	}{
		{"Exact match", "0403:6001", true},
		{"Case insensitive", "abcd:ef01", true},
		{"Not in blocklist", "9999:9999", false},
		{"Empty string", "", false},
		{"Partial match", "0403:", false},
		{"With whitespace", "  0403:6001  ", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.blocked, IsBlocked(tc.vidpid, blocklist))
		})
	}
}

func TestParseVIDPID(t *testing.T) {
	tests := []struct {
		name       string
		descriptor string
		expected   string
	}{
		{"Simple format", "0403:6001", "0403:6001"},
		{"VID:PID format", "VID:0403 PID:6001", "0403:6001"},
		{"VID=PID= format", "VID=0403 PID=6001", "0403:6001"},
		{"Vendor Product format", "vendor=04d8 product=fb00", "04D8:FB00"},
		{"Mixed case", "vid:abcd pid:ef01", "ABCD:EF01"},
		{"Two colons", "12:34:56", ""},
		{"Invalid format", "not a valid descriptor", ""},
		{"Empty string", "", ""},
		{"Only VID", "VID:1234", ""},
		{"Only PID", "PID:5678", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ParseVIDPID(tc.descriptor))
		})
	}
}

func TestExtractHex(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Simple hex", "1234", "1234"},
		{"Stops at x", "0x1234 abc", "0"},
		{"Leading space", " 1234 abc", "1234"},
		{"Letters", "1234ABC", "1234ABC"},
		{"No hex", "xyz", ""},
		{"Empty", "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, extractHex(tc.input))
		})
	}
}

func TestIsHex(t *testing.T) {
	assert.True(t, isHex("1234ABCD"))
	assert.True(t, isHex("abcdef"))
	assert.False(t, isHex("123G"))
	assert.False(t, isHex(""))
	assert.False(t, isHex("12 34"))
}

// --- DetectAll ---

type stubDetector struct {
	err       error
	transport string
	devices   []DeviceInfo
	calls     atomic.Int32
}

func (s *stubDetector) Detect(_ context.Context, _ *Options) ([]DeviceInfo, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.devices) == 0 {
		return nil, ErrNoDevicesFound
	}
	return s.devices, nil
}

func (s *stubDetector) Transport() string {
	return s.transport
}

type blockingDetector struct{}

func (*blockingDetector) Detect(ctx context.Context, _ *Options) ([]DeviceInfo, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (*blockingDetector) Transport() string {
	return "blocking"
}

func withRegistry(t *testing.T, detectors ...Detector) {
	t.Helper()
	saved := registry
	registry = nil
	for _, d := range detectors {
		RegisterDetector(d)
	}
	clearCache()
	t.Cleanup(func() {
		registry = saved
		clearCache()
	})
}

func TestGetDetectors_FilterByTransport(t *testing.T) {
	withRegistry(t,
		&stubDetector{transport: TransportSPI},
		&stubDetector{transport: TransportBusPirate},
	)

	assert.Len(t, getDetectors(nil), 2)
	assert.Len(t, getDetectors([]string{TransportSPI}), 1)
	assert.Empty(t, getDetectors([]string{"usb"}))
}

func TestDetectAll_NoDetectors(t *testing.T) {
	withRegistry(t)
	opts := DefaultOptions()
	opts.Transports = []string{"nonexistent"}

	_, err := DetectAll(context.Background(), &opts)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no detectors available")
}

func TestDetectAll_Timeout(t *testing.T) {
	withRegistry(t, &blockingDetector{})
	opts := DefaultOptions()
	opts.Timeout = 10 * time.Millisecond
	opts.EnableCache = false

	_, err := DetectAll(context.Background(), &opts)

	require.ErrorIs(t, err, ErrDetectionTimeout)
}

func TestDetectAll_HighestConfidenceFirst(t *testing.T) {
	withRegistry(t,
		&stubDetector{transport: TransportSPI, devices: []DeviceInfo{
			{Transport: TransportSPI, Path: "/dev/spidev0.1", Confidence: Low},
		}},
		&stubDetector{transport: TransportBusPirate, devices: []DeviceInfo{
			{Transport: TransportBusPirate, Path: "/dev/ttyUSB0", Confidence: High},
		}},
	)
	opts := DefaultOptions()

	devices, err := DetectAll(context.Background(), &opts)

	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "/dev/ttyUSB0", devices[0].Path)
}

func TestDetectAll_FailingDetectorDoesNotHideDevices(t *testing.T) {
	errBroken := errors.New("broken")
	withRegistry(t,
		&stubDetector{transport: TransportSPI, err: errBroken},
		&stubDetector{transport: TransportBusPirate, devices: []DeviceInfo{{Path: "/dev/ttyUSB0"}}},
	)
	opts := DefaultOptions()

	devices, err := DetectAll(context.Background(), &opts)
	require.NoError(t, err)
	assert.Len(t, devices, 1)

	opts.Transports = []string{TransportSPI}
	_, err = DetectAll(context.Background(), &opts)
	require.ErrorIs(t, err, errBroken)
}

func TestDetectAll_NothingFound(t *testing.T) {
	withRegistry(t, &stubDetector{transport: TransportSPI})
	opts := DefaultOptions()

	_, err := DetectAll(context.Background(), &opts)

	require.ErrorIs(t, err, ErrNoDevicesFound)
}

func TestDetectAll_CachedResultsAreFiltered(t *testing.T) {
	stub := &stubDetector{transport: TransportBusPirate, devices: []DeviceInfo{
		{Path: "/dev/ttyUSB0", Metadata: map[string]string{"vidpid": "0403:6001"}},
		{Path: "/dev/ttyUSB1"},
	}}
	withRegistry(t, stub)
	opts := DefaultOptions()

	devices, err := DetectAll(context.Background(), &opts)
	require.NoError(t, err)
	assert.Len(t, devices, 2)

	opts.Blocklist = []string{"0403:6001"}
	opts.IgnorePaths = []string{"/dev/ttyUSB1"}
	_, err = DetectAll(context.Background(), &opts)

	require.ErrorIs(t, err, ErrNoDevicesFound)
	assert.Equal(t, int32(1), stub.calls.Load(), "second call served from cache")
}
