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

package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPathIgnored(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		devicePath  string
		ignorePaths []string
		expected    bool
	}{
		{"empty ignore list", "/dev/spidev0.0", nil, false},
		{"empty device path", "", []string{"/dev/spidev0.0"}, false},
		{"exact spidev", "/dev/spidev0.0", []string{"/dev/spidev0.0"}, true},
		{"exact windows port", "COM4", []string{"COM4"}, true},
		{"case insensitive", "/dev/ttyACM0", []string{"/DEV/TTYACM0"}, true},
		{"windows case insensitive", "com4", []string{"COM4"}, true},
		{"other bus", "/dev/spidev1.0", []string{"/dev/spidev0.0"}, false},
		{"one of several", "/dev/ttyUSB1", []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "COM4"}, true},
		{"none of several", "/dev/ttyUSB2", []string{"/dev/ttyUSB0", "/dev/ttyUSB1"}, false},
		{"relative components", "/dev/../dev/spidev0.1", []string{"/dev/spidev0.1"}, true},
		{"blank entries skipped", "/dev/ttyUSB0", []string{"", "/dev/ttyUSB0", ""}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, IsPathIgnored(tt.devicePath, tt.ignorePaths))
		})
	}
}

func TestMatchesVIDPID(t *testing.T) {
	t.Parallel()

	known := []string{"0403:6001", " 04d8:fb00 "}

	assert.True(t, MatchesVIDPID("0403:6001", known))
	assert.True(t, MatchesVIDPID("04D8:FB00", known))
	assert.False(t, MatchesVIDPID("", known))
	assert.False(t, MatchesVIDPID("1209:7331", known))
	assert.False(t, MatchesVIDPID("0403:6001", nil))
}

func TestDefaultOptions_NoIgnorePaths(t *testing.T) {
	t.Parallel()

	assert.Nil(t, DefaultOptions().IgnorePaths)
}
