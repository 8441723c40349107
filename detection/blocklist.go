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
	"path/filepath"
	"strings"
)

// DefaultBlocklist returns USB serial bridges that share a VID:PID with Bus
// Pirate clones but misbehave when sent binary-mode resets. Entries are
// VID:PID in hexadecimal, case-insensitive.
func DefaultBlocklist() []string {
	return []string{
		"2341:0043", // Arduino Uno R3: resets on every open
		"1A86:55D4", // CH9102F on ESP32 boards: drops into the bootloader
	}
}

func normalizeVIDPID(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// IsBlocked reports whether vidpid appears in blocklist.
func IsBlocked(vidpid string, blocklist []string) bool {
	return MatchesVIDPID(vidpid, blocklist)
}

// MatchesVIDPID reports whether vidpid equals any entry of known, ignoring
// case and surrounding spaces.
func MatchesVIDPID(vidpid string, known []string) bool {
	vidpid = normalizeVIDPID(vidpid)
	if vidpid == "" {
		return false
	}
	for _, k := range known {
		if normalizeVIDPID(k) == vidpid {
			return true
		}
	}
	return false
}

var (
	vidPrefixes = []string{"VID:", "VENDOR=", "VID="}
	pidPrefixes = []string{"PID:", "PRODUCT=", "PID="}
)

// ParseVIDPID extracts "VVVV:PPPP" from descriptors such as "1234:5678",
// "VID:1234 PID:5678" or "vendor=1234 product=5678". It returns "" when
// either half is missing.
func ParseVIDPID(descriptor string) string {
	descriptor = strings.ToUpper(descriptor)

	vid := hexAfter(descriptor, vidPrefixes)
	pid := hexAfter(descriptor, pidPrefixes)
	if vid != "" && pid != "" {
		return vid + ":" + pid
	}

	if v, p, ok := strings.Cut(descriptor, ":"); ok && isHex(v) && isHex(p) {
		return descriptor
	}
	return ""
}

// hexAfter returns the hex run following the first prefix found.
func hexAfter(s string, prefixes []string) string {
	for _, prefix := range prefixes {
		if idx := strings.Index(s, prefix); idx >= 0 {
			return extractHex(s[idx+len(prefix):])
		}
	}
	return ""
}

// extractHex returns the first run of upper-case hex digits in s.
func extractHex(s string) string {
	start := strings.IndexFunc(s, isHexRune)
	if start < 0 {
		return ""
	}
	end := strings.IndexFunc(s[start:], func(r rune) bool { return !isHexRune(r) })
	if end < 0 {
		return s[start:]
	}
	return s[start : start+end]
}

func isHexRune(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F')
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range strings.ToUpper(s) {
		if !isHexRune(r) {
			return false
		}
	}
	return true
}

// IsPathIgnored reports whether devicePath matches an entry of ignorePaths,
// exactly or after cleaning and lower-casing both.
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" {
		return false
	}
	normalized := normalizedPath(devicePath)
	for _, p := range ignorePaths {
		if p == "" {
			continue
		}
		if p == devicePath || normalizedPath(p) == normalized {
			return true
		}
	}
	return false
}

func normalizedPath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}
