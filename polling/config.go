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

package polling

import (
	"fmt"
	"time"
)

// SleepRecoveryConfig configures recovery after the host sleeps. A radio
// that lost power while the host was suspended comes back in its reset
// state, so the listener re-applies its configuration.
type SleepRecoveryConfig struct {
	// Enabled turns on sleep detection.
	Enabled bool

	// TimeDiscontinuityThreshold is how far past the expected poll interval
	// a gap must be before it counts as a sleep. Default: 2 seconds
	TimeDiscontinuityThreshold time.Duration

	// MaxRecoveryAttempts is the number of recovery attempts before the
	// listener gives up. Default: 3
	MaxRecoveryAttempts int

	// RecoveryBackoff is the delay between recovery attempts.
	RecoveryBackoff time.Duration
}

// DefaultSleepRecoveryConfig returns the default sleep recovery settings.
func DefaultSleepRecoveryConfig() SleepRecoveryConfig {
	return SleepRecoveryConfig{
		Enabled:                    true,
		TimeDiscontinuityThreshold: 2 * time.Second,
		MaxRecoveryAttempts:        3,
		RecoveryBackoff:            500 * time.Millisecond,
	}
}

// DetectSleep reports whether elapsed, the time since the last poll,
// exceeds pollInterval + TimeDiscontinuityThreshold.
func (cfg SleepRecoveryConfig) DetectSleep(elapsed, pollInterval time.Duration) bool {
	if !cfg.Enabled {
		return false
	}
	return elapsed > pollInterval+cfg.TimeDiscontinuityThreshold
}

// Config holds listener settings.
type Config struct {
	// PollInterval is the delay between RX FIFO checks while packets are
	// arriving.
	PollInterval time.Duration
	// IdleInterval replaces PollInterval once nothing has been received
	// for IdleAfter. Zero disables adaptive polling.
	IdleInterval time.Duration
	IdleAfter    time.Duration
	// LinkTimeout is how long without a packet before OnLinkLost fires.
	// Zero disables link tracking.
	LinkTimeout time.Duration
	// ErrorThreshold is the number of consecutive failed polls that
	// triggers recovery.
	ErrorThreshold int
	// SleepRecovery configures recovery after host sleep/wake cycles.
	SleepRecovery SleepRecoveryConfig
}

// DefaultConfig returns the default listener configuration.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:   5 * time.Millisecond,
		IdleInterval:   50 * time.Millisecond,
		IdleAfter:      5 * time.Second,
		LinkTimeout:    time.Second,
		ErrorThreshold: 3,
		SleepRecovery:  DefaultSleepRecoveryConfig(),
	}
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	switch {
	case c.PollInterval <= 0:
		return fmt.Errorf("poll interval must be positive, got %v", c.PollInterval)
	case c.IdleInterval < 0 || c.IdleAfter < 0:
		return fmt.Errorf("idle settings must not be negative (interval %v, after %v)",
			c.IdleInterval, c.IdleAfter)
	case c.LinkTimeout < 0:
		return fmt.Errorf("link timeout must not be negative, got %v", c.LinkTimeout)
	case c.ErrorThreshold < 1:
		return fmt.Errorf("error threshold must be at least 1, got %d", c.ErrorThreshold)
	}
	return nil
}

// idleInterval returns the interval to use after quiet time without a
// packet.
func (c *Config) idleInterval(quiet time.Duration) time.Duration {
	if c.IdleInterval <= c.PollInterval || c.IdleAfter == 0 || quiet < c.IdleAfter {
		return c.PollInterval
	}
	return c.IdleInterval
}
