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
	"context"
	"errors"
	"fmt"
	"time"

	nrf24 "github.com/ZaparooProject/go-nrf24"
	"github.com/ZaparooProject/go-nrf24/internal/syncutil"
)

// ErrNotResponding is returned when a re-applied chip still fails the
// connectivity check.
var ErrNotResponding = errors.New("radio not responding after reconfiguration")

// DeviceRecoverer brings a failing device back to a configured state.
type DeviceRecoverer interface {
	// AttemptRecovery tries to recover the device. On success the device
	// returned by GetDevice is in PowerDown with its configuration applied.
	AttemptRecovery(ctx context.Context) error

	// GetDevice returns the current device, which may change after a
	// reconnection.
	GetDevice() *nrf24.Device
}

// ReopenFunc opens a fresh device, typically through nrf24.ConnectDevice.
type ReopenFunc func(ctx context.Context) (*nrf24.Device, error)

// DefaultRecoverer recovers in two tiers:
// 1. Power down and re-apply the device's configuration
// 2. Close the device and open a new one with the reopen function
type DefaultRecoverer struct {
	device      *nrf24.Device
	reopenFunc  ReopenFunc
	backoff     time.Duration
	maxAttempts int
	mu          syncutil.Mutex
}

// NewDefaultRecoverer creates a tiered recoverer. With a nil reopenFunc only
// the first tier is attempted.
func NewDefaultRecoverer(
	device *nrf24.Device,
	reopenFunc ReopenFunc,
	backoff time.Duration,
	maxAttempts int,
) *DefaultRecoverer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &DefaultRecoverer{
		device:      device,
		reopenFunc:  reopenFunc,
		backoff:     backoff,
		maxAttempts: maxAttempts,
	}
}

// AttemptRecovery runs up to maxAttempts rounds of the two tiers, waiting
// the backoff between rounds.
func (r *DefaultRecoverer) AttemptRecovery(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for attempt := range r.maxAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff):
			}
		}

		err := reapply(ctx, r.device)
		if err == nil {
			return nil
		}
		nrf24.Debugf("polling: reconfigure attempt %d failed: %v", attempt+1, err)
		lastErr = err

		if r.reopenFunc == nil {
			continue
		}
		_ = r.device.Close()
		dev, reopenErr := r.reopenFunc(ctx)
		if reopenErr == nil {
			r.device = dev
			return nil
		}
		nrf24.Debugf("polling: reopen attempt %d failed: %v", attempt+1, reopenErr)
		lastErr = reopenErr
	}
	return lastErr
}

// GetDevice returns the current device.
func (r *DefaultRecoverer) GetDevice() *nrf24.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.device
}

// reapply forces the chip to PowerDown, writes the device's configuration
// again and checks that the chip answers.
func reapply(ctx context.Context, dev *nrf24.Device) error {
	if dev.Mode() != nrf24.PowerDown {
		if err := dev.PowerDownContext(ctx); err != nil {
			return fmt.Errorf("power down: %w", err)
		}
	}
	if err := dev.ApplyContext(ctx, dev.Config()); err != nil {
		return err
	}
	ok, err := dev.IsConnectedContext(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotResponding
	}
	return nil
}
