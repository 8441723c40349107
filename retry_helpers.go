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
	"context"
	"fmt"
	"time"
)

var sendRetryDelays = []time.Duration{SendRetryDelay1, SendRetryDelay2, SendRetryDelay3}

// SendWithRetry sends data, retrying the whole send when the error is
// retryable (IsRetryable), most often ErrMaxRetransmits on a lossy link.
// The chip must be in TransmitMode. maxRetries <= 0 uses SendMaxRetries.
func SendWithRetry(ctx context.Context, d *Device, data []byte, noAck bool, maxRetries int) error {
	if maxRetries <= 0 {
		maxRetries = SendMaxRetries
	}

	var lastErr error
	for i := range maxRetries {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := d.SendContext(ctx, data, noAck)
		if err == nil {
			if i > 0 {
				Debugf("nrf24: send succeeded on attempt %d", i+1)
			}
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if i >= maxRetries-1 {
			break
		}

		delay := sendRetryDelays[len(sendRetryDelays)-1]
		if i < len(sendRetryDelays) {
			delay = sendRetryDelays[i]
		}
		Debugf("nrf24: send attempt %d failed (retrying after %v): %v", i+1, delay, err)
		if err := d.exec.wait(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("send failed after %d attempts: %w", maxRetries, lastErr)
}
