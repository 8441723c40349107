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
	"errors"
	"fmt"
	"time"
)

// WaitForPacket blocks until a payload arrives, ctx ends or the chip keeps
// failing. It polls the RX FIFO every interval (DefaultWaitPollInterval
// when zero) and returns the payload length and pipe like ReadPayloadPipe.
// The device must be in ReceiveMode.
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
//	defer cancel()
//
//	buf := make([]byte, nrf24.MaxPayloadSize)
//	n, pipe, err := dev.WaitForPacket(ctx, buf, 0)
//	if errors.Is(err, context.DeadlineExceeded) {
//	    fmt.Println("nothing received")
//	}
func (d *Device) WaitForPacket(ctx context.Context, buf []byte, interval time.Duration) (n, pipe int, err error) {
	if err := requireMode("WaitForPacket", d.mode, ReceiveMode); err != nil {
		return 0, -1, err
	}
	if interval <= 0 {
		interval = DefaultWaitPollInterval
	}

	errorCount := 0
	for {
		if err := ctx.Err(); err != nil {
			return 0, -1, err
		}

		got, p, rerr := d.ReadPayloadPipeContext(ctx, buf)
		switch {
		case rerr == nil:
			Debugf("nrf24: packet of %d bytes on pipe %d", got, p)
			return got, p, nil
		case errors.Is(rerr, ErrFIFOEmpty):
		case errors.Is(rerr, ErrCorruptPayload):
			Debugln("nrf24: dropped corrupt packet, continuing to wait...")
		case isContextError(rerr), IsFatal(rerr), errors.Is(rerr, ErrPayloadTooLarge):
			return 0, -1, rerr
		default:
			if herr := d.handleWaitError(&errorCount, rerr); herr != nil {
				return 0, -1, herr
			}
		}

		if err := d.exec.wait(ctx, interval); err != nil {
			return 0, -1, err
		}
	}
}

func (*Device) handleWaitError(errorCount *int, err error) error {
	const logged = 3

	*errorCount++
	if *errorCount <= logged {
		Debugf("nrf24: receive error #%d: %v", *errorCount, err)
	}
	if *errorCount > WaitMaxErrors {
		return fmt.Errorf("too many receive errors (%d), last error: %w", *errorCount, err)
	}
	return nil
}
