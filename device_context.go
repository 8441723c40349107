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

	"periph.io/x/conn/v3/gpio"
)

// ApplyContext validates cfg and writes it to the chip. It is allowed in
// PowerDown and Standby only. CONFIG is written last and keeps the current
// PWR_UP and PRIM_RX bits, so applying never changes the mode. Applying the
// same Config twice produces the same bus traffic.
//
// If a write fails part way the chip holds a mix of old and new settings and
// Config still reports the old one; apply again to recover.
func (d *Device) ApplyContext(ctx context.Context, cfg Config) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	if err := requireMode("Apply", d.mode, PowerDown, Standby); err != nil {
		return err
	}
	return d.applyContext(ctx, cfg)
}

func (d *Device) applyContext(ctx context.Context, cfg Config) error {
	writes, err := cfg.Registers(d.config)
	if err != nil {
		return err
	}
	for _, w := range writes {
		if w.Addr == RegConfig {
			err = d.writeConfig(ctx, w.Value[0])
		} else {
			_, err = d.writeRegister(ctx, w.Addr, w.Value...)
		}
		if err != nil {
			return fmt.Errorf("apply %s: %w", RegisterName(w.Addr), err)
		}
	}
	d.cfg = copyConfig(cfg)
	d.payload = cfg.Payload
	Debugf("nrf24: applied %d register writes (CONFIG=%02X)", len(writes), d.config)
	return nil
}

// TransitionContext moves the chip from its current mode to to, honouring
// the chip's timing. Illegal pairs return *TransitionError without any I/O.
// A failed step leaves Mode unchanged; CONFIG writes that completed before
// the failure stay in effect.
func (d *Device) TransitionContext(ctx context.Context, to Mode) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	from := d.mode
	if err := checkTransition(from, to); err != nil {
		return err
	}

	var err error
	switch to {
	case PowerDown:
		err = d.enterPowerDown(ctx)
	case Standby:
		err = d.enterStandby(ctx, from)
	case TransmitMode:
		err = d.enterTransmit(ctx)
	case ReceiveMode:
		err = d.enterReceive(ctx)
	}
	if err != nil {
		Debugf("nrf24: transition %s -> %s failed: %v", from, to, err)
		return err
	}
	d.mode = to
	Debugf("nrf24: %s -> %s", from, to)
	return nil
}

func (d *Device) enterPowerDown(ctx context.Context) error {
	if err := d.exec.setCE(ctx, gpio.Low); err != nil {
		return err
	}
	return d.writeConfig(ctx, d.config&^cfgPwrUp)
}

func (d *Device) enterStandby(ctx context.Context, from Mode) error {
	if from != PowerDown {
		return d.exec.setCE(ctx, gpio.Low)
	}
	if err := d.writeConfig(ctx, d.config|cfgPwrUp); err != nil {
		return err
	}
	return d.exec.wait(ctx, PowerUpDelay)
}

func (d *Device) enterTransmit(ctx context.Context) error {
	if d.config&cfgPrimRx != 0 {
		if err := d.writeConfig(ctx, d.config&^cfgPrimRx); err != nil {
			return err
		}
	}
	return d.pulseCE(ctx)
}

func (d *Device) enterReceive(ctx context.Context) error {
	if d.config&cfgPrimRx == 0 {
		if err := d.writeConfig(ctx, d.config|cfgPrimRx); err != nil {
			return err
		}
	}
	if err := d.exec.setCE(ctx, gpio.High); err != nil {
		return err
	}
	return d.exec.wait(ctx, RxSettleDelay)
}

// pulseCE holds CE high for CEPulseWidth. CE is always returned low, even
// when the wait is cancelled, so an abandoned pulse cannot leave the chip
// transmitting.
func (d *Device) pulseCE(ctx context.Context) error {
	if err := d.exec.setCE(ctx, gpio.High); err != nil {
		return err
	}
	waitErr := d.exec.wait(ctx, CEPulseWidth)
	lowCtx := ctx
	if waitErr != nil {
		lowCtx = context.WithoutCancel(ctx)
	}
	if err := d.exec.setCE(lowCtx, gpio.Low); err != nil {
		return err
	}
	return waitErr
}

// PowerUpContext moves PowerDown to Standby.
func (d *Device) PowerUpContext(ctx context.Context) error {
	return d.TransitionContext(ctx, Standby)
}

// PowerDownContext moves any mode to PowerDown.
func (d *Device) PowerDownContext(ctx context.Context) error {
	return d.TransitionContext(ctx, PowerDown)
}

// StartTransmitContext moves Standby to TransmitMode.
func (d *Device) StartTransmitContext(ctx context.Context) error {
	return d.TransitionContext(ctx, TransmitMode)
}

// StartListeningContext moves Standby to ReceiveMode.
func (d *Device) StartListeningContext(ctx context.Context) error {
	return d.TransitionContext(ctx, ReceiveMode)
}

// StopListeningContext moves ReceiveMode to Standby.
func (d *Device) StopListeningContext(ctx context.Context) error {
	if err := requireMode("StopListening", d.mode, ReceiveMode); err != nil {
		return err
	}
	return d.TransitionContext(ctx, Standby)
}

// StandbyContext moves TransmitMode or ReceiveMode to Standby.
func (d *Device) StandbyContext(ctx context.Context) error {
	return d.TransitionContext(ctx, Standby)
}
