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
	"time"

	"github.com/ZaparooProject/go-nrf24/internal/syncutil"
	"periph.io/x/conn/v3/gpio"
)

// Bus exchanges bytes with the chip in a single chip-select frame.
// len(r) is either 0 or len(w). periph.io spi.Conn and tinygo drivers.SPI
// both satisfy it.
type Bus interface {
	Tx(w, r []byte) error
}

// ContextBus is a Bus whose transfers can suspend the calling task and be
// abandoned when ctx is done.
type ContextBus interface {
	Bus
	TxContext(ctx context.Context, w, r []byte) error
}

// Pin drives the CE line. periph.io gpio.PinOut satisfies it.
type Pin interface {
	Out(l gpio.Level) error
}

// ContextPin is a Pin whose level changes can suspend the calling task.
type ContextPin interface {
	Pin
	OutContext(ctx context.Context, l gpio.Level) error
}

// Delayer waits for the chip's settle times.
type Delayer interface {
	Delay(d time.Duration)
}

// ContextDelayer is a Delayer whose waits are suspension points that end
// early when ctx is done.
type ContextDelayer interface {
	Delayer
	DelayContext(ctx context.Context, d time.Duration) error
}

// SleepDelayer is the default Delayer backed by the Go runtime timer.
type SleepDelayer struct{}

// Delay blocks for d.
func (SleepDelayer) Delay(d time.Duration) {
	time.Sleep(d)
}

// DelayContext blocks for d or until ctx is done.
func (SleepDelayer) DelayContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// executor runs the three capabilities in either form. The protocol code only
// talks to the executor, so blocking and cooperative callers share it.
type executor struct {
	bus   Bus
	ce    Pin
	delay Delayer
}

func (e executor) tx(ctx context.Context, w, r []byte) error {
	if cb, ok := e.bus.(ContextBus); ok {
		return cb.TxContext(ctx, w, r) //nolint:wrapcheck // wrapped by the register layer
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.bus.Tx(w, r) //nolint:wrapcheck // wrapped by the register layer
}

func (e executor) setCE(ctx context.Context, l gpio.Level) error {
	var err error
	if cp, ok := e.ce.(ContextPin); ok {
		err = cp.OutContext(ctx, l)
	} else {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = e.ce.Out(l)
	}
	if err != nil {
		if isContextError(err) {
			return err
		}
		return &PinError{Level: l, Err: err}
	}
	return nil
}

func (e executor) wait(ctx context.Context, d time.Duration) error {
	if cd, ok := e.delay.(ContextDelayer); ok {
		return cd.DelayContext(ctx, d) //nolint:wrapcheck // context errors pass through
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e.delay.Delay(d)
	return nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// MockBus provides a scripted Bus for testing. Every transaction is recorded;
// responses are looked up by command byte and default to the configured
// STATUS followed by zeros.
type MockBus struct {
	responses map[byte][]byte
	errorMap  map[byte]error
	log       [][]byte
	mu        syncutil.RWMutex
	status    Status
	closed    bool
}

// NewMockBus creates a new mock bus reporting an empty RX FIFO.
func NewMockBus() *MockBus {
	return &MockBus{
		responses: make(map[byte][]byte),
		errorMap:  make(map[byte]error),
		status:    rxPipeEmpty,
	}
}

// Tx implements Bus.
func (m *MockBus) Tx(w, r []byte) error {
	if len(w) == 0 {
		return errors.New("mock bus: empty transaction")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("mock bus: closed")
	}

	entry := make([]byte, len(w))
	copy(entry, w)
	m.log = append(m.log, entry)

	if err, ok := m.errorMap[w[0]]; ok {
		return err
	}
	if len(r) == 0 {
		return nil
	}
	for i := range r {
		r[i] = 0
	}
	if resp, ok := m.responses[w[0]]; ok {
		copy(r, resp)
		return nil
	}
	r[0] = byte(m.status)
	return nil
}

// Close marks the bus closed; later transactions fail.
func (m *MockBus) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// SetStatus sets the STATUS byte returned by default.
func (m *MockBus) SetStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// SetResponse configures the full response (STATUS first) for a command byte.
func (m *MockBus) SetResponse(cmd byte, resp []byte) {
	m.mu.Lock()
	m.responses[cmd] = resp
	m.mu.Unlock()
}

// SetError configures an error returned for a command byte.
func (m *MockBus) SetError(cmd byte, err error) {
	m.mu.Lock()
	m.errorMap[cmd] = err
	m.mu.Unlock()
}

// ClearError removes error injection for a command byte.
func (m *MockBus) ClearError(cmd byte) {
	m.mu.Lock()
	delete(m.errorMap, cmd)
	m.mu.Unlock()
}

// Transactions returns a copy of every transaction written so far.
func (m *MockBus) Transactions() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.log))
	for i, tx := range m.log {
		out[i] = append([]byte(nil), tx...)
	}
	return out
}

// CallCount returns how many transactions started with cmd.
func (m *MockBus) CallCount(cmd byte) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, tx := range m.log {
		if tx[0] == cmd {
			n++
		}
	}
	return n
}

// Reset clears the transaction log.
func (m *MockBus) Reset() {
	m.mu.Lock()
	m.log = nil
	m.closed = false
	m.mu.Unlock()
}

// MockPin records CE levels.
type MockPin struct {
	err    error
	levels []gpio.Level
	mu     syncutil.Mutex
}

// Out implements Pin.
func (p *MockPin) Out(l gpio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.levels = append(p.levels, l)
	return nil
}

// SetError makes every later Out call fail with err.
func (p *MockPin) SetError(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Levels returns every level written so far.
func (p *MockPin) Levels() []gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]gpio.Level(nil), p.levels...)
}

// Level returns the last level written (Low if none).
func (p *MockPin) Level() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.levels) == 0 {
		return gpio.Low
	}
	return p.levels[len(p.levels)-1]
}

// MockDelayer records requested delays without sleeping.
type MockDelayer struct {
	delays []time.Duration
	mu     syncutil.Mutex
}

// Delay implements Delayer.
func (d *MockDelayer) Delay(dur time.Duration) {
	d.mu.Lock()
	d.delays = append(d.delays, dur)
	d.mu.Unlock()
}

// Delays returns every delay requested so far.
func (d *MockDelayer) Delays() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Duration(nil), d.delays...)
}
