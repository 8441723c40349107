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
	"sync"
	"sync/atomic"
	"time"

	nrf24 "github.com/ZaparooProject/go-nrf24"
	"github.com/ZaparooProject/go-nrf24/internal/syncutil"
)

// maxDrain bounds the payload reads in one poll cycle.
const maxDrain = 32

// ErrNotRunning is returned by Do and Send when the listener is stopped.
var ErrNotRunning = errors.New("listener is not running")

// Packet is one payload read from the RX FIFO.
type Packet struct {
	Received time.Time
	Data     []byte
	Pipe     int
}

// Callbacks receive listener events. All of them run on the listener's
// goroutine and must not call Do or Stop.
type Callbacks struct {
	OnPacket    func(Packet) error
	OnLinkUp    func(pipe int)
	OnLinkLost  func()
	OnRecovered func()
	OnError     func(error)
}

// Metrics tracks listener activity.
type Metrics struct {
	PollCycles      int64         // Total number of poll cycles
	PollErrors      int64         // Poll cycles that failed
	PacketsReceived int64         // Payloads delivered
	CorruptPackets  int64         // Payloads dropped for a bad dynamic width
	CallbackErrors  int64         // OnPacket calls that returned an error
	Recoveries      int64         // Successful recoveries
	LastPollLatency time.Duration // Duration of the last poll cycle
}

// Option configures a Listener.
type Option func(*Listener)

// WithRecoverer replaces the default recoverer, which only re-applies the
// device configuration.
func WithRecoverer(r DeviceRecoverer) Option {
	return func(l *Listener) {
		l.recoverer = r
	}
}

type request struct {
	ctx  context.Context
	fn   func(context.Context, *nrf24.Device) error
	done chan error
}

// loopState is owned by the poll goroutine.
type loopState struct {
	lastPoll   time.Time
	lastPacket time.Time
	interval   time.Duration
	failures   int
}

// Listener keeps a device in ReceiveMode and drains its RX FIFO from a
// single goroutine. Other goroutines reach the device through Do.
type Listener struct {
	device    *nrf24.Device
	recoverer DeviceRecoverer
	config    *Config
	callbacks Callbacks
	requests  chan request
	cancel    context.CancelFunc
	exited    chan struct{}
	err       error
	link      linkTracker
	wg        sync.WaitGroup
	mu        syncutil.Mutex // guards device, cancel, exited, err and link

	pollCycles      atomic.Int64
	pollErrors      atomic.Int64
	packetsReceived atomic.Int64
	corruptPackets  atomic.Int64
	callbackErrors  atomic.Int64
	recoveries      atomic.Int64
	lastPollLatency atomic.Int64
	currentInterval atomic.Int64
	running         atomic.Bool
}

// NewListener creates a stopped listener for device. A nil config uses
// DefaultConfig.
func NewListener(device *nrf24.Device, config *Config, callbacks Callbacks, opts ...Option) (*Listener, error) {
	if device == nil {
		return nil, errors.New("polling: device is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid polling config: %w", err)
	}

	l := &Listener{
		device:    device,
		config:    config,
		callbacks: callbacks,
		requests:  make(chan request),
		link:      newLinkTracker(config.LinkTimeout),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.recoverer == nil {
		l.recoverer = NewDefaultRecoverer(device, nil,
			config.SleepRecovery.RecoveryBackoff, config.SleepRecovery.MaxRecoveryAttempts)
	}
	l.currentInterval.Store(int64(config.PollInterval))
	return l, nil
}

// Start puts the device in ReceiveMode and starts polling. It returns nil
// without effect when the listener is already running. Cancelling ctx
// stops the listener like Stop.
func (l *Listener) Start(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return nil
	}

	dev := l.Device()
	if err := listen(ctx, dev); err != nil {
		l.running.Store(false)
		return fmt.Errorf("start listening: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	exited := make(chan struct{})
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.cancel = cancel
	l.exited = exited
	l.err = nil
	l.mu.Unlock()

	l.wg.Add(1)
	go l.loop(runCtx, exited)
	return nil
}

// Stop ends polling, returns the device to Standby and waits for the poll
// goroutine to exit or ctx to end.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	waited := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the poll goroutine between cycles with exclusive use of
// the device, then puts the device back in ReceiveMode.
func (l *Listener) Do(ctx context.Context, fn func(context.Context, *nrf24.Device) error) error {
	l.mu.Lock()
	exited := l.exited
	l.mu.Unlock()
	if exited == nil {
		return ErrNotRunning
	}

	req := request{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case l.requests <- req:
	case <-exited:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send transmits one payload through Do and resumes listening.
func (l *Listener) Send(ctx context.Context, data []byte, noAck bool) error {
	return l.Do(ctx, func(ctx context.Context, dev *nrf24.Device) error {
		if dev.Mode() == nrf24.ReceiveMode {
			if err := dev.StopListeningContext(ctx); err != nil {
				return err
			}
		}
		if dev.Mode() != nrf24.TransmitMode {
			if err := dev.StartTransmitContext(ctx); err != nil {
				return err
			}
		}
		return dev.SendContext(ctx, data, noAck)
	})
}

// Device returns the device being polled, which changes after a
// reconnecting recovery.
func (l *Listener) Device() *nrf24.Device {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.device
}

// Err returns the error that stopped the poll loop, if any.
func (l *Listener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Running reports whether the poll goroutine is active.
func (l *Listener) Running() bool {
	return l.running.Load()
}

// LinkStatus returns the current link tracker snapshot.
func (l *Listener) LinkStatus() LinkStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.link.status()
}

// GetMetrics returns current operational metrics.
func (l *Listener) GetMetrics() Metrics {
	return Metrics{
		PollCycles:      l.pollCycles.Load(),
		PollErrors:      l.pollErrors.Load(),
		PacketsReceived: l.packetsReceived.Load(),
		CorruptPackets:  l.corruptPackets.Load(),
		CallbackErrors:  l.callbackErrors.Load(),
		Recoveries:      l.recoveries.Load(),
		LastPollLatency: time.Duration(l.lastPollLatency.Load()),
	}
}

// GetCurrentPollInterval returns the current adaptive polling interval.
func (l *Listener) GetCurrentPollInterval() time.Duration {
	return time.Duration(l.currentInterval.Load())
}

func (l *Listener) loop(ctx context.Context, exited chan struct{}) {
	defer l.wg.Done()
	defer close(exited)
	defer l.running.Store(false)

	st := &loopState{
		lastPoll:   time.Now(),
		lastPacket: time.Now(),
		interval:   l.config.PollInterval,
	}
	ticker := time.NewTicker(st.interval)
	defer ticker.Stop()

	if err := l.cycle(ctx, st); err != nil {
		l.fail(ctx, err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			l.shutdown(ctx)
			return
		case req := <-l.requests:
			req.done <- l.serve(ctx, req)
			st.lastPoll = time.Now()
		case now := <-ticker.C:
			if l.config.SleepRecovery.DetectSleep(now.Sub(st.lastPoll), st.interval) {
				nrf24.Debugf("polling: %v since last poll, assuming host sleep", now.Sub(st.lastPoll))
				if err := l.recover(ctx); err != nil {
					l.fail(ctx, err)
					return
				}
			}
			if err := l.cycle(ctx, st); err != nil {
				l.fail(ctx, err)
				return
			}
			if next := l.config.idleInterval(time.Since(st.lastPacket)); next != st.interval {
				st.interval = next
				ticker.Reset(next)
				l.currentInterval.Store(int64(next))
			}
		}
	}
}

// cycle runs one poll and returns an error only when recovery failed.
func (l *Listener) cycle(ctx context.Context, st *loopState) error {
	start := time.Now()
	n, err := l.drain(ctx)
	l.pollCycles.Add(1)
	l.lastPollLatency.Store(int64(time.Since(start)))
	st.lastPoll = time.Now()
	if n > 0 {
		st.lastPacket = st.lastPoll
	}

	if err == nil {
		st.failures = 0
		l.checkLink(st.lastPoll)
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}
	l.pollErrors.Add(1)
	st.failures++
	nrf24.Debugf("polling: poll failed (%d/%d): %v", st.failures, l.config.ErrorThreshold, err)
	if st.failures < l.config.ErrorThreshold {
		return nil
	}
	st.failures = 0
	return l.recover(ctx)
}

// drain reads payloads until the RX FIFO is empty and reports how many
// were delivered.
func (l *Listener) drain(ctx context.Context) (int, error) {
	dev := l.device
	if dev.Mode() != nrf24.ReceiveMode {
		if err := listen(ctx, dev); err != nil {
			return 0, err
		}
	}
	ok, err := dev.AvailableContext(ctx)
	if err != nil || !ok {
		return 0, err
	}

	var buf [nrf24.MaxPayloadSize]byte
	received := 0
	for range maxDrain {
		n, pipe, err := dev.ReadPayloadPipeContext(ctx, buf[:])
		switch {
		case errors.Is(err, nrf24.ErrFIFOEmpty):
			return received, nil
		case errors.Is(err, nrf24.ErrCorruptPayload):
			l.corruptPackets.Add(1)
			continue
		case err != nil:
			return received, err
		}
		received++
		l.deliver(Packet{Pipe: pipe, Data: append([]byte(nil), buf[:n]...), Received: time.Now()})
	}
	return received, nil
}

func (l *Listener) deliver(p Packet) {
	l.packetsReceived.Add(1)
	l.mu.Lock()
	up := l.link.observe(p.Received, p.Pipe)
	l.mu.Unlock()
	if up && l.callbacks.OnLinkUp != nil {
		l.callbacks.OnLinkUp(p.Pipe)
	}
	if l.callbacks.OnPacket == nil {
		return
	}
	if err := l.callbacks.OnPacket(p); err != nil {
		l.callbackErrors.Add(1)
		nrf24.Debugf("polling: packet callback failed: %v", err)
	}
}

func (l *Listener) checkLink(now time.Time) {
	l.mu.Lock()
	lost := l.link.expire(now)
	l.mu.Unlock()
	if lost && l.callbacks.OnLinkLost != nil {
		l.callbacks.OnLinkLost()
	}
}

func (l *Listener) recover(ctx context.Context) error {
	if err := l.recoverer.AttemptRecovery(ctx); err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}
	dev := l.recoverer.GetDevice()
	l.mu.Lock()
	l.device = dev
	l.mu.Unlock()
	if err := listen(ctx, dev); err != nil {
		return fmt.Errorf("resume listening after recovery: %w", err)
	}
	l.recoveries.Add(1)
	if l.callbacks.OnRecovered != nil {
		l.callbacks.OnRecovered()
	}
	return nil
}

func (l *Listener) serve(ctx context.Context, req request) error {
	err := req.fn(req.ctx, l.device)
	if lerr := listen(ctx, l.device); lerr != nil {
		return errors.Join(err, fmt.Errorf("resume listening: %w", lerr))
	}
	return err
}

// fail records err and stops the loop. Errors caused by cancellation are
// treated as a normal stop.
func (l *Listener) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		l.shutdown(ctx)
		return
	}
	nrf24.Debugf("polling: listener stopped: %v", err)
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
	if l.callbacks.OnError != nil {
		l.callbacks.OnError(err)
	}
}

// shutdown returns the device to Standby.
func (l *Listener) shutdown(ctx context.Context) {
	dev := l.device
	if dev.Mode() != nrf24.ReceiveMode {
		return
	}
	if err := dev.StandbyContext(context.WithoutCancel(ctx)); err != nil {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
	}
}

// listen walks dev to ReceiveMode from any mode.
func listen(ctx context.Context, dev *nrf24.Device) error {
	switch dev.Mode() {
	case nrf24.ReceiveMode:
		return nil
	case nrf24.PowerDown:
		if err := dev.PowerUpContext(ctx); err != nil {
			return err
		}
	case nrf24.TransmitMode:
		if err := dev.StandbyContext(ctx); err != nil {
			return err
		}
	case nrf24.Standby:
	}
	return dev.StartListeningContext(ctx)
}
