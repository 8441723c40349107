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
	"io"
	"time"

	"github.com/ZaparooProject/go-nrf24/detection"
	"periph.io/x/conn/v3/gpio"
)

// maxTransaction is a command byte plus the largest payload.
const maxTransaction = 1 + MaxPayloadSize

// Device is a handle to one nRF24L01(+) chip. It exclusively owns its bus,
// CE pin and delayer for its lifetime.
//
// Thread Safety: Device is NOT thread-safe. It issues one transaction at a
// time and is not re-entrant; all methods must be called from a single
// goroutine or protected with external synchronization.
type Device struct {
	bus     Bus
	trace   *TraceBuffer
	cfg     Config
	exec    executor
	mode    Mode
	payload PayloadSize
	config  byte // CONFIG shadow
	closed  bool
	wbuf    [maxTransaction]byte
	rbuf    [maxTransaction]byte
}

// Option configures a Device at construction.
type Option func(*Device) error

// WithDelayer replaces the default timer-backed delayer.
func WithDelayer(delay Delayer) Option {
	return func(d *Device) error {
		if delay == nil {
			return errors.New("nil delayer")
		}
		d.exec.delay = delay
		return nil
	}
}

// WithTraceSize sets how many transactions are kept for error traces.
func WithTraceSize(n int) Option {
	return func(d *Device) error {
		if n <= 0 {
			return fmt.Errorf("trace size must be positive, got %d", n)
		}
		d.trace = NewTraceBuffer(n)
		return nil
	}
}

// New validates cfg, applies it to the chip and returns a handle in
// PowerDown with both FIFOs flushed and interrupt flags cleared.
func New(bus Bus, ce Pin, cfg Config, opts ...Option) (*Device, error) {
	return NewContext(context.Background(), bus, ce, cfg, opts...)
}

// NewContext is New with cancellation at every bus, pin and delay step.
func NewContext(ctx context.Context, bus Bus, ce Pin, cfg Config, opts ...Option) (*Device, error) {
	if bus == nil || ce == nil {
		return nil, errors.New("nrf24: bus and CE pin are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Device{
		bus:   bus,
		exec:  executor{bus: bus, ce: ce, delay: SleepDelayer{}},
		trace: NewTraceBuffer(16),
		mode:  PowerDown,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := d.exec.setCE(ctx, gpio.Low); err != nil {
		return nil, err
	}
	if err := d.applyContext(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply configuration: %w", err)
	}
	if err := d.flushTX(ctx); err != nil {
		return nil, err
	}
	if err := d.flushRX(ctx); err != nil {
		return nil, err
	}
	if _, err := d.ClearInterruptsContext(ctx, InterruptFlags); err != nil {
		return nil, err
	}
	Debugf("nrf24: initialized on channel %d at %s", cfg.Channel, cfg.DataRate)
	return d, nil
}

// Mode returns the current logical mode.
func (d *Device) Mode() Mode {
	return d.mode
}

// Config returns a copy of the configuration last applied.
func (d *Device) Config() Config {
	return copyConfig(d.cfg)
}

// Trace returns the recent SPI transactions, oldest first.
func (d *Device) Trace() []TraceEntry {
	return d.trace.Entries()
}

func (d *Device) ensureOpen() error {
	if d.closed {
		return ErrDeviceClosed
	}
	return nil
}

// Close drives CE low, powers the chip down and closes the bus if it
// implements io.Closer. Calling Close twice is a no-op.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	ctx := context.Background()
	var errs []error
	if err := d.exec.setCE(ctx, gpio.Low); err != nil {
		errs = append(errs, err)
	}
	if err := d.writeConfig(ctx, d.config&^cfgPwrUp); err != nil {
		errs = append(errs, err)
	}
	d.mode = PowerDown
	d.closed = true
	if c, ok := d.bus.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close bus: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Apply writes cfg to the chip. See ApplyContext.
func (d *Device) Apply(cfg Config) error {
	return d.ApplyContext(context.Background(), cfg)
}

// Transition moves the chip to mode to. See TransitionContext.
func (d *Device) Transition(to Mode) error {
	return d.TransitionContext(context.Background(), to)
}

// PowerUp moves PowerDown to Standby.
func (d *Device) PowerUp() error {
	return d.PowerUpContext(context.Background())
}

// PowerDown moves any mode to PowerDown.
func (d *Device) PowerDown() error {
	return d.PowerDownContext(context.Background())
}

// StartTransmit moves Standby to TransmitMode.
func (d *Device) StartTransmit() error {
	return d.StartTransmitContext(context.Background())
}

// StartListening moves Standby to ReceiveMode.
func (d *Device) StartListening() error {
	return d.StartListeningContext(context.Background())
}

// StopListening moves ReceiveMode to Standby.
func (d *Device) StopListening() error {
	return d.StopListeningContext(context.Background())
}

// Standby moves TransmitMode or ReceiveMode to Standby.
func (d *Device) Standby() error {
	return d.StandbyContext(context.Background())
}

// WritePayload queues data in the TX FIFO. See WritePayloadContext.
func (d *Device) WritePayload(data []byte, noAck bool) error {
	return d.WritePayloadContext(context.Background(), data, noAck)
}

// ReadPayload reads the oldest RX payload into buf.
func (d *Device) ReadPayload(buf []byte) (int, error) {
	return d.ReadPayloadContext(context.Background(), buf)
}

// ReadPayloadPipe reads the oldest RX payload and the pipe it arrived on.
func (d *Device) ReadPayloadPipe(buf []byte) (n, pipe int, err error) {
	return d.ReadPayloadPipeContext(context.Background(), buf)
}

// FlushTX empties the TX FIFO.
func (d *Device) FlushTX() error {
	return d.FlushTXContext(context.Background())
}

// FlushRX empties the RX FIFO.
func (d *Device) FlushRX() error {
	return d.FlushRXContext(context.Background())
}

// Send transmits one payload and waits for the outcome.
func (d *Device) Send(data []byte, noAck bool) error {
	return d.SendContext(context.Background(), data, noAck)
}

// Available reports whether the RX FIFO holds a payload.
func (d *Device) Available() (bool, error) {
	return d.AvailableContext(context.Background())
}

// WriteAckPayload queues data to be returned with the next ACK on pipe.
func (d *Device) WriteAckPayload(pipe int, data []byte) error {
	return d.WriteAckPayloadContext(context.Background(), pipe, data)
}

// ReuseTX retransmits the last payload.
func (d *Device) ReuseTX() error {
	return d.ReuseTXContext(context.Background())
}

// Status reads STATUS.
func (d *Device) Status() (Status, error) {
	return d.StatusContext(context.Background())
}

// FIFOStatus reads FIFO_STATUS.
func (d *Device) FIFOStatus() (FIFOStatus, error) {
	return d.FIFOStatusContext(context.Background())
}

// ClearInterrupts clears the given STATUS interrupt flags.
func (d *Device) ClearInterrupts(flags Status) (Status, error) {
	return d.ClearInterruptsContext(context.Background(), flags)
}

// ObserveTX returns the OBSERVE_TX counters.
func (d *Device) ObserveTX() (lost, retransmits int, err error) {
	return d.ObserveTXContext(context.Background())
}

// CarrierDetected reads RPD.
func (d *Device) CarrierDetected() (bool, error) {
	return d.CarrierDetectedContext(context.Background())
}

// IsConnected checks that a chip answers on the bus.
func (d *Device) IsConnected() (bool, error) {
	return d.IsConnectedContext(context.Background())
}

// Activate sends the legacy ACTIVATE command.
func (d *Device) Activate() error {
	return d.ActivateContext(context.Background())
}

// DumpRegisters reads every documented register.
func (d *Device) DumpRegisters() ([]RegisterDump, error) {
	return d.DumpRegistersContext(context.Background())
}

// ReadRegister reads a single-byte register.
func (d *Device) ReadRegister(addr byte) (Status, byte, error) {
	return d.ReadRegisterContext(context.Background(), addr)
}

// ReadRegisterBytes reads a multi-byte register into buf.
func (d *Device) ReadRegisterBytes(addr byte, buf []byte) (Status, error) {
	return d.ReadRegisterBytesContext(context.Background(), addr, buf)
}

// WriteRegister writes a register other than CONFIG.
func (d *Device) WriteRegister(addr byte, value ...byte) (Status, error) {
	return d.WriteRegisterContext(context.Background(), addr, value...)
}

// SendCommand issues a raw command.
func (d *Device) SendCommand(cmd byte, payload []byte, respLen int) (Status, []byte, error) {
	return d.SendCommandContext(context.Background(), cmd, payload, respLen)
}

func copyConfig(c Config) Config {
	out := c
	out.TxAddress = clone(c.TxAddress)
	for i := range out.Pipes {
		out.Pipes[i].Address = clone(c.Pipes[i].Address)
	}
	if c.AutoRetransmit != nil {
		ar := *c.AutoRetransmit
		out.AutoRetransmit = &ar
	}
	return out
}

// BusFactory opens the bus and CE pin for a device path.
type BusFactory func(path string) (Bus, Pin, error)

// BusFromDeviceFactory opens the bus and CE pin for a detected device.
type BusFromDeviceFactory func(device detection.DeviceInfo) (Bus, Pin, error)

// ConnectOption represents a functional option for ConnectDevice
type ConnectOption func(*connectConfig) error

type connectConfig struct {
	busFactory       BusFactory
	busDeviceFactory BusFromDeviceFactory
	deviceDetector   func(context.Context, *detection.Options) ([]detection.DeviceInfo, error)
	deviceOptions    []Option
	timeout          time.Duration
	retries          int
	autoDetect       bool
}

// WithAutoDetection enables automatic device detection instead of using a specific path
func WithAutoDetection() ConnectOption {
	return func(c *connectConfig) error {
		c.autoDetect = true
		return nil
	}
}

// WithDeviceOptions adds device-level options
func WithDeviceOptions(opts ...Option) ConnectOption {
	return func(c *connectConfig) error {
		c.deviceOptions = append(c.deviceOptions, opts...)
		return nil
	}
}

// WithConnectTimeout bounds the whole connection attempt, retries included.
func WithConnectTimeout(timeout time.Duration) ConnectOption {
	return func(c *connectConfig) error {
		c.timeout = timeout
		return nil
	}
}

// WithBusFactory sets the factory used for an explicit path.
func WithBusFactory(factory BusFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.busFactory = factory
		return nil
	}
}

// WithBusFromDeviceFactory sets the factory used for auto-detected devices.
func WithBusFromDeviceFactory(factory BusFromDeviceFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.busDeviceFactory = factory
		return nil
	}
}

// WithConnectionRetries sets the number of connection attempts for explicit paths.
func WithConnectionRetries(maxAttempts int) ConnectOption {
	return func(c *connectConfig) error {
		if maxAttempts < 1 {
			return fmt.Errorf("connection retries must be at least 1, got %d", maxAttempts)
		}
		c.retries = maxAttempts
		return nil
	}
}

// WithDeviceDetector replaces detection.DetectAll, mainly for tests.
func WithDeviceDetector(
	detector func(context.Context, *detection.Options) ([]detection.DeviceInfo, error),
) ConnectOption {
	return func(c *connectConfig) error {
		c.deviceDetector = detector
		return nil
	}
}

// ConnectDevice opens a bus for path (or the first detected device when path
// is empty or auto-detection is on), checks that a chip answers and applies
// cfg.
//
//	dev, err := nrf24.ConnectDevice(ctx, "", nrf24.DefaultConfig(),
//	    nrf24.WithAutoDetection(), nrf24.WithBusFromDeviceFactory(open))
func ConnectDevice(ctx context.Context, path string, cfg Config, opts ...ConnectOption) (*Device, error) {
	config := &connectConfig{
		timeout: ConnectionRetryTimeout,
		retries: DefaultConnectionRetries,
	}
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply connect option: %w", err)
		}
	}
	if config.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.timeout)
		defer cancel()
	}

	bus, ce, err := openBus(ctx, path, config)
	if err != nil {
		return nil, err
	}

	attempts := config.retries
	if config.autoDetect || path == "" {
		attempts = 1
	}
	retryConfig := &RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    ConnectionInitialBackoff,
		MaxBackoff:        ConnectionMaxBackoff,
		BackoffMultiplier: ConnectionBackoffMultiplier,
		Jitter:            ConnectionJitter,
	}

	var device *Device
	err = RetryWithConfig(ctx, retryConfig, func() error {
		var setupErr error
		device, setupErr = setupDevice(ctx, bus, ce, cfg, config.deviceOptions)
		return setupErr
	})
	if err != nil {
		if c, ok := bus.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, err
	}
	return device, nil
}

var errNoChip = errors.New("no nRF24L01 responding on bus")

func setupDevice(ctx context.Context, bus Bus, ce Pin, cfg Config, opts []Option) (*Device, error) {
	dev, err := NewContext(ctx, bus, ce, cfg, opts...)
	if err != nil {
		return nil, err
	}
	ok, err := dev.IsConnectedContext(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		// The bus answered but nothing sane came back; a transport-level
		// failure so that the caller's retry policy applies.
		return nil, &TransportError{Op: "IsConnected", Command: ReadRegisterCmd(RegSetupAW), Err: errNoChip}
	}
	return dev, nil
}

func openBus(ctx context.Context, path string, config *connectConfig) (Bus, Pin, error) {
	if !config.autoDetect && path != "" {
		if config.busFactory == nil {
			return nil, nil, errors.New("bus factory not provided")
		}
		bus, ce, err := config.busFactory(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bus for path %s: %w", path, err)
		}
		return bus, ce, nil
	}

	if config.busDeviceFactory == nil {
		return nil, nil, errors.New("bus device factory not provided")
	}
	opts := detection.DefaultOptions()
	opts.Mode = detection.Passive
	detect := config.deviceDetector
	if detect == nil {
		detect = detection.DetectAll
	}
	devices, err := detect(ctx, &opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to detect devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, nil, detection.ErrNoDevicesFound
	}
	Debugf("nrf24: using detected %s", devices[0])
	return config.busDeviceFactory(devices[0])
}
