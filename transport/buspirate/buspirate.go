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

// Package buspirate drives an nRF24L01+ through a Bus Pirate's binary SPI
// mode over USB serial. The chip's CE line is wired to the AUX pin.
package buspirate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-nrf24"
	"github.com/ZaparooProject/go-nrf24/detection"
	"github.com/ZaparooProject/go-nrf24/internal/syncutil"
	"go.bug.st/serial"
	"periph.io/x/conn/v3/gpio"
)

// Binary mode commands.
const (
	cmdReset      = 0x00
	cmdEnterSPI   = 0x01
	cmdCSLow      = 0x02
	cmdCSHigh     = 0x03
	cmdExit       = 0x0F
	cmdBulk       = 0x10
	cmdPeripheral = 0x40
	cmdSpeed      = 0x60
	cmdSPIConfig  = 0x80

	periphCS      = 0x01
	periphAux     = 0x02
	periphPullUps = 0x04
	periphPower   = 0x08

	// 3.3V push-pull output, idle low, transmit on active-to-idle: SPI mode 0.
	spiMode0 = 0x0A

	maxBulk          = 16
	maxResetAttempts = 20
	resetWait        = 20 * time.Millisecond
	pollTimeout      = 10 * time.Millisecond
	defaultTimeout   = 100 * time.Millisecond
	replyOK          = 0x01
)

var (
	bitbangBanner = []byte("BBIO1")
	spiBanner     = []byte("SPI1")
)

var (
	// ErrNoResponse is returned when the Bus Pirate never enters binary mode.
	ErrNoResponse = errors.New("bus pirate did not enter binary mode")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bus pirate transport closed")
)

// Speed is the SPI clock selector of the binary SPI protocol.
type Speed byte

// SPI clocks the Bus Pirate v3 offers.
const (
	Speed30kHz Speed = iota
	Speed125kHz
	Speed250kHz
	Speed1MHz
	Speed2MHz
	Speed2600kHz
	Speed4MHz
	Speed8MHz
)

func (s Speed) String() string {
	names := [...]string{"30kHz", "125kHz", "250kHz", "1MHz", "2MHz", "2.6MHz", "4MHz", "8MHz"}
	if int(s) < len(names) {
		return names[s]
	}
	return fmt.Sprintf("Speed(%d)", byte(s))
}

// Config selects the serial port and the bridge settings.
type Config struct {
	Port string
	// ReadTimeout bounds each reply from the Bus Pirate.
	ReadTimeout time.Duration
	Speed       Speed
	// Power switches the on-board 3.3V/5V supplies on.
	Power   bool
	PullUps bool
}

// DefaultConfig powers the chip from the Bus Pirate at 1MHz.
func DefaultConfig() Config {
	return Config{
		Port:        "/dev/ttyUSB0",
		Speed:       Speed1MHz,
		Power:       true,
		ReadTimeout: defaultTimeout,
	}
}

// Transport is both the nrf24.Bus and the nrf24.Pin of a chip behind a Bus
// Pirate. Every transfer is a CS-low, bulk, CS-high command sequence.
type Transport struct {
	port     serial.Port
	portName string
	buf      [1 + maxBulk]byte
	timeout  time.Duration
	mu       syncutil.Mutex
	periph   byte
	closed   bool
}

// New opens cfg.Port at 115200 8N1 and switches the Bus Pirate to binary SPI
// mode with CE low.
func New(cfg Config) (*Transport, error) {
	port, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
	}
	if err := port.SetReadTimeout(pollTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set serial read timeout: %w", err)
	}
	return newTransport(context.Background(), port, cfg)
}

// newTransport runs the binary mode handshake on an opened port. The port is
// closed on failure.
func newTransport(ctx context.Context, port serial.Port, cfg Config) (*Transport, error) {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultTimeout
	}
	if cfg.Speed > Speed8MHz {
		_ = port.Close()
		return nil, fmt.Errorf("invalid bus pirate speed %d", cfg.Speed)
	}
	t := &Transport{
		port:     port,
		portName: cfg.Port,
		timeout:  cfg.ReadTimeout,
		periph:   periphCS,
	}
	if cfg.Power {
		t.periph |= periphPower
	}
	if cfg.PullUps {
		t.periph |= periphPullUps
	}
	if err := t.init(ctx, cfg.Speed); err != nil {
		_ = port.Close()
		return nil, err
	}
	nrf24.Debugf("buspirate: %s in SPI mode at %s", cfg.Port, cfg.Speed)
	return t, nil
}

func (t *Transport) init(ctx context.Context, speed Speed) error {
	if err := t.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("failed to reset input buffer: %w", err)
	}
	if err := t.enterBitbang(ctx); err != nil {
		return err
	}
	if err := t.write([]byte{cmdEnterSPI}); err != nil {
		return err
	}
	ok, err := t.readUntil(ctx, spiBanner, t.timeout)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no SPI1 banner on %s", ErrNoResponse, t.portName)
	}

	steps := []struct {
		name string
		cmd  byte
	}{
		{"speed", cmdSpeed | byte(speed)},
		{"SPI config", cmdSPIConfig | spiMode0},
		{"peripherals", cmdPeripheral | t.periph},
	}
	for _, s := range steps {
		if err := t.command(ctx, s.cmd); err != nil {
			return fmt.Errorf("set %s: %w", s.name, err)
		}
	}
	return nil
}

// enterBitbang sends up to 20 zero bytes until the BBIO1 banner comes back.
func (t *Transport) enterBitbang(ctx context.Context) error {
	for range maxResetAttempts {
		if err := t.write([]byte{cmdReset}); err != nil {
			return err
		}
		ok, err := t.readUntil(ctx, bitbangBanner, resetWait)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w on %s", ErrNoResponse, t.portName)
}

func (t *Transport) write(p []byte) error {
	if _, err := t.port.Write(p); err != nil {
		return fmt.Errorf("bus pirate write on %s: %w", t.portName, err)
	}
	return nil
}

// readFull reads exactly len(p) bytes. The serial port returns 0 bytes on
// each poll timeout, so reads repeat until t.timeout has passed.
func (t *Transport) readFull(p []byte) error {
	deadline := time.Now().Add(t.timeout)
	for got := 0; got < len(p); {
		n, err := t.port.Read(p[got:])
		if err != nil {
			return fmt.Errorf("bus pirate read on %s: %w", t.portName, err)
		}
		got += n
		if n == 0 && time.Now().After(deadline) {
			return fmt.Errorf("bus pirate read on %s: %w (%d of %d bytes)", t.portName, nrf24.ErrTimeout, got, len(p))
		}
	}
	return nil
}

// readUntil collects bytes until they end with want or wait has passed.
func (t *Transport) readUntil(ctx context.Context, want []byte, wait time.Duration) (bool, error) {
	deadline := time.Now().Add(wait)
	var seen []byte
	chunk := make([]byte, 16)
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		n, err := t.port.Read(chunk)
		if err != nil {
			return false, fmt.Errorf("bus pirate read on %s: %w", t.portName, err)
		}
		seen = append(seen, chunk[:n]...)
		if bytes.HasSuffix(seen, want) {
			return true, nil
		}
		if n == 0 && time.Now().After(deadline) {
			return false, nil
		}
	}
}

// command sends a one-byte command and expects the 0x01 acknowledgement.
func (t *Transport) command(ctx context.Context, c byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.write([]byte{c}); err != nil {
		return err
	}
	var ack [1]byte
	if err := t.readFull(ack[:]); err != nil {
		return err
	}
	if ack[0] != replyOK {
		return fmt.Errorf("bus pirate rejected command 0x%02X: reply 0x%02X", c, ack[0])
	}
	return nil
}

// Tx implements nrf24.Bus.
func (t *Transport) Tx(w, r []byte) error {
	return t.TxContext(context.Background(), w, r)
}

// TxContext implements nrf24.ContextBus. ctx is checked before the frame
// starts; a started frame always runs to CS high.
func (t *Transport) TxContext(ctx context.Context, w, r []byte) error {
	if len(r) != 0 && len(r) != len(w) {
		return fmt.Errorf("read buffer %d bytes, write buffer %d", len(r), len(w))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	frameCtx := context.WithoutCancel(ctx)
	if err := t.command(frameCtx, cmdCSLow); err != nil {
		return err
	}
	for off := 0; off < len(w); off += maxBulk {
		end := min(off+maxBulk, len(w))
		var rc []byte
		if len(r) > 0 {
			rc = r[off:end]
		}
		if err := t.bulk(w[off:end], rc); err != nil {
			_ = t.command(frameCtx, cmdCSHigh)
			return err
		}
	}
	return t.command(frameCtx, cmdCSHigh)
}

// bulk clocks up to 16 bytes. r may be nil.
func (t *Transport) bulk(w, r []byte) error {
	msg := t.buf[:1+len(w)]
	msg[0] = cmdBulk | byte(len(w)-1)
	copy(msg[1:], w)
	if err := t.write(msg); err != nil {
		return err
	}
	reply := t.buf[:1+len(w)]
	if err := t.readFull(reply); err != nil {
		return err
	}
	if reply[0] != replyOK {
		return fmt.Errorf("bus pirate rejected bulk transfer: reply 0x%02X", reply[0])
	}
	copy(r, reply[1:])
	return nil
}

// Out implements nrf24.Pin by driving AUX.
func (t *Transport) Out(l gpio.Level) error {
	return t.OutContext(context.Background(), l)
}

// OutContext implements nrf24.ContextPin.
func (t *Transport) OutContext(ctx context.Context, l gpio.Level) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	periph := t.periph &^ periphAux
	if l {
		periph |= periphAux
	}
	if err := t.command(ctx, cmdPeripheral|periph); err != nil {
		return fmt.Errorf("set AUX %s: %w", l, err)
	}
	t.periph = periph
	return nil
}

// Close drives AUX low, switches the supplies off, returns the Bus Pirate to
// its terminal and closes the port. Closing twice is a no-op.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	ctx := context.Background()
	var errs []error
	if err := t.command(ctx, cmdPeripheral|periphCS); err != nil {
		errs = append(errs, fmt.Errorf("release peripherals: %w", err))
	}
	if err := t.write([]byte{cmdReset, cmdExit}); err != nil {
		errs = append(errs, err)
	}
	_ = t.port.ResetInputBuffer()
	if err := t.port.Close(); err != nil {
		errs = append(errs, fmt.Errorf("serial close failed: %w", err))
	}
	return errors.Join(errs...)
}

func (t *Transport) String() string {
	return "buspirate:" + t.portName
}

// Factory is an nrf24.BusFactory using DefaultConfig for the given port.
func Factory(path string) (nrf24.Bus, nrf24.Pin, error) {
	cfg := DefaultConfig()
	cfg.Port = path
	t, err := New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return t, t, nil
}

// FromDevice opens a Bus Pirate found by detection.
func FromDevice(info detection.DeviceInfo) (nrf24.Bus, nrf24.Pin, error) {
	if info.Transport != "buspirate" {
		return nil, nil, fmt.Errorf("device %s is not a bus pirate", info)
	}
	return Factory(info.Path)
}
