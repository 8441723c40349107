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
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"syscall"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Protocol-level errors. Typed errors below match these with errors.Is.
var (
	ErrInvalidTransition = errors.New("invalid mode transition")
	ErrPayloadTooLarge   = errors.New("payload too large")
	ErrInvalidMode       = errors.New("operation not allowed in current mode")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrInvalidPipe       = errors.New("invalid pipe")
	ErrInvalidCommand    = errors.New("invalid command")

	ErrFIFOEmpty      = errors.New("RX FIFO empty")
	ErrFIFOFull       = errors.New("TX FIFO full")
	ErrEmptyPayload   = errors.New("empty payload")
	ErrCorruptPayload = errors.New("corrupt dynamic payload length")
	ErrMaxRetransmits = errors.New("maximum retransmits reached")
	ErrTimeout        = errors.New("operation timeout")

	ErrDeviceClosed = errors.New("device is closed")
)

// TransportError wraps a failure of the SPI bus. The driver adds no
// interpretation beyond the command that was being issued.
type TransportError struct {
	Err     error  // Underlying bus error
	Op      string // Operation that failed
	Command byte   // SPI command byte
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s (cmd 0x%02X): %v", e.Op, e.Command, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PinError wraps a failure of the CE output pin.
type PinError struct {
	Err   error
	Level gpio.Level
}

func (e *PinError) Error() string {
	return fmt.Sprintf("set CE %s: %v", e.Level, e.Err)
}

func (e *PinError) Unwrap() error {
	return e.Err
}

// TransitionError reports a mode change outside the legal edge set.
type TransitionError struct {
	From Mode
	To   Mode
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

// Is matches ErrInvalidTransition.
func (*TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// PayloadSizeError reports a payload longer than the limit in force.
type PayloadSizeError struct {
	Given int
	Max   int
}

func (e *PayloadSizeError) Error() string {
	return fmt.Sprintf("%v: %d bytes, max %d", ErrPayloadTooLarge, e.Given, e.Max)
}

// Is matches ErrPayloadTooLarge.
func (*PayloadSizeError) Is(target error) bool {
	return target == ErrPayloadTooLarge
}

// ModeError reports an operation issued in a mode that does not allow it.
type ModeError struct {
	Op       string
	Required []Mode
	Actual   Mode
}

func (e *ModeError) Error() string {
	names := make([]string, len(e.Required))
	for i, m := range e.Required {
		names[i] = m.String()
	}
	return fmt.Sprintf("%s: %v: requires %s, chip is in %s",
		e.Op, ErrInvalidMode, strings.Join(names, " or "), e.Actual)
}

// Is matches ErrInvalidMode.
func (*ModeError) Is(target error) bool {
	return target == ErrInvalidMode
}

// ConfigError reports a configuration that violates a chip constraint.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrInvalidConfig, e.Field, e.Reason)
}

// Is matches ErrInvalidConfig.
func (*ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// PipeError reports a pipe number that is out of range or not enabled.
type PipeError struct {
	Reason string
	Pipe   int
}

func (e *PipeError) Error() string {
	return fmt.Sprintf("%v %d: %s", ErrInvalidPipe, e.Pipe, e.Reason)
}

// Is matches ErrInvalidPipe.
func (*PipeError) Is(target error) bool {
	return target == ErrInvalidPipe
}

func newConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsRetryable returns true if the same call may succeed after the caller
// waits or drains a FIFO. The driver itself never retries.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsFatal(err) {
		return false
	}
	switch {
	case errors.Is(err, ErrFIFOFull),
		errors.Is(err, ErrFIFOEmpty),
		errors.Is(err, ErrMaxRetransmits),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrCorruptPayload):
		return true
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var pe *PinError
	return errors.As(err, &pe)
}

// IsFatal returns true if the error indicates the bus or device is gone and
// the handle should be abandoned.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if isDeviceGoneError(err) {
		return true
	}
	switch {
	case errors.Is(err, ErrDeviceClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// Windows error codes for device disconnection detection.
// These are defined here because they're not available on non-Windows platforms.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

// isDeviceGoneError checks for OS-level errors indicating the spidev node or
// USB bridge disappeared during I/O.
func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
	switch errno {
	case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
		return true
	}
	if runtime.GOOS == "windows" {
		//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
		switch errno {
		case errAccessDenied, errGenFailure, errNoSuchDevice:
			return true
		}
	}
	return false
}

// =============================================================================
// Wire Trace Logging
// =============================================================================
// TraceableError embeds the most recent SPI transactions in bus errors so
// callers can see what the chip was doing when the transfer failed.

// TraceDirection indicates the direction of wire data
type TraceDirection string

const (
	// TraceTX indicates MOSI bytes sent to the chip
	TraceTX TraceDirection = "TX"
	// TraceRX indicates MISO bytes received from the chip
	TraceRX TraceDirection = "RX"
)

// TraceEntry represents a single wire-level operation
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

// String formats a trace entry for display
func (e TraceEntry) String() string {
	hexData := formatHexBytes(e.Data)
	if e.Note != "" {
		return fmt.Sprintf("[%s] %s: %s (%s)", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData, e.Note)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData)
}

// TraceableError wraps an error with wire-level trace data for debugging.
//
//	var te *nrf24.TraceableError
//	if errors.As(err, &te) {
//	    log.Printf("Wire trace:\n%s", te.FormatTrace())
//	}
type TraceableError struct {
	Err   error
	Trace []TraceEntry
}

// Error implements the error interface
func (e *TraceableError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace returns a human-readable formatted trace log
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return "(no trace data)"
	}

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "SPI trace (%d entries):\n", len(e.Trace))
	for _, entry := range e.Trace {
		direction := ">"
		if entry.Direction == TraceRX {
			direction = "<"
		}
		if entry.Note != "" {
			_, _ = fmt.Fprintf(&sb, "  %s %s (%s)\n", direction, formatHexBytes(entry.Data), entry.Note)
		} else {
			_, _ = fmt.Fprintf(&sb, "  %s %s\n", direction, formatHexBytes(entry.Data))
		}
	}
	return sb.String()
}

// formatHexBytes formats a byte slice as space-separated hex values
func formatHexBytes(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}

// TraceBuffer keeps the last few SPI transactions in a fixed-size ring.
type TraceBuffer struct {
	entries []TraceEntry
	maxSize int
}

// NewTraceBuffer creates a new trace buffer with the specified capacity
func NewTraceBuffer(maxSize int) *TraceBuffer {
	if maxSize <= 0 {
		maxSize = 16
	}
	return &TraceBuffer{
		entries: make([]TraceEntry, 0, maxSize),
		maxSize: maxSize,
	}
}

// RecordTX records bytes clocked out to the chip
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.record(TraceTX, data, note)
}

// RecordRX records bytes clocked in from the chip
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.record(TraceRX, data, note)
}

// record adds an entry to the buffer, evicting oldest if full
func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	entry := TraceEntry{
		Direction: dir,
		Data:      dataCopy,
		Timestamp: time.Now(),
		Note:      note,
	}

	if len(tb.entries) >= tb.maxSize {
		copy(tb.entries, tb.entries[1:])
		tb.entries[len(tb.entries)-1] = entry
	} else {
		tb.entries = append(tb.entries, entry)
	}
}

// Entries returns a copy of the recorded entries, oldest first.
func (tb *TraceBuffer) Entries() []TraceEntry {
	out := make([]TraceEntry, len(tb.entries))
	copy(out, tb.entries)
	return out
}

// WrapError wraps an error with the collected trace data.
// Returns nil if err is nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &TraceableError{
		Err:   err,
		Trace: tb.Entries(),
	}
}

// Clear resets the trace buffer
func (tb *TraceBuffer) Clear() {
	tb.entries = tb.entries[:0]
}

// GetTrace extracts trace data from an error, returning nil if not present
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
