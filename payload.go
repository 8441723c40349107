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
	"time"
)

const (
	// sendPollInterval is the STATUS poll period while Send waits.
	sendPollInterval = 250 * time.Microsecond
	// sendMaxPolls bounds Send at roughly 100ms, above the worst case of
	// 15 retransmits at a 4000us delay.
	sendMaxPolls = 400
)

// maxWriteSize is the largest payload WritePayload accepts.
func (d *Device) maxWriteSize() int {
	if d.payload.IsDynamic() {
		return MaxPayloadSize
	}
	return d.payload.Size()
}

func checkPayloadSize(n, limit int) error {
	if n == 0 {
		return ErrEmptyPayload
	}
	if n > limit {
		return &PayloadSizeError{Given: n, Max: limit}
	}
	return nil
}

// WritePayloadContext queues data in the TX FIFO using W_TX_PAYLOAD, or
// W_TX_PAYLOAD_NOACK when noAck is set. It is allowed in Standby and
// TransmitMode; in TransmitMode CE is pulsed to send it. Static payloads
// shorter than the configured size are zero-padded.
//
// Size and then mode are checked before any bus traffic. A full TX FIFO
// returns ErrFIFOFull without writing.
func (d *Device) WritePayloadContext(ctx context.Context, data []byte, noAck bool) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	limit := d.maxWriteSize()
	if err := checkPayloadSize(len(data), limit); err != nil {
		return err
	}
	if err := requireMode("WritePayload", d.mode, Standby, TransmitMode); err != nil {
		return err
	}

	st, err := d.StatusContext(ctx)
	if err != nil {
		return err
	}
	if st.Has(TxFull) {
		return ErrFIFOFull
	}

	out := data
	if !d.payload.IsDynamic() && len(data) < limit {
		out = make([]byte, limit)
		copy(out, data)
	}
	cmd := cmdWriteTxPayload
	if noAck {
		cmd = cmdWriteTxPayloadNoA
	}
	if _, _, err := d.transfer(ctx, "WritePayload", cmd, out, 0); err != nil {
		return err
	}

	if d.mode == TransmitMode {
		return d.releaseTX(ctx, st)
	}
	return nil
}

// releaseTX pulses CE to send the FIFO head. The chip will not transmit
// while MAX_RT is set, so a leftover flag is cleared first.
func (d *Device) releaseTX(ctx context.Context, st Status) error {
	if st.Has(MaxRetransmits) {
		if _, err := d.ClearInterruptsContext(ctx, MaxRetransmits); err != nil {
			return err
		}
	}
	return d.pulseCE(ctx)
}

// ReadPayloadContext reads the oldest RX payload into buf and returns its
// length. See ReadPayloadPipeContext.
func (d *Device) ReadPayloadContext(ctx context.Context, buf []byte) (int, error) {
	n, _, err := d.ReadPayloadPipeContext(ctx, buf)
	return n, err
}

// ReadPayloadPipeContext reads the oldest RX payload into buf and reports
// the pipe it arrived on. An empty RX FIFO returns ErrFIFOEmpty without a
// payload read. A buffer shorter than the payload returns *PayloadSizeError
// and leaves the payload queued. A dynamic width above 32 means the chip
// received a corrupt packet; the RX FIFO is flushed and ErrCorruptPayload is
// returned. A width of 0 discards only that entry, keeping the packets behind
// it, and also returns ErrCorruptPayload. RX_DR is cleared after a successful
// read.
func (d *Device) ReadPayloadPipeContext(ctx context.Context, buf []byte) (n, pipe int, err error) {
	if err := d.ensureOpen(); err != nil {
		return 0, -1, err
	}
	st, err := d.StatusContext(ctx)
	if err != nil {
		return 0, -1, err
	}
	pipe = st.RxPipe()
	if pipe < 0 {
		return 0, -1, ErrFIFOEmpty
	}

	width := d.payload.Size()
	if d.payload.IsDynamic() {
		_, resp, err := d.transfer(ctx, "ReadPayloadWidth", cmdReadRxPayloadWid, nil, 1)
		if err != nil {
			return 0, pipe, err
		}
		width = int(resp[0])
		if width == 0 {
			Debugf("nrf24: zero payload width on pipe %d, discarding entry", pipe)
			if _, _, err := d.transfer(ctx, "DiscardPayload", cmdReadRxPayload, nil, 1); err != nil {
				return 0, pipe, err
			}
			return 0, pipe, ErrCorruptPayload
		}
		if width > MaxPayloadSize {
			Debugf("nrf24: corrupt payload width %d on pipe %d, flushing RX", width, pipe)
			if err := d.flushRX(ctx); err != nil {
				return 0, pipe, err
			}
			return 0, pipe, ErrCorruptPayload
		}
	}
	if len(buf) < width {
		return 0, pipe, &PayloadSizeError{Given: width, Max: len(buf)}
	}

	_, resp, err := d.transfer(ctx, "ReadPayload", cmdReadRxPayload, nil, width)
	if err != nil {
		return 0, pipe, err
	}
	copy(buf, resp[:width])

	if _, err := d.ClearInterruptsContext(ctx, RxDataReady); err != nil {
		return width, pipe, err
	}
	return width, pipe, nil
}

// FlushTXContext empties the TX FIFO. Not allowed in TransmitMode.
func (d *Device) FlushTXContext(ctx context.Context) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	if err := requireMode("FlushTX", d.mode, PowerDown, Standby, ReceiveMode); err != nil {
		return err
	}
	return d.flushTX(ctx)
}

// FlushRXContext empties the RX FIFO. Not allowed in ReceiveMode.
func (d *Device) FlushRXContext(ctx context.Context) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	if err := requireMode("FlushRX", d.mode, PowerDown, Standby, TransmitMode); err != nil {
		return err
	}
	return d.flushRX(ctx)
}

func (d *Device) flushTX(ctx context.Context) error {
	_, _, err := d.transfer(ctx, "FlushTX", cmdFlushTx, nil, 0)
	return err
}

func (d *Device) flushRX(ctx context.Context) error {
	_, _, err := d.transfer(ctx, "FlushRX", cmdFlushRx, nil, 0)
	return err
}

// SendContext writes data, pulses CE and polls STATUS until the chip reports
// TX_DS or MAX_RT. MAX_RT flushes the TX FIFO and returns ErrMaxRetransmits.
// TX_DS and MAX_RT left over from earlier operations are cleared first; a
// leftover MAX_RT also flushes the payload that failed with it. If neither
// flag arrives the TX FIFO is flushed and ErrTimeout is returned. The chip
// must be in TransmitMode.
func (d *Device) SendContext(ctx context.Context, data []byte, noAck bool) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	if err := requireMode("Send", d.mode, TransmitMode); err != nil {
		return err
	}
	if err := checkPayloadSize(len(data), d.maxWriteSize()); err != nil {
		return err
	}

	st, err := d.ClearInterruptsContext(ctx, TxDataSent|MaxRetransmits)
	if err != nil {
		return err
	}
	if st.Has(MaxRetransmits) {
		Debugln("nrf24: flushing payload left by an earlier failed transmission")
		if err := d.flushTX(ctx); err != nil {
			return err
		}
	}
	if err := d.WritePayloadContext(ctx, data, noAck); err != nil {
		return err
	}
	return d.awaitTX(ctx)
}

func (d *Device) awaitTX(ctx context.Context) error {
	for range sendMaxPolls {
		st, err := d.StatusContext(ctx)
		if err != nil {
			return err
		}
		switch {
		case st.Has(TxDataSent):
			_, err := d.ClearInterruptsContext(ctx, TxDataSent)
			return err
		case st.Has(MaxRetransmits):
			if _, err := d.ClearInterruptsContext(ctx, MaxRetransmits); err != nil {
				return err
			}
			if err := d.flushTX(ctx); err != nil {
				return err
			}
			return ErrMaxRetransmits
		}
		if err := d.exec.wait(ctx, sendPollInterval); err != nil {
			return err
		}
	}
	if err := d.flushTX(ctx); err != nil {
		return err
	}
	return ErrTimeout
}

// AvailableContext reports whether the RX FIFO holds a payload.
func (d *Device) AvailableContext(ctx context.Context) (bool, error) {
	st, err := d.StatusContext(ctx)
	if err != nil {
		return false, err
	}
	return st.RxPipe() >= 0, nil
}

// WriteAckPayloadContext queues data to be sent with the next ACK on pipe.
// Requires Config.AckPayloads and an enabled pipe; allowed in Standby and
// ReceiveMode.
func (d *Device) WriteAckPayloadContext(ctx context.Context, pipe int, data []byte) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	if pipe < 0 || pipe >= NumPipes {
		return &PipeError{Pipe: pipe, Reason: "out of range"}
	}
	if !d.cfg.Pipes[pipe].Enabled {
		return &PipeError{Pipe: pipe, Reason: "not enabled"}
	}
	if !d.cfg.AckPayloads {
		return newConfigError("AckPayloads", "ack payloads are not enabled")
	}
	if err := requireMode("WriteAckPayload", d.mode, Standby, ReceiveMode); err != nil {
		return err
	}
	if err := checkPayloadSize(len(data), MaxPayloadSize); err != nil {
		return err
	}

	st, err := d.StatusContext(ctx)
	if err != nil {
		return err
	}
	if st.Has(TxFull) {
		return ErrFIFOFull
	}
	_, _, err = d.transfer(ctx, "WriteAckPayload", cmdWriteAckPayload|byte(pipe), data, 0)
	return err
}

// ReuseTXContext marks the last transmitted payload for reuse. In
// TransmitMode CE is pulsed to send it again.
func (d *Device) ReuseTXContext(ctx context.Context) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	if err := requireMode("ReuseTX", d.mode, Standby, TransmitMode); err != nil {
		return err
	}
	st, _, err := d.transfer(ctx, "ReuseTX", cmdReuseTxPayload, nil, 0)
	if err != nil {
		return err
	}
	if d.mode == TransmitMode {
		return d.releaseTX(ctx, st)
	}
	return nil
}
