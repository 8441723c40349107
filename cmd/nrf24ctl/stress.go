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

package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	nrf24 "github.com/ZaparooProject/go-nrf24"
)

// StressTestResult summarises one link test run.
type StressTestResult struct {
	ReportFile  string
	Duration    time.Duration
	Sent        int
	Acked       int
	Failed      int
	Retransmits int
	MaxRetries  int
}

// LinkReport is written to disk when any payload fails.
type LinkReport struct {
	Timestamp    time.Time  `json:"timestamp"`
	DataRate     string     `json:"data_rate"`
	Address      string     `json:"address"`
	Payload      string     `json:"payload"`
	RegisterDump []string   `json:"register_dump,omitempty"`
	OperationLog []LogEntry `json:"operation_log"`
	Channel      int        `json:"channel"`
	Sent         int        `json:"sent"`
	Failed       int        `json:"failed"`
	Retransmits  int        `json:"retransmits"`
	NoAck        bool       `json:"no_ack"`
}

// LogEntry represents a single transmission in the log.
type LogEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Operation   string    `json:"operation"`
	DataHex     string    `json:"data_hex,omitempty"`
	Error       string    `json:"error,omitempty"`
	Retransmits int       `json:"retransmits"`
	Success     bool      `json:"success"`
}

func printStressTestBanner(out io.Writer, device *nrf24.Device, count int) {
	cfg := device.Config()
	_, _ = fmt.Fprintln(out, "=== nRF24L01 Link Stress Test ===")
	_, _ = fmt.Fprintf(out, "Channel %d, %s, %s payloads, %d transmissions\n",
		cfg.Channel, cfg.DataRate, cfg.Payload, count)
}

// runStressTest sends cfg.stress random payloads and reports delivery and
// retransmit counts. A report is written to reportDir if any send fails.
func runStressTest(ctx context.Context, device *nrf24.Device, cfg *config, out io.Writer, reportDir string) error {
	printStressTestBanner(out, device, cfg.stress)
	if err := startTransmit(ctx, device); err != nil {
		return err
	}

	result := &StressTestResult{}
	var log []LogEntry
	start := time.Now()
	maxLen := device.Config().Payload.Size()
	dynamic := device.Config().Payload.IsDynamic()

	var fatal error
	for i := range cfg.stress {
		if err := ctx.Err(); err != nil {
			fatal = err
			break
		}

		size := maxLen
		if dynamic {
			size = randomInt(1, maxLen)
		}
		payload := randomPayload(size)

		entry := sendOne(ctx, device, payload, cfg.noAck)
		entry.Operation = fmt.Sprintf("send #%d", i+1)
		log = append(log, entry.LogEntry)

		result.Sent++
		result.Retransmits += entry.Retransmits
		result.MaxRetries = max(result.MaxRetries, entry.Retransmits)
		if entry.Success {
			result.Acked++
			continue
		}
		result.Failed++
		if !isLinkFailure(entry.err) {
			fatal = entry.err
			break
		}
	}
	result.Duration = time.Since(start)

	if result.Failed > 0 {
		report := createLinkReport(ctx, device, cfg, result, log)
		path, err := writeLinkReportToFile(report, reportDir)
		if err != nil {
			_, _ = fmt.Fprintf(out, "Failed to save report: %v\n", err)
		} else {
			result.ReportFile = path
		}
	}
	printStressSummary(out, result)

	if fatal != nil {
		return fmt.Errorf("stress test aborted: %w", fatal)
	}
	if result.Failed > 0 {
		return fmt.Errorf("%d of %d payloads failed", result.Failed, result.Sent)
	}
	return nil
}

type sendEntry struct {
	LogEntry
	err error
}

func sendOne(ctx context.Context, device *nrf24.Device, payload []byte, noAck bool) sendEntry {
	entry := sendEntry{LogEntry: LogEntry{Timestamp: time.Now(), DataHex: formatHexString(payload)}}
	entry.err = device.SendContext(ctx, payload, noAck)
	if _, retries, err := device.ObserveTXContext(ctx); err == nil {
		entry.Retransmits = retries
	} else if entry.err == nil {
		entry.err = err
	}
	if entry.err != nil {
		entry.Error = entry.err.Error()
		return entry
	}
	entry.Success = true
	return entry
}

// isLinkFailure reports whether err is a radio-level miss after which the
// test can keep going.
func isLinkFailure(err error) bool {
	return errors.Is(err, nrf24.ErrMaxRetransmits) || errors.Is(err, nrf24.ErrTimeout)
}

func createLinkReport(
	ctx context.Context, device *nrf24.Device, cfg *config, result *StressTestResult, log []LogEntry,
) *LinkReport {
	rc := device.Config()
	report := &LinkReport{
		Timestamp:    time.Now(),
		Channel:      rc.Channel,
		DataRate:     rc.DataRate.String(),
		Address:      formatHexString(rc.Pipes[0].Address),
		Payload:      rc.Payload.String(),
		NoAck:        cfg.noAck,
		Sent:         result.Sent,
		Failed:       result.Failed,
		Retransmits:  result.Retransmits,
		OperationLog: log,
	}
	if regs, err := device.DumpRegistersContext(context.WithoutCancel(ctx)); err == nil {
		for _, r := range regs {
			report.RegisterDump = append(report.RegisterDump, r.String())
		}
	}
	return report
}

func writeLinkReportToFile(report *LinkReport, dir string) (string, error) {
	timestamp := report.Timestamp.Format("20060102_150405")
	filename := filepath.Join(dir, fmt.Sprintf("nrf24_stress_ch%d_%s.json", report.Channel, timestamp))

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal link report: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write link report: %w", err)
	}
	return filename, nil
}

func printStressSummary(out io.Writer, result *StressTestResult) {
	status := "PASS"
	if result.Failed > 0 {
		status = "FAIL"
	}
	_, _ = fmt.Fprintf(out, "\n[%s] %d/%d delivered, %d retransmits (max %d per packet) - %s\n",
		status, result.Acked, result.Sent, result.Retransmits, result.MaxRetries,
		result.Duration.Round(time.Millisecond))
	if result.ReportFile != "" {
		_, _ = fmt.Fprintf(out, "Report saved to %s\n", result.ReportFile)
	}
}

func randomPayload(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

// randomInt returns a random int in [low, high] inclusive
func randomInt(low, high int) int {
	if low >= high {
		return low
	}
	var b [4]byte
	_, _ = rand.Read(b[:])
	span := uint32(high - low + 1) //nolint:gosec // high-low is a payload length
	return low + int(binary.BigEndian.Uint32(b[:])%span)
}

func formatHexString(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}
