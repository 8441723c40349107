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
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	nrf24 "github.com/ZaparooProject/go-nrf24"
	"github.com/ZaparooProject/go-nrf24/detection"
	_ "github.com/ZaparooProject/go-nrf24/detection/buspirate"
	_ "github.com/ZaparooProject/go-nrf24/detection/spi"
	"github.com/ZaparooProject/go-nrf24/internal/syncutil"
	"github.com/ZaparooProject/go-nrf24/polling"
	"github.com/ZaparooProject/go-nrf24/transport/buspirate"
	"github.com/ZaparooProject/go-nrf24/transport/spi"
)

type config struct {
	devicePath string
	cePin      string
	rate       string
	address    string
	send       string
	channel    int
	stress     int
	buspirate  bool
	dynamic    bool
	noAck      bool
	listen     bool
	dump       bool
	debug      bool
}

// Package-level flag variables
var (
	flagDevicePath string
	flagCEPin      string
	flagRate       string
	flagAddress    string
	flagSend       string
	flagChannel    int
	flagStress     int
	flagBusPirate  bool
	flagDynamic    bool
	flagNoAck      bool
	flagListen     bool
	flagDump       bool
	flagDebug      bool
)

func init() {
	flag.StringVar(&flagDevicePath, "device", "", "spidev node or Bus Pirate port (auto-detect if empty)")
	flag.StringVar(&flagCEPin, "ce", "", "CE GPIO name for spidev buses (default GPIO25)")
	flag.StringVar(&flagRate, "rate", "1M", "Air data rate: 250k, 1M or 2M")
	flag.StringVar(&flagAddress, "address", "E7E7E7E7E7", "Pipe 0 and TX address in hex, LSB first")
	flag.StringVar(&flagSend, "send", "", "Hex payload to transmit (exits after sending)")
	flag.IntVar(&flagChannel, "channel", 76, "RF channel 0-125")
	flag.IntVar(&flagStress, "stress", 0, "Send this many random payloads and report link quality")
	flag.BoolVar(&flagBusPirate, "buspirate", false, "Treat -device as a Bus Pirate serial port")
	flag.BoolVar(&flagDynamic, "dynamic", false, "Use dynamic payload lengths")
	flag.BoolVar(&flagNoAck, "noack", false, "Send without requesting an acknowledgement")
	flag.BoolVar(&flagListen, "listen", false, "Print received packets until interrupted (default mode)")
	flag.BoolVar(&flagDump, "dump", false, "Print every register and exit")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
}

func parseConfig() *config {
	cfg := &config{
		devicePath: flagDevicePath,
		cePin:      flagCEPin,
		rate:       flagRate,
		address:    flagAddress,
		send:       flagSend,
		channel:    flagChannel,
		stress:     flagStress,
		buspirate:  flagBusPirate,
		dynamic:    flagDynamic,
		noAck:      flagNoAck,
		listen:     flagListen,
		dump:       flagDump,
		debug:      flagDebug,
	}

	if cfg.debug {
		nrf24.SetDebugEnabled(true)
		if syncutil.DeadlockDetection {
			nrf24.Debugln("lock order checking enabled")
		}
	}
	return cfg
}

// radioConfig turns the flags into a validated chip configuration.
func radioConfig(cfg *config) (nrf24.Config, error) {
	rc := nrf24.DefaultConfig()
	rc.Channel = cfg.channel

	rate, err := nrf24.ParseDataRate(cfg.rate)
	if err != nil {
		return rc, err
	}
	rc.DataRate = rate

	addr, err := parseHex(cfg.address)
	if err != nil {
		return rc, fmt.Errorf("invalid address: %w", err)
	}
	rc.AddressWidth = len(addr)
	rc.Pipes[0].Address = addr

	if cfg.dynamic {
		rc.Payload = nrf24.DynamicPayload()
	}
	if err := rc.Validate(); err != nil {
		return rc, err
	}
	return rc, nil
}

// parseHex accepts "cafe01", "CA FE 01" and "ca:fe:01".
func parseHex(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "0x", "").Replace(s)
	if clean == "" {
		return nil, errors.New("empty hex string")
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %q: %w", s, err)
	}
	return b, nil
}

// busFromDevice opens a detected device, applying the -ce override to
// spidev nodes.
func busFromDevice(cePin string) nrf24.BusFromDeviceFactory {
	return func(info detection.DeviceInfo) (nrf24.Bus, nrf24.Pin, error) {
		switch info.Transport {
		case detection.TransportSPI:
			if cePin != "" {
				return spi.Factory(cePin)(info.Path)
			}
			return spi.FromDevice(info)
		case detection.TransportBusPirate:
			return buspirate.FromDevice(info)
		default:
			return nil, nil, fmt.Errorf("unsupported transport type: %s", info.Transport)
		}
	}
}

// busFactory picks the transport for an explicit path. spidev nodes use
// periph.io; anything else is taken to be a Bus Pirate serial port.
func busFactory(cfg *config) nrf24.BusFactory {
	if cfg.buspirate {
		return buspirate.Factory
	}
	return func(path string) (nrf24.Bus, nrf24.Pin, error) {
		if strings.Contains(strings.ToLower(path), "spidev") {
			return spi.Factory(cfg.cePin)(path)
		}
		return buspirate.Factory(path)
	}
}

func connectToDevice(ctx context.Context, cfg *config, rc nrf24.Config) (*nrf24.Device, error) {
	connectOpts := []nrf24.ConnectOption{nrf24.WithConnectTimeout(5 * time.Second)}
	if cfg.devicePath == "" {
		connectOpts = append(connectOpts,
			nrf24.WithAutoDetection(),
			nrf24.WithBusFromDeviceFactory(busFromDevice(cfg.cePin)))
		if cfg.debug {
			_, _ = fmt.Println("Auto-detecting nRF24L01 devices...")
		}
	} else {
		connectOpts = append(connectOpts, nrf24.WithBusFactory(busFactory(cfg)))
		if cfg.debug {
			_, _ = fmt.Printf("Opening device: %s\n", cfg.devicePath)
		}
	}

	device, err := nrf24.ConnectDevice(ctx, cfg.devicePath, rc, connectOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nRF24L01: %w", err)
	}
	return device, nil
}

func runDump(ctx context.Context, device *nrf24.Device, out io.Writer) error {
	regs, err := device.DumpRegistersContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to read registers: %w", err)
	}
	for _, r := range regs {
		_, _ = fmt.Fprintln(out, r)
	}
	return nil
}

func runSend(ctx context.Context, device *nrf24.Device, cfg *config, out io.Writer) error {
	payload, err := parseHex(cfg.send)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if err := startTransmit(ctx, device); err != nil {
		return err
	}

	sendErr := device.SendContext(ctx, payload, cfg.noAck)
	lost, retries, obsErr := device.ObserveTXContext(ctx)
	if sendErr != nil {
		if obsErr == nil {
			_, _ = fmt.Fprintf(out, "Send failed after %d retransmits (%d lost)\n", retries, lost)
		}
		return fmt.Errorf("send failed: %w", sendErr)
	}
	if obsErr != nil {
		return fmt.Errorf("failed to read OBSERVE_TX: %w", obsErr)
	}
	_, _ = fmt.Fprintf(out, "Sent %d bytes on channel %d (%d retransmits)\n",
		len(payload), device.Config().Channel, retries)
	return nil
}

func startTransmit(ctx context.Context, device *nrf24.Device) error {
	switch device.Mode() {
	case nrf24.TransmitMode:
		return nil
	case nrf24.ReceiveMode:
		if err := device.StopListeningContext(ctx); err != nil {
			return fmt.Errorf("failed to stop listening: %w", err)
		}
	case nrf24.PowerDown:
		if err := device.PowerUpContext(ctx); err != nil {
			return fmt.Errorf("failed to power up: %w", err)
		}
	case nrf24.Standby:
	}
	if err := device.StartTransmitContext(ctx); err != nil {
		return fmt.Errorf("failed to enter transmit mode: %w", err)
	}
	return nil
}

func runListenMode(ctx context.Context, device *nrf24.Device, out io.Writer) error {
	callbacks := polling.Callbacks{
		OnPacket: func(p polling.Packet) error {
			_, _ = fmt.Fprintf(out, "%s pipe=%d len=%d data=%s\n",
				p.Received.Format(time.StampMilli), p.Pipe, len(p.Data), formatHexString(p.Data))
			return nil
		},
		OnLinkUp: func(pipe int) {
			_, _ = fmt.Fprintf(out, "Link up on pipe %d\n", pipe)
		},
		OnLinkLost: func() {
			_, _ = fmt.Fprintln(out, "Link lost - waiting for packets...")
		},
	}

	listener, err := polling.NewListener(device, polling.DefaultConfig(), callbacks)
	if err != nil {
		return err
	}
	if err := listener.Start(ctx); err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	_, _ = fmt.Fprintf(out, "Listening on channel %d. Press Ctrl+C to stop...\n", device.Config().Channel)

	<-ctx.Done()
	if err := listener.Stop(context.Background()); err != nil {
		return fmt.Errorf("failed to stop listener: %w", err)
	}
	m := listener.GetMetrics()
	_, _ = fmt.Fprintf(out, "Received %d packets in %d polls (%d corrupt, %d poll errors)\n",
		m.PacketsReceived, m.PollCycles, m.CorruptPackets, m.PollErrors)
	if err := listener.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

func run(ctx context.Context, cfg *config) error {
	rc, err := radioConfig(cfg)
	if err != nil {
		return err
	}
	device, err := connectToDevice(ctx, cfg, rc)
	if err != nil {
		return err
	}
	defer func() {
		if err := device.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close device: %v\n", err)
		}
	}()

	switch {
	case cfg.dump:
		return runDump(ctx, device, os.Stdout)
	case cfg.listen:
		return runListenMode(ctx, device, os.Stdout)
	case cfg.send != "":
		return runSend(ctx, device, cfg, os.Stdout)
	case cfg.stress > 0:
		return runStressTest(ctx, device, cfg, os.Stdout, ".")
	default:
		return runListenMode(ctx, device, os.Stdout)
	}
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	cfg := parseConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		_, _ = fmt.Print("\nShutting down gracefully...\n")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
