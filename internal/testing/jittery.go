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

package testing

import (
	"io"
	"math/rand/v2"
	"time"

	"github.com/ZaparooProject/go-nrf24/internal/syncutil"
)

// JitterConfig shapes how a JitteryConn hands reply bytes back, to mimic a
// USB serial bridge (FTDI, CH340) that batches and splits its reads.
type JitterConfig struct {
	// MaxLatency is the upper bound of a random delay before each read.
	MaxLatency time.Duration
	// MaxChunk caps the bytes returned by one read; 0 means no cap.
	MaxChunk int
	// EmptyEvery makes every Nth read return no data, as a read timeout
	// firing while bytes are still in flight.
	EmptyEvery int
	Seed       uint64
}

// DefaultJitterConfig splits replies into 1-3 byte reads with an empty read
// every fourth call.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatency: 200 * time.Microsecond,
		MaxChunk:   3,
		EmptyEvery: 4,
	}
}

// JitteryConn wraps a serial backend and fragments what it reads. Writes
// pass through unchanged. Bytes pulled from the backend are buffered, so
// nothing is lost however the reads are split.
type JitteryConn struct {
	backend io.ReadWriter
	rng     *rand.Rand
	pending []byte
	config  JitterConfig
	reads   int
	mu      syncutil.Mutex
}

// NewJitteryConn wraps backend. A zero Seed picks a random one.
func NewJitteryConn(backend io.ReadWriter, config JitterConfig) *JitteryConn {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // test jitter
	}
	return &JitteryConn{
		backend: backend,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, seed^0x5A5A5A5A)), //nolint:gosec // test jitter
	}
}

// Write implements io.Writer.
func (j *JitteryConn) Write(p []byte) (int, error) {
	return j.backend.Write(p) //nolint:wrapcheck // pass-through
}

// Read implements io.Reader with delay and fragmentation.
func (j *JitteryConn) Read(p []byte) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.config.MaxLatency > 0 {
		time.Sleep(time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1)))
	}
	j.reads++
	if j.config.EmptyEvery > 0 && j.reads%j.config.EmptyEvery == 0 {
		return 0, nil
	}

	if len(j.pending) == 0 {
		var tmp [64]byte
		n, err := j.backend.Read(tmp[:])
		if err != nil {
			return 0, err //nolint:wrapcheck // pass-through
		}
		j.pending = append(j.pending, tmp[:n]...)
	}

	n := min(len(p), len(j.pending))
	if j.config.MaxChunk > 0 && n > j.config.MaxChunk {
		n = 1 + j.rng.IntN(j.config.MaxChunk)
	}
	copy(p, j.pending[:n])
	j.pending = j.pending[n:]
	return n, nil
}

// Reads returns how many Read calls were made.
func (j *JitteryConn) Reads() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.reads
}
