// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hookio

import (
	"io"
	"time"
)

// ReadLimits bounds the payload read. A hook invoked without a payload (or
// with a stalled pipe) must not hang the workflow, so reading gives up on
// whichever limit trips first and keeps whatever arrived.
type ReadLimits struct {
	// Total is the overall budget for the read.
	Total time.Duration
	// Idle is the longest wait for the next chunk of bytes.
	Idle time.Duration
	// MaxBytes caps the number of bytes kept.
	MaxBytes int64
}

// DefaultReadLimits returns the limits used when none are configured.
func DefaultReadLimits() ReadLimits {
	return ReadLimits{
		Total:    time.Second,
		Idle:     200 * time.Millisecond,
		MaxBytes: 1 << 20,
	}
}

type chunk struct {
	data []byte
	err  error
}

// ReadBounded reads from r until EOF, the byte cap, or a timeout. It never
// returns an error: a partial or empty payload is a degraded input the
// extractor copes with, not a failure. The reader goroutine is abandoned on
// timeout; the process exits momentarily so nothing leaks for long.
func ReadBounded(r io.Reader, limits ReadLimits) []byte {
	if limits.Total <= 0 {
		limits.Total = DefaultReadLimits().Total
	}
	if limits.Idle <= 0 {
		limits.Idle = DefaultReadLimits().Idle
	}
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = DefaultReadLimits().MaxBytes
	}

	chunks := make(chan chunk, 1)
	go func() {
		buf := make([]byte, 32<<10)
		for {
			n, err := r.Read(buf)
			var data []byte
			if n > 0 {
				data = make([]byte, n)
				copy(data, buf[:n])
			}
			chunks <- chunk{data: data, err: err}
			if err != nil {
				return
			}
		}
	}()

	var out []byte
	total := time.NewTimer(limits.Total)
	defer total.Stop()
	idle := time.NewTimer(limits.Idle)
	defer idle.Stop()

	for {
		select {
		case c := <-chunks:
			if len(c.data) > 0 {
				remaining := limits.MaxBytes - int64(len(out))
				if remaining <= 0 {
					return out
				}
				if int64(len(c.data)) > remaining {
					c.data = c.data[:remaining]
				}
				out = append(out, c.data...)
				if int64(len(out)) >= limits.MaxBytes {
					return out
				}
			}
			if c.err != nil {
				return out
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(limits.Idle)
		case <-idle.C:
			return out
		case <-total.C:
			return out
		}
	}
}
