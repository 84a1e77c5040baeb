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

// Package session resolves the stable identity that stitches independent
// hook invocations into one run.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// KeyPrefix marks session keys derived from UUID-shaped identifiers, so
// ids arriving via payload, environment, and file storage converge on one
// spelling.
const KeyPrefix = "cc-"

// sharedFileName is the per-user fallback key store, refreshed on use.
const sharedFileName = "shared-session.json"

// envAliases are checked in order when the payload carries no id.
var envAliases = []string{"BATON_SESSION_ID", "CLAUDE_SESSION_ID", "SESSION_ID"}

// uuidRegex validates RFC 4122 UUID format.
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Source records which rung of the resolution ladder produced the key.
type Source string

const (
	SourcePayload Source = "payload"
	SourceEnv     Source = "env"
	SourceShared  Source = "shared"
	SourcePPID    Source = "ppid"
)

// Resolution is the outcome of resolving a session key. There is no error
// outcome: the ladder always bottoms out at the parent-pid fallback.
type Resolution struct {
	Key    string
	Source Source
}

// Resolver derives session keys. The zero value is not usable; construct
// with New.
type Resolver struct {
	dir string
	ttl time.Duration

	// now and ppid are swappable for tests.
	now  func() time.Time
	ppid func() int
}

// New creates a Resolver rooted at the runtime directory. ttl is the
// sliding expiration of the shared key file.
func New(dir string, ttl time.Duration) *Resolver {
	return &Resolver{
		dir:  dir,
		ttl:  ttl,
		now:  time.Now,
		ppid: os.Getppid,
	}
}

// Normalize canonicalizes a raw session identifier. UUID-shaped ids gain
// the fixed prefix in lowercase; anything else passes through trimmed.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if uuidRegex.MatchString(raw) {
		return KeyPrefix + strings.ToLower(raw)
	}
	return raw
}

// Hash returns the filesystem-safe digest under which per-session files
// are stored: first 16 hex characters of SHA-256.
func Hash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// Resolve walks the identity ladder: payload id, environment, shared key
// file, parent pid. Payload and environment hits are persisted to the
// shared file opportunistically; shared-file hits refresh its expiration.
func (r *Resolver) Resolve(payloadID string) Resolution {
	if key := Normalize(payloadID); key != "" {
		r.persistShared(key)
		return Resolution{Key: key, Source: SourcePayload}
	}

	for _, name := range envAliases {
		if key := Normalize(os.Getenv(name)); key != "" {
			r.persistShared(key)
			return Resolution{Key: key, Source: SourceEnv}
		}
	}

	if key := r.readShared(); key != "" {
		return Resolution{Key: key, Source: SourceShared}
	}

	return Resolution{
		Key:    fmt.Sprintf("ppid-%d", r.ppid()),
		Source: SourcePPID,
	}
}

// sharedState is the shared key file document.
type sharedState struct {
	Key     string    `json:"key"`
	SavedAt time.Time `json:"saved_at"`
}

func (r *Resolver) sharedPath() string {
	return filepath.Join(r.dir, sharedFileName)
}

// readShared returns the shared key when it is inside its sliding TTL,
// refreshing the expiration on success. An expired, missing, or corrupt
// file yields nothing.
func (r *Resolver) readShared() string {
	data, err := os.ReadFile(r.sharedPath())
	if err != nil {
		return ""
	}

	var state sharedState
	if err := json.Unmarshal(data, &state); err != nil {
		return ""
	}
	if state.Key == "" {
		return ""
	}
	if r.now().Sub(state.SavedAt) > r.ttl {
		return ""
	}

	// Sliding expiration: reading keeps the key alive.
	r.persistShared(state.Key)
	return state.Key
}

// persistShared writes the shared key file. Best-effort: concurrent
// invocations race last-write-wins, and any failure is discarded.
func (r *Resolver) persistShared(key string) {
	state := sharedState{Key: key, SavedAt: r.now()}
	data, err := json.Marshal(state)
	if err != nil {
		return
	}

	if err := os.MkdirAll(r.dir, 0700); err != nil {
		return
	}

	tmp, err := os.CreateTemp(r.dir, ".shared-session-*.tmp")
	if err != nil {
		return
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return
	}
	if err := os.Rename(tmpPath, r.sharedPath()); err != nil {
		os.Remove(tmpPath)
	}
}
