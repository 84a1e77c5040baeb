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
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// Payload is the normalized hook envelope. Every orchestrator spells the
// fields differently (session_id, sessionId, conversation_id, ...); the
// alias tables below fold them into one shape so no other component ever
// sees a raw payload.
type Payload struct {
	// SessionID is the raw session identifier as sent by the host, before
	// normalization. Empty when no alias matched.
	SessionID string
	// HookEventName is the host's event name, when present.
	HookEventName string
	// CWD is the working directory of the observed workflow.
	CWD string
	// Tool is the tool name for tool phases.
	Tool string
	// Agent is the agent name for subagent phases, when the host sends one.
	Agent string
	// ToolInput is the raw tool input document.
	ToolInput json.RawMessage
	// ToolResult is the raw tool result document.
	ToolResult json.RawMessage
	// Raw is the bounded payload bytes as read.
	Raw []byte
}

// Alias tables, keyed by canonical form (lowercased, underscores removed)
// so snake_case and camelCase collapse together.
var (
	sessionAliases = map[string]bool{
		"sessionid": true, "session": true,
		"conversationid": true, "conversation": true,
		"chatid": true,
	}
	eventAliases = map[string]bool{
		"hookeventname": true, "eventname": true, "event": true,
	}
	cwdAliases = map[string]bool{
		"cwd": true, "workingdir": true,
	}
	toolAliases = map[string]bool{
		"toolname": true, "tool": true, "name": true,
	}
	agentAliases = map[string]bool{
		"agent": true, "agentname": true, "agenttype": true,
		"subagent": true, "subagenttype": true,
	}
	inputAliases = map[string]bool{
		"toolinput": true, "input": true,
		"parameters": true, "params": true, "arguments": true,
	}
	resultAliases = map[string]bool{
		"toolresponse": true, "toolresult": true,
		"result": true, "output": true, "response": true,
	}
	contextAliases = map[string]bool{
		"context": true, "ctx": true, "metadata": true, "meta": true,
	}
)

func canonicalKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), "_", "")
}

// Extract pulls the known fields out of a raw payload. It walks top-level
// JSON tokens and stops as soon as every field is captured, so a large
// payload is not fully materialized. A malformed or truncated document
// degrades to best-effort regex extraction of the string fields; Extract
// never fails.
func Extract(raw []byte) Payload {
	p := Payload{Raw: raw}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return p
	}

	var contextBag json.RawMessage
	clean := walkTopLevel(trimmed, &p, &contextBag)

	// Session and agent hints sometimes hide inside a context/metadata bag.
	if len(contextBag) > 0 && (p.SessionID == "" || p.Agent == "") {
		fillFromBag(contextBag, &p)
	}

	// Regexes only run when the decoder gave up: a clean walk with absent
	// fields means the fields are genuinely absent, and scanning would risk
	// matching keys buried inside tool documents.
	if !clean {
		fillFromRegex(trimmed, &p)
	}

	return p
}

// walkTopLevel decodes top-level key/value pairs one at a time. It reports
// whether the walk reached a clean end of the document.
func walkTopLevel(raw []byte, p *Payload, contextBag *json.RawMessage) bool {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return false
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return false
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return false
		}
		key, ok := keyTok.(string)
		if !ok {
			return false
		}

		canon := canonicalKey(key)
		switch {
		case sessionAliases[canon]:
			if s, err := decodeString(dec); err != nil {
				return false
			} else if p.SessionID == "" {
				p.SessionID = s
			}
		case eventAliases[canon]:
			if s, err := decodeString(dec); err != nil {
				return false
			} else if p.HookEventName == "" {
				p.HookEventName = s
			}
		case cwdAliases[canon]:
			if s, err := decodeString(dec); err != nil {
				return false
			} else if p.CWD == "" {
				p.CWD = s
			}
		case toolAliases[canon]:
			if s, err := decodeString(dec); err != nil {
				return false
			} else if p.Tool == "" {
				p.Tool = s
			}
		case agentAliases[canon]:
			if s, err := decodeString(dec); err != nil {
				return false
			} else if p.Agent == "" {
				p.Agent = s
			}
		case inputAliases[canon]:
			var v json.RawMessage
			if err := dec.Decode(&v); err != nil {
				return false
			}
			if p.ToolInput == nil {
				p.ToolInput = v
			}
		case resultAliases[canon]:
			var v json.RawMessage
			if err := dec.Decode(&v); err != nil {
				return false
			}
			if p.ToolResult == nil {
				p.ToolResult = v
			}
		case contextAliases[canon]:
			var v json.RawMessage
			if err := dec.Decode(&v); err != nil {
				return false
			}
			if *contextBag == nil {
				*contextBag = v
			}
		default:
			// Skip the value without keeping it.
			var sink json.RawMessage
			if err := dec.Decode(&sink); err != nil {
				return false
			}
		}

		if p.complete() {
			return true
		}
	}

	// Consume the closing brace so a truncated document is detected.
	if _, err := dec.Token(); err != nil {
		return false
	}
	return true
}

func (p *Payload) complete() bool {
	return p.SessionID != "" && p.HookEventName != "" && p.CWD != "" &&
		p.Tool != "" && p.Agent != "" && p.ToolInput != nil && p.ToolResult != nil
}

// decodeString accepts strings and scalar lookalikes (numbers get their
// literal text); anything else counts as absent.
func decodeString(dec *json.Decoder) (string, error) {
	var v json.RawMessage
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String(), nil
	}
	return "", nil
}

// fillFromBag resolves session and agent aliases inside a context/metadata
// bag. Top-level fields always win; only missing ones are filled.
func fillFromBag(bag json.RawMessage, p *Payload) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(bag, &fields); err != nil {
		return
	}
	for key, v := range fields {
		canon := canonicalKey(key)
		var dst *string
		switch {
		case sessionAliases[canon]:
			dst = &p.SessionID
		case agentAliases[canon]:
			dst = &p.Agent
		default:
			continue
		}
		if *dst != "" {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil && s != "" {
			*dst = s
		}
	}
}

// regexPrefixLimit bounds how much of a malformed payload the fallback
// regexes scan.
const regexPrefixLimit = 64 << 10

var (
	sessionRe = regexp.MustCompile(`"(?:session_id|sessionId|session|conversation_id|conversationId|chat_id|chatId)"\s*:\s*"([^"]+)"`)
	eventRe   = regexp.MustCompile(`"(?:hook_event_name|hookEventName|event_name|eventName|event)"\s*:\s*"([^"]+)"`)
	cwdRe     = regexp.MustCompile(`"(?:cwd|working_dir|workingDir)"\s*:\s*"([^"]+)"`)
	toolRe    = regexp.MustCompile(`"(?:tool_name|toolName|tool)"\s*:\s*"([^"]+)"`)
	agentRe   = regexp.MustCompile(`"(?:agent_name|agentName|agent_type|agentType|subagent_type|subagentType|subagent|agent)"\s*:\s*"([^"]+)"`)
)

// fillFromRegex recovers string fields from a document the decoder gave up
// on. Raw documents stay untouched; only missing fields are filled.
func fillFromRegex(raw []byte, p *Payload) {
	if len(raw) > regexPrefixLimit {
		raw = raw[:regexPrefixLimit]
	}

	fill := func(dst *string, re *regexp.Regexp) {
		if *dst != "" {
			return
		}
		if m := re.FindSubmatch(raw); m != nil {
			*dst = string(m[1])
		}
	}

	fill(&p.SessionID, sessionRe)
	fill(&p.HookEventName, eventRe)
	fill(&p.CWD, cwdRe)
	fill(&p.Tool, toolRe)
	fill(&p.Agent, agentRe)
}
