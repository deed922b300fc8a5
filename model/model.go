// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package model

import (
	"fmt"
	"regexp"
	"time"
)

// CallStatus represents the current status of a call. The set is open:
// statuses the backend reports that we do not recognize are carried through
// unchanged and treated as non-terminal.
type CallStatus string

const (
	CallQueued     CallStatus = "queued"
	CallRinging    CallStatus = "ringing"
	CallInProgress CallStatus = "in-progress"
	CallCompleted  CallStatus = "completed"
	CallBusy       CallStatus = "busy"
	CallFailed     CallStatus = "failed"
	CallNoAnswer   CallStatus = "no-answer"
	CallCanceled   CallStatus = "canceled"
)

// IsTerminal reports whether no further status transitions are accepted
// after s.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallCompleted, CallFailed, CallCanceled, CallBusy, CallNoAnswer:
		return true
	}
	return false
}

// PlaceholderAgent is recorded when no agent identity is configured.
const PlaceholderAgent = "—"

// BrowserCallMessage is the message recorded for calls placed through the
// voice client, which carry no spoken message.
const BrowserCallMessage = "(Browser call)"

// HistoryEntry is one call attempt in the history ledger. Status, EndedAt
// and DurationSec are patched exactly once, on terminal transition, by the
// controller that owns the session; every other field is immutable after
// append.
type HistoryEntry struct {
	SID         string     `json:"sid"`
	To          string     `json:"to"`
	From        string     `json:"from"`
	Agent       string     `json:"agent"`
	Message     string     `json:"message"`
	StartedAt   time.Time  `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
	Status      CallStatus `json:"status"`
	DurationSec *int       `json:"durationSec,omitempty"`
}

// e164 matches + followed by 8-15 digits, the first of which is 1-9.
var e164 = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

// ValidE164 reports whether number is a well-formed E.164 phone number.
func ValidE164(number string) bool {
	return e164.MatchString(number)
}

// NewClientSID synthesizes a session identifier for a client-originated
// call. Unique per session start time.
func NewClientSID(startedAt time.Time) string {
	return fmt.Sprintf("client-%d", startedAt.UnixMilli())
}

// AgentOrPlaceholder substitutes the placeholder identity for an empty
// agent string.
func AgentOrPlaceholder(agent string) string {
	if agent == "" {
		return PlaceholderAgent
	}
	return agent
}

// DurationSec computes the whole-second duration between start and end,
// rounded, floored at zero.
func DurationSec(start, end time.Time) int {
	d := int(end.Sub(start).Round(time.Second) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}
