// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package model_test

import (
	"testing"
	"time"

	"github.com/sprucehealth/dialtone/model"
)

func TestValidE164(t *testing.T) {
	valid := []string{
		"+447700900123",
		"+15551234567",
		"+12345678",
		"+123456789012345",
	}
	for _, number := range valid {
		if !model.ValidE164(number) {
			t.Errorf("expected %q to be valid", number)
		}
	}

	invalid := []string{
		"",
		"447700900123",
		"+0447700900123",
		"+1234567",
		"+1234567890123456",
		"+44 7700 900123",
		"+44x7700900123",
	}
	for _, number := range invalid {
		if model.ValidE164(number) {
			t.Errorf("expected %q to be invalid", number)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []model.CallStatus{
		model.CallCompleted,
		model.CallFailed,
		model.CallCanceled,
		model.CallBusy,
		model.CallNoAnswer,
	}
	for _, status := range terminal {
		if !status.IsTerminal() {
			t.Errorf("expected %q to be terminal", status)
		}
	}

	nonTerminal := []model.CallStatus{
		model.CallQueued,
		model.CallRinging,
		model.CallInProgress,
		model.CallStatus("some-future-status"),
		model.CallStatus(""),
	}
	for _, status := range nonTerminal {
		if status.IsTerminal() {
			t.Errorf("expected %q to be non-terminal", status)
		}
	}
}

func TestNewClientSID(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sid := model.NewClientSID(at)
	want := "client-1709294400000"
	if sid != want {
		t.Fatalf("got %q, want %q", sid, want)
	}
}

func TestAgentOrPlaceholder(t *testing.T) {
	if got := model.AgentOrPlaceholder(""); got != model.PlaceholderAgent {
		t.Fatalf("empty agent: got %q", got)
	}
	if got := model.AgentOrPlaceholder("alice"); got != "alice" {
		t.Fatalf("named agent: got %q", got)
	}
}

func TestDurationSec(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if got := model.DurationSec(start, start.Add(90*time.Second)); got != 90 {
		t.Errorf("90s call: got %d", got)
	}
	// Rounded, not truncated.
	if got := model.DurationSec(start, start.Add(1500*time.Millisecond)); got != 2 {
		t.Errorf("1.5s call: got %d", got)
	}
	if got := model.DurationSec(start, start.Add(400*time.Millisecond)); got != 0 {
		t.Errorf("0.4s call: got %d", got)
	}
	// Clock skew must not produce a negative duration.
	if got := model.DurationSec(start, start.Add(-5*time.Second)); got != 0 {
		t.Errorf("negative span: got %d", got)
	}
}
