// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package dialer_test

import (
	"testing"
	"time"

	"github.com/sprucehealth/dialtone/dialer"
)

func TestManualClockFiresDueTimersInOrder(t *testing.T) {
	clock := dialer.NewManualClock(time.Time{})

	var fired []string
	clock.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	clock.AfterFunc(1*time.Second, func() { fired = append(fired, "a") })
	clock.AfterFunc(10*time.Second, func() { fired = append(fired, "never") })

	clock.Advance(5 * time.Second)

	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Fatalf("fired: %v", fired)
	}
}

func TestManualClockAdvanceSetsNow(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := dialer.NewManualClock(start)
	clock.Advance(90 * time.Second)
	if got := clock.Now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Fatalf("now: %v", got)
	}
}

func TestManualClockCallbackSeesFireTime(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := dialer.NewManualClock(start)

	var at time.Time
	clock.AfterFunc(2*time.Second, func() { at = clock.Now() })
	clock.Advance(10 * time.Second)

	if !at.Equal(start.Add(2 * time.Second)) {
		t.Fatalf("callback saw %v", at)
	}
}

func TestManualClockRearmedTimerFiresInSameAdvance(t *testing.T) {
	clock := dialer.NewManualClock(time.Time{})

	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		if ticks < 3 {
			clock.AfterFunc(2*time.Second, tick)
		}
	}
	clock.AfterFunc(2*time.Second, tick)

	clock.Advance(6 * time.Second)
	if ticks != 3 {
		t.Fatalf("ticks: %d", ticks)
	}
}

func TestManualClockStop(t *testing.T) {
	clock := dialer.NewManualClock(time.Time{})

	fired := false
	timer := clock.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("first stop should succeed")
	}
	if timer.Stop() {
		t.Fatal("second stop should report already stopped")
	}

	clock.Advance(5 * time.Second)
	if fired {
		t.Fatal("stopped timer fired")
	}

	done := clock.AfterFunc(time.Second, func() {})
	clock.Advance(2 * time.Second)
	if done.Stop() {
		t.Fatal("stop after firing should return false")
	}
}
