// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package dialer_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sprucehealth/dialtone/backend"
	"github.com/sprucehealth/dialtone/dialer"
	"github.com/sprucehealth/dialtone/history"
	"github.com/sprucehealth/dialtone/model"
	"github.com/sprucehealth/dialtone/settings"
)

type serverHarness struct {
	rec    *backend.Recorder
	clock  *dialer.ManualClock
	ledger *history.Ledger
	cfg    *settings.Settings
	ctrl   *dialer.ServerController
}

func newServerHarness(t *testing.T, defaults settings.Defaults) *serverHarness {
	t.Helper()
	rec := backend.NewRecorder()
	clock := dialer.NewManualClock(time.Time{})
	ledger := history.New(nil, nil)
	cfg := settings.New(nil, defaults)
	ctrl := dialer.NewServerController(
		backend.New(backend.WithTransport(rec)),
		ledger, cfg,
		dialer.WithClock(clock),
	)
	return &serverHarness{rec: rec, clock: clock, ledger: ledger, cfg: cfg, ctrl: ctrl}
}

func configured() settings.Defaults {
	return settings.Defaults{
		APIBase:  "https://api.example.com",
		FromPool: "+442012345678",
		Agent:    "alice",
	}
}

func TestPlaceCallThroughToCompleted(t *testing.T) {
	h := newServerHarness(t, configured())
	statuses := []string{"ringing", "completed"}
	h.rec.ResponseFunc = func(req *http.Request, body []byte) (int, []byte) {
		switch req.URL.Path {
		case "/api/call":
			return 200, []byte(`{"sid":"CA123","status":"queued","to":"+447700900123","from":"+442012345678"}`)
		case "/api/status":
			s := statuses[0]
			if len(statuses) > 1 {
				statuses = statuses[1:]
			}
			return 200, []byte(`{"status":"` + s + `"}`)
		}
		return 404, []byte(`{}`)
	}

	if err := h.ctrl.PlaceCall(context.Background(), "+447700900123", "+442012345678", "hello"); err != nil {
		t.Fatal(err)
	}
	if h.ctrl.SID() != "CA123" || h.ctrl.Status() != model.CallQueued {
		t.Fatalf("after place: sid=%s status=%s", h.ctrl.SID(), h.ctrl.Status())
	}
	if !h.ctrl.Polling() {
		t.Fatal("should be polling")
	}

	entry, ok := h.ledger.Find("CA123")
	if !ok {
		t.Fatal("no ledger entry")
	}
	if entry.Status != model.CallQueued || entry.EndedAt != nil || entry.DurationSec != nil {
		t.Fatalf("fresh entry: %+v", entry)
	}
	if entry.Agent != "alice" || entry.Message != "hello" {
		t.Fatalf("entry fields: %+v", entry)
	}

	// First poll: ringing, keep going.
	h.clock.Advance(dialer.PollInterval)
	if h.ctrl.Status() != model.CallRinging || !h.ctrl.Polling() {
		t.Fatalf("after first poll: status=%s polling=%v", h.ctrl.Status(), h.ctrl.Polling())
	}

	// Second poll: completed, terminal transition into the ledger.
	h.clock.Advance(dialer.PollInterval)
	if h.ctrl.Status() != model.CallCompleted {
		t.Fatalf("status: %s", h.ctrl.Status())
	}
	if h.ctrl.Polling() {
		t.Fatal("polling should have stopped")
	}

	entry, _ = h.ledger.Find("CA123")
	if entry.Status != model.CallCompleted {
		t.Fatalf("entry status: %s", entry.Status)
	}
	if entry.EndedAt == nil || entry.DurationSec == nil {
		t.Fatalf("terminal fields missing: %+v", entry)
	}
	if *entry.DurationSec != 4 {
		t.Fatalf("durationSec: %d", *entry.DurationSec)
	}

	// Nothing further happens after terminal.
	h.clock.Advance(10 * dialer.PollInterval)
	if got := len(h.rec.RequestsTo("/api/status")); got != 2 {
		t.Fatalf("status polls after terminal: %d", got)
	}
}

func TestPlaceCallValidation(t *testing.T) {
	cases := []struct {
		name     string
		defaults settings.Defaults
		to, from string
		want     string
	}{
		{"missing base", settings.Defaults{}, "+447700900123", "+442012345678", "Set API Base URL first."},
		{"bad number", configured(), "447700900123", "+442012345678", "Enter a valid number for Call."},
		{"missing from", configured(), "+447700900123", "", "Select a From number."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newServerHarness(t, tc.defaults)

			err := h.ctrl.PlaceCall(context.Background(), tc.to, tc.from, "")
			if err == nil {
				t.Fatal("expected error")
			}
			var vErr *dialer.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("not a validation error: %v", err)
			}
			if err.Error() != tc.want {
				t.Fatalf("got %q, want %q", err.Error(), tc.want)
			}
			if h.ctrl.Err() == nil {
				t.Fatal("error slot empty")
			}
			// Rejected before any network call, ledger untouched.
			if got := len(h.rec.Requests()); got != 0 {
				t.Fatalf("requests made: %d", got)
			}
			if h.ledger.Len() != 0 {
				t.Fatalf("ledger entries: %d", h.ledger.Len())
			}
		})
	}
}

func TestPlaceCallBackendError(t *testing.T) {
	h := newServerHarness(t, configured())
	h.rec.ResponseFunc = func(req *http.Request, body []byte) (int, []byte) {
		return 400, []byte(`{"detail":"no verified caller id"}`)
	}

	err := h.ctrl.PlaceCall(context.Background(), "+447700900123", "+442012345678", "")
	if err == nil {
		t.Fatal("expected error")
	}
	var tErr *dialer.TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("not a transport error: %v", err)
	}
	if err.Error() != "no verified caller id" {
		t.Fatalf("message: %q", err.Error())
	}
	if h.ledger.Len() != 0 {
		t.Fatal("failed call must not reach the ledger")
	}
	if h.ctrl.Polling() {
		t.Fatal("must not poll")
	}
}

func TestPollFailureStopsPolling(t *testing.T) {
	h := newServerHarness(t, configured())
	h.rec.ResponseFunc = func(req *http.Request, body []byte) (int, []byte) {
		switch req.URL.Path {
		case "/api/call":
			return 200, []byte(`{"sid":"CA123","status":"queued"}`)
		default:
			return 500, []byte(`{"message":"backend down"}`)
		}
	}

	if err := h.ctrl.PlaceCall(context.Background(), "+447700900123", "+442012345678", ""); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(dialer.PollInterval)

	if h.ctrl.Polling() {
		t.Fatal("polling should have stopped")
	}
	if h.ctrl.Err() == nil || h.ctrl.Err().Error() != "backend down" {
		t.Fatalf("err: %v", h.ctrl.Err())
	}
	// Single-shot failure semantics, no retry.
	h.clock.Advance(10 * dialer.PollInterval)
	if got := len(h.rec.RequestsTo("/api/status")); got != 1 {
		t.Fatalf("status polls: %d", got)
	}
	// Status keeps its last value; the ledger entry is not touched.
	if h.ctrl.Status() != model.CallQueued {
		t.Fatalf("status: %s", h.ctrl.Status())
	}
	entry, _ := h.ledger.Find("CA123")
	if entry.Status != model.CallQueued || entry.EndedAt != nil {
		t.Fatalf("entry: %+v", entry)
	}
}

func TestPollContinuesWhileRinging(t *testing.T) {
	h := newServerHarness(t, configured())
	h.rec.ResponseFunc = func(req *http.Request, body []byte) (int, []byte) {
		switch req.URL.Path {
		case "/api/call":
			return 200, []byte(`{"sid":"CA123","status":"queued"}`)
		default:
			return 200, []byte(`{"status":"ringing"}`)
		}
	}

	if err := h.ctrl.PlaceCall(context.Background(), "+447700900123", "+442012345678", ""); err != nil {
		t.Fatal(err)
	}

	// No timeout and no attempt cap: an indefinitely ringing call keeps
	// polling until the user intervenes.
	for i := 0; i < 50; i++ {
		h.clock.Advance(dialer.PollInterval)
	}
	if !h.ctrl.Polling() {
		t.Fatal("polling stopped")
	}
	if got := len(h.rec.RequestsTo("/api/status")); got != 50 {
		t.Fatalf("status polls: %d", got)
	}
}

func TestHangUpForcesCompleted(t *testing.T) {
	h := newServerHarness(t, configured())
	h.rec.ResponseFunc = func(req *http.Request, body []byte) (int, []byte) {
		switch req.URL.Path {
		case "/api/call":
			return 200, []byte(`{"sid":"CA123","status":"queued"}`)
		case "/api/status":
			return 200, []byte(`{"status":"in-progress"}`)
		}
		return 200, []byte(`{}`)
	}

	if err := h.ctrl.PlaceCall(context.Background(), "+447700900123", "+442012345678", ""); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(dialer.PollInterval)

	if err := h.ctrl.HangUp(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.ctrl.Status() != model.CallCompleted {
		t.Fatalf("status: %s", h.ctrl.Status())
	}
	if h.ctrl.Polling() {
		t.Fatal("polling should have stopped")
	}
	entry, _ := h.ledger.Find("CA123")
	if entry.Status != model.CallCompleted || entry.EndedAt == nil || entry.DurationSec == nil {
		t.Fatalf("entry: %+v", entry)
	}

	// A poll already scheduled must not revert the terminal state.
	h.clock.Advance(dialer.PollInterval)
	if h.ctrl.Status() != model.CallCompleted {
		t.Fatalf("status reverted: %s", h.ctrl.Status())
	}
}

func TestHangUpFailureLeavesStateUnchanged(t *testing.T) {
	h := newServerHarness(t, configured())
	h.rec.ResponseFunc = func(req *http.Request, body []byte) (int, []byte) {
		switch req.URL.Path {
		case "/api/call":
			return 200, []byte(`{"sid":"CA123","status":"queued"}`)
		case "/api/status":
			return 200, []byte(`{"status":"ringing"}`)
		case "/api/hangup":
			return 500, []byte(`{"detail":"cannot hang up"}`)
		}
		return 200, []byte(`{}`)
	}

	if err := h.ctrl.PlaceCall(context.Background(), "+447700900123", "+442012345678", ""); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(dialer.PollInterval)

	err := h.ctrl.HangUp(context.Background())
	if err == nil || err.Error() != "cannot hang up" {
		t.Fatalf("err: %v", err)
	}
	// No optimistic terminal transition on failure.
	if h.ctrl.Status() != model.CallRinging {
		t.Fatalf("status: %s", h.ctrl.Status())
	}
	if !h.ctrl.Polling() {
		t.Fatal("polling should continue")
	}
	entry, _ := h.ledger.Find("CA123")
	if entry.EndedAt != nil {
		t.Fatalf("entry closed: %+v", entry)
	}
}

func TestHangUpWithoutCall(t *testing.T) {
	h := newServerHarness(t, configured())
	if err := h.ctrl.HangUp(context.Background()); !errors.Is(err, dialer.ErrNoActiveCall) {
		t.Fatalf("err: %v", err)
	}
}

func TestResetIsIdempotent(t *testing.T) {
	h := newServerHarness(t, configured())
	h.rec.ResponseFunc = func(req *http.Request, body []byte) (int, []byte) {
		switch req.URL.Path {
		case "/api/call":
			return 200, []byte(`{"sid":"CA123","status":"queued"}`)
		}
		return 200, []byte(`{"status":"ringing"}`)
	}

	if err := h.ctrl.PlaceCall(context.Background(), "+447700900123", "+442012345678", ""); err != nil {
		t.Fatal(err)
	}

	h.ctrl.Reset()
	h.ctrl.Reset()

	if h.ctrl.SID() != "" || h.ctrl.Status() != "" || h.ctrl.Err() != nil || h.ctrl.Polling() {
		t.Fatalf("state after reset: sid=%q status=%q err=%v polling=%v",
			h.ctrl.SID(), h.ctrl.Status(), h.ctrl.Err(), h.ctrl.Polling())
	}
	// The ledger entry is left alone.
	if _, ok := h.ledger.Find("CA123"); !ok {
		t.Fatal("reset must not touch the ledger")
	}
	h.clock.Advance(10 * dialer.PollInterval)
	if got := len(h.rec.RequestsTo("/api/status")); got != 0 {
		t.Fatalf("polls after reset: %d", got)
	}
}

func TestNewCallAbandonsPriorSession(t *testing.T) {
	h := newServerHarness(t, configured())
	sid := "CA1"
	h.rec.ResponseFunc = func(req *http.Request, body []byte) (int, []byte) {
		switch req.URL.Path {
		case "/api/call":
			return 200, []byte(`{"sid":"` + sid + `","status":"queued"}`)
		}
		return 200, []byte(`{"status":"ringing"}`)
	}

	if err := h.ctrl.PlaceCall(context.Background(), "+447700900123", "+442012345678", ""); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(dialer.PollInterval)

	sid = "CA2"
	if err := h.ctrl.PlaceCall(context.Background(), "+447700900124", "+442012345678", ""); err != nil {
		t.Fatal(err)
	}
	if h.ctrl.SID() != "CA2" {
		t.Fatalf("sid: %s", h.ctrl.SID())
	}

	// The first entry keeps whatever status it last had; it is not
	// force-terminated.
	first, _ := h.ledger.Find("CA1")
	if first.Status != model.CallQueued || first.EndedAt != nil {
		t.Fatalf("first entry: %+v", first)
	}
	if h.ledger.Len() != 2 {
		t.Fatalf("ledger entries: %d", h.ledger.Len())
	}
}
