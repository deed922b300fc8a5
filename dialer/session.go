// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package dialer

import (
	"context"
	"time"

	"github.com/sprucehealth/dialtone/history"
	"github.com/sprucehealth/dialtone/model"
)

// Controller is the surface shared by the two call-origination modes.
// Server-originated and client-originated sessions have different event
// sources but produce the same status and history model.
type Controller interface {
	SID() string
	Status() model.CallStatus
	Err() error
	HangUp(ctx context.Context) error
	Reset()
}

var (
	_ Controller = (*ServerController)(nil)
	_ Controller = (*ClientController)(nil)
)

// session tracks one call attempt from creation to terminal status. Each
// session owns exactly one ledger entry, keyed by its sid; no other
// controller patches it.
type session struct {
	sid       string
	status    model.CallStatus
	startedAt time.Time
	closed    bool
}

// close records the terminal transition: it sets the final status and
// patches the owned ledger entry with endedAt and durationSec. It runs at
// most once per session; later transitions, including attempts to move a
// terminal session back to a non-terminal status, are dropped here rather
// than in the ledger.
func (s *session) close(ledger *history.Ledger, status model.CallStatus, endedAt time.Time) {
	if s.closed {
		return
	}
	s.closed = true
	s.status = status
	dur := model.DurationSec(s.startedAt, endedAt)
	ledger.Patch(s.sid, history.Patch{
		Status:      &status,
		EndedAt:     &endedAt,
		DurationSec: &dur,
	})
}

// abandon stops tracking the session without a terminal transition. The
// ledger entry is left in whatever status it last had; a later close
// attempt, such as a stale disconnect event, becomes a no-op.
func (s *session) abandon() {
	s.closed = true
}

// setStatus applies a non-terminal-safe status update. Updates after the
// session closed are ignored.
func (s *session) setStatus(status model.CallStatus) {
	if s.closed {
		return
	}
	s.status = status
}
