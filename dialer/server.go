// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package dialer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sprucehealth/dialtone/backend"
	"github.com/sprucehealth/dialtone/history"
	"github.com/sprucehealth/dialtone/model"
	"github.com/sprucehealth/dialtone/settings"
)

// PollInterval is the fixed delay between status polls for a
// server-originated call.
const PollInterval = 2 * time.Second

// ServerController places calls through the backend and tracks them by
// polling /api/status until a terminal status arrives. Polling has no
// retry and no overall timeout: it stops on the first failed poll, on a
// terminal status, on hangup, or on reset.
type ServerController struct {
	mu      sync.Mutex
	clock   Clock
	logger  *zap.Logger
	backend *backend.Client
	ledger  *history.Ledger
	cfg     *settings.Settings

	sess      *session
	lastErr   error
	polling   bool
	pollSeq   int
	pollTimer Timer
}

// NewServerController creates a controller for backend-originated calls.
func NewServerController(b *backend.Client, ledger *history.Ledger, cfg *settings.Settings, opts ...Option) *ServerController {
	o := newOptions(opts)
	return &ServerController{
		clock:   o.clock,
		logger:  o.logger,
		backend: b,
		ledger:  ledger,
		cfg:     cfg,
	}
}

// PlaceCall validates input, originates a call through the backend,
// appends the history entry and starts status polling. Validation
// failures are reported before any network traffic.
func (c *ServerController) PlaceCall(ctx context.Context, to, from, message string) error {
	c.mu.Lock()

	base := c.cfg.APIBase()
	var err error
	switch {
	case base == "":
		err = validationErrorf("Set API Base URL first.")
	case !model.ValidE164(to):
		err = validationErrorf("Enter a valid number for Call.")
	case from == "":
		err = validationErrorf("Select a From number.")
	}
	if err != nil {
		c.lastErr = err
		c.mu.Unlock()
		return err
	}
	c.lastErr = nil
	c.mu.Unlock()

	resp, callErr := c.backend.CreateCall(ctx, base, to, from, message)

	c.mu.Lock()
	defer c.mu.Unlock()
	if callErr != nil {
		c.lastErr = transportError(callErr)
		c.logger.Warn("placing call failed", zap.String("to", to), zap.Error(callErr))
		return c.lastErr
	}

	status := resp.Status
	if status == "" {
		status = model.CallQueued
	}
	now := c.clock.Now()
	// A prior non-terminal session loses its tracking; its ledger entry
	// keeps whatever status it last had.
	c.stopPollingLocked()
	if c.sess != nil {
		c.sess.abandon()
	}
	c.sess = &session{sid: resp.SID, status: status, startedAt: now}
	c.ledger.Append(model.HistoryEntry{
		SID:       resp.SID,
		To:        to,
		From:      from,
		Agent:     model.AgentOrPlaceholder(c.cfg.Agent()),
		Message:   message,
		StartedAt: now,
		Status:    status,
	})
	c.logger.Info("call placed", zap.String("sid", resp.SID), zap.String("to", to), zap.String("status", string(status)))

	if status.IsTerminal() {
		c.sess.close(c.ledger, status, now)
		return nil
	}
	c.startPollingLocked(resp.SID)
	return nil
}

// HangUp asks the backend to terminate the active call. On success the
// session is closed as completed immediately, without waiting for a
// poll to confirm; on failure nothing changes and polling continues.
func (c *ServerController) HangUp(ctx context.Context) error {
	c.mu.Lock()
	if c.sess == nil || c.sess.closed {
		c.mu.Unlock()
		return ErrNoActiveCall
	}
	base := c.cfg.APIBase()
	sid := c.sess.sid
	c.mu.Unlock()

	err := c.backend.Hangup(ctx, base, sid)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.lastErr = transportError(err)
		c.logger.Warn("hangup failed", zap.String("sid", sid), zap.Error(err))
		return c.lastErr
	}
	c.stopPollingLocked()
	if c.sess != nil && c.sess.sid == sid {
		c.sess.close(c.ledger, model.CallCompleted, c.clock.Now())
	}
	c.logger.Info("call hung up", zap.String("sid", sid))
	return nil
}

// Reset clears the session and the last error so a new call can start.
// Safe to call at any time, including with no session at all.
func (c *ServerController) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopPollingLocked()
	c.sess = nil
	c.lastErr = nil
}

// SID returns the active session id, or empty when there is none.
func (c *ServerController) SID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.sid
}

// Status returns the current call status, or empty when no call was
// placed since the last reset.
func (c *ServerController) Status() model.CallStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.status
}

// Err returns the most recent error, validation or transport. Cleared
// when a new call attempt passes validation, or on reset.
func (c *ServerController) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Polling reports whether the status poll loop is armed.
func (c *ServerController) Polling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polling
}

func (c *ServerController) startPollingLocked(sid string) {
	c.pollSeq++
	seq := c.pollSeq
	c.polling = true
	c.pollTimer = c.clock.AfterFunc(PollInterval, func() {
		c.pollTick(seq, sid)
	})
}

// stopPollingLocked invalidates the poll sequence so a tick already past
// its timer cannot act after this returns.
func (c *ServerController) stopPollingLocked() {
	c.pollSeq++
	c.polling = false
	if c.pollTimer != nil {
		c.pollTimer.Stop()
		c.pollTimer = nil
	}
}

func (c *ServerController) pollTick(seq int, sid string) {
	c.mu.Lock()
	if seq != c.pollSeq {
		c.mu.Unlock()
		return
	}
	base := c.cfg.APIBase()
	c.mu.Unlock()

	resp, err := c.backend.CallStatus(context.Background(), base, sid)

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.pollSeq || c.sess == nil || c.sess.sid != sid {
		return
	}

	if err != nil {
		c.lastErr = transportError(err)
		c.polling = false
		c.pollTimer = nil
		c.logger.Warn("status poll failed, polling stopped", zap.String("sid", sid), zap.Error(err))
		return
	}

	status := resp.Status
	if status.IsTerminal() {
		c.sess.close(c.ledger, status, c.clock.Now())
		c.polling = false
		c.pollTimer = nil
		c.logger.Info("call ended", zap.String("sid", sid), zap.String("status", string(status)))
		return
	}

	c.sess.setStatus(status)
	c.pollTimer = c.clock.AfterFunc(PollInterval, func() {
		c.pollTick(seq, sid)
	})
}
