// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package dialer

import (
	"context"
	"net"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/sprucehealth/dialtone/backend"
	"github.com/sprucehealth/dialtone/history"
	"github.com/sprucehealth/dialtone/model"
	"github.com/sprucehealth/dialtone/settings"
)

// ClientController places calls through a registered voice client. The
// session lifecycle is event-driven: the transport's disconnect event,
// not a status poll, ends the call.
type ClientController struct {
	mu      sync.Mutex
	clock   Clock
	logger  *zap.Logger
	backend *backend.Client
	ledger  *history.Ledger
	cfg     *settings.Settings
	factory VoiceClientFactory
	origin  string

	client     VoiceClient
	agent      string
	ready      bool
	activeCall VoiceCall
	sess       *session
	muted      bool
	lastErr    error
}

// NewClientController creates a controller for browser-originated calls.
// origin is the URL the dialer is served from; registration is refused on
// insecure origins.
func NewClientController(b *backend.Client, ledger *history.Ledger, cfg *settings.Settings, factory VoiceClientFactory, origin string, opts ...Option) *ClientController {
	o := newOptions(opts)
	return &ClientController{
		clock:   o.clock,
		logger:  o.logger,
		backend: b,
		ledger:  ledger,
		cfg:     cfg,
		factory: factory,
		origin:  origin,
	}
}

// RegisterIfNeeded brings up the voice client if it is not up already.
// It is a no-op when a client exists, even if the agent identity has
// changed since, and when no agent is configured yet. Registration
// requires a secure origin.
func (c *ClientController) RegisterIfNeeded(ctx context.Context) error {
	c.mu.Lock()
	if c.client != nil {
		c.mu.Unlock()
		return nil
	}
	agent := c.cfg.Agent()
	if agent == "" {
		c.mu.Unlock()
		return nil
	}

	if !secureOrigin(c.origin) {
		err := &PolicyError{msg: "Browser calling requires HTTPS."}
		c.lastErr = err
		c.mu.Unlock()
		return err
	}

	base := c.cfg.APIBase()
	if base == "" {
		err := validationErrorf("Set API Base URL first.")
		c.lastErr = err
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	token, err := c.backend.Token(ctx, base, agent)
	if err != nil {
		return c.fail(transportError(err))
	}
	if ok, inspectErr := inspectToken(token, agent); inspectErr != nil {
		return c.fail(inspectErr)
	} else if !ok {
		c.logger.Debug("voice token is not a parseable access token, proceeding")
	}

	client, err := c.factory(token)
	if err != nil {
		return c.fail(err)
	}

	client.On(EventRegistered, func(Event) {
		c.mu.Lock()
		c.ready = true
		c.mu.Unlock()
		c.logger.Info("voice client registered", zap.String("agent", agent))
	})
	client.On(EventError, func(ev Event) {
		c.mu.Lock()
		c.lastErr = ev.Err
		c.mu.Unlock()
		c.logger.Warn("voice client error", zap.Error(ev.Err))
	})
	client.On(EventDisconnect, func(Event) {
		c.endActiveCall()
	})
	client.On(EventTokenWillExpire, func(Event) {
		go c.refreshToken()
	})

	if err := client.Register(ctx); err != nil {
		return c.fail(transportError(err))
	}

	c.mu.Lock()
	c.client = client
	c.agent = agent
	c.mu.Unlock()
	return nil
}

// StartCall places a browser call to the given number using from as the
// caller ID, and appends its history entry. The returned error is
// ErrClientNotReady until registration has completed.
func (c *ClientController) StartCall(ctx context.Context, to, from string) error {
	c.mu.Lock()
	if c.client == nil || !c.ready {
		c.lastErr = ErrClientNotReady
		c.mu.Unlock()
		return ErrClientNotReady
	}
	if !model.ValidE164(to) {
		err := validationErrorf("Enter a valid E.164 number.")
		c.lastErr = err
		c.mu.Unlock()
		return err
	}
	c.lastErr = nil
	client := c.client
	c.mu.Unlock()

	call, err := client.Connect(ctx, CallParams{To: to, From: from})
	if err != nil {
		return c.fail(transportError(err))
	}

	c.mu.Lock()
	now := c.clock.Now()
	sid := model.NewClientSID(now)
	// A prior session loses its tracking; its ledger entry keeps whatever
	// status it last had.
	if c.sess != nil {
		c.sess.abandon()
	}
	sess := &session{sid: sid, status: model.CallInProgress, startedAt: now}
	c.sess = sess
	c.activeCall = call
	c.muted = false
	c.ledger.Append(model.HistoryEntry{
		SID:       sid,
		To:        to,
		From:      from,
		Agent:     model.AgentOrPlaceholder(c.cfg.Agent()),
		Message:   model.BrowserCallMessage,
		StartedAt: now,
		Status:    model.CallInProgress,
	})
	c.mu.Unlock()
	c.logger.Info("browser call started", zap.String("sid", sid), zap.String("to", to))

	call.On(EventDisconnect, func(Event) {
		c.endCall(call, sess)
	})
	call.On(EventMute, func(ev Event) {
		c.mu.Lock()
		if c.activeCall == call {
			c.muted = ev.Muted
		}
		c.mu.Unlock()
	})
	return nil
}

// HangUp disconnects the active browser call. The session closes when
// the transport reports the disconnect. No-op without an active call.
func (c *ClientController) HangUp(ctx context.Context) error {
	c.mu.Lock()
	call := c.activeCall
	c.mu.Unlock()
	if call == nil {
		return nil
	}
	call.Disconnect()
	return nil
}

// ToggleMute flips the mute state of the active call. The local state is
// set optimistically; the transport's mute event remains the source of
// truth. No-op without an active call.
func (c *ClientController) ToggleMute() {
	c.mu.Lock()
	call := c.activeCall
	next := !c.muted
	if call != nil {
		c.muted = next
	}
	c.mu.Unlock()
	if call == nil {
		return
	}
	if err := call.Mute(next); err != nil {
		c.logger.Warn("mute failed", zap.Error(err))
	}
}

// Unregister tears down the voice client, ending any active call first.
func (c *ClientController) Unregister() error {
	c.mu.Lock()
	call := c.activeCall
	client := c.client
	c.client = nil
	c.ready = false
	c.mu.Unlock()

	if call != nil {
		call.Disconnect()
	}
	if client == nil {
		return nil
	}
	return client.Unregister()
}

// Reset clears the session tracking and the last error. An active call
// is disconnected first; its entry closes through the disconnect event.
// The registered client stays up. Idempotent.
func (c *ClientController) Reset() {
	c.mu.Lock()
	call := c.activeCall
	c.mu.Unlock()
	if call != nil {
		call.Disconnect()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		c.sess.abandon()
	}
	c.sess = nil
	c.lastErr = nil
}

// Ready reports whether the voice client has registered.
func (c *ClientController) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Muted reports the current mute state.
func (c *ClientController) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// ActiveCall reports whether a browser call is live.
func (c *ClientController) ActiveCall() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeCall != nil
}

// SID returns the synthetic session id of the most recent browser call,
// or empty when none was placed.
func (c *ClientController) SID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.sid
}

// Status returns the status of the most recent browser call.
func (c *ClientController) Status() model.CallStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.status
}

// Err returns the most recent error. Cleared when a new call attempt
// passes validation.
func (c *ClientController) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// endActiveCall closes the live session as completed. Safe to call more
// than once; the transport may report a disconnect at both the call and
// the client level.
func (c *ClientController) endActiveCall() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeCall = nil
	c.muted = false
	if c.sess != nil {
		c.sess.close(c.ledger, model.CallCompleted, c.clock.Now())
	}
}

// endCall closes one specific call's session. A disconnect from a call
// whose session was abandoned leaves the ledger entry untouched.
func (c *ClientController) endCall(call VoiceCall, sess *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeCall == call {
		c.activeCall = nil
		c.muted = false
	}
	sess.close(c.ledger, model.CallCompleted, c.clock.Now())
}

// refreshToken fetches a fresh access token and rotates it into the
// client. Failures are logged; the client keeps its current token and
// the transport decides what happens at expiry.
func (c *ClientController) refreshToken() {
	c.mu.Lock()
	agent := c.agent
	c.mu.Unlock()
	if agent == "" {
		return
	}

	base := c.cfg.APIBase()
	token, err := c.backend.Token(context.Background(), base, agent)
	if err != nil {
		c.logger.Warn("refreshing voice token failed", zap.Error(err))
		return
	}

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return
	}
	if err := client.UpdateToken(token); err != nil {
		c.logger.Warn("rotating voice token failed", zap.Error(err))
	}
}

func (c *ClientController) fail(err error) error {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	return err
}

// secureOrigin reports whether origin may host a voice client: HTTPS
// anywhere, or HTTP on a loopback host.
func secureOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme == "https" {
		return true
	}
	if u.Scheme != "http" {
		return false
	}
	host := u.Hostname()
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
