package dialer

import (
	"context"
	"sync"
)

// MockVoiceClient is a test double for the voice capability. It records
// calls, fires lifecycle events synchronously, and lets tests emit device
// events directly.
type MockVoiceClient struct {
	mu       sync.Mutex
	token    string
	handlers map[EventKind][]func(Event)

	Registered   bool
	Unregistered bool
	RegisterErr  error
	ConnectErr   error
	Calls        []*MockVoiceCall
}

// NewMockVoiceClient creates a mock client holding the given token.
func NewMockVoiceClient(token string) *MockVoiceClient {
	return &MockVoiceClient{
		token:    token,
		handlers: make(map[EventKind][]func(Event)),
	}
}

func (m *MockVoiceClient) On(kind EventKind, handler func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[kind] = append(m.handlers[kind], handler)
}

// Register marks the client registered and fires EventRegistered.
func (m *MockVoiceClient) Register(ctx context.Context) error {
	m.mu.Lock()
	if m.RegisterErr != nil {
		err := m.RegisterErr
		m.mu.Unlock()
		return err
	}
	m.Registered = true
	m.mu.Unlock()

	m.Emit(EventRegistered, Event{Kind: EventRegistered})
	return nil
}

// Connect returns a new mock call unless ConnectErr is set.
func (m *MockVoiceClient) Connect(ctx context.Context, params CallParams) (VoiceCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConnectErr != nil {
		return nil, m.ConnectErr
	}
	call := &MockVoiceCall{
		Params:   params,
		handlers: make(map[EventKind][]func(Event)),
	}
	m.Calls = append(m.Calls, call)
	return call, nil
}

func (m *MockVoiceClient) UpdateToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *MockVoiceClient) Unregister() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Unregistered = true
	m.Registered = false
	return nil
}

// Token returns the token the client currently holds.
func (m *MockVoiceClient) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Emit fires a client-level event to all registered handlers.
func (m *MockVoiceClient) Emit(kind EventKind, ev Event) {
	m.mu.Lock()
	handlers := append([]func(Event){}, m.handlers[kind]...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// MockVoiceCall is one call placed through a MockVoiceClient.
type MockVoiceCall struct {
	mu       sync.Mutex
	handlers map[EventKind][]func(Event)

	Params       CallParams
	MutedState   bool
	Disconnected bool
}

func (c *MockVoiceCall) On(kind EventKind, handler func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = append(c.handlers[kind], handler)
}

// Mute records the state and fires EventMute, mirroring transports where
// the event, not the call, is the source of truth.
func (c *MockVoiceCall) Mute(muted bool) error {
	c.mu.Lock()
	c.MutedState = muted
	c.mu.Unlock()

	c.Emit(EventMute, Event{Kind: EventMute, Muted: muted})
	return nil
}

// Disconnect ends the call and fires EventDisconnect once.
func (c *MockVoiceCall) Disconnect() {
	c.mu.Lock()
	if c.Disconnected {
		c.mu.Unlock()
		return
	}
	c.Disconnected = true
	c.mu.Unlock()

	c.Emit(EventDisconnect, Event{Kind: EventDisconnect})
}

// Emit fires a call-level event to all registered handlers.
func (c *MockVoiceCall) Emit(kind EventKind, ev Event) {
	c.mu.Lock()
	handlers := append([]func(Event){}, c.handlers[kind]...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}
