package dialer

import "context"

// EventKind enumerates the lifecycle events a voice client or call emits.
type EventKind string

const (
	EventRegistered      EventKind = "registered"
	EventError           EventKind = "error"
	EventDisconnect      EventKind = "disconnect"
	EventMute            EventKind = "mute"
	EventTokenWillExpire EventKind = "tokenWillExpire"
)

// Event carries the payload of a voice lifecycle event. Err is set for
// EventError, Muted for EventMute; both are zero otherwise.
type Event struct {
	Kind  EventKind
	Err   error
	Muted bool
}

// CallParams are the connect parameters for an outgoing browser call.
type CallParams struct {
	To   string
	From string
}

// VoiceClient is the real-time calling capability. The concrete transport
// is swappable; the controller only depends on registration, call
// origination, token rotation and the event surface.
type VoiceClient interface {
	// On registers a handler for a client-level event. Handlers may be
	// registered before Register is called.
	On(kind EventKind, handler func(Event))
	// Register connects the client so it can place calls. EventRegistered
	// fires when the client is ready.
	Register(ctx context.Context) error
	// Connect places an outgoing call.
	Connect(ctx context.Context, params CallParams) (VoiceCall, error)
	// UpdateToken swaps the access token in place without interrupting an
	// active call.
	UpdateToken(token string) error
	// Unregister tears the client down.
	Unregister() error
}

// VoiceCall is one live call placed through a VoiceClient.
type VoiceCall interface {
	On(kind EventKind, handler func(Event))
	Mute(muted bool) error
	Disconnect()
}

// VoiceClientFactory constructs a voice client from a backend-issued
// access token.
type VoiceClientFactory func(token string) (VoiceClient, error)
