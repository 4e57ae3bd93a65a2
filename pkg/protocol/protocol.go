// Package protocol defines the wire format spoken between the realtime hub and
// its peers: connect parameters, outbound envelopes, backend relay frames and
// close codes. It is importable by the task API so both sides share one
// definition of the relay frame.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// ChannelKind selects the sub-protocol a connection speaks.
type ChannelKind string

const (
	ChannelNotification ChannelKind = "notification"
	ChannelChatroom     ChannelKind = "chatroom"
	ChannelBackend      ChannelKind = "backend"
)

// Query parameter names on the upgrade request.
const (
	ParamChannel  = "channel"
	ParamSession  = "session"
	ParamChatroom = "chatroom"
)

// Close codes in the application range. Collaborator failures use the
// standard 1011 (internal error) instead.
const (
	CodeInvalidParams   = 4001
	CodeAuthFailed      = 4002
	CodeForbidden       = 4003
	CodeInvalidRelayKey = 4004

	// CodeSlowConsumer is the standard 1013 (try again later), sent when a
	// peer falls too far behind and is dropped.
	CodeSlowConsumer = 1013
)

// Close reasons sent alongside the codes. The relay key refusal deliberately
// has none.
const (
	ReasonInvalidParams = "session key, chatroom, and channel are required."
	ReasonAuthFailed    = "Invalid session key."
	ReasonForbidden     = "Forbidden."
	ReasonSlowConsumer  = "Too many pending messages."
)

var (
	// ErrInvalidParams is returned when the connect parameters do not form a
	// valid combination for the requested channel.
	ErrInvalidParams = errors.New("invalid connect parameters")

	// ErrInvalidRelayFrame is returned when a backend relay frame cannot be parsed.
	ErrInvalidRelayFrame = errors.New("invalid relay frame")
)

// ConnectParams holds the parsed query parameters of an upgrade request.
type ConnectParams struct {
	Channel ChannelKind
	// Session is the user session token, or the relay credential for the
	// backend channel.
	Session string
	// Chatroom is the room (workspace) identifier; only set for chatroom.
	Chatroom string
}

// ParseConnectParams extracts and validates the connect parameters. A session
// is required for every channel, and a chatroom name is required when
// channel=chatroom.
func ParseConnectParams(q url.Values) (*ConnectParams, error) {
	p := &ConnectParams{
		Channel:  ChannelKind(q.Get(ParamChannel)),
		Session:  q.Get(ParamSession),
		Chatroom: q.Get(ParamChatroom),
	}

	if p.Session == "" {
		return nil, fmt.Errorf("%w: session is required", ErrInvalidParams)
	}

	switch p.Channel {
	case ChannelNotification, ChannelBackend:
		p.Chatroom = ""
	case ChannelChatroom:
		if p.Chatroom == "" {
			return nil, fmt.Errorf("%w: chatroom is required", ErrInvalidParams)
		}
	case "":
		return nil, fmt.Errorf("%w: channel is required", ErrInvalidParams)
	default:
		return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidParams, p.Channel)
	}

	return p, nil
}

// Query encodes the parameters back into upgrade query values.
func (p *ConnectParams) Query() url.Values {
	q := url.Values{}
	q.Set(ParamChannel, string(p.Channel))
	q.Set(ParamSession, p.Session)
	if p.Chatroom != "" {
		q.Set(ParamChatroom, p.Chatroom)
	}
	return q
}

// EnvelopeType tags an outbound envelope.
type EnvelopeType string

const (
	EnvelopeWelcome EnvelopeType = "welcome"
	EnvelopeSystem  EnvelopeType = "system"
	EnvelopeMessage EnvelopeType = "message"
)

// Envelope is the JSON message sent to peers. Username is only present on
// message envelopes.
type Envelope struct {
	Type     EnvelopeType `json:"type"`
	Message  string       `json:"message"`
	Username string       `json:"username,omitempty"`
}

// Welcome builds the envelope sent to a member that just joined a room.
func Welcome(room, name string) Envelope {
	return Envelope{
		Type:    EnvelopeWelcome,
		Message: fmt.Sprintf("Welcome to chatroom %s, %s!", room, name),
	}
}

// Joined builds the system envelope announcing a new room member.
func Joined(name string) Envelope {
	return System(name + " has joined the chatroom.")
}

// Left builds the system envelope announcing a departed room member.
func Left(name string) Envelope {
	return System(name + " has left the chatroom.")
}

// System builds a system envelope.
func System(message string) Envelope {
	return Envelope{Type: EnvelopeSystem, Message: message}
}

// ChatMessage builds the envelope carrying a member's raw chat payload.
func ChatMessage(username, message string) Envelope {
	return Envelope{
		Type:     EnvelopeMessage,
		Username: username,
		Message:  message,
	}
}

// RelayFrame is the frame sent by the task API on the backend channel.
// Message is either a full envelope object, forwarded verbatim, or a string
// that is wrapped into a system envelope.
type RelayFrame struct {
	UserID  string          `json:"userId"`
	Message json.RawMessage `json:"message"`
}

// NewRelayFrame builds a relay frame for userID. message may be an Envelope,
// any JSON-marshalable object, or a plain string.
func NewRelayFrame(userID string, message any) (*RelayFrame, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidRelayFrame)
	}
	raw, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("marshal relay message: %w", err)
	}
	f := &RelayFrame{UserID: userID, Message: raw}
	if _, err := f.Payload(); err != nil {
		return nil, err
	}
	return f, nil
}

// ParseRelayFrame decodes and validates a relay frame.
func ParseRelayFrame(data []byte) (*RelayFrame, error) {
	var f RelayFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRelayFrame, err)
	}
	if f.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidRelayFrame)
	}
	if _, err := f.Payload(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Payload returns the bytes delivered to the target notification connection.
func (f *RelayFrame) Payload() ([]byte, error) {
	msg := bytes.TrimSpace(f.Message)
	if len(msg) == 0 {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidRelayFrame)
	}

	switch msg[0] {
	case '{':
		var buf bytes.Buffer
		if err := json.Compact(&buf, msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRelayFrame, err)
		}
		return buf.Bytes(), nil
	case '"':
		var text string
		if err := json.Unmarshal(msg, &text); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRelayFrame, err)
		}
		return json.Marshal(System(text))
	default:
		return nil, fmt.Errorf("%w: message must be an object or a string", ErrInvalidRelayFrame)
	}
}
