package gateway

import (
	"encoding/json"
	"fmt"
	"time"
)

type Opcode int

const (
	OpDispatch       Opcode = 0
	OpHeartbeat      Opcode = 1
	OpIdentify       Opcode = 2
	OpReconnect      Opcode = 7
	OpInvalidSession Opcode = 9
	OpHello          Opcode = 10
	OpHeartbeatAck   Opcode = 11
)

const (
	EventMessageCreate = "MESSAGE_CREATE"
	EventMessageUpdate = "MESSAGE_UPDATE"
)

// MessageTypeReply is the message type of a reply to another message.
const MessageTypeReply = 19

// Envelope is the gateway wire frame.
type Envelope struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

func NewEnvelope(op Opcode, d any) (Envelope, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %d payload: %w", op, err)
	}
	return Envelope{Op: op, D: raw}, nil
}

// Event is a decoded inbound frame. Name is the dispatch tag, empty for
// non-dispatch frames.
type Event interface {
	Name() string
}

type HelloEvent struct {
	HeartbeatInterval time.Duration
}

func (HelloEvent) Name() string { return "" }

type HeartbeatAckEvent struct{}

func (HeartbeatAckEvent) Name() string { return "" }

type ReconnectEvent struct{}

func (ReconnectEvent) Name() string { return "" }

type InvalidSessionEvent struct {
	Resumable bool
}

func (InvalidSessionEvent) Name() string { return "" }

// MessageEvent carries MESSAGE_CREATE and MESSAGE_UPDATE dispatches.
type MessageEvent struct {
	Tag     string
	Seq     int64
	Message Message
}

func (e MessageEvent) Name() string { return e.Tag }

// UnknownEvent keeps frames the session does not interpret.
type UnknownEvent struct {
	Envelope Envelope
}

func (e UnknownEvent) Name() string { return e.Envelope.T }

type Message struct {
	ID               string            `json:"id"`
	Nonce            string            `json:"nonce,omitempty"`
	Type             int               `json:"type"`
	ChannelID        string            `json:"channel_id"`
	Content          string            `json:"content"`
	Attachments      []Attachment      `json:"attachments,omitempty"`
	Components       []Component       `json:"components,omitempty"`
	MessageReference *MessageReference `json:"message_reference,omitempty"`
}

type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
	ProxyURL string `json:"proxy_url,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// Component is a message component. Action rows nest their buttons in
// Components.
type Component struct {
	Type       int         `json:"type"`
	CustomID   string      `json:"custom_id,omitempty"`
	Label      string      `json:"label,omitempty"`
	Components []Component `json:"components,omitempty"`
}

type MessageReference struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id,omitempty"`
	GuildID   string `json:"guild_id,omitempty"`
}

// ReferencedID returns the id of the message m replies to, or "".
func (m Message) ReferencedID() string {
	if m.MessageReference == nil {
		return ""
	}
	return m.MessageReference.MessageID
}

// Buttons flattens the component tree into its leaf components.
func (m Message) Buttons() []Component {
	var out []Component
	var walk func([]Component)
	walk = func(cs []Component) {
		for _, c := range cs {
			if len(c.Components) > 0 {
				walk(c.Components)
				continue
			}
			if c.CustomID != "" {
				out = append(out, c)
			}
		}
	}
	walk(m.Components)
	return out
}

type helloPayload struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// Decode parses a raw frame. A frame that is not valid JSON is an error; a
// dispatch whose payload cannot be interpreted becomes an UnknownEvent.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Op {
	case OpHello:
		var hello helloPayload
		if err := json.Unmarshal(env.D, &hello); err != nil {
			return UnknownEvent{Envelope: env}, nil
		}
		return HelloEvent{HeartbeatInterval: time.Duration(hello.HeartbeatInterval) * time.Millisecond}, nil
	case OpHeartbeatAck:
		return HeartbeatAckEvent{}, nil
	case OpReconnect:
		return ReconnectEvent{}, nil
	case OpInvalidSession:
		var resumable bool
		_ = json.Unmarshal(env.D, &resumable)
		return InvalidSessionEvent{Resumable: resumable}, nil
	case OpDispatch:
		if env.T != EventMessageCreate && env.T != EventMessageUpdate {
			return UnknownEvent{Envelope: env}, nil
		}
		var msg Message
		if err := json.Unmarshal(env.D, &msg); err != nil {
			return UnknownEvent{Envelope: env}, nil
		}
		event := MessageEvent{Tag: env.T, Message: msg}
		if env.S != nil {
			event.Seq = *env.S
		}
		return event, nil
	default:
		return UnknownEvent{Envelope: env}, nil
	}
}

func messageOf(e Event) (Message, bool) {
	me, ok := e.(MessageEvent)
	if !ok {
		return Message{}, false
	}
	return me.Message, true
}
