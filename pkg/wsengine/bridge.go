package wsengine

import (
	"encoding/binary"

	"github.com/gbdevw/gowsrt/pkg/actor"
	"github.com/gbdevw/gowsrt/pkg/wsframe"
)

// Tags reserved for websocket originated envelopes. They live in the actor reserved range, so an
// application message can never be mistaken for a websocket event.
const (
	// Complete text message
	TagText actor.Tag = actor.TagExit - 1
	// Complete binary message
	TagBinary actor.Tag = actor.TagExit - 2
	// Connection terminated, payload carries the close code and reason
	TagDisconnect actor.Tag = actor.TagExit - 3
	// Connection opened
	TagConnect actor.Tag = actor.TagExit - 4
)

// Type of a websocket data message.
type MessageType int

const (
	// UTF-8 text message
	TextMessage MessageType = iota + 1
	// Binary message
	BinaryMessage
)

func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return "unknown"
	}
}

func (t MessageType) opcode() wsframe.Opcode {
	if t == TextMessage {
		return wsframe.OpText
	}
	return wsframe.OpBinary
}

// A complete websocket data message.
type Message struct {
	// Message type
	Type MessageType
	// Message payload, reassembled from all its fragments
	Data []byte
}

// Kind of websocket event carried through the actor mailbox.
type EventKind int

const (
	EventConnect EventKind = iota + 1
	EventMessage
	EventDisconnect
)

// Websocket event decoded from an envelope.
type Event struct {
	// Event kind
	Kind EventKind
	// Message, set for EventMessage
	Message Message
	// Close code, set for EventDisconnect
	Code wsframe.CloseCode
	// Close reason, set for EventDisconnect
	Reason string
}

// ToEnvelope assigns the event its reserved tag.
func ToEnvelope(event Event) actor.Envelope {
	switch event.Kind {
	case EventConnect:
		return actor.Envelope{Tag: TagConnect}
	case EventDisconnect:
		payload := make([]byte, 2+len(event.Reason))
		binary.BigEndian.PutUint16(payload, uint16(event.Code))
		copy(payload[2:], event.Reason)
		return actor.Envelope{Tag: TagDisconnect, Payload: payload}
	default:
		if event.Message.Type == TextMessage {
			return actor.Envelope{Tag: TagText, Payload: event.Message.Data}
		}
		return actor.Envelope{Tag: TagBinary, Payload: event.Message.Data}
	}
}

// FromEnvelope decodes a websocket event. It returns false for envelopes which do not carry a
// websocket tag.
func FromEnvelope(env actor.Envelope) (Event, bool) {
	switch env.Tag {
	case TagConnect:
		return Event{Kind: EventConnect}, true
	case TagText:
		return Event{Kind: EventMessage, Message: Message{Type: TextMessage, Data: env.Payload}}, true
	case TagBinary:
		return Event{Kind: EventMessage, Message: Message{Type: BinaryMessage, Data: env.Payload}}, true
	case TagDisconnect:
		event := Event{Kind: EventDisconnect, Code: wsframe.CloseAbnormalClosure}
		if len(env.Payload) >= 2 {
			event.Code = wsframe.CloseCode(binary.BigEndian.Uint16(env.Payload))
			event.Reason = string(env.Payload[2:])
		}
		return event, true
	default:
		return Event{}, false
	}
}
