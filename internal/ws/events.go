package ws

import (
	"encoding/json"
	"fmt"

	"ChatCore/entity"
)

// ErrUnknownEvent is returned by Decode for envelope types this client does
// not understand. The offending frame is dropped, not the connection.
var ErrUnknownEvent = fmt.Errorf("unknown event type")

// envelope is the wire frame: a type discriminator plus a payload.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event is a decoded inbound frame.
type Event interface {
	eventType() string
}

// NewMessage carries a server-pushed chat message.
type NewMessage struct {
	Message entity.Message
}

// MessageSent confirms a previously transmitted message. LocalID echoes the
// correlation token the client attached to the send, when the peer supports
// it.
type MessageSent struct {
	LocalID string         `json:"local_id"`
	Message entity.Message `json:"message"`
}

// History is a bulk push of a conversation's message log. Raw keeps the
// undecoded payload so reconciliation can scan for correlation tokens carried
// in metadata the parsed form does not surface.
type History struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []entity.Message `json:"messages"`
	Raw            json.RawMessage  `json:"-"`
}

// GroupUpdate announces a membership or metadata change on a conversation.
type GroupUpdate struct {
	Conversation entity.Conversation
}

// Ping is a liveness probe. Inbound pings are answered by the manager and
// never reach the event handler.
type Ping struct{}

// Pong is a liveness acknowledgment.
type Pong struct{}

func (NewMessage) eventType() string  { return "new_message" }
func (MessageSent) eventType() string { return "message_sent" }
func (History) eventType() string     { return "conversation_history" }
func (GroupUpdate) eventType() string { return "group_update" }
func (Ping) eventType() string        { return "ping" }
func (Pong) eventType() string        { return "pong" }

// Decode parses a wire frame into a typed event. Unknown or malformed frames
// are rejected here, before any state is touched.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case "new_message":
		var msg entity.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, fmt.Errorf("decode new_message: %w", err)
		}
		return NewMessage{Message: msg}, nil

	case "message_sent":
		var ev MessageSent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode message_sent: %w", err)
		}
		return ev, nil

	case "conversation_history":
		var ev History
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode conversation_history: %w", err)
		}
		ev.Raw = append(json.RawMessage(nil), env.Data...)
		return ev, nil

	case "group_update":
		var conv entity.Conversation
		if err := json.Unmarshal(env.Data, &conv); err != nil {
			return nil, fmt.Errorf("decode group_update: %w", err)
		}
		return GroupUpdate{Conversation: conv}, nil

	case "ping":
		return Ping{}, nil

	case "pong":
		return Pong{}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

// Outbound is a frame the client produces.
type Outbound interface {
	outboundType() string
}

// SendMessage transmits a text message. LocalID is the correlation token used
// to reconcile the eventual confirmation with the optimistic local entry.
type SendMessage struct {
	ConversationID string `json:"conversation_id"`
	LocalID        string `json:"local_id"`
	Text           string `json:"text"`
}

// SendImage transmits an attachment reference.
type SendImage struct {
	ConversationID string            `json:"conversation_id"`
	LocalID        string            `json:"local_id"`
	Attachment     entity.Attachment `json:"attachment"`
}

// JoinConversation subscribes the session to a conversation's events.
type JoinConversation struct {
	ConversationID string `json:"conversation_id"`
}

func (SendMessage) outboundType() string      { return "send_message" }
func (SendImage) outboundType() string        { return "send_image" }
func (JoinConversation) outboundType() string { return "join_conversation" }
func (Ping) outboundType() string             { return "ping" }
func (Pong) outboundType() string             { return "pong" }

// Encode wraps an outbound event into a wire frame.
func Encode(out Outbound) ([]byte, error) {
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", out.outboundType(), err)
	}
	return json.Marshal(envelope{Type: out.outboundType(), Data: data})
}
