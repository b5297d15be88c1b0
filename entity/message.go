package entity

import (
	"time"
)

// DeliveryState tracks how far an outbound message got.
type DeliveryState string

const (
	// DeliveryPending is the state of an optimistic local insert that the
	// server has not acknowledged yet.
	DeliveryPending DeliveryState = "pending"
	// DeliveryConfirmed means the server accepted the message and assigned
	// its stable identity.
	DeliveryConfirmed DeliveryState = "confirmed"
	// DeliveryFailed marks a message the server never acknowledged. Failed
	// messages stay in the log so the UI can offer a retry.
	DeliveryFailed DeliveryState = "failed"
)

// Origin identifies who produced a message.
type Origin string

const (
	OriginSelf  Origin = "self"
	OriginPeer  Origin = "peer"
	OriginAgent Origin = "agent" // automated agent attached to the conversation
)

// Message is a conversation-scoped unit of chat content.
//
// ID is the stable identity assigned by the server and is empty while the
// message is pending. LocalID is a client-generated correlation token used
// only to match a pending entry against its later confirmation; it carries no
// meaning once the message is confirmed.
type Message struct {
	ID             string        `json:"id,omitempty" bson:"_id,omitempty"`
	LocalID        string        `json:"local_id,omitempty" bson:"local_id,omitempty"`
	ConversationID string        `json:"conversation_id" bson:"conversation_id"`
	SenderID       string        `json:"sender_id" bson:"sender_id"`
	Text           string        `json:"text" bson:"text"`
	Attachment     *Attachment   `json:"attachment,omitempty" bson:"attachment,omitempty"`
	Origin         Origin        `json:"origin" bson:"origin"`
	State          DeliveryState `json:"state" bson:"state"`
	CreatedAt      time.Time     `json:"created_at" bson:"created_at"`
}

// Preview returns a short body suitable for a notification line.
func (m Message) Preview() string {
	if m.Text != "" {
		return m.Text
	}
	if m.Attachment != nil {
		return m.Attachment.Filename
	}
	return ""
}
