package conversation

import (
	"context"

	"ChatCore/entity"
)

// Core is what the conversation handlers need from the facade.
type Core interface {
	Conversations() []entity.Conversation
	CreateConversation(ctx context.Context, name string, participants []string, withAgent bool) (*entity.Conversation, error)
}
