package chat

import (
	"context"

	"ChatCore/entity"
)

// Core is what the chat handlers need from the facade.
type Core interface {
	SendText(ctx context.Context, text string) (entity.Message, error)
	SendImage(ctx context.Context, att entity.Attachment) (entity.Message, error)
	RetryMessage(ctx context.Context, localID string) error
	SelectConversation(ctx context.Context, id string) error
	Messages(conversationID string) []entity.Message
}
