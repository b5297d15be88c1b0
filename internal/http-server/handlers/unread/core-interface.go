package unread

// Core is what the unread handlers need from the facade.
type Core interface {
	UnreadCount(conversationID string) int
	TotalUnread() int
	ViewedConversation() string
}
