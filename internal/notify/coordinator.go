package notify

import (
	"log/slog"
	"sync"

	"ChatCore/entity"
	"ChatCore/internal/lib/sl"
)

// Presenter is the external notification delivery surface. Notifications are
// grouped by conversation so repeated messages from one conversation update
// in place instead of stacking.
type Presenter interface {
	Present(title, body, groupKey string) error
	Cancel(groupKey string) error
	BadgeCount(n int) error
}

// Coordinator owns the unread ledger and the single "currently viewed"
// conversation pointer. Both are updated atomically with respect to any one
// incoming event; no intermediate state is observable by a concurrent caller.
// One instance per session, constructor-injected, never process-global.
type Coordinator struct {
	presenter Presenter
	selfID    string
	log       *slog.Logger

	mu     sync.Mutex
	unread map[string]int
	viewed string
}

func NewCoordinator(selfID string, presenter Presenter, log *slog.Logger) *Coordinator {
	return &Coordinator{
		presenter: presenter,
		selfID:    selfID,
		log:       log.With(sl.Module("notify.coordinator")),
		unread:    make(map[string]int),
	}
}

// SetViewed updates the viewed pointer; viewing implies read, so the
// conversation's unread count is zeroed and its pending notification is
// cancelled. Pass "" for none.
func (c *Coordinator) SetViewed(conversationID string) {
	c.mu.Lock()
	c.viewed = conversationID
	if conversationID != "" {
		delete(c.unread, conversationID)
	}
	total := c.totalLocked()
	c.mu.Unlock()

	if c.presenter == nil || conversationID == "" {
		return
	}
	if err := c.presenter.Cancel(conversationID); err != nil {
		c.log.Debug("cancel notification failed", slog.String("conversation", conversationID), sl.Err(err))
	}
	if err := c.presenter.BadgeCount(total); err != nil {
		c.log.Debug("badge update failed", sl.Err(err))
	}
}

// NotifyIncoming decides whether a message surfaces a notification.
// Suppressed for the viewed conversation (already on screen) and for the
// user's own messages (reflected through the confirmation path). conv may be
// nil when metadata is not cached yet.
func (c *Coordinator) NotifyIncoming(msg entity.Message, conv *entity.Conversation) {
	if msg.Origin == entity.OriginSelf || msg.SenderID == c.selfID {
		return
	}

	c.mu.Lock()
	if c.viewed != "" && msg.ConversationID == c.viewed {
		c.mu.Unlock()
		return
	}
	c.unread[msg.ConversationID]++
	total := c.totalLocked()
	c.mu.Unlock()

	if c.presenter == nil {
		return
	}
	title := msg.ConversationID
	if conv != nil {
		title = conv.Title()
	}
	if err := c.presenter.Present(title, msg.Preview(), msg.ConversationID); err != nil {
		c.log.Warn("notification present failed", slog.String("conversation", msg.ConversationID), sl.Err(err))
	}
	if err := c.presenter.BadgeCount(total); err != nil {
		c.log.Debug("badge update failed", sl.Err(err))
	}
}

// UnreadCount returns the unread count for one conversation.
func (c *Coordinator) UnreadCount(conversationID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread[conversationID]
}

// TotalUnread returns the sum over all conversations.
func (c *Coordinator) TotalUnread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalLocked()
}

// Viewed returns the currently viewed conversation id, or "".
func (c *Coordinator) Viewed() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewed
}

func (c *Coordinator) totalLocked() int {
	total := 0
	for _, n := range c.unread {
		total += n
	}
	return total
}
