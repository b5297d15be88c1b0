package notify

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"ChatCore/entity"
)

type fakePresenter struct {
	mu        sync.Mutex
	presented []string // groupKey per Present call
	cancelled []string
	badges    []int
	titles    map[string]string // groupKey -> last title
}

func (p *fakePresenter) Present(title, _, groupKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.titles == nil {
		p.titles = make(map[string]string)
	}
	p.presented = append(p.presented, groupKey)
	p.titles[groupKey] = title
	return nil
}

func (p *fakePresenter) Cancel(groupKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, groupKey)
	return nil
}

func (p *fakePresenter) BadgeCount(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.badges = append(p.badges, n)
	return nil
}

func (p *fakePresenter) presentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.presented)
}

func (p *fakePresenter) lastBadge() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.badges) == 0 {
		return -1
	}
	return p.badges[len(p.badges)-1]
}

func newTestCoordinator() (*Coordinator, *fakePresenter) {
	p := &fakePresenter{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCoordinator("u-1", p, log), p
}

func peerMessage(convID, text string) entity.Message {
	return entity.Message{
		ID:             "m-" + convID + "-" + text,
		ConversationID: convID,
		SenderID:       "u-2",
		Text:           text,
		Origin:         entity.OriginPeer,
	}
}

func TestNotifySuppressedForOwnMessages(t *testing.T) {
	c, p := newTestCoordinator()

	c.NotifyIncoming(entity.Message{ConversationID: "conv-a", SenderID: "u-1", Origin: entity.OriginSelf}, nil)
	c.NotifyIncoming(entity.Message{ConversationID: "conv-a", SenderID: "u-1", Origin: entity.OriginPeer}, nil)

	if c.TotalUnread() != 0 {
		t.Errorf("own messages counted as unread: %d", c.TotalUnread())
	}
	if p.presentCount() != 0 {
		t.Errorf("own messages presented: %d", p.presentCount())
	}
}

func TestNotifySuppressedForViewedConversation(t *testing.T) {
	c, p := newTestCoordinator()
	c.SetViewed("conv-a")

	c.NotifyIncoming(peerMessage("conv-a", "hi"), nil)

	if c.UnreadCount("conv-a") != 0 {
		t.Errorf("viewed conversation accumulated unread: %d", c.UnreadCount("conv-a"))
	}
	if p.presentCount() != 0 {
		t.Error("viewed conversation raised a notification")
	}
}

func TestNotifyCountsAndBadge(t *testing.T) {
	c, p := newTestCoordinator()
	c.SetViewed("conv-a")

	c.NotifyIncoming(peerMessage("conv-b", "one"), nil)
	c.NotifyIncoming(peerMessage("conv-b", "two"), nil)
	c.NotifyIncoming(peerMessage("conv-c", "three"), nil)

	if got := c.UnreadCount("conv-b"); got != 2 {
		t.Errorf("conv-b unread = %d, want 2", got)
	}
	if got := c.UnreadCount("conv-c"); got != 1 {
		t.Errorf("conv-c unread = %d, want 1", got)
	}
	if got := c.TotalUnread(); got != 3 {
		t.Errorf("total = %d, want 3", got)
	}
	if got := p.lastBadge(); got != 3 {
		t.Errorf("badge = %d, want 3", got)
	}
}

func TestNotifyGroupsByConversation(t *testing.T) {
	c, p := newTestCoordinator()

	conv := &entity.Conversation{ID: "conv-b", Name: "beta"}
	c.NotifyIncoming(peerMessage("conv-b", "one"), conv)
	c.NotifyIncoming(peerMessage("conv-b", "two"), conv)

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, key := range p.presented {
		if key != "conv-b" {
			t.Errorf("group key = %q, want conv-b", key)
		}
	}
	if p.titles["conv-b"] != "beta" {
		t.Errorf("title = %q, want beta", p.titles["conv-b"])
	}
}

func TestNotifyTitleFallsBackToID(t *testing.T) {
	c, p := newTestCoordinator()

	c.NotifyIncoming(peerMessage("conv-b", "one"), nil)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.titles["conv-b"] != "conv-b" {
		t.Errorf("title = %q, want conv-b", p.titles["conv-b"])
	}
}

func TestSetViewedZeroesAndCancels(t *testing.T) {
	c, p := newTestCoordinator()
	c.NotifyIncoming(peerMessage("conv-b", "one"), nil)
	c.NotifyIncoming(peerMessage("conv-c", "two"), nil)

	c.SetViewed("conv-b")

	if got := c.UnreadCount("conv-b"); got != 0 {
		t.Errorf("conv-b unread = %d, want 0 after viewing", got)
	}
	if got := c.TotalUnread(); got != 1 {
		t.Errorf("total = %d, want 1", got)
	}
	if got := c.Viewed(); got != "conv-b" {
		t.Errorf("viewed = %q, want conv-b", got)
	}

	p.mu.Lock()
	cancelled := append([]string(nil), p.cancelled...)
	p.mu.Unlock()
	if len(cancelled) != 1 || cancelled[0] != "conv-b" {
		t.Errorf("cancelled = %v, want [conv-b]", cancelled)
	}
	if got := p.lastBadge(); got != 1 {
		t.Errorf("badge = %d, want 1", got)
	}
}

func TestNilPresenterIsSafe(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewCoordinator("u-1", nil, log)

	c.NotifyIncoming(peerMessage("conv-b", "one"), nil)
	c.SetViewed("conv-b")

	if got := c.TotalUnread(); got != 0 {
		t.Errorf("total = %d, want 0", got)
	}
}
