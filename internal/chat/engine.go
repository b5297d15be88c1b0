package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"ChatCore/entity"
	"ChatCore/internal/lib/sl"
	"ChatCore/internal/ws"

	"github.com/google/uuid"
)

const (
	defaultPendingWindow = 2 * time.Minute
	defaultPageLimit     = 50
	resolveTimeout       = 5 * time.Second
	cacheTimeout         = 3 * time.Second
)

// Sender transmits outbound events over the live connection.
type Sender interface {
	Send(out ws.Outbound) error
}

// HistoryAPI is the REST-style conversation/message history collaborator.
type HistoryAPI interface {
	FetchMessages(ctx context.Context, conversationID string, limit int) ([]entity.Message, error)
	FetchConversation(ctx context.Context, id string) (*entity.Conversation, error)
}

// Notifier decides whether incoming content surfaces a notification and
// tracks unread counts.
type Notifier interface {
	SetViewed(conversationID string)
	NotifyIncoming(msg entity.Message, conv *entity.Conversation)
}

// Cache persists conversations and confirmed messages locally so the chat
// list survives restarts. All cache failures are logged, never surfaced.
type Cache interface {
	SaveConversation(ctx context.Context, conv *entity.Conversation) error
	LoadConversation(ctx context.Context, id string) (*entity.Conversation, error)
	ListConversations(ctx context.Context) ([]entity.Conversation, error)
	SaveMessages(ctx context.Context, conversationID string, msgs []entity.Message) error
	LoadMessages(ctx context.Context, conversationID string, limit int) ([]entity.Message, error)
}

// Conf configures the reconciliation engine.
type Conf struct {
	UserID        string
	PendingWindow time.Duration // recency window for pending entries during history merges
	PageLimit     int
	Clock         func() time.Time
}

func (c *Conf) norm() {
	if c.PendingWindow <= 0 {
		c.PendingWindow = defaultPendingWindow
	}
	if c.PageLimit <= 0 {
		c.PageLimit = defaultPageLimit
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Engine merges optimistic, server-confirmed and server-pushed-history
// messages into one consistent per-conversation log. Every state mutation is
// serialized through one mutex; inbound events additionally arrive on a
// single goroutine, in arrival order.
type Engine struct {
	conf     Conf
	sender   Sender
	api      HistoryAPI
	notifier Notifier
	matcher  Matcher
	cache    Cache
	log      *slog.Logger

	mu          sync.Mutex
	current     string // currently viewed conversation, "" for none
	logs        map[string][]entity.Message
	convs       map[string]entity.Conversation
	historySeen map[string]bool // history push already arrived for this conversation
	listeners   []func(conversationID string)
}

func NewEngine(conf Conf, sender Sender, api HistoryAPI, notifier Notifier, matcher Matcher, log *slog.Logger) *Engine {
	conf.norm()
	return &Engine{
		conf:        conf,
		sender:      sender,
		api:         api,
		notifier:    notifier,
		matcher:     matcher,
		log:         log.With(sl.Module("chat.engine")),
		logs:        make(map[string][]entity.Message),
		convs:       make(map[string]entity.Conversation),
		historySeen: make(map[string]bool),
	}
}

// SetCache attaches the local persistence layer. Optional.
func (e *Engine) SetCache(cache Cache) {
	e.cache = cache
}

// WarmStart hydrates the conversation list from the local store so the chat
// list is populated before the first server round trip.
func (e *Engine) WarmStart(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	convs, err := e.cache.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("list cached conversations: %w", err)
	}
	e.mu.Lock()
	for _, c := range convs {
		if _, ok := e.convs[c.ID]; !ok {
			e.convs[c.ID] = c
		}
	}
	e.mu.Unlock()
	e.log.Debug("warm start", slog.Int("conversations", len(convs)))
	return nil
}

// Subscribe registers a listener invoked (outside the engine lock) whenever a
// conversation's visible log changes.
func (e *Engine) Subscribe(fn func(conversationID string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Current returns the currently viewed conversation id, or "".
func (e *Engine) Current() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Messages returns a copy of the visible log for a conversation, sorted by
// creation time.
func (e *Engine) Messages(conversationID string) []entity.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]entity.Message(nil), e.logs[conversationID]...)
}

// Conversations returns the cached conversation list.
func (e *Engine) Conversations() []entity.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]entity.Conversation, 0, len(e.convs))
	for _, c := range e.convs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Select makes a conversation the viewed one: marks it read, joins it over
// the wire and loads its history through the REST collaborator. The fetch
// result is reconciled through the same idempotent merge as pushed history,
// so a push racing the fetch can never duplicate entries. Passing "" clears
// the selection.
func (e *Engine) Select(ctx context.Context, id string) error {
	if id == "" {
		e.mu.Lock()
		e.current = ""
		e.mu.Unlock()
		e.notifier.SetViewed("")
		return nil
	}

	conv, err := e.resolveConversation(ctx, id)
	if err != nil {
		e.log.Warn("conversation metadata unavailable", slog.String("conversation", id), sl.Err(err))
	}
	if conv != nil && len(conv.Participants) > 0 && !conv.HasParticipant(e.conf.UserID) {
		return fmt.Errorf("select %s: %w", id, ErrNotParticipant)
	}

	e.mu.Lock()
	e.current = id
	e.historySeen[id] = false
	e.mu.Unlock()
	e.notifier.SetViewed(id)

	if err := e.sender.Send(ws.JoinConversation{ConversationID: id}); err != nil {
		// History still loads over REST; the join is retried by reconnect
		// logic upstream.
		e.log.Warn("join not transmitted", slog.String("conversation", id), sl.Err(err))
	}

	msgs, err := e.api.FetchMessages(ctx, id, e.conf.PageLimit)
	if err != nil {
		// Degraded mode: serve the cached log so the conversation still
		// opens while the history API is unreachable.
		if e.cache != nil {
			if cached, cerr := e.cache.LoadMessages(ctx, id, e.conf.PageLimit); cerr == nil && len(cached) > 0 {
				e.log.Warn("history api unavailable, serving cached log",
					slog.String("conversation", id), sl.Err(err))
				if e.mergeHistory(id, cached, nil, false) {
					e.notifyListeners(id)
				}
				return nil
			}
		}
		return fmt.Errorf("fetch history: %w", err)
	}

	e.mu.Lock()
	seen := e.historySeen[id]
	e.mu.Unlock()
	if seen {
		e.log.Debug("history push arrived before fetch returned, reconciling fetch result",
			slog.String("conversation", id))
	}

	if e.mergeHistory(id, msgs, nil, false) {
		e.notifyListeners(id)
	}
	return nil
}

// SendText appends an optimistic pending entry to the viewed conversation and
// transmits it with a fresh correlation token. On transmit failure the
// optimistic entry is rolled back so the UI never shows a message that was
// never sent.
func (e *Engine) SendText(ctx context.Context, text string) (entity.Message, error) {
	return e.send(ctx, text, nil)
}

// SendImage behaves like SendText for an attachment reference.
func (e *Engine) SendImage(ctx context.Context, att entity.Attachment) (entity.Message, error) {
	if att.Size > entity.MaxFileSize {
		return entity.Message{}, entity.FileTooLargeError(att.Filename, att.Size)
	}
	return e.send(ctx, "", &att)
}

func (e *Engine) send(_ context.Context, text string, att *entity.Attachment) (entity.Message, error) {
	e.mu.Lock()
	current := e.current
	if current == "" {
		e.mu.Unlock()
		return entity.Message{}, ErrNoActiveConversation
	}
	msg := entity.Message{
		LocalID:        uuid.NewString(),
		ConversationID: current,
		SenderID:       e.conf.UserID,
		Text:           text,
		Attachment:     att,
		Origin:         entity.OriginSelf,
		State:          entity.DeliveryPending,
		CreatedAt:      e.conf.Clock(),
	}
	e.logs[current] = append(e.logs[current], msg)
	e.mu.Unlock()
	e.notifyListeners(current)

	var err error
	if att != nil {
		err = e.sender.Send(ws.SendImage{ConversationID: current, LocalID: msg.LocalID, Attachment: *att})
	} else {
		err = e.sender.Send(ws.SendMessage{ConversationID: current, LocalID: msg.LocalID, Text: text})
	}
	if err != nil {
		e.removeByLocalID(current, msg.LocalID)
		e.notifyListeners(current)
		return entity.Message{}, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

// Retry re-transmits a failed entry, reusing its correlation token so a late
// confirmation of the original transmit still collapses onto it.
func (e *Engine) Retry(_ context.Context, localID string) error {
	e.mu.Lock()
	convID, idx := "", -1
	for id, lg := range e.logs {
		for i := range lg {
			if lg[i].LocalID == localID {
				convID, idx = id, i
				break
			}
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return errors.New("unknown message")
	}
	msg := e.logs[convID][idx]
	msg.State = entity.DeliveryPending
	msg.CreatedAt = e.conf.Clock()
	e.logs[convID][idx] = msg
	e.mu.Unlock()
	e.notifyListeners(convID)

	var err error
	if msg.Attachment != nil {
		err = e.sender.Send(ws.SendImage{ConversationID: convID, LocalID: msg.LocalID, Attachment: *msg.Attachment})
	} else {
		err = e.sender.Send(ws.SendMessage{ConversationID: convID, LocalID: msg.LocalID, Text: msg.Text})
	}
	if err != nil {
		e.markFailed(convID, localID)
		e.notifyListeners(convID)
		return fmt.Errorf("retry message: %w", err)
	}
	return nil
}

// HandleEvent implements ws.EventHandler. Liveness frames never reach here.
func (e *Engine) HandleEvent(ev ws.Event) {
	switch ev := ev.(type) {
	case ws.NewMessage:
		e.handleIncoming(ev.Message)
	case ws.MessageSent:
		e.handleConfirmation(ev.LocalID, ev.Message)
	case ws.History:
		convID := ev.ConversationID
		if convID == "" && len(ev.Messages) > 0 {
			convID = ev.Messages[0].ConversationID
		}
		if convID == "" {
			e.log.Warn("history push without conversation id, dropping")
			return
		}
		if e.mergeHistory(convID, ev.Messages, ev.Raw, true) {
			e.notifyListeners(convID)
		}
	case ws.GroupUpdate:
		e.handleGroupUpdate(ev.Conversation)
	}
}

// handleIncoming places a pushed message. A message whose conversation is not
// the viewed one is never silently dropped: with nothing viewed the engine
// adopts the message's conversation (participants only); with something else
// viewed it never auto-switches, it caches the conversation and raises a
// notification instead.
func (e *Engine) handleIncoming(msg entity.Message) {
	e.normalize(&msg)

	e.mu.Lock()
	current := e.current
	e.mu.Unlock()

	if current != "" && msg.ConversationID == current {
		if e.insert(msg) {
			e.notifyListeners(msg.ConversationID)
		}
		e.notifier.NotifyIncoming(msg, e.cachedConversation(msg.ConversationID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()
	conv, err := e.resolveConversation(ctx, msg.ConversationID)
	if err == nil && conv != nil && !conv.HasParticipant(e.conf.UserID) {
		// Not a participant: ignored, never surfaced.
		e.log.Warn("dropping message for foreign conversation",
			slog.String("conversation", msg.ConversationID),
			slog.String("sender", msg.SenderID),
		)
		return
	}

	if current == "" {
		// Nothing on screen: load the message's conversation rather than
		// losing the message. Resolution failure falls back to adopting the
		// id directly.
		if err != nil {
			e.log.Warn("conversation resolve failed, adopting id directly",
				slog.String("conversation", msg.ConversationID), sl.Err(err))
		}
		e.mu.Lock()
		adopted := false
		if e.current == "" {
			e.current = msg.ConversationID
			adopted = true
		}
		e.mu.Unlock()
		if adopted {
			e.notifier.SetViewed(msg.ConversationID)
		}
	}

	if e.insert(msg) {
		e.notifyListeners(msg.ConversationID)
	}
	e.notifier.NotifyIncoming(msg, conv)
}

// handleConfirmation collapses a pending entry and its confirmation into one
// visible entry, replacing identity, timestamps and delivery state in place.
func (e *Engine) handleConfirmation(token string, msg entity.Message) {
	e.normalize(&msg)
	msg.State = entity.DeliveryConfirmed
	convID := msg.ConversationID

	e.mu.Lock()
	lg := e.logs[convID]
	idx := e.matcher.Match(lg, msg, token)
	if idx >= 0 {
		entry := lg[idx]
		entry.ID = msg.ID
		entry.State = entity.DeliveryConfirmed
		if !msg.CreatedAt.IsZero() {
			entry.CreatedAt = msg.CreatedAt
		}
		if msg.Text != "" {
			entry.Text = msg.Text
		}
		if msg.Attachment != nil {
			entry.Attachment = msg.Attachment
		}
		lg[idx] = entry

		// A history push may have landed the confirmed twin before the
		// confirmation arrived; collapse it.
		if entry.ID != "" {
			kept := lg[:0]
			for i := range lg {
				if i != idx && lg[i].ID == entry.ID {
					continue
				}
				kept = append(kept, lg[i])
			}
			lg = kept
		}
	} else {
		// Last-resort fallback: append as new. Flagged because it indicates
		// a correctness risk worth monitoring.
		e.log.Warn("reconciliation fallback, confirmation matched no local entry",
			slog.String("conversation", convID),
			slog.String("server_id", msg.ID),
			sl.Secret("token", token),
		)
		lg = append(lg, msg)
	}
	e.logs[convID] = lg
	e.sortLocked(convID)
	e.mu.Unlock()

	e.saveMessages(convID)
	e.notifyListeners(convID)
}

// mergeHistory folds a bulk history for one conversation into the local log
// without duplicating in-flight optimistic sends. Returns whether the visible
// log changed; an identical identity set is a no-op so redundant pushes do
// not churn state or storm listeners.
func (e *Engine) mergeHistory(convID string, incoming []entity.Message, raw []byte, fromPush bool) bool {
	history := append([]entity.Message(nil), incoming...)
	for i := range history {
		history[i].ConversationID = convID
		e.normalize(&history[i])
	}

	e.mu.Lock()
	cur := e.logs[convID]

	incomingIDs := make(map[string]bool, len(history))
	for _, m := range history {
		if m.ID != "" {
			incomingIDs[m.ID] = true
		}
	}
	localIDs := make(map[string]bool, len(cur))
	pendingCount := 0
	for _, m := range cur {
		if m.ID != "" {
			localIDs[m.ID] = true
		} else {
			pendingCount++
		}
	}

	if fromPush {
		e.historySeen[convID] = true
	}

	if pendingCount == 0 && len(incomingIDs) > 0 && len(incomingIDs) == len(localIDs) {
		same := true
		for id := range incomingIDs {
			if !localIDs[id] {
				same = false
				break
			}
		}
		if same {
			e.mu.Unlock()
			return false
		}
	}

	now := e.conf.Clock()
	merged := history
	for _, m := range cur {
		if m.ID != "" {
			if incomingIDs[m.ID] {
				continue // already present in the history page
			}
			merged = append(merged, m) // confirmed locally after the page was cut
			continue
		}
		if tokenInHistory(m.LocalID, history, raw) {
			continue // the server already holds this send
		}
		if m.State == entity.DeliveryPending && now.Sub(m.CreatedAt) > e.conf.PendingWindow {
			// Outlived the recency window and absent from history: the
			// server never saw it. Keep it visible, mark it failed.
			m.State = entity.DeliveryFailed
		}
		merged = append(merged, m)
	}

	e.logs[convID] = merged
	e.sortLocked(convID)
	e.mu.Unlock()

	e.saveMessages(convID)
	return true
}

func (e *Engine) handleGroupUpdate(conv entity.Conversation) {
	if conv.ID == "" {
		return
	}
	e.mu.Lock()
	if len(conv.Participants) > 0 && !conv.HasParticipant(e.conf.UserID) {
		delete(e.convs, conv.ID)
		e.mu.Unlock()
		e.log.Info("removed from conversation", slog.String("conversation", conv.ID))
		return
	}
	e.convs[conv.ID] = conv
	e.mu.Unlock()
	e.saveConversation(&conv)
}

// insert adds a message to its conversation's log, keeping confirmed
// identities unique. Returns whether the log changed.
func (e *Engine) insert(msg entity.Message) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	lg := e.logs[msg.ConversationID]
	if msg.ID != "" {
		for _, existing := range lg {
			if existing.ID == msg.ID {
				return false // replay
			}
		}
	}
	e.logs[msg.ConversationID] = append(lg, msg)
	e.sortLocked(msg.ConversationID)
	return true
}

func (e *Engine) removeByLocalID(convID, localID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	lg := e.logs[convID]
	kept := lg[:0]
	for _, m := range lg {
		if m.LocalID == localID && m.State == entity.DeliveryPending {
			continue
		}
		kept = append(kept, m)
	}
	e.logs[convID] = kept
}

func (e *Engine) markFailed(convID, localID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	lg := e.logs[convID]
	for i := range lg {
		if lg[i].LocalID == localID {
			lg[i].State = entity.DeliveryFailed
			return
		}
	}
}

// sortLocked keeps the visible log ordered by creation timestamp, not
// arrival order. Must be called with the engine lock held.
func (e *Engine) sortLocked(convID string) {
	lg := e.logs[convID]
	sort.SliceStable(lg, func(i, j int) bool {
		return lg[i].CreatedAt.Before(lg[j].CreatedAt)
	})
}

// normalize fills derivable fields on records arriving from the wire.
func (e *Engine) normalize(msg *entity.Message) {
	if msg.State == "" {
		if msg.ID != "" {
			msg.State = entity.DeliveryConfirmed
		} else {
			msg.State = entity.DeliveryPending
		}
	}
	if msg.Origin == "" {
		if msg.SenderID == e.conf.UserID {
			msg.Origin = entity.OriginSelf
		} else {
			msg.Origin = entity.OriginPeer
		}
	}
}

func (e *Engine) cachedConversation(id string) *entity.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.convs[id]; ok {
		return &c
	}
	return nil
}

// resolveConversation finds conversation metadata: in-memory cache first,
// then the local store, then the REST collaborator.
func (e *Engine) resolveConversation(ctx context.Context, id string) (*entity.Conversation, error) {
	if c := e.cachedConversation(id); c != nil {
		return c, nil
	}

	if e.cache != nil {
		if c, err := e.cache.LoadConversation(ctx, id); err == nil && c != nil {
			e.mu.Lock()
			e.convs[id] = *c
			e.mu.Unlock()
			return c, nil
		}
	}

	c, err := e.api.FetchConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch conversation %s: %w", id, err)
	}
	e.mu.Lock()
	e.convs[id] = *c
	e.mu.Unlock()
	e.saveConversation(c)
	return c, nil
}

func (e *Engine) notifyListeners(convID string) {
	e.mu.Lock()
	listeners := append(([]func(string))(nil), e.listeners...)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(convID)
	}
}

func (e *Engine) saveMessages(convID string) {
	if e.cache == nil {
		return
	}
	msgs := e.Messages(convID)
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	if err := e.cache.SaveMessages(ctx, convID, msgs); err != nil {
		e.log.Debug("message cache write failed", slog.String("conversation", convID), sl.Err(err))
	}
}

func (e *Engine) saveConversation(conv *entity.Conversation) {
	if e.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	if err := e.cache.SaveConversation(ctx, conv); err != nil {
		e.log.Debug("conversation cache write failed", slog.String("conversation", conv.ID), sl.Err(err))
	}
}

// tokenInHistory reports whether a correlation token is visible anywhere in
// an incoming history: either echoed on a parsed message or buried in raw
// attached metadata the parse does not surface.
func tokenInHistory(token string, history []entity.Message, raw []byte) bool {
	if token == "" {
		return false
	}
	for _, m := range history {
		if m.LocalID == token {
			return true
		}
	}
	return len(raw) > 0 && bytes.Contains(raw, []byte(token))
}
