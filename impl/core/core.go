package core

import (
	"context"
	"errors"
	"log/slog"

	"ChatCore/entity"
	"ChatCore/internal/lib/sl"
	"ChatCore/internal/ws"
)

// Engine is the reconciliation engine surface the facade exposes upward.
type Engine interface {
	Select(ctx context.Context, id string) error
	SendText(ctx context.Context, text string) (entity.Message, error)
	SendImage(ctx context.Context, att entity.Attachment) (entity.Message, error)
	Retry(ctx context.Context, localID string) error
	Messages(conversationID string) []entity.Message
	Conversations() []entity.Conversation
	Current() string
}

// Coordinator is the unread ledger surface.
type Coordinator interface {
	UnreadCount(conversationID string) int
	TotalUnread() int
	Viewed() string
}

// Connection is the transport lifecycle surface.
type Connection interface {
	Connect(ctx context.Context, identity string) error
	Disconnect()
	State() ws.State
}

// ConversationAPI creates channels through the external REST collaborator.
type ConversationAPI interface {
	CreateConversation(ctx context.Context, name string, participants []string, withAgent bool) (*entity.Conversation, error)
}

// Core wires the session together and implements every handler interface of
// the local API.
type Core struct {
	engine   Engine
	coord    Coordinator
	conn     Connection
	convApi  ConversationAPI
	identity string
	authKey  string
	log      *slog.Logger
}

func New(log *slog.Logger) *Core {
	return &Core{
		log: log.With(sl.Module("core")),
	}
}

func (c *Core) SetEngine(engine Engine)              { c.engine = engine }
func (c *Core) SetCoordinator(coord Coordinator)     { c.coord = coord }
func (c *Core) SetConnection(conn Connection)        { c.conn = conn }
func (c *Core) SetConversationAPI(a ConversationAPI) { c.convApi = a }
func (c *Core) SetIdentity(identity string)          { c.identity = identity }
func (c *Core) SetAuthKey(key string)                { c.authKey = key }

// StartSession opens the logical connection for the configured identity.
func (c *Core) StartSession(ctx context.Context) error {
	if c.identity == "" {
		return errors.New("no identity configured")
	}
	return c.conn.Connect(ctx, c.identity)
}

// StopSession tears the connection down. Idempotent.
func (c *Core) StopSession() {
	c.conn.Disconnect()
}

// AuthenticateByToken validates the local API key and returns the session
// identity.
func (c *Core) AuthenticateByToken(token string) (string, error) {
	if c.authKey == "" || token != c.authKey {
		return "", errors.New("invalid api key")
	}
	return c.identity, nil
}

func (c *Core) SendText(ctx context.Context, text string) (entity.Message, error) {
	return c.engine.SendText(ctx, text)
}

func (c *Core) SendImage(ctx context.Context, att entity.Attachment) (entity.Message, error) {
	return c.engine.SendImage(ctx, att)
}

func (c *Core) RetryMessage(ctx context.Context, localID string) error {
	return c.engine.Retry(ctx, localID)
}

func (c *Core) SelectConversation(ctx context.Context, id string) error {
	return c.engine.Select(ctx, id)
}

// Messages returns the visible log; with an empty id, the viewed
// conversation's log.
func (c *Core) Messages(conversationID string) []entity.Message {
	if conversationID == "" {
		conversationID = c.engine.Current()
	}
	return c.engine.Messages(conversationID)
}

func (c *Core) Conversations() []entity.Conversation {
	return c.engine.Conversations()
}

func (c *Core) CreateConversation(ctx context.Context, name string, participants []string, withAgent bool) (*entity.Conversation, error) {
	conv, err := c.convApi.CreateConversation(ctx, name, participants, withAgent)
	if err != nil {
		return nil, err
	}
	c.log.With(
		slog.String("conversation", conv.ID),
	).Info("conversation created")
	return conv, nil
}

func (c *Core) UnreadCount(conversationID string) int {
	return c.coord.UnreadCount(conversationID)
}

func (c *Core) TotalUnread() int {
	return c.coord.TotalUnread()
}

func (c *Core) ViewedConversation() string {
	return c.coord.Viewed()
}

func (c *Core) ConnectionState() string {
	return c.conn.State().String()
}
