package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"ChatCore/entity"
	"ChatCore/internal/config"
	"ChatCore/internal/lib/sl"
)

// Client talks to the conversation/message history API.
type Client struct {
	apiKey  string
	baseUrl string
	http    *http.Client
	log     *slog.Logger
}

func NewClient(conf *config.Config, logger *slog.Logger) *Client {
	return &Client{
		apiKey:  conf.History.ApiKey,
		baseUrl: conf.History.BaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     logger.With(sl.Module("history client")),
	}
}

// FetchMessages loads the most recent messages of a conversation.
func (c *Client) FetchMessages(ctx context.Context, conversationID string, limit int) ([]entity.Message, error) {
	endpoint := fmt.Sprintf("%s/conversations/%s/messages?limit=%s",
		c.baseUrl, url.PathEscape(conversationID), strconv.Itoa(limit))

	var msgs []entity.Message
	if err := c.get(ctx, endpoint, &msgs); err != nil {
		c.log.With(
			slog.String("conversation", conversationID),
			sl.Err(err),
		).Error("fetch messages")
		return nil, err
	}
	return msgs, nil
}

// FetchConversation loads conversation metadata.
func (c *Client) FetchConversation(ctx context.Context, id string) (*entity.Conversation, error) {
	endpoint := fmt.Sprintf("%s/conversations/%s", c.baseUrl, url.PathEscape(id))

	var conv entity.Conversation
	if err := c.get(ctx, endpoint, &conv); err != nil {
		c.log.With(
			slog.String("conversation", id),
			sl.Err(err),
		).Error("fetch conversation")
		return nil, err
	}
	return &conv, nil
}

type createRequest struct {
	Name         string   `json:"name,omitempty"`
	Participants []string `json:"participants"`
	WithAgent    bool     `json:"with_agent"`
}

// CreateConversation creates or joins a channel.
func (c *Client) CreateConversation(ctx context.Context, name string, participants []string, withAgent bool) (*entity.Conversation, error) {
	endpoint := fmt.Sprintf("%s/conversations", c.baseUrl)

	body, err := json.Marshal(createRequest{
		Name:         name,
		Participants: participants,
		WithAgent:    withAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.With(sl.Err(err)).Error("create conversation")
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("history api responded with %d", resp.StatusCode)
	}

	var conv entity.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &conv, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("history api responded with %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
