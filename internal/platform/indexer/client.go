// Package indexer is the client for the semantic-retrieval collaborator that
// indexes conversation messages after each turn.
package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

type Client struct {
	http *resty.Client
}

func NewClient(baseURL string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2)
	return &Client{http: c}
}

type indexRequest struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
}

func (c *Client) IndexMessage(ctx context.Context, conversationID, messageID uuid.UUID, role, content string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(indexRequest{
			ConversationID: conversationID.String(),
			MessageID:      messageID.String(),
			Role:           role,
			Content:        content,
		}).
		Post("/v1/index/messages")
	if err != nil {
		return fmt.Errorf("index message: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("indexer returned status %s: %s", resp.Status(), resp.String())
	}
	return nil
}
