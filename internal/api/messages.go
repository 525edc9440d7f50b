package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"sync-client/internal/models"
)

// MessagePage is one page of thread history. Pages are fetched newest
// first, but messages inside a page arrive in ascending time order.
type MessagePage struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"hasMore"`
}

// ListMessages fetches page of the history of one conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID string, page, limit int) (*MessagePage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var out MessagePage
	path := "/conversations/" + conversationID + "/messages"
	if err := c.do(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type SendMessageRequest struct {
	ConversationID string             `json:"conversationId"`
	RecipientID    string             `json:"recipientId"`
	MessageType    models.MessageType `json:"messageType"`
	Content        string             `json:"content,omitempty"`
	ImageURL       string             `json:"imageUrl,omitempty"`

	// ClientID is the idempotency key: a retried send carries the same
	// value so the server can fold duplicates.
	ClientID string `json:"clientId"`
}

// SendMessage posts a new message and returns the server-confirmed record,
// ids and timestamps assigned.
func (c *Client) SendMessage(ctx context.Context, req *SendMessageRequest) (*models.Message, error) {
	var out struct {
		Message *models.Message `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/messages", nil, req, &out); err != nil {
		return nil, err
	}
	if out.Message == nil {
		return nil, fmt.Errorf("api: send message: empty response")
	}
	return out.Message, nil
}
