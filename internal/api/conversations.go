package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"sync-client/internal/models"
)

// ListConversations fetches one page of the conversation directory, most
// recent activity first.
func (c *Client) ListConversations(ctx context.Context, page, limit int) ([]models.Conversation, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var out struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/conversations", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// CreateConversation returns the conversation with userID, creating it if
// none exists yet.
func (c *Client) CreateConversation(ctx context.Context, userID string) (*models.Conversation, error) {
	var out struct {
		Conversation *models.Conversation `json:"conversation"`
	}
	body := map[string]string{"userId": userID}
	if err := c.do(ctx, http.MethodPost, "/conversations", nil, body, &out); err != nil {
		return nil, err
	}
	if out.Conversation == nil {
		return nil, fmt.Errorf("api: create conversation: empty response")
	}
	return out.Conversation, nil
}

// MarkConversationRead confirms the optimistic read flip with the server.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPut, "/conversations/"+conversationID+"/read", nil, nil, nil)
}
