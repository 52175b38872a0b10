package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"chatsync/internal/models"
)

const apiKeyHeader = "x-api-key"

// Client is a simple HTTP client for the remote sync/conversation service.
type Client struct {
	baseURL    string
	apiKey     string
	token      string
	httpClient *http.Client

	probeTimeout time.Duration
}

// NewClient constructs a client with baseURL, API key and bearer token.
// The token may be empty; calls proceed without it.
func NewClient(baseURL, apiKey, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		token:        token,
		httpClient:   &http.Client{Timeout: timeout},
		probeTimeout: 5 * time.Second,
	}
}

// SetProbeTimeout overrides the health probe timeout.
func (c *Client) SetProbeTimeout(d time.Duration) {
	if d > 0 {
		c.probeTimeout = d
	}
}

// SetToken replaces the bearer token used on subsequent calls.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Health issues the liveness probe. Any 200 response means online.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Body: readBody(resp.Body)}
	}
	return nil
}

// SyncUser propagates a local user profile to the remote service.
// Returns the server's echoed payload on success.
func (c *Client) SyncUser(ctx context.Context, user *models.User) (map[string]any, error) {
	var echoed map[string]any
	if err := c.doPost(ctx, c.baseURL+"/sync/user", user, &echoed); err != nil {
		return nil, err
	}
	return echoed, nil
}

// SyncSector propagates a local sector to the remote service.
func (c *Client) SyncSector(ctx context.Context, sector *models.Sector) (map[string]any, error) {
	var echoed map[string]any
	if err := c.doPost(ctx, c.baseURL+"/sync/sector", sector, &echoed); err != nil {
		return nil, err
	}
	return echoed, nil
}

// ForceSectorSync asks the remote to resync one sector immediately.
// Synchronous, caller-invoked; never goes through the queue.
func (c *Client) ForceSectorSync(ctx context.Context, sectorID string) error {
	endpoint := fmt.Sprintf("%s/sync/sector/%s/force", c.baseURL, url.PathEscape(sectorID))
	return c.doPost(ctx, endpoint, struct{}{}, nil)
}

// GetConversation fetches the full snapshot of one conversation.
func (c *Client) GetConversation(ctx context.Context, id string) (*models.ConversationSnapshot, error) {
	endpoint := fmt.Sprintf("%s/conversations/%s", c.baseURL, url.PathEscape(id))

	var snap models.ConversationSnapshot
	if err := c.doGet(ctx, endpoint, &snap); err != nil {
		if StatusCode(err) == http.StatusNotFound {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &snap, nil
}

// SendMessage delivers one message to a conversation and returns the
// server-assigned message record.
func (c *Client) SendMessage(ctx context.Context, conversationID string, msg *models.Message) (*models.Message, error) {
	endpoint := fmt.Sprintf("%s/conversations/%s/messages", c.baseURL, url.PathEscape(conversationID))

	var saved models.Message
	if err := c.doPost(ctx, endpoint, msg, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

// TransferConversation reassigns a conversation to another sector.
func (c *Client) TransferConversation(ctx context.Context, conversationID, sectorID string) error {
	endpoint := fmt.Sprintf("%s/conversations/%s/transfer", c.baseURL, url.PathEscape(conversationID))
	body := map[string]string{"sector_id": sectorID}
	return c.doPost(ctx, endpoint, body, nil)
}

// FinalizeConversation marks a conversation as finalizada.
func (c *Client) FinalizeConversation(ctx context.Context, conversationID string) error {
	endpoint := fmt.Sprintf("%s/conversations/%s/finalize", c.baseURL, url.PathEscape(conversationID))
	return c.doPost(ctx, endpoint, struct{}{}, nil)
}

// ArchiveConversation archives a conversation.
func (c *Client) ArchiveConversation(ctx context.Context, conversationID string) error {
	endpoint := fmt.Sprintf("%s/conversations/%s/archive", c.baseURL, url.PathEscape(conversationID))
	return c.doPost(ctx, endpoint, struct{}{}, nil)
}

// UnarchiveConversation restores an archived conversation.
func (c *Client) UnarchiveConversation(ctx context.Context, conversationID string) error {
	endpoint := fmt.Sprintf("%s/conversations/%s/unarchive", c.baseURL, url.PathEscape(conversationID))
	return c.doPost(ctx, endpoint, struct{}{}, nil)
}

func (c *Client) doGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	return c.do(req, out)
}

func (c *Client) doPost(ctx context.Context, endpoint string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: readBody(resp.Body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set(apiKeyHeader, c.apiKey)
}

func readBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(data))
}
