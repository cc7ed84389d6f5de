// Package relay provides a client for the chatrelay REST API and message
// gateway.
package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultServerID is the server every deployment starts with.
const DefaultServerID = "00000000-0000-0000-0000-000000000000"

// Client is a chatrelay API client.
type Client struct {
	BaseURL    string
	Token      string // sent as X-API-KEY when set
	HTTPClient *http.Client
}

// NewClient creates a new chatrelay client.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:3000"
	}
	return &Client{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("chatrelay error %d: %s", e.Status, e.Message)
}

// doRequest performs an HTTP request and decodes a JSON response into out.
func (c *Client) doRequest(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("X-API-KEY", c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return &Error{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Connections int    `json:"connections"`
	Checks      map[string]struct {
		Status  string `json:"status"`
		Latency string `json:"latency,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"checks"`
}

// Health checks server health.
func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doRequest(http.MethodGet, "/health", nil, &resp)
	if err != nil {
		var apiErr *Error
		// A degraded server still answers with a body.
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusServiceUnavailable {
			return nil, err
		}
	}
	return &resp, nil
}

// Server is a message server.
type Server struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
}

// ListServers lists message servers.
func (c *Client) ListServers() ([]Server, error) {
	var resp struct {
		Servers []Server `json:"servers"`
	}
	if err := c.doRequest(http.MethodGet, "/api/servers", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Servers, nil
}

// Channel is a conversation scope.
type Channel struct {
	ID              string   `json:"id"`
	MessageServerID string   `json:"messageServerId"`
	Name            string   `json:"name"`
	Type            string   `json:"type"`
	Participants    []string `json:"participants,omitempty"`
}

// ServerChannels lists the channels of a server.
func (c *Client) ServerChannels(serverID string) ([]Channel, error) {
	var resp struct {
		Channels []Channel `json:"channels"`
	}
	path := "/api/servers/" + url.PathEscape(serverID) + "/channels"
	if err := c.doRequest(http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Channels, nil
}

// CreateChannel creates a group channel on a server.
func (c *Client) CreateChannel(serverID, name string, participants []string) (*Channel, error) {
	var resp Channel
	err := c.doRequest(http.MethodPost, "/api/channels", map[string]any{
		"messageServerId": serverID,
		"name":            name,
		"participantIds":  participants,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// DMChannel finds or creates the DM channel between two users.
func (c *Client) DMChannel(currentUserID, targetUserID string) (*Channel, error) {
	q := url.Values{}
	q.Set("currentUserId", currentUserID)
	q.Set("targetUserId", targetUserID)

	var resp Channel
	if err := c.doRequest(http.MethodGet, "/api/dm-channel?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Message is a stored channel message.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channelId"`
	AuthorID  string `json:"authorId"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
}

// MessagesResponse is a page of channel history, newest first.
type MessagesResponse struct {
	ChannelID string    `json:"channelId"`
	Messages  []Message `json:"messages"`
	HasMore   bool      `json:"hasMore"`
}

// GetMessages gets channel history. before is a millisecond timestamp; 0
// starts at the newest message.
func (c *Client) GetMessages(channelID string, limit int, before int64) (*MessagesResponse, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}

	path := "/api/channels/" + url.PathEscape(channelID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp MessagesResponse
	if err := c.doRequest(http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
