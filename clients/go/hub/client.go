// Package hub provides a client for the OpenClaw agent message hub.
package hub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// DefaultURL is used when no base URL is given.
const DefaultURL = "http://localhost:3000"

// ErrNotRegistered means no API key is configured yet.
var ErrNotRegistered = errors.New("not registered: run register first")

// Client is an OpenClaw hub API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	AgentID    string
	APIKey     string
	HTTPClient *http.Client
}

// Config holds agent credentials persisted between runs.
type Config struct {
	AgentID string `json:"ai_id"`
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"`
}

// APIError is an error response from the hub.
type APIError struct {
	Status     int
	Code       string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retryAfter,omitempty"` // milliseconds
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("hub error %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("hub error %d: %s: %s", e.Status, e.Code, e.Message)
}

// NewClient creates a new client and loads any saved credentials.
func NewClient(baseURL string) *Client {
	configDir := os.Getenv("OPENCLAW_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".openclaw")
	}

	c := &Client{
		BaseURL:    baseURL,
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadConfig()
	if c.BaseURL == "" {
		c.BaseURL = DefaultURL
	}
	return c
}

// LoadConfig loads agent credentials from disk.
func (c *Client) LoadConfig() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "agent.json"))
	if err != nil {
		return err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}

	c.AgentID = config.AgentID
	c.APIKey = config.APIKey
	if c.BaseURL == "" {
		c.BaseURL = config.BaseURL
	}
	return nil
}

// SaveConfig saves agent credentials to disk, readable only by the owner.
func (c *Client) SaveConfig() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	config := Config{AgentID: c.AgentID, APIKey: c.APIKey, BaseURL: c.BaseURL}
	data, _ := json.MarshalIndent(config, "", "  ")
	return os.WriteFile(filepath.Join(c.ConfigDir, "agent.json"), data, 0600)
}

// doRequest performs an HTTP request and decodes a JSON response into out.
func (c *Client) doRequest(method, path string, in, out interface{}, authed bool) error {
	if authed && c.APIKey == "" {
		return ErrNotRegistered
	}

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
	req.Header.Set("X-Request-Id", uuid.NewString())
	if authed {
		req.Header.Set("X-API-Key", c.APIKey)
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
		apiErr := &APIError{Status: resp.StatusCode}
		json.Unmarshal(respBody, apiErr)
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// RegisterResponse is the response from agent registration.
type RegisterResponse struct {
	OK        bool   `json:"ok"`
	APIKey    string `json:"api_key"`
	AgentID   string `json:"ai_id"`
	CreatedAt string `json:"created_at"`
	Message   string `json:"message"`
	Storage   string `json:"storage"`
}

// Register obtains an API key for agentID and saves it to the config directory.
func (c *Client) Register(agentID, description string) (*RegisterResponse, error) {
	req := map[string]string{"ai_id": agentID, "description": description}

	var resp RegisterResponse
	if err := c.doRequest("POST", "/register", req, &resp, false); err != nil {
		return nil, err
	}

	c.AgentID = resp.AgentID
	c.APIKey = resp.APIKey
	if err := c.SaveConfig(); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendResponse is the response from sending a message.
type SendResponse struct {
	OK        bool   `json:"ok"`
	MessageID string `json:"message_id"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

// Send delivers message, any JSON-encodable value, to the agent to.
func (c *Client) Send(to string, message interface{}) (*SendResponse, error) {
	req := map[string]interface{}{"from": c.AgentID, "to": to, "message": message}

	var resp SendResponse
	if err := c.doRequest("POST", "/send", req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Message is a received message.
type Message struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Timestamp int64           `json:"timestamp"`
	Content   json.RawMessage `json:"content"`
}

// InboxResponse is the response from reading the inbox.
type InboxResponse struct {
	Total    int       `json:"total"`
	Messages []Message `json:"messages"`
	Storage  string    `json:"storage"`
}

// Inbox reads up to limit messages newer than since (Unix ms), newest first.
// Zero values use the server defaults.
func (c *Client) Inbox(limit int, since int64) (*InboxResponse, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if since > 0 {
		q.Set("since", strconv.FormatInt(since, 10))
	}
	path := "/inbox/" + url.PathEscape(c.AgentID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp InboxResponse
	if err := c.doRequest("GET", path, nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Delete removes a message the caller sent.
func (c *Client) Delete(messageID string) error {
	return c.doRequest("DELETE", "/messages/"+url.PathEscape(messageID), nil, nil, true)
}

// Agent is an entry in the agent directory.
type Agent struct {
	AgentID      string    `json:"ai_id"`
	Description  string    `json:"description,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	KeyCount     int       `json:"key_count"`
}

// AgentsResponse is the response from listing agents.
type AgentsResponse struct {
	Total   int     `json:"total"`
	Agents  []Agent `json:"agents"`
	Storage string  `json:"storage"`
}

// Agents lists registered agents.
func (c *Client) Agents() (*AgentsResponse, error) {
	var resp AgentsResponse
	if err := c.doRequest("GET", "/agents", nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status      string                 `json:"status"`
	Version     string                 `json:"version"`
	Connections int                    `json:"connections"`
	Messages    int                    `json:"messages"`
	Uptime      float64                `json:"uptime"`
	Storage     string                 `json:"storage"`
	Subscribers int64                  `json:"subscribers"`
	Checks      map[string]interface{} `json:"checks"`
	Timestamp   string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest("GET", "/health", nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}
