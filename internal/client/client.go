// Package client talks to a streamchat gateway over its HTTP and SSE
// surfaces. It implements the conversation controller's collaborator
// ports, so a Conversation can run against a remote gateway the same
// way it runs against the in-process hub.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"streamchat/internal/model"
	"streamchat/internal/transport/http/handler"
	"streamchat/internal/view"
)

var (
	_ view.SessionStore    = (*Client)(nil)
	_ view.SendChannel     = (*Client)(nil)
	_ view.AgentDirectory  = (*Client)(nil)
	_ view.PreferenceStore = (*Client)(nil)
	_ view.StreamSource    = (*Client)(nil)
)

type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client
}

func New(baseURL, userID string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     userID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) CreateSession(ctx context.Context, _, agentID, title string) (string, error) {
	payload := map[string]string{"agent_id": agentID, "title": title}
	var session model.Session
	if err := c.call(ctx, http.MethodPost, "/api/v1/chat/sessions", payload, &session); err != nil {
		return "", err
	}
	return session.ID, nil
}

func (c *Client) History(ctx context.Context, _, sessionID string, limit int) ([]model.Message, error) {
	path := "/api/v1/chat/history?session_id=" + url.QueryEscape(sessionID) + "&limit=" + strconv.Itoa(limit)
	var messages []model.Message
	if err := c.call(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) DeleteSession(ctx context.Context, _, sessionID string) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/chat/sessions/"+url.PathEscape(sessionID), nil, nil)
}

func (c *Client) Send(ctx context.Context, _, sessionID, text, clientRef string) error {
	payload := map[string]string{
		"session_id": sessionID,
		"content":    text,
		"client_ref": clientRef,
	}
	return c.call(ctx, http.MethodPost, "/api/v1/chat/messages", payload, nil)
}

func (c *Client) ListAgents(ctx context.Context) ([]model.Agent, error) {
	var agents []model.Agent
	if err := c.call(ctx, http.MethodGet, "/api/v1/agents", nil, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

func (c *Client) LastAgent(ctx context.Context, _ string) (string, error) {
	var pref struct {
		AgentID string `json:"agent_id"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/preferences/agent", nil, &pref); err != nil {
		return "", err
	}
	return pref.AgentID, nil
}

func (c *Client) SetLastAgent(ctx context.Context, _, agentID string) error {
	payload := map[string]string{"agent_id": agentID}
	return c.call(ctx, http.MethodPut, "/api/v1/preferences/agent", payload, nil)
}

func (c *Client) call(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request failed: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(handler.UserIDHeader, c.userID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response failed: %w", err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("parse response failed: %w", err)
	}
	if resp.StatusCode >= 300 || envelope.Code != 0 {
		return fmt.Errorf("gateway error %d: %s", envelope.Code, envelope.Message)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("parse response data failed: %w", err)
		}
	}
	return nil
}
