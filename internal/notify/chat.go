// Package notify delivers outbox events to chat and email.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
)

// ChatSink posts messages to a chat workspace.
type ChatSink interface {
	// Post starts a new thread and returns its reference.
	Post(ctx context.Context, channel, text string) (string, error)
	// Reply adds text to the thread identified by ref.
	Reply(ctx context.Context, channel, ref, text string) error
}

// SlackClient speaks the Slack Web API chat.postMessage call.
type SlackClient struct {
	cfg    config.ChatConfig
	client *http.Client
}

// NewSlackClient builds a client. A disabled config yields a client whose
// calls succeed without sending anything.
func NewSlackClient(cfg config.ChatConfig) *SlackClient {
	return &SlackClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout()},
	}
}

type postMessageRequest struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts,omitempty"`
	Mrkdwn   bool   `json:"mrkdwn"`
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	TS    string `json:"ts"`
	Error string `json:"error"`
}

func (c *SlackClient) Post(ctx context.Context, channel, text string) (string, error) {
	if !c.cfg.Enabled {
		return "", nil
	}
	return c.post(ctx, postMessageRequest{Channel: channel, Text: text, Mrkdwn: true})
}

func (c *SlackClient) Reply(ctx context.Context, channel, ref, text string) error {
	if !c.cfg.Enabled {
		return nil
	}
	_, err := c.post(ctx, postMessageRequest{Channel: channel, Text: text, ThreadTS: ref, Mrkdwn: true})
	return err
}

func (c *SlackClient) post(ctx context.Context, body postMessageRequest) (string, error) {
	if body.Channel == "" {
		return "", fmt.Errorf("chat channel not configured")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat.postMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("chat request: unexpected status %d", resp.StatusCode)
	}
	var out postMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if !out.OK {
		return "", fmt.Errorf("chat api error: %s", out.Error)
	}
	return out.TS, nil
}
