// Package bridge talks to the bot's sidecar process over its local HTTP
// API. The sidecar owns the actual chat client (browser, pairing, wire
// protocol); this package only moves payloads and status across the
// boundary and implements session.Client for the dispatch core.
package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"wafleet/internal/route"
)

// Client is the HTTP sidecar client.
type Client struct {
	base   string
	client *http.Client
	log    *slog.Logger
}

func New(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

type textPayload struct {
	JID  string `json:"jid"`
	Text string `json:"text"`
}

type mediaPayload struct {
	JID       string `json:"jid"`
	MimeType  string `json:"mimeType"`
	Data      string `json:"data"` // base64
	Filename  string `json:"filename,omitempty"`
	Caption   string `json:"caption,omitempty"`
	VoiceNote bool   `json:"voiceNote,omitempty"`
}

type reinitPayload struct {
	Fresh bool `json:"fresh"`
}

func (c *Client) SendText(ctx context.Context, jid string, text string) error {
	return c.post(ctx, "/session/send-text", textPayload{JID: jid, Text: text})
}

func (c *Client) SendMedia(ctx context.Context, jid string, att *route.Attachment, caption string, voiceNote bool) error {
	return c.post(ctx, "/session/send-media", mediaPayload{
		JID:       jid,
		MimeType:  att.MimeType,
		Data:      base64.StdEncoding.EncodeToString(att.Data),
		Filename:  att.Filename,
		Caption:   caption,
		VoiceNote: voiceNote,
	})
}

func (c *Client) Reinitialize(ctx context.Context, fresh bool) error {
	return c.post(ctx, "/session/reinitialize", reinitPayload{Fresh: fresh})
}

// post sends a JSON payload. A non-2xx reply surfaces the sidecar's error
// text verbatim so the delivery classifier can match on it.
func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sidecar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if msg := remoteError(respBody); msg != "" {
		return fmt.Errorf("%s", msg)
	}
	return fmt.Errorf("sidecar %s: status %d", path, resp.StatusCode)
}

// remoteError extracts the sidecar's error message. The classifier works
// on this text, so it must come through untouched.
func remoteError(body []byte) string {
	var out struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &out); err == nil {
		if out.Error != "" {
			return out.Error
		}
		if out.Message != "" {
			return out.Message
		}
	}
	return strings.TrimSpace(string(body))
}
