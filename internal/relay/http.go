// Package relay provides an HTTP RelayClient implementation for ciphera.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"ciphera/internal/domain"
)

// HTTP is a RelayClient over HTTP.
type HTTP struct {
	Base   string
	client *http.Client
}

// NewHTTP constructs a new HTTP relay client.
// If client is nil, http.DefaultClient will be used.
func NewHTTP(base string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{Base: base, client: client}
}

// RegisterPreKeyBundle publishes a PreKeyBundle to POST /register.
func (c *HTTP) RegisterPreKeyBundle(ctx context.Context, bundle domain.PreKeyBundle) error {
	return c.post(ctx, "/register", bundle, nil)
}

// FetchPreKeyBundle retrieves the bundle for username via GET /prekey/{username}.
func (c *HTTP) FetchPreKeyBundle(ctx context.Context, username domain.Username) (domain.PreKeyBundle, error) {
	var out domain.PreKeyBundle
	if err := c.getJSON(ctx, "/prekey/"+url.PathEscape(username.String()), &out); err != nil {
		return domain.PreKeyBundle{}, err
	}
	return out, nil
}

// SendMessage posts an Envelope to POST /msg/{to}.
func (c *HTTP) SendMessage(ctx context.Context, envelope domain.Envelope) error {
	return c.post(ctx, "/msg/"+url.PathEscape(envelope.To.String()), envelope, nil)
}

// FetchMessages GETs up to limit Envelopes from /msg/{user}?limit=N.
func (c *HTTP) FetchMessages(ctx context.Context, username domain.Username, limit int) ([]domain.Envelope, error) {
	path := "/msg/" + url.PathEscape(username.String())
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var envs []domain.Envelope
	if err := c.getJSON(ctx, path, &envs); err != nil {
		return nil, err
	}
	return envs, nil
}

// AckMessages sends an acknowledgment to POST /msg/{user}/ack with {count}.
func (c *HTTP) AckMessages(ctx context.Context, username domain.Username, count int) error {
	payload := struct {
		Count int `json:"count"`
	}{Count: count}
	return c.post(ctx, "/msg/"+url.PathEscape(username.String())+"/ack", payload, nil)
}

// FetchAccountCanary retrieves the server-derived identity-key canary for
// username, used to detect a silent identity-key swap on the relay.
func (c *HTTP) FetchAccountCanary(ctx context.Context, username domain.Username) (string, error) {
	var out struct {
		Canary string `json:"canary"`
	}
	if err := c.getJSON(ctx, "/account/"+url.PathEscape(username.String())+"/canary", &out); err != nil {
		return "", err
	}
	return out.Canary, nil
}

// RegisterDevice publishes a device record to POST /devices/{owner}.
func (c *HTTP) RegisterDevice(ctx context.Context, owner domain.Username, rec domain.DeviceRecord) error {
	return c.post(ctx, "/devices/"+url.PathEscape(owner.String()), rec, nil)
}

// ListDevices retrieves the relay's device directory via GET /devices/{owner}.
func (c *HTTP) ListDevices(ctx context.Context, owner domain.Username) ([]domain.DeviceRecord, error) {
	var out []domain.DeviceRecord
	if err := c.getJSON(ctx, "/devices/"+url.PathEscape(owner.String()), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BindConversation asks the relay for peer's device list via
// POST /conversations/{id}/bind.
func (c *HTTP) BindConversation(
	ctx context.Context,
	conv domain.ConversationID,
	peer domain.Username,
) ([]domain.ConversationBinding, error) {
	req := struct {
		Peer domain.Username `json:"peer"`
	}{Peer: peer}
	var out []domain.ConversationBinding
	if err := c.post(ctx, "/conversations/"+url.PathEscape(conv.String())+"/bind", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// post is a helper for JSON-encoding a POST to path.
func (c *HTTP) post(ctx context.Context, path string, in any, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("relay post %s: %s", path, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// getJSON performs a GET and JSON-decodes the response into out.
func (c *HTTP) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("relay get %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Compile-time assertion that HTTP implements domain.RelayClient.
var _ domain.RelayClient = (*HTTP)(nil)
