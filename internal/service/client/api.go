package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"castle_chat/internal/model"
	"castle_chat/internal/protocol/castle"
	transport "castle_chat/internal/transport/websocket"
)

type (
	// Client talks to a relay: channels, websocket dialing and the
	// certificate directory.
	Client struct {
		base *url.URL
		http *http.Client
	}
)

var _ castle.Directory = (*Client)(nil)

func NewClient(baseURL string) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("relay url: unsupported scheme %q", u.Scheme)
	}
	return &Client{
		base: u,
		http: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = c.base.Path + path
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), r)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}

	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return resp.StatusCode, nil
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// CreateChannel registers a fresh channel on the relay.
func (c *Client) CreateChannel(ctx context.Context) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	status, err := c.do(ctx, http.MethodPost, "/channels", nil, &out)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated || out.ID == "" {
		return "", fmt.Errorf("create channel: status %d", status)
	}
	return out.ID, nil
}

// Dial joins channel as peer.
func (c *Client) Dial(ctx context.Context, channel, peer string) (*transport.Conn, error) {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = c.base.Path + "/channels/" + url.PathEscape(channel) + "/ws"
	u.RawQuery = url.Values{"peer": []string{peer}}.Encode()

	return transport.Dial(ctx, u.String())
}

// GetByName returns nil, nil when the directory has no certificate for name.
func (c *Client) GetByName(ctx context.Context, name string) (*model.Certificate, error) {
	var cert model.Certificate
	status, err := c.do(ctx, http.MethodGet, "/directory/"+url.PathEscape(name), nil, &cert)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("get certificate: status %d", status)
	}
	return &cert, nil
}

func (c *Client) Register(ctx context.Context, name string, publicKey []byte) (*model.Certificate, error) {
	var cert model.Certificate
	body := map[string][]byte{"public_key": publicKey}
	status, err := c.do(ctx, http.MethodPut, "/directory/"+url.PathEscape(name), body, &cert)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("register: status %d", status)
	}
	return &cert, nil
}

// RootKey fetches the key the directory signs certificates with.
func (c *Client) RootKey(ctx context.Context) (ed25519.PublicKey, error) {
	var out struct {
		PublicKey []byte `json:"public_key"`
	}
	status, err := c.do(ctx, http.MethodGet, "/directory/root", nil, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("root key: status %d", status)
	}
	if len(out.PublicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("root key: length %d", len(out.PublicKey))
	}
	return ed25519.PublicKey(out.PublicKey), nil
}
