package client

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"castle_chat/internal/cryptographic/encryption"
)

var ErrInvalidLink = errors.New("client: invalid join link")

// Link is an invitation to a channel. The secret travels in the fragment so
// it never reaches the relay.
type Link struct {
	Relay   string
	Channel string
	Secret  []byte
}

func NewSecret() ([]byte, error) {
	k, err := encryption.NewKey()
	if err != nil {
		return nil, err
	}
	return k[:], nil
}

func (l Link) String() string {
	return fmt.Sprintf("%s/channels/%s#%s",
		strings.TrimSuffix(l.Relay, "/"),
		url.PathEscape(l.Channel),
		base64.RawURLEncoding.EncodeToString(l.Secret))
}

func ParseLink(raw string) (*Link, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}

	base, channel, ok := strings.Cut(u.Path, "/channels/")
	if !ok || channel == "" || strings.Contains(channel, "/") {
		return nil, fmt.Errorf("%w: no channel in %q", ErrInvalidLink, u.Path)
	}

	secret, err := base64.RawURLEncoding.DecodeString(u.Fragment)
	if err != nil || len(secret) == 0 {
		return nil, fmt.Errorf("%w: bad secret", ErrInvalidLink)
	}

	relay := url.URL{Scheme: u.Scheme, Host: u.Host, Path: base}
	return &Link{
		Relay:   relay.String(),
		Channel: channel,
		Secret:  secret,
	}, nil
}
