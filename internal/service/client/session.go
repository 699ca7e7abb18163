package client

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"go.uber.org/zap"

	"castle_chat/internal/chat"
	"castle_chat/internal/protocol/castle"
	"castle_chat/internal/session"
	"castle_chat/internal/utils/log"
)

type (
	Conversation struct {
		Channel *session.Channel
		Chat    *chat.Service
	}
)

// StartAnonymous runs an anonymous castle session over conn. sharedSecret
// is consumed: its bytes are wiped once the handshake payload is sealed.
func StartAnonymous(ctx context.Context, conn session.Conn, sharedSecret []byte, values *chat.Values, opts chat.Options) (*Conversation, error) {
	local, err := castle.NewLocalUser()
	if err != nil {
		return nil, err
	}

	handshake, err := castle.SealPublicKey(sharedSecret, local)
	if err != nil {
		local.Destroy()
		return nil, fmt.Errorf("seal handshake: %w", err)
	}

	ch := session.NewChannel(conn, local, handshake)
	remote, err := castle.NewAnonymousRemoteUser(sharedSecret, ch.Incoming(), "")
	if err != nil {
		local.Destroy()
		return nil, err
	}

	return start(ctx, ch, remote, values, opts)
}

// StartSigned runs a session between directory-registered users. local
// must hold the private key registered for localName.
func StartSigned(ctx context.Context, conn session.Conn, local *castle.LocalUser, localName, remoteName string,
	dir castle.Directory, root ed25519.PublicKey, values *chat.Values, opts chat.Options) (*Conversation, error) {
	ch := session.NewChannel(conn, local, []byte(localName))
	remote := castle.NewSignedRemoteUser(remoteName, dir, root)
	return start(ctx, ch, remote, values, opts)
}

func start(ctx context.Context, ch *session.Channel, remote castle.RemoteUser, values *chat.Values, opts chat.Options) (*Conversation, error) {
	c := chat.New(ch, values, opts)
	if err := ch.Start(ctx, remote); err != nil {
		c.AbortSetup()
		return nil, err
	}

	log.Debug("session started", zap.String("auth", remote.Kind().String()))
	return &Conversation{Channel: ch, Chat: c}, nil
}

func (c *Conversation) Close() {
	c.Chat.Close()
}
