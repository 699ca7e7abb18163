package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"time"

	"castle_chat/internal/model"
)

var ErrInvalidSignature = errors.New("signature: invalid certificate signature")

func NewEd25519Keypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

func ED25519Sign(privKey ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(privKey, message)
}

func ED25519Verify(pubKey ed25519.PublicKey, message []byte, signature []byte) bool {
	if len(pubKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pubKey, message, signature)
}

// IssueCertificate binds username to publicKey under the directory key.
func IssueCertificate(root ed25519.PrivateKey, username string, publicKey []byte) *model.Certificate {
	cert := &model.Certificate{
		Username:  username,
		PublicKey: publicKey,
		IssuedAt:  time.Now().UTC().Truncate(time.Second),
	}
	cert.Signature = ED25519Sign(root, cert.SignedBytes())
	return cert
}

func VerifyCertificate(root ed25519.PublicKey, cert *model.Certificate) error {
	if cert == nil || !ED25519Verify(root, cert.SignedBytes(), cert.Signature) {
		return ErrInvalidSignature
	}
	return nil
}
