// Package signer resolves the signing key of a run and signs batch payloads.
package signer

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"

	"github.com/c360studio/rdfpub/batch"
	"github.com/near/borsh-go"
)

// SigningPayload is the canonical message a signature covers.
type SigningPayload struct {
	SignerID    string
	ReceiverID  string
	Nonce       uint64
	PayloadHash []byte
}

// Canonical returns the borsh serialization of the payload.
func (p SigningPayload) Canonical() ([]byte, error) {
	data, err := borsh.Serialize(p)
	if err != nil {
		return nil, fmt.Errorf("serialize signing payload: %w", err)
	}
	return data, nil
}

// Signature is a signature over a SigningPayload.
type Signature struct {
	Payload   SigningPayload
	PublicKey ed25519.PublicKey
	Bytes     []byte
}

// Verify checks sig over payload with the ed25519 public key pub.
func Verify(pub ed25519.PublicKey, payload SigningPayload, sig []byte) bool {
	msg, err := payload.Canonical()
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	digest := sha256.Sum256(msg)
	return ed25519.Verify(pub, digest[:], sig)
}

// Signer holds one resolved signing identity.
type Signer struct {
	account string
	key     ed25519.PrivateKey
}

// New creates a Signer for account. An empty account uses the implicit
// account of the key.
func New(account string, key ed25519.PrivateKey) *Signer {
	if account == "" {
		account = ImplicitAccount(key.Public().(ed25519.PublicKey))
	}
	return &Signer{account: account, key: key}
}

// Account returns the signing account identifier.
func (s *Signer) Account() string { return s.account }

// PublicKey returns the public half of the signing key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

// String describes the signer without key material.
func (s *Signer) String() string {
	return s.account + " (" + FormatPublicKey(s.PublicKey()) + ")"
}

// Sign signs sha256 of the canonical (signer, receiver, nonce, payload hash)
// message for b.
func (s *Signer) Sign(b *batch.Batch, receiver string, nonce uint64) (Signature, error) {
	hash, err := b.Hash()
	if err != nil {
		return Signature{}, fmt.Errorf("hash batch payload: %w", err)
	}

	payload := SigningPayload{
		SignerID:    s.account,
		ReceiverID:  receiver,
		Nonce:       nonce,
		PayloadHash: hash,
	}
	msg, err := payload.Canonical()
	if err != nil {
		return Signature{}, err
	}

	digest := sha256.Sum256(msg)
	return Signature{
		Payload:   payload,
		PublicKey: s.PublicKey(),
		Bytes:     ed25519.Sign(s.key, digest[:]),
	}, nil
}

// Resolve walks sources in order and returns a Signer for the first usable
// key. When none yields a key the error matches ErrNoSigningKey and each
// source's cause (ErrKeychainDenied, ErrKeychainNotFound, ErrInvalidKey).
func Resolve(ctx context.Context, keychain Keychain, logger *slog.Logger, sources ...KeySource) (*Signer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var causes []error
	for _, src := range sources {
		s, err := resolveOne(ctx, keychain, src)
		if err == nil {
			logger.Debug("Resolved signing key", "source", src.String(), "account", s.Account())
			return s, nil
		}
		logger.Debug("Key source unusable", "source", src.String(), "error", err)
		causes = append(causes, fmt.Errorf("%s: %w", src, err))
	}

	if len(causes) == 0 {
		return nil, fmt.Errorf("%w: no key source configured", ErrNoSigningKey)
	}
	return nil, fmt.Errorf("%w: %w", ErrNoSigningKey, errors.Join(causes...))
}

func resolveOne(ctx context.Context, keychain Keychain, src KeySource) (*Signer, error) {
	switch k := src.(type) {
	case ExplicitKey:
		key, err := ParseKey(k.Material)
		if err != nil {
			return nil, err
		}
		return New(k.Account, key), nil
	case KeychainKey:
		if keychain == nil {
			return nil, fmt.Errorf("%w: no keychain configured", ErrKeychainNotFound)
		}
		material, err := keychain.Lookup(ctx, k.Account)
		if err != nil {
			return nil, err
		}
		key, err := ParseKey(material)
		if err != nil {
			return nil, err
		}
		return New(k.Account, key), nil
	default:
		return nil, fmt.Errorf("unsupported key source %T", src)
	}
}
