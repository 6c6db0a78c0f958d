package signer

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// keyPrefix is the curve prefix of textual key material.
const keyPrefix = "ed25519:"

// KeySource is where the signing key comes from. It is either a KeychainKey
// or an ExplicitKey.
type KeySource interface {
	keySource()
	String() string
}

// KeychainKey looks the key up in a keychain by account identifier.
type KeychainKey struct {
	Account string
}

func (KeychainKey) keySource() {}

func (k KeychainKey) String() string { return "keychain:" + k.Account }

// ExplicitKey carries key material verbatim, typically from the environment.
// Account is optional; when empty the implicit account of the key is used.
type ExplicitKey struct {
	Account  string
	Material string
}

func (ExplicitKey) keySource() {}

// String never includes the key material.
func (k ExplicitKey) String() string { return "explicit" }

// Sources returns key sources in resolution order: explicit material first,
// then the keychain entry for account.
func Sources(account, material string) []KeySource {
	var sources []KeySource
	if strings.TrimSpace(material) != "" {
		sources = append(sources, ExplicitKey{Account: account, Material: material})
	}
	if account != "" {
		sources = append(sources, KeychainKey{Account: account})
	}
	return sources
}

// ParseKey decodes "ed25519:<base58>" key material. Both 32-byte seeds and
// 64-byte private keys are accepted; the prefix is optional.
func ParseKey(material string) (ed25519.PrivateKey, error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if curve, rest, ok := strings.Cut(material, ":"); ok {
		if curve+":" != keyPrefix {
			return nil, fmt.Errorf("%w: unsupported curve %q", ErrInvalidKey, curve)
		}
		material = rest
	}

	raw, err := base58.Decode(material)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		key := ed25519.PrivateKey(raw)
		// The trailing half must be the public key of the seed.
		derived := ed25519.NewKeyFromSeed(key.Seed())
		if !derived.Equal(key) {
			return nil, fmt.Errorf("%w: public half does not match seed", ErrInvalidKey)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: expected %d or %d bytes, got %d", ErrInvalidKey, ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

// FormatPrivateKey encodes a private key as "ed25519:<base58>".
func FormatPrivateKey(key ed25519.PrivateKey) string {
	return keyPrefix + base58.Encode(key)
}

// FormatPublicKey encodes a public key as "ed25519:<base58>".
func FormatPublicKey(pub ed25519.PublicKey) string {
	return keyPrefix + base58.Encode(pub)
}

// ImplicitAccount returns the implicit account identifier of a public key:
// its lower-case hex encoding.
func ImplicitAccount(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

// CheckAccountID validates an account identifier: 2 to 64 characters of
// lower-case letters, digits, '-', '_' and '.' separators.
func CheckAccountID(id string) error {
	if len(id) < 2 || len(id) > 64 {
		return fmt.Errorf("account id %q must be 2 to 64 characters", id)
	}
	prevSep := true
	for _, char := range id {
		switch {
		case (char >= 'a' && char <= 'z') || (char >= '0' && char <= '9'):
			prevSep = false
		case char == '-' || char == '_' || char == '.':
			if prevSep {
				return fmt.Errorf("account id %q has a misplaced separator %q", id, char)
			}
			prevSep = true
		default:
			return fmt.Errorf("invalid character %q in account id %q", char, id)
		}
	}
	if prevSep {
		return fmt.Errorf("account id %q ends with a separator", id)
	}
	return nil
}
