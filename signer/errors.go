package signer

import "errors"

var (
	// ErrNoSigningKey is returned when no key source yields a usable key.
	// Nothing can be submitted without one.
	ErrNoSigningKey = errors.New("no signing key")

	// ErrKeychainDenied is returned when the keychain refuses or cannot grant
	// access (denied by the user, locked, or unavailable).
	ErrKeychainDenied = errors.New("keychain access denied")

	// ErrKeychainNotFound is returned when the keychain has no entry for the account.
	ErrKeychainNotFound = errors.New("keychain entry not found")

	// ErrInvalidKey is returned when key material cannot be decoded.
	ErrInvalidKey = errors.New("invalid key material")
)
