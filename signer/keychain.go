package signer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
)

// DefaultKeychainService is the OS keychain service name entries are stored under.
const DefaultKeychainService = "rdfpub"

// Keychain looks up key material by account identifier. Implementations
// return errors matching ErrKeychainNotFound or ErrKeychainDenied so callers
// can tell a missing entry from refused access.
type Keychain interface {
	Lookup(ctx context.Context, account string) (string, error)
}

// OSKeychain reads key material from the operating system keychain
// (macOS Keychain, Secret Service, Windows Credential Manager).
type OSKeychain struct {
	// Service is the keychain service name. Empty uses DefaultKeychainService.
	Service string
}

// Lookup fetches the entry for account. The platform may block while it asks
// the user for consent, so the call is abandoned when ctx is done.
func (k OSKeychain) Lookup(ctx context.Context, account string) (string, error) {
	service := k.Service
	if service == "" {
		service = DefaultKeychainService
	}

	type result struct {
		secret string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		secret, err := keyring.Get(service, account)
		done <- result{secret, err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrKeychainDenied, ctx.Err())
	case r := <-done:
		switch {
		case r.err == nil:
			return r.secret, nil
		case errors.Is(r.err, keyring.ErrNotFound):
			return "", fmt.Errorf("%w: %s/%s", ErrKeychainNotFound, service, account)
		default:
			// Locked, refused and unavailable keychains all mean no access.
			return "", fmt.Errorf("%w: %v", ErrKeychainDenied, r.err)
		}
	}
}

// credentialFile is the JSON layout written by the network's CLI tools.
type credentialFile struct {
	AccountID  string `json:"account_id"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// CredentialsDir reads key material from a credentials directory laid out as
// <Directory>/<Network>/<account>.json.
type CredentialsDir struct {
	Directory string
	Network   string
}

// DefaultCredentialsDirectory returns ~/.near-credentials.
func DefaultCredentialsDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".near-credentials"), nil
}

func (c CredentialsDir) path(account string) string {
	return filepath.Join(c.Directory, c.Network, account+".json")
}

// Lookup reads the credential file of account.
func (c CredentialsDir) Lookup(_ context.Context, account string) (string, error) {
	if err := CheckAccountID(account); err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeychainNotFound, err)
	}

	data, err := os.ReadFile(c.path(account))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("%w: %s", ErrKeychainNotFound, c.path(account))
	case errors.Is(err, fs.ErrPermission):
		return "", fmt.Errorf("%w: %v", ErrKeychainDenied, err)
	case err != nil:
		return "", fmt.Errorf("read credentials: %w", err)
	}

	var cred credentialFile
	if err := json.Unmarshal(data, &cred); err != nil {
		return "", fmt.Errorf("%w: parse credentials: %v", ErrInvalidKey, err)
	}
	if cred.AccountID != "" && cred.AccountID != account {
		return "", fmt.Errorf("%w: credentials file is for %q", ErrInvalidKey, cred.AccountID)
	}
	return cred.PrivateKey, nil
}

// Chain tries keychains in order and returns the first entry found. A denial
// is remembered and reported only if no later keychain has the entry.
type Chain []Keychain

// Lookup implements Keychain.
func (c Chain) Lookup(ctx context.Context, account string) (string, error) {
	var denied error
	var errs []error
	for _, kc := range c {
		secret, err := kc.Lookup(ctx, account)
		if err == nil {
			return secret, nil
		}
		if errors.Is(err, ErrKeychainDenied) && denied == nil {
			denied = err
		}
		errs = append(errs, err)
	}
	if denied != nil {
		return "", denied
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("%w: no keychain configured", ErrKeychainNotFound)
	}
	return "", errors.Join(errs...)
}
