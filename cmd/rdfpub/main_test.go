package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/c360studio/rdfpub/batch"
	"github.com/c360studio/rdfpub/rdfsource"
	"github.com/c360studio/rdfpub/signer"
	"github.com/c360studio/rdfpub/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

// execute runs the root command with an isolated home directory.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("NEAR_PRIVATE_KEY", "")
	t.Setenv("RDFPUB_NETWORK", "")
	t.Setenv("RDFPUB_RPC_URL", "")
	t.Setenv("RDFPUB_NATS_URL", "")
	t.Setenv("NATS_URL", "")

	var stdout, stderr bytes.Buffer
	cmd := rootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writeInput(t *testing.T, n int) string {
	t.Helper()
	var buf bytes.Buffer
	for i := range n {
		fmt.Fprintf(&buf, "<http://example.org/s%d> <http://example.org/p> \"v%d\" .\n", i, i)
	}
	path := filepath.Join(t.TempDir(), "data.nt")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"usage", usageError{errors.New("bad flag")}, exitUsage},
		{"no key", fmt.Errorf("%w: keychain:a: %w", signer.ErrNoSigningKey, signer.ErrKeychainDenied), exitNoPerm},
		{"parse error", &rdfsource.ParseError{File: "a.ttl", Err: errors.New("bad token")}, exitDataErr},
		{"oversized", &batch.RecordTooLargeError{File: "a.nt", Size: 10, MaxBytes: 5}, exitDataErr},
		{"unknown format", fmt.Errorf("x: %w", rdfsource.ErrUnknownFormat), exitDataErr},
		{"partial failure", &exitError{code: exitUnavailable, err: tracker.ErrRunFailed}, exitUnavailable},
		{"other", errors.New("boom"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestKeySources(t *testing.T) {
	assert.Equal(t, []signer.KeySource{
		signer.KeychainKey{Account: "repo.testnet"},
	}, keySources("", "repo.testnet", ""))

	assert.Equal(t, []signer.KeySource{
		signer.ExplicitKey{Material: "ed25519:abc"},
		signer.KeychainKey{Account: "repo.testnet"},
	}, keySources("", "repo.testnet", "ed25519:abc"))

	assert.Equal(t, []signer.KeySource{
		signer.ExplicitKey{Account: "me.testnet", Material: "ed25519:abc"},
		signer.KeychainKey{Account: "me.testnet"},
	}, keySources("me.testnet", "repo.testnet", "ed25519:abc"))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "rdfpub version "+Version)
}

func TestPrepareCommand(t *testing.T) {
	input := writeInput(t, 3)
	outDir := t.TempDir()

	out, err := execute(t, "prepare", "--output-dir", outDir, input)
	require.NoError(t, err)
	assert.Contains(t, out, "prepared 3 statements in 1 files")

	b, err := batch.ReadFile(filepath.Join(outDir, batch.PreparedName(1)), batch.DefaultMaxBytes)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Count)
}

func TestPublishWithoutKeyFails(t *testing.T) {
	keyring.MockInit()
	input := writeInput(t, 1)

	cfgPath := filepath.Join(t.TempDir(), "rdfpub.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("signer:\n  credentials_dir: "+t.TempDir()+"\n"), 0644))

	_, err := execute(t, "--config", cfgPath, "publish", "repo.testnet", input)
	require.Error(t, err)
	assert.ErrorIs(t, err, signer.ErrNoSigningKey)
	assert.Equal(t, exitNoPerm, exitCode(err))
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing files", []string{"publish", "repo.testnet"}},
		{"unknown flag", []string{"publish", "--bogus", "repo.testnet", "a.nt"}},
		{"bad repository", []string{"publish", "Repo!", "a.nt"}},
		{"unknown network", []string{"--network", "moonnet", "prepare", "a.nt"}},
		{"nothing to prepare", []string{"prepare"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, exitUsage, exitCode(err), "error: %v", err)
		})
	}
}
