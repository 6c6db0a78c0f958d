package network

import (
	"errors"
	"testing"

	"github.com/near/borsh-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	n, err := Lookup("testnet", "")
	require.NoError(t, err)
	assert.Equal(t, "https://rpc.testnet.near.org", n.RPCURL)

	n, err = Lookup("MainNet", "")
	require.NoError(t, err)
	assert.Equal(t, "mainnet", n.Name)

	n, err = Lookup("testnet", "http://proxy:8080")
	require.NoError(t, err)
	assert.Equal(t, "http://proxy:8080", n.RPCURL)

	n, err = Lookup("betanet", "http://betanet:3030")
	require.NoError(t, err)
	assert.Equal(t, Network{Name: "betanet", RPCURL: "http://betanet:3030"}, n)

	_, err = Lookup("betanet", "")
	assert.ErrorContains(t, err, "unknown network")
}

func TestInsertArgs(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	args, err := InsertArgs("people", payload)
	require.NoError(t, err)

	// version u8, dataset (u32 length + bytes), encoding u8, payload
	want := []byte{1, 6, 0, 0, 0, 'p', 'e', 'o', 'p', 'l', 'e', 1, 0xde, 0xad, 0xbe, 0xef}
	assert.Equal(t, want, args)

	var header insertHeader
	require.NoError(t, borsh.Deserialize(&header, args[:12]))
	assert.Equal(t, insertHeader{Version: 1, Dataset: "people", Encoding: 1}, header)

	empty, err := InsertArgs("", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 0, 0, 0, 1}, empty)
}

func TestSignedTransactionRoundTrip(t *testing.T) {
	tx := SignedTransaction{
		Transaction: Transaction{
			SignerID:    "publisher.testnet",
			PublicKey:   make([]byte, 32),
			Nonce:       17,
			ReceiverID:  "repo.testnet",
			Method:      InsertMethod,
			Args:        []byte("args"),
			Gas:         DefaultGas,
			PayloadHash: []byte{0x12, 0x20, 1, 2},
		},
		Signature: make([]byte, 64),
	}

	data, err := tx.Encode()
	require.NoError(t, err)
	got, err := DecodeSignedTransaction(data)
	require.NoError(t, err)
	assert.Equal(t, tx, got)

	h1, err := tx.Hash()
	require.NoError(t, err)
	tx.Transaction.Nonce++
	h2, err := tx.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestErrorClasses(t *testing.T) {
	base := errors.New("boom")

	assert.True(t, IsTransient(NewTransientError(base)))
	assert.False(t, IsTerminal(NewTransientError(base)))

	assert.True(t, IsTransient(NewNonceError(base)))
	assert.True(t, IsNonceConflict(NewNonceError(base)))

	assert.True(t, IsTerminal(NewTerminalError(base)))
	assert.False(t, IsTransient(NewTerminalError(base)))

	assert.False(t, IsTransient(base))
	assert.False(t, IsTerminal(base))

	wrapped := errors.Join(errors.New("ctx"), NewNonceError(base))
	assert.True(t, IsNonceConflict(wrapped))
	assert.ErrorIs(t, NewTerminalError(base), base)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "pending", StatusPending.String())
	assert.Equal(t, "confirmed", StatusConfirmed.String())
	assert.Equal(t, "failed", StatusFailed.String())
}
