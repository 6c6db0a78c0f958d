// Package network describes the remote network the pipeline publishes to:
// network presets, the signed transaction envelope, and the RPC client.
package network

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/near/borsh-go"
)

// InsertMethod is the repository contract method that stores a batch.
const InsertMethod = "rdf_insert"

// DefaultGas is the gas attached to every insert call (300 Tgas).
const DefaultGas uint64 = 300_000_000_000_000

// Dataset encoding identifiers carried in the insert header.
const (
	argsVersion     uint8 = 1
	encodingRecords uint8 = 1
)

// Network is a named network instance.
type Network struct {
	// Name identifies the network (mainnet, testnet, localnet).
	Name string
	// RPCURL is the JSON-RPC endpoint.
	RPCURL string
}

// Presets holds the known networks.
var Presets = map[string]Network{
	"mainnet":  {Name: "mainnet", RPCURL: "https://rpc.mainnet.near.org"},
	"testnet":  {Name: "testnet", RPCURL: "https://rpc.testnet.near.org"},
	"localnet": {Name: "localnet", RPCURL: "http://localhost:3030"},
}

// Lookup returns the preset named name. A non-empty rpcURL overrides the
// preset endpoint; an unknown name is accepted only with an rpcURL.
func Lookup(name, rpcURL string) (Network, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	n, ok := Presets[name]
	if !ok {
		if rpcURL == "" {
			return Network{}, fmt.Errorf("unknown network %q (known: %s)", name, strings.Join(Names(), ", "))
		}
		n = Network{Name: name}
	}
	if rpcURL != "" {
		n.RPCURL = rpcURL
	}
	return n, nil
}

// Names returns the preset network names, sorted.
func Names() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// insertHeader precedes the batch payload in the insert call arguments.
type insertHeader struct {
	Version  uint8
	Dataset  string
	Encoding uint8
}

// InsertArgs builds the arguments of an insert call: a borsh header with the
// dataset name followed by the raw batch payload.
func InsertArgs(dataset string, payload []byte) ([]byte, error) {
	header, err := borsh.Serialize(insertHeader{Version: argsVersion, Dataset: dataset, Encoding: encodingRecords})
	if err != nil {
		return nil, fmt.Errorf("serialize insert header: %w", err)
	}
	return append(header, payload...), nil
}

// Transaction is one function call on the repository account.
type Transaction struct {
	SignerID    string
	PublicKey   []byte
	Nonce       uint64
	ReceiverID  string
	Method      string
	Args        []byte
	Gas         uint64
	PayloadHash []byte
}

// SignedTransaction is a Transaction plus the signature over its canonical
// signing payload.
type SignedTransaction struct {
	Transaction Transaction
	Signature   []byte
}

// Encode returns the borsh serialization sent to the network.
func (s SignedTransaction) Encode() ([]byte, error) {
	data, err := borsh.Serialize(s)
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}
	return data, nil
}

// DecodeSignedTransaction parses the output of Encode.
func DecodeSignedTransaction(data []byte) (SignedTransaction, error) {
	var s SignedTransaction
	if err := borsh.Deserialize(&s, data); err != nil {
		return SignedTransaction{}, fmt.Errorf("deserialize transaction: %w", err)
	}
	return s, nil
}

// Hash returns the base58 sha256 of the encoded transaction.
func (s SignedTransaction) Hash() (string, error) {
	data, err := s.Encode()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return base58.Encode(sum[:]), nil
}

// Status is the finality state of a broadcast transaction.
type Status int

const (
	// StatusPending means the network has not finalized the transaction yet.
	StatusPending Status = iota
	// StatusConfirmed means the transaction executed successfully and is final.
	StatusConfirmed
	// StatusFailed means the transaction landed but its execution failed.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// TxStatus is the result of a status query.
type TxStatus struct {
	Hash    string
	Status  Status
	Failure string
}

// Client is the network RPC surface the submitter needs.
type Client interface {
	// NextNonce returns the next unused nonce of the signer access key.
	NextNonce(ctx context.Context, account, publicKey string) (uint64, error)

	// Broadcast submits a signed transaction and returns its hash without
	// waiting for execution.
	Broadcast(ctx context.Context, tx SignedTransaction) (string, error)

	// Status reports the finality state of a broadcast transaction.
	Status(ctx context.Context, hash, sender string) (TxStatus, error)
}
