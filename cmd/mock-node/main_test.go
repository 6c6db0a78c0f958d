package main

import (
	"context"
	"strings"
	"testing"

	"github.com/c360studio/rdfpub/network"
)

func TestNewNetwork_FailEvery(t *testing.T) {
	n := newNetwork(nodeOptions{startNonce: 1, failEvery: 3})
	if n.FailExecution == nil {
		t.Fatal("expected an execution failure hook")
	}

	var failed []int
	for i := range 7 {
		if n.FailExecution(i, network.SignedTransaction{}) != "" {
			failed = append(failed, i)
		}
	}
	if len(failed) != 2 || failed[0] != 2 || failed[1] != 5 {
		t.Errorf("expected failures at [2 5], got %v", failed)
	}
}

func TestNewNetwork_Defaults(t *testing.T) {
	n := newNetwork(nodeOptions{startNonce: 7, pendingPolls: 2, verifySignatures: true})
	if n.FailExecution != nil {
		t.Error("expected no execution failures")
	}
	if n.StartNonce != 7 || n.PendingPolls != 2 || !n.VerifySignatures {
		t.Errorf("unexpected network settings: start=%d polls=%d verify=%v", n.StartNonce, n.PendingPolls, n.VerifySignatures)
	}
}

func TestRootCmd_Flags(t *testing.T) {
	cmd := rootCmd()
	for _, name := range []string{"port", "start-nonce", "pending-polls", "fail-every", "verify-signatures", "log-level"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("missing flag --%s", name)
		}
	}
}

func TestRun_RejectsZeroStartNonce(t *testing.T) {
	err := run(context.Background(), nodeOptions{startNonce: 0, logLevel: "info"})
	if err == nil || !strings.Contains(err.Error(), "start nonce") {
		t.Errorf("expected start nonce error, got %v", err)
	}
}
