// Package main implements a mock network node for local end-to-end runs.
// It serves the JSON-RPC methods rdfpub uses (query view_access_key,
// broadcast_tx_async, tx) from an in-memory network that enforces nonce
// order, so a publish run can be exercised without a real endpoint.
//
// Usage:
//
//	mock-node --port 3030 --pending-polls 2
//	rdfpub --rpc-url http://localhost:3030 publish repo.testnet data.ttl
//
// GET /stats reports call counters and every accepted transaction.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/c360studio/rdfpub/network"
	"github.com/c360studio/rdfpub/network/networktest"
	"github.com/spf13/cobra"
)

type nodeOptions struct {
	port             int
	startNonce       uint64
	pendingPolls     int
	failEvery        int
	verifySignatures bool
	logLevel         string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var opts nodeOptions

	cmd := &cobra.Command{
		Use:          "mock-node",
		Short:        "Serve an in-memory network over JSON-RPC",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.port, "port", 3030, "Port to listen on")
	f.Uint64Var(&opts.startNonce, "start-nonce", 1, "First nonce of every account")
	f.IntVar(&opts.pendingPolls, "pending-polls", 0, "Status queries reporting pending before a transaction is final")
	f.IntVar(&opts.failEvery, "fail-every", 0, "Fail execution of every n-th accepted transaction (0 disables)")
	f.BoolVar(&opts.verifySignatures, "verify-signatures", true, "Reject transactions with a bad signature")
	f.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	return cmd
}

func newNetwork(opts nodeOptions) *networktest.Network {
	n := networktest.New()
	n.StartNonce = opts.startNonce
	n.PendingPolls = opts.pendingPolls
	n.VerifySignatures = opts.verifySignatures
	if opts.failEvery > 0 {
		every := opts.failEvery
		n.FailExecution = func(i int, _ network.SignedTransaction) string {
			if (i+1)%every == 0 {
				return "FunctionCallError: injected failure"
			}
			return ""
		}
	}
	return n
}

func run(ctx context.Context, opts nodeOptions) error {
	if opts.startNonce == 0 {
		return fmt.Errorf("start nonce must be at least 1")
	}
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(opts.logLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.port),
		Handler:           networktest.NewRPCServer(newNetwork(opts), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Mock node listening", "addr", server.Addr, "start_nonce", opts.startNonce)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("Mock node stopped")
	return nil
}
