// Package main provides the rdfpub binary entry point.
// rdfpub publishes RDF datasets to an on-chain repository account as a
// sequence of signed transactions.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/c360studio/rdfpub/config"
	"github.com/spf13/cobra"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "rdfpub"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(exitSoftware)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

// globalFlags are shared by all subcommands.
type globalFlags struct {
	configPath string
	logLevel   string
	network    string
	rpcURL     string
	quiet      bool
}

func rootCmd(stdout, stderr io.Writer) *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Publish RDF datasets to an on-chain repository",
		Long: `rdfpub publishes RDF datasets to an on-chain repository account.

Input files (Turtle, N-Triples, N-Quads, TriG, RDF/XML, JSON-LD) are parsed
into statements, encoded into compact binary records, packed into batches no
larger than one transaction payload and submitted as signed rdf_insert calls
with strictly sequential nonces.

The signing key is taken from the environment variable named by
signer.key_env (default NEAR_PRIVATE_KEY) or looked up in the OS keychain and
the credentials directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	pf.StringVar(&flags.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	pf.StringVar(&flags.network, "network", "", "Network preset (mainnet, testnet, localnet)")
	pf.StringVar(&flags.rpcURL, "rpc-url", "", "JSON-RPC endpoint overriding the network preset")
	pf.BoolVarP(&flags.quiet, "quiet", "q", false, "Suppress progress output")

	cmd.AddCommand(publishCmd(&flags))
	cmd.AddCommand(prepareCmd(&flags))

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// setup configures logging and loads the layered configuration.
func setup(cmd *cobra.Command, flags *globalFlags) (*config.Config, *slog.Logger, error) {
	logger := newLogger(cmd.ErrOrStderr(), flags.logLevel)
	slog.SetDefault(logger)

	cfg, err := config.NewLoader(logger).Load(flags.configPath)
	if err != nil {
		return nil, nil, err
	}

	// Flags take precedence over files and environment
	if flags.network != "" {
		cfg.Network.Name = flags.network
	}
	if flags.rpcURL != "" {
		cfg.Network.RPCURL = flags.rpcURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, usageError{err}
	}
	return cfg, logger, nil
}

func newLogger(w io.Writer, logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// usageArgs marks argument validation failures as usage errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}
