package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/c360studio/rdfpub/config"
	"github.com/c360studio/rdfpub/network"
	"github.com/c360studio/rdfpub/pipeline"
	"github.com/c360studio/rdfpub/rdfsource"
	"github.com/c360studio/rdfpub/signer"
	"github.com/c360studio/rdfpub/submit"
	"github.com/c360studio/rdfpub/tracker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type publishOptions struct {
	dataset         string
	signer          string
	format          string
	workers         int
	removePublished bool
	metricsAddr     string
	natsURL         string
}

func publishCmd(flags *globalFlags) *cobra.Command {
	var opts publishOptions

	cmd := &cobra.Command{
		Use:   "publish REPOSITORY FILES...",
		Short: "Publish RDF files or prepared batches to a repository account",
		Long: `Publish parses each input, batches its statements and submits the batches
as signed transactions to the REPOSITORY account.

Inputs may be glob patterns or @listfile arguments naming one path per line.
Files ending in .rdfb are prepared batches (see "rdfpub prepare") and are sent
as they are.`,
		Args: usageArgs(cobra.MinimumNArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, flags, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.dataset, "dataset", "", "Dataset name inside the repository")
	f.StringVar(&opts.signer, "signer", "", "Signing account (default: implicit account of the explicit key, else REPOSITORY)")
	f.StringVar(&opts.format, "format", "auto", "Input format ("+strings.Join(rdfsource.FormatNames(), ", ")+", auto)")
	f.IntVar(&opts.workers, "workers", 0, "Transactions in flight (default: config, else available parallelism)")
	f.BoolVar(&opts.removePublished, "remove-published", false, "Delete prepared files once their batch confirms")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus /metrics on this address during the run")
	f.StringVar(&opts.natsURL, "nats-url", "", "Publish run events to this NATS server")
	return cmd
}

func runPublish(cmd *cobra.Command, flags *globalFlags, opts publishOptions, args []string) error {
	ctx := cmd.Context()
	cfg, logger, err := setup(cmd, flags)
	if err != nil {
		return err
	}

	repository := args[0]
	if err := signer.CheckAccountID(repository); err != nil {
		return usageError{fmt.Errorf("repository: %w", err)}
	}
	inputs, err := rdfsource.ExpandInputs(args[1:])
	if err != nil {
		return usageError{err}
	}
	if len(inputs) == 0 {
		return usageError{fmt.Errorf("no input files")}
	}

	if opts.signer != "" {
		cfg.Signer.Account = opts.signer
	}
	if opts.workers > 0 {
		cfg.Submit.Workers = opts.workers
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if opts.natsURL != "" {
		cfg.NATS.URL = opts.natsURL
	}

	target, err := cfg.NetworkTarget()
	if err != nil {
		return usageError{err}
	}
	client := network.NewRPCClient(target,
		network.WithHTTPClient(&http.Client{Timeout: cfg.Network.Timeout}),
		network.WithLogger(logger))

	keychain := buildKeychain(cfg, target.Name)
	sources := keySources(cfg.Signer.Account, repository, os.Getenv(cfg.Signer.KeyEnv))

	pcfg := cfg.Pipeline(repository, opts.dataset)
	pcfg.Format = opts.format
	pcfg.RemovePublished = opts.removePublished

	tr := tracker.New(tracker.WithLogger(logger))
	if !flags.quiet {
		tr.Observe(tracker.NewProgress(cmd.ErrOrStderr(), 500*time.Millisecond).Observer(tr))
	}

	closeEvents := attachEvents(ctx, cfg.NATS, tr, logger)
	defer closeEvents()

	var metrics *submit.Metrics
	if cfg.Metrics.Addr != "" {
		metrics = submit.NewMetrics(prometheus.DefaultRegisterer)
		stop := serveMetrics(cfg.Metrics.Addr, logger)
		defer stop()
	}

	p, err := pipeline.New(client, keychain, sources, pcfg,
		pipeline.WithLogger(logger),
		pipeline.WithTracker(tr),
		pipeline.WithMetrics(metrics))
	if err != nil {
		return usageError{err}
	}

	res, err := p.Publish(ctx, inputs)
	if err != nil {
		return err
	}

	tracker.PrintSummary(cmd.OutOrStdout(), res)
	if rerr := res.Err(); rerr != nil {
		code := exitUnavailable
		if len(res.Failures) == 0 && !res.Summary.Cancelled {
			code = exitDataErr
		}
		return &exitError{code: code, err: rerr}
	}
	return nil
}

// keySources orders key sources: explicit material first, then the keychain
// entry of the signer account, or of the repository when no signer is set.
func keySources(account, repository, material string) []signer.KeySource {
	sources := signer.Sources(account, material)
	if account == "" {
		sources = append(sources, signer.KeychainKey{Account: repository})
	}
	return sources
}

// buildKeychain chains the OS keychain with the credentials directory of the
// target network.
func buildKeychain(cfg *config.Config, networkName string) signer.Keychain {
	osKeychain := signer.OSKeychain{Service: cfg.Signer.KeychainService}

	dir := cfg.Signer.CredentialsDir
	if dir == "" {
		var err error
		if dir, err = signer.DefaultCredentialsDirectory(); err != nil {
			return osKeychain
		}
	}
	return signer.Chain{osKeychain, signer.CredentialsDir{Directory: dir, Network: networkName}}
}
