package main

import (
	"fmt"

	"github.com/c360studio/rdfpub/batch"
	"github.com/c360studio/rdfpub/pipeline"
	"github.com/c360studio/rdfpub/rdfsource"
	"github.com/c360studio/rdfpub/tracker"
	"github.com/spf13/cobra"
)

func prepareCmd(flags *globalFlags) *cobra.Command {
	var (
		outputDir string
		format    string
	)

	cmd := &cobra.Command{
		Use:   "prepare FILES...",
		Short: "Encode and batch RDF files into prepared .rdfb files",
		Long: `Prepare runs the parse, encode and batch stages without publishing and
writes every batch to OUTPUT-DIR/prepared.NNNNNN.rdfb. Prepared files can be
published later with "rdfpub publish REPOSITORY prepared.*.rdfb".`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			inputs, err := rdfsource.ExpandInputs(args)
			if err != nil {
				return usageError{err}
			}
			if err := preparedFormat(format); err != nil {
				return usageError{err}
			}

			res, err := pipeline.Prepare(cmd.Context(), inputs, pipeline.PrepareConfig{
				Format:    format,
				Batch:     batch.Config{MaxBytes: cfg.Batch.MaxPayloadBytes},
				OutputDir: outputDir,
			}, logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, in := range res.Inputs {
				fmt.Fprintf(out, "%s: %s statements in %d files, %s\n",
					in.File,
					tracker.FormatNumber(int64(in.Statements)),
					len(in.Outputs),
					tracker.FormatBytes(in.Bytes))
				if in.Err != nil {
					fmt.Fprintf(out, "  stopped: %v\n", in.Err)
				}
			}
			fmt.Fprintf(out, "prepared %s statements in %d files\n",
				tracker.FormatNumber(int64(res.Statements())), len(res.Outputs()))

			if err := res.Err(); err != nil {
				return &exitError{code: exitDataErr, err: err}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", ".", "Directory receiving prepared files")
	cmd.Flags().StringVar(&format, "format", "auto", "Input format")
	return cmd
}

func preparedFormat(format string) error {
	if format == "" || format == "auto" {
		return nil
	}
	_, err := rdfsource.ResolveFormat("", format)
	return err
}
