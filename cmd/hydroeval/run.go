package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/hydroeval/internal/study"
)

var runCmd = &cobra.Command{
	Use:   "run <study.yaml>",
	Short: "Run a complete study: convert, join, fields, exports and metrics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := study.Load(args[0])
		if err != nil {
			return err
		}

		opts := study.Options{
			Convert:      convertOptions(),
			DatabasePath: cfg.DatabasePath,
			KeepDatabase: cfg.KeepDatabase,
		}
		if pub := newPublisher(); pub != nil {
			defer pub.Close()
			opts.Publisher = pub
		}

		res, err := study.NewRunner(opts, logger, metrics).Run(ctx, s)
		if err != nil {
			return err
		}
		cmd.Printf("joined %d rows\n", res.JoinedRows)
		if res.JoinedExport != "" {
			cmd.Printf("joined table: %s\n", res.JoinedExport)
		}
		for _, out := range res.Outputs {
			cmd.Printf("metrics: %s\n", out)
		}
		if res.Published > 0 {
			cmd.Printf("published %d rows\n", res.Published)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
