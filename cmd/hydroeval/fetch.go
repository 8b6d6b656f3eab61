package main

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/hydroeval/internal/adapter/gcs"
)

var (
	fetchBucket string
	fetchPrefix string
	fetchDest   string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download raw input files from a GCS bucket",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		bucket, prefix := cfg.GCSBucket, cfg.GCSPrefix
		if fetchBucket != "" {
			bucket = fetchBucket
		}
		if cmd.Flags().Changed("prefix") {
			prefix = fetchPrefix
		}
		if bucket == "" {
			return errors.New("no bucket: set GCS_BUCKET or --bucket")
		}

		client, err := gcs.NewClient(ctx, cfg.GCSAnonymous)
		if err != nil {
			return err
		}
		defer client.Close()

		stats, err := gcs.NewFetcher(client, bucket, prefix, cfg.Concurrency, logger, metrics).Fetch(ctx, fetchDest)
		if err != nil {
			return err
		}
		cmd.Printf("downloaded %d objects (%d bytes) to %s\n", stats.Objects, stats.Bytes, fetchDest)
		return nil
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchBucket, "bucket", "", "bucket name (overrides GCS_BUCKET)")
	fetchCmd.Flags().StringVar(&fetchPrefix, "prefix", "", "object prefix (overrides GCS_PREFIX)")
	fetchCmd.Flags().StringVar(&fetchDest, "dest", "raw", "local destination directory")
	rootCmd.AddCommand(fetchCmd)
}
