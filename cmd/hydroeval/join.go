package main

import (
	"errors"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/hydroeval/internal/adapter/parquet"
	"github.com/couchcryptid/hydroeval/internal/domain"
	"github.com/couchcryptid/hydroeval/internal/store"
	"github.com/couchcryptid/hydroeval/internal/study"
)

var (
	joinFields  []string
	joinOutput  string
	joinPublish bool
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Build the joined timeseries table and export it to Parquet",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if joinPublish && !cfg.KafkaEnabled {
			return errors.New("--publish requires KAFKA_ENABLED=true")
		}

		db, err := openJoined(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := addFields(ctx, db, joinFields); err != nil {
			return err
		}
		joined, err := db.GetJoinedTimeseries(ctx, store.Query{})
		if err != nil {
			return err
		}

		out := joinOutput
		if out == "" {
			out = parquet.Layout{Root: cfg.DataDir}.Path(domain.KindJoined, study.JoinedExportName)
		}
		n, err := parquet.ExportTable(out, joined, cfg.ParquetCompression)
		if err != nil {
			return err
		}
		cmd.Printf("wrote %d joined rows to %s\n", n, out)

		if joinPublish {
			pub := newPublisher()
			defer pub.Close()
			sent, err := pub.PublishTable(ctx, joined)
			if err != nil {
				return err
			}
			cmd.Printf("published %d rows to %s\n", sent, cfg.KafkaTopic)
		}
		return nil
	},
}

// parseFieldSpec splits kind[:name[:param,param]].
func parseFieldSpec(s string) (kind, name string, params []string) {
	parts := strings.SplitN(s, ":", 3)
	kind = parts[0]
	if len(parts) > 1 {
		name = parts[1]
	}
	if len(parts) > 2 && parts[2] != "" {
		params = strings.Split(parts[2], ",")
	}
	return kind, name, params
}

func init() {
	joinCmd.Flags().StringArrayVar(&joinFields, "field", nil, "calculated field kind[:name[:params]] (repeatable)")
	joinCmd.Flags().StringVar(&joinOutput, "output", "", "Parquet output path (default <data-dir>/joined/joined_timeseries.parquet)")
	joinCmd.Flags().BoolVar(&joinPublish, "publish", false, "publish joined rows to Kafka")
	rootCmd.AddCommand(joinCmd)
}
