package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/hydroeval/internal/adapter/tabular"
	"github.com/couchcryptid/hydroeval/internal/store"
)

var (
	metricsGroupBy []string
	metricsInclude []string
	metricsOrderBy []string
	metricsFilters []string
	metricsFields  []string
	metricsOutput  string
	metricsFormat  string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Compute grouped comparison metrics over the joined table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		q := store.MetricsQuery{GroupBy: metricsGroupBy, IncludeMetrics: metricsInclude, OrderBy: metricsOrderBy}
		for _, s := range metricsFilters {
			f, err := store.ParseFilter(s)
			if err != nil {
				return err
			}
			q.Filters = append(q.Filters, f)
		}

		db, err := openJoined(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := addFields(ctx, db, metricsFields); err != nil {
			return err
		}
		t, err := db.GetMetrics(ctx, q)
		if err != nil {
			return err
		}

		if metricsOutput != "" {
			return tabular.WriteFile(metricsOutput, t)
		}
		format, err := tabular.ParseFormat(metricsFormat)
		if err != nil {
			return err
		}
		return tabular.Write(cmd.OutOrStdout(), t, format)
	},
}

func init() {
	metricsCmd.Flags().StringSliceVar(&metricsGroupBy, "group-by", []string{"primary_location_id"}, "group columns")
	metricsCmd.Flags().StringSliceVar(&metricsInclude, "include", nil, "metric names (default all)")
	metricsCmd.Flags().StringSliceVar(&metricsOrderBy, "order-by", nil, "result ordering columns")
	metricsCmd.Flags().StringArrayVar(&metricsFilters, "filter", nil, "column:operator:value (repeatable)")
	metricsCmd.Flags().StringArrayVar(&metricsFields, "field", nil, "calculated field kind[:name[:params]] (repeatable)")
	metricsCmd.Flags().StringVar(&metricsOutput, "output", "", "write to a .csv or .json file instead of stdout")
	metricsCmd.Flags().StringVar(&metricsFormat, "format", "csv", "stdout format: csv or json")
	rootCmd.AddCommand(metricsCmd)
}
