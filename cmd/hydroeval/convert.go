package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/hydroeval/internal/adapter/parquet"
	"github.com/couchcryptid/hydroeval/internal/convert"
	"github.com/couchcryptid/hydroeval/internal/domain"
)

var (
	convertKind         string
	convertInput        string
	convertColumns      map[string]string
	convertConstants    map[string]string
	convertIDProperty   string
	convertNameProperty string
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a CSV or GeoJSON input (file or directory) to Parquet",
	Long: "Converts one input file, or every matching file in a directory, into " +
		"<data-dir>/<kind>/<name>.parquet and updates the dataset manifest.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		kind, err := domain.ParseDatasetKind(convertKind)
		if err != nil {
			return err
		}
		if kind == domain.KindJoined {
			return errors.New("joined datasets are built by the join command")
		}

		inputs, err := inputFiles(kind, convertInput)
		if err != nil {
			return err
		}
		jobs := make([]convert.Job, len(inputs))
		for i, in := range inputs {
			jobs[i] = convert.Job{
				Kind:         kind,
				Input:        in,
				Mapping:      domain.Mapping{Columns: convertColumns, Constants: convertConstants},
				IDProperty:   convertIDProperty,
				NameProperty: convertNameProperty,
			}
		}

		conv := convert.New(parquet.Layout{Root: cfg.DataDir}, convertOptions(), logger, metrics)
		manifest, err := conv.ConvertAll(ctx, jobs)
		if err != nil {
			return err
		}
		cmd.Printf("converted %d file(s); %d %s rows in %s\n", len(jobs), manifest.Rows(kind), kind, cfg.DataDir)
		return nil
	},
}

// inputFiles expands a directory into its files with the extensions the
// dataset kind reads.
func inputFiles(kind domain.DatasetKind, input string) ([]string, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	if !info.IsDir() {
		return []string{input}, nil
	}
	exts := []string{".csv"}
	if kind == domain.KindGeometry {
		exts = []string{".geojson", ".json"}
	}
	files, err := convert.Inputs(input, exts...)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no %v files in %s", exts, input)
	}
	return files, nil
}

func init() {
	convertCmd.Flags().StringVar(&convertKind, "kind", "", "dataset kind: primary, secondary, crosswalk, attribute, geometry")
	convertCmd.Flags().StringVar(&convertInput, "input", "", "input file or directory")
	convertCmd.Flags().StringToStringVar(&convertColumns, "column", nil, "field=source_column mapping (repeatable)")
	convertCmd.Flags().StringToStringVar(&convertConstants, "constant", nil, "field=value constant (repeatable)")
	convertCmd.Flags().StringVar(&convertIDProperty, "id-property", "", "GeoJSON property holding the location id")
	convertCmd.Flags().StringVar(&convertNameProperty, "name-property", "", "GeoJSON property holding the location name")
	_ = convertCmd.MarkFlagRequired("kind")
	_ = convertCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(convertCmd)
}
