// Command genmock writes a small deterministic sample dataset: two gages with
// hourly observations, hourly forecasts from two issue times, a crosswalk,
// location attributes, gage points as GeoJSON and a study file that ties them
// together.
//
// Usage:
//
//	go run ./cmd/genmock -out data/sample -days 7
//	go run ./cmd/hydroeval run data/sample/study.yaml
package main

import (
	"flag"
	"fmt"
	"log"
	"time"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output directory")
	days := flag.Int("days", 7, "days of hourly observations")
	start := flag.String("start", "2022-10-01", "first observation day (UTC)")
	seed := flag.Uint64("seed", 42, "noise seed")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	if *days < 1 {
		return fmt.Errorf("-days must be positive")
	}
	begin, err := time.Parse(time.DateOnly, *start)
	if err != nil {
		return fmt.Errorf("invalid -start: %w", err)
	}

	files, err := generate(*out, sample{Start: begin.UTC(), Days: *days, Seed: *seed})
	if err != nil {
		return err
	}
	for _, f := range files {
		log.Printf("wrote %s", f)
	}
	return nil
}
