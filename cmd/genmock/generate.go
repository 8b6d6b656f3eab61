package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

type gage struct {
	ID          string
	ReachID     string
	Name        string
	Lon, Lat    float64
	Area        float64 // km^2
	EcoRegion   string
	BaseFlow    float64 // m^3/s
	PeakFlow    float64
	PeakHour    int
	ModelBias   float64
	ModelLagHrs int
}

var gages = []gage{
	{ID: "usgs-07160500", ReachID: "nwm-1234567", Name: "Cimarron River near Guthrie", Lon: -97.42, Lat: 35.88,
		Area: 3240, EcoRegion: "Central Great Plains", BaseFlow: 12, PeakFlow: 180, PeakHour: 60, ModelBias: 1.15, ModelLagHrs: 3},
	{ID: "usgs-07241550", ReachID: "nwm-7654321", Name: "", Lon: -97.27, Lat: 35.45,
		Area: 1050, EcoRegion: "Cross Timbers", BaseFlow: 4, PeakFlow: 65, PeakHour: 84, ModelBias: 0.9, ModelLagHrs: -2},
}

const (
	variableName    = "streamflow_hourly_inst"
	measurementUnit = "m^3/s"
	forecastHours   = 18
)

// sample configures the generated period.
type sample struct {
	Start time.Time
	Days  int
	Seed  uint64
}

// generate writes the sample dataset under dir and returns the files written.
func generate(dir string, s sample) ([]string, error) {
	raw := filepath.Join(dir, "raw")
	if err := os.MkdirAll(raw, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	rng := rand.New(rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15))
	hours := s.Days * 24

	writers := []struct {
		name  string
		write func(path string) error
	}{
		{"raw/usgs_observations.csv", func(p string) error { return writeObservations(p, s.Start, hours, rng) }},
		{"raw/nwm_forecasts.csv", func(p string) error { return writeForecasts(p, s.Start, hours, rng) }},
		{"raw/crosswalk.csv", writeCrosswalk},
		{"raw/attributes.csv", writeAttributes},
		{"raw/gages.geojson", writeGages},
		{"study.yaml", writeStudy},
	}
	files := make([]string, 0, len(writers))
	for _, w := range writers {
		path := filepath.Join(dir, filepath.FromSlash(w.name))
		if err := w.write(path); err != nil {
			return nil, fmt.Errorf("write %s: %w", w.name, err)
		}
		files = append(files, path)
	}
	return files, nil
}

// hydrograph is a base flow plus one storm peak with an exponential recession.
func hydrograph(g gage, hour int) float64 {
	dt := float64(hour - g.PeakHour)
	if dt < 0 {
		return g.BaseFlow + g.PeakFlow*math.Exp(-dt*dt/72)
	}
	return g.BaseFlow + g.PeakFlow*math.Exp(-dt/20)
}

func round(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', 2, 64)
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeObservations uses provider-style headers so the study needs a column
// mapping. Every 50th value is missing.
func writeObservations(path string, start time.Time, hours int, rng *rand.Rand) error {
	var rows [][]string
	n := 0
	for _, g := range gages {
		for h := range hours {
			n++
			value := round(hydrograph(g, h) * (1 + 0.03*rng.NormFloat64()))
			if n%50 == 0 {
				value = "NaN"
			}
			rows = append(rows, []string{g.ID, start.Add(time.Duration(h) * time.Hour).Format(time.DateTime), value})
		}
	}
	return writeCSV(path, []string{"site_no", "datetime", "discharge_cms"}, rows)
}

// writeForecasts issues a forecast every 12 hours with forecastHours lead
// times each. Forecasts are biased and shifted copies of the hydrograph.
func writeForecasts(path string, start time.Time, hours int, rng *rand.Rand) error {
	var rows [][]string
	for _, g := range gages {
		for issue := 0; issue+forecastHours <= hours; issue += 12 {
			ref := start.Add(time.Duration(issue) * time.Hour)
			for lead := 1; lead <= forecastHours; lead++ {
				h := issue + lead
				noise := 1 + 0.01*float64(lead)*rng.NormFloat64()
				v := hydrograph(g, h-g.ModelLagHrs) * g.ModelBias * noise
				rows = append(rows, []string{
					g.ReachID,
					ref.Format(time.RFC3339),
					start.Add(time.Duration(h) * time.Hour).Format(time.RFC3339),
					round(math.Max(v, 0)),
				})
			}
		}
	}
	return writeCSV(path, []string{"feature_id", "reference_time", "value_time", "streamflow"}, rows)
}

func writeCrosswalk(path string) error {
	rows := make([][]string, len(gages))
	for i, g := range gages {
		rows[i] = []string{g.ID, g.ReachID}
	}
	return writeCSV(path, []string{"primary_location_id", "secondary_location_id"}, rows)
}

func writeAttributes(path string) error {
	rows := make([][]string, len(gages))
	for i, g := range gages {
		rows[i] = []string{g.ID, strconv.FormatFloat(g.Area, 'f', -1, 64), g.EcoRegion}
	}
	return writeCSV(path, []string{"location_id", "drainage_area_km2", "ecoregion"}, rows)
}

// writeGages leaves the second gage unnamed so geocoding has work to do.
func writeGages(path string) error {
	fc := geojson.FeatureCollection{}
	for _, g := range gages {
		props := map[string]any{"gage_id": g.ID}
		if g.Name != "" {
			props["station_nm"] = g.Name
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry:   geom.NewPointFlat(geom.XY, []float64{g.Lon, g.Lat}),
			Properties: props,
		})
	}
	data, err := json.MarshalIndent(&fc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

const studyTemplate = `name: sample
dataset_dir: dataset
export_joined: true
inputs:
  - kind: primary
    path: raw/usgs_observations.csv
    columns: {location_id: site_no, value_time: datetime, value: discharge_cms}
    constants: {variable_name: %[1]s, measurement_unit: %[2]q, configuration_name: usgs_observations}
  - kind: secondary
    path: raw/nwm_forecasts.csv
    columns: {location_id: feature_id, value: streamflow}
    constants: {variable_name: %[1]s, measurement_unit: %[2]q, configuration_name: nwm_short_range}
  - kind: crosswalk
    path: raw/crosswalk.csv
  - kind: attribute
    path: raw/attributes.csv
  - kind: geometry
    path: raw/gages.geojson
    id_property: gage_id
    name_property: station_nm
calculated_fields:
  - kind: month
  - kind: season
  - kind: normalized_flow
    name: primary_normalized_flow
    params: [primary_value, drainage_area_km2]
metrics:
  - group_by: [primary_location_id, configuration_name]
    output: metrics/by_location.csv
  - group_by: [primary_location_id, lead_time]
    include: [primary_count, mean_error, root_mean_squared_error, kling_gupta_efficiency]
    order_by: [primary_location_id, lead_time]
    output: metrics/by_lead_time.json
`

func writeStudy(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf(studyTemplate, variableName, measurementUnit)), 0o644)
}
