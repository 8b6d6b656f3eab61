package domain

import (
	"slices"
	"strings"
	"time"
)

// ManifestEntry records one converted input file.
type ManifestEntry struct {
	Kind    DatasetKind `json:"kind"`
	Source  string      `json:"source"`
	Output  string      `json:"output"`
	Rows    int64       `json:"rows"`
	Skipped int64       `json:"skipped"`
}

// Manifest summarizes a conversion run. It is written next to the dataset
// subdirectories so later steps can tell what produced them.
type Manifest struct {
	CreatedAt time.Time       `json:"created_at"`
	Entries   []ManifestEntry `json:"entries"`
}

// NewManifest returns a manifest stamped with the package clock and entries
// sorted by kind load order, then output path.
func NewManifest(entries []ManifestEntry) Manifest {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b ManifestEntry) int {
		if c := slices.Index(DatasetKinds, a.Kind) - slices.Index(DatasetKinds, b.Kind); c != 0 {
			return c
		}
		return strings.Compare(a.Output, b.Output)
	})
	return Manifest{CreatedAt: Now(), Entries: sorted}
}

// Rows returns the total rows written for a kind.
func (m Manifest) Rows(kind DatasetKind) int64 {
	var n int64
	for _, e := range m.Entries {
		if e.Kind == kind {
			n += e.Rows
		}
	}
	return n
}
