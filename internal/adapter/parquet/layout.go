// Package parquet stores evaluation datasets as Parquet files under a fixed
// directory layout: one subdirectory per dataset kind.
package parquet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/couchcryptid/hydroeval/internal/domain"
)

// ManifestFile is written in the layout root after conversion.
const ManifestFile = "_manifest.json"

// Layout resolves dataset paths under Root.
type Layout struct {
	Root string
}

// Dir returns the subdirectory for a dataset kind.
func (l Layout) Dir(kind domain.DatasetKind) string {
	return filepath.Join(l.Root, string(kind))
}

// Path returns <root>/<kind>/<name>.parquet. Any extension on name is replaced.
func (l Layout) Path(kind domain.DatasetKind, name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	return filepath.Join(l.Dir(kind), base+".parquet")
}

// Ensure creates every dataset subdirectory.
func (l Layout) Ensure() error {
	for _, kind := range domain.DatasetKinds {
		if err := os.MkdirAll(l.Dir(kind), 0o755); err != nil {
			return fmt.Errorf("create %s dir: %w", kind, err)
		}
	}
	return nil
}

// Files lists the Parquet files of a kind in lexical order. A missing
// directory yields no files.
func (l Layout) Files(kind domain.DatasetKind) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(l.Dir(kind), "*.parquet"))
	if err != nil {
		return nil, fmt.Errorf("list %s files: %w", kind, err)
	}
	slices.Sort(files)
	return files, nil
}

// WriteManifest stores the conversion manifest in the layout root.
func (l Layout) WriteManifest(m domain.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.Root, ManifestFile), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest written by WriteManifest.
func (l Layout) ReadManifest() (domain.Manifest, error) {
	var m domain.Manifest
	data, err := os.ReadFile(filepath.Join(l.Root, ManifestFile))
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}
