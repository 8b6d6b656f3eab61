package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	nonIdentRe = regexp.MustCompile(`[^a-z0-9_]+`)
	identRe    = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

// ColumnName turns a free-form attribute or field name into a SQL-safe column
// name: lower-cased, runs of other characters collapsed to "_", and a leading
// digit prefixed with "_". "Drainage Area (km2)" becomes "drainage_area_km2".
func ColumnName(name string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(name))
	s = nonIdentRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s != "" && s[0] >= '0' && s[0] <= '9' {
		s = "_" + s
	}
	if !identRe.MatchString(s) {
		return "", fmt.Errorf("%w: column name %q", ErrInvalidValue, name)
	}
	return s, nil
}
