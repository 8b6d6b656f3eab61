package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldType is the SQL storage class of a calculated field.
type FieldType string

const (
	FieldText    FieldType = "TEXT"
	FieldInteger FieldType = "INTEGER"
	FieldReal    FieldType = "REAL"
)

// ParseFieldType validates a field type name (case-insensitive).
func ParseFieldType(s string) (FieldType, error) {
	switch t := FieldType(strings.ToUpper(strings.TrimSpace(s))); t {
	case FieldText, FieldInteger, FieldReal:
		return t, nil
	default:
		return "", fmt.Errorf("%w: field type %q", ErrInvalidValue, s)
	}
}

// CalculatedField derives a new joined column from existing ones. Func
// receives the parameter column values in order, as read from the database
// (int64, float64, string or nil), and returns the new value or nil.
type CalculatedField struct {
	Name   string
	Type   FieldType
	Params []string
	Func   func(args []any) (any, error)
}

// MonthField returns the calendar month (1-12) of value_time.
func MonthField(name string) CalculatedField {
	return timeField(name, FieldInteger, func(t time.Time) any { return int64(t.Month()) })
}

// YearField returns the calendar year of value_time.
func YearField(name string) CalculatedField {
	return timeField(name, FieldInteger, func(t time.Time) any { return int64(t.Year()) })
}

// WaterYearField returns the water year of value_time. Water year N runs
// from 1 October of N-1 through 30 September of N.
func WaterYearField(name string) CalculatedField {
	return timeField(name, FieldInteger, func(t time.Time) any { return int64(WaterYear(t)) })
}

// SeasonField returns the meteorological season of value_time.
func SeasonField(name string) CalculatedField {
	return timeField(name, FieldText, func(t time.Time) any { return Season(t) })
}

// NormalizedFlowField divides valueCol by the numeric attribute areaCol,
// typically primary_value by drainage area. Missing or zero areas yield nil.
func NormalizedFlowField(name, valueCol, areaCol string) CalculatedField {
	return CalculatedField{
		Name:   name,
		Type:   FieldReal,
		Params: []string{valueCol, areaCol},
		Func: func(args []any) (any, error) {
			v, ok := AsFloat(args[0])
			if !ok {
				return nil, nil
			}
			area, ok := AsFloat(args[1])
			if !ok || area == 0 {
				return nil, nil
			}
			return v / area, nil
		},
	}
}

// BuiltinField resolves a calculated field by kind. params are only used by
// kinds that need extra columns (normalized_flow: value column, area column).
func BuiltinField(kind, name string, params []string) (CalculatedField, error) {
	if name == "" {
		name = kind
	}
	switch kind {
	case "month":
		return MonthField(name), nil
	case "year":
		return YearField(name), nil
	case "water_year":
		return WaterYearField(name), nil
	case "season":
		return SeasonField(name), nil
	case "normalized_flow":
		if len(params) != 2 {
			return CalculatedField{}, fmt.Errorf("%w: normalized_flow needs value and area columns", ErrMissingField)
		}
		return NormalizedFlowField(name, params[0], params[1]), nil
	default:
		return CalculatedField{}, fmt.Errorf("%w: unknown calculated field kind %q", ErrInvalidValue, kind)
	}
}

// WaterYear returns the October-start water year containing t.
func WaterYear(t time.Time) int {
	if t.Month() >= time.October {
		return t.Year() + 1
	}
	return t.Year()
}

// Season returns winter (DJF), spring (MAM), summer (JJA) or fall (SON).
func Season(t time.Time) string {
	switch t.Month() {
	case time.December, time.January, time.February:
		return "winter"
	case time.March, time.April, time.May:
		return "spring"
	case time.June, time.July, time.August:
		return "summer"
	default:
		return "fall"
	}
}

func timeField(name string, typ FieldType, fn func(time.Time) any) CalculatedField {
	return CalculatedField{
		Name:   name,
		Type:   typ,
		Params: []string{ColValueTime},
		Func: func(args []any) (any, error) {
			t, ok := AsTime(args[0])
			if !ok {
				return nil, nil
			}
			return fn(t), nil
		},
	}
}

// AsTime converts a stored unix-millisecond value to a UTC time.
func AsTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case int64:
		return time.UnixMilli(x).UTC(), true
	case float64:
		return time.UnixMilli(int64(x)).UTC(), true
	case time.Time:
		return x.UTC(), true
	default:
		return time.Time{}, false
	}
}

// AsFloat converts a stored numeric or numeric-string value to float64.
func AsFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
