package trace

import (
	"strconv"
	"strings"

	dataframe "github.com/rocketlaunchr/dataframe-go"
)

// getInt64Value extracts an int64 value from a Series at index i.
// Returns (value, ok) where ok is false if nil or not numeric. Strings are
// parsed since some formats round-trip numbers as text.
func getInt64Value(s dataframe.Series, i int) (int64, bool) {
	if s == nil || i < 0 || i >= s.NRows() {
		return 0, false
	}
	v := s.Value(i)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case *int64:
		if val == nil {
			return 0, false
		}
		return *val, true
	case int:
		return int64(val), true
	case float64:
		return int64(val), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(val), 0, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// getStringValue extracts a string value from a Series at index i.
// Nil values read as the empty string.
func getStringValue(s dataframe.Series, i int) string {
	if s == nil || i < 0 || i >= s.NRows() {
		return ""
	}
	switch val := s.Value(i).(type) {
	case nil:
		return ""
	case string:
		return val
	case *string:
		if val == nil {
			return ""
		}
		return *val
	default:
		return s.ValueString(i)
	}
}

// newInt64Series creates a new SeriesInt64 with the given name and data.
func newInt64Series(name string, data []int64) *dataframe.SeriesInt64 {
	// Convert []int64 to []interface{} for the constructor
	vals := make([]interface{}, len(data))
	for i, v := range data {
		vals[i] = v
	}
	return dataframe.NewSeriesInt64(name, nil, vals...)
}

// newStringSeries creates a new SeriesString with the given name and data.
func newStringSeries(name string, data []string) *dataframe.SeriesString {
	vals := make([]interface{}, len(data))
	for i, v := range data {
		vals[i] = v
	}
	return dataframe.NewSeriesString(name, nil, vals...)
}

// getDataFrameColumn retrieves a Series from a DataFrame by name. Parquet
// readers may hand back capitalized names, so an exact miss falls back to
// a case-insensitive match.
func getDataFrameColumn(df *dataframe.DataFrame, name string) (dataframe.Series, bool) {
	if df == nil {
		return nil, false
	}
	idx, err := df.NameToColumn(name)
	if err == nil {
		return df.Series[idx], true
	}
	for _, s := range df.Series {
		if strings.EqualFold(s.Name(), name) {
			return s, true
		}
	}
	return nil, false
}

// getDataFrameLength returns the number of rows in a DataFrame.
func getDataFrameLength(df *dataframe.DataFrame) int {
	if df == nil || len(df.Series) == 0 {
		return 0
	}
	return df.Series[0].NRows()
}
