package loader

import (
	"bytes"
	"context"
	"os"

	"github.com/juju/errors"
	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/rocketlaunchr/dataframe-go/imports"
	"github.com/xitongsys/parquet-go-source/local"

	"github.com/akhildatla/sim86/pkg/trace"
)

// LoadTrace reads a trace recorded by trace.ExportFile. The format follows
// the extension (.csv, .jsonl, .parquet).
func LoadTrace(path string) ([]trace.Record, error) {
	df, err := LoadTraceFrame(path)
	if err != nil {
		return nil, err
	}
	records, err := trace.FromDataFrame(df)
	if err != nil {
		return nil, errors.NewNotValid(err, path)
	}
	logger.Debugf("loaded %d trace steps from %s", len(records), path)
	return records, nil
}

// LoadTraceFrame reads a trace file into a DataFrame without converting
// it to records. Trace columns get their recorded types, anything else is
// read as strings.
func LoadTraceFrame(path string) (*dataframe.DataFrame, error) {
	format, err := trace.FormatFromPath(path)
	if err != nil {
		return nil, errors.NewNotValid(err, path)
	}

	ctx := context.Background()
	var df *dataframe.DataFrame
	switch format {
	case trace.FormatCSV:
		df, err = loadCSV(ctx, path)
	case trace.FormatJSONL:
		df, err = loadJSON(ctx, path)
	case trace.FormatParquet:
		df, err = loadParquet(ctx, path)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "loading %s trace %s", format, path)
	}
	if df == nil || len(df.Series) == 0 {
		return nil, errors.NotValidf("empty trace %s", path)
	}
	return df, nil
}

func loadCSV(ctx context.Context, path string) (*dataframe.DataFrame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return imports.LoadFromCSV(ctx, file, imports.CSVLoadOptions{
		DictateDataType: trace.ColumnTypes(),
	})
}

func loadJSON(ctx context.Context, path string) (*dataframe.DataFrame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	return imports.LoadFromJSON(ctx, bytes.NewReader(data), imports.JSONLoadOptions{
		DictateDataType: trace.ColumnTypes(),
	})
}

func loadParquet(ctx context.Context, path string) (*dataframe.DataFrame, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	return imports.LoadFromParquet(ctx, fr)
}
