package trace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/rocketlaunchr/dataframe-go/exports"
	"github.com/xitongsys/parquet-go-source/local"
)

// ErrUnknownFormat is returned for trace formats other than csv, jsonl and
// parquet.
var ErrUnknownFormat = errors.New("unknown trace format")

// Format is a trace file format.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
)

// ParseFormat parses a format name as given on the command line.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "csv":
		return FormatCSV, nil
	case "jsonl", "json":
		return FormatJSONL, nil
	case "parquet":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("%w: %s has no extension", ErrUnknownFormat, path)
	}
	return ParseFormat(ext)
}

// Export writes df to w in the given format.
func Export(ctx context.Context, w io.Writer, df *dataframe.DataFrame, f Format) error {
	switch f {
	case FormatCSV:
		return exports.ExportToCSV(ctx, w, df)
	case FormatJSONL:
		return exports.ExportToJSON(ctx, w, df)
	case FormatParquet:
		return exports.ExportToParquet(ctx, w, df)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

// ExportFile writes df to path, choosing the format from the extension.
func ExportFile(ctx context.Context, path string, df *dataframe.DataFrame) error {
	f, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	logger.Debugf("exporting %d trace rows to %s as %s", getDataFrameLength(df), path, f)

	var w io.WriteCloser
	if f == FormatParquet {
		w, err = local.NewLocalFileWriter(path)
	} else {
		w, err = os.Create(path)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := Export(ctx, w, df, f); err != nil {
		w.Close()
		return fmt.Errorf("failed to export trace: %w", err)
	}
	return w.Close()
}
