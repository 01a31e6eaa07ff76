// Package fetcher reads raw, unvalidated dataset rows from local CSV, JSON,
// XLSX and ZIP files.
package fetcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Row is one raw record keyed by normalized header name.
type Row map[string]string

// Get returns the first non-empty value among keys, trimmed.
func (r Row) Get(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(r[k]); v != "" {
			return v
		}
	}
	return ""
}

// Feed supplies raw rows for a dataset id.
type Feed interface {
	Fetch(ctx context.Context, datasetID string) ([]Row, error)
}

// NotFoundError is returned when no file exists for a dataset id.
type NotFoundError struct {
	Dataset string
	Dir     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("fetcher: no file for dataset %q in %s", e.Dataset, e.Dir)
}

// Extensions lists the file types a FileFeed looks for, in lookup order.
var Extensions = []string{".csv", ".json", ".xlsx", ".zip"}

// FileFeed resolves a dataset id to <Dir>/<id>.<ext>.
type FileFeed struct {
	Dir string
}

// NewFileFeed returns a feed over dir.
func NewFileFeed(dir string) *FileFeed {
	return &FileFeed{Dir: dir}
}

// Path returns the file backing datasetID.
func (f *FileFeed) Path(datasetID string) (string, error) {
	if datasetID == "" || strings.ContainsAny(datasetID, `/\`) || strings.Contains(datasetID, "..") {
		return "", eris.Errorf("fetcher: invalid dataset id %q", datasetID)
	}
	for _, ext := range Extensions {
		p := filepath.Join(f.Dir, datasetID+ext)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", &NotFoundError{Dataset: datasetID, Dir: f.Dir}
}

// Fetch reads every row of the dataset.
func (f *FileFeed) Fetch(ctx context.Context, datasetID string) ([]Row, error) {
	path, err := f.Path(datasetID)
	if err != nil {
		return nil, err
	}
	rows, err := readPath(ctx, path, datasetID, true)
	if err != nil {
		return nil, err
	}
	zap.L().Info("fetched dataset",
		zap.String("component", "fetcher"),
		zap.String("dataset", datasetID),
		zap.String("path", path),
		zap.Int("rows", len(rows)),
	)
	return rows, nil
}

// ReadFile reads rows from a single CSV, JSON, XLSX or ZIP file.
func ReadFile(ctx context.Context, path string) ([]Row, error) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return readPath(ctx, path, base, true)
}

func readPath(ctx context.Context, path, datasetID string, allowZIP bool) ([]Row, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		return readCSVFile(ctx, path)
	case ".json":
		return readJSONFile(ctx, path)
	case ".xlsx":
		records, err := ReadXLSX(path, XLSXOptions{})
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, nil
		}
		return toRows(records[0], records[1:]), nil
	case ".zip":
		if !allowZIP {
			return nil, eris.Errorf("fetcher: nested archive %s", path)
		}
		return readZIPFile(ctx, path, datasetID)
	default:
		return nil, eris.Errorf("fetcher: unsupported file type %q", ext)
	}
}

func readCSVFile(ctx context.Context, path string) ([]Row, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", path)
	}
	defer fh.Close() //nolint:errcheck

	rowCh, errCh := StreamRows(ctx, fh, CSVOptions{LazyQuotes: true})
	var rows []Row
	for row := range rowCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", path)
	}
	return rows, nil
}

func readZIPFile(ctx context.Context, path, datasetID string) ([]Row, error) {
	dir, err := os.MkdirTemp("", "geoenrich-feed-*")
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create temp dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	files, err := ExtractZIP(path, dir)
	if err != nil {
		return nil, err
	}
	entry, err := pickEntry(files, datasetID)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: %s", path)
	}
	return readPath(ctx, entry, datasetID, false)
}

// pickEntry chooses the extracted file named after the dataset, or the only
// supported file when there is exactly one.
func pickEntry(files []string, datasetID string) (string, error) {
	var supported []string
	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f))
		if ext == ".zip" || !supportedExt(ext) {
			continue
		}
		if strings.EqualFold(strings.TrimSuffix(filepath.Base(f), filepath.Ext(f)), datasetID) {
			return f, nil
		}
		supported = append(supported, f)
	}
	if len(supported) == 1 {
		return supported[0], nil
	}
	return "", eris.Errorf("archive has %d candidate files and none named %q", len(supported), datasetID)
}

func supportedExt(ext string) bool {
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// NormalizeHeader lowercases a header and joins its words with underscores.
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.Join(strings.FieldsFunc(h, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '.'
	}), "_")
}

func headerKeys(header []string) []string {
	keys := make([]string, len(header))
	for i, h := range header {
		keys[i] = NormalizeHeader(h)
	}
	return keys
}

// makeRow keys a record by header. Blank records report false.
func makeRow(keys, rec []string) (Row, bool) {
	if blank(rec) {
		return nil, false
	}
	row := make(Row, len(keys))
	for i, k := range keys {
		if k == "" {
			continue
		}
		if i < len(rec) {
			row[k] = strings.TrimSpace(rec[i])
		} else {
			row[k] = ""
		}
	}
	return row, true
}

func toRows(header []string, records [][]string) []Row {
	keys := headerKeys(header)
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		if row, ok := makeRow(keys, rec); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
