package fetcher

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHeader(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"street_name":          "street_name",
		" Street Name ":        "street_name",
		"Floor-Area (sqm)":     "floor_area_(sqm)",
		"\ufeffmonth":          "month",
		"LEASE.COMMENCE  DATE": "lease_commence_date",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeHeader(in), in)
	}
}

func TestRow_Get(t *testing.T) {
	t.Parallel()
	r := Row{"address": "  ", "street": " BEDOK NTH RD "}
	assert.Equal(t, "BEDOK NTH RD", r.Get("address", "street"))
	assert.Equal(t, "", r.Get("missing"))
}

func TestFileFeed_CSV(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "hdb_resale.csv", "Month,Block,Street Name,Resale Price\n2017-01,123,Bedok Nth Rd,450000\n,,,\n2017-02,45\n")

	rows, err := NewFileFeed(dir).Fetch(context.Background(), "hdb_resale")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{"month": "2017-01", "block": "123", "street_name": "Bedok Nth Rd", "resale_price": "450000"}, rows[0])
	assert.Equal(t, "", rows[1]["street_name"])
	assert.Equal(t, "45", rows[1]["block"])
}

func TestFileFeed_JSON(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "amenities.json", `[{"Name":"Tekka Centre","Category":"hawker_centre","Lat":1.3063,"Lon":103.8505}]`)

	rows, err := NewFileFeed(dir).Fetch(context.Background(), "amenities")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "1.3063", rows[0]["lat"])
	assert.Equal(t, "hawker_centre", rows[0]["category"])
}

func TestFileFeed_XLSX(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	createTestXLSX(t, filepath.Join(dir, "yield.xlsx"), map[string][][]string{
		"Sheet1": {{"Quarter", "Yield"}, {"2017-Q1", "3.1"}},
	})

	rows, err := NewFileFeed(dir).Fetch(context.Background(), "yield")
	require.NoError(t, err)
	assert.Equal(t, []Row{{"quarter": "2017-Q1", "yield": "3.1"}}, rows)
}

func TestFileFeed_ZIP(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	createTestZIP(t, dir, "geocoded_references.zip", map[string]string{
		"README.txt":              "ignored",
		"other.csv":               "a\n1\n",
		"geocoded_references.csv": "address,lat,lon\n10 ANG MO KIO AVE 4,1.3691,103.8454\n",
	})

	rows, err := NewFileFeed(dir).Fetch(context.Background(), "geocoded_references")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "10 ANG MO KIO AVE 4", rows[0]["address"])
}

func TestFileFeed_ZIPAmbiguous(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	createTestZIP(t, dir, "bundle.zip", map[string]string{"a.csv": "x\n1\n", "b.csv": "x\n2\n"})

	_, err := NewFileFeed(dir).Fetch(context.Background(), "bundle")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 candidate files")
}

func TestFileFeed_PrefersCSV(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "refs.csv", "address\nA\n")
	writeTestFile(t, dir, "refs.json", `[{"address":"B"}]`)

	path, err := NewFileFeed(dir).Path("refs")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "refs.csv"), path)
}

func TestFileFeed_NotFound(t *testing.T) {
	t.Parallel()
	_, err := NewFileFeed(t.TempDir()).Fetch(context.Background(), "missing")
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "missing", nf.Dataset)
}

func TestFileFeed_InvalidID(t *testing.T) {
	t.Parallel()
	feed := NewFileFeed(t.TempDir())
	for _, id := range []string{"", "../etc/passwd", `a\b`} {
		_, err := feed.Fetch(context.Background(), id)
		assert.Error(t, err, id)
	}
}

func TestReadFile_Unsupported(t *testing.T) {
	t.Parallel()
	path := writeTestFile(t, t.TempDir(), "data.parquet", "x")
	_, err := ReadFile(context.Background(), path)
	assert.Error(t, err)
}
