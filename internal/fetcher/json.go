package fetcher

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
)

// StreamJSONRows decodes JSON records one at a time and sends each as a Row.
// The input is either a bare array of objects or an API envelope holding the
// array under "records", optionally nested in "result". Null elements are
// skipped. Both channels are closed when processing completes.
func StreamJSONRows(ctx context.Context, r io.Reader) (<-chan Row, <-chan error) {
	rowCh := make(chan Row, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		dec := json.NewDecoder(r)
		dec.UseNumber()

		tok, err := dec.Token()
		if err == io.EOF {
			return
		}
		if err != nil {
			errCh <- eris.Wrap(err, "json: read opening token")
			return
		}
		if err := seekRecords(dec, tok); err != nil {
			errCh <- err
			return
		}

		for dec.More() {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}

			var obj map[string]any
			if err := dec.Decode(&obj); err != nil {
				errCh <- eris.Wrap(err, "json: decode record")
				return
			}
			if obj == nil {
				continue
			}
			row := make(Row, len(obj))
			for k, v := range obj {
				row[NormalizeHeader(k)] = stringify(v)
			}

			select {
			case rowCh <- row:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
		}

		if _, err := dec.Token(); err != nil {
			errCh <- eris.Wrap(err, "json: read closing token")
		}
	}()

	return rowCh, errCh
}

// seekRecords advances dec to just inside the records array. tok is the token
// already read.
func seekRecords(dec *json.Decoder, tok json.Token) error {
	switch tok {
	case json.Delim('['):
		return nil
	case json.Delim('{'):
	default:
		return eris.Errorf("json: expected an array or object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return eris.Wrap(err, "json: read key")
		}
		switch key, _ := keyTok.(string); key {
		case "records", "result":
			next, err := dec.Token()
			if err != nil {
				return eris.Wrapf(err, "json: read %q", key)
			}
			if key == "records" {
				if next != json.Delim('[') {
					return eris.Errorf("json: %q is not an array", key)
				}
				return nil
			}
			if next != json.Delim('{') {
				return eris.Errorf("json: %q is not an object", key)
			}
			return seekRecords(dec, next)
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return eris.Wrapf(err, "json: skip %q", key)
			}
		}
	}
	return eris.New("json: no records array")
}

func readJSONFile(ctx context.Context, path string) ([]Row, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", path)
	}
	defer fh.Close() //nolint:errcheck

	rowCh, errCh := StreamJSONRows(ctx, fh)
	var rows []Row
	for row := range rowCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", path)
	}
	return rows, nil
}

// stringify renders a decoded JSON value the way it would appear in a CSV cell.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
