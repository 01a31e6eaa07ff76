package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
)

// CSVOptions configures StreamRows.
type CSVOptions struct {
	// Delimiter is detected from the header line when zero.
	Delimiter  rune
	Comment    rune // 0 = none
	LazyQuotes bool
}

// delimiters are the candidates tried on the header line, in preference
// order for ties.
var delimiters = []rune{',', ';', '\t', '|'}

// StreamRows reads a CSV file whose first record is the header and sends every
// non-blank record as a Row keyed by normalized header. Short records leave the
// missing columns empty and extra fields are dropped. Both channels are closed
// when processing completes; at most one error is sent.
func StreamRows(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan Row, <-chan error) {
	rowCh := make(chan Row, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		br := bufio.NewReader(r)
		if opts.Delimiter == 0 {
			opts.Delimiter = detectDelimiter(headerLine(br, opts.Comment))
		}

		reader := csv.NewReader(br)
		reader.Comma = opts.Delimiter
		reader.Comment = opts.Comment
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1

		header, err := reader.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			errCh <- eris.Wrap(err, "csv: read header")
			return
		}
		keys := headerKeys(header)

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			row, ok := makeRow(keys, record)
			if !ok {
				continue
			}

			select {
			case rowCh <- row:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// headerLine peeks at the first non-blank, non-comment line without consuming
// input.
func headerLine(br *bufio.Reader, comment rune) []byte {
	buf, _ := br.Peek(br.Size()) //nolint:errcheck // a short peek is expected at EOF
	for len(buf) > 0 {
		line := buf
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			line, buf = buf[:i], buf[i+1:]
		} else {
			buf = nil
		}
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 || (comment != 0 && bytes.HasPrefix(trimmed, []byte(string(comment)))) {
			continue
		}
		return line
	}
	return nil
}

// detectDelimiter picks the candidate that occurs most often outside quotes in
// line, defaulting to a comma.
func detectDelimiter(line []byte) rune {
	counts := make(map[rune]int, len(delimiters))
	quoted := false
	for _, c := range string(line) {
		if c == '"' {
			quoted = !quoted
			continue
		}
		if !quoted {
			counts[c]++
		}
	}
	best := ','
	for _, d := range delimiters {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return best
}
