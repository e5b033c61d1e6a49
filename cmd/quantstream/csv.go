package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/quantstream/internal/models"
)

// errBadRow marks a row that could not be read as a bar. The reader can
// continue past it.
var errBadRow = errors.New("bad row")

// barReader streams bars from CSV rows of time,open,high,low,close[,volume].
// A leading header row is skipped. An empty time field yields an untimed bar,
// and an all-digit one is read as unix seconds.
type barReader struct {
	r      *csv.Reader
	layout string
	rows   int
}

func newBarReader(r io.Reader, layout string) *barReader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	if layout == "" {
		layout = time.RFC3339
	}
	return &barReader{r: cr, layout: layout}
}

// Next returns the next bar, or io.EOF when the input is exhausted. A malformed
// row is reported with its line number and does not stop the reader.
func (br *barReader) Next() (models.Bar, error) {
	for {
		rec, err := br.r.Read()
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			br.rows++
			return models.Bar{}, fmt.Errorf("%w: %w", errBadRow, err)
		}
		if err != nil {
			return models.Bar{}, err
		}
		br.rows++
		if br.rows == 1 && isHeader(rec) {
			continue
		}
		bar, err := br.parse(rec)
		if err != nil {
			line, _ := br.r.FieldPos(0)
			return models.Bar{}, fmt.Errorf("%w: line %d: %w", errBadRow, line, err)
		}
		return bar, nil
	}
}

func (br *barReader) parse(rec []string) (models.Bar, error) {
	if len(rec) != 5 && len(rec) != 6 {
		return models.Bar{}, fmt.Errorf("expected 5 or 6 fields, got %d", len(rec))
	}
	t, err := parseTime(rec[0], br.layout)
	if err != nil {
		return models.Bar{}, err
	}
	vals := make([]float64, 5)
	for i, field := range rec[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return models.Bar{}, fmt.Errorf("field %d: %w", i+2, err)
		}
		vals[i] = v
	}
	return models.Bar{Time: t, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]}, nil
}

// readSamples reads time,value rows, or bare value rows, into samples.
// Unparseable rows are skipped and counted.
func readSamples(r io.Reader, layout string) ([]models.Sample, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var samples []models.Sample
	skipped := 0
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return samples, skipped, nil
		}
		if err != nil {
			return nil, skipped, err
		}
		if line == 1 && isHeader(rec) {
			continue
		}

		var t time.Time
		field := rec[0]
		if len(rec) >= 2 {
			if t, err = parseTime(rec[0], layout); err != nil {
				skipped++
				continue
			}
			field = rec[1]
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			skipped++
			continue
		}
		// non-finite values are kept; CorrectSeries drops them itself
		samples = append(samples, models.Sample{Time: t, Value: v})
	}
}

func parseTime(field, layout string) (time.Time, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return models.NoTime, nil
	}
	if sec, err := strconv.ParseInt(field, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	t, err := time.Parse(layout, field)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q: %w", field, err)
	}
	return t, nil
}

// isHeader reports whether the last field of rec is not a number.
func isHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(rec[len(rec)-1]), 64)
	return err != nil
}
