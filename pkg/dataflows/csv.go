package dataflows

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

var barHeader = []string{"Date", "Open", "High", "Low", "Close", "Adj Close", "Volume"}

// FormatBarsCSV renders bars oldest first with a header row. Prices keep
// full precision; rounding happens only when a report is displayed.
func FormatBarsCSV(bars []Bar) string {
	sorted := append([]Bar(nil), bars...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(barHeader)
	for _, b := range sorted {
		_ = w.Write([]string{
			b.Date.Format(DateLayout),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatFloat(b.AdjClose, 'f', -1, 64),
			strconv.FormatInt(b.Volume, 10),
		})
	}
	w.Flush()
	return buf.String()
}

// ParseBarsCSV reads the format written by FormatBarsCSV. Lines starting
// with '#' are treated as comments.
func ParseBarsCSV(text string) ([]Bar, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comment = '#'
	r.FieldsPerRecord = -1

	var bars []Bar
	header := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		if header {
			header = false
			if len(rec) > 0 && strings.EqualFold(rec[0], "Date") {
				continue
			}
		}
		if len(rec) < 7 {
			return nil, fmt.Errorf("parse csv: expected 7 fields, got %d", len(rec))
		}
		date, err := time.Parse(DateLayout, rec[0])
		if err != nil {
			return nil, fmt.Errorf("parse csv date %q: %w", rec[0], err)
		}
		vals := make([]float64, 5)
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(rec[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("parse csv %s: %w", barHeader[i+1], err)
			}
			vals[i] = v
		}
		vol, err := strconv.ParseInt(rec[6], 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(rec[6], 64)
			if ferr != nil {
				return nil, fmt.Errorf("parse csv volume: %w", err)
			}
			vol = int64(f)
		}
		bars = append(bars, Bar{Date: date, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], AdjClose: vals[4], Volume: vol})
	}
	return bars, nil
}
