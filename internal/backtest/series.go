package backtest

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Point is one historical observation for a (venue, symbol).
type Point struct {
	Time       time.Time
	Rate       float64
	MarkPrice  float64
	IndexPrice float64
}

// Series is a time-ordered sequence of points supporting nearest-time
// lookup.
type Series struct {
	points []Point
}

func NewSeries(points []Point) *Series {
	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
	return &Series{points: sorted}
}

func (s *Series) Len() int { return len(s.points) }

// At returns the point nearest in time to t. The earlier point wins an
// exact tie.
func (s *Series) At(t time.Time) (Point, bool) {
	if len(s.points) == 0 {
		return Point{}, false
	}
	i := sort.Search(len(s.points), func(i int) bool { return !s.points[i].Time.Before(t) })
	if i == 0 {
		return s.points[0], true
	}
	if i == len(s.points) {
		return s.points[len(s.points)-1], true
	}
	before, after := s.points[i-1], s.points[i]
	if t.Sub(before.Time) <= after.Time.Sub(t) {
		return before, true
	}
	return after, true
}

// LoadDir reads every CSV in dir named venue_symbol.csv with the header
// timestamp,funding_rate,mark_price,index_price and returns series keyed
// by venue then symbol. The venue and symbol are upper-cased from the
// filename.
func LoadDir(dir string) (map[string]map[string]*Series, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]*Series)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".csv") {
			continue
		}
		base := strings.TrimSuffix(name, ".csv")
		venueName, symbol, ok := strings.Cut(base, "_")
		if !ok {
			continue
		}
		venueName = strings.ToUpper(venueName)
		symbol = strings.ToUpper(symbol)

		series, err := loadCSV(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		if out[venueName] == nil {
			out[venueName] = make(map[string]*Series)
		}
		out[venueName][symbol] = series
	}
	return out, nil
}

func loadCSV(path string) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("no data rows")
	}

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, required := range []string{"timestamp", "funding_rate", "mark_price"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	points := make([]Point, 0, len(rows)-1)
	for _, row := range rows[1:] {
		ts, err := parseTimestamp(row[col["timestamp"]])
		if err != nil {
			return nil, err
		}
		p := Point{Time: ts}
		if p.Rate, err = strconv.ParseFloat(row[col["funding_rate"]], 64); err != nil {
			return nil, fmt.Errorf("funding_rate at %s: %w", ts, err)
		}
		if p.MarkPrice, err = strconv.ParseFloat(row[col["mark_price"]], 64); err != nil {
			return nil, fmt.Errorf("mark_price at %s: %w", ts, err)
		}
		if i, ok := col["index_price"]; ok {
			if p.IndexPrice, err = strconv.ParseFloat(row[i], 64); err != nil {
				return nil, fmt.Errorf("index_price at %s: %w", ts, err)
			}
		} else {
			p.IndexPrice = p.MarkPrice
		}
		points = append(points, p)
	}
	return NewSeries(points), nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
