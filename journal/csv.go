package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

type CSVJournal struct {
	w *csv.Writer
	f *os.File
}

func NewCSV(path string) (*CSVJournal, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{"time", "event", "leg", "symbol", "contracts", "limit", "stop", "order_id", "prev_order_id"}); err != nil {
		f.Close()
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, err
	}

	return &CSVJournal{w: w, f: f}, nil
}

func (j *CSVJournal) RecordOrder(e OrderEvent) error {
	j.w.Write([]string{
		e.Time.Format(time.RFC3339),
		string(e.Event),
		string(e.Leg),
		e.Symbol,
		strconv.Itoa(e.Contracts),
		f(e.Limit),
		f(e.Stop),
		e.OrderID,
		e.PrevOrderID,
	})
	j.w.Flush()
	return j.w.Error()
}

func (j *CSVJournal) Close() error {
	j.w.Flush()
	if err := j.w.Error(); err != nil {
		j.f.Close()
		return err
	}
	return j.f.Close()
}

func f(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
