package journal

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) RecordOrder(e OrderEvent) error {
	_, err := j.db.Exec(`
		INSERT INTO orders
		(time, event, leg, symbol, contracts, limit_price, stop_price, order_id, prev_order_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Time, string(e.Event), string(e.Leg), e.Symbol, e.Contracts,
		e.Limit, e.Stop, e.OrderID, e.PrevOrderID,
	)
	return err
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
