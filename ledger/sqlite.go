/*
Copyright © 2018 the uwnet authors.
This file is part of uwnet.

uwnet is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

uwnet is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with uwnet.  If not, see <http://www.gnu.org/licenses/>.
*/

package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	// SQLite database driver.
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run TEXT NOT NULL,
	record TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS batches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run TEXT NOT NULL,
	epoch INTEGER NOT NULL,
	batch INTEGER NOT NULL,
	loss REAL,
	avg_loss REAL,
	time_elapsed REAL
);
CREATE INDEX IF NOT EXISTS batches_run ON batches (run);
`

// SQLite is a ledger stored in a SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the SQLite ledger at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening %s: %v", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: creating tables in %s: %v", path, err)
	}
	return &SQLite{db: db}, nil
}

// InsertRun implements Ledger.
func (l *SQLite) InsertRun(r RunRecord) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("ledger: encoding run record: %v", err)
	}
	if _, err := l.db.Exec(`INSERT INTO runs (run, record) VALUES (?, ?)`, r.Run, string(b)); err != nil {
		return fmt.Errorf("ledger: inserting run: %v", err)
	}
	return nil
}

// InsertBatch implements Ledger.
func (l *SQLite) InsertBatch(b BatchRecord) error {
	_, err := l.db.Exec(`INSERT INTO batches (run, epoch, batch, loss, avg_loss, time_elapsed)
		VALUES (?, ?, ?, ?, ?, ?)`, b.Run, b.Epoch, b.Batch, finite(b.Loss), finite(b.AvgLoss), b.TimeElapsed)
	if err != nil {
		return fmt.Errorf("ledger: inserting batch: %v", err)
	}
	return nil
}

// Runs implements Ledger.
func (l *SQLite) Runs() ([]RunRecord, error) {
	rows, err := l.db.Query(`SELECT record FROM runs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ledger: querying runs: %v", err)
	}
	defer rows.Close()
	var o []RunRecord
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("ledger: reading run: %v", err)
		}
		var r RunRecord
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			return nil, fmt.Errorf("ledger: decoding run: %v", err)
		}
		o = append(o, r)
	}
	return o, rows.Err()
}

// Batches implements Ledger.
func (l *SQLite) Batches(run string) ([]BatchRecord, error) {
	rows, err := l.db.Query(`SELECT run, epoch, batch, loss, avg_loss, time_elapsed
		FROM batches WHERE ? = '' OR run = ? ORDER BY id`, run, run)
	if err != nil {
		return nil, fmt.Errorf("ledger: querying batches: %v", err)
	}
	defer rows.Close()
	var o []BatchRecord
	for rows.Next() {
		var b BatchRecord
		var loss, avgLoss, elapsed sql.NullFloat64
		if err := rows.Scan(&b.Run, &b.Epoch, &b.Batch, &loss, &avgLoss, &elapsed); err != nil {
			return nil, fmt.Errorf("ledger: reading batch: %v", err)
		}
		b.Loss, b.AvgLoss, b.TimeElapsed = nullNaN(loss), nullNaN(avgLoss), nullNaN(elapsed)
		o = append(o, b)
	}
	return o, rows.Err()
}

func nullNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// Close implements Ledger.
func (l *SQLite) Close() error { return l.db.Close() }
