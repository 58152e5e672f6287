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
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
)

// Names of the JSON document tables.
const (
	runsTable    = "runs"
	batchesTable = "batches"
)

// JSON is a ledger stored as a JSON document with one object per table,
// each mapping a numeric string identifier to a record. The whole
// document is rewritten on every insert.
type JSON struct {
	path string

	mu     sync.Mutex
	tables map[string]map[string]json.RawMessage
}

// OpenJSON opens the JSON ledger at path. Existing records are kept.
func OpenJSON(path string) (*JSON, error) {
	l := &JSON{
		path: path,
		tables: map[string]map[string]json.RawMessage{
			runsTable:    {},
			batchesTable: {},
		},
	}
	b, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return l, l.flush()
	} else if err != nil {
		return nil, fmt.Errorf("ledger: %v", err)
	}
	if len(b) == 0 {
		return l, nil
	}
	var tables map[string]map[string]json.RawMessage
	if err := json.Unmarshal(b, &tables); err != nil {
		return nil, fmt.Errorf("ledger: reading %s: %v", path, err)
	}
	for name, t := range tables {
		if t == nil {
			t = map[string]json.RawMessage{}
		}
		l.tables[name] = t
	}
	return l, nil
}

// InsertRun implements Ledger.
func (l *JSON) InsertRun(r RunRecord) error { return l.insert(runsTable, r) }

// InsertBatch implements Ledger.
func (l *JSON) InsertBatch(b BatchRecord) error { return l.insert(batchesTable, b) }

func (l *JSON) insert(table string, rec interface{}) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ledger: encoding %s record: %v", table, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.tables[table]
	next := 1
	for k := range t {
		if n, err := strconv.Atoi(k); err == nil && n >= next {
			next = n + 1
		}
	}
	id := strconv.Itoa(next)
	t[id] = b
	if err := l.flush(); err != nil {
		delete(t, id)
		return err
	}
	return nil
}

// flush atomically replaces the file with the current tables.
func (l *JSON) flush() error {
	b, err := json.Marshal(l.tables)
	if err != nil {
		return fmt.Errorf("ledger: %v", err)
	}
	dir := filepath.Dir(l.path)
	f, err := ioutil.TempFile(dir, filepath.Base(l.path)+".tmp")
	if err != nil {
		return fmt.Errorf("ledger: %v", err)
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("ledger: writing %s: %v", l.path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("ledger: writing %s: %v", l.path, err)
	}
	if err := os.Rename(f.Name(), l.path); err != nil {
		return fmt.Errorf("ledger: writing %s: %v", l.path, err)
	}
	return nil
}

// sortedIDs returns the keys of t in numeric order.
func sortedIDs(t map[string]json.RawMessage) []string {
	ids := make([]string, 0, len(t))
	for k := range t {
		ids = append(ids, k)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.Atoi(ids[i])
		b, _ := strconv.Atoi(ids[j])
		return a < b
	})
	return ids
}

// Runs implements Ledger.
func (l *JSON) Runs() ([]RunRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.tables[runsTable]
	o := make([]RunRecord, 0, len(t))
	for _, id := range sortedIDs(t) {
		var r RunRecord
		if err := json.Unmarshal(t[id], &r); err != nil {
			return nil, fmt.Errorf("ledger: decoding run %s: %v", id, err)
		}
		o = append(o, r)
	}
	return o, nil
}

// Batches implements Ledger.
func (l *JSON) Batches(run string) ([]BatchRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.tables[batchesTable]
	var o []BatchRecord
	for _, id := range sortedIDs(t) {
		var b BatchRecord
		if err := json.Unmarshal(t[id], &b); err != nil {
			return nil, fmt.Errorf("ledger: decoding batch %s: %v", id, err)
		}
		if run == "" || b.Run == run {
			o = append(o, b)
		}
	}
	return o, nil
}

// Close implements Ledger. Every insert is already on disk, so Close
// has nothing to flush.
func (l *JSON) Close() error { return nil }
