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

// Package ledger keeps an append-only record of training runs and of the
// metrics of every batch trained within them.
package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"runtime/debug"
	"strings"
)

// RunRecord describes the configuration of a training run.
type RunRecord struct {
	// Run identifies the run; it is the run's output directory.
	Run string `json:"run"`

	Config     interface{}            `json:"config"`
	Args       map[string]interface{} `json:"args"`
	Git        GitInfo                `json:"git"`
	Version    string                 `json:"version"`
	ConfigHash string                 `json:"config_hash"`
	StartTime  string                 `json:"start_time"`
}

// GitInfo holds the source revision a run was built from.
type GitInfo struct {
	Rev string `json:"rev"`
}

// BatchRecord holds the metrics of one trained batch.
type BatchRecord struct {
	Run         string  `json:"run"`
	Epoch       int     `json:"epoch"`
	Batch       int     `json:"batch"`
	Loss        float64 `json:"loss"`
	AvgLoss     float64 `json:"avg_loss"`
	TimeElapsed float64 `json:"time_elapsed"`
}

type batchJSON struct {
	Run         string   `json:"run"`
	Epoch       int      `json:"epoch"`
	Batch       int      `json:"batch"`
	Loss        *float64 `json:"loss"`
	AvgLoss     *float64 `json:"avg_loss"`
	TimeElapsed float64  `json:"time_elapsed"`
}

// MarshalJSON encodes non-finite losses as null.
func (b BatchRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(batchJSON{
		Run:         b.Run,
		Epoch:       b.Epoch,
		Batch:       b.Batch,
		Loss:        finite(b.Loss),
		AvgLoss:     finite(b.AvgLoss),
		TimeElapsed: b.TimeElapsed,
	})
}

// UnmarshalJSON decodes null losses as NaN.
func (b *BatchRecord) UnmarshalJSON(data []byte) error {
	var j batchJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*b = BatchRecord{
		Run:         j.Run,
		Epoch:       j.Epoch,
		Batch:       j.Batch,
		Loss:        orNaN(j.Loss),
		AvgLoss:     orNaN(j.AvgLoss),
		TimeElapsed: j.TimeElapsed,
	}
	return nil
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// Ledger is an append-only store of run and batch records.
type Ledger interface {
	InsertRun(RunRecord) error
	InsertBatch(BatchRecord) error

	// Runs returns all run records in insertion order.
	Runs() ([]RunRecord, error)

	// Batches returns the batch records of the given run in insertion
	// order, or of all runs if run is empty.
	Batches(run string) ([]BatchRecord, error)

	Close() error
}

// Open opens the ledger at path, creating it if necessary. Paths ending
// in .db, .sqlite, or .sqlite3 are opened as SQLite databases; all others
// are JSON documents.
func Open(path string) (Ledger, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLite(path)
	case ".json", "":
		return OpenJSON(path)
	default:
		return nil, fmt.Errorf("ledger: unsupported file type for %s", path)
	}
}

// Revision returns the version control revision of the running program,
// falling back to the revision of the git repository in the working
// directory. It returns "unknown" if neither is available.
func Revision() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return s.Value
			}
		}
	}
	out, err := exec.Command("git", "rev-parse", "HEAD").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}
