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
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLedger(t *testing.T) {
	dir, err := os.MkdirTemp("", "uwnet_ledger")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	for _, name := range []string{"runs.json", "runs.db"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			l, err := Open(path)
			if err != nil {
				t.Fatal(err)
			}
			run := RunRecord{
				Run:    "out",
				Config: map[string]interface{}{"inputs": []interface{}{"qt", "sl"}},
				Args:   map[string]interface{}{"lr": 0.001},
				Git:    GitInfo{Rev: "abc"},
			}
			if err := l.InsertRun(run); err != nil {
				t.Fatal(err)
			}
			want := []BatchRecord{
				{Run: "out", Epoch: 0, Batch: 0, Loss: 2, AvgLoss: 3, TimeElapsed: 0.5},
				{Run: "other", Epoch: 0, Batch: 0, Loss: 1, AvgLoss: 1, TimeElapsed: 0.5},
				{Run: "out", Epoch: 0, Batch: 1, Loss: 1.5, AvgLoss: 3, TimeElapsed: 0.25},
			}
			for _, b := range want {
				if err := l.InsertBatch(b); err != nil {
					t.Fatal(err)
				}
			}
			if err := l.Close(); err != nil {
				t.Fatal(err)
			}

			l, err = Open(path)
			if err != nil {
				t.Fatal(err)
			}
			defer l.Close()
			runs, err := l.Runs()
			if err != nil {
				t.Fatal(err)
			}
			if len(runs) != 1 || runs[0].Run != "out" || runs[0].Git.Rev != "abc" {
				t.Errorf("runs = %+v", runs)
			}
			batches, err := l.Batches("out")
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(batches, []BatchRecord{want[0], want[2]}) {
				t.Errorf("batches = %+v", batches)
			}
			all, err := l.Batches("")
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 3 {
				t.Errorf("have %d batches, want 3", len(all))
			}
		})
	}
}

func TestLedgerNaN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	l, err := OpenJSON(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.InsertBatch(BatchRecord{Run: "out", Loss: math.NaN(), AvgLoss: 1}); err != nil {
		t.Fatal(err)
	}
	l, err = OpenJSON(path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := l.Batches("out")
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 1 || !math.IsNaN(b[0].Loss) || b[0].AvgLoss != 1 {
		t.Errorf("batches = %+v", b)
	}
}

func TestOpenUnsupported(t *testing.T) {
	if _, err := Open("runs.csv"); err == nil {
		t.Error("expected an error for an unsupported extension")
	}
}
