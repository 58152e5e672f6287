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

package analysis

import (
	"encoding/json"
	"io"
	"math"

	"github.com/spatialmodel/uwnet/ledger"
	"github.com/tealeg/xlsx"
)

// Names of the sheets written by ExportLedger.
const (
	RunsSheet    = "runs"
	BatchesSheet = "batches"
)

var (
	runHeader   = []string{"run", "version", "git_rev", "config_hash", "start_time", "config", "args"}
	batchHeader = []string{"run", "epoch", "batch", "loss", "avg_loss", "time_elapsed"}
)

// ExportLedger writes every run and batch record in l to w as a
// spreadsheet with one sheet for each kind of record.
func ExportLedger(l ledger.Ledger, w io.Writer) error {
	runs, err := l.Runs()
	if err != nil {
		return err
	}
	batches, err := l.Batches("")
	if err != nil {
		return err
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(RunsSheet)
	if err != nil {
		return err
	}
	addStrings(sheet.AddRow(), runHeader...)
	for _, r := range runs {
		config, err := json.Marshal(r.Config)
		if err != nil {
			return err
		}
		args, err := json.Marshal(r.Args)
		if err != nil {
			return err
		}
		addStrings(sheet.AddRow(), r.Run, r.Version, r.Git.Rev, r.ConfigHash, r.StartTime,
			string(config), string(args))
	}

	sheet, err = f.AddSheet(BatchesSheet)
	if err != nil {
		return err
	}
	addStrings(sheet.AddRow(), batchHeader...)
	for _, b := range batches {
		row := sheet.AddRow()
		addStrings(row, b.Run)
		row.AddCell().SetInt(b.Epoch)
		row.AddCell().SetInt(b.Batch)
		addFloat(row, b.Loss)
		addFloat(row, b.AvgLoss)
		addFloat(row, b.TimeElapsed)
	}
	return f.Write(w)
}

func addStrings(row *xlsx.Row, s ...string) {
	for _, v := range s {
		row.AddCell().SetString(v)
	}
}

// addFloat adds a cell holding v, leaving it empty if v is not finite.
func addFloat(row *xlsx.Row, v float64) {
	cell := row.AddCell()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	cell.SetFloat(v)
}
