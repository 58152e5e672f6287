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

package uwnetutil

import (
	"fmt"
	"os"

	"github.com/spatialmodel/uwnet/analysis"
	"github.com/spatialmodel/uwnet/ledger"
)

// PlotLoss plots the loss curve of run from the ledger at ledgerPath
// to outputFile.
func PlotLoss(ledgerPath, run, outputFile string) error {
	l, err := ledger.Open(os.ExpandEnv(ledgerPath))
	if err != nil {
		return err
	}
	defer l.Close()
	batches, err := l.Batches(run)
	if err != nil {
		return err
	}
	w, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("uwnet: creating plot file: %v", err)
	}
	if err := analysis.PlotLoss(run, batches, w, analysis.PlotFormat(outputFile)); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// ExportLedger writes the contents of the ledger at ledgerPath to
// outputFile as a spreadsheet.
func ExportLedger(ledgerPath, outputFile string) error {
	l, err := ledger.Open(os.ExpandEnv(ledgerPath))
	if err != nil {
		return err
	}
	defer l.Close()
	w, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("uwnet: creating spreadsheet: %v", err)
	}
	if err := analysis.ExportLedger(l, w); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
