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
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/spatialmodel/uwnet/ledger"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

const (
	plotWidth  = 6 * vg.Inch
	plotHeight = 4 * vg.Inch
)

// PlotBins plots the two-dimensional field name of b against the x bin
// midpoints, with one line for each non-empty y bin, and writes the
// plot to w in the given format ("png", "pdf", "svg", ...).
func PlotBins(b *Binned, name string, w io.Writer, format string) error {
	a, ok := b.Mean[name]
	if !ok {
		return fmt.Errorf("analysis: plotting: no variable %s", name)
	}
	if a.Shape[2] != 1 {
		return fmt.Errorf("%w: %s", ErrNotSurfaceField, name)
	}
	p, err := plot.New()
	if err != nil {
		return err
	}
	p.Title.Text = name
	p.X.Label.Text = b.XName
	p.Y.Label.Text = name

	xmid, ymid := Midpoints(b.XEdges), Midpoints(b.YEdges)
	ny := b.NumY()
	var lines []interface{}
	for j, y := range ymid {
		var xy plotter.XYs
		for i, x := range xmid {
			v := a.Elements[i*ny+j]
			if b.Count[i*ny+j] == 0 || math.IsNaN(v) {
				continue
			}
			xy = append(xy, struct{ X, Y float64 }{X: x, Y: v})
		}
		if len(xy) == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s=%.3g", b.YName, y), xy)
	}
	if err := plotutil.AddLinePoints(p, lines...); err != nil {
		return err
	}
	return writePlot(p, w, format)
}

// PlotLoss plots the training loss and the loss of the climatological
// mean for every batch in batches and writes the plot to w.
func PlotLoss(run string, batches []ledger.BatchRecord, w io.Writer, format string) error {
	if len(batches) == 0 {
		return fmt.Errorf("analysis: no batches recorded for run %s", run)
	}
	p, err := plot.New()
	if err != nil {
		return err
	}
	p.Title.Text = run
	p.X.Label.Text = "Batch"
	p.Y.Label.Text = "Loss"

	loss := make(plotter.XYs, 0, len(batches))
	avg := make(plotter.XYs, 0, len(batches))
	for i, b := range batches {
		x := float64(i)
		if !math.IsNaN(b.Loss) {
			loss = append(loss, struct{ X, Y float64 }{X: x, Y: b.Loss})
		}
		if !math.IsNaN(b.AvgLoss) {
			avg = append(avg, struct{ X, Y float64 }{X: x, Y: b.AvgLoss})
		}
	}
	if err := plotutil.AddLines(p, "loss", loss, "avg_loss", avg); err != nil {
		return err
	}
	return writePlot(p, w, format)
}

func writePlot(p *plot.Plot, w io.Writer, format string) error {
	wt, err := p.WriterTo(plotWidth, plotHeight, format)
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// PlotFormat returns the plot format implied by the extension of path.
func PlotFormat(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return "png"
	}
	return ext
}
