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

// Package analysis holds diagnostics of trained models: averages of
// model inputs and outputs over bins of a two-dimensional base state,
// loss curves from the run ledger, and spreadsheet exports.
package analysis

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/GaryBoone/GoStats/stats"
	"github.com/ctessum/sparse"
	"github.com/spatialmodel/uwnet"
	"gonum.org/v1/gonum/floats"
)

// ErrNotSurfaceField is returned when a binning variable has more than
// one vertical level.
var ErrNotSurfaceField = errors.New("analysis: binning variable must be a two-dimensional field")

// Edges returns n+1 evenly spaced bin edges from min to max.
func Edges(min, max float64, n int) ([]float64, error) {
	if n < 1 || !(max > min) {
		return nil, fmt.Errorf("analysis: invalid bins: %d bins from %g to %g", n, min, max)
	}
	return floats.Span(make([]float64, n+1), min, max), nil
}

// Midpoints returns the centers of the bins defined by edges.
func Midpoints(edges []float64) []float64 {
	if len(edges) < 2 {
		return nil
	}
	o := make([]float64, len(edges)-1)
	for i := range o {
		o[i] = (edges[i] + edges[i+1]) / 2
	}
	return o
}

// binIndex returns the bin v falls in, or -1 if it is outside of the
// edges. Bins include their lower edge; the last bin also includes its
// upper edge.
func binIndex(edges []float64, v float64) int {
	n := len(edges) - 1
	if n < 1 || math.IsNaN(v) || v < edges[0] || v > edges[n] {
		return -1
	}
	i := sort.SearchFloat64s(edges, v)
	if i < len(edges) && edges[i] == v {
		if i == n {
			return n - 1
		}
		return i
	}
	return i - 1
}

// Binned holds averages over a two-dimensional histogram of the columns
// of a dataset.
type Binned struct {
	XName, YName   string
	XEdges, YEdges []float64

	// Count is the number of columns in each bin, indexed by
	// i*NumY()+j for x bin i and y bin j.
	Count []int

	// Mean holds the average of every time-varying variable in each
	// bin, with dimensions (1, bin, level). Empty bins hold NaN.
	Mean uwnet.Fields

	// Constants holds the vertical profile constants of the dataset.
	Constants map[string][]float64
}

// NumX returns the number of x bins.
func (b *Binned) NumX() int { return len(b.XEdges) - 1 }

// NumY returns the number of y bins.
func (b *Binned) NumY() int { return len(b.YEdges) - 1 }

// Average groups every column (time step and horizontal location) of d
// by the values of the two-dimensional fields xName and yName and
// returns the average of every time-varying variable in each group.
// Columns where either field is outside of the bin edges are ignored.
func Average(d *uwnet.Dataset, xName, yName string, xEdges, yEdges []float64) (*Binned, error) {
	fx, err := surfaceField(d, xName)
	if err != nil {
		return nil, err
	}
	fy, err := surfaceField(d, yName)
	if err != nil {
		return nil, err
	}
	if len(xEdges) < 2 || len(yEdges) < 2 {
		return nil, fmt.Errorf("analysis: at least two bin edges are needed in each direction")
	}
	if !sort.Float64sAreSorted(xEdges) || !sort.Float64sAreSorted(yEdges) {
		return nil, fmt.Errorf("analysis: bin edges must be increasing")
	}
	b := &Binned{
		XName:     xName,
		YName:     yName,
		XEdges:    xEdges,
		YEdges:    yEdges,
		Mean:      make(uwnet.Fields, len(d.Vars)),
		Constants: make(map[string][]float64),
	}
	nb := b.NumX() * b.NumY()
	b.Count = make([]int, nb)

	// Find the bin of every column.
	bins := make([]int, len(fx.Elements))
	for c := range bins {
		i, j := binIndex(xEdges, fx.Elements[c]), binIndex(yEdges, fy.Elements[c])
		if i < 0 || j < 0 {
			bins[c] = -1
			continue
		}
		bins[c] = i*b.NumY() + j
		b.Count[bins[c]]++
	}

	for name, v := range d.Vars {
		nz := v.Shape[2]
		acc := make([]stats.Stats, nb*nz)
		for c, bin := range bins {
			if bin < 0 {
				continue
			}
			for k := 0; k < nz; k++ {
				acc[bin*nz+k].Update(v.Elements[c*nz+k])
			}
		}
		m := sparse.ZerosDense(1, nb, nz)
		for i := range acc {
			if acc[i].Count() == 0 {
				m.Elements[i] = math.NaN()
				continue
			}
			m.Elements[i] = acc[i].Mean()
		}
		b.Mean[name] = m
	}

	for name, c := range d.Constants {
		if dims := d.Dims[name]; len(dims) == 1 && dims[0] == uwnet.LevelDim {
			b.Constants[name] = c.Elements
		}
	}
	return b, nil
}

func surfaceField(d *uwnet.Dataset, name string) (*sparse.DenseArray, error) {
	v, ok := d.Vars[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", uwnet.ErrMissingVariable, name)
	}
	if v.Shape[2] != 1 {
		return nil, fmt.Errorf("%w: %s has %d levels", ErrNotSurfaceField, name, v.Shape[2])
	}
	return v, nil
}
