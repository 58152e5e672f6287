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
	"math"
	"os"

	"github.com/ctessum/sparse"
	"github.com/spatialmodel/uwnet"
)

// HeightVar is the name of the vertical coordinate variable.
const HeightVar = "z"

// Evaluate evaluates m on the bin averages and adds the predicted
// apparent sources to b.Mean. Empty bins predict NaN.
func (b *Binned) Evaluate(m *uwnet.MLP) error {
	src, err := uwnet.CallNeuralNetwork(m, b.Mean, b.Constants)
	if err != nil {
		return fmt.Errorf("analysis: evaluating model on bin averages: %w", err)
	}
	for name, a := range src {
		b.Mean[name] = a
	}
	return nil
}

// Integrate returns the mass-weighted vertical integral of every column
// of a, which has dimensions (time, sample, level).
func Integrate(a *sparse.DenseArray, layerMass []float64) ([]float64, error) {
	nz := a.Shape[2]
	if nz != len(layerMass) {
		return nil, fmt.Errorf("%w: %d levels and %d layer masses", uwnet.ErrLayerMassMismatch, nz, len(layerMass))
	}
	o := make([]float64, a.Shape[0]*a.Shape[1])
	for c := range o {
		for k, m := range layerMass {
			o[c] += a.Elements[c*nz+k] * m
		}
	}
	return o, nil
}

// HeatingWeightedHeight returns, for every column of heating, the
// average height weighted by the mass-weighted positive heating rate.
func HeatingWeightedHeight(heating *sparse.DenseArray, layerMass, height []float64) ([]float64, error) {
	nz := heating.Shape[2]
	if nz != len(layerMass) || nz != len(height) {
		return nil, fmt.Errorf("%w: %d levels, %d layer masses and %d heights",
			uwnet.ErrLayerMassMismatch, nz, len(layerMass), len(height))
	}
	o := make([]float64, heating.Shape[0]*heating.Shape[1])
	for c := range o {
		var wsum, hsum float64
		for k := 0; k < nz; k++ {
			w := math.Max(heating.Elements[c*nz+k], 0) * layerMass[k]
			wsum += w
			hsum += w * height[k]
		}
		o[c] = hsum / wsum
	}
	return o, nil
}

// Diagnostics computes column-integrated diagnostics of the predicted
// heating and moisture sources of the variables heating and moisture:
// net heating, net precipitation (the negative of the moisture source),
// and the heating-weighted height. They are added to b.Mean as
// two-dimensional fields.
func (b *Binned) Diagnostics(heating, moisture string) error {
	lm, ok := b.Constants[uwnet.LayerMassVar]
	if !ok {
		return uwnet.ErrNoLayerMass
	}
	q1, ok := b.Mean[uwnet.SourceName(heating)]
	if !ok {
		return fmt.Errorf("%w: %s", uwnet.ErrMissingVariable, uwnet.SourceName(heating))
	}
	q2, ok := b.Mean[uwnet.SourceName(moisture)]
	if !ok {
		return fmt.Errorf("%w: %s", uwnet.ErrMissingVariable, uwnet.SourceName(moisture))
	}
	netHeating, err := Integrate(q1, lm)
	if err != nil {
		return err
	}
	netPrec, err := Integrate(q2, lm)
	if err != nil {
		return err
	}
	for i := range netPrec {
		netPrec[i] = -netPrec[i]
	}
	height, ok := b.Constants[HeightVar]
	if !ok {
		height = make([]float64, len(lm))
		for k := range height {
			height[k] = float64(k)
		}
	}
	hwh, err := HeatingWeightedHeight(q1, lm, height)
	if err != nil {
		return err
	}
	nb := len(b.Count)
	for name, v := range map[string][]float64{
		"net_heating_nn":          netHeating,
		"net_precipitation_nn":    netPrec,
		"heating_weighted_height": hwh,
	} {
		a := sparse.ZerosDense(1, nb, 1)
		copy(a.Elements, v)
		b.Mean[name] = a
	}
	return nil
}

// Write writes b to w in NetCDF format, with the bin midpoints as
// coordinates and the vertical dimension "z".
func (b *Binned) Write(w *os.File) error {
	xDim, yDim := b.XName+"_bins", b.YName+"_bins"
	nx, ny := b.NumX(), b.NumY()
	dims := []string{xDim, yDim}
	lengths := []int{nx, ny}
	nz := 0
	for _, a := range b.Mean {
		if a.Shape[2] > 1 {
			if nz != 0 && a.Shape[2] != nz {
				return fmt.Errorf("analysis: variables have %d and %d levels", nz, a.Shape[2])
			}
			nz = a.Shape[2]
		}
	}
	if nz > 0 {
		dims = append(dims, uwnet.LevelDim)
		lengths = append(lengths, nz)
	}

	vars := make(map[string]uwnet.NCVar, len(b.Mean)+3)
	vars[xDim] = uwnet.NCVar{Dims: []string{xDim}, Data: dense(Midpoints(b.XEdges))}
	vars[yDim] = uwnet.NCVar{Dims: []string{yDim}, Data: dense(Midpoints(b.YEdges))}
	count := sparse.ZerosDense(nx, ny)
	for i, c := range b.Count {
		count.Elements[i] = float64(c)
	}
	vars["count"] = uwnet.NCVar{Dims: []string{xDim, yDim}, Data: count}
	for name, a := range b.Mean {
		if name == xDim || name == yDim || name == "count" {
			return fmt.Errorf("analysis: variable name %s is reserved", name)
		}
		if a.Shape[2] == 1 {
			vars[name] = uwnet.NCVar{Dims: []string{xDim, yDim}, Data: reshape(a, nx, ny)}
		} else {
			vars[name] = uwnet.NCVar{Dims: []string{xDim, yDim, uwnet.LevelDim}, Data: reshape(a, nx, ny, nz)}
		}
	}
	return uwnet.WriteNetCDF(w, dims, lengths, vars, map[string]string{
		"binned_by": b.XName + "," + b.YName,
	})
}

func dense(v []float64) *sparse.DenseArray {
	a := sparse.ZerosDense(len(v))
	copy(a.Elements, v)
	return a
}

// reshape returns a copy of a with the given shape. Bins are stored
// x-major, so the elements do not need to be rearranged.
func reshape(a *sparse.DenseArray, shape ...int) *sparse.DenseArray {
	o := sparse.ZerosDense(shape...)
	copy(o.Elements, a.Elements)
	return o
}
