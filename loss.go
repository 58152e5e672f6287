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

package uwnet

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrLayerMassMismatch is returned when a variable with more than one
	// vertical level has a different number of levels than the layer
	// mass profile.
	ErrLayerMassMismatch = errors.New("uwnet: layer mass does not match the number of vertical levels")

	// ErrMissingVariable is returned when a variable named in the loss
	// scales is absent from the truth or the prediction.
	ErrMissingVariable = errors.New("uwnet: variable missing from loss inputs")
)

// Loss returns the sum over the variables in scale of the mean squared
// error between truth and pred divided by the square of the variable's
// scale. Errors of variables with more than one vertical level are
// weighted by layerMass normalized by its mean.
func Loss(truth, pred Fields, scale map[string]float64, layerMass []float64) (float64, error) {
	l, _, err := lossGrad(truth, pred, scale, layerMass, false)
	return l, err
}

// LossGrad returns the loss along with its gradient with respect to pred.
func LossGrad(truth, pred Fields, scale map[string]float64, layerMass []float64) (float64, Fields, error) {
	return lossGrad(truth, pred, scale, layerMass, true)
}

func lossGrad(truth, pred Fields, scale map[string]float64, layerMass []float64, grad bool) (float64, Fields, error) {
	names := make([]string, 0, len(scale))
	for v := range scale {
		names = append(names, v)
	}
	sort.Strings(names)

	var g Fields
	if grad {
		g = make(Fields, len(names))
	}
	var w []float64
	var total float64
	for _, v := range names {
		t, ok := truth[v]
		if !ok {
			return 0, nil, fmt.Errorf("%w: %s not in truth", ErrMissingVariable, v)
		}
		p, ok := pred[v]
		if !ok {
			return 0, nil, fmt.Errorf("%w: %s not in prediction", ErrMissingVariable, v)
		}
		if !sameShape(t.Shape, p.Shape) {
			return 0, nil, fmt.Errorf("uwnet: loss: truth and prediction shapes differ for %s: %v != %v",
				v, t.Shape, p.Shape)
		}
		s := scale[v]
		if s <= 0 {
			return 0, nil, fmt.Errorf("uwnet: loss: scale for %s must be positive but is %g", v, s)
		}
		nz := t.Shape[len(t.Shape)-1]
		var wv []float64
		if nz > 1 {
			if len(layerMass) != nz {
				return 0, nil, fmt.Errorf("%w: %s has %d levels but layer mass has %d",
					ErrLayerMassMismatch, v, nz, len(layerMass))
			}
			if w == nil {
				w = append([]float64{}, layerMass...)
				floats.Scale(float64(len(w))/floats.Sum(w), w)
			}
			wv = w
		}

		n := float64(len(t.Elements))
		denom := s * s
		var gv *sparse.DenseArray
		if grad {
			gv = sparse.ZerosDense(p.Shape...)
			g[v] = gv
		}
		var sum float64
		for i, te := range t.Elements {
			d := p.Elements[i] - te
			wi := 1.
			if wv != nil {
				wi = wv[i%nz]
			}
			sum += wi * d * d
			if grad {
				gv.Elements[i] = 2 * wi * d / (n * denom)
			}
		}
		total += sum / n / denom
	}
	return total, g, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
