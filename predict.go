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
	"context"
	"fmt"

	"github.com/ctessum/sparse"
)

// SourceName returns the name of the apparent source that the neural
// network predicts for variable v.
func SourceName(v string) string { return "Q" + v + "NN" }

// Sources returns the apparent sources of the output variables of m
// for state x, in units of the variable per unit time. The sources are
// keyed by SourceName.
func (m *MLP) Sources(x Fields) (Fields, error) {
	out, err := m.network(x)
	if err != nil {
		return nil, err
	}
	s, err := m.combine(x, out, false)
	if err != nil {
		return nil, err
	}
	o := make(Fields, len(s))
	for v, a := range s {
		o[SourceName(v)] = a
	}
	return o, nil
}

// CallNeuralNetwork evaluates m on a simulator state and returns the
// apparent sources. state holds arrays with dimensions
// (time, sample, level) and constants holds vertical profiles, such as
// layer mass, that are shared by every column.
func CallNeuralNetwork(m *MLP, state Fields, constants map[string][]float64) (Fields, error) {
	nt := state.NumTime()
	if nt == 0 {
		return nil, fmt.Errorf("uwnet: empty simulator state")
	}
	var n int
	for _, a := range state {
		n = a.Shape[1]
		break
	}
	x := make(Fields, len(state)+len(constants))
	for name, a := range state {
		x[name] = a
	}
	for name, c := range constants {
		if _, ok := x[name]; !ok {
			x[name] = broadcastLevels(c, nt, n)
		}
	}
	return m.Sources(x)
}

// Predict evaluates m at every time step of d and returns a dataset
// holding the predicted apparent sources with the same dimensions as
// the variables they belong to.
func Predict(ctx context.Context, m *MLP, d *Dataset) (*Dataset, error) {
	nt, ns := d.NumTime(), d.NumSamples()
	o := &Dataset{
		Vars:      make(Fields, len(m.Outputs)),
		Constants: make(map[string]*sparse.DenseArray),
		Time:      append([]float64{}, d.Time...),
		Dims:      make(map[string][]string),
		Lengths:   make(map[string][]int),
	}
	for _, v := range m.Outputs {
		if _, ok := d.Vars[v]; !ok {
			return nil, fmt.Errorf("%w: output %s", ErrMissingVariable, v)
		}
		name := SourceName(v)
		o.Vars[name] = sparse.ZerosDense(nt, ns, m.outSize[v])
		o.Dims[name] = d.Dims[v]
		o.Lengths[name] = d.Lengths[v]
	}
	if lm, ok := d.Constants[LayerMassVar]; ok {
		o.Constants[LayerMassVar] = lm
		o.Dims[LayerMassVar] = d.Dims[LayerMassVar]
		o.Lengths[LayerMassVar] = d.Lengths[LayerMassVar]
	}
	constants := d.ConstantFields(1, ns)
	for t := 0; t < nt; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		x, err := d.Vars.SelectTime(t, t+1)
		if err != nil {
			return nil, err
		}
		src, err := m.Sources(x.Merge(constants))
		if err != nil {
			return nil, fmt.Errorf("uwnet: predicting time step %d: %w", t, err)
		}
		for name, a := range src {
			dst := o.Vars[name].Elements
			copy(dst[t*len(a.Elements):(t+1)*len(a.Elements)], a.Elements)
		}
	}
	return o, nil
}
