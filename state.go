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
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// A Tensor is a serializable n-dimensional array.
type Tensor struct {
	Shape []int
	Data  []float64
}

// ModelState is a self-describing snapshot of a model: its parameters
// along with the statistics and variable lists needed to rebuild it.
type ModelState struct {
	Inputs, Outputs []string
	Mean            map[string][]float64
	Scale           map[string]float64
	TimeStep        float64
	Hidden          []int
	Params          map[string]Tensor
}

// State implements Module.
func (m *MLP) State() ModelState {
	s := ModelState{
		Inputs:   append([]string{}, m.Inputs...),
		Outputs:  append([]string{}, m.Outputs...),
		Mean:     make(map[string][]float64, len(m.Mean)),
		Scale:    make(map[string]float64, len(m.Scale)),
		TimeStep: m.TimeStep,
		Hidden:   append([]int{}, m.Hidden...),
		Params:   make(map[string]Tensor),
	}
	for k, v := range m.Mean {
		s.Mean[k] = append([]float64{}, v...)
	}
	for k, v := range m.Scale {
		s.Scale[k] = v
	}
	for _, p := range m.Parameters() {
		s.Params[p.Name] = Tensor{
			Shape: append([]int{}, p.Shape...),
			Data:  append([]float64{}, p.Data...),
		}
	}
	return s
}

// MLPFromState rebuilds a network from a snapshot made by State.
func MLPFromState(s ModelState) (*MLP, error) {
	m := &MLP{
		Inputs:   s.Inputs,
		Outputs:  s.Outputs,
		Mean:     s.Mean,
		Scale:    s.Scale,
		TimeStep: s.TimeStep,
		Hidden:   s.Hidden,
	}
	if err := m.setup(); err != nil {
		return nil, err
	}
	sizes := m.layerSizes()
	for i := 0; i < len(sizes)-1; i++ {
		w, err := s.param(fmt.Sprintf("layers.%d.weight", i), sizes[i], sizes[i+1])
		if err != nil {
			return nil, err
		}
		b, err := s.param(fmt.Sprintf("layers.%d.bias", i), 1, sizes[i+1])
		if err != nil {
			return nil, err
		}
		m.weights = append(m.weights, w)
		m.biases = append(m.biases, b)
	}
	m.allocGrad()
	return m, nil
}

func (s ModelState) param(name string, r, c int) (*mat.Dense, error) {
	t, ok := s.Params[name]
	if !ok {
		return nil, fmt.Errorf("uwnet: model state is missing parameter %s", name)
	}
	if len(t.Shape) != 2 || t.Shape[0] != r || t.Shape[1] != c || len(t.Data) != r*c {
		return nil, fmt.Errorf("uwnet: parameter %s has shape %v; expected [%d %d]", name, t.Shape, r, c)
	}
	return mat.NewDense(r, c, append([]float64{}, t.Data...)), nil
}
