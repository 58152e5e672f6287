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
	"math"
	"math/rand"
	"strings"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/mat"
)

// ForcingPrefix is prepended to the name of an output variable to give the
// name of the variable holding its large-scale forcing.
const ForcingPrefix = "F"

// ErrForcingName is returned when the only forcing for an output
// variable differs from ForcingPrefix+name in letter case.
var ErrForcingName = errors.New("uwnet: forcing variable name does not match output")

// forcing returns the forcing of output variable v in x, or nil if x
// has none.
func forcing(x Fields, v string) (*sparse.DenseArray, error) {
	name := ForcingPrefix + v
	if f, ok := x[name]; ok {
		return f, nil
	}
	for n := range x {
		if strings.EqualFold(n, name) {
			return nil, fmt.Errorf("%w: found %s, want %s", ErrForcingName, n, name)
		}
	}
	return nil, nil
}

// A Param is a trainable parameter and its accumulated gradient.
// Data and Grad alias the storage of the parameter, so updates
// to Data change the model.
type Param struct {
	Name  string
	Shape []int
	Data  []float64
	Grad  []float64
}

// Module is a differentiable model mapping a window of inputs to a
// prediction of the next time step of its outputs.
type Module interface {
	// Forward returns the prediction for x and keeps the intermediate
	// values needed by Backward.
	Forward(x Fields) (Fields, error)

	// Backward accumulates the gradient of the loss with respect to the
	// parameters, given the gradient with respect to the last prediction.
	Backward(dpred Fields) error

	Parameters() []Param
	ZeroGrad()

	// State returns a self-describing copy of the model.
	State() ModelState
}

// Optimizer updates the parameters of a Module from their gradients.
type Optimizer interface {
	Step()
	ZeroGrad()
}

// MLP is a multilayer perceptron applied independently to every column
// and time step. Inputs are normalized by the dataset statistics and the
// network output is added, in units of each output's scale, to the
// current state and the forcing tendency.
type MLP struct {
	Inputs, Outputs []string
	Mean            map[string][]float64
	Scale           map[string]float64
	TimeStep        float64
	Hidden          []int

	inSize, outSize map[string]int
	weights, biases []*mat.Dense
	gradW, gradB    []*mat.Dense

	// values kept from the last call to Forward
	acts, pre []*mat.Dense
	nt, n     int
}

// NewMLP returns a freshly initialized network. The number of vertical
// levels of each input and output is the length of its mean profile.
func NewMLP(inputs, outputs []string, mean map[string][]float64, scale map[string]float64,
	timeStep float64, hidden []int, seed int64) (*MLP, error) {
	m := &MLP{
		Inputs:   inputs,
		Outputs:  outputs,
		Mean:     mean,
		Scale:    scale,
		TimeStep: timeStep,
		Hidden:   hidden,
	}
	if err := m.setup(); err != nil {
		return nil, err
	}
	r := rand.New(rand.NewSource(seed))
	sizes := m.layerSizes()
	for i := 0; i < len(sizes)-1; i++ {
		nin, nout := sizes[i], sizes[i+1]
		limit := math.Sqrt(6 / float64(nin+nout))
		w := make([]float64, nin*nout)
		for j := range w {
			w[j] = (2*r.Float64() - 1) * limit
		}
		m.weights = append(m.weights, mat.NewDense(nin, nout, w))
		m.biases = append(m.biases, mat.NewDense(1, nout, nil))
	}
	m.allocGrad()
	return m, nil
}

func (m *MLP) setup() error {
	if len(m.Inputs) == 0 || len(m.Outputs) == 0 {
		return fmt.Errorf("uwnet: model needs at least one input and one output")
	}
	m.inSize = make(map[string]int)
	m.outSize = make(map[string]int)
	for _, v := range m.Inputs {
		mu, ok := m.Mean[v]
		if !ok {
			return fmt.Errorf("uwnet: no statistics for input variable %s", v)
		}
		m.inSize[v] = len(mu)
	}
	for _, v := range m.Outputs {
		mu, ok := m.Mean[v]
		if !ok {
			return fmt.Errorf("uwnet: no statistics for output variable %s", v)
		}
		m.outSize[v] = len(mu)
	}
	for _, h := range m.Hidden {
		if h < 1 {
			return fmt.Errorf("uwnet: hidden layer widths must be positive: %v", m.Hidden)
		}
	}
	return nil
}

func (m *MLP) layerSizes() []int {
	nin, nout := 0, 0
	for _, v := range m.Inputs {
		nin += m.inSize[v]
	}
	for _, v := range m.Outputs {
		nout += m.outSize[v]
	}
	sizes := append([]int{nin}, m.Hidden...)
	return append(sizes, nout)
}

func (m *MLP) allocGrad() {
	m.gradW = make([]*mat.Dense, len(m.weights))
	m.gradB = make([]*mat.Dense, len(m.biases))
	for i, w := range m.weights {
		r, c := w.Dims()
		m.gradW[i] = mat.NewDense(r, c, nil)
		m.gradB[i] = mat.NewDense(1, c, nil)
	}
}

// features returns the normalized inputs as a matrix with one row per
// time step and sample.
func (m *MLP) features(x Fields) (*mat.Dense, error) {
	first, ok := x[m.Inputs[0]]
	if !ok {
		return nil, fmt.Errorf("%w: input %s", ErrMissingVariable, m.Inputs[0])
	}
	m.nt, m.n = first.Shape[0], first.Shape[1]
	rows := m.nt * m.n
	ncol := m.layerSizes()[0]
	f := mat.NewDense(rows, ncol, nil)
	raw := f.RawMatrix()
	off := 0
	for _, v := range m.Inputs {
		a, ok := x[v]
		if !ok {
			return nil, fmt.Errorf("%w: input %s", ErrMissingVariable, v)
		}
		nz := m.inSize[v]
		if len(a.Shape) != 3 || a.Shape[0]*a.Shape[1] != rows || a.Shape[2] != nz {
			return nil, fmt.Errorf("uwnet: input %s has shape %v; expected (%d, %d, %d)",
				v, a.Shape, m.nt, m.n, nz)
		}
		mu, s := m.Mean[v], m.Scale[v]
		for r := 0; r < rows; r++ {
			row := raw.Data[r*raw.Stride+off : r*raw.Stride+off+nz]
			for k := range row {
				row[k] = (a.Elements[r*nz+k] - mu[k]) / s
			}
		}
		off += nz
	}
	return f, nil
}

// Forward implements Module.
func (m *MLP) Forward(x Fields) (Fields, error) {
	out, err := m.network(x)
	if err != nil {
		return nil, err
	}
	return m.combine(x, out, true)
}

// network runs the perceptron on x and returns its raw output.
func (m *MLP) network(x Fields) (*mat.Dense, error) {
	h, err := m.features(x)
	if err != nil {
		return nil, err
	}
	m.acts = []*mat.Dense{h}
	m.pre = m.pre[:0]
	last := len(m.weights) - 1
	for i, w := range m.weights {
		z := new(mat.Dense)
		z.Mul(h, w)
		addRow(z, m.biases[i])
		if i == last {
			return z, nil
		}
		m.pre = append(m.pre, z)
		a := new(mat.Dense)
		a.Apply(func(_, _ int, v float64) float64 { return math.Max(v, 0) }, z)
		m.acts = append(m.acts, a)
		h = a
	}
	panic("unreachable")
}

// combine turns the network output into a prediction of each output
// variable. When tendency is false it returns the network output in
// physical units per unit time instead.
func (m *MLP) combine(x Fields, out *mat.Dense, tendency bool) (Fields, error) {
	raw := out.RawMatrix()
	rows := m.nt * m.n
	pred := make(Fields, len(m.Outputs))
	off := 0
	for _, v := range m.Outputs {
		nz := m.outSize[v]
		p := sparse.ZerosDense(m.nt, m.n, nz)
		var state, f *sparse.DenseArray
		if tendency {
			var ok bool
			if state, ok = x[v]; !ok {
				return nil, fmt.Errorf("%w: output %s not in model inputs", ErrMissingVariable, v)
			}
			var err error
			if f, err = forcing(x, v); err != nil {
				return nil, err
			}
		}
		s := m.Scale[v]
		for r := 0; r < rows; r++ {
			for k := 0; k < nz; k++ {
				i := r*nz + k
				nn := s * raw.Data[r*raw.Stride+off+k]
				if !tendency {
					if m.TimeStep != 0 {
						nn /= m.TimeStep
					}
					p.Elements[i] = nn
					continue
				}
				p.Elements[i] = state.Elements[i] + nn
				if f != nil {
					p.Elements[i] += m.TimeStep * f.Elements[i]
				}
			}
		}
		pred[v] = p
		off += nz
	}
	return pred, nil
}

// Backward implements Module.
func (m *MLP) Backward(dpred Fields) error {
	if len(m.acts) == 0 {
		return fmt.Errorf("uwnet: Backward called before Forward")
	}
	rows := m.nt * m.n
	d := mat.NewDense(rows, m.layerSizes()[len(m.weights)], nil)
	raw := d.RawMatrix()
	off := 0
	for _, v := range m.Outputs {
		nz := m.outSize[v]
		g, ok := dpred[v]
		if !ok {
			off += nz
			continue
		}
		s := m.Scale[v]
		for r := 0; r < rows; r++ {
			for k := 0; k < nz; k++ {
				raw.Data[r*raw.Stride+off+k] = s * g.Elements[r*nz+k]
			}
		}
		off += nz
	}
	for i := len(m.weights) - 1; i >= 0; i-- {
		gw := new(mat.Dense)
		gw.Mul(m.acts[i].T(), d)
		m.gradW[i].Add(m.gradW[i], gw)
		addColumnSums(m.gradB[i], d)
		if i == 0 {
			break
		}
		next := new(mat.Dense)
		next.Mul(d, m.weights[i].T())
		pre := m.pre[i-1]
		next.Apply(func(r, c int, v float64) float64 {
			if pre.At(r, c) <= 0 {
				return 0
			}
			return v
		}, next)
		d = next
	}
	return nil
}

// Parameters implements Module.
func (m *MLP) Parameters() []Param {
	var o []Param
	for i := range m.weights {
		o = append(o, denseParam(fmt.Sprintf("layers.%d.weight", i), m.weights[i], m.gradW[i]),
			denseParam(fmt.Sprintf("layers.%d.bias", i), m.biases[i], m.gradB[i]))
	}
	return o
}

// ZeroGrad implements Module.
func (m *MLP) ZeroGrad() {
	for _, p := range m.Parameters() {
		for i := range p.Grad {
			p.Grad[i] = 0
		}
	}
}

func (m *MLP) String() string {
	return fmt.Sprintf("MLP(inputs=%v, outputs=%v, layers=%v)", m.Inputs, m.Outputs, m.layerSizes())
}

func denseParam(name string, v, g *mat.Dense) Param {
	r, c := v.Dims()
	return Param{Name: name, Shape: []int{r, c}, Data: v.RawMatrix().Data, Grad: g.RawMatrix().Data}
}

// addRow adds the single-row matrix b to every row of z.
func addRow(z, b *mat.Dense) {
	zr, br := z.RawMatrix(), b.RawMatrix()
	for r := 0; r < zr.Rows; r++ {
		row := zr.Data[r*zr.Stride : r*zr.Stride+zr.Cols]
		for c := range row {
			row[c] += br.Data[c]
		}
	}
}

// addColumnSums adds the sum of each column of d to the single-row
// matrix g.
func addColumnSums(g, d *mat.Dense) {
	gr, dr := g.RawMatrix(), d.RawMatrix()
	for r := 0; r < dr.Rows; r++ {
		row := dr.Data[r*dr.Stride : r*dr.Stride+dr.Cols]
		for c, v := range row {
			gr.Data[c] += v
		}
	}
}

// Adam implements the Adam stochastic optimization method.
type Adam struct {
	LearningRate, Beta1, Beta2, Epsilon float64

	params []Param
	m, v   [][]float64
	t      int
}

// NewAdam returns an Adam optimizer for params with the usual
// default moment decay rates.
func NewAdam(params []Param, learningRate float64) *Adam {
	a := &Adam{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		params:       params,
	}
	for _, p := range params {
		a.m = append(a.m, make([]float64, len(p.Data)))
		a.v = append(a.v, make([]float64, len(p.Data)))
	}
	return a
}

// Step implements Optimizer.
func (a *Adam) Step() {
	a.t++
	c1 := 1 - math.Pow(a.Beta1, float64(a.t))
	c2 := 1 - math.Pow(a.Beta2, float64(a.t))
	for i, p := range a.params {
		m, v := a.m[i], a.v[i]
		for j, g := range p.Grad {
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*g
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*g*g
			p.Data[j] -= a.LearningRate * (m[j] / c1) / (math.Sqrt(v[j]/c2) + a.Epsilon)
		}
	}
}

// ZeroGrad implements Optimizer.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		for j := range p.Grad {
			p.Grad[j] = 0
		}
	}
}
