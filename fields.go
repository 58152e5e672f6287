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
	"sort"

	"github.com/ctessum/sparse"
)

// Fields maps variable names to arrays with dimensions
// (time, sample, level). Surface variables have a level length of 1.
type Fields map[string]*sparse.DenseArray

// Names returns the variable names in f in sorted order.
func (f Fields) Names() []string {
	names := make([]string, 0, len(f))
	for n := range f {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NumTime returns the length of the time dimension shared by the
// variables in f, or 0 if f is empty.
func (f Fields) NumTime() int {
	for _, v := range f {
		return v.Shape[0]
	}
	return 0
}

// SelectTime returns a copy of the time steps [begin, end) of every
// variable in f.
func (f Fields) SelectTime(begin, end int) (Fields, error) {
	o := make(Fields, len(f))
	for name, v := range f {
		if len(v.Shape) != 3 {
			return nil, fmt.Errorf("uwnet: variable %s has %d dimensions; expected 3", name, len(v.Shape))
		}
		if begin < 0 || end > v.Shape[0] || begin >= end {
			return nil, fmt.Errorf("uwnet: time slice [%d, %d) out of range for variable %s with %d steps",
				begin, end, name, v.Shape[0])
		}
		stride := v.Shape[1] * v.Shape[2]
		a := sparse.ZerosDense(end-begin, v.Shape[1], v.Shape[2])
		copy(a.Elements, v.Elements[begin*stride:end*stride])
		o[name] = a
	}
	return o, nil
}

// Merge returns a new Fields holding the variables of f and g.
// Variables in g take precedence.
func (f Fields) Merge(g Fields) Fields {
	o := make(Fields, len(f)+len(g))
	for n, v := range f {
		o[n] = v
	}
	for n, v := range g {
		o[n] = v
	}
	return o
}

// broadcastLevels returns an array with dimensions (nt, n, len(profile))
// where every column holds profile.
func broadcastLevels(profile []float64, nt, n int) *sparse.DenseArray {
	nz := len(profile)
	a := sparse.ZerosDense(nt, n, nz)
	for i := 0; i < nt*n; i++ {
		copy(a.Elements[i*nz:(i+1)*nz], profile)
	}
	return a
}
