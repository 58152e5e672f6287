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
	"os"
	"sort"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// NCVar is a variable to be written to a NetCDF file.
type NCVar struct {
	Dims  []string
	Data  *sparse.DenseArray
	Attrs map[string]string
}

// WriteNetCDF writes vars to w in NetCDF format. dims and lengths give the
// names and lengths of every dimension used by vars.
func WriteNetCDF(w *os.File, dims []string, lengths []int, vars map[string]NCVar, attrs map[string]string) error {
	h := cdf.NewHeader(dims, lengths)
	for _, a := range sortedKeys(attrs) {
		h.AddAttribute("", a, attrs[a])
	}

	// Sort the names so they write in the same order every time.
	names := make([]string, 0, len(vars))
	for n := range vars {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, name := range names {
		v := vars[name]
		h.AddVariable(name, v.Dims, []float32{0})
		for _, a := range sortedKeys(v.Attrs) {
			h.AddAttribute(name, a, v.Attrs[a])
		}
	}
	h.Define()

	f, err := cdf.Create(w, h)
	if err != nil {
		return fmt.Errorf("uwnet: creating netcdf file: %v", err)
	}
	for _, name := range names {
		if err = writeNCF(f, name, vars[name].Data); err != nil {
			return fmt.Errorf("uwnet: writing variable %s to netcdf file: %v", name, err)
		}
	}
	return cdf.UpdateNumRecs(w)
}

func writeNCF(f *cdf.File, name string, data *sparse.DenseArray) error {
	// Check that data matches dimensions.
	end := f.Header.Lengths(name)
	n := 1
	for _, l := range end {
		n *= l
	}
	if len(data.Elements) != n {
		return fmt.Errorf("dims are %d but array length is %d", n, len(data.Elements))
	}
	data32 := make([]float32, len(data.Elements))
	for i, e := range data.Elements {
		data32[i] = float32(e)
	}
	start := make([]int, len(end))
	_, err := f.Writer(name, start, end).Write(data32)
	return err
}

func sortedKeys(m map[string]string) []string {
	o := make([]string, 0, len(m))
	for k := range m {
		o = append(o, k)
	}
	sort.Strings(o)
	return o
}

// Subset returns a dataset holding the time steps [begin, end) of d.
// Constants are shared with d.
func (d *Dataset) Subset(begin, end int) (*Dataset, error) {
	vars, err := d.Vars.SelectTime(begin, end)
	if err != nil {
		return nil, err
	}
	o := &Dataset{
		Vars:      vars,
		Constants: d.Constants,
		Time:      append([]float64{}, d.Time[begin:end]...),
		Dims:      d.Dims,
		Lengths:   make(map[string][]int, len(d.Lengths)),
	}
	for name, l := range d.Lengths {
		l = append([]int{}, l...)
		if dims := d.Dims[name]; len(dims) > 0 && dims[0] == TimeDim {
			l[0] = end - begin
		}
		o.Lengths[name] = l
	}
	return o, nil
}

// Write writes d to w in NetCDF format with the dimensions it was read
// with.
func (d *Dataset) Write(w *os.File) error {
	dimLen := map[string]int{TimeDim: len(d.Time)}
	var dimNames []string
	vars := make(map[string]NCVar)
	add := func(name string, data *sparse.DenseArray) error {
		dims, lengths := d.Dims[name], d.Lengths[name]
		for i, dim := range dims {
			l, ok := dimLen[dim]
			if !ok {
				dimLen[dim] = lengths[i]
				dimNames = append(dimNames, dim)
			} else if l != lengths[i] {
				return fmt.Errorf("uwnet: dimension %s of %s has length %d; expected %d", dim, name, lengths[i], l)
			}
		}
		vars[name] = NCVar{Dims: dims, Data: data}
		return nil
	}
	if len(d.Time) > 0 {
		t := sparse.ZerosDense(len(d.Time))
		copy(t.Elements, d.Time)
		vars[TimeDim] = NCVar{Dims: []string{TimeDim}, Data: t}
	}
	for name, v := range d.Vars {
		if err := add(name, fromColumns(v, d.Lengths[name])); err != nil {
			return err
		}
	}
	for name, c := range d.Constants {
		if err := add(name, c); err != nil {
			return err
		}
	}
	sort.Strings(dimNames)
	dims := append([]string{TimeDim}, dimNames...)
	lengths := make([]int, len(dims))
	for i, dim := range dims {
		lengths[i] = dimLen[dim]
	}
	return WriteNetCDF(w, dims, lengths, vars, nil)
}
