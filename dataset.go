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
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"sync"

	"github.com/GaryBoone/GoStats/stats"
	"github.com/ctessum/cdf"
	"github.com/ctessum/requestcache"
	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

// Names of NetCDF dimensions and variables with special meaning.
const (
	TimeDim      = "time"
	LevelDim     = "z"
	LayerMassVar = "layer_mass"
)

// ErrNoLayerMass is returned when a dataset has no usable
// layer mass profile.
var ErrNoLayerMass = errors.New("uwnet: dataset has no one-dimensional layer_mass variable")

// Dataset holds a time series of climate-model output. It is read
// once and is not modified afterward, so it can be shared between
// goroutines.
type Dataset struct {
	// Vars holds the time-varying variables, with the horizontal
	// dimensions flattened into the sample dimension.
	Vars Fields

	// Constants holds the variables that have no time dimension,
	// in their original shape.
	Constants map[string]*sparse.DenseArray

	// Time holds the time coordinate. If the file has no time
	// variable it holds the time indices.
	Time []float64

	// Dims and Lengths hold the original dimensions of every variable.
	Dims    map[string][]string
	Lengths map[string][]int

	statsOnce sync.Once
	mean      map[string][]float64
	scale     map[string]float64
}

// OpenDataset reads the NetCDF file at path.
func OpenDataset(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("uwnet: opening dataset: %v", err)
	}
	defer f.Close()
	return ReadDataset(f)
}

var (
	datasetCache     *requestcache.Cache
	datasetCacheInit sync.Once
)

// LoadDataset returns the dataset at path. Repeated requests for the
// same path within a process return the same *Dataset.
func LoadDataset(ctx context.Context, path string) (*Dataset, error) {
	datasetCacheInit.Do(func() {
		datasetCache = requestcache.NewCache(func(ctx context.Context, request interface{}) (interface{}, error) {
			return OpenDataset(request.(string))
		}, runtime.GOMAXPROCS(-1), requestcache.Deduplicate(), requestcache.Memory(4))
	})
	req := datasetCache.NewRequest(ctx, path, path)
	result, err := req.Result()
	if err != nil {
		return nil, err
	}
	return result.(*Dataset), nil
}

// ReadDataset reads a dataset from NetCDF file f. Variables whose first
// dimension is "time" become time-varying variables; all others are
// stored as constants. All time-varying variables must have the same
// number of time steps.
func ReadDataset(f *os.File) (*Dataset, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("uwnet: reading dataset: %v", err)
	}
	ff, err := cdf.Open(f)
	if err != nil {
		return nil, fmt.Errorf("uwnet: reading dataset: %v", err)
	}
	nrec := int(ff.Header.NumRecs(fi.Size()))

	d := &Dataset{
		Vars:      make(Fields),
		Constants: make(map[string]*sparse.DenseArray),
		Dims:      make(map[string][]string),
		Lengths:   make(map[string][]int),
	}
	nt := -1
	for _, v := range ff.Header.Variables() {
		dims := ff.Header.Dimensions(v)
		if len(dims) == 0 {
			continue
		}
		lengths := append([]int{}, ff.Header.Lengths(v)...)
		if ff.Header.IsRecordVariable(v) {
			lengths[0] = nrec
		}
		data, err := readVariable(ff, v, lengths)
		if err != nil {
			return nil, err
		}
		d.Dims[v], d.Lengths[v] = dims, lengths

		if dims[0] != TimeDim {
			d.Constants[v] = data
			continue
		}
		if nt < 0 {
			nt = lengths[0]
		} else if lengths[0] != nt {
			return nil, fmt.Errorf("uwnet: variable %s has %d time steps but other variables have %d",
				v, lengths[0], nt)
		}
		if v == TimeDim {
			d.Time = data.Elements
			continue
		}
		d.Vars[v] = toColumns(data, dims, lengths)
	}
	if d.Time == nil && nt > 0 {
		d.Time = make([]float64, nt)
		for i := range d.Time {
			d.Time[i] = float64(i)
		}
	}
	return d, nil
}

// readVariable reads variable v from ff one outer index at a time.
func readVariable(ff *cdf.File, v string, lengths []int) (*sparse.DenseArray, error) {
	data := sparse.ZerosDense(lengths...)
	nread := 1
	for _, l := range lengths[1:] {
		nread *= l
	}
	for i := 0; i < lengths[0]; i++ {
		start, end := make([]int, len(lengths)), make([]int, len(lengths))
		start[0], end[0] = i, i+1
		r := ff.Reader(v, start, end)
		buf := r.Zero(nread)
		if _, err := r.Read(buf); err != nil {
			return nil, fmt.Errorf("uwnet: reading netcdf variable %s: %v", v, err)
		}
		out := data.Elements[i*nread : (i+1)*nread]
		switch b := buf.(type) {
		case []float32:
			for j, val := range b {
				out[j] = float64(val)
			}
		case []float64:
			copy(out, b)
		case []int32:
			for j, val := range b {
				out[j] = float64(val)
			}
		default:
			return nil, fmt.Errorf("uwnet: netcdf variable %s has unsupported type %T", v, buf)
		}
	}
	return data, nil
}

// toColumns rearranges data with dimensions (time, [z], horizontal...)
// into (time, sample, level).
func toColumns(data *sparse.DenseArray, dims []string, lengths []int) *sparse.DenseArray {
	nt := lengths[0]
	nz, hstart := 1, 1
	if len(dims) > 1 && dims[1] == LevelDim {
		nz, hstart = lengths[1], 2
	}
	ns := 1
	for _, l := range lengths[hstart:] {
		ns *= l
	}
	o := sparse.ZerosDense(nt, ns, nz)
	for t := 0; t < nt; t++ {
		for k := 0; k < nz; k++ {
			for s := 0; s < ns; s++ {
				o.Elements[(t*ns+s)*nz+k] = data.Elements[(t*nz+k)*ns+s]
			}
		}
	}
	return o
}

// fromColumns is the inverse of toColumns.
func fromColumns(c *sparse.DenseArray, lengths []int) *sparse.DenseArray {
	nt, ns, nz := c.Shape[0], c.Shape[1], c.Shape[2]
	o := sparse.ZerosDense(lengths...)
	for t := 0; t < nt; t++ {
		for k := 0; k < nz; k++ {
			for s := 0; s < ns; s++ {
				o.Elements[(t*nz+k)*ns+s] = c.Elements[(t*ns+s)*nz+k]
			}
		}
	}
	return o
}

// NumTime returns the number of time steps in d.
func (d *Dataset) NumTime() int { return len(d.Time) }

// NumSamples returns the number of horizontal columns in d.
func (d *Dataset) NumSamples() int {
	for _, v := range d.Vars {
		return v.Shape[1]
	}
	return 0
}

// TimeStep returns the spacing of the time coordinate, or 0 if d has
// fewer than two time steps.
func (d *Dataset) TimeStep() float64 {
	if len(d.Time) < 2 {
		return 0
	}
	return d.Time[1] - d.Time[0]
}

// Mean returns the mean of each variable at each vertical level,
// averaged over time and samples.
func (d *Dataset) Mean() map[string][]float64 {
	d.statsOnce.Do(d.computeStats)
	return d.mean
}

// Scale returns the standard deviation of each variable over all
// of its elements. Variables with no variability have a scale of 1.
func (d *Dataset) Scale() map[string]float64 {
	d.statsOnce.Do(d.computeStats)
	return d.scale
}

func (d *Dataset) computeStats() {
	d.mean = make(map[string][]float64, len(d.Vars))
	d.scale = make(map[string]float64, len(d.Vars))
	for name, v := range d.Vars {
		nz := v.Shape[2]
		m := make([]float64, nz)
		var s stats.Stats
		for i, e := range v.Elements {
			m[i%nz] += e
			s.Update(e)
		}
		if n := v.Shape[0] * v.Shape[1]; n > 0 {
			floats.Scale(1/float64(n), m)
		}
		std := s.PopulationStandardDeviation()
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		d.mean[name] = m
		d.scale[name] = std
	}
}

// LayerMass returns the mass of each vertical layer.
func (d *Dataset) LayerMass() ([]float64, error) {
	lm, ok := d.Constants[LayerMassVar]
	if !ok || len(lm.Shape) != 1 {
		return nil, ErrNoLayerMass
	}
	return lm.Elements, nil
}

// Batch returns the time-varying variables for the samples at indices idx.
func (d *Dataset) Batch(idx []int) Fields {
	o := make(Fields, len(d.Vars))
	for name, v := range d.Vars {
		nt, ns, nz := v.Shape[0], v.Shape[1], v.Shape[2]
		a := sparse.ZerosDense(nt, len(idx), nz)
		for t := 0; t < nt; t++ {
			for j, s := range idx {
				src := (t*ns + s) * nz
				dst := (t*len(idx) + j) * nz
				copy(a.Elements[dst:dst+nz], v.Elements[src:src+nz])
			}
		}
		o[name] = a
	}
	return o
}

// ConstantFields returns the vertical profile constants (those whose
// only dimension is "z") broadcast to nt time steps and n samples.
func (d *Dataset) ConstantFields(nt, n int) Fields {
	o := make(Fields)
	for name, c := range d.Constants {
		if dims := d.Dims[name]; len(dims) != 1 || dims[0] != LevelDim {
			continue
		}
		o[name] = broadcastLevels(c.Elements, nt, n)
	}
	return o
}

// MeanFields returns the climatological mean of every variable in
// names broadcast to nt time steps and n samples.
func MeanFields(mean map[string][]float64, names []string, nt, n int) Fields {
	o := make(Fields, len(names))
	for _, name := range names {
		if m, ok := mean[name]; ok {
			o[name] = broadcastLevels(m, nt, n)
		}
	}
	return o
}
