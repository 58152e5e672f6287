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

package uwnetutil

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/uwnet"
	"github.com/spatialmodel/uwnet/analysis"
	"github.com/spf13/cast"
)

// binEdges returns bin edges from a configuration value that is either
// a list of edges or a (min, max, count) triple prefixed by "span".
func binEdges(name string, v interface{}) ([]float64, error) {
	var (
		s   []string
		err error
	)
	switch t := v.(type) {
	case string:
		// Flag values may arrive in their "[a,b,c]" string form.
		for _, e := range strings.Split(strings.Trim(t, "[]"), ",") {
			if e = strings.TrimSpace(e); e != "" {
				s = append(s, e)
			}
		}
	default:
		if s, err = cast.ToStringSliceE(v); err != nil {
			return nil, fmt.Errorf("uwnet: reading %s: %v", name, err)
		}
	}
	if len(s) == 4 && s[0] == "span" {
		min, err := cast.ToFloat64E(s[1])
		if err != nil {
			return nil, fmt.Errorf("uwnet: reading %s: %v", name, err)
		}
		max, err := cast.ToFloat64E(s[2])
		if err != nil {
			return nil, fmt.Errorf("uwnet: reading %s: %v", name, err)
		}
		n, err := cast.ToIntE(s[3])
		if err != nil {
			return nil, fmt.Errorf("uwnet: reading %s: %v", name, err)
		}
		return analysis.Edges(min, max, n)
	}
	o := make([]float64, len(s))
	for i, e := range s {
		if o[i], err = cast.ToFloat64E(e); err != nil {
			return nil, fmt.Errorf("uwnet: reading %s: %v", name, err)
		}
	}
	return o, nil
}

// Analyze averages the dataset at input over bins of the two-dimensional
// fields binX and binY, evaluates the model saved at modelPath on the
// averages, and writes the result to outputFile. The heating and
// moisture variables are used to compute column-integrated diagnostics.
// If plotFile is not empty, the net heating in each bin is plotted to it.
func Analyze(ctx context.Context, log logrus.FieldLogger, modelPath, input, outputFile, plotFile,
	binX, binY string, edgesX, edgesY []float64, heating, moisture string) error {
	m, err := loadModel(ctx, modelPath)
	if err != nil {
		return err
	}
	input, err = maybeDownload(ctx, os.ExpandEnv(input), log)
	if err != nil {
		return err
	}
	d, err := uwnet.LoadDataset(ctx, input)
	if err != nil {
		return err
	}
	log.Infof("Averaging over %d %s bins and %d %s bins", len(edgesX)-1, binX, len(edgesY)-1, binY)
	b, err := analysis.Average(d, binX, binY, edgesX, edgesY)
	if err != nil {
		return err
	}
	if err := b.Evaluate(m); err != nil {
		return err
	}
	if err := b.Diagnostics(heating, moisture); err != nil {
		return err
	}
	w, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("uwnet: creating output file: %v", err)
	}
	if err := b.Write(w); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	if plotFile == "" {
		return nil
	}
	pw, err := os.Create(plotFile)
	if err != nil {
		return fmt.Errorf("uwnet: creating plot file: %v", err)
	}
	if err := analysis.PlotBins(b, "net_heating_nn", pw, analysis.PlotFormat(plotFile)); err != nil {
		pw.Close()
		return err
	}
	return pw.Close()
}
