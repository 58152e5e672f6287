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

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/uwnet"
)

// loadModel restores the model saved in the checkpoint at path.
func loadModel(ctx context.Context, path string) (*uwnet.MLP, error) {
	_, state, err := uwnet.LoadCheckpointFile(ctx, os.ExpandEnv(path))
	if err != nil {
		return nil, err
	}
	return uwnet.MLPFromState(state)
}

// Predict evaluates the model saved in the checkpoint at modelPath on
// every time step of the state file at input and writes the predicted
// apparent sources to outputFile in NetCDF format.
func Predict(ctx context.Context, log logrus.FieldLogger, modelPath, input, outputFile string) error {
	m, err := loadModel(ctx, modelPath)
	if err != nil {
		return err
	}
	input, err = maybeDownload(ctx, os.ExpandEnv(input), log)
	if err != nil {
		return err
	}
	d, err := uwnet.OpenDataset(input)
	if err != nil {
		return err
	}
	log.Infof("Predicting %d time steps with %v", d.NumTime(), m)
	o, err := uwnet.Predict(ctx, m, d)
	if err != nil {
		return err
	}
	w, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("uwnet: creating prediction file: %v", err)
	}
	if err := o.Write(w); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
