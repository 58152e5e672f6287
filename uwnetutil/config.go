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
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spatialmodel/uwnet/cloud"
	"gopkg.in/yaml.v3"
)

// DefaultHidden holds the hidden layer widths used when the
// configuration does not specify any.
var DefaultHidden = []int{256}

// TrainConfig holds the contents of a training configuration file.
type TrainConfig struct {
	// Paths maps names to data file locations. Environment variables
	// in the paths are expanded.
	Paths map[string]string `yaml:"paths" toml:"paths" json:"paths"`

	// Inputs and Outputs are the names of the model input and output
	// variables.
	Inputs  []string `yaml:"inputs" toml:"inputs" json:"inputs"`
	Outputs []string `yaml:"outputs" toml:"outputs" json:"outputs"`

	// LossScale gives the scale of each output variable in the loss
	// function.
	LossScale map[string]float64 `yaml:"loss_scale" toml:"loss_scale" json:"loss_scale"`

	// Hidden gives the widths of the hidden layers.
	Hidden []int `yaml:"hidden" toml:"hidden" json:"hidden"`
}

// ReadTrainConfig reads the training configuration at path, which is
// in TOML format if its name ends in .toml and in YAML format otherwise.
// Unknown keys are an error.
func ReadTrainConfig(path string) (*TrainConfig, error) {
	b, err := ioutil.ReadFile(os.ExpandEnv(path))
	if err != nil {
		return nil, fmt.Errorf("uwnet: reading configuration file: %v", err)
	}
	c := new(TrainConfig)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(string(b), c)
		if err != nil {
			return nil, fmt.Errorf("uwnet: parsing configuration file %s: %v", path, err)
		}
		if u := md.Undecoded(); len(u) > 0 {
			return nil, fmt.Errorf("uwnet: unknown keys in configuration file %s: %v", path, u)
		}
	default:
		d := yaml.NewDecoder(bytes.NewReader(b))
		d.KnownFields(true)
		if err := d.Decode(c); err != nil {
			return nil, fmt.Errorf("uwnet: parsing configuration file %s: %v", path, err)
		}
	}
	if err := c.check(); err != nil {
		return nil, fmt.Errorf("uwnet: configuration file %s: %v", path, err)
	}
	return c, nil
}

// check fills in defaults, expands environment variables, and makes
// sure the required settings are present.
func (c *TrainConfig) check() error {
	if len(c.Inputs) == 0 {
		return fmt.Errorf("no input variables are specified")
	}
	if len(c.Outputs) == 0 {
		return fmt.Errorf("no output variables are specified")
	}
	if len(c.LossScale) == 0 {
		return fmt.Errorf("no loss_scale is specified")
	}
	outputs := make(map[string]bool, len(c.Outputs))
	for _, v := range c.Outputs {
		outputs[v] = true
	}
	for _, v := range sortedScaleKeys(c.LossScale) {
		if !outputs[v] {
			return fmt.Errorf("loss_scale variable %s is not an output", v)
		}
		if !(c.LossScale[v] > 0) {
			return fmt.Errorf("loss_scale for %s must be positive but is %g", v, c.LossScale[v])
		}
	}
	if len(c.Hidden) == 0 {
		c.Hidden = append([]int{}, DefaultHidden...)
	}
	for _, h := range c.Hidden {
		if h < 1 {
			return fmt.Errorf("hidden layer widths must be positive: %v", c.Hidden)
		}
	}
	for k, p := range c.Paths {
		c.Paths[k] = os.ExpandEnv(p)
	}
	return nil
}

func sortedScaleKeys(m map[string]float64) []string {
	o := make([]string, 0, len(m))
	for k := range m {
		o = append(o, k)
	}
	sort.Strings(o)
	return o
}

// checkOutputDir expands environment variables in the output directory
// and creates it if it is local and does not exist yet.
func checkOutputDir(dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("uwnet: you need to specify an output directory (for example: --output-dir=out)")
	}
	dir = os.ExpandEnv(dir)
	if cloud.IsBlob(dir) {
		return dir, nil
	}
	if err := cloud.CheckPath(dir); err != nil {
		return dir, err
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return dir, fmt.Errorf("uwnet: creating output directory: %v", err)
	}
	return dir, nil
}

// checkOutputFile makes sure that the output file is specified and its
// directory exists, and expands any environment variables.
func checkOutputFile(f string) (string, error) {
	if f == "" {
		return "", fmt.Errorf(`uwnet: you need to specify an output file (for example: --output="out.nc")`)
	}
	f = os.ExpandEnv(f)
	if _, err := os.Stat(filepath.Dir(f)); err != nil {
		return f, fmt.Errorf("uwnet: the output file directory doesn't exist: %v", err)
	}
	return f, nil
}

// checkLogFile returns the location of the training log for outputDir.
// Runs with blob storage output directories log to standard output only.
func checkLogFile(outputDir string) string {
	if cloud.IsBlob(outputDir) {
		return ""
	}
	return filepath.Join(outputDir, "train.log")
}
