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

// Package samcase creates case directories for running the System for
// Atmospheric Modeling (SAM) with a trained model as a runtime
// parameterization.
package samcase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/uwnet"
)

// File names within a case directory.
const (
	ModelFile        = "model.pkl"
	NoiseFile        = "noise.pkl"
	PrmFile          = "prm"
	PythonConfigFile = "python_config.json"
	CaseFile         = "case.json"
	ICFile           = "ic.nc"
)

// NGAquaFile is the name of the file holding the NGAqua time series
// under the NGAqua root directory.
const NGAquaFile = "ngaqua.nc"

// DefaultNudgingData is the file nudging models read their target
// state from.
const DefaultNudgingData = "data/processed/training/noBlur.nc"

// Resolutions are the grid sizes (x, y, z) a case can be built for.
var Resolutions = map[string][3]int{
	"128x64x34":  {128, 64, 34},
	"512x256x34": {512, 256, 34},
}

// DefaultParameters returns the namelist used when no parameter file is
// given.
func DefaultParameters() Parameters {
	return Parameters{
		"parameters": {
			"caseid":       "ngaqua",
			"nrestart":     0,
			"dt":           30.0,
			"dx":           160000.0,
			"dy":           160000.0,
			"nstop":        14400,
			"nprint":       120,
			"nstat":        120,
			"nstatfrq":     1,
			"nsave2d":      120,
			"nsave3d":      120,
			"doseasons":    false,
			"doperpetual":  true,
			"dosgs":        true,
			"dodamping":    true,
			"docoriolis":   true,
			"dosurface":    true,
			"dolargescale": false,
			"doradforcing": false,
		},
		"python": {
			"dopython":  false,
			"usepython": false,
		},
	}
}

// ReadParameters reads a parameter file in JSON format, or in TOML
// format if its name ends in .toml.
func ReadParameters(path string) (Parameters, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("samcase: reading parameters: %v", err)
	}
	p := make(Parameters)
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(b), &p); err != nil {
			return nil, fmt.Errorf("samcase: parsing parameters %s: %v", path, err)
		}
	} else if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("samcase: parsing parameters %s: %v", path, err)
	}
	return p, nil
}

// Case is a SAM case directory under construction. File operations
// are recorded in the case's first error; once an operation fails the
// following ones do nothing and Save returns the error.
type Case struct {
	Path       string
	SAMSrc     string
	RunData    string
	Resolution string
	Prm        Parameters

	// Models are the Python-side models listed in python_config.json.
	Models []map[string]interface{}

	Log logrus.FieldLogger
	Err error
}

// New returns a case to be created at path.
func New(path string, prm Parameters, samSrc, runData, resolution string, log logrus.FieldLogger) (*Case, error) {
	if _, ok := Resolutions[resolution]; !ok {
		return nil, fmt.Errorf("samcase: resolution %q is not supported; use 128x64x34 or 512x256x34", resolution)
	}
	if prm == nil {
		prm = DefaultParameters()
	}
	return &Case{
		Path:       path,
		SAMSrc:     samSrc,
		RunData:    runData,
		Resolution: resolution,
		Prm:        prm,
		Models:     []map[string]interface{}{},
		Log:        log,
	}, nil
}

// Mkdir creates the case directory.
func (c *Case) Mkdir() {
	if c.Err != nil {
		return
	}
	if err := os.MkdirAll(c.Path, os.FileMode(0755)); err != nil {
		c.Err = fmt.Errorf("samcase: creating case directory: %w", err)
	}
}

// Add copies the file at src into the case directory as name.
func (c *Case) Add(src, name string) {
	c.Mkdir()
	if c.Err != nil {
		return
	}
	c.Log.Infof("Copying %s to %s", src, filepath.Join(c.Path, name))
	source, err := os.Open(src)
	if err != nil {
		c.Err = fmt.Errorf("samcase: copying %s: %w", src, err)
		return
	}
	defer source.Close()
	target, err := os.OpenFile(filepath.Join(c.Path, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(0664))
	if err != nil {
		c.Err = fmt.Errorf("samcase: copying %s: %w", src, err)
		return
	}
	if _, err = io.Copy(target, source); err != nil {
		target.Close()
		c.Err = fmt.Errorf("samcase: copying %s: %w", src, err)
		return
	}
	if err = target.Close(); err != nil {
		c.Err = fmt.Errorf("samcase: copying %s: %w", src, err)
	}
}

// save writes content to name in the case directory.
func (c *Case) save(name string, content []byte) {
	c.Mkdir()
	if c.Err != nil {
		return
	}
	if err := ioutil.WriteFile(filepath.Join(c.Path, name), content, os.FileMode(0664)); err != nil {
		c.Err = fmt.Errorf("samcase: writing %s: %w", name, err)
	}
}

func (c *Case) enablePython(function, module string) {
	c.Prm.Update("python", map[string]interface{}{
		"dopython":      true,
		"usepython":     true,
		"function_name": function,
		"module_name":   module,
	})
}

// UseNeuralNetwork configures the case to call the neural network saved
// in the checkpoint at path at every time step.
func (c *Case) UseNeuralNetwork(path string) {
	c.enablePython("call_neural_network", "uwnet.ml_models.nn.sam_interface")
	c.Add(path, ModelFile)
}

// UseSklearnGeneric configures the case to call a generic regression
// model saved at path.
func (c *Case) UseSklearnGeneric(path string) {
	c.enablePython("call_sklearn_model", "uwnet.ml_models.sklearn_generic.sam_interface")
	c.Add(path, ModelFile)
	c.Models = append(c.Models, map[string]interface{}{"type": "sklearn_generic", "path": ModelFile})
}

// AddNoise adds the stochastic noise model saved at path.
func (c *Case) AddNoise(path string) {
	c.Add(path, NoiseFile)
	c.Models = append(c.Models, map[string]interface{}{"type": "cf", "path": NoiseFile})
}

// AddNudging adds a nudging model configured by the "nudging" group
// of the parameters, if there is one.
func (c *Case) AddNudging() {
	cfg, ok := c.Prm["nudging"]
	if !ok || c.Err != nil {
		return
	}
	m := make(map[string]interface{}, len(cfg)+2)
	for k, v := range cfg {
		m[k] = v
	}
	data, _ := m["ngaqua"].(string)
	if data == "" {
		data = DefaultNudgingData
	}
	abs, err := filepath.Abs(data)
	if err != nil {
		c.Err = fmt.Errorf("samcase: nudging data: %w", err)
		return
	}
	m["ngaqua"] = abs
	m["type"] = "nudging"
	c.Models = append(c.Models, m)
}

// Debug shortens the run and increases the output frequency.
func (c *Case) Debug() {
	c.Prm.Update("parameters", map[string]interface{}{
		"nsave3d": 20,
		"nsave2d": 20,
		"nstat":   20,
		"nstop":   120,
	})
}

// SetInitialCondition writes d as the initial condition of the case.
func (c *Case) SetInitialCondition(d *uwnet.Dataset) {
	c.Mkdir()
	if c.Err != nil {
		return
	}
	f, err := os.Create(filepath.Join(c.Path, ICFile))
	if err != nil {
		c.Err = fmt.Errorf("samcase: writing initial condition: %w", err)
		return
	}
	if err := d.Write(f); err != nil {
		f.Close()
		c.Err = fmt.Errorf("samcase: writing initial condition: %w", err)
		return
	}
	if err := f.Close(); err != nil {
		c.Err = fmt.Errorf("samcase: writing initial condition: %w", err)
	}
}

// caseInfo records how a case was built.
type caseInfo struct {
	SAMSrc     string `json:"sam_src"`
	RunData    string `json:"run_data"`
	Resolution string `json:"resolution"`
	Domain     [3]int `json:"domain"`
	IC         string `json:"ic"`
}

// Save writes the namelist, the Python configuration, and the case
// description, and returns the first error encountered while building
// the case.
func (c *Case) Save() error {
	var prm bytes.Buffer
	if err := c.Prm.WriteNamelist(&prm); err != nil && c.Err == nil {
		c.Err = err
	}
	c.save(PrmFile, prm.Bytes())

	pc, err := json.Marshal(map[string]interface{}{"models": c.Models})
	if err != nil && c.Err == nil {
		c.Err = fmt.Errorf("samcase: encoding python configuration: %w", err)
	}
	c.save(PythonConfigFile, pc)

	info, err := json.MarshalIndent(caseInfo{
		SAMSrc:     c.SAMSrc,
		RunData:    c.RunData,
		Resolution: c.Resolution,
		Domain:     Resolutions[c.Resolution],
		IC:         ICFile,
	}, "", "  ")
	if err != nil && c.Err == nil {
		c.Err = fmt.Errorf("samcase: encoding case description: %w", err)
	}
	c.save(CaseFile, info)
	return c.Err
}

// Options are the settings for Create.
type Options struct {
	NeuralNetwork    string
	SklearnGeneric   string
	Noise            string
	InitialCondition string
	NGAquaRoot       string
	T                int
	Parameters       string
	Debug            bool
	SAMSrc           string
	RunData          string
	Resolution       string
}

// Create builds the case directory at path. The initial condition is the
// file given in the options, or time index T of the NGAqua data.
func Create(path string, o Options, log logrus.FieldLogger) error {
	prm := DefaultParameters()
	if o.Parameters != "" {
		var err error
		if prm, err = ReadParameters(o.Parameters); err != nil {
			return err
		}
	}
	c, err := New(path, prm, o.SAMSrc, o.RunData, o.Resolution, log)
	if err != nil {
		return err
	}

	ic, err := initialCondition(o)
	if err != nil {
		return err
	}
	c.SetInitialCondition(ic)

	if o.NeuralNetwork != "" {
		c.UseNeuralNetwork(o.NeuralNetwork)
	}
	if o.SklearnGeneric != "" {
		c.UseSklearnGeneric(o.SklearnGeneric)
	}
	if o.Noise != "" {
		c.AddNoise(o.Noise)
	}
	c.AddNudging()
	if o.Debug {
		c.Debug()
	}
	return c.Save()
}

func initialCondition(o Options) (*uwnet.Dataset, error) {
	if o.InitialCondition != "" {
		return uwnet.OpenDataset(o.InitialCondition)
	}
	d, err := uwnet.OpenDataset(filepath.Join(o.NGAquaRoot, NGAquaFile))
	if err != nil {
		return nil, err
	}
	if o.T < 0 || o.T >= d.NumTime() {
		return nil, fmt.Errorf("samcase: time index %d is out of range for NGAqua data with %d steps", o.T, d.NumTime())
	}
	return d.Subset(o.T, o.T+1)
}
