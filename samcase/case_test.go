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

package samcase

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/uwnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() logrus.FieldLogger {
	l := logrus.New()
	l.Out = ioutil.Discard
	return l
}

// writeNGAqua writes a small NGAqua file with nt time steps to dir.
func writeNGAqua(t *testing.T, dir string, nt int) {
	const nz, nx = 2, 3
	qt := sparse.ZerosDense(nt, nz, nx)
	for i := range qt.Elements {
		qt.Elements[i] = float64(i)
	}
	time := sparse.ZerosDense(nt)
	for i := range time.Elements {
		time.Elements[i] = 0.125 * float64(i)
	}
	lm := sparse.ZerosDense(nz)
	lm.Elements[0], lm.Elements[1] = 2, 1
	f, err := os.Create(filepath.Join(dir, NGAquaFile))
	require.NoError(t, err)
	defer f.Close()
	err = uwnet.WriteNetCDF(f, []string{"time", "z", "x"}, []int{nt, nz, nx}, map[string]uwnet.NCVar{
		"time":       {Dims: []string{"time"}, Data: time},
		"QT":         {Dims: []string{"time", "z", "x"}, Data: qt},
		"layer_mass": {Dims: []string{"z"}, Data: lm},
	}, nil)
	require.NoError(t, err)
}

func TestWriteNamelist(t *testing.T) {
	p := Parameters{
		"python":     {"dopython": true, "module_name": "m"},
		"parameters": {"nstop": 120, "dt": 30.0, "caseid": "it's"},
		"nudging":    {"tau": 3.0},
	}
	var b bytes.Buffer
	require.NoError(t, p.WriteNamelist(&b))
	want := "&parameters\n caseid = 'it''s',\n dt = 30,\n nstop = 120,\n/\n\n" +
		"&python\n dopython = .true.,\n module_name = 'm',\n/\n\n"
	assert.Equal(t, want, b.String())

	p.Update("python", map[string]interface{}{"bad": struct{}{}})
	assert.Error(t, p.WriteNamelist(&b))
}

func TestReadParameters(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "p.json")
	require.NoError(t, ioutil.WriteFile(jsonPath, []byte(`{"parameters": {"nstop": 10}, "nudging": {"tau": 3}}`), 0644))
	p, err := ReadParameters(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 10.0, p["parameters"]["nstop"])
	assert.Equal(t, 3.0, p["nudging"]["tau"])

	tomlPath := filepath.Join(dir, "p.toml")
	require.NoError(t, ioutil.WriteFile(tomlPath, []byte("[parameters]\nnstop = 10\ndosgs = true\n"), 0644))
	p, err = ReadParameters(tomlPath)
	require.NoError(t, err)
	assert.Equal(t, int64(10), p["parameters"]["nstop"])
	assert.Equal(t, true, p["parameters"]["dosgs"])

	_, err = ReadParameters(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestCreate(t *testing.T) {
	dir := t.TempDir()
	writeNGAqua(t, dir, 4)
	model := filepath.Join(dir, "1.pkl")
	require.NoError(t, ioutil.WriteFile(model, []byte("model"), 0644))
	noise := filepath.Join(dir, "noise_in.pkl")
	require.NoError(t, ioutil.WriteFile(noise, []byte("noise"), 0644))
	params := filepath.Join(dir, "params.json")
	require.NoError(t, ioutil.WriteFile(params, []byte(`{"parameters": {"nstop": 1000}, "nudging": {"tau": 3}}`), 0644))

	casePath := filepath.Join(dir, "case")
	err := Create(casePath, Options{
		NeuralNetwork: model,
		Noise:         noise,
		NGAquaRoot:    dir,
		T:             2,
		Parameters:    params,
		Debug:         true,
		SAMSrc:        "/opt/sam",
		RunData:       "/opt/sam/RUNDATA",
		Resolution:    "128x64x34",
	}, testLog())
	require.NoError(t, err)

	b, err := ioutil.ReadFile(filepath.Join(casePath, ModelFile))
	require.NoError(t, err)
	assert.Equal(t, "model", string(b))
	b, err = ioutil.ReadFile(filepath.Join(casePath, NoiseFile))
	require.NoError(t, err)
	assert.Equal(t, "noise", string(b))

	prm, err := ioutil.ReadFile(filepath.Join(casePath, PrmFile))
	require.NoError(t, err)
	assert.Contains(t, string(prm), " nstop = 120,\n")
	assert.Contains(t, string(prm), " function_name = 'call_neural_network',\n")
	assert.Contains(t, string(prm), " usepython = .true.,\n")
	assert.NotContains(t, string(prm), "&nudging")

	var pc struct {
		Models []map[string]interface{} `json:"models"`
	}
	b, err = ioutil.ReadFile(filepath.Join(casePath, PythonConfigFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &pc))
	require.Len(t, pc.Models, 2)
	assert.Equal(t, "cf", pc.Models[0]["type"])
	assert.Equal(t, NoiseFile, pc.Models[0]["path"])
	assert.Equal(t, "nudging", pc.Models[1]["type"])
	assert.Equal(t, 3.0, pc.Models[1]["tau"])
	ngaqua, _ := pc.Models[1]["ngaqua"].(string)
	assert.True(t, filepath.IsAbs(ngaqua))
	assert.True(t, strings.HasSuffix(ngaqua, DefaultNudgingData))

	var info caseInfo
	b, err = ioutil.ReadFile(filepath.Join(casePath, CaseFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &info))
	assert.Equal(t, caseInfo{
		SAMSrc:     "/opt/sam",
		RunData:    "/opt/sam/RUNDATA",
		Resolution: "128x64x34",
		Domain:     [3]int{128, 64, 34},
		IC:         ICFile,
	}, info)

	ic, err := uwnet.OpenDataset(filepath.Join(casePath, ICFile))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25}, ic.Time)
	// Time index 2 holds elements 12 through 17.
	assert.Equal(t, []float64{12, 15, 13, 16, 14, 17}, ic.Vars["QT"].Elements)
	assert.Contains(t, ic.Constants, "layer_mass")
}

func TestCreateSklearn(t *testing.T) {
	dir := t.TempDir()
	writeNGAqua(t, dir, 2)
	model := filepath.Join(dir, "sk.pkl")
	require.NoError(t, ioutil.WriteFile(model, []byte("sk"), 0644))
	casePath := filepath.Join(dir, "case")
	require.NoError(t, Create(casePath, Options{
		SklearnGeneric: model,
		NGAquaRoot:     dir,
		Resolution:     "512x256x34",
	}, testLog()))

	var pc struct {
		Models []map[string]interface{} `json:"models"`
	}
	b, err := ioutil.ReadFile(filepath.Join(casePath, PythonConfigFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &pc))
	assert.Equal(t, []map[string]interface{}{{"type": "sklearn_generic", "path": ModelFile}}, pc.Models)

	prm, err := ioutil.ReadFile(filepath.Join(casePath, PrmFile))
	require.NoError(t, err)
	assert.Contains(t, string(prm), "call_sklearn_model")
	assert.Contains(t, string(prm), " nstop = 14400,\n")
}

func TestCreateErrors(t *testing.T) {
	dir := t.TempDir()
	writeNGAqua(t, dir, 2)
	for _, test := range []struct {
		name string
		o    Options
	}{
		{name: "resolution", o: Options{NGAquaRoot: dir, Resolution: "64x64x34"}},
		{name: "time index", o: Options{NGAquaRoot: dir, T: 2, Resolution: "128x64x34"}},
		{name: "missing model", o: Options{NGAquaRoot: dir, NeuralNetwork: filepath.Join(dir, "none.pkl"), Resolution: "128x64x34"}},
		{name: "missing ngaqua", o: Options{NGAquaRoot: filepath.Join(dir, "none"), Resolution: "128x64x34"}},
	} {
		t.Run(test.name, func(t *testing.T) {
			assert.Error(t, Create(filepath.Join(dir, "case_"+test.name), test.o, testLog()))
		})
	}
}
