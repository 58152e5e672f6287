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
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spatialmodel/uwnet/cloud"
)

func writeFile(t *testing.T, path, content string) string {
	if err := ioutil.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadTrainConfig(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("UWNET_TEST_DATA", "/data")
	defer os.Unsetenv("UWNET_TEST_DATA")

	want := &TrainConfig{
		Paths:     map[string]string{"training": "/data/training.nc"},
		Inputs:    []string{"QT", "SLI", "SST"},
		Outputs:   []string{"QT", "SLI"},
		LossScale: map[string]float64{"QT": 1, "SLI": 2.5},
		Hidden:    []int{256},
	}

	t.Run("yaml", func(t *testing.T) {
		c, err := ReadTrainConfig(writeFile(t, filepath.Join(dir, "c.yaml"), `
paths:
  training: ${UWNET_TEST_DATA}/training.nc
inputs: [QT, SLI, SST]
outputs: [QT, SLI]
loss_scale:
  QT: 1
  SLI: 2.5
`))
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(c, want) {
			t.Errorf("have %+v, want %+v", c, want)
		}
	})

	t.Run("toml", func(t *testing.T) {
		c, err := ReadTrainConfig(writeFile(t, filepath.Join(dir, "c.toml"), `
inputs = ["QT", "SLI", "SST"]
outputs = ["QT", "SLI"]
hidden = [16, 8]

[paths]
training = "${UWNET_TEST_DATA}/training.nc"

[loss_scale]
QT = 1.0
SLI = 2.5
`))
		if err != nil {
			t.Fatal(err)
		}
		w := *want
		w.Hidden = []int{16, 8}
		if !reflect.DeepEqual(c, &w) {
			t.Errorf("have %+v, want %+v", c, &w)
		}
	})

	for _, test := range []struct {
		name, file, content string
	}{
		{name: "unknown yaml key", file: "u.yaml", content: "inputs: [a]\noutputs: [a]\nloss_scale: {a: 1}\nlearning_rate: 1\n"},
		{name: "unknown toml key", file: "u.toml", content: "inputs = [\"a\"]\noutputs = [\"a\"]\nlr = 1\n[loss_scale]\na = 1.0\n"},
		{name: "no inputs", file: "i.yaml", content: "outputs: [a]\nloss_scale: {a: 1}\n"},
		{name: "no outputs", file: "o.yaml", content: "inputs: [a]\nloss_scale: {a: 1}\n"},
		{name: "no loss scale", file: "l.yaml", content: "inputs: [a]\noutputs: [a]\n"},
		{name: "scale not output", file: "s.yaml", content: "inputs: [a]\noutputs: [a]\nloss_scale: {b: 1}\n"},
		{name: "zero scale", file: "z.yaml", content: "inputs: [a]\noutputs: [a]\nloss_scale: {a: 0}\n"},
		{name: "negative width", file: "h.yaml", content: "inputs: [a]\noutputs: [a]\nloss_scale: {a: 1}\nhidden: [-1]\n"},
	} {
		t.Run(test.name, func(t *testing.T) {
			if _, err := ReadTrainConfig(writeFile(t, filepath.Join(dir, test.file), test.content)); err == nil {
				t.Error("expected an error")
			}
		})
	}

	if _, err := ReadTrainConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestBinEdges(t *testing.T) {
	for _, test := range []struct {
		v    interface{}
		want []float64
	}{
		{v: []string{"span", "0", "4", "2"}, want: []float64{0, 2, 4}},
		{v: "[span,0,4,2]", want: []float64{0, 2, 4}},
		{v: []string{"1", "2.5", "4"}, want: []float64{1, 2.5, 4}},
		{v: "[1,2.5,4]", want: []float64{1, 2.5, 4}},
	} {
		have, err := binEdges("bins", test.v)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(have, test.want) {
			t.Errorf("binEdges(%v) = %v; want %v", test.v, have, test.want)
		}
	}
	if _, err := binEdges("bins", []string{"a", "b"}); err == nil {
		t.Error("expected an error for non-numeric edges")
	}
}

func TestCheckOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	d, err := checkOutputDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(d); err != nil {
		t.Error(err)
	}
	// An existing directory is fine.
	if _, err := checkOutputDir(dir); err != nil {
		t.Error(err)
	}
	if d, _ := checkOutputDir("gs://bucket/run"); d != "gs://bucket/run" {
		t.Errorf("blob directory changed to %s", d)
	}
	if checkLogFile("gs://bucket/run") != "" {
		t.Error("blob output directories should not have a log file")
	}
	if _, err := checkOutputDir(""); err == nil {
		t.Error("expected an error for an empty directory")
	}
	if _, err := checkOutputDir("ftp://host/run"); !errors.Is(err, cloud.ErrInvalidProvider) {
		t.Errorf("error = %v, want cloud.ErrInvalidProvider", err)
	}
	if _, err := os.Stat("ftp:"); !os.IsNotExist(err) {
		t.Errorf("a local directory was created for an unsupported URL: %v", err)
	}
}
