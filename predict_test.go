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
	"os"
	"path/filepath"
	"testing"
)

func TestPredict(t *testing.T) {
	const nt, ns, nz = 3, 4, 3
	d := testDataset(nt, ns, nz)
	m := testModel(t, d)

	o, err := Predict(context.Background(), m, d)
	if err != nil {
		t.Fatal(err)
	}
	pred, err := m.Forward(d.Vars.Merge(d.ConstantFields(nt, ns)))
	if err != nil {
		t.Fatal(err)
	}
	dt := d.TimeStep()
	for _, v := range m.Outputs {
		src, ok := o.Vars[SourceName(v)]
		if !ok {
			t.Fatalf("missing %s", SourceName(v))
		}
		if !sameShape(src.Shape, []int{nt, ns, nz}) {
			t.Fatalf("%s shape %v", v, src.Shape)
		}
		for i, s := range src.Elements {
			f := d.Vars[ForcingPrefix+v].Elements[i]
			want := (pred[v].Elements[i] - d.Vars[v].Elements[i] - dt*f) / dt
			if different(s, want) {
				t.Errorf("%s[%d] = %g; want %g", SourceName(v), i, s, want)
			}
		}
	}

	path := filepath.Join(t.TempDir(), "pred.nc")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Write(f); err != nil {
		t.Fatal(err)
	}
	f.Close()
	r, err := OpenDataset(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Vars) != 2 {
		t.Errorf("read back %d variables; want 2", len(r.Vars))
	}
	if _, err := r.LayerMass(); err != nil {
		t.Error(err)
	}
}

func TestCallNeuralNetwork(t *testing.T) {
	d := testDataset(1, 5, 3)
	m := testModel(t, d)
	lm, _ := d.LayerMass()
	src, err := CallNeuralNetwork(m, d.Vars, map[string][]float64{LayerMassVar: lm})
	if err != nil {
		t.Fatal(err)
	}
	want, err := m.Sources(d.Vars.Merge(d.ConstantFields(1, 5)))
	if err != nil {
		t.Fatal(err)
	}
	for name, a := range want {
		for i, v := range a.Elements {
			if different(src[name].Elements[i], v) {
				t.Errorf("%s[%d] = %g; want %g", name, i, src[name].Elements[i], v)
			}
		}
	}

	if _, err := CallNeuralNetwork(m, Fields{}, nil); err == nil {
		t.Error("expected an error for an empty state")
	}
}

func TestPredictCanceled(t *testing.T) {
	d := testDataset(2, 2, 3)
	m := testModel(t, d)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Predict(ctx, m, d); err != context.Canceled {
		t.Errorf("err = %v; want context.Canceled", err)
	}
}
