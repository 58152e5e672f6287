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
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestCheckpointStore(t *testing.T) {
	ctx := context.Background()
	d := testDataset(3, 4, 3)
	m := testModel(t, d)

	dir := filepath.Join(t.TempDir(), "run")
	s, err := OpenCheckpointStore(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	id, err := s.Save(ctx, 3, m.State())
	if err != nil {
		t.Fatal(err)
	}
	if id != "3.pkl" {
		t.Errorf("id = %s, want 3.pkl", id)
	}
	epoch, state, err := s.Load(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if epoch != 3 {
		t.Errorf("epoch = %d, want 3", epoch)
	}
	if !reflect.DeepEqual(state, m.State()) {
		t.Error("restored state differs from saved state")
	}

	if _, err := s.Save(ctx, 3, m.State()); !errors.Is(err, ErrCheckpointExists) {
		t.Errorf("overwriting an epoch checkpoint: error %v, want ErrCheckpointExists", err)
	}

	for _, e := range []int{-1, 2} {
		id, err := s.SaveInterrupt(ctx, e, m.State())
		if err != nil {
			t.Fatal(err)
		}
		if id != InterruptCheckpoint {
			t.Errorf("interrupt id = %s", id)
		}
	}
	epoch, _, err = LoadCheckpointFile(ctx, filepath.Join(dir, InterruptCheckpoint))
	if err != nil {
		t.Fatal(err)
	}
	if epoch != 2 {
		t.Errorf("interrupt epoch = %d, want 2", epoch)
	}

	ids, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ids, []string{"3.pkl", InterruptCheckpoint}) {
		t.Errorf("checkpoints = %v", ids)
	}
}

func TestCheckpointStoreBlob(t *testing.T) {
	ctx := context.Background()
	const bucket = "uwnet_test_bucket"
	if err := os.MkdirAll(bucket, os.ModePerm); err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(bucket)

	d := testDataset(3, 4, 3)
	m := testModel(t, d)
	s, err := OpenCheckpointStore(ctx, "file://"+bucket+"/run1")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.Save(ctx, 0, m.State()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(bucket, "run1", "0.pkl")); err != nil {
		t.Errorf("checkpoint not written in the bucket subdirectory: %v", err)
	}
	epoch, state, err := LoadCheckpointFile(ctx, "file://"+bucket+"/run1/0.pkl")
	if err != nil {
		t.Fatal(err)
	}
	if epoch != 0 || !reflect.DeepEqual(state.Inputs, m.Inputs) {
		t.Errorf("epoch = %d, inputs = %v", epoch, state.Inputs)
	}
}
