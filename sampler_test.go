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
	"reflect"
	"sort"
	"testing"
)

func TestNumWindows(t *testing.T) {
	for _, test := range []struct {
		nt, length, skip, want int
		err                    error
	}{
		{nt: 10, length: 5, skip: 1, want: 6},
		{nt: 10, length: 5, skip: 2, want: 3},
		{nt: 10, length: 10, skip: 1, want: 1},
		{nt: 640, length: 20, skip: 1, want: 621},
		{nt: 4, length: 5, skip: 1, err: ErrWindowTooLong},
		{nt: 10, length: 1, skip: 1, err: ErrInvalidWindow},
		{nt: 10, length: 5, skip: 0, err: ErrInvalidWindow},
	} {
		n, err := NumWindows(test.nt, test.length, test.skip)
		if !errors.Is(err, test.err) {
			t.Errorf("NumWindows(%d, %d, %d): error %v, want %v", test.nt, test.length, test.skip, err, test.err)
			continue
		}
		if n != test.want {
			t.Errorf("NumWindows(%d, %d, %d) = %d, want %d", test.nt, test.length, test.skip, n, test.want)
		}
	}
}

func TestEachWindow(t *testing.T) {
	const nt, length = 10, 5
	for skip := 1; skip <= 4; skip++ {
		d := testDataset(nt, 2, 2)
		b := d.Batch([]int{0, 1})
		var offsets []int
		err := EachWindow(b, length, skip, func(w Window) error {
			offsets = append(offsets, w.Offset)
			if w.X.NumTime() != length-1 || w.Y.NumTime() != length-1 || w.All.NumTime() != length {
				t.Errorf("window lengths: x=%d, y=%d, all=%d", w.X.NumTime(), w.Y.NumTime(), w.All.NumTime())
			}
			// y is x shifted by one step.
			for i := 0; i < length-1; i++ {
				if w.Y["qt"].Get(i, 1, 1) != b["qt"].Get(w.Offset+i+1, 1, 1) ||
					w.X["qt"].Get(i, 1, 1) != b["qt"].Get(w.Offset+i, 1, 1) {
					t.Fatalf("window at offset %d is misaligned", w.Offset)
				}
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		want, _ := NumWindows(nt, length, skip)
		if len(offsets) != want {
			t.Errorf("skip %d: %d windows, want %d", skip, len(offsets), want)
		}
		for i, o := range offsets {
			if o != i*skip || o+length > nt {
				t.Errorf("skip %d: window %d has offset %d", skip, i, o)
			}
		}
	}
}

func TestEachWindowTooLong(t *testing.T) {
	d := testDataset(4, 2, 2)
	calls := 0
	err := EachWindow(d.Batch([]int{0}), 5, 1, func(Window) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrWindowTooLong) {
		t.Errorf("error = %v, want ErrWindowTooLong", err)
	}
	if calls != 0 {
		t.Errorf("callback ran %d times", calls)
	}
}

func TestBatchSampler(t *testing.T) {
	for _, test := range []struct {
		ns, batchSize, want int
	}{
		{ns: 16, batchSize: 4, want: 4},
		{ns: 17, batchSize: 4, want: 5},
		{ns: 3, batchSize: 200, want: 1},
	} {
		s, err := NewBatchSampler(testDataset(3, test.ns, 1), test.batchSize, 1)
		if err != nil {
			t.Fatal(err)
		}
		if n := s.NumBatches(); n != test.want {
			t.Errorf("%d samples, batch size %d: %d batches, want %d", test.ns, test.batchSize, n, test.want)
		}
		idx := s.Indices(0)
		if len(idx) != test.want {
			t.Errorf("Indices returned %d batches, want %d", len(idx), test.want)
		}
		var all []int
		for _, b := range idx {
			all = append(all, b...)
		}
		sort.Ints(all)
		for i, v := range all {
			if i != v {
				t.Fatalf("samples are not a permutation: %v", all)
			}
		}
		if !reflect.DeepEqual(idx, s.Indices(0)) {
			t.Error("shuffle is not reproducible")
		}
	}
	if _, err := NewBatchSampler(testDataset(3, 2, 1), 0, 1); err == nil {
		t.Error("expected an error for batch size 0")
	}
}

func TestBatchSamplerStream(t *testing.T) {
	s, err := NewBatchSampler(testDataset(3, 10, 2), 3, 7)
	if err != nil {
		t.Fatal(err)
	}
	want := s.Indices(2)
	var have [][]int
	for b := range s.Stream(context.Background(), 2, 2) {
		if b.Index != len(have) {
			t.Errorf("batch index %d, want %d", b.Index, len(have))
		}
		if b.Fields["qt"].Shape[1] != len(b.Samples) {
			t.Errorf("batch has %d samples, want %d", b.Fields["qt"].Shape[1], len(b.Samples))
		}
		have = append(have, b.Samples)
	}
	if !reflect.DeepEqual(have, want) {
		t.Errorf("streamed batches %v, want %v", have, want)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := s.Stream(ctx, 0, 0)
	<-c
	cancel()
	for range c {
	}
}
