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
	"math/rand"
)

var (
	// ErrWindowTooLong is returned when the window length is greater
	// than the number of time steps in the data.
	ErrWindowTooLong = errors.New("uwnet: window length exceeds the number of time steps")

	// ErrInvalidWindow is returned for window lengths less than 2 or
	// strides less than 1.
	ErrInvalidWindow = errors.New("uwnet: invalid window configuration")
)

// NumWindows returns the number of windows of the given length that fit
// in nt time steps when window start offsets advance by skip.
func NumWindows(nt, length, skip int) (int, error) {
	if length < 2 || skip < 1 {
		return 0, fmt.Errorf("%w: seq_length=%d, skip=%d", ErrInvalidWindow, length, skip)
	}
	if nt < length {
		return 0, fmt.Errorf("%w: seq_length=%d, time steps=%d", ErrWindowTooLong, length, nt)
	}
	return (nt-length)/skip + 1, nil
}

// A Window is a contiguous range of time steps from a batch.
type Window struct {
	// Offset is the index of the first time step of the window.
	Offset int

	// All holds every time step in the window.
	All Fields

	// X holds all but the last time step; Y holds all but the first.
	X, Y Fields
}

// EachWindow calls f on every window of the given length in batch,
// in order of increasing offset. It stops at the first error.
func EachWindow(batch Fields, length, skip int, f func(Window) error) error {
	nw, err := NumWindows(batch.NumTime(), length, skip)
	if err != nil {
		return err
	}
	for i := 0; i < nw; i++ {
		o := i * skip
		all, err := batch.SelectTime(o, o+length)
		if err != nil {
			return err
		}
		x, err := all.SelectTime(0, length-1)
		if err != nil {
			return err
		}
		y, err := all.SelectTime(1, length)
		if err != nil {
			return err
		}
		if err := f(Window{Offset: o, All: all, X: x, Y: y}); err != nil {
			return err
		}
	}
	return nil
}

// BatchSampler splits the samples of a dataset into randomly
// shuffled batches.
type BatchSampler struct {
	Data      *Dataset
	BatchSize int
	Seed      int64
}

// NewBatchSampler returns a sampler over the samples of d.
func NewBatchSampler(d *Dataset, batchSize int, seed int64) (*BatchSampler, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("uwnet: batch size must be at least 1 but is %d", batchSize)
	}
	return &BatchSampler{Data: d, BatchSize: batchSize, Seed: seed}, nil
}

// NumBatches returns the number of batches in each epoch. The last
// batch is smaller than the others when the number of samples is not
// a multiple of the batch size.
func (s *BatchSampler) NumBatches() int {
	return (s.Data.NumSamples() + s.BatchSize - 1) / s.BatchSize
}

// Indices returns the sample indices of every batch in the given epoch.
// The shuffle depends only on the seed and the epoch.
func (s *BatchSampler) Indices(epoch int) [][]int {
	r := rand.New(rand.NewSource(s.Seed + int64(epoch)))
	perm := r.Perm(s.Data.NumSamples())
	o := make([][]int, 0, s.NumBatches())
	for i := 0; i < len(perm); i += s.BatchSize {
		end := i + s.BatchSize
		if end > len(perm) {
			end = len(perm)
		}
		o = append(o, perm[i:end])
	}
	return o
}

// A Batch is a group of samples from a dataset.
type Batch struct {
	Index   int
	Samples []int
	Fields  Fields
}

// Stream assembles the batches of the given epoch in a separate
// goroutine, staying at most prefetch batches ahead of the consumer.
// The channel is closed after the last batch or when ctx is done.
func (s *BatchSampler) Stream(ctx context.Context, epoch, prefetch int) <-chan Batch {
	idx := s.Indices(epoch)
	c := make(chan Batch, prefetch)
	go func() {
		defer close(c)
		for k, samples := range idx {
			b := Batch{Index: k, Samples: samples, Fields: s.Data.Batch(samples)}
			select {
			case c <- b:
			case <-ctx.Done():
				return
			}
		}
	}()
	return c
}
