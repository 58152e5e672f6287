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
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spatialmodel/uwnet/cloud"
	"gocloud.dev/blob"
)

// InterruptCheckpoint is the identifier of the checkpoint written when
// training is interrupted.
const InterruptCheckpoint = "interrupt.pkl"

// ErrCheckpointExists is returned when saving an epoch checkpoint
// that has already been written.
var ErrCheckpointExists = errors.New("uwnet: checkpoint already exists")

// checkpoint is the serialized form of a saved model.
type checkpoint struct {
	Epoch int
	Dict  ModelState
}

// WriteCheckpoint writes the epoch and model state to w in gob format
// (format description at https://golang.org/pkg/encoding/gob/).
func WriteCheckpoint(w io.Writer, epoch int, state ModelState) error {
	e := gob.NewEncoder(w)
	if err := e.Encode(checkpoint{Epoch: epoch, Dict: state}); err != nil {
		return fmt.Errorf("uwnet: saving checkpoint: %v", err)
	}
	return nil
}

// ReadCheckpoint reads a checkpoint written by WriteCheckpoint.
func ReadCheckpoint(r io.Reader) (int, ModelState, error) {
	var c checkpoint
	if err := gob.NewDecoder(r).Decode(&c); err != nil {
		return 0, ModelState{}, fmt.Errorf("uwnet: loading checkpoint: %v", err)
	}
	return c.Epoch, c.Dict, nil
}

// CheckpointStore saves and restores model checkpoints in a directory
// on the local filesystem or in cloud blob storage. Epoch checkpoints
// are never overwritten; the interrupt checkpoint is replaced each time
// it is saved.
type CheckpointStore struct {
	bucket *blob.Bucket
	prefix string
}

// OpenCheckpointStore opens the checkpoint directory dir, which may be a
// local path or a blob URL such as gs://bucket/run1. Local directories are
// created if they don't exist.
func OpenCheckpointStore(ctx context.Context, dir string) (*CheckpointStore, error) {
	b, prefix, err := cloud.OpenDir(ctx, dir)
	if err != nil {
		return nil, err
	}
	return &CheckpointStore{bucket: b, prefix: prefix}, nil
}

// Close releases the resources held by the store.
func (s *CheckpointStore) Close() error { return s.bucket.Close() }

// EpochCheckpoint returns the identifier of the checkpoint for the given
// epoch.
func EpochCheckpoint(epoch int) string { return fmt.Sprintf("%d.pkl", epoch) }

// Save stores the model state at the end of the given epoch and returns
// the checkpoint identifier.
func (s *CheckpointStore) Save(ctx context.Context, epoch int, state ModelState) (string, error) {
	id := EpochCheckpoint(epoch)
	exists, err := s.bucket.Exists(ctx, s.prefix+id)
	if err != nil {
		return "", fmt.Errorf("uwnet: checking for checkpoint %s: %v", id, err)
	}
	if exists {
		return "", fmt.Errorf("%w: %s", ErrCheckpointExists, id)
	}
	return id, s.write(ctx, id, epoch, state)
}

// SaveInterrupt stores the model state after an interruption. epoch is
// the last fully completed epoch, or -1 if no epoch was completed.
func (s *CheckpointStore) SaveInterrupt(ctx context.Context, epoch int, state ModelState) (string, error) {
	return InterruptCheckpoint, s.write(ctx, InterruptCheckpoint, epoch, state)
}

func (s *CheckpointStore) write(ctx context.Context, id string, epoch int, state ModelState) error {
	var buf bytes.Buffer
	if err := WriteCheckpoint(&buf, epoch, state); err != nil {
		return err
	}
	return cloud.WriteBlob(ctx, s.bucket, s.prefix+id, buf.Bytes())
}

// Load returns the epoch and model state of the checkpoint with the given
// identifier.
func (s *CheckpointStore) Load(ctx context.Context, id string) (int, ModelState, error) {
	b, err := cloud.ReadBlob(ctx, s.bucket, s.prefix+id)
	if err != nil {
		return 0, ModelState{}, err
	}
	return ReadCheckpoint(bytes.NewReader(b))
}

// List returns the identifiers of all checkpoints in the store.
func (s *CheckpointStore) List(ctx context.Context) ([]string, error) {
	keys, err := cloud.ListKeys(ctx, s.bucket, s.prefix)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, k := range keys {
		if id := strings.TrimPrefix(k, s.prefix); strings.HasSuffix(id, ".pkl") {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// LoadCheckpointFile loads the checkpoint at path, which may be a local
// file or a blob URL.
func LoadCheckpointFile(ctx context.Context, path string) (int, ModelState, error) {
	var dir, id string
	if cloud.IsBlob(path) {
		i := strings.LastIndex(path, "/")
		dir, id = path[:i], path[i+1:]
	} else {
		dir, id = filepath.Dir(path), filepath.Base(path)
	}
	s, err := OpenCheckpointStore(ctx, dir)
	if err != nil {
		return 0, ModelState{}, err
	}
	defer s.Close()
	return s.Load(ctx, id)
}
