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
	"sync"
	"time"

	"github.com/GaryBoone/GoStats/stats"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/uwnet/ledger"
)

// ErrInterrupted is returned when training stops because its context
// was canceled.
var ErrInterrupted = errors.New("uwnet: training interrupted")

// Phase is the stage a training run is in.
type Phase int

// Phases of a training run.
const (
	Initializing Phase = iota
	Restoring
	FreshInit
	EpochRunning
	Checkpointing
	Completed
	Interrupted
)

func (p Phase) String() string {
	switch p {
	case Initializing:
		return "initializing"
	case Restoring:
		return "restoring"
	case FreshInit:
		return "fresh-init"
	case EpochRunning:
		return "epoch-running"
	case Checkpointing:
		return "checkpointing"
	case Completed:
		return "completed"
	case Interrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// TrainOptions holds the settings of a training run.
type TrainOptions struct {
	// RunID identifies the run in the ledger.
	RunID string

	Inputs, Outputs []string
	LossScale       map[string]float64
	Hidden          []int

	LearningRate float64
	NumEpochs    int
	SeqLength    int
	Skip         int
	BatchSize    int
	Seed         int64

	// Prefetch is the number of batches to assemble ahead of training.
	// Batches are assembled in the training goroutine if it is 0.
	Prefetch int
}

// TrainFunc is a function that sets up, advances, or finalizes a
// training run.
type TrainFunc func(ctx context.Context, t *Trainer) error

// Trainer holds the state of a training run. The functions in InitFuncs
// are run once by Init, those in RunFuncs once per epoch by Run, and
// those in CleanupFuncs once by Cleanup.
type Trainer struct {
	InitFuncs, RunFuncs, CleanupFuncs []TrainFunc

	Options TrainOptions

	Data      *Dataset
	Model     Module
	Optimizer Optimizer
	Sampler   *BatchSampler
	Store     *CheckpointStore
	Ledger    ledger.Ledger
	Log       *logrus.Entry

	Phase Phase

	// StartEpoch is the first epoch to train and Epoch is the one
	// currently being trained.
	StartEpoch, Epoch int

	// LastCompleted is the last epoch whose training finished, or -1.
	LastCompleted int

	// EpochLoss is the mean batch loss of the last completed epoch.
	EpochLoss float64

	layerMass     []float64
	epochLoss     stats.Stats
	interruptOnce sync.Once
	interruptErr  error
}

// NewTrainer returns a trainer that records the run in l, loads the
// dataset at input, restores the model from the checkpoint at restart
// (if restart is not empty) or creates a new one, and then trains for
// the configured number of epochs, saving a checkpoint to store after
// each one.
func NewTrainer(opts TrainOptions, input, restart string, run ledger.RunRecord,
	store *CheckpointStore, l ledger.Ledger, log *logrus.Entry) *Trainer {
	t := &Trainer{
		Options:       opts,
		Store:         store,
		Ledger:        l,
		Log:           log,
		LastCompleted: -1,
	}
	t.InitFuncs = []TrainFunc{RecordRun(run), LoadData(input)}
	if restart != "" {
		t.InitFuncs = append(t.InitFuncs, Restore(restart))
	} else {
		t.InitFuncs = append(t.InitFuncs, FreshModel())
	}
	t.InitFuncs = append(t.InitFuncs, Prepare())
	t.RunFuncs = []TrainFunc{TrainEpoch(), SaveCheckpoint()}
	t.CleanupFuncs = []TrainFunc{LogSummary()}
	return t
}

// Init runs the initialization functions.
func (t *Trainer) Init(ctx context.Context) error {
	t.Phase = Initializing
	for _, f := range t.InitFuncs {
		if err := f(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Run trains from StartEpoch until the configured number of epochs is
// reached. If ctx is canceled, Run saves the interrupt checkpoint and
// returns ErrInterrupted.
func (t *Trainer) Run(ctx context.Context) error {
	for t.Epoch = t.StartEpoch; t.Epoch < t.Options.NumEpochs; t.Epoch++ {
		t.Phase = EpochRunning
		for _, f := range t.RunFuncs {
			if err := f(ctx, t); err != nil {
				if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
					return t.Interrupt()
				}
				return err
			}
		}
		t.LastCompleted = t.Epoch
		t.EpochLoss = t.epochLoss.Mean()
	}
	t.Phase = Completed
	return nil
}

// Cleanup runs the cleanup functions.
func (t *Trainer) Cleanup(ctx context.Context) error {
	for _, f := range t.CleanupFuncs {
		if err := f(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Interrupt saves the current model to the interrupt checkpoint along
// with the last completed epoch. The checkpoint is written at most once
// per run; later calls return the result of the first.
func (t *Trainer) Interrupt() error {
	t.interruptOnce.Do(func() {
		t.Phase = Interrupted
		t.Log.Warnf("Interrupted; saving checkpoint to %s", InterruptCheckpoint)
		if _, err := t.Store.SaveInterrupt(context.Background(), t.LastCompleted, t.Model.State()); err != nil {
			t.interruptErr = fmt.Errorf("uwnet: saving interrupt checkpoint: %v", err)
			return
		}
		t.interruptErr = ErrInterrupted
	})
	return t.interruptErr
}

// RecordRun returns a function that inserts run into the ledger.
func RecordRun(run ledger.RunRecord) TrainFunc {
	return func(_ context.Context, t *Trainer) error {
		if t.Ledger == nil {
			return nil
		}
		return t.Ledger.InsertRun(run)
	}
}

// LoadData returns a function that loads the training dataset.
func LoadData(path string) TrainFunc {
	return func(ctx context.Context, t *Trainer) error {
		t.Log.Info("Opening Training Data")
		d, err := LoadDataset(ctx, path)
		if err != nil {
			return err
		}
		if _, err := NumWindows(d.NumTime(), t.Options.SeqLength, t.Options.Skip); err != nil {
			return err
		}
		lm, err := d.LayerMass()
		if err != nil {
			return err
		}
		t.Log.Info("Computing Standard Deviation and Mean")
		d.Scale()
		t.Data, t.layerMass = d, lm
		return nil
	}
}

// Restore returns a function that loads the model from the checkpoint
// at path and resumes at the epoch after the one it was saved at.
func Restore(path string) TrainFunc {
	return func(ctx context.Context, t *Trainer) error {
		t.Phase = Restoring
		t.Log.Infof("Restarting from checkpoint at %s", path)
		epoch, state, err := LoadCheckpointFile(ctx, path)
		if err != nil {
			return err
		}
		m, err := MLPFromState(state)
		if err != nil {
			return err
		}
		t.Model = m
		t.StartEpoch = epoch + 1
		t.LastCompleted = epoch
		return nil
	}
}

// FreshModel returns a function that creates a new model from the
// dataset statistics.
func FreshModel() TrainFunc {
	return func(_ context.Context, t *Trainer) error {
		t.Phase = FreshInit
		m, err := NewMLP(t.Options.Inputs, t.Options.Outputs, t.Data.Mean(), t.Data.Scale(),
			t.Data.TimeStep(), t.Options.Hidden, t.Options.Seed)
		if err != nil {
			return err
		}
		t.Model = m
		return nil
	}
}

// Prepare returns a function that creates the optimizer and the batch
// sampler.
func Prepare() TrainFunc {
	return func(_ context.Context, t *Trainer) error {
		t.Log.Infof("Training with %v", t.Model)
		t.Optimizer = NewAdam(t.Model.Parameters(), t.Options.LearningRate)
		s, err := NewBatchSampler(t.Data, t.Options.BatchSize, t.Options.Seed)
		if err != nil {
			return err
		}
		t.Sampler = s
		return nil
	}
}

// TrainEpoch returns a function that trains the model on every batch
// of the dataset.
func TrainEpoch() TrainFunc {
	return func(ctx context.Context, t *Trainer) error {
		t.Log.Infof("Epoch %d", t.Epoch)
		t.epochLoss = stats.Stats{}
		ectx, cancel := context.WithCancel(ctx)
		defer cancel()

		nb := t.Sampler.NumBatches()
		if t.Options.Prefetch > 0 {
			n := 0
			for b := range t.Sampler.Stream(ectx, t.Epoch, t.Options.Prefetch) {
				if err := t.trainBatch(ctx, b, nb); err != nil {
					return err
				}
				n++
			}
			// The stream also ends early on cancellation.
			if n < nb {
				return ctx.Err()
			}
			return nil
		}
		for k, samples := range t.Sampler.Indices(t.Epoch) {
			b := Batch{Index: k, Samples: samples, Fields: t.Data.Batch(samples)}
			if err := t.trainBatch(ctx, b, nb); err != nil {
				return err
			}
		}
		return nil
	}
}

func (t *Trainer) trainBatch(ctx context.Context, b Batch, nb int) error {
	t.Log.Infof("Batch %d of %d", b.Index, nb)
	start := time.Now()
	n := len(b.Samples)
	L := t.Options.SeqLength
	constants := t.Data.ConstantFields(L-1, n)
	mean := MeanFields(t.Data.Mean(), scaleNames(t.Options.LossScale), L, n)

	var lossMeter, avgMeter stats.Stats
	err := EachWindow(b.Fields, L, t.Options.Skip, func(w Window) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		pred, err := t.Model.Forward(w.X.Merge(constants))
		if err != nil {
			return err
		}
		loss, dpred, err := LossGrad(w.Y, pred, t.Options.LossScale, t.layerMass)
		if err != nil {
			return err
		}
		t.Optimizer.ZeroGrad()
		if err := t.Model.Backward(dpred); err != nil {
			return err
		}
		t.Optimizer.Step()

		avg, err := Loss(w.All, mean, t.Options.LossScale, t.layerMass)
		if err != nil {
			return err
		}
		lossMeter.Update(loss)
		avgMeter.Update(avg)
		return nil
	})
	if err != nil {
		return err
	}
	elapsed := time.Since(start).Seconds()
	rec := ledger.BatchRecord{
		Run:         t.Options.RunID,
		Epoch:       t.Epoch,
		Batch:       b.Index,
		Loss:        lossMeter.Mean(),
		AvgLoss:     avgMeter.Mean(),
		TimeElapsed: elapsed,
	}
	t.Log.Infof("Batch %d,  Loss: %g; Avg %g; Time Elapsed %g", b.Index, rec.Loss, rec.AvgLoss, elapsed)
	t.epochLoss.Update(rec.Loss)
	if t.Ledger != nil {
		return t.Ledger.InsertBatch(rec)
	}
	return nil
}

// SaveCheckpoint returns a function that saves the model at the end of
// an epoch. The checkpoint is written even if the context has been
// canceled, so an epoch that finished training always has one.
func SaveCheckpoint() TrainFunc {
	return func(_ context.Context, t *Trainer) error {
		t.Phase = Checkpointing
		id, err := t.Store.Save(context.Background(), t.Epoch, t.Model.State())
		if err != nil {
			return err
		}
		t.Log.Infof("Saved checkpoint to %s", id)
		return nil
	}
}

// LogSummary returns a function that logs the number of epochs trained
// and the loss of the final epoch.
func LogSummary() TrainFunc {
	return func(_ context.Context, t *Trainer) error {
		t.Log.WithFields(logrus.Fields{
			"epochs": t.LastCompleted + 1 - t.StartEpoch,
			"loss":   t.EpochLoss,
		}).Infof("Training complete after %d epochs", t.LastCompleted+1)
		return nil
	}
}

func scaleNames(scale map[string]float64) []string {
	o := make([]string, 0, len(scale))
	for v := range scale {
		o = append(o, v)
	}
	return o
}
