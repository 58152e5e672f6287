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
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/uwnet"
	"github.com/spatialmodel/uwnet/internal/hash"
	"github.com/spatialmodel/uwnet/ledger"
)

// newLogger returns a logger writing to stdout and, if logFile is not
// empty, to logFile. The returned function closes the log file.
func newLogger(stdout io.Writer, logFile, level string) (*logrus.Logger, func() error, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("uwnet: %v", err)
	}
	log := logrus.New()
	log.Level = lvl
	log.Formatter = &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
	}
	log.Out = stdout
	if logFile == "" {
		return log, func() error { return nil }, nil
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0664)
	if err != nil {
		return nil, nil, fmt.Errorf("uwnet: problem creating log file: %v", err)
	}
	log.Out = io.MultiWriter(stdout, f)
	return log, f.Close, nil
}

// Train trains a model on the dataset at input as configured in the
// file at configFile, writing checkpoints to outputDir and recording the
// run in the ledger at ledgerPath. If restart is not empty, training
// resumes from the checkpoint at that location. args holds the
// command-line settings to be recorded in the ledger.
//
// If ctx is canceled, Train saves an interrupt checkpoint and returns
// uwnet.ErrInterrupted.
func Train(ctx context.Context, stdout io.Writer, configFile, input, restart, outputDir, ledgerPath, logLevel string,
	learningRate float64, numEpochs, seqLength, skip, batchSize, prefetch int, seed int64,
	args map[string]interface{}) error {

	cfg, err := ReadTrainConfig(configFile)
	if err != nil {
		return err
	}
	outputDir, err = checkOutputDir(outputDir)
	if err != nil {
		return err
	}
	log, closeLog, err := newLogger(stdout, checkLogFile(outputDir), logLevel)
	if err != nil {
		return err
	}
	defer closeLog()

	input, err = maybeDownload(ctx, os.ExpandEnv(input), log)
	if err != nil {
		return err
	}

	l, err := ledger.Open(os.ExpandEnv(ledgerPath))
	if err != nil {
		return err
	}
	defer l.Close()

	store, err := uwnet.OpenCheckpointStore(ctx, outputDir)
	if err != nil {
		return err
	}
	defer store.Close()

	run := ledger.RunRecord{
		Run:        outputDir,
		Config:     cfg,
		Args:       args,
		Git:        ledger.GitInfo{Rev: ledger.Revision()},
		Version:    uwnet.Version,
		ConfigHash: hash.Hash(cfg),
		StartTime:  time.Now().Format(time.RFC3339),
	}
	opts := uwnet.TrainOptions{
		RunID:        outputDir,
		Inputs:       cfg.Inputs,
		Outputs:      cfg.Outputs,
		LossScale:    cfg.LossScale,
		Hidden:       cfg.Hidden,
		LearningRate: learningRate,
		NumEpochs:    numEpochs,
		SeqLength:    seqLength,
		Skip:         skip,
		BatchSize:    batchSize,
		Seed:         seed,
		Prefetch:     prefetch,
	}
	t := uwnet.NewTrainer(opts, input, os.ExpandEnv(restart), run, store, l, log.WithField("run", outputDir))
	if err := t.Init(ctx); err != nil {
		return err
	}
	if err := t.Run(ctx); err != nil {
		return err
	}
	return t.Cleanup(ctx)
}
