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

// Package uwnetutil holds the command-line interface of uwnet.
package uwnetutil

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/uwnet"
	"github.com/spatialmodel/uwnet/samcase"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to uwnet.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the location of a file holding default
              values for any of the command-line options.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "log-level",
			usage: `
              log-level sets the lowest level of log messages to print
              (debug, info, warning, or error).`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "restart",
			usage: `
              restart specifies a checkpoint to resume training from.
              Training continues at the epoch after the one the
              checkpoint was saved at.`,
			shorthand:  "r",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{trainCmd.Flags()},
		},
		{
			name: "lr",
			usage: `
              lr is the learning rate of the optimizer.`,
			defaultVal: 0.001,
			flagsets:   []*pflag.FlagSet{trainCmd.Flags()},
		},
		{
			name: "n-epochs",
			usage: `
              n-epochs is the number of epochs to train for. When
              restarting, epochs already trained count toward this number.`,
			shorthand:  "n",
			defaultVal: 10,
			flagsets:   []*pflag.FlagSet{trainCmd.Flags()},
		},
		{
			name: "output-dir",
			usage: `
              output-dir is the directory to write checkpoints and the
              training log to. It can be a local directory or a blob
              storage location such as gs://bucket/run or s3://bucket/run.`,
			shorthand:  "o",
			defaultVal: ".",
			flagsets:   []*pflag.FlagSet{trainCmd.Flags()},
		},
		{
			name: "skip",
			usage: `
              skip is the number of time steps between the starts of
              consecutive training windows.`,
			shorthand:  "s",
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{trainCmd.Flags()},
		},
		{
			name: "seq-length",
			usage: `
              seq-length is the number of time steps in each training
              window.`,
			shorthand:  "l",
			defaultVal: 20,
			flagsets:   []*pflag.FlagSet{trainCmd.Flags()},
		},
		{
			name: "batch-size",
			usage: `
              batch-size is the number of horizontal columns in each
              batch.`,
			shorthand:  "b",
			defaultVal: 200,
			flagsets:   []*pflag.FlagSet{trainCmd.Flags()},
		},
		{
			name: "seed",
			usage: `
              seed seeds the model initialization and the shuffling of
              columns into batches.`,
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{trainCmd.Flags()},
		},
		{
			name: "prefetch",
			usage: `
              prefetch is the number of batches to assemble ahead of
              training. Set it to 0 to assemble batches as they are needed.`,
			defaultVal: 2,
			flagsets:   []*pflag.FlagSet{trainCmd.Flags()},
		},
		{
			name: "ledger",
			usage: `
              ledger is the run ledger file. Files ending in .db or
              .sqlite are SQLite databases; others are JSON documents.`,
			defaultVal: "runs.json",
			flagsets:   []*pflag.FlagSet{trainCmd.Flags(), ledgerCmd.PersistentFlags()},
		},
		{
			name: "neural-network",
			usage: `
              neural-network is a checkpoint of the neural network to
              run within SAM.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{createCaseCmd.Flags()},
		},
		{
			name: "sklearn-generic",
			usage: `
              sklearn-generic is a saved generic regression model to run
              within SAM.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{createCaseCmd.Flags()},
		},
		{
			name: "noise",
			usage: `
              noise is a saved stochastic noise model to add to the case.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{createCaseCmd.Flags()},
		},
		{
			name: "initial-condition",
			usage: `
              initial-condition is a NetCDF file holding the initial
              condition. If it is not given, the initial condition is
              taken from the NGAqua data.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{createCaseCmd.Flags()},
		},
		{
			name: "ngaqua-root",
			usage: `
              ngaqua-root is the directory holding the NGAqua data.`,
			shorthand:  "N",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{createCaseCmd.Flags()},
		},
		{
			name: "time-index",
			usage: `
              time-index is the time step of the NGAqua data to use as
              the initial condition.`,
			shorthand:  "t",
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{createCaseCmd.Flags()},
		},
		{
			name: "parameters",
			usage: `
              parameters is a JSON or TOML file holding the SAM
              parameters. Groups other than the namelist groups configure
              Python-side models such as nudging.`,
			shorthand:  "p",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{createCaseCmd.Flags()},
		},
		{
			name: "debug",
			usage: `
              debug shortens the run and saves output more often.`,
			shorthand:  "d",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{createCaseCmd.Flags()},
		},
		{
			name: "sam-src",
			usage: `
              sam-src is the SAM source directory.`,
			shorthand:  "S",
			defaultVal: "/opt/sam",
			flagsets:   []*pflag.FlagSet{createCaseCmd.Flags()},
		},
		{
			name: "run-data",
			usage: `
              run-data is the SAM RUNDATA directory.`,
			shorthand:  "R",
			defaultVal: "/opt/sam/RUNDATA",
			flagsets:   []*pflag.FlagSet{createCaseCmd.Flags()},
		},
		{
			name: "resolution",
			usage: `
              resolution is the SAM grid size, either 128x64x34 or 512x256x34.`,
			defaultVal: "128x64x34",
			flagsets:   []*pflag.FlagSet{createCaseCmd.Flags()},
		},
		{
			name: "model",
			usage: `
              model is the checkpoint of the model to evaluate.`,
			shorthand:  "m",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{predictCmd.Flags(), analyzeCmd.Flags()},
		},
		{
			name: "input",
			usage: `
              input is the NetCDF file holding the model state.`,
			shorthand:  "i",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{predictCmd.Flags(), analyzeCmd.Flags()},
		},
		{
			name: "output",
			usage: `
              output is the file to write the results to.`,
			shorthand:  "o",
			defaultVal: "",
			flagsets: []*pflag.FlagSet{predictCmd.Flags(), analyzeCmd.Flags(),
				ledgerPlotCmd.Flags(), ledgerExportCmd.Flags()},
		},
		{
			name: "bin-x",
			usage: `
              bin-x is the two-dimensional field to bin columns by along
              the first axis.`,
			defaultVal: "lts",
			flagsets:   []*pflag.FlagSet{analyzeCmd.Flags()},
		},
		{
			name: "bins-x",
			usage: `
              bins-x are the edges of the bins along the first axis, or
              "span,min,max,count" for evenly spaced bins.`,
			defaultVal: []string{"span", "7.5", "17.5", "20"},
			flagsets:   []*pflag.FlagSet{analyzeCmd.Flags()},
		},
		{
			name: "bin-y",
			usage: `
              bin-y is the two-dimensional field to bin columns by along
              the second axis.`,
			defaultVal: "path",
			flagsets:   []*pflag.FlagSet{analyzeCmd.Flags()},
		},
		{
			name: "bins-y",
			usage: `
              bins-y are the edges of the bins along the second axis, or
              "span,min,max,count" for evenly spaced bins.`,
			defaultVal: []string{"span", "0", "28", "14"},
			flagsets:   []*pflag.FlagSet{analyzeCmd.Flags()},
		},
		{
			name: "heating",
			usage: `
              heating is the variable whose predicted source is the
              heating rate.`,
			defaultVal: "SLI",
			flagsets:   []*pflag.FlagSet{analyzeCmd.Flags()},
		},
		{
			name: "moisture",
			usage: `
              moisture is the variable whose predicted source is the
              moistening rate.`,
			defaultVal: "QT",
			flagsets:   []*pflag.FlagSet{analyzeCmd.Flags()},
		},
		{
			name: "plot",
			usage: `
              plot is an optional image file to plot the net heating in
              each bin to.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{analyzeCmd.Flags()},
		},
		{
			name: "run",
			usage: `
              run is the output directory of the run to plot.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{ledgerPlotCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("UWNET")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
			case []string:
				set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
			case int:
				set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
			case float64:
				set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(trainCmd)
	Root.AddCommand(createCaseCmd)
	Root.AddCommand(predictCmd)
	Root.AddCommand(analyzeCmd)
	Root.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerPlotCmd)
	ledgerCmd.AddCommand(ledgerExportCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(os.ExpandEnv(cfgpath))
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("uwnet: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// cmdLogger returns a logger that writes to the output of cmd.
func cmdLogger(cmd *cobra.Command) (*logrus.Logger, error) {
	log, _, err := newLogger(cmd.OutOrStdout(), "", Cfg.GetString("log-level"))
	return log, err
}

// signalContext returns a context that is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "uwnet",
	Short: "Machine-learned parameterizations for atmospheric models.",
	Long: `uwnet trains neural networks that predict the apparent heating and
moistening of a coarse-resolution atmospheric model from its state,
and couples them to the System for Atmospheric Modeling (SAM).
Use the subcommands specified below to access the functionality.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'UWNET_var' where 'var' is the
name of the variable to be set, with dashes replaced by underscores.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of uwnet.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("uwnet v%s\n", uwnet.Version)
	},
	DisableAutoGenTag: true,
}

// trainArgs returns the settings of the options in flag set fs, for
// recording in the run ledger.
func trainArgs(fs *pflag.FlagSet, config, input string) map[string]interface{} {
	o := map[string]interface{}{"config": config, "input": input}
	for _, option := range options {
		for _, set := range option.flagsets {
			if set == fs {
				o[option.name] = Cfg.Get(option.name)
			}
		}
	}
	return o
}

// trainCmd is a command that trains a model.
var trainCmd = &cobra.Command{
	Use:   "train CONFIG INPUT",
	Short: "Train a model.",
	Long: `train trains a neural network on the NetCDF dataset INPUT using the
variables and loss scales given in the YAML or TOML file CONFIG. A checkpoint
is saved to the output directory after every epoch. If training is
interrupted, the model is saved to interrupt.pkl before exiting.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		return Train(ctx, cmd.OutOrStdout(), args[0], args[1],
			Cfg.GetString("restart"),
			Cfg.GetString("output-dir"),
			Cfg.GetString("ledger"),
			Cfg.GetString("log-level"),
			Cfg.GetFloat64("lr"),
			Cfg.GetInt("n-epochs"),
			Cfg.GetInt("seq-length"),
			Cfg.GetInt("skip"),
			Cfg.GetInt("batch-size"),
			Cfg.GetInt("prefetch"),
			int64(Cfg.GetInt("seed")),
			trainArgs(cmd.Flags(), args[0], args[1]),
		)
	},
	DisableAutoGenTag: true,
}

// createCaseCmd is a command that creates a SAM case directory.
var createCaseCmd = &cobra.Command{
	Use:   "create-case PATH",
	Short: "Create a SAM case.",
	Long: `create-case creates a directory at PATH holding everything needed to run
SAM with a trained model: the parameter namelist, the model files, the
configuration of Python-side models, and the initial condition.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := cmdLogger(cmd)
		if err != nil {
			return err
		}
		return samcase.Create(os.ExpandEnv(args[0]), samcase.Options{
			NeuralNetwork:    os.ExpandEnv(Cfg.GetString("neural-network")),
			SklearnGeneric:   os.ExpandEnv(Cfg.GetString("sklearn-generic")),
			Noise:            os.ExpandEnv(Cfg.GetString("noise")),
			InitialCondition: os.ExpandEnv(Cfg.GetString("initial-condition")),
			NGAquaRoot:       os.ExpandEnv(Cfg.GetString("ngaqua-root")),
			T:                Cfg.GetInt("time-index"),
			Parameters:       os.ExpandEnv(Cfg.GetString("parameters")),
			Debug:            Cfg.GetBool("debug"),
			SAMSrc:           os.ExpandEnv(Cfg.GetString("sam-src")),
			RunData:          os.ExpandEnv(Cfg.GetString("run-data")),
			Resolution:       Cfg.GetString("resolution"),
		}, log)
	},
	DisableAutoGenTag: true,
}

// predictCmd is a command that evaluates a model on a state file.
var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict apparent sources.",
	Long: `predict evaluates the model in the --model checkpoint on every time step
of the --input state file and writes the predicted apparent sources,
named Q<variable>NN, to the --output NetCDF file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := cmdLogger(cmd)
		if err != nil {
			return err
		}
		outputFile, err := checkOutputFile(Cfg.GetString("output"))
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		return Predict(ctx, log, Cfg.GetString("model"), Cfg.GetString("input"), outputFile)
	},
	DisableAutoGenTag: true,
}

// analyzeCmd is a command that computes binned model diagnostics.
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze the dependence of a model on the base state.",
	Long: `analyze groups the columns of the --input dataset into bins of two
two-dimensional fields, such as lower tropospheric stability and
mid-tropospheric moisture, averages every variable within each bin, and
evaluates the --model checkpoint on the averages. The averages, the
predictions, and their column integrals are written to --output.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := cmdLogger(cmd)
		if err != nil {
			return err
		}
		outputFile, err := checkOutputFile(Cfg.GetString("output"))
		if err != nil {
			return err
		}
		edgesX, err := binEdges("bins-x", Cfg.Get("bins-x"))
		if err != nil {
			return err
		}
		edgesY, err := binEdges("bins-y", Cfg.Get("bins-y"))
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		return Analyze(ctx, log, Cfg.GetString("model"), Cfg.GetString("input"), outputFile,
			os.ExpandEnv(Cfg.GetString("plot")), Cfg.GetString("bin-x"), Cfg.GetString("bin-y"),
			edgesX, edgesY, Cfg.GetString("heating"), Cfg.GetString("moisture"))
	},
	DisableAutoGenTag: true,
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the run ledger.",
	Long: `ledger inspects the run ledger. Use the subcommands specified below to
plot or export its contents.`,
	DisableAutoGenTag: true,
}

var ledgerPlotCmd = &cobra.Command{
	Use:   "plot",
	Short: "Plot a loss curve.",
	Long: `plot plots the loss and the loss of the climatological mean of every
batch of the --run training run to the --output image file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outputFile, err := checkOutputFile(Cfg.GetString("output"))
		if err != nil {
			return err
		}
		return PlotLoss(Cfg.GetString("ledger"), Cfg.GetString("run"), outputFile)
	},
	DisableAutoGenTag: true,
}

var ledgerExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the ledger to a spreadsheet.",
	Long: `export writes all run and batch records in the ledger to the --output
spreadsheet file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outputFile, err := checkOutputFile(Cfg.GetString("output"))
		if err != nil {
			return err
		}
		return ExportLedger(Cfg.GetString("ledger"), outputFile)
	},
	DisableAutoGenTag: true,
}
