package commands

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/p3gm/cmd/p3gm/config"
	"github.com/inferloop/p3gm/internal/dataset"
	"github.com/inferloop/p3gm/internal/generators/p3gm"
	"github.com/inferloop/p3gm/internal/privacy"
	"github.com/inferloop/p3gm/pkg/errors"
	"github.com/inferloop/p3gm/pkg/models"
)

type TrainOptions struct {
	DataFile  string
	Columns   []string
	Delimiter string
	NoHeader  bool
	ModelID   string
	Lower     []float64
	Upper     []float64

	Mode    string
	Epochs  int
	ZDim    int
	Seed    uint64
	NoNoise bool
}

func NewTrainCmd(globals *GlobalOptions) *cobra.Command {
	opts := &TrainOptions{}

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a differentially private generative model on a CSV file",
		Long: `Fit DP PCA and a DP Gaussian mixture, then train the decoder with DP-SGD.
The privacy cost is certified before any data is touched and the trained
model is written to the configured store.`,
		Example: `  # Train with the configured hyperparameters
  p3gm train --data adult.csv

  # Train on selected columns with public bounds
  p3gm train --data adult.csv --columns age,hours --lower 17,1 --upper 90,99 --id adult-v1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := globals.Load()
			if err != nil {
				return err
			}
			applyTrainFlags(cmd, &cfg.Model, opts)

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			snapshot, err := runTrain(ctx, cfg, opts, logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "model: %s\n", snapshot.ID)
			if snapshot.Privacy != nil {
				fmt.Fprintf(out, "epsilon: %.6f (delta %g)\n", snapshot.Privacy.Epsilon, snapshot.Privacy.Delta)
			} else {
				fmt.Fprintln(out, "epsilon: none (trained without noise)")
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.DataFile, "data", "d", "", "Training CSV file (required)")
	f.StringSliceVar(&opts.Columns, "columns", nil, "Columns to train on (default all)")
	f.StringVar(&opts.Delimiter, "delimiter", ",", "CSV field delimiter")
	f.BoolVar(&opts.NoHeader, "no-header", false, "The CSV file has no header row")
	f.StringVar(&opts.ModelID, "id", "", "Model ID (default a random UUID)")
	f.Float64SliceVar(&opts.Lower, "lower", nil, "Public per-column lower bounds")
	f.Float64SliceVar(&opts.Upper, "upper", nil, "Public per-column upper bounds")
	f.StringVar(&opts.Mode, "mode", "", "Model variant (p3gm, vae)")
	f.IntVar(&opts.Epochs, "epochs", 0, "DP-SGD epochs")
	f.IntVar(&opts.ZDim, "z-dim", 0, "Latent dimension")
	f.Uint64Var(&opts.Seed, "seed", 0, "Random seed")
	f.BoolVar(&opts.NoNoise, "no-noise", false, "Train without noise (no privacy guarantee)")
	_ = cmd.MarkFlagRequired("data")

	return cmd
}

func applyTrainFlags(cmd *cobra.Command, model *p3gm.Config, opts *TrainOptions) {
	changed := cmd.Flags().Changed
	if changed("mode") {
		model.Mode = p3gm.Mode(opts.Mode)
	}
	if changed("epochs") {
		model.Epochs = opts.Epochs
	}
	if changed("z-dim") {
		model.ZDim = opts.ZDim
	}
	if changed("seed") {
		model.Seed = opts.Seed
	}
	if changed("no-noise") {
		model.NoNoise = opts.NoNoise
	}
}

func runTrain(ctx context.Context, cfg *config.Config, opts *TrainOptions, logger *logrus.Logger) (*models.ModelSnapshot, error) {
	if opts.ModelID != "" {
		if err := models.ValidateModelID(opts.ModelID); err != nil {
			return nil, err
		}
	}

	csvOpts := dataset.CSVOptions{NoHeader: opts.NoHeader, Columns: opts.Columns}
	if opts.Delimiter != "" {
		csvOpts.Delimiter, _ = utf8.DecodeRuneInString(opts.Delimiter)
	}
	table, err := dataset.LoadCSVFile(opts.DataFile, csvOpts)
	if err != nil {
		return nil, err
	}

	scaler := dataset.NewScaler()
	if len(opts.Lower) > 0 || len(opts.Upper) > 0 {
		if len(opts.Lower) != len(table.Columns) {
			return nil, errors.NewValidationError(errors.CodeDimensionMismatch,
				fmt.Sprintf("got %d bounds for %d columns", len(opts.Lower), len(table.Columns)))
		}
		if err := scaler.SetBounds(opts.Lower, opts.Upper); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput, "invalid bounds")
		}
	} else {
		if err := scaler.Fit(table.Data); err != nil {
			return nil, err
		}
		logger.Warn("Scaling bounds were computed from the data and are not covered by the privacy guarantee; pass --lower/--upper to use public bounds")
	}
	scaled := scaler.Transform(table.Data)

	pm, err := newMetrics(cfg, logger)
	if err != nil {
		return nil, err
	}
	modelOpts := []p3gm.Option{p3gm.WithScaler(scaler, table.Columns)}
	if pm != nil {
		if err := pm.Start(ctx); err != nil {
			return nil, err
		}
		defer pm.Stop(context.Background())
		modelOpts = append(modelOpts, p3gm.WithRecorder(pm))
	}
	if cfg.Privacy.MaxEpsilon > 0 {
		budget, err := privacy.NewBudget(cfg.Privacy.MaxEpsilon, cfg.Privacy.MaxDelta)
		if err != nil {
			return nil, err
		}
		modelOpts = append(modelOpts, p3gm.WithBudget(budget))
	}

	store, err := openStore(ctx, cfg, pm, logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	model, err := p3gm.NewModel(&cfg.Model, logger, modelOpts...)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"model_id": model.ID(),
		"rows":     table.Rows(),
		"columns":  len(table.Columns),
		"mode":     model.Mode(),
	}).Info("Starting training")

	if err := model.Train(ctx, scaled); err != nil {
		return nil, err
	}

	snapshot, err := model.Snapshot()
	if err != nil {
		return nil, err
	}
	if opts.ModelID != "" {
		snapshot.ID = opts.ModelID
	}
	if err := store.Save(ctx, snapshot); err != nil {
		return nil, err
	}

	logger.WithField("model_id", snapshot.ID).Info("Model saved")
	return snapshot, nil
}
