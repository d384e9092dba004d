package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/inferloop/p3gm/internal/privacy"
	"github.com/inferloop/p3gm/pkg/models"
)

type EpsilonOptions struct {
	Params models.PrivacyParams
	JSON   bool
}

func NewEpsilonCmd(globals *GlobalOptions) *cobra.Command {
	opts := &EpsilonOptions{}

	cmd := &cobra.Command{
		Use:   "epsilon",
		Short: "Compute the (epsilon, delta) guarantee of a training configuration",
		Long: `Compute the privacy cost of the PCA, mixture and DP-SGD stages with the
Renyi accountant. Unset flags fall back to the model section of the config.`,
		Example: `  # Epsilon for 10 epochs over 10000 records
  p3gm epsilon --data-size 10000 --sgd-epoch 10

  # Machine readable output
  p3gm epsilon --data-size 60000 --lot-size 240 --sgd-sigma 1.3 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := globals.Load()
			if err != nil {
				return err
			}

			params := cfg.Model.PrivacyParams(opts.Params.DataSize)
			overrideParams(cmd, &params, opts.Params)

			report, err := privacy.NewAccountant(nil, logger).Analyze(params)
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), report, opts.JSON)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.Params.DataSize, "data-size", 0, "Number of training records (required)")
	f.IntVar(&opts.Params.LotSize, "lot-size", 0, "Records per DP-SGD step")
	f.Float64Var(&opts.Params.SGDSigma, "sgd-sigma", 0, "Noise multiplier of DP-SGD")
	f.Float64Var(&opts.Params.GMMSigma, "gmm-sigma", 0, "Noise multiplier of the mixture fit")
	f.Float64Var(&opts.Params.PCASigma, "pca-sigma", 0, "Noise multiplier of DP PCA")
	f.IntVar(&opts.Params.GMMIterations, "gmm-iter", 0, "EM iterations of the mixture fit")
	f.IntVar(&opts.Params.GMMComponents, "gmm-n-comp", 0, "Mixture components")
	f.Float64Var(&opts.Params.SGDEpochs, "sgd-epoch", 0, "DP-SGD epochs")
	f.Float64Var(&opts.Params.Delta, "delta", 0, "Target delta")
	f.BoolVar(&opts.JSON, "json", false, "Print the report as JSON")
	_ = cmd.MarkFlagRequired("data-size")

	return cmd
}

// overrideParams copies every explicitly set flag over the configured value.
func overrideParams(cmd *cobra.Command, params *models.PrivacyParams, flags models.PrivacyParams) {
	changed := cmd.Flags().Changed
	if changed("lot-size") {
		params.LotSize = flags.LotSize
	}
	if changed("sgd-sigma") {
		params.SGDSigma = flags.SGDSigma
	}
	if changed("gmm-sigma") {
		params.GMMSigma = flags.GMMSigma
	}
	if changed("pca-sigma") {
		params.PCASigma = flags.PCASigma
	}
	if changed("gmm-iter") {
		params.GMMIterations = flags.GMMIterations
	}
	if changed("gmm-n-comp") {
		params.GMMComponents = flags.GMMComponents
	}
	if changed("sgd-epoch") {
		params.SGDEpochs = flags.SGDEpochs
	}
	if changed("delta") {
		params.Delta = flags.Delta
	}
}

func printReport(w io.Writer, report *models.PrivacyReport, asJSON bool) error {
	if asJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}

	fmt.Fprintf(w, "epsilon:        %.6f\n", report.Epsilon)
	fmt.Fprintf(w, "delta:          %g\n", report.Delta)
	fmt.Fprintf(w, "optimal order:  %g\n", report.OptimalOrder)
	fmt.Fprintf(w, "sgd steps:      %d (q=%.6f)\n", report.SGDSteps, report.SamplingRate)
	fmt.Fprintf(w, "gmm steps:      %d\n", report.GMMSteps)
	fmt.Fprintf(w, "ratio pca:gmm:sgd  %.4f:%.4f:%.4f\n", report.Ratios.PCA, report.Ratios.GMM, report.Ratios.SGD)
	return nil
}
