package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inferloop/p3gm/cmd/p3gm/commands"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	globals := &commands.GlobalOptions{}

	rootCmd := &cobra.Command{
		Use:   "p3gm",
		Short: "Differentially private phased generative model",
		Long: `Train generative models under differential privacy (DP PCA, a DP Gaussian
mixture prior and a DP-SGD decoder), account for their privacy cost and
sample synthetic records from them.`,
		Version:       commands.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&globals.ConfigFile, "config", "", "config file (default is $HOME/.p3gm.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&globals.Verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(commands.NewEpsilonCmd(globals))
	rootCmd.AddCommand(commands.NewTrainCmd(globals))
	rootCmd.AddCommand(commands.NewGenerateCmd(globals))
	rootCmd.AddCommand(commands.NewServeCmd(globals))
	rootCmd.AddCommand(commands.NewVersionCmd())

	return rootCmd
}
