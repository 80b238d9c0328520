package commands

import (
	"github.com/spf13/cobra"

	"github.com/inferloop/aidrin/pkg/models"
)

func NewRiskCmd(settings *Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Score per-record re-identification risk with a Markov model",
		Long: `Score how easily each record can be linked back to its identifier from
one attribute (single) or a chain of attributes (multiple).`,
	}

	cmd.AddCommand(newMarkovCmd(settings, "single", models.MetricSingleAttributeRisk,
		"Risk score of each attribute on its own",
		`  aidrin-cli risk single --input patients.csv --id patient_id --eval age,zip,city`))
	cmd.AddCommand(newMarkovCmd(settings, "multiple", models.MetricMultipleAttributeRisk,
		"Risk score of the attribute chain taken in the given order",
		`  aidrin-cli risk multiple --input patients.csv --id patient_id --eval zip,age --plot risk.png`))

	return cmd
}

func newMarkovCmd(settings *Settings, use string, metric models.Metric, short, example string) *cobra.Command {
	opts := &MetricOptions{}

	cmd := &cobra.Command{
		Use:     use,
		Short:   short,
		Example: example,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetric(cmd, settings, opts, metric)
		},
	}

	addInputFlags(cmd, opts)
	cmd.Flags().StringVar(&opts.IDColumn, "id", "", "Identifier column (required)")
	cmd.Flags().StringSliceVar(&opts.EvalColumns, "eval", nil, "Columns to evaluate (required)")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("eval")

	return cmd
}
