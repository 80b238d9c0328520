package commands

import (
	"github.com/spf13/cobra"

	"github.com/inferloop/aidrin/pkg/models"
)

func NewPrivacyCmd(settings *Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "privacy",
		Short: "Compute group disclosure-risk metrics over quasi-identifiers",
		Long: `Compute k-anonymity, l-diversity, t-closeness or entropy risk for a
dataset, grouping rows into equivalence classes by their quasi-identifier values.`,
	}

	cmd.AddCommand(newGroupMetricCmd(settings, models.MetricKAnonymity,
		"Smallest equivalence class size",
		`  aidrin-cli privacy k-anonymity --input patients.csv --qi age,zip`))
	cmd.AddCommand(newGroupMetricCmd(settings, models.MetricLDiversity,
		"Smallest number of distinct sensitive values in a class",
		`  aidrin-cli privacy l-diversity --input patients.csv --qi age,zip --sensitive diagnosis`))
	cmd.AddCommand(newGroupMetricCmd(settings, models.MetricTCloseness,
		"Largest distance between a class's sensitive distribution and the dataset's",
		`  aidrin-cli privacy t-closeness --input patients.csv --qi age,zip --sensitive diagnosis --plot t.png`))
	cmd.AddCommand(newGroupMetricCmd(settings, models.MetricEntropyRisk,
		"Mean re-identification risk from class entropy",
		`  aidrin-cli privacy entropy-risk --input s3://datasets/patients.csv --qi age,zip --format json`))

	return cmd
}

func newGroupMetricCmd(settings *Settings, metric models.Metric, short, example string) *cobra.Command {
	opts := &MetricOptions{}

	cmd := &cobra.Command{
		Use:     string(metric),
		Short:   short,
		Example: example,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetric(cmd, settings, opts, metric)
		},
	}

	addInputFlags(cmd, opts)
	cmd.Flags().StringSliceVar(&opts.QuasiIdentifiers, "qi", nil, "Quasi-identifier columns (required)")
	if metric.RequiresSensitive() {
		cmd.Flags().StringVar(&opts.SensitiveColumn, "sensitive", "", "Sensitive attribute column (required)")
		cmd.MarkFlagRequired("sensitive")
	}
	cmd.MarkFlagRequired("qi")

	return cmd
}
