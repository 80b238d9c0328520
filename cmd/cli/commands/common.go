package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/aidrin/cmd/cli/config"
	"github.com/inferloop/aidrin/internal/analytics"
	"github.com/inferloop/aidrin/internal/datasource"
	"github.com/inferloop/aidrin/internal/privacy"
	"github.com/inferloop/aidrin/pkg/models"
)

// Settings is filled by the root command before any subcommand runs.
type Settings struct {
	Config  *config.CLIConfig
	Verbose bool
}

func (s *Settings) config() *config.CLIConfig {
	if s == nil || s.Config == nil {
		return config.DefaultConfig()
	}
	return s.Config
}

type MetricOptions struct {
	InputFile          string
	FileType           string
	QuasiIdentifiers   []string
	SensitiveColumn    string
	IDColumn           string
	EvalColumns        []string
	OutputFormat       string
	OutputFile         string
	PlotFile           string
	MaxDroppedFraction float64
	QualityMode        string
	NoProgress         bool
}

func addInputFlags(cmd *cobra.Command, opts *MetricOptions) {
	cmd.Flags().StringVarP(&opts.InputFile, "input", "i", "", "Dataset to analyze: local path or s3://bucket/key (required)")
	cmd.Flags().StringVar(&opts.FileType, "type", "", "Dataset type (.csv, .tsv, .json); inferred from the extension when empty")
	cmd.Flags().StringVar(&opts.OutputFormat, "format", "", "Output format (text, json)")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "-", "Output file (- for stdout)")
	cmd.Flags().StringVar(&opts.PlotFile, "plot", "", "Write the report visualization as a PNG file")
	cmd.Flags().Float64Var(&opts.MaxDroppedFraction, "max-dropped-fraction", -1, "Largest fraction of rows dropped for missing values before the quality policy applies")
	cmd.Flags().StringVar(&opts.QualityMode, "quality-mode", "", "Data quality policy mode (warn, fail)")
	cmd.Flags().BoolVar(&opts.NoProgress, "no-progress", false, "Do not print progress")

	cmd.MarkFlagRequired("input")
}

func (o *MetricOptions) request(metric models.Metric) *models.MetricRequest {
	return &models.MetricRequest{
		Metric: metric,
		File: models.FileDescriptor{
			Path: o.InputFile,
			Type: o.FileType,
		},
		QuasiIdentifiers: o.QuasiIdentifiers,
		SensitiveColumn:  o.SensitiveColumn,
		IDColumn:         o.IDColumn,
		EvalColumns:      o.EvalColumns,
	}
}

func (o *MetricOptions) qualityPolicy(cfg *config.CLIConfig) (privacy.DataQualityPolicy, error) {
	policy := privacy.DataQualityPolicy{
		MaxDroppedFraction: cfg.Quality.MaxDroppedFraction,
	}
	if o.MaxDroppedFraction >= 0 {
		policy.MaxDroppedFraction = o.MaxDroppedFraction
	}

	modeName := cfg.Quality.Mode
	if o.QualityMode != "" {
		modeName = o.QualityMode
	}
	mode, err := privacy.ParseQualityMode(modeName)
	if err != nil {
		return policy, err
	}
	policy.Mode = mode
	return policy, nil
}

func newLogger(settings *Settings, cfg *config.CLIConfig, w io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level, err := logrus.ParseLevel(cfg.Preferences.LogLevel)
	if err != nil {
		level = logrus.WarnLevel
	}
	if settings != nil && settings.Verbose {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)
	return logger
}

// runMetric loads the dataset, computes metric synchronously and writes the
// report. A failed report is still written and then returned as an error.
func runMetric(cmd *cobra.Command, settings *Settings, opts *MetricOptions, metric models.Metric) error {
	cfg := settings.config()
	errOut := cmd.ErrOrStderr()
	logger := newLogger(settings, cfg, errOut)

	format := opts.OutputFormat
	if format == "" {
		format = cfg.DefaultFormat
	}
	format = strings.ToLower(format)
	if format != "text" && format != "json" {
		return fmt.Errorf("unsupported output format %q (expected text or json)", format)
	}

	req := opts.request(metric)
	if err := req.Validate(); err != nil {
		return err
	}

	policy, err := opts.qualityPolicy(cfg)
	if err != nil {
		return err
	}

	var fetcher datasource.ObjectFetcher
	if cfg.S3.Region != "" || cfg.S3.Endpoint != "" {
		s3Config := cfg.S3
		if fetcher, err = datasource.NewS3Fetcher(&s3Config, logger); err != nil {
			return err
		}
	}
	reader := datasource.NewReader(&datasource.ReaderConfig{BaseDir: cfg.DataDir}, fetcher, logger)

	engineConfig := analytics.DefaultEngineConfig()
	engineConfig.DisplayPrecision = cfg.DisplayPrecision
	engineConfig.QualityPolicy = policy
	engine := analytics.NewEngine(engineConfig, logger)

	progress := newProgressPrinter(errOut, !opts.NoProgress && cfg.Preferences.ProgressBars)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var report *models.RiskReport
	progress.update(0, "Loading dataset")
	ds, err := reader.Read(ctx, req.File)
	if err != nil {
		report = analytics.FailureReport(metric, req.File.DisplayName(), err)
	} else {
		report = engine.Run(ctx, req, ds, progress.update)
	}
	progress.done()

	if err := writeReport(cmd.OutOrStdout(), opts.OutputFile, format, report); err != nil {
		return err
	}
	if opts.PlotFile != "" && !report.Failed() {
		if err := writePlot(opts.PlotFile, report); err != nil {
			return err
		}
		fmt.Fprintf(errOut, "Visualization written to %s\n", opts.PlotFile)
	}

	if report.Failed() {
		return fmt.Errorf("%s: %s", report.ErrorType, report.Error)
	}
	return nil
}
