package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aidrin/internal/privacy"
	"github.com/inferloop/aidrin/internal/visualization"
	"github.com/inferloop/aidrin/pkg/constants"
	"github.com/inferloop/aidrin/pkg/errors"
	"github.com/inferloop/aidrin/pkg/models"
)

// MetricsRecorder receives one observation per computation.
type MetricsRecorder interface {
	RecordMetricComputation(metric, status string, duration time.Duration)
	RecordRowsDropped(metric string, rows int)
}

// Engine computes privacy-risk reports. It holds no per-request state, so
// one Engine may serve concurrent computations.
type Engine struct {
	logger   *logrus.Logger
	config   *EngineConfig
	renderer visualization.Renderer
	metrics  MetricsRecorder

	kAnonymity  *privacy.KAnonymityProcessor
	lDiversity  *privacy.LDiversityProcessor
	tCloseness  *privacy.TClosenessProcessor
	entropyRisk *privacy.EntropyRiskProcessor
	markov      *privacy.MarkovRiskScorer
}

// EngineConfig contains configuration for the analytics engine
type EngineConfig struct {
	DisplayPrecision          int                       `json:"display_precision" mapstructure:"display_precision"`
	MaxCategoricalCardinality int                       `json:"max_categorical_cardinality" mapstructure:"max_categorical_cardinality"`
	CancelCheckInterval       int                       `json:"cancel_check_interval" mapstructure:"cancel_check_interval"`
	QualityPolicy             privacy.DataQualityPolicy `json:"quality_policy" mapstructure:"quality_policy"`
	RenderVisualizations      bool                      `json:"render_visualizations" mapstructure:"render_visualizations"`
}

// Option customizes an Engine.
type Option func(*Engine)

// WithRenderer replaces the chart renderer.
func WithRenderer(renderer visualization.Renderer) Option {
	return func(e *Engine) {
		e.renderer = renderer
	}
}

// WithMetrics records every computation on m.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// DefaultEngineConfig returns the engine defaults.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		DisplayPrecision:          constants.DefaultDisplayPrecision,
		MaxCategoricalCardinality: constants.MaxCategoricalCardinality,
		CancelCheckInterval:       constants.DefaultCancelCheckInterval,
		QualityPolicy:             privacy.DefaultDataQualityPolicy(),
		RenderVisualizations:      true,
	}
}

// NewEngine creates a new analytics engine
func NewEngine(config *EngineConfig, logger *logrus.Logger, opts ...Option) *Engine {
	if config == nil {
		config = DefaultEngineConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	e := &Engine{
		logger: logger,
		config: config,

		kAnonymity:  privacy.NewKAnonymityProcessor(&privacy.KAnonymityConfig{QualityPolicy: config.QualityPolicy}, logger),
		lDiversity:  privacy.NewLDiversityProcessor(&privacy.LDiversityConfig{QualityPolicy: config.QualityPolicy}, logger),
		tCloseness:  privacy.NewTClosenessProcessor(&privacy.TClosenessConfig{QualityPolicy: config.QualityPolicy}, logger),
		entropyRisk: privacy.NewEntropyRiskProcessor(&privacy.EntropyRiskConfig{QualityPolicy: config.QualityPolicy}, logger),
		markov: privacy.NewMarkovRiskScorer(&privacy.MarkovRiskConfig{
			MaxCategoricalCardinality: config.MaxCategoricalCardinality,
			QualityPolicy:             config.QualityPolicy,
			CancelCheckInterval:       config.CancelCheckInterval,
		}, logger),
	}
	if config.RenderVisualizations {
		e.renderer = visualization.NewChartManager(logger)
	}

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ComputeKAnonymity reports the minimum equivalence class size.
func (e *Engine) ComputeKAnonymity(ctx context.Context, quasiIdentifiers []string, ds *models.Dataset) *models.RiskReport {
	return e.execute(ctx, models.MetricKAnonymity, ds, func(b *reportBuilder) error {
		result, err := e.kAnonymity.Compute(ctx, ds, quasiIdentifiers)
		if err != nil {
			return err
		}

		sizes := intsToFloats(result.ClassSizes)
		b.setCoverage(result.Coverage)
		b.setHeadline(float64(result.K))
		b.setStatistics(sizes)
		b.setHistogram(sizes)
		b.render(e.renderer, visualization.BarData{Bins: b.report.HistogramData}, e.logger)
		return nil
	})
}

// ComputeLDiversity reports the minimum number of distinct sensitive values
// per equivalence class.
func (e *Engine) ComputeLDiversity(ctx context.Context, quasiIdentifiers []string, sensitive string, ds *models.Dataset) *models.RiskReport {
	return e.execute(ctx, models.MetricLDiversity, ds, func(b *reportBuilder) error {
		result, err := e.lDiversity.Compute(ctx, ds, quasiIdentifiers, sensitive)
		if err != nil {
			return err
		}

		diversities := intsToFloats(result.Diversities)
		b.setCoverage(result.Coverage)
		b.setHeadline(float64(result.L))
		b.setStatistics(diversities)
		b.setHistogram(diversities)
		b.render(e.renderer, visualization.BarData{Bins: b.report.HistogramData}, e.logger)
		return nil
	})
}

// ComputeTCloseness reports the largest distance between a class's
// sensitive distribution and the global one.
func (e *Engine) ComputeTCloseness(ctx context.Context, quasiIdentifiers []string, sensitive string, ds *models.Dataset) *models.RiskReport {
	return e.execute(ctx, models.MetricTCloseness, ds, func(b *reportBuilder) error {
		result, err := e.tCloseness.Compute(ctx, ds, quasiIdentifiers, sensitive)
		if err != nil {
			return err
		}

		b.setCoverage(result.Coverage)
		b.setHeadline(result.T)
		b.setStatistics(result.Distances)
		b.setHistogram(result.Distances)
		b.render(e.renderer, visualization.BarData{Bins: b.report.HistogramData}, e.logger)
		return nil
	})
}

// ComputeEntropyRisk reports the row-weighted identification entropy.
func (e *Engine) ComputeEntropyRisk(ctx context.Context, quasiIdentifiers []string, ds *models.Dataset) *models.RiskReport {
	return e.execute(ctx, models.MetricEntropyRisk, ds, func(b *reportBuilder) error {
		result, err := e.entropyRisk.Compute(ctx, ds, quasiIdentifiers)
		if err != nil {
			return err
		}

		b.setCoverage(result.Coverage)
		b.setHeadline(result.Entropy)
		b.setStatistics(result.ClassEntropies)
		b.setHistogram(result.ClassEntropies)
		b.render(e.renderer, visualization.BarData{Bins: b.report.HistogramData}, e.logger)
		return nil
	})
}

// SingleAttributeRisk reports per-row risk for every evaluated column.
func (e *Engine) SingleAttributeRisk(ctx context.Context, ds *models.Dataset, idColumn string, evalColumns []string, progress privacy.ProgressFunc) *models.RiskReport {
	return e.execute(ctx, models.MetricSingleAttributeRisk, ds, func(b *reportBuilder) error {
		result, err := e.markov.ScoreSingle(ctx, ds, idColumn, evalColumns, progress)
		if err != nil {
			return err
		}

		reportProgress(progress, 0.75, "Calculating descriptive statistics...")
		b.setCoverage(result.Coverage)
		b.setFeatureStatistics(result.Columns, result.Scores)
		b.setScores(result.Scores)

		reportProgress(progress, 0.90, "Generating visualization...")
		groups := make([]visualization.BoxGroup, len(result.Columns))
		for i, col := range result.Columns {
			groups[i] = visualization.BoxGroup{Label: col, Values: result.Scores[col]}
		}
		b.render(e.renderer, visualization.BoxPlotData{Groups: groups}, e.logger)
		return nil
	})
}

// MultipleAttributeRisk reports per-row risk for the ordered column chain
// and the normalized dataset risk.
func (e *Engine) MultipleAttributeRisk(ctx context.Context, ds *models.Dataset, idColumn string, evalColumns []string, progress privacy.ProgressFunc) *models.RiskReport {
	return e.execute(ctx, models.MetricMultipleAttributeRisk, ds, func(b *reportBuilder) error {
		result, err := e.markov.ScoreMultiple(ctx, ds, idColumn, evalColumns, progress)
		if err != nil {
			return err
		}

		reportProgress(progress, 0.85, "Calculating descriptive statistics...")
		label := strings.Join(result.Columns, ",")
		b.setCoverage(result.Coverage)
		b.setHeadline(result.DatasetRisk)
		b.setStatistics(result.Scores)
		b.report.Features = append([]string(nil), result.Columns...)
		b.setScores(map[string][]float64{label: result.Scores})

		reportProgress(progress, 0.95, "Generating visualization...")
		b.render(e.renderer, visualization.BoxPlotData{Groups: []visualization.BoxGroup{
			{Label: label, Values: result.Scores},
		}}, e.logger)
		return nil
	})
}

// Run dispatches req to the matching computation.
func (e *Engine) Run(ctx context.Context, req *models.MetricRequest, ds *models.Dataset, progress privacy.ProgressFunc) *models.RiskReport {
	if err := req.Validate(); err != nil {
		return FailureReport(req.Metric, datasetName(ds), err)
	}

	switch req.Metric {
	case models.MetricKAnonymity:
		return e.ComputeKAnonymity(ctx, req.QuasiIdentifiers, ds)
	case models.MetricLDiversity:
		return e.ComputeLDiversity(ctx, req.QuasiIdentifiers, req.SensitiveColumn, ds)
	case models.MetricTCloseness:
		return e.ComputeTCloseness(ctx, req.QuasiIdentifiers, req.SensitiveColumn, ds)
	case models.MetricEntropyRisk:
		return e.ComputeEntropyRisk(ctx, req.QuasiIdentifiers, ds)
	case models.MetricSingleAttributeRisk:
		return e.SingleAttributeRisk(ctx, ds, req.IDColumn, req.EvalColumns, progress)
	case models.MetricMultipleAttributeRisk:
		return e.MultipleAttributeRisk(ctx, ds, req.IDColumn, req.EvalColumns, progress)
	default:
		return FailureReport(req.Metric, datasetName(ds), errors.NewValidationError(errors.CodeUnknownMetric,
			fmt.Sprintf("unknown metric '%s'", req.Metric)))
	}
}

// execute runs compute and turns any error or panic into a failure report.
func (e *Engine) execute(ctx context.Context, metric models.Metric, ds *models.Dataset, compute func(*reportBuilder) error) (report *models.RiskReport) {
	start := time.Now()
	name := datasetName(ds)

	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(logrus.Fields{
				"metric":  metric,
				"dataset": name,
				"panic":   r,
			}).Error("Metric computation panicked")
			report = FailureReport(metric, name, errors.NewProcessingError(errors.CodeProcessing,
				fmt.Sprintf("An unexpected error occurred: %v", r)))
		}
		e.record(metric, report, time.Since(start))
	}()

	b := newReportBuilder(metric, name, e.config.DisplayPrecision)
	if err := compute(b); err != nil {
		logger := e.logger.WithFields(logrus.Fields{
			"metric":  metric,
			"dataset": name,
			"error":   err.Error(),
		})
		if appErr := errors.AsAppError(err); appErr.Type == errors.ErrorTypeProcessing {
			logger.Error("Metric computation failed")
		} else {
			logger.Warn("Metric computation rejected input")
		}
		return FailureReport(metric, name, err)
	}

	e.logger.WithFields(logrus.Fields{
		"metric":   metric,
		"dataset":  name,
		"duration": time.Since(start),
	}).Info("Metric computation completed")

	return b.build()
}

func (e *Engine) record(metric models.Metric, report *models.RiskReport, duration time.Duration) {
	if e.metrics == nil || report == nil {
		return
	}

	status := "success"
	if report.Failed() {
		status = report.ErrorType
	}
	e.metrics.RecordMetricComputation(string(metric), status, duration)
	e.metrics.RecordRowsDropped(string(metric), report.RowsDropped)
}

func reportProgress(progress privacy.ProgressFunc, fraction float64, message string) {
	if progress != nil {
		progress(fraction, message)
	}
}

func datasetName(ds *models.Dataset) string {
	if ds == nil {
		return ""
	}
	return ds.Name
}
