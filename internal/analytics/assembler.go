package analytics

import (
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aidrin/internal/privacy"
	"github.com/inferloop/aidrin/internal/utils/math"
	"github.com/inferloop/aidrin/internal/visualization"
	"github.com/inferloop/aidrin/pkg/errors"
	"github.com/inferloop/aidrin/pkg/models"
)

// histogramPrecision is the rounding applied to scores before binning.
const histogramPrecision = 2

type metricText struct {
	description    string
	interpretation string
	chartType      visualization.ChartType
	chart          visualization.ChartOptions
}

var metricTexts = map[models.Metric]metricText{
	models.MetricKAnonymity: {
		description: "k-anonymity measures the minimum group size sharing the same quasi-identifier values. " +
			"Higher k values are preferred, as they indicate stronger anonymity.",
		interpretation: "The histogram shows the distribution of equivalence class sizes. " +
			"A shift toward larger class sizes (higher k) is desirable for privacy.",
		chartType: visualization.ChartTypeBar,
		chart: visualization.ChartOptions{
			Title:  "Distribution of Equivalence Class Sizes",
			XLabel: "Equivalence Class Size (k)",
			YLabel: "Number of Equivalence Classes",
		},
	},
	models.MetricLDiversity: {
		description: "l-diversity quantifies the diversity of sensitive attributes within each group. " +
			"Higher l values are preferred, indicating less risk of attribute disclosure.",
		interpretation: "The histogram displays the spread of l-diversity values. " +
			"A distribution concentrated at higher l values is optimal.",
		chartType: visualization.ChartTypeBar,
		chart: visualization.ChartOptions{
			Title:  "Distribution of l-Diversity Across Equivalence Classes",
			XLabel: "Number of Distinct Sensitive Values (l)",
			YLabel: "Number of Equivalence Classes",
			Color:  1,
		},
	},
	models.MetricTCloseness: {
		description: "t-closeness measures the distance between the distribution of sensitive attributes in a group " +
			"and the overall distribution. Lower t values are preferred, indicating less information leakage.",
		interpretation: "The histogram shows the distribution of t values. " +
			"Lower t values across groups indicate stronger privacy.",
		chartType: visualization.ChartTypeBar,
		chart: visualization.ChartOptions{
			Title:  "Distribution of T-Closeness Across Equivalence Classes",
			XLabel: "t-Closeness Value (TVD)",
			YLabel: "Number of Equivalence Classes",
			Color:  2,
		},
	},
	models.MetricEntropyRisk: {
		description: "Entropy risk quantifies the uncertainty in identifying individuals within equivalence classes. " +
			"Higher entropy values are preferred, indicating greater anonymity and lower re-identification risk.",
		interpretation: "The bar chart visualizes the distribution of entropy values. Higher bars on the right " +
			"(higher entropy) indicate better privacy; left-skewed distributions suggest higher risk.",
		chartType: visualization.ChartTypeBar,
		chart: visualization.ChartOptions{
			Title:  "Distribution of Entropy Across Equivalence Classes",
			XLabel: "Entropy Value",
			YLabel: "Number of Equivalence Classes",
			Color:  3,
		},
	},
	models.MetricSingleAttributeRisk: {
		description: "This metric quantifies the re-identification risk for each quasi-identifier. Lower values are " +
			"preferred, indicating features that are less likely to uniquely identify individuals. " +
			"High-risk features may require further anonymization or removal.",
		interpretation: "The box plot displays the distribution of risk scores for each feature. Features with " +
			"higher medians or more outliers indicate greater privacy risk. A compact, lower box is desirable.",
		chartType: visualization.ChartTypeBoxPlot,
		chart: visualization.ChartOptions{
			Title:  "Box plot of single feature risk scores",
			XLabel: "Feature",
			YLabel: "Risk Score",
		},
	},
	models.MetricMultipleAttributeRisk: {
		description: "This metric evaluates the joint risk posed by combinations of quasi-identifiers. Lower values " +
			"are preferred, as they indicate that the selected set of features does not easily allow re-identification.",
		interpretation: "The box plot shows the distribution of combined risk scores. " +
			"A distribution concentrated at lower values indicates better privacy.",
		chartType: visualization.ChartTypeBoxPlot,
		chart: visualization.ChartOptions{
			Title:  "Box Plot of Multiple Attribute Risk Scores",
			XLabel: "Feature Combination",
			YLabel: "Risk Score",
		},
	},
}

// reportBuilder accumulates one report. Display rounding is applied here
// only; raw results are never modified.
type reportBuilder struct {
	metric    models.Metric
	precision int
	report    *models.RiskReport
}

func newReportBuilder(metric models.Metric, dataset string, precision int) *reportBuilder {
	text := metricTexts[metric]
	return &reportBuilder{
		metric:    metric,
		precision: precision,
		report: &models.RiskReport{
			Metric:         metric,
			Dataset:        dataset,
			Description:    text.description,
			Interpretation: text.interpretation,
			GeneratedAt:    time.Now().UTC(),
		},
	}
}

func (b *reportBuilder) setHeadline(value float64) {
	rounded := math.Round(value, b.precision)
	b.report.Headline = &rounded
}

func (b *reportBuilder) setCoverage(c privacy.Coverage) {
	b.report.RowsUsed = c.RowsUsed
	b.report.RowsDropped = c.RowsDropped
	b.report.Warnings = append(b.report.Warnings, c.Warnings...)
}

func (b *reportBuilder) setStatistics(values []float64) {
	stats := b.describe(values)
	b.report.DescriptiveStatistics = &stats
}

func (b *reportBuilder) setFeatureStatistics(columns []string, scores map[string][]float64) {
	b.report.Features = append([]string(nil), columns...)
	b.report.FeatureStatistics = make(map[string]models.DescriptiveStatistics, len(columns))
	for _, col := range columns {
		b.report.FeatureStatistics[col] = b.describe(scores[col])
	}
}

func (b *reportBuilder) setScores(scores map[string][]float64) {
	b.report.Scores = scores
}

// setHistogram counts values after rounding them to histogramPrecision,
// ordered by value.
func (b *reportBuilder) setHistogram(values []float64) {
	counts := make(map[float64]int)
	for _, v := range values {
		counts[math.Round(v, histogramPrecision)]++
	}

	bins := make([]models.HistogramBin, 0, len(counts))
	for value, count := range counts {
		bins = append(bins, models.HistogramBin{Value: value, Count: count})
	}
	sort.Slice(bins, func(i, j int) bool { return bins[i].Value < bins[j].Value })

	b.report.HistogramData = bins
}

// render delegates to the renderer. A failure leaves the visualization
// empty and is reported as a warning.
func (b *reportBuilder) render(renderer visualization.Renderer, data interface{}, logger *logrus.Logger) {
	if renderer == nil {
		return
	}

	text := metricTexts[b.metric]
	encoded, err := renderer.RenderChart(text.chartType, data, text.chart)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"metric": b.metric,
			"error":  err.Error(),
		}).Warn("Visualization failed, returning report without image")
		b.report.Warnings = append(b.report.Warnings, "Visualization could not be generated: "+err.Error())
		return
	}
	b.report.Visualization = encoded
}

func (b *reportBuilder) describe(values []float64) models.DescriptiveStatistics {
	s := math.Describe(values)
	return models.DescriptiveStatistics{
		Mean:   math.Round(s.Mean, b.precision),
		Std:    math.Round(s.Std, b.precision),
		Min:    math.Round(s.Min, b.precision),
		P25:    math.Round(s.P25, b.precision),
		Median: math.Round(s.Median, b.precision),
		P75:    math.Round(s.P75, b.precision),
		Max:    math.Round(s.Max, b.precision),
	}
}

func (b *reportBuilder) build() *models.RiskReport {
	return b.report
}

// FailureReport converts err into a report carrying the error category and
// no visualization. Callers outside the engine use it for errors raised
// before a computation starts.
func FailureReport(metric models.Metric, dataset string, err error) *models.RiskReport {
	appErr := errors.AsAppError(err)
	label := appErr.Label()

	return &models.RiskReport{
		Metric:         metric,
		Dataset:        dataset,
		Description:    metricTexts[metric].description,
		Interpretation: "No visualization available due to " + strings.ToLower(label) + ".",
		Error:          appErr.Message,
		ErrorType:      label,
		ErrorCode:      appErr.Code,
		GeneratedAt:    time.Now().UTC(),
	}
}

func intsToFloats(values []int) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}
