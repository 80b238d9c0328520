package models

import "time"

// DescriptiveStatistics summarizes a score array with population statistics.
type DescriptiveStatistics struct {
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	P25    float64 `json:"25%"`
	Median float64 `json:"50%"`
	P75    float64 `json:"75%"`
	Max    float64 `json:"max"`
}

// HistogramBin counts groups sharing one (rounded) score.
type HistogramBin struct {
	Value float64 `json:"value"`
	Count int     `json:"count"`
}

// RiskReport is the result of one metric computation. It is built once by
// the analytics engine and not modified afterwards.
type RiskReport struct {
	Metric                Metric                           `json:"metric"`
	Dataset               string                           `json:"dataset,omitempty"`
	Headline              *float64                         `json:"headline,omitempty"`
	DescriptiveStatistics *DescriptiveStatistics           `json:"descriptive_statistics,omitempty"`
	FeatureStatistics     map[string]DescriptiveStatistics `json:"feature_statistics,omitempty"`
	Features              []string                         `json:"features,omitempty"`
	HistogramData         []HistogramBin                   `json:"histogram_data,omitempty"`
	Scores                map[string][]float64             `json:"scores,omitempty"`
	Visualization         string                           `json:"visualization"`
	Description           string                           `json:"description"`
	Interpretation        string                           `json:"interpretation"`
	Warnings              []string                         `json:"warnings,omitempty"`
	RowsUsed              int                              `json:"rows_used"`
	RowsDropped           int                              `json:"rows_dropped"`
	Error                 string                           `json:"error,omitempty"`
	ErrorType             string                           `json:"error_type,omitempty"`
	ErrorCode             string                           `json:"error_code,omitempty"`
	GeneratedAt           time.Time                        `json:"generated_at"`
}

// Failed reports whether the report carries an error.
func (r *RiskReport) Failed() bool {
	return r.ErrorType != ""
}

// HeadlineKey is the record key of the headline value; empty when the
// metric has no scalar headline.
func (m Metric) HeadlineKey() string {
	switch m {
	case MetricKAnonymity:
		return "k-Value"
	case MetricLDiversity:
		return "l-Value"
	case MetricTCloseness:
		return "t-Value"
	case MetricEntropyRisk:
		return "Entropy-Value"
	case MetricMultipleAttributeRisk:
		return "Dataset Risk Score"
	default:
		return ""
	}
}

// VisualizationKey is the record key of the base64 image.
func (m Metric) VisualizationKey() string {
	switch m {
	case MetricKAnonymity:
		return "k-Anonymity Visualization"
	case MetricLDiversity:
		return "l-Diversity Visualization"
	case MetricTCloseness:
		return "t-Closeness Visualization"
	case MetricEntropyRisk:
		return "Entropy Risk Visualization"
	case MetricSingleAttributeRisk:
		return "Single attribute risk scoring Visualization"
	case MetricMultipleAttributeRisk:
		return "Multiple attribute risk scoring Visualization"
	default:
		return "Visualization"
	}
}

// StatisticsKey is the record key of the descriptive statistics.
func (m Metric) StatisticsKey() string {
	if m.RequiresIdentifier() {
		return "Descriptive statistics of the risk scores"
	}
	return "descriptive_statistics"
}

// Record renders the report with the display keys used by the dashboard.
// Raw per-row scores stay on the struct form only.
func (r *RiskReport) Record() map[string]interface{} {
	record := map[string]interface{}{
		r.Metric.VisualizationKey(): r.Visualization,
		"Graph interpretation":      r.Interpretation,
	}

	if r.Description != "" {
		record["Description"] = r.Description
	}
	if len(r.Warnings) > 0 {
		record["Warnings"] = r.Warnings
	}

	if r.Failed() {
		record["Error"] = r.Error
		record["ErrorType"] = r.ErrorType
		return record
	}

	if key := r.Metric.HeadlineKey(); key != "" && r.Headline != nil {
		record[key] = *r.Headline
	}

	switch {
	case r.FeatureStatistics != nil:
		record[r.Metric.StatisticsKey()] = r.FeatureStatistics
	case r.DescriptiveStatistics != nil:
		record[r.Metric.StatisticsKey()] = r.DescriptiveStatistics
	}

	if len(r.HistogramData) > 0 {
		record["histogram_data"] = r.HistogramData
	}

	return record
}
