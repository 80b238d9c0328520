package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/inferloop/aidrin/pkg/errors"
)

// Metric names a privacy-risk computation.
type Metric string

const (
	MetricKAnonymity            Metric = "k-anonymity"
	MetricLDiversity            Metric = "l-diversity"
	MetricTCloseness            Metric = "t-closeness"
	MetricEntropyRisk           Metric = "entropy-risk"
	MetricSingleAttributeRisk   Metric = "single-attribute-risk"
	MetricMultipleAttributeRisk Metric = "multiple-attribute-risk"
)

var allMetrics = []Metric{
	MetricKAnonymity,
	MetricLDiversity,
	MetricTCloseness,
	MetricEntropyRisk,
	MetricSingleAttributeRisk,
	MetricMultipleAttributeRisk,
}

// AllMetrics lists the supported metrics.
func AllMetrics() []Metric {
	out := make([]Metric, len(allMetrics))
	copy(out, allMetrics)
	return out
}

// ParseMetric resolves a metric name.
func ParseMetric(name string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range allMetrics {
		if m == known {
			return m, nil
		}
	}
	return "", errors.NewValidationError(errors.CodeUnknownMetric, fmt.Sprintf("unknown metric '%s'", name))
}

// RequiresSensitive reports whether the metric needs a sensitive column.
func (m Metric) RequiresSensitive() bool {
	return m == MetricLDiversity || m == MetricTCloseness
}

// RequiresIdentifier reports whether the metric needs an id column.
func (m Metric) RequiresIdentifier() bool {
	return m == MetricSingleAttributeRisk || m == MetricMultipleAttributeRisk
}

// FileDescriptor locates a dataset for the reader.
type FileDescriptor struct {
	Path string `json:"path" mapstructure:"path"`
	Name string `json:"name" mapstructure:"name"`
	Type string `json:"type" mapstructure:"type"`
}

// DisplayName falls back to the path when no name was given.
func (f FileDescriptor) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	return f.Path
}

// MetricRequest carries a metric and its column parameters.
type MetricRequest struct {
	Metric           Metric         `json:"metric"`
	File             FileDescriptor `json:"file"`
	QuasiIdentifiers []string       `json:"quasi_identifiers,omitempty"`
	SensitiveColumn  string         `json:"sensitive_column,omitempty"`
	IDColumn         string         `json:"id_column,omitempty"`
	EvalColumns      ColumnList     `json:"eval_columns,omitempty"`
	Scope            string         `json:"scope,omitempty"`
}

// Validate checks the request shape. Column existence is checked later
// against the dataset.
func (r *MetricRequest) Validate() error {
	if _, err := ParseMetric(string(r.Metric)); err != nil {
		return err
	}
	if strings.TrimSpace(r.File.Path) == "" {
		return errors.NewValidationError(errors.CodeInvalidInput, "file path is required")
	}

	if r.Metric.RequiresIdentifier() {
		if strings.TrimSpace(r.IDColumn) == "" {
			return errors.NewSelectionError(errors.CodeNoColumnsSelected, "an ID column must be selected")
		}
		if len(CleanColumnList(r.EvalColumns)) == 0 {
			return errors.NewSelectionError(errors.CodeNoColumnsSelected, "no valid quasi-identifiers provided")
		}
		return nil
	}

	if len(CleanColumnList(r.QuasiIdentifiers)) == 0 {
		return errors.NewSelectionError(errors.CodeNoColumnsSelected, "no quasi-identifiers selected")
	}
	if r.Metric.RequiresSensitive() && strings.TrimSpace(r.SensitiveColumn) == "" {
		return errors.NewSelectionError(errors.CodeNoColumnsSelected, "a sensitive column must be selected")
	}
	return nil
}

// Params flattens the column parameters for fingerprinting. Set-like lists
// are sorted; the multiple-attribute chain keeps its order since it changes
// the result.
func (r *MetricRequest) Params() map[string]string {
	params := make(map[string]string)
	if qis := CleanColumnList(r.QuasiIdentifiers); len(qis) > 0 {
		sort.Strings(qis)
		params["quasi_identifiers"] = joinColumns(qis)
	}
	if r.SensitiveColumn != "" {
		params["sensitive_column"] = strings.TrimSpace(r.SensitiveColumn)
	}
	if r.IDColumn != "" {
		params["id_column"] = strings.TrimSpace(r.IDColumn)
	}
	if evals := CleanColumnList(r.EvalColumns); len(evals) > 0 {
		if r.Metric != MetricMultipleAttributeRisk {
			sort.Strings(evals)
		}
		params["eval_columns"] = joinColumns(evals)
	}
	return params
}

// joinColumns quotes names holding a comma or quote so that distinct column
// lists never join to the same string.
func joinColumns(names []string) string {
	parts := make([]string, len(names))
	for i, name := range names {
		if strings.ContainsAny(name, `,"`) {
			name = strconv.Quote(name)
		}
		parts[i] = name
	}
	return strings.Join(parts, ",")
}

// CleanColumnList trims names, drops blanks and collapses duplicates while
// keeping first-seen order. Names are never split: a column may contain a
// comma.
func CleanColumnList(names []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// ColumnList is a list of column names that also decodes from a single
// comma-separated JSON string.
type ColumnList []string

// UnmarshalJSON accepts either a JSON array of names or one string of
// comma-separated names.
func (l *ColumnList) UnmarshalJSON(data []byte) error {
	var joined string
	if err := json.Unmarshal(data, &joined); err == nil {
		*l = ColumnList(strings.Split(joined, ","))
		return nil
	}

	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("column list must be a string or an array of strings: %w", err)
	}
	*l = names
	return nil
}
