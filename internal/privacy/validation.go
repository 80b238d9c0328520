package privacy

import (
	"fmt"
	"strings"

	"github.com/inferloop/aidrin/pkg/constants"
	"github.com/inferloop/aidrin/pkg/errors"
	"github.com/inferloop/aidrin/pkg/models"
)

// QualityMode selects how an excessive missing-value drop is reported.
type QualityMode string

const (
	QualityModeWarn QualityMode = "warn"
	QualityModeFail QualityMode = "fail"
)

// DataQualityPolicy bounds the fraction of rows that may be dropped for
// missing values. A MaxDroppedFraction of zero or less disables the check.
type DataQualityPolicy struct {
	MaxDroppedFraction float64     `json:"max_dropped_fraction" mapstructure:"max_dropped_fraction"`
	Mode               QualityMode `json:"mode" mapstructure:"mode"`
}

// DefaultDataQualityPolicy warns once more than half of the rows are dropped.
func DefaultDataQualityPolicy() DataQualityPolicy {
	return DataQualityPolicy{
		MaxDroppedFraction: constants.DefaultMaxDroppedFraction,
		Mode:               QualityModeWarn,
	}
}

// ParseQualityMode accepts "warn" or "fail", case-insensitively.
func ParseQualityMode(s string) (QualityMode, error) {
	switch QualityMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", QualityModeWarn:
		return QualityModeWarn, nil
	case QualityModeFail:
		return QualityModeFail, nil
	default:
		return "", errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("unknown data quality mode '%s', expected warn or fail", s))
	}
}

// Evaluate checks a cleaning step that kept kept of total rows. In warn mode
// a violation returns a warning message; in fail mode it returns an error.
func (p DataQualityPolicy) Evaluate(total, kept int) (string, error) {
	if p.MaxDroppedFraction <= 0 || total == 0 {
		return "", nil
	}

	dropped := total - kept
	if float64(dropped)/float64(total) <= p.MaxDroppedFraction {
		return "", nil
	}

	msg := fmt.Sprintf(
		"More than %.0f%% of data was removed due to missing values (%d of %d rows). Please check data quality.",
		p.MaxDroppedFraction*100, dropped, total)

	if p.Mode == QualityModeFail {
		return "", errors.NewDataQualityError(errors.CodeExcessiveMissing, msg).
			WithContext("rows_dropped", dropped).
			WithContext("rows_total", total)
	}
	return msg, nil
}

// validateSelection checks the dataset and quasi-identifier list shared by
// every group metric and returns the cleaned list.
func validateSelection(ds *models.Dataset, quasiIdentifiers []string) ([]string, error) {
	if ds.IsEmpty() {
		return nil, errors.NewValidationError(errors.CodeEmptyDataset, "Input dataset is empty.")
	}

	qis := models.CleanColumnList(quasiIdentifiers)
	if len(qis) == 0 {
		return nil, errors.NewSelectionError(errors.CodeNoColumnsSelected, "No quasi-identifiers selected.")
	}

	if missing := ds.MissingColumns(qis...); len(missing) > 0 {
		if len(missing) == 1 {
			return nil, errors.NewValidationError(errors.CodeColumnNotFound,
				fmt.Sprintf("Quasi-identifier '%s' not found in the dataset.", missing[0])).
				WithContext("columns", missing)
		}
		return nil, errors.NewValidationError(errors.CodeColumnNotFound,
			fmt.Sprintf("Quasi-identifier columns not found in dataset: %s", strings.Join(missing, ", "))).
			WithContext("columns", missing)
	}

	return qis, nil
}

// validateSensitive checks the sensitive column of l-diversity and t-closeness.
func validateSensitive(ds *models.Dataset, sensitive string) (string, error) {
	sensitive = strings.TrimSpace(sensitive)
	if sensitive == "" {
		return "", errors.NewSelectionError(errors.CodeNoColumnsSelected, "No sensitive column selected.")
	}
	if _, ok := ds.Column(sensitive); !ok {
		return "", errors.NewDataError(errors.CodeSensitiveColumnMissing,
			fmt.Sprintf("Sensitive column '%s' not found in the dataset.", sensitive))
	}
	return sensitive, nil
}
