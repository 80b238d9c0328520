package privacy

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aidrin/internal/utils/math"
	"github.com/inferloop/aidrin/pkg/constants"
	"github.com/inferloop/aidrin/pkg/errors"
	"github.com/inferloop/aidrin/pkg/models"
)

const scorePrecision = 2

type MarkovRiskConfig struct {
	// MaxCategoricalCardinality rejects numeric columns with more unique
	// values than this as non-categorical.
	MaxCategoricalCardinality int               `json:"max_categorical_cardinality" mapstructure:"max_categorical_cardinality"`
	QualityPolicy             DataQualityPolicy `json:"quality_policy" mapstructure:"quality_policy"`
	// CancelCheckInterval is the number of rows scored between context checks.
	CancelCheckInterval int `json:"cancel_check_interval" mapstructure:"cancel_check_interval"`
}

// MarkovRiskScorer estimates per-row re-identification risk from attribute
// frequencies and the transitions between consecutive attributes.
//
// Counts are gathered in hash maps, so scoring is linear in the row count
// for each column or column pair.
type MarkovRiskScorer struct {
	config *MarkovRiskConfig
	logger *logrus.Logger
}

// SingleAttributeResult holds one score array per evaluated column. Score i
// of every column belongs to dataset row Rows[i].
type SingleAttributeResult struct {
	Coverage
	Columns []string             `json:"columns"`
	Scores  map[string][]float64 `json:"scores"`
	Rows    []int                `json:"-"`
}

// MultipleAttributeResult holds the chained per-row scores and the
// normalized dataset risk.
type MultipleAttributeResult struct {
	Coverage
	Columns     []string  `json:"columns"`
	Scores      []float64 `json:"scores"`
	DatasetRisk float64   `json:"dataset_risk"`
	Rows        []int     `json:"-"`
}

// scoringInput is the validated, cleaned and integer-encoded selection.
type scoringInput struct {
	columns  []string
	ids      []int
	codes    map[string][]int
	rows     []int
	coverage Coverage
}

func NewMarkovRiskScorer(config *MarkovRiskConfig, logger *logrus.Logger) *MarkovRiskScorer {
	if config == nil {
		config = getDefaultMarkovRiskConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &MarkovRiskScorer{
		config: config,
		logger: logger,
	}
}

// ScoreSingle scores every evaluated column independently. For row j with
// value v in a column:
//
//	start = count(v) / N
//	obs   = 1 - count(id_j, v) / count(v)
//	risk  = round(1 - start*obs, 2)
//
// count(id_j, v) includes row j itself, so it is 1 whenever ids are unique.
func (m *MarkovRiskScorer) ScoreSingle(ctx context.Context, ds *models.Dataset, idColumn string, evalColumns []string, progress ProgressFunc) (*SingleAttributeResult, error) {
	progress.report(0.05, "Data validation & preprocessing...")

	in, err := m.prepare(ctx, ds, idColumn, evalColumns)
	if err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"dataset":      ds.Name,
		"id_column":    idColumn,
		"eval_columns": in.columns,
		"rows_used":    in.coverage.RowsUsed,
	}).Info("Scoring single attribute risk")

	progress.report(0.15, "Calculating risk scores...")

	result := &SingleAttributeResult{
		Coverage: in.coverage,
		Columns:  in.columns,
		Scores:   make(map[string][]float64, len(in.columns)),
		Rows:     in.rows,
	}

	for idx, col := range in.columns {
		progress.report(0.15+0.55*float64(idx)/float64(len(in.columns)),
			fmt.Sprintf("Calculating risk scores for %s (%d/%d)", col, idx+1, len(in.columns)))

		scores, err := m.scoreColumn(ctx, in, col)
		if err != nil {
			return nil, err
		}
		result.Scores[col] = scores
	}

	progress.report(0.70, "Risk scores calculated")
	return result, nil
}

// ScoreMultiple chains the evaluated columns in the given order. For each
// consecutive pair (a, b) the row's private probability is multiplied by
//
//	start_a * obs_a * count(a, b) / count(a) * obs_b
//
// and the row risk is round(1 - private, 2). With a single column the
// result equals ScoreSingle for that column.
func (m *MarkovRiskScorer) ScoreMultiple(ctx context.Context, ds *models.Dataset, idColumn string, evalColumns []string, progress ProgressFunc) (*MultipleAttributeResult, error) {
	progress.report(0.05, "Data validation & preprocessing...")

	in, err := m.prepare(ctx, ds, idColumn, evalColumns)
	if err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"dataset":      ds.Name,
		"id_column":    idColumn,
		"eval_columns": in.columns,
		"rows_used":    in.coverage.RowsUsed,
	}).Info("Scoring multiple attribute risk")

	progress.report(0.15, "Starting risk score calculations...")

	var scores []float64
	if len(in.columns) == 1 {
		scores, err = m.scoreColumn(ctx, in, in.columns[0])
	} else {
		scores, err = m.scoreChain(ctx, in, progress)
	}
	if err != nil {
		return nil, err
	}

	progress.report(0.75, "Calculating dataset privacy level...")

	return &MultipleAttributeResult{
		Coverage:    in.coverage,
		Columns:     in.columns,
		Scores:      scores,
		DatasetRisk: math.NormalizedNorm(scores),
		Rows:        in.rows,
	}, nil
}

func (m *MarkovRiskScorer) scoreColumn(ctx context.Context, in *scoringInput, col string) ([]float64, error) {
	codes := in.codes[col]
	n := len(codes)
	totals := countValues(codes)
	userTotals := countPairs(in.ids, codes)
	interval := m.checkInterval()

	scores := make([]float64, n)
	for j := 0; j < n; j++ {
		if j%interval == 0 {
			if err := checkContext(ctx); err != nil {
				return nil, err
			}
		}

		start, obs, err := startAndObservation(totals, userTotals, in.ids[j], codes[j], n, col)
		if err != nil {
			return nil, err
		}
		scores[j] = math.Round(1-start*obs, scorePrecision)
	}

	if !math.AllFinite(scores) {
		return nil, nonFiniteError(col)
	}
	return scores, nil
}

func (m *MarkovRiskScorer) scoreChain(ctx context.Context, in *scoringInput, progress ProgressFunc) ([]float64, error) {
	n := len(in.rows)
	interval := m.checkInterval()
	pairs := len(in.columns) - 1

	private := make([]float64, n)
	for j := range private {
		private[j] = 1
	}

	for i := 1; i < len(in.columns); i++ {
		colA, colB := in.columns[i-1], in.columns[i]
		progress.report(0.15+0.55*float64(i-1)/float64(pairs),
			fmt.Sprintf("Calculating transition %s -> %s (%d/%d)", colA, colB, i, pairs))

		codesA, codesB := in.codes[colA], in.codes[colB]
		totalsA, totalsB := countValues(codesA), countValues(codesB)
		userA, userB := countPairs(in.ids, codesA), countPairs(in.ids, codesB)
		joint := countPairs(codesA, codesB)

		for j := 0; j < n; j++ {
			if j%interval == 0 {
				if err := checkContext(ctx); err != nil {
					return nil, err
				}
			}

			startA, obsA, err := startAndObservation(totalsA, userA, in.ids[j], codesA[j], n, colA)
			if err != nil {
				return nil, err
			}
			_, obsB, err := startAndObservation(totalsB, userB, in.ids[j], codesB[j], n, colB)
			if err != nil {
				return nil, err
			}

			trans := float64(joint[pairKey{codesA[j], codesB[j]}]) / float64(totalsA[codesA[j]])
			private[j] *= startA * obsA * trans * obsB
		}
	}

	scores := make([]float64, n)
	for j, p := range private {
		scores[j] = math.Round(1-p, scorePrecision)
	}

	if !math.AllFinite(scores) {
		return nil, nonFiniteError(strings.Join(in.columns, ","))
	}
	return scores, nil
}

func startAndObservation(totals map[int]int, userTotals map[pairKey]int, id, code, n int, col string) (float64, float64, error) {
	total := totals[code]
	if total == 0 || n == 0 {
		return 0, 0, errors.NewProcessingError(errors.CodeDivisionByZero,
			fmt.Sprintf("Division by zero while scoring column '%s'.", col)).
			WithContext("column", col)
	}

	start := float64(total) / float64(n)
	obs := 1 - float64(userTotals[pairKey{id, code}])/float64(total)
	return start, obs, nil
}

// prepare validates the selection before any scoring, in this order: dataset,
// column selection, identifier, cardinality, cleaning, quality, degeneracy.
func (m *MarkovRiskScorer) prepare(ctx context.Context, ds *models.Dataset, idColumn string, evalColumns []string) (*scoringInput, error) {
	config := *m.config

	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	if ds.IsEmpty() {
		return nil, errors.NewValidationError(errors.CodeEmptyDataset,
			"Dataset is empty. Please upload a dataset with data.")
	}

	columns := models.CleanColumnList(evalColumns)
	if len(columns) == 0 {
		return nil, errors.NewSelectionError(errors.CodeNoColumnsSelected, "No valid quasi-identifiers provided.")
	}
	if missing := ds.MissingColumns(columns...); len(missing) > 0 {
		return nil, errors.NewValidationError(errors.CodeColumnNotFound,
			fmt.Sprintf("Quasi-identifier columns not found in dataset: %s", strings.Join(missing, ", "))).
			WithContext("columns", missing)
	}

	idColumn = strings.TrimSpace(idColumn)
	if idColumn == "" {
		return nil, errors.NewSelectionError(errors.CodeNoColumnsSelected, "No ID column selected.")
	}
	idCol, ok := ds.Column(idColumn)
	if !ok {
		return nil, errors.NewValidationError(errors.CodeColumnNotFound,
			fmt.Sprintf("ID column '%s' not found in dataset.", idColumn)).
			WithContext("columns", []string{idColumn})
	}
	// A missing id counts as a duplicate.
	if idCol.MissingCount() > 0 || idCol.Distinct() != ds.NumRows() {
		return nil, errors.NewValidationError(errors.CodeNonUniqueIdentifier,
			fmt.Sprintf("ID column '%s' must contain unique values for each row.", idColumn))
	}

	evalCols := lookupColumns(ds, columns)
	var numeric []string
	for _, col := range evalCols {
		if col.Type == models.ColumnTypeNumeric && col.Distinct() > config.MaxCategoricalCardinality {
			numeric = append(numeric, col.Name)
		}
	}
	if len(numeric) > 0 {
		return nil, errors.NewValidationError(errors.CodeNotCategorical,
			fmt.Sprintf("Columns %s appear to be numerical with too many unique values. Quasi-identifiers should be categorical.",
				strings.Join(numeric, ", "))).
			WithContext("columns", numeric)
	}

	all := append([]*models.Column{idCol}, evalCols...)
	var rows []int
	for row := 0; row < ds.NumRows(); row++ {
		if presentInAll(all, row) {
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return nil, errors.NewDataError(errors.CodeEmptyAfterCleaning,
			"After removing missing values, no data remains. Please check your data quality or select different columns.")
	}

	coverage := Coverage{
		RowsUsed:    len(rows),
		RowsDropped: ds.NumRows() - len(rows),
	}
	warning, err := config.QualityPolicy.Evaluate(ds.NumRows(), len(rows))
	if err != nil {
		return nil, err
	}
	if warning != "" {
		coverage.Warnings = append(coverage.Warnings, warning)
		m.logger.WithField("dataset", ds.Name).Warn(warning)
	}

	in := &scoringInput{
		columns:  columns,
		ids:      encode(idCol, rows),
		codes:    make(map[string][]int, len(columns)),
		rows:     rows,
		coverage: coverage,
	}
	for _, col := range evalCols {
		codes := encode(col, rows)
		if len(countValues(codes)) < 2 {
			return nil, errors.NewValidationError(errors.CodeDegenerateColumn,
				fmt.Sprintf("Column '%s' has only one unique value, making risk assessment meaningless.", col.Name)).
				WithContext("column", col.Name)
		}
		in.codes[col.Name] = codes
	}

	return in, nil
}

func (m *MarkovRiskScorer) checkInterval() int {
	if m.config.CancelCheckInterval <= 0 {
		return constants.DefaultCancelCheckInterval
	}
	return m.config.CancelCheckInterval
}

type pairKey struct {
	a, b int
}

// encode maps the cell keys of rows to dense integer codes.
func encode(col *models.Column, rows []int) []int {
	dict := make(map[string]int)
	codes := make([]int, len(rows))
	for i, row := range rows {
		key, _ := col.Key(row)
		code, ok := dict[key]
		if !ok {
			code = len(dict)
			dict[key] = code
		}
		codes[i] = code
	}
	return codes
}

func countValues(codes []int) map[int]int {
	counts := make(map[int]int)
	for _, c := range codes {
		counts[c]++
	}
	return counts
}

func countPairs(a, b []int) map[pairKey]int {
	counts := make(map[pairKey]int)
	for i := range a {
		counts[pairKey{a[i], b[i]}]++
	}
	return counts
}

func nonFiniteError(col string) error {
	return errors.NewProcessingError(errors.CodeNonFiniteScore,
		fmt.Sprintf("Risk scores for '%s' contain non-finite values.", col))
}

func getDefaultMarkovRiskConfig() *MarkovRiskConfig {
	return &MarkovRiskConfig{
		MaxCategoricalCardinality: constants.MaxCategoricalCardinality,
		QualityPolicy:             DefaultDataQualityPolicy(),
		CancelCheckInterval:       constants.DefaultCancelCheckInterval,
	}
}
