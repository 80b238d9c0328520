package privacy

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aidrin/pkg/models"
)

type TClosenessConfig struct {
	QualityPolicy DataQualityPolicy `json:"quality_policy" mapstructure:"quality_policy"`
}

type TClosenessProcessor struct {
	config *TClosenessConfig
	logger *logrus.Logger
}

// TClosenessResult carries t and the distance of every equivalence class
// from the dataset-wide sensitive distribution.
type TClosenessResult struct {
	Coverage
	T            float64       `json:"t"`
	Distances    []float64     `json:"distances"`
	Global       Distribution  `json:"global_distribution"`
	Partitioning *Partitioning `json:"-"`
}

func NewTClosenessProcessor(config *TClosenessConfig, logger *logrus.Logger) *TClosenessProcessor {
	if config == nil {
		config = getDefaultTClosenessConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &TClosenessProcessor{
		config: config,
		logger: logger,
	}
}

// Compute returns the largest total variation distance between a class's
// sensitive distribution and the distribution over all cleaned rows.
func (t *TClosenessProcessor) Compute(ctx context.Context, ds *models.Dataset, quasiIdentifiers []string, sensitive string) (*TClosenessResult, error) {
	policy := t.config.QualityPolicy

	if _, err := validateSelection(ds, quasiIdentifiers); err != nil {
		return nil, err
	}
	sensitive, err := validateSensitive(ds, sensitive)
	if err != nil {
		return nil, err
	}

	p, coverage, err := partitionWithPolicy(ctx, ds, quasiIdentifiers, policy, sensitive)
	if err != nil {
		return nil, err
	}

	t.logger.WithFields(logrus.Fields{
		"dataset":           ds.Name,
		"quasi_identifiers": p.QuasiIdentifiers,
		"sensitive":         sensitive,
		"classes":           len(p.Classes),
	}).Info("Computing t-closeness")

	col, _ := ds.Column(sensitive)
	global := NewDistribution(sensitiveLabels(col, p.Rows))

	distances := make([]float64, len(p.Classes))
	maxDistance := 0.0
	for i, class := range p.Classes {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}
		distances[i] = TotalVariationDistance(NewDistribution(sensitiveLabels(col, class.Rows)), global)
		if distances[i] > maxDistance {
			maxDistance = distances[i]
		}
	}

	return &TClosenessResult{
		Coverage:     coverage,
		T:            maxDistance,
		Distances:    distances,
		Global:       global,
		Partitioning: p,
	}, nil
}

func sensitiveLabels(col *models.Column, rows []int) []string {
	labels := make([]string, 0, len(rows))
	for _, row := range rows {
		if key, ok := col.Key(row); ok {
			labels = append(labels, key)
		}
	}
	return labels
}

func getDefaultTClosenessConfig() *TClosenessConfig {
	return &TClosenessConfig{
		QualityPolicy: DefaultDataQualityPolicy(),
	}
}
