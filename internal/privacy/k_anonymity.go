package privacy

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aidrin/pkg/models"
)

type KAnonymityConfig struct {
	QualityPolicy DataQualityPolicy `json:"quality_policy" mapstructure:"quality_policy"`
}

type KAnonymityProcessor struct {
	config *KAnonymityConfig
	logger *logrus.Logger
}

// KAnonymityResult carries k and the size of every equivalence class.
type KAnonymityResult struct {
	Coverage
	K            int           `json:"k"`
	ClassSizes   []int         `json:"class_sizes"`
	Partitioning *Partitioning `json:"-"`
}

func NewKAnonymityProcessor(config *KAnonymityConfig, logger *logrus.Logger) *KAnonymityProcessor {
	if config == nil {
		config = getDefaultKAnonymityConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &KAnonymityProcessor{
		config: config,
		logger: logger,
	}
}

// Compute returns the size of the smallest equivalence class formed by the
// quasi-identifiers after rows with missing values are dropped.
func (k *KAnonymityProcessor) Compute(ctx context.Context, ds *models.Dataset, quasiIdentifiers []string) (*KAnonymityResult, error) {
	policy := k.config.QualityPolicy

	p, coverage, err := partitionWithPolicy(ctx, ds, quasiIdentifiers, policy)
	if err != nil {
		return nil, err
	}

	k.logger.WithFields(logrus.Fields{
		"dataset":           ds.Name,
		"quasi_identifiers": p.QuasiIdentifiers,
		"rows_used":         coverage.RowsUsed,
		"classes":           len(p.Classes),
	}).Info("Computing k-anonymity")

	sizes := p.ClassSizes()
	kValue := sizes[0]
	for _, size := range sizes[1:] {
		if size < kValue {
			kValue = size
		}
	}

	return &KAnonymityResult{
		Coverage:     coverage,
		K:            kValue,
		ClassSizes:   sizes,
		Partitioning: p,
	}, nil
}

func getDefaultKAnonymityConfig() *KAnonymityConfig {
	return &KAnonymityConfig{
		QualityPolicy: DefaultDataQualityPolicy(),
	}
}

// partitionWithPolicy partitions ds and applies the data-quality policy to
// the rows dropped during cleaning.
func partitionWithPolicy(ctx context.Context, ds *models.Dataset, quasiIdentifiers []string, policy DataQualityPolicy, required ...string) (*Partitioning, Coverage, error) {
	if err := checkContext(ctx); err != nil {
		return nil, Coverage{}, err
	}

	p, err := Partition(ds, quasiIdentifiers, required...)
	if err != nil {
		return nil, Coverage{}, err
	}

	coverage := Coverage{
		RowsUsed:    len(p.Rows),
		RowsDropped: p.DroppedRows,
	}

	warning, err := policy.Evaluate(p.TotalRows, len(p.Rows))
	if err != nil {
		return nil, Coverage{}, err
	}
	if warning != "" {
		coverage.Warnings = append(coverage.Warnings, warning)
	}

	return p, coverage, nil
}
