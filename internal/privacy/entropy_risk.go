package privacy

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aidrin/pkg/models"
)

type EntropyRiskConfig struct {
	QualityPolicy DataQualityPolicy `json:"quality_policy" mapstructure:"quality_policy"`
}

type EntropyRiskProcessor struct {
	config *EntropyRiskConfig
	logger *logrus.Logger
}

// EntropyRiskResult carries the dataset entropy and the entropy of every
// equivalence class.
type EntropyRiskResult struct {
	Coverage
	Entropy        float64       `json:"entropy"`
	ClassEntropies []float64     `json:"class_entropies"`
	Partitioning   *Partitioning `json:"-"`
}

func NewEntropyRiskProcessor(config *EntropyRiskConfig, logger *logrus.Logger) *EntropyRiskProcessor {
	if config == nil {
		config = &EntropyRiskConfig{QualityPolicy: DefaultDataQualityPolicy()}
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &EntropyRiskProcessor{
		config: config,
		logger: logger,
	}
}

// Compute returns the mean per-row identification entropy. Every row in a
// class of n rows is uniformly indistinguishable among n, so the class has
// entropy log2(n) and the headline weights it by its n rows:
// sum(n * log2(n)) / rows. A single class of N rows yields log2(N).
func (e *EntropyRiskProcessor) Compute(ctx context.Context, ds *models.Dataset, quasiIdentifiers []string) (*EntropyRiskResult, error) {
	policy := e.config.QualityPolicy

	p, coverage, err := partitionWithPolicy(ctx, ds, quasiIdentifiers, policy)
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"dataset":           ds.Name,
		"quasi_identifiers": p.QuasiIdentifiers,
		"classes":           len(p.Classes),
	}).Info("Computing entropy risk")

	entropies := make([]float64, len(p.Classes))
	total := 0.0
	for i, class := range p.Classes {
		size := float64(class.Size())
		entropies[i] = math.Log2(size)
		total += size * entropies[i]
	}

	return &EntropyRiskResult{
		Coverage:       coverage,
		Entropy:        total / float64(len(p.Rows)),
		ClassEntropies: entropies,
		Partitioning:   p,
	}, nil
}
