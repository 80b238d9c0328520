package privacy

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aidrin/pkg/models"
)

type LDiversityConfig struct {
	QualityPolicy DataQualityPolicy `json:"quality_policy" mapstructure:"quality_policy"`
}

type LDiversityProcessor struct {
	config *LDiversityConfig
	logger *logrus.Logger
}

// LDiversityResult carries l and the distinct sensitive-value count of every
// equivalence class.
type LDiversityResult struct {
	Coverage
	L            int           `json:"l"`
	Diversities  []int         `json:"diversities"`
	Partitioning *Partitioning `json:"-"`
}

func NewLDiversityProcessor(config *LDiversityConfig, logger *logrus.Logger) *LDiversityProcessor {
	if config == nil {
		config = getDefaultLDiversityConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &LDiversityProcessor{
		config: config,
		logger: logger,
	}
}

// Compute returns the minimum number of distinct sensitive values found in
// any equivalence class. Rows missing the sensitive value are dropped too.
func (l *LDiversityProcessor) Compute(ctx context.Context, ds *models.Dataset, quasiIdentifiers []string, sensitive string) (*LDiversityResult, error) {
	policy := l.config.QualityPolicy

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

	l.logger.WithFields(logrus.Fields{
		"dataset":           ds.Name,
		"quasi_identifiers": p.QuasiIdentifiers,
		"sensitive":         sensitive,
		"classes":           len(p.Classes),
	}).Info("Computing l-diversity")

	col, _ := ds.Column(sensitive)
	diversities := make([]int, len(p.Classes))
	for i, class := range p.Classes {
		seen := make(map[string]struct{})
		for _, row := range class.Rows {
			key, _ := col.Key(row)
			seen[key] = struct{}{}
		}
		diversities[i] = len(seen)
	}

	lValue := diversities[0]
	for _, d := range diversities[1:] {
		if d < lValue {
			lValue = d
		}
	}

	return &LDiversityResult{
		Coverage:     coverage,
		L:            lValue,
		Diversities:  diversities,
		Partitioning: p,
	}, nil
}

func getDefaultLDiversityConfig() *LDiversityConfig {
	return &LDiversityConfig{
		QualityPolicy: DefaultDataQualityPolicy(),
	}
}
