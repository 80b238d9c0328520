package privacy

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/inferloop/aidrin/pkg/errors"
	"github.com/inferloop/aidrin/pkg/models"
)

func randomDataset(t *testing.T, seed int64, rows int) *models.Dataset {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	zips := []string{"02139", "02140", "10001", "?"}
	diseases := []string{"flu", "cold", "covid", "asthma"}

	data := make([][]interface{}, rows)
	for i := range data {
		data[i] = []interface{}{
			zips[rng.Intn(len(zips))],
			fmt.Sprintf("%d0s", 2+rng.Intn(4)),
			diseases[rng.Intn(len(diseases))],
		}
	}
	return mustDataset(t, []string{"zip", "age", "disease"}, data...)
}

func TestKAnonymityIdenticalRows(t *testing.T) {
	rows := make([][]interface{}, 5)
	for i := range rows {
		rows[i] = []interface{}{"02139", 34, "flu"}
	}
	ds := mustDataset(t, []string{"zip", "age", "disease"}, rows...)

	result, err := NewKAnonymityProcessor(nil, logrus.New()).Compute(context.Background(), ds, []string{"zip", "age"})
	require.NoError(t, err)
	assert.Equal(t, 5, result.K)
	assert.Equal(t, []int{5}, result.ClassSizes)
	assert.Equal(t, 5, result.RowsUsed)
}

func TestKAnonymityDistinctRows(t *testing.T) {
	ds := mustDataset(t, []string{"zip", "age"},
		[]interface{}{"02139", 34},
		[]interface{}{"10001", 51},
	)

	result, err := NewKAnonymityProcessor(nil, nil).Compute(context.Background(), ds, []string{"zip", "age"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.K)
}

func TestKAnonymityCommaInColumnName(t *testing.T) {
	ds := mustDataset(t, []string{"City, State", "age"},
		[]interface{}{"Austin, TX", 34},
		[]interface{}{"Austin, TX", 51},
		[]interface{}{"Boston, MA", 29},
		[]interface{}{"Boston, MA", 40},
	)

	result, err := NewKAnonymityProcessor(nil, nil).Compute(context.Background(), ds, []string{"City, State"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.K)
	assert.Equal(t, []int{2, 2}, result.ClassSizes)
}

func TestProcessorsAreSharedAcrossGoroutines(t *testing.T) {
	ds := randomDataset(t, 7, 200)
	qi := []string{"zip", "age"}
	k := NewKAnonymityProcessor(nil, nil)
	l := NewLDiversityProcessor(nil, nil)

	wantK, err := k.Compute(context.Background(), ds, qi)
	require.NoError(t, err)
	wantL, err := l.Compute(context.Background(), ds, qi, "disease")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gotK, err := k.Compute(context.Background(), ds, qi)
			if err == nil && gotK.K != wantK.K {
				err = fmt.Errorf("k = %d, want %d", gotK.K, wantK.K)
			}
			errs <- err
			gotL, err := l.Compute(context.Background(), ds, qi, "disease")
			if err == nil && gotL.L != wantL.L {
				err = fmt.Errorf("l = %d, want %d", gotL.L, wantL.L)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestKAnonymityEmptyDataset(t *testing.T) {
	ds, err := models.NewDataset("empty", models.NewStringColumn("zip"))
	require.NoError(t, err)

	_, err = NewKAnonymityProcessor(nil, nil).Compute(context.Background(), ds, []string{"zip"})
	assert.ErrorIs(t, err, apperrors.ErrEmptyDataset)
}

func TestKAnonymityBounds(t *testing.T) {
	processor := NewKAnonymityProcessor(nil, nil)
	for seed := int64(1); seed <= 20; seed++ {
		ds := randomDataset(t, seed, 40)
		result, err := processor.Compute(context.Background(), ds, []string{"zip", "age"})
		require.NoError(t, err)

		assert.GreaterOrEqual(t, result.K, 1)
		assert.LessOrEqual(t, result.K, result.RowsUsed)
		assert.Equal(t, len(result.ClassSizes) == 1, result.K == result.RowsUsed)
	}
}

func TestKAnonymityQualityPolicy(t *testing.T) {
	ds := mustDataset(t, []string{"zip"},
		[]interface{}{"A"}, []interface{}{"?"}, []interface{}{"?"}, []interface{}{nil},
	)

	result, err := NewKAnonymityProcessor(nil, nil).Compute(context.Background(), ds, []string{"zip"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.RowsDropped)
	require.Len(t, result.Warnings, 1)

	strict := NewKAnonymityProcessor(&KAnonymityConfig{
		QualityPolicy: DataQualityPolicy{MaxDroppedFraction: 0.5, Mode: QualityModeFail},
	}, nil)
	_, err = strict.Compute(context.Background(), ds, []string{"zip"})
	assert.ErrorIs(t, err, apperrors.ErrExcessiveMissing)
}

func TestLDiversityNoDiversity(t *testing.T) {
	ds := mustDataset(t, []string{"zip", "disease"},
		[]interface{}{"A", "flu"},
		[]interface{}{"A", "flu"},
		[]interface{}{"B", "cold"},
		[]interface{}{"B", "cold"},
	)

	result, err := NewLDiversityProcessor(nil, nil).Compute(context.Background(), ds, []string{"zip"}, "disease")
	require.NoError(t, err)
	assert.Equal(t, 1, result.L)
	assert.Equal(t, []int{1, 1}, result.Diversities)
}

func TestLDiversityBounds(t *testing.T) {
	processor := NewLDiversityProcessor(nil, nil)
	for seed := int64(1); seed <= 20; seed++ {
		ds := randomDataset(t, seed, 40)
		result, err := processor.Compute(context.Background(), ds, []string{"zip"}, "disease")
		require.NoError(t, err)

		col, _ := ds.Column("disease")
		global := NewDistribution(sensitiveLabels(col, result.Partitioning.Rows))
		assert.GreaterOrEqual(t, result.L, 1)
		assert.LessOrEqual(t, result.L, len(global))
	}
}

func TestLDiversitySensitiveColumn(t *testing.T) {
	ds := mustDataset(t, []string{"zip", "disease"},
		[]interface{}{"A", "flu"},
		[]interface{}{"A", "?"},
		[]interface{}{"A", "cold"},
	)
	processor := NewLDiversityProcessor(nil, nil)

	result, err := processor.Compute(context.Background(), ds, []string{"zip"}, "disease")
	require.NoError(t, err)
	assert.Equal(t, 2, result.L)
	assert.Equal(t, 1, result.RowsDropped)

	_, err = processor.Compute(context.Background(), ds, []string{"zip"}, "diagnosis")
	assert.ErrorIs(t, err, apperrors.ErrSensitiveMissing)

	_, err = processor.Compute(context.Background(), ds, []string{"zip"}, "")
	assert.ErrorIs(t, err, apperrors.ErrNoColumnsSelected)

	_, err = processor.Compute(context.Background(), ds, []string{"postcode"}, "diagnosis")
	assert.ErrorIs(t, err, apperrors.ErrColumnNotFound, "quasi-identifiers are checked first")
}

func TestTClosenessIndependentColumn(t *testing.T) {
	ds := mustDataset(t, []string{"gender", "disease"},
		[]interface{}{"M", "flu"},
		[]interface{}{"F", "flu"},
		[]interface{}{"M", "cold"},
		[]interface{}{"F", "cold"},
	)

	result, err := NewTClosenessProcessor(nil, nil).Compute(context.Background(), ds, []string{"gender"}, "disease")
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.T)
	assert.Equal(t, []float64{0, 0}, result.Distances)
}

func TestTClosenessCorrelatedColumn(t *testing.T) {
	ds := mustDataset(t, []string{"ward", "disease"},
		[]interface{}{"a", "flu"},
		[]interface{}{"a", "flu"},
		[]interface{}{"b", "cold"},
		[]interface{}{"b", "cold"},
	)

	result, err := NewTClosenessProcessor(nil, nil).Compute(context.Background(), ds, []string{"ward"}, "disease")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, result.T, 1e-12)
	assert.Equal(t, Distribution{"flu": 0.5, "cold": 0.5}, result.Global)
}

func TestTClosenessBounds(t *testing.T) {
	processor := NewTClosenessProcessor(nil, nil)
	for seed := int64(1); seed <= 20; seed++ {
		result, err := processor.Compute(context.Background(), randomDataset(t, seed, 30), []string{"zip", "age"}, "disease")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, result.T, 0.0)
		assert.LessOrEqual(t, result.T, 1.0)
	}
}

func TestEntropyRiskSingleClass(t *testing.T) {
	for _, n := range []int{1, 4, 5, 17} {
		rows := make([][]interface{}, n)
		for i := range rows {
			rows[i] = []interface{}{"same"}
		}
		ds := mustDataset(t, []string{"zip"}, rows...)

		result, err := NewEntropyRiskProcessor(nil, nil).Compute(context.Background(), ds, []string{"zip"})
		require.NoError(t, err)
		assert.InDelta(t, math.Log2(float64(n)), result.Entropy, 1e-12, "n=%d", n)
	}
}

func TestEntropyRiskMonotonicInClassSize(t *testing.T) {
	groupings := [][]string{
		{"a", "b", "c", "d", "e", "f"},
		{"a", "b", "c", "c", "d", "d"},
		{"a", "a", "b", "b", "c", "c"},
		{"a", "a", "a", "b", "b", "b"},
		{"a", "a", "a", "a", "a", "a"},
	}

	processor := NewEntropyRiskProcessor(nil, nil)
	previous := -1.0
	for _, labels := range groupings {
		ds, err := models.NewDataset("g", models.NewStringColumn("qi", labels...))
		require.NoError(t, err)

		result, err := processor.Compute(context.Background(), ds, []string{"qi"})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, result.Entropy, previous, "labels %v", labels)
		previous = result.Entropy
	}

	assert.InDelta(t, math.Log2(6), previous, 1e-12)
}

func TestEntropyRiskUniqueRows(t *testing.T) {
	ds, err := models.NewDataset("u", models.NewStringColumn("qi", "a", "b", "c"))
	require.NoError(t, err)

	result, err := NewEntropyRiskProcessor(nil, nil).Compute(context.Background(), ds, []string{"qi"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Entropy)
	assert.Equal(t, []float64{0, 0, 0}, result.ClassEntropies)
}

func TestGroupMetricCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewKAnonymityProcessor(nil, nil).Compute(ctx, randomDataset(t, 1, 10), []string{"zip"})
	require.Error(t, err)
	appErr := apperrors.AsAppError(err)
	assert.Equal(t, apperrors.ErrorTypeTimeout, appErr.Type)
	assert.Equal(t, apperrors.CodeCancelled, appErr.Code)
}
