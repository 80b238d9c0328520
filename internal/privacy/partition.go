package privacy

import (
	"fmt"
	"strings"

	"github.com/inferloop/aidrin/pkg/errors"
	"github.com/inferloop/aidrin/pkg/models"
)

// classKeySeparator cannot appear in printable cell values.
const classKeySeparator = "\x1f"

// EquivalenceClass is the set of rows sharing one combination of
// quasi-identifier values.
type EquivalenceClass struct {
	Key    string
	Values []string
	Rows   []int
}

// Size returns the number of rows in the class.
func (c *EquivalenceClass) Size() int {
	return len(c.Rows)
}

// Partitioning is the result of grouping the cleaned rows of a dataset.
type Partitioning struct {
	QuasiIdentifiers []string
	Classes          []*EquivalenceClass
	Rows             []int
	TotalRows        int
	DroppedRows      int
}

// ClassSizes returns the size of every class in class order.
func (p *Partitioning) ClassSizes() []int {
	sizes := make([]int, len(p.Classes))
	for i, class := range p.Classes {
		sizes[i] = class.Size()
	}
	return sizes
}

// Partition groups the rows of ds by the values of quasiIdentifiers.
// Rows missing any quasi-identifier or any of the required columns are
// dropped first. Classes are returned in first-seen row order.
func Partition(ds *models.Dataset, quasiIdentifiers []string, required ...string) (*Partitioning, error) {
	qis, err := validateSelection(ds, quasiIdentifiers)
	if err != nil {
		return nil, err
	}
	if missing := ds.MissingColumns(required...); len(missing) > 0 {
		return nil, errors.NewValidationError(errors.CodeColumnNotFound,
			fmt.Sprintf("Columns not found in the dataset: %s", strings.Join(missing, ", ")))
	}

	qiCols := lookupColumns(ds, qis)
	requiredCols := lookupColumns(ds, required)

	p := &Partitioning{
		QuasiIdentifiers: qis,
		TotalRows:        ds.NumRows(),
	}
	index := make(map[string]*EquivalenceClass)
	values := make([]string, len(qiCols))

	for row := 0; row < ds.NumRows(); row++ {
		if !presentInAll(requiredCols, row) {
			continue
		}

		complete := true
		for i, col := range qiCols {
			key, ok := col.Key(row)
			if !ok {
				complete = false
				break
			}
			values[i] = key
		}
		if !complete {
			continue
		}

		key := strings.Join(values, classKeySeparator)
		class, exists := index[key]
		if !exists {
			class = &EquivalenceClass{
				Key:    key,
				Values: append([]string(nil), values...),
			}
			index[key] = class
			p.Classes = append(p.Classes, class)
		}
		class.Rows = append(class.Rows, row)
		p.Rows = append(p.Rows, row)
	}

	p.DroppedRows = p.TotalRows - len(p.Rows)
	if len(p.Rows) == 0 {
		return nil, errors.NewDataError(errors.CodeEmptyAfterCleaning,
			"No data left after dropping rows with missing values.")
	}

	return p, nil
}

func lookupColumns(ds *models.Dataset, names []string) []*models.Column {
	cols := make([]*models.Column, 0, len(names))
	for _, name := range names {
		if col, ok := ds.Column(name); ok {
			cols = append(cols, col)
		}
	}
	return cols
}

func presentInAll(cols []*models.Column, row int) bool {
	for _, col := range cols {
		if col.IsMissing(row) {
			return false
		}
	}
	return true
}
