package datasource

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/inferloop/aidrin/pkg/constants"
	"github.com/inferloop/aidrin/pkg/errors"
	"github.com/inferloop/aidrin/pkg/models"
)

// DefaultNAValues are the cell strings read as missing.
var DefaultNAValues = []string{"", "NA", "N/A", "NaN", "nan", "null", "NULL"}

// ObjectFetcher retrieves remote objects addressed by bucket and key.
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
}

// ReaderConfig configures dataset loading
type ReaderConfig struct {
	NAValues []string `json:"na_values" mapstructure:"na_values"`
	MaxBytes int64    `json:"max_bytes" mapstructure:"max_bytes"`
	BaseDir  string   `json:"base_dir" mapstructure:"base_dir"`
}

// Reader turns a FileDescriptor into a Dataset.
type Reader struct {
	config  *ReaderConfig
	fetcher ObjectFetcher
	logger  *logrus.Logger
	na      map[string]struct{}
}

// NewReader creates a reader. fetcher may be nil when only local paths are used.
func NewReader(config *ReaderConfig, fetcher ObjectFetcher, logger *logrus.Logger) *Reader {
	if config == nil {
		config = &ReaderConfig{}
	}
	if config.NAValues == nil {
		config.NAValues = DefaultNAValues
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = constants.MaxUploadSize
	}
	if logger == nil {
		logger = logrus.New()
	}

	na := make(map[string]struct{}, len(config.NAValues))
	for _, v := range config.NAValues {
		na[v] = struct{}{}
	}

	return &Reader{
		config:  config,
		fetcher: fetcher,
		logger:  logger,
		na:      na,
	}
}

// Read loads and parses the file. The declared type wins over the path
// extension.
func (r *Reader) Read(ctx context.Context, fd models.FileDescriptor) (*models.Dataset, error) {
	fileType := constants.NormalizeFileType(fd.Type)
	if fileType == "" {
		fileType = constants.NormalizeFileType(filepath.Ext(fd.Path))
	}
	if !constants.IsSupportedFileType(fileType) {
		return nil, errors.NewValidationError(errors.CodeUnsupportedFormat,
			fmt.Sprintf("Unsupported file type '%s'. Supported types are .csv, .tsv and .json.", fd.Type))
	}

	content, err := r.load(ctx, fd.Path)
	if err != nil {
		return nil, err
	}

	name := fd.DisplayName()
	var ds *models.Dataset
	switch fileType {
	case constants.FileTypeJSON:
		ds, err = r.parseJSON(name, content)
	case constants.FileTypeTSV:
		ds, err = r.parseDelimited(name, content, '\t')
	default:
		ds, err = r.parseDelimited(name, content, ',')
	}
	if err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"dataset": name,
		"type":    fileType,
		"rows":    ds.NumRows(),
		"columns": ds.NumColumns(),
	}).Debug("Dataset loaded")

	return ds, nil
}

func (r *Reader) load(ctx context.Context, path string) ([]byte, error) {
	if bucket, key, ok := ParseS3URI(path); ok {
		if r.fetcher == nil {
			return nil, errors.NewValidationError(errors.CodeInvalidInput,
				"S3 paths require an object store to be configured")
		}
		content, err := r.fetcher.Fetch(ctx, bucket, key)
		if err != nil {
			return nil, err
		}
		if int64(len(content)) > r.config.MaxBytes {
			return nil, r.tooLarge()
		}
		return content, nil
	}

	path, err := r.resolve(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeData, errors.CodeReadFailed,
			fmt.Sprintf("Failed to open dataset '%s'", path))
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, r.config.MaxBytes+1))
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeData, errors.CodeReadFailed,
			fmt.Sprintf("Failed to read dataset '%s'", path))
	}
	if int64(len(content)) > r.config.MaxBytes {
		return nil, r.tooLarge()
	}
	return content, nil
}

// resolve confines local paths to BaseDir when one is configured.
func (r *Reader) resolve(path string) (string, error) {
	if r.config.BaseDir == "" {
		return path, nil
	}
	if filepath.IsAbs(path) {
		return "", errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("Dataset path '%s' must be relative to the data directory", path))
	}

	joined := filepath.Join(r.config.BaseDir, path)
	rel, err := filepath.Rel(r.config.BaseDir, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("Dataset path '%s' escapes the data directory", path))
	}
	return joined, nil
}

func (r *Reader) tooLarge() error {
	return errors.NewValidationError(errors.CodeInvalidInput,
		fmt.Sprintf("Dataset exceeds the maximum size of %d bytes", r.config.MaxBytes))
}

func (r *Reader) parseDelimited(name string, content []byte, comma rune) (*models.Dataset, error) {
	cr := csv.NewReader(bytes.NewReader(content))
	cr.Comma = comma
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeData, errors.CodeReadFailed,
			"Failed to parse delimited file")
	}
	if len(records) == 0 {
		return nil, errors.NewValidationError(errors.CodeEmptyDataset, "Input dataset is empty.")
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	rows := make([][]interface{}, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make([]interface{}, len(record))
		for i, cell := range record {
			row[i] = r.cell(cell)
		}
		rows = append(rows, row)
	}

	return models.FromRows(name, header, rows)
}

// parseJSON accepts an array of records or a column-oriented object whose
// values are arrays or index-keyed objects.
func (r *Reader) parseJSON(name string, content []byte) (*models.Dataset, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, errors.NewValidationError(errors.CodeEmptyDataset, "Input dataset is empty.")
	}

	if trimmed[0] == '[' {
		return r.parseRecords(name, trimmed)
	}
	return r.parseColumns(name, trimmed)
}

func (r *Reader) parseRecords(name string, content []byte) (*models.Dataset, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, jsonError(err)
	}

	var header []string
	seen := make(map[string]bool)
	records := make([]map[string]interface{}, len(raw))

	for i, item := range raw {
		keys, err := objectKeys(item)
		if err != nil {
			return nil, jsonError(err)
		}
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				header = append(header, k)
			}
		}
		if err := json.Unmarshal(item, &records[i]); err != nil {
			return nil, jsonError(err)
		}
	}

	rows := make([][]interface{}, len(records))
	for i, record := range records {
		row := make([]interface{}, len(header))
		for c, col := range header {
			row[c] = r.value(record[col])
		}
		rows[i] = row
	}

	return models.FromRows(name, header, rows)
}

func (r *Reader) parseColumns(name string, content []byte) (*models.Dataset, error) {
	header, err := objectKeys(content)
	if err != nil {
		return nil, jsonError(err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, jsonError(err)
	}

	columns := make([]*models.Column, 0, len(header))
	for _, col := range header {
		cells, err := columnCells(raw[col])
		if err != nil {
			return nil, jsonError(err)
		}
		for i, v := range cells {
			cells[i] = r.value(v)
		}
		columns = append(columns, models.NewColumn(col, cells))
	}

	return models.NewDataset(name, columns...)
}

func columnCells(raw json.RawMessage) ([]interface{}, error) {
	var list []interface{}
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var indexed map[string]interface{}
	if err := json.Unmarshal(raw, &indexed); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(indexed))
	for k := range indexed {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return cast.ToInt(keys[i]) < cast.ToInt(keys[j])
	})

	cells := make([]interface{}, len(keys))
	for i, k := range keys {
		cells[i] = indexed[k]
	}
	return cells, nil
}

// objectKeys returns the keys of a JSON object in document order.
func objectKeys(raw []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected a JSON object")
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (r *Reader) cell(s string) interface{} {
	if _, ok := r.na[strings.TrimSpace(s)]; ok {
		return nil
	}
	return s
}

func (r *Reader) value(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return r.cell(val)
	case map[string]interface{}, []interface{}:
		encoded, err := json.Marshal(val)
		if err != nil {
			return nil
		}
		return string(encoded)
	default:
		return val
	}
}

func jsonError(err error) error {
	return errors.WrapError(err, errors.ErrorTypeData, errors.CodeReadFailed, "Failed to parse JSON dataset")
}
