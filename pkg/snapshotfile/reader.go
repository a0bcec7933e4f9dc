// Package snapshotfile turns delimited and spreadsheet exports into observation batches.
package snapshotfile

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Ramsey-B/clover/pkg/models"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrMissingColumn     = errors.New("mapped column not found in header")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
	slugPattern   = regexp.MustCompile(`[^a-z0-9]+`)
)

type table struct {
	headers []string
	rows    [][]string
}

func (t table) column(name string) (int, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	for i, h := range t.headers {
		if strings.ToLower(strings.TrimSpace(h)) == want {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrMissingColumn, name)
}

// optional resolves a column that may be left unmapped.
func (t table) optional(name string) (int, error) {
	if name == "" {
		return -1, nil
	}
	return t.column(name)
}

// ReadFile reads path into a batch whose ID is the file name.
func ReadFile(path string, m *Mapping) (models.Batch, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return models.Batch{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Read(filepath.Base(path), payload, m, filepath.Base(path))
}

// Read parses payload by the extension of name.
func Read(name string, payload []byte, m *Mapping, batchID string) (models.Batch, error) {
	t, err := parseTable(name, payload, m.Sheet)
	if err != nil {
		return models.Batch{}, err
	}

	batch := models.Batch{ID: batchID}
	switch m.Kind {
	case KindRelationships:
		batch.Relationships, err = relationships(t, m)
	default:
		batch.Observations, err = observations(t, m)
	}
	if err != nil {
		return models.Batch{}, fmt.Errorf("%s: %w", name, err)
	}
	return batch, nil
}

func observations(t table, m *Mapping) ([]models.RawObservation, error) {
	keyCol, err := t.column(m.Columns.BusinessKey)
	if err != nil {
		return nil, err
	}
	typeCol, err := t.optional(m.Columns.EntityType)
	if err != nil {
		return nil, err
	}
	statusCol, err := t.optional(m.Columns.Status)
	if err != nil {
		return nil, err
	}
	sourceCol, err := t.optional(m.Columns.SourceID)
	if err != nil {
		return nil, err
	}
	tsCols := make(map[models.TimestampField]int, len(m.Columns.Timestamps))
	for field, header := range m.Columns.Timestamps {
		idx, err := t.column(header)
		if err != nil {
			return nil, err
		}
		tsCols[field] = idx
	}

	used := map[int]bool{keyCol: true, typeCol: true, statusCol: true, sourceCol: true}
	for _, idx := range tsCols {
		used[idx] = true
	}
	attrCols, err := attributeColumns(t, m, used)
	if err != nil {
		return nil, err
	}
	numeric := make(map[string]bool, len(m.Numeric))
	for _, n := range m.Numeric {
		numeric[n] = true
	}

	out := make([]models.RawObservation, 0, len(t.rows))
	for _, row := range t.rows {
		obs := models.RawObservation{
			BusinessKey: cell(row, keyCol),
			EntityType:  cell(row, typeCol),
			Status:      cell(row, statusCol),
			SourceID:    cell(row, sourceCol),
			Attributes:  make(map[string]any, len(attrCols)),
		}
		if obs.EntityType == "" {
			obs.EntityType = m.EntityType
		}
		if len(tsCols) > 0 {
			obs.Timestamps = make(map[models.TimestampField]string, len(tsCols))
			for field, idx := range tsCols {
				if v := cell(row, idx); v != "" {
					obs.Timestamps[field] = v
				}
			}
		}
		for idx, name := range attrCols {
			obs.Attributes[name] = attributeValue(cell(row, idx), numeric[name])
		}
		out = append(out, obs)
	}
	return out, nil
}

func relationships(t table, m *Mapping) ([]models.Relationship, error) {
	fromCol, err := t.column(m.Columns.FromKey)
	if err != nil {
		return nil, err
	}
	toCol, err := t.column(m.Columns.ToKey)
	if err != nil {
		return nil, err
	}
	typeCol, err := t.optional(m.Columns.Type)
	if err != nil {
		return nil, err
	}
	fromTypeCol, err := t.optional(m.Columns.FromType)
	if err != nil {
		return nil, err
	}
	toTypeCol, err := t.optional(m.Columns.ToType)
	if err != nil {
		return nil, err
	}
	sourceCol, err := t.optional(m.Columns.SourceID)
	if err != nil {
		return nil, err
	}

	out := make([]models.Relationship, 0, len(t.rows))
	for _, row := range t.rows {
		rel := models.Relationship{
			Type:     cell(row, typeCol),
			FromKey:  cell(row, fromCol),
			FromType: cell(row, fromTypeCol),
			ToKey:    cell(row, toCol),
			ToType:   cell(row, toTypeCol),
			SourceID: cell(row, sourceCol),
		}
		if rel.Type == "" {
			rel.Type = m.RelationshipType
		}
		out = append(out, rel)
	}
	return out, nil
}

// attributeColumns maps column index to attribute name.
func attributeColumns(t table, m *Mapping, used map[int]bool) (map[int]string, error) {
	cols := make(map[int]string)
	if len(m.Attributes) > 0 {
		for header, name := range m.Attributes {
			idx, err := t.column(header)
			if err != nil {
				return nil, err
			}
			if name == "" {
				name = slugify(header)
			}
			cols[idx] = name
		}
		return cols, nil
	}

	seen := make(map[string]int)
	for idx, header := range t.headers {
		if used[idx] {
			continue
		}
		name := slugify(header)
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 1
		}
		cols[idx] = name
	}
	return cols, nil
}

// attributeValue keeps blank cells as null so they are distinct from "".
func attributeValue(raw string, numeric bool) any {
	if raw == "" {
		return nil
	}
	if numeric {
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	return raw
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func slugify(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	return strings.Trim(slugPattern.ReplaceAllString(value, "_"), "_")
}

func parseTable(name string, payload []byte, sheet string) (table, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".csv", ".txt":
		return parseCSV(payload, ',')
	case ".tsv":
		return parseCSV(payload, '\t')
	case ".xlsx":
		return parseExcel(payload, sheet)
	default:
		return table{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte, comma rune) (table, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.Comma = comma
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return table{}, fmt.Errorf("failed to read csv: %w", err)
	}
	return normalizeTable(records)
}

func parseExcel(payload []byte, sheet string) (table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return table{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return table{}, errors.New("excel file has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return table{}, fmt.Errorf("failed to read rows from sheet %q: %w", sheet, err)
	}
	return normalizeTable(rows)
}

// normalizeTable takes the first non-blank row as the header and drops blank rows.
func normalizeTable(records [][]string) (table, error) {
	var t table
	for _, row := range records {
		if blank(row) {
			continue
		}
		if t.headers == nil {
			t.headers = row
			continue
		}
		t.rows = append(t.rows, row)
	}
	if t.headers == nil {
		return table{}, errors.New("no rows found in file")
	}
	return t, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
