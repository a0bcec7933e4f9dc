package snapshotfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Ramsey-B/clover/pkg/models"
)

const poleMapping = `
entity_type: pole
columns:
  business_key: Pole Number
  status: Status
  timestamps:
    status_changed_at: Status Date
    last_modified_at: Modified
numeric: [height_ft]
`

func mustMapping(t *testing.T, raw string) *Mapping {
	t.Helper()
	m, err := ParseMapping([]byte(raw))
	require.NoError(t, err)
	return m
}

func TestReadCSV(t *testing.T) {
	payload := "\xEF\xBB\xBFPole Number, Status,Status Date,Modified,Height (ft),Region\n" +
		"P100,Requested,2024-01-01,,35,North\n" +
		",,,,,\n" +
		"P101,Installed,,2024-02-03T10:00:00Z,,South\n"

	batch, err := Read("export.csv", []byte(payload), mustMapping(t, poleMapping), "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", batch.ID)
	require.Len(t, batch.Observations, 2)

	first := batch.Observations[0]
	assert.Equal(t, "P100", first.BusinessKey)
	assert.Equal(t, "pole", first.EntityType)
	assert.Equal(t, "Requested", first.Status)
	assert.Equal(t, map[models.TimestampField]string{models.TimestampStatusChanged: "2024-01-01"}, first.Timestamps)
	assert.Equal(t, map[string]any{"height_ft": int64(35), "region": "North"}, first.Attributes)

	second := batch.Observations[1]
	assert.Nil(t, second.Attributes["height_ft"])
	assert.Equal(t, "2024-02-03T10:00:00Z", second.Timestamps[models.TimestampLastModified])
}

func TestReadExplicitAttributes(t *testing.T) {
	m := mustMapping(t, `
columns:
  business_key: key
  entity_type: kind
attributes:
  Owner: owner
  Code: ""
numeric: [code]
`)
	payload := "key\tkind\tOwner\tCode\tIgnored\nA1\tpole\tkim\t555.5\tx\n"

	batch, err := Read("export.tsv", []byte(payload), m, "b2")
	require.NoError(t, err)
	require.Len(t, batch.Observations, 1)
	assert.Equal(t, "pole", batch.Observations[0].EntityType)
	assert.Equal(t, map[string]any{"owner": "kim", "code": 555.5}, batch.Observations[0].Attributes)
}

func TestReadExcel(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Pole Number", "Status", "Status Date", "Modified"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"P200", "Designed", "2024-03-01", ""}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	batch, err := Read("export.xlsx", buf.Bytes(), mustMapping(t, poleMapping), "b3")
	require.NoError(t, err)
	require.Len(t, batch.Observations, 1)
	assert.Equal(t, "P200", batch.Observations[0].BusinessKey)
	assert.Equal(t, "Designed", batch.Observations[0].Status)
}

func TestReadRelationships(t *testing.T) {
	m := mustMapping(t, `
kind: relationships
relationship_type: serves
columns:
  from_key: Pole
  to_key: Address
  to_type: Kind
`)
	payload := "Pole,Address,Kind\nP1,A1,address\nP1,A2,address\n"

	batch, err := Read("links.csv", []byte(payload), m, "rels")
	require.NoError(t, err)
	assert.Empty(t, batch.Observations)
	assert.Equal(t, []models.Relationship{
		{Type: "serves", FromKey: "P1", ToKey: "A1", ToType: "address"},
		{Type: "serves", FromKey: "P1", ToKey: "A2", ToType: "address"},
	}, batch.Relationships)
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		payload string
		wantErr error
	}{
		{name: "unsupported extension", file: "export.json", payload: "{}", wantErr: ErrUnsupportedFormat},
		{name: "missing mapped column", file: "export.csv", payload: "Key,Status\nP1,Requested\n", wantErr: ErrMissingColumn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(tt.file, []byte(tt.payload), mustMapping(t, poleMapping), "b")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseMapping(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "no business key", raw: "columns: {status: Status}"},
		{name: "unknown kind", raw: "kind: poles\ncolumns: {business_key: k}"},
		{name: "unknown timestamp", raw: "columns: {business_key: k, timestamps: {created_at: c}}"},
		{name: "relationship without type", raw: "kind: relationships\ncolumns: {from_key: a, to_key: b}"},
		{name: "malformed yaml", raw: "columns: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMapping([]byte(tt.raw))
			assert.ErrorIs(t, err, ErrInvalidMapping)
		})
	}
}
