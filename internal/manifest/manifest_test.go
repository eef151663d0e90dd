package manifest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imageflow/internal/models"
)

type captureSink struct {
	calls   int
	entries []models.ProductEntry
	err     error
}

func (s *captureSink) BulkInsertEntries(_ context.Context, entries []models.ProductEntry) error {
	s.calls++
	s.entries = entries
	return s.err
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:  "exact header",
			input: "SerialNumber,ProductCode,UnprocessedImageUrls\n",
		},
		{
			name:  "header with BOM",
			input: "\ufeffSerialNumber,ProductCode,UnprocessedImageUrls\n",
		},
		{
			name:    "wrong order",
			input:   "ProductCode,SerialNumber,UnprocessedImageUrls\n",
			wantErr: true,
		},
		{
			name:    "missing column",
			input:   "SerialNumber,ProductCode\n",
			wantErr: true,
		},
		{
			name:    "extra column",
			input:   "SerialNumber,ProductCode,UnprocessedImageUrls,Extra\n",
			wantErr: true,
		},
		{
			name:    "renamed column",
			input:   "SerialNumber,ProductID,UnprocessedImageUrls\n",
			wantErr: true,
		},
		{
			name:    "empty file",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(strings.NewReader(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateReportsOffendingHeader(t *testing.T) {
	err := Validate(strings.NewReader("Foo,Bar,Baz\n"))
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, []string{"Foo", "Bar", "Baz"}, schemaErr.Header)
}

func TestIngestExpandsRows(t *testing.T) {
	input := "SerialNumber,ProductCode,UnprocessedImageUrls\n" +
		"S1,P1,https://a/1.jpg\n" +
		`S2,P2,"https://a/2.jpg,https://a/3.jpg"` + "\n"

	sink := &captureSink{}
	requestID := uuid.New()
	entries, err := Ingest(context.Background(), sink, requestID, strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, sink.calls)
	assert.Equal(t, entries, sink.entries)

	assert.Equal(t, "P1", entries[0].ProductCode)
	assert.Equal(t, "S1", entries[0].SerialNo)
	assert.Equal(t, []string{"https://a/1.jpg"}, entries[0].ImageURLs)
	assert.Equal(t, models.StatusPending, entries[0].Status)
	assert.Equal(t, requestID, entries[0].RequestID)

	assert.Equal(t, []string{"https://a/2.jpg", "https://a/3.jpg"}, entries[1].ImageURLs)
}

func TestIngestUnquotedURLList(t *testing.T) {
	// Without quoting, the URL list spills into extra CSV fields; every
	// field from the third onward is part of the list.
	input := "SerialNumber,ProductCode,UnprocessedImageUrls\n" +
		"S1,P1,https://a/1.jpg,https://a/2.jpg,https://a/3.jpg\n"

	sink := &captureSink{}
	entries, err := Ingest(context.Background(), sink, uuid.New(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"https://a/1.jpg", "https://a/2.jpg", "https://a/3.jpg"}, entries[0].ImageURLs)
}

func TestIngestBlankFieldAborts(t *testing.T) {
	tests := []struct {
		name string
		row  string
	}{
		{"blank serial", ",P1,https://a/1.jpg"},
		{"blank product code", "S1,,https://a/1.jpg"},
		{"blank url list", "S1,P1,"},
		{"missing fields", "S1"},
		{"empty url segment", `S1,P1,"https://a/1.jpg,,https://a/2.jpg"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := "SerialNumber,ProductCode,UnprocessedImageUrls\n" +
				"S0,P0,https://a/0.jpg\n" + tt.row + "\n"

			sink := &captureSink{}
			entries, err := Ingest(context.Background(), sink, uuid.New(), strings.NewReader(input))

			var blankErr *BlankFieldError
			require.ErrorAs(t, err, &blankErr)
			assert.Equal(t, 3, blankErr.Line)
			assert.Nil(t, entries)
			assert.Zero(t, sink.calls, "nothing may be persisted for a rejected manifest")
		})
	}
}

func TestIngestDuplicateProductCodeAborts(t *testing.T) {
	input := "SerialNumber,ProductCode,UnprocessedImageUrls\n" +
		"S1,P1,https://a/1.jpg\n" +
		"S2,P1,https://a/2.jpg\n"

	sink := &captureSink{}
	_, err := Ingest(context.Background(), sink, uuid.New(), strings.NewReader(input))
	require.Error(t, err)
	assert.Zero(t, sink.calls)
}

func TestIngestSinkFailurePropagates(t *testing.T) {
	input := "SerialNumber,ProductCode,UnprocessedImageUrls\n" +
		"S1,P1,https://a/1.jpg\n"

	sink := &captureSink{err: errors.New("db down")}
	_, err := Ingest(context.Background(), sink, uuid.New(), strings.NewReader(input))
	require.Error(t, err)
	assert.ErrorContains(t, err, "db down")
}

func TestIngestEmptyManifest(t *testing.T) {
	sink := &captureSink{}
	entries, err := Ingest(context.Background(), sink, uuid.New(),
		strings.NewReader("SerialNumber,ProductCode,UnprocessedImageUrls\n"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
