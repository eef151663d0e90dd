package manifest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"imageflow/internal/models"
)

// BlankFieldError reports a manifest row with a blank or missing field.
// A single bad row voids the whole request: no partial manifest is ever
// accepted, since orphaned entries could not be reconciled afterwards.
type BlankFieldError struct {
	Line        int
	SerialNo    string
	ProductCode string
	ImageURLs   string
}

func (e *BlankFieldError) Error() string {
	return fmt.Sprintf("manifest: blank field at line %d: SerialNumber=%q ProductCode=%q UnprocessedImageUrls=%q",
		e.Line, e.SerialNo, e.ProductCode, e.ImageURLs)
}

// EntrySink persists a fully ingested manifest in one atomic operation.
type EntrySink interface {
	BulkInsertEntries(ctx context.Context, entries []models.ProductEntry) error
}

// Ingest streams data rows from a validated manifest, expands each row into
// a PENDING ProductEntry, and persists the whole set through sink in a
// single all-or-nothing bulk insert at end-of-stream. On any malformed row
// it aborts immediately without persisting anything; the caller is expected
// to mark the request FAILED.
//
// The UnprocessedImageUrls column is itself comma-delimited. Unquoted rows
// therefore parse as more than three CSV fields; everything from the third
// field onward belongs to the URL list.
func Ingest(ctx context.Context, sink EntrySink, requestID uuid.UUID, r io.Reader) ([]models.ProductEntry, error) {
	const op = "manifest.Ingest"

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	if _, err := cr.Read(); err != nil { // header, already validated
		return nil, fmt.Errorf("%s: read header: %w", op, err)
	}

	var entries []models.ProductEntry
	seen := make(map[string]int)
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: %w", op, line, err)
		}

		var serial, code, rawURLs string
		if len(record) > 0 {
			serial = strings.TrimSpace(record[0])
		}
		if len(record) > 1 {
			code = strings.TrimSpace(record[1])
		}
		if len(record) > 2 {
			rawURLs = strings.Join(record[2:], ",")
		}
		if serial == "" || code == "" || rawURLs == "" {
			return nil, &BlankFieldError{Line: line, SerialNo: serial, ProductCode: code, ImageURLs: rawURLs}
		}

		urls := strings.Split(rawURLs, ",")
		for i, u := range urls {
			u = strings.TrimSpace(u)
			if u == "" {
				return nil, &BlankFieldError{Line: line, SerialNo: serial, ProductCode: code, ImageURLs: rawURLs}
			}
			urls[i] = u
		}

		if prev, ok := seen[code]; ok {
			return nil, fmt.Errorf("%s: line %d: duplicate product code %q (first seen at line %d)", op, line, code, prev)
		}
		seen[code] = line

		entries = append(entries, models.ProductEntry{
			RequestID:   requestID,
			ProductCode: code,
			SerialNo:    serial,
			ImageURLs:   urls,
			Status:      models.StatusPending,
		})
	}

	if err := sink.BulkInsertEntries(ctx, entries); err != nil {
		return nil, fmt.Errorf("%s: bulk insert: %w", op, err)
	}
	return entries, nil
}
