package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the processing state of a Request or one of its ProductEntries.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
)

// ErrStatusConflict is returned by conditional status writes when the row is
// no longer in the expected state. FAILED is absorbing; a slow worker must
// not resurrect an already-failed request with a late write.
var ErrStatusConflict = errors.New("status conflict: row not in expected state")

// Request is one manifest submission and all work derived from it.
type Request struct {
	ID          uuid.UUID `db:"id"`
	ManifestRef string    `db:"manifest_ref"`
	Status      Status    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
}

// ProductEntry is one manifest row's unit of work. ProductCode is unique
// only within its Request. ImageURLs keeps manifest order; URLs are
// processed sequentially in that order.
type ProductEntry struct {
	RequestID   uuid.UUID `db:"request_id"`
	ProductCode string    `db:"product_code"`
	SerialNo    string    `db:"serial_no"`
	ImageURLs   []string  `db:"image_urls"`
	Status      Status    `db:"status"`
}

// ImageLink pairs a source URL with its transcoded output reference.
// Created only when transcoding that URL succeeded; immutable afterwards.
type ImageLink struct {
	RequestID    uuid.UUID `db:"request_id"`
	ProductCode  string    `db:"product_code"`
	SourceURL    string    `db:"source_url"`
	ProcessedURL string    `db:"processed_url"`
}
