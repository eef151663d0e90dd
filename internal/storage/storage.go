package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"imageflow/internal/models"
)

// ErrRequestNotFound is returned when a request id is unknown.
var ErrRequestNotFound = errors.New("request not found")

// Storage is the pgx-backed status store. The pool is created at startup
// and drained at shutdown; nothing here holds a connection across calls.
type Storage struct {
	pool *pgxpool.Pool
	db   *sql.DB // For migrations
}

func NewStorage(dsn string) (*Storage, error) {
	const op = "storage.NewStorage"

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{pool: pool, db: db}, nil
}

func (s *Storage) Close() {
	s.db.Close()
	s.pool.Close()
}

func (s *Storage) CreateRequest(ctx context.Context, req *models.Request) error {
	const op = "storage.CreateRequest"
	_, err := s.pool.Exec(ctx,
		`INSERT INTO requests (id, manifest_ref, status) VALUES ($1, $2, $3)`,
		req.ID, req.ManifestRef, req.Status)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) GetRequest(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	const op = "storage.GetRequest"
	var req models.Request
	err := s.pool.QueryRow(ctx,
		`SELECT id, manifest_ref, status, created_at FROM requests WHERE id = $1`,
		id).Scan(&req.ID, &req.ManifestRef, &req.Status, &req.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrRequestNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &req, nil
}

// BulkInsertEntries persists all entries of a request in one transaction.
// Status queries therefore never observe a partially seeded request.
func (s *Storage) BulkInsertEntries(ctx context.Context, entries []models.ProductEntry) error {
	const op = "storage.BulkInsertEntries"

	if len(entries) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	for _, e := range entries {
		b.Queue(
			`INSERT INTO product_entries (request_id, product_code, serial_no, image_urls, status)
			 VALUES ($1, $2, $3, $4, $5)`,
			e.RequestID, e.ProductCode, e.SerialNo, e.ImageURLs, e.Status)
	}
	br := tx.SendBatch(ctx, b)
	for range entries {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) ListEntries(ctx context.Context, requestID uuid.UUID) ([]models.ProductEntry, error) {
	const op = "storage.ListEntries"

	rows, err := s.pool.Query(ctx,
		`SELECT request_id, product_code, serial_no, image_urls, status
		 FROM product_entries WHERE request_id = $1 ORDER BY serial_no`,
		requestID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var entries []models.ProductEntry
	for rows.Next() {
		var e models.ProductEntry
		if err := rows.Scan(&e.RequestID, &e.ProductCode, &e.SerialNo, &e.ImageURLs, &e.Status); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return entries, nil
}

// SetEntryStatus transitions one entry conditionally: the write applies only
// if the row still holds the expected status. A request already driven to
// FAILED cannot be overwritten by a slow worker's late SUCCESS.
func (s *Storage) SetEntryStatus(ctx context.Context, requestID uuid.UUID, productCode string, from, to models.Status) error {
	const op = "storage.SetEntryStatus"

	tag, err := s.pool.Exec(ctx,
		`UPDATE product_entries SET status = $4
		 WHERE request_id = $1 AND product_code = $2 AND status = $3`,
		requestID, productCode, from, to)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrStatusConflict
	}
	return nil
}

// SetRequestStatus transitions the request row conditionally, like
// SetEntryStatus does for entries. FAILED is absorbing at the request level
// too: a redelivered queue message must not promote an already-failed
// request back to SUCCESS.
func (s *Storage) SetRequestStatus(ctx context.Context, requestID uuid.UUID, from, to models.Status) error {
	const op = "storage.SetRequestStatus"

	tag, err := s.pool.Exec(ctx,
		`UPDATE requests SET status = $3 WHERE id = $1 AND status = $2`,
		requestID, from, to)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrStatusConflict
	}
	return nil
}

// MarkRequestFailed applies the request-wide fail-fast policy: the request
// and every one of its entries become FAILED in one transaction.
func (s *Storage) MarkRequestFailed(ctx context.Context, requestID uuid.UUID) error {
	const op = "storage.MarkRequestFailed"

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE product_entries SET status = $2 WHERE request_id = $1`,
		requestID, models.StatusFailed); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE requests SET status = $2 WHERE id = $1`,
		requestID, models.StatusFailed); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// InsertImageLink records one successfully transcoded URL. Inserting the
// same (request, product, url) again is a no-op so redelivered work stays
// idempotent.
func (s *Storage) InsertImageLink(ctx context.Context, link models.ImageLink) error {
	const op = "storage.InsertImageLink"
	_, err := s.pool.Exec(ctx,
		`INSERT INTO image_links (request_id, product_code, source_url, processed_url)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (request_id, product_code, source_url) DO NOTHING`,
		link.RequestID, link.ProductCode, link.SourceURL, link.ProcessedURL)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) GetDistinctStatuses(ctx context.Context, requestID uuid.UUID) ([]models.Status, error) {
	const op = "storage.GetDistinctStatuses"

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT status FROM product_entries WHERE request_id = $1 ORDER BY status`,
		requestID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var statuses []models.Status
	for rows.Next() {
		var st models.Status
		if err := rows.Scan(&st); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		statuses = append(statuses, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return statuses, nil
}
