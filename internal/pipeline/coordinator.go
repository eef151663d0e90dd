package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"imageflow/internal/models"
)

// Store is the durable status store the pipeline drives. Implementations
// must be safe for concurrent use across ProductEntries of one request.
type Store interface {
	ListEntries(ctx context.Context, requestID uuid.UUID) ([]models.ProductEntry, error)
	// SetEntryStatus transitions one entry from the expected status to the
	// new one; returns models.ErrStatusConflict if the row is not in the
	// expected state.
	SetEntryStatus(ctx context.Context, requestID uuid.UUID, productCode string, from, to models.Status) error
	// SetRequestStatus applies the same conditional-write contract to the
	// request row itself.
	SetRequestStatus(ctx context.Context, requestID uuid.UUID, from, to models.Status) error
	// MarkRequestFailed moves the request and every one of its entries to
	// FAILED, regardless of their current state.
	MarkRequestFailed(ctx context.Context, requestID uuid.UUID) error
	InsertImageLink(ctx context.Context, link models.ImageLink) error
}

// Worker turns one source URL into a transcoded output reference.
type Worker interface {
	Process(ctx context.Context, url string, requestID uuid.UUID, productCode string) (string, error)
}

// Notifier is told when a request reaches a terminal state. Delivery is
// best-effort and must never block or fail the pipeline.
type Notifier interface {
	RequestFinished(requestID uuid.UUID, status models.Status)
}

// Coordinator runs the per-request processing pipeline: a bounded pool of
// goroutines works through the request's ProductEntries, each entry's URLs
// strictly in manifest order. One failed URL fails the whole request and
// cancels in-flight work for its sibling entries.
type Coordinator struct {
	store    Store
	worker   Worker
	notifier Notifier
	workers  int
}

func NewCoordinator(store Store, worker Worker, notifier Notifier, workers int) *Coordinator {
	if workers <= 0 {
		workers = 4
	}
	return &Coordinator{store: store, worker: worker, notifier: notifier, workers: workers}
}

// Run processes every ProductEntry of the request and drives it to a
// terminal state. The returned error reports only pipeline-fatal conditions
// (an unwritable status store); an image failure is handled by marking the
// request FAILED and is not an error of Run itself.
func (c *Coordinator) Run(ctx context.Context, requestID uuid.UUID) error {
	const op = "pipeline.Run"

	entries, err := c.store.ListEntries(ctx, requestID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(entries) == 0 {
		return nil
	}

	// base survives the cancellation below so terminal statuses can still
	// be written after the short-circuit fires.
	base := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, c.workers)
	var wg sync.WaitGroup
	var failed atomic.Bool

	for _, e := range entries {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(entry models.ProductEntry) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := c.processEntry(ctx, entry); err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Printf("request %s: product %s failed: %v", entry.RequestID, entry.ProductCode, err)
				}
				failed.Store(true)
				cancel()
			}
		}(e)
	}
	wg.Wait()

	if err := base.Err(); err != nil {
		// Shutdown, not an image failure. Leave statuses untouched so a
		// redelivery after restart finds the request as it was.
		return err
	}

	if failed.Load() {
		if err := c.retryWrite(base, func(ctx context.Context) error {
			return c.store.MarkRequestFailed(ctx, requestID)
		}); err != nil {
			return fmt.Errorf("%s: mark failed: %w", op, err)
		}
		c.notify(requestID, models.StatusFailed)
		return nil
	}

	// Every entry finished all its URLs; promote them together.
	for _, e := range entries {
		err := c.retryWrite(base, func(ctx context.Context) error {
			return c.store.SetEntryStatus(ctx, requestID, e.ProductCode, models.StatusProcessing, models.StatusSuccess)
		})
		if err != nil && !errors.Is(err, models.ErrStatusConflict) {
			return fmt.Errorf("%s: promote %s: %w", op, e.ProductCode, err)
		}
	}
	err = c.retryWrite(base, func(ctx context.Context) error {
		return c.store.SetRequestStatus(ctx, requestID, models.StatusProcessing, models.StatusSuccess)
	})
	if errors.Is(err, models.ErrStatusConflict) {
		// The request already reached a terminal state on an earlier run;
		// this was a redelivered message and there is nothing to announce.
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: complete request: %w", op, err)
	}
	c.notify(requestID, models.StatusSuccess)
	return nil
}

// processEntry moves one entry to PROCESSING and works through its URLs in
// order, short-circuiting on the first failure. It leaves the entry in
// PROCESSING on clean completion; Run promotes entries to SUCCESS only once
// every sibling has finished.
func (c *Coordinator) processEntry(ctx context.Context, entry models.ProductEntry) error {
	err := c.retryWrite(ctx, func(ctx context.Context) error {
		return c.store.SetEntryStatus(ctx, entry.RequestID, entry.ProductCode, models.StatusPending, models.StatusProcessing)
	})
	if errors.Is(err, models.ErrStatusConflict) {
		// Redelivered message or a competing worker; this entry has already
		// moved on, nothing to do here.
		return nil
	}
	if err != nil {
		return err
	}

	for _, url := range entry.ImageURLs {
		if err := ctx.Err(); err != nil {
			return err
		}
		ref, err := c.worker.Process(ctx, url, entry.RequestID, entry.ProductCode)
		if err != nil {
			return err
		}
		err = c.retryWrite(ctx, func(ctx context.Context) error {
			return c.store.InsertImageLink(ctx, models.ImageLink{
				RequestID:    entry.RequestID,
				ProductCode:  entry.ProductCode,
				SourceURL:    url,
				ProcessedURL: ref,
			})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// retryWrite retries a status-store write a bounded number of times before
// surfacing the error as fatal. Stale visible state is worse than a crashed
// pipeline, so persistence failures are never swallowed.
func (c *Coordinator) retryWrite(ctx context.Context, write func(context.Context) error) error {
	b := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := write(ctx)
		if err == nil || errors.Is(err, models.ErrStatusConflict) {
			return err
		}
		return retry.RetryableError(err)
	})
}

func (c *Coordinator) notify(requestID uuid.UUID, status models.Status) {
	if c.notifier == nil {
		return
	}
	c.notifier.RequestFinished(requestID, status)
}
