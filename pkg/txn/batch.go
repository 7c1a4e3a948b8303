package txn

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/pagecraft-io/actioncore/pkg/datasource"
)

// BatchOptions tune one ExecuteBatch call.
type BatchOptions struct {
	// RetryOnError retries a failing item before counting it as failed.
	RetryOnError bool
	// MaxRetries is the total attempt count per item when RetryOnError is
	// set; values below 1 use the manager default.
	MaxRetries int
	// OnProgress is called after each item, in addition to the manager's
	// subscribers.
	OnProgress func(Progress)
	// Limiter, when set, paces per-item fallback processing.
	Limiter *rate.Limiter
}

// BatchError pairs a failed item with its error message.
type BatchError struct {
	Item  map[string]any
	Error string
}

// BatchResult aggregates one batch call.
type BatchResult struct {
	Success   bool
	Succeeded int
	Failed    int
	Errors    []BatchError
}

// ExecuteBatch applies one CRUD operation to every item. When the data
// source has a native bulk path it is tried first in a single call; bulk
// absence or failure falls back to per-item sequential processing where
// item failures are isolated and never stop the batch.
func (m *Manager) ExecuteBatch(ctx context.Context, resource string, op datasource.Operation, items []map[string]any, opts *BatchOptions) *BatchResult {
	if opts == nil {
		opts = &BatchOptions{}
	}
	result := &BatchResult{}
	if len(items) == 0 {
		result.Success = true
		return result
	}

	if bulk, ok := m.ds.(datasource.BulkDataSource); ok {
		if _, err := bulk.Bulk(ctx, resource, op, items); err == nil {
			result.Success = true
			result.Succeeded = len(items)
			m.reportBatchProgress(opts, progressAt(len(items), len(items)))
			m.logger.Info("batch completed via bulk",
				"resource", resource, "operation", op, "items", len(items))
			return result
		} else {
			m.logger.Debug("bulk path failed, falling back to per-item processing",
				"resource", resource, "operation", op, "error", err)
		}
	}

	maxAttempts := 1
	if opts.RetryOnError {
		maxAttempts = opts.MaxRetries
		if maxAttempts < 1 {
			maxAttempts = m.opts.MaxRetries
		}
	}

	total := len(items)
	for i, item := range items {
		if opts.Limiter != nil {
			if err := opts.Limiter.Wait(ctx); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, BatchError{Item: item, Error: err.Error()})
				m.reportBatchProgress(opts, progressAt(i+1, total))
				continue
			}
		}

		if err := m.processItem(ctx, resource, op, item, maxAttempts); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BatchError{Item: item, Error: err.Error()})
		} else {
			result.Succeeded++
		}
		m.reportBatchProgress(opts, progressAt(i+1, total))
	}

	result.Success = result.Failed == 0
	m.logger.Info("batch completed",
		"resource", resource, "operation", op,
		"succeeded", result.Succeeded, "failed", result.Failed)
	return result
}

func (m *Manager) reportBatchProgress(opts *BatchOptions, p Progress) {
	m.emitProgress(p)
	if opts.OnProgress != nil {
		opts.OnProgress(p)
	}
}

func (m *Manager) processItem(ctx context.Context, resource string, op datasource.Operation, item map[string]any, maxAttempts int) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.opts.RetryDelay):
			}
		}
		lastErr = m.applyItem(ctx, resource, op, item)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (m *Manager) applyItem(ctx context.Context, resource string, op datasource.Operation, item map[string]any) error {
	switch op {
	case datasource.OpCreate:
		_, err := m.ds.Create(ctx, resource, item)
		return err

	case datasource.OpUpdate:
		id, ok := datasource.RecordID(item)
		if !ok {
			return fmt.Errorf("missing id")
		}
		_, err := m.ds.Update(ctx, resource, id, item)
		return err

	case datasource.OpDelete:
		id, ok := datasource.RecordID(item)
		if !ok {
			return fmt.Errorf("missing id")
		}
		_, err := m.ds.Delete(ctx, resource, id)
		return err

	default:
		return fmt.Errorf("unknown operation %q", op)
	}
}
