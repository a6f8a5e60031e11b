package errors

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// BatchError collects per-item failures of a multi-item operation. A batch
// succeeds only when no item failed; items that did succeed are not rolled
// back.
type BatchError struct {
	Operation string

	mu       sync.Mutex
	failures map[string]error
}

// NewBatchError creates an empty collector for operation.
func NewBatchError(operation string) *BatchError {
	return &BatchError{Operation: operation, failures: make(map[string]error)}
}

// Add records the failure of item. Nil errors are ignored. Safe for
// concurrent use.
func (b *BatchError) Add(item string, err error) {
	if err == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[item] = err
}

// Len returns the number of failed items.
func (b *BatchError) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.failures)
}

// Failures returns a copy of the item to error mapping.
func (b *BatchError) Failures() map[string]error {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]error, len(b.failures))
	for k, v := range b.failures {
		out[k] = v
	}
	return out
}

// Items returns the failed item names in sorted order.
func (b *BatchError) Items() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := make([]string, 0, len(b.failures))
	for k := range b.failures {
		items = append(items, k)
	}
	sort.Strings(items)
	return items
}

// Messages returns "item: error" lines in item order.
func (b *BatchError) Messages() []string {
	failures := b.Failures()
	items := b.Items()
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, fmt.Sprintf("%s: %v", item, failures[item]))
	}
	return out
}

// Err returns nil when nothing failed, otherwise a PARTIAL_FAILURE error
// wrapping b.
func (b *BatchError) Err() error {
	if b.Len() == 0 {
		return nil
	}
	return NewError(ErrCodePartialFailure, fmt.Sprintf("%d item(s) failed", b.Len())).
		WithOperation(b.Operation).
		WithDetail("failed_items", b.Items()).
		WithCause(b)
}

func (b *BatchError) Error() string {
	msgs := b.Messages()
	const shown = 5
	if len(msgs) > shown {
		msgs = append(msgs[:shown], fmt.Sprintf("and %d more", len(msgs)-shown))
	}
	return fmt.Sprintf("%s failed for %d item(s): %s", b.Operation, b.Len(), strings.Join(msgs, "; "))
}
