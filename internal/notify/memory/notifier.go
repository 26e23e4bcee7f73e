// Package memory contains an in-memory notifier for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/listing-crawler/internal/notify"
)

// Notifier stores summaries for inspection.
type Notifier struct {
	mu        sync.RWMutex
	summaries []notify.Summary
	err       error
}

// New returns a memory Notifier.
func New() *Notifier {
	return &Notifier{}
}

// FailWith makes subsequent Notify calls return err.
func (n *Notifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// Notify records the summary and returns a pseudo ID.
func (n *Notifier) Notify(_ context.Context, summary notify.Summary) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return "", n.err
	}
	n.summaries = append(n.summaries, summary)
	return fmt.Sprintf("memory-%d", len(n.summaries)), nil
}

// Summaries returns the recorded summaries.
func (n *Notifier) Summaries() []notify.Summary {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]notify.Summary, len(n.summaries))
	copy(out, n.summaries)
	return out
}

// Close is a no-op.
func (n *Notifier) Close() error {
	return nil
}
