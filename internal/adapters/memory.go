package adapters

import (
	"context"
	"sync"
)

// MemoryAdapter records executed intents in memory. It backs tests and local
// dry runs where no external systems are reachable.
type MemoryAdapter struct {
	mu       sync.Mutex
	executed []Intent
	// Fail, when set, is returned for the next executions (consumed per call
	// when FailCount is positive, forever when it is zero).
	Fail      error
	FailCount int
}

// NewMemoryAdapter constructs an empty MemoryAdapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{}
}

func (a *MemoryAdapter) Execute(ctx context.Context, intent Intent) (map[string]any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Fail != nil {
		err := a.Fail
		if a.FailCount > 0 {
			a.FailCount--
			if a.FailCount == 0 {
				a.Fail = nil
			}
		}
		return nil, err
	}

	a.executed = append(a.executed, intent)
	return map[string]any{
		"executed": true,
		"target":   intent.Target,
	}, nil
}

// Executed returns a copy of the intents that ran.
func (a *MemoryAdapter) Executed() []Intent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Intent(nil), a.executed...)
}
