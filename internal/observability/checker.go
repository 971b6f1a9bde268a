package observability

import "context"

// Checker is a dependency reported by the readiness probe.
// Check must honor ctx and be safe for concurrent use.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	ID string
	Fn func(ctx context.Context) error
}

func (c CheckerFunc) Name() string { return c.ID }

func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }
