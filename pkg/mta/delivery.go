package mta

import "context"

// Deliverer ships envelopes to the analytics backend. Implementations must
// be safe for concurrent use: the tracker calls Deliver from short-lived
// goroutines, one per envelope, and only logs failures. Blocking here never
// blocks tracking.
type Deliverer interface {
	Deliver(ctx context.Context, env Envelope) error
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc func(ctx context.Context, env Envelope) error

// Deliver calls f.
func (f DelivererFunc) Deliver(ctx context.Context, env Envelope) error { return f(ctx, env) }
