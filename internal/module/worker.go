package module

import "context"

// Worker is the unit of work a Module runs in its loop. Step is called
// repeatedly until the module stops; a returned error counts as one failed
// step. A Step that loops or blocks internally must return promptly once
// ctx is cancelled.
type Worker interface {
	Step(ctx context.Context) error
}

// SetupWorker is implemented by workers that acquire resources before the
// first step. A failed Setup is retried under the same failure budget as
// Step.
type SetupWorker interface {
	Setup(ctx context.Context) error
}

// TeardownWorker is implemented by workers that release resources. Teardown
// runs exactly once when the module stops, even if Setup never succeeded.
type TeardownWorker interface {
	Teardown() error
}

// StepFunc adapts a plain function to the Worker interface.
type StepFunc func(ctx context.Context) error

// Step calls f(ctx).
func (f StepFunc) Step(ctx context.Context) error {
	return f(ctx)
}
