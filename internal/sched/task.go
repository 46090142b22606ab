package sched

import "context"

// Task is the single capability the scheduler invokes. Run blocks until the
// work is complete; asynchronous work is adapted with Async.
type Task interface {
	Run(ctx context.Context) error
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Run(ctx context.Context) error { return f(ctx) }

// Func adapts a function that cannot fail.
func Func(f func()) Task {
	return TaskFunc(func(context.Context) error {
		f()
		return nil
	})
}

// Async adapts work that reports completion on a channel. The first value
// received is the result; a channel closed without a value means success.
// If ctx ends first, Run returns ctx.Err() without waiting further.
func Async(start func(ctx context.Context) <-chan error) Task {
	return TaskFunc(func(ctx context.Context) error {
		ch := start(ctx)
		if ch == nil {
			return nil
		}
		select {
		case err := <-ch:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}
