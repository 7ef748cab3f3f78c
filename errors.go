package graphmat

import (
	"errors"
	"fmt"
)

var (
	// ErrPlan is returned when a run fails before any worker starts.
	ErrPlan = errors.New("graphmat: planning failed")

	// ErrNoInput is returned when the input holds no units.
	ErrNoInput = errors.New("graphmat: no input units")

	// ErrInvalidOption is returned by New for out-of-range options.
	ErrInvalidOption = errors.New("graphmat: invalid option")
)

// RunError reports a run in which at least one shard failed.
//
// The shard errors can be accessed via errors.Unwrap, errors.Is and
// errors.As.
type RunError struct {
	RunID string
	// Failed is the number of unit ids recorded in the ledger.
	Failed int
	// Shards lists the failed shard indices in ascending order.
	Shards []int
	cause  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s: %d shard(s) failed, %d unit(s) in ledger: %v", e.RunID, len(e.Shards), e.Failed, e.cause)
}

func (e *RunError) Unwrap() error { return e.cause }

func planError(err error) error {
	if errors.Is(err, ErrPlan) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPlan, err)
}
