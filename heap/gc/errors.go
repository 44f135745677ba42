package gc

import "errors"

var (
	// ErrStaleHandle is returned when a handle refers to a cell that has been
	// reclaimed by a sweep.
	ErrStaleHandle = errors.New("stale handle")

	// ErrNilHandle is returned when the zero Handle is used.
	ErrNilHandle = errors.New("nil handle")

	// ErrCollecting is returned when the heap is accessed for mutation while a
	// collection is in progress.
	ErrCollecting = errors.New("collection in progress")

	// ErrMutating is returned when the heap is modified from within a
	// Handle.Mutate callback.
	ErrMutating = errors.New("mutation in progress")

	// ErrNotMarking is the cause of the violation raised when a handle is
	// marked outside of the mark phase of its collector.
	ErrNotMarking = errors.New("not in mark phase")

	// ErrCellLimit is the cause of the allocation failure raised when the
	// collector's MaxCells limit is reached.
	ErrCellLimit = errors.New("cell limit reached")
)

// A ContractError is the panic value raised when a caller breaks the
// collector's usage contract, e.g. marking a reclaimed cell or starting a
// collection from within another one. Those cannot be recovered from safely,
// the value exists so that the cause can be inspected with errors.Is after a
// recover.
type ContractError struct {
	Op  string
	Err error
}

func (e *ContractError) Error() string { return "gc: " + e.Op + ": " + e.Err.Error() }
func (e *ContractError) Unwrap() error { return e.Err }

func violation(op string, err error) {
	panic(&ContractError{Op: op, Err: err})
}
