package batch

// ItemStatus is the processing outcome of a single batch item.
type ItemStatus string

// Batch item status values.
const (
	StatusOK    ItemStatus = "ok"
	StatusError ItemStatus = "error"
)

// Result is the outcome of processing one chunk in a batch operation.
type Result struct {
	id      string
	status  ItemStatus
	version int
	err     error
}

// NewOK creates a successful batch result. version is 0 for deletions.
func NewOK(id string, version int) Result {
	return Result{id: id, status: StatusOK, version: version}
}

// NewError creates a failed batch result.
func NewError(id string, err error) Result { return Result{id: id, status: StatusError, err: err} }

// ID returns the chunk identifier.
func (r Result) ID() string { return r.id }

// Status returns the processing outcome.
func (r Result) Status() ItemStatus { return r.status }

// Version returns the stored chunk version after an upsert.
func (r Result) Version() int { return r.version }

// Err returns the error, if any.
func (r Result) Err() error { return r.err }

// Tally counts succeeded and failed items.
func Tally(results []Result) (succeeded, failed int) {
	for _, r := range results {
		if r.status == StatusOK {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}
