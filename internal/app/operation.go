package app

// Operation statuses stored in the operation log.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation tracks a CLI command that may mutate the catalog.
// Operations are created in memory with ID=0. Only catalog-mutating commands
// persist them; the database id then versions the uploaded snapshot.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
}

// NewOperation creates a new in-memory operation.
func NewOperation(operation, parameters string) *Operation {
	return &Operation{
		Operation:  operation,
		Parameters: parameters,
		Status:     StatusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Record marks the operation failed when err is non-nil and returns err.
// A failure is sticky: later successes do not clear it.
func (op *Operation) Record(err error) error {
	if err != nil {
		op.Status = StatusError
	}
	return err
}
