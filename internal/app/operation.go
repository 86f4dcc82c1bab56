package app

import "dbcfg/internal/model"

// Operation tracks the CLI command being run. Only commands that apply a
// manifest record an apply operation; ApplyID is its history ID.
type Operation struct {
	Name       string
	Parameters string
	ApplyID    int64
	Status     string
}

// NewOperation creates an operation that has not applied anything yet.
func NewOperation(name, parameters string) *Operation {
	return &Operation{
		Name:       name,
		Parameters: parameters,
		Status:     model.StatusSuccess,
	}
}

// Recorded reports whether the command wrote an apply operation to the
// history.
func (op *Operation) Recorded() bool {
	return op.ApplyID != 0
}
