package dbcfg

import (
	"time"

	"dbcfg/internal/model"
)

// History stores a record of every apply operation and the changes it
// planned.
type History interface {
	// StartApply records a running apply operation and returns it with its
	// ID assigned.
	StartApply(op *model.ApplyOperation) (*model.ApplyOperation, error)

	// RecordChanges stores the planned changes of an operation, in order.
	RecordChanges(operationID int64, changes []*model.ApplyChange) error

	// FinishApply sets the final status of an operation.
	FinishApply(operationID int64, status, message string, finishedAt time.Time) error

	// ListApplies returns the most recent operations, newest first. An empty
	// database name lists operations on every database.
	ListApplies(database string, limit int) ([]*model.ApplyOperation, error)

	// FindApply returns the operation with the given ID, or nil.
	FindApply(id int64) (*model.ApplyOperation, error)

	// ChangesFor returns the changes recorded for an operation.
	ChangesFor(operationID int64) ([]*model.ApplyChange, error)

	Close() error
}
