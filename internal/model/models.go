package model

import "time"

// Apply statuses.
const (
	StatusRunning   = "running"
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// ApplyOperation records one run of the reconciler against a database.
// The ID is the version under which the applied manifest is archived.
type ApplyOperation struct {
	ID         int64
	Ref        string // UUID, stable across hosts
	HostID     string
	Database   string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	Forced     bool
	ScriptOnly bool
	Message    string // error text for failed applies
}

// Finished reports whether the operation has a final status.
func (op *ApplyOperation) Finished() bool {
	return op.FinishedAt != nil
}

// ApplyChange is one planned change of an apply operation, in apply order.
type ApplyChange struct {
	ID          int64
	OperationID int64
	Seq         int
	Entity      string // database, filegroup or file
	Name        string
	Action      string // create, alter or drop
	Properties  string // comma separated
}
