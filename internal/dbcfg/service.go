package dbcfg

import (
	"errors"
	"fmt"
	"strings"

	"dbcfg/internal/model"
)

// Service is the orchestration layer used by the CLI: it opens prototypes
// on a connection, plans and applies them, and keeps the apply history.
type Service struct {
	conn    Connection
	history History
	logger  Logger
	clock   Clock
	idgen   IDGenerator
}

// NewService creates a Service with the provided dependencies.
func NewService(conn Connection, history History, logger Logger, clock Clock, idgen IDGenerator) *Service {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Service{
		conn:    conn,
		history: history,
		logger:  logger,
		clock:   clock,
		idgen:   idgen,
	}
}

// Connection returns the engine connection the service works on.
func (s *Service) Connection() Connection { return s.conn }

// Open loads the named database, or prepares a new one if it does not
// exist yet.
func (s *Service) Open(name string) (*DatabasePrototype, error) {
	h, err := s.conn.Database(name)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", name, err)
	}
	if h.Exists() {
		return Load(s.conn, name, s.logger)
	}
	s.logger.Info("database does not exist, preparing new", "database", name)
	return NewDatabase(s.conn, name, s.logger)
}

// Plan returns the changes applying proto would make.
func (s *Service) Plan(proto *DatabasePrototype) []Change {
	return proto.Changes()
}

// Apply applies proto and records the operation. It returns nil without
// error when there is nothing to apply. A failed apply still returns the
// recorded operation along with the error.
func (s *Service) Apply(proto *DatabasePrototype, opts ApplyOptions) (*model.ApplyOperation, error) {
	changes := proto.Changes()
	if len(changes) == 0 {
		s.logger.Info("nothing to apply", "database", proto.Name())
		return nil, nil
	}

	op, err := s.history.StartApply(&model.ApplyOperation{
		Ref:        s.idgen.New(),
		Database:   proto.Name(),
		StartedAt:  s.clock.Now(),
		Status:     model.StatusRunning,
		Forced:     opts.Force,
		ScriptOnly: s.conn.ScriptOnly(),
	})
	if err != nil {
		return nil, fmt.Errorf("recording apply operation: %w", err)
	}

	rows := make([]*model.ApplyChange, len(changes))
	for i, c := range changes {
		rows[i] = &model.ApplyChange{
			OperationID: op.ID,
			Seq:         i + 1,
			Entity:      c.Entity,
			Name:        c.Name,
			Action:      string(c.Action),
			Properties:  strings.Join(c.Properties, ","),
		}
	}
	if err := s.history.RecordChanges(op.ID, rows); err != nil {
		return op, fmt.Errorf("recording planned changes: %w", err)
	}

	s.logger.Info("applying changes", "database", proto.Name(), "operation", op.ID, "changes", len(changes))
	applyErr := proto.ApplyChanges(opts)

	status, message := model.StatusSuccess, ""
	switch {
	case errors.Is(applyErr, ErrPreconditionFailed):
		status, message = model.StatusCancelled, applyErr.Error()
	case applyErr != nil:
		status, message = model.StatusError, applyErr.Error()
	}
	finishedAt := s.clock.Now()
	if err := s.history.FinishApply(op.ID, status, message, finishedAt); err != nil {
		if applyErr != nil {
			return op, applyErr
		}
		return op, fmt.Errorf("finishing apply operation: %w", err)
	}
	op.Status = status
	op.Message = message
	op.FinishedAt = &finishedAt

	if applyErr != nil {
		s.logger.Error("apply failed", "database", proto.Name(), "operation", op.ID, "status", status, "error", applyErr)
		return op, applyErr
	}
	s.logger.Info("apply finished", "database", proto.Name(), "operation", op.ID)
	return op, nil
}

// History returns the most recent apply operations, newest first.
func (s *Service) History(database string, limit int) ([]*model.ApplyOperation, error) {
	ops, err := s.history.ListApplies(database, limit)
	if err != nil {
		return nil, fmt.Errorf("listing apply operations: %w", err)
	}
	return ops, nil
}

// ChangesFor returns the changes recorded for an apply operation.
func (s *Service) ChangesFor(id int64) ([]*model.ApplyChange, error) {
	op, err := s.history.FindApply(id)
	if err != nil {
		return nil, fmt.Errorf("finding apply operation: %w", err)
	}
	if op == nil {
		return nil, fmt.Errorf("apply operation %d: %w", id, ErrNotFound)
	}
	changes, err := s.history.ChangesFor(id)
	if err != nil {
		return nil, fmt.Errorf("listing changes: %w", err)
	}
	return changes, nil
}
