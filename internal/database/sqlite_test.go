package database

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"dbcfg/internal/dbcfg"
	"dbcfg/internal/model"
)

// newTestHistory creates a new in-memory history with schema applied.
func newTestHistory(t *testing.T) *SQLiteHistory {
	t.Helper()

	h, err := NewSQLiteHistory(":memory:", "test-host")
	if err != nil {
		t.Fatalf("failed to create history: %v", err)
	}
	if _, err := h.db.Exec(Schema); err != nil {
		h.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}
	t.Cleanup(func() {
		h.Close()
	})
	return h
}

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func startOp(t *testing.T, h *SQLiteHistory, ref, database string) *model.ApplyOperation {
	t.Helper()
	op, err := h.StartApply(&model.ApplyOperation{
		Ref:       ref,
		Database:  database,
		StartedAt: t0,
		Status:    model.StatusRunning,
	})
	if err != nil {
		t.Fatalf("StartApply() error = %v", err)
	}
	return op
}

func TestSQLiteHistory_StartApply(t *testing.T) {
	t.Run("assigns ID and host", func(t *testing.T) {
		h := newTestHistory(t)

		op := startOp(t, h, "ref-1", "Sales")
		if op.ID == 0 {
			t.Error("ID = 0, want assigned")
		}
		if op.HostID != "test-host" {
			t.Errorf("HostID = %q, want test-host", op.HostID)
		}

		second := startOp(t, h, "ref-2", "Sales")
		if second.ID <= op.ID {
			t.Errorf("second ID = %d, want > %d", second.ID, op.ID)
		}
	})

	t.Run("does not modify the argument", func(t *testing.T) {
		h := newTestHistory(t)
		in := &model.ApplyOperation{Ref: "ref-1", Database: "Sales", StartedAt: t0}
		if _, err := h.StartApply(in); err != nil {
			t.Fatal(err)
		}
		if in.ID != 0 || in.HostID != "" {
			t.Errorf("argument modified: %+v", in)
		}
	})

	t.Run("duplicate ref fails", func(t *testing.T) {
		h := newTestHistory(t)
		startOp(t, h, "ref-1", "Sales")
		if _, err := h.StartApply(&model.ApplyOperation{Ref: "ref-1", Database: "Sales", StartedAt: t0}); err == nil {
			t.Error("StartApply() with duplicate ref should fail")
		}
	})
}

func TestSQLiteHistory_FindApply(t *testing.T) {
	t.Run("returns nil when not found", func(t *testing.T) {
		h := newTestHistory(t)

		op, err := h.FindApply(42)
		if err != nil {
			t.Fatalf("FindApply() error = %v", err)
		}
		if op != nil {
			t.Errorf("FindApply() = %+v, want nil", op)
		}
	})

	t.Run("finds started operation", func(t *testing.T) {
		h := newTestHistory(t)
		created, err := h.StartApply(&model.ApplyOperation{
			Ref:        "ref-1",
			Database:   "Sales",
			StartedAt:  t0,
			Forced:     true,
			ScriptOnly: true,
		})
		if err != nil {
			t.Fatal(err)
		}

		found, err := h.FindApply(created.ID)
		if err != nil {
			t.Fatalf("FindApply() error = %v", err)
		}
		if found == nil {
			t.Fatal("FindApply() = nil")
		}
		if found.Ref != "ref-1" || found.Database != "Sales" {
			t.Errorf("found = %+v", found)
		}
		if !found.Forced || !found.ScriptOnly {
			t.Errorf("Forced/ScriptOnly = %v/%v, want true/true", found.Forced, found.ScriptOnly)
		}
		if !found.StartedAt.Equal(t0) {
			t.Errorf("StartedAt = %v, want %v", found.StartedAt, t0)
		}
		if found.Finished() {
			t.Error("new operation reported finished")
		}
		if found.Status != model.StatusRunning {
			t.Errorf("Status = %q, want running", found.Status)
		}
	})
}

func TestSQLiteHistory_FinishApply(t *testing.T) {
	t.Run("sets status and finish time", func(t *testing.T) {
		h := newTestHistory(t)
		op := startOp(t, h, "ref-1", "Sales")

		finished := t0.Add(3 * time.Second)
		if err := h.FinishApply(op.ID, model.StatusError, "permission denied", finished); err != nil {
			t.Fatalf("FinishApply() error = %v", err)
		}

		got, err := h.FindApply(op.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != model.StatusError || got.Message != "permission denied" {
			t.Errorf("status/message = %q/%q", got.Status, got.Message)
		}
		if !got.Finished() || !got.FinishedAt.Equal(finished) {
			t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, finished)
		}
	})

	t.Run("unknown operation", func(t *testing.T) {
		h := newTestHistory(t)
		err := h.FinishApply(99, model.StatusSuccess, "", t0)
		if !errors.Is(err, dbcfg.ErrNotFound) {
			t.Errorf("FinishApply() error = %v, want ErrNotFound", err)
		}
	})
}

func TestSQLiteHistory_ListApplies(t *testing.T) {
	h := newTestHistory(t)
	a := startOp(t, h, "ref-1", "Sales")
	b := startOp(t, h, "ref-2", "Inventory")
	c := startOp(t, h, "ref-3", "Sales")

	tests := []struct {
		name     string
		database string
		limit    int
		want     []int64
	}{
		{name: "all newest first", want: []int64{c.ID, b.ID, a.ID}},
		{name: "filtered by database", database: "Sales", want: []int64{c.ID, a.ID}},
		{name: "limited", limit: 2, want: []int64{c.ID, b.ID}},
		{name: "filtered and limited", database: "Sales", limit: 1, want: []int64{c.ID}},
		{name: "no match", database: "HR", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops, err := h.ListApplies(tt.database, tt.limit)
			if err != nil {
				t.Fatalf("ListApplies() error = %v", err)
			}
			if len(ops) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(ops), len(tt.want))
			}
			for i, op := range ops {
				if op.ID != tt.want[i] {
					t.Errorf("ops[%d].ID = %d, want %d", i, op.ID, tt.want[i])
				}
			}
		})
	}
}

func TestSQLiteHistory_Changes(t *testing.T) {
	t.Run("records and lists in order", func(t *testing.T) {
		h := newTestHistory(t)
		op := startOp(t, h, "ref-1", "Sales")

		changes := []*model.ApplyChange{
			{Seq: 1, Entity: "database", Name: "Sales", Action: "alter", Properties: "RecoveryModel"},
			{Seq: 2, Entity: "filegroup", Name: "ARCHIVE", Action: "create"},
			{Seq: 3, Entity: "file", Name: "archive1", Action: "create", Properties: "Size,Growth"},
		}
		if err := h.RecordChanges(op.ID, changes); err != nil {
			t.Fatalf("RecordChanges() error = %v", err)
		}

		got, err := h.ChangesFor(op.ID)
		if err != nil {
			t.Fatalf("ChangesFor() error = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("len = %d, want 3", len(got))
		}
		for i, c := range got {
			if c.Seq != i+1 || c.Name != changes[i].Name || c.Properties != changes[i].Properties {
				t.Errorf("changes[%d] = %+v", i, c)
			}
			if c.OperationID != op.ID {
				t.Errorf("changes[%d].OperationID = %d, want %d", i, c.OperationID, op.ID)
			}
		}
	})

	t.Run("assigns sequence when missing", func(t *testing.T) {
		h := newTestHistory(t)
		op := startOp(t, h, "ref-1", "Sales")
		if err := h.RecordChanges(op.ID, []*model.ApplyChange{
			{Entity: "file", Name: "a", Action: "drop"},
			{Entity: "file", Name: "b", Action: "drop"},
		}); err != nil {
			t.Fatal(err)
		}
		got, err := h.ChangesFor(op.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0].Seq != 1 || got[1].Seq != 2 {
			t.Errorf("changes = %+v", got)
		}
	})

	t.Run("failed batch records nothing", func(t *testing.T) {
		h := newTestHistory(t)
		op := startOp(t, h, "ref-1", "Sales")
		err := h.RecordChanges(op.ID, []*model.ApplyChange{
			{Seq: 1, Entity: "file", Name: "a", Action: "drop"},
			{Seq: 1, Entity: "file", Name: "b", Action: "drop"},
		})
		if err == nil {
			t.Fatal("RecordChanges() with duplicate seq should fail")
		}
		got, err := h.ChangesFor(op.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("len = %d after failed batch, want 0", len(got))
		}
	})

	t.Run("unknown operation", func(t *testing.T) {
		h := newTestHistory(t)
		err := h.RecordChanges(77, []*model.ApplyChange{{Seq: 1, Entity: "file", Name: "a", Action: "drop"}})
		if err == nil {
			t.Error("RecordChanges() for unknown operation should fail")
		}
	})
}

func TestSQLiteHistory_BackupTo(t *testing.T) {
	h := newTestHistory(t)
	op := startOp(t, h, "ref-1", "Sales")

	dest := filepath.Join(t.TempDir(), "copy.db")
	if err := h.BackupTo(dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	copied, err := NewSQLiteHistory(dest, "other")
	if err != nil {
		t.Fatal(err)
	}
	defer copied.Close()

	got, err := copied.FindApply(op.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Ref != "ref-1" {
		t.Errorf("copy FindApply() = %+v, want ref-1", got)
	}
}
