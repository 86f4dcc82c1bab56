package dbcfg_test

import (
	"errors"
	"fmt"
	"testing"

	"dbcfg/internal/dbcfg"
	"dbcfg/internal/testutil"
)

func denied(msg string) error {
	return fmt.Errorf("%s: %w", msg, dbcfg.ErrPermissionDenied)
}

func TestLoad(t *testing.T) {
	s := testutil.NewTestServer("Sales")
	if err := s.AddFilegroup("Sales", "ARCHIVE", dbcfg.RowsFilegroup, "archive1", "archive2"); err != nil {
		t.Fatal(err)
	}
	db := testutil.MustLoad(t, s, "Sales")

	if !db.Exists() || db.ChangesExist() {
		t.Errorf("Exists() = %v, ChangesExist() = %v, want true and false", db.Exists(), db.ChangesExist())
	}

	var fgNames []string
	for _, fg := range db.Filegroups() {
		fgNames = append(fgNames, fg.Name())
	}
	if len(fgNames) != 2 || fgNames[0] != dbcfg.PrimaryFilegroupName {
		t.Errorf("filegroups = %v, want PRIMARY first", fgNames)
	}

	var fileNames []string
	for _, f := range db.Files() {
		fileNames = append(fileNames, f.Name())
	}
	want := []string{"Sales", "archive1", "archive2", "Sales_log"}
	if len(fileNames) != len(want) {
		t.Fatalf("files = %v, want %v", fileNames, want)
	}
	for i := range want {
		if fileNames[i] != want[i] {
			t.Errorf("files = %v, want %v", fileNames, want)
			break
		}
	}

	primary := db.File("sales")
	if primary == nil || !primary.IsPrimary() || primary.PhysicalFileName() != "Sales.mdf" {
		t.Errorf("primary file = %+v, want Sales.mdf", primary)
	}
	if got := db.File("Sales_log").FullPath(); got != "/var/opt/mssql/data/Sales_log.ldf" {
		t.Errorf("log FullPath() = %q", got)
	}
	if fg := db.File("archive1").Filegroup(); fg == nil || fg.Name() != "ARCHIVE" {
		t.Errorf("archive1 filegroup = %v, want ARCHIVE", fg)
	}
	if def := db.DefaultFilegroup(dbcfg.RowsFilegroup); def == nil || !def.IsPrimary() {
		t.Errorf("default rows filegroup = %v, want PRIMARY", def)
	}
}

func TestLoad_Missing(t *testing.T) {
	s := testutil.NewTestServer()
	if _, err := dbcfg.Load(s, "Nope", nil); !errors.Is(err, dbcfg.ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestNewDatabase(t *testing.T) {
	s := testutil.NewTestServer("Sales")

	db, err := dbcfg.NewDatabase(s, "Fresh", nil)
	if err != nil {
		t.Fatalf("NewDatabase() error = %v", err)
	}
	if db.Exists() || !db.ChangesExist() {
		t.Errorf("Exists() = %v, ChangesExist() = %v, want false and true", db.Exists(), db.ChangesExist())
	}
	if st, _ := db.Status(); st != dbcfg.StatusNotCreated {
		t.Errorf("Status() = %q, want %q", st, dbcfg.StatusNotCreated)
	}

	primary := db.DefaultFilegroup(dbcfg.RowsFilegroup)
	if primary == nil || primary.Name() != dbcfg.PrimaryFilegroupName {
		t.Fatalf("default filegroup = %v, want PRIMARY", primary)
	}

	data := db.File("Fresh")
	if data == nil || !data.IsPrimary() || data.Filegroup() != primary {
		t.Fatalf("data file = %+v, want primary file in PRIMARY", data)
	}
	if data.SizeKB() != 8192 || data.Folder() != "/var/opt/mssql/data" {
		t.Errorf("data file size %g KB in %q, want template size in default folder", data.SizeKB(), data.Folder())
	}
	if g := data.Autogrowth(); g.IsGrowthInPercent || g.GrowthInKB != 65536 {
		t.Errorf("data growth = %v, want template growth", g)
	}

	log := db.File("Fresh_log")
	if log == nil || log.Kind() != dbcfg.LogFile || log.Filegroup() != nil {
		t.Fatalf("log file = %+v", log)
	}
	if log.PhysicalFileName() != "Fresh_log.ldf" {
		t.Errorf("log PhysicalFileName() = %q", log.PhysicalFileName())
	}

	if owner, _ := db.Get(dbcfg.PropOwner); owner != "" {
		t.Errorf("owner = %q, want empty", owner)
	}

	if _, err := dbcfg.NewDatabase(s, "Sales", nil); !errors.Is(err, dbcfg.ErrAlreadyExists) {
		t.Errorf("NewDatabase(existing) error = %v, want ErrAlreadyExists", err)
	}
	if _, err := dbcfg.NewDatabase(s, "  ", nil); err == nil {
		t.Error("NewDatabase(blank) succeeded")
	}
}

func TestNewDatabase_PermissionFallbacks(t *testing.T) {
	errDenied := denied("no view server state")

	s := testutil.NewTestServer()
	s.Fail("default data path", errDenied)
	s.Fail("read file model.modeldev", errDenied)
	s.Fail("read settings model", errDenied)

	db, err := dbcfg.NewDatabase(s, "Fresh", nil)
	if err != nil {
		t.Fatalf("NewDatabase() error = %v", err)
	}

	data := db.File("Fresh")
	if data.Folder() != "" {
		t.Errorf("data folder = %q, want empty", data.Folder())
	}
	if data.SizeKB() != dbcfg.FallbackDataSizeKB {
		t.Errorf("data size = %g, want %d", data.SizeKB(), dbcfg.FallbackDataSizeKB)
	}
	if !data.Autogrowth().HasSameValueAs(dbcfg.DefaultAutogrowth()) {
		t.Errorf("data growth = %v, want default", data.Autogrowth())
	}

	log := db.File("Fresh_log")
	if log.Folder() != "/var/opt/mssql/data" || log.SizeKB() != 8192 {
		t.Errorf("log file %g KB in %q, want template values", log.SizeKB(), log.Folder())
	}

	if rm, _ := db.Get(dbcfg.PropRecoveryModel); rm != dbcfg.RecoveryFull {
		t.Errorf("recovery model = %v, want default FULL", rm)
	}
}

func TestNewDatabase_TemplateFailure(t *testing.T) {
	s := testutil.NewTestServer()
	s.Fail("read settings model", errors.New("connection reset"))

	if _, err := dbcfg.NewDatabase(s, "Fresh", nil); err == nil {
		t.Error("NewDatabase() succeeded, want the template error")
	}
}

func TestDatabasePrototype_Settings(t *testing.T) {
	s := testutil.NewTestServer("Sales")
	s.SetSupported(dbcfg.PropRecoveryModel, dbcfg.PropAutoShrink)
	db := testutil.MustLoad(t, s, "Sales")

	var events []dbcfg.Property
	db.OnPropertyChanged(func(p dbcfg.Property, prev, next any) { events = append(events, p) })

	if err := db.Set(dbcfg.PropRecoveryModel, "simple"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := db.Set(dbcfg.PropRecoveryModel, dbcfg.RecoverySimple); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := db.Set(dbcfg.PropCompatibilityLevel, int64(140)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if len(events) != 2 {
		t.Errorf("change events = %v, want RecoveryModel and CompatibilityLevel once each", events)
	}

	changes := db.Changes()
	if len(changes) != 1 || changes[0].Action != dbcfg.ActionAlter {
		t.Fatalf("Changes() = %v, want one alter", changes)
	}
	if props := changes[0].Properties; len(props) != 1 || props[0] != "RecoveryModel" {
		t.Errorf("changed properties = %v, want only the supported RecoveryModel", props)
	}

	tests := []struct {
		name  string
		prop  dbcfg.Property
		value any
		is    error
	}{
		{name: "unknown", prop: "Bogus", value: true, is: dbcfg.ErrUnknownProperty},
		{name: "wrong type", prop: dbcfg.PropAutoShrink, value: "yes"},
		{name: "bad enum", prop: dbcfg.PropRecoveryModel, value: "partial"},
		{name: "fractional int", prop: dbcfg.PropCompatibilityLevel, value: 150.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := db.Set(tt.prop, tt.value)
			if err == nil {
				t.Fatal("Set() succeeded")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("Set() error = %v, want %v", err, tt.is)
			}
		})
	}
}

func TestDatabasePrototype_AddFilegroup(t *testing.T) {
	s := testutil.NewTestServer("Sales")
	db := testutil.MustLoad(t, s, "Sales")

	if _, err := db.AddFilegroup("ARCHIVE", dbcfg.RowsFilegroup); err != nil {
		t.Fatalf("AddFilegroup() error = %v", err)
	}
	if _, err := db.AddFilegroup("archive", dbcfg.RowsFilegroup); !errors.Is(err, dbcfg.ErrAlreadyExists) {
		t.Errorf("duplicate AddFilegroup() error = %v, want ErrAlreadyExists", err)
	}
	if _, err := db.AddFilegroup("DOCS", dbcfg.FileStreamFilegroup); err != nil {
		t.Errorf("AddFilegroup(filestream) error = %v", err)
	}

	s.SetSupported(dbcfg.PropRecoveryModel)
	limited := testutil.MustLoad(t, s, "Sales")
	if _, err := limited.AddFilegroup("DOCS", dbcfg.FileStreamFilegroup); !errors.Is(err, dbcfg.ErrUnsupported) {
		t.Errorf("AddFilegroup(filestream) on limited engine error = %v, want ErrUnsupported", err)
	}
	if _, err := limited.AddFilegroup("IMOLTP", dbcfg.MemoryOptimizedFilegroup); !errors.Is(err, dbcfg.ErrUnsupported) {
		t.Errorf("AddFilegroup(memory optimized) on limited engine error = %v, want ErrUnsupported", err)
	}
}

func TestDatabasePrototype_DefaultFilegroupIsExclusive(t *testing.T) {
	s := testutil.NewTestServer("Sales")
	db := testutil.MustLoad(t, s, "Sales")

	archive, _ := db.AddFilegroup("ARCHIVE", dbcfg.RowsFilegroup)
	docs, _ := db.AddFilegroup("DOCS", dbcfg.FileStreamFilegroup)
	docs.SetDefault(true)
	archive.SetDefault(true)

	if db.Filegroup(dbcfg.PrimaryFilegroupName).IsDefault() {
		t.Error("PRIMARY is still default")
	}
	if got := db.DefaultFilegroup(dbcfg.RowsFilegroup); got != archive {
		t.Errorf("rows default = %v, want ARCHIVE", got)
	}
	if got := db.DefaultFilegroup(dbcfg.FileStreamFilegroup); got != docs {
		t.Errorf("filestream default = %v, want DOCS (kinds are independent)", got)
	}

	if err := archive.SetDefault(false); !errors.Is(err, dbcfg.ErrDefaultRequired) {
		t.Errorf("clearing the rows default error = %v, want ErrDefaultRequired", err)
	}
	if got := db.DefaultFilegroup(dbcfg.RowsFilegroup); got != archive {
		t.Errorf("rows default after rejected clear = %v, want ARCHIVE", got)
	}
	primary := db.Filegroup(dbcfg.PrimaryFilegroupName)
	if err := primary.SetDefault(false); err != nil {
		t.Errorf("SetDefault(false) on a non-default error = %v", err)
	}
	if err := primary.SetDefault(true); err != nil || db.DefaultFilegroup(dbcfg.RowsFilegroup) != primary {
		t.Errorf("moving the default back: err %v, default %v", err, db.DefaultFilegroup(dbcfg.RowsFilegroup))
	}
	if primary.ChangesExist() || archive.IsDefault() {
		t.Errorf("after moving back: PRIMARY changed %v, ARCHIVE default %v", primary.ChangesExist(), archive.IsDefault())
	}
}

func TestFilegroupPrototype_SetName(t *testing.T) {
	s := testutil.NewTestServer("Sales")
	if err := s.AddFilegroup("Sales", "ARCHIVE", dbcfg.RowsFilegroup, "archive1"); err != nil {
		t.Fatal(err)
	}
	db := testutil.MustLoad(t, s, "Sales")

	if err := db.Filegroup("ARCHIVE").SetName("OLD"); !errors.Is(err, dbcfg.ErrFilegroupRenameUnsupported) {
		t.Errorf("renaming existing filegroup error = %v, want ErrFilegroupRenameUnsupported", err)
	}

	pending, _ := db.AddFilegroup("STAGE", dbcfg.RowsFilegroup)
	f, _ := db.AddFile("stage1", pending)
	if err := pending.SetName("archive"); !errors.Is(err, dbcfg.ErrAlreadyExists) {
		t.Errorf("renaming onto a taken name error = %v, want ErrAlreadyExists", err)
	}
	if err := pending.SetName("LOAD"); err != nil {
		t.Fatalf("SetName() error = %v", err)
	}
	if db.Filegroup("LOAD") != pending || f.Filegroup().Name() != "LOAD" {
		t.Error("renamed filegroup not found by its new name")
	}
	for _, c := range db.Changes() {
		if c.Name == "STAGE" {
			t.Errorf("Changes() still mention the old name: %v", c)
		}
	}
}

func TestFilePrototype_Edits(t *testing.T) {
	s := testutil.NewTestServer("Sales")
	db := testutil.MustLoad(t, s, "Sales")
	primary := db.File("Sales")
	log := db.File("Sales_log")

	t.Run("physical name", func(t *testing.T) {
		f, _ := db.AddFile("extra", db.Filegroup(dbcfg.PrimaryFilegroupName))
		var nameErr *dbcfg.InvalidNameError
		if err := f.SetPhysicalName("bad:name.ndf"); !errors.As(err, &nameErr) || nameErr.Char != ':' {
			t.Errorf("SetPhysicalName() error = %v, want InvalidNameError on ':'", err)
		}
		if err := f.SetPhysicalName("extra.ndf"); err != nil || f.ExplicitPhysicalName() != "" {
			t.Errorf("derived name kept as explicit %q (err %v)", f.ExplicitPhysicalName(), err)
		}
		if err := f.SetPhysicalName("extra_2026.ndf"); err != nil {
			t.Fatalf("SetPhysicalName() error = %v", err)
		}
		if got := f.FullPath(); got != "/var/opt/mssql/data/extra_2026.ndf" {
			t.Errorf("FullPath() = %q", got)
		}
		if err := f.SetFolder(`D:\data`); err != nil {
			t.Fatalf("SetFolder() error = %v", err)
		}
		if got := f.FullPath(); got != `D:\data\extra_2026.ndf` {
			t.Errorf("FullPath() = %q, want backslash join", got)
		}
		if err := f.SetFolder(" "); err == nil {
			t.Error("SetFolder(blank) succeeded")
		}
	})

	t.Run("existing file location is fixed", func(t *testing.T) {
		if err := primary.SetFolder("/mnt/fast"); !errors.Is(err, dbcfg.ErrPathImmutable) {
			t.Errorf("SetFolder() on existing file error = %v, want ErrPathImmutable", err)
		}
		if err := primary.SetPhysicalName("moved.mdf"); !errors.Is(err, dbcfg.ErrPathImmutable) {
			t.Errorf("SetPhysicalName() on existing file error = %v, want ErrPathImmutable", err)
		}
		if err := primary.SetFolder(primary.Folder()); err != nil {
			t.Errorf("SetFolder(current) error = %v", err)
		}
		if err := primary.SetPhysicalName(primary.PhysicalFileName()); err != nil {
			t.Errorf("SetPhysicalName(current) error = %v", err)
		}
		if got := primary.FullPath(); got != "/var/opt/mssql/data/Sales.mdf" {
			t.Errorf("FullPath() = %q", got)
		}
		if primary.ChangesExist() {
			t.Error("rejected location edits counted as changes")
		}
	})

	t.Run("rename onto a taken name", func(t *testing.T) {
		if err := primary.SetName("sales_log"); !errors.Is(err, dbcfg.ErrAlreadyExists) {
			t.Errorf("SetName(taken) error = %v, want ErrAlreadyExists", err)
		}
		if err := log.SetName("Sales_log"); err != nil {
			t.Errorf("SetName(own name) error = %v", err)
		}
		if primary.Name() != "Sales" || primary.ChangesExist() {
			t.Errorf("rejected rename stored: name %q", primary.Name())
		}
	})

	t.Run("size", func(t *testing.T) {
		if err := primary.SetSizeMB(-1); err == nil {
			t.Error("negative size accepted")
		}
		if err := primary.SetSizeKB(8192 + 1e-9); err != nil {
			t.Fatal(err)
		}
		if primary.ChangesExist() {
			t.Error("size change within tolerance counted as change")
		}
	})

	t.Run("growth", func(t *testing.T) {
		err := primary.SetAutogrowth(dbcfg.AutogrowthPolicy{IsEnabled: true, IsGrowthInPercent: true})
		if !errors.Is(err, dbcfg.ErrInvalidGrowth) {
			t.Errorf("SetAutogrowth() error = %v, want ErrInvalidGrowth", err)
		}
		if primary.ChangesExist() {
			t.Error("rejected growth was stored")
		}
	})

	t.Run("filegroup moves", func(t *testing.T) {
		archive, _ := db.AddFilegroup("ARCHIVE", dbcfg.RowsFilegroup)
		docs, _ := db.AddFilegroup("DOCS", dbcfg.FileStreamFilegroup)
		if err := primary.SetFilegroup(archive); !errors.Is(err, dbcfg.ErrUnsupported) {
			t.Errorf("moving an existing file error = %v, want ErrUnsupported", err)
		}
		if err := log.SetFilegroup(archive); err == nil {
			t.Error("log file moved into a filegroup")
		}
		pending, _ := db.AddFile("moving", db.Filegroup(dbcfg.PrimaryFilegroupName))
		if err := pending.SetFilegroup(docs); err == nil {
			t.Error("data file moved into a filestream filegroup")
		}
		if err := pending.SetFilegroup(archive); err != nil || pending.Filegroup() != archive {
			t.Errorf("SetFilegroup() error = %v, filegroup %v", err, pending.Filegroup())
		}
	})

	t.Run("duplicates and removal guards", func(t *testing.T) {
		if _, err := db.AddLogFile("sales_LOG"); !errors.Is(err, dbcfg.ErrAlreadyExists) {
			t.Errorf("AddLogFile(duplicate) error = %v, want ErrAlreadyExists", err)
		}
		if err := db.RemoveFile(primary); !errors.Is(err, dbcfg.ErrPrimaryFilegroup) {
			t.Errorf("RemoveFile(primary) error = %v, want ErrPrimaryFilegroup", err)
		}
		if err := db.RemoveFilegroup(db.Filegroup("primary")); !errors.Is(err, dbcfg.ErrPrimaryFilegroup) {
			t.Errorf("RemoveFilegroup(PRIMARY) error = %v, want ErrPrimaryFilegroup", err)
		}
		if err := db.RemoveFile(nil); !errors.Is(err, dbcfg.ErrNotFound) {
			t.Errorf("RemoveFile(nil) error = %v, want ErrNotFound", err)
		}
	})
}

func TestDatabasePrototype_Status(t *testing.T) {
	s := testutil.NewTestServer("Sales")
	db := testutil.MustLoad(t, s, "Sales")

	if st, err := db.Status(); err != nil || st != dbcfg.StatusNormal {
		t.Errorf("Status() = %q, %v, want ONLINE", st, err)
	}

	s.Fail("read state Sales", denied("VIEW DATABASE STATE denied"))
	if st, err := db.Status(); err != nil || st != dbcfg.StatusInaccessible {
		t.Errorf("Status() = %q, %v, want INACCESSIBLE", st, err)
	}

	s.Fail("read state Sales", errors.New("timeout"))
	if _, err := db.Status(); err == nil {
		t.Error("Status() hid a non-permission failure")
	}
}

func TestDatabasePrototype_Properties(t *testing.T) {
	s := testutil.NewTestServer("Sales")
	db := testutil.MustLoad(t, s, "Sales")

	props := db.Properties()
	if props["name"] != "Sales" || props["exists"] != true || props["state"] != "ONLINE" {
		t.Errorf("Properties() = %v", props)
	}
	files, ok := props["files"].([]map[string]any)
	if !ok || len(files) != 2 {
		t.Fatalf("files = %v, want two", props["files"])
	}
	if files[0]["path"] != "/var/opt/mssql/data/Sales.mdf" || files[0]["filegroup"] != "PRIMARY" {
		t.Errorf("primary file = %v", files[0])
	}
}
