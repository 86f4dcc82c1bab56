package dbcfg

import "fmt"

// Action is what applying a change does to an engine object.
type Action string

const (
	ActionCreate Action = "create"
	ActionAlter  Action = "alter"
	ActionDrop   Action = "drop"
)

// Entity kinds reported in a Change.
const (
	EntityDatabase  = "database"
	EntityFilegroup = "filegroup"
	EntityFile      = "file"
)

// Change is one entry of a plan.
type Change struct {
	Entity     string
	Name       string
	Action     Action
	Properties []string
}

func (c Change) String() string {
	if len(c.Properties) == 0 {
		return fmt.Sprintf("%s %s %s", c.Action, c.Entity, c.Name)
	}
	return fmt.Sprintf("%s %s %s %v", c.Action, c.Entity, c.Name, c.Properties)
}

// Changes lists what ApplyChanges would do, in the order it would do it.
// Deferred settings and default filegroups are reported under the
// database and the filegroup they belong to.
func (db *DatabasePrototype) Changes() []Change {
	var out []Change
	for _, fg := range db.filegroups {
		if c, ok := fg.change(); ok {
			out = append(out, c)
		}
	}
	for _, f := range db.files {
		if c, ok := f.change(); ok {
			out = append(out, c)
		}
	}

	props := make([]string, 0)
	for _, p := range db.changedSettings() {
		props = append(props, string(p))
	}
	switch {
	case !db.exists:
		out = append(out, Change{Entity: EntityDatabase, Name: db.name, Action: ActionCreate, Properties: props})
	case len(props) > 0:
		out = append(out, Change{Entity: EntityDatabase, Name: db.name, Action: ActionAlter, Properties: props})
	}

	for _, fg := range removalOrder(db.removedFilegroups) {
		out = append(out, Change{Entity: EntityFilegroup, Name: fg.original.name, Action: ActionDrop})
	}
	for _, f := range db.removedFiles {
		out = append(out, Change{Entity: EntityFile, Name: f.original.name, Action: ActionDrop})
	}
	return out
}

func (fg *FilegroupPrototype) change() (Change, bool) {
	if !fg.ChangesExist() || fg.removed {
		return Change{}, false
	}
	c := Change{Entity: EntityFilegroup, Name: fg.current.name, Action: ActionAlter}
	if !fg.exists {
		c.Action = ActionCreate
	}
	o, cur := fg.original, fg.current
	if !fg.exists {
		o = filegroupState{}
	}
	if o.isDefault != cur.isDefault {
		c.Properties = append(c.Properties, "default")
	}
	if o.readOnly != cur.readOnly {
		c.Properties = append(c.Properties, "read_only")
	}
	if o.autogrowAllFiles != cur.autogrowAllFiles {
		c.Properties = append(c.Properties, "autogrow_all_files")
	}
	return c, true
}

func (f *FilePrototype) change() (Change, bool) {
	if !f.ChangesExist() || f.removed {
		return Change{}, false
	}
	if !f.exists {
		return Change{Entity: EntityFile, Name: f.current.name, Action: ActionCreate}, true
	}
	o, cur := f.original, f.current
	c := Change{Entity: EntityFile, Name: cur.name, Action: ActionAlter}
	if o.name != cur.name {
		c.Properties = append(c.Properties, "name")
	}
	if differs(o.sizeKB, cur.sizeKB) {
		c.Properties = append(c.Properties, "size")
	}
	if !o.growth.HasSameValueAs(cur.growth) {
		c.Properties = append(c.Properties, "growth")
	}
	return c, true
}
