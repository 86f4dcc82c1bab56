package dbcfg

type eventKind int

const (
	eventRenamed eventKind = iota
	eventDefaultChanged
	eventDeleted
)

// filegroupEvent is a structural change to a filegroup.
type filegroupEvent struct {
	kind      eventKind
	filegroup *FilegroupPrototype
	oldName   string              // eventRenamed
	fallback  *FilegroupPrototype // eventDeleted; nil when no filegroup of the kind is left
}

// cascadeResult is what a member file did with a deleted filegroup.
type cascadeResult int

const (
	cascadeReassigned cascadeResult = iota
	cascadeRemoved
	cascadeDiscarded
)

// dispatcher delivers filegroup events synchronously: member files first,
// then the owning aggregate. It replaces any kind of event bus; every
// subscription is explicit.
type dispatcher struct {
	members map[*FilegroupPrototype][]*FilePrototype

	// Hooks installed by the aggregate.
	nameTaken     func(fg *FilegroupPrototype, name string) bool
	fileNameTaken func(f *FilePrototype, name string) bool
	onEvent       func(ev filegroupEvent)
	onCascade     func(f *FilePrototype, r cascadeResult)
}

func newDispatcher() *dispatcher {
	return &dispatcher{members: make(map[*FilegroupPrototype][]*FilePrototype)}
}

func (d *dispatcher) subscribe(fg *FilegroupPrototype, f *FilePrototype) {
	if fg == nil {
		return
	}
	for _, m := range d.members[fg] {
		if m == f {
			return
		}
	}
	d.members[fg] = append(d.members[fg], f)
}

func (d *dispatcher) unsubscribe(fg *FilegroupPrototype, f *FilePrototype) {
	ms := d.members[fg]
	for i, m := range ms {
		if m == f {
			d.members[fg] = append(ms[:i:i], ms[i+1:]...)
			break
		}
	}
	if len(d.members[fg]) == 0 {
		delete(d.members, fg)
	}
}

// membersOf returns the files currently subscribed to fg.
func (d *dispatcher) membersOf(fg *FilegroupPrototype) []*FilePrototype {
	return append([]*FilePrototype(nil), d.members[fg]...)
}

func (d *dispatcher) dispatch(ev filegroupEvent) {
	if ev.kind == eventDeleted {
		// Handlers unsubscribe while we iterate.
		for _, f := range d.membersOf(ev.filegroup) {
			r := f.filegroupDeleted(ev)
			if d.onCascade != nil {
				d.onCascade(f, r)
			}
		}
	}
	if d.onEvent != nil {
		d.onEvent(ev)
	}
}
