package logfs

import (
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/keks/flashfs"
)

type entry struct {
	name string
	id   flashfs.FileID

	addr, size uint32

	versioned bool
	deleted   bool
}

func (e *entry) info() flashfs.FileInfo {
	return flashfs.FileInfo{
		Name: e.name,
		ID:   e.id,
		Addr: e.addr,
		Size: e.size,
	}
}

// fileTable is the in-memory index folded from the header log. Later
// records shadow earlier ones.
type fileTable struct {
	byName map[string]*entry
	byID   map[flashfs.FileID]*entry
	maxID  flashfs.FileID
}

func newFileTable() *fileTable {
	return &fileTable{
		byName: make(map[string]*entry),
		byID:   make(map[flashfs.FileID]*entry),
	}
}

func (ft *fileTable) apply(r Record) error {
	switch r.State {
	case StateIdentity:
		e, ok := ft.byID[r.ID]
		if ok {
			if e.deleted {
				return errors.Wrapf(ErrCorrupt, "identity for deleted file id %d", r.ID)
			}
			if e.name != r.Name {
				return errors.Wrapf(ErrCorrupt, "file id %d renamed from %q to %q", r.ID, e.name, r.Name)
			}
		} else {
			e = &entry{name: r.Name, id: r.ID}
			ft.byID[r.ID] = e
		}

		ft.byName[r.Name] = e
		if r.ID > ft.maxID {
			ft.maxID = r.ID
		}

	case StateVersion:
		e, ok := ft.byID[r.ID]
		if !ok || e.deleted {
			return errors.Wrapf(ErrCorrupt, "version for unknown file id %d", r.ID)
		}

		e.addr, e.size = r.Addr, r.Size
		e.versioned = true

	case StateTombstone:
		e, ok := ft.byID[r.ID]
		if !ok {
			return errors.Wrapf(ErrCorrupt, "tombstone for unknown file id %d", r.ID)
		}

		e.deleted = true
		if ft.byName[e.name] == e {
			delete(ft.byName, e.name)
		}

	default:
		return errors.Wrapf(ErrCorrupt, "cannot apply %s record", r.State)
	}

	return nil
}

// binding returns the entry name is bound to, even if no version has been
// written for it yet.
func (ft *fileTable) binding(name string) (*entry, bool) {
	e, ok := ft.byName[name]
	return e, ok
}

// lookup returns the live entry for name.
func (ft *fileTable) lookup(name string) (*entry, bool) {
	e, ok := ft.byName[name]
	if !ok || !e.versioned {
		return nil, false
	}
	return e, true
}

// live returns all live entries ordered by id.
func (ft *fileTable) live() []*entry {
	var es []*entry
	for _, e := range ft.byName {
		if e.versioned {
			es = append(es, e)
		}
	}

	sort.Slice(es, func(i, j int) bool { return es[i].id < es[j].id })
	return es
}

func (ft *fileTable) nextID() (flashfs.FileID, error) {
	if ft.maxID == math.MaxUint16 {
		return 0, errors.Wrap(ErrHeaderFull, "file ids exhausted")
	}
	return ft.maxID + 1, nil
}
