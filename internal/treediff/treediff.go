// Package treediff computes the changes between two directory snapshots of
// a repository without loading subtrees whose ids did not change.
package treediff

import (
	"context"
	"fmt"
	"sort"

	"github.com/Aman-CERP/repoindex/internal/objstore"
)

// Kind is the change kind of an Entry.
type Kind int

const (
	// Added is a path present only in the new snapshot.
	Added Kind = iota
	// Deleted is a path present only in the old snapshot.
	Deleted
	// Modified is a file whose object id changed.
	Modified
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Deleted:
		return "deleted"
	case Modified:
		return "modified"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Entry is one change between two snapshots.
//
// ObjectID, MTime and Size describe the new object and are zero for
// Deleted entries. MTime and Size are also zero for directories. A file
// replaced by a directory (or the reverse) appears as Deleted plus Added,
// never as Modified.
type Entry struct {
	Kind     Kind
	Type     objstore.EntryType
	Path     string
	ObjectID string
	MTime    int64
	Size     int64
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return e.Type == objstore.TypeDir
}

// String renders the entry for logs and test failures.
func (e Entry) String() string {
	return fmt.Sprintf("%s(%s, %s, %s)", e.Kind, e.Type, e.Path, e.ObjectID)
}

// Stats counts entries by kind.
type Stats struct {
	Added    int
	Deleted  int
	Modified int
}

// Count tallies entries by kind.
func Count(entries []Entry) Stats {
	var s Stats
	for _, e := range entries {
		switch e.Kind {
		case Added:
			s.Added++
		case Deleted:
			s.Deleted++
		case Modified:
			s.Modified++
		}
	}
	return s
}

// Differ walks pairs of directory trees loaded from an object store.
type Differ struct {
	store objstore.Store
}

// New creates a Differ reading from store.
func New(store objstore.Store) *Differ {
	return &Differ{store: store}
}

type pair struct {
	path   string
	oldDir string
	newDir string
}

// Diff returns every change between oldRoot and newRoot. Wholly added
// directories are expanded so that every file under them is reported as
// Added. Wholly deleted directories are reported once and not expanded.
func (d *Differ) Diff(ctx context.Context, repoID string, version int, oldRoot, newRoot string) ([]Entry, error) {
	entries, err := d.Compare(ctx, repoID, version, oldRoot, newRoot)
	if err != nil {
		return nil, err
	}
	return d.Expand(ctx, repoID, version, entries)
}

// Compare performs the paired walk. A wholly added directory is reported
// as a single Added directory entry; use Expand to enumerate its contents.
func (d *Differ) Compare(ctx context.Context, repoID string, version int, oldRoot, newRoot string) ([]Entry, error) {
	switch {
	case oldRoot == newRoot, objstore.IsEmpty(oldRoot) && objstore.IsEmpty(newRoot):
		return nil, nil
	case objstore.IsEmpty(oldRoot):
		return []Entry{{Kind: Added, Type: objstore.TypeDir, Path: "/", ObjectID: newRoot}}, nil
	case objstore.IsEmpty(newRoot):
		return []Entry{{Kind: Deleted, Type: objstore.TypeDir, Path: "/"}}, nil
	}

	var out []Entry
	queue := []pair{{path: "/", oldDir: oldRoot, newDir: newRoot}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := queue[0]
		queue = queue[1:]

		oldEntries, err := d.store.LoadDirectory(ctx, repoID, version, p.oldDir)
		if err != nil {
			return nil, fmt.Errorf("load old directory %s (%s): %w", p.path, p.oldDir, err)
		}
		newEntries, err := d.store.LoadDirectory(ctx, repoID, version, p.newDir)
		if err != nil {
			return nil, fmt.Errorf("load new directory %s (%s): %w", p.path, p.newDir, err)
		}

		pending := make(map[string]objstore.DirEntry, len(newEntries))
		for _, e := range newEntries {
			pending[e.Name] = e
		}

		for _, oe := range oldEntries {
			if oe.IsDir() {
				continue
			}
			childPath := objstore.Join(p.path, oe.Name)
			ne, ok := pending[oe.Name]
			switch {
			case !ok || ne.IsDir():
				out = append(out, Entry{Kind: Deleted, Type: objstore.TypeFile, Path: childPath})
			case ne.ID == oe.ID:
				delete(pending, oe.Name)
			default:
				out = append(out, fileEntry(Modified, childPath, ne))
				delete(pending, oe.Name)
			}
		}

		for _, name := range sortedNames(pending, objstore.TypeFile) {
			out = append(out, fileEntry(Added, objstore.Join(p.path, name), pending[name]))
			delete(pending, name)
		}

		for _, oe := range oldEntries {
			if !oe.IsDir() {
				continue
			}
			childPath := objstore.Join(p.path, oe.Name)
			ne, ok := pending[oe.Name]
			switch {
			case !ok || !ne.IsDir():
				out = append(out, Entry{Kind: Deleted, Type: objstore.TypeDir, Path: childPath})
			case ne.ID == oe.ID:
				delete(pending, oe.Name)
			default:
				queue = append(queue, pair{path: childPath, oldDir: oe.ID, newDir: ne.ID})
				delete(pending, oe.Name)
			}
		}

		for _, name := range sortedNames(pending, objstore.TypeDir) {
			out = append(out, Entry{
				Kind:     Added,
				Type:     objstore.TypeDir,
				Path:     objstore.Join(p.path, name),
				ObjectID: pending[name].ID,
			})
		}
	}

	return out, nil
}

// Expand returns entries with the full subtree of every Added directory
// appended after it. The enumeration uses an explicit queue and performs
// no comparison.
func (d *Differ) Expand(ctx context.Context, repoID string, version int, entries []Entry) ([]Entry, error) {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
		if e.Kind != Added || !e.IsDir() {
			continue
		}

		queue := []pair{{path: e.Path, newDir: e.ObjectID}}
		for len(queue) > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			p := queue[0]
			queue = queue[1:]

			children, err := d.store.LoadDirectory(ctx, repoID, version, p.newDir)
			if err != nil {
				return nil, fmt.Errorf("enumerate directory %s (%s): %w", p.path, p.newDir, err)
			}
			for _, c := range children {
				childPath := objstore.Join(p.path, c.Name)
				if c.IsDir() {
					out = append(out, Entry{Kind: Added, Type: objstore.TypeDir, Path: childPath, ObjectID: c.ID})
					queue = append(queue, pair{path: childPath, newDir: c.ID})
					continue
				}
				out = append(out, fileEntry(Added, childPath, c))
			}
		}
	}
	return out, nil
}

func fileEntry(kind Kind, path string, e objstore.DirEntry) Entry {
	return Entry{
		Kind:     kind,
		Type:     objstore.TypeFile,
		Path:     path,
		ObjectID: e.ID,
		MTime:    e.MTime,
		Size:     e.Size,
	}
}

func sortedNames(m map[string]objstore.DirEntry, t objstore.EntryType) []string {
	var names []string
	for name, e := range m {
		if e.Type == t {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
