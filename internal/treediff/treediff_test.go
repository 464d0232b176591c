package treediff

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/repoindex/internal/objstore"
)

func buildTree(t *testing.T, store *objstore.Memory, files map[string]string) string {
	t.Helper()
	id, err := objstore.NewBuilder(store).Tree(context.Background(), "r1", files)
	require.NoError(t, err)
	return id
}

func fileID(t *testing.T, store *objstore.Memory, content string) string {
	t.Helper()
	id, err := store.PutFile(context.Background(), "r1", []byte(content))
	require.NoError(t, err)
	return id
}

func summarize(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, fmt.Sprintf("%s %s %s", e.Kind, e.Type, e.Path))
	}
	sort.Strings(out)
	return out
}

func TestDiff_IdenticalRootsAreEmpty(t *testing.T) {
	store := objstore.NewMemory()
	root := buildTree(t, store, map[string]string{"/a.txt": "a", "/d/b.txt": "b"})
	d := New(store)

	tests := []struct {
		name string
		root string
	}{
		{"populated", root},
		{"sentinel", objstore.EmptyID},
		{"empty string", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := d.Diff(context.Background(), "r1", 1, tt.root, tt.root)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestDiff_EmptyRepoGainsOneFile(t *testing.T) {
	// Given: an empty old tree and a new tree with one file
	store := objstore.NewMemory()
	newRoot := buildTree(t, store, map[string]string{"/a.txt": "one"})
	id1 := fileID(t, store, "one")

	// When: diffing
	entries, err := New(store).Diff(context.Background(), "r1", 1, objstore.EmptyID, newRoot)
	require.NoError(t, err)

	// Then: the only file entry is Added(File, /a.txt, id1)
	var files []Entry
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, e)
		}
	}
	require.Len(t, files, 1)
	assert.Equal(t, Added, files[0].Kind)
	assert.Equal(t, "/a.txt", files[0].Path)
	assert.Equal(t, id1, files[0].ObjectID)
	assert.Equal(t, int64(3), files[0].Size)
}

func TestDiff_ChangedFileIsModified(t *testing.T) {
	// Given: /a.txt changes content at the same path
	store := objstore.NewMemory()
	oldRoot := buildTree(t, store, map[string]string{"/a.txt": "v1"})
	newRoot := buildTree(t, store, map[string]string{"/a.txt": "v2"})

	// When: diffing
	entries, err := New(store).Diff(context.Background(), "r1", 1, oldRoot, newRoot)
	require.NoError(t, err)

	// Then: a single Modified entry carries the new id
	require.Len(t, entries, 1)
	assert.Equal(t, Modified, entries[0].Kind)
	assert.Equal(t, "/a.txt", entries[0].Path)
	assert.Equal(t, fileID(t, store, "v2"), entries[0].ObjectID)
}

func TestDiff_RemovedDirectoryIsSingleDelete(t *testing.T) {
	// Given: /docs with a file is removed entirely
	store := objstore.NewMemory()
	oldRoot := buildTree(t, store, map[string]string{"/docs/x": "x", "/docs/sub/y": "y", "/keep": "k"})
	newRoot := buildTree(t, store, map[string]string{"/keep": "k"})

	// When: diffing
	entries, err := New(store).Diff(context.Background(), "r1", 1, oldRoot, newRoot)
	require.NoError(t, err)

	// Then: one Deleted(Dir, /docs) and nothing for its children
	assert.Equal(t, []string{"deleted dir /docs"}, summarize(entries))
}

func TestDiff_TypeChangesAreDeletePlusAdd(t *testing.T) {
	// Given: /p turns from a file into a directory and /q from a directory into a file
	store := objstore.NewMemory()
	oldRoot := buildTree(t, store, map[string]string{"/p": "file", "/q/inner": "i"})
	newRoot := buildTree(t, store, map[string]string{"/p/child": "c", "/q": "now a file"})

	// When: diffing
	entries, err := New(store).Diff(context.Background(), "r1", 1, oldRoot, newRoot)
	require.NoError(t, err)

	// Then: each change is Deleted + Added, never Modified
	assert.Equal(t, []string{
		"added dir /p",
		"added file /p/child",
		"added file /q",
		"deleted dir /q",
		"deleted file /p",
	}, summarize(entries))
}

func TestDiff_NestedChangesRecurseOnlyIntoChangedDirs(t *testing.T) {
	// Given: a deep change in one branch and an untouched sibling branch
	store := objstore.NewMemory()
	untouched := map[string]string{}
	for i := 0; i < 20; i++ {
		untouched[fmt.Sprintf("/stable/dir%d/file", i)] = "same"
	}
	oldFiles := map[string]string{"/a/b/c/d.txt": "old", "/a/b/other.txt": "o"}
	newFiles := map[string]string{"/a/b/c/d.txt": "new", "/a/b/other.txt": "o", "/a/b/c/e.txt": "e"}
	for k, v := range untouched {
		oldFiles[k], newFiles[k] = v, v
	}
	oldRoot := buildTree(t, store, oldFiles)
	newRoot := buildTree(t, store, newFiles)
	readsBefore := store.Reads()

	// When: diffing
	entries, err := New(store).Diff(context.Background(), "r1", 1, oldRoot, newRoot)
	require.NoError(t, err)

	// Then: only the changed chain was loaded (root, a, b, c on both sides)
	assert.Equal(t, []string{"added file /a/b/c/e.txt", "modified file /a/b/c/d.txt"}, summarize(entries))
	assert.Equal(t, 8, store.Reads()-readsBefore)
}

func TestDiff_WhollyDeletedRoot(t *testing.T) {
	store := objstore.NewMemory()
	oldRoot := buildTree(t, store, map[string]string{"/a": "a"})

	entries, err := New(store).Diff(context.Background(), "r1", 1, oldRoot, objstore.EmptyID)
	require.NoError(t, err)

	assert.Equal(t, []string{"deleted dir /"}, summarize(entries))
}

func TestCompare_DoesNotExpandAddedDirs(t *testing.T) {
	// Given: a new directory with nested content
	store := objstore.NewMemory()
	oldRoot := buildTree(t, store, map[string]string{"/a": "a"})
	newRoot := buildTree(t, store, map[string]string{"/a": "a", "/new/x": "x", "/new/deep/y": "y"})
	d := New(store)

	// When: comparing without expansion
	compared, err := d.Compare(context.Background(), "r1", 1, oldRoot, newRoot)
	require.NoError(t, err)

	// Then: the directory is a single entry until expanded
	assert.Equal(t, []string{"added dir /new"}, summarize(compared))

	expanded, err := d.Expand(context.Background(), "r1", 1, compared)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"added dir /new",
		"added dir /new/deep",
		"added file /new/deep/y",
		"added file /new/x",
	}, summarize(expanded))
}

func TestDiff_MissingDirectoryFails(t *testing.T) {
	store := objstore.NewMemory()
	oldRoot := buildTree(t, store, map[string]string{"/a": "a"})

	_, err := New(store).Diff(context.Background(), "r1", 1, oldRoot, "3333333333333333333333333333333333333333")
	assert.Error(t, err)
}

func TestCount(t *testing.T) {
	s := Count([]Entry{{Kind: Added}, {Kind: Added}, {Kind: Deleted}, {Kind: Modified}})
	assert.Equal(t, Stats{Added: 2, Deleted: 1, Modified: 1}, s)
}

// randomTree produces a small tree whose paths and contents are drawn from
// a narrow vocabulary so that two draws overlap heavily.
func randomTree(r *rand.Rand) map[string]string {
	names := []string{"a", "b", "c", "d"}
	files := map[string]string{}
	n := 1 + r.Intn(12)
	for i := 0; i < n; i++ {
		depth := 1 + r.Intn(3)
		parts := make([]string, depth)
		for j := range parts {
			parts[j] = names[r.Intn(len(names))]
		}
		files["/"+strings.Join(parts, "/")] = fmt.Sprintf("v%d", r.Intn(3))
	}
	// Drop paths that collide with a directory prefix of another path.
	for p := range files {
		for q := range files {
			if strings.HasPrefix(q, p+"/") {
				delete(files, p)
				break
			}
		}
	}
	return files
}

// flatten lists path -> object id for every file reachable from root.
func flatten(t *testing.T, store *objstore.Memory, root string) map[string]string {
	t.Helper()
	entries, err := New(store).Diff(context.Background(), "r1", 1, objstore.EmptyID, root)
	require.NoError(t, err)
	out := map[string]string{}
	for _, e := range entries {
		if !e.IsDir() {
			_, dup := out[e.Path]
			require.False(t, dup, "duplicate path %s", e.Path)
			out[e.Path] = e.ObjectID
		}
	}
	return out
}

// apply replays entries onto a path -> id index: deletes first, then
// inserts, with directory deletes removing every path below them.
func apply(index map[string]string, entries []Entry) {
	for _, e := range entries {
		if e.Kind == Added || e.IsDir() && e.Kind != Deleted {
			continue
		}
		if e.IsDir() {
			prefix := strings.TrimSuffix(e.Path, "/") + "/"
			for p := range index {
				if strings.HasPrefix(p, prefix) {
					delete(index, p)
				}
			}
			continue
		}
		delete(index, e.Path)
	}
	for _, e := range entries {
		if e.Kind != Deleted && !e.IsDir() {
			index[e.Path] = e.ObjectID
		}
	}
}

func TestDiff_ApplyingDiffReproducesTarget(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	store := objstore.NewMemory()
	d := New(store)

	for i := 0; i < 200; i++ {
		t1 := buildTree(t, store, randomTree(r))
		t2 := buildTree(t, store, randomTree(r))

		entries, err := d.Diff(context.Background(), "r1", 1, t1, t2)
		require.NoError(t, err)

		// Every path appears at most once, except Deleted+Added type changes
		seen := map[string]Kind{}
		for _, e := range entries {
			if prev, ok := seen[e.Path]; ok {
				assert.True(t, prev == Deleted && e.Kind == Added || prev == Added && e.Kind == Deleted,
					"path %s reported twice", e.Path)
			}
			seen[e.Path] = e.Kind
		}

		index := flatten(t, store, t1)
		apply(index, entries)
		assert.Equal(t, flatten(t, store, t2), index, "iteration %d", i)

		// Idempotence: replaying the same diff changes nothing
		apply(index, entries)
		assert.Equal(t, flatten(t, store, t2), index, "iteration %d replay", i)
	}
}
