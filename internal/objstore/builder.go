package objstore

import (
	"context"
	"sort"
	"strings"
)

// DefaultMTime is the modification time Builder stamps on every entry, so
// identical trees always hash to identical ids.
const DefaultMTime int64 = 1700000000

// Builder writes whole trees into a store from a flat path listing. It is
// used by the CLI import path and by tests.
type Builder struct {
	w Writer
}

// NewBuilder returns a Builder writing to w.
func NewBuilder(w Writer) *Builder {
	return &Builder{w: w}
}

type buildNode struct {
	content  []byte
	isDir    bool
	children map[string]*buildNode
}

// Tree writes a tree and returns its root id. Keys are absolute paths
// such as "/docs/a.txt"; a key ending in "/" creates an empty directory.
func (b *Builder) Tree(ctx context.Context, repoID string, files map[string]string) (string, error) {
	root := &buildNode{isDir: true, children: map[string]*buildNode{}}
	for p, content := range files {
		dir := strings.HasSuffix(p, "/")
		parts := strings.Split(strings.Trim(p, "/"), "/")
		node := root
		for i, part := range parts {
			if part == "" {
				continue
			}
			last := i == len(parts)-1
			child, ok := node.children[part]
			if !ok {
				child = &buildNode{isDir: !last || dir, children: map[string]*buildNode{}}
				node.children[part] = child
			}
			if last && !dir {
				child.content = []byte(content)
			}
			node = child
		}
	}
	return b.write(ctx, repoID, root)
}

// write stores children before parents.
func (b *Builder) write(ctx context.Context, repoID string, n *buildNode) (string, error) {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]DirEntry, 0, len(names))
	for _, name := range names {
		child := n.children[name]
		e := DirEntry{Name: name, MTime: DefaultMTime}
		var err error
		if child.isDir {
			e.Type = TypeDir
			e.ID, err = b.write(ctx, repoID, child)
		} else {
			e.Type = TypeFile
			e.Size = int64(len(child.content))
			e.ID, err = b.w.PutFile(ctx, repoID, child.content)
		}
		if err != nil {
			return "", err
		}
		entries = append(entries, e)
	}
	return b.w.PutDir(ctx, repoID, entries)
}

// Commit writes a tree and a commit pointing at it.
func (b *Builder) Commit(ctx context.Context, repoID, parentID string, files map[string]string) (string, error) {
	rootID, err := b.Tree(ctx, repoID, files)
	if err != nil {
		return "", err
	}
	return b.w.PutCommit(ctx, Commit{
		RepoID:   repoID,
		RootID:   rootID,
		ParentID: parentID,
		CTime:    DefaultMTime,
		Version:  1,
	})
}
