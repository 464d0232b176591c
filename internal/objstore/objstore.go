// Package objstore loads commits, directories and file contents from a
// content-addressed object store.
//
// Object ids are the hex SHA-1 of an object's canonical encoding, so equal
// content always has an equal id. EmptyID names the empty tree.
package objstore

import (
	"context"
	"fmt"
	"strings"
)

// EmptyID is the reserved id of the empty tree.
const EmptyID = "0000000000000000000000000000000000000000"

// IsEmpty reports whether id denotes the empty tree. The empty string is
// treated the same as EmptyID.
func IsEmpty(id string) bool {
	return id == "" || id == EmptyID
}

// EntryType distinguishes files from directories in a directory listing.
type EntryType int

const (
	// TypeFile is a regular file.
	TypeFile EntryType = iota
	// TypeDir is a subdirectory.
	TypeDir
)

// String returns "file" or "dir".
func (t EntryType) String() string {
	if t == TypeDir {
		return "dir"
	}
	return "file"
}

// MarshalText implements encoding.TextMarshaler.
func (t EntryType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *EntryType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "file":
		*t = TypeFile
	case "dir":
		*t = TypeDir
	default:
		return fmt.Errorf("unknown entry type %q", b)
	}
	return nil
}

// DirEntry is one entry of a directory object.
type DirEntry struct {
	Name  string    `json:"name"`
	ID    string    `json:"id"`
	Type  EntryType `json:"type"`
	MTime int64     `json:"mtime"`
	Size  int64     `json:"size,omitempty"`
}

// IsDir reports whether the entry is a subdirectory.
func (e DirEntry) IsDir() bool {
	return e.Type == TypeDir
}

// Commit is an immutable snapshot of a repository.
type Commit struct {
	ID          string `json:"commit_id"`
	RepoID      string `json:"repo_id"`
	RootID      string `json:"root_id"`
	ParentID    string `json:"parent_id,omitempty"`
	Description string `json:"description,omitempty"`
	CTime       int64  `json:"ctime"`
	Version     int    `json:"version"`
}

// Store is the read side of the object store.
//
// Missing objects are reported with an error matching
// errors.ErrObjectNotFound from the internal errors package.
type Store interface {
	LoadCommit(ctx context.Context, repoID, commitID string) (*Commit, error)
	// LoadDirectory returns the entries of a directory. The returned slice
	// must not be modified. EmptyID yields no entries.
	LoadDirectory(ctx context.Context, repoID string, version int, dirID string) ([]DirEntry, error)
	LoadFileContent(ctx context.Context, repoID string, version int, fileID string) ([]byte, error)
}

// Writer stores new objects and returns their ids.
type Writer interface {
	PutFile(ctx context.Context, repoID string, content []byte) (string, error)
	PutDir(ctx context.Context, repoID string, entries []DirEntry) (string, error)
	PutCommit(ctx context.Context, c Commit) (string, error)
}

// ReadWriter is a store that can also write objects.
type ReadWriter interface {
	Store
	Writer
}

// Join appends a name to a directory path. The root is "/".
func Join(dir, name string) string {
	if dir == "/" || dir == "" {
		return "/" + name
	}
	return strings.TrimSuffix(dir, "/") + "/" + name
}
