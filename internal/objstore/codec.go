package objstore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	rerrors "github.com/Aman-CERP/repoindex/internal/errors"
)

// Object kinds, also used as directory names by the filesystem store.
const (
	kindCommit = "commits"
	kindDir    = "fs"
	kindBlock  = "blocks"
)

var objectIDPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// ValidID reports whether id is a well-formed object id.
func ValidID(id string) bool {
	return objectIDPattern.MatchString(id)
}

type dirObject struct {
	Version int        `json:"version"`
	Entries []DirEntry `json:"dirents"`
}

func hashOf(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// encodeDir produces the canonical encoding of a directory: entries sorted
// by name, so listing order never changes the id.
func encodeDir(entries []DirEntry) ([]byte, error) {
	sorted := make([]DirEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Name == sorted[i-1].Name {
			return nil, rerrors.ValidationError(fmt.Sprintf("duplicate directory entry %q", sorted[i].Name), nil)
		}
	}
	return json.Marshal(dirObject{Version: 1, Entries: sorted})
}

// blobStore is the raw byte layer under a content-addressed store.
type blobStore interface {
	read(ctx context.Context, repoID, kind, id string) ([]byte, error)
	write(ctx context.Context, repoID, kind, id string, data []byte) error
}

// objectStore implements ReadWriter over a blobStore.
type objectStore struct {
	blobs blobStore
}

func (s *objectStore) LoadCommit(ctx context.Context, repoID, commitID string) (*Commit, error) {
	data, err := s.blobs.read(ctx, repoID, kindCommit, commitID)
	if err != nil {
		return nil, err
	}

	var c Commit
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, rerrors.New(rerrors.ErrCodeObjectCorrupt, fmt.Sprintf("commit %s is corrupt", commitID), err)
	}
	c.ID = commitID
	return &c, nil
}

func (s *objectStore) LoadDirectory(ctx context.Context, repoID string, _ int, dirID string) ([]DirEntry, error) {
	if IsEmpty(dirID) {
		return nil, nil
	}

	data, err := s.blobs.read(ctx, repoID, kindDir, dirID)
	if err != nil {
		return nil, err
	}

	var d dirObject
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, rerrors.New(rerrors.ErrCodeObjectCorrupt, fmt.Sprintf("directory %s is corrupt", dirID), err)
	}
	return d.Entries, nil
}

func (s *objectStore) LoadFileContent(ctx context.Context, repoID string, _ int, fileID string) ([]byte, error) {
	if IsEmpty(fileID) {
		return nil, nil
	}
	return s.blobs.read(ctx, repoID, kindBlock, fileID)
}

func (s *objectStore) PutFile(ctx context.Context, repoID string, content []byte) (string, error) {
	if len(content) == 0 {
		return EmptyID, nil
	}
	id := hashOf(content)
	return id, s.blobs.write(ctx, repoID, kindBlock, id, content)
}

func (s *objectStore) PutDir(ctx context.Context, repoID string, entries []DirEntry) (string, error) {
	if len(entries) == 0 {
		return EmptyID, nil
	}
	data, err := encodeDir(entries)
	if err != nil {
		return "", err
	}
	id := hashOf(data)
	return id, s.blobs.write(ctx, repoID, kindDir, id, data)
}

func (s *objectStore) PutCommit(ctx context.Context, c Commit) (string, error) {
	if c.RepoID == "" {
		return "", rerrors.ValidationError("commit has no repo id", nil)
	}
	if c.RootID == "" {
		c.RootID = EmptyID
	}
	c.ID = ""
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	id := hashOf(data)
	return id, s.blobs.write(ctx, c.RepoID, kindCommit, id, data)
}

func notFound(repoID, kind, id string, cause error) error {
	return rerrors.NotFound(fmt.Sprintf("object %s/%s/%s not found", repoID, kind, id), cause).
		WithDetail("repo_id", repoID)
}
