package worker

import (
	"fmt"
	"strings"

	rerrors "github.com/Aman-CERP/repoindex/internal/errors"
)

// Op is a task operation.
type Op string

const (
	// OpUpdate updates a repository's index to the given commit, or to its
	// current head when no commit is given.
	OpUpdate Op = "update-index"

	// OpRebuild drops a repository's index and indexes it from scratch.
	OpRebuild Op = "rebuild-index"
)

// Task is one unit of queued work.
type Task struct {
	Op       Op
	RepoID   string
	CommitID string
}

// Encode returns the wire form: op, repository id and commit id separated
// by tabs.
func (t Task) Encode() string {
	return string(t.Op) + "\t" + t.RepoID + "\t" + t.CommitID
}

// ParseTask decodes a wire message. The commit field may be empty or
// missing.
func ParseTask(msg string) (Task, error) {
	parts := strings.Split(strings.TrimRight(msg, "\r\n"), "\t")
	if len(parts) < 2 || len(parts) > 3 {
		return Task{}, badTask(msg, "expected op, repo_id and commit_id")
	}
	t := Task{Op: Op(parts[0]), RepoID: strings.TrimSpace(parts[1])}
	if len(parts) == 3 {
		t.CommitID = strings.TrimSpace(parts[2])
	}
	if err := t.Validate(); err != nil {
		return Task{}, badTask(msg, err.Error())
	}
	return t, nil
}

// Validate checks the operation and repository id.
func (t Task) Validate() error {
	switch t.Op {
	case OpUpdate, OpRebuild:
	default:
		return fmt.Errorf("unknown op %q", t.Op)
	}
	if t.RepoID == "" {
		return fmt.Errorf("empty repo_id")
	}
	return nil
}

func badTask(msg, reason string) error {
	return rerrors.New(rerrors.ErrCodeBadTask, fmt.Sprintf("malformed task %q: %s", msg, reason), nil)
}
