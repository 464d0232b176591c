package indexer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/Aman-CERP/repoindex/internal/backend"
	"github.com/Aman-CERP/repoindex/internal/objstore"
	"github.com/Aman-CERP/repoindex/internal/treediff"
)

// Index kinds.
const (
	KindContent  = "content"
	KindFilename = "filename"
	KindPage     = "page"
)

// Kinds lists every supported kind.
var Kinds = []string{KindContent, KindFilename, KindPage}

// RepoTypeWiki marks wiki repositories.
const RepoTypeWiki = "wiki"

// Common document fields.
const (
	FieldRepoID   = "repo_id"
	FieldFilename = "filename"
	FieldSuffix   = "suffix"
	FieldIsDir    = "is_dir"
	FieldMTime    = "mtime"
	FieldSize     = "size"
	FieldContent  = "content"
	FieldDocUUID  = "doc_uuid"
)

// Strategy encodes one index kind.
type Strategy interface {
	// Kind returns the kind name used in metrics, logs and lease keys.
	Kind() string

	// Schema returns the field mapping of every index of this kind.
	Schema() backend.Schema

	// IndexPrefix is prepended to a repository id to form its index name.
	IndexPrefix() string

	// StatusNamespace separates this kind's status rows from other kinds.
	StatusNamespace() string

	// Handles reports whether repositories of repoType are indexed.
	Handles(repoType string) bool

	// Encode builds the document for an Added or Modified entry. It
	// returns false when the entry is not indexed by this kind.
	Encode(ctx context.Context, src Source, e treediff.Entry) (backend.Document, bool, error)
}

// IndexName returns the index of repoID for s.
func IndexName(s Strategy, repoID string) string {
	return s.IndexPrefix() + repoID
}

// Source loads file contents of one repository version.
type Source struct {
	Store   objstore.Store
	RepoID  string
	Version int
}

// Load returns the content of a file object.
func (s Source) Load(ctx context.Context, fileID string) ([]byte, error) {
	return s.Store.LoadFileContent(ctx, s.RepoID, s.Version, fileID)
}

// DocID returns the document id of a path.
func DocID(p string) string {
	sum := md5.Sum([]byte(p))
	return hex.EncodeToString(sum[:])
}

// DocPath returns the path stored on a document. Directories end in "/".
func DocPath(e treediff.Entry) string {
	if e.IsDir() && !strings.HasSuffix(e.Path, "/") {
		return e.Path + "/"
	}
	return e.Path
}

// DeletePrefix returns the path prefix covering a directory and everything
// below it.
func DeletePrefix(dirPath string) string {
	if strings.HasSuffix(dirPath, "/") {
		return dirPath
	}
	return dirPath + "/"
}

// SplitName returns the base name without extension and the lowercase
// extension without the dot.
func SplitName(p string) (filename, suffix string) {
	base := path.Base(p)
	ext := path.Ext(base)
	if ext == base {
		// dotfile such as ".env"
		return base, ""
	}
	return strings.TrimSuffix(base, ext), strings.ToLower(strings.TrimPrefix(ext, "."))
}

// Limits bounds how much content is read and stored.
type Limits struct {
	TextSize     int64
	OfficeSize   int64
	PageSize     int64
	ContentRunes int
}

// DefaultLimits returns the production limits.
func DefaultLimits() Limits {
	return Limits{
		TextSize:     1 << 20,
		OfficeSize:   10 << 20,
		PageSize:     5 << 20,
		ContentRunes: 10000,
	}
}

// DefaultSkipTopDirs are top-level directories that are never indexed.
var DefaultSkipTopDirs = []string{"images", "_Internal"}

type options struct {
	limits  Limits
	skip    map[string]struct{}
	logger  *slog.Logger
	pageDir string
}

// Option configures a Strategy.
type Option func(*options)

// WithLimits overrides the content limits.
func WithLimits(l Limits) Option {
	return func(o *options) { o.limits = l }
}

// WithSkipTopDirs replaces the set of skipped top-level directories.
func WithSkipTopDirs(dirs []string) Option {
	return func(o *options) {
		o.skip = make(map[string]struct{}, len(dirs))
		for _, d := range dirs {
			o.skip[strings.Trim(d, "/")] = struct{}{}
		}
	}
}

// WithLogger sets the logger used for extraction failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New returns the strategy of kind.
func New(kind string, opts ...Option) (Strategy, error) {
	o := options{limits: DefaultLimits(), pageDir: DefaultPageDir}
	WithSkipTopDirs(DefaultSkipTopDirs)(&o)
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	switch kind {
	case KindContent:
		return &contentStrategy{options: o}, nil
	case KindFilename:
		return &filenameStrategy{options: o}, nil
	case KindPage:
		return &pageStrategy{options: o}, nil
	default:
		return nil, fmt.Errorf("unknown index kind %q", kind)
	}
}

// skipped reports whether p lies under a skipped top-level directory.
func (o options) skipped(p string) bool {
	top := strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(top, '/'); i >= 0 {
		top = top[:i]
	}
	_, ok := o.skip[top]
	return ok
}

// baseFields returns the fields shared by every kind. Directory rows carry
// no object id: a directory's id changes with every descendant and the
// row is not rewritten when only its contents change.
func baseFields(repoID string, e treediff.Entry) map[string]any {
	objID := e.ObjectID
	if e.IsDir() {
		objID = ""
	}
	return map[string]any{
		FieldRepoID:           repoID,
		backend.PathField:     DocPath(e),
		backend.ObjectIDField: objID,
	}
}
