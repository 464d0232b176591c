package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	rerrors "github.com/Aman-CERP/repoindex/internal/errors"
)

const bleveSuffix = ".bleve"

// prefixDeletePage bounds how many hits one prefix-delete round fetches.
const prefixDeletePage = 1000

// Bleve keeps one bleve index per index name under a root directory.
// With an empty root every index lives in memory.
type Bleve struct {
	root   string
	logger *slog.Logger

	mu      sync.Mutex
	indices map[string]bleve.Index
	closed  bool
}

var _ Backend = (*Bleve)(nil)

// NewBleve creates a bleve backend rooted at dir ("" for in-memory).
func NewBleve(dir string, logger *slog.Logger) (*Bleve, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &Bleve{root: dir, logger: logger, indices: make(map[string]bleve.Index)}, nil
}

func buildMapping(schema Schema) *mapping.IndexMappingImpl {
	doc := bleve.NewDocumentMapping()
	for _, f := range schema.Fields {
		var fm *mapping.FieldMapping
		switch f.Type {
		case FieldKeyword:
			fm = bleve.NewKeywordFieldMapping()
		case FieldBool:
			fm = bleve.NewBooleanFieldMapping()
		case FieldNumber:
			fm = bleve.NewNumericFieldMapping()
		default:
			fm = bleve.NewTextFieldMapping()
		}
		doc.AddFieldMappingsAt(f.Name, fm)
	}

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	return im
}

func (b *Bleve) path(name string) string {
	return filepath.Join(b.root, name+bleveSuffix)
}

func (b *Bleve) CreateIndex(_ context.Context, name string, schema Schema) (bool, error) {
	if err := validIndexName(name); err != nil {
		return false, rerrors.ValidationError(err.Error(), nil)
	}
	if err := schema.Validate(); err != nil {
		return false, rerrors.ValidationError(err.Error(), nil)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, fmt.Errorf("bleve backend is closed")
	}
	if _, ok := b.indices[name]; ok {
		return false, nil
	}

	im := buildMapping(schema)
	if b.root == "" {
		idx, err := bleve.NewMemOnly(im)
		if err != nil {
			return false, fmt.Errorf("create index %s: %w", name, err)
		}
		b.indices[name] = idx
		return true, nil
	}

	p := b.path(name)
	idx, err := bleve.Open(p)
	created := false
	switch {
	case errors.Is(err, bleve.ErrorIndexPathDoesNotExist):
		idx, err = bleve.New(p, im)
		created = true
	case err != nil:
		// A damaged index is rebuilt from scratch; reporting it as created
		// makes the caller reindex the repository.
		b.logger.Warn("bleve_index_corrupted", slog.String("index", name), slog.String("error", err.Error()))
		if removeErr := os.RemoveAll(p); removeErr != nil {
			return false, rerrors.New(rerrors.ErrCodeCorruptIndex, "index "+name+" corrupted and cannot be removed", removeErr)
		}
		idx, err = bleve.New(p, im)
		created = true
	}
	if err != nil {
		return false, fmt.Errorf("create index %s: %w", name, err)
	}

	b.indices[name] = idx
	return created, nil
}

// open returns a previously created or on-disk index.
func (b *Bleve) open(name string) (bleve.Index, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bleve backend is closed")
	}
	if idx, ok := b.indices[name]; ok {
		return idx, nil
	}
	if b.root == "" {
		return nil, rerrors.BackendError("index "+name+" does not exist", true, nil)
	}
	idx, err := bleve.Open(b.path(name))
	if err != nil {
		return nil, rerrors.BackendError("index "+name+" cannot be opened", true, err)
	}
	b.indices[name] = idx
	return idx, nil
}

func (b *Bleve) DropIndex(_ context.Context, name string) error {
	if err := validIndexName(name); err != nil {
		return rerrors.ValidationError(err.Error(), nil)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if idx, ok := b.indices[name]; ok {
		_ = idx.Close()
		delete(b.indices, name)
	}
	if b.root == "" {
		return nil
	}
	if err := os.RemoveAll(b.path(name)); err != nil {
		return fmt.Errorf("remove index %s: %w", name, err)
	}
	return nil
}

func (b *Bleve) BulkUpsert(ctx context.Context, index string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	idx, err := b.open(index)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, d := range docs {
		if err := batch.Index(d.ID, d.Fields); err != nil {
			return rerrors.BackendError("document "+d.ID+" rejected", true, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

func (b *Bleve) BulkDelete(ctx context.Context, index string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	idx, err := b.open(index)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

func (b *Bleve) DeleteByPathPrefix(ctx context.Context, index, prefix string) error {
	idx, err := b.open(index)
	if err != nil {
		return err
	}

	q := bleve.NewPrefixQuery(prefix)
	q.SetField(PathField)

	// Each round deletes what it found, so the next round starts at 0.
	for {
		req := bleve.NewSearchRequestOptions(q, prefixDeletePage, 0, false)
		res, err := idx.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("prefix search %s: %w", prefix, err)
		}
		if len(res.Hits) == 0 {
			return nil
		}

		batch := idx.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := idx.Batch(batch); err != nil {
			return fmt.Errorf("failed to execute batch: %w", err)
		}
		if len(res.Hits) < prefixDeletePage {
			return nil
		}
	}
}

func (b *Bleve) ListIndices(_ context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := map[string]bool{}
	for name := range b.indices {
		seen[name] = true
	}
	if b.root != "" {
		entries, err := os.ReadDir(b.root)
		if err != nil {
			return nil, fmt.Errorf("list indices: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() && strings.HasSuffix(e.Name(), bleveSuffix) {
				seen[strings.TrimSuffix(e.Name(), bleveSuffix)] = true
			}
		}
	}

	var names []string
	for name := range seen {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// DocCount returns the number of documents in an index.
func (b *Bleve) DocCount(index string) (uint64, error) {
	idx, err := b.open(index)
	if err != nil {
		return 0, err
	}
	return idx.DocCount()
}

func (b *Bleve) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	for name, idx := range b.indices {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	b.indices = nil
	return errors.Join(errs...)
}
