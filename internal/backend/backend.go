// Package backend writes index documents to a search engine.
//
// Each repository gets its own named index per index kind. The engine's
// query side is not used here: this package only creates, fills, prunes
// and drops indices.
package backend

import (
	"context"
	"fmt"
	"strings"
)

// Well-known document fields. Every document carries both.
const (
	PathField     = "path"
	ObjectIDField = "obj_id"
)

// FieldType is the mapping type of a document field.
type FieldType string

const (
	// FieldKeyword is an exact-match string; prefix deletes rely on it.
	FieldKeyword FieldType = "keyword"
	// FieldText is analyzed full text.
	FieldText    FieldType = "text"
	FieldBool    FieldType = "boolean"
	FieldNumber  FieldType = "long"
)

// Field describes one document field.
type Field struct {
	Name string
	Type FieldType
}

// Schema lists the fields of an index.
type Schema struct {
	Fields []Field
}

// Validate checks that the schema can support path prefix deletes.
func (s Schema) Validate() error {
	seen := map[string]bool{}
	hasPath := false
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema field without a name")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate schema field %q", f.Name)
		}
		seen[f.Name] = true
		if f.Name == PathField {
			if f.Type != FieldKeyword {
				return fmt.Errorf("field %q must be %s", PathField, FieldKeyword)
			}
			hasPath = true
		}
	}
	if !hasPath {
		return fmt.Errorf("schema must declare %q", PathField)
	}
	return nil
}

// Document is one index row.
type Document struct {
	ID     string
	Fields map[string]any
}

// Path returns the document's path field.
func (d Document) Path() string {
	s, _ := d.Fields[PathField].(string)
	return s
}

// Backend is the write side of a search engine.
type Backend interface {
	// CreateIndex creates the index if it does not exist. It reports
	// whether the index was newly created.
	CreateIndex(ctx context.Context, name string, schema Schema) (bool, error)
	// DropIndex removes the index and all of its documents. Dropping a
	// missing index is not an error.
	DropIndex(ctx context.Context, name string) error
	// BulkUpsert inserts or replaces documents by id.
	BulkUpsert(ctx context.Context, index string, docs []Document) error
	// BulkDelete removes documents by id; unknown ids are ignored.
	BulkDelete(ctx context.Context, index string, ids []string) error
	// DeleteByPathPrefix removes every document whose path starts with prefix.
	DeleteByPathPrefix(ctx context.Context, index, prefix string) error
	// ListIndices returns the names of existing indices starting with prefix.
	ListIndices(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// validIndexName keeps names safe as file and URL path components.
func validIndexName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\ ") || name == "." || name == ".." {
		return fmt.Errorf("invalid index name %q", name)
	}
	return nil
}
