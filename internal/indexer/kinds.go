package indexer

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/Aman-CERP/repoindex/internal/backend"
	"github.com/Aman-CERP/repoindex/internal/treediff"
)

// DefaultPageDir holds wiki pages, one directory per page.
const DefaultPageDir = "/wiki-pages"

type contentStrategy struct {
	options
}

func (s *contentStrategy) Kind() string            { return KindContent }
func (s *contentStrategy) IndexPrefix() string     { return "file_" }
func (s *contentStrategy) StatusNamespace() string { return "repo_status_file" }

func (s *contentStrategy) Handles(repoType string) bool {
	return repoType != RepoTypeWiki
}

func (s *contentStrategy) Schema() backend.Schema {
	return backend.Schema{Fields: []backend.Field{
		{Name: FieldRepoID, Type: backend.FieldKeyword},
		{Name: backend.PathField, Type: backend.FieldKeyword},
		{Name: backend.ObjectIDField, Type: backend.FieldKeyword},
		{Name: FieldFilename, Type: backend.FieldText},
		{Name: FieldSuffix, Type: backend.FieldKeyword},
		{Name: FieldIsDir, Type: backend.FieldBool},
		{Name: FieldMTime, Type: backend.FieldNumber},
		{Name: FieldSize, Type: backend.FieldNumber},
		{Name: FieldContent, Type: backend.FieldText},
	}}
}

func (s *contentStrategy) Encode(ctx context.Context, src Source, e treediff.Entry) (backend.Document, bool, error) {
	if e.Path == "/" || s.skipped(e.Path) {
		return backend.Document{}, false, nil
	}

	fields := baseFields(src.RepoID, e)
	filename, suffix := SplitName(e.Path)
	fields[FieldFilename] = filename
	fields[FieldSuffix] = suffix
	fields[FieldIsDir] = e.IsDir()
	fields[FieldMTime] = e.MTime * 1000
	fields[FieldSize] = e.Size
	if e.IsDir() {
		fields[FieldSuffix] = ""
		return backend.Document{ID: DocID(DocPath(e)), Fields: fields}, true, nil
	}

	content, err := s.content(ctx, src, e, suffix)
	if err != nil {
		if ctx.Err() != nil {
			return backend.Document{}, false, ctx.Err()
		}
		s.logger.Debug("content_extract_failed",
			slog.String("repo_id", src.RepoID),
			slog.String("path", e.Path),
			slog.String("error", err.Error()))
	}
	fields[FieldContent] = truncateRunes(content, s.limits.ContentRunes)
	return backend.Document{ID: DocID(e.Path), Fields: fields}, true, nil
}

// content returns the extracted text of a file, or "" when the file type
// is not extracted or the file is over its size limit.
func (s *contentStrategy) content(ctx context.Context, src Source, e treediff.Entry, suffix string) (string, error) {
	limit := int64(0)
	switch {
	case isText(suffix):
		limit = s.limits.TextSize
	case isOffice(suffix):
		limit = s.limits.OfficeSize
	default:
		return "", nil
	}
	if e.Size > limit {
		return "", nil
	}

	data, err := src.Load(ctx, e.ObjectID)
	if err != nil {
		return "", err
	}
	return Extract(suffix, data, s.limits)
}

type filenameStrategy struct {
	options
}

func (s *filenameStrategy) Kind() string            { return KindFilename }
func (s *filenameStrategy) IndexPrefix() string     { return "repofilename_" }
func (s *filenameStrategy) StatusNamespace() string { return "repo_status_filename" }
func (s *filenameStrategy) Handles(_ string) bool   { return true }

func (s *filenameStrategy) Schema() backend.Schema {
	return backend.Schema{Fields: []backend.Field{
		{Name: FieldRepoID, Type: backend.FieldKeyword},
		{Name: backend.PathField, Type: backend.FieldKeyword},
		{Name: backend.ObjectIDField, Type: backend.FieldKeyword},
		{Name: FieldFilename, Type: backend.FieldText},
		{Name: FieldSuffix, Type: backend.FieldKeyword},
		{Name: FieldIsDir, Type: backend.FieldBool},
	}}
}

func (s *filenameStrategy) Encode(_ context.Context, src Source, e treediff.Entry) (backend.Document, bool, error) {
	if e.Path == "/" || s.skipped(e.Path) {
		return backend.Document{}, false, nil
	}
	fields := baseFields(src.RepoID, e)
	filename, suffix := SplitName(e.Path)
	if e.IsDir() {
		filename, suffix = path.Base(e.Path), ""
	}
	fields[FieldFilename] = filename
	fields[FieldSuffix] = suffix
	fields[FieldIsDir] = e.IsDir()
	return backend.Document{ID: DocID(DocPath(e)), Fields: fields}, true, nil
}

type pageStrategy struct {
	options
}

func (s *pageStrategy) Kind() string            { return KindPage }
func (s *pageStrategy) IndexPrefix() string     { return "wiki_" }
func (s *pageStrategy) StatusNamespace() string { return "wiki_status" }

func (s *pageStrategy) Handles(repoType string) bool {
	return repoType == RepoTypeWiki
}

func (s *pageStrategy) Schema() backend.Schema {
	return backend.Schema{Fields: []backend.Field{
		{Name: FieldRepoID, Type: backend.FieldKeyword},
		{Name: backend.PathField, Type: backend.FieldKeyword},
		{Name: backend.ObjectIDField, Type: backend.FieldKeyword},
		{Name: FieldDocUUID, Type: backend.FieldKeyword},
		{Name: FieldContent, Type: backend.FieldText},
	}}
}

// pageUUID returns the page directory name of a file under the page dir,
// e.g. "/wiki-pages/ab12/page.sdoc" yields "ab12".
func (s *pageStrategy) pageUUID(p string) string {
	rest, ok := strings.CutPrefix(p, s.pageDir+"/")
	if !ok {
		return ""
	}
	uuid, _, ok := strings.Cut(rest, "/")
	if !ok {
		return ""
	}
	return uuid
}

func (s *pageStrategy) Encode(ctx context.Context, src Source, e treediff.Entry) (backend.Document, bool, error) {
	if e.IsDir() {
		return backend.Document{}, false, nil
	}
	if _, suffix := SplitName(e.Path); suffix != "sdoc" {
		return backend.Document{}, false, nil
	}
	uuid := s.pageUUID(e.Path)
	if uuid == "" || e.Size > s.limits.PageSize {
		return backend.Document{}, false, nil
	}

	fields := baseFields(src.RepoID, e)
	fields[FieldDocUUID] = uuid

	data, err := src.Load(ctx, e.ObjectID)
	if err != nil {
		if ctx.Err() != nil {
			return backend.Document{}, false, ctx.Err()
		}
		s.logger.Debug("page_load_failed",
			slog.String("repo_id", src.RepoID),
			slog.String("path", e.Path),
			slog.String("error", err.Error()))
		fields[FieldContent] = ""
		return backend.Document{ID: DocID(e.Path), Fields: fields}, true, nil
	}

	text, err := extractSdoc(data)
	if err != nil {
		s.logger.Debug("page_extract_failed",
			slog.String("repo_id", src.RepoID),
			slog.String("path", e.Path),
			slog.String("error", err.Error()))
	}
	fields[FieldContent] = truncateRunes(text, s.limits.ContentRunes)
	return backend.Document{ID: DocID(e.Path), Fields: fields}, true, nil
}
