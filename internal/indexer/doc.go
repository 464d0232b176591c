// Package indexer turns tree changes into search documents, one Strategy
// per index kind.
//
// The update and recovery loop is written once in the index package; a
// Strategy only decides names, the schema and how a changed entry becomes
// a document.
//
// # Kinds
//
//	┌──────────┬────────────────────┬──────────────────────┬────────────────┐
//	│ kind     │ index name         │ status namespace     │ repositories   │
//	├──────────┼────────────────────┼──────────────────────┼────────────────┤
//	│ content  │ file_<repo>        │ repo_status_file     │ all but wiki   │
//	│ filename │ repofilename_<repo>│ repo_status_filename │ all            │
//	│ page     │ wiki_<repo>        │ wiki_status          │ wiki only      │
//	└──────────┴────────────────────┴──────────────────────┴────────────────┘
//
// # Document ids
//
// Documents are keyed by the MD5 of their path. Directory documents carry
// the path with a trailing slash, so deleting the prefix "/d/" removes the
// directory row and everything below it without touching "/dx".
//
// # Usage
//
//	s, err := indexer.New(indexer.KindContent, indexer.WithLimits(limits))
//	if err != nil {
//	    return err
//	}
//	doc, ok, err := s.Encode(ctx, src, entry)
package indexer
