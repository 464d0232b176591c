package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	rerrors "github.com/Aman-CERP/repoindex/internal/errors"
)

// SeaSearchConfig configures the HTTP search backend.
type SeaSearchConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// SeaSearch talks to a SeaSearch (ZincSearch compatible) server over HTTP.
type SeaSearch struct {
	base   *url.URL
	token  string
	client *http.Client
}

var _ Backend = (*SeaSearch)(nil)

// NewSeaSearch creates a client for the server at cfg.URL.
func NewSeaSearch(cfg SeaSearchConfig) (*SeaSearch, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, rerrors.ConfigError(fmt.Sprintf("invalid seasearch url %q", cfg.URL), err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SeaSearch{
		base:   base,
		token:  cfg.Token,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// do sends a request and returns the status code and body. Transport
// failures are retryable.
func (s *SeaSearch) do(ctx context.Context, method, path, contentType string, payload []byte) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base.String()+path, body)
	if err != nil {
		return 0, nil, rerrors.InternalError("build request", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Basic "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, rerrors.BackendError(method+" "+path+" failed", false, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return resp.StatusCode, nil, rerrors.BackendError("read response of "+path, false, err)
	}
	return resp.StatusCode, data, nil
}

func statusError(method, path string, code int, body []byte) error {
	msg := fmt.Sprintf("%s %s: status %d: %s", method, path, code, strings.TrimSpace(string(body)))
	return rerrors.BackendError(msg, code >= 400 && code < 500, nil)
}

func (s *SeaSearch) exists(ctx context.Context, name string) (bool, error) {
	path := "/es/" + url.PathEscape(name) + "/_mapping"
	code, body, err := s.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return false, err
	}
	switch {
	case code == http.StatusOK:
		return true, nil
	case code == http.StatusBadRequest || code == http.StatusNotFound:
		return false, nil
	default:
		return false, statusError(http.MethodGet, path, code, body)
	}
}

func (s *SeaSearch) CreateIndex(ctx context.Context, name string, schema Schema) (bool, error) {
	if err := validIndexName(name); err != nil {
		return false, rerrors.ValidationError(err.Error(), nil)
	}
	if err := schema.Validate(); err != nil {
		return false, rerrors.ValidationError(err.Error(), nil)
	}
	ok, err := s.exists(ctx, name)
	if err != nil || ok {
		return false, err
	}

	props := make(map[string]map[string]any, len(schema.Fields))
	for _, f := range schema.Fields {
		p := map[string]any{"type": string(f.Type)}
		if f.Type == FieldText {
			p["highlightable"] = true
		}
		props[f.Name] = p
	}
	payload, err := json.Marshal(map[string]any{
		"mappings": map[string]any{"properties": props},
	})
	if err != nil {
		return false, err
	}

	path := "/api/index/" + url.PathEscape(name)
	code, body, err := s.do(ctx, http.MethodPut, path, "application/json", payload)
	if err != nil {
		return false, err
	}
	if code != http.StatusOK {
		return false, statusError(http.MethodPut, path, code, body)
	}
	return true, nil
}

func (s *SeaSearch) DropIndex(ctx context.Context, name string) error {
	path := "/api/index/" + url.PathEscape(name)
	code, body, err := s.do(ctx, http.MethodDelete, path, "", nil)
	if err != nil {
		return err
	}
	if code == http.StatusOK || code == http.StatusNotFound || code == http.StatusBadRequest {
		return nil
	}
	return statusError(http.MethodDelete, path, code, body)
}

type bulkResponse struct {
	Errors bool   `json:"errors"`
	Error  string `json:"error"`
}

func (s *SeaSearch) bulk(ctx context.Context, index string, lines []any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, line := range lines {
		if err := enc.Encode(line); err != nil {
			return rerrors.BackendError("encode bulk request", true, err)
		}
	}

	path := "/es/" + url.PathEscape(index) + "/_bulk"
	code, body, err := s.do(ctx, http.MethodPost, path, "application/x-ndjson", buf.Bytes())
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return statusError(http.MethodPost, path, code, body)
	}
	var br bulkResponse
	if err := json.Unmarshal(body, &br); err == nil && (br.Errors || br.Error != "") {
		return rerrors.BackendError("bulk request to "+index+" reported errors: "+br.Error, true, nil)
	}
	return nil
}

type bulkAction struct {
	Index  *bulkTarget `json:"index,omitempty"`
	Delete *bulkTarget `json:"delete,omitempty"`
}

type bulkTarget struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

func (s *SeaSearch) BulkUpsert(ctx context.Context, index string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	lines := make([]any, 0, 2*len(docs))
	for _, d := range docs {
		lines = append(lines, bulkAction{Index: &bulkTarget{Index: index, ID: d.ID}}, d.Fields)
	}
	return s.bulk(ctx, index, lines)
}

func (s *SeaSearch) BulkDelete(ctx context.Context, index string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	lines := make([]any, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, bulkAction{Delete: &bulkTarget{Index: index, ID: id}})
	}
	return s.bulk(ctx, index, lines)
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID string `json:"_id"`
		} `json:"hits"`
	} `json:"hits"`
}

func (s *SeaSearch) DeleteByPathPrefix(ctx context.Context, index, prefix string) error {
	path := "/es/" + url.PathEscape(index) + "/_search"
	query, err := json.Marshal(map[string]any{
		"query":   map[string]any{"prefix": map[string]any{PathField: prefix}},
		"_source": false,
		"size":    prefixDeletePage,
	})
	if err != nil {
		return err
	}

	for {
		code, body, err := s.do(ctx, http.MethodPost, path, "application/json", query)
		if err != nil {
			return err
		}
		if code != http.StatusOK {
			return statusError(http.MethodPost, path, code, body)
		}
		var sr searchResponse
		if err := json.Unmarshal(body, &sr); err != nil {
			return rerrors.BackendError("decode search response", false, err)
		}
		if len(sr.Hits.Hits) == 0 {
			return nil
		}
		ids := make([]string, 0, len(sr.Hits.Hits))
		for _, h := range sr.Hits.Hits {
			ids = append(ids, h.ID)
		}
		if err := s.BulkDelete(ctx, index, ids); err != nil {
			return err
		}
		if len(ids) < prefixDeletePage {
			return nil
		}
	}
}

type indexListResponse struct {
	List []struct {
		Name string `json:"name"`
	} `json:"list"`
}

func (s *SeaSearch) ListIndices(ctx context.Context, prefix string) ([]string, error) {
	path := "/api/index?page_num=1&page_size=100000"
	code, body, err := s.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, statusError(http.MethodGet, path, code, body)
	}
	var lr indexListResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, rerrors.BackendError("decode index list", false, err)
	}
	var names []string
	for _, item := range lr.List {
		if strings.HasPrefix(item.Name, prefix) {
			names = append(names, item.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *SeaSearch) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
