// Package search provides ranked full-text search over analysis issues.
//
// The index is in-memory and rebuilt whenever a new result is loaded; the
// authoritative data lives in the result itself.
package search

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/edgengram"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/jmylchreest/insight/pkg/analysis"
)

// DefaultLimit caps results when no limit is given.
const DefaultLimit = 20

// Hit is one ranked match.
type Hit struct {
	Issue analysis.DisplayIssue `json:"issue"`
	Score float64               `json:"score"`
}

// Index is a full-text index of issues keyed by their display id.
type Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	issues map[string]analysis.DisplayIssue
}

type document struct {
	Text     string `json:"text"`
	TextEdge string `json:"text_edge"`
	File     string `json:"file"`
	Agent    string `json:"agent"`
	Severity string `json:"severity"`
}

func buildMapping() (mapping.IndexMapping, error) {
	im := bleve.NewIndexMapping()

	if err := im.AddCustomAnalyzer("standard_lower", map[string]any{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name},
	}); err != nil {
		return nil, fmt.Errorf("standard analyzer: %w", err)
	}
	if err := im.AddCustomTokenFilter("edge_ngram_filter", map[string]any{
		"type": edgengram.Name,
		"min":  3.0,
		"max":  15.0,
	}); err != nil {
		return nil, fmt.Errorf("edge ngram filter: %w", err)
	}
	if err := im.AddCustomAnalyzer("edge_ngram", map[string]any{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name, "edge_ngram_filter"},
	}); err != nil {
		return nil, fmt.Errorf("edge ngram analyzer: %w", err)
	}

	doc := bleve.NewDocumentMapping()
	text := bleve.NewTextFieldMapping()
	text.Analyzer = "standard_lower"
	doc.AddFieldMappingsAt("text", text)

	edge := bleve.NewTextFieldMapping()
	edge.Analyzer = "edge_ngram"
	edge.Store = false
	edge.IncludeInAll = false
	doc.AddFieldMappingsAt("text_edge", edge)

	for _, name := range []string{"file", "agent", "severity"} {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = "standard_lower"
		doc.AddFieldMappingsAt(name, f)
	}

	im.DefaultMapping = doc
	return im, nil
}

// New returns an empty index.
func New() (*Index, error) {
	idx, err := newMemIndex()
	if err != nil {
		return nil, err
	}
	return &Index{index: idx, issues: map[string]analysis.DisplayIssue{}}, nil
}

func newMemIndex() (bleve.Index, error) {
	m, err := buildMapping()
	if err != nil {
		return nil, err
	}
	idx, err := bleve.NewMemOnly(m)
	if err != nil {
		return nil, fmt.Errorf("create search index: %w", err)
	}
	return idx, nil
}

// Load replaces the indexed issues.
func (x *Index) Load(issues []analysis.DisplayIssue) error {
	idx, err := newMemIndex()
	if err != nil {
		return err
	}
	byID := make(map[string]analysis.DisplayIssue, len(issues))
	batch := idx.NewBatch()
	for _, is := range issues {
		text := strings.Join([]string{is.Title, is.Description, is.Suggestion}, " ")
		doc := document{
			Text:     text,
			TextEdge: text,
			File:     is.File,
			Agent:    is.Agent,
			Severity: is.Severity,
		}
		if err := batch.Index(is.ID, doc); err != nil {
			_ = idx.Close()
			return fmt.Errorf("index %s: %w", is.ID, err)
		}
		byID[is.ID] = is
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return fmt.Errorf("index issues: %w", err)
	}

	x.mu.Lock()
	old := x.index
	x.index, x.issues = idx, byID
	x.mu.Unlock()
	return old.Close()
}

// LoadResult indexes every issue of res.
func (x *Index) LoadResult(res *analysis.NormalizedResult) error {
	return x.Load(analysis.FlattenIssues(res))
}

// Search ranks issues against q. Matching is by word, word prefix and
// single-typo fuzzy term, and also covers file, agent and severity.
func (x *Index) Search(q string, limit int) ([]Hit, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	queries := []query.Query{
		matchOn(q, "text"),
		matchOn(q, "text_edge"),
		matchOn(q, "file"),
		matchOn(q, "agent"),
		matchOn(q, "severity"),
	}
	for _, term := range strings.Fields(strings.ToLower(q)) {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetField("text")
		fq.SetFuzziness(1)
		queries = append(queries, fq)
	}

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(queries...))
	req.Size = limit

	x.mu.RLock()
	defer x.mu.RUnlock()
	res, err := x.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		is, ok := x.issues[h.ID]
		if !ok {
			continue
		}
		hits = append(hits, Hit{Issue: is, Score: h.Score})
	}
	return hits, nil
}

func matchOn(q, field string) query.Query {
	mq := bleve.NewMatchQuery(q)
	mq.SetField(field)
	return mq
}

// Count returns the number of indexed issues.
func (x *Index) Count() (uint64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.index.DocCount()
}

// Close releases the index.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.index.Close()
}
