package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxDocuments = "semilla_documents"
	idxIdeas     = "semilla_ideas"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes.
// The caller should proceed without it if the instance is unreachable;
// the background monitor reconfigures indexes when it comes back.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		primaryKey string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxDocuments,
			primaryKey: "id",
			filterable: []string{"workspaceId", "category", "type"},
			searchable: []string{"title", "content"},
		},
		{
			uid:        idxIdeas,
			primaryKey: "id",
			filterable: []string{"workspaceId", "status"},
			searchable: []string{"title", "description"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: idx.primaryKey,
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		filterableInterface := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterableInterface[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries both indexes (or a filtered subset) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxDocuments, ResultDocument},
		{idxIdeas, ResultIdea},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}

		if q.FilterWorkspaceID != "" {
			sr.Filter = []string{fmt.Sprintf("workspaceId = %q", q.FilterWorkspaceID)}
		}
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxDocuments:
		return ResultDocument
	case idxIdeas:
		return ResultIdea
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.WorkspaceID = decodeString(hit, "workspaceId")
	r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))

	switch rtyp {
	case ResultDocument:
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))
		r.Category = decodeString(hit, "category")
	case ResultIdea:
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
		r.Status = decodeString(hit, "status")
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexDocument adds or updates a board card in the search index.
func (m *Meili) IndexDocument(doc DocumentRecord) error {
	_, err := m.client.Index(idxDocuments).AddDocuments([]DocumentRecord{doc}, nil)
	return err
}

// IndexIdea adds or updates a pipeline idea in the search index.
func (m *Meili) IndexIdea(idea IdeaRecord) error {
	_, err := m.client.Index(idxIdeas).AddDocuments([]IdeaRecord{idea}, nil)
	return err
}

// DeleteDocument removes a board card from the search index.
func (m *Meili) DeleteDocument(id string) error {
	_, err := m.client.Index(idxDocuments).DeleteDocument(id, nil)
	return err
}

// DeleteIdea removes a pipeline idea from the search index.
func (m *Meili) DeleteIdea(id string) error {
	_, err := m.client.Index(idxIdeas).DeleteDocument(id, nil)
	return err
}

// IndexDocuments bulk-indexes board cards.
func (m *Meili) IndexDocuments(documents []DocumentRecord) error {
	if len(documents) == 0 {
		return nil
	}
	_, err := m.client.Index(idxDocuments).AddDocuments(documents, nil)
	return err
}

// IndexIdeas bulk-indexes pipeline ideas.
func (m *Meili) IndexIdeas(ideas []IdeaRecord) error {
	if len(ideas) == 0 {
		return nil
	}
	_, err := m.client.Index(idxIdeas).AddDocuments(ideas, nil)
	return err
}
