package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDocument indexes a board card (fire-and-forget to Meilisearch).
func (s *Service) IndexDocument(doc DocumentRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexDocument(doc); err != nil {
			log.Printf("search: index document %s: %v", doc.ID, err)
		}
	}()
}

// IndexIdea indexes a pipeline idea (fire-and-forget to Meilisearch).
func (s *Service) IndexIdea(idea IdeaRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexIdea(idea); err != nil {
			log.Printf("search: index idea %s: %v", idea.ID, err)
		}
	}()
}

// DeleteDocument removes a board card from the search index (fire-and-forget).
func (s *Service) DeleteDocument(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteDocument(id); err != nil {
			log.Printf("search: delete document %s: %v", id, err)
		}
	}()
}

// DeleteIdea removes a pipeline idea from the search index (fire-and-forget).
func (s *Service) DeleteIdea(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteIdea(id); err != nil {
			log.Printf("search: delete idea %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes pre-loaded records to Meilisearch.
func (s *Service) ReindexAll(documents []DocumentRecord, ideas []IdeaRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	if len(documents) > 0 {
		if err := s.meili.IndexDocuments(documents); err != nil {
			log.Printf("search: reindex documents: %v", err)
		}
	}
	if len(ideas) > 0 {
		if err := s.meili.IndexIdeas(ideas); err != nil {
			log.Printf("search: reindex ideas: %v", err)
		}
	}
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	documents, ideas, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(documents, ideas)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
