package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to a
// Postgres name match.
type Service struct {
	meili  *Meili
	pgname *PgName
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgname *PgName) *Service {
	return &Service{meili: meili, pgname: pgname}
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(q Query) Response {
	var backends []Searcher
	if s.meili != nil {
		backends = append(backends, s.meili)
	}
	if s.pgname != nil {
		backends = append(backends, s.pgname)
	}
	return searchAcross(backends, q)
}

// searchAcross runs the query against the first backend that is healthy and
// answers without error. An empty backend list yields an empty response.
func searchAcross(backends []Searcher, q Query) Response {
	for _, backend := range backends {
		if !backend.Healthy() {
			continue
		}
		results, total, err := backend.Search(q)
		if err != nil {
			log.Printf("search: backend error, trying next: %v", err)
			continue
		}
		return Response{Results: nonNil(results), Total: total, Query: q.Text}
	}
	return Response{Results: []Result{}, Total: 0, Query: q.Text}
}

// IndexProject indexes a shared project (fire-and-forget to Meilisearch).
func (s *Service) IndexProject(rec ProjectRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexProject(rec); err != nil {
			log.Printf("search: index project %s: %v", rec.ProjID, err)
		}
	}()
}

// DeleteProject removes a project from the search index (fire-and-forget).
func (s *Service) DeleteProject(projID string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteProject(projID); err != nil {
			log.Printf("search: delete project %s: %v", projID, err)
		}
	}()
}

// ReindexAllFromPG reads all shared projects from PostgreSQL and pushes them
// to Meilisearch. Called at startup if Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgname == nil {
		return
	}
	records, err := s.pgname.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if len(records) == 0 {
		return
	}
	if err := s.meili.IndexProjects(records); err != nil {
		log.Printf("search: reindex projects: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
