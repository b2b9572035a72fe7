package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to
// PostgreSQL full-text search.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: sanitizeResults(nonNil(results), q.CallerSuperuser), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to postgres fts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: postgres fts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: sanitizeResults(nonNil(results), q.CallerSuperuser), Total: total, Query: q.Text}
}

// IndexStory indexes a story (fire-and-forget to Meilisearch).
func (s *Service) IndexStory(rec StoryRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexStory(rec); err != nil {
			log.Printf("search: index story %d: %v", rec.ID, err)
		}
	}()
}

// IndexTask indexes a task (fire-and-forget to Meilisearch).
func (s *Service) IndexTask(rec TaskRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTask(rec); err != nil {
			log.Printf("search: index task %d: %v", rec.ID, err)
		}
	}()
}

// DeleteStory removes a story from the search index (fire-and-forget).
func (s *Service) DeleteStory(id int64) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteStory(id); err != nil {
			log.Printf("search: delete story %d: %v", id, err)
		}
	}()
}

// DeleteTask removes a task from the search index (fire-and-forget).
func (s *Service) DeleteTask(id int64) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteTask(id); err != nil {
			log.Printf("search: delete task %d: %v", id, err)
		}
	}()
}

// ReindexAll pushes the given records to Meilisearch in bulk.
func (s *Service) ReindexAll(stories []StoryRecord, tasks []TaskRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	if len(stories) > 0 {
		if err := s.meili.IndexStories(stories); err != nil {
			log.Printf("search: reindex stories: %v", err)
		}
	}
	if len(tasks) > 0 {
		if err := s.meili.IndexTasks(tasks); err != nil {
			log.Printf("search: reindex tasks: %v", err)
		}
	}
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into
// Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	stories, tasks, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(stories, tasks)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

func sanitizeResults(results []Result, superuser bool) []Result {
	if superuser {
		return results
	}
	filtered := make([]Result, 0, len(results))
	for _, result := range results {
		if result.Private {
			continue
		}
		filtered = append(filtered, result)
	}
	return filtered
}
