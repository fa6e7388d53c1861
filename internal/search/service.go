package search

import (
	"context"

	"github.com/epicweb-dev/epic-me-mcp/internal/logging"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
	log   logging.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, pgfts *PgFTS, log logging.Logger) *Service {
	return &Service{meili: meili, pgfts: pgfts, log: log}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	ctx := context.Background()
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn(ctx, "meilisearch error, falling back to pgfts", "error", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		s.log.Error(ctx, "pgfts search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexEntry pushes one entry into Meilisearch, fire-and-forget.
func (s *Service) IndexEntry(record EntryRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexEntry(record); err != nil {
			s.log.Warn(context.Background(), "index entry failed", "entryId", record.ID, "error", err)
		}
	}()
}

// DeleteEntry removes an entry from Meilisearch, fire-and-forget.
func (s *Service) DeleteEntry(entryID int64) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteEntry(entryID); err != nil {
			s.log.Warn(context.Background(), "delete entry from index failed", "entryId", entryID, "error", err)
		}
	}()
}

// ReindexAllFromPG rebuilds the Meilisearch index from PostgreSQL. Called at
// startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.log.Warn(ctx, "reindex load failed", "error", err)
		return
	}
	if len(records) == 0 {
		return
	}
	if err := s.meili.IndexEntries(records); err != nil {
		s.log.Warn(ctx, "reindex failed", "error", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
