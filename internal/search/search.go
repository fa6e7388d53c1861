// Package search provides full-text search over journal entries, preferring
// Meilisearch and falling back to PostgreSQL FTS when it is unavailable.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	EntryID int64  `json:"entryId"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Query describes a search request. Results are always scoped to one user.
type Query struct {
	Text   string
	UserID int64
	Limit  int
	Offset int
}

// Response is the envelope returned to the caller.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// EntryRecord is the data indexed per journal entry.
type EntryRecord struct {
	ID      int64    `json:"id"`
	UserID  int64    `json:"userId"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}
