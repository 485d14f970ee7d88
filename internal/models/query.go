package models

import "fmt"

const (
	defaultQueryLimit = 5
	maxQueryLimit     = 100
)

// QueryRequest is a nearest-neighbor query with an optional file/extension filter.
// Either Text or Vector must be set; Vector wins when both are.
type QueryRequest struct {
	Text       string    `json:"query,omitempty"`
	Vector     []float32 `json:"vector,omitempty"`
	Limit      int       `json:"limit,omitempty"`
	Files      []string  `json:"files,omitempty"`
	Extensions []string  `json:"extensions,omitempty"`
}

// Validate ensures the query has something to search with and normalizes the limit.
func (q *QueryRequest) Validate() error {
	if q.Text == "" && len(q.Vector) == 0 {
		return fmt.Errorf("query cannot be empty")
	}
	if q.Limit <= 0 {
		q.Limit = defaultQueryLimit
	}
	if q.Limit > maxQueryLimit {
		q.Limit = maxQueryLimit
	}
	return nil
}

// Filtered reports whether the request restricts the candidate set.
func (q *QueryRequest) Filtered() bool {
	return len(q.Files) > 0 || len(q.Extensions) > 0
}

// QueryHit is one result joined back to its source location.
type QueryHit struct {
	VectorID  uint64  `json:"vector_id"`
	Path      string  `json:"path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float64 `json:"score"`
}

// QueryResponse is the response for a query.
type QueryResponse struct {
	Query     string      `json:"query,omitempty"`
	Hits      []*QueryHit `json:"hits"`
	QueryTime int64       `json:"query_time_ms"`
}
