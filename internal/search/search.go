// Package search finds shared projects by name.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ProjID     string `json:"projId"`
	SharedName string `json:"sharedName"`
	Owner      string `json:"owner,omitempty"`
	Public     bool   `json:"public"`
}

// Query describes a search request.
type Query struct {
	Text       string
	PublicOnly bool
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a project search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ProjectRecord is the data we index for a shared project.
type ProjectRecord struct {
	ProjID     string `json:"projId"`
	SharedName string `json:"sharedName"`
	Owner      string `json:"owner"`
	Public     bool   `json:"public"`
}
