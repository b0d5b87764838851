package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultIdea     ResultType = "idea"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type        ResultType `json:"type"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	Category    string     `json:"category,omitempty"`
	Status      string     `json:"status,omitempty"`
	WorkspaceID string     `json:"workspaceId"`
}

// Query describes a search request.
type Query struct {
	Text              string
	FilterType        ResultType // empty = all types
	FilterWorkspaceID string
	Limit             int
	Offset            int
}

// Response is the envelope returned by the search endpoint.
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

// Indexer can push entities into a search index.
type Indexer interface {
	IndexDocument(doc DocumentRecord) error
	IndexIdea(idea IdeaRecord) error
	DeleteDocument(id string) error
	DeleteIdea(id string) error
}

// DocumentRecord is the data we index for a board card.
type DocumentRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Category    string `json:"category"`
	Type        string `json:"type"`
	WorkspaceID string `json:"workspaceId"`
}

// IdeaRecord is the data we index for a pipeline idea.
type IdeaRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	WorkspaceID string `json:"workspaceId"`
}
