package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultStory ResultType = "story"
	ResultTask  ResultType = "task"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      int64      `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	StoryID int64      `json:"story_id"`
	Status  string     `json:"status,omitempty"`
	Private bool       `json:"-"`
}

// Query describes a search request.
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterProjectID int64
	Limit           int
	Offset          int
	CallerSuperuser bool
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
	IndexStory(s StoryRecord) error
	IndexTask(t TaskRecord) error
	DeleteStory(id int64) error
	DeleteTask(id int64) error
}

// StoryRecord is the data we index for a story.
type StoryRecord struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	ProjectIDs  []int64 `json:"project_ids"`
	Private     bool    `json:"private"`
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	StoryID   int64  `json:"story_id"`
	ProjectID int64  `json:"project_id"`
	Status    string `json:"status"`
	Private   bool   `json:"private"`
}
