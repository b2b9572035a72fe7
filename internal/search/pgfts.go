package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const storyStatusSubquery = `(
	SELECT CASE
		WHEN COUNT(tk.id) = 0 THEN 'active'
		WHEN COUNT(tk.id) FILTER (WHERE tk.status <> 'invalid') = 0 THEN 'invalid'
		WHEN COUNT(tk.id) FILTER (WHERE tk.status NOT IN ('merged', 'invalid')) = 0 THEN 'merged'
		ELSE 'active'
	END FROM tasks tk WHERE tk.story_id = s.id
)`

// Search executes a UNION ALL query across stories and tasks using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultStory {
		storyFTS := "to_tsvector('english', s.title || ' ' || COALESCE(s.description, ''))"
		storyWhere := storyFTS + " @@ " + tsQuery
		if q.FilterProjectID != 0 {
			storyWhere += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM tasks tk WHERE tk.story_id = s.id AND tk.project_id = $%d)", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		if !q.CallerSuperuser {
			storyWhere += " AND NOT s.is_private"
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'story'::text AS type, s.id, s.title,
				ts_headline('english', COALESCE(s.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				s.id AS story_id, %s AS status, s.is_private,
				ts_rank(%s, %s) AS rank
			FROM stories s
			WHERE %s`, tsQuery, storyStatusSubquery, storyFTS, tsQuery, storyWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultTask {
		taskFTS := "to_tsvector('english', t.title)"
		taskWhere := taskFTS + " @@ " + tsQuery
		if q.FilterProjectID != 0 {
			taskWhere += fmt.Sprintf(" AND t.project_id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		if !q.CallerSuperuser {
			taskWhere += " AND NOT s.is_private"
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'task'::text AS type, t.id, t.title,
				''::text AS snippet,
				t.story_id, t.status, s.is_private,
				ts_rank(%s, %s) AS rank
			FROM tasks t
			JOIN stories s ON s.id = t.story_id
			WHERE %s`, taskFTS, tsQuery, taskWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, story_id, status, is_private
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("fts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.StoryID, &r.Status, &r.Private); err != nil {
			return nil, 0, fmt.Errorf("fts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]StoryRecord, []TaskRecord, error) {
	storyRows, err := p.db.QueryContext(ctx, `
		SELECT s.id, s.title, COALESCE(s.description, ''), `+storyStatusSubquery+`, s.is_private,
			COALESCE((SELECT STRING_AGG(DISTINCT tk.project_id::text, ',') FROM tasks tk WHERE tk.story_id = s.id), '')
		FROM stories s
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load stories: %w", err)
	}
	defer storyRows.Close()

	stories := make([]StoryRecord, 0)
	for storyRows.Next() {
		var s StoryRecord
		var projects string
		if err := storyRows.Scan(&s.ID, &s.Title, &s.Description, &s.Status, &s.Private, &projects); err != nil {
			return nil, nil, fmt.Errorf("scan story: %w", err)
		}
		s.ProjectIDs = parseIDList(projects)
		stories = append(stories, s)
	}
	if err := storyRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate stories: %w", err)
	}

	taskRows, err := p.db.QueryContext(ctx, `
		SELECT t.id, t.title, t.story_id, t.project_id, t.status, s.is_private
		FROM tasks t
		JOIN stories s ON s.id = t.story_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load tasks: %w", err)
	}
	defer taskRows.Close()

	tasks := make([]TaskRecord, 0)
	for taskRows.Next() {
		var t TaskRecord
		if err := taskRows.Scan(&t.ID, &t.Title, &t.StoryID, &t.ProjectID, &t.Status, &t.Private); err != nil {
			return nil, nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := taskRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate tasks: %w", err)
	}

	return stories, tasks, nil
}

func parseIDList(s string) []int64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		var id int64
		if _, err := fmt.Sscanf(p, "%d", &id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
