package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const storyColumns = `id, created_at, updated_at, title, description, creator_id, story_type_id, private, is_bug`

// storyStatusExpr derives the story status from its tasks. Stories with no
// tasks are active; all-invalid stories are invalid; stories whose tasks are
// all merged or invalid with at least one merged are merged.
const storyStatusExpr = `(
	SELECT CASE
		WHEN COUNT(t.id) = 0 THEN 'active'
		WHEN COUNT(t.id) FILTER (WHERE t.status <> 'invalid') = 0 THEN 'invalid'
		WHEN COUNT(t.id) FILTER (WHERE t.status NOT IN ('merged', 'invalid')) = 0 THEN 'merged'
		ELSE 'active'
	END FROM tasks t WHERE t.story_id = %[1]s.id
)`

const storyTagsExpr = `(
	SELECT COALESCE(STRING_AGG(st.name, ',' ORDER BY st.name), '')
	FROM story_tags st JOIN story_story_tags sst ON sst.tag_id = st.id
	WHERE sst.story_id = %[1]s.id
)`

func storySelect(alias string) string {
	return qualify(storyColumns, alias) + ", " +
		fmt.Sprintf(storyStatusExpr, alias) + ", " +
		fmt.Sprintf(storyTagsExpr, alias)
}

func scanStory(row interface{ Scan(...any) error }) (Story, error) {
	var story Story
	var tags string
	err := row.Scan(&story.ID, &story.CreatedAt, &story.UpdatedAt, &story.Title, &story.Description,
		&story.CreatorID, &story.StoryTypeID, &story.Private, &story.IsBug, &story.Status, &tags)
	if err != nil {
		return Story{}, err
	}
	if tags != "" {
		story.Tags = strings.Split(tags, ",")
	}
	return story, nil
}

func (s *PostgresStore) GetStoryType(ctx context.Context, id int64) (StoryType, error) {
	var st StoryType
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, icon, restricted, private, visible FROM story_types WHERE id=$1`, id).
		Scan(&st.ID, &st.Name, &st.Icon, &st.Restricted, &st.Private, &st.Visible)
	return st, err
}

func (s *PostgresStore) ListStoryTypes(ctx context.Context) ([]StoryType, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, icon, restricted, private, visible FROM story_types ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list story types: %w", err)
	}
	defer rows.Close()

	var types []StoryType
	for rows.Next() {
		var st StoryType
		if err := rows.Scan(&st.ID, &st.Name, &st.Icon, &st.Restricted, &st.Private, &st.Visible); err != nil {
			return nil, fmt.Errorf("scan story type: %w", err)
		}
		types = append(types, st)
	}
	return types, rows.Err()
}

// CanMutateStoryType reports whether the mutation graph allows the type
// transition. Writing the current type back is always allowed.
func (s *PostgresStore) CanMutateStoryType(ctx context.Context, fromID, toID int64) (bool, error) {
	if fromID == toID {
		return true, nil
	}
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM story_type_mutations WHERE story_type_id_from=$1 AND story_type_id_to=$2)`,
		fromID, toID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check type mutation: %w", err)
	}
	return ok, nil
}

// CreateStory inserts the story, its tags, an optional view_story permission
// and the story_created event in one transaction.
func (s *PostgresStore) CreateStory(ctx context.Context, story Story, tags []string, permUsers, permTeams []int64) (Story, error) {
	var created Story
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO stories (title, description, creator_id, story_type_id, private, is_bug)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+storySelect("stories"),
			story.Title, story.Description, story.CreatorID, story.StoryTypeID, story.Private, story.IsBug)
		var err error
		if created, err = scanStory(row); err != nil {
			return fmt.Errorf("insert story: %w", err)
		}

		if err := addStoryTagsTx(ctx, tx, created.ID, tags); err != nil {
			return err
		}
		created.Tags = dedupeTags(tags)

		if story.Private {
			if err := setStoryPermissionTx(ctx, tx, created.ID, permUsers, permTeams); err != nil {
				return err
			}
		}

		_, err = emitEventTx(ctx, tx, Event{
			EventType: "story_created",
			AuthorID:  &story.CreatorID,
			StoryID:   &created.ID,
			EventInfo: map[string]any{"story_id": created.ID, "story_title": created.Title},
		}, []subTarget{{Type: "story", ID: created.ID}}, nil)
		return err
	})
	if err != nil {
		return Story{}, err
	}
	return created, nil
}

// GetStory returns the story with derived status and per-status task counts,
// or sql.ErrNoRows when it does not exist or is not visible to the caller.
func (s *PostgresStore) GetStory(ctx context.Context, id int64, callerID int64) (Story, error) {
	query := `SELECT ` + storySelect("s") + ` FROM stories s WHERE s.id=$1 AND ` + storyVisibleCond("s", callerID)
	story, err := scanStory(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return Story{}, err
	}

	story.TaskCounts = map[string]int{}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks WHERE story_id=$1 GROUP BY status`, id)
	if err != nil {
		return Story{}, fmt.Errorf("count story tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Story{}, fmt.Errorf("scan task count: %w", err)
		}
		story.TaskCounts[status] = count
	}
	return story, rows.Err()
}

// StoryFilter narrows story listings and searches.
type StoryFilter struct {
	Title          string
	Keywords       string
	Status         string
	AssigneeID     int64
	CreatorID      int64
	ProjectID      int64
	ProjectGroupID int64
	Tags           []string
	// TagsAny selects OR semantics across Tags; default is AND.
	TagsAny      bool
	UpdatedSince *time.Time
	CallerID     int64
}

func storyFilterConds(f StoryFilter, args *[]any) []string {
	conds := []string{storyVisibleCond("s", f.CallerID)}
	if f.Title != "" {
		*args = append(*args, f.Title)
		conds = append(conds, fmt.Sprintf("s.title ILIKE '%%' || $%d || '%%'", len(*args)))
	}
	if f.Keywords != "" {
		*args = append(*args, f.Keywords)
		conds = append(conds, fmt.Sprintf(
			"to_tsvector('english', s.title || ' ' || s.description) @@ plainto_tsquery('english', $%d)", len(*args)))
	}
	if f.Status != "" {
		*args = append(*args, f.Status)
		conds = append(conds, fmt.Sprintf(storyStatusExpr, "s")+fmt.Sprintf(" = $%d", len(*args)))
	}
	if f.AssigneeID > 0 {
		*args = append(*args, f.AssigneeID)
		conds = append(conds, fmt.Sprintf("EXISTS (SELECT 1 FROM tasks ft WHERE ft.story_id=s.id AND ft.assignee_id=$%d)", len(*args)))
	}
	if f.CreatorID > 0 {
		*args = append(*args, f.CreatorID)
		conds = append(conds, fmt.Sprintf("s.creator_id=$%d", len(*args)))
	}
	if f.ProjectID > 0 {
		*args = append(*args, f.ProjectID)
		conds = append(conds, fmt.Sprintf("EXISTS (SELECT 1 FROM tasks ft WHERE ft.story_id=s.id AND ft.project_id=$%d)", len(*args)))
	}
	if f.ProjectGroupID > 0 {
		*args = append(*args, f.ProjectGroupID)
		conds = append(conds, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM tasks ft
			JOIN project_group_projects pgp ON pgp.project_id = ft.project_id
			WHERE ft.story_id=s.id AND pgp.project_group_id=$%d)`, len(*args)))
	}
	if len(f.Tags) > 0 {
		tagConds := make([]string, len(f.Tags))
		for i, tag := range f.Tags {
			*args = append(*args, tag)
			tagConds[i] = fmt.Sprintf(`EXISTS (
				SELECT 1 FROM story_story_tags sst JOIN story_tags st ON st.id = sst.tag_id
				WHERE sst.story_id=s.id AND st.name=$%d)`, len(*args))
		}
		joiner := " AND "
		if f.TagsAny {
			joiner = " OR "
		}
		conds = append(conds, "("+strings.Join(tagConds, joiner)+")")
	}
	if f.UpdatedSince != nil {
		*args = append(*args, *f.UpdatedSince)
		conds = append(conds, fmt.Sprintf("s.updated_at > $%d", len(*args)))
	}
	return conds
}

func (s *PostgresStore) ListStories(ctx context.Context, f StoryFilter, p Paging) ([]Story, int, error) {
	args := []any{}
	conds := storyFilterConds(f, &args)
	where := " WHERE " + strings.Join(conds, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stories s`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count stories: %w", err)
	}

	if p.Marker > 0 {
		where += fmt.Sprintf(" AND s.id > %d", p.Marker)
	}
	query := `SELECT ` + storySelect("s") + ` FROM stories s` + where +
		orderClause(p, map[string]string{"id": "s.id", "title": "s.title", "created_at": "s.created_at", "updated_at": "s.updated_at"}, "s.id") +
		limitClause(p)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	var stories []Story
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan story: %w", err)
		}
		stories = append(stories, story)
	}
	return stories, total, rows.Err()
}

// UpdateStory writes mutable story fields and emits story_details_changed.
// Type-graph and privacy validation happens in the service layer.
func (s *PostgresStore) UpdateStory(ctx context.Context, story Story, authorID int64) (Story, error) {
	var updated Story
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE stories
			SET title=$2, description=$3, story_type_id=$4, private=$5, updated_at=NOW()
			WHERE id=$1
			RETURNING `+storySelect("stories"),
			story.ID, story.Title, story.Description, story.StoryTypeID, story.Private)
		var err error
		if updated, err = scanStory(row); err != nil {
			return err
		}
		targets, err := storyTargetsTx(ctx, tx, story.ID)
		if err != nil {
			return err
		}
		_, err = emitEventTx(ctx, tx, Event{
			EventType: "story_details_changed",
			AuthorID:  &authorID,
			StoryID:   &story.ID,
			EventInfo: map[string]any{"story_id": story.ID, "story_title": updated.Title},
		}, targets, nil)
		return err
	})
	if err != nil {
		return Story{}, err
	}
	return updated, nil
}

// SetStoryPermission replaces the story's view_story grant lists.
func (s *PostgresStore) SetStoryPermission(ctx context.Context, storyID int64, users, teams []int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return setStoryPermissionTx(ctx, tx, storyID, users, teams)
	})
}

func setStoryPermissionTx(ctx context.Context, tx *sql.Tx, storyID int64, users, teams []int64) error {
	name := fmt.Sprintf("view_story_%d", storyID)
	var permID int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO permissions (name, codename) VALUES ($1, 'view_story')
		ON CONFLICT (name) DO UPDATE SET updated_at=NOW()
		RETURNING id`, name).Scan(&permID)
	if err != nil {
		return fmt.Errorf("upsert story permission: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO story_permissions (story_id, permission_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, storyID, permID); err != nil {
		return fmt.Errorf("link story permission: %w", err)
	}
	return replaceGrantsTx(ctx, tx, permID, users, teams)
}

// replaceGrantsTx rewrites the user and team grant lists of a permission.
func replaceGrantsTx(ctx context.Context, tx *sql.Tx, permID int64, users, teams []int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_permissions WHERE permission_id=$1`, permID); err != nil {
		return fmt.Errorf("clear user grants: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM team_permissions WHERE permission_id=$1`, permID); err != nil {
		return fmt.Errorf("clear team grants: %w", err)
	}
	for _, userID := range users {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_permissions (user_id, permission_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, userID, permID); err != nil {
			return fmt.Errorf("grant user permission: %w", err)
		}
	}
	for _, teamID := range teams {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO team_permissions (team_id, permission_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, teamID, permID); err != nil {
			return fmt.Errorf("grant team permission: %w", err)
		}
	}
	return nil
}

// DeleteStory hard-deletes the story; tasks, events and permissions cascade.
// Story subscriptions are removed in the same transaction.
func (s *PostgresStore) DeleteStory(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM permissions WHERE id IN (SELECT permission_id FROM story_permissions WHERE story_id=$1)`, id); err != nil {
			return fmt.Errorf("delete story permissions: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM stories WHERE id=$1`, id)
		if err != nil {
			return fmt.Errorf("delete story: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE target_type='story' AND target_id=$1`, id); err != nil {
			return fmt.Errorf("delete story subscriptions: %w", err)
		}
		return nil
	})
}

// AddStoryTags associates tags with the story, creating tag rows on demand,
// and emits tags_added. Already-present tags are ignored.
func (s *PostgresStore) AddStoryTags(ctx context.Context, storyID int64, tags []string, authorID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := addStoryTagsTx(ctx, tx, storyID, tags); err != nil {
			return err
		}
		targets, err := storyTargetsTx(ctx, tx, storyID)
		if err != nil {
			return err
		}
		_, err = emitEventTx(ctx, tx, Event{
			EventType: "tags_added",
			AuthorID:  &authorID,
			StoryID:   &storyID,
			EventInfo: map[string]any{"story_id": storyID, "tags": dedupeTags(tags)},
		}, targets, nil)
		return err
	})
}

func (s *PostgresStore) RemoveStoryTags(ctx context.Context, storyID int64, tags []string, authorID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, tag := range dedupeTags(tags) {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM story_story_tags
				WHERE story_id=$1 AND tag_id = (SELECT id FROM story_tags WHERE name=$2)`, storyID, tag); err != nil {
				return fmt.Errorf("remove tag %s: %w", tag, err)
			}
		}
		targets, err := storyTargetsTx(ctx, tx, storyID)
		if err != nil {
			return err
		}
		_, err = emitEventTx(ctx, tx, Event{
			EventType: "tags_deleted",
			AuthorID:  &authorID,
			StoryID:   &storyID,
			EventInfo: map[string]any{"story_id": storyID, "tags": dedupeTags(tags)},
		}, targets, nil)
		return err
	})
}

func addStoryTagsTx(ctx context.Context, tx *sql.Tx, storyID int64, tags []string) error {
	for _, tag := range dedupeTags(tags) {
		var tagID int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO story_tags (name) VALUES ($1)
			ON CONFLICT (name) DO UPDATE SET name=EXCLUDED.name
			RETURNING id`, tag).Scan(&tagID)
		if err != nil {
			return fmt.Errorf("upsert tag %s: %w", tag, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO story_story_tags (story_id, tag_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, storyID, tagID); err != nil {
			return fmt.Errorf("link tag %s: %w", tag, err)
		}
	}
	return nil
}

func dedupeTags(tags []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// CreateComment stores the comment and its user_comment event. The subscriber
// copy denormalises the comment content and the story title so consumers need
// not re-query.
func (s *PostgresStore) CreateComment(ctx context.Context, storyID int64, content string, authorID int64) (Comment, Event, error) {
	var comment Comment
	var event Event
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO comments (content) VALUES ($1)
			RETURNING id, created_at, updated_at, content, is_active`, content)
		if err := row.Scan(&comment.ID, &comment.CreatedAt, &comment.UpdatedAt, &comment.Content, &comment.IsActive); err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}

		var storyTitle string
		if err := tx.QueryRowContext(ctx, `SELECT title FROM stories WHERE id=$1`, storyID).Scan(&storyTitle); err != nil {
			return fmt.Errorf("read story title: %w", err)
		}

		targets, err := storyTargetsTx(ctx, tx, storyID)
		if err != nil {
			return err
		}
		info := map[string]any{"story_id": storyID, "story_title": storyTitle}
		subInfo := map[string]any{
			"story_id":        storyID,
			"story_title":     storyTitle,
			"comment_id":      comment.ID,
			"comment_content": comment.Content,
		}
		event, err = emitEventTx(ctx, tx, Event{
			EventType: "user_comment",
			AuthorID:  &authorID,
			StoryID:   &storyID,
			CommentID: &comment.ID,
			EventInfo: info,
		}, targets, subInfo)
		return err
	})
	if err != nil {
		return Comment{}, Event{}, err
	}
	return comment, event, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, id int64) (Comment, error) {
	var c Comment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, updated_at, content, is_active FROM comments WHERE id=$1`, id).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt, &c.Content, &c.IsActive)
	return c, err
}

// storyTargetsTx lists the fan-out targets of a story event: the story itself,
// the projects of its tasks and the groups containing those projects.
func storyTargetsTx(ctx context.Context, tx *sql.Tx, storyID int64) ([]subTarget, error) {
	targets := []subTarget{{Type: "story", ID: storyID}}

	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT project_id FROM tasks WHERE story_id=$1`, storyID)
	if err != nil {
		return nil, fmt.Errorf("list story projects: %w", err)
	}
	defer rows.Close()
	var projectIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan story project: %w", err)
		}
		projectIDs = append(projectIDs, id)
		targets = append(targets, subTarget{Type: "project", ID: id})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, projectID := range projectIDs {
		groupRows, err := tx.QueryContext(ctx, `
			SELECT project_group_id FROM project_group_projects WHERE project_id=$1`, projectID)
		if err != nil {
			return nil, fmt.Errorf("list project groups: %w", err)
		}
		for groupRows.Next() {
			var id int64
			if err := groupRows.Scan(&id); err != nil {
				groupRows.Close()
				return nil, fmt.Errorf("scan project group: %w", err)
			}
			targets = append(targets, subTarget{Type: "project_group", ID: id})
		}
		if err := groupRows.Err(); err != nil {
			groupRows.Close()
			return nil, err
		}
		groupRows.Close()
	}
	return dedupeTargets(targets), nil
}

func dedupeTargets(targets []subTarget) []subTarget {
	seen := map[subTarget]struct{}{}
	var out []subTarget
	for _, t := range targets {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// RestrictedBranchesOnly reports whether every task of the story sits on a
// restricted branch. Stories without tasks satisfy the condition.
func (s *PostgresStore) RestrictedBranchesOnly(ctx context.Context, storyID int64) (bool, error) {
	var unrestricted int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks t
		JOIN branches b ON b.id = t.branch_id
		WHERE t.story_id=$1 AND NOT b.restricted`, storyID).Scan(&unrestricted)
	if err != nil {
		return false, fmt.Errorf("check restricted branches: %w", err)
	}
	return unrestricted == 0, nil
}
