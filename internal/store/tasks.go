package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const taskColumns = `id, created_at, updated_at, title, status, priority, story_id, project_id, branch_id, milestone_id, assignee_id, creator_id, link`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt, &t.Title, &t.Status, &t.Priority,
		&t.StoryID, &t.ProjectID, &t.BranchID, &t.MilestoneID, &t.AssigneeID, &t.CreatorID, &t.Link)
	return t, err
}

func (s *PostgresStore) CreateTask(ctx context.Context, task Task) (Task, error) {
	var created Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO tasks (title, status, priority, story_id, project_id, branch_id, milestone_id, assignee_id, creator_id, link)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING `+taskColumns,
			task.Title, task.Status, task.Priority, task.StoryID, task.ProjectID,
			task.BranchID, task.MilestoneID, task.AssigneeID, task.CreatorID, task.Link)
		var err error
		if created, err = scanTask(row); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}

		targets, err := storyTargetsTx(ctx, tx, task.StoryID)
		if err != nil {
			return err
		}
		_, err = emitEventTx(ctx, tx, Event{
			EventType: "task_created",
			AuthorID:  &task.CreatorID,
			StoryID:   &task.StoryID,
			EventInfo: map[string]any{"story_id": task.StoryID, "task_id": created.ID, "task_title": created.Title},
		}, targets, nil)
		return err
	})
	if err != nil {
		return Task{}, err
	}
	return created, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id int64, callerID int64) (Task, error) {
	query := `
		SELECT ` + qualify(taskColumns, "t") + `
		FROM tasks t JOIN stories s ON s.id = t.story_id
		WHERE t.id=$1 AND ` + storyVisibleCond("s", callerID)
	return scanTask(s.db.QueryRowContext(ctx, query, id))
}

// TaskFilter narrows task listings.
type TaskFilter struct {
	StoryID    int64
	ProjectID  int64
	BranchID   int64
	AssigneeID int64
	Status     string
	Priority   string
	Title      string
	CallerID   int64
}

func (s *PostgresStore) ListTasks(ctx context.Context, f TaskFilter, p Paging) ([]Task, int, error) {
	conds := []string{storyVisibleCond("s", f.CallerID)}
	args := []any{}
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.StoryID > 0 {
		add("t.story_id=$%d", f.StoryID)
	}
	if f.ProjectID > 0 {
		add("t.project_id=$%d", f.ProjectID)
	}
	if f.BranchID > 0 {
		add("t.branch_id=$%d", f.BranchID)
	}
	if f.AssigneeID > 0 {
		add("t.assignee_id=$%d", f.AssigneeID)
	}
	if f.Status != "" {
		add("t.status=$%d", f.Status)
	}
	if f.Priority != "" {
		add("t.priority=$%d", f.Priority)
	}
	if f.Title != "" {
		add("t.title ILIKE '%%' || $%d || '%%'", f.Title)
	}
	where := " WHERE " + strings.Join(conds, " AND ")
	from := ` FROM tasks t JOIN stories s ON s.id = t.story_id`

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)`+from+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	if p.Marker > 0 {
		where += fmt.Sprintf(" AND t.id > %d", p.Marker)
	}
	query := `SELECT ` + qualify(taskColumns, "t") + from + where +
		orderClause(p, map[string]string{"id": "t.id", "title": "t.title", "status": "t.status", "priority": "t.priority", "created_at": "t.created_at"}, "t.id") +
		limitClause(p)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, total, rows.Err()
}

// UpdateTask writes the task and emits one specific event per recognised
// field change (status, priority, assignee); task_details_changed is emitted
// only when no recognised field changed.
func (s *PostgresStore) UpdateTask(ctx context.Context, task Task, authorID int64) (Task, error) {
	var updated Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		old, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 FOR UPDATE`, task.ID))
		if err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx, `
			UPDATE tasks
			SET title=$2, status=$3, priority=$4, project_id=$5, branch_id=$6, milestone_id=$7, assignee_id=$8, link=$9, updated_at=NOW()
			WHERE id=$1
			RETURNING `+taskColumns,
			task.ID, task.Title, task.Status, task.Priority, task.ProjectID,
			task.BranchID, task.MilestoneID, task.AssigneeID, task.Link)
		if updated, err = scanTask(row); err != nil {
			return fmt.Errorf("update task: %w", err)
		}

		targets, err := storyTargetsTx(ctx, tx, old.StoryID)
		if err != nil {
			return err
		}
		base := map[string]any{"story_id": old.StoryID, "task_id": old.ID, "task_title": updated.Title}

		emitted := false
		emit := func(eventType string, extra map[string]any) error {
			emitted = true
			info := map[string]any{}
			for k, v := range base {
				info[k] = v
			}
			for k, v := range extra {
				info[k] = v
			}
			_, err := emitEventTx(ctx, tx, Event{
				EventType: eventType,
				AuthorID:  &authorID,
				StoryID:   &old.StoryID,
				EventInfo: info,
			}, targets, nil)
			return err
		}

		if old.Status != updated.Status {
			if err := emit("task_status_changed", map[string]any{"old_status": old.Status, "new_status": updated.Status}); err != nil {
				return err
			}
		}
		if old.Priority != updated.Priority {
			if err := emit("task_priority_changed", map[string]any{"old_priority": old.Priority, "new_priority": updated.Priority}); err != nil {
				return err
			}
		}
		if !int64PtrEqual(old.AssigneeID, updated.AssigneeID) {
			oldName, err := assigneeNameTx(ctx, tx, old.AssigneeID)
			if err != nil {
				return err
			}
			newName, err := assigneeNameTx(ctx, tx, updated.AssigneeID)
			if err != nil {
				return err
			}
			if err := emit("task_assignee_changed", map[string]any{
				"old_assignee_id": old.AssigneeID, "old_assignee_fullname": oldName,
				"new_assignee_id": updated.AssigneeID, "new_assignee_fullname": newName,
			}); err != nil {
				return err
			}
		}
		if !emitted {
			if err := emit("task_details_changed", nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	return updated, nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id int64, authorID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		old, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, id); err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		targets, err := storyTargetsTx(ctx, tx, old.StoryID)
		if err != nil {
			return err
		}
		_, err = emitEventTx(ctx, tx, Event{
			EventType: "task_deleted",
			AuthorID:  &authorID,
			StoryID:   &old.StoryID,
			EventInfo: map[string]any{"story_id": old.StoryID, "task_id": old.ID, "task_title": old.Title},
		}, targets, nil)
		return err
	})
}

func assigneeNameTx(ctx context.Context, tx *sql.Tx, userID *int64) (string, error) {
	if userID == nil {
		return "unassigned", nil
	}
	var name string
	err := tx.QueryRowContext(ctx, `SELECT full_name FROM users WHERE id=$1`, *userID).Scan(&name)
	if err != nil {
		return "", fmt.Errorf("read assignee name: %w", err)
	}
	return name, nil
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
