package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

const eventColumns = `id, created_at, event_type, author_id, story_id, worklist_id, board_id, comment_id, event_info`

func scanEvent(row interface{ Scan(...any) error }) (Event, error) {
	var e Event
	var info []byte
	err := row.Scan(&e.ID, &e.CreatedAt, &e.EventType, &e.AuthorID, &e.StoryID, &e.WorklistID, &e.BoardID, &e.CommentID, &info)
	if err != nil {
		return Event{}, err
	}
	if len(info) > 0 {
		if err := json.Unmarshal(info, &e.EventInfo); err != nil {
			return Event{}, fmt.Errorf("decode event info: %w", err)
		}
	}
	return e, nil
}

// subTarget names a subscribable resource for fan-out.
type subTarget struct {
	Type string
	ID   int64
}

// emitEventTx appends one timeline event and enqueues a SubscriptionEvent per
// subscriber of the given targets, all inside the caller's transaction. A
// failed emission aborts the transaction so partial state is never visible.
// subInfo, when non-nil, replaces the event_info on the subscriber copies
// (used by comment events to denormalise content).
func emitEventTx(ctx context.Context, tx *sql.Tx, e Event, targets []subTarget, subInfo map[string]any) (Event, error) {
	info, err := json.Marshal(orEmpty(e.EventInfo))
	if err != nil {
		return Event{}, fmt.Errorf("encode event info: %w", err)
	}
	row := tx.QueryRowContext(ctx, `
		INSERT INTO events (event_type, author_id, story_id, worklist_id, board_id, comment_id, event_info)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+eventColumns,
		e.EventType, e.AuthorID, e.StoryID, e.WorklistID, e.BoardID, e.CommentID, info)
	created, err := scanEvent(row)
	if err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}

	if len(targets) == 0 {
		return created, nil
	}

	subscribers, err := subscriberIDsTx(ctx, tx, targets, e.StoryID)
	if err != nil {
		return Event{}, err
	}
	copyInfo := info
	if subInfo != nil {
		if copyInfo, err = json.Marshal(subInfo); err != nil {
			return Event{}, fmt.Errorf("encode subscription info: %w", err)
		}
	}
	for _, subscriber := range subscribers {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO subscription_events (subscriber_id, author_id, event_type, event_info)
			VALUES ($1, $2, $3, $4)`,
			subscriber, e.AuthorID, e.EventType, copyInfo)
		if err != nil {
			return Event{}, fmt.Errorf("enqueue subscription event: %w", err)
		}
	}
	return created, nil
}

// subscriberIDsTx returns the distinct subscribers of any target, excluding
// users who cannot see the event's story when that story is private.
func subscriberIDsTx(ctx context.Context, tx *sql.Tx, targets []subTarget, storyID *int64) ([]int64, error) {
	conds := make([]string, 0, len(targets))
	args := []any{}
	for _, t := range targets {
		args = append(args, t.Type, t.ID)
		conds = append(conds, fmt.Sprintf("(sub.target_type=$%d AND sub.target_id=$%d)", len(args)-1, len(args)))
	}
	query := `SELECT DISTINCT sub.user_id FROM subscriptions sub WHERE (` + strings.Join(conds, " OR ") + `)`
	if storyID != nil {
		args = append(args, *storyID)
		query += fmt.Sprintf(` AND (
			NOT EXISTS (SELECT 1 FROM stories st WHERE st.id=$%d AND st.private)
			OR EXISTS (
				SELECT 1 FROM story_permissions sp
				JOIN permissions perm ON perm.id = sp.permission_id
				WHERE sp.story_id=$%d AND (
					EXISTS (SELECT 1 FROM user_permissions up WHERE up.permission_id=perm.id AND up.user_id=sub.user_id)
					OR EXISTS (
						SELECT 1 FROM team_permissions tp
						JOIN team_members tm ON tm.team_id = tp.team_id
						WHERE tp.permission_id=perm.id AND tm.user_id=sub.user_id
					)
				)
			)
			OR EXISTS (SELECT 1 FROM users su WHERE su.id=sub.user_id AND su.is_superuser)
		)`, len(args), len(args))
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select subscribers: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// storyVisibleCond is the reusable privacy predicate for queries that join a
// story row under the given alias. $N placeholders are appended to args by the
// caller via the returned fragment; userID 0 means anonymous.
func storyVisibleCond(alias string, userID int64) string {
	if userID == 0 {
		return fmt.Sprintf("NOT %s.private", alias)
	}
	return fmt.Sprintf(`(
		NOT %[1]s.private
		OR EXISTS (SELECT 1 FROM users su WHERE su.id=%[2]d AND su.is_superuser)
		OR EXISTS (
			SELECT 1 FROM story_permissions sp
			JOIN permissions perm ON perm.id = sp.permission_id
			WHERE sp.story_id=%[1]s.id AND (
				EXISTS (SELECT 1 FROM user_permissions up WHERE up.permission_id=perm.id AND up.user_id=%[2]d)
				OR EXISTS (
					SELECT 1 FROM team_permissions tp
					JOIN team_members tm ON tm.team_id = tp.team_id
					WHERE tp.permission_id=perm.id AND tm.user_id=%[2]d
				)
			)
		)
	)`, alias, userID)
}

// EventFilter narrows timeline reads.
type EventFilter struct {
	StoryID    int64
	WorklistID int64
	BoardID    int64
	EventTypes []string
	// CallerID drives privacy filtering; 0 means anonymous.
	CallerID int64
}

func (s *PostgresStore) ListEvents(ctx context.Context, f EventFilter, p Paging) ([]Event, int, error) {
	conds := []string{"TRUE"}
	args := []any{}
	if f.StoryID > 0 {
		args = append(args, f.StoryID)
		conds = append(conds, fmt.Sprintf("e.story_id=$%d", len(args)))
	}
	if f.WorklistID > 0 {
		args = append(args, f.WorklistID)
		conds = append(conds, fmt.Sprintf("e.worklist_id=$%d", len(args)))
	}
	if f.BoardID > 0 {
		args = append(args, f.BoardID)
		conds = append(conds, fmt.Sprintf("e.board_id=$%d", len(args)))
	}
	if len(f.EventTypes) > 0 {
		placeholders := make([]string, len(f.EventTypes))
		for i, t := range f.EventTypes {
			args = append(args, t)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conds = append(conds, "e.event_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	// Privacy: events on a private story are hidden unless the caller can see
	// it; worklist and board events follow their container's visibility.
	conds = append(conds, fmt.Sprintf("(e.story_id IS NULL OR EXISTS (SELECT 1 FROM stories evs WHERE evs.id=e.story_id AND %s))", storyVisibleCond("evs", f.CallerID)))
	conds = append(conds, fmt.Sprintf("(e.worklist_id IS NULL OR EXISTS (SELECT 1 FROM worklists evw WHERE evw.id=e.worklist_id AND %s))", containerVisibleCond("evw", "worklist", f.CallerID)))
	conds = append(conds, fmt.Sprintf("(e.board_id IS NULL OR EXISTS (SELECT 1 FROM boards evb WHERE evb.id=e.board_id AND %s))", containerVisibleCond("evb", "board", f.CallerID)))

	where := " WHERE " + strings.Join(conds, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events e`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	if p.Marker > 0 {
		where += fmt.Sprintf(" AND e.id > %d", p.Marker)
	}
	query := `SELECT ` + qualify(eventColumns, "e") + ` FROM events e` + where +
		orderClause(p, map[string]string{"id": "e.id", "created_at": "e.created_at"}, "e.created_at") + limitClause(p)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, total, rows.Err()
}

func (s *PostgresStore) GetEvent(ctx context.Context, id int64, callerID int64) (Event, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM events e
		WHERE e.id=$1
		AND (e.story_id IS NULL OR EXISTS (SELECT 1 FROM stories evs WHERE evs.id=e.story_id AND %s))
		AND (e.worklist_id IS NULL OR EXISTS (SELECT 1 FROM worklists evw WHERE evw.id=e.worklist_id AND %s))
		AND (e.board_id IS NULL OR EXISTS (SELECT 1 FROM boards evb WHERE evb.id=e.board_id AND %s))`,
		qualify(eventColumns, "e"),
		storyVisibleCond("evs", callerID),
		containerVisibleCond("evw", "worklist", callerID),
		containerVisibleCond("evb", "board", callerID))
	return scanEvent(s.db.QueryRowContext(ctx, query, id))
}

// containerVisibleCond is the privacy predicate for worklists and boards.
// kind selects the permission association table.
func containerVisibleCond(alias, kind string, userID int64) string {
	table := kind + "_permissions"
	column := kind + "_id"
	if userID == 0 {
		return fmt.Sprintf("NOT %s.private", alias)
	}
	return fmt.Sprintf(`(
		NOT %[1]s.private
		OR EXISTS (SELECT 1 FROM users su WHERE su.id=%[4]d AND su.is_superuser)
		OR EXISTS (
			SELECT 1 FROM %[2]s rp
			JOIN permissions perm ON perm.id = rp.permission_id
			WHERE rp.%[3]s=%[1]s.id AND (
				EXISTS (SELECT 1 FROM user_permissions up WHERE up.permission_id=perm.id AND up.user_id=%[4]d)
				OR EXISTS (
					SELECT 1 FROM team_permissions tp
					JOIN team_members tm ON tm.team_id = tp.team_id
					WHERE tp.permission_id=perm.id AND tm.user_id=%[4]d
				)
			)
		)
	)`, alias, table, column, userID)
}

func orEmpty(info map[string]any) map[string]any {
	if info == nil {
		return map[string]any{}
	}
	return info
}
