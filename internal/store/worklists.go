package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

const worklistColumns = `id, created_at, updated_at, title, creator_id, project_id, private, archived, automatic`

func scanWorklist(row interface{ Scan(...any) error }) (Worklist, error) {
	var w Worklist
	err := row.Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt, &w.Title, &w.CreatorID, &w.ProjectID, &w.Private, &w.Archived, &w.Automatic)
	return w, err
}

// CreateWorklist inserts the worklist, its permissions and the
// worklist_created event in one transaction.
func (s *PostgresStore) CreateWorklist(ctx context.Context, w Worklist, permUsers, permTeams []int64) (Worklist, error) {
	var created Worklist
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO worklists (title, creator_id, project_id, private, automatic)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+worklistColumns,
			w.Title, w.CreatorID, w.ProjectID, w.Private, w.Automatic)
		var err error
		if created, err = scanWorklist(row); err != nil {
			return fmt.Errorf("insert worklist: %w", err)
		}

		if err := setContainerPermissionTx(ctx, tx, "worklist", created.ID, "edit_worklist", permUsers, permTeams); err != nil {
			return err
		}
		if err := setContainerPermissionTx(ctx, tx, "worklist", created.ID, "move_items", nil, nil); err != nil {
			return err
		}
		if _, err := emitEventTx(ctx, tx, Event{
			EventType:  "worklist_permission_created",
			AuthorID:   &w.CreatorID,
			WorklistID: &created.ID,
			EventInfo:  map[string]any{"worklist_id": created.ID, "codename": "edit_worklist"},
		}, nil, nil); err != nil {
			return err
		}

		_, err = emitEventTx(ctx, tx, Event{
			EventType:  "worklist_created",
			AuthorID:   &w.CreatorID,
			WorklistID: &created.ID,
			EventInfo:  map[string]any{"worklist_id": created.ID, "worklist_title": created.Title},
		}, []subTarget{{Type: "worklist", ID: created.ID}}, nil)
		return err
	})
	if err != nil {
		return Worklist{}, err
	}
	return created, nil
}

func (s *PostgresStore) GetWorklist(ctx context.Context, id int64, callerID int64) (Worklist, error) {
	query := `SELECT ` + qualify(worklistColumns, "w") + ` FROM worklists w WHERE w.id=$1 AND ` +
		containerVisibleCond("w", "worklist", callerID)
	return scanWorklist(s.db.QueryRowContext(ctx, query, id))
}

// WorklistFilterParams narrows worklist listings.
type WorklistFilterParams struct {
	Title     string
	CreatorID int64
	ProjectID int64
	Archived  bool
	CallerID  int64
}

func (s *PostgresStore) ListWorklists(ctx context.Context, f WorklistFilterParams, p Paging) ([]Worklist, int, error) {
	conds := []string{containerVisibleCond("w", "worklist", f.CallerID)}
	args := []any{}
	if f.Title != "" {
		args = append(args, f.Title)
		conds = append(conds, fmt.Sprintf("w.title ILIKE '%%' || $%d || '%%'", len(args)))
	}
	if f.CreatorID > 0 {
		args = append(args, f.CreatorID)
		conds = append(conds, fmt.Sprintf("w.creator_id=$%d", len(args)))
	}
	if f.ProjectID > 0 {
		args = append(args, f.ProjectID)
		conds = append(conds, fmt.Sprintf("w.project_id=$%d", len(args)))
	}
	args = append(args, f.Archived)
	conds = append(conds, fmt.Sprintf("w.archived=$%d", len(args)))
	where := " WHERE " + strings.Join(conds, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM worklists w`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count worklists: %w", err)
	}
	if p.Marker > 0 {
		where += fmt.Sprintf(" AND w.id > %d", p.Marker)
	}
	query := `SELECT ` + qualify(worklistColumns, "w") + ` FROM worklists w` + where +
		orderClause(p, map[string]string{"id": "w.id", "title": "w.title", "created_at": "w.created_at"}, "w.id") +
		limitClause(p)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list worklists: %w", err)
	}
	defer rows.Close()

	var worklists []Worklist
	for rows.Next() {
		w, err := scanWorklist(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan worklist: %w", err)
		}
		worklists = append(worklists, w)
	}
	return worklists, total, rows.Err()
}

func (s *PostgresStore) UpdateWorklist(ctx context.Context, w Worklist, authorID int64) (Worklist, error) {
	var updated Worklist
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE worklists
			SET title=$2, private=$3, archived=$4, automatic=$5, updated_at=NOW()
			WHERE id=$1
			RETURNING `+worklistColumns,
			w.ID, w.Title, w.Private, w.Archived, w.Automatic)
		var err error
		if updated, err = scanWorklist(row); err != nil {
			return err
		}
		_, err = emitEventTx(ctx, tx, Event{
			EventType:  "worklist_details_changed",
			AuthorID:   &authorID,
			WorklistID: &w.ID,
			EventInfo:  map[string]any{"worklist_id": w.ID, "worklist_title": updated.Title},
		}, []subTarget{{Type: "worklist", ID: w.ID}}, nil)
		return err
	})
	if err != nil {
		return Worklist{}, err
	}
	return updated, nil
}

// ArchiveWorklist marks the worklist archived and drops its subscriptions.
func (s *PostgresStore) ArchiveWorklist(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE worklists SET archived=TRUE, updated_at=NOW() WHERE id=$1`, id)
		if err != nil {
			return fmt.Errorf("archive worklist: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE target_type='worklist' AND target_id=$1`, id)
		if err != nil {
			return fmt.Errorf("delete worklist subscriptions: %w", err)
		}
		return nil
	})
}

const itemColumns = `id, created_at, updated_at, list_id, item_type, item_id, list_position, archived, display_due_date`

func scanItem(row interface{ Scan(...any) error }) (WorklistItem, error) {
	var it WorklistItem
	err := row.Scan(&it.ID, &it.CreatedAt, &it.UpdatedAt, &it.ListID, &it.ItemType, &it.ItemID, &it.ListPosition, &it.Archived, &it.DisplayDueDate)
	return it, err
}

// ListWorklistItems returns the non-archived items of a manual worklist in
// position order. Automatic worklists are evaluated via EvalWorklistFilters.
func (s *PostgresStore) ListWorklistItems(ctx context.Context, listID int64) ([]WorklistItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM worklist_items
		WHERE list_id=$1 AND NOT archived ORDER BY list_position`, listID)
	if err != nil {
		return nil, fmt.Errorf("list worklist items: %w", err)
	}
	defer rows.Close()

	var items []WorklistItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan worklist item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetWorklistItem(ctx context.Context, itemID int64) (WorklistItem, error) {
	return scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM worklist_items WHERE id=$1`, itemID))
}

// AddWorklistItem adds a card at the given position, shifting later cards
// down. Re-adding a card that exists archived on the list, or anywhere on the
// containing board, restores that card instead of duplicating it. The board
// restore is preferred.
func (s *PostgresStore) AddWorklistItem(ctx context.Context, listID int64, itemType string, itemID int64, position int, authorID int64) (WorklistItem, error) {
	var created WorklistItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// Board-wide archived copy, any lane of any board containing this list.
		row := tx.QueryRowContext(ctx, `
			SELECT `+qualify(itemColumns, "wi")+`
			FROM worklist_items wi
			WHERE wi.archived AND wi.item_type=$1 AND wi.item_id=$2
			AND wi.list_id IN (
				SELECT bw2.list_id FROM board_worklists bw1
				JOIN board_worklists bw2 ON bw2.board_id = bw1.board_id
				WHERE bw1.list_id=$3
			)
			ORDER BY (wi.list_id = $3) DESC
			LIMIT 1`, itemType, itemID, listID)
		restored, err := scanItem(row)
		switch {
		case err == nil:
			created, err = restoreItemTx(ctx, tx, restored, listID, position)
			if err != nil {
				return err
			}
		case err == sql.ErrNoRows:
			// Fall back to a list-local archived copy, then a fresh insert.
			row := tx.QueryRowContext(ctx, `
				SELECT `+itemColumns+` FROM worklist_items
				WHERE archived AND list_id=$1 AND item_type=$2 AND item_id=$3
				LIMIT 1`, listID, itemType, itemID)
			local, localErr := scanItem(row)
			switch {
			case localErr == nil:
				if created, err = restoreItemTx(ctx, tx, local, listID, position); err != nil {
					return err
				}
			case localErr == sql.ErrNoRows:
				if err := shiftPositionsTx(ctx, tx, listID, position, +1); err != nil {
					return err
				}
				insert := tx.QueryRowContext(ctx, `
					INSERT INTO worklist_items (list_id, item_type, item_id, list_position)
					VALUES ($1, $2, $3, $4)
					RETURNING `+itemColumns, listID, itemType, itemID, position)
				if created, err = scanItem(insert); err != nil {
					return fmt.Errorf("insert worklist item: %w", err)
				}
			default:
				return localErr
			}
		default:
			return err
		}

		return emitContentsChangedTx(ctx, tx, listID, authorID, map[string]any{
			"worklist_id": listID, "item_type": itemType, "item_id": itemID, "action": "added",
		})
	})
	if err != nil {
		return WorklistItem{}, err
	}
	return created, nil
}

// restoreItemTx unarchives an item into listID at position, renumbering both
// the source and destination lists.
func restoreItemTx(ctx context.Context, tx *sql.Tx, item WorklistItem, listID int64, position int) (WorklistItem, error) {
	if err := shiftPositionsTx(ctx, tx, listID, position, +1); err != nil {
		return WorklistItem{}, err
	}
	row := tx.QueryRowContext(ctx, `
		UPDATE worklist_items
		SET archived=FALSE, list_id=$2, list_position=$3, updated_at=NOW()
		WHERE id=$1
		RETURNING `+itemColumns, item.ID, listID, position)
	restored, err := scanItem(row)
	if err != nil {
		return WorklistItem{}, fmt.Errorf("restore worklist item: %w", err)
	}
	if item.ListID != listID {
		if err := renumberListTx(ctx, tx, item.ListID); err != nil {
			return WorklistItem{}, err
		}
	}
	return restored, nil
}

// shiftPositionsTx moves the positions of non-archived items at or above
// position by delta.
func shiftPositionsTx(ctx context.Context, tx *sql.Tx, listID int64, position, delta int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE worklist_items
		SET list_position = list_position + $3, updated_at=NOW()
		WHERE list_id=$1 AND NOT archived AND list_position >= $2`, listID, position, delta)
	if err != nil {
		return fmt.Errorf("shift positions: %w", err)
	}
	return nil
}

// renumberListTx rewrites the non-archived positions of a list to the
// contiguous sequence 0..n-1, preserving order.
func renumberListTx(ctx context.Context, tx *sql.Tx, listID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE worklist_items wi
		SET list_position = ranked.pos, updated_at=NOW()
		FROM (
			SELECT id, ROW_NUMBER() OVER (ORDER BY list_position, id) - 1 AS pos
			FROM worklist_items WHERE list_id=$1 AND NOT archived
		) ranked
		WHERE wi.id = ranked.id AND wi.list_position <> ranked.pos`, listID)
	if err != nil {
		return fmt.Errorf("renumber list: %w", err)
	}
	return nil
}

// MoveWorklistItem repositions a card, atomically, within its list or into
// another list. Readers observe either the pre- or post-move state.
func (s *PostgresStore) MoveWorklistItem(ctx context.Context, itemID int64, newPosition int, newListID int64, authorID int64) (WorklistItem, error) {
	var moved WorklistItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		item, err := scanItem(tx.QueryRowContext(ctx, `
			SELECT `+itemColumns+` FROM worklist_items WHERE id=$1 FOR UPDATE`, itemID))
		if err != nil {
			return err
		}
		if newListID == 0 {
			newListID = item.ListID
		}

		switch {
		case newListID != item.ListID:
			// Close the gap in the old list, open one in the new.
			_, err := tx.ExecContext(ctx, `
				UPDATE worklist_items SET list_position = list_position - 1, updated_at=NOW()
				WHERE list_id=$1 AND NOT archived AND list_position > $2`, item.ListID, item.ListPosition)
			if err != nil {
				return fmt.Errorf("close old position: %w", err)
			}
			if err := shiftPositionsTx(ctx, tx, newListID, newPosition, +1); err != nil {
				return err
			}
		case newPosition < item.ListPosition:
			_, err := tx.ExecContext(ctx, `
				UPDATE worklist_items SET list_position = list_position + 1, updated_at=NOW()
				WHERE list_id=$1 AND NOT archived AND list_position >= $2 AND list_position < $3 AND id <> $4`,
				item.ListID, newPosition, item.ListPosition, item.ID)
			if err != nil {
				return fmt.Errorf("shift down: %w", err)
			}
		default:
			_, err := tx.ExecContext(ctx, `
				UPDATE worklist_items SET list_position = list_position - 1, updated_at=NOW()
				WHERE list_id=$1 AND NOT archived AND list_position > $2 AND list_position <= $3 AND id <> $4`,
				item.ListID, item.ListPosition, newPosition, item.ID)
			if err != nil {
				return fmt.Errorf("shift up: %w", err)
			}
		}

		row := tx.QueryRowContext(ctx, `
			UPDATE worklist_items SET list_id=$2, list_position=$3, updated_at=NOW()
			WHERE id=$1 RETURNING `+itemColumns, item.ID, newListID, newPosition)
		if moved, err = scanItem(row); err != nil {
			return fmt.Errorf("move worklist item: %w", err)
		}

		info := map[string]any{
			"worklist_id": newListID, "item_type": item.ItemType, "item_id": item.ItemID,
			"old_position": item.ListPosition, "new_position": newPosition, "action": "moved",
		}
		if item.ListID != newListID {
			info["old_worklist_id"] = item.ListID
			if err := emitContentsChangedTx(ctx, tx, item.ListID, authorID, info); err != nil {
				return err
			}
		}
		return emitContentsChangedTx(ctx, tx, newListID, authorID, info)
	})
	if err != nil {
		return WorklistItem{}, err
	}
	return moved, nil
}

// ArchiveWorklistItem archives the card and renumbers the remaining items.
func (s *PostgresStore) ArchiveWorklistItem(ctx context.Context, itemID int64, authorID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		item, err := scanItem(tx.QueryRowContext(ctx, `
			SELECT `+itemColumns+` FROM worklist_items WHERE id=$1 FOR UPDATE`, itemID))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE worklist_items SET archived=TRUE, updated_at=NOW() WHERE id=$1`, itemID); err != nil {
			return fmt.Errorf("archive worklist item: %w", err)
		}
		if err := renumberListTx(ctx, tx, item.ListID); err != nil {
			return err
		}
		return emitContentsChangedTx(ctx, tx, item.ListID, authorID, map[string]any{
			"worklist_id": item.ListID, "item_type": item.ItemType, "item_id": item.ItemID, "action": "removed",
		})
	})
}

// UpdateWorklistItemDueDate sets or clears the card's display due date.
func (s *PostgresStore) UpdateWorklistItemDueDate(ctx context.Context, itemID int64, dueDateID *int64) (WorklistItem, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE worklist_items SET display_due_date=$2, updated_at=NOW()
		WHERE id=$1 RETURNING `+itemColumns, itemID, dueDateID)
	return scanItem(row)
}

func emitContentsChangedTx(ctx context.Context, tx *sql.Tx, listID int64, authorID int64, info map[string]any) error {
	targets := []subTarget{{Type: "worklist", ID: listID}}
	boardRows, err := tx.QueryContext(ctx, `SELECT board_id FROM board_worklists WHERE list_id=$1`, listID)
	if err != nil {
		return fmt.Errorf("list containing boards: %w", err)
	}
	defer boardRows.Close()
	for boardRows.Next() {
		var boardID int64
		if err := boardRows.Scan(&boardID); err != nil {
			return fmt.Errorf("scan containing board: %w", err)
		}
		targets = append(targets, subTarget{Type: "board", ID: boardID})
	}
	if err := boardRows.Err(); err != nil {
		return err
	}
	_, err = emitEventTx(ctx, tx, Event{
		EventType:  "worklist_contents_changed",
		AuthorID:   &authorID,
		WorklistID: &listID,
		EventInfo:  info,
	}, targets, nil)
	return err
}

// SetWorklistFilters replaces the worklist's filters and emits
// worklist_filters_changed.
func (s *PostgresStore) SetWorklistFilters(ctx context.Context, listID int64, filters []WorklistFilter, authorID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM worklist_filters WHERE list_id=$1`, listID); err != nil {
			return fmt.Errorf("clear filters: %w", err)
		}
		for _, f := range filters {
			var filterID int64
			err := tx.QueryRowContext(ctx, `
				INSERT INTO worklist_filters (list_id, filter_type) VALUES ($1, $2)
				RETURNING id`, listID, f.FilterType).Scan(&filterID)
			if err != nil {
				return fmt.Errorf("insert filter: %w", err)
			}
			for _, c := range f.Criteria {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO filter_criteria (filter_id, title, field, value, negative)
					VALUES ($1, $2, $3, $4, $5)`, filterID, c.Title, c.Field, c.Value, c.Negative)
				if err != nil {
					return fmt.Errorf("insert criterion: %w", err)
				}
			}
		}
		_, err := emitEventTx(ctx, tx, Event{
			EventType:  "worklist_filters_changed",
			AuthorID:   &authorID,
			WorklistID: &listID,
			EventInfo:  map[string]any{"worklist_id": listID},
		}, []subTarget{{Type: "worklist", ID: listID}}, nil)
		return err
	})
}

func (s *PostgresStore) ListWorklistFilters(ctx context.Context, listID int64) ([]WorklistFilter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, updated_at, list_id, filter_type
		FROM worklist_filters WHERE list_id=$1 ORDER BY id`, listID)
	if err != nil {
		return nil, fmt.Errorf("list filters: %w", err)
	}
	defer rows.Close()

	var filters []WorklistFilter
	for rows.Next() {
		var f WorklistFilter
		if err := rows.Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt, &f.ListID, &f.FilterType); err != nil {
			return nil, fmt.Errorf("scan filter: %w", err)
		}
		filters = append(filters, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range filters {
		critRows, err := s.db.QueryContext(ctx, `
			SELECT id, filter_id, title, field, value, negative
			FROM filter_criteria WHERE filter_id=$1 ORDER BY id`, filters[i].ID)
		if err != nil {
			return nil, fmt.Errorf("list criteria: %w", err)
		}
		for critRows.Next() {
			var c FilterCriterion
			if err := critRows.Scan(&c.ID, &c.FilterID, &c.Title, &c.Field, &c.Value, &c.Negative); err != nil {
				critRows.Close()
				return nil, fmt.Errorf("scan criterion: %w", err)
			}
			filters[i].Criteria = append(filters[i].Criteria, c)
		}
		if err := critRows.Err(); err != nil {
			critRows.Close()
			return nil, err
		}
		critRows.Close()
	}
	return filters, nil
}

// EvalWorklistFilters computes the contents of an automatic worklist: each
// filter is a conjunction of its criteria, filters are unioned, and the
// caller's visibility of the underlying stories and tasks is respected.
func (s *PostgresStore) EvalWorklistFilters(ctx context.Context, listID int64, callerID int64) ([]WorklistItem, error) {
	filters, err := s.ListWorklistFilters(ctx, listID)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	var items []WorklistItem
	for _, f := range filters {
		ids, err := s.evalFilter(ctx, f, callerID)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			key := f.FilterType + ":" + strconv.FormatInt(id, 10)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			items = append(items, WorklistItem{
				ListID:       listID,
				ItemType:     f.FilterType,
				ItemID:       id,
				ListPosition: len(items),
			})
		}
	}
	return items, nil
}

func (s *PostgresStore) evalFilter(ctx context.Context, f WorklistFilter, callerID int64) ([]int64, error) {
	var query string
	var conds []string
	args := []any{}

	switch f.FilterType {
	case "story":
		conds = append(conds, storyVisibleCond("s", callerID))
		for _, c := range f.Criteria {
			cond, err := storyCriterionCond(c, &args)
			if err != nil {
				return nil, err
			}
			conds = append(conds, cond)
		}
		query = `SELECT s.id FROM stories s WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY s.id`
	case "task":
		conds = append(conds, storyVisibleCond("s", callerID))
		for _, c := range f.Criteria {
			cond, err := taskCriterionCond(c, &args)
			if err != nil {
				return nil, err
			}
			conds = append(conds, cond)
		}
		query = `SELECT t.id FROM tasks t JOIN stories s ON s.id = t.story_id WHERE ` +
			strings.Join(conds, " AND ") + ` ORDER BY t.id`
	default:
		return nil, fmt.Errorf("unknown filter type %q", f.FilterType)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("evaluate filter: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan filter result: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func storyCriterionCond(c FilterCriterion, args *[]any) (string, error) {
	var cond string
	switch c.Field {
	case "Project":
		*args = append(*args, c.Value)
		cond = fmt.Sprintf("EXISTS (SELECT 1 FROM tasks ct WHERE ct.story_id=s.id AND ct.project_id=$%d::bigint)", len(*args))
	case "ProjectGroup":
		*args = append(*args, c.Value)
		cond = fmt.Sprintf(`EXISTS (
			SELECT 1 FROM tasks ct JOIN project_group_projects pgp ON pgp.project_id = ct.project_id
			WHERE ct.story_id=s.id AND pgp.project_group_id=$%d::bigint)`, len(*args))
	case "Story":
		*args = append(*args, c.Value)
		cond = fmt.Sprintf("s.id=$%d::bigint", len(*args))
	case "User":
		*args = append(*args, c.Value)
		cond = fmt.Sprintf("EXISTS (SELECT 1 FROM tasks ct WHERE ct.story_id=s.id AND ct.assignee_id=$%d::bigint)", len(*args))
	case "StoryStatus":
		*args = append(*args, c.Value)
		cond = fmt.Sprintf(storyStatusExpr, "s") + fmt.Sprintf(" = $%d", len(*args))
	case "Tags":
		*args = append(*args, c.Value)
		cond = fmt.Sprintf(`EXISTS (
			SELECT 1 FROM story_story_tags sst JOIN story_tags st ON st.id = sst.tag_id
			WHERE sst.story_id=s.id AND st.name=$%d)`, len(*args))
	case "Text":
		*args = append(*args, c.Value)
		cond = fmt.Sprintf("s.title ILIKE '%%' || $%d || '%%'", len(*args))
	default:
		return "", fmt.Errorf("unknown criterion field %q", c.Field)
	}
	if c.Negative {
		cond = "NOT (" + cond + ")"
	}
	return cond, nil
}

func taskCriterionCond(c FilterCriterion, args *[]any) (string, error) {
	var cond string
	switch c.Field {
	case "Project":
		*args = append(*args, c.Value)
		cond = fmt.Sprintf("t.project_id=$%d::bigint", len(*args))
	case "ProjectGroup":
		*args = append(*args, c.Value)
		cond = fmt.Sprintf(`EXISTS (
			SELECT 1 FROM project_group_projects pgp
			WHERE pgp.project_id=t.project_id AND pgp.project_group_id=$%d::bigint)`, len(*args))
	case "Story":
		*args = append(*args, c.Value)
		cond = fmt.Sprintf("t.story_id=$%d::bigint", len(*args))
	case "User":
		*args = append(*args, c.Value)
		cond = fmt.Sprintf("t.assignee_id=$%d::bigint", len(*args))
	case "TaskStatus":
		*args = append(*args, c.Value)
		cond = fmt.Sprintf("t.status=$%d", len(*args))
	case "StoryStatus":
		*args = append(*args, c.Value)
		cond = fmt.Sprintf(storyStatusExpr, "s") + fmt.Sprintf(" = $%d", len(*args))
	case "Tags":
		*args = append(*args, c.Value)
		cond = fmt.Sprintf(`EXISTS (
			SELECT 1 FROM story_story_tags sst JOIN story_tags st ON st.id = sst.tag_id
			WHERE sst.story_id=t.story_id AND st.name=$%d)`, len(*args))
	case "Text":
		*args = append(*args, c.Value)
		cond = fmt.Sprintf("t.title ILIKE '%%' || $%d || '%%'", len(*args))
	default:
		return "", fmt.Errorf("unknown criterion field %q", c.Field)
	}
	if c.Negative {
		cond = "NOT (" + cond + ")"
	}
	return cond, nil
}
