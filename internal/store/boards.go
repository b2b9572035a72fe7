package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const boardColumns = `id, created_at, updated_at, title, description, creator_id, project_id, private, archived`

func scanBoard(row interface{ Scan(...any) error }) (Board, error) {
	var b Board
	err := row.Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt, &b.Title, &b.Description, &b.CreatorID, &b.ProjectID, &b.Private, &b.Archived)
	return b, err
}

// CreateBoard inserts the board, its permissions and the board_created event
// in one transaction.
func (s *PostgresStore) CreateBoard(ctx context.Context, b Board, permUsers, permTeams []int64) (Board, error) {
	var created Board
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO boards (title, description, creator_id, project_id, private)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+boardColumns,
			b.Title, b.Description, b.CreatorID, b.ProjectID, b.Private)
		var err error
		if created, err = scanBoard(row); err != nil {
			return fmt.Errorf("insert board: %w", err)
		}

		if err := setContainerPermissionTx(ctx, tx, "board", created.ID, "edit_board", permUsers, permTeams); err != nil {
			return err
		}
		if err := setContainerPermissionTx(ctx, tx, "board", created.ID, "move_cards", nil, nil); err != nil {
			return err
		}
		if _, err := emitEventTx(ctx, tx, Event{
			EventType: "board_permission_created",
			AuthorID:  &b.CreatorID,
			BoardID:   &created.ID,
			EventInfo: map[string]any{"board_id": created.ID, "codename": "edit_board"},
		}, nil, nil); err != nil {
			return err
		}

		_, err = emitEventTx(ctx, tx, Event{
			EventType: "board_created",
			AuthorID:  &b.CreatorID,
			BoardID:   &created.ID,
			EventInfo: map[string]any{"board_id": created.ID, "board_title": created.Title},
		}, []subTarget{{Type: "board", ID: created.ID}}, nil)
		return err
	})
	if err != nil {
		return Board{}, err
	}
	created.Lanes = nil
	return created, nil
}

// GetBoard returns the board with its lanes sorted by position, or
// sql.ErrNoRows when absent or invisible to the caller.
func (s *PostgresStore) GetBoard(ctx context.Context, id int64, callerID int64) (Board, error) {
	query := `SELECT ` + qualify(boardColumns, "b") + ` FROM boards b WHERE b.id=$1 AND ` +
		containerVisibleCond("b", "board", callerID)
	board, err := scanBoard(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return Board{}, err
	}
	if board.Lanes, err = s.listLanes(ctx, id); err != nil {
		return Board{}, err
	}
	return board, nil
}

func (s *PostgresStore) listLanes(ctx context.Context, boardID int64) ([]Lane, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, list_id, position
		FROM board_worklists WHERE board_id=$1 ORDER BY position`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list lanes: %w", err)
	}
	defer rows.Close()

	var lanes []Lane
	for rows.Next() {
		var lane Lane
		if err := rows.Scan(&lane.ID, &lane.BoardID, &lane.ListID, &lane.Position); err != nil {
			return nil, fmt.Errorf("scan lane: %w", err)
		}
		lanes = append(lanes, lane)
	}
	return lanes, rows.Err()
}

// BoardFilterParams narrows board listings.
type BoardFilterParams struct {
	Title     string
	CreatorID int64
	ProjectID int64
	Archived  bool
	CallerID  int64
}

func (s *PostgresStore) ListBoards(ctx context.Context, f BoardFilterParams, p Paging) ([]Board, int, error) {
	conds := []string{containerVisibleCond("b", "board", f.CallerID)}
	args := []any{}
	if f.Title != "" {
		args = append(args, f.Title)
		conds = append(conds, fmt.Sprintf("b.title ILIKE '%%' || $%d || '%%'", len(args)))
	}
	if f.CreatorID > 0 {
		args = append(args, f.CreatorID)
		conds = append(conds, fmt.Sprintf("b.creator_id=$%d", len(args)))
	}
	if f.ProjectID > 0 {
		args = append(args, f.ProjectID)
		conds = append(conds, fmt.Sprintf("b.project_id=$%d", len(args)))
	}
	args = append(args, f.Archived)
	conds = append(conds, fmt.Sprintf("b.archived=$%d", len(args)))
	where := " WHERE " + strings.Join(conds, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM boards b`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count boards: %w", err)
	}
	if p.Marker > 0 {
		where += fmt.Sprintf(" AND b.id > %d", p.Marker)
	}
	query := `SELECT ` + qualify(boardColumns, "b") + ` FROM boards b` + where +
		orderClause(p, map[string]string{"id": "b.id", "title": "b.title", "created_at": "b.created_at"}, "b.id") +
		limitClause(p)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	var boards []Board
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan board: %w", err)
		}
		boards = append(boards, b)
	}
	return boards, total, rows.Err()
}

// UpdateBoard writes board fields and, when lanes is non-nil, replaces the
// lane set. Lane changes emit board_lanes_changed alongside
// board_details_changed.
func (s *PostgresStore) UpdateBoard(ctx context.Context, b Board, lanes []Lane, authorID int64) (Board, error) {
	var updated Board
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE boards
			SET title=$2, description=$3, private=$4, updated_at=NOW()
			WHERE id=$1
			RETURNING `+boardColumns,
			b.ID, b.Title, b.Description, b.Private)
		var err error
		if updated, err = scanBoard(row); err != nil {
			return err
		}

		if lanes != nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM board_worklists WHERE board_id=$1`, b.ID); err != nil {
				return fmt.Errorf("clear lanes: %w", err)
			}
			for _, lane := range lanes {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO board_worklists (board_id, list_id, position)
					VALUES ($1, $2, $3)`, b.ID, lane.ListID, lane.Position)
				if err != nil {
					return fmt.Errorf("insert lane: %w", err)
				}
			}
			if _, err := emitEventTx(ctx, tx, Event{
				EventType: "board_lanes_changed",
				AuthorID:  &authorID,
				BoardID:   &b.ID,
				EventInfo: map[string]any{"board_id": b.ID},
			}, []subTarget{{Type: "board", ID: b.ID}}, nil); err != nil {
				return err
			}
		}

		_, err = emitEventTx(ctx, tx, Event{
			EventType: "board_details_changed",
			AuthorID:  &authorID,
			BoardID:   &b.ID,
			EventInfo: map[string]any{"board_id": b.ID, "board_title": updated.Title},
		}, []subTarget{{Type: "board", ID: b.ID}}, nil)
		return err
	})
	if err != nil {
		return Board{}, err
	}
	if updated.Lanes, err = s.listLanes(ctx, b.ID); err != nil {
		return Board{}, err
	}
	return updated, nil
}

// ArchiveBoard archives the board and every lane's worklist, and drops the
// board's subscriptions. Archiving a worklist never archives its boards.
func (s *PostgresStore) ArchiveBoard(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE boards SET archived=TRUE, updated_at=NOW() WHERE id=$1`, id)
		if err != nil {
			return fmt.Errorf("archive board: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE worklists SET archived=TRUE, updated_at=NOW()
			WHERE id IN (SELECT list_id FROM board_worklists WHERE board_id=$1)`, id)
		if err != nil {
			return fmt.Errorf("archive board worklists: %w", err)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE target_type='board' AND target_id=$1`, id)
		if err != nil {
			return fmt.Errorf("delete board subscriptions: %w", err)
		}
		return nil
	})
}

const dueDateColumns = `id, created_at, updated_at, name, date, private, creator_id`

func scanDueDate(row interface{ Scan(...any) error }) (DueDate, error) {
	var d DueDate
	err := row.Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt, &d.Name, &d.Date, &d.Private, &d.CreatorID)
	return d, err
}

func (s *PostgresStore) CreateDueDate(ctx context.Context, d DueDate, permUsers, permTeams []int64) (DueDate, error) {
	var created DueDate
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO due_dates (name, date, private, creator_id)
			VALUES ($1, $2, $3, $4)
			RETURNING `+dueDateColumns,
			d.Name, d.Date, d.Private, d.CreatorID)
		var err error
		if created, err = scanDueDate(row); err != nil {
			return fmt.Errorf("insert due date: %w", err)
		}
		if err := setContainerPermissionTx(ctx, tx, "due_date", created.ID, "edit_date", permUsers, permTeams); err != nil {
			return err
		}
		return setContainerPermissionTx(ctx, tx, "due_date", created.ID, "assign_date", nil, nil)
	})
	if err != nil {
		return DueDate{}, err
	}
	return created, nil
}

func (s *PostgresStore) GetDueDate(ctx context.Context, id int64, callerID int64) (DueDate, error) {
	query := `SELECT ` + qualify(dueDateColumns, "d") + ` FROM due_dates d WHERE d.id=$1 AND ` +
		containerVisibleCond("d", "due_date", callerID)
	return scanDueDate(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) ListDueDates(ctx context.Context, boardID int64, callerID int64, p Paging) ([]DueDate, int, error) {
	conds := []string{containerVisibleCond("d", "due_date", callerID)}
	args := []any{}
	if boardID > 0 {
		args = append(args, boardID)
		conds = append(conds, fmt.Sprintf("EXISTS (SELECT 1 FROM due_date_boards db WHERE db.due_date_id=d.id AND db.board_id=$%d)", len(args)))
	}
	where := " WHERE " + strings.Join(conds, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM due_dates d`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count due dates: %w", err)
	}
	if p.Marker > 0 {
		where += fmt.Sprintf(" AND d.id > %d", p.Marker)
	}
	query := `SELECT ` + qualify(dueDateColumns, "d") + ` FROM due_dates d` + where +
		orderClause(p, map[string]string{"id": "d.id", "date": "d.date", "name": "d.name"}, "d.id") +
		limitClause(p)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list due dates: %w", err)
	}
	defer rows.Close()

	var dates []DueDate
	for rows.Next() {
		d, err := scanDueDate(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan due date: %w", err)
		}
		dates = append(dates, d)
	}
	return dates, total, rows.Err()
}

func (s *PostgresStore) UpdateDueDate(ctx context.Context, d DueDate) (DueDate, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE due_dates SET name=$2, date=$3, private=$4, updated_at=NOW()
		WHERE id=$1 RETURNING `+dueDateColumns,
		d.ID, d.Name, d.Date, d.Private)
	return scanDueDate(row)
}

// AssignDueDate links a due date to a board, worklist, story or task.
func (s *PostgresStore) AssignDueDate(ctx context.Context, dueDateID int64, targetType string, targetID int64) error {
	var query string
	switch targetType {
	case "board":
		query = `INSERT INTO due_date_boards (due_date_id, board_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	case "worklist":
		query = `INSERT INTO due_date_worklists (due_date_id, worklist_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	case "story":
		query = `INSERT INTO due_date_stories (due_date_id, story_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	case "task":
		query = `INSERT INTO due_date_tasks (due_date_id, task_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	default:
		return fmt.Errorf("unknown due date target %q", targetType)
	}
	if _, err := s.db.ExecContext(ctx, query, dueDateID, targetID); err != nil {
		return fmt.Errorf("assign due date: %w", err)
	}
	return nil
}

func (s *PostgresStore) UnassignDueDate(ctx context.Context, dueDateID int64, targetType string, targetID int64) error {
	var query string
	switch targetType {
	case "board":
		query = `DELETE FROM due_date_boards WHERE due_date_id=$1 AND board_id=$2`
	case "worklist":
		query = `DELETE FROM due_date_worklists WHERE due_date_id=$1 AND worklist_id=$2`
	case "story":
		query = `DELETE FROM due_date_stories WHERE due_date_id=$1 AND story_id=$2`
	case "task":
		query = `DELETE FROM due_date_tasks WHERE due_date_id=$1 AND task_id=$2`
	default:
		return fmt.Errorf("unknown due date target %q", targetType)
	}
	if _, err := s.db.ExecContext(ctx, query, dueDateID, targetID); err != nil {
		return fmt.Errorf("unassign due date: %w", err)
	}
	return nil
}

// BoardContainsWorklist reports whether the worklist is a lane of the board.
func (s *PostgresStore) BoardContainsWorklist(ctx context.Context, boardID, listID int64) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM board_worklists WHERE board_id=$1 AND list_id=$2)`, boardID, listID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check board lane: %w", err)
	}
	return ok, nil
}

// BoardsContaining lists the ids of boards that have the worklist as a lane.
func (s *PostgresStore) BoardsContaining(ctx context.Context, listID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT board_id FROM board_worklists WHERE list_id=$1`, listID)
	if err != nil {
		return nil, fmt.Errorf("list containing boards: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan board id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
