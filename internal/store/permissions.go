package store

import (
	"context"
	"database/sql"
	"fmt"
)

// setContainerPermissionTx upserts a named permission row for a worklist,
// board or due_date and rewrites its grant lists. Permission names are
// "<codename>_<kind>_<id>" so each resource owns its rows.
func setContainerPermissionTx(ctx context.Context, tx *sql.Tx, kind string, resourceID int64, codename string, users, teams []int64) error {
	name := fmt.Sprintf("%s_%s_%d", codename, kind, resourceID)
	var permID int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO permissions (name, codename) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET updated_at=NOW()
		RETURNING id`, name, codename).Scan(&permID)
	if err != nil {
		return fmt.Errorf("upsert permission %s: %w", name, err)
	}
	table := kind + "_permissions"
	column := kind + "_id"
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s, permission_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, table, column), resourceID, permID)
	if err != nil {
		return fmt.Errorf("link permission %s: %w", name, err)
	}
	return replaceGrantsTx(ctx, tx, permID, users, teams)
}

// SetContainerPermission updates one codename's grant lists on a resource and
// emits the matching permissions-changed event for worklists and boards.
func (s *PostgresStore) SetContainerPermission(ctx context.Context, kind string, resourceID int64, codename string, users, teams []int64, authorID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := setContainerPermissionTx(ctx, tx, kind, resourceID, codename, users, teams); err != nil {
			return err
		}
		event := Event{
			AuthorID:  &authorID,
			EventInfo: map[string]any{"codename": codename},
		}
		var targets []subTarget
		switch kind {
		case "worklist":
			event.EventType = "worklist_permissions_changed"
			event.WorklistID = &resourceID
			event.EventInfo["worklist_id"] = resourceID
			targets = []subTarget{{Type: "worklist", ID: resourceID}}
		case "board":
			event.EventType = "board_permissions_changed"
			event.BoardID = &resourceID
			event.EventInfo["board_id"] = resourceID
			targets = []subTarget{{Type: "board", ID: resourceID}}
		default:
			return nil
		}
		_, err := emitEventTx(ctx, tx, event, targets, nil)
		return err
	})
}

// ListContainerPermissions returns a resource's permission rows with their
// user and team grants.
func (s *PostgresStore) ListContainerPermissions(ctx context.Context, kind string, resourceID int64) ([]Permission, error) {
	table := kind + "_permissions"
	column := kind + "_id"
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT p.id, p.name, p.codename
		FROM permissions p JOIN %s rp ON rp.permission_id = p.id
		WHERE rp.%s=$1 ORDER BY p.id`, table, column), resourceID)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Codename); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range perms {
		if perms[i].Users, err = s.grantList(ctx, `SELECT user_id FROM user_permissions WHERE permission_id=$1 ORDER BY user_id`, perms[i].ID); err != nil {
			return nil, err
		}
		if perms[i].Teams, err = s.grantList(ctx, `SELECT team_id FROM team_permissions WHERE permission_id=$1 ORDER BY team_id`, perms[i].ID); err != nil {
			return nil, err
		}
	}
	return perms, nil
}

func (s *PostgresStore) grantList(ctx context.Context, query string, permID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, permID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HoldsPermission reports whether the user holds any of the codenames on the
// resource, directly or through a team.
func (s *PostgresStore) HoldsPermission(ctx context.Context, userID int64, kind string, resourceID int64, codenames ...string) (bool, error) {
	if userID == 0 || len(codenames) == 0 {
		return false, nil
	}
	table := kind + "_permissions"
	column := kind + "_id"
	query := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM %s rp
			JOIN permissions p ON p.id = rp.permission_id
			WHERE rp.%s=$1 AND p.codename = ANY($2) AND (
				EXISTS (SELECT 1 FROM user_permissions up WHERE up.permission_id=p.id AND up.user_id=$3)
				OR EXISTS (
					SELECT 1 FROM team_permissions tp
					JOIN team_members tm ON tm.team_id = tp.team_id
					WHERE tp.permission_id=p.id AND tm.user_id=$3
				)
			)
		)`, table, column)
	var held bool
	if err := s.db.QueryRowContext(ctx, query, resourceID, codenameArray(codenames), userID).Scan(&held); err != nil {
		return false, fmt.Errorf("check permission: %w", err)
	}
	return held, nil
}

// codenameArray renders a Postgres text array literal for ANY().
func codenameArray(codenames []string) string {
	out := "{"
	for i, c := range codenames {
		if i > 0 {
			out += ","
		}
		out += c
	}
	return out + "}"
}
