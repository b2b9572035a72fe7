package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const userColumns = `id, created_at, updated_at, full_name, openid, email, enable_login, is_superuser, last_login`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt, &u.FullName, &u.OpenID, &u.Email, &u.EnableLogin, &u.IsSuperuser, &u.LastLogin)
	return u, err
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
}

func (s *PostgresStore) GetUserByOpenID(ctx context.Context, openid string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE openid=$1`, openid))
}

// UpsertUserByOpenID creates a user on first login and refreshes name, email
// and last_login on subsequent ones.
func (s *PostgresStore) UpsertUserByOpenID(ctx context.Context, openid, fullName, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (openid, full_name, email, last_login)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (openid) DO UPDATE
		SET full_name=EXCLUDED.full_name, email=EXCLUDED.email, last_login=NOW(), updated_at=NOW()
		RETURNING `+userColumns, openid, fullName, email)
	user, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, nameFilter string, p Paging) ([]User, int, error) {
	conds := []string{"TRUE"}
	args := []any{}
	if nameFilter != "" {
		args = append(args, nameFilter)
		conds = append(conds, fmt.Sprintf("full_name ILIKE '%%' || $%d || '%%'", len(args)))
	}
	where := " WHERE " + strings.Join(conds, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	if p.Marker > 0 {
		where += fmt.Sprintf(" AND id > %d", p.Marker)
	}
	query := `SELECT ` + userColumns + ` FROM users` + where +
		orderClause(p, map[string]string{"id": "id", "full_name": "full_name", "created_at": "created_at"}, "id") + limitClause(p)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

func (s *PostgresStore) UpdateUser(ctx context.Context, u User) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET full_name=$2, email=$3, enable_login=$4, is_superuser=$5, updated_at=NOW()
		WHERE id=$1
		RETURNING `+userColumns, u.ID, u.FullName, u.Email, u.EnableLogin, u.IsSuperuser)
	return scanUser(row)
}

// GetUserPreferences returns the stored per-user overrides keyed by name.
func (s *PostgresStore) GetUserPreferences(ctx context.Context, userID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM user_preferences WHERE user_id=$1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	prefs := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		prefs[key] = value
	}
	return prefs, rows.Err()
}

// SetUserPreferences writes overrides. A nil value deletes the override;
// writes are idempotent.
func (s *PostgresStore) SetUserPreferences(ctx context.Context, userID int64, prefs map[string]*string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for key, value := range prefs {
			if value == nil {
				if _, err := tx.ExecContext(ctx, `DELETE FROM user_preferences WHERE user_id=$1 AND key=$2`, userID, key); err != nil {
					return fmt.Errorf("delete preference %s: %w", key, err)
				}
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO user_preferences (user_id, key, value)
				VALUES ($1, $2, $3)
				ON CONFLICT (user_id, key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()
			`, userID, key, *value)
			if err != nil {
				return fmt.Errorf("save preference %s: %w", key, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) CreateTeam(ctx context.Context, name string) (Team, error) {
	var t Team
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO teams (name) VALUES ($1)
		RETURNING id, created_at, updated_at, name`, name).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt, &t.Name)
	if err != nil {
		return Team{}, fmt.Errorf("insert team: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) GetTeam(ctx context.Context, id int64) (Team, error) {
	var t Team
	err := s.db.QueryRowContext(ctx, `SELECT id, created_at, updated_at, name FROM teams WHERE id=$1`, id).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt, &t.Name)
	return t, err
}

func (s *PostgresStore) ListTeams(ctx context.Context, p Paging) ([]Team, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM teams`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count teams: %w", err)
	}
	query := `SELECT id, created_at, updated_at, name FROM teams` +
		orderClause(p, map[string]string{"id": "id", "name": "name"}, "id") + limitClause(p)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	var teams []Team
	for rows.Next() {
		var t Team
		if err := rows.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt, &t.Name); err != nil {
			return nil, 0, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, t)
	}
	return teams, total, rows.Err()
}

func (s *PostgresStore) AddTeamMember(ctx context.Context, teamID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_members (team_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, teamID, userID)
	if err != nil {
		return fmt.Errorf("add team member: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveTeamMember(ctx context.Context, teamID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM team_members WHERE team_id=$1 AND user_id=$2`, teamID, userID)
	if err != nil {
		return fmt.Errorf("remove team member: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTeamMembers(ctx context.Context, teamID int64) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+qualify(userColumns, "u")+`
		FROM users u JOIN team_members tm ON tm.user_id = u.id
		WHERE tm.team_id=$1 ORDER BY u.id`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) DeleteTeam(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM teams WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete team: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// qualify prefixes every column in a comma-separated list with a table alias.
func qualify(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, col := range parts {
		parts[i] = alias + "." + strings.TrimSpace(col)
	}
	return strings.Join(parts, ", ")
}
