package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const projectColumns = `id, created_at, updated_at, name, description, is_active, repo_url, autocreate_branches`

func scanProject(row interface{ Scan(...any) error }) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt, &p.Name, &p.Description, &p.IsActive, &p.RepoURL, &p.AutocreateBranches)
	return p, err
}

// CreateProject inserts the project and its master branch in one transaction.
func (s *PostgresStore) CreateProject(ctx context.Context, p Project) (Project, error) {
	var created Project
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO projects (name, description, is_active, repo_url, autocreate_branches)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+projectColumns,
			p.Name, p.Description, p.IsActive, p.RepoURL, p.AutocreateBranches)
		var err error
		if created, err = scanProject(row); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO branches (name, project_id, autocreated) VALUES ('master', $1, TRUE)`, created.ID)
		if err != nil {
			return fmt.Errorf("insert master branch: %w", err)
		}
		return nil
	})
	if err != nil {
		return Project{}, err
	}
	return created, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id int64) (Project, error) {
	return scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=$1`, id))
}

func (s *PostgresStore) ListProjects(ctx context.Context, nameFilter string, p Paging) ([]Project, int, error) {
	conds := []string{"TRUE"}
	args := []any{}
	if nameFilter != "" {
		args = append(args, nameFilter)
		conds = append(conds, fmt.Sprintf("name ILIKE '%%' || $%d || '%%'", len(args)))
	}
	where := " WHERE " + strings.Join(conds, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count projects: %w", err)
	}

	if p.Marker > 0 {
		where += fmt.Sprintf(" AND id > %d", p.Marker)
	}
	query := `SELECT ` + projectColumns + ` FROM projects` + where +
		orderClause(p, map[string]string{"id": "id", "name": "name"}, "id") + limitClause(p)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		proj, err := scanProject(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, proj)
	}
	return projects, total, rows.Err()
}

func (s *PostgresStore) UpdateProject(ctx context.Context, p Project) (Project, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE projects
		SET name=$2, description=$3, is_active=$4, repo_url=$5, autocreate_branches=$6, updated_at=NOW()
		WHERE id=$1
		RETURNING `+projectColumns,
		p.ID, p.Name, p.Description, p.IsActive, p.RepoURL, p.AutocreateBranches)
	return scanProject(row)
}

// DeleteProject removes the project and its subscriptions in one transaction.
func (s *PostgresStore) DeleteProject(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, id)
		if err != nil {
			return fmt.Errorf("delete project: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE target_type='project' AND target_id=$1`, id)
		if err != nil {
			return fmt.Errorf("delete project subscriptions: %w", err)
		}
		return nil
	})
}

const groupColumns = `id, created_at, updated_at, name, title`

func scanGroup(row interface{ Scan(...any) error }) (ProjectGroup, error) {
	var g ProjectGroup
	err := row.Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt, &g.Name, &g.Title)
	return g, err
}

func (s *PostgresStore) CreateProjectGroup(ctx context.Context, g ProjectGroup) (ProjectGroup, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO project_groups (name, title) VALUES ($1, $2)
		RETURNING `+groupColumns, g.Name, g.Title)
	created, err := scanGroup(row)
	if err != nil {
		return ProjectGroup{}, fmt.Errorf("insert project group: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetProjectGroup(ctx context.Context, id int64) (ProjectGroup, error) {
	return scanGroup(s.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM project_groups WHERE id=$1`, id))
}

func (s *PostgresStore) ListProjectGroups(ctx context.Context, p Paging) ([]ProjectGroup, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM project_groups`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count project groups: %w", err)
	}
	where := " WHERE TRUE"
	if p.Marker > 0 {
		where += fmt.Sprintf(" AND id > %d", p.Marker)
	}
	query := `SELECT ` + groupColumns + ` FROM project_groups` + where +
		orderClause(p, map[string]string{"id": "id", "name": "name"}, "id") + limitClause(p)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("list project groups: %w", err)
	}
	defer rows.Close()

	var groups []ProjectGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan project group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, total, rows.Err()
}

func (s *PostgresStore) UpdateProjectGroup(ctx context.Context, g ProjectGroup) (ProjectGroup, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE project_groups SET name=$2, title=$3, updated_at=NOW() WHERE id=$1
		RETURNING `+groupColumns, g.ID, g.Name, g.Title)
	return scanGroup(row)
}

// ErrGroupNotEmpty is returned when deleting a project group that still has
// member projects.
var ErrGroupNotEmpty = fmt.Errorf("project group is not empty")

// DeleteProjectGroup refuses to delete a non-empty group. On success it
// notifies group subscribers and drops the group's subscriptions, all in one
// transaction.
func (s *PostgresStore) DeleteProjectGroup(ctx context.Context, id int64, authorID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var members int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM project_group_projects WHERE project_group_id=$1`, id).Scan(&members); err != nil {
			return fmt.Errorf("count group members: %w", err)
		}
		if members > 0 {
			return ErrGroupNotEmpty
		}

		_, err := emitEventTx(ctx, tx, Event{
			EventType: "project_group deleted",
			AuthorID:  &authorID,
			EventInfo: map[string]any{"project_group_id": id},
		}, []subTarget{{Type: "project_group", ID: id}}, nil)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM project_groups WHERE id=$1`, id)
		if err != nil {
			return fmt.Errorf("delete project group: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE target_type='project_group' AND target_id=$1`, id)
		if err != nil {
			return fmt.Errorf("delete group subscriptions: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) ListGroupProjects(ctx context.Context, groupID int64) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+qualify(projectColumns, "p")+`
		FROM projects p JOIN project_group_projects pgp ON pgp.project_id = p.id
		WHERE pgp.project_group_id=$1 ORDER BY p.id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// AddGroupProject adds a project to a group and notifies group subscribers.
func (s *PostgresStore) AddGroupProject(ctx context.Context, groupID, projectID, authorID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO project_group_projects (project_group_id, project_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING`, groupID, projectID)
		if err != nil {
			return fmt.Errorf("add group project: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		_, err = emitEventTx(ctx, tx, Event{
			EventType: "project added to project_group",
			AuthorID:  &authorID,
			EventInfo: map[string]any{"project_group_id": groupID, "project_id": projectID},
		}, []subTarget{{Type: "project_group", ID: groupID}}, nil)
		return err
	})
}

// RemoveGroupProject removes a project from a group and notifies group
// subscribers with a synthetic removal event.
func (s *PostgresStore) RemoveGroupProject(ctx context.Context, groupID, projectID, authorID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM project_group_projects WHERE project_group_id=$1 AND project_id=$2`, groupID, projectID)
		if err != nil {
			return fmt.Errorf("remove group project: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		_, err = emitEventTx(ctx, tx, Event{
			EventType: "project removed from project_group",
			AuthorID:  &authorID,
			EventInfo: map[string]any{"project_group_id": groupID, "project_id": projectID},
		}, []subTarget{{Type: "project_group", ID: groupID}}, nil)
		return err
	})
}

const branchColumns = `id, created_at, updated_at, name, project_id, expired, expiration_date, autocreated, restricted`

func scanBranch(row interface{ Scan(...any) error }) (Branch, error) {
	var b Branch
	err := row.Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt, &b.Name, &b.ProjectID, &b.Expired, &b.ExpirationDate, &b.Autocreated, &b.Restricted)
	return b, err
}

func (s *PostgresStore) CreateBranch(ctx context.Context, b Branch) (Branch, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO branches (name, project_id, expired, expiration_date, autocreated, restricted)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+branchColumns,
		b.Name, b.ProjectID, b.Expired, b.ExpirationDate, b.Autocreated, b.Restricted)
	created, err := scanBranch(row)
	if err != nil {
		return Branch{}, fmt.Errorf("insert branch: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetBranch(ctx context.Context, id int64) (Branch, error) {
	return scanBranch(s.db.QueryRowContext(ctx, `SELECT `+branchColumns+` FROM branches WHERE id=$1`, id))
}

// GetMasterBranch returns the project's master branch.
func (s *PostgresStore) GetMasterBranch(ctx context.Context, projectID int64) (Branch, error) {
	return scanBranch(s.db.QueryRowContext(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE project_id=$1 AND name='master'`, projectID))
}

func (s *PostgresStore) ListBranches(ctx context.Context, projectID int64, p Paging) ([]Branch, int, error) {
	conds := []string{"TRUE"}
	args := []any{}
	if projectID > 0 {
		args = append(args, projectID)
		conds = append(conds, fmt.Sprintf("project_id=$%d", len(args)))
	}
	where := " WHERE " + strings.Join(conds, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM branches`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count branches: %w", err)
	}
	if p.Marker > 0 {
		where += fmt.Sprintf(" AND id > %d", p.Marker)
	}
	query := `SELECT ` + branchColumns + ` FROM branches` + where +
		orderClause(p, map[string]string{"id": "id", "name": "name"}, "id") + limitClause(p)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	var branches []Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan branch: %w", err)
		}
		branches = append(branches, b)
	}
	return branches, total, rows.Err()
}

func (s *PostgresStore) UpdateBranch(ctx context.Context, b Branch) (Branch, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE branches
		SET name=$2, expired=$3, expiration_date=$4, restricted=$5, updated_at=NOW()
		WHERE id=$1
		RETURNING `+branchColumns,
		b.ID, b.Name, b.Expired, b.ExpirationDate, b.Restricted)
	return scanBranch(row)
}

const milestoneColumns = `id, created_at, updated_at, name, branch_id, expired, expiration_date`

func scanMilestone(row interface{ Scan(...any) error }) (Milestone, error) {
	var m Milestone
	err := row.Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt, &m.Name, &m.BranchID, &m.Expired, &m.ExpirationDate)
	return m, err
}

func (s *PostgresStore) CreateMilestone(ctx context.Context, m Milestone) (Milestone, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO milestones (name, branch_id, expired, expiration_date)
		VALUES ($1, $2, $3, $4)
		RETURNING `+milestoneColumns,
		m.Name, m.BranchID, m.Expired, m.ExpirationDate)
	created, err := scanMilestone(row)
	if err != nil {
		return Milestone{}, fmt.Errorf("insert milestone: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetMilestone(ctx context.Context, id int64) (Milestone, error) {
	return scanMilestone(s.db.QueryRowContext(ctx, `SELECT `+milestoneColumns+` FROM milestones WHERE id=$1`, id))
}

func (s *PostgresStore) ListMilestones(ctx context.Context, branchID int64, p Paging) ([]Milestone, int, error) {
	conds := []string{"TRUE"}
	args := []any{}
	if branchID > 0 {
		args = append(args, branchID)
		conds = append(conds, fmt.Sprintf("branch_id=$%d", len(args)))
	}
	where := " WHERE " + strings.Join(conds, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM milestones`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count milestones: %w", err)
	}
	if p.Marker > 0 {
		where += fmt.Sprintf(" AND id > %d", p.Marker)
	}
	query := `SELECT ` + milestoneColumns + ` FROM milestones` + where +
		orderClause(p, map[string]string{"id": "id", "name": "name"}, "id") + limitClause(p)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list milestones: %w", err)
	}
	defer rows.Close()

	var milestones []Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan milestone: %w", err)
		}
		milestones = append(milestones, m)
	}
	return milestones, total, rows.Err()
}

// UpdateMilestone ignores any branch change in the incoming record; a
// milestone stays on the branch it was created for.
func (s *PostgresStore) UpdateMilestone(ctx context.Context, m Milestone) (Milestone, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE milestones
		SET name=$2, expired=$3, expiration_date=$4, updated_at=NOW()
		WHERE id=$1
		RETURNING `+milestoneColumns,
		m.ID, m.Name, m.Expired, m.ExpirationDate)
	return scanMilestone(row)
}
