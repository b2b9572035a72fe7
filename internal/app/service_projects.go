package app

import (
	"context"
	"strings"

	"storyboard/api/internal/store"
)

func (s *Service) CreateProject(ctx context.Context, caller Caller, p store.Project) (store.Project, error) {
	if !caller.Superuser {
		return store.Project{}, permissionDenied()
	}
	if strings.TrimSpace(p.Name) == "" {
		return store.Project{}, validationError("name", "project name must not be empty")
	}
	return s.store.CreateProject(ctx, p)
}

func (s *Service) GetProject(ctx context.Context, id int64) (store.Project, error) {
	return s.store.GetProject(ctx, id)
}

func (s *Service) ListProjects(ctx context.Context, nameFilter string, p store.Paging) ([]store.Project, int, error) {
	return s.store.ListProjects(ctx, nameFilter, p)
}

func (s *Service) UpdateProject(ctx context.Context, caller Caller, p store.Project) (store.Project, error) {
	if !caller.Superuser {
		return store.Project{}, permissionDenied()
	}
	if _, err := s.store.GetProject(ctx, p.ID); err != nil {
		return store.Project{}, err
	}
	return s.store.UpdateProject(ctx, p)
}

func (s *Service) DeleteProject(ctx context.Context, caller Caller, id int64) error {
	if !caller.Superuser {
		return permissionDenied()
	}
	return s.store.DeleteProject(ctx, id)
}

func (s *Service) CreateProjectGroup(ctx context.Context, caller Caller, g store.ProjectGroup) (store.ProjectGroup, error) {
	if !caller.Superuser {
		return store.ProjectGroup{}, permissionDenied()
	}
	if strings.TrimSpace(g.Name) == "" {
		return store.ProjectGroup{}, validationError("name", "project group name must not be empty")
	}
	return s.store.CreateProjectGroup(ctx, g)
}

func (s *Service) GetProjectGroup(ctx context.Context, id int64) (store.ProjectGroup, error) {
	return s.store.GetProjectGroup(ctx, id)
}

func (s *Service) ListProjectGroups(ctx context.Context, p store.Paging) ([]store.ProjectGroup, int, error) {
	return s.store.ListProjectGroups(ctx, p)
}

func (s *Service) UpdateProjectGroup(ctx context.Context, caller Caller, g store.ProjectGroup) (store.ProjectGroup, error) {
	if !caller.Superuser {
		return store.ProjectGroup{}, permissionDenied()
	}
	if _, err := s.store.GetProjectGroup(ctx, g.ID); err != nil {
		return store.ProjectGroup{}, err
	}
	return s.store.UpdateProjectGroup(ctx, g)
}

// DeleteProjectGroup refuses to delete a group that still has projects.
func (s *Service) DeleteProjectGroup(ctx context.Context, caller Caller, id int64) error {
	if !caller.Superuser {
		return permissionDenied()
	}
	return s.store.DeleteProjectGroup(ctx, id, caller.ID)
}

func (s *Service) ListGroupProjects(ctx context.Context, groupID int64) ([]store.Project, error) {
	if _, err := s.store.GetProjectGroup(ctx, groupID); err != nil {
		return nil, err
	}
	return s.store.ListGroupProjects(ctx, groupID)
}

func (s *Service) AddGroupProject(ctx context.Context, caller Caller, groupID, projectID int64) error {
	if !caller.Superuser {
		return permissionDenied()
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return err
	}
	return s.store.AddGroupProject(ctx, groupID, projectID, caller.ID)
}

func (s *Service) RemoveGroupProject(ctx context.Context, caller Caller, groupID, projectID int64) error {
	if !caller.Superuser {
		return permissionDenied()
	}
	return s.store.RemoveGroupProject(ctx, groupID, projectID, caller.ID)
}

func (s *Service) CreateBranch(ctx context.Context, caller Caller, b store.Branch) (store.Branch, error) {
	if caller.Anonymous() {
		return store.Branch{}, unauthorized()
	}
	if strings.TrimSpace(b.Name) == "" {
		return store.Branch{}, validationError("name", "branch name must not be empty")
	}
	if _, err := s.store.GetProject(ctx, b.ProjectID); err != nil {
		return store.Branch{}, err
	}
	return s.store.CreateBranch(ctx, b)
}

func (s *Service) GetBranch(ctx context.Context, id int64) (store.Branch, error) {
	return s.store.GetBranch(ctx, id)
}

func (s *Service) ListBranches(ctx context.Context, projectID int64, p store.Paging) ([]store.Branch, int, error) {
	return s.store.ListBranches(ctx, projectID, p)
}

func (s *Service) UpdateBranch(ctx context.Context, caller Caller, b store.Branch) (store.Branch, error) {
	if caller.Anonymous() {
		return store.Branch{}, unauthorized()
	}
	current, err := s.store.GetBranch(ctx, b.ID)
	if err != nil {
		return store.Branch{}, err
	}
	if b.ProjectID != 0 && b.ProjectID != current.ProjectID {
		return store.Branch{}, validationError("project_id", "a branch cannot move between projects")
	}
	b.ProjectID = current.ProjectID
	return s.store.UpdateBranch(ctx, b)
}

func (s *Service) CreateMilestone(ctx context.Context, caller Caller, m store.Milestone) (store.Milestone, error) {
	if caller.Anonymous() {
		return store.Milestone{}, unauthorized()
	}
	if strings.TrimSpace(m.Name) == "" {
		return store.Milestone{}, validationError("name", "milestone name must not be empty")
	}
	branch, err := s.store.GetBranch(ctx, m.BranchID)
	if err != nil {
		return store.Milestone{}, err
	}
	if branch.Expired {
		return store.Milestone{}, validationError("branch_id", "cannot create a milestone on an expired branch")
	}
	return s.store.CreateMilestone(ctx, m)
}

func (s *Service) GetMilestone(ctx context.Context, id int64) (store.Milestone, error) {
	return s.store.GetMilestone(ctx, id)
}

func (s *Service) ListMilestones(ctx context.Context, branchID int64, p store.Paging) ([]store.Milestone, int, error) {
	return s.store.ListMilestones(ctx, branchID, p)
}

// UpdateMilestone keeps the milestone anchored to its branch; a branch change
// in the body is ignored rather than rejected.
func (s *Service) UpdateMilestone(ctx context.Context, caller Caller, m store.Milestone) (store.Milestone, error) {
	if caller.Anonymous() {
		return store.Milestone{}, unauthorized()
	}
	current, err := s.store.GetMilestone(ctx, m.ID)
	if err != nil {
		return store.Milestone{}, err
	}
	m.BranchID = current.BranchID
	return s.store.UpdateMilestone(ctx, m)
}
