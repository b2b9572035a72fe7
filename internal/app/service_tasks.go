package app

import (
	"context"
	"strings"

	"storyboard/api/internal/search"
	"storyboard/api/internal/store"
)

var taskStatuses = map[string]bool{
	"todo":        true,
	"in_progress": true,
	"invalid":     true,
	"review":      true,
	"merged":      true,
}

var taskPriorities = map[string]bool{
	"low":    true,
	"medium": true,
	"high":   true,
}

// TaskInput is the create/update payload for a task. Pointer fields
// distinguish "absent" from "explicitly cleared".
type TaskInput struct {
	Title       string `json:"title"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	StoryID     int64  `json:"story_id"`
	ProjectID   int64  `json:"project_id"`
	BranchID    *int64 `json:"branch_id"`
	MilestoneID *int64 `json:"milestone_id"`
	AssigneeID  *int64 `json:"assignee_id"`
	Link        string `json:"link"`
}

func (s *Service) CreateTask(ctx context.Context, caller Caller, in TaskInput) (store.Task, error) {
	if caller.Anonymous() {
		return store.Task{}, unauthorized()
	}
	if strings.TrimSpace(in.Title) == "" {
		return store.Task{}, validationError("title", "task title must not be empty")
	}
	if in.StoryID == 0 {
		return store.Task{}, validationError("story_id", "story_id is required")
	}
	if in.ProjectID == 0 {
		return store.Task{}, validationError("project_id", "project_id is required")
	}
	if in.Status == "" {
		in.Status = "todo"
	}
	if !taskStatuses[in.Status] {
		return store.Task{}, validationError("status", "unknown task status")
	}
	if in.Priority == "" {
		in.Priority = "medium"
	}
	if !taskPriorities[in.Priority] {
		return store.Task{}, validationError("priority", "unknown task priority")
	}
	if _, err := s.store.GetStory(ctx, in.StoryID, caller.ID); err != nil {
		return store.Task{}, err
	}
	if _, err := s.store.GetProject(ctx, in.ProjectID); err != nil {
		return store.Task{}, err
	}
	task := store.Task{
		Title:       in.Title,
		Status:      in.Status,
		Priority:    in.Priority,
		StoryID:     in.StoryID,
		ProjectID:   in.ProjectID,
		MilestoneID: in.MilestoneID,
		AssigneeID:  in.AssigneeID,
		CreatorID:   caller.ID,
		Link:        in.Link,
	}
	branchID, err := s.resolveTaskBranch(ctx, in.ProjectID, in.BranchID)
	if err != nil {
		return store.Task{}, err
	}
	task.BranchID = branchID
	if err := s.checkTaskMilestone(ctx, task); err != nil {
		return store.Task{}, err
	}
	created, err := s.store.CreateTask(ctx, task)
	if err != nil {
		return store.Task{}, err
	}
	s.indexTask(ctx, created, caller.ID)
	return created, nil
}

func (s *Service) GetTask(ctx context.Context, caller Caller, id int64) (store.Task, error) {
	return s.store.GetTask(ctx, id, caller.ID)
}

func (s *Service) ListTasks(ctx context.Context, caller Caller, f store.TaskFilter, p store.Paging) ([]store.Task, int, error) {
	f.CallerID = caller.ID
	return s.store.ListTasks(ctx, f, p)
}

// UpdateTask re-anchors the branch to the new project's master branch when
// the project changes without a matching branch, and enforces the milestone
// rules: a milestone may only stay attached while the status is merged.
func (s *Service) UpdateTask(ctx context.Context, caller Caller, id int64, in TaskInput) (store.Task, error) {
	if caller.Anonymous() {
		return store.Task{}, unauthorized()
	}
	current, err := s.store.GetTask(ctx, id, caller.ID)
	if err != nil {
		return store.Task{}, err
	}
	updated := current
	if in.Title != "" {
		updated.Title = in.Title
	}
	if in.Status != "" {
		if !taskStatuses[in.Status] {
			return store.Task{}, validationError("status", "unknown task status")
		}
		updated.Status = in.Status
	}
	if in.Priority != "" {
		if !taskPriorities[in.Priority] {
			return store.Task{}, validationError("priority", "unknown task priority")
		}
		updated.Priority = in.Priority
	}
	if in.Link != "" {
		updated.Link = in.Link
	}
	updated.AssigneeID = in.AssigneeID
	updated.MilestoneID = in.MilestoneID

	switch {
	case in.ProjectID != 0 && in.ProjectID != current.ProjectID:
		if _, err := s.store.GetProject(ctx, in.ProjectID); err != nil {
			return store.Task{}, err
		}
		updated.ProjectID = in.ProjectID
		branchID, err := s.resolveTaskBranch(ctx, in.ProjectID, in.BranchID)
		if err != nil {
			return store.Task{}, err
		}
		updated.BranchID = branchID
	case in.BranchID != nil && *in.BranchID != current.BranchID:
		branchID, err := s.resolveTaskBranch(ctx, updated.ProjectID, in.BranchID)
		if err != nil {
			return store.Task{}, err
		}
		updated.BranchID = branchID
	}

	if updated.Status != "merged" {
		if updated.MilestoneID != nil {
			return store.Task{}, validationError("milestone_id", "a milestone may only be attached to a merged task")
		}
		updated.MilestoneID = nil
	}
	if err := s.checkTaskMilestone(ctx, updated); err != nil {
		return store.Task{}, err
	}
	result, err := s.store.UpdateTask(ctx, updated, caller.ID)
	if err != nil {
		return store.Task{}, err
	}
	s.indexTask(ctx, result, caller.ID)
	return result, nil
}

func (s *Service) DeleteTask(ctx context.Context, caller Caller, id int64) error {
	if caller.Anonymous() {
		return unauthorized()
	}
	if _, err := s.store.GetTask(ctx, id, caller.ID); err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, id, caller.ID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteTask(id)
	}
	return nil
}

// resolveTaskBranch picks the task's branch: an explicit branch must belong
// to the project and not be expired; otherwise the project's master branch.
func (s *Service) resolveTaskBranch(ctx context.Context, projectID int64, branchID *int64) (int64, error) {
	if branchID == nil {
		master, err := s.store.GetMasterBranch(ctx, projectID)
		if err != nil {
			return 0, err
		}
		return master.ID, nil
	}
	branch, err := s.store.GetBranch(ctx, *branchID)
	if err != nil {
		return 0, err
	}
	if branch.ProjectID != projectID {
		return 0, validationError("branch_id", "branch does not belong to the task's project")
	}
	if branch.Expired {
		return 0, validationError("branch_id", "cannot assign work to an expired branch")
	}
	return branch.ID, nil
}

func (s *Service) checkTaskMilestone(ctx context.Context, t store.Task) error {
	if t.MilestoneID == nil {
		return nil
	}
	if t.Status != "merged" {
		return validationError("milestone_id", "a milestone may only be attached to a merged task")
	}
	m, err := s.store.GetMilestone(ctx, *t.MilestoneID)
	if err != nil {
		return err
	}
	if m.Expired {
		return validationError("milestone_id", "milestone is expired")
	}
	if m.BranchID != t.BranchID {
		return validationError("milestone_id", "milestone belongs to a different branch")
	}
	return nil
}

// indexTask pushes the task to the search backend; tasks inherit their
// story's privacy flag.
func (s *Service) indexTask(ctx context.Context, t store.Task, callerID int64) {
	if s.search == nil {
		return
	}
	private := false
	if story, err := s.store.GetStory(ctx, t.StoryID, callerID); err == nil {
		private = story.Private
	}
	s.search.IndexTask(search.TaskRecord{
		ID:        t.ID,
		Title:     t.Title,
		StoryID:   t.StoryID,
		ProjectID: t.ProjectID,
		Status:    t.Status,
		Private:   private,
	})
}
