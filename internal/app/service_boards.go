package app

import (
	"context"
	"sort"
	"strings"

	"storyboard/api/internal/store"
)

// BoardInput is the create/update payload for a board. Lanes, when present,
// replace the board's lane set wholesale.
type BoardInput struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	ProjectID   *int64      `json:"project_id"`
	Private     *bool       `json:"private"`
	Lanes       []LaneInput `json:"lanes"`
	Users       []int64     `json:"users"`
	Teams       []int64     `json:"teams"`
}

type LaneInput struct {
	ListID   int64 `json:"list_id"`
	Position int   `json:"position"`
}

func (s *Service) CreateBoard(ctx context.Context, caller Caller, in BoardInput) (store.Board, error) {
	if caller.Anonymous() {
		return store.Board{}, unauthorized()
	}
	if strings.TrimSpace(in.Title) == "" {
		return store.Board{}, validationError("title", "board title must not be empty")
	}
	b := store.Board{
		Title:       in.Title,
		Description: in.Description,
		CreatorID:   caller.ID,
		ProjectID:   in.ProjectID,
	}
	if in.Private != nil {
		b.Private = *in.Private
	}
	users, teams := in.Users, in.Teams
	if b.Private && len(users) == 0 && len(teams) == 0 {
		users = []int64{caller.ID}
	}
	created, err := s.store.CreateBoard(ctx, b, users, teams)
	if err != nil {
		return store.Board{}, err
	}
	if len(in.Lanes) > 0 {
		lanes, err := s.laneSet(ctx, caller, created.ID, in.Lanes)
		if err != nil {
			return store.Board{}, err
		}
		return s.store.UpdateBoard(ctx, created, lanes, caller.ID)
	}
	return created, nil
}

func (s *Service) GetBoard(ctx context.Context, caller Caller, id int64) (store.Board, error) {
	return s.store.GetBoard(ctx, id, caller.ID)
}

func (s *Service) ListBoards(ctx context.Context, caller Caller, f store.BoardFilterParams, p store.Paging) ([]store.Board, int, error) {
	f.CallerID = caller.ID
	return s.store.ListBoards(ctx, f, p)
}

// UpdateBoard replaces board fields and, when lanes are supplied, the lane
// set. Lane changes need only the board's edit grant, never the worklists'.
func (s *Service) UpdateBoard(ctx context.Context, caller Caller, id int64, in BoardInput) (store.Board, error) {
	current, err := s.requireBoardEditable(ctx, caller, id)
	if err != nil {
		return store.Board{}, err
	}
	updated := current
	if in.Title != "" {
		updated.Title = in.Title
	}
	updated.Description = in.Description
	if in.ProjectID != nil {
		updated.ProjectID = in.ProjectID
	}
	if in.Private != nil {
		updated.Private = *in.Private
	}
	lanes := current.Lanes
	if in.Lanes != nil {
		lanes, err = s.laneSet(ctx, caller, id, in.Lanes)
		if err != nil {
			return store.Board{}, err
		}
	}
	return s.store.UpdateBoard(ctx, updated, lanes, caller.ID)
}

// ArchiveBoard archives the board and every lane's worklist.
func (s *Service) ArchiveBoard(ctx context.Context, caller Caller, id int64) error {
	if _, err := s.requireBoardEditable(ctx, caller, id); err != nil {
		return err
	}
	return s.store.ArchiveBoard(ctx, id)
}

func (s *Service) SetBoardPermission(ctx context.Context, caller Caller, boardID int64, codename string, users, teams []int64) error {
	if _, err := s.requireBoardEditable(ctx, caller, boardID); err != nil {
		return err
	}
	if codename != "edit_board" && codename != "move_cards" {
		return validationError("codename", "unknown board permission codename")
	}
	return s.store.SetContainerPermission(ctx, "board", boardID, codename, users, teams, caller.ID)
}

func (s *Service) ListBoardPermissions(ctx context.Context, caller Caller, boardID int64) ([]store.Permission, error) {
	if _, err := s.store.GetBoard(ctx, boardID, caller.ID); err != nil {
		return nil, err
	}
	return s.store.ListContainerPermissions(ctx, "board", boardID)
}

// laneSet validates a replacement lane set: each lane's worklist must exist
// and be visible to the caller, and positions are normalised to 0..n-1 in
// the order given.
func (s *Service) laneSet(ctx context.Context, caller Caller, boardID int64, in []LaneInput) ([]store.Lane, error) {
	lanes := make([]store.Lane, 0, len(in))
	seen := make(map[int64]bool, len(in))
	for _, l := range in {
		if seen[l.ListID] {
			return nil, validationError("lanes", "a worklist may appear in a board only once")
		}
		seen[l.ListID] = true
		if _, err := s.store.GetWorklist(ctx, l.ListID, caller.ID); err != nil {
			return nil, err
		}
		lanes = append(lanes, store.Lane{BoardID: boardID, ListID: l.ListID, Position: l.Position})
	}
	sort.SliceStable(lanes, func(i, j int) bool { return lanes[i].Position < lanes[j].Position })
	for i := range lanes {
		lanes[i].Position = i
	}
	return lanes, nil
}

func (s *Service) requireBoardEditable(ctx context.Context, caller Caller, id int64) (store.Board, error) {
	if caller.Anonymous() {
		return store.Board{}, unauthorized()
	}
	b, err := s.store.GetBoard(ctx, id, caller.ID)
	if err != nil {
		return store.Board{}, err
	}
	ok, err := s.perms.Editable(ctx, "board", id, b.CreatorID, caller.ID)
	if err != nil {
		return store.Board{}, err
	}
	if !ok {
		return store.Board{}, permissionDenied()
	}
	return b, nil
}

func (s *Service) CreateDueDate(ctx context.Context, caller Caller, d store.DueDate, users, teams []int64) (store.DueDate, error) {
	if caller.Anonymous() {
		return store.DueDate{}, unauthorized()
	}
	if strings.TrimSpace(d.Name) == "" {
		return store.DueDate{}, validationError("name", "due date name must not be empty")
	}
	d.CreatorID = caller.ID
	if d.Private && len(users) == 0 && len(teams) == 0 {
		users = []int64{caller.ID}
	}
	return s.store.CreateDueDate(ctx, d, users, teams)
}

func (s *Service) GetDueDate(ctx context.Context, caller Caller, id int64) (store.DueDate, error) {
	return s.store.GetDueDate(ctx, id, caller.ID)
}

func (s *Service) ListDueDates(ctx context.Context, caller Caller, boardID int64, p store.Paging) ([]store.DueDate, int, error) {
	return s.store.ListDueDates(ctx, boardID, caller.ID, p)
}

func (s *Service) UpdateDueDate(ctx context.Context, caller Caller, d store.DueDate) (store.DueDate, error) {
	current, err := s.requireDueDateEditable(ctx, caller, d.ID)
	if err != nil {
		return store.DueDate{}, err
	}
	if d.Name == "" {
		d.Name = current.Name
	}
	d.CreatorID = current.CreatorID
	return s.store.UpdateDueDate(ctx, d)
}

var dueDateTargets = map[string]bool{
	"board":    true,
	"worklist": true,
	"story":    true,
	"task":     true,
}

// AssignDueDate attaches a due date to a board, worklist, story or task.
// Assignment needs the assign grant, not the structural edit grant.
func (s *Service) AssignDueDate(ctx context.Context, caller Caller, dueDateID int64, targetType string, targetID int64) error {
	if err := s.requireDueDateAssignable(ctx, caller, dueDateID); err != nil {
		return err
	}
	if !dueDateTargets[targetType] {
		return validationError("target_type", "unknown due date target type")
	}
	return s.store.AssignDueDate(ctx, dueDateID, targetType, targetID)
}

func (s *Service) UnassignDueDate(ctx context.Context, caller Caller, dueDateID int64, targetType string, targetID int64) error {
	if err := s.requireDueDateAssignable(ctx, caller, dueDateID); err != nil {
		return err
	}
	if !dueDateTargets[targetType] {
		return validationError("target_type", "unknown due date target type")
	}
	return s.store.UnassignDueDate(ctx, dueDateID, targetType, targetID)
}

func (s *Service) SetDueDatePermission(ctx context.Context, caller Caller, dueDateID int64, codename string, users, teams []int64) error {
	if _, err := s.requireDueDateEditable(ctx, caller, dueDateID); err != nil {
		return err
	}
	if codename != "edit_date" && codename != "assign_date" {
		return validationError("codename", "unknown due date permission codename")
	}
	return s.store.SetContainerPermission(ctx, "due_date", dueDateID, codename, users, teams, caller.ID)
}

func (s *Service) requireDueDateEditable(ctx context.Context, caller Caller, id int64) (store.DueDate, error) {
	if caller.Anonymous() {
		return store.DueDate{}, unauthorized()
	}
	d, err := s.store.GetDueDate(ctx, id, caller.ID)
	if err != nil {
		return store.DueDate{}, err
	}
	ok, err := s.perms.Editable(ctx, "due_date", id, d.CreatorID, caller.ID)
	if err != nil {
		return store.DueDate{}, err
	}
	if !ok {
		return store.DueDate{}, permissionDenied()
	}
	return d, nil
}

func (s *Service) requireDueDateAssignable(ctx context.Context, caller Caller, id int64) error {
	if caller.Anonymous() {
		return unauthorized()
	}
	d, err := s.store.GetDueDate(ctx, id, caller.ID)
	if err != nil {
		return err
	}
	ok, err := s.perms.EditableContents(ctx, "due_date", id, d.CreatorID, caller.ID)
	if err != nil {
		return err
	}
	if !ok {
		return permissionDenied()
	}
	return nil
}
