package app

import (
	"context"
	"strings"

	"storyboard/api/internal/store"
)

// WorklistInput is the create/update payload for a worklist.
type WorklistInput struct {
	Title     string  `json:"title"`
	ProjectID *int64  `json:"project_id"`
	Private   *bool   `json:"private"`
	Automatic *bool   `json:"automatic"`
	Users     []int64 `json:"users"`
	Teams     []int64 `json:"teams"`
}

func (s *Service) CreateWorklist(ctx context.Context, caller Caller, in WorklistInput) (store.Worklist, error) {
	if caller.Anonymous() {
		return store.Worklist{}, unauthorized()
	}
	if strings.TrimSpace(in.Title) == "" {
		return store.Worklist{}, validationError("title", "worklist title must not be empty")
	}
	w := store.Worklist{
		Title:     in.Title,
		CreatorID: caller.ID,
		ProjectID: in.ProjectID,
	}
	if in.Private != nil {
		w.Private = *in.Private
	}
	if in.Automatic != nil {
		w.Automatic = *in.Automatic
	}
	users, teams := in.Users, in.Teams
	if w.Private && len(users) == 0 && len(teams) == 0 {
		users = []int64{caller.ID}
	}
	return s.store.CreateWorklist(ctx, w, users, teams)
}

func (s *Service) GetWorklist(ctx context.Context, caller Caller, id int64) (store.Worklist, error) {
	return s.store.GetWorklist(ctx, id, caller.ID)
}

func (s *Service) ListWorklists(ctx context.Context, caller Caller, f store.WorklistFilterParams, p store.Paging) ([]store.Worklist, int, error) {
	f.CallerID = caller.ID
	return s.store.ListWorklists(ctx, f, p)
}

func (s *Service) UpdateWorklist(ctx context.Context, caller Caller, id int64, in WorklistInput) (store.Worklist, error) {
	current, err := s.requireWorklistEditable(ctx, caller, id)
	if err != nil {
		return store.Worklist{}, err
	}
	updated := current
	if in.Title != "" {
		updated.Title = in.Title
	}
	if in.ProjectID != nil {
		updated.ProjectID = in.ProjectID
	}
	if in.Private != nil {
		updated.Private = *in.Private
	}
	if in.Automatic != nil {
		updated.Automatic = *in.Automatic
	}
	return s.store.UpdateWorklist(ctx, updated, caller.ID)
}

// ArchiveWorklist is the delete operation; archived worklists stay readable.
func (s *Service) ArchiveWorklist(ctx context.Context, caller Caller, id int64) error {
	if _, err := s.requireWorklistEditable(ctx, caller, id); err != nil {
		return err
	}
	return s.store.ArchiveWorklist(ctx, id)
}

// ListWorklistItems returns stored items for a manual worklist and the
// filter evaluation for an automatic one.
func (s *Service) ListWorklistItems(ctx context.Context, caller Caller, listID int64) ([]store.WorklistItem, error) {
	w, err := s.store.GetWorklist(ctx, listID, caller.ID)
	if err != nil {
		return nil, err
	}
	if w.Automatic {
		return s.store.EvalWorklistFilters(ctx, listID, caller.ID)
	}
	return s.store.ListWorklistItems(ctx, listID)
}

func (s *Service) AddWorklistItem(ctx context.Context, caller Caller, listID int64, itemType string, itemID int64, position int) (store.WorklistItem, error) {
	if err := s.requireManualContentsEditable(ctx, caller, listID); err != nil {
		return store.WorklistItem{}, err
	}
	if itemType != "story" && itemType != "task" {
		return store.WorklistItem{}, validationError("item_type", "item_type must be story or task")
	}
	switch itemType {
	case "story":
		if _, err := s.store.GetStory(ctx, itemID, caller.ID); err != nil {
			return store.WorklistItem{}, err
		}
	case "task":
		if _, err := s.store.GetTask(ctx, itemID, caller.ID); err != nil {
			return store.WorklistItem{}, err
		}
	}
	return s.store.AddWorklistItem(ctx, listID, itemType, itemID, position, caller.ID)
}

func (s *Service) MoveWorklistItem(ctx context.Context, caller Caller, itemID int64, newPosition int, newListID int64) (store.WorklistItem, error) {
	item, err := s.store.GetWorklistItem(ctx, itemID)
	if err != nil {
		return store.WorklistItem{}, err
	}
	if err := s.requireManualContentsEditable(ctx, caller, item.ListID); err != nil {
		return store.WorklistItem{}, err
	}
	if newListID == 0 {
		newListID = item.ListID
	}
	if newListID != item.ListID {
		if err := s.requireManualContentsEditable(ctx, caller, newListID); err != nil {
			return store.WorklistItem{}, err
		}
	}
	if newPosition < 0 {
		return store.WorklistItem{}, validationError("list_position", "position must not be negative")
	}
	return s.store.MoveWorklistItem(ctx, itemID, newPosition, newListID, caller.ID)
}

func (s *Service) ArchiveWorklistItem(ctx context.Context, caller Caller, itemID int64) error {
	item, err := s.store.GetWorklistItem(ctx, itemID)
	if err != nil {
		return err
	}
	if err := s.requireManualContentsEditable(ctx, caller, item.ListID); err != nil {
		return err
	}
	return s.store.ArchiveWorklistItem(ctx, itemID, caller.ID)
}

func (s *Service) SetWorklistItemDueDate(ctx context.Context, caller Caller, itemID int64, dueDateID *int64) (store.WorklistItem, error) {
	item, err := s.store.GetWorklistItem(ctx, itemID)
	if err != nil {
		return store.WorklistItem{}, err
	}
	if err := s.requireManualContentsEditable(ctx, caller, item.ListID); err != nil {
		return store.WorklistItem{}, err
	}
	if dueDateID != nil {
		if _, err := s.store.GetDueDate(ctx, *dueDateID, caller.ID); err != nil {
			return store.WorklistItem{}, err
		}
	}
	return s.store.UpdateWorklistItemDueDate(ctx, itemID, dueDateID)
}

func (s *Service) SetWorklistFilters(ctx context.Context, caller Caller, listID int64, filters []store.WorklistFilter) ([]store.WorklistFilter, error) {
	w, err := s.requireWorklistEditable(ctx, caller, listID)
	if err != nil {
		return nil, err
	}
	if !w.Automatic {
		return nil, validationError("filters", "filters apply to automatic worklists only")
	}
	for _, f := range filters {
		if f.FilterType != "story" && f.FilterType != "task" {
			return nil, validationError("filter_type", "filter_type must be story or task")
		}
	}
	if err := s.store.SetWorklistFilters(ctx, listID, filters, caller.ID); err != nil {
		return nil, err
	}
	return s.store.ListWorklistFilters(ctx, listID)
}

func (s *Service) ListWorklistFilters(ctx context.Context, caller Caller, listID int64) ([]store.WorklistFilter, error) {
	if _, err := s.store.GetWorklist(ctx, listID, caller.ID); err != nil {
		return nil, err
	}
	return s.store.ListWorklistFilters(ctx, listID)
}

func (s *Service) SetWorklistPermission(ctx context.Context, caller Caller, listID int64, codename string, users, teams []int64) error {
	if _, err := s.requireWorklistEditable(ctx, caller, listID); err != nil {
		return err
	}
	if codename != "edit_worklist" && codename != "move_items" {
		return validationError("codename", "unknown worklist permission codename")
	}
	return s.store.SetContainerPermission(ctx, "worklist", listID, codename, users, teams, caller.ID)
}

func (s *Service) ListWorklistPermissions(ctx context.Context, caller Caller, listID int64) ([]store.Permission, error) {
	if _, err := s.store.GetWorklist(ctx, listID, caller.ID); err != nil {
		return nil, err
	}
	return s.store.ListContainerPermissions(ctx, "worklist", listID)
}

// requireWorklistEditable resolves the worklist through the caller's
// visibility filter and demands the structural edit grant.
func (s *Service) requireWorklistEditable(ctx context.Context, caller Caller, id int64) (store.Worklist, error) {
	if caller.Anonymous() {
		return store.Worklist{}, unauthorized()
	}
	w, err := s.store.GetWorklist(ctx, id, caller.ID)
	if err != nil {
		return store.Worklist{}, err
	}
	ok, err := s.perms.Editable(ctx, "worklist", id, w.CreatorID, caller.ID)
	if err != nil {
		return store.Worklist{}, err
	}
	if !ok {
		return store.Worklist{}, permissionDenied()
	}
	return w, nil
}

// requireManualContentsEditable demands a contents grant and rejects manual
// item operations against automatic worklists, whose items are derived.
func (s *Service) requireManualContentsEditable(ctx context.Context, caller Caller, listID int64) error {
	if caller.Anonymous() {
		return unauthorized()
	}
	w, err := s.store.GetWorklist(ctx, listID, caller.ID)
	if err != nil {
		return err
	}
	if w.Automatic {
		return validationError("list_id", "items of an automatic worklist cannot be edited")
	}
	ok, err := s.perms.EditableContents(ctx, "worklist", listID, w.CreatorID, caller.ID)
	if err != nil {
		return err
	}
	if !ok {
		// Lanes inherit editability from their containing board.
		ok, err = s.laneEditableViaBoards(ctx, caller, listID)
		if err != nil {
			return err
		}
	}
	if !ok {
		return permissionDenied()
	}
	return nil
}

func (s *Service) laneEditableViaBoards(ctx context.Context, caller Caller, listID int64) (bool, error) {
	boardIDs, err := s.store.BoardsContaining(ctx, listID)
	if err != nil {
		return false, err
	}
	for _, boardID := range boardIDs {
		board, err := s.store.GetBoard(ctx, boardID, caller.ID)
		if err != nil {
			continue
		}
		ok, err := s.perms.LaneEditable(ctx, boardID, board.CreatorID, caller.ID)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
