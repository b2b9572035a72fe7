// Package perms implements codename-based permission checks over protected
// containers: boards, worklists, due dates and private stories.
package perms

import (
	"context"

	"storyboard/api/internal/store"
)

type Codename string

const (
	EditBoard    Codename = "edit_board"
	MoveCards    Codename = "move_cards"
	EditWorklist Codename = "edit_worklist"
	MoveItems    Codename = "move_items"
	EditDate     Codename = "edit_date"
	AssignDate   Codename = "assign_date"
	ViewStory    Codename = "view_story"
)

// Valid reports whether the codename belongs to the closed set.
func Valid(c Codename) bool {
	switch c {
	case EditBoard, MoveCards, EditWorklist, MoveItems, EditDate, AssignDate, ViewStory:
		return true
	default:
		return false
	}
}

// structural maps each container kind to its structural (edit) codename.
var structural = map[string]Codename{
	"board":    EditBoard,
	"worklist": EditWorklist,
	"due_date": EditDate,
	"story":    ViewStory,
}

// move maps container kinds to their contents-move codename.
var move = map[string]Codename{
	"board":    MoveCards,
	"worklist": MoveItems,
	"due_date": AssignDate,
}

type permStore interface {
	HoldsPermission(ctx context.Context, userID int64, kind string, resourceID int64, codenames ...string) (bool, error)
	GetUser(ctx context.Context, id int64) (store.User, error)
}

// Checker answers visibility and editability questions for one caller.
type Checker struct {
	store permStore
}

func NewChecker(s permStore) *Checker {
	return &Checker{store: s}
}

func (c *Checker) isSuperuser(ctx context.Context, userID int64) (bool, error) {
	if userID == 0 {
		return false, nil
	}
	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.IsSuperuser, nil
}

// Visible reports whether the caller may see the resource. Public resources
// are visible to all; private ones require any of the resource's codenames.
func (c *Checker) Visible(ctx context.Context, kind string, resourceID int64, private bool, userID int64) (bool, error) {
	if !private {
		return true, nil
	}
	if super, err := c.isSuperuser(ctx, userID); err != nil || super {
		return super, err
	}
	codenames := []string{string(structural[kind])}
	if m, ok := move[kind]; ok {
		codenames = append(codenames, string(m))
	}
	return c.store.HoldsPermission(ctx, userID, kind, resourceID, codenames...)
}

// Editable requires the structural codename for the container kind.
func (c *Checker) Editable(ctx context.Context, kind string, resourceID int64, creatorID, userID int64) (bool, error) {
	if userID == 0 {
		return false, nil
	}
	if userID == creatorID {
		return true, nil
	}
	if super, err := c.isSuperuser(ctx, userID); err != nil || super {
		return super, err
	}
	return c.store.HoldsPermission(ctx, userID, kind, resourceID, string(structural[kind]))
}

// EditableContents requires the structural codename or the move codename.
func (c *Checker) EditableContents(ctx context.Context, kind string, resourceID int64, creatorID, userID int64) (bool, error) {
	if userID == 0 {
		return false, nil
	}
	if userID == creatorID {
		return true, nil
	}
	if super, err := c.isSuperuser(ctx, userID); err != nil || super {
		return super, err
	}
	codenames := []string{string(structural[kind])}
	if m, ok := move[kind]; ok {
		codenames = append(codenames, string(m))
	}
	return c.store.HoldsPermission(ctx, userID, kind, resourceID, codenames...)
}

// LaneEditable answers editability for a lane's worklist: lanes inherit the
// containing board's permissions, not the worklist's own.
func (c *Checker) LaneEditable(ctx context.Context, boardID int64, boardCreatorID, userID int64) (bool, error) {
	return c.EditableContents(ctx, "board", boardID, boardCreatorID, userID)
}
