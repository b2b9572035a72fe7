package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"storyboard/api/internal/store"
)

type worklistFakeStore struct {
	*fakeStore

	worklists map[int64]store.Worklist
	items     map[int64]store.WorklistItem
	boards    map[int64]store.Board
	lanes     map[int64][]int64 // worklist id -> board ids

	addedItem *store.WorklistItem
	movedTo   *int64
}

func (f *worklistFakeStore) GetWorklist(ctx context.Context, id int64, callerID int64) (store.Worklist, error) {
	w, ok := f.worklists[id]
	if !ok {
		return store.Worklist{}, sql.ErrNoRows
	}
	return w, nil
}

func (f *worklistFakeStore) GetWorklistItem(ctx context.Context, id int64) (store.WorklistItem, error) {
	item, ok := f.items[id]
	if !ok {
		return store.WorklistItem{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *worklistFakeStore) AddWorklistItem(ctx context.Context, listID int64, itemType string, itemID int64, position int, authorID int64) (store.WorklistItem, error) {
	item := store.WorklistItem{ID: 500, ListID: listID, ItemType: itemType, ItemID: itemID, ListPosition: position}
	f.addedItem = &item
	return item, nil
}

func (f *worklistFakeStore) MoveWorklistItem(ctx context.Context, itemID int64, newPosition int, newListID int64, authorID int64) (store.WorklistItem, error) {
	f.movedTo = &newListID
	item := f.items[itemID]
	item.ListID = newListID
	item.ListPosition = newPosition
	return item, nil
}

func (f *worklistFakeStore) GetBoard(ctx context.Context, id int64, callerID int64) (store.Board, error) {
	b, ok := f.boards[id]
	if !ok {
		return store.Board{}, sql.ErrNoRows
	}
	return b, nil
}

func (f *worklistFakeStore) BoardsContaining(ctx context.Context, listID int64) ([]int64, error) {
	return f.lanes[listID], nil
}

func (f *worklistFakeStore) GetTask(ctx context.Context, id int64, callerID int64) (store.Task, error) {
	return store.Task{ID: id, Title: "t", StoryID: 10}, nil
}

func newWorklistFakeStore() *worklistFakeStore {
	return &worklistFakeStore{
		fakeStore: newFakeStore(),
		worklists: map[int64]store.Worklist{
			20: {ID: 20, Title: "backlog", CreatorID: 1},
			21: {ID: 21, Title: "open bugs", CreatorID: 2, Automatic: true},
			22: {ID: 22, Title: "lane of 40", CreatorID: 2},
		},
		items: map[int64]store.WorklistItem{
			300: {ID: 300, ListID: 20, ItemType: "story", ItemID: 10, ListPosition: 0},
		},
		boards: map[int64]store.Board{
			40: {ID: 40, Title: "sprint board", CreatorID: 1},
		},
		lanes: map[int64][]int64{
			22: {40},
		},
	}
}

func TestAddWorklistItemAutomaticRejected(t *testing.T) {
	f := newWorklistFakeStore()
	svc := newTestService(f)

	_, err := svc.AddWorklistItem(context.Background(), Caller{ID: 2}, 21, "story", 10, 0)
	var de *DomainError
	if !errors.As(err, &de) || de.Field != "list_id" {
		t.Fatalf("expected list_id validation error, got %v", err)
	}
}

func TestAddWorklistItemRequiresGrant(t *testing.T) {
	f := newWorklistFakeStore()
	svc := newTestService(f)

	// Caller 2 is neither creator of worklist 20 nor granted on it.
	_, err := svc.AddWorklistItem(context.Background(), Caller{ID: 2}, 20, "story", 10, 0)
	var de *DomainError
	if !errors.As(err, &de) || de.Status != 403 {
		t.Fatalf("expected 403, got %v", err)
	}

	// The creator may add.
	if _, err := svc.AddWorklistItem(context.Background(), Caller{ID: 1}, 20, "task", 5, 0); err != nil {
		t.Fatalf("creator add: %v", err)
	}
}

func TestLaneEditableViaContainingBoard(t *testing.T) {
	f := newWorklistFakeStore()
	svc := newTestService(f)

	// Worklist 22 belongs to user 2, but it is a lane of board 40 whose
	// creator is user 1, so user 1 may edit its contents.
	if _, err := svc.AddWorklistItem(context.Background(), Caller{ID: 1}, 22, "story", 10, 0); err != nil {
		t.Fatalf("lane add via board: %v", err)
	}

	// User 3 holds nothing anywhere.
	f.users[3] = store.User{ID: 3, FullName: "Carol"}
	_, err := svc.AddWorklistItem(context.Background(), Caller{ID: 3}, 22, "story", 10, 0)
	var de *DomainError
	if !errors.As(err, &de) || de.Status != 403 {
		t.Fatalf("expected 403 for ungranted user, got %v", err)
	}
}

func TestMoveWorklistItemNegativePosition(t *testing.T) {
	f := newWorklistFakeStore()
	svc := newTestService(f)

	_, err := svc.MoveWorklistItem(context.Background(), Caller{ID: 1}, 300, -1, 0)
	var de *DomainError
	if !errors.As(err, &de) || de.Field != "list_position" {
		t.Fatalf("expected list_position validation error, got %v", err)
	}
}

func TestMoveWorklistItemDefaultsToSameList(t *testing.T) {
	f := newWorklistFakeStore()
	svc := newTestService(f)

	item, err := svc.MoveWorklistItem(context.Background(), Caller{ID: 1}, 300, 2, 0)
	if err != nil {
		t.Fatalf("MoveWorklistItem: %v", err)
	}
	if item.ListID != 20 {
		t.Fatalf("item moved to list %d, want 20", item.ListID)
	}
	if f.movedTo == nil || *f.movedTo != 20 {
		t.Fatalf("store saw target list %v, want 20", f.movedTo)
	}
}

func TestSetWorklistFiltersManualRejected(t *testing.T) {
	f := newWorklistFakeStore()
	svc := newTestService(f)

	_, err := svc.SetWorklistFilters(context.Background(), Caller{ID: 1}, 20, []store.WorklistFilter{
		{FilterType: "story"},
	})
	var de *DomainError
	if !errors.As(err, &de) || de.Field != "filters" {
		t.Fatalf("expected filters validation error, got %v", err)
	}
}
