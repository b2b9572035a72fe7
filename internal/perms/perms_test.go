package perms

import (
	"context"
	"testing"

	"storyboard/api/internal/store"
)

type fakePermStore struct {
	holds     map[string]bool
	superuser bool
}

func (f *fakePermStore) HoldsPermission(_ context.Context, _ int64, kind string, _ int64, codenames ...string) (bool, error) {
	for _, c := range codenames {
		if f.holds[kind+":"+c] {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePermStore) GetUser(_ context.Context, id int64) (store.User, error) {
	return store.User{ID: id, IsSuperuser: f.superuser}, nil
}

func TestVisible(t *testing.T) {
	cases := []struct {
		name      string
		kind      string
		private   bool
		userID    int64
		holds     map[string]bool
		superuser bool
		want      bool
	}{
		{name: "public visible to anonymous", kind: "worklist", private: false, userID: 0, want: true},
		{name: "private hidden from anonymous", kind: "worklist", private: true, userID: 0, want: false},
		{name: "private hidden without grant", kind: "worklist", private: true, userID: 7, want: false},
		{name: "private visible with edit grant", kind: "worklist", private: true, userID: 7,
			holds: map[string]bool{"worklist:edit_worklist": true}, want: true},
		{name: "private visible with move grant", kind: "board", private: true, userID: 7,
			holds: map[string]bool{"board:move_cards": true}, want: true},
		{name: "private visible to superuser", kind: "board", private: true, userID: 7, superuser: true, want: true},
		{name: "private story needs view grant", kind: "story", private: true, userID: 7,
			holds: map[string]bool{"story:view_story": true}, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewChecker(&fakePermStore{holds: tc.holds, superuser: tc.superuser})
			got, err := c.Visible(context.Background(), tc.kind, 1, tc.private, tc.userID)
			if err != nil {
				t.Fatalf("Visible: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Visible = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEditable(t *testing.T) {
	cases := []struct {
		name      string
		userID    int64
		creatorID int64
		holds     map[string]bool
		superuser bool
		want      bool
	}{
		{name: "anonymous cannot edit", userID: 0, creatorID: 1, want: false},
		{name: "creator can edit", userID: 5, creatorID: 5, want: true},
		{name: "stranger cannot edit", userID: 7, creatorID: 5, want: false},
		{name: "grant holder can edit", userID: 7, creatorID: 5,
			holds: map[string]bool{"worklist:edit_worklist": true}, want: true},
		{name: "move grant is not enough", userID: 7, creatorID: 5,
			holds: map[string]bool{"worklist:move_items": true}, want: false},
		{name: "superuser can edit", userID: 7, creatorID: 5, superuser: true, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewChecker(&fakePermStore{holds: tc.holds, superuser: tc.superuser})
			got, err := c.Editable(context.Background(), "worklist", 1, tc.creatorID, tc.userID)
			if err != nil {
				t.Fatalf("Editable: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Editable = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEditableContents(t *testing.T) {
	c := NewChecker(&fakePermStore{holds: map[string]bool{"board:move_cards": true}})
	got, err := c.EditableContents(context.Background(), "board", 1, 5, 7)
	if err != nil {
		t.Fatalf("EditableContents: %v", err)
	}
	if !got {
		t.Fatal("move grant should allow contents edits")
	}
	got, err = c.Editable(context.Background(), "board", 1, 5, 7)
	if err != nil {
		t.Fatalf("Editable: %v", err)
	}
	if got {
		t.Fatal("move grant must not allow structural edits")
	}
}

func TestLaneEditable(t *testing.T) {
	c := NewChecker(&fakePermStore{holds: map[string]bool{"board:move_cards": true}})
	got, err := c.LaneEditable(context.Background(), 3, 5, 7)
	if err != nil {
		t.Fatalf("LaneEditable: %v", err)
	}
	if !got {
		t.Fatal("board move grant should extend to lanes")
	}
}

func TestValid(t *testing.T) {
	if !Valid(EditBoard) || !Valid(MoveItems) {
		t.Fatal("known codenames should be valid")
	}
	if Valid("delete_everything") {
		t.Fatal("unknown codename should be invalid")
	}
}
