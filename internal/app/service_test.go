package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"storyboard/api/internal/store"
)

// fakeStore embeds the dataStore interface so tests only override the
// methods they exercise.
type fakeStore struct {
	dataStore

	users       map[int64]store.User
	storyTypes  map[int64]store.StoryType
	stories     map[int64]store.Story
	branches    map[int64]store.Branch
	milestones  map[int64]store.Milestone
	projects    map[int64]store.Project
	mutations   map[[2]int64]bool
	restricted  map[int64]bool
	preferences map[int64]map[string]string
	holds       bool

	createdStory      *store.Story
	createdStoryUsers []int64
	createdTask       *store.Task
	updatedTask       *store.Task
}

func (f *fakeStore) GetUser(ctx context.Context, id int64) (store.User, error) {
	u, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeStore) GetStoryType(ctx context.Context, id int64) (store.StoryType, error) {
	st, ok := f.storyTypes[id]
	if !ok {
		return store.StoryType{}, sql.ErrNoRows
	}
	return st, nil
}

func (f *fakeStore) CanMutateStoryType(ctx context.Context, fromID, toID int64) (bool, error) {
	return f.mutations[[2]int64{fromID, toID}], nil
}

func (f *fakeStore) RestrictedBranchesOnly(ctx context.Context, storyID int64) (bool, error) {
	return f.restricted[storyID], nil
}

func (f *fakeStore) GetStory(ctx context.Context, id int64, callerID int64) (store.Story, error) {
	story, ok := f.stories[id]
	if !ok {
		return store.Story{}, sql.ErrNoRows
	}
	return story, nil
}

func (f *fakeStore) CreateStory(ctx context.Context, story store.Story, tags []string, users, teams []int64) (store.Story, error) {
	story.ID = 100
	f.createdStory = &story
	f.createdStoryUsers = users
	return story, nil
}

func (f *fakeStore) UpdateStory(ctx context.Context, story store.Story, authorID int64) (store.Story, error) {
	f.stories[story.ID] = story
	return story, nil
}

func (f *fakeStore) GetProject(ctx context.Context, id int64) (store.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) GetBranch(ctx context.Context, id int64) (store.Branch, error) {
	b, ok := f.branches[id]
	if !ok {
		return store.Branch{}, sql.ErrNoRows
	}
	return b, nil
}

func (f *fakeStore) GetMasterBranch(ctx context.Context, projectID int64) (store.Branch, error) {
	for _, b := range f.branches {
		if b.ProjectID == projectID && b.Name == "master" {
			return b, nil
		}
	}
	return store.Branch{}, sql.ErrNoRows
}

func (f *fakeStore) GetMilestone(ctx context.Context, id int64) (store.Milestone, error) {
	m, ok := f.milestones[id]
	if !ok {
		return store.Milestone{}, sql.ErrNoRows
	}
	return m, nil
}

func (f *fakeStore) CreateTask(ctx context.Context, task store.Task) (store.Task, error) {
	task.ID = 200
	f.createdTask = &task
	return task, nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, task store.Task, authorID int64) (store.Task, error) {
	f.updatedTask = &task
	return task, nil
}

func (f *fakeStore) GetUserPreferences(ctx context.Context, userID int64) (map[string]string, error) {
	return f.preferences[userID], nil
}

func (f *fakeStore) HoldsPermission(ctx context.Context, userID int64, kind string, resourceID int64, codenames ...string) (bool, error) {
	return f.holds, nil
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: map[int64]store.User{
			1: {ID: 1, FullName: "Alice Able", Email: "alice@example.org"},
			2: {ID: 2, FullName: "Bob Baker", Email: "bob@example.org"},
			9: {ID: 9, FullName: "Root", Email: "root@example.org", IsSuperuser: true},
		},
		storyTypes: map[int64]store.StoryType{
			1: {ID: 1, Name: "bug", Visible: true},
			2: {ID: 2, Name: "feature", Restricted: true, Visible: true},
			3: {ID: 3, Name: "private_vulnerability", Private: true, Restricted: true, Visible: true},
			4: {ID: 4, Name: "public_vulnerability", Visible: false},
		},
		stories: map[int64]store.Story{
			10: {ID: 10, Title: "a story", CreatorID: 1, StoryTypeID: 1},
		},
		projects: map[int64]store.Project{
			1: {ID: 1, Name: "storyboard/api"},
			2: {ID: 2, Name: "storyboard/webclient"},
		},
		branches: map[int64]store.Branch{
			1: {ID: 1, Name: "master", ProjectID: 1},
			2: {ID: 2, Name: "stable", ProjectID: 1},
			3: {ID: 3, Name: "master", ProjectID: 2},
			4: {ID: 4, Name: "old", ProjectID: 1, Expired: true},
		},
		milestones: map[int64]store.Milestone{
			1: {ID: 1, Name: "1.0", BranchID: 2},
			2: {ID: 2, Name: "ancient", BranchID: 2, Expired: true},
		},
		mutations: map[[2]int64]bool{
			{1, 2}: true,
			{3, 1}: true,
		},
		restricted:  map[int64]bool{},
		preferences: map[int64]map[string]string{},
	}
}

func newTestService(f dataStore) *Service {
	return NewService(f, nil, nil, nil, map[string]string{"plugin_email": "true"}, "test")
}

func TestCreateStoryPrivateGrantsCreator(t *testing.T) {
	f := newFakeStore()
	svc := newTestService(f)
	private := true

	_, err := svc.CreateStory(context.Background(), Caller{ID: 1}, StoryInput{
		Title:       "secret work",
		StoryTypeID: 1,
		Private:     &private,
	})
	if err != nil {
		t.Fatalf("CreateStory: %v", err)
	}
	if !f.createdStory.Private {
		t.Fatal("expected story to be private")
	}
	if len(f.createdStoryUsers) != 1 || f.createdStoryUsers[0] != 1 {
		t.Fatalf("expected creator grant, got %v", f.createdStoryUsers)
	}
}

func TestCreateStoryRejectsInvisibleType(t *testing.T) {
	svc := newTestService(newFakeStore())

	_, err := svc.CreateStory(context.Background(), Caller{ID: 1}, StoryInput{
		Title:       "cannot pick this",
		StoryTypeID: 4,
	})
	var de *DomainError
	if !errors.As(err, &de) || de.Field != "story_type_id" {
		t.Fatalf("expected story_type_id validation error, got %v", err)
	}
}

func TestUpdateStoryTypeMutationRules(t *testing.T) {
	cases := []struct {
		name       string
		fromType   int64
		toType     int64
		restricted bool
		wantErr    bool
	}{
		{name: "allowed edge", fromType: 1, toType: 2, restricted: true, wantErr: false},
		{name: "edge not in graph", fromType: 1, toType: 3, wantErr: true},
		{name: "restricted target needs restricted branches", fromType: 1, toType: 2, restricted: false, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakeStore()
			f.stories[10] = store.Story{ID: 10, Title: "a story", CreatorID: 1, StoryTypeID: tc.fromType}
			f.restricted[10] = tc.restricted
			svc := newTestService(f)

			_, err := svc.UpdateStory(context.Background(), Caller{ID: 1}, 10, StoryInput{StoryTypeID: tc.toType})
			if tc.wantErr && err == nil {
				t.Fatal("expected error, got none")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCreateTaskDefaultsToMasterBranch(t *testing.T) {
	f := newFakeStore()
	svc := newTestService(f)

	task, err := svc.CreateTask(context.Background(), Caller{ID: 1}, TaskInput{
		Title:     "write the thing",
		StoryID:   10,
		ProjectID: 1,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.BranchID != 1 {
		t.Fatalf("expected master branch 1, got %d", task.BranchID)
	}
	if task.Status != "todo" || task.Priority != "medium" {
		t.Fatalf("unexpected defaults: status=%q priority=%q", task.Status, task.Priority)
	}
	if task.CreatorID != 1 {
		t.Fatalf("creator not forced to caller, got %d", task.CreatorID)
	}
}

func TestCreateTaskBranchValidation(t *testing.T) {
	wrongProject := int64(3)
	expired := int64(4)
	cases := []struct {
		name     string
		branchID *int64
	}{
		{name: "branch of another project", branchID: &wrongProject},
		{name: "expired branch", branchID: &expired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(newFakeStore())
			_, err := svc.CreateTask(context.Background(), Caller{ID: 1}, TaskInput{
				Title:     "t",
				StoryID:   10,
				ProjectID: 1,
				BranchID:  tc.branchID,
			})
			var de *DomainError
			if !errors.As(err, &de) || de.Field != "branch_id" {
				t.Fatalf("expected branch_id validation error, got %v", err)
			}
		})
	}
}

func TestTaskMilestoneRules(t *testing.T) {
	milestone := int64(1)
	expired := int64(2)

	t.Run("milestone requires merged status", func(t *testing.T) {
		branch := int64(2)
		svc := newTestService(newFakeStore())
		_, err := svc.CreateTask(context.Background(), Caller{ID: 1}, TaskInput{
			Title: "t", StoryID: 10, ProjectID: 1, BranchID: &branch,
			Status: "todo", MilestoneID: &milestone,
		})
		var de *DomainError
		if !errors.As(err, &de) || de.Field != "milestone_id" {
			t.Fatalf("expected milestone_id error, got %v", err)
		}
	})

	t.Run("milestone branch must match", func(t *testing.T) {
		svc := newTestService(newFakeStore())
		_, err := svc.CreateTask(context.Background(), Caller{ID: 1}, TaskInput{
			Title: "t", StoryID: 10, ProjectID: 1,
			Status: "merged", MilestoneID: &milestone,
		})
		var de *DomainError
		if !errors.As(err, &de) || de.Field != "milestone_id" {
			t.Fatalf("expected milestone_id error, got %v", err)
		}
	})

	t.Run("expired milestone rejected", func(t *testing.T) {
		branch := int64(2)
		svc := newTestService(newFakeStore())
		_, err := svc.CreateTask(context.Background(), Caller{ID: 1}, TaskInput{
			Title: "t", StoryID: 10, ProjectID: 1, BranchID: &branch,
			Status: "merged", MilestoneID: &expired,
		})
		var de *DomainError
		if !errors.As(err, &de) || de.Field != "milestone_id" {
			t.Fatalf("expected milestone_id error, got %v", err)
		}
	})

	t.Run("valid merged task with milestone", func(t *testing.T) {
		branch := int64(2)
		svc := newTestService(newFakeStore())
		task, err := svc.CreateTask(context.Background(), Caller{ID: 1}, TaskInput{
			Title: "t", StoryID: 10, ProjectID: 1, BranchID: &branch,
			Status: "merged", MilestoneID: &milestone,
		})
		if err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
		if task.MilestoneID == nil || *task.MilestoneID != milestone {
			t.Fatalf("milestone not attached: %v", task.MilestoneID)
		}
	})
}

func TestUserEmailVisibility(t *testing.T) {
	svc := newTestService(newFakeStore())
	ctx := context.Background()

	cases := []struct {
		name      string
		caller    Caller
		wantEmail bool
	}{
		{name: "self sees email", caller: Caller{ID: 2}, wantEmail: true},
		{name: "superuser sees email", caller: Caller{ID: 9, Superuser: true}, wantEmail: true},
		{name: "other user does not", caller: Caller{ID: 1}, wantEmail: false},
		{name: "anonymous does not", caller: Caller{}, wantEmail: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u, err := svc.GetUser(ctx, tc.caller, 2)
			if err != nil {
				t.Fatalf("GetUser: %v", err)
			}
			if got := u.Email != ""; got != tc.wantEmail {
				t.Fatalf("email visible=%v, want %v", got, tc.wantEmail)
			}
		})
	}
}

func TestPreferencesMergeDefaults(t *testing.T) {
	f := newFakeStore()
	f.preferences[1] = map[string]string{"plugin_email": "false", "theme": "dark"}
	svc := newTestService(f)

	prefs, err := svc.GetUserPreferences(context.Background(), Caller{ID: 1}, 1)
	if err != nil {
		t.Fatalf("GetUserPreferences: %v", err)
	}
	want := map[string]string{"plugin_email": "false", "theme": "dark"}
	if diff := cmp.Diff(want, prefs); diff != "" {
		t.Fatalf("merged preferences mismatch (-want +got):\n%s", diff)
	}

	prefs, err = svc.GetUserPreferences(context.Background(), Caller{ID: 2}, 2)
	if err != nil {
		t.Fatalf("GetUserPreferences: %v", err)
	}
	if diff := cmp.Diff(map[string]string{"plugin_email": "true"}, prefs); diff != "" {
		t.Fatalf("default preferences mismatch (-want +got):\n%s", diff)
	}
}

func TestPreferencesSelfOnly(t *testing.T) {
	svc := newTestService(newFakeStore())

	_, err := svc.GetUserPreferences(context.Background(), Caller{ID: 1}, 2)
	var de *DomainError
	if !errors.As(err, &de) || de.Status != 403 {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestSubscriptionSelfOnly(t *testing.T) {
	f := newFakeStore()
	svc := newTestService(f)

	_, err := svc.CreateSubscription(context.Background(), Caller{ID: 1}, store.Subscription{
		UserID: 2, TargetType: "story", TargetID: 10,
	})
	var de *DomainError
	if !errors.As(err, &de) || de.Status != 403 {
		t.Fatalf("expected 403 for subscribing another user, got %v", err)
	}
}

func TestSubscriptionUnknownTarget(t *testing.T) {
	svc := newTestService(newFakeStore())

	_, err := svc.CreateSubscription(context.Background(), Caller{ID: 1}, store.Subscription{
		TargetType: "comment", TargetID: 5,
	})
	var de *DomainError
	if !errors.As(err, &de) || de.Field != "target_type" {
		t.Fatalf("expected target_type validation error, got %v", err)
	}
}

func TestUpdateUserPrivilegeEscalation(t *testing.T) {
	f := newFakeStore()
	svc := newTestService(f)

	u := f.users[1]
	u.IsSuperuser = true
	_, err := svc.UpdateUser(context.Background(), Caller{ID: 1}, u)
	var de *DomainError
	if !errors.As(err, &de) || de.Status != 403 {
		t.Fatalf("expected 403 for self-promotion, got %v", err)
	}
}
