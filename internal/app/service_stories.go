package app

import (
	"context"
	"strings"

	"storyboard/api/internal/search"
	"storyboard/api/internal/store"
)

// StoryInput is the create/update payload for a story. Users and Teams name
// the grantees of the view_story permission on private stories.
type StoryInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	StoryTypeID int64    `json:"story_type_id"`
	Private     *bool    `json:"private"`
	IsBug       *bool    `json:"is_bug"`
	Tags        []string `json:"tags"`
	Users       []int64  `json:"users"`
	Teams       []int64  `json:"teams"`
}

func (s *Service) ListStoryTypes(ctx context.Context) ([]store.StoryType, error) {
	return s.store.ListStoryTypes(ctx)
}

func (s *Service) CreateStory(ctx context.Context, caller Caller, in StoryInput) (store.Story, error) {
	if caller.Anonymous() {
		return store.Story{}, unauthorized()
	}
	if strings.TrimSpace(in.Title) == "" {
		return store.Story{}, validationError("title", "story title must not be empty")
	}
	if in.StoryTypeID == 0 {
		in.StoryTypeID = 1
	}
	st, err := s.store.GetStoryType(ctx, in.StoryTypeID)
	if err != nil {
		return store.Story{}, err
	}
	if !st.Visible {
		return store.Story{}, validationError("story_type_id", "story type is not selectable")
	}
	story := store.Story{
		Title:       in.Title,
		Description: in.Description,
		CreatorID:   caller.ID,
		StoryTypeID: in.StoryTypeID,
	}
	if in.Private != nil {
		story.Private = *in.Private
	}
	if in.IsBug != nil {
		story.IsBug = *in.IsBug
	}
	// A private story type forces the story private.
	if st.Private {
		story.Private = true
	}
	users, teams := in.Users, in.Teams
	if story.Private && len(users) == 0 && len(teams) == 0 {
		users = []int64{caller.ID}
	}
	created, err := s.store.CreateStory(ctx, story, dedupeTags(in.Tags), users, teams)
	if err != nil {
		return store.Story{}, err
	}
	s.indexStory(ctx, created.ID, caller.ID)
	return created, nil
}

func (s *Service) GetStory(ctx context.Context, caller Caller, id int64) (store.Story, error) {
	return s.store.GetStory(ctx, id, s.storeCallerID(caller))
}

func (s *Service) ListStories(ctx context.Context, caller Caller, f store.StoryFilter, p store.Paging) ([]store.Story, int, error) {
	f.CallerID = s.storeCallerID(caller)
	return s.store.ListStories(ctx, f, p)
}

// UpdateStory applies the story-type mutation rules: transitions must follow
// the mutation graph, a restricted target type requires every task to sit on
// a restricted branch, and a public type can never transition to a private
// one.
func (s *Service) UpdateStory(ctx context.Context, caller Caller, id int64, in StoryInput) (store.Story, error) {
	if caller.Anonymous() {
		return store.Story{}, unauthorized()
	}
	current, err := s.store.GetStory(ctx, id, s.storeCallerID(caller))
	if err != nil {
		return store.Story{}, err
	}
	updated := current
	if in.Title != "" {
		updated.Title = in.Title
	}
	updated.Description = in.Description
	if in.IsBug != nil {
		updated.IsBug = *in.IsBug
	}
	if in.Private != nil {
		updated.Private = *in.Private
	}
	if in.StoryTypeID != 0 && in.StoryTypeID != current.StoryTypeID {
		from, err := s.store.GetStoryType(ctx, current.StoryTypeID)
		if err != nil {
			return store.Story{}, err
		}
		to, err := s.store.GetStoryType(ctx, in.StoryTypeID)
		if err != nil {
			return store.Story{}, err
		}
		ok, err := s.store.CanMutateStoryType(ctx, from.ID, to.ID)
		if err != nil {
			return store.Story{}, err
		}
		if !ok {
			return store.Story{}, validationError("story_type_id", "story type transition is not allowed")
		}
		if !from.Private && to.Private {
			return store.Story{}, validationError("story_type_id", "a public story type cannot transition to a private one")
		}
		if to.Restricted {
			restricted, err := s.store.RestrictedBranchesOnly(ctx, id)
			if err != nil {
				return store.Story{}, err
			}
			if !restricted {
				return store.Story{}, validationError("story_type_id", "all tasks must be on restricted branches")
			}
		}
		updated.StoryTypeID = to.ID
		if to.Private {
			updated.Private = true
		}
	}
	result, err := s.store.UpdateStory(ctx, updated, caller.ID)
	if err != nil {
		return store.Story{}, err
	}
	s.indexStory(ctx, result.ID, caller.ID)
	return result, nil
}

// SetStoryPermission replaces the view_story grant set. A private story must
// keep at least one grantee so it cannot become unreachable.
func (s *Service) SetStoryPermission(ctx context.Context, caller Caller, storyID int64, users, teams []int64) error {
	if caller.Anonymous() {
		return unauthorized()
	}
	story, err := s.store.GetStory(ctx, storyID, s.storeCallerID(caller))
	if err != nil {
		return err
	}
	if story.Private && len(users) == 0 && len(teams) == 0 {
		return validationError("users", "a private story needs at least one user or team grant")
	}
	return s.store.SetStoryPermission(ctx, storyID, users, teams)
}

func (s *Service) ListStoryPermissions(ctx context.Context, caller Caller, storyID int64) ([]store.Permission, error) {
	if _, err := s.store.GetStory(ctx, storyID, s.storeCallerID(caller)); err != nil {
		return nil, err
	}
	return s.store.ListContainerPermissions(ctx, "story", storyID)
}

func (s *Service) DeleteStory(ctx context.Context, caller Caller, id int64) error {
	if !caller.Superuser {
		return permissionDenied()
	}
	if err := s.store.DeleteStory(ctx, id); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteStory(id)
	}
	return nil
}

func (s *Service) AddStoryTags(ctx context.Context, caller Caller, storyID int64, tags []string) (store.Story, error) {
	if caller.Anonymous() {
		return store.Story{}, unauthorized()
	}
	if _, err := s.store.GetStory(ctx, storyID, s.storeCallerID(caller)); err != nil {
		return store.Story{}, err
	}
	if err := s.store.AddStoryTags(ctx, storyID, dedupeTags(tags), caller.ID); err != nil {
		return store.Story{}, err
	}
	return s.store.GetStory(ctx, storyID, s.storeCallerID(caller))
}

func (s *Service) RemoveStoryTags(ctx context.Context, caller Caller, storyID int64, tags []string) (store.Story, error) {
	if caller.Anonymous() {
		return store.Story{}, unauthorized()
	}
	if _, err := s.store.GetStory(ctx, storyID, s.storeCallerID(caller)); err != nil {
		return store.Story{}, err
	}
	if err := s.store.RemoveStoryTags(ctx, storyID, dedupeTags(tags), caller.ID); err != nil {
		return store.Story{}, err
	}
	return s.store.GetStory(ctx, storyID, s.storeCallerID(caller))
}

func (s *Service) CreateComment(ctx context.Context, caller Caller, storyID int64, content string) (store.Comment, error) {
	if caller.Anonymous() {
		return store.Comment{}, unauthorized()
	}
	if strings.TrimSpace(content) == "" {
		return store.Comment{}, validationError("content", "comment must not be empty")
	}
	if _, err := s.store.GetStory(ctx, storyID, s.storeCallerID(caller)); err != nil {
		return store.Comment{}, err
	}
	comment, _, err := s.store.CreateComment(ctx, storyID, content, caller.ID)
	return comment, err
}

func (s *Service) GetComment(ctx context.Context, id int64) (store.Comment, error) {
	return s.store.GetComment(ctx, id)
}

// indexStory pushes the story's current searchable fields to the search
// backend. Indexing failures never fail the write.
func (s *Service) indexStory(ctx context.Context, id int64, callerID int64) {
	if s.search == nil {
		return
	}
	story, err := s.store.GetStory(ctx, id, callerID)
	if err != nil {
		return
	}
	rec := search.StoryRecord{
		ID:          story.ID,
		Title:       story.Title,
		Description: story.Description,
		Status:      story.Status,
		Private:     story.Private,
	}
	tasks, _, err := s.store.ListTasks(ctx, store.TaskFilter{StoryID: story.ID, CallerID: callerID}, store.Paging{})
	if err == nil {
		seen := map[int64]bool{}
		for _, t := range tasks {
			if !seen[t.ProjectID] {
				seen[t.ProjectID] = true
				rec.ProjectIDs = append(rec.ProjectIDs, t.ProjectID)
			}
		}
	}
	s.search.IndexStory(rec)
}

// storeCallerID extracts the id the store's privacy filters key on; zero
// means anonymous and superusers are recognised by the filters themselves.
func (s *Service) storeCallerID(caller Caller) int64 {
	return caller.ID
}

func dedupeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
