package app

import (
	"context"
	"errors"
	"time"

	"storyboard/api/internal/auth"
	"storyboard/api/internal/perms"
	"storyboard/api/internal/search"
	"storyboard/api/internal/store"
	"storyboard/api/internal/tokencache"
)

// Caller identifies the authenticated user behind a request. The zero value
// is an anonymous caller, permitted to read public resources only.
type Caller struct {
	ID        int64
	Superuser bool
}

func (c Caller) Anonymous() bool { return c.ID == 0 }

// dataStore is the persistence surface the service layer depends on.
type dataStore interface {
	GetUser(context.Context, int64) (store.User, error)
	ListUsers(context.Context, string, store.Paging) ([]store.User, int, error)
	UpdateUser(context.Context, store.User) (store.User, error)
	GetUserPreferences(context.Context, int64) (map[string]string, error)
	SetUserPreferences(context.Context, int64, map[string]*string) error

	CreateTeam(context.Context, string) (store.Team, error)
	GetTeam(context.Context, int64) (store.Team, error)
	ListTeams(context.Context, store.Paging) ([]store.Team, int, error)
	AddTeamMember(context.Context, int64, int64) error
	RemoveTeamMember(context.Context, int64, int64) error
	ListTeamMembers(context.Context, int64) ([]store.User, error)
	DeleteTeam(context.Context, int64) error

	CreateProject(context.Context, store.Project) (store.Project, error)
	GetProject(context.Context, int64) (store.Project, error)
	ListProjects(context.Context, string, store.Paging) ([]store.Project, int, error)
	UpdateProject(context.Context, store.Project) (store.Project, error)
	DeleteProject(context.Context, int64) error
	CreateProjectGroup(context.Context, store.ProjectGroup) (store.ProjectGroup, error)
	GetProjectGroup(context.Context, int64) (store.ProjectGroup, error)
	ListProjectGroups(context.Context, store.Paging) ([]store.ProjectGroup, int, error)
	UpdateProjectGroup(context.Context, store.ProjectGroup) (store.ProjectGroup, error)
	DeleteProjectGroup(context.Context, int64, int64) error
	ListGroupProjects(context.Context, int64) ([]store.Project, error)
	AddGroupProject(context.Context, int64, int64, int64) error
	RemoveGroupProject(context.Context, int64, int64, int64) error
	CreateBranch(context.Context, store.Branch) (store.Branch, error)
	GetBranch(context.Context, int64) (store.Branch, error)
	GetMasterBranch(context.Context, int64) (store.Branch, error)
	ListBranches(context.Context, int64, store.Paging) ([]store.Branch, int, error)
	UpdateBranch(context.Context, store.Branch) (store.Branch, error)
	CreateMilestone(context.Context, store.Milestone) (store.Milestone, error)
	GetMilestone(context.Context, int64) (store.Milestone, error)
	ListMilestones(context.Context, int64, store.Paging) ([]store.Milestone, int, error)
	UpdateMilestone(context.Context, store.Milestone) (store.Milestone, error)

	GetStoryType(context.Context, int64) (store.StoryType, error)
	ListStoryTypes(context.Context) ([]store.StoryType, error)
	CanMutateStoryType(context.Context, int64, int64) (bool, error)
	CreateStory(context.Context, store.Story, []string, []int64, []int64) (store.Story, error)
	GetStory(context.Context, int64, int64) (store.Story, error)
	ListStories(context.Context, store.StoryFilter, store.Paging) ([]store.Story, int, error)
	UpdateStory(context.Context, store.Story, int64) (store.Story, error)
	SetStoryPermission(context.Context, int64, []int64, []int64) error
	DeleteStory(context.Context, int64) error
	AddStoryTags(context.Context, int64, []string, int64) error
	RemoveStoryTags(context.Context, int64, []string, int64) error
	CreateComment(context.Context, int64, string, int64) (store.Comment, store.Event, error)
	GetComment(context.Context, int64) (store.Comment, error)
	RestrictedBranchesOnly(context.Context, int64) (bool, error)

	CreateTask(context.Context, store.Task) (store.Task, error)
	GetTask(context.Context, int64, int64) (store.Task, error)
	ListTasks(context.Context, store.TaskFilter, store.Paging) ([]store.Task, int, error)
	UpdateTask(context.Context, store.Task, int64) (store.Task, error)
	DeleteTask(context.Context, int64, int64) error

	CreateWorklist(context.Context, store.Worklist, []int64, []int64) (store.Worklist, error)
	GetWorklist(context.Context, int64, int64) (store.Worklist, error)
	ListWorklists(context.Context, store.WorklistFilterParams, store.Paging) ([]store.Worklist, int, error)
	UpdateWorklist(context.Context, store.Worklist, int64) (store.Worklist, error)
	ArchiveWorklist(context.Context, int64) error
	ListWorklistItems(context.Context, int64) ([]store.WorklistItem, error)
	GetWorklistItem(context.Context, int64) (store.WorklistItem, error)
	AddWorklistItem(context.Context, int64, string, int64, int, int64) (store.WorklistItem, error)
	MoveWorklistItem(context.Context, int64, int, int64, int64) (store.WorklistItem, error)
	ArchiveWorklistItem(context.Context, int64, int64) error
	UpdateWorklistItemDueDate(context.Context, int64, *int64) (store.WorklistItem, error)
	SetWorklistFilters(context.Context, int64, []store.WorklistFilter, int64) error
	ListWorklistFilters(context.Context, int64) ([]store.WorklistFilter, error)
	EvalWorklistFilters(context.Context, int64, int64) ([]store.WorklistItem, error)

	CreateBoard(context.Context, store.Board, []int64, []int64) (store.Board, error)
	GetBoard(context.Context, int64, int64) (store.Board, error)
	ListBoards(context.Context, store.BoardFilterParams, store.Paging) ([]store.Board, int, error)
	UpdateBoard(context.Context, store.Board, []store.Lane, int64) (store.Board, error)
	ArchiveBoard(context.Context, int64) error
	BoardContainsWorklist(context.Context, int64, int64) (bool, error)
	BoardsContaining(context.Context, int64) ([]int64, error)

	CreateDueDate(context.Context, store.DueDate, []int64, []int64) (store.DueDate, error)
	GetDueDate(context.Context, int64, int64) (store.DueDate, error)
	ListDueDates(context.Context, int64, int64, store.Paging) ([]store.DueDate, int, error)
	UpdateDueDate(context.Context, store.DueDate) (store.DueDate, error)
	AssignDueDate(context.Context, int64, string, int64) error
	UnassignDueDate(context.Context, int64, string, int64) error

	SetContainerPermission(context.Context, string, int64, string, []int64, []int64, int64) error
	ListContainerPermissions(context.Context, string, int64) ([]store.Permission, error)
	HoldsPermission(context.Context, int64, string, int64, ...string) (bool, error)

	CreateSubscription(context.Context, store.Subscription) (store.Subscription, error)
	GetSubscription(context.Context, int64) (store.Subscription, error)
	ListSubscriptions(context.Context, int64, string, int64, store.Paging) ([]store.Subscription, int, error)
	DeleteSubscription(context.Context, int64) error
	ListSubscriptionEvents(context.Context, int64, store.Paging) ([]store.SubscriptionEvent, int, error)
	GetSubscriptionEvent(context.Context, int64) (store.SubscriptionEvent, error)
	DeleteSubscriptionEvent(context.Context, int64) error

	ListEvents(context.Context, store.EventFilter, store.Paging) ([]store.Event, int, error)
	GetEvent(context.Context, int64, int64) (store.Event, error)
}

// Service implements the application's operations on top of the store, the
// token service and the permission checker.
type Service struct {
	store  dataStore
	auth   *auth.Service
	cache  *tokencache.Cache
	search *search.Service
	perms  *perms.Checker

	// prefDefaults are plugin-contributed user preference defaults merged
	// under per-user overrides.
	prefDefaults map[string]string
	version      string
}

func NewService(st dataStore, authSvc *auth.Service, cache *tokencache.Cache, searchSvc *search.Service, prefDefaults map[string]string, version string) *Service {
	if prefDefaults == nil {
		prefDefaults = map[string]string{}
	}
	return &Service{
		store:        st,
		auth:         authSvc,
		cache:        cache,
		search:       searchSvc,
		perms:        perms.NewChecker(st),
		prefDefaults: prefDefaults,
		version:      version,
	}
}

// CallerFromToken resolves a bearer token to a Caller. The Redis cache is a
// read-through in front of the token table; a cache outage silently degrades
// to database validation.
func (s *Service) CallerFromToken(ctx context.Context, token string) (Caller, error) {
	userID, err := s.validateToken(ctx, token)
	if err != nil {
		return Caller{}, err
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Caller{}, err
	}
	return Caller{ID: user.ID, Superuser: user.IsSuperuser}, nil
}

func (s *Service) validateToken(ctx context.Context, token string) (int64, error) {
	if s.cache != nil {
		if entry, err := s.cache.Get(ctx, token); err == nil {
			if time.Now().UTC().Before(entry.ExpiresAt) {
				return entry.UserID, nil
			}
			return 0, auth.ErrExpiredToken
		} else if !errors.Is(err, tokencache.ErrMiss) {
			// Cache trouble; fall through to the database.
			_ = err
		}
	}
	userID, err := s.auth.Validate(ctx, token)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		tok, err := s.auth.Lookup(ctx, token)
		if err == nil {
			_ = s.cache.Put(ctx, token, tokencache.Entry{UserID: userID, ExpiresAt: tok.ExpiresAt})
		}
	}
	return userID, nil
}

// cacheToken primes the cache with a freshly issued access token so the
// first authenticated request avoids a database round trip.
func (s *Service) cacheToken(ctx context.Context, resp auth.TokenResponse) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Put(ctx, resp.AccessToken, tokencache.Entry{
		UserID:    resp.IDToken,
		ExpiresAt: time.Now().UTC().Add(time.Duration(resp.ExpiresIn) * time.Second),
	})
}

// SystemInfo reports the API version.
func (s *Service) SystemInfo() map[string]any {
	return map[string]any{"version": s.version}
}

// Search runs a full-text query over stories and tasks.
func (s *Service) Search(ctx context.Context, caller Caller, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	q.CallerSuperuser = caller.Superuser
	return s.search.Search(q), nil
}

func int64Value(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
