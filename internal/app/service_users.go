package app

import (
	"context"
	"strings"

	"storyboard/api/internal/store"
)

// userView strips the email address unless the caller is the user
// themselves or a superuser.
func (s *Service) userView(u store.User, caller Caller) store.User {
	if caller.ID != u.ID && !caller.Superuser {
		u.Email = ""
	}
	return u
}

func (s *Service) GetUser(ctx context.Context, caller Caller, id int64) (store.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return store.User{}, err
	}
	return s.userView(u, caller), nil
}

func (s *Service) ListUsers(ctx context.Context, caller Caller, nameFilter string, p store.Paging) ([]store.User, int, error) {
	users, total, err := s.store.ListUsers(ctx, nameFilter, p)
	if err != nil {
		return nil, 0, err
	}
	for i := range users {
		users[i] = s.userView(users[i], caller)
	}
	return users, total, nil
}

// UpdateUser lets users edit themselves; only superusers may edit others or
// flip enable_login / is_superuser.
func (s *Service) UpdateUser(ctx context.Context, caller Caller, u store.User) (store.User, error) {
	if caller.Anonymous() {
		return store.User{}, unauthorized()
	}
	current, err := s.store.GetUser(ctx, u.ID)
	if err != nil {
		return store.User{}, err
	}
	if caller.ID != u.ID && !caller.Superuser {
		return store.User{}, permissionDenied()
	}
	if !caller.Superuser {
		if u.EnableLogin != current.EnableLogin || u.IsSuperuser != current.IsSuperuser {
			return store.User{}, permissionDenied()
		}
	}
	if strings.TrimSpace(u.FullName) == "" {
		return store.User{}, validationError("full_name", "full name must not be empty")
	}
	updated, err := s.store.UpdateUser(ctx, u)
	if err != nil {
		return store.User{}, err
	}
	return s.userView(updated, caller), nil
}

// GetUserPreferences returns plugin defaults merged under the user's
// overrides. Only the user themselves or a superuser may read them.
func (s *Service) GetUserPreferences(ctx context.Context, caller Caller, userID int64) (map[string]string, error) {
	if caller.Anonymous() {
		return nil, unauthorized()
	}
	if caller.ID != userID && !caller.Superuser {
		return nil, permissionDenied()
	}
	overrides, err := s.store.GetUserPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]string, len(s.prefDefaults)+len(overrides))
	for k, v := range s.prefDefaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged, nil
}

// SetUserPreferences writes overrides; a nil value deletes the override so
// the plugin default shows through again. Writes are idempotent.
func (s *Service) SetUserPreferences(ctx context.Context, caller Caller, userID int64, prefs map[string]*string) (map[string]string, error) {
	if caller.Anonymous() {
		return nil, unauthorized()
	}
	if caller.ID != userID && !caller.Superuser {
		return nil, permissionDenied()
	}
	if err := s.store.SetUserPreferences(ctx, userID, prefs); err != nil {
		return nil, err
	}
	return s.GetUserPreferences(ctx, caller, userID)
}

func (s *Service) CreateTeam(ctx context.Context, caller Caller, name string) (store.Team, error) {
	if !caller.Superuser {
		return store.Team{}, permissionDenied()
	}
	if strings.TrimSpace(name) == "" {
		return store.Team{}, validationError("name", "team name must not be empty")
	}
	return s.store.CreateTeam(ctx, name)
}

func (s *Service) GetTeam(ctx context.Context, id int64) (store.Team, error) {
	return s.store.GetTeam(ctx, id)
}

func (s *Service) ListTeams(ctx context.Context, p store.Paging) ([]store.Team, int, error) {
	return s.store.ListTeams(ctx, p)
}

func (s *Service) ListTeamMembers(ctx context.Context, caller Caller, teamID int64) ([]store.User, error) {
	members, err := s.store.ListTeamMembers(ctx, teamID)
	if err != nil {
		return nil, err
	}
	for i := range members {
		members[i] = s.userView(members[i], caller)
	}
	return members, nil
}

func (s *Service) AddTeamMember(ctx context.Context, caller Caller, teamID, userID int64) error {
	if !caller.Superuser {
		return permissionDenied()
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return err
	}
	return s.store.AddTeamMember(ctx, teamID, userID)
}

func (s *Service) RemoveTeamMember(ctx context.Context, caller Caller, teamID, userID int64) error {
	if !caller.Superuser {
		return permissionDenied()
	}
	return s.store.RemoveTeamMember(ctx, teamID, userID)
}

func (s *Service) DeleteTeam(ctx context.Context, caller Caller, id int64) error {
	if !caller.Superuser {
		return permissionDenied()
	}
	return s.store.DeleteTeam(ctx, id)
}
