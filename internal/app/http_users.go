package app

import (
	"net/http"

	"storyboard/api/internal/store"
)

type userBody struct {
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	EnableLogin *bool  `json:"enable_login"`
	IsSuperuser *bool  `json:"is_superuser"`
}

func userPayload(u store.User) map[string]any {
	payload := map[string]any{
		"id":           u.ID,
		"created_at":   u.CreatedAt,
		"updated_at":   u.UpdatedAt,
		"full_name":    u.FullName,
		"openid":       u.OpenID,
		"enable_login": u.EnableLogin,
		"is_superuser": u.IsSuperuser,
		"last_login":   u.LastLogin,
	}
	if u.Email != "" {
		payload["email"] = u.Email
	}
	return payload
}

func userPayloads(users []store.User) []map[string]any {
	out := make([]map[string]any, 0, len(users))
	for _, u := range users {
		out = append(out, userPayload(u))
	}
	return out
}

func (s *HTTPServer) routeUsers(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) bool {
	switch parts[0] {
	case "users":
		return s.routeUserParts(w, r, caller, parts[1:])
	case "teams":
		return s.routeTeamParts(w, r, caller, parts[1:])
	}
	return false
}

func (s *HTTPServer) routeUserParts(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) bool {
	if len(parts) == 0 {
		if r.Method != http.MethodGet {
			return methodNotAllowed(w)
		}
		p := parsePaging(r)
		users, total, err := s.service.ListUsers(r.Context(), caller, r.URL.Query().Get("full_name"), p)
		if err != nil {
			writeServiceError(w, err)
			return true
		}
		setListHeaders(w, total, p)
		writeJSON(w, http.StatusOK, userPayloads(users))
		return true
	}

	// "self" resolves to the authenticated caller.
	var id int64
	if parts[0] == "self" {
		if caller.Anonymous() {
			writeServiceError(w, unauthorized())
			return true
		}
		id = caller.ID
	} else {
		var ok bool
		if id, ok = pathID(parts[0]); !ok {
			return false
		}
	}

	switch len(parts) {
	case 1:
		switch r.Method {
		case http.MethodGet:
			u, err := s.service.GetUser(r.Context(), caller, id)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, userPayload(u))
		case http.MethodPut:
			var body userBody
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
				return true
			}
			current, err := s.service.store.GetUser(r.Context(), id)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			if body.FullName != "" {
				current.FullName = body.FullName
			}
			if body.Email != "" {
				current.Email = body.Email
			}
			if body.EnableLogin != nil {
				current.EnableLogin = *body.EnableLogin
			}
			if body.IsSuperuser != nil {
				current.IsSuperuser = *body.IsSuperuser
			}
			u, err := s.service.UpdateUser(r.Context(), caller, current)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, userPayload(u))
		default:
			return methodNotAllowed(w)
		}
		return true
	case 2:
		if parts[1] != "preferences" {
			return false
		}
		switch r.Method {
		case http.MethodGet:
			prefs, err := s.service.GetUserPreferences(r.Context(), caller, id)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, prefs)
		case http.MethodPost:
			var body map[string]*string
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
				return true
			}
			prefs, err := s.service.SetUserPreferences(r.Context(), caller, id, body)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, prefs)
		default:
			return methodNotAllowed(w)
		}
		return true
	}
	return false
}

func (s *HTTPServer) routeTeamParts(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) bool {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			p := parsePaging(r)
			teams, total, err := s.service.ListTeams(r.Context(), p)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			setListHeaders(w, total, p)
			writeJSON(w, http.StatusOK, teams)
		case http.MethodPost:
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
				return true
			}
			team, err := s.service.CreateTeam(r.Context(), caller, body.Name)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, team)
		default:
			return methodNotAllowed(w)
		}
		return true
	}

	id, ok := pathID(parts[0])
	if !ok {
		return false
	}

	switch len(parts) {
	case 1:
		switch r.Method {
		case http.MethodGet:
			team, err := s.service.GetTeam(r.Context(), id)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, team)
		case http.MethodDelete:
			if err := s.service.DeleteTeam(r.Context(), caller, id); err != nil {
				writeServiceError(w, err)
				return true
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			return methodNotAllowed(w)
		}
		return true
	case 2:
		if parts[1] != "users" {
			return false
		}
		if r.Method != http.MethodGet {
			return methodNotAllowed(w)
		}
		members, err := s.service.ListTeamMembers(r.Context(), caller, id)
		if err != nil {
			writeServiceError(w, err)
			return true
		}
		writeJSON(w, http.StatusOK, userPayloads(members))
		return true
	case 3:
		if parts[1] != "users" {
			return false
		}
		userID, ok := pathID(parts[2])
		if !ok {
			return false
		}
		switch r.Method {
		case http.MethodPut:
			if err := s.service.AddTeamMember(r.Context(), caller, id, userID); err != nil {
				writeServiceError(w, err)
				return true
			}
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			if err := s.service.RemoveTeamMember(r.Context(), caller, id, userID); err != nil {
				writeServiceError(w, err)
				return true
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			return methodNotAllowed(w)
		}
		return true
	}
	return false
}
