package app

import (
	"net/http"
	"time"

	"storyboard/api/internal/store"
)

func (s *HTTPServer) routeProjects(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) bool {
	switch parts[0] {
	case "projects":
		return s.routeProjectParts(w, r, caller, parts[1:])
	case "project_groups":
		return s.routeProjectGroupParts(w, r, caller, parts[1:])
	case "branches":
		return s.routeBranchParts(w, r, caller, parts[1:])
	case "milestones":
		return s.routeMilestoneParts(w, r, caller, parts[1:])
	case "story_types":
		if len(parts) != 1 || r.Method != http.MethodGet {
			return false
		}
		types, err := s.service.ListStoryTypes(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return true
		}
		writeJSON(w, http.StatusOK, types)
		return true
	}
	return false
}

func (s *HTTPServer) routeProjectParts(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) bool {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			p := parsePaging(r)
			projects, total, err := s.service.ListProjects(r.Context(), r.URL.Query().Get("name"), p)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			setListHeaders(w, total, p)
			writeJSON(w, http.StatusOK, projects)
		case http.MethodPost:
			var body store.Project
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
				return true
			}
			project, err := s.service.CreateProject(r.Context(), caller, body)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, project)
		default:
			return methodNotAllowed(w)
		}
		return true
	}

	id, ok := pathID(parts[0])
	if !ok || len(parts) != 1 {
		return false
	}
	switch r.Method {
	case http.MethodGet:
		project, err := s.service.GetProject(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return true
		}
		writeJSON(w, http.StatusOK, project)
	case http.MethodPut:
		var body store.Project
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
			return true
		}
		body.ID = id
		project, err := s.service.UpdateProject(r.Context(), caller, body)
		if err != nil {
			writeServiceError(w, err)
			return true
		}
		writeJSON(w, http.StatusOK, project)
	case http.MethodDelete:
		if err := s.service.DeleteProject(r.Context(), caller, id); err != nil {
			writeServiceError(w, err)
			return true
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		return methodNotAllowed(w)
	}
	return true
}

func (s *HTTPServer) routeProjectGroupParts(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) bool {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			p := parsePaging(r)
			groups, total, err := s.service.ListProjectGroups(r.Context(), p)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			setListHeaders(w, total, p)
			writeJSON(w, http.StatusOK, groups)
		case http.MethodPost:
			var body store.ProjectGroup
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
				return true
			}
			group, err := s.service.CreateProjectGroup(r.Context(), caller, body)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, group)
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
			group, err := s.service.GetProjectGroup(r.Context(), id)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, group)
		case http.MethodPut:
			var body store.ProjectGroup
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
				return true
			}
			body.ID = id
			group, err := s.service.UpdateProjectGroup(r.Context(), caller, body)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, group)
		case http.MethodDelete:
			if err := s.service.DeleteProjectGroup(r.Context(), caller, id); err != nil {
				writeServiceError(w, err)
				return true
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			return methodNotAllowed(w)
		}
		return true
	case 2:
		if parts[1] != "projects" {
			return false
		}
		if r.Method != http.MethodGet {
			return methodNotAllowed(w)
		}
		projects, err := s.service.ListGroupProjects(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return true
		}
		writeJSON(w, http.StatusOK, projects)
		return true
	case 3:
		if parts[1] != "projects" {
			return false
		}
		projectID, ok := pathID(parts[2])
		if !ok {
			return false
		}
		switch r.Method {
		case http.MethodPut:
			if err := s.service.AddGroupProject(r.Context(), caller, id, projectID); err != nil {
				writeServiceError(w, err)
				return true
			}
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			if err := s.service.RemoveGroupProject(r.Context(), caller, id, projectID); err != nil {
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

type branchBody struct {
	Name           string     `json:"name"`
	ProjectID      int64      `json:"project_id"`
	Expired        *bool      `json:"expired"`
	ExpirationDate *time.Time `json:"expiration_date"`
	Restricted     *bool      `json:"restricted"`
}

func (s *HTTPServer) routeBranchParts(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) bool {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			p := parsePaging(r)
			branches, total, err := s.service.ListBranches(r.Context(), queryInt64(r, "project_id"), p)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			setListHeaders(w, total, p)
			writeJSON(w, http.StatusOK, branches)
		case http.MethodPost:
			var body branchBody
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
				return true
			}
			branch := store.Branch{Name: body.Name, ProjectID: body.ProjectID, ExpirationDate: body.ExpirationDate}
			if body.Restricted != nil {
				branch.Restricted = *body.Restricted
			}
			created, err := s.service.CreateBranch(r.Context(), caller, branch)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, created)
		default:
			return methodNotAllowed(w)
		}
		return true
	}

	id, ok := pathID(parts[0])
	if !ok || len(parts) != 1 {
		return false
	}
	switch r.Method {
	case http.MethodGet:
		branch, err := s.service.GetBranch(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return true
		}
		writeJSON(w, http.StatusOK, branch)
	case http.MethodPut:
		var body branchBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
			return true
		}
		current, err := s.service.GetBranch(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return true
		}
		if body.Name != "" {
			current.Name = body.Name
		}
		if body.Expired != nil {
			current.Expired = *body.Expired
		}
		if body.ExpirationDate != nil {
			current.ExpirationDate = body.ExpirationDate
		}
		if body.Restricted != nil {
			current.Restricted = *body.Restricted
		}
		current.ProjectID = body.ProjectID
		branch, err := s.service.UpdateBranch(r.Context(), caller, current)
		if err != nil {
			writeServiceError(w, err)
			return true
		}
		writeJSON(w, http.StatusOK, branch)
	default:
		return methodNotAllowed(w)
	}
	return true
}

type milestoneBody struct {
	Name           string     `json:"name"`
	BranchID       int64      `json:"branch_id"`
	Expired        *bool      `json:"expired"`
	ExpirationDate *time.Time `json:"expiration_date"`
}

func (s *HTTPServer) routeMilestoneParts(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) bool {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			p := parsePaging(r)
			milestones, total, err := s.service.ListMilestones(r.Context(), queryInt64(r, "branch_id"), p)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			setListHeaders(w, total, p)
			writeJSON(w, http.StatusOK, milestones)
		case http.MethodPost:
			var body milestoneBody
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
				return true
			}
			milestone := store.Milestone{Name: body.Name, BranchID: body.BranchID, ExpirationDate: body.ExpirationDate}
			created, err := s.service.CreateMilestone(r.Context(), caller, milestone)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, created)
		default:
			return methodNotAllowed(w)
		}
		return true
	}

	id, ok := pathID(parts[0])
	if !ok || len(parts) != 1 {
		return false
	}
	switch r.Method {
	case http.MethodGet:
		milestone, err := s.service.GetMilestone(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return true
		}
		writeJSON(w, http.StatusOK, milestone)
	case http.MethodPut:
		var body milestoneBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
			return true
		}
		current, err := s.service.GetMilestone(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return true
		}
		if body.Name != "" {
			current.Name = body.Name
		}
		if body.Expired != nil {
			current.Expired = *body.Expired
		}
		if body.ExpirationDate != nil {
			current.ExpirationDate = body.ExpirationDate
		}
		milestone, err := s.service.UpdateMilestone(r.Context(), caller, current)
		if err != nil {
			writeServiceError(w, err)
			return true
		}
		writeJSON(w, http.StatusOK, milestone)
	default:
		return methodNotAllowed(w)
	}
	return true
}
