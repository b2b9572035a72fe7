package app

import (
	"net/http"
	"time"

	"storyboard/api/internal/store"
)

func (s *HTTPServer) routeBoards(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) bool {
	switch parts[0] {
	case "boards":
		return s.routeBoardParts(w, r, caller, parts[1:])
	case "due_dates":
		return s.routeDueDateParts(w, r, caller, parts[1:])
	}
	return false
}

func (s *HTTPServer) routeBoardParts(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) bool {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			p := parsePaging(r)
			q := r.URL.Query()
			f := store.BoardFilterParams{
				Title:     q.Get("title"),
				CreatorID: queryInt64(r, "creator_id"),
				ProjectID: queryInt64(r, "project_id"),
				Archived:  q.Get("archived") == "true",
			}
			boards, total, err := s.service.ListBoards(r.Context(), caller, f, p)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			setListHeaders(w, total, p)
			writeJSON(w, http.StatusOK, boards)
		case http.MethodPost:
			var body BoardInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
				return true
			}
			board, err := s.service.CreateBoard(r.Context(), caller, body)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, board)
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
			board, err := s.service.GetBoard(r.Context(), caller, id)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, board)
		case http.MethodPut:
			var body BoardInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
				return true
			}
			board, err := s.service.UpdateBoard(r.Context(), caller, id, body)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, board)
		case http.MethodDelete:
			if err := s.service.ArchiveBoard(r.Context(), caller, id); err != nil {
				writeServiceError(w, err)
				return true
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			return methodNotAllowed(w)
		}
		return true
	case 2:
		switch parts[1] {
		case "permissions":
			switch r.Method {
			case http.MethodGet:
				permissions, err := s.service.ListBoardPermissions(r.Context(), caller, id)
				if err != nil {
					writeServiceError(w, err)
					return true
				}
				writeJSON(w, http.StatusOK, permissions)
			case http.MethodPut:
				var body permissionBody
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
					return true
				}
				if err := s.service.SetBoardPermission(r.Context(), caller, id, body.Codename, body.Users, body.Teams); err != nil {
					writeServiceError(w, err)
					return true
				}
				w.WriteHeader(http.StatusNoContent)
			default:
				return methodNotAllowed(w)
			}
			return true
		case "due_dates":
			if r.Method != http.MethodGet {
				return methodNotAllowed(w)
			}
			p := parsePaging(r)
			dates, total, err := s.service.ListDueDates(r.Context(), caller, id, p)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			setListHeaders(w, total, p)
			writeJSON(w, http.StatusOK, dates)
			return true
		}
	}
	return false
}

type dueDateBody struct {
	Name    string     `json:"name"`
	Date    *time.Time `json:"date"`
	Private *bool      `json:"private"`
	Users   []int64    `json:"users"`
	Teams   []int64    `json:"teams"`
}

type dueDateTargetBody struct {
	TargetType string `json:"target_type"`
	TargetID   int64  `json:"target_id"`
}

func (s *HTTPServer) routeDueDateParts(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) bool {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			p := parsePaging(r)
			dates, total, err := s.service.ListDueDates(r.Context(), caller, queryInt64(r, "board_id"), p)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			setListHeaders(w, total, p)
			writeJSON(w, http.StatusOK, dates)
		case http.MethodPost:
			var body dueDateBody
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
				return true
			}
			d := store.DueDate{Name: body.Name}
			if body.Date != nil {
				d.Date = *body.Date
			}
			if body.Private != nil {
				d.Private = *body.Private
			}
			created, err := s.service.CreateDueDate(r.Context(), caller, d, body.Users, body.Teams)
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
	if !ok {
		return false
	}

	switch len(parts) {
	case 1:
		switch r.Method {
		case http.MethodGet:
			d, err := s.service.GetDueDate(r.Context(), caller, id)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, d)
		case http.MethodPut:
			var body dueDateBody
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
				return true
			}
			current, err := s.service.GetDueDate(r.Context(), caller, id)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			if body.Name != "" {
				current.Name = body.Name
			}
			if body.Date != nil {
				current.Date = *body.Date
			}
			if body.Private != nil {
				current.Private = *body.Private
			}
			d, err := s.service.UpdateDueDate(r.Context(), caller, current)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, d)
		default:
			return methodNotAllowed(w)
		}
		return true
	case 2:
		switch parts[1] {
		case "assign", "unassign":
			if r.Method != http.MethodPost {
				return methodNotAllowed(w)
			}
			var body dueDateTargetBody
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
				return true
			}
			var err error
			if parts[1] == "assign" {
				err = s.service.AssignDueDate(r.Context(), caller, id, body.TargetType, body.TargetID)
			} else {
				err = s.service.UnassignDueDate(r.Context(), caller, id, body.TargetType, body.TargetID)
			}
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			w.WriteHeader(http.StatusNoContent)
			return true
		case "permissions":
			if r.Method != http.MethodPut {
				return methodNotAllowed(w)
			}
			var body permissionBody
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
				return true
			}
			if err := s.service.SetDueDatePermission(r.Context(), caller, id, body.Codename, body.Users, body.Teams); err != nil {
				writeServiceError(w, err)
				return true
			}
			w.WriteHeader(http.StatusNoContent)
			return true
		}
	}
	return false
}
