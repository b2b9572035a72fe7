package app

import (
	"net/http"

	"storyboard/api/internal/store"
)

func (s *HTTPServer) routeTasks(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) bool {
	if parts[0] != "tasks" {
		return false
	}
	parts = parts[1:]

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			p := parsePaging(r)
			q := r.URL.Query()
			f := store.TaskFilter{
				StoryID:    queryInt64(r, "story_id"),
				ProjectID:  queryInt64(r, "project_id"),
				BranchID:   queryInt64(r, "branch_id"),
				AssigneeID: queryInt64(r, "assignee_id"),
				Status:     q.Get("status"),
				Priority:   q.Get("priority"),
				Title:      q.Get("title"),
			}
			tasks, total, err := s.service.ListTasks(r.Context(), caller, f, p)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			setListHeaders(w, total, p)
			writeJSON(w, http.StatusOK, tasks)
		case http.MethodPost:
			var body TaskInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
				return true
			}
			task, err := s.service.CreateTask(r.Context(), caller, body)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, task)
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
		task, err := s.service.GetTask(r.Context(), caller, id)
		if err != nil {
			writeServiceError(w, err)
			return true
		}
		writeJSON(w, http.StatusOK, task)
	case http.MethodPut:
		var body TaskInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
			return true
		}
		task, err := s.service.UpdateTask(r.Context(), caller, id, body)
		if err != nil {
			writeServiceError(w, err)
			return true
		}
		writeJSON(w, http.StatusOK, task)
	case http.MethodDelete:
		if err := s.service.DeleteTask(r.Context(), caller, id); err != nil {
			writeServiceError(w, err)
			return true
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		return methodNotAllowed(w)
	}
	return true
}
