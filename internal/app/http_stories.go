package app

import (
	"net/http"
	"strings"
	"time"

	"storyboard/api/internal/search"
	"storyboard/api/internal/store"
)

func (s *HTTPServer) routeStories(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) bool {
	switch parts[0] {
	case "stories":
		return s.routeStoryParts(w, r, caller, parts[1:])
	case "search":
		if len(parts) != 1 || r.Method != http.MethodGet {
			return false
		}
		s.handleSearch(w, r, caller)
		return true
	}
	return false
}

func storyFilterFromQuery(r *http.Request) store.StoryFilter {
	q := r.URL.Query()
	f := store.StoryFilter{
		Title:          q.Get("title"),
		Keywords:       q.Get("q"),
		Status:         q.Get("status"),
		AssigneeID:     queryInt64(r, "assignee_id"),
		CreatorID:      queryInt64(r, "creator_id"),
		ProjectID:      queryInt64(r, "project_id"),
		ProjectGroupID: queryInt64(r, "project_group_id"),
		TagsAny:        q.Get("tags_filter_type") == "any",
	}
	if tags := q.Get("tags"); tags != "" {
		f.Tags = strings.Split(tags, ",")
	}
	if since := q.Get("updated_since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			f.UpdatedSince = &t
		}
	}
	return f
}

func (s *HTTPServer) routeStoryParts(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) bool {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			p := parsePaging(r)
			stories, total, err := s.service.ListStories(r.Context(), caller, storyFilterFromQuery(r), p)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			setListHeaders(w, total, p)
			writeJSON(w, http.StatusOK, stories)
		case http.MethodPost:
			var body StoryInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
				return true
			}
			story, err := s.service.CreateStory(r.Context(), caller, body)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, story)
		default:
			return methodNotAllowed(w)
		}
		return true
	}

	if parts[0] == "search" {
		if len(parts) != 1 || r.Method != http.MethodGet {
			return false
		}
		p := parsePaging(r)
		f := storyFilterFromQuery(r)
		stories, total, err := s.service.ListStories(r.Context(), caller, f, p)
		if err != nil {
			writeServiceError(w, err)
			return true
		}
		setListHeaders(w, total, p)
		writeJSON(w, http.StatusOK, stories)
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
			story, err := s.service.GetStory(r.Context(), caller, id)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, story)
		case http.MethodPut:
			var body StoryInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
				return true
			}
			story, err := s.service.UpdateStory(r.Context(), caller, id, body)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, story)
		case http.MethodDelete:
			if err := s.service.DeleteStory(r.Context(), caller, id); err != nil {
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
		case "tags":
			var body struct {
				Tags []string `json:"tags"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
				return true
			}
			var story store.Story
			var err error
			switch r.Method {
			case http.MethodPut:
				story, err = s.service.AddStoryTags(r.Context(), caller, id, body.Tags)
			case http.MethodDelete:
				story, err = s.service.RemoveStoryTags(r.Context(), caller, id, body.Tags)
			default:
				return methodNotAllowed(w)
			}
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, story)
			return true
		case "events":
			if r.Method != http.MethodGet {
				return methodNotAllowed(w)
			}
			p := parsePaging(r)
			f := store.EventFilter{StoryID: id}
			events, total, err := s.service.ListEvents(r.Context(), caller, f, p)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			setListHeaders(w, total, p)
			writeJSON(w, http.StatusOK, events)
			return true
		case "comments":
			switch r.Method {
			case http.MethodGet:
				p := parsePaging(r)
				f := store.EventFilter{StoryID: id, EventTypes: []string{"user_comment"}}
				events, total, err := s.service.ListEvents(r.Context(), caller, f, p)
				if err != nil {
					writeServiceError(w, err)
					return true
				}
				setListHeaders(w, total, p)
				writeJSON(w, http.StatusOK, events)
			case http.MethodPost:
				var body struct {
					Content string `json:"content"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
					return true
				}
				comment, err := s.service.CreateComment(r.Context(), caller, id, body.Content)
				if err != nil {
					writeServiceError(w, err)
					return true
				}
				writeJSON(w, http.StatusOK, comment)
			default:
				return methodNotAllowed(w)
			}
			return true
		case "tasks":
			if r.Method != http.MethodGet {
				return methodNotAllowed(w)
			}
			p := parsePaging(r)
			tasks, total, err := s.service.ListTasks(r.Context(), caller, store.TaskFilter{StoryID: id}, p)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			setListHeaders(w, total, p)
			writeJSON(w, http.StatusOK, tasks)
			return true
		case "permissions":
			switch r.Method {
			case http.MethodGet:
				permissions, err := s.service.ListStoryPermissions(r.Context(), caller, id)
				if err != nil {
					writeServiceError(w, err)
					return true
				}
				writeJSON(w, http.StatusOK, permissions)
			case http.MethodPut:
				var body struct {
					Users []int64 `json:"users"`
					Teams []int64 `json:"teams"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
					return true
				}
				if err := s.service.SetStoryPermission(r.Context(), caller, id, body.Users, body.Teams); err != nil {
					writeServiceError(w, err)
					return true
				}
				w.WriteHeader(http.StatusNoContent)
			default:
				return methodNotAllowed(w)
			}
			return true
		}
	}
	return false
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, caller Caller) {
	q := r.URL.Query()
	query := search.Query{
		Text:       q.Get("q"),
		FilterType: search.ResultType(q.Get("type")),
	}
	if projectID := queryInt64(r, "project_id"); projectID > 0 {
		query.FilterProjectID = projectID
	}
	p := parsePaging(r)
	query.Limit = p.Limit
	query.Offset = p.Offset
	resp, err := s.service.Search(r.Context(), caller, query)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	setListHeaders(w, resp.Total, p)
	writeJSON(w, http.StatusOK, resp)
}
