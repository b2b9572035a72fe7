package app

import (
	"net/http"
	"strings"

	"storyboard/api/internal/store"
)

func (s *HTTPServer) routeEvents(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) bool {
	if parts[0] != "events" {
		return false
	}
	parts = parts[1:]

	if len(parts) == 0 {
		if r.Method != http.MethodGet {
			return methodNotAllowed(w)
		}
		p := parsePaging(r)
		q := r.URL.Query()
		f := store.EventFilter{
			StoryID:    queryInt64(r, "story_id"),
			WorklistID: queryInt64(r, "worklist_id"),
			BoardID:    queryInt64(r, "board_id"),
		}
		if types := q.Get("event_type"); types != "" {
			f.EventTypes = strings.Split(types, ",")
		}
		events, total, err := s.service.ListEvents(r.Context(), caller, f, p)
		if err != nil {
			writeServiceError(w, err)
			return true
		}
		setListHeaders(w, total, p)
		writeJSON(w, http.StatusOK, events)
		return true
	}

	id, ok := pathID(parts[0])
	if !ok || len(parts) != 1 {
		return false
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w)
	}
	event, err := s.service.GetEvent(r.Context(), caller, id)
	if err != nil {
		writeServiceError(w, err)
		return true
	}
	writeJSON(w, http.StatusOK, event)
	return true
}
