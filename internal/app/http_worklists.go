package app

import (
	"net/http"

	"storyboard/api/internal/store"
)

func (s *HTTPServer) routeWorklists(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) bool {
	if parts[0] != "worklists" {
		return false
	}
	parts = parts[1:]

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			p := parsePaging(r)
			q := r.URL.Query()
			f := store.WorklistFilterParams{
				Title:     q.Get("title"),
				CreatorID: queryInt64(r, "creator_id"),
				ProjectID: queryInt64(r, "project_id"),
				Archived:  q.Get("archived") == "true",
			}
			worklists, total, err := s.service.ListWorklists(r.Context(), caller, f, p)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			setListHeaders(w, total, p)
			writeJSON(w, http.StatusOK, worklists)
		case http.MethodPost:
			var body WorklistInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
				return true
			}
			worklist, err := s.service.CreateWorklist(r.Context(), caller, body)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, worklist)
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
			worklist, err := s.service.GetWorklist(r.Context(), caller, id)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, worklist)
		case http.MethodPut:
			var body WorklistInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
				return true
			}
			worklist, err := s.service.UpdateWorklist(r.Context(), caller, id, body)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, worklist)
		case http.MethodDelete:
			if err := s.service.ArchiveWorklist(r.Context(), caller, id); err != nil {
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
		case "items":
			switch r.Method {
			case http.MethodGet:
				items, err := s.service.ListWorklistItems(r.Context(), caller, id)
				if err != nil {
					writeServiceError(w, err)
					return true
				}
				writeJSON(w, http.StatusOK, items)
			case http.MethodPost:
				var body struct {
					ItemType     string `json:"item_type"`
					ItemID       int64  `json:"item_id"`
					ListPosition int    `json:"list_position"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
					return true
				}
				item, err := s.service.AddWorklistItem(r.Context(), caller, id, body.ItemType, body.ItemID, body.ListPosition)
				if err != nil {
					writeServiceError(w, err)
					return true
				}
				writeJSON(w, http.StatusOK, item)
			default:
				return methodNotAllowed(w)
			}
			return true
		case "filters":
			switch r.Method {
			case http.MethodGet:
				filters, err := s.service.ListWorklistFilters(r.Context(), caller, id)
				if err != nil {
					writeServiceError(w, err)
					return true
				}
				writeJSON(w, http.StatusOK, filters)
			case http.MethodPost, http.MethodPut:
				var body struct {
					Filters []store.WorklistFilter `json:"filters"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
					return true
				}
				filters, err := s.service.SetWorklistFilters(r.Context(), caller, id, body.Filters)
				if err != nil {
					writeServiceError(w, err)
					return true
				}
				writeJSON(w, http.StatusOK, filters)
			default:
				return methodNotAllowed(w)
			}
			return true
		case "permissions":
			switch r.Method {
			case http.MethodGet:
				permissions, err := s.service.ListWorklistPermissions(r.Context(), caller, id)
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
				if err := s.service.SetWorklistPermission(r.Context(), caller, id, body.Codename, body.Users, body.Teams); err != nil {
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
	case 3:
		if parts[1] != "items" {
			return false
		}
		itemID, ok := pathID(parts[2])
		if !ok {
			return false
		}
		switch r.Method {
		case http.MethodPut:
			var body struct {
				ListID         int64  `json:"list_id"`
				ListPosition   *int   `json:"list_position"`
				DisplayDueDate *int64 `json:"display_due_date"`
				ClearDueDate   bool   `json:"clear_due_date"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
				return true
			}
			if body.ListPosition != nil {
				item, err := s.service.MoveWorklistItem(r.Context(), caller, itemID, *body.ListPosition, body.ListID)
				if err != nil {
					writeServiceError(w, err)
					return true
				}
				writeJSON(w, http.StatusOK, item)
				return true
			}
			if body.DisplayDueDate != nil || body.ClearDueDate {
				item, err := s.service.SetWorklistItemDueDate(r.Context(), caller, itemID, body.DisplayDueDate)
				if err != nil {
					writeServiceError(w, err)
					return true
				}
				writeJSON(w, http.StatusOK, item)
				return true
			}
			writeError(w, http.StatusBadRequest, "invalid_request", "nothing to update", "")
			return true
		case http.MethodDelete:
			if err := s.service.ArchiveWorklistItem(r.Context(), caller, itemID); err != nil {
				writeServiceError(w, err)
				return true
			}
			w.WriteHeader(http.StatusNoContent)
			return true
		default:
			return methodNotAllowed(w)
		}
	}
	return false
}

type permissionBody struct {
	Codename string  `json:"codename"`
	Users    []int64 `json:"users"`
	Teams    []int64 `json:"teams"`
}
