package app

import (
	"net/http"
	"strings"

	"storyboard/api/internal/store"
)

func (s *HTTPServer) routeSubscriptions(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) bool {
	switch parts[0] {
	case "subscriptions":
		return s.routeSubscriptionParts(w, r, caller, parts[1:])
	case "subscription_events":
		return s.routeSubscriptionEventParts(w, r, caller, parts[1:])
	}
	return false
}

func (s *HTTPServer) routeSubscriptionParts(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) bool {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			p := parsePaging(r)
			q := r.URL.Query()
			subs, total, err := s.service.ListSubscriptions(r.Context(), caller,
				queryInt64(r, "user_id"), q.Get("target_type"), queryInt64(r, "target_id"), p)
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			setListHeaders(w, total, p)
			writeJSON(w, http.StatusOK, subs)
		case http.MethodPost:
			var body struct {
				UserID     int64  `json:"user_id"`
				TargetType string `json:"target_type"`
				TargetID   int64  `json:"target_id"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
				return true
			}
			sub, err := s.service.CreateSubscription(r.Context(), caller, store.Subscription{
				UserID:     body.UserID,
				TargetType: strings.TrimSpace(body.TargetType),
				TargetID:   body.TargetID,
			})
			if err != nil {
				writeServiceError(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, sub)
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
		sub, err := s.service.GetSubscription(r.Context(), caller, id)
		if err != nil {
			writeServiceError(w, err)
			return true
		}
		writeJSON(w, http.StatusOK, sub)
	case http.MethodDelete:
		if err := s.service.DeleteSubscription(r.Context(), caller, id); err != nil {
			writeServiceError(w, err)
			return true
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		return methodNotAllowed(w)
	}
	return true
}

func (s *HTTPServer) routeSubscriptionEventParts(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) bool {
	if len(parts) == 0 {
		if r.Method != http.MethodGet {
			return methodNotAllowed(w)
		}
		p := parsePaging(r)
		events, total, err := s.service.ListSubscriptionEvents(r.Context(), caller, queryInt64(r, "subscriber_id"), p)
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
	switch r.Method {
	case http.MethodGet:
		event, err := s.service.GetSubscriptionEvent(r.Context(), caller, id)
		if err != nil {
			writeServiceError(w, err)
			return true
		}
		writeJSON(w, http.StatusOK, event)
	case http.MethodDelete:
		if err := s.service.DeleteSubscriptionEvent(r.Context(), caller, id); err != nil {
			writeServiceError(w, err)
			return true
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		return methodNotAllowed(w)
	}
	return true
}
