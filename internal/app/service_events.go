package app

import (
	"context"
	"database/sql"
	"errors"

	"storyboard/api/internal/store"
)

func (s *Service) ListEvents(ctx context.Context, caller Caller, f store.EventFilter, p store.Paging) ([]store.Event, int, error) {
	f.CallerID = caller.ID
	events, total, err := s.store.ListEvents(ctx, f, p)
	if err != nil {
		return nil, 0, err
	}
	if caller.Superuser {
		return events, total, nil
	}
	filtered := events[:0]
	for _, e := range events {
		gone, err := s.referencesDeletedCard(ctx, caller, e)
		if err != nil {
			return nil, 0, err
		}
		if gone {
			total--
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered, total, nil
}

func (s *Service) GetEvent(ctx context.Context, caller Caller, id int64) (store.Event, error) {
	e, err := s.store.GetEvent(ctx, id, caller.ID)
	if err != nil {
		return store.Event{}, err
	}
	if !caller.Superuser {
		gone, err := s.referencesDeletedCard(ctx, caller, e)
		if err != nil {
			return store.Event{}, err
		}
		if gone {
			return store.Event{}, sql.ErrNoRows
		}
	}
	return e, nil
}

// referencesDeletedCard reports whether a contents-changed event points at a
// story or task that no longer exists. Such events are hidden from
// non-superusers.
func (s *Service) referencesDeletedCard(ctx context.Context, caller Caller, e store.Event) (bool, error) {
	if e.EventType != "worklist_contents_changed" {
		return false, nil
	}
	itemType, _ := e.EventInfo["item_type"].(string)
	itemID := int64Value(numericID(e.EventInfo["item_id"]))
	if itemID == 0 {
		return false, nil
	}
	var err error
	switch itemType {
	case "story":
		_, err = s.store.GetStory(ctx, itemID, caller.ID)
	case "task":
		_, err = s.store.GetTask(ctx, itemID, caller.ID)
	default:
		return false, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	return false, err
}

// numericID copes with JSON round-tripped event_info values.
func numericID(v any) *int64 {
	switch n := v.(type) {
	case float64:
		id := int64(n)
		return &id
	case int64:
		return &n
	case int:
		id := int64(n)
		return &id
	default:
		return nil
	}
}
