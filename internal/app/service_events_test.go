package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"storyboard/api/internal/store"
)

type eventFakeStore struct {
	*fakeStore

	events map[int64]store.Event
}

func (f *eventFakeStore) ListEvents(ctx context.Context, filter store.EventFilter, p store.Paging) ([]store.Event, int, error) {
	out := make([]store.Event, 0, len(f.events))
	for id := int64(1); id <= int64(len(f.events)); id++ {
		out = append(out, f.events[id])
	}
	return out, len(out), nil
}

func (f *eventFakeStore) GetEvent(ctx context.Context, id int64, callerID int64) (store.Event, error) {
	e, ok := f.events[id]
	if !ok {
		return store.Event{}, sql.ErrNoRows
	}
	return e, nil
}

func newEventFakeStore() *eventFakeStore {
	return &eventFakeStore{
		fakeStore: newFakeStore(),
		events: map[int64]store.Event{
			1: {ID: 1, EventType: "story_created", EventInfo: map[string]any{"story_id": float64(10)}},
			// References story 10, which exists.
			2: {ID: 2, EventType: "worklist_contents_changed", EventInfo: map[string]any{
				"item_type": "story", "item_id": float64(10),
			}},
			// References story 77, which was deleted.
			3: {ID: 3, EventType: "worklist_contents_changed", EventInfo: map[string]any{
				"item_type": "story", "item_id": float64(77),
			}},
		},
	}
}

func TestListEventsHidesDeletedCards(t *testing.T) {
	f := newEventFakeStore()
	svc := newTestService(f)

	events, total, err := svc.ListEvents(context.Background(), Caller{ID: 1}, store.EventFilter{}, store.Paging{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 || total != 2 {
		t.Fatalf("got %d events (total %d), want 2", len(events), total)
	}
	for _, e := range events {
		if e.ID == 3 {
			t.Fatal("event referencing a deleted story leaked through")
		}
	}
}

func TestListEventsSuperuserSeesAll(t *testing.T) {
	f := newEventFakeStore()
	svc := newTestService(f)

	events, total, err := svc.ListEvents(context.Background(), Caller{ID: 9, Superuser: true}, store.EventFilter{}, store.Paging{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 3 || total != 3 {
		t.Fatalf("got %d events (total %d), want 3", len(events), total)
	}
}

func TestGetEventDeletedCardIs404(t *testing.T) {
	f := newEventFakeStore()
	svc := newTestService(f)

	_, err := svc.GetEvent(context.Background(), Caller{ID: 1}, 3)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}

	if _, err := svc.GetEvent(context.Background(), Caller{ID: 1}, 2); err != nil {
		t.Fatalf("live card event: %v", err)
	}
}
