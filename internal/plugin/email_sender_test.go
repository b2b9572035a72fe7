package plugin

import (
	"context"
	"strings"
	"testing"
	"time"

	"storyboard/api/internal/config"
	"storyboard/api/internal/outbox"
	"storyboard/api/internal/store"
)

type fakeNotificationStore struct {
	notes []store.Notification
}

func (f *fakeNotificationStore) ListNotificationsSince(_ context.Context, _ time.Time) ([]store.Notification, error) {
	return f.notes, nil
}

func strPtr(s string) *string { return &s }

func testEmailConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		WorkingDir:      t.TempDir(),
		EmailEnable:     true,
		EmailSender:     "StoryBoard <storyboard@example.com>",
		EmailReplyTo:    "tracker@example.com",
		EmailDefaultURL: "https://tracker.example.com",
		SMTPHost:        "127.0.0.1",
		SMTPPort:        1,
		SMTPTimeout:     200 * time.Millisecond,
	}
}

func testNotification(email string) store.Notification {
	return store.Notification{
		SubscriptionEvent: store.SubscriptionEvent{
			ID:        1,
			EventType: "user_comment",
			EventInfo: map[string]any{
				"story_id":        float64(12),
				"story_title":     "Fix login crash",
				"comment_content": "reproduced on staging",
			},
		},
		SubscriberEmail:    email,
		SubscriberFullName: "Bob Brown",
		AuthorFullName:     "Alice Adams",
	}
}

func TestSpoolFresh(t *testing.T) {
	cfg := testEmailConfig(t)
	state, err := NewState(cfg.WorkingDir)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}

	optedOut := testNotification("optout@example.com")
	optedOut.EmailPreference = strPtr("false")
	noEmail := testNotification("")

	sender := NewEmailSender(cfg, &fakeNotificationStore{
		notes: []store.Notification{testNotification("bob@example.com"), optedOut, noEmail},
	}, state)

	if err := sender.spoolFresh(context.Background(), time.Time{}); err != nil {
		t.Fatalf("spoolFresh: %v", err)
	}

	box, err := outbox.Open(cfg.OutboxDir())
	if err != nil {
		t.Fatalf("Open outbox: %v", err)
	}
	keys, err := box.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("spooled %d messages, want 1", len(keys))
	}

	msg, err := box.Message(keys[0])
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	raw := string(msg)
	for _, want := range []string{
		"To: bob@example.com",
		"Subject: [StoryBoard] Fix login crash",
		"In-Reply-To: <storyboard.story.12@localhost>",
		"Alice Adams",
		"reproduced on staging",
		"https://tracker.example.com/#!/story/12",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestDrainFlushesWhenUnreachable(t *testing.T) {
	cfg := testEmailConfig(t)
	state, err := NewState(cfg.WorkingDir)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	sender := NewEmailSender(cfg, &fakeNotificationStore{}, state)

	box, err := outbox.Open(cfg.OutboxDir())
	if err != nil {
		t.Fatalf("Open outbox: %v", err)
	}
	if _, err := box.Add([]byte("To: x@example.com\r\n\r\nbody")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := sender.drain(); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n, _ := box.Len(); n != 0 {
		t.Fatalf("outbox has %d messages after drain, want 0", n)
	}
}

func TestEmailSenderDisabledByConfig(t *testing.T) {
	cfg := testEmailConfig(t)
	cfg.EmailEnable = false
	state, err := NewState(cfg.WorkingDir)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	sender := NewEmailSender(cfg, &fakeNotificationStore{}, state)
	if sender.Enabled() {
		t.Fatal("plugin should be disabled when config disables it")
	}
}

func TestRecipientsFromMessage(t *testing.T) {
	raw := []byte("From: a@example.com\r\nTo: b@example.com, Carol <c@example.com>\r\nSubject: x\r\n\r\nbody")
	got := recipientsFromMessage(raw)
	if len(got) != 2 || got[0] != "b@example.com" || got[1] != "c@example.com" {
		t.Fatalf("recipients = %v", got)
	}
	if got := recipientsFromMessage([]byte("garbage")); got != nil {
		t.Fatalf("recipients from garbage = %v", got)
	}
}
