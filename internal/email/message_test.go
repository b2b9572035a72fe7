package email

import (
	"strings"
	"testing"
	"time"
)

func TestTruncateSubject(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		want    string
	}{
		{
			name:    "short subject untouched",
			subject: "story updated",
			want:    "story updated",
		},
		{
			name:    "exactly 78 bytes untouched",
			subject: strings.Repeat("a", 78),
			want:    strings.Repeat("a", 78),
		},
		{
			name:    "79 bytes truncated with ellipsis",
			subject: strings.Repeat("a", 79),
			want:    strings.Repeat("a", 75) + "...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateSubject(tt.subject)
			if got != tt.want {
				t.Errorf("TruncateSubject() = %q, want %q", got, tt.want)
			}
			if len(got) > 78 {
				t.Errorf("truncated subject is %d bytes", len(got))
			}
		})
	}
}

func TestStoryThreadID(t *testing.T) {
	if got := StoryThreadID(42, "mail.example.com"); got != "<storyboard.story.42@mail.example.com>" {
		t.Errorf("StoryThreadID = %q", got)
	}
	if got := StoryThreadID(7, ""); got != "<storyboard.story.7@localhost>" {
		t.Errorf("StoryThreadID with empty host = %q", got)
	}
}

func TestBuildHeaders(t *testing.T) {
	msg, err := Build(MessageOptions{
		From:     "StoryBoard <noreply@example.com>",
		To:       []string{"alice@example.com", "bob@example.com"},
		ReplyTo:  "tracker@example.com",
		Subject:  "task status changed",
		ThreadID: "<storyboard.story.9@example.com>",
		TextBody: "plain body",
		HTMLBody: "<p>rich body</p>",
		Now:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	raw := string(msg)

	for _, want := range []string{
		"Date: Fri, 01 Mar 2024 12:00:00 UTC\r\n",
		"Auto-Submitted: auto-generated\r\n",
		"From: StoryBoard <noreply@example.com>\r\n",
		"To: alice@example.com, bob@example.com\r\n",
		"Reply-To: tracker@example.com\r\n",
		"In-Reply-To: <storyboard.story.9@example.com>\r\n",
		"References: <storyboard.story.9@example.com>\r\n",
		"Subject: task status changed\r\n",
		"Content-Type: multipart/alternative",
		"plain body",
		"<p>rich body</p>",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestBuildRequiresRecipients(t *testing.T) {
	if _, err := Build(MessageOptions{From: "a@b", Subject: "x"}); err == nil {
		t.Fatal("Build without recipients should fail")
	}
}

func TestRenderNotification(t *testing.T) {
	text, html, err := RenderNotification(NotificationData{
		StoryTitle: "Fix login crash",
		Author:     "Alice Adams",
		Action:     "commented",
		Detail:     "I can reproduce this on the staging box.",
		Link:       "https://tracker.example.com/#!/story/12",
	})
	if err != nil {
		t.Fatalf("RenderNotification: %v", err)
	}

	for _, body := range []string{text, html} {
		if !strings.Contains(body, "Alice Adams") {
			t.Error("body should contain the author")
		}
		if !strings.Contains(body, "Fix login crash") {
			t.Error("body should contain the story title")
		}
		if !strings.Contains(body, "https://tracker.example.com/#!/story/12") {
			t.Error("body should contain the story link")
		}
	}
	if !strings.Contains(html, "<html>") {
		t.Error("html body should be a full document")
	}
}

func TestSMTPConfigDefaults(t *testing.T) {
	var cfg SMTPConfig
	if got := cfg.addr(); got != "localhost:25" {
		t.Errorf("addr = %q, want localhost:25", got)
	}
	if got := cfg.timeout(); got != 10*time.Second {
		t.Errorf("timeout = %v, want 10s", got)
	}
	if cfg.implicitTLS() {
		t.Error("implicit TLS should require both keyfile and certfile")
	}
	cfg.SSLKeyfile = "key.pem"
	if cfg.implicitTLS() {
		t.Error("keyfile alone should not enable implicit TLS")
	}
	cfg.SSLCertfile = "cert.pem"
	if !cfg.implicitTLS() {
		t.Error("keyfile+certfile should enable implicit TLS")
	}
}
