package plugin

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"time"

	"storyboard/api/internal/config"
	"storyboard/api/internal/email"
	"storyboard/api/internal/outbox"
	"storyboard/api/internal/store"
)

const emailPluginName = "email-sender"

type notificationStore interface {
	ListNotificationsSince(ctx context.Context, since time.Time) ([]store.Notification, error)
}

// EmailSender spools notification emails for fresh subscription deliveries
// and drains the outbox over SMTP. One bad message is logged and dropped
// rather than retried, so a misconfigured recipient cannot wedge the queue.
type EmailSender struct {
	cfg    *config.Config
	store  notificationStore
	state  *State
	sender *email.Sender
	now    func() time.Time
}

func NewEmailSender(cfg *config.Config, st notificationStore, state *State) *EmailSender {
	return &EmailSender{
		cfg:   cfg,
		store: st,
		state: state,
		sender: email.NewSender(email.SMTPConfig{
			Host:          cfg.SMTPHost,
			Port:          cfg.SMTPPort,
			Timeout:       cfg.SMTPTimeout,
			LocalHostname: cfg.SMTPLocalHostname,
			Username:      cfg.SMTPUser,
			Password:      cfg.SMTPPassword,
			SSLKeyfile:    cfg.SMTPSSLKeyfile,
			SSLCertfile:   cfg.SMTPSSLCertfile,
		}),
		now: time.Now,
	}
}

func (e *EmailSender) Name() string { return emailPluginName }

func (e *EmailSender) Trigger() Trigger { return Trigger{Interval: time.Minute} }

func (e *EmailSender) DefaultPreferences() map[string]string {
	return map[string]string{"plugin_email": "true"}
}

// Enabled combines configuration with environment checks: the working
// directory must be writable and the SMTP server reachable.
func (e *EmailSender) Enabled() bool {
	if !e.cfg.EmailEnable {
		return false
	}
	probe := filepath.Join(e.cfg.WorkingDir, ".email-probe")
	if err := os.WriteFile(probe, nil, 0o600); err != nil {
		return false
	}
	os.Remove(probe)
	return e.sender.Reachable()
}

func (e *EmailSender) Run(ctx context.Context) error {
	since, err := e.state.LastRun(e.Name())
	if err != nil {
		return err
	}
	if err := e.spoolFresh(ctx, since); err != nil {
		return err
	}
	return e.drain()
}

// spoolFresh writes one message per fresh delivery into the outbox so the
// mail survives a crash between generation and send.
func (e *EmailSender) spoolFresh(ctx context.Context, since time.Time) error {
	box, err := outbox.Open(e.cfg.OutboxDir())
	if err != nil {
		return fmt.Errorf("open outbox: %w", err)
	}

	notes, err := e.store.ListNotificationsSince(ctx, since)
	if err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}
	for _, note := range notes {
		if note.EmailPreference != nil && *note.EmailPreference == "false" {
			continue
		}
		if note.SubscriberEmail == "" {
			continue
		}
		msg, err := e.buildMessage(note)
		if err != nil {
			log.Printf("email: build message for delivery %d: %v", note.ID, err)
			continue
		}
		if _, err := box.Add(msg); err != nil {
			return fmt.Errorf("spool delivery %d: %w", note.ID, err)
		}
	}
	return nil
}

func (e *EmailSender) buildMessage(note store.Notification) ([]byte, error) {
	storyID, _ := note.EventInfo["story_id"].(float64)
	title, _ := note.EventInfo["story_title"].(string)
	if title == "" {
		title = "a story you follow"
	}
	author := note.AuthorFullName
	if author == "" {
		author = "Someone"
	}

	action, detail := describeEvent(note.EventType, note.EventInfo)
	link := fmt.Sprintf("%s/#!/story/%d", e.cfg.EmailDefaultURL, int64(storyID))
	text, html, err := email.RenderNotification(email.NotificationData{
		StoryTitle: title,
		Author:     author,
		Action:     action,
		Detail:     detail,
		Link:       link,
	})
	if err != nil {
		return nil, err
	}

	return email.Build(email.MessageOptions{
		From:     e.cfg.EmailSender,
		To:       []string{note.SubscriberEmail},
		ReplyTo:  e.cfg.EmailReplyTo,
		Subject:  fmt.Sprintf("[StoryBoard] %s", title),
		ThreadID: email.StoryThreadID(int64(storyID), e.cfg.SMTPLocalHostname),
		TextBody: text,
		HTMLBody: html,
		Now:      e.now(),
	})
}

func describeEvent(eventType string, info map[string]any) (action, detail string) {
	switch eventType {
	case "user_comment":
		content, _ := info["comment_content"].(string)
		return "commented", content
	case "story_created":
		return "created the story", ""
	case "story_details_changed":
		return "updated the story", ""
	case "task_created":
		title, _ := info["task_title"].(string)
		return "added a task", title
	case "task_status_changed":
		old, _ := info["old_status"].(string)
		now, _ := info["new_status"].(string)
		return "changed a task status", fmt.Sprintf("%s -> %s", old, now)
	case "task_assignee_changed":
		old, _ := info["old_assignee_fullname"].(string)
		now, _ := info["new_assignee_fullname"].(string)
		return "reassigned a task", fmt.Sprintf("%s -> %s", old, now)
	case "tags_added":
		return "added tags", ""
	case "tags_deleted":
		return "removed tags", ""
	default:
		return "made a change (" + eventType + ")", ""
	}
}

// drain sends every spooled message. Per-message failures discard the
// message; if the outbox or SMTP client itself cannot be opened, everything
// left is flushed so stale mail never accumulates.
func (e *EmailSender) drain() error {
	box, err := outbox.Open(e.cfg.OutboxDir())
	if err != nil {
		return fmt.Errorf("open outbox: %w", err)
	}

	keys, err := box.Keys()
	if err != nil {
		return fmt.Errorf("list outbox: %w", err)
	}

	if !e.sender.Reachable() {
		log.Printf("email: smtp server unreachable, flushing %d messages", len(keys))
		return flushAll(box, keys)
	}

	from := e.cfg.EmailSender
	for _, key := range keys {
		msg, err := box.Message(key)
		if err != nil {
			log.Printf("email: read %s: %v", key, err)
			box.Discard(key)
			continue
		}
		to := recipientsFromMessage(msg)
		if len(to) == 0 {
			log.Printf("email: %s has no recipients, discarding", key)
			box.Discard(key)
			continue
		}
		if err := e.sender.Send(from, to, msg); err != nil {
			log.Printf("email: send %s: %v (discarding)", key, err)
		}
		if err := box.Discard(key); err != nil {
			return err
		}
	}

	remaining, err := box.Keys()
	if err != nil {
		return fmt.Errorf("list outbox after send: %w", err)
	}
	return flushAll(box, remaining)
}

func recipientsFromMessage(raw []byte) []string {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil
	}
	addrs, err := msg.Header.AddressList("To")
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out
}

func flushAll(box *outbox.Maildir, keys []string) error {
	for _, key := range keys {
		if err := box.Discard(key); err != nil {
			return err
		}
	}
	return nil
}
