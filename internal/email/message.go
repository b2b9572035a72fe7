// Package email builds notification messages and delivers them over SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"
)

const maxSubjectBytes = 78

// MessageOptions describes one outgoing notification.
type MessageOptions struct {
	From     string
	To       []string
	ReplyTo  string
	Subject  string
	ThreadID string // synthetic message id tying replies to one story
	TextBody string
	HTMLBody string
	Now      time.Time // zero means time.Now()
}

// StoryThreadID returns the synthetic message id used to thread every
// notification about one story into a single conversation.
func StoryThreadID(storyID int64, hostname string) string {
	if hostname == "" {
		hostname = "localhost"
	}
	return fmt.Sprintf("<storyboard.story.%d@%s>", storyID, hostname)
}

// TruncateSubject caps a subject line at 78 bytes, replacing the tail with
// an ellipsis when it overflows.
func TruncateSubject(subject string) string {
	if len(subject) <= maxSubjectBytes {
		return subject
	}
	return subject[:maxSubjectBytes-3] + "..."
}

// Build renders a complete RFC 5322 message with a multipart/alternative
// body. Notifications are marked Auto-Submitted so they never trigger
// vacation autoresponders.
func Build(opts MessageOptions) ([]byte, error) {
	if len(opts.To) == 0 {
		return nil, fmt.Errorf("build message: no recipients")
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	textPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=UTF-8"},
	})
	if err != nil {
		return nil, fmt.Errorf("create text part: %w", err)
	}
	fmt.Fprintf(textPart, "%s\r\n", opts.TextBody)

	if opts.HTMLBody != "" {
		htmlPart, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type": {"text/html; charset=UTF-8"},
		})
		if err != nil {
			return nil, fmt.Errorf("create html part: %w", err)
		}
		fmt.Fprintf(htmlPart, "%s\r\n", opts.HTMLBody)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "Date: %s\r\n", now.UTC().Format(time.RFC1123))
	fmt.Fprintf(&msg, "Auto-Submitted: auto-generated\r\n")
	fmt.Fprintf(&msg, "From: %s\r\n", opts.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(opts.To, ", "))
	if opts.ReplyTo != "" {
		fmt.Fprintf(&msg, "Reply-To: %s\r\n", opts.ReplyTo)
	}
	if opts.ThreadID != "" {
		fmt.Fprintf(&msg, "In-Reply-To: %s\r\n", opts.ThreadID)
		fmt.Fprintf(&msg, "References: %s\r\n", opts.ThreadID)
	}
	fmt.Fprintf(&msg, "Subject: %s\r\n", TruncateSubject(opts.Subject))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n", mw.Boundary())
	fmt.Fprintf(&msg, "\r\n")
	msg.Write(body.Bytes())

	return msg.Bytes(), nil
}

// NotificationData feeds the event notification templates.
type NotificationData struct {
	StoryTitle string
	Author     string
	Action     string
	Detail     string
	Link       string
}

// RenderNotification renders the text and HTML bodies for one event
// notification.
func RenderNotification(data NotificationData) (text string, html string, err error) {
	text, err = renderTemplate(notificationTextTemplate, data)
	if err != nil {
		return "", "", fmt.Errorf("render text body: %w", err)
	}
	html, err = renderTemplate(notificationHTMLTemplate, data)
	if err != nil {
		return "", "", fmt.Errorf("render html body: %w", err)
	}
	return text, html, nil
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const notificationTextTemplate = `{{.Author}} {{.Action}} on "{{.StoryTitle}}".
{{if .Detail}}
{{.Detail}}
{{end}}
View the story: {{.Link}}

You are receiving this because you are subscribed to this story.
`

const notificationHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .detail { background: #f6f8fa; padding: 12px; border-radius: 4px; margin: 16px 0; white-space: pre-wrap; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <p><strong>{{.Author}}</strong> {{.Action}} on &quot;{{.StoryTitle}}&quot;.</p>
    {{if .Detail}}<div class="detail">{{.Detail}}</div>{{end}}
    <p><a href="{{.Link}}">View the story</a></p>
    <div class="footer">
        <p>You are receiving this because you are subscribed to this story.</p>
    </div>
</body>
</html>`
