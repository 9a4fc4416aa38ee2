package notification

import (
	"bytes"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

// Message is a notice after template rendering.
type Message struct {
	To      string
	Subject string
	Text    string
	Html    string
}

// Render executes the template parts against notification.Data.
func Render(notification NotificationData, tmpl NoticeTemplate) (Message, error) {
	msg := Message{To: notification.To, Subject: notification.Subject}

	if msg.Subject == "" {
		subject, err := renderText("subject", tmpl.Subject, notification.Data)
		if err != nil {
			return Message{}, err
		}
		msg.Subject = strings.TrimSpace(subject)
	}

	if tmpl.Text != "" {
		text, err := renderText("text", tmpl.Text, notification.Data)
		if err != nil {
			return Message{}, err
		}
		msg.Text = text
	} else {
		msg.Text = notification.Body
	}

	if tmpl.Html != "" {
		t, err := htmltemplate.New("html").Option("missingkey=zero").Parse(tmpl.Html)
		if err != nil {
			return Message{}, err
		}
		var buf bytes.Buffer
		if err := t.Execute(&buf, notification.Data); err != nil {
			return Message{}, err
		}
		msg.Html = buf.String()
	}
	return msg, nil
}

func renderText(name, body string, data map[string]string) (string, error) {
	t, err := texttemplate.New(name).Option("missingkey=zero").Parse(body)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
