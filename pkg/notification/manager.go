package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var ErrNoTemplate = errors.New("no template registered for notice type")

// NotificationManager manages notifiers and notification templates.
type NotificationManager struct {
	BaseUrl              string
	notifiers            map[NotificationSystem]Notifier
	notificationRegistry map[NoticeType]map[NotificationSystem]NoticeTemplate
}

// NewNotificationManager creates and returns a new NotificationManager.
func NewNotificationManager(baseUrl string) *NotificationManager {
	return &NotificationManager{
		BaseUrl:              baseUrl,
		notifiers:            make(map[NotificationSystem]Notifier),
		notificationRegistry: make(map[NoticeType]map[NotificationSystem]NoticeTemplate),
	}
}

// RegisterNotifier registers a notifier for a specific system.
func (nm *NotificationManager) RegisterNotifier(system NotificationSystem, notifier Notifier) {
	nm.notifiers[system] = notifier
}

// RegisterNotification adds or replaces the template of a notice type on one system.
func (nm *NotificationManager) RegisterNotification(noticeType NoticeType, system NotificationSystem, template NoticeTemplate) error {
	if noticeType == "" || system == "" {
		return fmt.Errorf("invalid input: notice type and system cannot be empty")
	}
	if template.Subject == "" {
		return fmt.Errorf("invalid template: subject cannot be empty")
	}
	if template.Text == "" && template.Html == "" {
		return fmt.Errorf("invalid template: text or html body required")
	}

	if _, exists := nm.notificationRegistry[noticeType]; !exists {
		nm.notificationRegistry[noticeType] = make(map[NotificationSystem]NoticeTemplate)
	}
	nm.notificationRegistry[noticeType][system] = template
	return nil
}

// Send delivers the notice on every system that has both a template and a notifier.
// BaseUrl is exposed to templates unless the caller set it.
func (nm *NotificationManager) Send(ctx context.Context, noticeType NoticeType, notification NotificationData) error {
	systemTemplates, exists := nm.notificationRegistry[noticeType]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNoTemplate, noticeType)
	}

	data := make(map[string]string, len(notification.Data)+1)
	data["BaseUrl"] = nm.BaseUrl
	for k, v := range notification.Data {
		data[k] = v
	}
	notification.Data = data

	var (
		errs []error
		sent int
	)
	for system, template := range systemTemplates {
		notifier, exists := nm.notifiers[system]
		if !exists {
			slog.Warn("No notifier registered", "system", system, "notice", noticeType)
			continue
		}
		if err := notifier.Send(ctx, noticeType, notification, template); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", system, err))
			continue
		}
		sent++
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if sent == 0 {
		return fmt.Errorf("no notifier registered for notice type: %s", noticeType)
	}
	return nil
}
