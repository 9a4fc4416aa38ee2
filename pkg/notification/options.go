package notification

import (
	"embed"
	"fmt"
)

//go:embed templates/email/*
var templateFiles embed.FS

func loadTemplate(filename string) (string, error) {
	content, err := templateFiles.ReadFile(filename)
	if err != nil {
		return "", fmt.Errorf("read template %s: %w", filename, err)
	}
	return string(content), nil
}

// NotificationManagerOption is a function that configures a NotificationManager
type NotificationManagerOption func(*NotificationManager) error

// WithSMTP adds an email notifier with the provided SMTP configuration
func WithSMTP(config SMTPConfig) NotificationManagerOption {
	return func(nm *NotificationManager) error {
		emailNotifier, err := NewEmailNotifier(config)
		if err != nil {
			return err
		}
		nm.RegisterNotifier(EmailSystem, emailNotifier)
		return nil
	}
}

// WithNotifier registers an arbitrary notifier, e.g. a MockNotifier in tests.
func WithNotifier(system NotificationSystem, notifier Notifier) NotificationManagerOption {
	return func(nm *NotificationManager) error {
		nm.RegisterNotifier(system, notifier)
		return nil
	}
}

func withEmailTemplate(noticeType NoticeType, subject, name string) NotificationManagerOption {
	return func(nm *NotificationManager) error {
		html, err := loadTemplate("templates/email/" + name + ".html")
		if err != nil {
			return err
		}
		text, err := loadTemplate("templates/email/" + name + ".txt")
		if err != nil {
			return err
		}
		return nm.RegisterNotification(noticeType, EmailSystem, NoticeTemplate{
			Subject: subject,
			Text:    text,
			Html:    html,
		})
	}
}

// WithDefaultTemplates registers the email templates of every notice type.
func WithDefaultTemplates() NotificationManagerOption {
	return func(nm *NotificationManager) error {
		options := []NotificationManagerOption{
			withEmailTemplate(SignupVerificationNotice, "Confirm your email to finish signing up", "signup_verification"),
			withEmailTemplate(EmailVerificationNotice, "Verify Your Email Address", "email_verification"),
			withEmailTemplate(EmailChangeVerification, "Confirm your new email address", "email_change_verification"),
			withEmailTemplate(EmailChangeAlert, "Security notice: email change requested", "email_change_alert"),
			withEmailTemplate(EmailChangedNotice, "Your account email was changed", "email_changed"),
			withEmailTemplate(OTPVerificationNotice, "Your verification code is {{.Code}}", "otp_verification"),
		}

		for _, opt := range options {
			if err := opt(nm); err != nil {
				return err
			}
		}
		return nil
	}
}

// NewNotificationManagerWithOptions creates a new notification manager with the provided options
func NewNotificationManagerWithOptions(baseUrl string, opts ...NotificationManagerOption) (*NotificationManager, error) {
	notificationManager := NewNotificationManager(baseUrl)

	for _, opt := range opts {
		if err := opt(notificationManager); err != nil {
			return nil, err
		}
	}

	return notificationManager, nil
}
