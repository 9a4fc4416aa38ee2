package notification

import "context"

// NotificationSystem represents a delivery channel.
type NotificationSystem string

// NoticeType names one kind of message.
type NoticeType string

const (
	EmailSystem NotificationSystem = "email"

	SignupVerificationNotice NoticeType = "signup_verification"
	EmailVerificationNotice  NoticeType = "email_verification"
	EmailChangeVerification  NoticeType = "email_change_verification"
	EmailChangeAlert         NoticeType = "email_change_alert"
	EmailChangedNotice       NoticeType = "email_changed"
	OTPVerificationNotice    NoticeType = "otp_verification"
	ExampleNotice            NoticeType = "example"
)

// NotificationData is what a caller knows about one message. Data feeds the templates.
type NotificationData struct {
	To      string            // Recipient address
	Subject string            // Overrides the template subject when set
	Body    string            // Plain body used when the template has no text part
	Data    map[string]string // Template variables
}

// NoticeTemplate is the subject and body templates of one notice type.
type NoticeTemplate struct {
	Subject string
	Text    string
	Html    string
}

// Notifier delivers one rendered notice.
type Notifier interface {
	Send(ctx context.Context, noticeType NoticeType, notification NotificationData, template NoticeTemplate) error
}
