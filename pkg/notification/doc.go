// Package notification renders and delivers the emails of the verification flows.
//
// A NotificationManager maps each NoticeType to a NoticeTemplate per NotificationSystem
// and hands rendered notices to the Notifier registered for that system.
//
// # Setup
//
//	nm, err := notification.NewNotificationManagerWithOptions(baseUrl,
//		notification.WithSMTP(notification.SMTPConfig{
//			Host: "smtp.example.com",
//			Port: 587,
//			TLS:  true,
//			From: "noreply@example.com",
//		}),
//		notification.WithDefaultTemplates(),
//	)
//
// # Sending
//
//	err := nm.Send(ctx, notification.SignupVerificationNotice, notification.NotificationData{
//		To:   "user@example.com",
//		Data: map[string]string{"Link": link, "ExpiresIn": "15 minutes"},
//	})
//
// Templates use Go template syntax over Data. BaseUrl is always available.
//
// # Testing
//
// MockNotifier renders every notice like the SMTP notifier does and keeps it in memory:
//
//	mock := &notification.MockNotifier{}
//	nm, _ := notification.NewNotificationManagerWithOptions("",
//		notification.WithNotifier(notification.EmailSystem, mock),
//		notification.WithDefaultTemplates(),
//	)
//	sent, ok := mock.Last(notification.SignupVerificationNotice, "user@example.com")
package notification
