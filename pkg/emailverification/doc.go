// Package emailverification implements the email lifecycle of an identity: signup with
// delayed verification, verification of attached addresses by link or 6-digit code,
// authenticated primary email change with a detach step, and the sweeps that release
// detached addresses and forget abandoned signups.
//
// # Email record states
//
//	unverified -> pending_verification -> primary -> detached
//
// Transitions only move forward. An address may be held by at most one primary or
// pending_verification record across all accounts, and a detached address stays
// reserved for the grace period (30 days by default) before anyone may claim it again.
// Availability is checked inside the same transaction that writes the claim, after
// locking the address.
//
// # Basic Usage
//
//	st, _ := store.NewStore("postgres", store.RepositoryConfig{Pool: pool})
//	mailer, _ := notification.NewNotificationManagerWithOptions(baseURL,
//		notification.WithSMTP(smtpConfig),
//		notification.WithDefaultTemplates(),
//	)
//	service := emailverification.NewService(st, mailer, baseURL,
//		emailverification.WithGracePeriod(30*24*time.Hour),
//		emailverification.WithFraudScreener(screener, false),
//	)
//
//	// Signup: nothing is created until the link is used.
//	_, err := service.InitiateSignup(ctx, emailverification.SignupRequest{...})
//	account, err := service.CompleteSignupVerification(ctx, token, meta)
//
//	// Email change for an authenticated account.
//	_, err = service.RequestEmailChange(ctx, emailverification.EmailChangeRequest{...})
//	record, err := service.CompleteEmailChange(ctx, token, newEmail, meta)
//
//	// Periodic cleanup.
//	go emailverification.NewJanitor(service, time.Hour).Run(ctx)
//
// # Errors
//
// Domain failures are *errors.Error values from pkg/errors (ErrEmailUnavailable,
// ErrTokenExpired, ...). Compare them with errors.Is. ErrEmailUnavailable carries a
// "reason" detail of "in_use" or "grace_period", the latter with "days_remaining".
//
// # Mail delivery
//
// Notices are sent after the state change has committed. By default a delivery failure
// is logged and counted but the operation still succeeds; WithFailOnMailError(true)
// reports ErrMailDeliveryFailed instead.
package emailverification
