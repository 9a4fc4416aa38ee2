package emailverification

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tendant/simple-idm-email/pkg/identity"
	"github.com/tendant/simple-idm-email/pkg/notification"
	"github.com/tendant/simple-idm-email/pkg/store"
)

// VerificationRequirement is the answer of RequireEmailVerification.
type VerificationRequirement struct {
	RequiresVerification bool
	Email                string
	ExpiresAt            *time.Time
}

// AttachUnverifiedEmail records an address for an existing account without proof of
// ownership. Attaching the same address twice returns the existing record.
func (s *Service) AttachUnverifiedEmail(ctx context.Context, accountID uuid.UUID, email string) (record identity.EmailRecord, err error) {
	ctx, done := s.observe(ctx, "AttachUnverifiedEmail", attribute.String("account_id", accountID.String()))
	defer done(&err)

	if err := requireAccountID(accountID); err != nil {
		return identity.EmailRecord{}, err
	}
	email, err = normalizeEmail("email", email)
	if err != nil {
		return identity.EmailRecord{}, err
	}

	now := s.clock()
	err = s.store.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		if _, err := s.getAccount(ctx, repos, accountID); err != nil {
			return err
		}
		if err := repos.EmailRecords().LockAddress(ctx, email); err != nil {
			return fmt.Errorf("lock address: %w", err)
		}
		own, err := s.checkAvailable(ctx, repos, claim{address: email, accountID: accountID}, now)
		if err != nil {
			return err
		}
		if own != nil {
			record = *own
			return nil
		}

		record, err = repos.EmailRecords().CreateEmailRecord(ctx, identity.EmailRecord{
			AccountID: accountID,
			Address:   email,
			Status:    identity.EmailStatusUnverified,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("create email record: %w", err)
		}
		return s.appendChange(ctx, repos, identity.ChangeLogEntry{
			AccountID:  accountID,
			NewEmail:   email,
			ChangeType: identity.ChangeEmailAttached,
			Status:     identity.ChangeStatusCompleted,
			Timestamp:  now,
		})
	})
	if err != nil {
		return identity.EmailRecord{}, s.fail("attach email", err)
	}
	return record, nil
}

// RequireEmailVerification gates critical actions. An account that already has a primary
// address passes; otherwise a link is issued for its newest unverified address.
func (s *Service) RequireEmailVerification(ctx context.Context, accountID uuid.UUID) (req VerificationRequirement, err error) {
	ctx, done := s.observe(ctx, "RequireEmailVerification", attribute.String("account_id", accountID.String()))
	defer done(&err)

	if err := requireAccountID(accountID); err != nil {
		return VerificationRequirement{}, err
	}

	now := s.clock()
	token := s.codes.Token()
	expiresAt := now.Add(s.verificationTTL)
	err = s.store.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		req = VerificationRequirement{}
		if _, err := s.getAccount(ctx, repos, accountID); err != nil {
			return err
		}
		primary, err := findPrimary(ctx, repos, accountID)
		if err != nil {
			return err
		}
		if primary != nil {
			req.Email = primary.Address
			return nil
		}

		records, err := repos.EmailRecords().FindEmailRecordsByAccount(ctx, accountID)
		if err != nil {
			return fmt.Errorf("find email records: %w", err)
		}
		var candidate *identity.EmailRecord
		for i := range records {
			switch records[i].Status {
			case identity.EmailStatusUnverified, identity.EmailStatusPendingVerification:
				if candidate == nil || !records[i].CreatedAt.Before(candidate.CreatedAt) {
					candidate = &records[i]
				}
			}
		}
		if candidate == nil {
			return ErrNoEmailOnRecord
		}

		if err := repos.EmailRecords().LockAddress(ctx, candidate.Address); err != nil {
			return fmt.Errorf("lock address: %w", err)
		}
		if _, err := s.checkAvailable(ctx, repos, claim{address: candidate.Address, accountID: accountID}, now); err != nil {
			return err
		}
		if err := s.issueCode(ctx, repos, candidate, accountID, candidate.Address, token, identity.CodeKindLink, expiresAt, now); err != nil {
			return err
		}
		if err := s.appendChange(ctx, repos, identity.ChangeLogEntry{
			AccountID:         accountID,
			NewEmail:          candidate.Address,
			ChangeType:        identity.ChangeVerificationRequired,
			Status:            identity.ChangeStatusPending,
			VerificationToken: hashToken(token),
			Timestamp:         now,
		}); err != nil {
			return err
		}
		req = VerificationRequirement{RequiresVerification: true, Email: candidate.Address, ExpiresAt: &expiresAt}
		return nil
	})
	if err != nil {
		return VerificationRequirement{}, s.fail("require email verification", err)
	}
	if !req.RequiresVerification {
		return req, nil
	}

	return req, s.deliver(ctx, notification.EmailVerificationNotice, req.Email, map[string]string{
		"Email":     req.Email,
		"Link":      s.link("/verify", url.Values{"token": {token}, "email": {req.Email}}),
		"ExpiresIn": humanDuration(s.verificationTTL),
	})
}

// VerifyAndPromoteToPrimary consumes a link issued for an account without a primary
// address and makes the address primary. A token is accepted once.
func (s *Service) VerifyAndPromoteToPrimary(ctx context.Context, token, email string, meta RequestMeta) (record identity.EmailRecord, err error) {
	ctx, done := s.observe(ctx, "VerifyAndPromoteToPrimary")
	defer done(&err)

	token, err = requireCode(token)
	if err != nil {
		return identity.EmailRecord{}, err
	}
	email, err = normalizeEmail("email", email)
	if err != nil {
		return identity.EmailRecord{}, err
	}

	now := s.clock()
	err = s.store.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		rec, err := findIssuedCode(ctx, repos, uuid.Nil, email, token, identity.CodeKindLink, now)
		if err != nil {
			return err
		}
		primary, err := findPrimary(ctx, repos, rec.AccountID)
		if err != nil {
			return err
		}
		if primary != nil {
			// Replacing a primary address must go through CompleteEmailChange.
			return ErrEmailUnavailable.
				WithMessage("account already has a primary address, confirm the change with the email change link instead").
				WithDetail("reason", ReasonPrimaryExists)
		}
		if _, err := s.promote(ctx, repos, rec, now); err != nil {
			return err
		}
		if err := s.appendChange(ctx, repos, identity.ChangeLogEntry{
			AccountID:         rec.AccountID,
			NewEmail:          rec.Address,
			ChangeType:        identity.ChangeVerificationCompleted,
			Status:            identity.ChangeStatusCompleted,
			VerificationToken: hashToken(token),
			IPAddress:         meta.IPAddress,
			UserAgent:         meta.UserAgent,
			Timestamp:         now,
		}); err != nil {
			return err
		}
		record, err = repos.EmailRecords().GetEmailRecord(ctx, rec.ID)
		return err
	})
	if err != nil {
		return identity.EmailRecord{}, s.fail("verify email", err)
	}
	slog.Info("Email verified", "account_id", record.AccountID, "email", record.Address)
	return record, nil
}

// OTPChallenge describes an issued numeric code.
type OTPChallenge struct {
	Email     string
	ExpiresAt time.Time
}

// RequestOTPVerification mails a 6-digit code to an address the authenticated account
// wants to confirm. If the account already has a primary, its owner is alerted too.
func (s *Service) RequestOTPVerification(ctx context.Context, accountID uuid.UUID, email string, meta RequestMeta) (challenge OTPChallenge, err error) {
	ctx, done := s.observe(ctx, "RequestOTPVerification", attribute.String("account_id", accountID.String()))
	defer done(&err)

	if err := requireAccountID(accountID); err != nil {
		return OTPChallenge{}, err
	}
	email, err = normalizeEmail("email", email)
	if err != nil {
		return OTPChallenge{}, err
	}

	now := s.clock()
	code := s.codes.OTP()
	expiresAt := now.Add(s.otpTTL)
	var oldEmail string
	err = s.store.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		oldEmail = ""
		if _, err := s.getAccount(ctx, repos, accountID); err != nil {
			return err
		}
		if err := repos.EmailRecords().LockAddress(ctx, email); err != nil {
			return fmt.Errorf("lock address: %w", err)
		}
		own, err := s.checkAvailable(ctx, repos, claim{address: email, accountID: accountID}, now)
		if err != nil {
			return err
		}
		primary, err := findPrimary(ctx, repos, accountID)
		if err != nil {
			return err
		}
		if primary != nil {
			oldEmail = primary.Address
		}
		if err := s.issueCode(ctx, repos, own, accountID, email, code, identity.CodeKindOTP, expiresAt, now); err != nil {
			return err
		}
		return s.appendChange(ctx, repos, identity.ChangeLogEntry{
			AccountID:  accountID,
			OldEmail:   oldEmail,
			NewEmail:   email,
			ChangeType: identity.ChangeVerificationRequested,
			Status:     identity.ChangeStatusPending,
			IPAddress:  meta.IPAddress,
			UserAgent:  meta.UserAgent,
			Timestamp:  now,
		})
	})
	if err != nil {
		return OTPChallenge{}, s.fail("request otp verification", err)
	}

	challenge = OTPChallenge{Email: email, ExpiresAt: expiresAt}
	err = s.deliver(ctx, notification.OTPVerificationNotice, email, map[string]string{
		"Email":     email,
		"Code":      code,
		"ExpiresIn": humanDuration(s.otpTTL),
	})
	if oldEmail != "" {
		if alertErr := s.sendChangeAlert(ctx, oldEmail, email, now, meta); err == nil {
			err = alertErr
		}
	}
	return challenge, err
}

// VerifyOTP checks a numeric code and promotes the address to primary, detaching the
// previous primary into its grace period.
func (s *Service) VerifyOTP(ctx context.Context, accountID uuid.UUID, email, code string, meta RequestMeta) (record identity.EmailRecord, err error) {
	ctx, done := s.observe(ctx, "VerifyOTP", attribute.String("account_id", accountID.String()))
	defer done(&err)

	if err := requireAccountID(accountID); err != nil {
		return identity.EmailRecord{}, err
	}
	email, err = normalizeEmail("email", email)
	if err != nil {
		return identity.EmailRecord{}, err
	}
	code, err = requireCode(code)
	if err != nil {
		return identity.EmailRecord{}, err
	}

	now := s.clock()
	var oldEmail string
	err = s.store.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		rec, err := findIssuedCode(ctx, repos, accountID, email, code, identity.CodeKindOTP, now)
		if err != nil {
			return err
		}
		if err := repos.EmailRecords().LockAddress(ctx, email); err != nil {
			return fmt.Errorf("lock address: %w", err)
		}
		oldEmail, err = s.promote(ctx, repos, rec, now)
		if err != nil {
			return err
		}
		changeType := identity.ChangeVerificationCompleted
		if oldEmail != "" {
			changeType = identity.ChangePrimaryChange
		}
		if err := s.appendChange(ctx, repos, identity.ChangeLogEntry{
			AccountID:  accountID,
			OldEmail:   oldEmail,
			NewEmail:   email,
			ChangeType: changeType,
			Status:     identity.ChangeStatusCompleted,
			IPAddress:  meta.IPAddress,
			UserAgent:  meta.UserAgent,
			Timestamp:  now,
		}); err != nil {
			return err
		}
		record, err = repos.EmailRecords().GetEmailRecord(ctx, rec.ID)
		return err
	})
	if err != nil {
		return identity.EmailRecord{}, s.fail("verify otp", err)
	}

	slog.Info("Email verified with otp", "account_id", accountID, "email", email, "detached", oldEmail)
	if oldEmail != "" {
		return record, s.sendChangedNotice(ctx, oldEmail, email)
	}
	return record, nil
}

// EmailHistory returns the account's change log, oldest first.
func (s *Service) EmailHistory(ctx context.Context, accountID uuid.UUID) (entries []identity.ChangeLogEntry, err error) {
	ctx, done := s.observe(ctx, "EmailHistory", attribute.String("account_id", accountID.String()))
	defer done(&err)

	err = s.store.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		if _, err := s.getAccount(ctx, repos, accountID); err != nil {
			return err
		}
		entries, err = repos.ChangeLog().ListChanges(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, s.fail("list email history", err)
	}
	return entries, nil
}

// AccountEmails returns every email record of the account.
func (s *Service) AccountEmails(ctx context.Context, accountID uuid.UUID) (records []identity.EmailRecord, err error) {
	ctx, done := s.observe(ctx, "AccountEmails", attribute.String("account_id", accountID.String()))
	defer done(&err)

	err = s.store.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		if _, err := s.getAccount(ctx, repos, accountID); err != nil {
			return err
		}
		records, err = repos.EmailRecords().FindEmailRecordsByAccount(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, s.fail("list emails", err)
	}
	return records, nil
}
