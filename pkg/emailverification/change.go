package emailverification

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-idm-email/pkg/identity"
	"github.com/tendant/simple-idm-email/pkg/notification"
	"github.com/tendant/simple-idm-email/pkg/store"
)

// EmailChangeRequest asks to replace the primary address of an authenticated account.
type EmailChangeRequest struct {
	AccountID       uuid.UUID
	NewEmail        string
	CurrentPassword string
	TwoFactorCode   string
	Meta            RequestMeta
}

// EmailChangeResult describes the issued change link.
type EmailChangeResult struct {
	OldEmail  string
	NewEmail  string
	ExpiresAt time.Time
}

// RequestEmailChange checks the caller's credentials and issues a link to the new address.
// The current primary stays untouched until the link is used.
func (s *Service) RequestEmailChange(ctx context.Context, req EmailChangeRequest) (result EmailChangeResult, err error) {
	ctx, done := s.observe(ctx, "RequestEmailChange", attribute.String("account_id", req.AccountID.String()))
	defer done(&err)

	if err := requireAccountID(req.AccountID); err != nil {
		return EmailChangeResult{}, err
	}
	newEmail, err := normalizeEmail("new_email", req.NewEmail)
	if err != nil {
		return EmailChangeResult{}, err
	}

	twoFactorUsed, err := s.checkCredentials(ctx, req)
	if err != nil {
		return EmailChangeResult{}, err
	}

	now := s.clock()
	token := s.codes.Token()
	expiresAt := now.Add(s.changeTTL)
	err = s.store.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		result = EmailChangeResult{NewEmail: newEmail, ExpiresAt: expiresAt}
		if _, err := s.getAccount(ctx, repos, req.AccountID); err != nil {
			return err
		}
		if err := repos.EmailRecords().LockAddress(ctx, newEmail); err != nil {
			return fmt.Errorf("lock address: %w", err)
		}
		own, err := s.checkAvailable(ctx, repos, claim{address: newEmail, accountID: req.AccountID}, now)
		if err != nil {
			return err
		}
		primary, err := findPrimary(ctx, repos, req.AccountID)
		if err != nil {
			return err
		}
		if primary != nil {
			result.OldEmail = primary.Address
		}

		if err := s.issueCode(ctx, repos, own, req.AccountID, newEmail, token, identity.CodeKindLink, expiresAt, now); err != nil {
			return err
		}
		return s.appendChange(ctx, repos, identity.ChangeLogEntry{
			AccountID:         req.AccountID,
			OldEmail:          result.OldEmail,
			NewEmail:          newEmail,
			ChangeType:        identity.ChangeVerificationRequested,
			Status:            identity.ChangeStatusPending,
			VerificationToken: hashToken(token),
			IPAddress:         req.Meta.IPAddress,
			UserAgent:         req.Meta.UserAgent,
			TwoFactorUsed:     twoFactorUsed,
			Timestamp:         now,
		})
	})
	if err != nil {
		return EmailChangeResult{}, s.fail("request email change", err)
	}

	slog.Info("Email change requested", "account_id", req.AccountID, "old_email", result.OldEmail, "new_email", newEmail)

	var g errgroup.Group
	g.Go(func() error {
		return s.deliver(ctx, notification.EmailChangeVerification, newEmail, map[string]string{
			"Email":     newEmail,
			"OldEmail":  result.OldEmail,
			"Link":      s.link("/change/verify", url.Values{"token": {token}, "email": {newEmail}}),
			"ExpiresIn": humanDuration(s.changeTTL),
		})
	})
	if result.OldEmail != "" {
		g.Go(func() error {
			return s.sendChangeAlert(ctx, result.OldEmail, newEmail, now, req.Meta)
		})
	}
	return result, g.Wait()
}

// checkCredentials verifies the current password and, when enrolled, the second factor.
func (s *Service) checkCredentials(ctx context.Context, req EmailChangeRequest) (bool, error) {
	var account identity.Account
	err := s.store.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		var err error
		account, err = s.getAccount(ctx, repos, req.AccountID)
		return err
	})
	if err != nil {
		return false, s.fail("load account", err)
	}

	if s.requirePassword {
		ok, err := s.passwords.Verify(req.CurrentPassword, account.PasswordHash)
		if err != nil {
			slog.Warn("Failed to verify current password", "account_id", account.ID, "error", err)
		}
		if !ok {
			return false, ErrInvalidCredentials
		}
	}

	used, err := s.twoFactor.Check(ctx, account, req.TwoFactorCode)
	if err != nil {
		return false, err
	}
	return used, nil
}

// CompleteEmailChange consumes a change link: the current primary is detached into its
// grace period and the new address becomes primary, in one transaction.
func (s *Service) CompleteEmailChange(ctx context.Context, token, email string, meta RequestMeta) (record identity.EmailRecord, err error) {
	ctx, done := s.observe(ctx, "CompleteEmailChange")
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
	var oldEmail string
	err = s.store.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		rec, err := findIssuedCode(ctx, repos, uuid.Nil, email, token, identity.CodeKindLink, now)
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
		if err := s.appendChange(ctx, repos, identity.ChangeLogEntry{
			AccountID:         rec.AccountID,
			OldEmail:          oldEmail,
			NewEmail:          email,
			ChangeType:        identity.ChangePrimaryChange,
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
		return identity.EmailRecord{}, s.fail("complete email change", err)
	}

	slog.Info("Primary email changed", "account_id", record.AccountID, "old_email", oldEmail, "new_email", email)
	if oldEmail == "" {
		return record, nil
	}
	return record, s.sendChangedNotice(ctx, oldEmail, email)
}

func (s *Service) sendChangeAlert(ctx context.Context, oldEmail, newEmail string, requestedAt time.Time, meta RequestMeta) error {
	return s.deliver(ctx, notification.EmailChangeAlert, oldEmail, map[string]string{
		"Email":       oldEmail,
		"OldEmail":    oldEmail,
		"NewEmail":    newEmail,
		"RequestedAt": requestedAt.Format(time.RFC1123),
		"IPAddress":   meta.IPAddress,
	})
}

func (s *Service) sendChangedNotice(ctx context.Context, oldEmail, newEmail string) error {
	return s.deliver(ctx, notification.EmailChangedNotice, oldEmail, map[string]string{
		"Email":     oldEmail,
		"OldEmail":  oldEmail,
		"NewEmail":  newEmail,
		"GraceDays": graceDays(s.gracePeriod),
	})
}
