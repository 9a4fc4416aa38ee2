package emailverification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	idmerrors "github.com/tendant/simple-idm-email/pkg/errors"
	"github.com/tendant/simple-idm-email/pkg/fraud"
	"github.com/tendant/simple-idm-email/pkg/identity"
	"github.com/tendant/simple-idm-email/pkg/notification"
	"github.com/tendant/simple-idm-email/pkg/store"
)

// SignupRequest starts a signup. The account is only created once the email is verified.
type SignupRequest struct {
	Email    string
	Password string
	Kind     identity.AccountKind
	Profile  identity.Profile
	Meta     RequestMeta
}

// SignupResult describes the pending signup after a link was (re-)issued.
type SignupResult struct {
	Email       string
	ExpiresAt   time.Time
	ResendCount int
	// Fraud is set for organization signups that were screened.
	Fraud *fraud.Assessment
}

func (r SignupRequest) validate() (SignupRequest, error) {
	email, err := normalizeEmail("email", r.Email)
	if err != nil {
		return r, err
	}
	r.Email = email
	if r.Password == "" {
		return r, idmerrors.InvalidInput("password", "is required")
	}
	if !r.Kind.Valid() {
		return r, idmerrors.InvalidInput("account_kind", "must be worker or organization")
	}
	if r.Profile.Kind != r.Kind {
		return r, idmerrors.InvalidInput("profile", "does not match account kind")
	}
	if err := r.Profile.Validate(); err != nil {
		return r, idmerrors.InvalidInput("profile", err.Error())
	}
	return r, nil
}

// InitiateSignup records a pending signup and mails a verification link.
//
// A second call for the same address reuses the pending row: it is rejected while the
// previous link is still valid, and after MaxResends re-issues.
func (s *Service) InitiateSignup(ctx context.Context, req SignupRequest) (result SignupResult, err error) {
	ctx, done := s.observe(ctx, "InitiateSignup", attribute.String("account_kind", string(req.Kind)))
	defer done(&err)

	req, err = req.validate()
	if err != nil {
		return SignupResult{}, err
	}

	now := s.clock()
	if req.Kind == identity.AccountKindOrganization {
		// A signup that would be refused anyway is not screened or counted.
		err = s.store.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
			_, err := s.checkSignup(ctx, repos, req.Email, now)
			return err
		})
		if err != nil {
			return SignupResult{}, s.fail("initiate signup", err)
		}
		assessment, err := s.screen(ctx, req, now)
		if err != nil {
			return SignupResult{}, err
		}
		result.Fraud = assessment
	}

	hash, err := s.passwords.Hash(req.Password)
	if err != nil {
		return SignupResult{}, s.fail("hash password", err)
	}

	token := s.codes.Token()
	expiresAt := now.Add(s.signupTTL)
	err = s.store.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		if err := repos.EmailRecords().LockAddress(ctx, req.Email); err != nil {
			return fmt.Errorf("lock address: %w", err)
		}
		pending, err := s.checkSignup(ctx, repos, req.Email, now)
		if err != nil {
			return err
		}
		if pending == nil {
			created, err := repos.PendingUsers().CreatePendingUser(ctx, identity.PendingUser{
				Email:             req.Email,
				HashedPassword:    hash,
				AccountKind:       req.Kind,
				Profile:           req.Profile,
				VerificationToken: token,
				TokenExpiry:       expiresAt,
				CreatedAt:         now,
				UpdatedAt:         now,
			})
			if err != nil {
				return fmt.Errorf("create pending signup: %w", err)
			}
			result.ResendCount = created.ResendCount
			return nil
		}

		pending.HashedPassword = hash
		pending.AccountKind = req.Kind
		pending.Profile = req.Profile
		pending.VerificationToken = token
		pending.TokenExpiry = expiresAt
		pending.ResendCount++
		pending.UpdatedAt = now
		if err := repos.PendingUsers().UpdatePendingUser(ctx, *pending); err != nil {
			return fmt.Errorf("update pending signup: %w", err)
		}
		result.ResendCount = pending.ResendCount
		return nil
	})
	if err != nil {
		return SignupResult{}, s.fail("initiate signup", err)
	}

	result.Email = req.Email
	result.ExpiresAt = expiresAt
	slog.Info("Signup verification issued", "email", req.Email, "resend_count", result.ResendCount, "expires_at", expiresAt)
	return result, s.sendSignupLink(ctx, req.Email, token)
}

// ResendSignupVerification re-issues the link of an existing pending signup whose
// previous link has expired.
func (s *Service) ResendSignupVerification(ctx context.Context, email string) (result SignupResult, err error) {
	ctx, done := s.observe(ctx, "ResendSignupVerification")
	defer done(&err)

	email, err = normalizeEmail("email", email)
	if err != nil {
		return SignupResult{}, err
	}

	now := s.clock()
	token := s.codes.Token()
	expiresAt := now.Add(s.signupTTL)
	err = s.store.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		pending, err := repos.PendingUsers().FindPendingUserByEmail(ctx, email)
		if errors.Is(err, store.ErrNotFound) {
			return ErrPendingSignupNotFound
		}
		if err != nil {
			return fmt.Errorf("find pending signup: %w", err)
		}
		if err := s.checkResend(pending, now); err != nil {
			return err
		}
		pending.VerificationToken = token
		pending.TokenExpiry = expiresAt
		pending.ResendCount++
		pending.UpdatedAt = now
		if err := repos.PendingUsers().UpdatePendingUser(ctx, pending); err != nil {
			return fmt.Errorf("update pending signup: %w", err)
		}
		result.ResendCount = pending.ResendCount
		return nil
	})
	if err != nil {
		return SignupResult{}, s.fail("resend signup verification", err)
	}

	result.Email = email
	result.ExpiresAt = expiresAt
	return result, s.sendSignupLink(ctx, email, token)
}

// checkSignup applies the availability and resend rules for a signup of email. It
// returns the pending signup to reuse, or nil when there is none.
func (s *Service) checkSignup(ctx context.Context, repos store.Repositories, email string, now time.Time) (*identity.PendingUser, error) {
	if _, err := s.checkAvailable(ctx, repos, claim{address: email}, now); err != nil {
		return nil, err
	}
	pending, err := repos.PendingUsers().FindPendingUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find pending signup: %w", err)
	}
	if err := s.checkResend(pending, now); err != nil {
		return nil, err
	}
	return &pending, nil
}

func (s *Service) checkResend(pending identity.PendingUser, now time.Time) error {
	if pending.ResendCount >= s.maxResends {
		return ErrTooManyAttempts.WithDetail("max_resends", s.maxResends)
	}
	if now.Before(pending.TokenExpiry) {
		wait := int(math.Ceil(pending.TokenExpiry.Sub(now).Seconds()))
		return ErrVerificationAlreadyPending.
			WithMessage(fmt.Sprintf("a verification email was already sent, try again in %s", humanDuration(pending.TokenExpiry.Sub(now)))).
			WithDetail("retry_after_seconds", wait)
	}
	return nil
}

func (s *Service) screen(ctx context.Context, req SignupRequest, now time.Time) (*fraud.Assessment, error) {
	if s.screener == nil {
		return nil, nil
	}
	orgName := req.Profile.DisplayName()
	assessment, err := s.screener.Screen(ctx, req.Email, orgName, now)
	if err != nil {
		// The screen is a heuristic; an unavailable identity source never blocks signup.
		slog.Error("Fraud screen failed", "email", req.Email, "error", err)
		return nil, nil
	}
	if !assessment.Suspicious {
		return &assessment, nil
	}
	s.metrics.FraudSuspected()
	if s.fraudBlocking {
		return nil, ErrSuspectedFraud.WithDetail("reasons", strings.Join(assessment.Reasons, "; "))
	}
	return &assessment, nil
}

func (s *Service) sendSignupLink(ctx context.Context, email, token string) error {
	return s.deliver(ctx, notification.SignupVerificationNotice, email, map[string]string{
		"Email":     email,
		"Link":      s.link("/signup/verify", url.Values{"token": {token}}),
		"ExpiresIn": humanDuration(s.signupTTL),
	})
}

// CompleteSignupVerification materializes the account of a pending signup with its
// address as the verified primary, then deletes the pending row.
func (s *Service) CompleteSignupVerification(ctx context.Context, token string, meta RequestMeta) (account identity.Account, err error) {
	ctx, done := s.observe(ctx, "CompleteSignupVerification")
	defer done(&err)

	token, err = requireCode(token)
	if err != nil {
		return identity.Account{}, err
	}

	now := s.clock()
	err = s.store.WithTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		pending, err := repos.PendingUsers().FindPendingUserByToken(ctx, token)
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidOrExpiredToken
		}
		if err != nil {
			return fmt.Errorf("find pending signup: %w", err)
		}
		if now.After(pending.TokenExpiry) {
			return ErrTokenExpired.WithDetail("email", pending.Email)
		}

		if err := repos.EmailRecords().LockAddress(ctx, pending.Email); err != nil {
			return fmt.Errorf("lock address: %w", err)
		}
		// The address may have been claimed since the link was sent.
		if _, err := s.checkAvailable(ctx, repos, claim{address: pending.Email}, now); err != nil {
			return err
		}

		account, err = repos.Accounts().CreateAccount(ctx, identity.Account{
			Kind:         pending.AccountKind,
			PrimaryEmail: pending.Email,
			PasswordHash: pending.HashedPassword,
			DisplayName:  pending.Profile.DisplayName(),
			Profile:      pending.Profile,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return fmt.Errorf("create account: %w", err)
		}

		verifiedAt := now
		if _, err := repos.EmailRecords().CreateEmailRecord(ctx, identity.EmailRecord{
			AccountID:  account.ID,
			Address:    pending.Email,
			Status:     identity.EmailStatusPrimary,
			VerifiedAt: &verifiedAt,
			CreatedAt:  now,
			UpdatedAt:  now,
		}); err != nil {
			return fmt.Errorf("create primary email: %w", err)
		}

		if err := s.appendChange(ctx, repos, identity.ChangeLogEntry{
			AccountID:         account.ID,
			NewEmail:          pending.Email,
			ChangeType:        identity.ChangeSignupCompleted,
			Status:            identity.ChangeStatusCompleted,
			VerificationToken: hashToken(token),
			IPAddress:         meta.IPAddress,
			UserAgent:         meta.UserAgent,
			Timestamp:         now,
		}); err != nil {
			return err
		}

		if err := repos.PendingUsers().DeletePendingUser(ctx, pending.ID); err != nil {
			return fmt.Errorf("delete pending signup: %w", err)
		}
		return nil
	})
	if err != nil {
		return identity.Account{}, s.fail("complete signup verification", err)
	}

	if account.Kind == identity.AccountKindWorker && s.screener != nil {
		s.screener.Invalidate()
	}
	slog.Info("Signup completed", "account_id", account.ID, "kind", account.Kind, "email", account.PrimaryEmail)
	return account, nil
}
