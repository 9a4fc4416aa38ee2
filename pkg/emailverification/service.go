package emailverification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tendant/simple-idm-email/pkg/codegen"
	idmerrors "github.com/tendant/simple-idm-email/pkg/errors"
	"github.com/tendant/simple-idm-email/pkg/fraud"
	"github.com/tendant/simple-idm-email/pkg/identity"
	"github.com/tendant/simple-idm-email/pkg/metrics"
	"github.com/tendant/simple-idm-email/pkg/notification"
	"github.com/tendant/simple-idm-email/pkg/password"
	"github.com/tendant/simple-idm-email/pkg/store"
	"github.com/tendant/simple-idm-email/pkg/twofa"
)

const tracerName = "github.com/tendant/simple-idm-email/pkg/emailverification"

// Mailer delivers templated notices. *notification.NotificationManager implements it.
type Mailer interface {
	Send(ctx context.Context, noticeType notification.NoticeType, data notification.NotificationData) error
}

// RequestMeta describes the caller of an operation for the audit trail.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// Service implements the email lifecycle: signup verification, verification of
// attached addresses, authenticated email change and the cleanup sweeps.
//
// Every compound state change runs in one store transaction. Notices are sent only
// after the transaction has committed.
type Service struct {
	store   store.Store
	mailer  Mailer
	baseURL string

	passwords *password.Manager
	twoFactor twofa.Verifier
	screener  *fraud.Screener
	codes     codegen.Generator
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time

	signupTTL        time.Duration
	otpTTL           time.Duration
	changeTTL        time.Duration
	verificationTTL  time.Duration
	gracePeriod      time.Duration
	pendingRetention time.Duration
	maxResends       int
	failOnMailError  bool
	requirePassword  bool
	fraudBlocking    bool
}

// NewService creates a Service. mailer may be nil, in which case notices are skipped.
func NewService(st store.Store, mailer Mailer, baseURL string, opts ...Option) *Service {
	s := &Service{
		store:            st,
		mailer:           mailer,
		baseURL:          strings.TrimRight(baseURL, "/"),
		passwords:        password.NewManager(nil),
		twoFactor:        twofa.NoOpVerifier{},
		codes:            codegen.Default,
		tracer:           otel.Tracer(tracerName),
		now:              time.Now,
		signupTTL:        DefaultSignupTTL,
		otpTTL:           DefaultOTPTTL,
		changeTTL:        DefaultChangeTTL,
		verificationTTL:  DefaultVerificationTTL,
		gracePeriod:      DefaultGracePeriod,
		pendingRetention: DefaultPendingRetention,
		maxResends:       DefaultMaxResends,
		requirePassword:  true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// observe opens a span for op and returns the function that closes it and counts the result.
func (s *Service) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := s.tracer.Start(ctx, "emailverification."+op, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		result := "success"
		if err := *errp; err != nil {
			result = strings.ToLower(string(idmerrors.GetCode(err)))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.metrics.Operation(op, result)
		span.End()
	}
}

// fail keeps domain errors and turns everything else into an internal error.
func (s *Service) fail(op string, err error) error {
	var domainErr *idmerrors.Error
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, store.ErrConflict) {
		return unavailableInUse()
	}
	slog.Error("Email verification operation failed", "operation", op, "error", err)
	return idmerrors.InternalWrap(err, "failed to "+op)
}

func normalizeEmail(field, email string) (string, error) {
	email = identity.NormalizeEmail(email)
	if email == "" {
		return "", idmerrors.InvalidInput(field, "is required")
	}
	if !govalidator.IsEmail(email) {
		return "", idmerrors.InvalidInput(field, "must be a valid email address")
	}
	return email, nil
}

func requireAccountID(id uuid.UUID) error {
	if id == uuid.Nil {
		return idmerrors.InvalidInput("account_id", "is required")
	}
	return nil
}

func requireCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", idmerrors.InvalidInput("token", "is required")
	}
	return code, nil
}

func unavailableInUse() error {
	return ErrEmailUnavailable.
		WithMessage("email address is already in use").
		WithDetail("reason", ReasonInUse)
}

func unavailableGrace(rec identity.EmailRecord, now time.Time) error {
	days := int(math.Ceil(rec.GraceExpiresAt.Sub(now).Hours() / 24))
	return ErrEmailUnavailable.
		WithMessage(fmt.Sprintf("email address was recently released and is reserved for %d more days (grace period)", days)).
		WithDetails(map[string]interface{}{
			"reason":         ReasonGracePeriod,
			"days_remaining": days,
		})
}

// claim describes who wants an address. accountID is uuid.Nil for a signup.
type claim struct {
	address   string
	accountID uuid.UUID
}

func (c claim) signup() bool {
	return c.accountID == uuid.Nil
}

// checkAvailable must run after LockAddress in the same transaction. It returns the
// claimant's own unverified or pending record for the address, if there is one, so the
// caller can re-issue a code on it instead of inserting a duplicate.
func (s *Service) checkAvailable(ctx context.Context, repos store.Repositories, c claim, now time.Time) (*identity.EmailRecord, error) {
	records, err := repos.EmailRecords().FindEmailRecordsByAddress(ctx, c.address)
	if err != nil {
		return nil, fmt.Errorf("find email records: %w", err)
	}

	var own *identity.EmailRecord
	for i := range records {
		rec := records[i]
		switch {
		case rec.Status == identity.EmailStatusDetached:
			if rec.InGracePeriod(now) {
				return nil, unavailableGrace(rec, now)
			}
		case !c.signup() && rec.AccountID == c.accountID:
			if rec.Status == identity.EmailStatusPrimary {
				return nil, ErrEmailAlreadyVerified.WithMessage("email address is already the primary address of this account")
			}
			own = &records[i]
		case rec.Status == identity.EmailStatusPrimary:
			if c.signup() {
				return nil, ErrEmailAlreadyVerified.WithMessage("an account with this email address already exists")
			}
			return nil, unavailableInUse()
		case rec.Status == identity.EmailStatusPendingVerification:
			if !rec.CodeExpired(now) {
				return nil, unavailableInUse()
			}
			// An expired claim of another account must not hold the address.
			if err := repos.EmailRecords().ReleaseExpiredClaim(ctx, rec.ID, now); err != nil {
				return nil, fmt.Errorf("release expired claim: %w", err)
			}
			slog.Info("Released expired email claim", "email", rec.Address, "account_id", rec.AccountID)
		}
	}

	if !c.signup() {
		pending, err := repos.PendingUsers().FindPendingUserByEmail(ctx, c.address)
		switch {
		case err == nil:
			if !now.After(pending.TokenExpiry) {
				return nil, unavailableInUse()
			}
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("find pending signup: %w", err)
		}
	}
	return own, nil
}

func (s *Service) getAccount(ctx context.Context, repos store.Repositories, id uuid.UUID) (identity.Account, error) {
	account, err := repos.Accounts().GetAccount(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return identity.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return identity.Account{}, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

// findPrimary returns the account's primary record or nil.
func findPrimary(ctx context.Context, repos store.Repositories, accountID uuid.UUID) (*identity.EmailRecord, error) {
	rec, err := repos.EmailRecords().FindPrimaryEmailRecord(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find primary email: %w", err)
	}
	return &rec, nil
}

// issueCode re-issues a code on own when set, otherwise inserts a new pending record.
func (s *Service) issueCode(ctx context.Context, repos store.Repositories, own *identity.EmailRecord, accountID uuid.UUID, address, code string, kind identity.CodeKind, expiresAt, now time.Time) error {
	if own != nil {
		if err := repos.EmailRecords().IssueVerificationCode(ctx, own.ID, code, kind, expiresAt, now); err != nil {
			return fmt.Errorf("issue verification code: %w", err)
		}
		return nil
	}
	_, err := repos.EmailRecords().CreateEmailRecord(ctx, identity.EmailRecord{
		AccountID:        accountID,
		Address:          address,
		Status:           identity.EmailStatusPendingVerification,
		VerificationCode: code,
		CodeKind:         kind,
		CodeExpiresAt:    &expiresAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return fmt.Errorf("create email record: %w", err)
	}
	return nil
}

// findIssuedCode looks up the pending record holding code and rejects it once expired.
// When owner is set, a record of another account is reported as unknown before expiry
// is looked at.
func findIssuedCode(ctx context.Context, repos store.Repositories, owner uuid.UUID, address, code string, kind identity.CodeKind, now time.Time) (identity.EmailRecord, error) {
	rec, err := repos.EmailRecords().FindPendingByCode(ctx, address, code, kind)
	if errors.Is(err, store.ErrNotFound) {
		return identity.EmailRecord{}, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return identity.EmailRecord{}, fmt.Errorf("find pending email record: %w", err)
	}
	if owner != uuid.Nil && rec.AccountID != owner {
		return identity.EmailRecord{}, ErrInvalidOrExpiredToken
	}
	if rec.CodeExpired(now) {
		return identity.EmailRecord{}, ErrTokenExpired
	}
	return rec, nil
}

// promote makes rec the account's primary, detaching the current primary if there is one.
// It returns the address that was detached.
func (s *Service) promote(ctx context.Context, repos store.Repositories, rec identity.EmailRecord, now time.Time) (string, error) {
	current, err := findPrimary(ctx, repos, rec.AccountID)
	if err != nil {
		return "", err
	}
	var oldEmail string
	if current != nil {
		oldEmail = current.Address
		if err := repos.EmailRecords().DetachEmailRecord(ctx, current.ID, now, now.Add(s.gracePeriod)); err != nil {
			return "", fmt.Errorf("detach primary email: %w", err)
		}
	}

	err = repos.EmailRecords().PromoteToPrimary(ctx, rec.ID, now)
	if errors.Is(err, store.ErrNotFound) {
		// Someone else consumed the code first.
		return "", ErrInvalidOrExpiredToken
	}
	if err != nil {
		return "", fmt.Errorf("promote email: %w", err)
	}
	if err := repos.Accounts().SetPrimaryEmail(ctx, rec.AccountID, rec.Address, now); err != nil {
		return "", fmt.Errorf("set primary email: %w", err)
	}
	return oldEmail, nil
}

func (s *Service) appendChange(ctx context.Context, repos store.Repositories, entry identity.ChangeLogEntry) error {
	if _, err := repos.ChangeLog().AppendChange(ctx, entry); err != nil {
		return fmt.Errorf("append change log: %w", err)
	}
	return nil
}

// deliver sends one notice. Failures are logged and counted; they only reach the caller
// when the service was configured to fail on mail errors.
func (s *Service) deliver(ctx context.Context, notice notification.NoticeType, to string, data map[string]string) error {
	if s.mailer == nil {
		slog.Warn("Mailer not configured, skipping notice", "notice", notice, "to", to)
		return nil
	}
	err := s.mailer.Send(ctx, notice, notification.NotificationData{To: to, Data: data})
	if err == nil {
		return nil
	}
	slog.Error("Failed to send notice", "notice", notice, "to", to, "error", err)
	s.metrics.MailFailure(string(notice))
	if s.failOnMailError {
		return idmerrors.Wrap(err, ErrMailDeliveryFailed.Code, ErrMailDeliveryFailed.Message)
	}
	return nil
}

func (s *Service) link(path string, params url.Values) string {
	return s.baseURL + path + "?" + params.Encode()
}

// hashToken is what the change log keeps instead of a live token.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// humanDuration renders d for notices: "15 minutes", "24 hours", "30 days".
func humanDuration(d time.Duration) string {
	plural := func(n int64, unit string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s", unit)
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	switch {
	case d >= 48*time.Hour && d%(24*time.Hour) == 0:
		return plural(int64(d/(24*time.Hour)), "day")
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int64(d/time.Hour), "hour")
	default:
		return plural(int64(math.Ceil(d.Minutes())), "minute")
	}
}

func graceDays(d time.Duration) string {
	return fmt.Sprintf("%d", int(math.Ceil(d.Hours()/24)))
}
