package emailverification

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	idmerrors "github.com/tendant/simple-idm-email/pkg/errors"
	"github.com/tendant/simple-idm-email/pkg/fraud"
	"github.com/tendant/simple-idm-email/pkg/identity"
	"github.com/tendant/simple-idm-email/pkg/metrics"
	"github.com/tendant/simple-idm-email/pkg/notification"
	"github.com/tendant/simple-idm-email/pkg/password"
	"github.com/tendant/simple-idm-email/pkg/store"
)

const testPassword = "correct horse battery staple"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type seqCodes struct {
	mu sync.Mutex
	n  int
}

func (g *seqCodes) next() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return g.n
}

func (g *seqCodes) Token() string { return fmt.Sprintf("token-%d", g.next()) }
func (g *seqCodes) OTP() string   { return fmt.Sprintf("%06d", 100000+g.next()) }

type harness struct {
	t         *testing.T
	svc       *Service
	store     *store.MemoryStore
	mail      *notification.MockNotifier
	clock     *testClock
	passwords *password.Manager
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		t:         t,
		store:     store.NewMemoryStore(),
		mail:      &notification.MockNotifier{},
		clock:     &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		passwords: password.NewManager(password.NewBcryptHasher(bcrypt.MinCost)),
	}
	mailer, err := notification.NewNotificationManagerWithOptions("https://idm.example.com",
		notification.WithNotifier(notification.EmailSystem, h.mail),
		notification.WithDefaultTemplates(),
	)
	require.NoError(t, err)

	base := []Option{
		WithClock(h.clock.Now),
		WithCodeGenerator(&seqCodes{}),
		WithPasswordManager(h.passwords),
	}
	h.svc = NewService(h.store, mailer, "https://app.example.com/", append(base, opts...)...)
	return h
}

func newTestScreener(st store.Store) *fraud.Screener {
	return fraud.NewScreener(fraud.NewDetector(), store.IdentitySource{Store: st}, fraud.WithCacheTTL(0))
}

func workerSignup(email, first, last string) SignupRequest {
	return SignupRequest{
		Email:    email,
		Password: testPassword,
		Kind:     identity.AccountKindWorker,
		Profile:  identity.NewWorkerProfile(identity.WorkerProfile{FirstName: first, LastName: last}),
	}
}

func orgSignup(email, name string) SignupRequest {
	return SignupRequest{
		Email:    email,
		Password: testPassword,
		Kind:     identity.AccountKindOrganization,
		Profile:  identity.NewOrganizationProfile(identity.OrganizationProfile{Name: name}),
	}
}

// tokenSent returns the token of the newest link of the given notice sent to address.
func (h *harness) tokenSent(notice notification.NoticeType, address string) string {
	h.t.Helper()
	sent, ok := h.mail.Last(notice, address)
	require.True(h.t, ok, "no %s notice sent to %s", notice, address)
	u, err := url.Parse(sent.Data.Data["Link"])
	require.NoError(h.t, err)
	token := u.Query().Get("token")
	require.NotEmpty(h.t, token)
	return token
}

func (h *harness) codeSent(address string) string {
	h.t.Helper()
	sent, ok := h.mail.Last(notification.OTPVerificationNotice, address)
	require.True(h.t, ok, "no otp sent to %s", address)
	return sent.Data.Data["Code"]
}

// signup runs the full signup flow and returns the account.
func (h *harness) signup(req SignupRequest) identity.Account {
	h.t.Helper()
	_, err := h.svc.InitiateSignup(context.Background(), req)
	require.NoError(h.t, err)
	account, err := h.svc.CompleteSignupVerification(context.Background(),
		h.tokenSent(notification.SignupVerificationNotice, identity.NormalizeEmail(req.Email)), RequestMeta{})
	require.NoError(h.t, err)
	return account
}

// createAccount inserts an account without any email, as an alternate onboarding path would.
func (h *harness) createAccount(kind identity.AccountKind, totpSecret string) identity.Account {
	h.t.Helper()
	hash, err := h.passwords.Hash(testPassword)
	require.NoError(h.t, err)

	profile := identity.NewWorkerProfile(identity.WorkerProfile{FirstName: "Bob", LastName: "Jones"})
	if kind == identity.AccountKindOrganization {
		profile = identity.NewOrganizationProfile(identity.OrganizationProfile{Name: "Acme Ltd"})
	}
	var account identity.Account
	err = h.store.WithTx(context.Background(), func(ctx context.Context, repos store.Repositories) error {
		account, err = repos.Accounts().CreateAccount(ctx, identity.Account{
			Kind:         kind,
			PasswordHash: hash,
			DisplayName:  profile.DisplayName(),
			Profile:      profile,
			TOTPSecret:   totpSecret,
			CreatedAt:    h.clock.Now(),
			UpdatedAt:    h.clock.Now(),
		})
		return err
	})
	require.NoError(h.t, err)
	return account
}

func (h *harness) account(id uuid.UUID) identity.Account {
	h.t.Helper()
	var account identity.Account
	err := h.store.WithTx(context.Background(), func(ctx context.Context, repos store.Repositories) error {
		var err error
		account, err = repos.Accounts().GetAccount(ctx, id)
		return err
	})
	require.NoError(h.t, err)
	return account
}

func (h *harness) records(address string) []identity.EmailRecord {
	h.t.Helper()
	var records []identity.EmailRecord
	err := h.store.WithTx(context.Background(), func(ctx context.Context, repos store.Repositories) error {
		var err error
		records, err = repos.EmailRecords().FindEmailRecordsByAddress(ctx, address)
		return err
	})
	require.NoError(h.t, err)
	return records
}

func (h *harness) record(address string, accountID uuid.UUID) identity.EmailRecord {
	h.t.Helper()
	for _, rec := range h.records(address) {
		if rec.AccountID == accountID {
			return rec
		}
	}
	h.t.Fatalf("no record for %s on account %s", address, accountID)
	return identity.EmailRecord{}
}

func (h *harness) pendingSignup(email string) (identity.PendingUser, bool) {
	h.t.Helper()
	var pending identity.PendingUser
	err := h.store.WithTx(context.Background(), func(ctx context.Context, repos store.Repositories) error {
		var err error
		pending, err = repos.PendingUsers().FindPendingUserByEmail(ctx, email)
		return err
	})
	if err != nil {
		require.ErrorIs(h.t, err, store.ErrNotFound)
		return identity.PendingUser{}, false
	}
	return pending, true
}

// assertInvariants checks the uniqueness and single-primary rules over the given
// addresses and accounts.
func (h *harness) assertInvariants(addresses []string, accounts ...uuid.UUID) {
	h.t.Helper()
	for _, address := range addresses {
		holders := map[uuid.UUID]bool{}
		for _, rec := range h.records(address) {
			if rec.Status == identity.EmailStatusPrimary || rec.Status == identity.EmailStatusPendingVerification {
				holders[rec.AccountID] = true
			}
		}
		assert.LessOrEqual(h.t, len(holders), 1, "address %s claimed by several accounts", address)
	}
	for _, id := range accounts {
		emails, err := h.svc.AccountEmails(context.Background(), id)
		require.NoError(h.t, err)
		primaries := 0
		for _, rec := range emails {
			if rec.Status == identity.EmailStatusPrimary {
				primaries++
			}
		}
		assert.LessOrEqual(h.t, primaries, 1, "account %s has several primaries", id)
	}
}

func TestInitiateSignup_Validation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name  string
		req   SignupRequest
		field string
	}{
		{"malformed email", workerSignup("not-an-email", "Alice", "Smith"), "email"},
		{"missing email", workerSignup("  ", "Alice", "Smith"), "email"},
		{"missing password", func() SignupRequest {
			r := workerSignup("alice@co.com", "Alice", "Smith")
			r.Password = ""
			return r
		}(), "password"},
		{"unknown kind", func() SignupRequest {
			r := workerSignup("alice@co.com", "Alice", "Smith")
			r.Kind = "robot"
			return r
		}(), "account_kind"},
		{"profile of the other kind", func() SignupRequest {
			r := workerSignup("alice@co.com", "Alice", "Smith")
			r.Kind = identity.AccountKindOrganization
			return r
		}(), "profile"},
		{"incomplete profile", workerSignup("alice@co.com", "Alice", ""), "profile"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.InitiateSignup(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, idmerrors.IsCode(err, idmerrors.ErrCodeInvalidInput))
			assert.Equal(t, tt.field, idmerrors.GetDetails(err)["field"])
		})
	}
	assert.Empty(t, h.mail.Sent())
	_, found := h.pendingSignup("alice@co.com")
	assert.False(t, found)
}

func TestInitiateSignup_ResendRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.InitiateSignup(ctx, workerSignup("Alice@Co.com ", "Alice", "Smith"))
	require.NoError(t, err)
	assert.Equal(t, "alice@co.com", res.Email)
	assert.Equal(t, 0, res.ResendCount)
	assert.Equal(t, h.clock.Now().Add(DefaultSignupTTL), res.ExpiresAt)

	pending, found := h.pendingSignup("alice@co.com")
	require.True(t, found)
	assert.Equal(t, 0, pending.ResendCount)
	firstToken := h.tokenSent(notification.SignupVerificationNotice, "alice@co.com")
	assert.Equal(t, firstToken, pending.VerificationToken)

	sent, _ := h.mail.Last(notification.SignupVerificationNotice, "alice@co.com")
	assert.Contains(t, sent.Message.Text, "https://app.example.com/signup/verify?token="+firstToken)
	assert.Contains(t, sent.Message.Text, "15 minutes")

	h.clock.Advance(5 * time.Minute)
	_, err = h.svc.InitiateSignup(ctx, workerSignup("alice@co.com", "Alice", "Smith"))
	require.ErrorIs(t, err, ErrVerificationAlreadyPending)
	assert.Equal(t, 600, idmerrors.GetDetails(err)["retry_after_seconds"])

	h.clock.Advance(10*time.Minute + time.Second)
	res, err = h.svc.InitiateSignup(ctx, workerSignup("alice@co.com", "Alice", "Smith"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.ResendCount)

	pending, _ = h.pendingSignup("alice@co.com")
	assert.Equal(t, 1, pending.ResendCount)
	secondToken := h.tokenSent(notification.SignupVerificationNotice, "alice@co.com")
	assert.NotEqual(t, firstToken, secondToken)

	_, err = h.svc.CompleteSignupVerification(ctx, firstToken, RequestMeta{})
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	for i := 2; i <= DefaultMaxResends; i++ {
		h.clock.Advance(DefaultSignupTTL + time.Second)
		res, err = h.svc.ResendSignupVerification(ctx, "alice@co.com")
		require.NoError(t, err)
		assert.Equal(t, i, res.ResendCount)
	}

	h.clock.Advance(DefaultSignupTTL + time.Second)
	_, err = h.svc.InitiateSignup(ctx, workerSignup("alice@co.com", "Alice", "Smith"))
	assert.ErrorIs(t, err, ErrTooManyAttempts)
}

func TestResendSignupVerification_Unknown(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.ResendSignupVerification(context.Background(), "nobody@co.com")
	assert.ErrorIs(t, err, ErrPendingSignupNotFound)
}

func TestCompleteSignupVerification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.InitiateSignup(ctx, workerSignup("alice@co.com", "Alice", "Smith"))
	require.NoError(t, err)
	token := h.tokenSent(notification.SignupVerificationNotice, "alice@co.com")

	_, err = h.svc.CompleteSignupVerification(ctx, "no-such-token", RequestMeta{})
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	account, err := h.svc.CompleteSignupVerification(ctx, token, RequestMeta{IPAddress: "192.0.2.10", UserAgent: "test"})
	require.NoError(t, err)
	assert.Equal(t, identity.AccountKindWorker, account.Kind)
	assert.Equal(t, "alice@co.com", account.PrimaryEmail)
	assert.Equal(t, "Alice Smith", account.DisplayName)

	ok, err := h.passwords.Verify(testPassword, h.account(account.ID).PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)

	rec := h.record("alice@co.com", account.ID)
	assert.Equal(t, identity.EmailStatusPrimary, rec.Status)
	require.NotNil(t, rec.VerifiedAt)
	assert.Equal(t, h.clock.Now(), *rec.VerifiedAt)

	_, found := h.pendingSignup("alice@co.com")
	assert.False(t, found)

	_, err = h.svc.CompleteSignupVerification(ctx, token, RequestMeta{})
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	history, err := h.svc.EmailHistory(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, identity.ChangeSignupCompleted, history[0].ChangeType)
	assert.Equal(t, "192.0.2.10", history[0].IPAddress)
	assert.NotEqual(t, token, history[0].VerificationToken)
	assert.Equal(t, hashToken(token), history[0].VerificationToken)

	_, err = h.svc.InitiateSignup(ctx, orgSignup("Alice@co.com", "Other Org"))
	assert.ErrorIs(t, err, ErrEmailAlreadyVerified)
}

func TestCompleteSignupVerification_Expired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.InitiateSignup(ctx, workerSignup("alice@co.com", "Alice", "Smith"))
	require.NoError(t, err)
	token := h.tokenSent(notification.SignupVerificationNotice, "alice@co.com")

	h.clock.Advance(DefaultSignupTTL + time.Second)
	_, err = h.svc.CompleteSignupVerification(ctx, token, RequestMeta{})
	require.ErrorIs(t, err, ErrTokenExpired)
	assert.NotErrorIs(t, err, ErrInvalidOrExpiredToken)

	_, found := h.pendingSignup("alice@co.com")
	assert.True(t, found, "an expired signup stays until it is re-issued or swept")
}

func TestInitiateSignup_FraudScreen(t *testing.T) {
	ctx := context.Background()

	t.Run("advisory", func(t *testing.T) {
		h := newHarness(t)
		h.svc.screener = newTestScreener(h.store)
		h.signup(workerSignup("alice.smith@gmail.com", "Alice", "Smith"))

		res, err := h.svc.InitiateSignup(ctx, orgSignup("hr@alice-consulting.com", "Alice Smith Consulting"))
		require.NoError(t, err)
		require.NotNil(t, res.Fraud)
		assert.True(t, res.Fraud.Suspicious)

		var named bool
		for _, reason := range res.Fraud.Reasons {
			if strings.Contains(reason, `"Alice Smith Consulting"`) && strings.Contains(reason, `"Alice Smith"`) {
				named = true
			}
		}
		assert.True(t, named, "reasons %v should name both names", res.Fraud.Reasons)

		_, found := h.pendingSignup("hr@alice-consulting.com")
		assert.True(t, found)
	})

	t.Run("blocking", func(t *testing.T) {
		h := newHarness(t)
		h.svc.screener = newTestScreener(h.store)
		h.svc.fraudBlocking = true
		h.signup(workerSignup("alice.smith@gmail.com", "Alice", "Smith"))

		_, err := h.svc.InitiateSignup(ctx, orgSignup("hr@alice-consulting.com", "Alice Smith Consulting"))
		require.ErrorIs(t, err, ErrSuspectedFraud)
		_, found := h.pendingSignup("hr@alice-consulting.com")
		assert.False(t, found)
	})

	t.Run("refused signups are not screened", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m, err := metrics.New(reg)
		require.NoError(t, err)
		h := newHarness(t, WithMetrics(m))
		h.svc.screener = newTestScreener(h.store)
		h.signup(workerSignup("alice.smith@gmail.com", "Alice", "Smith"))

		res, err := h.svc.InitiateSignup(ctx, orgSignup("hr@alice-consulting.com", "Alice Smith Consulting"))
		require.NoError(t, err)
		require.NotNil(t, res.Fraud)
		assert.Equal(t, 1.0, counterValue(t, reg, "email_identity_fraud_suspected_total"))

		_, err = h.svc.InitiateSignup(ctx, orgSignup("hr@alice-consulting.com", "Alice Smith Consulting"))
		require.ErrorIs(t, err, ErrVerificationAlreadyPending)
		_, err = h.svc.InitiateSignup(ctx, orgSignup("alice.smith@gmail.com", "Alice Smith Consulting"))
		require.ErrorIs(t, err, ErrEmailAlreadyVerified)
		assert.Equal(t, 1.0, counterValue(t, reg, "email_identity_fraud_suspected_total"))
	})

	t.Run("workers are not screened", func(t *testing.T) {
		h := newHarness(t)
		h.svc.screener = newTestScreener(h.store)
		h.svc.fraudBlocking = true
		h.signup(workerSignup("alice.smith@gmail.com", "Alice", "Smith"))

		res, err := h.svc.InitiateSignup(ctx, workerSignup("alice.smith2@gmail.com", "Alice", "Smith"))
		require.NoError(t, err)
		assert.Nil(t, res.Fraud)
	})
}

func TestMailFailurePolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("reported as success by default", func(t *testing.T) {
		h := newHarness(t)
		h.mail.Err = fmt.Errorf("smtp: connection refused")

		_, err := h.svc.InitiateSignup(ctx, workerSignup("alice@co.com", "Alice", "Smith"))
		require.NoError(t, err)
		_, found := h.pendingSignup("alice@co.com")
		assert.True(t, found)
	})

	t.Run("surfaced when configured", func(t *testing.T) {
		h := newHarness(t, WithFailOnMailError(true))
		h.mail.Err = fmt.Errorf("smtp: connection refused")

		_, err := h.svc.InitiateSignup(ctx, workerSignup("alice@co.com", "Alice", "Smith"))
		require.ErrorIs(t, err, ErrMailDeliveryFailed)

		// The state change was committed before the send.
		_, found := h.pendingSignup("alice@co.com")
		assert.True(t, found)
		_, err = h.svc.InitiateSignup(ctx, workerSignup("alice@co.com", "Alice", "Smith"))
		assert.ErrorIs(t, err, ErrVerificationAlreadyPending)
	})
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "15 minutes", humanDuration(15*time.Minute))
	assert.Equal(t, "1 minute", humanDuration(30*time.Second))
	assert.Equal(t, "24 hours", humanDuration(24*time.Hour))
	assert.Equal(t, "1 hour", humanDuration(time.Hour))
	assert.Equal(t, "30 days", humanDuration(30*24*time.Hour))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}
