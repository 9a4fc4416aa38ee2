package emailverification

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	idmerrors "github.com/tendant/simple-idm-email/pkg/errors"
	"github.com/tendant/simple-idm-email/pkg/identity"
	"github.com/tendant/simple-idm-email/pkg/notification"
)

func TestVerifyAndPromoteToPrimary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bob := h.createAccount(identity.AccountKindWorker, "")

	rec, err := h.svc.AttachUnverifiedEmail(ctx, bob.ID, "Bob@X.com")
	require.NoError(t, err)
	assert.Equal(t, "bob@x.com", rec.Address)
	assert.Equal(t, identity.EmailStatusUnverified, rec.Status)

	again, err := h.svc.AttachUnverifiedEmail(ctx, bob.ID, "bob@x.com")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)

	req, err := h.svc.RequireEmailVerification(ctx, bob.ID)
	require.NoError(t, err)
	assert.True(t, req.RequiresVerification)
	assert.Equal(t, "bob@x.com", req.Email)
	require.NotNil(t, req.ExpiresAt)
	assert.Equal(t, h.clock.Now().Add(DefaultVerificationTTL), *req.ExpiresAt)
	assert.Equal(t, identity.EmailStatusPendingVerification, h.record("bob@x.com", bob.ID).Status)

	token := h.tokenSent(notification.EmailVerificationNotice, "bob@x.com")
	verified, err := h.svc.VerifyAndPromoteToPrimary(ctx, token, "bob@x.com", RequestMeta{IPAddress: "203.0.113.9"})
	require.NoError(t, err)
	assert.Equal(t, identity.EmailStatusPrimary, verified.Status)
	require.NotNil(t, verified.VerifiedAt)
	assert.Equal(t, h.clock.Now(), *verified.VerifiedAt)
	assert.Equal(t, "bob@x.com", h.account(bob.ID).PrimaryEmail)

	// The link works once.
	_, err = h.svc.VerifyAndPromoteToPrimary(ctx, token, "bob@x.com", RequestMeta{})
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	req, err = h.svc.RequireEmailVerification(ctx, bob.ID)
	require.NoError(t, err)
	assert.False(t, req.RequiresVerification)
	assert.Equal(t, "bob@x.com", req.Email)
	assert.Nil(t, req.ExpiresAt)

	_, err = h.svc.AttachUnverifiedEmail(ctx, bob.ID, "bob@x.com")
	assert.ErrorIs(t, err, ErrEmailAlreadyVerified)

	history, err := h.svc.EmailHistory(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, identity.ChangeEmailAttached, history[0].ChangeType)
	assert.Equal(t, identity.ChangeVerificationRequired, history[1].ChangeType)
	assert.Equal(t, identity.ChangeVerificationCompleted, history[2].ChangeType)
	assert.Equal(t, "203.0.113.9", history[2].IPAddress)
	assert.Equal(t, hashToken(token), history[2].VerificationToken)
	assert.NotEqual(t, token, history[2].VerificationToken)
}

func TestVerifyAndPromoteToPrimary_Expired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bob := h.createAccount(identity.AccountKindWorker, "")

	_, err := h.svc.AttachUnverifiedEmail(ctx, bob.ID, "bob@x.com")
	require.NoError(t, err)
	_, err = h.svc.RequireEmailVerification(ctx, bob.ID)
	require.NoError(t, err)
	token := h.tokenSent(notification.EmailVerificationNotice, "bob@x.com")

	h.clock.Advance(DefaultVerificationTTL + time.Second)
	_, err = h.svc.VerifyAndPromoteToPrimary(ctx, token, "bob@x.com", RequestMeta{})
	require.ErrorIs(t, err, ErrTokenExpired)

	rec := h.record("bob@x.com", bob.ID)
	assert.Equal(t, identity.EmailStatusPendingVerification, rec.Status)
	assert.Nil(t, rec.VerifiedAt)
	assert.Empty(t, h.account(bob.ID).PrimaryEmail)

	// A new link replaces the expired one.
	_, err = h.svc.RequireEmailVerification(ctx, bob.ID)
	require.NoError(t, err)
	fresh := h.tokenSent(notification.EmailVerificationNotice, "bob@x.com")
	require.NotEqual(t, token, fresh)
	_, err = h.svc.VerifyAndPromoteToPrimary(ctx, fresh, "bob@x.com", RequestMeta{})
	require.NoError(t, err)
}

func TestVerifyAndPromoteToPrimary_RejectsChangeLinks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.signup(workerSignup("a@x.com", "Ann", "Lee"))

	_, err := h.svc.RequestEmailChange(ctx, EmailChangeRequest{AccountID: a.ID, NewEmail: "b@x.com", CurrentPassword: testPassword})
	require.NoError(t, err)
	token := h.tokenSent(notification.EmailChangeVerification, "b@x.com")

	_, err = h.svc.VerifyAndPromoteToPrimary(ctx, token, "b@x.com", RequestMeta{})
	require.ErrorIs(t, err, ErrEmailUnavailable)
	assert.Equal(t, ReasonPrimaryExists, idmerrors.GetDetails(err)["reason"])
	assert.Equal(t, identity.EmailStatusPrimary, h.record("a@x.com", a.ID).Status)
	assert.Equal(t, identity.EmailStatusPendingVerification, h.record("b@x.com", a.ID).Status)

	_, err = h.svc.CompleteEmailChange(ctx, token, "b@x.com", RequestMeta{})
	require.NoError(t, err)
}

func TestRequireEmailVerification_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.RequireEmailVerification(ctx, uuid.Nil)
	assert.True(t, idmerrors.IsCode(err, idmerrors.ErrCodeInvalidInput))

	_, err = h.svc.RequireEmailVerification(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrAccountNotFound)

	bob := h.createAccount(identity.AccountKindWorker, "")
	_, err = h.svc.RequireEmailVerification(ctx, bob.ID)
	assert.ErrorIs(t, err, ErrNoEmailOnRecord)

	// Another account verified the address in the meantime.
	_, err = h.svc.AttachUnverifiedEmail(ctx, bob.ID, "shared@x.com")
	require.NoError(t, err)
	h.signup(workerSignup("shared@x.com", "Sam", "Hill"))
	_, err = h.svc.RequireEmailVerification(ctx, bob.ID)
	require.ErrorIs(t, err, ErrEmailUnavailable)
	assert.Equal(t, ReasonInUse, idmerrors.GetDetails(err)["reason"])
}

func TestAttachUnverifiedEmail_DoesNotBlockOthers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bob := h.createAccount(identity.AccountKindWorker, "")
	carl := h.createAccount(identity.AccountKindWorker, "")

	_, err := h.svc.AttachUnverifiedEmail(ctx, bob.ID, "shared@x.com")
	require.NoError(t, err)
	_, err = h.svc.AttachUnverifiedEmail(ctx, carl.ID, "shared@x.com")
	require.NoError(t, err)
	assert.Len(t, h.records("shared@x.com"), 2)

	// Once one account starts verifying, the other is locked out.
	_, err = h.svc.RequireEmailVerification(ctx, bob.ID)
	require.NoError(t, err)
	_, err = h.svc.RequireEmailVerification(ctx, carl.ID)
	assert.ErrorIs(t, err, ErrEmailUnavailable)

	h.assertInvariants([]string{"shared@x.com"}, bob.ID, carl.ID)
}

func TestOTPVerification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.signup(workerSignup("a@x.com", "Ann", "Lee"))

	challenge, err := h.svc.RequestOTPVerification(ctx, a.ID, "B@x.com", RequestMeta{IPAddress: "192.0.2.1"})
	require.NoError(t, err)
	assert.Equal(t, "b@x.com", challenge.Email)
	assert.Equal(t, h.clock.Now().Add(DefaultOTPTTL), challenge.ExpiresAt)

	code := h.codeSent("b@x.com")
	require.Len(t, code, 6)
	_, alerted := h.mail.Last(notification.EmailChangeAlert, "a@x.com")
	assert.True(t, alerted)

	_, err = h.svc.VerifyOTP(ctx, a.ID, "b@x.com", "999999", RequestMeta{})
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	other := h.createAccount(identity.AccountKindWorker, "")
	_, err = h.svc.VerifyOTP(ctx, other.ID, "b@x.com", code, RequestMeta{})
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	rec, err := h.svc.VerifyOTP(ctx, a.ID, "b@x.com", code, RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, identity.EmailStatusPrimary, rec.Status)
	assert.Equal(t, identity.EmailStatusDetached, h.record("a@x.com", a.ID).Status)
	assert.Equal(t, "b@x.com", h.account(a.ID).PrimaryEmail)
	_, notified := h.mail.Last(notification.EmailChangedNotice, "a@x.com")
	assert.True(t, notified)

	_, err = h.svc.VerifyOTP(ctx, a.ID, "b@x.com", code, RequestMeta{})
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	history, err := h.svc.EmailHistory(ctx, a.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, identity.ChangePrimaryChange, last.ChangeType)
	assert.Equal(t, "a@x.com", last.OldEmail)

	h.assertInvariants([]string{"a@x.com", "b@x.com"}, a.ID, other.ID)
}

func TestOTPVerification_Expired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bob := h.createAccount(identity.AccountKindWorker, "")

	_, err := h.svc.RequestOTPVerification(ctx, bob.ID, "bob@x.com", RequestMeta{})
	require.NoError(t, err)
	code := h.codeSent("bob@x.com")

	h.clock.Advance(DefaultOTPTTL + time.Second)
	// Another account must not learn that the code existed.
	carl := h.createAccount(identity.AccountKindWorker, "")
	_, err = h.svc.VerifyOTP(ctx, carl.ID, "bob@x.com", code, RequestMeta{})
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken)
	assert.NotErrorIs(t, err, ErrTokenExpired)

	_, err = h.svc.VerifyOTP(ctx, bob.ID, "bob@x.com", code, RequestMeta{})
	require.ErrorIs(t, err, ErrTokenExpired)

	_, err = h.svc.RequestOTPVerification(ctx, bob.ID, "bob@x.com", RequestMeta{})
	require.NoError(t, err)
	rec, err := h.svc.VerifyOTP(ctx, bob.ID, "bob@x.com", h.codeSent("bob@x.com"), RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, identity.EmailStatusPrimary, rec.Status)

	// No previous primary, so nothing is detached and no notice goes out.
	_, notified := h.mail.Last(notification.EmailChangedNotice, "bob@x.com")
	assert.False(t, notified)
	history, err := h.svc.EmailHistory(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.ChangeVerificationCompleted, history[len(history)-1].ChangeType)
}

func TestExpiredClaimReleasesAddress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	squatter := h.createAccount(identity.AccountKindWorker, "")

	_, err := h.svc.RequestOTPVerification(ctx, squatter.ID, "owner@x.com", RequestMeta{})
	require.NoError(t, err)

	// While the code is live the claim holds.
	_, err = h.svc.InitiateSignup(ctx, workerSignup("owner@x.com", "Olga", "Wren"))
	require.ErrorIs(t, err, ErrEmailUnavailable)
	assert.Equal(t, ReasonInUse, idmerrors.GetDetails(err)["reason"])

	h.clock.Advance(90 * 24 * time.Hour)
	owner := h.signup(workerSignup("owner@x.com", "Olga", "Wren"))
	assert.Equal(t, identity.EmailStatusPrimary, h.record("owner@x.com", owner.ID).Status)

	released := h.record("owner@x.com", squatter.ID)
	assert.Equal(t, identity.EmailStatusUnverified, released.Status)
	assert.Empty(t, released.VerificationCode)

	// The old claim cannot be revived against the new owner.
	_, err = h.svc.RequestOTPVerification(ctx, squatter.ID, "owner@x.com", RequestMeta{})
	require.ErrorIs(t, err, ErrEmailUnavailable)

	h.assertInvariants([]string{"owner@x.com"}, owner.ID, squatter.ID)
}

func TestExpiredClaimReleasedForEmailChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.signup(workerSignup("a@x.com", "Ann", "Lee"))
	b := h.signup(workerSignup("b@x.com", "Ben", "Ode"))

	_, err := h.svc.RequestEmailChange(ctx, EmailChangeRequest{AccountID: a.ID, NewEmail: "c@x.com", CurrentPassword: testPassword})
	require.NoError(t, err)
	stale := h.tokenSent(notification.EmailChangeVerification, "c@x.com")

	h.clock.Advance(DefaultChangeTTL + time.Second)
	_, err = h.svc.RequestEmailChange(ctx, EmailChangeRequest{AccountID: b.ID, NewEmail: "c@x.com", CurrentPassword: testPassword})
	require.NoError(t, err)
	assert.Equal(t, identity.EmailStatusUnverified, h.record("c@x.com", a.ID).Status)

	_, err = h.svc.CompleteEmailChange(ctx, stale, "c@x.com", RequestMeta{})
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	_, err = h.svc.CompleteEmailChange(ctx, h.tokenSent(notification.EmailChangeVerification, "c@x.com"), "c@x.com", RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "c@x.com", h.account(b.ID).PrimaryEmail)

	h.assertInvariants([]string{"a@x.com", "b@x.com", "c@x.com"}, a.ID, b.ID)
}
