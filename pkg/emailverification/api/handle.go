package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	"github.com/tendant/simple-idm-email/pkg/client"
	"github.com/tendant/simple-idm-email/pkg/emailverification"
	idmerrors "github.com/tendant/simple-idm-email/pkg/errors"
	"github.com/tendant/simple-idm-email/pkg/identity"
	"github.com/tendant/simple-idm-email/pkg/ratelimit"
)

// Handler serves the email verification API
type Handler struct {
	service *emailverification.Service
}

// NewHandler creates a new email verification API handler
func NewHandler(service *emailverification.Service) *Handler {
	return &Handler{service: service}
}

// RouterConfig holds what Routes needs besides the handler. SignupLimit and VerifyLimit
// are only applied when RateLimit is set.
type RouterConfig struct {
	Auth        *jwtauth.JWTAuth
	RateLimit   *ratelimit.Middleware
	SignupLimit *ratelimit.Limit
	VerifyLimit *ratelimit.Limit
}

// Routes returns the router to mount under the email prefix.
func Routes(h *Handler, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	limit := func(name string, l *ratelimit.Limit) func(http.Handler) http.Handler {
		if cfg.RateLimit == nil || l == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return cfg.RateLimit.Endpoint(name, *l)
	}

	r.Group(func(r chi.Router) {
		r.Use(limit("signup", cfg.SignupLimit))
		r.Post("/signup", h.Signup)
		r.Post("/signup/resend", h.ResendSignup)
	})
	r.Group(func(r chi.Router) {
		r.Use(limit("verify", cfg.VerifyLimit))
		r.Post("/signup/verify", h.CompleteSignup)
		r.Post("/verify", h.VerifyEmail)
		r.Post("/change/verify", h.CompleteEmailChange)
	})

	r.Group(func(r chi.Router) {
		r.Use(client.Verifier(cfg.Auth))
		r.Use(client.AuthAccountMiddleware)
		r.Post("/change", h.RequestEmailChange)
		r.Post("/attach", h.AttachEmail)
		r.Post("/require", h.RequireVerification)
		r.Get("/history", h.History)
		r.Get("/emails", h.Emails)
		r.Group(func(r chi.Router) {
			r.Use(limit("verify", cfg.VerifyLimit))
			r.Post("/otp", h.RequestOTP)
			r.Post("/otp/verify", h.VerifyOTP)
		})
	})
	return r
}

// Signup handles POST /signup
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.service.InitiateSignup(r.Context(), emailverification.SignupRequest{
		Email:    req.Email,
		Password: req.Password,
		Kind:     req.AccountKind,
		Profile: identity.Profile{
			Kind:         req.AccountKind,
			Worker:       req.Worker,
			Organization: req.Organization,
		},
		Meta: meta(r),
	})
	if err != nil {
		renderError(w, r, err)
		return
	}
	respond(w, r, http.StatusAccepted, "Verification email sent", signupResponse(result))
}

// ResendSignup handles POST /signup/resend
func (h *Handler) ResendSignup(w http.ResponseWriter, r *http.Request) {
	var req SignupResendRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.service.ResendSignupVerification(r.Context(), req.Email)
	if err != nil {
		renderError(w, r, err)
		return
	}
	respond(w, r, http.StatusAccepted, "Verification email sent", signupResponse(result))
}

// CompleteSignup handles POST /signup/verify
func (h *Handler) CompleteSignup(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !decode(w, r, &req) {
		return
	}

	account, err := h.service.CompleteSignupVerification(r.Context(), req.Token, meta(r))
	if err != nil {
		renderError(w, r, err)
		return
	}
	var response AccountResponse
	copier.Copy(&response, &account)
	respond(w, r, http.StatusCreated, "Account created", response)
}

// VerifyEmail handles POST /verify
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !decode(w, r, &req) {
		return
	}

	record, err := h.service.VerifyAndPromoteToPrimary(r.Context(), req.Token, req.Email, meta(r))
	if err != nil {
		renderError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, "Email verified successfully", emailResponse(record))
}

// CompleteEmailChange handles POST /change/verify
func (h *Handler) CompleteEmailChange(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !decode(w, r, &req) {
		return
	}

	record, err := h.service.CompleteEmailChange(r.Context(), req.Token, req.Email, meta(r))
	if err != nil {
		renderError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, "Email address changed", emailResponse(record))
}

// RequestEmailChange handles POST /change
func (h *Handler) RequestEmailChange(w http.ResponseWriter, r *http.Request) {
	accountID, ok := authenticated(w, r)
	if !ok {
		return
	}
	var req EmailChangeRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.service.RequestEmailChange(r.Context(), emailverification.EmailChangeRequest{
		AccountID:       accountID,
		NewEmail:        req.NewEmail,
		CurrentPassword: req.CurrentPassword,
		TwoFactorCode:   req.TwoFactorCode,
		Meta:            meta(r),
	})
	if err != nil {
		renderError(w, r, err)
		return
	}
	var response EmailChangeResponse
	copier.Copy(&response, &result)
	respond(w, r, http.StatusAccepted, "Confirmation link sent to the new address", response)
}

// AttachEmail handles POST /attach
func (h *Handler) AttachEmail(w http.ResponseWriter, r *http.Request) {
	accountID, ok := authenticated(w, r)
	if !ok {
		return
	}
	var req EmailRequest
	if !decode(w, r, &req) {
		return
	}

	record, err := h.service.AttachUnverifiedEmail(r.Context(), accountID, req.Email)
	if err != nil {
		renderError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, "Email attached", emailResponse(record))
}

// RequireVerification handles POST /require
func (h *Handler) RequireVerification(w http.ResponseWriter, r *http.Request) {
	accountID, ok := authenticated(w, r)
	if !ok {
		return
	}

	requirement, err := h.service.RequireEmailVerification(r.Context(), accountID)
	if err != nil {
		renderError(w, r, err)
		return
	}
	var response RequirementResponse
	copier.Copy(&response, &requirement)
	message := "Email already verified"
	if requirement.RequiresVerification {
		message = "Verification email sent"
	}
	respond(w, r, http.StatusOK, message, response)
}

// RequestOTP handles POST /otp
func (h *Handler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	accountID, ok := authenticated(w, r)
	if !ok {
		return
	}
	var req EmailRequest
	if !decode(w, r, &req) {
		return
	}

	challenge, err := h.service.RequestOTPVerification(r.Context(), accountID, req.Email, meta(r))
	if err != nil {
		renderError(w, r, err)
		return
	}
	var response OTPResponse
	copier.Copy(&response, &challenge)
	respond(w, r, http.StatusAccepted, "Verification code sent", response)
}

// VerifyOTP handles POST /otp/verify
func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	accountID, ok := authenticated(w, r)
	if !ok {
		return
	}
	var req OTPVerifyRequest
	if !decode(w, r, &req) {
		return
	}

	record, err := h.service.VerifyOTP(r.Context(), accountID, req.Email, req.Code, meta(r))
	if err != nil {
		renderError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, "Email verified successfully", emailResponse(record))
}

// History handles GET /history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	accountID, ok := authenticated(w, r)
	if !ok {
		return
	}

	entries, err := h.service.EmailHistory(r.Context(), accountID)
	if err != nil {
		renderError(w, r, err)
		return
	}
	response := []ChangeResponse{}
	copier.Copy(&response, &entries)
	respond(w, r, http.StatusOK, "", response)
}

// Emails handles GET /emails
func (h *Handler) Emails(w http.ResponseWriter, r *http.Request) {
	accountID, ok := authenticated(w, r)
	if !ok {
		return
	}

	records, err := h.service.AccountEmails(r.Context(), accountID)
	if err != nil {
		renderError(w, r, err)
		return
	}
	response := make([]EmailResponse, 0, len(records))
	for _, rec := range records {
		response = append(response, emailResponse(rec))
	}
	respond(w, r, http.StatusOK, "", response)
}

func signupResponse(result emailverification.SignupResult) SignupResponse {
	response := SignupResponse{
		Email:       result.Email,
		ExpiresAt:   result.ExpiresAt,
		ResendCount: result.ResendCount,
	}
	if result.Fraud != nil {
		response.Fraud = &FraudAssessment{Suspicious: result.Fraud.Suspicious, Reasons: result.Fraud.Reasons}
	}
	return response
}

func emailResponse(record identity.EmailRecord) EmailResponse {
	var response EmailResponse
	copier.Copy(&response, &record)
	return response
}

func meta(r *http.Request) emailverification.RequestMeta {
	return emailverification.RequestMeta{
		IPAddress: ratelimit.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		slog.Warn("Failed to decode request body", "path", r.URL.Path, "error", err)
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, Response{
			Success: false,
			Message: "Invalid request body",
			Code:    string(idmerrors.ErrCodeInvalidInput),
		})
		return false
	}
	return true
}

// authenticated returns the caller stored by client.AuthAccountMiddleware.
func authenticated(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	account, ok := client.GetAuthAccount(r)
	if !ok {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, Response{
			Success: false,
			Message: http.StatusText(http.StatusUnauthorized),
			Code:    string(idmerrors.ErrCodeUnauthorized),
		})
		return uuid.Nil, false
	}
	return account.AccountID, true
}

func respond(w http.ResponseWriter, r *http.Request, status int, message string, data interface{}) {
	render.Status(r, status)
	render.JSON(w, r, Response{Success: true, Message: message, Data: data})
}

func renderError(w http.ResponseWriter, r *http.Request, err error) {
	code := idmerrors.GetCode(err)
	status := idmerrors.MapErrorCodeToHTTPStatus(code)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", r.URL.Path, "error", err)
	}
	response := Response{
		Success: false,
		Message: idmerrors.GetMessage(err),
		Code:    string(code),
	}
	if details := idmerrors.GetDetails(err); len(details) > 0 {
		response.Data = details
	}
	render.Status(r, status)
	render.JSON(w, r, response)
}
