package handler

import (
	"net/http"

	"trade-identity/internal/identity/service"
)

// Account flow responses are identical whether or not the address belongs to an account.
const (
	msgResetRequested     = "if an account exists for that address, a reset link has been sent"
	msgVerificationResent = "if that address needs verification, a new link has been sent"
	msgPasswordReset      = "password updated; sign in again"
	msgEmailVerified      = "email address verified"
)

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// forgotPassword handles POST /auth/forgot-password.
func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var body emailRequest
	if !decode(w, r, &body) {
		return
	}
	if err := h.svc.ForgotPassword(r.Context(), service.EmailRequest{Email: body.Email, Client: clientMeta(r)}); err != nil {
		h.writeServiceError(w, "forgot password", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msgResetRequested})
}

// resendVerification handles POST /auth/resend-verification.
func (h *Handler) resendVerification(w http.ResponseWriter, r *http.Request) {
	var body emailRequest
	if !decode(w, r, &body) {
		return
	}
	if err := h.svc.ResendVerification(r.Context(), service.EmailRequest{Email: body.Email, Client: clientMeta(r)}); err != nil {
		h.writeServiceError(w, "resend verification", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msgVerificationResent})
}

// resetPassword handles POST /auth/reset-password.
func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetPasswordRequest
	if !decode(w, r, &body) {
		return
	}
	req := service.ResetPasswordRequest{Token: body.Token, NewPassword: body.NewPassword, Client: clientMeta(r)}
	if err := h.svc.ResetPassword(r.Context(), req); err != nil {
		h.writeServiceError(w, "reset password", err)
		return
	}
	// Every session of the user was revoked; drop whatever this browser still holds.
	h.clearAllCookies(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: msgPasswordReset})
}

// verifyEmail handles POST /auth/verify-email.
func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var body verifyEmailRequest
	if !decode(w, r, &body) {
		return
	}
	if err := h.svc.VerifyEmail(r.Context(), service.VerifyEmailRequest{Token: body.Token, Client: clientMeta(r)}); err != nil {
		h.writeServiceError(w, "verify email", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msgEmailVerified})
}
