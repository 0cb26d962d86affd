package handler

import (
	"net/http"
	"time"

	"trade-identity/internal/identity/service"
	"trade-identity/internal/realm"
	"trade-identity/internal/server/interceptors"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TenantID string `json:"tenantId"`
}

type sessionResponse struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresIn   int       `json:"expiresIn"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Realm       string    `json:"realm"`
	SubjectID   string    `json:"subjectId"`
	TenantID    string    `json:"tenantId,omitempty"`
	Role        string    `json:"role"`
}

// login handles POST /auth/login: tenant realm, tenantId optional.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	h.doLogin(w, r, realm.Tenant, false)
}

// tenantLogin handles POST /auth/tenant/login: tenant realm, tenantId required.
func (h *Handler) tenantLogin(w http.ResponseWriter, r *http.Request) {
	h.doLogin(w, r, realm.Tenant, true)
}

// adminLogin handles POST /auth/admin/login.
func (h *Handler) adminLogin(w http.ResponseWriter, r *http.Request) {
	h.doLogin(w, r, realm.Admin, false)
}

func (h *Handler) doLogin(w http.ResponseWriter, r *http.Request, rlm realm.Realm, requireTenant bool) {
	var body loginRequest
	if !decode(w, r, &body) {
		return
	}
	req := service.LoginRequest{
		Realm:         rlm,
		Email:         body.Email,
		Password:      body.Password,
		RequireTenant: requireTenant,
		Client:        clientMeta(r),
	}
	if rlm == realm.Tenant {
		req.TenantID = body.TenantID
	}
	sess, err := h.svc.Login(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "login", err)
		return
	}
	h.writeSession(w, sess)
}

func (h *Handler) writeSession(w http.ResponseWriter, sess *service.Session) {
	h.setRefreshCookie(w, sess.Realm, sess.RefreshToken)
	writeJSON(w, http.StatusOK, sessionResponse{
		AccessToken: sess.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(sess.AccessExpiresAt).Round(time.Second) / time.Second),
		ExpiresAt:   sess.AccessExpiresAt,
		Realm:       sess.Realm.String(),
		SubjectID:   sess.SubjectID,
		TenantID:    sess.TenantID,
		Role:        sess.Role,
	})
}

// refresh handles POST /auth/refresh. The realm comes only from which cookie is present.
func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	det := realm.Detect(r)
	client := clientMeta(r)
	switch det.Presence {
	case realm.None:
		// Still audited: Refresh records a realm-less request as an invalid token.
		h.svc.Refresh(r.Context(), service.RefreshRequest{Client: client})
		writeError(w, http.StatusUnauthorized, errorBody{Code: codeInvalidSession, Message: msgInvalidSession})
		return
	case realm.Both:
		h.svc.RevokePresented(r.Context(), det.Tokens(), client)
		h.clearAllCookies(w)
		writeError(w, http.StatusUnauthorized, errorBody{Code: codeInvalidSession, Message: msgInvalidSession})
		return
	}

	res := h.svc.Refresh(r.Context(), service.RefreshRequest{Realm: det.Realm, Token: det.Token, Client: client})
	switch {
	case res.Outcome == service.OutcomeRotated:
		h.writeSession(w, res.Session)
		return
	case res.ClearAllCookies:
		h.clearAllCookies(w)
	case res.Outcome != service.OutcomeFailed:
		// A failed store call leaves the token unclaimed, so the cookie is kept for a retry.
		h.clearCookie(w, det.Realm)
	}
	writeError(w, http.StatusUnauthorized, errorBody{Code: codeInvalidSession, Message: msgInvalidSession})
}

// logout handles POST /auth/logout. It always succeeds and always clears both realm cookies.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	det := realm.Detect(r)
	h.svc.Logout(r.Context(), service.LogoutRequest{Tokens: det.Tokens(), Client: clientMeta(r)})
	h.clearAllCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

type principalResponse struct {
	SubjectID string    `json:"subjectId"`
	Realm     string    `json:"realm"`
	TenantID  string    `json:"tenantId,omitempty"`
	Role      string    `json:"role"`
	FamilyID  string    `json:"familyId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// session handles GET /auth/session behind interceptors.RequireBearer.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	claims, ok := interceptors.GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errorBody{Code: codeInvalidSession, Message: msgInvalidSession})
		return
	}
	resp := principalResponse{
		SubjectID: claims.Subject,
		Realm:     claims.Realm,
		TenantID:  claims.TenantID,
		Role:      claims.Role,
		FamilyID:  claims.FamilyID,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time
	}
	writeJSON(w, http.StatusOK, resp)
}
