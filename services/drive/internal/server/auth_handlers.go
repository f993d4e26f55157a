package server

import (
	"net/http"

	"filevault/pkg/domain"
	"filevault/services/drive/internal/app"
	"filevault/services/drive/internal/security"
)

type registerRequest struct {
	FullName string `json:"fullName" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email,max=320"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email,max=320"`
}

// verifyOTPRequest carries no validate tags: missing fields, bad passcode
// format and undecodable bodies all answer INVALID_OTP.
type verifyOTPRequest struct {
	AccountID string `json:"accountId"`
	Passcode  string `json:"passcode"`
}

type googleVerifyRequest struct {
	IDToken string `json:"id_token" validate:"required"`
}

type accountResponse struct {
	AccountID string `json:"accountId"`
}

type sessionResponse struct {
	SessionID string `json:"sessionId"`
}

type googleLoginResponse struct {
	SessionID string `json:"sessionId"`
	AccountID string `json:"accountId"`
	Email     string `json:"email"`
	FullName  string `json:"fullName"`
}

type meResponse struct {
	ID        string `json:"id"`
	FullName  string `json:"fullName"`
	Email     string `json:"email"`
	Avatar    string `json:"avatar"`
	AccountID string `json:"accountId"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.loginLimiter, security.EventRegister) {
		return
	}
	var req registerRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.audit(r, security.EventRegister, security.OutcomeFail, "reason", "invalid_body")
		writeError(w, r, err)
		return
	}
	user, err := s.app.Register(r.Context(), req.FullName, req.Email)
	if err != nil {
		s.audit(r, security.EventRegister, security.OutcomeFail, "reason", app.AsError(err).Code)
		writeError(w, r, err)
		return
	}
	s.audit(r, security.EventRegister, security.OutcomeSuccess, "user_id", user.ID)
	writeSuccess(w, http.StatusCreated, "Passcode sent", accountResponse{AccountID: user.AccountID})
}

// handleLogin serves both /auth/login and /auth/send-otp.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.loginLimiter, security.EventLogin) {
		return
	}
	var req emailRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.audit(r, security.EventLogin, security.OutcomeFail, "reason", "invalid_body")
		writeError(w, r, err)
		return
	}
	user, err := s.app.Login(r.Context(), req.Email)
	if err != nil {
		s.audit(r, security.EventLogin, security.OutcomeFail, "reason", app.AsError(err).Code)
		writeError(w, r, err)
		return
	}
	s.audit(r, security.EventLogin, security.OutcomeSuccess, "user_id", user.ID)
	writeSuccess(w, http.StatusOK, "Passcode sent", accountResponse{AccountID: user.AccountID})
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.verifyLimiter, security.EventVerifyOTP) {
		return
	}
	var req verifyOTPRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.audit(r, security.EventVerifyOTP, security.OutcomeFail, "reason", "invalid_body")
		writeError(w, r, app.ErrInvalidOTP.Wrap(err))
		return
	}
	res, err := s.app.VerifyPasscode(r.Context(), req.AccountID, req.Passcode)
	if err != nil {
		s.audit(r, security.EventVerifyOTP, security.OutcomeFail, "reason", app.AsError(err).Code)
		writeError(w, r, err)
		return
	}
	s.setSessionCookie(w, res.Token, s.app.SessionTTL())
	s.audit(r, security.EventVerifyOTP, security.OutcomeSuccess, "user_id", res.User.ID)
	writeSuccess(w, http.StatusOK, "Signed in", sessionResponse{SessionID: res.Session.ID})
}

func (s *Server) handleGoogleVerify(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.googleLimiter, security.EventGoogle) {
		return
	}
	var req googleVerifyRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.audit(r, security.EventGoogle, security.OutcomeFail, "reason", "invalid_body")
		writeError(w, r, err)
		return
	}
	res, err := s.app.VerifyGoogle(r.Context(), req.IDToken)
	if err != nil {
		s.audit(r, security.EventGoogle, security.OutcomeFail, "reason", app.AsError(err).Code)
		writeError(w, r, err)
		return
	}
	s.setSessionCookie(w, res.Token, s.app.SessionTTL())
	s.audit(r, security.EventGoogle, security.OutcomeSuccess, "user_id", res.User.ID)
	writeSuccess(w, http.StatusOK, "Signed in", googleLoginResponse{
		SessionID: res.Session.ID,
		AccountID: res.User.AccountID,
		Email:     res.User.Email,
		FullName:  res.User.FullName,
	})
}

// handleLogout revokes the session if there is one and always clears the
// cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.app.RevokeSession(r.Context(), sessionToken(r)); err != nil {
		s.audit(r, security.EventLogout, security.OutcomeFail, "reason", app.AsError(err).Code)
		writeError(w, r, err)
		return
	}
	s.clearSessionCookie(w)
	s.audit(r, security.EventLogout, security.OutcomeSuccess)
	writeSuccess(w, http.StatusOK, "Logged out", nil)
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, user domain.User) {
	writeSuccess(w, http.StatusOK, "OK", meResponse{
		ID:        user.ID,
		FullName:  user.FullName,
		Email:     user.Email,
		Avatar:    user.Avatar,
		AccountID: user.AccountID,
	})
}
