package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vendi-market/vendi/internal/http/authcookie"
	"github.com/vendi-market/vendi/internal/http/render"
	"github.com/vendi-market/vendi/internal/http/webctx"
	"github.com/vendi-market/vendi/internal/observability"
	"github.com/vendi-market/vendi/internal/service"
)

const (
	MsgRegistered        = "Account created successfully! Welcome to Vendi."
	MsgResetLinkSent     = "If an account exists with this email, a password reset link has been sent."
	MsgPasswordReset     = "Password reset successfully! You can now login with your new password."
	MsgLoggedOutAll      = "You have been logged out on all devices."
	MsgLoginError        = "An error occurred during login. Please try again."
	MsgRegistrationError = "An error occurred during registration. Please try again."
	MsgGenericError      = "An error occurred. Please try again."

	MsgTooManyLogins        = "Too many login attempts. Please try again after 15 minutes."
	MsgTooManyRegistrations = "Too many registration attempts. Please try again after an hour."
	MsgTooManyResets        = "Too many password reset attempts. Please try again after an hour."
)

// DashboardPath is where a successful login or registration lands.
const DashboardPath = "/user/dashboard"

const (
	pathLogin          = "/auth/login"
	pathRegister       = "/auth/register"
	pathForgotPassword = "/auth/forgot-password"
	pathResetPassword  = "/auth/reset-password/"
	pathSettings       = "/user/settings"
)

type AuthHandler struct {
	auth     service.AuthServiceInterface
	jar      *authcookie.Jar
	renderer render.Renderer
}

func NewAuthHandler(auth service.AuthServiceInterface, jar *authcookie.Jar, renderer render.Renderer) *AuthHandler {
	return &AuthHandler{auth: auth, jar: jar, renderer: renderer}
}

func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.renderer.Render(w, r, http.StatusOK, render.PageLogin, "Vendi - Login", nil)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	rc := webctx.From(r.Context())
	if err := r.ParseForm(); err != nil {
		rc.AddFlash(webctx.FlashError, MsgLoginError)
		render.Redirect(w, r, pathLogin)
		return
	}
	email := r.PostFormValue("email")
	res, err := h.auth.Login(r.Context(), service.LoginInput{
		Email:            email,
		Password:         r.PostFormValue("password"),
		Remember:         checked(r.PostFormValue("remember")),
		CurrentSessionID: rc.SessionID,
	})
	if err != nil {
		kind := service.KindOf(err)
		if kind == service.KindInternal {
			slog.ErrorContext(r.Context(), "login failed", "error", err)
		}
		observability.Audit(r, "auth.login.failure", "reason", string(kind))
		rc.AddFlash(webctx.FlashError, service.PublicMessage(err, MsgLoginError))
		render.Redirect(w, r, pathLogin)
		return
	}
	if !h.startSession(w, r, res) {
		rc.AddFlash(webctx.FlashError, MsgLoginError)
		render.Redirect(w, r, pathLogin)
		return
	}
	observability.Audit(r, "auth.login.success", "user_id", res.User.ID, "remember", res.Remember != nil)
	rc.AddFlash(webctx.FlashSuccess, "Welcome back, "+res.User.FullName+"!")
	render.Redirect(w, r, DashboardPath)
}

func (h *AuthHandler) RegisterPage(w http.ResponseWriter, r *http.Request) {
	h.renderer.Render(w, r, http.StatusOK, render.PageRegister, "Vendi - Register", nil)
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	rc := webctx.From(r.Context())
	if err := r.ParseForm(); err != nil {
		rc.AddFlash(webctx.FlashError, MsgRegistrationError)
		render.Redirect(w, r, pathRegister)
		return
	}
	res, err := h.auth.Register(r.Context(), service.RegisterInput{
		FullName:         r.PostFormValue("full_name"),
		Email:            r.PostFormValue("email"),
		Phone:            r.PostFormValue("phone"),
		Password:         r.PostFormValue("password"),
		ConfirmPassword:  r.PostFormValue("confirm_password"),
		Remember:         checked(r.PostFormValue("remember")),
		CurrentSessionID: rc.SessionID,
	})
	if err != nil {
		kind := service.KindOf(err)
		switch kind {
		case service.KindInternal:
			slog.ErrorContext(r.Context(), "registration failed", "error", err)
		case service.KindConflict:
			observability.Audit(r, "auth.register.conflict")
		}
		rc.AddFlash(webctx.FlashError, service.PublicMessage(err, MsgRegistrationError))
		render.Redirect(w, r, pathRegister)
		return
	}
	if !h.startSession(w, r, res) {
		rc.AddFlash(webctx.FlashError, MsgRegistrationError)
		render.Redirect(w, r, pathRegister)
		return
	}
	observability.Audit(r, "auth.register.success", "user_id", res.User.ID)
	rc.AddFlash(webctx.FlashSuccess, MsgRegistered)
	render.Redirect(w, r, DashboardPath)
}

// Logout is safe to call without a session and always lands on the home
// page with both credentials cleared.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	rc := webctx.From(r.Context())
	h.auth.Logout(r.Context(), rc.SessionID, rc.RememberValue)
	h.jar.ClearSession(w)
	h.jar.ClearRemember(w)
	if rc.IsAuthenticated() {
		observability.Audit(r, "auth.logout", "user_id", rc.Identity.UserID)
	}
	render.Redirect(w, r, "/")
}

// LogoutLink serves GET /auth/logout. A link can be triggered cross-site, so
// it ends only the session; a saved login is revoked through the POST form
// on the page it renders.
func (h *AuthHandler) LogoutLink(w http.ResponseWriter, r *http.Request) {
	rc := webctx.From(r.Context())
	if rc.IsAuthenticated() {
		observability.Audit(r, "auth.logout.session", "user_id", rc.Identity.UserID)
	}
	h.auth.Logout(r.Context(), rc.SessionID, "")
	h.jar.ClearSession(w)
	rc.SessionID = ""
	rc.Identity = nil
	if rc.RememberValue == "" {
		render.Redirect(w, r, "/")
		return
	}
	h.renderer.Render(w, r, http.StatusOK, render.PageLogout, "Vendi - Logout", nil)
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	rc := webctx.From(r.Context())
	if !rc.IsAuthenticated() {
		render.Redirect(w, r, pathLogin)
		return
	}
	if err := h.auth.LogoutEverywhere(r.Context(), rc.Identity.UserID); err != nil {
		slog.ErrorContext(r.Context(), "logout everywhere failed", "user_id", rc.Identity.UserID, "error", err)
		rc.AddFlash(webctx.FlashError, MsgGenericError)
		render.Redirect(w, r, pathSettings)
		return
	}
	h.jar.ClearSession(w)
	h.jar.ClearRemember(w)
	observability.Audit(r, "auth.logout_all", "user_id", rc.Identity.UserID)
	rc.AddFlash(webctx.FlashSuccess, MsgLoggedOutAll)
	render.Redirect(w, r, pathLogin)
}

func (h *AuthHandler) ForgotPasswordPage(w http.ResponseWriter, r *http.Request) {
	h.renderer.Render(w, r, http.StatusOK, render.PageForgotPassword, "Vendi - Forgot Password", nil)
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	rc := webctx.From(r.Context())
	if err := r.ParseForm(); err != nil {
		rc.AddFlash(webctx.FlashError, MsgGenericError)
		render.Redirect(w, r, pathForgotPassword)
		return
	}
	if err := h.auth.ForgotPassword(r.Context(), r.PostFormValue("email")); err != nil {
		rc.AddFlash(webctx.FlashError, service.PublicMessage(err, MsgGenericError))
		render.Redirect(w, r, pathForgotPassword)
		return
	}
	observability.Audit(r, "auth.password_reset.requested")
	rc.AddFlash(webctx.FlashSuccess, MsgResetLinkSent)
	render.Redirect(w, r, pathForgotPassword)
}

type resetPasswordView struct {
	Token string
	Email string
}

func (h *AuthHandler) ResetPasswordPage(w http.ResponseWriter, r *http.Request) {
	rc := webctx.From(r.Context())
	token := chi.URLParam(r, "token")
	target, err := h.auth.ValidateResetToken(r.Context(), token)
	if err != nil {
		if service.KindOf(err) == service.KindInternal {
			slog.ErrorContext(r.Context(), "reset token lookup failed", "error", err)
		}
		rc.AddFlash(webctx.FlashError, service.PublicMessage(err, MsgGenericError))
		render.Redirect(w, r, pathForgotPassword)
		return
	}
	h.renderer.Render(w, r, http.StatusOK, render.PageResetPassword, "Vendi - Reset Password", resetPasswordView{
		Token: token,
		Email: target.Email,
	})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	rc := webctx.From(r.Context())
	token := chi.URLParam(r, "token")
	back := pathResetPassword + url.PathEscape(token)
	if err := r.ParseForm(); err != nil {
		rc.AddFlash(webctx.FlashError, MsgGenericError)
		render.Redirect(w, r, back)
		return
	}
	err := h.auth.ResetPassword(r.Context(), service.ResetPasswordInput{
		Token:           token,
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	})
	switch service.KindOf(err) {
	case service.KindNone:
		observability.Audit(r, "auth.password_reset.completed")
		rc.AddFlash(webctx.FlashSuccess, MsgPasswordReset)
		render.Redirect(w, r, pathLogin)
	case service.KindAuthentication:
		rc.AddFlash(webctx.FlashError, service.PublicMessage(err, MsgGenericError))
		render.Redirect(w, r, pathForgotPassword)
	case service.KindValidation:
		rc.AddFlash(webctx.FlashError, service.PublicMessage(err, MsgGenericError))
		render.Redirect(w, r, back)
	default:
		slog.ErrorContext(r.Context(), "password reset failed", "error", err)
		rc.AddFlash(webctx.FlashError, MsgGenericError)
		render.Redirect(w, r, back)
	}
}

// startSession writes the cookies for a fresh login and records the new
// session on the request context.
func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, res *service.AuthResult) bool {
	if err := h.jar.SetSession(w, res.Session); err != nil {
		slog.ErrorContext(r.Context(), "session cookie sign failed", "user_id", res.User.ID, "error", err)
		return false
	}
	rc := webctx.From(r.Context())
	rc.SessionID = res.Session.ID
	if res.Remember != nil {
		h.jar.SetRemember(w, *res.Remember)
		rc.RememberValue = res.Remember.CookieValue()
	}
	return true
}

func checked(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "1", "yes":
		return true
	}
	return false
}
