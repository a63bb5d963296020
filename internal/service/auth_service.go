package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vendi-market/vendi/internal/domain"
	"github.com/vendi-market/vendi/internal/observability"
	"github.com/vendi-market/vendi/internal/repository"
	"github.com/vendi-market/vendi/internal/security"

	"github.com/go-playground/validator/v10"
)

const (
	MsgLoginRequired      = "Please provide email and password"
	MsgInvalidEmail       = "Please provide a valid email address"
	MsgInvalidCredentials = "Invalid email or password"
	MsgRegisterRequired   = "Please fill in all required fields"
	MsgResetRequired      = "Please fill in all fields"
	MsgPasswordTooShort   = "Password must be at least 6 characters long"
	MsgPasswordTooLong    = "Password must be at most 72 bytes long"
	MsgPasswordMismatch   = "Passwords do not match"
	MsgEmailTaken         = "An account with this email already exists"
	MsgInvalidResetLink   = "Invalid or expired password reset link"
)

const minPasswordLength = 6

type LoginInput struct {
	Email            string
	Password         string
	Remember         bool
	CurrentSessionID string
}

type RegisterInput struct {
	FullName         string
	Email            string
	Phone            string
	Password         string
	ConfirmPassword  string
	Remember         bool
	CurrentSessionID string
}

type ResetPasswordInput struct {
	Token           string
	Password        string
	ConfirmPassword string
}

// AuthResult is the outcome of a successful login or registration. Remember
// is set only when a persistent login was requested and issued.
type AuthResult struct {
	User     *domain.User
	Session  *domain.Session
	Remember *RememberCredential
}

type AuthService struct {
	users    repository.UserRepository
	hasher   PasswordHasher
	sessions *SessionService
	remember *RememberTokenService
	resets   *PasswordResetService
	notifier ResetNotifier
	validate *validator.Validate
	baseURL  string
	now      func() time.Time
	logger   *slog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	hasher PasswordHasher,
	sessions *SessionService,
	remember *RememberTokenService,
	resets *PasswordResetService,
	notifier ResetNotifier,
	baseURL string,
	now func() time.Time,
	logger *slog.Logger,
) *AuthService {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		users:    users,
		hasher:   hasher,
		sessions: sessions,
		remember: remember,
		resets:   resets,
		notifier: notifier,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		baseURL:  strings.TrimRight(baseURL, "/"),
		now:      now,
		logger:   logger,
	}
}

// VerifyCredentials checks email and password against the active account.
// Unknown accounts still pay for one bcrypt comparison.
func (s *AuthService) VerifyCredentials(ctx context.Context, email, password string) (*domain.User, error) {
	const op = "verify_credentials"
	user, err := s.users.FindActiveByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		s.hasher.VerifyDummy(ctx, password)
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, deniedError(op, MsgInvalidCredentials, nil)
		}
		return nil, internalError(op, err)
	}
	ok, err := s.hasher.Verify(ctx, password, user.PasswordHash)
	if err != nil {
		s.logger.WarnContext(ctx, "stored password hash unreadable", "user_id", user.ID, "error", err)
	}
	if !ok {
		return nil, deniedError(op, MsgInvalidCredentials, nil)
	}
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	const op = "login"
	ctx, span := observability.StartSpan(ctx, "auth.login")
	defer span.End()

	if strings.TrimSpace(in.Email) == "" || in.Password == "" {
		observability.RecordAuthLogin(ctx, "invalid")
		return nil, validationError(op, MsgLoginRequired)
	}
	if !s.isEmail(in.Email) {
		observability.RecordAuthLogin(ctx, "invalid")
		return nil, validationError(op, MsgInvalidEmail)
	}
	user, err := s.VerifyCredentials(ctx, in.Email, in.Password)
	if err != nil {
		if KindOf(err) == KindAuthentication {
			observability.RecordAuthLogin(ctx, "denied")
		} else {
			observability.RecordAuthLogin(ctx, "error")
		}
		return nil, err
	}
	result, err := s.establish(ctx, op, user, in.Remember, in.CurrentSessionID)
	if err != nil {
		observability.RecordAuthLogin(ctx, "error")
		return nil, err
	}
	observability.RecordAuthLogin(ctx, "success")
	return result, nil
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	const op = "register"
	ctx, span := observability.StartSpan(ctx, "auth.register")
	defer span.End()

	fullName := strings.TrimSpace(in.FullName)
	if fullName == "" || strings.TrimSpace(in.Email) == "" || in.Password == "" || in.ConfirmPassword == "" {
		observability.RecordAuthRegister(ctx, "invalid")
		return nil, validationError(op, MsgRegisterRequired)
	}
	if !s.isEmail(in.Email) {
		observability.RecordAuthRegister(ctx, "invalid")
		return nil, validationError(op, MsgInvalidEmail)
	}
	if err := checkNewPassword(op, in.Password, in.ConfirmPassword); err != nil {
		observability.RecordAuthRegister(ctx, "invalid")
		return nil, err
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		observability.RecordAuthRegister(ctx, "error")
		return nil, internalError(op, err)
	}
	now := s.now().UTC()
	user := &domain.User{
		FullName:     fullName,
		Email:        NormalizeEmail(in.Email),
		Phone:        strings.TrimSpace(in.Phone),
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			observability.RecordAuthRegister(ctx, "conflict")
			return nil, conflictError(op, MsgEmailTaken, err)
		}
		observability.RecordAuthRegister(ctx, "error")
		return nil, internalError(op, err)
	}

	result, err := s.establish(ctx, op, user, in.Remember, in.CurrentSessionID)
	if err != nil {
		observability.RecordAuthRegister(ctx, "error")
		return nil, err
	}
	observability.RecordAuthRegister(ctx, "success")
	return result, nil
}

// establish replaces any session the caller already holds with a new one and
// optionally issues a remember credential.
func (s *AuthService) establish(ctx context.Context, op string, user *domain.User, remember bool, currentSessionID string) (*AuthResult, error) {
	s.sessions.Destroy(ctx, currentSessionID)
	sess, err := s.sessions.Create(ctx, user.ID, user.Email, user.FullName)
	if err != nil {
		return nil, internalError(op, err)
	}
	result := &AuthResult{User: user, Session: sess}
	if remember {
		cred, err := s.remember.Issue(ctx, user.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "remember token issue failed", "user_id", user.ID, "error", err)
		} else {
			result.Remember = &cred
		}
	}
	return result, nil
}

// ForgotPassword issues a reset link when email belongs to an active account.
// Callers see the same nil result whether or not the account exists; only
// malformed input is reported.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	const op = "forgot_password"
	if strings.TrimSpace(email) == "" || !s.isEmail(email) {
		return validationError(op, MsgInvalidEmail)
	}
	issued, err := s.resets.IssueFor(ctx, NormalizeEmail(email))
	if err != nil {
		s.logger.ErrorContext(ctx, "password reset issue failed", "error", err)
		return nil
	}
	if issued == nil {
		return nil
	}
	link := s.baseURL + "/auth/reset-password/" + issued.Token
	if err := s.notifier.NotifyPasswordReset(ctx, issued.Email, link); err != nil {
		s.logger.ErrorContext(ctx, "password reset notification failed", "user_id", issued.UserID, "error", err)
	}
	return nil
}

func (s *AuthService) ValidateResetToken(ctx context.Context, token string) (*domain.PasswordResetTarget, error) {
	const op = "validate_reset_token"
	target, err := s.resets.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, ErrResetTokenInvalid) {
			return nil, deniedError(op, MsgInvalidResetLink, err)
		}
		return nil, internalError(op, err)
	}
	return target, nil
}

// ResetPassword sets a new password from a reset token and signs the
// account out everywhere.
func (s *AuthService) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	const op = "reset_password"
	ctx, span := observability.StartSpan(ctx, "auth.reset_password")
	defer span.End()

	if in.Password == "" || in.ConfirmPassword == "" {
		return validationError(op, MsgResetRequired)
	}
	if err := checkNewPassword(op, in.Password, in.ConfirmPassword); err != nil {
		return err
	}
	target, err := s.resets.Consume(ctx, in.Token, in.Password)
	if err != nil {
		if errors.Is(err, ErrResetTokenInvalid) {
			return deniedError(op, MsgInvalidResetLink, err)
		}
		return internalError(op, err)
	}
	if _, err := s.remember.RevokeAll(ctx, target.UserID); err != nil {
		s.logger.ErrorContext(ctx, "revoke remember tokens after reset failed", "user_id", target.UserID, "error", err)
	}
	if _, err := s.sessions.DestroyAllForUser(ctx, target.UserID); err != nil {
		s.logger.ErrorContext(ctx, "destroy sessions after reset failed", "user_id", target.UserID, "error", err)
	}
	return nil
}

// Logout ends the current session and revokes the presented remember
// credential. It never fails.
func (s *AuthService) Logout(ctx context.Context, sessionID, rememberCookie string) {
	s.sessions.Destroy(ctx, sessionID)
	if cred, ok := ParseRememberCookie(rememberCookie); ok {
		if err := s.remember.RevokeOne(ctx, cred.Selector); err != nil {
			s.logger.WarnContext(ctx, "remember token revoke failed", "error", err)
		}
	}
	observability.RecordAuthLogout(ctx, "current")
}

func (s *AuthService) LogoutEverywhere(ctx context.Context, userID uint) error {
	const op = "logout_everywhere"
	if _, err := s.remember.RevokeAll(ctx, userID); err != nil {
		return internalError(op, err)
	}
	if _, err := s.sessions.DestroyAllForUser(ctx, userID); err != nil {
		return internalError(op, err)
	}
	observability.RecordAuthLogout(ctx, "all")
	return nil
}

func (s *AuthService) isEmail(email string) bool {
	return s.validate.Var(strings.TrimSpace(email), "required,email") == nil
}

func checkNewPassword(op, password, confirm string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return validationError(op, MsgPasswordTooShort)
	}
	if len(password) > security.MaxPasswordBytes {
		return validationError(op, MsgPasswordTooLong)
	}
	if password != confirm {
		return validationError(op, MsgPasswordMismatch)
	}
	return nil
}

// NormalizeEmail is the canonical form used for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
