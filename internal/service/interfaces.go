package service

import (
	"context"

	"github.com/vendi-market/vendi/internal/domain"
)

type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, password, hash string) (bool, error)
	VerifyDummy(ctx context.Context, password string)
}

type AuthServiceInterface interface {
	Login(ctx context.Context, in LoginInput) (*AuthResult, error)
	Register(ctx context.Context, in RegisterInput) (*AuthResult, error)
	ForgotPassword(ctx context.Context, email string) error
	ValidateResetToken(ctx context.Context, token string) (*domain.PasswordResetTarget, error)
	ResetPassword(ctx context.Context, in ResetPasswordInput) error
	Logout(ctx context.Context, sessionID, rememberCookie string)
	LogoutEverywhere(ctx context.Context, userID uint) error
	Resolve(ctx context.Context, sessionID, rememberCookie string) Resolution
}

// ResetNotifier delivers a password reset link to the account owner.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, email, link string) error
}
