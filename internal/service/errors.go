package service

import (
	"errors"

	"github.com/samber/oops"
)

// Error codes attached to every error that leaves an auth operation.
const (
	CodeValidation = "AUTH_VALIDATION"
	CodeDenied     = "AUTH_DENIED"
	CodeConflict   = "AUTH_CONFLICT"
	CodeInternal   = "AUTH_INTERNAL"
)

type Kind string

const (
	KindNone           Kind = ""
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindConflict       Kind = "conflict"
	KindInternal       Kind = "internal"
)

// Sentinels returned by the token managers before classification.
var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrRememberTokenInvalid = errors.New("remember token invalid")
	ErrResetTokenInvalid    = errors.New("password reset token invalid")
)

// KindOf maps err onto one of the four public error kinds. Errors that did
// not pass through an auth operation boundary are internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return KindInternal
	}
	switch oopsErr.Code() {
	case CodeValidation:
		return KindValidation
	case CodeDenied:
		return KindAuthentication
	case CodeConflict:
		return KindConflict
	default:
		return KindInternal
	}
}

// PublicMessage returns the user-facing text carried by err, or fallback.
func PublicMessage(err error, fallback string) string {
	if KindOf(err) == KindInternal {
		return fallback
	}
	return oops.GetPublic(err, fallback)
}

func validationError(op, msg string) error {
	return oops.Code(CodeValidation).With("operation", op).Public(msg).Errorf("%s", msg)
}

func deniedError(op, msg string, cause error) error {
	b := oops.Code(CodeDenied).With("operation", op).Public(msg)
	if cause != nil {
		return b.Wrap(cause)
	}
	return b.Errorf("%s", msg)
}

func conflictError(op, msg string, cause error) error {
	return oops.Code(CodeConflict).With("operation", op).Public(msg).Wrap(cause)
}

func internalError(op string, cause error) error {
	return oops.Code(CodeInternal).With("operation", op).Wrap(cause)
}
