package repository

import (
	"context"
	"errors"
	"time"

	"github.com/vendi-market/vendi/internal/domain"
	"github.com/vendi-market/vendi/internal/observability"

	"gorm.io/gorm"
)

type PasswordResetRepository interface {
	Create(ctx context.Context, t *domain.PasswordResetToken) error
	FindValidByToken(ctx context.Context, token string, now time.Time) (*domain.PasswordResetTarget, error)
	ConsumeWithPassword(ctx context.Context, token, passwordHash string, now time.Time) (*domain.PasswordResetTarget, error)
}

type GormPasswordResetRepository struct{ db *gorm.DB }

func NewPasswordResetRepository(db *gorm.DB) PasswordResetRepository {
	return &GormPasswordResetRepository{db: db}
}

func (r *GormPasswordResetRepository) Create(ctx context.Context, t *domain.PasswordResetToken) error {
	err := r.db.WithContext(ctx).Create(t).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "password_reset", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "password_reset", "create", "success")
	return nil
}

func (r *GormPasswordResetRepository) FindValidByToken(ctx context.Context, token string, now time.Time) (*domain.PasswordResetTarget, error) {
	target, err := findValidResetTarget(r.db.WithContext(ctx), token, now)
	if err != nil {
		if errors.Is(err, ErrResetTokenNotFound) {
			observability.RecordRepositoryOperation(ctx, "password_reset", "find_valid_by_token", "not_found")
		} else {
			observability.RecordRepositoryOperation(ctx, "password_reset", "find_valid_by_token", "error")
		}
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "password_reset", "find_valid_by_token", "success")
	return target, nil
}

// ConsumeWithPassword re-validates token, marks it used and stores the new
// password hash in a single transaction. The used flag only flips from false,
// so of two concurrent consumers exactly one succeeds.
func (r *GormPasswordResetRepository) ConsumeWithPassword(ctx context.Context, token, passwordHash string, now time.Time) (*domain.PasswordResetTarget, error) {
	var target *domain.PasswordResetTarget
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := findValidResetTarget(tx, token, now)
		if err != nil {
			return err
		}
		res := tx.Model(&domain.PasswordResetToken{}).
			Where("id = ? AND used = ?", t.TokenID, false).
			Update("used", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrResetTokenNotFound
		}
		res = tx.Model(&domain.User{}).
			Where("id = ?", t.UserID).
			Updates(map[string]any{"password_hash": passwordHash, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrUserNotFound
		}
		target = t
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrResetTokenNotFound) || errors.Is(err, ErrUserNotFound) {
			observability.RecordRepositoryOperation(ctx, "password_reset", "consume", "not_found")
		} else {
			observability.RecordRepositoryOperation(ctx, "password_reset", "consume", "error")
		}
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "password_reset", "consume", "success")
	return target, nil
}

func findValidResetTarget(db *gorm.DB, token string, now time.Time) (*domain.PasswordResetTarget, error) {
	var target domain.PasswordResetTarget
	res := db.Table("password_reset_tokens").
		Select("password_reset_tokens.id AS token_id, password_reset_tokens.user_id AS user_id, users.email AS email").
		Joins("JOIN users ON users.id = password_reset_tokens.user_id").
		Where("password_reset_tokens.token = ? AND password_reset_tokens.used = ? AND password_reset_tokens.expires_at > ? AND users.is_active = ?",
			token, false, now, true).
		Limit(1).
		Scan(&target)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrResetTokenNotFound
	}
	return &target, nil
}
