package repository

import (
	"context"
	"errors"
	"time"

	"github.com/vendi-market/vendi/internal/domain"
	"github.com/vendi-market/vendi/internal/observability"

	"gorm.io/gorm"
)

type RememberTokenRepository interface {
	Create(ctx context.Context, t *domain.RememberToken) error
	FindValidBySelector(ctx context.Context, selector string, now time.Time) (*domain.RememberToken, error)
	Rotate(ctx context.Context, oldSelector string, next *domain.RememberToken) error
	DeleteBySelector(ctx context.Context, selector string) error
	DeleteByUserID(ctx context.Context, userID uint) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type GormRememberTokenRepository struct{ db *gorm.DB }

func NewRememberTokenRepository(db *gorm.DB) RememberTokenRepository {
	return &GormRememberTokenRepository{db: db}
}

func (r *GormRememberTokenRepository) Create(ctx context.Context, t *domain.RememberToken) error {
	err := r.db.WithContext(ctx).Create(t).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "remember_token", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "remember_token", "create", "success")
	return nil
}

// FindValidBySelector returns the unexpired token for selector with its
// owner loaded. Tokens owned by deactivated users are treated as absent.
func (r *GormRememberTokenRepository) FindValidBySelector(ctx context.Context, selector string, now time.Time) (*domain.RememberToken, error) {
	var t domain.RememberToken
	err := r.db.WithContext(ctx).
		Select("remember_tokens.*").
		Joins("JOIN users ON users.id = remember_tokens.user_id").
		Where("remember_tokens.selector = ? AND remember_tokens.expires_at > ? AND users.is_active = ?", selector, now, true).
		Preload("User").
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "remember_token", "find_valid_by_selector", "not_found")
			return nil, ErrRememberTokenNotFound
		}
		observability.RecordRepositoryOperation(ctx, "remember_token", "find_valid_by_selector", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "remember_token", "find_valid_by_selector", "success")
	return &t, nil
}

// Rotate deletes oldSelector and inserts next in one transaction. When the
// old row is already gone, because a concurrent request rotated it first,
// nothing is inserted and ErrRememberTokenNotFound is returned.
func (r *GormRememberTokenRepository) Rotate(ctx context.Context, oldSelector string, next *domain.RememberToken) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("selector = ?", oldSelector).Delete(&domain.RememberToken{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrRememberTokenNotFound
		}
		return tx.Create(next).Error
	})
	if err != nil {
		if errors.Is(err, ErrRememberTokenNotFound) {
			observability.RecordRepositoryOperation(ctx, "remember_token", "rotate", "not_found")
		} else {
			observability.RecordRepositoryOperation(ctx, "remember_token", "rotate", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(ctx, "remember_token", "rotate", "success")
	return nil
}

func (r *GormRememberTokenRepository) DeleteBySelector(ctx context.Context, selector string) error {
	err := r.db.WithContext(ctx).Where("selector = ?", selector).Delete(&domain.RememberToken{}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "remember_token", "delete_by_selector", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "remember_token", "delete_by_selector", "success")
	return nil
}

func (r *GormRememberTokenRepository) DeleteByUserID(ctx context.Context, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.RememberToken{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "remember_token", "delete_by_user_id", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "remember_token", "delete_by_user_id", "success")
	return res.RowsAffected, nil
}

func (r *GormRememberTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.RememberToken{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "remember_token", "delete_expired", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "remember_token", "delete_expired", "success")
	return res.RowsAffected, nil
}
