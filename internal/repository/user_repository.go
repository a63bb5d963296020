package repository

import (
	"context"
	"errors"
	"time"

	"github.com/vendi-market/vendi/internal/domain"
	"github.com/vendi-market/vendi/internal/observability"

	"gorm.io/gorm"
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	FindByID(ctx context.Context, id uint) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindActiveByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdatePasswordHash(ctx context.Context, id uint, hash string, now time.Time) error
	SetVerified(ctx context.Context, id uint, verified bool, now time.Time) error
	SetActive(ctx context.Context, id uint, active bool, now time.Time) error
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	err := r.db.WithContext(ctx).Create(user).Error
	if err != nil {
		if isDuplicateKey(err) {
			observability.RecordRepositoryOperation(ctx, "user", "create", "conflict")
			return ErrEmailTaken
		}
		observability.RecordRepositoryOperation(ctx, "user", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "create", "success")
	return nil
}

func (r *GormUserRepository) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).First(&u, id).Error
	return r.found(ctx, "find_by_id", &u, err)
}

func (r *GormUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	return r.found(ctx, "find_by_email", &u, err)
}

func (r *GormUserRepository) FindActiveByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Where("email = ? AND is_active = ?", email, true).First(&u).Error
	return r.found(ctx, "find_active_by_email", &u, err)
}

func (r *GormUserRepository) found(ctx context.Context, op string, u *domain.User, err error) (*domain.User, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", op, "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", op, "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", op, "success")
	return u, nil
}

func (r *GormUserRepository) UpdatePasswordHash(ctx context.Context, id uint, hash string, now time.Time) error {
	return r.update(ctx, "update_password_hash", id, map[string]any{"password_hash": hash, "updated_at": now})
}

func (r *GormUserRepository) SetVerified(ctx context.Context, id uint, verified bool, now time.Time) error {
	return r.update(ctx, "set_verified", id, map[string]any{"is_verified": verified, "updated_at": now})
}

func (r *GormUserRepository) SetActive(ctx context.Context, id uint, active bool, now time.Time) error {
	return r.update(ctx, "set_active", id, map[string]any{"is_active": active, "updated_at": now})
}

func (r *GormUserRepository) update(ctx context.Context, op string, id uint, fields map[string]any) error {
	res := r.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "user", op, "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "user", op, "not_found")
		return ErrUserNotFound
	}
	observability.RecordRepositoryOperation(ctx, "user", op, "success")
	return nil
}
