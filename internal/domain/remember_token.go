package domain

import "time"

// RememberToken is the server half of a persistent login cookie. Only the
// bcrypt hash of the secret is stored; the selector is a plain lookup key.
type RememberToken struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID" json:"-"`
	Selector  string    `gorm:"size:24;uniqueIndex;not null" json:"-"`
	TokenHash string    `gorm:"size:128;not null" json:"-"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
