package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/fruitscan/internal/logging"
)

// User is a registered account.
type User struct {
	ID           string    `gorm:"primaryKey;type:uuid" json:"id"`
	Email        string    `gorm:"column:email;uniqueIndex;size:255;not null" json:"email"`
	PasswordHash string    `gorm:"column:password_hash;size:255;not null" json:"-"`
	Name         string    `gorm:"column:name;size:100" json:"name"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"-"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"-"`
}

// TableName overrides the default table name.
func (User) TableName() string {
	return "users"
}

// CreateUser persists user, assigning an id when it has none.
func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Email = strings.TrimSpace(user.Email)
	return r.executeWithRetry(ctx, "repository.create_user", logging.RequestIDFromContext(ctx), func() error {
		return r.db.WithContext(ctx).Create(user).Error
	})
}

// FindUserByEmail retrieves the account registered under email.
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := r.executeWithRetry(ctx, "repository.find_user_by_email", logging.RequestIDFromContext(ctx), func() error {
		return notFound(r.db.WithContext(ctx).First(&user, "email = ?", strings.TrimSpace(email)).Error)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindUserByID retrieves an account by id.
func (r *Repository) FindUserByID(ctx context.Context, id string) (*User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	var user User
	err := r.executeWithRetry(ctx, "repository.find_user_by_id", logging.RequestIDFromContext(ctx), func() error {
		return notFound(r.db.WithContext(ctx).First(&user, "id = ?", id).Error)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}
