package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/example/fruitscan/internal/auth"
	"github.com/example/fruitscan/internal/logging"
	"github.com/example/fruitscan/internal/repository"
)

// Account error codes reported to clients.
const (
	CodeMissingFields      = "MISSING_FIELDS"
	CodeUserExists         = "USER_EXISTS"
	CodeInvalidEmail       = "INVALID_EMAIL"
	CodePasswordTooShort   = "PASSWORD_TOO_SHORT"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeDatabaseError      = "DATABASE_ERROR"
	CodeServerError        = "SERVER_ERROR"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// AccountError carries a client-facing code and message.
type AccountError struct {
	Code    string
	Message string
	Err     error
}

func (e *AccountError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AccountError) Unwrap() error { return e.Err }

// UserStore defines the persistence operations needed for accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *repository.User) error
	FindUserByEmail(ctx context.Context, email string) (*repository.User, error)
	FindUserByID(ctx context.Context, id string) (*repository.User, error)
}

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	Issue(subject string) (string, error)
}

// Session is returned after a successful register or login.
type Session struct {
	AccessToken string
	User        *repository.User
}

// AccountUseCase implements registration, login and profile lookup.
type AccountUseCase struct {
	users  UserStore
	tokens TokenIssuer
	logger *zap.Logger
}

// NewAccountUseCase constructs a new use case instance.
func NewAccountUseCase(users UserStore, tokens TokenIssuer, logger *zap.Logger) *AccountUseCase {
	return &AccountUseCase{
		users:  users,
		tokens: tokens,
		logger: logger.Named("account_usecase"),
	}
}

// Register creates an account and signs the user in.
func (uc *AccountUseCase) Register(ctx context.Context, email, password, name string) (*Session, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.register", logging.RequestIDFromContext(ctx))
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, &AccountError{Code: CodeMissingFields, Message: "Email and password required"}
	}

	existing, err := uc.users.FindUserByEmail(ctx, email)
	switch {
	case err == nil && existing != nil:
		return nil, &AccountError{Code: CodeUserExists, Message: "User with this email already exists"}
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		opLogger.Error("user lookup failed", zap.Error(err))
		return nil, &AccountError{Code: CodeDatabaseError, Message: "Database connection failed", Err: err}
	}

	if !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		return nil, &AccountError{Code: CodeInvalidEmail, Message: "Please enter a valid email address"}
	}
	if len(password) < MinPasswordLength {
		return nil, &AccountError{Code: CodePasswordTooShort, Message: fmt.Sprintf("Password must be at least %d characters long", MinPasswordLength)}
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		opLogger.Error("password hashing failed", zap.Error(err))
		return nil, &AccountError{Code: CodeServerError, Message: "Server error during registration", Err: err}
	}

	user := &repository.User{Email: email, PasswordHash: hash, Name: strings.TrimSpace(name)}
	if err := uc.users.CreateUser(ctx, user); err != nil {
		opLogger.Error("failed to persist user", zap.Error(err))
		return nil, &AccountError{Code: CodeServerError, Message: "Server error during registration", Err: err}
	}

	token, err := uc.tokens.Issue(user.ID)
	if err != nil {
		opLogger.Error("failed to issue token", zap.Error(err))
		return nil, &AccountError{Code: CodeServerError, Message: "Server error during registration", Err: err}
	}

	opLogger.Info("user registered", zap.String("user_id", user.ID))
	return &Session{AccessToken: token, User: user}, nil
}

// Login verifies credentials and signs the user in.
func (uc *AccountUseCase) Login(ctx context.Context, email, password string) (*Session, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.login", logging.RequestIDFromContext(ctx))
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, &AccountError{Code: CodeMissingFields, Message: "Email and password required"}
	}

	invalid := &AccountError{Code: CodeInvalidCredentials, Message: "Invalid email or password"}

	user, err := uc.users.FindUserByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, invalid
	}
	if err != nil {
		opLogger.Error("user lookup failed", zap.Error(err))
		return nil, &AccountError{Code: CodeDatabaseError, Message: "Database connection failed", Err: err}
	}

	ok, err := auth.CheckPassword(user.PasswordHash, password)
	if err != nil {
		opLogger.Error("stored password hash unusable", zap.String("user_id", user.ID), zap.Error(err))
		return nil, &AccountError{Code: CodeServerError, Message: "Server error during login", Err: err}
	}
	if !ok {
		return nil, invalid
	}

	token, err := uc.tokens.Issue(user.ID)
	if err != nil {
		opLogger.Error("failed to issue token", zap.Error(err))
		return nil, &AccountError{Code: CodeServerError, Message: "Server error during login", Err: err}
	}
	return &Session{AccessToken: token, User: user}, nil
}

// Profile returns the account of userID.
func (uc *AccountUseCase) Profile(ctx context.Context, userID string) (*repository.User, error) {
	user, err := uc.users.FindUserByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &AccountError{Code: CodeUserNotFound, Message: "User not found", Err: err}
	}
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.profile", logging.RequestIDFromContext(ctx)).Error("user lookup failed", zap.Error(err))
		return nil, &AccountError{Code: CodeDatabaseError, Message: "Database connection failed", Err: err}
	}
	return user, nil
}
