package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/fleetpulse/fleetpulse/internal/logging"
	"github.com/fleetpulse/fleetpulse/internal/metrics"
	"github.com/fleetpulse/fleetpulse/internal/models"
	"github.com/fleetpulse/fleetpulse/internal/repository"
	"github.com/fleetpulse/fleetpulse/pkg/tokens"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSetupComplete      = errors.New("setup already completed")
	ErrInvalidSetupToken  = errors.New("invalid or consumed setup token")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrMissingUsername    = errors.New("username is required")
)

// bcryptCost trades hash time for brute-force resistance on the small
// operator account set.
const bcryptCost = 12

const minPasswordLen = 8

// AuthService owns operator accounts: the one-time first-admin setup
// flow, logins and password changes.
type AuthService struct {
	repo   repository.Repository
	tokens *tokens.Generator
	logger *logging.Logger
}

func NewAuthService(repo repository.Repository, gen *tokens.Generator, logger *logging.Logger) *AuthService {
	return &AuthService{repo: repo, tokens: gen, logger: logger}
}

// SetupRequired reports whether no operator account exists yet.
func (s *AuthService) SetupRequired(ctx context.Context) (bool, error) {
	count, err := s.repo.CountAdmins(ctx)
	if err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	return count == 0, nil
}

// EnsureSetupToken guarantees a bootstrap token exists while setup is
// pending and returns it so the operator can read it from the server log.
// Once an admin exists it returns empty and clears any leftover tokens.
func (s *AuthService) EnsureSetupToken(ctx context.Context) (string, error) {
	required, err := s.SetupRequired(ctx)
	if err != nil {
		return "", err
	}
	if !required {
		if err := s.repo.ClearSetupTokens(ctx); err != nil {
			return "", fmt.Errorf("clear setup tokens: %w", err)
		}
		return "", nil
	}

	token, err := s.repo.GetUnusedSetupToken(ctx)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("look up setup token: %w", err)
	}

	token, err = randomToken()
	if err != nil {
		return "", err
	}
	if err := s.repo.CreateSetupToken(ctx, token); err != nil {
		return "", fmt.Errorf("create setup token: %w", err)
	}
	return token, nil
}

// Setup creates the first admin account. The setup token is consumed
// atomically, so concurrent attempts produce exactly one account.
func (s *AuthService) Setup(ctx context.Context, req models.SetupRequest) (*models.AdminUser, error) {
	required, err := s.SetupRequired(ctx)
	if err != nil {
		return nil, err
	}
	if !required {
		return nil, ErrSetupComplete
	}
	if req.Username == "" {
		return nil, ErrMissingUsername
	}
	if len(req.Password) < minPasswordLen {
		return nil, ErrWeakPassword
	}

	consumed, err := s.repo.ConsumeSetupToken(ctx, req.SetupToken)
	if err != nil {
		return nil, fmt.Errorf("consume setup token: %w", err)
	}
	if !consumed {
		return nil, ErrInvalidSetupToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.AdminUser{
		ID:           uuid.New().String(),
		Username:     req.Username,
		PasswordHash: string(hash),
		DisplayName:  req.Username,
		Role:         "admin",
	}
	if err := s.repo.CreateAdmin(ctx, user); err != nil {
		return nil, fmt.Errorf("create admin: %w", err)
	}
	if err := s.repo.ClearSetupTokens(ctx); err != nil {
		s.logger.Warn("clear setup tokens after setup", logging.Error(err))
	}

	s.logger.Info("initial admin created", logging.Username(user.Username))
	return user, nil
}

// Login verifies credentials and issues a signed token. Unknown users
// and wrong passwords are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, username, password string) (*models.LoginResponse, error) {
	user, err := s.repo.GetAdminByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.LoginAttempts.WithLabelValues("failure").Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		metrics.LoginAttempts.WithLabelValues("failure").Inc()
		s.logger.Warn("failed login", logging.Username(username))
		return nil, ErrInvalidCredentials
	}

	token, err := s.tokens.Generate(user.ID, user.Username, user.Role)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	s.logger.Info("operator logged in", logging.Username(username))
	return &models.LoginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int(s.tokens.TTL().Seconds()),
		User:      user,
	}, nil
}

// CurrentUser resolves the account behind a validated token subject.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*models.AdminUser, error) {
	user, err := s.repo.GetAdminByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}
	return user, nil
}

// ChangePassword verifies the current password before rehashing.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, updated string) error {
	if len(updated) < minPasswordLen {
		return ErrWeakPassword
	}

	user, err := s.repo.GetAdminByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("look up user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(updated), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.UpdateAdminPassword(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	s.logger.Info("password changed", logging.Username(user.Username))
	return nil
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate setup token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
