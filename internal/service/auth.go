// auth.go — учётные записи: регистрация, вход и обновление токенов.
// Пароли хранятся как bcrypt-хэши; токены — JWT HS256 (access + refresh).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/anhhtv56/test-assistant/internal/domain/model"
	"github.com/anhhtv56/test-assistant/internal/repository"
)

// TokenTypeRefresh — значение claim type у refresh-токена.
const TokenTypeRefresh = "refresh"

// TokenClaims — claims токенов Test Assistant.
type TokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	// Type — "refresh" для refresh-токена, пусто для access-токена
	Type string `json:"type,omitempty"`
}

// AuthConfig — параметры выпуска токенов.
type AuthConfig struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenPair — пара выпущенных токенов.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn — время жизни access-токена в секундах
	ExpiresIn int
}

// AuthResult — пользователь и его токены.
type AuthResult struct {
	User   *model.User
	Tokens *TokenPair
}

// AuthService — сервис учётных записей.
type AuthService struct {
	users  repository.UserRepository
	cfg    AuthConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewAuthService создаёт сервис учётных записей.
func NewAuthService(users repository.UserRepository, cfg AuthConfig, logger *slog.Logger) *AuthService {
	return &AuthService{
		users:  users,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "auth_service")),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register создаёт учётную запись и выпускает токены.
func (s *AuthService) Register(ctx context.Context, email, name, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email и password обязательны", ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, fmt.Errorf("%w: пароль длиннее 72 байт", ErrValidation)
		}
		return nil, fmt.Errorf("хэширование пароля: %w", err)
	}

	u := &model.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: email %s уже зарегистрирован", ErrConflict, email)
		}
		return nil, fmt.Errorf("создание пользователя: %w", err)
	}

	s.logger.Info("Пользователь зарегистрирован", slog.String("email", email))
	return s.issue(u)
}

// Login проверяет email и пароль и выпускает токены.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email и password обязательны", ErrValidation)
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: неверный email или пароль", ErrUnauthorized)
		}
		return nil, fmt.Errorf("получение пользователя: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		s.logger.Debug("Неверный пароль", slog.String("email", email))
		return nil, fmt.Errorf("%w: неверный email или пароль", ErrUnauthorized)
	}

	return s.issue(u)
}

// Refresh выпускает новую пару токенов по действующему refresh-токену.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, fmt.Errorf("%w: refreshToken обязателен", ErrValidation)
	}

	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(refreshToken, claims,
		func(*jwt.Token) (any, error) { return s.cfg.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: невалидный refresh-токен", ErrUnauthorized)
	}
	if claims.Type != TokenTypeRefresh {
		return nil, fmt.Errorf("%w: токен не является refresh-токеном", ErrUnauthorized)
	}

	u, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: пользователь не найден", ErrUnauthorized)
		}
		return nil, fmt.Errorf("получение пользователя: %w", err)
	}
	return s.issue(u)
}

// issue выпускает access- и refresh-токены пользователя.
func (s *AuthService) issue(u *model.User) (*AuthResult, error) {
	now := s.now()

	access := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTTL)),
		},
		Email: u.Email,
		Name:  u.Name,
	}
	refresh := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.RefreshTTL)),
			ID:        uuid.NewString(),
		},
		Type: TokenTypeRefresh,
	}

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, access).SignedString(s.cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("подпись access-токена: %w", err)
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refresh).SignedString(s.cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("подпись refresh-токена: %w", err)
	}

	return &AuthResult{
		User: u,
		Tokens: &TokenPair{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			ExpiresIn:    int(s.cfg.AccessTTL.Seconds()),
		},
	}, nil
}
