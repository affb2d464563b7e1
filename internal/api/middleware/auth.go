// auth.go — JWT middleware для аутентификации запросов Test Assistant.
// Основной режим — HS256 токены, выпущенные самим сервисом (/auth/login).
// Альтернативный режим — RS256 токены внешнего IdP с ключами из JWKS (TA_JWT_JWKS_URL).
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/anhhtv56/test-assistant/internal/api/errors"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyClaims — извлечённые claims в контексте запроса.
	ContextKeyClaims contextKey = "jwt_claims"
)

// tokenTypeRefresh — значение claim type у refresh-токена.
const tokenTypeRefresh = "refresh"

// AuthClaims — claims аутентифицированного пользователя.
type AuthClaims struct {
	// Subject — sub из JWT (ID пользователя).
	Subject string
	// Email — email пользователя; идентифицирует владельца генераций.
	Email string
	// Name — отображаемое имя.
	Name string
}

// rawClaims — claims JWT для парсинга.
type rawClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
}

// JWTAuth — middleware JWT-аутентификации.
type JWTAuth struct {
	keyfunc func(ctx context.Context) jwt.Keyfunc
	methods []string
	issuer  string
	leeway  time.Duration
	logger  *slog.Logger
}

// NewJWTAuth создаёт middleware для HS256 токенов с общим секретом.
func NewJWTAuth(secret []byte, issuer string, leeway time.Duration, logger *slog.Logger) *JWTAuth {
	kf := func(*jwt.Token) (any, error) { return secret, nil }
	return &JWTAuth{
		keyfunc: func(context.Context) jwt.Keyfunc { return kf },
		methods: []string{jwt.SigningMethodHS256.Alg()},
		issuer:  issuer,
		leeway:  leeway,
		logger:  logger.With(slog.String("component", "jwt_auth")),
	}
}

// NewJWKSAuth создаёт middleware для RS256 токенов внешнего IdP.
// JWKS загружается в фоне; недоступность IdP при старте не является ошибкой.
func NewJWKSAuth(
	jwksURL string,
	issuer string,
	clientTimeout time.Duration,
	refreshInterval time.Duration,
	leeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: clientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}
	return NewJWTAuthWithKeyfunc(k, issuer, leeway, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт RS256 middleware с готовым keyfunc.
// Используется в тестах со статическим JWKS.
func NewJWTAuthWithKeyfunc(k keyfunc.Keyfunc, issuer string, leeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		keyfunc: k.KeyfuncCtx,
		methods: []string{"RS256"},
		issuer:  issuer,
		leeway:  leeway,
		logger:  logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token, проверяет подпись и срок, отклоняет refresh-токены
// и помещает AuthClaims в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			raw := &rawClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods(j.methods),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.leeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			if _, err := jwt.ParseWithClaims(tokenString, raw, j.keyfunc(r.Context()), parserOpts...); err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			if raw.Type == tokenTypeRefresh {
				apierrors.Unauthorized(w, "Refresh-токен не может использоваться для доступа")
				return
			}

			subject, err := raw.GetSubject()
			if err != nil || subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}
			if raw.Email == "" {
				apierrors.Unauthorized(w, "Отсутствует email в токене")
				return
			}

			claims := &AuthClaims{
				Subject: subject,
				Email:   strings.ToLower(raw.Email),
				Name:    raw.Name,
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// ClaimsFromContext извлекает AuthClaims из контекста запроса.
// Возвращает nil, если claims отсутствуют.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// WithClaims помещает claims в контекст.
func WithClaims(ctx context.Context, claims *AuthClaims) context.Context {
	return context.WithValue(ctx, ContextKeyClaims, claims)
}
