package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
)

// Principal описывает аутентифицированного пользователя запроса.
type Principal struct {
	UserID string
	Role   domain.Role
}

// IsAdmin сообщает, что у пользователя роль администратора.
func (p Principal) IsAdmin() bool {
	return p.Role == domain.RoleAdmin
}

type principalKey struct{}

// WithPrincipal кладёт пользователя в контекст.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext достаёт пользователя из контекста.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != ""
}

// Authenticator проверяет bearer-токены HS256 и подтягивает роль из профиля.
type Authenticator struct {
	secret   []byte
	profiles domain.ProfileRepository
	logger   *log.Entry
}

// NewAuthenticator создаёт проверку токенов. profiles может быть nil, тогда все пользователи считаются покупателями.
func NewAuthenticator(secret string, profiles domain.ProfileRepository, logger *log.Entry) (*Authenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth secret is required")
	}
	if logger == nil {
		logger = log.WithField("component", "auth")
	}
	return &Authenticator{secret: []byte(secret), profiles: profiles, logger: logger}, nil
}

// Authenticate разбирает заголовок Authorization и возвращает пользователя.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (Principal, error) {
	raw, ok := bearerToken(header)
	if !ok {
		return Principal{}, domain.ErrUnauthenticated
	}

	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthenticated)
	}

	principal := Principal{UserID: claims.Subject, Role: domain.RoleCustomer}
	if a.profiles == nil {
		return principal, nil
	}
	profile, err := a.profiles.Get(ctx, claims.Subject)
	switch {
	case err == nil:
		if profile.Role != "" {
			principal.Role = profile.Role
		}
	case errors.Is(err, domain.ErrProfileNotFound):
	default:
		return Principal{}, fmt.Errorf("load profile: %w", err)
	}
	return principal, nil
}

// RequireUser пропускает только запросы с валидным токеном.
func (a *Authenticator) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := a.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			if !errors.Is(err, domain.ErrUnauthenticated) {
				respondError(w, r, a.logger, err)
				return
			}
			WriteError(w, r, newAPIError(http.StatusUnauthorized, CodeUnauthenticated, "authentication required"))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// RequireAdmin пропускает только администраторов. Ставится после RequireUser.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFromContext(r.Context())
		if !ok {
			WriteError(w, r, newAPIError(http.StatusUnauthorized, CodeUnauthenticated, "authentication required"))
			return
		}
		if !principal.IsAdmin() {
			WriteError(w, r, newAPIError(http.StatusForbidden, CodeForbidden, "admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IssueToken подписывает токен пользователя. Используется локальными инструментами и тестами.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	header = strings.TrimSpace(header)
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
