package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles understood by the API. Readers may query and inspect indexes,
// writers may also create, insert, save and load, admins may do anything in
// any namespace.
const (
	RoleReader = "reader"
	RoleWriter = "writer"
	RoleAdmin  = "admin"
)

var (
	// ErrMissingToken is returned when a request carries no bearer token
	ErrMissingToken = errors.New("api: missing bearer token")
	// ErrInvalidToken is returned for tokens that fail validation
	ErrInvalidToken = errors.New("api: invalid token")
)

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	Issuer    string
}

// Claims represents JWT claims
type Claims struct {
	Roles      []string `json:"roles"`
	Namespaces []string `json:"namespaces,omitempty"` // empty grants every namespace
	jwt.RegisteredClaims
}

var roleRank = map[string]int{RoleReader: 1, RoleWriter: 2, RoleAdmin: 3}

// HasRole reports whether the claims carry role or a role above it
func (c *Claims) HasRole(role string) bool {
	want, known := roleRank[role]
	for _, r := range c.Roles {
		if r == role || (known && roleRank[r] >= want) {
			return true
		}
	}
	return false
}

// CanAccess reports whether the claims grant access to namespace
func (c *Claims) CanAccess(namespace string) bool {
	if len(c.Namespaces) == 0 || c.HasRole(RoleAdmin) {
		return true
	}
	for _, ns := range c.Namespaces {
		if ns == namespace {
			return true
		}
	}
	return false
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" value
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", fmt.Errorf("%w: malformed authorization header", ErrInvalidToken)
	}
	return token, nil
}

// ParseToken validates an HMAC signed token and returns its claims
func ParseToken(tokenString string, cfg AuthConfig) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateToken creates a signed token for subject, valid for ttl
func GenerateToken(cfg AuthConfig, subject string, roles, namespaces []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Roles:      roles,
		Namespaces: namespaces,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.JWTSecret))
}

type claimsKey struct{}

// ContextWithClaims returns a copy of ctx carrying claims
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext retrieves user claims from ctx
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}

// authorize checks the claims in ctx, if any, against namespace. Requests
// without claims come from servers running with authentication disabled.
func authorize(ctx context.Context, namespace, role string) error {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return nil
	}
	if !claims.HasRole(role) {
		return fmt.Errorf("%w: %s role required", ErrPermissionDenied, role)
	}
	if namespace != "" && !claims.CanAccess(namespace) {
		return fmt.Errorf("%w: namespace %s", ErrPermissionDenied, namespace)
	}
	return nil
}
