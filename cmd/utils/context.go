package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

type contextKey string

const (
	UserIDKey contextKey = "userID"
	RoleKey   contextKey = "role"
)

// UserIDHeader is sent by the mobile client alongside the bearer token.
const UserIDHeader = "X-User-Id"

var (
	ErrMissingToken = NewError(http.StatusUnauthorized, "authorization token required")
	ErrInvalidToken = NewError(http.StatusUnauthorized, "invalid token")
	ErrUserMismatch = NewError(http.StatusForbidden, "user id does not match token")
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *TokenIssuer) Issue(userID uint, role string) (string, error) {
	now := t.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse validates the token and returns the user id and role it carries.
func (t *TokenIssuer) Parse(tokenString string) (uint, string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, "", ErrInvalidToken
	}

	userID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || userID == 0 {
		return 0, "", ErrInvalidToken
	}
	return uint(userID), claims.Role, nil
}

// Middleware authenticates the request from the Authorization header, or the
// token query parameter for websocket upgrades. A present X-User-Id header
// must name the same user as the token.
func (t *TokenIssuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			WriteError(w, ErrMissingToken)
			return
		}

		userID, role, err := t.Parse(tokenString)
		if err != nil {
			WriteError(w, err)
			return
		}

		if header := strings.TrimSpace(r.Header.Get(UserIDHeader)); header != "" {
			if header != strconv.FormatUint(uint64(userID), 10) {
				WriteError(w, ErrUserMismatch)
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID, role)))
	})
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
			return strings.TrimSpace(auth[7:])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func WithUser(ctx context.Context, userID uint, role string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, RoleKey, role)
}

func GetUserIDFromContext(ctx context.Context) (uint, error) {
	userID, ok := ctx.Value(UserIDKey).(uint)
	if !ok || userID == 0 {
		return 0, errors.New("user ID not found in context")
	}
	return userID, nil
}

func GetRoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(RoleKey).(string)
	return role
}

// RequireRole rejects authenticated users whose token carries another role.
func RequireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if GetRoleFromContext(r.Context()) != role {
			WriteError(w, NewError(http.StatusForbidden, "only "+role+"s can perform this action"))
			return
		}
		next(w, r)
	}
}
