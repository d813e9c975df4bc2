package middleware

import (
	"errors"
	"strings"
	"time"

	apperrors "sharecast/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

const (
	participantKey = "participant_id"
	presenterKey   = "presenter"
)

// Claims identify the meeting participant driving the daemon. Presenter
// decides whether a started share is published or viewed.
type Claims struct {
	ParticipantID string `json:"participant_id"`
	Presenter     bool   `json:"presenter"`
	jwt.RegisteredClaims
}

// TokenAuthority issues and validates HS256 control API tokens.
type TokenAuthority struct {
	secret []byte
	now    func() time.Time
}

func NewTokenAuthority(secret string) *TokenAuthority {
	return &TokenAuthority{secret: []byte(secret), now: time.Now}
}

func (a *TokenAuthority) Issue(participantID string, presenter bool, ttl time.Duration) (string, error) {
	now := a.now()
	claims := &Claims{
		ParticipantID: participantID,
		Presenter:     presenter,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   participantID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *TokenAuthority) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// AuthMiddleware requires a bearer token issued by auth. Rejections go
// through ErrorHandlerMiddleware.
func AuthMiddleware(auth *TokenAuthority) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "authorization header required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			unauthorized(c, "invalid authorization header format")
			return
		}

		claims, err := auth.Validate(parts[1])
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		c.Set(participantKey, claims.ParticipantID)
		c.Set(presenterKey, claims.Presenter)
		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	_ = c.Error(apperrors.NewUnauthorizedError(message))
	c.Abort()
}

// Presenter returns the presenter claim of an authenticated request. ok is
// false when the request went through no AuthMiddleware.
func Presenter(c *gin.Context) (presenter bool, ok bool) {
	v, exists := c.Get(presenterKey)
	if !exists {
		return false, false
	}
	presenter, ok = v.(bool)
	return presenter, ok
}

func ParticipantID(c *gin.Context) string {
	return c.GetString(participantKey)
}
