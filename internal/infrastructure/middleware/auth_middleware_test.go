package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "sharecast/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTokenAuthority_IssueAndValidate(t *testing.T) {
	auth := NewTokenAuthority("secret")

	token, err := auth.Issue("alice", true, time.Hour)
	require.NoError(t, err)

	claims, err := auth.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.ParticipantID)
	assert.True(t, claims.Presenter)

	_, err = NewTokenAuthority("other").Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = auth.Validate("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenAuthority_Expired(t *testing.T) {
	auth := NewTokenAuthority("secret")
	issued := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return issued }

	token, err := auth.Issue("alice", false, time.Minute)
	require.NoError(t, err)

	auth.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = auth.Validate(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := NewTokenAuthority("secret")

	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()), AuthMiddleware(auth))
	router.GET("/who", func(c *gin.Context) {
		presenter, ok := Presenter(c)
		c.JSON(http.StatusOK, gin.H{"participant": ParticipantID(c), "presenter": presenter, "ok": ok})
	})

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/who", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			router.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			assert.Contains(t, w.Body.String(), string(apperrors.ErrCodeUnauthorized))
		})
	}

	token, err := auth.Issue("bob", true, time.Hour)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"participant":"bob","presenter":true,"ok":true}`, w.Body.String())
}

func TestPresenter_Unauthenticated(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, ok := Presenter(c)
	assert.False(t, ok)
}
