package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitIsPerActor(t *testing.T) {
	// Arrange
	gin.SetMode(gin.TestMode)
	limit, err := RateLimit("2-M")
	require.NoError(t, err)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(actorKey, Actor{ID: c.GetHeader("X-Actor"), Kind: ActorTester})
		c.Next()
	})
	r.POST("/approve", limit, func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(actorID string) int {
		req := httptest.NewRequest(http.MethodPost, "/approve", nil)
		req.Header.Set("X-Actor", actorID)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	// Act & Assert
	assert.Equal(t, http.StatusOK, call("tester-1"))
	assert.Equal(t, http.StatusOK, call("tester-1"))
	assert.Equal(t, http.StatusTooManyRequests, call("tester-1"))
	assert.Equal(t, http.StatusOK, call("tester-2"), "other testers keep their own budget")
}

func TestRateLimitRejectsMalformedRate(t *testing.T) {
	_, err := RateLimit("five per minute")
	assert.Error(t, err)
}

func TestRequestIDIsReused(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(requestIDKey)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-42", w.Body.String())
}
