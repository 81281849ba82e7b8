package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/kdnsfwd/internal/api/middleware"
	"github.com/stretchr/testify/assert"
)

func newRouter(apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/api")
	if apiKey != "" {
		g.Use(middleware.RequireAPIKey(apiKey))
	}
	g.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRequireAPIKey_NoKeyConfigured(t *testing.T) {
	r := newRouter("")
	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAPIKey_ValidKey(t *testing.T) {
	r := newRouter("secret")
	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("X-API-Key", "secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAPIKey_MissingKey(t *testing.T) {
	r := newRouter("secret")
	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAPIKey_WrongKey(t *testing.T) {
	r := newRouter("secret")
	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("X-API-Key", "wrong")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
