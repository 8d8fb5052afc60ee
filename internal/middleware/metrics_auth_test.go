package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

const testToken = "test-secret-token-123"

func TestMetricsAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		configured string
		header     string
		wantStatus int
	}{
		{"no token configured", "", "", http.StatusOK},
		{"valid token", testToken, "Bearer " + testToken, http.StatusOK},
		{"lowercase scheme", testToken, "bearer " + testToken, http.StatusOK},
		{"wrong token", testToken, "Bearer wrong-token", http.StatusUnauthorized},
		{"missing header", testToken, "", http.StatusUnauthorized},
		{"basic scheme", testToken, "Basic dGVzdDp0ZXN0", http.StatusUnauthorized},
		{"empty bearer", testToken, "Bearer ", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(MetricsAuthMiddleware(tt.configured))
			r.GET("/metrics", func(c *gin.Context) {
				c.String(http.StatusOK, "metrics")
			})

			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "metrics", w.Body.String())
			} else {
				assert.Equal(t, `Bearer realm="metrics"`, w.Header().Get("WWW-Authenticate"))
				assert.Contains(t, w.Body.String(), "unauthorized")
			}
		})
	}
}
