package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/sarvex/infisical/internal/licensing"
)

func licenseCheckRouter(valid bool) *gin.Engine {
	r := gin.New()
	r.GET("/guarded", RequireValidLicense(licensing.NewStaticValidator(valid), zerolog.Nop()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestRequireValidLicense(t *testing.T) {
	r := licenseCheckRouter(true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRequireValidLicense_Invalid(t *testing.T) {
	r := licenseCheckRouter(false)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if got := w.Body.String(); got != `{"error":"license is not valid"}` {
		t.Errorf("body = %s", got)
	}
}
