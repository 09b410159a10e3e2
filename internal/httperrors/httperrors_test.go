package httperrors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(handler gin.HandlerFunc) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	handler(c)
	return w
}

func TestRespondUnauthorized(t *testing.T) {
	w := run(func(c *gin.Context) { RespondUnauthorized(c, "") })
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), MsgUnauthorized)

	w = run(func(c *gin.Context) { RespondUnauthorized(c, "Session cannot be refreshed") })
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Session cannot be refreshed")
}

func TestRespondSessionNotFound_IsUnauthorized(t *testing.T) {
	w := run(RespondSessionNotFound)
	// An unknown session is an authentication failure, not a 404
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), CodeNotFound)
}

func TestRespondRateLimited_RetryAfterRounding(t *testing.T) {
	tests := []struct {
		name        string
		retryMs     int
		wantSeconds string
	}{
		{"sub-second rounds up to one", 250, "1"},
		{"exact second", 2000, "2"},
		{"partial second rounds up", 2500, "3"},
		{"zero still reports one", 0, "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := run(func(c *gin.Context) { RespondRateLimited(c, tt.retryMs) })
			require.Equal(t, http.StatusTooManyRequests, w.Code)
			assert.Equal(t, tt.wantSeconds, w.Header().Get("Retry-After"))
			// No else needed: optional operation (zero intervals are omitted from the body)
			if tt.retryMs > 0 {
				assert.Contains(t, w.Body.String(), "retry_after_ms")
			}
		})
	}
}

func TestRespondInternalError_NoDetailLeaked(t *testing.T) {
	w := run(RespondInternalError)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), MsgInternalError)
}

func TestRespondForbidden(t *testing.T) {
	w := run(RespondForbidden)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
