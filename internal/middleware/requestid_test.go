package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newRequestIDRouter echoes the id stored in the context as a response header.
func newRequestIDRouter() *gin.Engine {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) {
		c.Header("X-Context-Request-ID", RequestID(c))
		c.Status(http.StatusOK)
	})
	return r
}

func serveRequestID(r *gin.Engine, inbound string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if inbound != "" {
		req.Header.Set(RequestIDHeader, inbound)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// RequestIDMiddleware
// ---------------------------------------------------------------------------

func TestRequestIDMiddleware_GeneratesUUIDWhenAbsent(t *testing.T) {
	w := serveRequestID(newRequestIDRouter(), "")

	id := w.Header().Get(RequestIDHeader)
	if len(id) != 36 {
		t.Fatalf("expected UUID-format request ID (length 36), got %q", id)
	}
	if id[8] != '-' || id[13] != '-' || id[18] != '-' || id[23] != '-' {
		t.Errorf("expected UUID with dashes at positions 8, 13, 18, 23; got %q", id)
	}
}

func TestRequestIDMiddleware_PropagatesIncomingID(t *testing.T) {
	const upstream = "lb-7f3a2c-0001"
	w := serveRequestID(newRequestIDRouter(), upstream)

	if got := w.Header().Get(RequestIDHeader); got != upstream {
		t.Errorf("response X-Request-ID = %q, want %q", got, upstream)
	}
	if got := w.Header().Get("X-Context-Request-ID"); got != upstream {
		t.Errorf("context request id = %q, want %q", got, upstream)
	}
}

func TestRequestIDMiddleware_ReplacesUnusableIncomingID(t *testing.T) {
	for _, bad := range []string{
		strings.Repeat("a", maxRequestIDLength+1),
		"has space",
		"tab\there",
	} {
		w := serveRequestID(newRequestIDRouter(), bad)
		got := w.Header().Get(RequestIDHeader)
		if got == bad || len(got) != 36 {
			t.Errorf("inbound %q: got %q, want a fresh UUID", bad, got)
		}
	}
}

func TestRequestIDMiddleware_DifferentIDsPerRequest(t *testing.T) {
	r := newRequestIDRouter()

	ids := make(map[string]struct{}, 10)
	for i := range 10 {
		id := serveRequestID(r, "").Header().Get(RequestIDHeader)
		if _, seen := ids[id]; seen {
			t.Errorf("duplicate request ID %q on iteration %d", id, i)
		}
		ids[id] = struct{}{}
	}
}

func TestRequestID_EmptyWithoutMiddleware(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if got := RequestID(c); got != "" {
		t.Errorf("RequestID() = %q, want empty", got)
	}
}
