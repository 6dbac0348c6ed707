package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"quizdesk/internal/auth"
)

func TestNormalizedPath(t *testing.T) {
	got := normalizedPath("/api/v1/public/sessions/8a6e0804-2bd0-4672-b79d-d97027f9071a/answers/12")
	want := "/api/v1/public/sessions/{id}/answers/{id}"
	if got != want {
		t.Fatalf("normalizedPath mismatch got=%s want=%s", got, want)
	}
}

func TestExtractSessionID(t *testing.T) {
	if id := extractSessionID("/api/v1/public/sessions/abc/submit"); id != "abc" {
		t.Fatalf("expected abc, got %q", id)
	}
	if id := extractSessionID("/api/v1/quizzes/1"); id != "" {
		t.Fatalf("expected empty for non-session path, got %q", id)
	}
}

func TestMiddlewareCountsRequests(t *testing.T) {
	c := NewCollector(nil)
	h := c.Middleware(TagOwner(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/quizzes/42", nil)
	req = req.WithContext(auth.ContextWithOwner(req.Context(), &auth.Owner{ID: "o1"}))
	h.ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	c.MetricsHandler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `quizdesk_http_requests_total{method="GET",path="/api/v1/quizzes/{id}",status="418"} 1`) {
		t.Fatalf("missing request counter in:\n%s", body)
	}
}
