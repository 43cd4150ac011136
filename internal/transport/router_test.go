package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func okHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(body))
	})
}

// testDeps returns Dependencies with stub handlers and services.
func testDeps() Dependencies {
	return Dependencies{
		HandlerTimeout: 5 * time.Second,
		Bootstrap:      &stubControl{},
		Forms:          newStubCatalog(),
		HealthHandler:  okHandler("healthy"),
		ReadyHandler:   okHandler("ready"),
		MetricsHandler: okHandler("metrics"),
	}
}

// --- Router tests ---

func TestNewRouter_operationalEndpoints(t *testing.T) {
	r := NewRouter(testDeps())

	for path, want := range map[string]string{
		"/healthz": "healthy",
		"/readyz":  "ready",
		"/metrics": "metrics",
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		if w.Code != 200 {
			t.Errorf("%s status = %d, want 200", path, w.Code)
		}
		if w.Body.String() != want {
			t.Errorf("%s body = %q, want %q", path, w.Body.String(), want)
		}
	}
}

func TestNewRouter_routesRegistered(t *testing.T) {
	r := NewRouter(testDeps())

	routes := []struct {
		method string
		path   string
	}{
		{"GET", "/bootstrap"},
		{"POST", "/bootstrap"},
		{"GET", "/forms"},
		{"GET", "/forms/12345"},
	}
	for _, rt := range routes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(rt.method, rt.path, nil))
		if w.Code == http.StatusNotFound || w.Code == http.StatusMethodNotAllowed {
			t.Errorf("%s %s status = %d, route should be registered", rt.method, rt.path, w.Code)
		}
	}
}

func TestNewRouter_nilDependenciesLeaveRoutesOut(t *testing.T) {
	r := NewRouter(Dependencies{})

	for _, path := range []string{"/healthz", "/bootstrap", "/forms"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, w.Code)
		}
	}
}

func TestNewRouter_middlewareSeesMatchedRoute(t *testing.T) {
	var pattern string
	deps := testDeps()
	deps.Middleware = []func(http.Handler) http.Handler{
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r)
				pattern = chi.RouteContext(r.Context()).RoutePattern()
			})
		},
	}
	r := NewRouter(deps)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/forms/100", nil))
	if pattern != "/forms/{formId}" {
		t.Errorf("route pattern = %q, want /forms/{formId}", pattern)
	}
}

// --- Middleware tests ---

func TestRecovery_catchesPanic(t *testing.T) {
	handler := Recovery(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != 500 {
		t.Errorf("status = %d, want 500 after panic", w.Code)
	}
	var body map[string]ErrorBody
	json.NewDecoder(w.Body).Decode(&body)
	if body["error"].Code != "INTERNAL_ERROR" {
		t.Errorf("error code = %q, want INTERNAL_ERROR", body["error"].Code)
	}
}

func TestRecovery_passesThrough(t *testing.T) {
	handler := Recovery(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestRequestID_generated(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := CorrelationIDFrom(r.Context())
		if id == "" {
			t.Error("correlation ID should be generated")
		}
		w.WriteHeader(200)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if got := w.Header().Get("X-Correlation-Id"); len(got) != 36 {
		t.Errorf("X-Correlation-Id = %q, want a uuid", got)
	}
}

func TestRequestID_propagated(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := CorrelationIDFrom(r.Context())
		if id != "test-corr-123" {
			t.Errorf("correlation ID = %q, want test-corr-123", id)
		}
		w.WriteHeader(200)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Correlation-Id", "test-corr-123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-Id"); got != "test-corr-123" {
		t.Errorf("response X-Correlation-Id = %q, want test-corr-123", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	expected := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	}
	for header, want := range expected {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestHandlerTimeout_setsDeadline(t *testing.T) {
	var hasDeadline bool
	handler := HandlerTimeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if !hasDeadline {
		t.Error("context should have a deadline")
	}
}

func TestHandlerTimeout_zeroNoDeadline(t *testing.T) {
	var hasDeadline bool
	handler := HandlerTimeout(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	}))
	req := httptest.NewRequest("GET", "/", nil).WithContext(context.Background())
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if hasDeadline {
		t.Error("context should not have a deadline for zero timeout")
	}
}

func TestRequestLogging_capturesStatus(t *testing.T) {
	handler := RequestLogging(nopLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", w.Code)
	}
}
