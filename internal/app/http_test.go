package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"storyboard/api/internal/store"
)

func (f *fakeStore) ListUsers(ctx context.Context, nameFilter string, p store.Paging) ([]store.User, int, error) {
	users := make([]store.User, 0, len(f.users))
	for _, u := range f.users {
		users = append(users, u)
	}
	return users, len(users), nil
}

func newTestHandler(f *fakeStore) http.Handler {
	svc := newTestService(f)
	return NewHTTPServer(svc, "https://board.example.org").Handler()
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestPreflightRequest(t *testing.T) {
	handler := newTestHandler(newFakeStore())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/v1/stories", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://board.example.org" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestSystemInfo(t *testing.T) {
	handler := newTestHandler(newFakeStore())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/systeminfo", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["version"] != "test" {
		t.Fatalf("version = %v", body["version"])
	}
}

func TestWriteWithoutTokenRejected(t *testing.T) {
	handler := newTestHandler(newFakeStore())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/stories", strings.NewReader(`{"title":"x"}`))
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	body := decodeErrorBody(t, rec)
	if body["error"] != "access_denied" {
		t.Fatalf("error = %v", body["error"])
	}
	if body["error_description"] == "" {
		t.Fatal("missing error_description")
	}
}

func TestAnonymousReadAllowed(t *testing.T) {
	handler := newTestHandler(newFakeStore())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stories/10", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var story store.Story
	if err := json.NewDecoder(rec.Body).Decode(&story); err != nil {
		t.Fatalf("decode story: %v", err)
	}
	if story.Title != "a story" {
		t.Fatalf("title = %q", story.Title)
	}
}

func TestNotFoundErrorBody(t *testing.T) {
	handler := newTestHandler(newFakeStore())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stories/999", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	body := decodeErrorBody(t, rec)
	if body["error"] != "invalid_request" || body["error_description"] != "not found" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	handler := newTestHandler(newFakeStore())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/nonsense", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListHeaders(t *testing.T) {
	handler := newTestHandler(newFakeStore())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users?limit=2&offset=1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Total"); got != "3" {
		t.Fatalf("X-Total = %q, want 3", got)
	}
	if got := rec.Header().Get("X-Limit"); got != "2" {
		t.Fatalf("X-Limit = %q, want 2", got)
	}
	if got := rec.Header().Get("X-Offset"); got != "1" {
		t.Fatalf("X-Offset = %q, want 1", got)
	}
	if got := rec.Header().Get("X-Marker"); got != "" {
		t.Fatalf("X-Marker = %q, want unset", got)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	handler := newTestHandler(newFakeStore())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/systeminfo", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("X-Request-ID = %q", got)
	}
}

func TestNonNumericIDIs404(t *testing.T) {
	handler := newTestHandler(newFakeStore())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users/abc", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for non-numeric id", rec.Code)
	}
}
