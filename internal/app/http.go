package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"storyboard/api/internal/auth"
	"storyboard/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/v1/systeminfo" {
		writeJSON(w, http.StatusOK, s.service.SystemInfo())
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/v1/openid/authorize" {
		s.handleAuthorize(w, r)
		return
	}

	if r.URL.Path == "/v1/openid/authorize_return" {
		s.handleAuthorizeReturn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/v1/openid/token" {
		s.handleToken(w, r)
		return
	}

	caller := Caller{}
	if token := bearerToken(r); token != "" {
		resolved, err := s.service.CallerFromToken(r.Context(), token)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		caller = resolved
	} else if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeServiceError(w, unauthorized())
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "invalid_request", "not found", "")
		return
	}
	parts = parts[1:]

	for _, route := range []func(http.ResponseWriter, *http.Request, Caller, []string) bool{
		s.routeUsers,
		s.routeProjects,
		s.routeStories,
		s.routeTasks,
		s.routeWorklists,
		s.routeBoards,
		s.routeSubscriptions,
		s.routeEvents,
	} {
		if route(w, r, caller, parts) {
			return
		}
	}

	writeError(w, http.StatusNotFound, "invalid_request", "not found", "")
}

// handleAuthorize starts the login flow with a 303 to the OpenID provider.
func (s *HTTPServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	location, err := s.service.auth.BeginAuthorize(
		q.Get("client_id"),
		q.Get("redirect_uri"),
		q.Get("response_type"),
		q.Get("scope"),
		q.Get("state"),
		r.URL.String(),
	)
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// handleAuthorizeReturn verifies the provider's assertion and redirects back
// to the client with a fresh authorization code.
func (s *HTTPServer) handleAuthorizeReturn(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil {
			params = r.Form
		}
	}
	location, err := s.service.auth.CompleteAuthorize(r.Context(), params)
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}

// handleToken exchanges an authorization code or refresh token for a new
// token pair.
func (s *HTTPServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid form body", "")
		return
	}
	resp, err := s.service.auth.Exchange(
		r.Context(),
		r.Form.Get("grant_type"),
		r.Form.Get("code"),
		r.Form.Get("refresh_token"),
	)
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	s.service.cacheToken(r.Context(), resp)
	writeJSON(w, http.StatusOK, resp)
}

// writeOAuthError delivers an OAuth failure by redirect when the error
// carries a usable redirect URI, as a JSON body otherwise.
func writeOAuthError(w http.ResponseWriter, err error) {
	var oe *auth.OAuthError
	if errors.As(err, &oe) && oe.RedirectURI != "" {
		values := url.Values{"error": {oe.Code}, "error_description": {oe.Description}}
		if oe.State != "" {
			values.Set("state", oe.State)
		}
		sep := "?"
		if strings.Contains(oe.RedirectURI, "?") {
			sep = "&"
		}
		w.Header().Set("Location", oe.RedirectURI+sep+values.Encode())
		w.WriteHeader(http.StatusSeeOther)
		return
	}
	writeServiceError(w, err)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, description, field string) {
	response := map[string]any{
		"error":             code,
		"error_description": description,
	}
	if field != "" {
		response["field"] = field
	}
	writeJSON(w, status, response)
}

func writeServiceError(w http.ResponseWriter, err error) {
	status, code, description, field := mapError(err)
	writeError(w, status, code, description, field)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// parsePaging reads the list-endpoint paging parameters.
func parsePaging(r *http.Request) store.Paging {
	q := r.URL.Query()
	p := store.Paging{
		SortField: q.Get("sort_field"),
		SortDir:   q.Get("sort_dir"),
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		p.Limit = v
	}
	if v, err := strconv.ParseInt(q.Get("marker"), 10, 64); err == nil && v > 0 {
		p.Marker = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		p.Offset = v
	}
	return p
}

// setListHeaders reports the unpaged total and the applied paging window.
func setListHeaders(w http.ResponseWriter, total int, p store.Paging) {
	w.Header().Set("X-Total", strconv.Itoa(total))
	if p.Limit > 0 {
		w.Header().Set("X-Limit", strconv.Itoa(p.Limit))
	}
	if p.Marker > 0 {
		w.Header().Set("X-Marker", strconv.FormatInt(p.Marker, 10))
	}
	if p.Offset > 0 {
		w.Header().Set("X-Offset", strconv.Itoa(p.Offset))
	}
}

func pathID(part string) (int64, bool) {
	id, err := strconv.ParseInt(part, 10, 64)
	return id, err == nil && id > 0
}

func queryInt64(r *http.Request, key string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return v
}

func queryInt64Ptr(r *http.Request, key string) *int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func methodNotAllowed(w http.ResponseWriter) bool {
	writeError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed", "")
	return true
}
