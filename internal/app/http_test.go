package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"policyforge/api/internal/auth"
	"policyforge/api/internal/util"
)

type failingPingStore struct {
	fakeStore
}

func (f *failingPingStore) Ping(context.Context) error {
	return errors.New("connection refused")
}

func newTestServer(t *testing.T, ds dataStore) (*HTTPServer, *Service) {
	t.Helper()
	svc, _, _ := newTestService(t, ds)
	return NewHTTPServer(svc, "*"), svc
}

func testToken(t *testing.T, svc *Service, role string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(svc.cfg.JWTSecret), auth.Claims{
		Sub:   "usr_test",
		Email: "avery@acme.dev",
		Name:  "Avery",
		Role:  role,
		OrgID: 1,
		JTI:   util.NewID("jti"),
		Exp:   time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, server *HTTPServer, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, &fakeStore{})

	rec := doJSON(t, server, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := decodeResponse(t, rec)
	if payload["ok"] != true {
		t.Errorf("expected ok true, got %v", payload["ok"])
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestReadyEndpointReportsDatabaseFailure(t *testing.T) {
	server, _ := newTestServer(t, &failingPingStore{})

	rec := doJSON(t, server, http.MethodGet, "/api/ready", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	payload := decodeResponse(t, rec)
	if payload["status"] != "not_ready" {
		t.Errorf("expected not_ready, got %v", payload["status"])
	}
}

func TestPreflightRequest(t *testing.T) {
	server, _ := newTestServer(t, &fakeStore{})

	rec := doJSON(t, server, http.MethodOptions, "/api/v1/documents", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("expected CORS origin header, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestMissingTokenUnauthorized(t *testing.T) {
	server, _ := newTestServer(t, &fakeStore{})

	rec := doJSON(t, server, http.MethodGet, "/api/v1/documents", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	payload := decodeResponse(t, rec)
	if payload["code"] != "UNAUTHORIZED" {
		t.Errorf("expected UNAUTHORIZED, got %v", payload["code"])
	}
}

func TestGarbageTokenUnauthorized(t *testing.T) {
	server, _ := newTestServer(t, &fakeStore{})

	rec := doJSON(t, server, http.MethodGet, "/api/v1/documents", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestViewerCannotCreateDocument(t *testing.T) {
	server, svc := newTestServer(t, newMemStore())
	token := testToken(t, svc, "viewer")

	rec := doJSON(t, server, http.MethodPost, "/api/v1/documents", token, map[string]any{
		"templateKey": "access_control_policy",
		"params":      acmeParams(),
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	payload := decodeResponse(t, rec)
	if payload["code"] != "FORBIDDEN" {
		t.Errorf("expected FORBIDDEN, got %v", payload["code"])
	}
}

func TestSessionEndpoint(t *testing.T) {
	server, svc := newTestServer(t, newMemStore())

	rec := doJSON(t, server, http.MethodGet, "/api/auth/session", "", nil)
	payload := decodeResponse(t, rec)
	if payload["authenticated"] != false {
		t.Errorf("expected unauthenticated without token, got %v", payload["authenticated"])
	}

	token := testToken(t, svc, "editor")
	rec = doJSON(t, server, http.MethodGet, "/api/auth/session", token, nil)
	payload = decodeResponse(t, rec)
	if payload["authenticated"] != true {
		t.Fatalf("expected authenticated, got %v", payload["authenticated"])
	}
	if payload["role"] != "editor" || payload["email"] != "avery@acme.dev" {
		t.Errorf("unexpected session payload %v", payload)
	}
}

func TestDocumentLifecycleOverHTTP(t *testing.T) {
	ms := newMemStore()
	server, svc := newTestServer(t, ms)
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	token := testToken(t, svc, "editor")

	rec := doJSON(t, server, http.MethodPost, "/api/v1/documents", token, map[string]any{
		"templateKey": "access_control_policy",
		"title":       "Acme Access Control",
		"params":      acmeParams(),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	created := decodeResponse(t, rec)
	docID := created["id"].(string)

	params := acmeParams()
	params["password_min_length"] = 16
	rec = doJSON(t, server, http.MethodPost, "/api/v1/documents/"+docID+"/versions", token, map[string]any{
		"params": params,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add version: expected 201, got %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, server, http.MethodGet, "/api/v1/documents/"+docID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	detail := decodeResponse(t, rec)
	if detail["latestVersion"] != float64(2) {
		t.Errorf("expected latestVersion 2, got %v", detail["latestVersion"])
	}

	rec = doJSON(t, server, http.MethodPost, "/api/v1/documents/"+docID+"/versions/1/rollback", token, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("rollback: expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	rolled := decodeResponse(t, rec)
	if rolled["version"] != float64(3) {
		t.Errorf("expected v3 from rollback, got %v", rolled["version"])
	}
	if rolled["rolledBackFrom"] != float64(1) {
		t.Errorf("expected rolledBackFrom 1, got %v", rolled["rolledBackFrom"])
	}

	rec = doJSON(t, server, http.MethodGet, "/api/v1/documents/"+docID+"/versions/latest", token, nil)
	latest := decodeResponse(t, rec)
	if latest["version"] != float64(3) {
		t.Errorf("expected latest v3, got %v", latest["version"])
	}

	rec = doJSON(t, server, http.MethodGet, "/api/v1/documents/"+docID+"/versions/abc", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad selector, got %d", rec.Code)
	}

	rec = doJSON(t, server, http.MethodGet, "/api/v1/documents/"+docID+"/versions/1/export?format=html", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Errorf("unexpected export content type %q", got)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "attachment") {
		t.Errorf("expected attachment disposition, got %q", rec.Header().Get("Content-Disposition"))
	}
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	ms := newMemStore()
	server, svc := newTestServer(t, ms)
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	token := testToken(t, svc, "admin")

	rec := doJSON(t, server, http.MethodPost, "/api/v1/documents", token, map[string]any{
		"templateKey": "access_control_policy",
		"params":      acmeParams(),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", rec.Code)
	}
	docID := decodeResponse(t, rec)["id"].(string)

	rec = doJSON(t, server, http.MethodPost, "/api/v1/documents/"+docID+"/approvals", token, map[string]any{
		"version":  1,
		"reviewer": "Alice@Acme.dev",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("request approval: expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	requested := decodeResponse(t, rec)
	if requested["reviewer"] != "alice@acme.dev" {
		t.Errorf("expected normalized reviewer email, got %v", requested["reviewer"])
	}
	approvalID := requested["id"].(string)

	rec = doJSON(t, server, http.MethodPatch, fmt.Sprintf("/api/v1/documents/%s/approvals/%s", docID, approvalID), token, map[string]any{
		"status": "approved",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("decide: expected 200, got %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, server, http.MethodPatch, fmt.Sprintf("/api/v1/documents/%s/approvals/%s", docID, approvalID), token, map[string]any{
		"status": "rejected",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second decide: expected 409, got %d", rec.Code)
	}
	payload := decodeResponse(t, rec)
	if payload["code"] != "CONFLICT" {
		t.Errorf("expected CONFLICT, got %v", payload["code"])
	}
}

func TestViewerCannotDecideApproval(t *testing.T) {
	ms := newMemStore()
	server, svc := newTestServer(t, ms)
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	editorToken := testToken(t, svc, "editor")

	rec := doJSON(t, server, http.MethodPost, "/api/v1/documents", editorToken, map[string]any{
		"templateKey": "access_control_policy",
		"params":      acmeParams(),
	})
	docID := decodeResponse(t, rec)["id"].(string)

	viewerToken := testToken(t, svc, "viewer")
	rec = doJSON(t, server, http.MethodPost, "/api/v1/documents/"+docID+"/approvals", viewerToken, map[string]any{
		"reviewer": "alice@acme.dev",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d", rec.Code)
	}
}

func TestFrameworkEndpoints(t *testing.T) {
	server, svc := newTestServer(t, newMemStore())
	token := testToken(t, svc, "editor")

	rec := doJSON(t, server, http.MethodGet, "/api/v1/frameworks", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list frameworks: expected 200, got %d", rec.Code)
	}
	payload := decodeResponse(t, rec)
	frameworks := payload["frameworks"].([]any)
	if len(frameworks) < 3 {
		t.Errorf("expected at least 3 frameworks, got %d", len(frameworks))
	}

	rec = doJSON(t, server, http.MethodGet, "/api/v1/frameworks/cis_v8", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get framework: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, server, http.MethodGet, "/api/v1/frameworks/unknown", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown framework, got %d", rec.Code)
	}

	rec = doJSON(t, server, http.MethodPatch, "/api/v1/frameworks/cis_v8/controls/CIS-01/assessment", token, map[string]any{
		"status": "in_progress",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert assessment: expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	assessment := decodeResponse(t, rec)
	if assessment["status"] != "in_progress" {
		t.Errorf("expected in_progress, got %v", assessment["status"])
	}

	rec = doJSON(t, server, http.MethodGet, "/api/v1/frameworks/cis_v8/export/csv", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("csv export: expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/csv; charset=utf-8" {
		t.Errorf("unexpected csv content type %q", got)
	}
	if !strings.Contains(rec.Body.String(), "CIS-01") {
		t.Error("expected CSV body to list controls")
	}
}

func TestSearchLimitValidation(t *testing.T) {
	server, svc := newTestServer(t, newMemStore())
	token := testToken(t, svc, "viewer")

	rec := doJSON(t, server, http.MethodGet, "/api/v1/search?q=policy&limit=abc", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a non-integer limit, got %d", rec.Code)
	}

	rec = doJSON(t, server, http.MethodGet, "/api/v1/search?q=policy", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	payload := decodeResponse(t, rec)
	if _, ok := payload["results"]; !ok {
		t.Error("expected a results field")
	}
}

func TestUsersEndpointAdminOnly(t *testing.T) {
	server, svc := newTestServer(t, newMemStore())

	editorToken := testToken(t, svc, "editor")
	rec := doJSON(t, server, http.MethodGet, "/api/v1/users", editorToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}

	adminToken := testToken(t, svc, "admin")
	rec = doJSON(t, server, http.MethodGet, "/api/v1/users", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownRouteNotFound(t *testing.T) {
	server, svc := newTestServer(t, newMemStore())
	token := testToken(t, svc, "editor")

	rec := doJSON(t, server, http.MethodGet, "/api/v1/nope", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
