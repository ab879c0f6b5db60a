package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"redline/internal/config"
	"redline/internal/db"
	"redline/internal/domain"
	"redline/internal/engine"
	"redline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	ctx := context.Background()
	for _, u := range []struct{ username, email, role string }{
		{"root", "root@deeplogicai.tech", "ADMIN"},
		{"mia", "mia@deeplogicai.tech", "MAINTAINER"},
		{"rey", "rey@deeplogicai.tech", "REPORTER"},
	} {
		if _, err := e.CreateUser(ctx, engine.UserCreateOptions{
			Username: u.username,
			Email:    u.email,
			Password: "s3cret-pass",
			Role:     u.role,
		}); err != nil {
			t.Fatalf("seed user %s: %v", u.username, err)
		}
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func login(t *testing.T, srv *testServer, email string) string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/login", map[string]any{
		"email":    email,
		"password": "s3cret-pass",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login %s: %d %s", email, res.StatusCode, string(data))
	}
	var out LoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if out.Token == "" {
		t.Fatal("login returned empty token")
	}
	return out.Token
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func reporterKey(t *testing.T, srv *testServer) string {
	t.Helper()
	_, plaintext, err := srv.Engine.CreateAPIKey(context.Background(), "rey", "test")
	if err != nil {
		t.Fatalf("mint api key: %v", err)
	}
	return plaintext
}

func TestLoginRules(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	login(t, srv, "mia@deeplogicai.tech")

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/login", map[string]any{
		"email": "mia@deeplogicai.tech", "password": "nope",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password: %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/login", map[string]any{
		"email": "rey@deeplogicai.tech", "password": "s3cret-pass",
	}, nil)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("reporter login: %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/login", map[string]any{
		"email": "mia@gmail.com", "password": "s3cret-pass",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("outside domain: %d %s", res.StatusCode, string(body))
	}
}

func TestIssueLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	token := login(t, srv, "mia@deeplogicai.tech")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues", map[string]any{
		"title":       "Payment service leaks file handles",
		"description": "fd count grows without bound",
		"severity":    "HIGH",
	}, bearer(token))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create issue: %d %s", res.StatusCode, string(data))
	}
	var created IssueResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal issue: %v", err)
	}
	if created.Status != "OPEN" {
		t.Fatalf("new issue status %s", created.Status)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/issues/"+created.ID+"/status", map[string]any{
		"status": "TRIAGED",
	}, bearer(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("triage: %d %s", res.StatusCode, string(data))
	}

	// skipping IN_PROGRESS is rejected with the envelope code
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/issues/"+created.ID+"/status", map[string]any{
		"status": "DONE",
	}, bearer(token))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("shortcut to DONE: %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "invalid_transition" {
		t.Fatalf("error code %q", envelope.Error.Code)
	}

	for _, status := range []string{"IN_PROGRESS", "DONE"} {
		res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/issues/"+created.ID+"/status", map[string]any{
			"status": status,
		}, bearer(token))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("to %s: %d %s", status, res.StatusCode, string(data))
		}
	}
}

func TestReporterViaAPIKey(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	key := reporterKey(t, srv)
	headers := map[string]string{"X-Api-Key": key}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues", map[string]any{
		"title":       "Crash on empty payload",
		"description": "panic in decoder",
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("reporter create issue: %d %s", res.StatusCode, string(data))
	}
	var created IssueResponse
	_ = json.Unmarshal(data, &created)
	if created.Severity != "MEDIUM" {
		t.Fatalf("default severity %s", created.Severity)
	}

	// the workflow is closed to reporters, their own issues included
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/issues/"+created.ID+"/status", map[string]any{
		"status": "TRIAGED",
	}, headers)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("reporter transition: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/issues/"+created.ID, map[string]any{
		"title": "renamed",
	}, headers)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("reporter edit: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues/"+created.ID+"/comments", map[string]any{
		"content": "still reproducible on main",
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("reporter comment: %d %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/issues", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no credentials: %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/issues", nil, map[string]string{"X-Api-Key": "rk_bogus"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bogus key: %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open: %d", res.StatusCode)
	}
}

func TestAdminUserManagement(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	adminToken := login(t, srv, "root@deeplogicai.tech")
	maintToken := login(t, srv, "mia@deeplogicai.tech")

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/users/rey/role", map[string]any{
		"role": "MAINTAINER",
	}, bearer(maintToken))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("maintainer set role: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/users/rey/role", map[string]any{
		"role": "MAINTAINER",
	}, bearer(adminToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin set role: %d %s", res.StatusCode, string(data))
	}
	var u UserResponse
	_ = json.Unmarshal(data, &u)
	if u.Role != string(domain.RoleMaintainer) {
		t.Fatalf("role after promote: %s", u.Role)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/users/api-keys", map[string]any{
		"username": "rey", "name": "ci",
	}, bearer(adminToken))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("mint key: %d %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	_ = json.Unmarshal(data, &key)
	if key.Key == "" {
		t.Fatal("plaintext key missing from mint response")
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/auth/me", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me via minted key: %d", res.StatusCode)
	}
}

func TestIssueListPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	token := login(t, srv, "mia@deeplogicai.tech")

	for i := 0; i < 3; i++ {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues", map[string]any{
			"title":       "bulk",
			"description": "bulk",
			"severity":    "LOW",
		}, bearer(token))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create %d: %d %s", i, res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/issues?limit=2", nil, bearer(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first page: %d %s", res.StatusCode, string(data))
	}
	var page IssueListResponse
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("first page items=%d cursor=%q", len(page.Items), page.NextCursor)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/issues?limit=2&cursor="+page.NextCursor, nil, bearer(token))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second page: %d %s", res.StatusCode, string(data))
	}
	var page2 IssueListResponse
	_ = json.Unmarshal(data, &page2)
	if len(page2.Items) != 1 || page2.NextCursor != "" {
		t.Fatalf("second page items=%d cursor=%q", len(page2.Items), page2.NextCursor)
	}
}
