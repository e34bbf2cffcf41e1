package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentworkforce/chatshelf/internal/chatshelf"
	"github.com/agentworkforce/chatshelf/internal/reconcile"
)

type fakeEngine struct {
	namespace string
	store     *chatshelf.Store
	held      atomic.Bool
	scans     atomic.Int32
}

func (f *fakeEngine) Namespace() string            { return f.namespace }
func (f *fakeEngine) Store() *chatshelf.Store      { return f.store }
func (f *fakeEngine) SetInteractionHeld(held bool) { f.held.Store(held) }
func (f *fakeEngine) RequestScan()                 { f.scans.Add(1) }

func newTestEngine(t *testing.T, namespace string) *fakeEngine {
	t.Helper()
	kv := chatshelf.NewMemoryKV()
	store := chatshelf.NewStore(kv, namespace, chatshelf.StoreOptions{})
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("load store: %v", err)
	}
	return &fakeEngine{namespace: namespace, store: store}
}

func TestAuthRequired(t *testing.T) {
	server := NewServer(newTestEngine(t, "alice"), reconcile.NewFeed())
	req := httptest.NewRequest(http.MethodGet, "/v1/namespaces/alice/projects", nil)
	rec := httptest.NewRecorder()

	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWrongAudienceRejected(t *testing.T) {
	server := NewServer(newTestEngine(t, "alice"), reconcile.NewFeed())
	token := mustTestJWTWithAudience(t, "dev-secret", "alice", "Widget", []string{"shelf:read"}, "other-service", time.Now().Add(time.Hour))

	resp := doRequest(t, server, request{
		method: http.MethodGet,
		path:   "/v1/namespaces/alice/projects",
		headers: map[string]string{
			"Authorization":    "Bearer " + token,
			"X-Correlation-Id": "corr_aud",
		},
	})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong audience, got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestScopeEnforcement(t *testing.T) {
	server := NewServer(newTestEngine(t, "alice"), reconcile.NewFeed())
	token := mustTestJWT(t, "dev-secret", "alice", "Widget", []string{"shelf:read"}, time.Now().Add(time.Hour))

	resp := doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/v1/namespaces/alice/projects",
		headers: map[string]string{
			"Authorization":    "Bearer " + token,
			"X-Correlation-Id": "corr_scope",
		},
		body: map[string]any{"name": "Research"},
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing shelf:write, got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestMissingCorrelationID(t *testing.T) {
	server := NewServer(newTestEngine(t, "alice"), reconcile.NewFeed())
	token := mustTestJWT(t, "dev-secret", "alice", "Widget", []string{"shelf:read"}, time.Now().Add(time.Hour))

	resp := doRequest(t, server, request{
		method: http.MethodGet,
		path:   "/v1/namespaces/alice/projects",
		headers: map[string]string{
			"Authorization": "Bearer " + token,
		},
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without correlation id, got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestInactiveNamespaceConflict(t *testing.T) {
	server := NewServer(newTestEngine(t, "alice"), reconcile.NewFeed())
	token := mustTestJWT(t, "dev-secret", "*", "Widget", []string{"shelf:read"}, time.Now().Add(time.Hour))

	resp := doRequest(t, server, request{
		method: http.MethodGet,
		path:   "/v1/namespaces/bob/projects",
		headers: map[string]string{
			"Authorization":    "Bearer " + token,
			"X-Correlation-Id": "corr_ns",
		},
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for inactive namespace, got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestProjectLifecycle(t *testing.T) {
	engine := newTestEngine(t, "alice")
	server := NewServer(engine, reconcile.NewFeed())
	token := mustTestJWT(t, "dev-secret", "alice", "Widget", []string{"shelf:read", "shelf:write"}, time.Now().Add(time.Hour))
	authed := func(correlation string) map[string]string {
		return map[string]string{
			"Authorization":    "Bearer " + token,
			"X-Correlation-Id": correlation,
		}
	}

	createResp := doRequest(t, server, request{
		method:  http.MethodPost,
		path:    "/v1/namespaces/alice/projects",
		headers: authed("corr_1"),
		body:    map[string]any{"name": "Research"},
	})
	if createResp.Code != http.StatusCreated {
		t.Fatalf("expected 201 on create, got %d (%s)", createResp.Code, createResp.Body.String())
	}
	var project chatshelf.Project
	if err := json.NewDecoder(createResp.Body).Decode(&project); err != nil {
		t.Fatalf("decode project: %v", err)
	}
	if project.ID == "" || project.Name != "Research" {
		t.Fatalf("unexpected project payload: %+v", project)
	}

	patchResp := doRequest(t, server, request{
		method:  http.MethodPatch,
		path:    "/v1/namespaces/alice/projects/" + project.ID,
		headers: authed("corr_2"),
		body:    map[string]any{"name": "Research Notes", "isExpanded": false},
	})
	if patchResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on patch, got %d (%s)", patchResp.Code, patchResp.Body.String())
	}
	var patched chatshelf.Project
	if err := json.NewDecoder(patchResp.Body).Decode(&patched); err != nil {
		t.Fatalf("decode patched project: %v", err)
	}
	if patched.Name != "Research Notes" || patched.Expanded {
		t.Fatalf("patch not applied: %+v", patched)
	}

	linkResp := doRequest(t, server, request{
		method:  http.MethodPost,
		path:    "/v1/namespaces/alice/projects/" + project.ID + "/link",
		headers: authed("corr_3"),
		body:    map[string]any{"contextId": "gem_42", "contextName": "Helper"},
	})
	if linkResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on link, got %d (%s)", linkResp.Code, linkResp.Body.String())
	}

	fileResp := doRequest(t, server, request{
		method:  http.MethodPost,
		path:    "/v1/namespaces/alice/chats/file",
		headers: authed("corr_4"),
		body:    map[string]any{"chatId": "abcdefgh1234", "title": "Quarterly plan", "projectId": project.ID},
	})
	if fileResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on file, got %d (%s)", fileResp.Code, fileResp.Body.String())
	}
	var filed struct {
		ChatID      chatshelf.ChatID      `json:"chatId"`
		Association chatshelf.Association `json:"association"`
	}
	if err := json.NewDecoder(fileResp.Body).Decode(&filed); err != nil {
		t.Fatalf("decode file response: %v", err)
	}
	if filed.ChatID != "c_abcdefgh1234" {
		t.Fatalf("expected canonical chat id, got %q", filed.ChatID)
	}
	if filed.Association.ProjectID != project.ID {
		t.Fatalf("association points at %q, want %q", filed.Association.ProjectID, project.ID)
	}

	assocResp := doRequest(t, server, request{
		method:  http.MethodGet,
		path:    "/v1/namespaces/alice/associations?projectId=" + project.ID,
		headers: authed("corr_5"),
	})
	if assocResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on associations, got %d (%s)", assocResp.Code, assocResp.Body.String())
	}
	var assocList struct {
		Associations map[string]chatshelf.Association `json:"associations"`
	}
	if err := json.NewDecoder(assocResp.Body).Decode(&assocList); err != nil {
		t.Fatalf("decode associations: %v", err)
	}
	if len(assocList.Associations) != 1 {
		t.Fatalf("expected one filtered association, got %d", len(assocList.Associations))
	}

	getResp := doRequest(t, server, request{
		method:  http.MethodGet,
		path:    "/v1/namespaces/alice/projects/" + project.ID,
		headers: authed("corr_6"),
	})
	if getResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on get project, got %d (%s)", getResp.Code, getResp.Body.String())
	}
	var view struct {
		chatshelf.Project
		Chats []chatshelf.FiledChat `json:"chats"`
	}
	if err := json.NewDecoder(getResp.Body).Decode(&view); err != nil {
		t.Fatalf("decode project view: %v", err)
	}
	if len(view.Chats) != 1 || view.Chats[0].Title != "Quarterly plan" {
		t.Fatalf("expected filed chat in project view, got %+v", view.Chats)
	}

	unfileResp := doRequest(t, server, request{
		method:  http.MethodPost,
		path:    "/v1/namespaces/alice/chats/unfile",
		headers: authed("corr_7"),
		body:    map[string]any{"chatId": "c_abcdefgh1234"},
	})
	if unfileResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on unfile, got %d (%s)", unfileResp.Code, unfileResp.Body.String())
	}

	deleteResp := doRequest(t, server, request{
		method:  http.MethodDelete,
		path:    "/v1/namespaces/alice/projects/" + project.ID,
		headers: authed("corr_8"),
	})
	if deleteResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d (%s)", deleteResp.Code, deleteResp.Body.String())
	}

	listResp := doRequest(t, server, request{
		method:  http.MethodGet,
		path:    "/v1/namespaces/alice/projects",
		headers: authed("corr_9"),
	})
	var list struct {
		Projects []json.RawMessage `json:"projects"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Projects) != 0 {
		t.Fatalf("expected empty project list after delete, got %d", len(list.Projects))
	}
}

func TestFileChatUnknownProject(t *testing.T) {
	server := NewServer(newTestEngine(t, "alice"), reconcile.NewFeed())
	token := mustTestJWT(t, "dev-secret", "alice", "Widget", []string{"shelf:write"}, time.Now().Add(time.Hour))

	resp := doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/v1/namespaces/alice/chats/file",
		headers: map[string]string{
			"Authorization":    "Bearer " + token,
			"X-Correlation-Id": "corr_missing",
		},
		body: map[string]any{"chatId": "c_abcdefgh1234", "projectId": "p_missing"},
	})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown project, got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestFileUnfileRequestScan(t *testing.T) {
	engine := newTestEngine(t, "alice")
	project, err := engine.store.CreateProject(context.Background(), "Research")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	server := NewServer(engine, reconcile.NewFeed())
	token := mustTestJWT(t, "dev-secret", "alice", "Widget", []string{"shelf:write"}, time.Now().Add(time.Hour))

	resp := doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/v1/namespaces/alice/chats/file",
		headers: map[string]string{
			"Authorization":    "Bearer " + token,
			"X-Correlation-Id": "corr_scan1",
		},
		body: map[string]any{"chatId": "c_abcdefgh1234", "title": "Plan", "projectId": project.ID},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("file failed: %d (%s)", resp.Code, resp.Body.String())
	}
	if got := engine.scans.Load(); got != 1 {
		t.Fatalf("filing requested %d scans, want 1", got)
	}

	resp = doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/v1/namespaces/alice/chats/unfile",
		headers: map[string]string{
			"Authorization":    "Bearer " + token,
			"X-Correlation-Id": "corr_scan2",
		},
		body: map[string]any{"chatId": "c_abcdefgh1234"},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("unfile failed: %d (%s)", resp.Code, resp.Body.String())
	}
	if got := engine.scans.Load(); got != 2 {
		t.Fatalf("unfiling requested %d scans, want 2", got)
	}

	// A rejected mutation must not nudge the loop.
	resp = doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/v1/namespaces/alice/chats/file",
		headers: map[string]string{
			"Authorization":    "Bearer " + token,
			"X-Correlation-Id": "corr_scan3",
		},
		body: map[string]any{"chatId": "c_abcdefgh1234", "projectId": "p_missing"},
	})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if got := engine.scans.Load(); got != 2 {
		t.Fatalf("failed filing requested a scan (count %d)", got)
	}
}

func TestInteractionHeld(t *testing.T) {
	engine := newTestEngine(t, "alice")
	server := NewServer(engine, reconcile.NewFeed())
	token := mustTestJWT(t, "dev-secret", "alice", "Widget", []string{"shelf:write"}, time.Now().Add(time.Hour))

	resp := doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/v1/interaction",
		headers: map[string]string{
			"Authorization":    "Bearer " + token,
			"X-Correlation-Id": "corr_hold",
		},
		body: map[string]any{"held": true},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 on interaction, got %d (%s)", resp.Code, resp.Body.String())
	}
	if !engine.held.Load() {
		t.Fatalf("expected interaction hold to be recorded")
	}
}

func TestRateLimit(t *testing.T) {
	server := NewServerWithConfig(newTestEngine(t, "alice"), reconcile.NewFeed(), ServerConfig{
		RateLimitMax:    1,
		RateLimitWindow: time.Minute,
	})
	token := mustTestJWT(t, "dev-secret", "alice", "Widget", []string{"shelf:read"}, time.Now().Add(time.Hour))
	headers := map[string]string{
		"Authorization":    "Bearer " + token,
		"X-Correlation-Id": "corr_rate",
	}

	first := doRequest(t, server, request{method: http.MethodGet, path: "/v1/namespaces/alice/projects", headers: headers})
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200 on first request, got %d (%s)", first.Code, first.Body.String())
	}
	second := doRequest(t, server, request{method: http.MethodGet, path: "/v1/namespaces/alice/projects", headers: headers})
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on second request, got %d (%s)", second.Code, second.Body.String())
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header on 429")
	}
}

func TestHealth(t *testing.T) {
	server := NewServer(newTestEngine(t, "alice"), reconcile.NewFeed())
	resp := doRequest(t, server, request{method: http.MethodGet, path: "/health"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 on health, got %d", resp.Code)
	}
	var health map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health["namespace"] != "alice" {
		t.Fatalf("expected active namespace in health payload, got %v", health)
	}
}

type request struct {
	method  string
	path    string
	headers map[string]string
	body    map[string]any
}

func doRequest(t *testing.T, server http.Handler, r request) *httptest.ResponseRecorder {
	t.Helper()
	var bodyBytes []byte
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		bodyBytes = data
	}
	req := httptest.NewRequest(r.method, r.path, bytes.NewReader(bodyBytes))
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func mustTestJWT(t *testing.T, secret, namespace, agentName string, scopes []string, exp time.Time) string {
	return mustTestJWTWithAudience(t, secret, namespace, agentName, scopes, "chatshelf", exp)
}

func mustTestJWTWithAudience(t *testing.T, secret, namespace, agentName string, scopes []string, aud string, exp time.Time) string {
	t.Helper()
	headerBytes, err := json.Marshal(map[string]any{
		"alg": "HS256",
		"typ": "JWT",
	})
	if err != nil {
		t.Fatalf("marshal jwt header: %v", err)
	}
	payloadBytes, err := json.Marshal(map[string]any{
		"namespace":  namespace,
		"agent_name": agentName,
		"scopes":     scopes,
		"exp":        exp.Unix(),
		"aud":        aud,
	})
	if err != nil {
		t.Fatalf("marshal jwt payload: %v", err)
	}
	h := base64.RawURLEncoding.EncodeToString(headerBytes)
	p := base64.RawURLEncoding.EncodeToString(payloadBytes)
	signingInput := h + "." + p
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signingInput))
	jwtSig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return signingInput + "." + jwtSig
}
