package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/chatshelf/internal/chatshelf"
	"github.com/agentworkforce/chatshelf/internal/reconcile"
)

type ServerConfig struct {
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
}

// EngineHandle is the slice of the reconcile engine the HTTP layer needs. The
// engine owns the active namespace; the server only reads through it.
type EngineHandle interface {
	Namespace() string
	Store() *chatshelf.Store
	SetInteractionHeld(held bool)
	// RequestScan nudges the reconcile loop after a mutation made over the
	// API, so suppression converges without waiting for collection churn.
	RequestScan()
}

type Server struct {
	engine      EngineHandle
	feed        *reconcile.Feed
	cfg         ServerConfig
	rateLimiter *rateLimiter
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(engine EngineHandle, feed *reconcile.Feed) *Server {
	return NewServerWithConfig(engine, feed, ServerConfig{})
}

func NewServerWithConfig(engine EngineHandle, feed *reconcile.Feed, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		engine:      engine,
		feed:        feed,
		cfg:         cfg,
		rateLimiter: limiter,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "ok",
			"namespace": s.engine.Namespace(),
		})
		return
	}
	if r.URL.Path == "/" && r.Method == http.MethodGet {
		s.handleDashboard(w, r)
		return
	}
	if r.URL.Path == "/v1/events" && r.Method == http.MethodGet {
		s.handleEvents(w, r)
		return
	}
	if r.URL.Path == "/v1/interaction" && r.Method == http.MethodPost {
		s.handleInteraction(w, r)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 4 || parts[0] != "v1" || parts[1] != "namespaces" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}
	namespace := parts[2]

	var requiredScope string
	var route string
	switch {
	case len(parts) == 4 && parts[3] == "projects" && r.Method == http.MethodGet:
		requiredScope = "shelf:read"
		route = "list_projects"
	case len(parts) == 4 && parts[3] == "projects" && r.Method == http.MethodPost:
		requiredScope = "shelf:write"
		route = "create_project"
	case len(parts) == 5 && parts[3] == "projects" && r.Method == http.MethodGet:
		requiredScope = "shelf:read"
		route = "get_project"
	case len(parts) == 5 && parts[3] == "projects" && r.Method == http.MethodPatch:
		requiredScope = "shelf:write"
		route = "patch_project"
	case len(parts) == 5 && parts[3] == "projects" && r.Method == http.MethodDelete:
		requiredScope = "shelf:write"
		route = "delete_project"
	case len(parts) == 6 && parts[3] == "projects" && parts[5] == "link" && r.Method == http.MethodPost:
		requiredScope = "shelf:write"
		route = "link_project"
	case len(parts) == 6 && parts[3] == "projects" && parts[5] == "unlink" && r.Method == http.MethodPost:
		requiredScope = "shelf:write"
		route = "unlink_project"
	case len(parts) == 4 && parts[3] == "associations" && r.Method == http.MethodGet:
		requiredScope = "shelf:read"
		route = "list_associations"
	case len(parts) == 5 && parts[3] == "chats" && parts[4] == "file" && r.Method == http.MethodPost:
		requiredScope = "shelf:write"
		route = "file_chat"
	case len(parts) == 5 && parts[3] == "chats" && parts[4] == "unfile" && r.Method == http.MethodPost:
		requiredScope = "shelf:write"
		route = "unfile_chat"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	claims, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, namespace, requiredScope, time.Now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}
	correlationID := getCorrelationID(r)
	if correlationID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing X-Correlation-Id header", "")
		return
	}
	if s.rateLimiter != nil {
		key := namespace + "|" + claims.AgentName
		if !s.rateLimiter.allow(key, time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
			return
		}
	}

	// Only the namespace the engine is currently reconciling is served.
	// Requests against any other namespace would observe or mutate state the
	// loop is not watching, so they are refused rather than half-honored.
	if namespace != s.engine.Namespace() {
		writeError(w, http.StatusConflict, "namespace_inactive", "namespace is not the active session", correlationID)
		return
	}
	store := s.engine.Store()
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "no active session", correlationID)
		return
	}

	switch route {
	case "list_projects":
		s.handleListProjects(w, r, store, correlationID)
	case "create_project":
		s.handleCreateProject(w, r, store, correlationID)
	case "get_project":
		s.handleGetProject(w, store, parts[4], correlationID)
	case "patch_project":
		s.handlePatchProject(w, r, store, parts[4], correlationID)
	case "delete_project":
		s.handleDeleteProject(w, r, store, parts[4], correlationID)
	case "link_project":
		s.handleLinkProject(w, r, store, parts[4], correlationID)
	case "unlink_project":
		s.handleUnlinkProject(w, r, store, parts[4], correlationID)
	case "list_associations":
		s.handleListAssociations(w, r, store, correlationID)
	case "file_chat":
		s.handleFileChat(w, r, store, correlationID)
	case "unfile_chat":
		s.handleUnfileChat(w, r, store, correlationID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

type projectView struct {
	chatshelf.Project
	Chats []chatshelf.FiledChat `json:"chats"`
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request, store *chatshelf.Store, correlationID string) {
	includeChats := parseBool(r.URL.Query().Get("includeChats"), true)
	projects := store.Projects()
	views := make([]projectView, 0, len(projects))
	for _, project := range projects {
		view := projectView{Project: project, Chats: []chatshelf.FiledChat{}}
		if includeChats {
			view.Chats = store.ChatsForProject(project.ID)
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"namespace": store.Namespace(),
		"projects":  views,
	})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request, store *chatshelf.Store, correlationID string) {
	var body struct {
		Name string `json:"name"`
	}
	if !s.decodeJSONBody(w, r, correlationID, &body) {
		return
	}
	project, err := store.CreateProject(r.Context(), body.Name)
	if err != nil {
		writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) handleGetProject(w http.ResponseWriter, store *chatshelf.Store, projectID, correlationID string) {
	project, ok := store.ProjectByID(projectID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "project not found", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, projectView{
		Project: project,
		Chats:   store.ChatsForProject(project.ID),
	})
}

func (s *Server) handlePatchProject(w http.ResponseWriter, r *http.Request, store *chatshelf.Store, projectID, correlationID string) {
	var body struct {
		Name     *string `json:"name"`
		Order    *int    `json:"order"`
		Expanded *bool   `json:"isExpanded"`
	}
	if !s.decodeJSONBody(w, r, correlationID, &body) {
		return
	}
	if body.Name == nil && body.Order == nil && body.Expanded == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "no fields to update", correlationID)
		return
	}
	if body.Name != nil {
		if err := store.RenameProject(r.Context(), projectID, *body.Name); err != nil {
			writeStoreError(w, err, correlationID)
			return
		}
	}
	if body.Order != nil {
		if err := store.ReorderProject(r.Context(), projectID, *body.Order); err != nil {
			writeStoreError(w, err, correlationID)
			return
		}
	}
	if body.Expanded != nil {
		if err := store.SetProjectExpanded(r.Context(), projectID, *body.Expanded); err != nil {
			writeStoreError(w, err, correlationID)
			return
		}
	}
	project, ok := store.ProjectByID(projectID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "project not found", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request, store *chatshelf.Store, projectID, correlationID string) {
	if err := store.DeleteProject(r.Context(), projectID); err != nil {
		writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": projectID})
}

func (s *Server) handleLinkProject(w http.ResponseWriter, r *http.Request, store *chatshelf.Store, projectID, correlationID string) {
	var body struct {
		ContextID   string `json:"contextId"`
		ContextName string `json:"contextName"`
	}
	if !s.decodeJSONBody(w, r, correlationID, &body) {
		return
	}
	if err := store.LinkProjectContext(r.Context(), projectID, body.ContextID, body.ContextName); err != nil {
		writeStoreError(w, err, correlationID)
		return
	}
	project, _ := store.ProjectByID(projectID)
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleUnlinkProject(w http.ResponseWriter, r *http.Request, store *chatshelf.Store, projectID, correlationID string) {
	if err := store.UnlinkProjectContext(r.Context(), projectID); err != nil {
		writeStoreError(w, err, correlationID)
		return
	}
	project, _ := store.ProjectByID(projectID)
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleListAssociations(w http.ResponseWriter, r *http.Request, store *chatshelf.Store, correlationID string) {
	projectFilter := strings.TrimSpace(r.URL.Query().Get("projectId"))
	associations := store.Associations()
	out := map[chatshelf.ChatID]chatshelf.Association{}
	for id, assoc := range associations {
		if projectFilter != "" && assoc.ProjectID != projectFilter {
			continue
		}
		out[id] = assoc
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"namespace":    store.Namespace(),
		"associations": out,
	})
}

func (s *Server) handleFileChat(w http.ResponseWriter, r *http.Request, store *chatshelf.Store, correlationID string) {
	var body struct {
		ChatID    string `json:"chatId"`
		Title     string `json:"title"`
		ProjectID string `json:"projectId"`
	}
	if !s.decodeJSONBody(w, r, correlationID, &body) {
		return
	}
	if err := store.FileChat(r.Context(), chatshelf.ChatID(body.ChatID), body.Title, body.ProjectID); err != nil {
		writeStoreError(w, err, correlationID)
		return
	}
	s.engine.RequestScan()
	id, _ := chatshelf.NormalizeChatID(body.ChatID)
	assoc, _ := store.Association(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"chatId":      id,
		"association": assoc,
	})
}

func (s *Server) handleUnfileChat(w http.ResponseWriter, r *http.Request, store *chatshelf.Store, correlationID string) {
	var body struct {
		ChatID string `json:"chatId"`
	}
	if !s.decodeJSONBody(w, r, correlationID, &body) {
		return
	}
	if err := store.UnfileChat(r.Context(), chatshelf.ChatID(body.ChatID)); err != nil {
		writeStoreError(w, err, correlationID)
		return
	}
	s.engine.RequestScan()
	writeJSON(w, http.StatusOK, map[string]string{"status": "unfiled", "chatId": body.ChatID})
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	if _, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, "", "shelf:write", time.Now().UTC()); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}
	correlationID := getCorrelationID(r)
	if correlationID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing X-Correlation-Id header", "")
		return
	}
	var body struct {
		Held bool `json:"held"`
	}
	if !s.decodeJSONBody(w, r, correlationID, &body) {
		return
	}
	s.engine.SetInteractionHeld(body.Held)
	writeJSON(w, http.StatusOK, map[string]any{"held": body.Held})
}

func writeStoreError(w http.ResponseWriter, err error, correlationID string) {
	switch {
	case errors.Is(err, chatshelf.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
	case errors.Is(err, chatshelf.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
	case errors.Is(err, chatshelf.ErrNotLoaded):
		writeError(w, http.StatusServiceUnavailable, "not_ready", err.Error(), correlationID)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
	}
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}

func parseBool(raw string, fallback bool) bool {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return parsed
}
