package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Its-darshu/DarkSphere-sub000/internal/cache"
	"github.com/Its-darshu/DarkSphere-sub000/internal/domain"
	"github.com/Its-darshu/DarkSphere-sub000/internal/repository"
	"github.com/Its-darshu/DarkSphere-sub000/internal/service/admin"
	"github.com/Its-darshu/DarkSphere-sub000/internal/service/auth"
	"github.com/Its-darshu/DarkSphere-sub000/internal/service/content"
	"github.com/Its-darshu/DarkSphere-sub000/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	auth     auth.Service
	admin    admin.Service
	content  content.Service
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter
	caches   []*cache.Cache
	dbHealth func(context.Context) error
	devMode  bool

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault   = time.Minute
	rateLimitRegister   = 5
	rateLimitLogin      = 12
	rateLimitKeyCheck   = 20
	rateLimitUserWrite  = 60
	rateLimitUserRead   = 120
	rateLimitAdminWrite = 60
	healthCheckTimeout  = 2 * time.Second
	sseHeartbeatEvery   = 30 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, adminSvc admin.Service, contentSvc content.Service, hub *ws.Hub, limiter RateLimiter, caches []*cache.Cache, dbHealth func(context.Context) error, devMode bool) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		auth:    authSvc,
		admin:   adminSvc,
		content: contentSvc,
		hub:     hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		caches:   caches,
		dbHealth: dbHealth,
		devMode:  devMode,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/health", r.observe("health", r.handleHealth))
	r.mux.HandleFunc("/auth/register", r.observe("auth_register", r.withRateLimit("auth_register", rateLimitRegister, rateWindowDefault, rateLimitKeyIP, r.handleRegister)))
	r.mux.HandleFunc("/auth/login", r.observe("auth_login", r.withRateLimit("auth_login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/auth/verify", r.observe("auth_verify", r.withRateLimit("auth_verify", rateLimitUserRead, rateWindowDefault, rateLimitKeyIP, r.handleVerify)))
	r.mux.HandleFunc("/validate-key", r.observe("validate_key", r.withRateLimit("validate_key", rateLimitKeyCheck, rateWindowDefault, rateLimitKeyIP, r.handleValidateKey)))
	r.mux.HandleFunc("/posts", r.observe("posts", r.handlePosts))
	r.mux.HandleFunc("/posts/", r.observe("posts_sub", r.handlePostSubroutes))
	r.mux.HandleFunc("/announcements", r.observe("announcements", r.handleAnnouncements))
	r.mux.HandleFunc("/users/", r.observe("users_profile", r.withRateLimit("users_profile", rateLimitUserRead, rateWindowDefault, rateLimitKeyIP, r.handleUserProfile)))
	r.mux.HandleFunc("/admin/passcodes", r.observe("admin_passcodes", r.handlerAdminRate("admin_passcodes", rateLimitAdminWrite, rateWindowDefault, r.handleAdminPasscodes)))
	r.mux.HandleFunc("/admin/passcodes/", r.observe("admin_passcodes_sub", r.handlerAdminRate("admin_passcodes_sub", rateLimitAdminWrite, rateWindowDefault, r.handleAdminPasscodeSubroutes)))
	r.mux.HandleFunc("/admin/users", r.observe("admin_users_list", r.handlerAdminRate("admin_users_list", rateLimitUserRead, rateWindowDefault, r.handleAdminUsers)))
	r.mux.HandleFunc("/admin/users/", r.observe("admin_users", r.handlerAdminRate("admin_users", rateLimitAdminWrite, rateWindowDefault, r.handleAdminUserSubroutes)))
	r.mux.HandleFunc("/admin/flags", r.observe("admin_flags", r.handlerAdminRate("admin_flags", rateLimitUserRead, rateWindowDefault, r.handleAdminFlags)))
	r.mux.HandleFunc("/admin/flags/", r.observe("admin_flags_sub", r.handlerAdminRate("admin_flags_sub", rateLimitAdminWrite, rateWindowDefault, r.handleAdminFlagSubroutes)))
	r.mux.HandleFunc("/admin/audit", r.observe("admin_audit", r.handlerAdminRate("admin_audit", rateLimitUserRead, rateWindowDefault, r.handleAdminAudit)))
	r.mux.HandleFunc("/admin/cache/stats", r.observe("admin_cache_stats", r.handlerAdminRate("admin_cache_stats", rateLimitUserRead, rateWindowDefault, r.handleCacheStats)))
	r.mux.HandleFunc("/admin/events", r.requireAdmin(r.handleAdminEvents))
	r.mux.HandleFunc("/ws/admin", r.requireAdmin(r.handleAdminWS))
}

func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email       string `json:"email"`
		Username    string `json:"username"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
		Key         string `json:"key"`
		Passcode    string `json:"passcode"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	key := payload.Key
	if key == "" {
		key = payload.Passcode
	}
	result, err := r.auth.Register(req.Context(), auth.RegisterInput{
		Email:       payload.Email,
		Username:    payload.Username,
		Password:    payload.Password,
		DisplayName: payload.DisplayName,
		Key:         key,
	})
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if result.AlreadyRegistered {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"user":  userPayload(result.User),
		"token": result.Token,
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":  userPayload(user),
		"token": token,
	})
}

func (r *Router) handleVerify(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token := strings.TrimSpace(payload.Token)
	if token == "" {
		// Fall back to the Authorization header for cookie-less clients.
		header, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "token is required")
			return
		}
		token = header
	}
	user, _, err := r.auth.Authorize(req.Context(), token)
	if err != nil {
		r.writeAuthorizeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": userPayload(user)})
}

func (r *Router) handleValidateKey(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	status, err := r.auth.ValidateKey(req.Context(), payload.Key)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (r *Router) handlePosts(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
		posts, err := r.content.ListPosts(req.Context(), limit, offset)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"posts": postPayloads(posts)})
	case http.MethodPost:
		ctx, info, ok := r.ensureAuth(w, req)
		if !ok {
			return
		}
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		req = req.WithContext(ctx)
		decision := r.limiter.Allow("user:"+info.UserID, rateLimitUserWrite, rateWindowDefault)
		r.applyRateHeaders(w, rateLimitUserWrite, decision)
		if !decision.allowed {
			r.recordRateLimitHit("posts", "user")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		var payload struct {
			Body     string `json:"body"`
			ImageURL string `json:"image_url"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		post, err := r.content.CreatePost(req.Context(), info.UserID, payload.Body, payload.ImageURL)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, postPayload(post))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handlePostSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/posts/")
	parts := strings.Split(trimmed, "/")
	postID := parts[0]
	if postID == "" {
		r.notFound(w)
		return
	}
	if len(parts) == 1 {
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		post, err := r.content.GetPost(req.Context(), postID)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, postPayload(post))
		return
	}
	if len(parts) == 2 && parts[1] == "flag" {
		r.handlerAuthRate("posts_flag", rateLimitUserWrite, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
			r.handleFlagPost(w, req, postID)
		})(w, req)
		return
	}
	r.notFound(w)
}

func (r *Router) handleFlagPost(w http.ResponseWriter, req *http.Request, postID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for flag creation", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	flag, err := r.content.ReportPost(req.Context(), info.UserID, postID, payload.Reason)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, flagPayload(flag))
}

func (r *Router) handleAnnouncements(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		announcements, err := r.content.ListAnnouncements(req.Context(), limit)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"announcements": announcements})
	case http.MethodPost:
		r.requireAdmin(func(w http.ResponseWriter, req *http.Request) {
			info, _ := authInfoFromContext(req.Context())
			var payload struct {
				Title string `json:"title"`
				Body  string `json:"body"`
			}
			if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
			announcement, err := r.content.CreateAnnouncement(req.Context(), info.UserID, payload.Title, payload.Body)
			if err != nil {
				r.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, announcement)
		})(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleUserProfile(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	username := strings.TrimPrefix(req.URL.Path, "/users/")
	if username == "" || strings.Contains(username, "/") {
		r.notFound(w)
		return
	}
	user, err := r.auth.Profile(req.Context(), username)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profilePayload(user))
}

func (r *Router) handleAdminUsers(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
	users, err := r.admin.ListUsers(req.Context(), limit, offset)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	payloads := make([]map[string]any, 0, len(users))
	for i := range users {
		payloads = append(payloads, userPayload(&users[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": payloads})
}

func (r *Router) handleAdminPasscodes(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for passcode admin", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodGet:
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
		keys, err := r.admin.ListKeys(req.Context(), limit, offset)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"keys": keyPayloads(keys)})
	case http.MethodPost:
		var payload struct {
			Count       int    `json:"count"`
			Tier        string `json:"tier"`
			CustomValue string `json:"custom_value"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if payload.Count == 0 {
			payload.Count = 1
		}
		if payload.Tier == "" {
			payload.Tier = domain.KeyTierUser
		}
		keys, err := r.admin.GenerateKeys(req.Context(), info.UserID, payload.Count, payload.Tier, payload.CustomValue)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		now := time.Now().UTC()
		views := make([]admin.KeyView, 0, len(keys))
		for _, key := range keys {
			views = append(views, admin.KeyView{SecurityKey: key, IsExpired: key.Expired(now)})
		}
		writeJSON(w, http.StatusCreated, map[string]any{"keys": keyPayloads(views)})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleAdminPasscodeSubroutes(w http.ResponseWriter, req *http.Request) {
	keyID := strings.TrimPrefix(req.URL.Path, "/admin/passcodes/")
	if keyID == "" || strings.Contains(keyID, "/") {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	if err := r.admin.DeactivateKey(req.Context(), info.UserID, keyID); err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (r *Router) handleAdminUserSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/admin/users/")
	parts := strings.Split(trimmed, "/")
	userID := parts[0]
	if userID == "" {
		r.notFound(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	if len(parts) == 2 && parts[1] == "disable" {
		if req.Method != http.MethodPost {
			r.methodNotAllowed(w)
			return
		}
		var payload struct {
			Disabled bool `json:"disabled"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := r.admin.DisableUser(req.Context(), info.UserID, userID, payload.Disabled); err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "disabled": payload.Disabled})
		return
	}
	if len(parts) == 1 {
		if req.Method != http.MethodDelete {
			r.methodNotAllowed(w)
			return
		}
		if err := r.admin.DeleteUser(req.Context(), info.UserID, userID); err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		return
	}
	r.notFound(w)
}

func (r *Router) handleAdminFlags(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	flags, err := r.admin.ListOpenFlags(req.Context(), limit)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	payloads := make([]map[string]any, 0, len(flags))
	for i := range flags {
		payloads = append(payloads, flagPayload(&flags[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"flags": payloads})
}

func (r *Router) handleAdminFlagSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/admin/flags/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "resolve" {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	var payload struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	flag, err := r.admin.ResolveFlag(req.Context(), info.UserID, parts[0], payload.Action)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flagPayload(flag))
}

func (r *Router) handleAdminAudit(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
	entries, err := r.admin.ListAudits(req.Context(), limit, offset)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit": auditPayloads(entries)})
}

func (r *Router) handleCacheStats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	stats := make([]cache.Stats, 0, len(r.caches))
	for _, c := range r.caches {
		stats = append(stats, c.Stats())
	}
	writeJSON(w, http.StatusOK, map[string]any{"caches": stats})
}

func (r *Router) handleAdminWS(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(admin.EventTopic, client)
	go func() {
		defer func() {
			r.hub.Unregister(admin.EventTopic, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleAdminEvents(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(admin.EventTopic, client)
	defer func() {
		r.hub.Unregister(admin.EventTopic, client)
		client.Close()
	}()

	ticker := time.NewTicker(sseHeartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// writeServiceError maps service sentinels to stable status codes with
// safe messages. Unmapped errors surface details only in development.
func (r *Router) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrValidation),
		errors.Is(err, admin.ErrValidation),
		errors.Is(err, content.ErrValidation),
		errors.Is(err, admin.ErrInvalidAction),
		errors.Is(err, repository.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrKeyExpired):
		writeError(w, http.StatusBadRequest, "security key expired")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrNotRegistered):
		writeError(w, http.StatusUnauthorized, "identity has no profile")
	case errors.Is(err, auth.ErrAccountDisabled):
		writeError(w, http.StatusForbidden, "account disabled")
	case errors.Is(err, admin.ErrSelfAction):
		writeError(w, http.StatusForbidden, "cannot perform this action on your own account")
	case errors.Is(err, auth.ErrInvalidKey):
		writeError(w, http.StatusNotFound, "security key not found")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrKeyAlreadyUsed):
		writeError(w, http.StatusConflict, "security key already used")
	case errors.Is(err, auth.ErrUsernameTaken):
		writeError(w, http.StatusConflict, "username already taken")
	case errors.Is(err, auth.ErrEmailTaken), errors.Is(err, repository.ErrDuplicate):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "backing store unavailable")
	default:
		r.logger.Error("unhandled service error", "error", err)
		msg := "internal error"
		if r.devMode {
			msg = err.Error()
		}
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func (r *Router) writeAuthorizeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrAccountDisabled):
		writeError(w, http.StatusForbidden, "account disabled")
	case errors.Is(err, auth.ErrNotRegistered):
		writeError(w, http.StatusUnauthorized, "identity has no profile")
	default:
		writeError(w, http.StatusUnauthorized, "authentication failed")
	}
}

// profilePayload omits the email; profiles are publicly readable.
func profilePayload(user *domain.User) map[string]any {
	return map[string]any{
		"id":           user.ID,
		"username":     user.Username,
		"display_name": user.DisplayName,
		"role":         user.Role,
		"created_at":   user.CreatedAt,
	}
}

func userPayload(user *domain.User) map[string]any {
	return map[string]any{
		"id":           user.ID,
		"email":        user.Email,
		"username":     user.Username,
		"display_name": user.DisplayName,
		"role":         user.Role,
		"disabled":     user.Disabled,
		"created_at":   user.CreatedAt,
	}
}

func postPayload(post *domain.Post) map[string]any {
	return map[string]any{
		"id":            post.ID,
		"author_id":     post.AuthorID,
		"body":          post.Body,
		"image_url":     post.ImageURL,
		"like_count":    post.LikeCount,
		"comment_count": post.CommentCount,
		"created_at":    post.CreatedAt,
	}
}

func postPayloads(posts []domain.Post) []map[string]any {
	payloads := make([]map[string]any, 0, len(posts))
	for i := range posts {
		payloads = append(payloads, postPayload(&posts[i]))
	}
	return payloads
}

func keyPayloads(keys []admin.KeyView) []map[string]any {
	payloads := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		entry := map[string]any{
			"id":         key.ID,
			"value":      key.Value,
			"tier":       key.Tier,
			"used":       key.Used,
			"active":     key.Active,
			"is_expired": key.IsExpired,
			"created_at": key.CreatedAt,
		}
		if key.UsedBy != nil {
			entry["used_by"] = *key.UsedBy
		}
		if key.UsedAt != nil {
			entry["used_at"] = *key.UsedAt
		}
		if key.ExpiresAt != nil {
			entry["expires_at"] = *key.ExpiresAt
		}
		payloads = append(payloads, entry)
	}
	return payloads
}

func flagPayload(flag *domain.Flag) map[string]any {
	entry := map[string]any{
		"id":          flag.ID,
		"post_id":     flag.PostID,
		"reporter_id": flag.ReporterID,
		"reason":      flag.Reason,
		"status":      flag.Status,
		"created_at":  flag.CreatedAt,
	}
	if flag.ResolvedAt != nil {
		entry["resolved_at"] = *flag.ResolvedAt
	}
	if flag.ResolvedBy != nil {
		entry["resolved_by"] = *flag.ResolvedBy
	}
	return entry
}

func auditPayloads(entries []domain.AuditEntry) []map[string]any {
	payloads := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, map[string]any{
			"id":          entry.ID,
			"actor_id":    entry.ActorID,
			"action":      entry.Action,
			"target_type": entry.TargetType,
			"target_id":   entry.TargetID,
			"details":     json.RawMessage(entry.Details),
			"created_at":  entry.CreatedAt,
		})
	}
	return payloads
}

// observe wraps a handler with request logging and metrics.
func (r *Router) observe(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = info.Role
			fields = append(fields, "user_id", info.UserID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
