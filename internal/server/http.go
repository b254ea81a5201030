package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vantive/pulse/internal/notification"
	"github.com/vantive/pulse/internal/security"
	"github.com/vantive/pulse/internal/stream"
	"github.com/vantive/pulse/pkg/json"
	"github.com/vantive/pulse/pkg/lifecycle"
)

// Server is the HTTP front door: REST API, WebSocket upgrade, metrics and
// health.
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

// Deps carries everything the handlers need.
type Deps struct {
	Buffer        *stream.Buffer
	Notifications *notification.Engine
	Security      *security.Service
	Lifecycle     *lifecycle.Manager
	WSHandler     http.Handler
	Log           *zap.Logger
}

func New(addr string, deps Deps) *Server {
	s := &Server{log: deps.Log.With(zap.String("module", "server"))}

	mux := http.NewServeMux()
	mux.Handle("/ws/", deps.WSHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", s.handleHealth(deps.Lifecycle))

	mux.HandleFunc("POST /api/events/{domain}", s.handleIngest(deps.Buffer))

	mux.HandleFunc("POST /api/notifications", s.handleCreateNotification(deps.Notifications))
	mux.HandleFunc("GET /api/notifications/{user_id}", s.handleListNotifications(deps.Notifications))
	mux.HandleFunc("POST /api/notifications/{id}/read", s.handleMarkRead(deps.Notifications))
	mux.HandleFunc("POST /api/notifications/{id}/redeliver", s.handleRedeliver(deps.Notifications))
	mux.HandleFunc("GET /api/preferences/{user_id}", s.handleGetPreference(deps.Notifications))
	mux.HandleFunc("PUT /api/preferences/{user_id}", s.handleUpdatePreference(deps.Notifications))

	mux.HandleFunc("POST /api/security/login-attempts", s.handleLoginAttempt(deps.Security))
	mux.HandleFunc("GET /api/security/lockout", s.handleLockoutCheck(deps.Security))
	mux.HandleFunc("POST /api/security/scan", s.handleScan(deps.Security))
	mux.HandleFunc("POST /api/payments/analyze", s.handleAnalyzePayment(deps.Security))
	mux.HandleFunc("POST /api/payments/record", s.handleRecordTransaction(deps.Security))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Name implements lifecycle.Resource.
func (s *Server) Name() string { return "http_server" }

// Start begins serving in the background. Listen errors after startup are
// surfaced through logs since the caller has already moved on.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Health implements lifecycle.Resource.
func (s *Server) Health() error { return nil }

func (s *Server) handleHealth(manager *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := manager.Health()
		status := http.StatusOK
		body := make(map[string]string, len(health))
		for name, err := range health {
			if err != nil {
				status = http.StatusServiceUnavailable
				body[name] = err.Error()
			} else {
				body[name] = "ok"
			}
		}
		s.writeJSON(w, status, body)
	}
}

func (s *Server) handleIngest(buffer *stream.Buffer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		domain := r.PathValue("domain")
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		if err := buffer.Ingest(domain, payload); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

func (s *Server) handleCreateNotification(engine *notification.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID       string            `json:"user_id"`
			Channel      string            `json:"channel"`
			TemplateName string            `json:"template_name"`
			Variables    map[string]string `json:"variables"`
			Priority     string            `json:"priority"`
			ScheduledAt  *time.Time        `json:"scheduled_at"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		if req.UserID == "" || req.TemplateName == "" {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("user_id and template_name are required"))
			return
		}
		n := &notification.Notification{
			UserID:       req.UserID,
			Channel:      notification.ChannelKind(req.Channel),
			TemplateName: req.TemplateName,
			Variables:    req.Variables,
			Priority:     notification.Priority(req.Priority),
			ScheduledAt:  req.ScheduledAt,
		}
		created, err := engine.Create(r.Context(), n)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, created)
	}
}

func (s *Server) handleListNotifications(engine *notification.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.PathValue("user_id")
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		list, err := engine.ListByUser(r.Context(), userID, limit)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		if list == nil {
			list = []*notification.Notification{}
		}
		s.writeJSON(w, http.StatusOK, list)
	}
}

func (s *Server) handleMarkRead(engine *notification.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r.PathValue("id"))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := engine.MarkRead(r.Context(), id); err != nil {
			s.writeError(w, statusFor(err), err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
	}
}

func (s *Server) handleRedeliver(engine *notification.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r.PathValue("id"))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := engine.Redeliver(r.Context(), id); err != nil {
			s.writeError(w, statusFor(err), err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}

func (s *Server) handleGetPreference(engine *notification.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pref, err := engine.GetPreference(r.Context(), r.PathValue("user_id"))
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, pref)
	}
}

func (s *Server) handleUpdatePreference(engine *notification.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var pref notification.Preference
		if err := json.NewDecoder(r.Body).Decode(&pref); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		pref.UserID = r.PathValue("user_id")
		if err := engine.UpdatePreference(r.Context(), &pref); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		s.writeJSON(w, http.StatusOK, pref)
	}
}

func (s *Server) handleLoginAttempt(svc *security.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var attempt security.LoginAttempt
		if err := json.NewDecoder(r.Body).Decode(&attempt); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		if attempt.UserID == "" {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("user_id is required"))
			return
		}
		if err := svc.RecordLoginAttempt(r.Context(), &attempt); err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		locked, err := svc.IsAccountLocked(r.Context(), attempt.UserID, attempt.IPAddress)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]bool{"locked": locked})
	}
}

func (s *Server) handleLockoutCheck(svc *security.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		ip := r.URL.Query().Get("ip")
		if userID == "" && ip == "" {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("user_id or ip is required"))
			return
		}
		locked, err := svc.IsAccountLocked(r.Context(), userID, ip)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]bool{"locked": locked})
	}
}

func (s *Server) handleScan(svc *security.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID string `json:"user_id"`
			Input  string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		s.writeJSON(w, http.StatusOK, svc.ScanInput(r.Context(), req.UserID, req.Input))
	}
}

func (s *Server) handleAnalyzePayment(svc *security.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var tx security.Transaction
		if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		if tx.UserID == "" {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("user_id is required"))
			return
		}
		verdict, err := svc.AnalyzePayment(r.Context(), &tx)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, verdict)
	}
}

func (s *Server) handleRecordTransaction(svc *security.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var tx security.Transaction
		if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		if tx.UserID == "" {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("user_id is required"))
			return
		}
		if err := svc.RecordTransaction(r.Context(), &tx); err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("writing response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid notification id %q", raw)
	}
	return id, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, notification.ErrNotificationNotFound):
		return http.StatusNotFound
	case errors.Is(err, notification.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
