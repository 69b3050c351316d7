package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"panelup/internal/update"
)

const (
	// SessionCookie carries the update session ID.
	SessionCookie = "panelup_session"

	// CSRFHeader may carry the token instead of the csrf_token field.
	CSRFHeader = "X-CSRF-Token"

	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
	maxBodyBytes        = 1 << 16
)

// Server is the admin HTTP surface of the update engine.
type Server struct {
	cfg    Config
	router chi.Router
	logger update.Logger

	// actionMu keeps download, preview and install strictly one at a time.
	actionMu sync.Mutex

	// storeMu makes the revision check and the save of a session atomic.
	storeMu sync.Mutex
}

// NewServer creates a Server. An admin password hash is required.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Service == nil || cfg.Sessions == nil {
		return nil, fmt.Errorf("server requires a service and a session store")
	}
	if cfg.AdminUser == "" || cfg.AdminPasswordHash == "" {
		return nil, update.Errorf(update.KindConfiguration, "server", "admin_user and admin_password_hash must be set (run `panelup config admin-password`)")
	}
	if cfg.Logger == nil {
		cfg.Logger = update.NewNopLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = update.RealClock{}
	}
	if cfg.IDGen == nil {
		cfg.IDGen = update.UUIDGenerator{}
	}

	s := &Server{cfg: cfg, router: chi.NewRouter(), logger: cfg.Logger}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Group(func(r chi.Router) {
		r.Use(s.basicAuth)

		if s.cfg.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.cfg.Metrics.Handler())
		}

		r.Get("/update", s.handleStatus)
		r.Get("/update/history", s.handleHistory)
		r.Post("/update/download", s.handleAction(update.ActionDownload))
		r.Post("/update/preview", s.handleAction(update.ActionPreview))
		r.Post("/update/install", s.handleAction(update.ActionInstall))
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // installs can run for minutes
	}
}

// --- middleware ---

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.cfg.Clock.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		pattern := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			pattern = rctx.RoutePattern()
		}
		d := s.cfg.Clock.Now().Sub(start)
		s.logger.Info("http request", "method", r.Method, "path", r.URL.Path, "status", status, "duration", d)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordHTTPRequest(r.Method, pattern, status, d)
		}
	})
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.AdminUser)) != 1 ||
			bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminPasswordHash), []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="panelup"`)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- sessions ---

func (s *Server) loadSession(r *http.Request) (*update.Session, error) {
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return nil, nil
	}
	return s.cfg.Sessions.LoadSession(c.Value)
}

func (s *Server) newSession(w http.ResponseWriter) (*update.Session, error) {
	token, err := newCSRFToken()
	if err != nil {
		return nil, fmt.Errorf("generating csrf token: %w", err)
	}
	sess := update.NewSession(s.cfg.IDGen.New(), token, s.cfg.Clock.Now())
	if err := s.cfg.Sessions.SaveSession(&sess); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.SecureCookie,
		SameSite: http.SameSiteStrictMode,
	})
	return &sess, nil
}

func newCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// validCSRF compares the submitted token with the session-bound one in
// constant time.
func validCSRF(sess *update.Session, token string) bool {
	if sess.CSRFToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sess.CSRFToken), []byte(token)) == 1
}

// --- handlers ---

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.loadSession(r)
	if err != nil {
		s.logger.Error("loading session", "error", err)
		writeError(w, http.StatusInternalServerError, "could not load session")
		return
	}
	if sess == nil {
		if sess, err = s.newSession(w); err != nil {
			s.logger.Error("creating session", "error", err)
			writeError(w, http.StatusInternalServerError, "could not create session")
			return
		}
	}

	loaded := sess.Revision
	next, out := s.cfg.Service.Check(r.Context(), *sess)
	view, err := s.storeIfUnchanged(loaded, &next)
	if err != nil {
		s.logger.Error("saving session", "error", err)
		view = &next
	}
	writeJSON(w, http.StatusOK, newStatusView(view, out))
}

// storeIfUnchanged saves next only when the stored session is still at
// revision loaded. Otherwise an action finished while next was computed,
// and the stored session is returned untouched.
func (s *Server) storeIfUnchanged(loaded int64, next *update.Session) (*update.Session, error) {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	cur, err := s.cfg.Sessions.LoadSession(next.ID)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if cur != nil && cur.Revision != loaded {
		s.logger.Debug("discarding stale status update", "session", next.ID, "loaded", loaded, "stored", cur.Revision)
		return cur, nil
	}
	next.Revision = loaded + 1
	if err := s.cfg.Sessions.SaveSession(next); err != nil {
		return nil, err
	}
	return next, nil
}

// store saves the result of an action, superseding whatever was stored.
func (s *Server) store(next *update.Session) error {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	cur, err := s.cfg.Sessions.LoadSession(next.ID)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	if cur != nil {
		next.Revision = max(next.Revision, cur.Revision)
	}
	next.Revision++
	return s.cfg.Sessions.SaveSession(next)
}

type actionInput struct {
	CSRFToken         string `json:"csrf_token"`
	AllowCoreOverride bool   `json:"allow_core_override"`
}

func (s *Server) handleAction(action update.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, err := readActionInput(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		sess, err := s.loadSession(r)
		if err != nil {
			s.logger.Error("loading session", "error", err)
			writeError(w, http.StatusInternalServerError, "could not load session")
			return
		}
		if sess == nil || !validCSRF(sess, in.CSRFToken) {
			s.logger.Warn("rejected update action", "action", action, "reason", "csrf")
			writeError(w, http.StatusForbidden, update.Errorf(update.KindValidation, string(action), "invalid or missing csrf token").Error())
			return
		}

		if !s.actionMu.TryLock() {
			writeError(w, http.StatusConflict, "another update action is in progress")
			return
		}
		defer s.actionMu.Unlock()

		// Another request may have stored the session since it was loaded.
		if fresh, err := s.loadSession(r); err == nil && fresh != nil {
			sess = fresh
		}

		opts := update.Options{AllowCoreOverride: in.AllowCoreOverride}
		var (
			next update.Session
			out  *update.Outcome
		)
		switch action {
		case update.ActionDownload:
			next, out = s.cfg.Service.Download(r.Context(), *sess)
		case update.ActionPreview:
			next, out = s.cfg.Service.Preview(r.Context(), *sess, opts)
		case update.ActionInstall:
			next, out = s.cfg.Service.Install(r.Context(), *sess, opts)
		}

		if err := s.store(&next); err != nil {
			s.logger.Error("saving session", "error", err)
		}
		writeJSON(w, statusFor(out.Err), newActionView(&next, out))
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	ops, err := s.cfg.Service.History(limit)
	if err != nil {
		s.logger.Error("listing history", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list history")
		return
	}
	views := make([]operationView, 0, len(ops))
	for _, op := range ops {
		views = append(views, newOperationView(op))
	}
	writeJSON(w, http.StatusOK, views)
}

// readActionInput accepts a JSON body or a form post. The token may also
// come from the X-CSRF-Token header.
func readActionInput(w http.ResponseWriter, r *http.Request) (actionInput, error) {
	var in actionInput
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
			return in, fmt.Errorf("invalid JSON")
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return in, fmt.Errorf("invalid form")
		}
		in.CSRFToken = r.PostForm.Get("csrf_token")
		in.AllowCoreOverride = parseBool(r.PostForm.Get("allow_core_override"))
	}
	if in.CSRFToken == "" {
		in.CSRFToken = r.Header.Get(CSRFHeader)
	}
	return in, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// statusFor maps an outcome error to an HTTP status.
func statusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch update.KindOf(err) {
	case update.KindValidation:
		return http.StatusConflict
	case update.KindNetwork:
		return http.StatusBadGateway
	case update.KindArchive:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
