package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gopkg.in/go-playground/validator.v9"

	"reviewdesk/activity"
	"reviewdesk/auth"
	"reviewdesk/cashtag"
	"reviewdesk/lock"
	"reviewdesk/logging"
	"reviewdesk/notify"
	"reviewdesk/player"
	"reviewdesk/request"
	"reviewdesk/review"
)

type ctxKey string

const (
	ctxKeyUserID ctxKey = "user_id"
	ctxKeyRole   ctxKey = "department"
)

const maxBodyBytes = 1 << 20

var validate = validator.New()

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Department, error)
	SetDepartment(ctx context.Context, actor auth.Department, userID string, dept auth.Department) (*auth.User, error)
}

type requestService interface {
	Get(ctx context.Context, id string) (request.Request, error)
	List(ctx context.Context, filters request.Filters) ([]request.Request, int, error)
	Stats(ctx context.Context, kind request.Kind) (request.Stats, error)
	Create(ctx context.Context, params request.CreateParams) (request.Request, error)
	UpdateFields(ctx context.Context, id, actorID string, fields request.Fields) (request.Request, error)
	Apply(ctx context.Context, p request.ActionParams) (request.Request, error)
}

type lockService interface {
	Acquire(ctx context.Context, requestID, holderID string, modal lock.ModalType) (lock.State, error)
	Release(ctx context.Context, requestID, holderID string) error
	ForceRelease(ctx context.Context, requestID string) error
}

type sessionStore interface {
	Create(ctx context.Context, userID string, dept review.Department) (string, *review.Controller, error)
	Get(id, userID string) (*review.Controller, error)
	Close(ctx context.Context, id, userID string) error
}

type cashtagService interface {
	Create(ctx context.Context, p cashtag.CreateParams) (cashtag.Cashtag, error)
	GetByID(ctx context.Context, id string) (cashtag.Cashtag, error)
	List(ctx context.Context, status cashtag.Status, limit int) ([]cashtag.Cashtag, error)
	Update(ctx context.Context, id string, p cashtag.UpdateParams) (cashtag.Cashtag, error)
	Delete(ctx context.Context, id string) error
}

type playerService interface {
	Get(ctx context.Context, id string) (player.Player, error)
	Ban(ctx context.Context, id string) (player.Player, error)
	Unban(ctx context.Context, id string) (player.Player, error)
}

type activityReader interface {
	List(ctx context.Context, filters activity.Filters) ([]activity.Entry, error)
}

type changeFeed interface {
	Subscribe(table string, buffer int) *notify.Subscription
}

// Server exposes the back office over HTTP.
type Server struct {
	authService    authService
	requestService requestService
	lockService    lockService
	sessions       sessionStore
	cashtagService cashtagService
	playerService  playerService
	activityLog    activityReader
	feed           changeFeed
	guards         []review.Guard
	wsOrigins      []string
	logger         *slog.Logger
}

func (s *Server) log() *slog.Logger {
	return logging.OrDefault(s.logger)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Patch("/api/staff/{id}/department", s.withRoles(s.handleSetDepartment, auth.DepartmentAdmin))

		r.Route("/api/requests", func(r chi.Router) {
			r.Get("/", s.handleListRequests)
			r.Post("/", s.withRoles(s.handleCreateRequest, auth.DepartmentAdmin))
			r.Get("/stats", s.handleRequestStats)
			r.Get("/{id}", s.handleGetRequest)
			r.Patch("/{id}", s.withRoles(s.handleUpdateRequest, auth.DepartmentAdmin))
			r.Post("/{id}/lock", s.handleAcquireLock)
			r.Delete("/{id}/lock", s.handleReleaseLock)
			r.Post("/{id}/lock/force", s.withRoles(s.handleForceRelease, auth.DepartmentAdmin))
			r.Post("/{id}/actions/{action}", s.handleApplyAction)
		})

		r.Route("/api/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Get("/{id}", s.handleGetSession)
			r.Post("/{id}/open", s.handleSessionOpen)
			r.Post("/{id}/cancel", s.handleSessionCancel)
			r.Post("/{id}/submit", s.handleSessionSubmit)
			r.Delete("/{id}", s.handleCloseSession)
		})

		r.Route("/api/cashtags", func(r chi.Router) {
			r.Get("/", s.handleListCashtags)
			r.Post("/", s.withRoles(s.handleCreateCashtag, auth.DepartmentAdmin, auth.DepartmentFinance))
			r.Get("/{id}", s.handleGetCashtag)
			r.Patch("/{id}", s.withRoles(s.handleUpdateCashtag, auth.DepartmentAdmin, auth.DepartmentFinance))
			r.Delete("/{id}", s.withRoles(s.handleDeleteCashtag, auth.DepartmentAdmin))
		})

		r.Get("/api/players/{id}", s.handleGetPlayer)
		r.Post("/api/players/{id}/ban", s.withRoles(s.handleBanPlayer, auth.DepartmentAdmin, auth.DepartmentSupport))
		r.Delete("/api/players/{id}/ban", s.withRoles(s.handleUnbanPlayer, auth.DepartmentAdmin, auth.DepartmentSupport))

		r.Get("/api/activity", s.withRoles(s.handleListActivity, auth.DepartmentAdmin, auth.DepartmentAudit))
		r.Get("/api/stream", s.handleStream)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log().Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, dept, err := s.authService.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, dept)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) withRoles(h http.HandlerFunc, allowed ...auth.Department) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dept := roleFrom(r.Context())
		for _, d := range allowed {
			if d == dept {
				h(w, r)
				return
			}
		}
		writeError(w, http.StatusForbidden, "forbidden")
	}
}

func userIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyUserID).(string)
	return v
}

func roleFrom(ctx context.Context) auth.Department {
	v, _ := ctx.Value(ctxKeyRole).(auth.Department)
	return v
}

// departmentViews maps a staff department onto the review views it may open.
var departmentViews = map[auth.Department][]string{
	auth.DepartmentFinance:      {review.ViewFinance},
	auth.DepartmentOperations:   {review.ViewOperations},
	auth.DepartmentVerification: {review.ViewVerification},
	auth.DepartmentSupport:      {review.ViewDisputes},
	auth.DepartmentAdmin:        review.Views,
}

func canUseView(dept auth.Department, view string) bool {
	for _, v := range departmentViews[dept] {
		if v == view {
			return true
		}
	}
	return false
}

func canRunAction(dept auth.Department, action request.Action) bool {
	for _, v := range departmentViews[dept] {
		d, err := review.Preset(v)
		if err != nil {
			continue
		}
		if _, ok := d.Actions[action]; ok {
			return true
		}
	}
	return false
}

var errBadRequest = errors.New("bad request")

// decodeJSON treats an empty body as an empty object.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

// decodeAndValidate decodes the body and runs the struct's validate tags.
func decodeAndValidate(r *http.Request, dst any) error {
	if err := decodeJSON(r, dst); err != nil {
		return err
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: invalid fields: %s", errBadRequest, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

type errorResponse struct {
	Error     string         `json:"error"`
	Alert     string         `json:"alert,omitempty"`
	Holder    string         `json:"holder,omitempty"`
	ModalType lock.ModalType `json:"modal_type,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, request.ErrNoFields),
		errors.Is(err, request.ErrUnknownAction),
		errors.Is(err, lock.ErrInvalidModal),
		errors.Is(err, lock.ErrMissingHolder),
		errors.Is(err, lock.ErrInvalidHolder),
		errors.Is(err, cashtag.ErrInvalid),
		errors.Is(err, auth.ErrWeakPassword):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, lock.ErrNotFound),
		errors.Is(err, request.ErrNotFound),
		errors.Is(err, review.ErrNotFound),
		errors.Is(err, review.ErrSessionNotFound),
		errors.Is(err, cashtag.ErrNotFound),
		errors.Is(err, player.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, lock.ErrAlreadyLocked),
		errors.Is(err, request.ErrLockedByOther),
		errors.Is(err, review.ErrModalOpen),
		errors.Is(err, review.ErrNoModal),
		errors.Is(err, review.ErrClosed),
		errors.Is(err, cashtag.ErrDuplicateHandle),
		errors.Is(err, auth.ErrDuplicateEmail):
		return http.StatusConflict
	case errors.Is(err, review.ErrGuardRejected),
		errors.Is(err, review.ErrActionNotAllowed),
		errors.Is(err, request.ErrInvalidTransition),
		errors.Is(err, request.ErrInvalidAmount),
		errors.Is(err, cashtag.ErrInUse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, review.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, lock.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondErr writes err with the mapped status. Lock conflicts name the
// current holder so the UI can say who is processing the request.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log().Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, "internal error")
		return
	}
	resp := errorResponse{Error: err.Error(), Alert: review.Alert(err)}
	var locked *lock.LockedError
	if errors.As(err, &locked) {
		resp.Holder = locked.Holder
		resp.ModalType = locked.ModalType
	}
	if status == http.StatusServiceUnavailable {
		s.log().Warn("store unavailable", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, resp)
}
